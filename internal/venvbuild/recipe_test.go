package venvbuild

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleScript(t *testing.T) {
	got := ModuleScript("/src", "foo-1.0", "--enable-x", 2)
	want := strings.Join([]string{
		"set -e",
		"cd '/src/3rdparty'",
		"rm -fr 'foo-1.0'",
		"tar -xzf 'foo-1.0.tar.gz'",
		"cd 'foo-1.0'",
		`./configure --prefix="$TARGET_ENV" --enable-x`,
		"make -j2",
		"make install",
		"cd ..",
		"rm -fr 'foo-1.0'",
	}, "\n") + "\n"
	assert.Equal(t, want, got)
}

func TestModuleScriptDeterministic(t *testing.T) {
	a := ModuleScript("/src", "bar-2.1", "--with-y=/opt", 8)
	b := ModuleScript("/src", "bar-2.1", "--with-y=/opt", 8)
	assert.Equal(t, a, b)
}

func TestModuleScriptDefaults(t *testing.T) {
	got := ModuleScript("/src", "zlib-1.2", "", 0)
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")

	assert.Contains(t, lines, `./configure --prefix="$TARGET_ENV"`, "no trailing space without flags")
	assert.Contains(t, lines, "make -j1", "jobs are clamped to 1")
	assert.NotContains(t, got, "rm -fr 'zlib-1.2.tar.gz'", "the archive is kept")
}

func TestRecipePostInstallAndArchive(t *testing.T) {
	r := Recipe{
		Name:        "postgresql-9.2.4",
		Archive:     "postgresql-9.2.4.tgz",
		Jobs:        4,
		PostInstall: []string{"make -C contrib/hstore install"},
	}
	assert.Equal(t, "postgresql-9.2.4.tgz", r.ArchiveName())

	lines := strings.Split(strings.TrimSuffix(r.Script("/src"), "\n"), "\n")
	require.Greater(t, len(lines), 3)
	assert.Equal(t, "tar -xzf 'postgresql-9.2.4.tgz'", lines[3])

	install := slices.Index(lines, "make install")
	post := slices.Index(lines, "make -C contrib/hstore install")
	require.NotEqual(t, -1, install)
	assert.Equal(t, install+1, post, "post-install runs right after make install")
	assert.Equal(t, "rm -fr 'postgresql-9.2.4'", lines[len(lines)-1])
}

func TestScriptQuotesNames(t *testing.T) {
	got := ModuleScript("/my src", "it's-1.0", "", 1)
	assert.Contains(t, got, `cd '/my src/3rdparty'`)
	assert.Contains(t, got, `rm -fr 'it'\''s-1.0'`)
}
