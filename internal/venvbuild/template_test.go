package venvbuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRenderBrace(t *testing.T) {
	dir := t.TempDir()
	src := writeTemplate(t, dir, "in.cfg", "prefix={TARGET_ENV}/bin\n")
	dst := filepath.Join(dir, "out.cfg")

	r := &Renderer{TargetEnv: "/opt/env"}
	require.NoError(t, r.Render(src, dst, ModeBrace, false))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "prefix=/opt/env/bin\n", string(got))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&0o111, "not executable unless asked")
}

func TestRenderPercentExecutable(t *testing.T) {
	dir := t.TempDir()
	src := writeTemplate(t, dir, "run.in", "#!/bin/sh\nexec %(TARGET_ENV)s/bin/python \"$@\" # 100%%\n")
	dst := filepath.Join(dir, "run")

	r := &Renderer{TargetEnv: "/opt/env"}
	require.NoError(t, r.Render(src, dst, ModePercent, true))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\nexec /opt/env/bin/python \"$@\" # 100%\n", string(got))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o111), info.Mode().Perm()&0o111)
}

func TestRenderEnvironmentWins(t *testing.T) {
	r := &Renderer{
		TargetEnv: "/opt/env",
		Environ:   []string{"HOME=/home/me", "TARGET_ENV=/from/env"},
	}
	vars := r.Variables()
	assert.Equal(t, "/from/env", vars["TARGET_ENV"])
	assert.Equal(t, "/home/me", vars["HOME"])

	out, err := Substitute("{HOME}:{TARGET_ENV}", ModeBrace, vars)
	require.NoError(t, err)
	assert.Equal(t, "/home/me:/from/env", out)
}

func TestRenderMissingVariable(t *testing.T) {
	dir := t.TempDir()
	src := writeTemplate(t, dir, "in", "x={NOPE_NOT_SET}\n")
	dst := filepath.Join(dir, "out")

	r := &Renderer{TargetEnv: "/opt/env"}
	err := r.Render(src, dst, ModeBrace, false)
	require.ErrorIs(t, err, ErrMissingVariable)

	var mv *MissingVariableError
	require.ErrorAs(t, err, &mv)
	assert.Equal(t, "NOPE_NOT_SET", mv.Name)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "no output on failure")
}

func TestRenderMissingSource(t *testing.T) {
	dir := t.TempDir()
	r := &Renderer{TargetEnv: "/opt/env"}
	err := r.Render(filepath.Join(dir, "missing"), filepath.Join(dir, "out"), ModeBrace, false)
	assert.ErrorIs(t, err, ErrFilesystem)
}

func TestRenderReplacesAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := writeTemplate(t, dir, "in", "root={TARGET_ENV}\n")
	dst := writeTemplate(t, dir, "out", "stale contents that are longer than the result\n")

	r := &Renderer{TargetEnv: "/e"}
	require.NoError(t, r.Render(src, dst, ModeBrace, false))
	first, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.NoError(t, r.Render(src, dst, ModeBrace, false))
	second, err := os.ReadFile(dst)
	require.NoError(t, err)

	assert.Equal(t, "root=/e\n", string(first))
	assert.Equal(t, first, second)
}

func TestSubstituteBrace(t *testing.T) {
	vars := map[string]string{"A": "1", "TARGET_ENV": "/t"}

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "plain", in: "no placeholders", want: "no placeholders"},
		{name: "escaped braces", in: "{{literal}} {A}", want: "{literal} 1"},
		{name: "adjacent", in: "{A}{A}", want: "11"},
		{name: "missing", in: "{B}", wantErr: ErrMissingVariable},
		{name: "unterminated", in: "x{A", wantErr: ErrTemplateSyntax},
		{name: "stray close", in: "x}y", wantErr: ErrTemplateSyntax},
		{name: "empty field", in: "{}", wantErr: ErrTemplateSyntax},
		{name: "format spec", in: "{A:>4}", wantErr: ErrTemplateSyntax},
		{name: "conversion", in: "{A!r}", wantErr: ErrTemplateSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.in, ModeBrace, vars)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstitutePercent(t *testing.T) {
	vars := map[string]string{"A": "1", "TARGET_ENV": "/t"}

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "plain", in: "{A} stays", want: "{A} stays"},
		{name: "named", in: "%(TARGET_ENV)s/lib", want: "/t/lib"},
		{name: "literal percent", in: "50%% of %(A)s", want: "50% of 1"},
		{name: "missing", in: "%(B)s", wantErr: ErrMissingVariable},
		{name: "trailing percent", in: "100%", wantErr: ErrTemplateSyntax},
		{name: "unterminated name", in: "%(A", wantErr: ErrTemplateSyntax},
		{name: "wrong conversion", in: "%(A)d", wantErr: ErrTemplateSyntax},
		{name: "positional", in: "%s", wantErr: ErrTemplateSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.in, ModePercent, vars)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeBrace, "brace": ModeBrace, "format": ModeBrace, "Percent": ModePercent} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("jinja")
	assert.Error(t, err)
}
