package venvbuild

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRoundTrip(t *testing.T) {
	target := t.TempDir()
	l := NewLedger(target)
	assert.Equal(t, filepath.Join(target, ".venvbuild", "installed"), l.Dir)

	e, err := l.Lookup("redis")
	require.NoError(t, err)
	assert.Nil(t, e)

	when := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, l.Record(LedgerEntry{
		Name:      "pip:ipython==0.13",
		Installed: when,
		Target:    "pip:ipython==0.13",
		Archives:  []archiveRecord{{Path: "site-packages/ipython-0.13.tar.gz", Blake3: "abc123"}},
	}))

	e, err = l.Lookup("pip:ipython==0.13")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "pip:ipython==0.13", e.Name)
	assert.True(t, when.Equal(e.Installed))
	assert.Equal(t, []archiveRecord{{Path: "site-packages/ipython-0.13.tar.gz", Blake3: "abc123"}}, e.Archives)
	assert.FileExists(t, filepath.Join(l.Dir, "pip:ipython==0.13"))

	require.NoError(t, l.Forget("pip:ipython==0.13"))
	e, err = l.Lookup("pip:ipython==0.13")
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, l.Forget("never-installed"))
}

func TestLedgerNamesDoNotCollide(t *testing.T) {
	l := NewLedger(t.TempDir())
	names := []string{"pip:foo", "pip_foo", "template:a/b", "template:a_b", "template:a%2Fb"}
	for _, n := range names {
		require.NoError(t, l.Record(LedgerEntry{Name: n, Installed: time.Now(), Target: n}))
	}
	for _, n := range names {
		e, err := l.Lookup(n)
		require.NoError(t, err)
		require.NotNil(t, e, n)
		assert.Equal(t, n, e.Name)
		assert.Equal(t, n, e.Target)
	}

	require.NoError(t, l.Forget("pip:foo"))
	e, err := l.Lookup("pip_foo")
	require.NoError(t, err)
	assert.NotNil(t, e, "forgetting one step leaves the other")
}
