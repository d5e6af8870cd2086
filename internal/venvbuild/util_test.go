package venvbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'with space'`, shellQuote("with space"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, `'$HOME'`, shellQuote("$HOME"))
}

func TestEnvHelpers(t *testing.T) {
	env := []string{"A=1", "B=x=y", "junk", "A=2"}
	assert.Equal(t, map[string]string{"A": "2", "B": "x=y"}, envMap(env))

	out := setEnv(env, "A", "3")
	assert.Equal(t, []string{"B=x=y", "junk", "A=3"}, out)
	assert.Equal(t, []string{"A=1", "B=x=y", "junk", "A=2"}, env, "input untouched")
}
