package venvbuild

import (
	"fmt"
	"os"
	"strings"
)

// Mode selects the placeholder syntax of a template.
type Mode int

const (
	ModeBrace   Mode = iota // {name}, with {{ and }} as literal braces
	ModePercent             // %(name)s, with %% as a literal percent
)

func (m Mode) String() string {
	switch m {
	case ModeBrace:
		return "brace"
	case ModePercent:
		return "percent"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts "brace" (or "format") and "percent".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "brace", "format":
		return ModeBrace, nil
	case "percent":
		return ModePercent, nil
	}
	return 0, fmt.Errorf("unknown template format %q (want brace or percent)", s)
}

// Renderer substitutes the target environment path and an explicit
// environment snapshot into text templates.
type Renderer struct {
	TargetEnv string
	Environ   []string // KEY=value pairs, usually os.Environ() taken by the caller
}

// Variables returns the substitution mapping. TARGET_ENV goes in first and
// the environment is overlaid on top, so an environment variable of the same
// name replaces it.
func (r *Renderer) Variables() map[string]string {
	vars := map[string]string{targetEnvVar: r.TargetEnv}
	for k, v := range envMap(r.Environ) {
		vars[k] = v
	}
	return vars
}

// Render reads sourcePath, substitutes variables and writes destPath,
// replacing any existing file. When executable is set the execute bits are
// added after writing.
func (r *Renderer) Render(sourcePath, destPath string, mode Mode, executable bool) error {
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return fsError("read", sourcePath, err)
	}

	out, err := Substitute(string(src), mode, r.Variables())
	if err != nil {
		return fmt.Errorf("render %s: %w", sourcePath, err)
	}

	if err := os.WriteFile(destPath, []byte(out), 0o644); err != nil {
		return fsError("write", destPath, err)
	}
	debugf("Rendered %s -> %s (%s)\n", sourcePath, destPath, mode)

	if executable {
		if err := makeExecutable(destPath); err != nil {
			return err
		}
	}
	return nil
}

// Substitute expands text against vars using the given mode.
func Substitute(text string, mode Mode, vars map[string]string) (string, error) {
	switch mode {
	case ModeBrace:
		return substituteBrace(text, vars)
	case ModePercent:
		return substitutePercent(text, vars)
	}
	return "", fmt.Errorf("%w: unknown mode %s", ErrTemplateSyntax, mode)
}

func substituteBrace(text string, vars map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end == -1 {
				return "", fmt.Errorf("%w: unterminated '{' at offset %d", ErrTemplateSyntax, i)
			}
			name := text[i+1 : i+1+end]
			if name == "" || strings.ContainsAny(name, "{!:") {
				return "", fmt.Errorf("%w: unsupported field %q at offset %d", ErrTemplateSyntax, name, i)
			}
			v, ok := vars[name]
			if !ok {
				return "", &MissingVariableError{Name: name}
			}
			b.WriteString(v)
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrTemplateSyntax, i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func substitutePercent(text string, vars map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(text) {
			return "", fmt.Errorf("%w: trailing '%%' at offset %d", ErrTemplateSyntax, i)
		}
		switch text[i+1] {
		case '%':
			b.WriteByte('%')
			i++
		case '(':
			end := strings.IndexByte(text[i+2:], ')')
			if end == -1 {
				return "", fmt.Errorf("%w: unterminated '%%(' at offset %d", ErrTemplateSyntax, i)
			}
			name := text[i+2 : i+2+end]
			conv := i + 2 + end + 1
			if conv >= len(text) || text[conv] != 's' {
				return "", fmt.Errorf("%w: %%(%s) must be followed by 's'", ErrTemplateSyntax, name)
			}
			v, ok := vars[name]
			if !ok {
				return "", &MissingVariableError{Name: name}
			}
			b.WriteString(v)
			i = conv
		default:
			return "", fmt.Errorf("%w: unsupported conversion %q at offset %d", ErrTemplateSyntax, text[i:i+2], i)
		}
	}
	return b.String(), nil
}
