package venvbuild

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclCatalogFile is the top-level structure of a catalog file. Attributes
// and blocks not declared here are rejected by the decoder.
type hclCatalogFile struct {
	Modules   []*hclModule   `hcl:"module,block"`
	Templates []*hclTemplate `hcl:"template,block"`
}

type hclModule struct {
	Name        string   `hcl:"name,label"`
	Configure   string   `hcl:"configure,optional"`
	Jobs        int      `hcl:"jobs,optional"`
	Archive     string   `hcl:"archive,optional"`
	PostInstall []string `hcl:"post_install,optional"`
}

type hclTemplate struct {
	Dest       string `hcl:"dest,label"`
	Source     string `hcl:"source"`
	Format     string `hcl:"format,optional"`
	Executable bool   `hcl:"executable,optional"`
}

// LoadCatalog parses an HCL catalog into steps. A missing file yields no
// steps.
func LoadCatalog(path string) ([]Step, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		debugf("No catalog at %s\n", path)
		return nil, nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrCatalog, path, diags)
	}

	var parsed hclCatalogFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrCatalog, path, diags)
	}

	seen := make(map[string]bool)
	steps := make([]Step, 0, len(parsed.Modules)+len(parsed.Templates))

	for _, m := range parsed.Modules {
		if seen[m.Name] {
			return nil, fmt.Errorf("%w: %s: duplicate module %q", ErrCatalog, path, m.Name)
		}
		seen[m.Name] = true
		if m.Jobs < 0 {
			return nil, fmt.Errorf("%w: %s: module %q: jobs must not be negative", ErrCatalog, path, m.Name)
		}
		st := moduleStep(m.Name, Recipe{
			Name:        m.Name,
			Configure:   m.Configure,
			Jobs:        m.Jobs,
			Archive:     m.Archive,
			PostInstall: m.PostInstall,
		})
		st.Source = path
		steps = append(steps, st)
	}

	for _, t := range parsed.Templates {
		if !filepath.IsLocal(t.Dest) {
			return nil, fmt.Errorf("%w: %s: template %q: destination must be a path inside the target environment", ErrCatalog, path, t.Dest)
		}
		name := "template:" + t.Dest
		if seen[name] {
			return nil, fmt.Errorf("%w: %s: duplicate template %q", ErrCatalog, path, t.Dest)
		}
		seen[name] = true
		mode, err := ParseMode(t.Format)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: template %q: %w", ErrCatalog, path, t.Dest, err)
		}
		steps = append(steps, templateStep(name, t.Source, t.Dest, mode, t.Executable))
	}

	return steps, nil
}

// templateStep renders src into the target environment at dest.
func templateStep(name, src, dest string, mode Mode, executable bool) Step {
	return Step{
		Name:   name,
		Desc:   fmt.Sprintf("render %s (%s)", dest, mode),
		Target: dest,
		Source: src,
		Rule: func(b *Builder, target string) error {
			return b.Template(src, target, mode, executable)
		},
	}
}
