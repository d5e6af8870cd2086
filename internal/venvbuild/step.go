package venvbuild

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Rule does the work of a build step. target is the step's output handle.
type Rule func(b *Builder, target string) error

// Step is one build-graph node. These are the only attributes a step has;
// there is no free-form passthrough to the orchestrator.
type Step struct {
	Name   string
	Desc   string
	Rule   Rule
	Target string // output handle passed to Rule; defaults to Name
	Source string // input the step depends on, informational
}

// Registry holds the named steps available to the CLI.
type Registry struct {
	steps map[string]Step
}

// NewRegistry returns a registry holding steps. A later step replaces an
// earlier one with the same name.
func NewRegistry(steps ...Step) *Registry {
	r := &Registry{steps: make(map[string]Step)}
	for _, s := range steps {
		r.Add(s)
	}
	return r
}

// Add registers s under its name.
func (r *Registry) Add(s Step) {
	r.steps[s.Name] = s
}

// Names returns all registered step names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.steps))
	for n := range r.steps {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Lookup finds a registered step. Names of the form "pip:<requirement>" and
// "module:<archive base>" are synthesized on demand.
func (r *Registry) Lookup(name string) (Step, error) {
	if s, ok := r.steps[name]; ok {
		return s, nil
	}
	if req, ok := strings.CutPrefix(name, "pip:"); ok && req != "" {
		return pipStep(req), nil
	}
	if mod, ok := strings.CutPrefix(name, "module:"); ok && mod != "" {
		return moduleStep(name, Recipe{Name: mod}), nil
	}
	return Step{}, fmt.Errorf("%w: %q", ErrUnknownStep, name)
}

// RunStep executes s against b and records it in the ledger on success.
func RunStep(b *Builder, s Step, ledger *Ledger) error {
	target := s.Target
	if target == "" {
		target = s.Name
	}

	announce("Building %s", s.Name)
	start := time.Now()
	b.prepared = nil

	if err := s.Rule(b, target); err != nil {
		return fmt.Errorf("step %s: %w", s.Name, err)
	}

	if ledger != nil {
		entry := LedgerEntry{
			Name:      s.Name,
			Installed: time.Now(),
			Target:    target,
			Archives:  slices.Clone(b.prepared),
		}
		if err := ledger.Record(entry); err != nil {
			return fmt.Errorf("step %s: %w", s.Name, err)
		}
	}

	announce("Finished %s in %s", s.Name, time.Since(start).Truncate(time.Millisecond))
	return nil
}
