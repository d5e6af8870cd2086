package venvbuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Builder carries what every installer needs: settings, a way to run
// scripts, and the environment snapshot handed to scripts and templates.
type Builder struct {
	Settings *Settings
	Runner   ScriptRunner
	Environ  []string

	fetcher  archiveFetcher // nil when no mirror is configured
	sums     map[string]string
	sumsRead bool
	prepared []archiveRecord // archives checked by the step currently running
}

type archiveRecord struct {
	Path   string
	Blake3 string
}

// NewBuilder wires an Executor and, when configured, the archive mirror.
func NewBuilder(ctx context.Context, s *Settings, environ []string) (*Builder, error) {
	exec := NewExecutor(ctx, s.TargetEnv, environ)
	exec.Shell = s.Shell
	exec.LogDir = s.LogDir

	b := &Builder{Settings: s, Runner: exec, Environ: environ}
	if s.Mirror.Enabled() {
		m, err := NewMirrorClient(ctx, s.Mirror)
		if err != nil {
			return nil, err
		}
		b.fetcher = m
	}
	return b, nil
}

// Path joins elem onto the target environment.
func (b *Builder) Path(elem ...string) string {
	return filepath.Join(append([]string{b.Settings.TargetEnv}, elem...)...)
}

// Exec runs a script through the configured runner.
func (b *Builder) Exec(label, script string) (*ExecResult, error) {
	return b.Runner.Exec(script, ExecOptions{Label: label, Log: true})
}

// Module installs a standard autoconf package from 3rdparty/<name>.tar.gz.
func (b *Builder) Module(name, configure string, jobs int) error {
	return b.Recipe(Recipe{Name: name, Configure: configure, Jobs: jobs})
}

// Recipe prepares the recipe's archive and runs its script.
func (b *Builder) Recipe(r Recipe) error {
	if r.Jobs == 0 {
		r.Jobs = b.Settings.Jobs
	}
	if err := b.prepareArchive(r.ArchiveName()); err != nil {
		return err
	}
	_, err := b.Exec(r.Name, r.Script(b.Settings.SrcPath))
	return err
}

// Template renders src (relative to the source root) to dst (relative to
// the target environment). dst must stay inside the target environment.
func (b *Builder) Template(src, dst string, mode Mode, executable bool) error {
	if !filepath.IsAbs(src) {
		src = filepath.Join(b.Settings.SrcPath, src)
	}
	if !filepath.IsAbs(dst) {
		dst = b.Path(dst)
	}
	if target := filepath.Clean(b.Settings.TargetEnv); !within(target, filepath.Clean(dst)) {
		return fmt.Errorf("%w: template destination %s is outside %s", ErrFilesystem, dst, target)
	}
	r := &Renderer{TargetEnv: b.Settings.TargetEnv, Environ: b.Environ}
	return r.Render(src, dst, mode, executable)
}

// prepareArchive makes sure rel (relative to 3rdparty) is present, fetching
// it from the mirror when missing, and checks it against SUMS.b3. A missing
// archive with no mirror is left for the script to trip over.
func (b *Builder) prepareArchive(rel string) error {
	path := filepath.Join(b.Settings.ThirdPartyDir(), rel)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if b.fetcher == nil {
			debugf("Archive %s not found and no mirror configured\n", path)
			return nil
		}
		announce("Fetching %s from mirror", rel)
		if err := b.fetcher.Fetch(rel, path); err != nil {
			return fmt.Errorf("fetch %s: %w", rel, err)
		}
	}

	if !b.sumsRead {
		sums, err := readSums(filepath.Join(b.Settings.ThirdPartyDir(), sumsFileName))
		if err != nil {
			return err
		}
		b.sums, b.sumsRead = sums, true
	}

	sum, err := verifyArchive(path, rel, b.sums)
	if err != nil {
		return err
	}
	b.prepared = append(b.prepared, archiveRecord{Path: rel, Blake3: sum})
	return nil
}
