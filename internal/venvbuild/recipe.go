package venvbuild

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Recipe describes a standard autoconf package: unpack, configure, make,
// make install, clean up.
type Recipe struct {
	Name      string // directory the archive unpacks into, e.g. "redis-2.6.14"
	Configure string // extra ./configure flags, inserted verbatim
	Jobs      int    // make -j value; values below 1 mean 1
	Archive   string // archive file name; defaults to Name + ".tar.gz"

	// PostInstall commands run in the source tree after make install.
	PostInstall []string
}

// ArchiveName returns the archive file the recipe extracts.
func (r Recipe) ArchiveName() string {
	if r.Archive != "" {
		return r.Archive
	}
	return r.Name + ".tar.gz"
}

// Script returns the shell program for the recipe. srcPath is the source
// root holding the 3rdparty directory.
func (r Recipe) Script(srcPath string) string {
	jobs := r.Jobs
	if jobs < 1 {
		jobs = 1
	}

	s := newScript()
	s.enter(filepath.Join(srcPath, thirdPartyDir))
	s.freshExtract(r.Name, r.ArchiveName())
	s.run("cd %s", shellQuote(r.Name))
	s.run("%s", strings.TrimSpace(`./configure --prefix="$TARGET_ENV" `+r.Configure))
	s.run("make -j%d", jobs)
	s.run("make install")
	for _, cmd := range r.PostInstall {
		s.run("%s", cmd)
	}
	s.run("cd ..")
	s.cleanup(r.Name)
	return s.String()
}

// ModuleScript builds the standard recipe script for a package.
func ModuleScript(srcPath, name, configure string, jobs int) string {
	return Recipe{Name: name, Configure: configure, Jobs: jobs}.Script(srcPath)
}

// scriptBuilder assembles recipe scripts line by line. Every script starts
// with `set -e` so the first failing command aborts it.
type scriptBuilder struct {
	lines []string
}

func newScript() *scriptBuilder {
	return &scriptBuilder{lines: []string{"set -e"}}
}

// run appends one command line.
func (s *scriptBuilder) run(format string, a ...any) *scriptBuilder {
	s.lines = append(s.lines, fmt.Sprintf(format, a...))
	return s
}

// enter changes into dir.
func (s *scriptBuilder) enter(dir string) *scriptBuilder {
	return s.run("cd %s", shellQuote(dir))
}

// freshExtract drops a stale tree named dir and unpacks archive in its
// place. The archive itself is never touched.
func (s *scriptBuilder) freshExtract(dir, archive string) *scriptBuilder {
	s.run("rm -fr %s", shellQuote(dir))
	return s.run("tar -xzf %s", shellQuote(archive))
}

// cleanup removes the extracted tree named dir.
func (s *scriptBuilder) cleanup(dir string) *scriptBuilder {
	return s.run("rm -fr %s", shellQuote(dir))
}

func (s *scriptBuilder) String() string {
	return strings.Join(s.lines, "\n") + "\n"
}
