package venvbuild

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LedgerEntry records one completed build step.
type LedgerEntry struct {
	Name      string
	Installed time.Time
	Target    string
	Archives  []archiveRecord
}

// Ledger keeps one small KEY=value file per completed step under
// <target>/.venvbuild/installed.
type Ledger struct {
	Dir string
}

// NewLedger returns the ledger of a target environment.
func NewLedger(targetEnv string) *Ledger {
	return &Ledger{Dir: filepath.Join(targetEnv, stateDir, "installed")}
}

// entryFile maps a step name to its file. Path escaping keeps the mapping
// one-to-one, so "template:a/b" and "template:a_b" never share a record.
func (l *Ledger) entryFile(name string) string {
	return filepath.Join(l.Dir, url.PathEscape(name))
}

// Record writes the entry, replacing an earlier one.
func (l *Ledger) Record(e LedgerEntry) error {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fsError("mkdir", l.Dir, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "name=%s\n", e.Name)
	fmt.Fprintf(&b, "installed=%s\n", e.Installed.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "target=%s\n", e.Target)
	for _, a := range e.Archives {
		fmt.Fprintf(&b, "archive=%s %s\n", a.Blake3, a.Path)
	}

	path := l.entryFile(e.Name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fsError("write", path, err)
	}
	return nil
}

// Lookup returns the entry for name, or nil when the step never completed.
func (l *Ledger) Lookup(name string) (*LedgerEntry, error) {
	path := l.entryFile(name)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fsError("open", path, err)
	}
	defer f.Close()

	e := &LedgerEntry{Name: name}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			e.Name = val
		case "installed":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				e.Installed = t
			}
		case "target":
			e.Target = val
		case "archive":
			sum, rel, _ := strings.Cut(val, " ")
			e.Archives = append(e.Archives, archiveRecord{Path: rel, Blake3: sum})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fsError("read", path, err)
	}
	return e, nil
}

// Forget drops the entry for name, if any.
func (l *Ledger) Forget(name string) error {
	path := l.entryFile(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fsError("remove", path, err)
	}
	return nil
}
