package venvbuild

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// makeExecutable adds the execute bits to path, like `chmod +x`.
func makeExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fsError("stat", path, err)
	}
	if err := os.Chmod(path, info.Mode().Perm()|0o111); err != nil {
		return fsError("chmod", path, err)
	}
	return nil
}

// ensureSymlink creates link -> target unless something already sits at
// link. The target must exist.
func ensureSymlink(target, link string) error {
	if _, err := os.Lstat(link); err == nil {
		debugf("Symlink %s already present\n", link)
		return nil
	}
	if _, err := os.Stat(target); err != nil {
		return fsError("symlink source", target, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fsError("symlink", link, err)
	}
	return nil
}

// snapshotDir lists the entry names of dir, which must exist.
func snapshotDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fsError("read dir", dir, err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	return names, nil
}

// pruneNew removes every entry of dir that is absent from before and whose
// name does not contain keep. It returns the removed names, sorted.
func pruneNew(dir string, before map[string]bool, keep string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fsError("read dir", dir, err)
	}
	var removed []string
	for _, e := range entries {
		name := e.Name()
		if before[name] || strings.Contains(name, keep) {
			continue
		}
		p := filepath.Join(dir, name)
		if err := os.RemoveAll(p); err != nil {
			return removed, fsError("remove", p, err)
		}
		removed = append(removed, name)
	}
	slices.Sort(removed)
	return removed, nil
}

// removeTree deletes dir, which must exist.
func removeTree(dir string) error {
	if _, err := os.Lstat(dir); err != nil {
		return fsError("remove", dir, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fsError("remove", dir, err)
	}
	return nil
}

// touch creates path or bumps its modification time.
func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fsError("touch", path, err)
	}
	f.Close()
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fsError("touch", path, err)
	}
	return nil
}
