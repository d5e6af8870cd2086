package venvbuild

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"lukechampine.com/blake3"
)

var archiveSuffixes = []string{".tar.gz", ".tgz", ".tar.xz", ".tar.bz2", ".tar.zst", ".tar", ".zip", ".pkg"}

func isArchive(name string) bool {
	for _, suf := range archiveSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// hashFile returns the hex BLAKE3-256 digest of path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// readSums parses a "<hex>  <relative path>" file. A missing file gives an
// empty set.
func readSums(path string) (map[string]string, error) {
	sums := make(map[string]string)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return sums, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: want \"<hash>  <file>\"", path, n)
		}
		sums[fields[1]] = strings.ToLower(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return sums, nil
}

// verifyArchive hashes path and compares it with the entry for rel, if any.
// It returns the computed digest.
func verifyArchive(path, rel string, sums map[string]string) (string, error) {
	sum, err := hashFile(path)
	if err != nil {
		return "", fsError("hash", path, err)
	}
	want, listed := sums[rel]
	if !listed {
		debugf("No checksum listed for %s\n", rel)
		return sum, nil
	}
	if sum != want {
		return sum, fmt.Errorf("%w: %s: expected %s, got %s", ErrChecksumMismatch, rel, want, sum)
	}
	debugf("Checksum OK for %s\n", rel)
	return sum, nil
}

// writeSums hashes every archive in dir and dir/site-packages and writes
// dir/SUMS.b3. It returns the number of archives listed.
func writeSums(dir string) (int, error) {
	var rels []string
	for _, sub := range []string{"", sitePackagesDir} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if os.IsNotExist(err) && sub != "" {
			continue
		}
		if err != nil {
			return 0, fsError("read dir", filepath.Join(dir, sub), err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && isArchive(e.Name()) {
				rels = append(rels, filepath.ToSlash(filepath.Join(sub, e.Name())))
			}
		}
	}
	slices.Sort(rels)

	var b strings.Builder
	for _, rel := range rels {
		sum, err := hashFile(filepath.Join(dir, rel))
		if err != nil {
			return 0, fsError("hash", rel, err)
		}
		fmt.Fprintf(&b, "%s  %s\n", sum, rel)
	}

	out := filepath.Join(dir, sumsFileName)
	if err := os.WriteFile(out, []byte(b.String()), 0o644); err != nil {
		return 0, fsError("write", out, err)
	}
	return len(rels), nil
}
