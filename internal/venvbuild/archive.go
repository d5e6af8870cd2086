package venvbuild

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// newBar returns a progress bar on stderr, or nil when stderr is not a
// terminal or Verbose output would interleave with it.
func newBar(total int64, desc string, bytes bool) *progressbar.ProgressBar {
	if Verbose || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(bytes),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "━",
			SaucerHead:    "╸",
			SaucerPadding: " ",
		}),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
	)
}

// extractArchive unpacks a tar (optionally compressed) or zip archive into
// dest. With strip set, a single top-level directory shared by the entries
// is removed from their paths.
func extractArchive(archive, dest string, strip bool) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fsError("mkdir", dest, err)
	}
	if strings.HasSuffix(archive, ".zip") {
		return unzipArchive(archive, dest, strip)
	}

	f, err := os.Open(archive)
	if err != nil {
		return fsError("open", archive, err)
	}
	defer f.Close()

	var r io.Reader = f
	if info, err := f.Stat(); err == nil {
		if bar := newBar(info.Size(), "Extracting "+filepath.Base(archive), true); bar != nil {
			r = io.TeeReader(f, bar)
			defer bar.Finish()
		}
	}

	switch {
	case strings.HasSuffix(archive, ".tar.gz") || strings.HasSuffix(archive, ".tgz"):
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader for %s: %w", archive, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(archive, ".tar.bz2"):
		r = bzip2.NewReader(r)
	case strings.HasSuffix(archive, ".tar.xz"):
		xzr, err := xz.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to create xz reader for %s: %w", archive, err)
		}
		r = xzr
	case strings.HasSuffix(archive, ".tar.zst"):
		zst, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader for %s: %w", archive, err)
		}
		defer zst.Close()
		r = zst
	case strings.HasSuffix(archive, ".tar"):
	default:
		return fmt.Errorf("unsupported archive format: %s", archive)
	}

	return untar(tar.NewReader(r), archive, dest, strip)
}

// within reports whether the clean path p is dest or lies below it.
func within(dest, p string) bool {
	return p == dest || strings.HasPrefix(p, dest+string(os.PathSeparator))
}

// entryPath resolves name below dest, refusing anything that escapes it,
// either by its name or through a symlink extracted earlier.
func entryPath(dest, name string) (string, error) {
	dest = filepath.Clean(dest)
	p := filepath.Join(dest, name)
	if !within(dest, p) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	rel, err := filepath.Rel(dest, p)
	if err != nil {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	parts := strings.Split(rel, string(os.PathSeparator))
	dir := dest
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		info, err := os.Lstat(dir)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return "", fsError("stat", dir, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("illegal file path in archive: %s passes through symlink %s", name, dir)
		}
	}
	return p, nil
}

// checkLink refuses a symlink at target whose destination is absolute or
// resolves outside dest.
func checkLink(dest, target, link string) error {
	dest = filepath.Clean(dest)
	if filepath.IsAbs(link) || !within(dest, filepath.Join(filepath.Dir(target), link)) {
		return fmt.Errorf("illegal symlink in archive: %s -> %s", target, link)
	}
	return nil
}

func untar(tr *tar.Reader, archive, dest string, strip bool) error {
	// Stripping keys off the first content entry; entries outside that
	// prefix keep their full path.
	var prefix string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", archive, err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if strip && prefix == "" {
			if i := strings.IndexByte(name, '/'); i != -1 {
				prefix = name[:i+1]
				debugf("Stripping tar prefix %s\n", prefix)
			}
		}
		if strip && prefix != "" {
			name = strings.TrimPrefix(name, prefix)
		}
		if name == "" || name == "." {
			continue
		}

		target, err := entryPath(dest, name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fsError("mkdir", filepath.Dir(target), err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return fsError("mkdir", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
			_ = os.Chtimes(target, hdr.AccessTime, hdr.ModTime)
		case tar.TypeSymlink:
			if err := checkLink(dest, target, hdr.Linkname); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return fsError("symlink", target, err)
			}
			mtime := unix.NsecToTimeval(hdr.ModTime.UnixNano())
			if err := unix.Lutimes(target, []unix.Timeval{mtime, mtime}); err != nil {
				debugf("Warning: failed to set times for symlink %s: %v (continuing)\n", target, err)
			}
		default:
			debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}
	return nil
}

// writeEntry writes a regular file at target. A symlink already sitting
// there is replaced, never written through.
func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return fsError("remove", target, err)
		}
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fsError("create", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fsError("write", target, err)
	}
	if err := out.Close(); err != nil {
		return fsError("close", target, err)
	}
	return nil
}

func unzipArchive(archive, dest string, strip bool) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fsError("open", archive, err)
	}
	defer r.Close()

	var prefix string
	if strip {
		prefix = commonZipPrefix(r.File)
	}

	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, prefix)
		if name == "" {
			continue
		}
		target, err := entryPath(dest, name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fsError("mkdir", target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fsError("mkdir", filepath.Dir(target), err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s in %s: %w", f.Name, archive, err)
		}
		if f.Mode()&os.ModeSymlink != 0 {
			err = zipSymlink(dest, target, rc)
		} else {
			err = writeEntry(target, rc, f.Mode().Perm())
		}
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// zipSymlink creates a symlink whose destination is the entry's content.
func zipSymlink(dest, target string, r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return fmt.Errorf("read symlink %s: %w", target, err)
	}
	link := string(data)
	if err := checkLink(dest, target, link); err != nil {
		return err
	}
	if err := os.Symlink(link, target); err != nil && !os.IsExist(err) {
		return fsError("symlink", target, err)
	}
	return nil
}

// commonZipPrefix returns "dir/" when every entry lives below dir.
func commonZipPrefix(files []*zip.File) string {
	var prefix string
	for _, f := range files {
		i := strings.IndexByte(f.Name, '/')
		if i == -1 {
			return ""
		}
		if prefix == "" {
			prefix = f.Name[:i+1]
		} else if !strings.HasPrefix(f.Name, prefix) {
			return ""
		}
	}
	return prefix
}
