package steps

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// copiedFile describes one file written by copyFile.
type copiedFile struct {
	Dst    string
	Size   int64
	Mode   fs.FileMode
	SHA256 string
}

// copyFile copies src to dst, preserving the permission bits, and returns
// the sha256 of the copied content. Parent directories are created.
func copyFile(src, dst string) (cf copiedFile, err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return cf, fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = srcFile.Close() }()

	info, err := srcFile.Stat()
	if err != nil {
		return cf, fmt.Errorf("failed to stat source file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return cf, fmt.Errorf("%s is not a regular file", src)
	}
	mode := info.Mode().Perm()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return cf, fmt.Errorf("failed to create destination directory: %w", err)
	}

	// A read-only file left by an earlier copy cannot be opened for writing.
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cf, fmt.Errorf("failed to replace destination file: %w", err)
	}
	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return cf, fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close destination file: %w", closeErr)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(dstFile, h), srcFile)
	if err != nil {
		return cf, fmt.Errorf("failed to copy file contents: %w", err)
	}

	// OpenFile is subject to the umask.
	if err := os.Chmod(dst, mode); err != nil {
		return cf, fmt.Errorf("failed to set file mode: %w", err)
	}

	return copiedFile{Dst: dst, Size: n, Mode: mode, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// copyTree copies the regular files under src into dst in lexical order.
// Symlinks to regular files are copied as files; a symlink to a directory
// below src is an error. Callers resolve a symlinked src itself.
func copyTree(src, dst string) ([]copiedFile, error) {
	var out []copiedFile
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("broken symlink %s: %w", path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("symlinked directory %s is not supported", path)
			}
		} else if !d.Type().IsRegular() {
			return fmt.Errorf("%s is not a regular file", path)
		}

		cf, err := copyFile(path, target)
		if err != nil {
			return err
		}
		out = append(out, cf)
		return nil
	})
	return out, err
}

// fileSHA256 returns the hex sha256 of the file at path.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// digestEntry is one line of a stage digest.
type digestEntry struct {
	Path   string
	Mode   uint32
	SHA256 string
}

// stageDigest hashes the sorted entries. Sizes and timestamps are left
// out so identical inputs always yield the same digest.
func stageDigest(entries []digestEntry) string {
	sorted := make([]digestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, e := range sorted {
		fmt.Fprintf(h, "%s\x00%o\x00%s\n", e.Path, e.Mode, e.SHA256)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
