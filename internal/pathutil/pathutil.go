// Package pathutil implements atomic file write/copy/move with collocated
// temp files and progress callbacks. Writes stage into a temp file next to
// the destination and finish with a rename, so a reader never observes a
// partially written file.
package pathutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// ProgressFunc is invoked as bytes are written; total may be -1 if unknown.
type ProgressFunc func(written, total int64)

// progressWriter adapts a ProgressFunc to io.Writer for io.MultiWriter.
type progressWriter struct {
	written int64
	total   int64
	fn      ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	w.fn(w.written, w.total)
	return len(p), nil
}

// Processor performs atomic file operations rooted at a base directory's
// notion of "collocated temp file": the temp file lives next to its
// destination so the final rename never crosses a filesystem boundary.
type Processor struct {
	// Silent disables the default terminal progress bar fallback used when
	// no ProgressFunc is supplied to WriteFile/Copy.
	Silent bool
}

// New returns a Processor with default settings.
func New() *Processor { return &Processor{} }

// tempSibling returns a temp file path collocated with dst, created with
// O_EXCL semantics via os.CreateTemp so concurrent writers never collide.
func tempSibling(dst string) (*os.File, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create parent dir %s: %w", dir, err)
	}
	return os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
}

// WriteFile atomically writes data to dst: it stages into a collocated temp
// file, then renames over dst.
func (p *Processor) WriteFile(dst string, data []byte, mode os.FileMode) error {
	tmp, err := tempSibling(dst)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpPath, dst, err)
	}
	return nil
}

// Copy atomically copies src to dst, optionally reporting progress.
// Preserves src's modification time, which the installer's "copy needed"
// check relies on.
func (p *Processor) Copy(src, dst string, progress ProgressFunc) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source %s: %w", src, err)
	}

	tmp, err := tempSibling(dst)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	bar := p.barFor(progress, info.Size(), filepath.Base(dst))
	var w io.Writer = tmp
	switch {
	case progress != nil:
		w = io.MultiWriter(tmp, &progressWriter{total: info.Size(), fn: progress})
	case bar != nil:
		w = io.MultiWriter(tmp, bar)
	}

	if _, err := io.Copy(w, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy %s to temp: %w", src, err)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	if err := tmp.Chmod(info.Mode()); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpPath, dst, err)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// Move atomically moves src to dst via rename, falling back to copy+remove
// across filesystem boundaries.
func (p *Processor) Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := p.Copy(src, dst, nil); err != nil {
		return err
	}
	return os.Remove(src)
}

// barFor builds a terminal progress bar when the caller did not supply its
// own callback and output is attached to a real terminal.
func (p *Processor) barFor(progress ProgressFunc, size int64, label string) *progressbar.ProgressBar {
	if progress != nil || p.Silent {
		return nil
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return nil
	}
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
}

// SameContent reports whether two files match in size and modification
// time, the oracle used for snapshot-normalization and install "copy
// needed" decisions. Two distinct builds that happen to share a size and
// mtime will fool it.
func SameContent(a, b os.FileInfo) bool {
	return a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}
