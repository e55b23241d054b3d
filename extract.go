package hapzip

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/hapzip/internal/ziptype"
)

// ExtractToFile replaces the existing file at destPath with the decoded
// content of name. The destination must already exist; it is never
// created from scratch. Content goes to a temp file beside destPath which
// is renamed over it once verified, so destPath is left untouched on failure.
func (a *Archive) ExtractToFile(name, destPath string) error {
	e, err := a.lookup("extractfile", name)
	if err != nil {
		return err
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return &fs.PathError{Op: "extractfile", Path: destPath,
			Err: fmt.Errorf("%w: destination must exist: %w", ErrInvalidRequest, err)}
	}
	if info.IsDir() {
		return &fs.PathError{Op: "extractfile", Path: destPath,
			Err: fmt.Errorf("%w: destination is a directory", ErrInvalidRequest)}
	}

	return a.writeAtomic(e, destPath, info.Mode().Perm())
}

// writeAtomic decodes e into a temp file in destPath's directory and renames
// it into place.
func (a *Archive) writeAtomic(e *ziptype.Entry, destPath string, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".hapzip-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()        //nolint:errcheck // best-effort cleanup
			_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		}
	}()

	if _, err := a.codec.Extract(e, tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming to destination: %w", err)
	}

	success = true
	return nil
}

// ExtractDir extracts every file below prefix into destDir, keeping the
// archive layout. "" and "/" extract the whole archive. destDir is created
// if needed.
//
// Writes are confined to destDir: entry names that are not valid relative
// slash paths fail with ErrInvalidRequest before anything is written.
// Each file is written to a temp file and renamed into place after it
// passed verification.
//
// By default existing files are skipped and GOMAXPROCS workers run in
// parallel. The first failure stops the remaining work.
func (a *Archive) ExtractDir(prefix, destDir string, opts ...ExtractOption) error {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	names, err := a.ListFiles(prefix)
	if err != nil {
		return err
	}
	entries := make([]*ziptype.Entry, 0, len(names))
	for _, name := range names {
		if !fs.ValidPath(name) {
			return &fs.PathError{Op: "extractdir", Path: name,
				Err: fmt.Errorf("%w: entry escapes the destination", ErrInvalidRequest)}
		}
		e, err := a.lookup("extractdir", name)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create destination %s: %w", destDir, err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return fmt.Errorf("open destination %s: %w", destDir, err)
	}
	defer root.Close()

	var written, skipped atomic.Int64
	var g errgroup.Group
	g.SetLimit(extractWorkers(cfg.workers, len(entries)))
	for i, e := range entries {
		g.Go(func() error {
			ok, err := a.extractRooted(root, e, i, &cfg)
			if err != nil {
				return err
			}
			if ok {
				written.Add(1)
			} else {
				skipped.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	a.log().Debug("extracted directory",
		"prefix", prefix,
		"dest", destDir,
		"written", written.Load(),
		"skipped", skipped.Load())
	return err
}

// extractRooted writes one entry below root. It reports false when an
// existing file was kept.
func (a *Archive) extractRooted(root *os.Root, e *ziptype.Entry, seq int, cfg *extractConfig) (bool, error) {
	if !cfg.overwrite {
		if _, err := root.Lstat(e.Name); err == nil {
			return false, nil
		}
	}
	if dir := path.Dir(e.Name); dir != "." {
		if err := root.MkdirAll(dir, 0o750); err != nil {
			return false, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	tmpName := path.Join(path.Dir(e.Name), ".hapzip-"+strconv.Itoa(seq)+"-"+path.Base(e.Name))
	f, err := root.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return false, fmt.Errorf("creating temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = f.Close()            //nolint:errcheck // best-effort cleanup
			_ = root.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		}
	}()

	if _, err := a.codec.Extract(e, f); err != nil {
		return false, err
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("closing temp file: %w", err)
	}
	if cfg.preserveTimes {
		mod := e.Modified()
		if err := root.Chtimes(tmpName, mod, mod); err != nil {
			return false, fmt.Errorf("setting times: %w", err)
		}
	}
	if cfg.overwrite {
		// Refuse to replace a directory with a file.
		if info, err := root.Lstat(e.Name); err == nil && info.IsDir() {
			return false, &fs.PathError{Op: "extractdir", Path: e.Name, Err: errors.New("is a directory")}
		}
	}
	if err := root.Rename(tmpName, e.Name); err != nil {
		return false, fmt.Errorf("renaming to destination: %w", err)
	}

	success = true
	return true, nil
}

// extractWorkers determines the number of workers to use.
func extractWorkers(n, entries int) int {
	if n < 0 {
		return 1
	}
	if n == 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return max(1, min(n, entries))
}
