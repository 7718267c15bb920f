package fileutil

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

// TempPrefix starts the name of every in-flight file. Readers of a repository skip them.
const TempPrefix = ".tmp-"

// AtomicFile is a temp file in the destination directory that becomes visible
// under its final name only on Commit.
type AtomicFile struct {
	*os.File
	path string
	done bool
}

func CreateAtomic(path string) (*AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, xerrors.Errorf("unable to create a directory: %w", err)
	}
	f, err := os.CreateTemp(dir, TempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return nil, xerrors.Errorf("unable to create a temp file for %s: %w", path, err)
	}
	return &AtomicFile{File: f, path: path}, nil
}

// Path returns the final location.
func (f *AtomicFile) Path() string {
	return f.path
}

// Commit flushes the temp file and renames it into place.
func (f *AtomicFile) Commit() error {
	if f.done {
		return xerrors.Errorf("%s already closed", f.path)
	}
	f.done = true
	if err := f.Sync(); err != nil {
		f.cleanup()
		return xerrors.Errorf("sync error: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return xerrors.Errorf("close error: %w", err)
	}
	if err := os.Rename(f.Name(), f.path); err != nil {
		_ = os.Remove(f.Name())
		return xerrors.Errorf("rename error: %w", err)
	}
	return nil
}

// Stage closes the temp file without renaming it, for callers that commit several
// files together. TempName keeps pointing at the staged file.
func (f *AtomicFile) Stage() error {
	if err := f.Sync(); err != nil {
		return xerrors.Errorf("sync error: %w", err)
	}
	if err := f.Close(); err != nil {
		return xerrors.Errorf("close error: %w", err)
	}
	return nil
}

// TempName returns the temp file location.
func (f *AtomicFile) TempName() string {
	return f.Name()
}

// Abort removes the temp file. It is a no-op after Commit.
func (f *AtomicFile) Abort() {
	if f.done {
		return
	}
	f.done = true
	f.cleanup()
}

func (f *AtomicFile) cleanup() {
	_ = f.Close()
	_ = os.Remove(f.Name())
}

// IsTemp reports whether name is an in-flight file created by CreateAtomic.
func IsTemp(name string) bool {
	return strings.HasPrefix(filepath.Base(name), TempPrefix)
}
