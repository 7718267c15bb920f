package fileutil

import (
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

func Walk(root string, walkFn func(r io.Reader, path string) error) error {
	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		} else if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return xerrors.Errorf("file info error: %w", err)
		}

		if info.Size() == 0 {
			slog.Debug("Skip empty file", slog.String("path", path))
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return xerrors.Errorf("failed to open file: %w", err)
		}
		defer f.Close()

		if err = walkFn(f, path); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return xerrors.Errorf("file walk error: %w", err)
	}
	return nil
}

// Count counts a number of files under the specified root directory.
func Count(root string) (int, error) {
	var count int
	err := Walk(root, func(_ io.Reader, _ string) error {
		count++
		return nil
	})
	if err != nil {
		return 0, xerrors.Errorf("file count error: %w", err)
	}
	return count, nil
}

func WriteJSON(filePath string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}
	if err = WriteFile(filePath, b); err != nil {
		return xerrors.Errorf("failed to save a file: %w", err)
	}
	return nil
}

func ReadJSON(filePath string, v interface{}) error {
	f, err := os.Open(filePath)
	if err != nil {
		return xerrors.Errorf("unable to open %s: %w", filePath, err)
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(v); err != nil {
		return xerrors.Errorf("unable to decode %s: %w", filePath, err)
	}
	return nil
}

// WriteFile replaces filePath with data so that readers see either the old or the new content.
func WriteFile(filePath string, data []byte) error {
	f, err := CreateAtomic(filePath)
	if err != nil {
		return err
	}
	defer f.Abort()

	if _, err = f.Write(data); err != nil {
		return xerrors.Errorf("write error: %w", err)
	}
	return f.Commit()
}

// CopyFile copies src to dst through an atomic temp file.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return xerrors.Errorf("unable to open %s: %w", src, err)
	}
	defer in.Close()

	f, err := CreateAtomic(dst)
	if err != nil {
		return err
	}
	defer f.Abort()

	if _, err = io.Copy(f, in); err != nil {
		return xerrors.Errorf("unable to copy %s: %w", src, err)
	}
	return f.Commit()
}

// Exists reports whether path is an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
