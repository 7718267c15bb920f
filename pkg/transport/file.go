package transport

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// File reads file:// URIs, e.g. a repository on a shared drive.
type File struct{}

func (File) Get(ctx context.Context, uri string) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, &Error{URI: uri, Err: err}
	}
	f, err := os.Open(filepath.FromSlash(u.Path))
	if os.IsNotExist(err) {
		return nil, &Error{URI: uri, Err: ErrNotFound}
	} else if err != nil {
		return nil, &Error{URI: uri, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &Error{URI: uri, Err: err}
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, &Error{URI: uri, Err: xerrors.Errorf("%s is a directory: %w", u.Path, ErrNotFound)}
	}
	return &Resource{Body: f, Size: info.Size()}, nil
}
