package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/xerrors"
)

var (
	ErrNotFound          = xerrors.New("resource not found")
	ErrUnsupportedScheme = xerrors.New("unsupported scheme")
)

// Error is a scheme specific failure of a single fetch, after any retries.
type Error struct {
	URI string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport error (%s): %v", e.URI, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resource is an open byte stream. Size is -1 when unknown.
type Resource struct {
	Body io.ReadCloser
	Size int64
}

// Transporter fetches a URI. Implementations must honour ctx cancellation.
type Transporter interface {
	Get(ctx context.Context, uri string) (*Resource, error)
}

// Registry maps a URI scheme to its Transporter. It is immutable after construction.
type Registry struct {
	transporters map[string]Transporter
}

func NewRegistry(transporters map[string]Transporter) *Registry {
	m := make(map[string]Transporter, len(transporters))
	for scheme, t := range transporters {
		m[strings.ToLower(scheme)] = t
	}
	return &Registry{transporters: m}
}

// Lookup returns the transporter registered for scheme.
func (r *Registry) Lookup(scheme string) (Transporter, error) {
	t, ok := r.transporters[strings.ToLower(scheme)]
	if !ok {
		return nil, xerrors.Errorf("%q: %w", scheme, ErrUnsupportedScheme)
	}
	return t, nil
}

// Get dispatches uri to the transporter of its scheme.
func (r *Registry) Get(ctx context.Context, uri string) (*Resource, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, &Error{URI: uri, Err: err}
	}
	t, err := r.Lookup(u.Scheme)
	if err != nil {
		return nil, &Error{URI: uri, Err: err}
	}
	return t.Get(ctx, uri)
}
