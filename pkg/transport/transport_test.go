package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/trivy-java-resolver/pkg/transport"
)

func testOption() transport.HTTPOption {
	return transport.HTTPOption{
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func TestHTTP_Get(t *testing.T) {
	var flaky atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jar":
			_, _ = w.Write([]byte("content"))
		case "/flaky.jar":
			if flaky.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("eventually"))
		case "/down.jar":
			w.WriteHeader(http.StatusBadGateway)
		case "/forbidden.jar":
			w.WriteHeader(http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	tests := []struct {
		name     string
		path     string
		want     string
		wantErr  string
		notFound bool
	}{
		{
			name: "happy path",
			path: "/ok.jar",
			want: "content",
		},
		{
			name: "retried",
			path: "/flaky.jar",
			want: "eventually",
		},
		{
			name:     "not found",
			path:     "/missing.jar",
			notFound: true,
			wantErr:  "resource not found",
		},
		{
			name:    "retries exhausted",
			path:    "/down.jar",
			wantErr: "giving up after 3 attempt(s)",
		},
		{
			name:    "unexpected status",
			path:    "/forbidden.jar",
			wantErr: "403 Forbidden",
		},
	}
	h := transport.NewHTTP(testOption())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.Get(context.Background(), ts.URL+tt.path)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				var terr *transport.Error
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, ts.URL+tt.path, terr.URI)
				assert.Equal(t, tt.notFound, errors.Is(err, transport.ErrNotFound))
				return
			}
			require.NoError(t, err)
			defer res.Body.Close()
			b, err := io.ReadAll(res.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
			assert.Equal(t, int64(len(tt.want)), res.Size)
		})
	}
}

func TestHTTP_Cancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := transport.NewHTTP(testOption()).Get(ctx, ts.URL+"/a.jar")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pom"), []byte("<project/>"), 0o644))

	reg := transport.Default(testOption())

	t.Run("file", func(t *testing.T) {
		res, err := reg.Get(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "a.pom")))
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, int64(10), res.Size)
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := reg.Get(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "b.pom")))
		require.ErrorIs(t, err, transport.ErrNotFound)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := reg.Get(context.Background(), "s3://bucket/a.pom")
		require.ErrorIs(t, err, transport.ErrUnsupportedScheme)
		var terr *transport.Error
		require.ErrorAs(t, err, &terr)
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		tr, err := reg.Lookup("HTTPS")
		require.NoError(t, err)
		assert.NotNil(t, tr)
	})

	t.Run("secure rejects plain http", func(t *testing.T) {
		tr, err := reg.Lookup("https")
		require.NoError(t, err)
		_, err = tr.Get(context.Background(), "http://example.com/a.jar")
		require.ErrorContains(t, err, "requires an https URI")
	})
}
