package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/xerrors"
)

type HTTPOption struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// Secure rejects non-https URIs and requires TLS 1.2 or later.
	Secure bool
}

func DefaultHTTPOption() HTTPOption {
	return HTTPOption{
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// HTTP is the plain or secure HTTP transporter.
type HTTP struct {
	client *retryablehttp.Client
	secure bool
}

func NewHTTP(opt HTTPOption) *HTTP {
	client := retryablehttp.NewClient()
	client.RetryMax = opt.RetryMax
	client.Logger = slog.Default()
	client.RetryWaitMin = opt.RetryWaitMin
	client.RetryWaitMax = opt.RetryWaitMax
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound, http.StatusGone:
			slog.Debug("Resource not found", slog.String("url", resp.Request.URL.String()))
		default:
			slog.Warn("Unexpected http response", slog.String("url", resp.Request.URL.String()), slog.String("status", resp.Status))
		}
	}
	// Retries are exhausted: report one error and release the last response.
	client.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		logger := slog.With(slog.Int("num_tries", numTries))
		if resp != nil {
			logger = logger.With(slog.String("url", resp.Request.URL.String()), slog.Int("status_code", resp.StatusCode))
			if err == nil {
				err = xerrors.Errorf("unexpected status: %s", resp.Status)
			}
			_ = resp.Body.Close()
		}
		logger.Debug("HTTP request failed after retries", slog.Any("error", err))
		return nil, xerrors.Errorf("giving up after %d attempt(s): %w", numTries, err)
	}

	if opt.Secure {
		if t, ok := client.HTTPClient.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	return &HTTP{
		client: client,
		secure: opt.Secure,
	}
}

func (h *HTTP) Get(ctx context.Context, uri string) (*Resource, error) {
	if h.secure && !strings.HasPrefix(strings.ToLower(uri), "https://") {
		return nil, &Error{URI: uri, Err: xerrors.New("secure transport requires an https URI")}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &Error{URI: uri, Err: xerrors.Errorf("unable to create a HTTP request: %w", err)}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &Error{URI: uri, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &Resource{Body: resp.Body, Size: resp.ContentLength}, nil
	case http.StatusNotFound, http.StatusGone:
		_ = resp.Body.Close()
		return nil, &Error{URI: uri, Err: ErrNotFound}
	default:
		_ = resp.Body.Close()
		return nil, &Error{URI: uri, Err: xerrors.Errorf("unexpected status: %s", resp.Status)}
	}
}
