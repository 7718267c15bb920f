package connector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/checksum"
	"github.com/aquasecurity/trivy-java-resolver/pkg/event"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
	"github.com/aquasecurity/trivy-java-resolver/pkg/metadata"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
	"github.com/aquasecurity/trivy-java-resolver/pkg/transport"
)

var ErrChecksumMismatch = xerrors.New("checksum mismatch")

type Option struct {
	// Timeout bounds a single transfer, checksum included. Zero means no limit.
	Timeout time.Duration
	// UpdateInterval is how long a downloaded maven-metadata.xml stays fresh.
	UpdateInterval time.Duration
	Clock          clock.Clock
	Events         *event.Dispatcher
}

// Connector downloads remote resources into the local repository.
type Connector struct {
	transport      *transport.Registry
	local          repository.Local
	timeout        time.Duration
	updateInterval time.Duration
	clock          clock.Clock
	events         *event.Dispatcher
	logger         *slog.Logger
}

func New(registry *transport.Registry, local repository.Local, opt Option) *Connector {
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	return &Connector{
		transport:      registry,
		local:          local,
		timeout:        opt.Timeout,
		updateInterval: opt.UpdateInterval,
		clock:          opt.Clock,
		events:         opt.Events,
		logger:         slog.Default().With(slog.String("component", "connector")),
	}
}

// Download fetches c from remote into the local repository and returns the cached path.
// The .sha1 sidecar is verified when the remote has one.
func (c *Connector) Download(ctx context.Context, remote repository.Remote, coord artifact.Coordinate) (string, error) {
	dst := c.local.Path(coord)
	if err := c.local.Check(dst); err != nil {
		return "", err
	}
	if err := c.download(ctx, remote, remote.ArtifactURL(coord), dst, time.Time{}); err != nil {
		return "", err
	}
	return dst, nil
}

// DownloadMetadata fetches maven-metadata.xml of (groupID, artifactID) from remote into
// maven-metadata-<id>.xml and returns the cached path. When the remote has no such file
// the listing is built from its directory index, if it serves one.
func (c *Connector) DownloadMetadata(ctx context.Context, remote repository.Remote, groupID, artifactID string) (string, error) {
	dst := c.local.MetadataPath(groupID, artifactID, remote.ID)
	if err := c.local.Check(dst); err != nil {
		return "", err
	}
	nextUpdate := c.clock.Now().UTC().Add(c.updateInterval)
	err := c.download(ctx, remote, remote.MetadataURL(groupID, artifactID), dst, nextUpdate)
	if errors.Is(err, transport.ErrNotFound) {
		if lerr := c.listVersions(ctx, remote, groupID, artifactID, dst); lerr != nil {
			c.logger.Debug("No directory index", slog.String("repository", remote.ID), slog.Any("error", lerr))
			return "", err
		}
		return dst, nil
	} else if err != nil {
		return "", err
	}
	return dst, nil
}

func (c *Connector) download(ctx context.Context, remote repository.Remote, url, dst string, nextUpdate time.Time) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	want, err := c.expectedSHA1(ctx, url)
	if err != nil {
		return xerrors.Errorf("checksum fetch error: %w", err)
	}

	res, err := c.transport.Get(ctx, url)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	start := c.clock.Now()
	ev := event.Event{
		Repository: remote.ID,
		URL:        url,
		File:       dst,
		Size:       res.Size,
	}
	ev.Type = event.Started
	c.events.Emit(ev)

	got, transferred, err := c.save(res.Body, dst, want, ev)
	ev.Transferred = transferred
	ev.Elapsed = c.clock.Since(start)
	if err != nil {
		ev.Type, ev.Err = event.Failed, err
		c.events.Emit(ev)
		return err
	}

	tracking := metadata.New(dst)
	if err = tracking.Update(metadata.Metadata{
		Repository:   remote.ID,
		URL:          url,
		SHA1:         got,
		NextUpdate:   nextUpdate,
		DownloadedAt: c.clock.Now().UTC(),
	}); err != nil {
		// The file itself is in place and valid.
		c.logger.Warn("Unable to save tracking metadata", slog.String("path", dst), slog.Any("error", err))
	}

	ev.Type = event.Succeeded
	c.events.Emit(ev)
	c.logger.Debug("Saved", slog.String("url", url), slog.String("path", dst), slog.Int64("size", transferred))
	return nil
}

// save streams body into dst while hashing it. dst only appears when the digest matches.
func (c *Connector) save(body io.Reader, dst, want string, ev event.Event) (string, int64, error) {
	f, err := fileutil.CreateAtomic(dst)
	if err != nil {
		return "", 0, err
	}
	defer f.Abort()

	h := sha1.New()
	pw := &progressWriter{events: c.events, ev: ev}
	pw.ev.Type = event.Progressed
	n, err := io.Copy(io.MultiWriter(f, h, pw), body)
	if err != nil {
		return "", n, xerrors.Errorf("download error (%s): %w", ev.URL, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if want != "" && want != got {
		return "", n, xerrors.Errorf("%s: expected %s, got %s: %w", ev.URL, want, got, ErrChecksumMismatch)
	}
	if err = f.Commit(); err != nil {
		return "", n, xerrors.Errorf("unable to save %s: %w", dst, err)
	}
	return got, n, nil
}

// expectedSHA1 returns the published digest of url, or "" when there is none.
func (c *Connector) expectedSHA1(ctx context.Context, url string) (string, error) {
	res, err := c.transport.Get(ctx, url+checksum.Extension)
	if errors.Is(err, transport.ErrNotFound) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, 1024))
	if err != nil {
		return "", xerrors.Errorf("unable to read %s%s: %w", url, checksum.Extension, err)
	}
	sum := checksum.Parse(b)
	if sum == checksum.NotAvailable {
		c.logger.Debug("Ignoring unusable checksum", slog.String("url", url+checksum.Extension))
		return "", nil
	}
	return sum, nil
}

type progressWriter struct {
	events *event.Dispatcher
	ev     event.Event
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.ev.Transferred += int64(len(p))
	w.events.Emit(w.ev)
	return len(p), nil
}
