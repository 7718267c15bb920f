package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/connector"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
	"github.com/aquasecurity/trivy-java-resolver/pkg/metadata"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
	"github.com/aquasecurity/trivy-java-resolver/pkg/transport"
	"github.com/aquasecurity/trivy-java-resolver/pkg/version"
	"github.com/aquasecurity/trivy-java-resolver/pkg/workspace"
)

const (
	SourceWorkspace = "workspace"
	SourceLocal     = repository.LocalID
)

var (
	ErrNotInWorkspace = xerrors.New("not in the workspace")
	ErrNotCached      = xerrors.New("not in the local repository")
	ErrOffline        = xerrors.New("remote repositories are disabled in offline mode")
)

// Attempt is the outcome of asking one source for an artifact.
type Attempt struct {
	Source string
	Err    error
}

// Error reports that no source could provide an artifact. It lists every source
// tried, in order, with its own error.
type Error struct {
	Artifact artifact.Coordinate
	Attempts []Attempt
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "unable to materialize %s", e.Artifact)
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "\n  %s: %v", a.Source, a.Err)
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	return lo.Map(e.Attempts, func(a Attempt, _ int) error {
		return a.Err
	})
}

// Result is a materialized artifact.
type Result struct {
	Artifact artifact.Coordinate
	File     string
	Source   string
}

type Option struct {
	Workspace workspace.Reader
	Remotes   []repository.Remote
	Offline   bool
	Limit     int
	Clock     clock.Clock
}

// Fetcher materializes artifacts from the workspace, the local repository or the
// remotes, in that order. It belongs to one session: results, failures included,
// are remembered per coordinate.
type Fetcher struct {
	local     repository.Local
	connector *connector.Connector
	workspace workspace.Reader
	remotes   []repository.Remote
	offline   bool
	limit     int
	clock     clock.Clock
	logger    *slog.Logger

	files    *memo[artifact.Coordinate, Result]
	versions *memo[artifact.Key, []string]
}

func New(local repository.Local, conn *connector.Connector, opt Option) *Fetcher {
	if opt.Limit <= 0 {
		opt.Limit = 1
	}
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	return &Fetcher{
		local:     local,
		connector: conn,
		workspace: opt.Workspace,
		remotes:   opt.Remotes,
		offline:   opt.Offline,
		limit:     opt.Limit,
		clock:     opt.Clock,
		logger:    slog.Default().With(slog.String("component", "fetcher")),
		files:     newMemo[artifact.Coordinate, Result](),
		versions:  newMemo[artifact.Key, []string](),
	}
}

// Fetch returns the file of c. Failures are *Error unless ctx was cancelled.
func (f *Fetcher) Fetch(ctx context.Context, c artifact.Coordinate) (Result, error) {
	return f.files.do(ctx, c, func() (Result, error) {
		return f.fetch(ctx, c)
	})
}

func (f *Fetcher) fetch(ctx context.Context, c artifact.Coordinate) (Result, error) {
	var attempts []Attempt
	if f.workspace != nil {
		if p, ok := f.workspace.Find(c); ok {
			return Result{Artifact: c, File: p, Source: SourceWorkspace}, nil
		}
		attempts = append(attempts, Attempt{Source: SourceWorkspace, Err: ErrNotInWorkspace})
	}

	if p, ok := f.local.Find(c); ok {
		return Result{Artifact: c, File: p, Source: SourceLocal}, nil
	}
	attempts = append(attempts, Attempt{Source: SourceLocal, Err: ErrNotCached})

	if f.offline {
		attempts = append(attempts, Attempt{Source: "remote", Err: ErrOffline})
		return Result{}, &Error{Artifact: c, Attempts: attempts}
	}

	for _, remote := range f.remotes {
		p, err := f.connector.Download(ctx, remote, c)
		if err == nil {
			f.logger.Debug("Fetched", slog.String("artifact", c.String()), slog.String("repository", remote.ID))
			return Result{Artifact: c, File: p, Source: remote.ID}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, xerrors.Errorf("fetch %s: %w", c, ctxErr)
		}
		attempts = append(attempts, Attempt{Source: remote.ID, Err: err})
	}
	return Result{}, &Error{Artifact: c, Attempts: attempts}
}

// FetchAll fetches coords with at most Limit transfers in flight. Results are in the
// order of coords. The first failure in that order is returned and stops the pool.
func (f *Fetcher) FetchAll(ctx context.Context, coords []artifact.Coordinate) ([]Result, error) {
	results := make([]Result, len(coords))
	errs := make([]error, len(coords))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit)
	for i, c := range coords {
		i, c := i, c
		g.Go(func() error {
			res, err := f.Fetch(gctx, c)
			if err != nil {
				errs[i] = err
				return err
			}
			results[i] = res
			return nil
		})
	}
	werr := g.Wait()
	if werr == nil {
		return results, nil
	}

	// Prefer a real failure over the cancellations it caused.
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("fetch cancelled: %w", err)
	}
	return nil, werr
}

// Versions lists the known versions of (groupID, artifactID) from the local
// repository and every remote, ascending.
func (f *Fetcher) Versions(ctx context.Context, groupID, artifactID string) ([]string, error) {
	key := artifact.Key{GroupID: groupID, ArtifactID: artifactID}
	return f.versions.do(ctx, key, func() ([]string, error) {
		return f.listVersions(ctx, groupID, artifactID)
	})
}

func (f *Fetcher) listVersions(ctx context.Context, groupID, artifactID string) ([]string, error) {
	var versions []string
	var errs []error

	local, err := repository.ReadMetadata(f.local.MetadataPath(groupID, artifactID, repository.LocalID))
	if err == nil {
		versions = append(versions, local.Versioning.Versions...)
	} else if !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}

	for _, remote := range f.remotes {
		path, err := f.remoteMetadata(ctx, remote, groupID, artifactID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, xerrors.Errorf("version listing cancelled: %w", ctxErr)
			}
			f.logger.Warn("Unable to list versions", slog.String("artifact", groupID+":"+artifactID),
				slog.String("repository", remote.ID), slog.Any("error", err))
			errs = append(errs, xerrors.Errorf("%s: %w", remote.ID, err))
			continue
		} else if path == "" {
			continue
		}
		meta, err := repository.ReadMetadata(path)
		if err != nil {
			errs = append(errs, xerrors.Errorf("%s: %w", remote.ID, err))
			continue
		}
		versions = append(versions, meta.Versioning.Versions...)
	}

	versions = lo.Uniq(lo.Filter(versions, func(v string, _ int) bool {
		return strings.TrimSpace(v) != ""
	}))
	if len(versions) == 0 && len(errs) > 0 {
		return nil, xerrors.Errorf("unable to list versions of %s:%s: %w", groupID, artifactID, errors.Join(errs...))
	}
	slices.SortStableFunc(versions, version.Compare)
	return versions, nil
}

// remoteMetadata returns the cached maven-metadata of remote, downloading it when the
// copy is missing or due for an update. "" means the remote does not know the artifact.
func (f *Fetcher) remoteMetadata(ctx context.Context, remote repository.Remote, groupID, artifactID string) (string, error) {
	path := f.local.MetadataPath(groupID, artifactID, remote.ID)
	cached := fileutil.Exists(path)
	if f.offline {
		return lo.Ternary(cached, path, ""), nil
	}
	if cached {
		tracking := metadata.New(path)
		if meta, err := tracking.Get(); err == nil && !meta.Expired(f.clock.Now()) {
			return path, nil
		}
	}

	p, err := f.connector.DownloadMetadata(ctx, remote, groupID, artifactID)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, transport.ErrNotFound):
		return "", nil
	case cached && ctx.Err() == nil:
		f.logger.Warn("Using stale metadata", slog.String("path", path), slog.Any("error", err))
		return path, nil
	}
	return "", err
}
