package system

import (
	"context"
	"log/slog"

	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/collector"
	"github.com/aquasecurity/trivy-java-resolver/pkg/config"
	"github.com/aquasecurity/trivy-java-resolver/pkg/connector"
	"github.com/aquasecurity/trivy-java-resolver/pkg/descriptor"
	"github.com/aquasecurity/trivy-java-resolver/pkg/event"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fetcher"
	"github.com/aquasecurity/trivy-java-resolver/pkg/graph"
	"github.com/aquasecurity/trivy-java-resolver/pkg/installer"
	"github.com/aquasecurity/trivy-java-resolver/pkg/resolver"
	"github.com/aquasecurity/trivy-java-resolver/pkg/transport"
)

type Option struct {
	HTTP transport.HTTPOption
	// Registry replaces the built-in transporters when set.
	Registry *transport.Registry
	Clock    clock.Clock
}

// System is the entry point for resolve and install calls. It holds no per-call
// state, so one System serves any number of sessions concurrently.
type System struct {
	registry *transport.Registry
	clock    clock.Clock
	logger   *slog.Logger
}

func New(opt Option) *System {
	if opt.Registry == nil {
		opt.Registry = transport.Default(opt.HTTP)
	}
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	return &System{
		registry: opt.Registry,
		clock:    opt.Clock,
		logger:   slog.Default().With(slog.String("component", "system")),
	}
}

// Resolve collects, mediates and materializes the dependencies of c.
func (s *System) Resolve(ctx context.Context, sess config.Session, c artifact.Coordinate) (*resolver.Result, error) {
	return s.ResolveDependency(ctx, sess, artifact.Dependency{Artifact: c})
}

// ResolveGAV resolves the jar of group:name:version.
func (s *System) ResolveGAV(ctx context.Context, sess config.Session, group, name, version string) (*resolver.Result, error) {
	return s.Resolve(ctx, sess, artifact.NewCoordinate(group, name, version))
}

// ResolveDependency resolves root. An empty scope means runtime.
func (s *System) ResolveDependency(ctx context.Context, sess config.Session, root artifact.Dependency) (*resolver.Result, error) {
	if err := sess.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid session: %w", err)
	}
	events := event.NewDispatcher(sess.Listeners()...)
	defer events.Close()

	fetch := s.fetcher(sess, events)
	tree, err := s.collect(ctx, sess, fetch, root)
	if err != nil {
		return nil, err
	}
	res, err := resolver.New(fetch, resolver.Option{Scopes: sess.Scopes()}).Resolve(ctx, tree)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Resolved", slog.String("artifact", res.Root.Artifact().String()),
		slog.Int("artifacts", len(res.Artifacts)), slog.Int("conflicts", len(res.Conflicts)))
	return res, nil
}

// Collect builds the dependency tree of c without mediation or materializing jars.
func (s *System) Collect(ctx context.Context, sess config.Session, c artifact.Coordinate) (*graph.Node, error) {
	if err := sess.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid session: %w", err)
	}
	events := event.NewDispatcher(sess.Listeners()...)
	defer events.Close()

	return s.collect(ctx, sess, s.fetcher(sess, events), artifact.Dependency{Artifact: c})
}

// Install copies a built artifact and its descriptor into the local repository.
func (s *System) Install(ctx context.Context, sess config.Session, artifactFile, descriptorFile string, c artifact.Coordinate) error {
	if err := sess.Validate(); err != nil {
		return xerrors.Errorf("invalid session: %w", err)
	}
	return installer.New(sess.Local(), installer.Option{Clock: s.clock}).Install(ctx, artifactFile, descriptorFile, c)
}

func (s *System) collect(ctx context.Context, sess config.Session, fetch *fetcher.Fetcher, root artifact.Dependency) (*graph.Node, error) {
	c := collector.New(descriptor.NewSource(fetch), collector.Option{
		FollowOptional: sess.FollowOptional(),
		Limit:          sess.Concurrency(),
	})
	return c.Collect(ctx, root)
}

// fetcher wires the per-call materialization stack. Its memo lives as long as the call.
func (s *System) fetcher(sess config.Session, events *event.Dispatcher) *fetcher.Fetcher {
	conn := connector.New(s.registry, sess.Local(), connector.Option{
		Timeout:        sess.TransferTimeout(),
		UpdateInterval: sess.UpdateInterval(),
		Clock:          s.clock,
		Events:         events,
	})
	return fetcher.New(sess.Local(), conn, fetcher.Option{
		Workspace: sess.Workspace(),
		Remotes:   sess.Remotes(),
		Offline:   sess.Offline(),
		Limit:     sess.Concurrency(),
		Clock:     s.clock,
	})
}
