package resolver

import (
	"context"
	"log/slog"
	"slices"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fetcher"
	"github.com/aquasecurity/trivy-java-resolver/pkg/graph"
)

// Fetcher materializes artifacts. Results are in the order of coords.
type Fetcher interface {
	FetchAll(ctx context.Context, coords []artifact.Coordinate) ([]fetcher.Result, error)
}

type Option struct {
	// Scopes limits materialization and the flattened output. Empty means all scopes.
	Scopes []artifact.Scope
}

// Result is a conflict-free, materialized dependency tree.
type Result struct {
	Root      *graph.Node
	Artifacts []artifact.Coordinate
	Files     []string
	Conflicts []Conflict
}

func (r *Result) ClassPath() string {
	return graph.List{Artifacts: r.Artifacts, Files: r.Files}.ClassPath()
}

type Resolver struct {
	fetcher Fetcher
	scopes  []artifact.Scope
	logger  *slog.Logger
}

func New(f Fetcher, opt Option) *Resolver {
	return &Resolver{
		fetcher: f,
		scopes:  opt.Scopes,
		logger:  slog.Default().With(slog.String("component", "resolver")),
	}
}

// Resolve mediates conflicts in the collected tree and materializes every surviving
// artifact. Either all files are available or the first failure is returned.
func (r *Resolver) Resolve(ctx context.Context, root *graph.Node) (*Result, error) {
	conflicts := Mediate(root)
	for _, c := range conflicts {
		r.logger.Debug("Version conflict",
			slog.String("winner", c.Winner.Artifact().String()),
			slog.String("loser", c.Loser.String()),
			slog.Int("depth", c.Depth))
	}

	var nodes []*graph.Node
	var coords []artifact.Coordinate
	seen := make(map[artifact.Coordinate]struct{})
	graph.Walk(root, func(n *graph.Node) bool {
		if n.Duplicate || !r.included(root, n) {
			return true
		}
		nodes = append(nodes, n)
		if _, ok := seen[n.Artifact()]; !ok {
			seen[n.Artifact()] = struct{}{}
			coords = append(coords, n.Artifact())
		}
		return true
	})

	results, err := r.fetcher.FetchAll(ctx, coords)
	if err != nil {
		return nil, xerrors.Errorf("resolution of %s failed: %w", root.Artifact(), err)
	}
	files := make(map[artifact.Coordinate]fetcher.Result, len(results))
	for _, res := range results {
		files[res.Artifact] = res
	}
	for _, n := range nodes {
		res := files[n.Artifact()]
		n.File, n.Source = res.File, res.Source
	}

	list := graph.Flatten(root, r.scopes...)
	r.logger.Debug("Resolved", slog.String("root", root.Artifact().String()), slog.Int("artifacts", len(list.Artifacts)))
	return &Result{
		Root:      root,
		Artifacts: list.Artifacts,
		Files:     list.Files,
		Conflicts: conflicts,
	}, nil
}

func (r *Resolver) included(root, n *graph.Node) bool {
	return n == root || len(r.scopes) == 0 || slices.Contains(r.scopes, n.Dependency.Scope)
}
