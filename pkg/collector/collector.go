package collector

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/descriptor"
	"github.com/aquasecurity/trivy-java-resolver/pkg/graph"
)

// Source provides descriptors and version resolution.
type Source interface {
	Describe(ctx context.Context, c artifact.Coordinate) (*descriptor.Descriptor, error)
	ResolveVersion(ctx context.Context, c artifact.Coordinate) (string, error)
}

// Error aborts a collection. Path lists the ancestors of Artifact, root first.
type Error struct {
	Artifact artifact.Coordinate
	Path     []artifact.Coordinate
	Err      error
}

func (e *Error) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("failed to collect %s: %v", e.Artifact, e.Err)
	}
	path := lo.Map(e.Path, func(c artifact.Coordinate, _ int) string {
		return c.String()
	})
	return fmt.Sprintf("failed to collect %s (via %s): %v", e.Artifact, strings.Join(path, " -> "), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Option struct {
	// FollowOptional includes optional dependencies below the first level.
	FollowOptional bool
	// Limit bounds concurrent descriptor and version lookups.
	Limit int
}

// Collector builds the unresolved dependency tree.
type Collector struct {
	source         Source
	followOptional bool
	limit          int
	logger         *slog.Logger
}

func New(source Source, opt Option) *Collector {
	return &Collector{
		source:         source,
		followOptional: opt.FollowOptional,
		limit:          max(opt.Limit, 1),
		logger:         slog.Default().With(slog.String("component", "collector")),
	}
}

// frame is a node waiting for expansion with the state inherited from its ancestors.
type frame struct {
	node *graph.Node
	// path holds the ancestors of node and node itself.
	path       []*graph.Node
	exclusions []artifact.Exclusion
	// management comes from the descriptors of the ancestors of node; the outermost
	// entry of a key wins.
	management map[string]artifact.Dependency
}

// Collect builds the tree rooted at root. An empty root scope means runtime. The
// tree is either complete or an error is returned.
func (c *Collector) Collect(ctx context.Context, root artifact.Dependency) (*graph.Node, error) {
	if root.Scope == "" {
		root.Scope = artifact.ScopeRuntime
	}
	requested := root.Artifact.Version
	v, err := c.source.ResolveVersion(ctx, root.Artifact)
	if err != nil {
		return nil, &Error{Artifact: root.Artifact, Err: err}
	}
	root.Artifact = root.Artifact.WithVersion(v)

	node := &graph.Node{Dependency: root, Requested: requested}
	stack := []frame{{
		node:       node,
		path:       []*graph.Node{node},
		exclusions: root.Exclusions,
	}}
	for len(stack) > 0 {
		if err = ctx.Err(); err != nil {
			return nil, xerrors.Errorf("collection cancelled: %w", err)
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		next, err := c.expand(ctx, f)
		if err != nil {
			return nil, err
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return node, nil
}

// expand attaches the children of f.node and returns the frames of those to descend into.
func (c *Collector) expand(ctx context.Context, f frame) ([]frame, error) {
	n := f.node
	desc, err := c.source.Describe(ctx, n.Artifact())
	if err != nil {
		return nil, c.error(f, n.Artifact(), err)
	}
	if desc.Artifact != n.Artifact() {
		c.logger.Debug("Relocated", slog.String("from", n.Artifact().String()), slog.String("to", desc.Artifact.String()))
		n.Dependency.Artifact = desc.Artifact
	}

	var children []*graph.Node
	for _, d := range desc.Dependencies {
		child, ok := c.child(f, d)
		if ok {
			children = append(children, child)
		}
	}

	if err = c.resolveVersions(ctx, f, children); err != nil {
		return nil, err
	}

	var next []frame
	management := inheritManagement(f.management, desc.Management)
	for _, child := range children {
		if onPath(f.path, child.Artifact().Key()) {
			child.Cycle = true
			c.logger.Debug("Cycle truncated", slog.String("artifact", child.Artifact().String()))
			continue
		}
		next = append(next, frame{
			node:       child,
			path:       append(slices.Clip(f.path), child),
			exclusions: append(slices.Clip(f.exclusions), child.Dependency.Exclusions...),
			management: management,
		})
	}
	n.Children = children

	c.prefetch(ctx, next)
	return next, nil
}

// child applies management, exclusion, scope and optionality rules to a declared
// dependency of f.node. ok is false when the dependency is left out.
func (c *Collector) child(f frame, d artifact.Dependency) (*graph.Node, bool) {
	n := f.node
	node := &graph.Node{Depth: n.Depth + 1, Requested: d.Artifact.Version}

	if m, ok := f.management[d.ManagementKey()]; ok {
		if m.Artifact.Version != "" {
			d.Artifact.Version = m.Artifact.Version
		}
		if m.Scope != "" && m.Scope != d.Scope {
			node.PremanagedScope = d.Scope
			d.Scope = m.Scope
		}
		d.Exclusions = append(slices.Clip(d.Exclusions), m.Exclusions...)
	}

	if artifact.Excluded(f.exclusions, d.Artifact.Key()) {
		c.logger.Debug("Excluded", slog.String("artifact", d.Artifact.String()), slog.String("parent", n.Artifact().String()))
		return nil, false
	}
	switch d.Scope {
	case artifact.ScopeSystem, artifact.ScopeImport:
		return nil, false
	}

	// The first level keeps its declared scope.
	if n.Depth > 0 {
		scope, ok := artifact.DeriveScope(n.Dependency.Scope, d.Scope)
		if !ok {
			return nil, false
		}
		d.Scope = scope
		if d.Optional && !c.followOptional {
			return nil, false
		}
	}

	node.Dependency = d
	return node, true
}

// resolveVersions fixes the version of every child concurrently. The first failure
// in declaration order is reported.
func (c *Collector) resolveVersions(ctx context.Context, f frame, children []*graph.Node) error {
	versions := make([]string, len(children))
	errs := make([]error, len(children))

	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, child := range children {
		i, child := i, child
		g.Go(func() error {
			versions[i], errs[i] = c.source.ResolveVersion(ctx, child.Artifact())
			return nil
		})
	}
	_ = g.Wait()

	for i, child := range children {
		if errs[i] != nil {
			return c.error(frame{path: append(slices.Clip(f.path), child)}, child.Artifact(), errs[i])
		}
		child.Dependency.Artifact = child.Artifact().WithVersion(versions[i])
	}
	return nil
}

// prefetch loads the descriptors of the next frames in parallel. Failures surface
// when a frame is expanded, so the reported error does not depend on timing.
func (c *Collector) prefetch(ctx context.Context, next []frame) {
	if len(next) < 2 {
		return
	}
	var g errgroup.Group
	g.SetLimit(c.limit)
	for _, f := range next {
		f := f
		g.Go(func() error {
			_, _ = c.source.Describe(ctx, f.node.Artifact())
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Collector) error(f frame, failed artifact.Coordinate, err error) error {
	ancestors := f.path[:max(len(f.path)-1, 0)]
	return &Error{
		Artifact: failed,
		Path: lo.Map(ancestors, func(n *graph.Node, _ int) artifact.Coordinate {
			return n.Artifact()
		}),
		Err: err,
	}
}

func onPath(path []*graph.Node, key artifact.Key) bool {
	return lo.ContainsBy(path, func(n *graph.Node) bool {
		return n.Artifact().Key() == key
	})
}

// inheritManagement adds the entries of a descriptor to the ones inherited from
// further up. Existing keys win.
func inheritManagement(inherited map[string]artifact.Dependency, entries []artifact.Dependency) map[string]artifact.Dependency {
	if len(entries) == 0 {
		return inherited
	}
	merged := make(map[string]artifact.Dependency, len(inherited)+len(entries))
	for _, d := range entries {
		if _, ok := merged[d.ManagementKey()]; !ok {
			merged[d.ManagementKey()] = d
		}
	}
	for k, d := range inherited {
		merged[k] = d
	}
	return merged
}
