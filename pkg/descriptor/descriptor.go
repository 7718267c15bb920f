package descriptor

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fetcher"
	"github.com/aquasecurity/trivy-java-resolver/pkg/pom"
	"github.com/aquasecurity/trivy-java-resolver/pkg/transport"
	"github.com/aquasecurity/trivy-java-resolver/pkg/version"
)

var (
	ErrNotFound      = xerrors.New("descriptor not found")
	ErrMalformed     = xerrors.New("malformed descriptor")
	ErrUnsatisfiable = xerrors.New("no version satisfies the constraint")
)

const maxRelocations = 5

// Descriptor is the effective dependency declaration of an artifact.
type Descriptor struct {
	// Artifact differs from the requested coordinate when the artifact was relocated.
	Artifact     artifact.Coordinate
	Dependencies []artifact.Dependency
	// Management holds the dependencyManagement entries, imports expanded.
	Management []artifact.Dependency
}

// Fetcher materializes descriptors and lists versions.
type Fetcher interface {
	Fetch(ctx context.Context, c artifact.Coordinate) (fetcher.Result, error)
	Versions(ctx context.Context, groupID, artifactID string) ([]string, error)
}

// Source reads descriptors through a Fetcher. Effective descriptors are cached for
// the lifetime of the Source.
type Source struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu     sync.Mutex
	cache  map[artifact.Coordinate]*Descriptor
	models map[artifact.Coordinate]*model
}

func NewSource(f Fetcher) *Source {
	return &Source{
		fetcher: f,
		logger:  slog.Default().With(slog.String("component", "descriptor")),
		cache:   make(map[artifact.Coordinate]*Descriptor),
		models:  make(map[artifact.Coordinate]*model),
	}
}

// Describe returns the effective descriptor of c. The version of c must be fixed.
// Errors wrap ErrNotFound or ErrMalformed when the descriptor is missing or invalid.
func (s *Source) Describe(ctx context.Context, c artifact.Coordinate) (*Descriptor, error) {
	key := c.Pom()
	s.mu.Lock()
	desc, ok := s.cache[key]
	s.mu.Unlock()
	if !ok {
		var err error
		if desc, err = s.describe(ctx, key, nil); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[key] = desc
		s.mu.Unlock()
	}

	out := *desc
	out.Artifact = relocate(c, desc.Artifact)
	return &out, nil
}

// relocate carries the classifier and extension of c over to the relocated coordinate.
func relocate(c, to artifact.Coordinate) artifact.Coordinate {
	if to.GroupID == c.GroupID && to.ArtifactID == c.ArtifactID && to.Version == c.Version {
		return c
	}
	c.GroupID, c.ArtifactID, c.Version = to.GroupID, to.ArtifactID, to.Version
	return c
}

// describe builds the effective descriptor. chain holds the descriptors being built
// through parents and imports, to reject loops.
func (s *Source) describe(ctx context.Context, c artifact.Coordinate, chain []artifact.Coordinate) (*Descriptor, error) {
	for i := 0; ; i++ {
		m, err := s.model(ctx, c, chain)
		if err != nil {
			return nil, err
		}
		if m.relocation == nil || *m.relocation == c {
			return s.build(ctx, c, m, chain)
		}
		if i == maxRelocations {
			return nil, xerrors.Errorf("%s: too many relocations: %w", c, ErrMalformed)
		}
		s.logger.Debug("Relocated", slog.String("from", c.String()), slog.String("to", m.relocation.String()))
		c = *m.relocation
	}
}

func (s *Source) build(ctx context.Context, c artifact.Coordinate, m *model, chain []artifact.Coordinate) (*Descriptor, error) {
	dependencies, management, err := m.resolve(c)
	if err != nil {
		return nil, err
	}
	management, err = s.importManagement(ctx, c, management, append(slices.Clip(chain), c))
	if err != nil {
		return nil, err
	}
	managed := lo.Associate(management, func(d artifact.Dependency) (string, artifact.Dependency) {
		return d.ManagementKey(), d
	})

	deps := make([]artifact.Dependency, 0, len(dependencies))
	for _, d := range dependencies {
		if md, ok := managed[d.ManagementKey()]; ok {
			if d.Artifact.Version == "" {
				d.Artifact.Version = md.Artifact.Version
			}
			if d.Scope == "" {
				d.Scope = md.Scope
			}
			if len(d.Exclusions) == 0 {
				d.Exclusions = md.Exclusions
			}
		}
		if d.Artifact.Version == "" {
			return nil, xerrors.Errorf("%s: dependency %s has no version: %w", c, d.ManagementKey(), ErrMalformed)
		}
		if d.Scope == "" {
			d.Scope = artifact.ScopeCompile
		}
		deps = append(deps, d)
	}
	return &Descriptor{
		Artifact:     c,
		Dependencies: deps,
		Management:   management,
	}, nil
}

// importManagement replaces import-scoped pom entries with the management of the
// imported descriptor. The first entry of a key wins.
func (s *Source) importManagement(ctx context.Context, c artifact.Coordinate, entries []artifact.Dependency,
	chain []artifact.Coordinate) ([]artifact.Dependency, error) {
	var result []artifact.Dependency
	seen := make(map[string]struct{})
	add := func(d artifact.Dependency) {
		if _, ok := seen[d.ManagementKey()]; ok {
			return
		}
		seen[d.ManagementKey()] = struct{}{}
		result = append(result, d)
	}

	isImport := func(d artifact.Dependency) bool {
		return d.Scope == artifact.ScopeImport && d.Artifact.Extension == artifact.PomExtension
	}
	for _, d := range lo.Reject(entries, func(d artifact.Dependency, _ int) bool { return isImport(d) }) {
		add(d)
	}

	// Explicit entries, inherited ones included, win over imported ones.
	for _, d := range lo.Filter(entries, func(d artifact.Dependency, _ int) bool { return isImport(d) }) {
		bom := d.Artifact
		if bom.Version == "" {
			return nil, xerrors.Errorf("%s: import %s has no version: %w", c, d.ManagementKey(), ErrMalformed)
		}
		if lo.Contains(chain, bom) {
			return nil, xerrors.Errorf("%s: import cycle through %s: %w", c, bom, ErrMalformed)
		}
		imported, err := s.describe(ctx, bom, chain)
		if err != nil {
			return nil, xerrors.Errorf("%s: import of %s failed: %w", c, bom, err)
		}
		for _, md := range imported.Management {
			add(md)
		}
	}
	return result, nil
}

// ResolveVersion turns the version of c into a fixed version. Ranges select the
// highest listed version they contain.
func (s *Source) ResolveVersion(ctx context.Context, c artifact.Coordinate) (string, error) {
	constraint, err := version.ParseConstraint(c.Version)
	if err != nil {
		return "", xerrors.Errorf("%s: %v: %w", c, err, ErrMalformed)
	}
	if !constraint.IsRange() {
		return constraint.Recommended.String(), nil
	}

	listed, err := s.fetcher.Versions(ctx, c.GroupID, c.ArtifactID)
	if err != nil {
		return "", xerrors.Errorf("version listing of %s failed: %w", c.Key(), err)
	}
	candidates := lo.FilterMap(listed, func(v string, _ int) (version.Version, bool) {
		parsed, err := version.Parse(v)
		return parsed, err == nil
	})
	selected, ok := constraint.Select(candidates)
	if !ok {
		return "", xerrors.Errorf("%s:%s (known versions: %s): %w", c.Key(), constraint,
			strings.Join(listed, ", "), ErrUnsatisfiable)
	}
	return selected.String(), nil
}

// notFound reports whether every source answered that the file does not exist.
func notFound(err error) bool {
	var ferr *fetcher.Error
	if !errors.As(err, &ferr) {
		return false
	}
	return lo.EveryBy(ferr.Attempts, func(a fetcher.Attempt) bool {
		return errors.Is(a.Err, fetcher.ErrNotInWorkspace) || errors.Is(a.Err, fetcher.ErrNotCached) ||
			errors.Is(a.Err, fetcher.ErrOffline) || errors.Is(a.Err, transport.ErrNotFound)
	})
}

func wrapFetchError(c artifact.Coordinate, err error) error {
	if notFound(err) {
		return xerrors.Errorf("%s: %v: %w", c, err, ErrNotFound)
	}
	return xerrors.Errorf("descriptor of %s: %w", c, err)
}

func parsePom(path string) (*pom.Project, error) {
	project, err := pom.ParseFile(path)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrMalformed)
	}
	return project, nil
}
