package descriptor

import (
	"context"
	"slices"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/pom"
)

const maxInterpolation = 10

// model is a pom merged with its parents, not interpolated yet: inherited
// declarations see the properties of the child.
type model struct {
	properties   map[string]string
	dependencies []pom.Dependency
	management   []pom.Dependency
	relocation   *artifact.Coordinate
}

// model loads c and its parents. chain holds the coordinates being loaded above c.
func (s *Source) model(ctx context.Context, c artifact.Coordinate, chain []artifact.Coordinate) (*model, error) {
	s.mu.Lock()
	m, ok := s.models[c]
	s.mu.Unlock()
	if ok {
		return m, nil
	}

	res, err := s.fetcher.Fetch(ctx, c)
	if err != nil {
		return nil, wrapFetchError(c, err)
	}
	project, err := parsePom(res.File)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", c, err)
	}

	var parent *model
	if p := project.Parent; p != nil && p.ArtifactID != "" {
		pc := artifact.Coordinate{
			GroupID:    p.GroupID,
			ArtifactID: p.ArtifactID,
			Version:    p.Version,
			Extension:  artifact.PomExtension,
		}
		if err = pc.Validate(); err != nil {
			return nil, xerrors.Errorf("%s: parent: %v: %w", c, err, ErrMalformed)
		}
		chain = append(slices.Clip(chain), c)
		if lo.Contains(chain, pc) {
			return nil, xerrors.Errorf("%s: parent cycle through %s: %w", c, pc, ErrMalformed)
		}
		if parent, err = s.model(ctx, pc, chain); err != nil {
			return nil, xerrors.Errorf("%s: parent %s: %w", c, pc, err)
		}
	}

	m = merge(project, parent)
	if r := project.Relocation; r != nil {
		to := artifact.Coordinate{
			GroupID:    coalesce(m.interpolate(r.GroupID), m.properties["project.groupId"]),
			ArtifactID: coalesce(m.interpolate(r.ArtifactID), m.properties["project.artifactId"]),
			Version:    coalesce(m.interpolate(r.Version), m.properties["project.version"]),
			Extension:  artifact.PomExtension,
		}
		if err = to.Validate(); err != nil {
			return nil, xerrors.Errorf("%s: relocation: %v: %w", c, err, ErrMalformed)
		}
		m.relocation = &to
	}

	s.mu.Lock()
	s.models[c] = m
	s.mu.Unlock()
	return m, nil
}

func merge(project *pom.Project, parent *model) *model {
	m := &model{properties: make(map[string]string)}
	if parent != nil {
		for k, v := range parent.properties {
			m.properties[k] = v
		}
	}
	for k, v := range project.Properties {
		m.properties[k] = v
	}

	groupID, ver := project.GroupID, project.Version
	if p := project.Parent; p != nil {
		groupID = coalesce(groupID, p.GroupID)
		ver = coalesce(ver, p.Version)
		m.properties["project.parent.groupId"] = p.GroupID
		m.properties["project.parent.artifactId"] = p.ArtifactID
		m.properties["project.parent.version"] = p.Version
	}
	for _, prefix := range []string{"project.", "pom.", ""} {
		m.properties[prefix+"groupId"] = groupID
		m.properties[prefix+"artifactId"] = project.ArtifactID
		m.properties[prefix+"version"] = ver
	}

	// Own declarations first, then inherited ones not redeclared.
	m.dependencies = project.Dependencies
	m.management = project.DependencyManagement
	if parent != nil {
		m.dependencies = inherit(m.dependencies, parent.dependencies)
		m.management = inherit(m.management, parent.management)
	}
	return m
}

func inherit(own, inherited []pom.Dependency) []pom.Dependency {
	key := func(d pom.Dependency) string {
		return d.GroupID + ":" + d.ArtifactID + ":" + d.Type + ":" + d.Classifier
	}
	declared := lo.Associate(own, func(d pom.Dependency) (string, struct{}) {
		return key(d), struct{}{}
	})
	result := slices.Clone(own)
	for _, d := range inherited {
		if _, ok := declared[key(d)]; !ok {
			result = append(result, d)
		}
	}
	return result
}

// resolve interpolates the dependencies and the management entries of the model.
func (m *model) resolve(c artifact.Coordinate) ([]artifact.Dependency, []artifact.Dependency, error) {
	deps := make([]artifact.Dependency, 0, len(m.dependencies))
	for _, d := range m.dependencies {
		dep, err := m.dependency(d)
		if err != nil {
			return nil, nil, xerrors.Errorf("%s: %w", c, err)
		}
		deps = append(deps, dep)
	}
	management := make([]artifact.Dependency, 0, len(m.management))
	for _, d := range m.management {
		dep, err := m.dependency(d)
		if err != nil {
			return nil, nil, xerrors.Errorf("%s: dependencyManagement: %w", c, err)
		}
		management = append(management, dep)
	}
	return deps, management, nil
}

func (m *model) dependency(d pom.Dependency) (artifact.Dependency, error) {
	ext, classifier := artifact.FromType(m.interpolate(d.Type), m.interpolate(d.Classifier))
	dep := artifact.Dependency{
		Artifact: artifact.Coordinate{
			GroupID:    m.interpolate(d.GroupID),
			ArtifactID: m.interpolate(d.ArtifactID),
			Version:    m.interpolate(d.Version),
			Classifier: classifier,
			Extension:  ext,
		},
		Optional: strings.EqualFold(m.interpolate(d.Optional), "true"),
	}
	if len(d.Exclusions) > 0 {
		dep.Exclusions = lo.Map(d.Exclusions, func(e pom.Exclusion, _ int) artifact.Exclusion {
			return artifact.Exclusion{GroupID: m.interpolate(e.GroupID), ArtifactID: m.interpolate(e.ArtifactID)}
		})
	}
	if scope := m.interpolate(d.Scope); scope != "" {
		dep.Scope = artifact.ParseScope(scope)
	}

	a := dep.Artifact
	if a.GroupID == "" || a.ArtifactID == "" {
		return artifact.Dependency{}, xerrors.Errorf("dependency without groupId or artifactId: %w", ErrMalformed)
	}
	for _, s := range []string{a.GroupID, a.ArtifactID, a.Version, a.Classifier, a.Extension} {
		if strings.Contains(s, "${") {
			return artifact.Dependency{}, xerrors.Errorf("%s: unresolved property in %q: %w", dep.ManagementKey(), s, ErrMalformed)
		}
	}
	if err := a.Validate(); err != nil {
		return artifact.Dependency{}, xerrors.Errorf("dependency %s: %v: %w", dep.ManagementKey(), err, ErrMalformed)
	}
	return dep, nil
}

// interpolate expands ${name} references. Unknown names are kept as written.
func (m *model) interpolate(s string) string {
	s = strings.TrimSpace(s)
	for n := 0; n < maxInterpolation; n++ {
		if !strings.Contains(s, "${") {
			return s
		}
		next := expand(s, m.properties)
		if next == s {
			return s
		}
		s = next
	}
	return s
}

func expand(s string, props map[string]string) string {
	var sb strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		end += start
		sb.WriteString(s[:start])
		if v, ok := props[s[start+2:end]]; ok {
			sb.WriteString(v)
		} else {
			sb.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	sb.WriteString(s)
	return sb.String()
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
