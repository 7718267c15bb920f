package artifact

import (
	"strings"
)

// Scope declares when a dependency is needed.
type Scope string

const (
	ScopeCompile  Scope = "compile"
	ScopeRuntime  Scope = "runtime"
	ScopeProvided Scope = "provided"
	ScopeTest     Scope = "test"
	ScopeSystem   Scope = "system"
	ScopeImport   Scope = "import"
)

// ParseScope normalizes a scope as written in a descriptor. Empty means compile.
func ParseScope(s string) Scope {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ScopeCompile
	}
	return Scope(s)
}

// DeriveScope returns the effective scope of a transitive dependency declared with
// child under a node whose effective scope is parent. ok is false when the
// dependency does not propagate.
func DeriveScope(parent, child Scope) (Scope, bool) {
	switch child {
	case ScopeCompile:
		switch parent {
		case ScopeCompile, ScopeRuntime, ScopeProvided, ScopeTest:
			return parent, true
		}
		return ScopeCompile, true
	case ScopeRuntime:
		switch parent {
		case ScopeProvided, ScopeTest:
			return parent, true
		}
		return ScopeRuntime, true
	}
	return "", false
}

// Exclusion removes a (group, artifact) from a subtree. "*" matches anything.
type Exclusion struct {
	GroupID    string
	ArtifactID string
}

func (e Exclusion) Matches(k Key) bool {
	return (e.GroupID == "*" || e.GroupID == k.GroupID) &&
		(e.ArtifactID == "*" || e.ArtifactID == k.ArtifactID)
}

func (e Exclusion) String() string {
	return e.GroupID + ":" + e.ArtifactID
}

// Dependency is an edge request for an artifact.
type Dependency struct {
	Artifact   Coordinate
	Scope      Scope
	Optional   bool
	Exclusions []Exclusion
}

func (d Dependency) String() string {
	s := d.Artifact.String() + " (" + string(d.Scope)
	if d.Optional {
		s += "?"
	}
	return s + ")"
}

// ManagementKey identifies a dependency inside a management block.
func (d Dependency) ManagementKey() string {
	c := d.Artifact
	return c.GroupID + ":" + c.ArtifactID + ":" + c.Extension + ":" + c.Classifier
}

// Excluded reports whether k matches any of exclusions.
func Excluded(exclusions []Exclusion, k Key) bool {
	for _, e := range exclusions {
		if e.Matches(k) {
			return true
		}
	}
	return false
}
