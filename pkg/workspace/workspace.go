package workspace

import (
	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
)

// Reader is queried before the local repository for every artifact and descriptor.
type Reader interface {
	Find(c artifact.Coordinate) (string, bool)
}

// Map is a fixed set of workspace files.
type Map map[artifact.Coordinate]string

func (m Map) Find(c artifact.Coordinate) (string, bool) {
	p, ok := m[c]
	return p, ok
}
