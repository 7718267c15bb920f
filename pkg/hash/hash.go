package hash

import (
	"hash/fnv"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
)

// Coordinate hashes every identity field of c, extension included.
func Coordinate(c artifact.Coordinate) uint64 {
	h := fnv.New64a()
	for i, s := range []string{c.GroupID, c.ArtifactID, c.Version, c.Classifier, c.Extension} {
		if i > 0 {
			h.Write([]byte("|"))
		}
		h.Write([]byte(s))
	}
	return h.Sum64()
}
