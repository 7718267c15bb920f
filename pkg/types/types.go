package types

import (
	"encoding/hex"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
)

// Index is one file of the local repository with its SHA1 digest.
type Index struct {
	GroupID    string
	ArtifactID string
	Version    string
	Classifier string
	Extension  string
	SHA1       []byte
}

func NewIndex(c artifact.Coordinate, sha1 []byte) Index {
	return Index{
		GroupID:    c.GroupID,
		ArtifactID: c.ArtifactID,
		Version:    c.Version,
		Classifier: c.Classifier,
		Extension:  c.Extension,
		SHA1:       sha1,
	}
}

func (i Index) Coordinate() artifact.Coordinate {
	return artifact.Coordinate{
		GroupID:    i.GroupID,
		ArtifactID: i.ArtifactID,
		Version:    i.Version,
		Classifier: i.Classifier,
		Extension:  i.Extension,
	}
}

func (i Index) HexSHA1() string {
	return hex.EncodeToString(i.SHA1)
}
