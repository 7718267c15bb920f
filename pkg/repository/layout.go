package repository

import (
	"path"
	"strings"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
)

const (
	DefaultLayout = "default"

	metadataFileName = "maven-metadata.xml"
)

// Path returns the slash separated location of c relative to a repository root:
// group-segments/name/version/name-version[-classifier].extension
func Path(c artifact.Coordinate) string {
	return path.Join(strings.ReplaceAll(c.GroupID, ".", "/"), c.ArtifactID, c.Version, c.FileName())
}

// MetadataPath returns the location of the version listing of (groupID, artifactID).
// An empty id gives the remote name, maven-metadata.xml.
func MetadataPath(groupID, artifactID, id string) string {
	name := metadataFileName
	if id != "" {
		name = "maven-metadata-" + id + ".xml"
	}
	return path.Join(strings.ReplaceAll(groupID, ".", "/"), artifactID, name)
}

// ParsePath is the inverse of Path. ok is false for paths that do not follow the layout,
// e.g. checksums, maven-metadata files or files with a non-standard classifier separator.
func ParsePath(p string) (artifact.Coordinate, bool) {
	p = strings.TrimPrefix(p, "maven2/")
	ss := strings.Split(strings.Trim(p, "/"), "/")

	// There are cases when name is incorrect (e.g. name doesn't have artifactID)
	if len(ss) < 4 {
		return artifact.Coordinate{}, false
	}
	c := artifact.Coordinate{
		GroupID:    strings.Join(ss[:len(ss)-3], "."),
		ArtifactID: ss[len(ss)-3],
		Version:    ss[len(ss)-2],
	}

	// Example format:
	// artifactID-version.jar (no classifier)
	// artifactID-version-classifier.jar (with classifier)
	rest, ok := strings.CutPrefix(ss[len(ss)-1], c.ArtifactID+"-"+c.Version)
	if !ok {
		return artifact.Coordinate{}, false
	}
	dot := strings.LastIndexByte(rest, '.')
	if dot < 0 || dot == len(rest)-1 {
		return artifact.Coordinate{}, false
	}
	c.Extension = rest[dot+1:]
	rest = rest[:dot]
	switch {
	case rest == "":
	case strings.HasPrefix(rest, "-") && len(rest) > 1:
		c.Classifier = rest[1:]
	default:
		// e.g. debug-helper-1.3.5.mirai2.jar
		return artifact.Coordinate{}, false
	}
	switch c.Extension {
	case "sha1", "md5", "sha256", "sha512", "asc", "json":
		return artifact.Coordinate{}, false
	}
	return c, true
}
