package artifact

import (
	"regexp"
	"strings"

	"golang.org/x/xerrors"
)

const (
	JarExtension = "jar"
	PomExtension = "pom"
)

var (
	ErrInvalid = xerrors.New("invalid coordinate")

	idPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// Coordinate identifies an artifact file. Version may be a fixed version or a range.
type Coordinate struct {
	GroupID    string
	ArtifactID string
	Classifier string
	Extension  string
	Version    string
}

// Key is the versionless identity used for conflict grouping and cycle detection.
type Key struct {
	GroupID    string
	ArtifactID string
}

func (k Key) String() string {
	return k.GroupID + ":" + k.ArtifactID
}

// NewCoordinate returns a jar coordinate without classifier.
func NewCoordinate(groupID, artifactID, version string) Coordinate {
	return Coordinate{
		GroupID:    groupID,
		ArtifactID: artifactID,
		Extension:  JarExtension,
		Version:    version,
	}
}

// Parse parses "groupId:artifactId[:extension[:classifier]]:version".
func Parse(s string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	var c Coordinate
	switch len(parts) {
	case 3:
		c = NewCoordinate(parts[0], parts[1], parts[2])
	case 4:
		c = Coordinate{GroupID: parts[0], ArtifactID: parts[1], Extension: parts[2], Version: parts[3]}
	case 5:
		c = Coordinate{GroupID: parts[0], ArtifactID: parts[1], Extension: parts[2], Classifier: parts[3], Version: parts[4]}
	default:
		return Coordinate{}, xerrors.Errorf("invalid coordinate %q (expected groupId:artifactId[:extension[:classifier]]:version)", s)
	}
	if c.GroupID == "" || c.ArtifactID == "" || c.Version == "" {
		return Coordinate{}, xerrors.Errorf("invalid coordinate %q: groupId, artifactId and version are required", s)
	}
	if c.Extension == "" {
		c.Extension = JarExtension
	}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Validate checks that every field of c maps to a single path element below the
// repository root. Ids are limited to [A-Za-z0-9_.-] and must not contain "..".
// Versions may hold range syntax but no path separators. Empty classifier, extension
// and version are accepted, the rest is required.
func (c Coordinate) Validate() error {
	ids := []struct {
		name, value string
		optional    bool
	}{
		{"groupId", c.GroupID, false},
		{"artifactId", c.ArtifactID, false},
		{"classifier", c.Classifier, true},
		{"extension", c.Extension, true},
	}
	for _, id := range ids {
		if id.value == "" && id.optional {
			continue
		}
		if !idPattern.MatchString(id.value) || strings.Contains(id.value, "..") {
			return xerrors.Errorf("%s %q: %w", id.name, id.value, ErrInvalid)
		}
	}
	if strings.ContainsAny(c.Version, "/\\\x00") || c.Version == "." || c.Version == ".." {
		return xerrors.Errorf("version %q: %w", c.Version, ErrInvalid)
	}
	return nil
}

func (c Coordinate) String() string {
	var sb strings.Builder
	sb.WriteString(c.GroupID)
	sb.WriteByte(':')
	sb.WriteString(c.ArtifactID)
	sb.WriteByte(':')
	sb.WriteString(c.Extension)
	if c.Classifier != "" {
		sb.WriteByte(':')
		sb.WriteString(c.Classifier)
	}
	sb.WriteByte(':')
	sb.WriteString(c.Version)
	return sb.String()
}

func (c Coordinate) Key() Key {
	return Key{GroupID: c.GroupID, ArtifactID: c.ArtifactID}
}

func (c Coordinate) WithVersion(v string) Coordinate {
	c.Version = v
	return c
}

// Pom returns the descriptor counterpart of c.
func (c Coordinate) Pom() Coordinate {
	c.Classifier = ""
	c.Extension = PomExtension
	return c
}

// FileName returns name-version[-classifier].extension.
func (c Coordinate) FileName() string {
	name := c.ArtifactID + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	return name + "." + c.Extension
}

// FromType maps a descriptor <type> to the extension and classifier of the file.
func FromType(typ, classifier string) (extension, cls string) {
	switch typ {
	case "", "jar", "bundle", "maven-plugin", "ejb", "ejb-client", "java-source", "javadoc":
		extension = JarExtension
	case "test-jar":
		extension = JarExtension
		if classifier == "" {
			classifier = "tests"
		}
	default:
		extension = typ
	}
	if classifier == "" {
		switch typ {
		case "ejb-client":
			classifier = "client"
		case "java-source":
			classifier = "sources"
		case "javadoc":
			classifier = "javadoc"
		}
	}
	return extension, classifier
}
