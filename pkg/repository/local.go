package repository

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
)

// LocalID names the local repository in maven-metadata-local.xml and in diagnostics.
const LocalID = "local"

var ErrOutside = xerrors.New("path outside the local repository")

// Local is the on-disk cache. It holds no state besides its root, so it is safe to
// share between sessions.
type Local struct {
	dir string
}

func NewLocal(dir string) Local {
	return Local{dir: dir}
}

// DefaultDir returns ~/.m2/repository.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".m2", "repository")
	}
	return filepath.Join(home, ".m2", "repository")
}

func (l Local) Dir() string {
	return l.dir
}

// Path returns where c lives in the cache, whether or not it is there.
func (l Local) Path(c artifact.Coordinate) string {
	return filepath.Join(l.dir, filepath.FromSlash(Path(c)))
}

// MetadataPath returns the cached maven-metadata file of a repository id.
func (l Local) MetadataPath(groupID, artifactID, id string) string {
	return filepath.Join(l.dir, filepath.FromSlash(MetadataPath(groupID, artifactID, id)))
}

// Contains reports whether p lies below the repository root.
func (l Local) Contains(p string) bool {
	rel, err := filepath.Rel(l.dir, p)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Check returns ErrOutside when p is not below the repository root.
func (l Local) Check(p string) error {
	if !l.Contains(p) {
		return xerrors.Errorf("%s: %w", p, ErrOutside)
	}
	return nil
}

// Find returns the cached file of c.
func (l Local) Find(c artifact.Coordinate) (string, bool) {
	p := l.Path(c)
	if !l.Contains(p) || !fileutil.Exists(p) {
		return "", false
	}
	return p, true
}
