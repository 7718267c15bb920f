package repotest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
)

// Server is an in-memory remote repository.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	requests []string
}

func NewServer(t *testing.T) *Server {
	s := &Server{files: make(map[string][]byte)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	s.mu.Lock()
	s.requests = append(s.requests, p)
	data, ok := s.files[p]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

// Put serves data at a path relative to the repository root.
func (s *Server) Put(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = data
}

// PutArtifact serves the file of c along with its .sha1 sidecar.
func (s *Server) PutArtifact(c artifact.Coordinate, data []byte) {
	p := repository.Path(c)
	s.Put(p, data)
	s.Put(p+".sha1", []byte(SHA1(data)))
}

// PutPom serves the descriptor of c.
func (s *Server) PutPom(c artifact.Coordinate, pom string) {
	s.PutArtifact(c.Pom(), []byte(pom))
}

// PutVersions serves maven-metadata.xml listing versions.
func (s *Server) PutVersions(groupID, artifactID string, versions ...string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<metadata><groupId>%s</groupId><artifactId>%s</artifactId><versioning><versions>", groupID, artifactID)
	for _, v := range versions {
		fmt.Fprintf(&sb, "<version>%s</version>", v)
	}
	sb.WriteString("</versions></versioning></metadata>")
	s.Put(repository.MetadataPath(groupID, artifactID, ""), []byte(sb.String()))
}

// Requests returns the requested paths in arrival order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Count returns how many times p was requested.
func (s *Server) Count(p string) int {
	var n int
	for _, r := range s.Requests() {
		if r == p {
			n++
		}
	}
	return n
}

func (s *Server) Remote(id string) repository.Remote {
	return repository.Remote{ID: id, URL: s.URL + "/", Layout: repository.DefaultLayout}
}

// WriteLocal places data in the local repository at the path of c.
func WriteLocal(t *testing.T, local repository.Local, c artifact.Coordinate, data []byte) string {
	p := local.Path(c)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func SHA1(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Dep declares a dependency of a Pom.
type Dep struct {
	Coordinate string // groupId:artifactId:version, version may be empty
	Scope      string
	Optional   bool
	Exclusions []string // groupId:artifactId
}

// Pom renders a minimal descriptor.
func Pom(coordinate string, deps ...Dep) string {
	g, a, v := split(coordinate)
	var sb strings.Builder
	fmt.Fprintf(&sb, "<project>\n  <modelVersion>4.0.0</modelVersion>\n  <groupId>%s</groupId>\n  <artifactId>%s</artifactId>\n  <version>%s</version>\n", g, a, v)
	sb.WriteString(Dependencies("dependencies", deps...))
	sb.WriteString("</project>\n")
	return sb.String()
}

// Dependencies renders a <dependencies> block wrapped in tag.
func Dependencies(tag string, deps ...Dep) string {
	if len(deps) == 0 {
		return ""
	}
	var sb strings.Builder
	if tag != "dependencies" {
		fmt.Fprintf(&sb, "  <%s>\n", tag)
	}
	sb.WriteString("  <dependencies>\n")
	for _, d := range deps {
		g, a, v := split(d.Coordinate)
		fmt.Fprintf(&sb, "    <dependency>\n      <groupId>%s</groupId>\n      <artifactId>%s</artifactId>\n", g, a)
		if v != "" {
			fmt.Fprintf(&sb, "      <version>%s</version>\n", v)
		}
		if d.Scope != "" {
			fmt.Fprintf(&sb, "      <scope>%s</scope>\n", d.Scope)
		}
		if d.Optional {
			sb.WriteString("      <optional>true</optional>\n")
		}
		if len(d.Exclusions) > 0 {
			sb.WriteString("      <exclusions>\n")
			for _, e := range d.Exclusions {
				eg, ea, _ := strings.Cut(e, ":")
				fmt.Fprintf(&sb, "        <exclusion><groupId>%s</groupId><artifactId>%s</artifactId></exclusion>\n", eg, ea)
			}
			sb.WriteString("      </exclusions>\n")
		}
		sb.WriteString("    </dependency>\n")
	}
	sb.WriteString("  </dependencies>\n")
	if tag != "dependencies" {
		fmt.Fprintf(&sb, "  </%s>\n", tag)
	}
	return sb.String()
}

func split(coordinate string) (string, string, string) {
	ss := strings.SplitN(coordinate, ":", 3)
	for len(ss) < 3 {
		ss = append(ss, "")
	}
	return ss[0], ss[1], ss[2]
}
