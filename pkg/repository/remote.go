package repository

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
)

const (
	CentralID  = "central"
	CentralURL = "https://repo.maven.apache.org/maven2/"
)

// Remote is a repository reachable through a transport.
type Remote struct {
	ID     string `yaml:"id"`
	URL    string `yaml:"url"`
	Layout string `yaml:"layout,omitempty"`
}

func Central() Remote {
	return Remote{ID: CentralID, URL: CentralURL, Layout: DefaultLayout}
}

// ParseRemote parses "id=url". A bare URL gets its host as the id.
func ParseRemote(s string) (Remote, error) {
	id, rawURL, ok := strings.Cut(s, "=")
	if !ok {
		rawURL, id = s, ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Remote{}, xerrors.Errorf("invalid repository URL %q: %w", rawURL, err)
	}
	if id == "" {
		id = u.Host
	}
	r := Remote{ID: id, URL: rawURL, Layout: DefaultLayout}
	if err = r.Validate(); err != nil {
		return Remote{}, err
	}
	return r, nil
}

func (r Remote) Validate() error {
	if r.ID == "" {
		return xerrors.Errorf("repository %q: id is required", r.URL)
	}
	if r.Layout != "" && r.Layout != DefaultLayout {
		return xerrors.Errorf("repository %s: unsupported layout %q", r.ID, r.Layout)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return xerrors.Errorf("repository %s: invalid URL: %w", r.ID, err)
	}
	if u.Scheme == "" {
		return xerrors.Errorf("repository %s: URL %q has no scheme", r.ID, r.URL)
	}
	return nil
}

// Scheme returns the lower-cased URL scheme used to pick a transport.
func (r Remote) Scheme() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func (r Remote) ArtifactURL(c artifact.Coordinate) string {
	return r.resolve(Path(c))
}

func (r Remote) MetadataURL(groupID, artifactID string) string {
	return r.resolve(MetadataPath(groupID, artifactID, ""))
}

// ListingURL returns the directory of (groupID, artifactID), which some remotes
// serve as an HTML index of its versions.
func (r Remote) ListingURL(groupID, artifactID string) string {
	return r.resolve(path.Join(strings.ReplaceAll(groupID, ".", "/"), artifactID)) + "/"
}

func (r Remote) String() string {
	return r.ID + " (" + r.URL + ")"
}

func (r Remote) resolve(p string) string {
	return strings.TrimSuffix(r.URL, "/") + "/" + p
}
