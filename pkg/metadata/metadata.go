package metadata

import (
	"os"
	"time"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
)

// Suffix is appended to a downloaded file to get its tracking record.
const Suffix = ".meta.json"

// Client reads and writes the tracking record of one file in the local repository.
type Client struct {
	path string
}

// Metadata records where a cached file came from.
type Metadata struct {
	Repository   string
	URL          string
	SHA1         string    `json:",omitempty"`
	NextUpdate   time.Time `json:",omitempty"`
	DownloadedAt time.Time
}

// Path returns the tracking record path of file
func Path(file string) string {
	return file + Suffix
}

func New(file string) Client {
	return Client{
		path: Path(file),
	}
}

// Get returns the tracking record. A missing record is reported with os.ErrNotExist.
func (c *Client) Get() (Metadata, error) {
	var meta Metadata
	if err := fileutil.ReadJSON(c.path, &meta); err != nil {
		return Metadata{}, xerrors.Errorf("unable to read metadata: %w", err)
	}
	return meta, nil
}

func (c *Client) Update(meta Metadata) error {
	if err := fileutil.WriteJSON(c.path, meta); err != nil {
		return xerrors.Errorf("unable to write metadata: %w", err)
	}
	return nil
}

// Delete deletes the tracking record
func (c *Client) Delete() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("unable to remove the metadata file: %w", err)
	}
	return nil
}

// Expired reports whether a record with a next update time needs refreshing at now.
func (m Metadata) Expired(now time.Time) bool {
	return !m.NextUpdate.IsZero() && !now.Before(m.NextUpdate)
}
