package repository

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"
	"slices"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/version"
)

const lastUpdatedFormat = "20060102150405"

// Metadata is the maven-metadata.xml version listing of a (group, artifact).
type Metadata struct {
	XMLName    xml.Name   `xml:"metadata"`
	GroupID    string     `xml:"groupId"`
	ArtifactID string     `xml:"artifactId"`
	Versioning Versioning `xml:"versioning"`
}

type Versioning struct {
	Latest      string   `xml:"latest,omitempty"`
	Release     string   `xml:"release,omitempty"`
	Versions    []string `xml:"versions>version"`
	LastUpdated string   `xml:"lastUpdated,omitempty"`
}

func DecodeMetadata(r io.Reader) (Metadata, error) {
	var meta Metadata
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel
	if err := decoder.Decode(&meta); err != nil {
		return Metadata{}, xerrors.Errorf("metadata decode error: %w", err)
	}
	return meta, nil
}

// ReadMetadata reads a maven-metadata file. A missing file is reported with os.ErrNotExist.
func ReadMetadata(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close()

	meta, err := DecodeMetadata(f)
	if err != nil {
		return Metadata{}, xerrors.Errorf("%s: %w", path, err)
	}
	return meta, nil
}

// AddVersion records v, keeps the listing sorted and refreshes latest/release.
func (m *Metadata) AddVersion(v string, now time.Time) {
	if !slices.Contains(m.Versioning.Versions, v) {
		m.Versioning.Versions = append(m.Versioning.Versions, v)
	}
	slices.SortStableFunc(m.Versioning.Versions, version.Compare)

	versions := m.Versioning.Versions
	m.Versioning.Latest = versions[len(versions)-1]
	m.Versioning.Release = ""
	for i := len(versions) - 1; i >= 0; i-- {
		if parsed, err := version.Parse(versions[i]); err == nil && !parsed.IsSnapshot() {
			m.Versioning.Release = versions[i]
			break
		}
	}
	m.Versioning.LastUpdated = now.UTC().Format(lastUpdatedFormat)
}

func (m Metadata) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")
	if err := encoder.Encode(m); err != nil {
		return nil, xerrors.Errorf("metadata encode error: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
