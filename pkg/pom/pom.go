package pom

import (
	"encoding/xml"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/xerrors"
)

// Project is the subset of a pom.xml needed for dependency resolution.
type Project struct {
	Parent               *Parent      `xml:"parent"`
	GroupID              string       `xml:"groupId"`
	ArtifactID           string       `xml:"artifactId"`
	Version              string       `xml:"version"`
	Packaging            string       `xml:"packaging"`
	Properties           Properties   `xml:"properties"`
	DependencyManagement []Dependency `xml:"dependencyManagement>dependencies>dependency"`
	Dependencies         []Dependency `xml:"dependencies>dependency"`
	Relocation           *Relocation  `xml:"distributionManagement>relocation"`
}

type Parent struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

type Dependency struct {
	GroupID    string      `xml:"groupId"`
	ArtifactID string      `xml:"artifactId"`
	Version    string      `xml:"version"`
	Type       string      `xml:"type"`
	Classifier string      `xml:"classifier"`
	Scope      string      `xml:"scope"`
	Optional   string      `xml:"optional"`
	Exclusions []Exclusion `xml:"exclusions>exclusion"`
}

type Exclusion struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
}

// Relocation points to the new coordinate of a moved artifact.
type Relocation struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

// Properties holds <properties>, where every child element is a key.
type Properties map[string]string

func (p *Properties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	props := make(Properties)
	for {
		tok, err := d.Token()
		if err != nil {
			return xerrors.Errorf("properties decode error: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err = d.DecodeElement(&value, &t); err != nil {
				return xerrors.Errorf("property %s decode error: %w", t.Name.Local, err)
			}
			props[t.Name.Local] = strings.TrimSpace(value)
		case xml.EndElement:
			*p = props
			return nil
		}
	}
}

// IsOptional reports whether <optional> is true.
func (d Dependency) IsOptional() bool {
	return strings.EqualFold(strings.TrimSpace(d.Optional), "true")
}

func Parse(r io.Reader) (*Project, error) {
	var project Project
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel
	if err := decoder.Decode(&project); err != nil {
		return nil, xerrors.Errorf("unable to decode pom file: %w", err)
	}
	return &project, nil
}

func ParseFile(path string) (*Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close()

	project, err := Parse(f)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	return project, nil
}
