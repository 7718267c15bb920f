package workspace

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
)

// NotAvailable marks an empty classifier column.
const NotAvailable = "N/A"

// Index is a workspace described by a tab separated file, one artifact per line:
//
//	groupId	artifactId	version	classifier	path
//
// The extension comes from the path. Relative paths are resolved against the
// directory of the index file. Lines starting with # are ignored.
type Index struct {
	files Map
}

func Open(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open workspace index: %w", err)
	}
	defer f.Close()

	idx, err := Read(f, filepath.Dir(path))
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// Read parses an index. baseDir resolves relative paths.
func Read(r io.Reader, baseDir string) (*Index, error) {
	reader := newCSVReader(r)
	files := make(Map)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, xerrors.Errorf("workspace index read error: %w", err)
		}

		c := artifact.Coordinate{
			GroupID:    record[0],
			ArtifactID: record[1],
			Version:    record[2],
			Classifier: strings.TrimSpace(record[3]),
		}
		if c.Classifier == NotAvailable {
			c.Classifier = ""
		}
		p := record[4]
		c.Extension = strings.TrimPrefix(filepath.Ext(p), ".")
		if c.GroupID == "" || c.ArtifactID == "" || c.Version == "" || c.Extension == "" {
			line, _ := reader.FieldPos(0)
			return nil, xerrors.Errorf("line %d: incomplete entry", line)
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		files[c] = p
	}
	return &Index{files: files}, nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = '\t' // Use tab as delimiter
	reader.Comment = '#'
	reader.FieldsPerRecord = 5
	reader.ReuseRecord = true // Reuse memory for performance
	return reader
}

// Find returns the workspace file of c when it exists on disk. Entries whose build
// output is missing fall through to the local repository.
func (idx *Index) Find(c artifact.Coordinate) (string, bool) {
	p, ok := idx.files.Find(c)
	if !ok || !fileutil.Exists(p) {
		return "", false
	}
	return p, true
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.files)
}
