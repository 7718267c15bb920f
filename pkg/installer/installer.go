package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
	"github.com/aquasecurity/trivy-java-resolver/pkg/metadata"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
)

// Error is an install that left the local repository unchanged.
type Error struct {
	Artifact artifact.Coordinate
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to install %s: %v", e.Artifact, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Option struct {
	Clock clock.Clock
}

// Installer copies locally built artifacts into the local repository.
type Installer struct {
	local  repository.Local
	clock  clock.Clock
	logger *slog.Logger
}

func New(local repository.Local, opt Option) *Installer {
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	return &Installer{
		local:  local,
		clock:  opt.Clock,
		logger: slog.Default().With(slog.String("component", "installer")),
	}
}

// entry is one file of an install unit.
type entry struct {
	dst    string
	source func(w io.Writer) error

	staged    *fileutil.AtomicFile
	backup    string
	committed bool
}

// Install places artifactFile and descriptorFile at the paths of c and its
// descriptor, and records the version in maven-metadata-local.xml. All files land
// or none do. descriptorFile may be empty when c is itself a descriptor.
func (i *Installer) Install(ctx context.Context, artifactFile, descriptorFile string, c artifact.Coordinate) error {
	if err := i.install(ctx, artifactFile, descriptorFile, c); err != nil {
		return &Error{Artifact: c, Err: err}
	}
	i.logger.Info("Installed", slog.String("artifact", c.String()), slog.String("path", i.local.Path(c)))
	return nil
}

func (i *Installer) install(ctx context.Context, artifactFile, descriptorFile string, c artifact.Coordinate) error {
	if c.Version == "" {
		return xerrors.New("version is required")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	listing := i.local.MetadataPath(c.GroupID, c.ArtifactID, repository.LocalID)
	entries := []*entry{{dst: i.local.Path(c), source: copyFrom(artifactFile)}}
	if descriptorFile != "" && c.Pom() != c {
		entries = append(entries, &entry{dst: i.local.Path(c.Pom()), source: copyFrom(descriptorFile)})
	}
	entries = append(entries, &entry{dst: listing, source: i.versionListing(c)})
	for _, e := range entries {
		if err := i.local.Check(e.dst); err != nil {
			return err
		}
	}

	// The listing is read while staging and replaced on commit.
	unlock := lock(listing)
	defer unlock()

	if err := stage(ctx, entries); err != nil {
		rollback(entries)
		return err
	}
	if err := commit(ctx, entries); err != nil {
		rollback(entries)
		return err
	}
	for _, e := range entries {
		if e.backup != "" {
			_ = os.Remove(e.backup)
		}
		// A remote tracking record no longer describes the installed file.
		client := metadata.New(e.dst)
		if err := client.Delete(); err != nil {
			i.logger.Warn("Unable to remove the tracking record", slog.String("path", e.dst), slog.Any("error", err))
		}
	}
	return nil
}

// locks serializes installs of one (group, artifact) within the process.
var locks sync.Map

func lock(path string) func() {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	v, _ := locks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func copyFrom(path string) func(w io.Writer) error {
	return func(w io.Writer) error {
		f, err := os.Open(path)
		if err != nil {
			return xerrors.Errorf("unable to open %s: %w", path, err)
		}
		defer f.Close()

		if _, err = io.Copy(w, f); err != nil {
			return xerrors.Errorf("unable to copy %s: %w", path, err)
		}
		return nil
	}
}

// versionListing adds the version of c to the local listing of its (group, artifact).
func (i *Installer) versionListing(c artifact.Coordinate) func(w io.Writer) error {
	return func(w io.Writer) error {
		path := i.local.MetadataPath(c.GroupID, c.ArtifactID, repository.LocalID)
		meta, err := repository.ReadMetadata(path)
		if errors.Is(err, fs.ErrNotExist) {
			meta = repository.Metadata{GroupID: c.GroupID, ArtifactID: c.ArtifactID}
		} else if err != nil {
			return xerrors.Errorf("version listing error: %w", err)
		}
		meta.AddVersion(c.Version, i.clock.Now())

		b, err := meta.Marshal()
		if err != nil {
			return err
		}
		_, err = io.Copy(w, bytes.NewReader(b))
		return err
	}
}

func stage(ctx context.Context, entries []*entry) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return xerrors.Errorf("install cancelled: %w", err)
		}
		f, err := fileutil.CreateAtomic(e.dst)
		if err != nil {
			return err
		}
		e.staged = f
		if err = e.source(f); err != nil {
			return err
		}
		if err = f.Stage(); err != nil {
			return err
		}
	}
	return nil
}

// commit renames the staged files over their destinations. Existing files are
// linked to a backup first, so the destination never goes missing.
func commit(ctx context.Context, entries []*entry) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Errorf("install cancelled: %w", err)
	}
	for _, e := range entries {
		if info, err := os.Stat(e.dst); err == nil {
			if !info.Mode().IsRegular() {
				return xerrors.Errorf("%s exists and is not a regular file", e.dst)
			}
			if e.backup, err = backup(e.dst); err != nil {
				return xerrors.Errorf("backup error: %w", err)
			}
		}
		if err := os.Rename(e.staged.TempName(), e.dst); err != nil {
			return xerrors.Errorf("rename error: %w", err)
		}
		e.committed = true
	}
	return nil
}

// backup preserves dst under a unique temp name next to it.
func backup(dst string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(dst), fileutil.TempPrefix+filepath.Base(dst)+"-*.bak")
	if err != nil {
		return "", xerrors.Errorf("unable to create a backup of %s: %w", dst, err)
	}
	name := f.Name()
	_ = f.Close()
	if err = os.Remove(name); err == nil {
		if err = os.Link(dst, name); err == nil {
			return name, nil
		}
	}
	// No hard links on this file system.
	if err = fileutil.CopyFile(dst, name); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// rollback restores the state before the install.
func rollback(entries []*entry) {
	for _, e := range entries {
		switch {
		case e.backup != "" && e.committed:
			_ = os.Rename(e.backup, e.dst)
		case e.backup != "":
			_ = os.Remove(e.backup)
		case e.committed:
			_ = os.Remove(e.dst)
		}
		if e.staged != nil {
			e.staged.Abort()
			_ = os.Remove(e.staged.TempName())
		}
	}
}
