package builder

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/checksum"
	"github.com/aquasecurity/trivy-java-resolver/pkg/db"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
	"github.com/aquasecurity/trivy-java-resolver/pkg/hash"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
	"github.com/aquasecurity/trivy-java-resolver/pkg/types"
)

const batchSize = 1000

type Option struct {
	// Progress receives the progress bar. Nil disables it.
	Progress io.Writer
	Clock    clock.Clock
}

// Builder indexes the files of a local repository by SHA1.
type Builder struct {
	db       db.DB
	progress io.Writer
	clock    clock.Clock
	logger   *slog.Logger
}

func NewBuilder(db db.DB, opt Option) Builder {
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	if opt.Progress == nil {
		opt.Progress = io.Discard
	}
	return Builder{
		db:       db,
		progress: opt.Progress,
		clock:    opt.Clock,
		logger:   slog.Default().With(slog.String("component", "builder")),
	}
}

// Build replaces the index with the artifacts found in local. Descriptors, checksum
// sidecars, maven-metadata files and in-flight temp files are skipped.
func (b *Builder) Build(ctx context.Context, local repository.Local) (int, error) {
	count, err := fileutil.Count(local.Dir())
	if err != nil {
		return 0, xerrors.Errorf("count error: %w", err)
	}
	bar := pb.New(count).SetWriter(b.progress).Start()
	defer bar.Finish()

	if err = b.db.DeleteAll(); err != nil {
		return 0, xerrors.Errorf("failed to reset the index: %w", err)
	}

	var total int
	var indexes []types.Index
	seen := make(map[uint64]struct{})
	if err = fileutil.Walk(local.Dir(), func(r io.Reader, path string) error {
		defer bar.Increment()
		if err := ctx.Err(); err != nil {
			return err
		}

		c, ok := b.parse(local, path)
		if !ok {
			return nil
		}
		key := hash.Coordinate(c)
		if _, ok := seen[key]; ok {
			return nil
		}
		seen[key] = struct{}{}

		sum, err := checksum.Sum(r)
		if err != nil {
			return xerrors.Errorf("%s: %w", path, err)
		}
		sha1, _ := hex.DecodeString(sum)
		indexes = append(indexes, types.NewIndex(c, sha1))

		if len(indexes) >= batchSize {
			if err = b.db.InsertIndexes(ctx, indexes); err != nil {
				return xerrors.Errorf("failed to insert index to db: %w", err)
			}
			total += len(indexes)
			indexes = []types.Index{}
		}
		return nil
	}); err != nil {
		return 0, xerrors.Errorf("walk error: %w", err)
	}

	// Insert the remaining indexes
	if err = b.db.InsertIndexes(ctx, indexes); err != nil {
		return 0, xerrors.Errorf("failed to insert index to db: %w", err)
	}
	total += len(indexes)

	if err = b.db.VacuumDB(); err != nil {
		return 0, xerrors.Errorf("failed to vacuum db: %w", err)
	}

	meta := db.Metadata{
		Version:   db.SchemaVersion,
		UpdatedAt: b.clock.Now().UTC(),
		Artifacts: total,
	}
	if err = b.db.UpdateMetadata(meta); err != nil {
		return 0, xerrors.Errorf("failed to update metadata: %w", err)
	}
	b.logger.Info("Index built", slog.Int("artifacts", total))
	return total, nil
}

func (b *Builder) parse(local repository.Local, path string) (artifact.Coordinate, bool) {
	if fileutil.IsTemp(path) {
		return artifact.Coordinate{}, false
	}
	rel, err := filepath.Rel(local.Dir(), path)
	if err != nil {
		return artifact.Coordinate{}, false
	}
	c, ok := repository.ParsePath(filepath.ToSlash(rel))
	if !ok || c.Extension == artifact.PomExtension || c.Extension == "xml" {
		b.logger.Debug("Skip", slog.String("path", rel))
		return artifact.Coordinate{}, false
	}
	return c, true
}
