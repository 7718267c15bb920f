package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	_ "modernc.org/sqlite"

	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
	"github.com/aquasecurity/trivy-java-resolver/pkg/types"
)

const (
	dbFileName       = "resolver-index.db"
	metadataFileName = "resolver-index.json"
	SchemaVersion    = 1
)

// DB is the SQLite index of the files in a local repository.
type DB struct {
	client *sql.DB
	dir    string
}

func Path(cacheDir string) string {
	return filepath.Join(cacheDir, dbFileName)
}

func MetadataPath(cacheDir string) string {
	return filepath.Join(cacheDir, metadataFileName)
}

func New(cacheDir string) (DB, error) {
	dbPath := Path(cacheDir)
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return DB{}, xerrors.Errorf("failed to mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return DB{}, xerrors.Errorf("can't open db: %w", err)
	}

	return DB{
		client: db,
		dir:    dbDir,
	}, nil
}

func (db *DB) Init() error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"foreign_keys", "PRAGMA foreign_keys=true"},
		{"artifacts", "CREATE TABLE IF NOT EXISTS artifacts(id INTEGER PRIMARY KEY, group_id TEXT, artifact_id TEXT)"},
		{"indices", "CREATE TABLE IF NOT EXISTS indices(artifact_id INTEGER, version TEXT, classifier TEXT, extension TEXT, sha1 BLOB, " +
			"foreign key (artifact_id) references artifacts(id))"},
		{"artifacts_idx", "CREATE UNIQUE INDEX IF NOT EXISTS artifacts_idx ON artifacts(group_id, artifact_id)"},
		{"indices_coordinate_idx", "CREATE UNIQUE INDEX IF NOT EXISTS indices_coordinate_idx ON indices(artifact_id, version, classifier, extension)"},
		{"indices_sha1_idx", "CREATE INDEX IF NOT EXISTS indices_sha1_idx ON indices(sha1)"},
	}
	for _, s := range stmts {
		if _, err := db.client.Exec(s.sql); err != nil {
			return xerrors.Errorf("unable to create '%s': %w", s.name, err)
		}
	}
	return nil
}

func (db *DB) Dir() string {
	return db.dir
}

func (db *DB) Close() error {
	return db.client.Close()
}

func (db *DB) VacuumDB() error {
	if _, err := db.client.Exec("VACUUM"); err != nil {
		return xerrors.Errorf("vacuum database error: %w", err)
	}
	return nil
}

// DeleteAll empties the index.
func (db *DB) DeleteAll() error {
	for _, table := range []string{"indices", "artifacts"} {
		if _, err := db.client.Exec("DELETE FROM " + table); err != nil {
			return xerrors.Errorf("unable to empty '%s' table: %w", table, err)
		}
	}
	return nil
}

func (db *DB) InsertIndexes(ctx context.Context, indexes []types.Index) error {
	tx, err := db.client.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("begin error: %w", err)
	}
	defer tx.Rollback()

	for _, i := range indexes {
		_, err = tx.ExecContext(ctx, `INSERT INTO artifacts(group_id, artifact_id) VALUES (?, ?) ON CONFLICT(group_id, artifact_id) DO NOTHING`,
			i.GroupID, i.ArtifactID)
		if err != nil {
			return xerrors.Errorf("unable to insert to 'artifacts' table: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO indices(artifact_id, version, classifier, extension, sha1)
                      VALUES ((SELECT id FROM artifacts where group_id=? AND artifact_id=?), ?, ?, ?, ?)
                      ON CONFLICT(artifact_id, version, classifier, extension) DO UPDATE SET sha1=excluded.sha1`,
			i.GroupID, i.ArtifactID, i.Version, i.Classifier, i.Extension, i.SHA1); err != nil {
			return xerrors.Errorf("unable to insert to 'indices' table: %w", err)
		}
	}
	return tx.Commit()
}

const selectIndexes = `SELECT a.group_id, a.artifact_id, i.version, i.classifier, i.extension, i.sha1
                       FROM indices i JOIN artifacts a ON a.id = i.artifact_id `

// SelectIndexesBySha1 returns every file with the given digest. The same content
// can be published under several coordinates.
func (db *DB) SelectIndexesBySha1(ctx context.Context, sha1 string) ([]types.Index, error) {
	sha1b, err := hex.DecodeString(strings.TrimSpace(sha1))
	if err != nil {
		return nil, xerrors.Errorf("sha1 decode error: %w", err)
	}
	return db.query(ctx, selectIndexes+`WHERE i.sha1 = ? ORDER BY a.group_id, a.artifact_id, i.version`, sha1b)
}

func (db *DB) SelectIndexesByGroupIDAndArtifactID(ctx context.Context, groupID, artifactID string) ([]types.Index, error) {
	return db.query(ctx, selectIndexes+`WHERE a.group_id = ? AND a.artifact_id = ? ORDER BY i.version, i.classifier, i.extension`,
		groupID, artifactID)
}

func (db *DB) query(ctx context.Context, query string, args ...any) ([]types.Index, error) {
	rows, err := db.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Errorf("select indexes error: %w", err)
	}
	defer rows.Close()

	var indexes []types.Index
	for rows.Next() {
		var index types.Index
		if err = rows.Scan(&index.GroupID, &index.ArtifactID, &index.Version, &index.Classifier, &index.Extension, &index.SHA1); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		indexes = append(indexes, index)
	}
	if err = rows.Err(); err != nil {
		return nil, xerrors.Errorf("rows error: %w", err)
	}
	return indexes, nil
}

func (db *DB) Metadata() (Metadata, error) {
	var meta Metadata
	if err := fileutil.ReadJSON(MetadataPath(db.dir), &meta); err != nil {
		return Metadata{}, xerrors.Errorf("unable to read index metadata: %w", err)
	}
	return meta, nil
}

func (db *DB) UpdateMetadata(meta Metadata) error {
	if err := fileutil.WriteJSON(MetadataPath(db.dir), meta); err != nil {
		return xerrors.Errorf("unable to write index metadata: %w", err)
	}
	return nil
}
