// Package store keeps the manifest of model artifacts downloaded from the
// model hub. It records file metadata only; translations are never stored.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// dsnPragmas makes concurrent writers wait for the lock instead of failing
// with SQLITE_BUSY.
const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every request touches the manifest; one connection keeps those writes
	// from contending for the sqlite lock.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS model_artifacts (
		model_id TEXT NOT NULL,
		revision TEXT NOT NULL,
		file_name TEXT NOT NULL,
		local_path TEXT NOT NULL,
		etag TEXT,
		size_bytes INTEGER DEFAULT 0,
		fetch_count INTEGER DEFAULT 1,
		fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (model_id, revision, file_name)
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_model ON model_artifacts(model_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Artifact is a row from the model_artifacts table.
type Artifact struct {
	ModelID    string
	Revision   string
	FileName   string
	LocalPath  string
	ETag       string
	SizeBytes  int64
	FetchCount int
	FetchedAt  time.Time
	LastUsed   time.Time
}

// ManifestStats summarises the artifact manifest.
type ManifestStats struct {
	Models     int
	Files      int
	TotalBytes int64
}

// SaveArtifact records a freshly downloaded file, replacing an older row for
// the same model, revision and file.
func (s *Store) SaveArtifact(ctx context.Context, a Artifact) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_artifacts (model_id, revision, file_name, local_path, etag, size_bytes, fetch_count, fetched_at, last_used)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(model_id, revision, file_name) DO UPDATE SET
			local_path = excluded.local_path,
			etag = excluded.etag,
			size_bytes = excluded.size_bytes,
			fetch_count = model_artifacts.fetch_count + 1,
			fetched_at = excluded.fetched_at,
			last_used = excluded.last_used`,
		a.ModelID, a.Revision, a.FileName, a.LocalPath, a.ETag, a.SizeBytes, now, now)
	return err
}

// GetArtifact returns the manifest row for a file.
func (s *Store) GetArtifact(ctx context.Context, modelID, revision, fileName string) (*Artifact, bool, error) {
	var a Artifact
	var etag sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT model_id, revision, file_name, local_path, etag, size_bytes, fetch_count, fetched_at, last_used
		 FROM model_artifacts WHERE model_id = ? AND revision = ? AND file_name = ?`,
		modelID, revision, fileName).Scan(
		&a.ModelID, &a.Revision, &a.FileName, &a.LocalPath, &etag, &a.SizeBytes, &a.FetchCount, &a.FetchedAt, &a.LastUsed)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	a.ETag = etag.String
	return &a, true, nil
}

// TouchArtifact sets the last_used time of a file to now.
func (s *Store) TouchArtifact(ctx context.Context, modelID, revision, fileName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE model_artifacts SET last_used = ? WHERE model_id = ? AND revision = ? AND file_name = ?`,
		time.Now(), modelID, revision, fileName)
	return err
}

// ListArtifacts returns all rows, optionally filtered by model (empty = all),
// ordered by model and file name.
func (s *Store) ListArtifacts(ctx context.Context, modelID string) ([]Artifact, error) {
	query := `SELECT model_id, revision, file_name, local_path, etag, size_bytes, fetch_count, fetched_at, last_used FROM model_artifacts`
	var args []interface{}
	if modelID != "" {
		query += ` WHERE model_id = ?`
		args = append(args, modelID)
	}
	query += ` ORDER BY model_id, revision, file_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Artifact
	for rows.Next() {
		var a Artifact
		var etag sql.NullString
		if err := rows.Scan(&a.ModelID, &a.Revision, &a.FileName, &a.LocalPath, &etag, &a.SizeBytes, &a.FetchCount, &a.FetchedAt, &a.LastUsed); err != nil {
			return nil, err
		}
		a.ETag = etag.String
		results = append(results, a)
	}

	return results, rows.Err()
}

// DeleteModel removes every manifest row of a model and returns the count.
func (s *Store) DeleteModel(ctx context.Context, modelID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_artifacts WHERE model_id = ?`, modelID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Clear removes all manifest rows.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_artifacts`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats returns summary statistics for the manifest.
func (s *Store) Stats(ctx context.Context) (*ManifestStats, error) {
	stats := &ManifestStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT model_id),
			COUNT(*),
			COALESCE(SUM(size_bytes), 0)
		FROM model_artifacts`).Scan(
		&stats.Models,
		&stats.Files,
		&stats.TotalBytes,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
