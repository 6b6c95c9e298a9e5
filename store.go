package magnet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS embeddings (
	cache_key TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	dim INTEGER NOT NULL,
	embedding_json TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	completed_at DATETIME NOT NULL,
	status TEXT NOT NULL,
	total_items INTEGER NOT NULL,
	total_clusters INTEGER NOT NULL,
	algorithm TEXT NOT NULL,
	config_json TEXT NOT NULL,
	result_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Run is one persisted analysis.
type Run struct {
	ID            string    `db:"id" json:"id"`
	StartedAt     time.Time `db:"started_at" json:"started_at"`
	CompletedAt   time.Time `db:"completed_at" json:"completed_at"`
	Status        string    `db:"status" json:"status"`
	TotalItems    int       `db:"total_items" json:"total_items"`
	TotalClusters int       `db:"total_clusters" json:"total_clusters"`
	Algorithm     string    `db:"algorithm" json:"algorithm"`
	ConfigJSON    string    `db:"config_json" json:"-"`
	ResultJSON    string    `db:"result_json" json:"-"`
}

// Analysis decodes the stored result.
func (r *Run) Analysis() (Analysis, error) {
	var a Analysis
	if err := json.Unmarshal([]byte(r.ResultJSON), &a); err != nil {
		return Analysis{}, fmt.Errorf("failed to parse run %s result: %w", r.ID, err)
	}
	return a, nil
}

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Store persists the embedding cache and analysis runs in SQLite.
type Store struct {
	db *sqlx.DB
}

// OpenStore opens (and if needed creates) the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetEmbedding implements EmbeddingCache.
func (s *Store) GetEmbedding(ctx context.Context, key string) ([]float64, bool, error) {
	query, args, err := sq.Select("embedding_json").
		From("embeddings").
		Where(sq.Eq{"cache_key": key}).
		ToSql()
	if err != nil {
		return nil, false, err
	}

	var embeddingJSON string
	if err := s.db.GetContext(ctx, &embeddingJSON, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query embedding: %w", err)
	}

	var vector []float64
	if err := json.Unmarshal([]byte(embeddingJSON), &vector); err != nil {
		return nil, false, fmt.Errorf("failed to parse embedding %s: %w", key, err)
	}
	return vector, true, nil
}

// PutEmbedding implements EmbeddingCache.
func (s *Store) PutEmbedding(ctx context.Context, key, model string, vector []float64) error {
	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query, args, err := sq.Insert("embeddings").
		Options("OR REPLACE").
		Columns("cache_key", "model", "dim", "embedding_json").
		Values(key, model, len(vector), string(embeddingJSON)).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// SaveRun stores run, assigning a new id when it has none.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	query, args, err := sq.Insert("runs").
		Columns("id", "started_at", "completed_at", "status", "total_items",
			"total_clusters", "algorithm", "config_json", "result_json").
		Values(run.ID, run.StartedAt.UTC(), run.CompletedAt.UTC(), run.Status, run.TotalItems,
			run.TotalClusters, run.Algorithm, run.ConfigJSON, run.ResultJSON).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

var runColumns = []string{
	"id", "started_at", "completed_at", "status", "total_items",
	"total_clusters", "algorithm", "config_json", "result_json",
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	b := sq.Select(runColumns...).From("runs").OrderBy("started_at DESC", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	runs := []Run{}
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	return runs, nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	query, args, err := sq.Select(runColumns...).
		From("runs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return Run{}, err
	}

	var run Run
	if err := s.db.GetContext(ctx, &run, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return Run{}, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}
