package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/mfvi/internal/domain/model"
	"github.com/okian/mfvi/internal/domain/types"
	"github.com/okian/mfvi/pkg/metrics"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fits (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	final_elbo REAL NOT NULL DEFAULT 0,
	body       BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS fits_rank ON fits (status, final_elbo DESC, id);`

// SQLiteStore persists fits as JSON rows with a ranking index.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serialises writers
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	// WAL is best effort; in-memory databases reject it.
	_, _ = db.ExecContext(ctx, `PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`)

	s := &SQLiteStore{db: db}
	metrics.UpdateRepositoryFits(s.Count(ctx))
	return s, nil
}

// Put inserts or replaces a fit.
func (s *SQLiteStore) Put(ctx context.Context, f model.Fit) error { //nolint:gocritic // hugeParam: fit is serialised immediately
	if f.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidFit)
	}
	if f.Status == model.StatusSucceeded && !finite(f.FinalELBO) {
		return fmt.Errorf("%w: non-finite elbo for %s", ErrInvalidFit, f.ID)
	}
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode fit %s: %w", f.ID, err)
	}

	start := time.Now()
	s.mu.Lock()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO fits (id, status, final_elbo, body) VALUES (?, ?, ?, ?)",
		f.ID, string(f.Status), f.FinalELBO, body)
	s.mu.Unlock()
	if err != nil {
		metrics.RecordErrorByComponent("repository", "write_error")
		return fmt.Errorf("write fit %s: %w", f.ID, err)
	}

	metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Microseconds()) / 1000)
	metrics.UpdateRepositoryFits(s.Count(ctx))
	return nil
}

// Get returns the fit with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Fit, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, "SELECT body FROM fits WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Fit{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Fit{}, fmt.Errorf("read fit %s: %w", id, err)
	}

	var f model.Fit
	if err := json.Unmarshal(body, &f); err != nil {
		return model.Fit{}, fmt.Errorf("decode fit %s: %w", id, err)
	}
	return f, nil
}

// TopN returns the best n succeeded fits.
func (s *SQLiteStore) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	rows, err := s.db.QueryContext(ctx,
		"SELECT body FROM fits WHERE status = ? ORDER BY final_elbo DESC, id ASC LIMIT ?",
		string(model.StatusSucceeded), n)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Entry
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		var f model.Fit
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, fmt.Errorf("decode leaderboard row: %w", err)
		}
		out = append(out, entryFor(len(out)+1, &f))
	}
	return out, rows.Err()
}

// Count returns the number of stored fits, or 0 if the query fails.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fits").Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
