// Package storage persists tracked episodes.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/copyleftdev/cmadac/internal/environment"
	"github.com/copyleftdev/cmadac/internal/tracking"

	_ "modernc.org/sqlite"
)

// Episode is a persisted episode trace.
type Episode struct {
	ID            string                    `json:"id"`
	Instance      string                    `json:"instance"`
	BestObjective float64                   `json:"best_objective"`
	CreatedAt     time.Time                 `json:"created_at"`
	States        []environment.Observation `json:"states"`
	Transitions   []tracking.Transition     `json:"transitions"`
}

// Summary is the listing form of an Episode.
type Summary struct {
	ID            string    `json:"id"`
	Instance      string    `json:"instance"`
	BestObjective float64   `json:"best_objective"`
	Steps         int       `json:"steps"`
	CreatedAt     time.Time `json:"created_at"`
}

// SQLiteStore keeps episode traces in a SQLite database.
type SQLiteStore struct {
	dsn string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a store for dsn. Call Init before use.
func NewSQLiteStore(dsn string) *SQLiteStore {
	return &SQLiteStore{dsn: dsn}
}

// Init opens the database and creates the schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return errors.New("sqlite dsn is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			instance TEXT NOT NULL,
			best_objective REAL NOT NULL,
			steps INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		)
	`)
	return err
}

// SaveEpisode inserts or replaces an episode.
func (s *SQLiteStore) SaveEpisode(ctx context.Context, ep Episode) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("encode episode %s: %w", ep.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO episodes (id, instance, best_objective, steps, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			instance = excluded.instance,
			best_objective = excluded.best_objective,
			steps = excluded.steps,
			created_at = excluded.created_at,
			payload = excluded.payload
	`, ep.ID, ep.Instance, ep.BestObjective, len(ep.Transitions), ep.CreatedAt.UnixNano(), payload)
	return err
}

// GetEpisode loads an episode. The boolean is false when id is unknown.
func (s *SQLiteStore) GetEpisode(ctx context.Context, id string) (Episode, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Episode{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM episodes WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Episode{}, false, nil
		}
		return Episode{}, false, err
	}

	var ep Episode
	if err := json.Unmarshal(payload, &ep); err != nil {
		return Episode{}, false, fmt.Errorf("decode episode %s: %w", id, err)
	}
	return ep, true, nil
}

// ListEpisodes returns summaries, newest first.
func (s *SQLiteStore) ListEpisodes(ctx context.Context, limit int) ([]Summary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, instance, best_objective, steps, created_at
		FROM episodes
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			created int64
		)
		if err := rows.Scan(&sum.ID, &sum.Instance, &sum.BestObjective, &sum.Steps, &created); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sqlite store is not initialized")
	}
	return s.db, nil
}

// EpisodeFromTracker builds an Episode from a tracker's recordings.
func EpisodeFromTracker(id, instance string, best float64, tr *tracking.Tracker) Episode {
	return Episode{
		ID:            id,
		Instance:      instance,
		BestObjective: best,
		CreatedAt:     time.Now().UTC(),
		States:        tr.States(),
		Transitions:   tr.Transitions(),
	}
}
