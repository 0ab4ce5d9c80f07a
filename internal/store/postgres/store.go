// Package postgres is an optional, pluggable persistence adapter for the
// document registry (spec.md §4.2, §9's "adapters for external stores plug
// into the C2/C3 contracts unchanged"). It mirrors the teacher's pgxpool
// connection style (server/main.go) and the append-log-plus-snapshot table
// shape retrieved from the corpus's other CRDT note-taking service
// (MarcoPoloResearchLab-gravity's CrdtUpdate/CrdtSnapshot), adapted from
// GORM model tags to raw pgx SQL and from per-user notes to per-document
// updates.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists CRDT updates and periodic snapshots for documents whose
// registry entry has been evicted and needs to be rehydrated, or that must
// survive a process restart. The in-memory registry (C2) remains the
// source of truth while a document is live; this store is consulted only
// on cold start for a given document id.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and ensures the backing tables exist.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS document_updates (
			update_id       BIGSERIAL PRIMARY KEY,
			document_id     TEXT NOT NULL,
			update_bytes    BYTEA NOT NULL,
			applied_at_unix BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_document_updates_document_id
			ON document_updates (document_id, update_id);

		CREATE TABLE IF NOT EXISTS document_snapshots (
			document_id       TEXT PRIMARY KEY,
			snapshot_bytes    BYTEA NOT NULL,
			snapshot_update_id BIGINT NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// AppendUpdate records one applied update for documentID in the append-only
// log, the same shape as the corpus's per-note CrdtUpdate rows.
func (s *Store) AppendUpdate(ctx context.Context, documentID string, update []byte, appliedAtUnix int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO document_updates (document_id, update_bytes, applied_at_unix) VALUES ($1, $2, $3)`,
		documentID, update, appliedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("postgres: append update: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the compacted snapshot for documentID, the
// equivalent of the corpus's CrdtSnapshot upsert.
func (s *Store) SaveSnapshot(ctx context.Context, documentID string, snapshot []byte, throughUpdateID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_snapshots (document_id, snapshot_bytes, snapshot_update_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id) DO UPDATE
			SET snapshot_bytes = EXCLUDED.snapshot_bytes,
			    snapshot_update_id = EXCLUDED.snapshot_update_id
	`, documentID, snapshot, throughUpdateID)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the most recently saved snapshot for documentID, if
// any. A zero-length result with ok=false means no snapshot has been saved
// yet (a brand new document).
func (s *Store) LoadSnapshot(ctx context.Context, documentID string) (snapshot []byte, ok bool, err error) {
	row := s.pool.QueryRow(ctx, `SELECT snapshot_bytes FROM document_snapshots WHERE document_id = $1`, documentID)
	if err := row.Scan(&snapshot); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgres: load snapshot: %w", err)
	}
	return snapshot, true, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
