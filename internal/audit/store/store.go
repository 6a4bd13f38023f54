// Package store persists review events and periodic aggregate snapshots to
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/pkg/postgres"
)

// Schema creates the audit tables.
const Schema = `
CREATE TABLE IF NOT EXISTS review_audit (
    id           UUID PRIMARY KEY,
    action       TEXT NOT NULL,
    collection   TEXT NOT NULL,
    record_id    TEXT NOT NULL,
    actor_key_id TEXT,
    actor_name   TEXT,
    roles        TEXT[] NOT NULL DEFAULT '{}',
    remarks      TEXT,
    condition    TEXT,
    asset_type   TEXT,
    outcome      TEXT NOT NULL,
    request_id   TEXT,
    occurred_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS review_audit_record_idx ON review_audit (record_id, occurred_at DESC);
CREATE TABLE IF NOT EXISTS audit_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// StatsSource is implemented by audit.Aggregator.
type StatsSource interface {
	Stats() audit.Stats
}

// Store persists audit data in PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "audit-store"),
	}
}

// EnsureSchema creates the audit tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.EnsureSchema(ctx, "audit", Schema)
}

// RecordReview inserts one review event. Redelivered events are ignored.
func (s *Store) RecordReview(ctx context.Context, e audit.ReviewEvent) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO review_audit
		   (id, action, collection, record_id, actor_key_id, actor_name, roles,
		    remarks, condition, asset_type, outcome, request_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Action, e.Collection, e.RecordID, nullString(e.ActorKeyID), nullString(e.ActorName),
		pq.Array(e.Roles), nullString(e.Remarks), nullString(e.Condition), nullString(e.AssetType),
		e.Outcome, nullString(e.RequestID), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording review %s: %w", e.ID, err)
	}
	return nil
}

// Reviews returns the newest review events, optionally for one record.
func (s *Store) Reviews(ctx context.Context, recordID string, limit int) ([]audit.ReviewEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, action, collection, record_id, actor_key_id, actor_name, roles,
		        remarks, condition, asset_type, outcome, request_id, occurred_at
		 FROM review_audit
		 WHERE $1 = '' OR record_id = $1
		 ORDER BY occurred_at DESC LIMIT $2`,
		recordID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var out []audit.ReviewEvent
	for rows.Next() {
		var (
			e                                  audit.ReviewEvent
			keyID, name, remarks, cond, assetT sql.NullString
			requestID                          sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Collection, &e.RecordID, &keyID, &name,
			pq.Array(&e.Roles), &remarks, &cond, &assetT, &e.Outcome, &requestID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning review row: %w", err)
		}
		e.Type = audit.EventReview
		e.ActorKeyID, e.ActorName, e.Remarks = keyID.String, name.String, remarks.String
		e.Condition, e.AssetType, e.RequestID = cond.String, assetT.String, requestID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveSnapshot persists a stats snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, stats audit.Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	captured := stats.CapturedAt
	if captured.IsZero() {
		captured = time.Now().UTC()
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO audit_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, captured,
	)
	if err != nil {
		return fmt.Errorf("saving audit snapshot: %w", err)
	}

	s.logger.Info("audit snapshot saved",
		"total_reviews", stats.TotalReviews,
		"total_filters", stats.TotalFilters,
	)
	return nil
}

// LatestSnapshot loads the most recent snapshot. It returns nil, nil when
// none exist yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*audit.Stats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM audit_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	var stats audit.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// ListSnapshots returns the last limit snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]audit.Stats, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data FROM audit_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []audit.Stats
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var stats audit.Stats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, stats)
	}
	return snapshots, rows.Err()
}

// StartPeriodicSave snapshots src every interval until ctx is cancelled,
// then saves one final snapshot.
func (s *Store) StartPeriodicSave(ctx context.Context, src StatsSource, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, src.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.SaveSnapshot(shutdownCtx, src.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
