package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

const digestConfigID = "digest_config"

// PGDigestStore implements store.DigestStore backed by Postgres.
type PGDigestStore struct {
	db *sql.DB
}

func NewPGDigestStore(db *sql.DB) *PGDigestStore {
	return &PGDigestStore{db: db}
}

func (s *PGDigestStore) GetDigestConfig(ctx context.Context) (*store.DigestConfig, error) {
	var cfg store.DigestConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, send_time, cron, user_email, updated_at
		 FROM digest_config WHERE id = $1`, digestConfigID,
	).Scan(&cfg.Enabled, &cfg.SendTime, &cfg.Cron, &cfg.UserEmail, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get digest config: %w", err)
	}
	return &cfg, nil
}

func (s *PGDigestStore) SaveDigestConfig(ctx context.Context, cfg *store.DigestConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO digest_config (id, enabled, send_time, cron, user_email, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   enabled = EXCLUDED.enabled,
		   send_time = EXCLUDED.send_time,
		   cron = EXCLUDED.cron,
		   user_email = EXCLUDED.user_email,
		   updated_at = EXCLUDED.updated_at`,
		digestConfigID, cfg.Enabled, cfg.SendTime, cfg.Cron, cfg.UserEmail, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save digest config: %w", err)
	}
	return nil
}

func (s *PGDigestStore) AppendDigestEntry(ctx context.Context, e *store.DigestEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO digest_history (id, date, summary, channel, sent, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Date, e.Summary, e.Channel, e.Sent, e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append digest entry: %w", err)
	}
	return nil
}

func (s *PGDigestStore) ListDigestEntries(ctx context.Context, limit int) ([]store.DigestEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, summary, channel, sent, error, created_at
		 FROM digest_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list digest entries: %w", err)
	}
	defer rows.Close()

	var out []store.DigestEntry
	for rows.Next() {
		var e store.DigestEntry
		if err := rows.Scan(&e.ID, &e.Date, &e.Summary, &e.Channel, &e.Sent, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan digest entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
