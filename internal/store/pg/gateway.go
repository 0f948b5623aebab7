package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

const gatewayRecordID = "gateway_config"
const instanceOwnerID = "instance_owner"

// PGGatewayStore implements store.GatewayStore backed by Postgres.
type PGGatewayStore struct {
	db *sql.DB
}

func NewPGGatewayStore(db *sql.DB) *PGGatewayStore {
	return &PGGatewayStore{db: db}
}

func (s *PGGatewayStore) GetGateway(ctx context.Context) (*store.GatewayRecord, error) {
	var rec store.GatewayRecord
	var startedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT should_run, owner_user_id, provider, token, started_at, updated_at
		 FROM gateway_state WHERE id = $1`, gatewayRecordID,
	).Scan(&rec.ShouldRun, &rec.OwnerUserID, &rec.Provider, &rec.Token, &startedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get gateway record: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	return &rec, nil
}

func (s *PGGatewayStore) SaveGateway(ctx context.Context, rec *store.GatewayRecord) error {
	var startedAt sql.NullTime
	if rec.StartedAt != nil {
		startedAt = sql.NullTime{Time: *rec.StartedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gateway_state (id, should_run, owner_user_id, provider, token, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   should_run = EXCLUDED.should_run,
		   owner_user_id = EXCLUDED.owner_user_id,
		   provider = EXCLUDED.provider,
		   token = EXCLUDED.token,
		   started_at = EXCLUDED.started_at,
		   updated_at = EXCLUDED.updated_at`,
		gatewayRecordID, rec.ShouldRun, rec.OwnerUserID, rec.Provider, rec.Token, startedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save gateway record: %w", err)
	}
	return nil
}

func (s *PGGatewayStore) ClearShouldRun(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE gateway_state SET should_run = FALSE, updated_at = $2 WHERE id = $1`,
		gatewayRecordID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("clear should_run: %w", err)
	}
	return nil
}

func (s *PGGatewayStore) GetInstanceOwner(ctx context.Context) (*store.InstanceOwner, error) {
	var owner store.InstanceOwner
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, name, claimed_at FROM instance_owner WHERE id = $1`,
		instanceOwnerID,
	).Scan(&owner.UserID, &owner.Email, &owner.Name, &owner.ClaimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance owner: %w", err)
	}
	return &owner, nil
}

func (s *PGGatewayStore) ClaimInstanceOwner(ctx context.Context, owner *store.InstanceOwner) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO instance_owner (id, user_id, email, name, claimed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		instanceOwnerID, owner.UserID, owner.Email, owner.Name, owner.ClaimedAt,
	)
	if err != nil {
		return false, fmt.Errorf("claim instance owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim instance owner: %w", err)
	}
	return n > 0, nil
}
