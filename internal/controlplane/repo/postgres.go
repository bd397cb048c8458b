package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// Postgres implementa o EventStore e o IdempotencyStore do control plane.
type Postgres struct{ DB *sql.DB }

// NewPostgres retorna uma instância do repositório do control plane
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{DB: db} }

// Append grava um evento no log append-only (sem update, sem delete)
func (p *Postgres) Append(ctx context.Context, ev *events.ControlPlaneEvent) error {
	props, err := json.Marshal(ev.Properties)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO control_plane_events
		  (id, event_name, ts, request_id, trace_id, run_id, session_id,
		   user_id, agent_id, model_version, confidence, assumptions, properties)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`
	_, err = p.DB.ExecContext(ctx, q,
		uuid.NewString(), ev.EventName, ev.Timestamp,
		ev.RequestID, ev.TraceID,
		nullIfEmpty(ev.RunID), nullIfEmpty(ev.SessionID), nullIfEmpty(ev.UserID),
		ev.AgentID, ev.ModelVersion, ev.Confidence,
		pq.Array(ev.Assumptions), props,
	)
	return err
}

// Get retorna o registro de idempotência da tripla (nil se não existir)
func (p *Postgres) Get(ctx context.Context, endpoint, userID, key string) (*records.IdempotencyRecord, error) {
	const q = `
		SELECT endpoint, user_id, key, response, response_hash, created_at
		FROM idempotency_records
		WHERE endpoint=$1 AND user_id=$2 AND key=$3
	`
	var rec records.IdempotencyRecord
	err := p.DB.QueryRowContext(ctx, q, endpoint, userID, key).Scan(
		&rec.Endpoint, &rec.UserID, &rec.Key,
		&rec.Response, &rec.ResponseHash, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert grava com ON CONFLICT DO NOTHING; false quando a tripla já existia
func (p *Postgres) Insert(ctx context.Context, rec *records.IdempotencyRecord) (bool, error) {
	const q = `
		INSERT INTO idempotency_records (endpoint, user_id, key, response, response_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (endpoint, user_id, key) DO NOTHING
	`
	res, err := p.DB.ExecContext(ctx, q,
		rec.Endpoint, rec.UserID, rec.Key,
		rec.Response, rec.ResponseHash, rec.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
