package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/integration-service/internal/domain"
)

// AuditRepository stores one row per facade call.
type AuditRepository interface {
	Insert(ctx context.Context, rec domain.AuditRecord) error
	ListByExternalID(ctx context.Context, platform domain.Platform, externalID string) ([]domain.AuditRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.AuditRecord, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository builds repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Insert(ctx context.Context, rec domain.AuditRecord) error {
	const query = `
        INSERT INTO integration_audit (id, platform, operation, external_id, idempotency_key, success, latency_ms, error_kind, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id) DO NOTHING`
	var errorKind *string
	if rec.ErrorKind != nil {
		kind := string(*rec.ErrorKind)
		errorKind = &kind
	}
	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		string(rec.Platform),
		string(rec.Operation),
		rec.ExternalID,
		rec.IdempotencyKey,
		rec.Success,
		rec.LatencyMS,
		errorKind,
		rec.Timestamp,
	)
	return err
}

func (r *auditRepository) ListByExternalID(ctx context.Context, platform domain.Platform, externalID string) ([]domain.AuditRecord, error) {
	const query = `
        SELECT id, platform, operation, external_id, idempotency_key, success, latency_ms, error_kind, occurred_at
        FROM integration_audit WHERE platform=$1 AND external_id=$2 ORDER BY occurred_at ASC`
	rows, err := r.pool.Query(ctx, query, string(platform), externalID)
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

func (r *auditRepository) ListRecent(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `
        SELECT id, platform, operation, external_id, idempotency_key, success, latency_ms, error_kind, occurred_at
        FROM integration_audit ORDER BY occurred_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

func scanAuditRows(rows pgx.Rows) ([]domain.AuditRecord, error) {
	defer rows.Close()

	var result []domain.AuditRecord
	for rows.Next() {
		var (
			rec       domain.AuditRecord
			platform  string
			operation string
			errorKind *string
		)
		if err := rows.Scan(
			&rec.ID,
			&platform,
			&operation,
			&rec.ExternalID,
			&rec.IdempotencyKey,
			&rec.Success,
			&rec.LatencyMS,
			&errorKind,
			&rec.Timestamp,
		); err != nil {
			return nil, err
		}
		rec.Platform = domain.Platform(platform)
		rec.Operation = domain.Operation(operation)
		if errorKind != nil {
			kind := domain.ErrorKind(*errorKind)
			rec.ErrorKind = &kind
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
