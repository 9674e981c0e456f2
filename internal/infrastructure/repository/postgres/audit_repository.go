package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// AuditRepository appends one row per terminal document outcome.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS document_audit (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL,
	batch_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	status TEXT NOT NULL,
	entity_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	duration_ms BIGINT NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_audit_batch ON document_audit(batch_id);
CREATE INDEX IF NOT EXISTS idx_document_audit_finished_at ON document_audit(finished_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AuditRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	const query = `
INSERT INTO document_audit (document_id, batch_id, filename, status, entity_count, error_message, duration_ms, finished_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		entry.DocumentID,
		entry.BatchID,
		entry.Filename,
		string(entry.Status),
		entry.EntityCount,
		entry.ErrorMessage,
		entry.Duration.Milliseconds(),
		entry.FinishedAt.UTC(),
	)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "insert audit entry", err)
	}
	return nil
}
