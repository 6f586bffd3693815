package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vpetrenko/market-sentry/internal/domain"
)

// AuditRepository keeps a write-only log of dispatched notifications.
// It is an operator convenience, not a source of truth: nothing reads
// it back on startup, and the worker runs fine without a database.
type AuditRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewAuditRepository(db *DB, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger.With("component", "audit_repository")}
}

// EnsureSchema creates the audit table when missing.
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS notification_audit (
			id           BIGSERIAL PRIMARY KEY,
			kind         TEXT        NOT NULL,
			symbol       TEXT        NOT NULL,
			rule_id      TEXT        NOT NULL DEFAULT '',
			value        NUMERIC     NOT NULL,
			window_sec   BIGINT      NOT NULL DEFAULT 0,
			delivered    BOOLEAN     NOT NULL,
			triggered_at TIMESTAMPTZ NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

// Record inserts one audit row.
func (r *AuditRepository) Record(ctx context.Context, n domain.Notification, delivered bool) error {
	query := `
		INSERT INTO notification_audit (kind, symbol, rule_id, value, window_sec, delivered, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		string(n.Kind),
		n.Symbol,
		n.RuleID,
		n.Value.String(),
		int64(n.Window/time.Second),
		delivered,
		n.TriggeredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record notification audit: %w", err)
	}
	return nil
}
