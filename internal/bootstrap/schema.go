package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS content_restrictions (
		content_id BIGINT PRIMARY KEY,
		level_ids BIGINT[] NOT NULL DEFAULT '{}',
		group_ids BIGINT[] NOT NULL DEFAULT '{}',
		is_restricted BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS visitors (
		id BIGINT PRIMARY KEY,
		membership_level_id BIGINT,
		group_ids BIGINT[] NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT '',
		synced BOOLEAN NOT NULL DEFAULT FALSE,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		roles TEXT[] NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS visitors_membership_level_idx
		ON visitors (membership_level_id) WHERE membership_level_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS content_restrictions_restricted_idx
		ON content_restrictions (content_id) WHERE is_restricted`,
}

// EnsureSchema creates the gateway tables for dev/e2e runs. Production
// deployments run managed migrations instead; the statements are
// idempotent so both paths converge on the same shape.
func EnsureSchema(lc fx.Lifecycle, pool *pgxpool.Pool, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureSchema(ctx, pool, logger)
		},
	})
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	logger.Info("schema ensured")
	return nil
}
