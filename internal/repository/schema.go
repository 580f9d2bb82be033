package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the tables owned by the notification engine. Users and the
// workstream/chapter/assessment tables belong to the portal and are read only.
const schema = `
CREATE TABLE IF NOT EXISTS notification_logs (
    id              TEXT PRIMARY KEY,
    kind            TEXT NOT NULL,
    target_id       BIGINT NOT NULL,
    target_type     TEXT NOT NULL,
    recipient_email TEXT NOT NULL,
    subject         TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    error_message   TEXT,
    sent_at         TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (kind, target_id, target_type, recipient_email, created_at)
);

CREATE INDEX IF NOT EXISTS idx_notification_logs_created_at
    ON notification_logs (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_notification_logs_target
    ON notification_logs (kind, target_type, target_id, created_at);

CREATE TABLE IF NOT EXISTS notification_schedules (
    id                TEXT PRIMARY KEY,
    notification_type TEXT NOT NULL,
    target_id         BIGINT NOT NULL,
    target_type       TEXT NOT NULL,
    trigger_time      TIMESTAMPTZ NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    last_run          TIMESTAMPTZ,
    next_run          TIMESTAMPTZ,
    retry_count       INT NOT NULL DEFAULT 0,
    max_retries       INT NOT NULL DEFAULT 3,
    last_error        TEXT,
    payload           JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (retry_count <= max_retries)
);

CREATE INDEX IF NOT EXISTS idx_notification_schedules_due
    ON notification_schedules (status, trigger_time);
`

// Migrate creates the engine tables if they do not exist.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
