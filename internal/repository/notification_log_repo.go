package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"trainingportal/internal/model"
)

type NotificationLogRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewNotificationLogRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationLogRepository {
	return &NotificationLogRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a pending row. ID and CreatedAt are filled in when empty.
func (r *NotificationLogRepository) Create(ctx context.Context, entry *model.NotificationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Status = model.LogPending

	query := `
        INSERT INTO notification_logs (id, kind, target_id, target_type, recipient_email, subject, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.db.Exec(ctx, query,
		entry.ID,
		string(entry.Kind),
		entry.TargetID,
		string(entry.TargetType),
		entry.RecipientEmail,
		entry.Subject,
		string(entry.Status),
		entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert notification log",
			zap.String("kind", string(entry.Kind)),
			zap.Int64("target_id", entry.TargetID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: insert notification log: %v", model.ErrPersistence, err)
	}
	return nil
}

// MarkSent moves a pending row to sent.
func (r *NotificationLogRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `
        UPDATE notification_logs
        SET status = 'sent', sent_at = $2
        WHERE id = $1 AND status = 'pending'
    `
	return r.transition(ctx, query, id, sentAt)
}

// MarkFailed moves a pending row to failed with the error message.
func (r *NotificationLogRepository) MarkFailed(ctx context.Context, id string, message string) error {
	query := `
        UPDATE notification_logs
        SET status = 'failed', error_message = $2
        WHERE id = $1 AND status = 'pending'
    `
	return r.transition(ctx, query, id, message)
}

func (r *NotificationLogRepository) transition(ctx context.Context, query, id string, arg any) error {
	tag, err := r.db.Exec(ctx, query, id, arg)
	if err != nil {
		r.logger.Error("Failed to update notification log", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("%w: update notification log %s: %v", model.ErrPersistence, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: notification log %s is not pending", model.ErrPersistence, id)
	}
	return nil
}

// HasRecent reports whether a sent or pending row of kind for target was
// created at or after since. Failed rows do not count.
func (r *NotificationLogRepository) HasRecent(ctx context.Context, kind model.Kind, target model.Target, since time.Time) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM notification_logs
            WHERE kind = $1 AND target_type = $2 AND target_id = $3 AND created_at >= $4
              AND status IN ('sent', 'pending')
        )
    `
	var exists bool
	if err := r.db.QueryRow(ctx, query, string(kind), string(target.Type), target.ID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: query recent notification log: %v", model.ErrPersistence, err)
	}
	return exists, nil
}

// ListRecent returns up to limit rows, newest first.
func (r *NotificationLogRepository) ListRecent(ctx context.Context, limit int) ([]model.NotificationLog, error) {
	query := `
        SELECT id, kind, target_id, target_type, recipient_email, subject, status,
               COALESCE(error_message, ''), sent_at, created_at
        FROM notification_logs
        ORDER BY created_at DESC, id
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list notification logs: %v", model.ErrPersistence, err)
	}
	defer rows.Close()

	entries := make([]model.NotificationLog, 0, limit)
	for rows.Next() {
		var (
			e                        model.NotificationLog
			kind, targetType, status string
		)
		if err := rows.Scan(
			&e.ID,
			&kind,
			&e.TargetID,
			&targetType,
			&e.RecipientEmail,
			&e.Subject,
			&status,
			&e.ErrorMessage,
			&e.SentAt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan notification log: %v", model.ErrPersistence, err)
		}
		e.Kind = model.Kind(kind)
		e.TargetType = model.TargetType(targetType)
		e.Status = model.LogStatus(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate notification logs: %v", model.ErrPersistence, err)
	}
	return entries, nil
}

// Stats aggregates rows created at or after since by status and kind.
func (r *NotificationLogRepository) Stats(ctx context.Context, since time.Time) (*model.LogStats, error) {
	query := `
        SELECT status, kind, COUNT(*)
        FROM notification_logs
        WHERE created_at >= $1
        GROUP BY status, kind
    `
	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("%w: notification log stats: %v", model.ErrPersistence, err)
	}
	defer rows.Close()

	stats := &model.LogStats{
		Since:    since,
		ByStatus: make(map[model.LogStatus]int),
		ByKind:   make(map[model.Kind]int),
	}
	for rows.Next() {
		var (
			status, kind string
			count        int
		)
		if err := rows.Scan(&status, &kind, &count); err != nil {
			return nil, fmt.Errorf("%w: scan notification log stats: %v", model.ErrPersistence, err)
		}
		stats.Total += count
		stats.ByStatus[model.LogStatus(status)] += count
		stats.ByKind[model.Kind(kind)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate notification log stats: %v", model.ErrPersistence, err)
	}
	return stats, nil
}

// GetByID returns one row.
func (r *NotificationLogRepository) GetByID(ctx context.Context, id string) (*model.NotificationLog, error) {
	query := `
        SELECT id, kind, target_id, target_type, recipient_email, subject, status,
               COALESCE(error_message, ''), sent_at, created_at
        FROM notification_logs
        WHERE id = $1
    `
	var (
		e                        model.NotificationLog
		kind, targetType, status string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&kind,
		&e.TargetID,
		&targetType,
		&e.RecipientEmail,
		&e.Subject,
		&status,
		&e.ErrorMessage,
		&e.SentAt,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: notification log %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get notification log: %v", model.ErrPersistence, err)
	}
	e.Kind = model.Kind(kind)
	e.TargetType = model.TargetType(targetType)
	e.Status = model.LogStatus(status)
	return &e, nil
}
