package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"trainingportal/internal/model"
)

// ScheduleRepository stores future-dated notification requests.
type ScheduleRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewScheduleRepository(db *pgxpool.Pool, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:     db,
		logger: logger,
	}
}

const scheduleColumns = `
    id, notification_type, target_id, target_type, trigger_time, status,
    last_run, next_run, retry_count, max_retries, COALESCE(last_error, ''), payload, created_at
`

// Create inserts a pending entry. ID, MaxRetries and CreatedAt are defaulted.
func (r *ScheduleRepository) Create(ctx context.Context, entry *model.ScheduleEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.MaxRetries <= 0 {
		entry.MaxRetries = model.DefaultMaxRetries
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Status = model.SchedulePending
	entry.RetryCount = 0

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule payload: %w", err)
	}

	query := `
        INSERT INTO notification_schedules
            (id, notification_type, target_id, target_type, trigger_time, status,
             retry_count, max_retries, payload, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
    `
	_, err = r.db.Exec(ctx, query,
		entry.ID,
		string(entry.NotificationType),
		entry.TargetID,
		string(entry.TargetType),
		entry.TriggerTime,
		string(entry.Status),
		entry.RetryCount,
		entry.MaxRetries,
		payload,
		entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert schedule entry", zap.Error(err))
		return fmt.Errorf("%w: insert schedule entry: %v", model.ErrPersistence, err)
	}

	r.logger.Info("Schedule entry created",
		zap.String("id", entry.ID),
		zap.String("notification_type", string(entry.NotificationType)),
		zap.Time("trigger_time", entry.TriggerTime),
	)
	return nil
}

// Get returns one entry by id.
func (r *ScheduleRepository) Get(ctx context.Context, id string) (*model.ScheduleEntry, error) {
	query := `SELECT ` + scheduleColumns + ` FROM notification_schedules WHERE id = $1`

	entry, err := scanSchedule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: schedule entry %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get schedule entry: %v", model.ErrPersistence, err)
	}
	return entry, nil
}

// ListDue returns entries eligible at now, oldest trigger first: pending entries
// past their trigger time and failed entries re-armed within their retry budget.
func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduleEntry, error) {
	query := `SELECT ` + scheduleColumns + `
        FROM notification_schedules
        WHERE (status = 'pending' AND trigger_time <= $1 AND (next_run IS NULL OR next_run <= $1))
           OR (status = 'failed' AND retry_count <= max_retries AND next_run IS NOT NULL AND next_run <= $1)
        ORDER BY trigger_time ASC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query due schedule entries: %v", model.ErrPersistence, err)
	}
	defer rows.Close()

	var entries []model.ScheduleEntry
	for rows.Next() {
		entry, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan schedule entry: %v", model.ErrPersistence, err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate schedule entries: %v", model.ErrPersistence, err)
	}
	return entries, nil
}

// MarkProcessing claims a due entry. It returns false when another run owns
// the entry or it is no longer eligible.
func (r *ScheduleRepository) MarkProcessing(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
        UPDATE notification_schedules
        SET status = 'processing', updated_at = $2
        WHERE id = $1
          AND (status = 'pending'
               OR (status = 'failed' AND retry_count <= max_retries AND next_run IS NOT NULL AND next_run <= $2))
    `
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("%w: claim schedule entry %s: %v", model.ErrPersistence, id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted finishes a processing entry.
func (r *ScheduleRepository) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	query := `
        UPDATE notification_schedules
        SET status = 'completed', last_run = $2, next_run = NULL, last_error = NULL, updated_at = $2
        WHERE id = $1 AND status = 'processing'
    `
	return r.finish(ctx, query, id, now)
}

// MarkFailed records a failed run. nextRun re-arms the entry when non-nil.
func (r *ScheduleRepository) MarkFailed(ctx context.Context, id string, now time.Time, message string, retryCount int, nextRun *time.Time) error {
	query := `
        UPDATE notification_schedules
        SET status = 'failed', last_run = $2, last_error = $3, retry_count = $4, next_run = $5, updated_at = $2
        WHERE id = $1 AND status = 'processing'
    `
	return r.finish(ctx, query, id, now, message, retryCount, nextRun)
}

// ReclaimStale returns entries claimed before claimedBefore to pending. Their
// retry_count and next_run are kept.
func (r *ScheduleRepository) ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	query := `
        UPDATE notification_schedules
        SET status = 'pending', last_error = 'processing claim expired', updated_at = $2
        WHERE status = 'processing' AND updated_at < $1
    `
	tag, err := r.db.Exec(ctx, query, claimedBefore, now)
	if err != nil {
		return 0, fmt.Errorf("%w: reclaim stale schedule entries: %v", model.ErrPersistence, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *ScheduleRepository) finish(ctx context.Context, query, id string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		r.logger.Error("Failed to update schedule entry", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("%w: update schedule entry %s: %v", model.ErrPersistence, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule entry %s is not processing", model.ErrPersistence, id)
	}
	return nil
}

func scanSchedule(row pgx.Row) (*model.ScheduleEntry, error) {
	var (
		e                            model.ScheduleEntry
		notificationType, targetType string
		status                       string
		payload                      []byte
	)
	err := row.Scan(
		&e.ID,
		&notificationType,
		&e.TargetID,
		&targetType,
		&e.TriggerTime,
		&status,
		&e.LastRun,
		&e.NextRun,
		&e.RetryCount,
		&e.MaxRetries,
		&e.LastError,
		&payload,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.NotificationType = model.Kind(notificationType)
	e.TargetType = model.TargetType(targetType)
	e.Status = model.ScheduleStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule payload: %w", err)
		}
	}
	return &e, nil
}
