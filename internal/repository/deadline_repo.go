package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"trainingportal/internal/model"
)

// entityTables maps each target type to its portal table.
var entityTables = map[model.TargetType]string{
	model.TargetWorkstream: "workstreams",
	model.TargetChapter:    "chapters",
	model.TargetAssessment: "assessments",
}

// DeadlineRepository reads deadlines from one entity table.
type DeadlineRepository struct {
	db         *pgxpool.Pool
	table      string
	targetType model.TargetType
	logger     *zap.Logger
}

// NewDeadlineRepositories returns one repository per target type.
func NewDeadlineRepositories(db *pgxpool.Pool, logger *zap.Logger) map[model.TargetType]*DeadlineRepository {
	repos := make(map[model.TargetType]*DeadlineRepository, len(entityTables))
	for targetType, table := range entityTables {
		repos[targetType] = &DeadlineRepository{
			db:         db,
			table:      table,
			targetType: targetType,
			logger:     logger.With(zap.String("table", table)),
		}
	}
	return repos
}

// ListInWindow returns entities whose deadline lies in [window.From, window.To).
func (r *DeadlineRepository) ListInWindow(ctx context.Context, window model.TimeRange) ([]model.DeadlineRecord, error) {
	query := fmt.Sprintf(`
        SELECT id, title, deadline
        FROM %s
        WHERE deadline IS NOT NULL AND deadline >= $1 AND deadline < $2
        ORDER BY deadline ASC, id ASC
    `, r.table)

	rows, err := r.db.Query(ctx, query, window.From, window.To)
	if err != nil {
		r.logger.Error("Failed to query deadlines", zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", model.ErrQuery, r.table, err)
	}
	defer rows.Close()

	var records []model.DeadlineRecord
	for rows.Next() {
		rec := model.DeadlineRecord{Type: r.targetType}
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Deadline); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", model.ErrQuery, r.table, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate %s: %v", model.ErrQuery, r.table, err)
	}
	return records, nil
}

// Get returns one entity by id. A missing deadline yields a zero Deadline.
func (r *DeadlineRepository) Get(ctx context.Context, id int64) (*model.DeadlineRecord, error) {
	query := fmt.Sprintf(`SELECT id, title, deadline FROM %s WHERE id = $1`, r.table)

	var deadline *time.Time
	rec := model.DeadlineRecord{Type: r.targetType}
	if err := r.db.QueryRow(ctx, query, id).Scan(&rec.ID, &rec.Title, &deadline); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %d", model.ErrNotFound, r.targetType, id)
		}
		return nil, fmt.Errorf("%w: get %s: %v", model.ErrQuery, r.table, err)
	}
	if deadline != nil {
		rec.Deadline = *deadline
	}
	return &rec, nil
}
