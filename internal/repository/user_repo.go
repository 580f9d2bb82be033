package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trainingportal/internal/model"
)

// UserRepository reads notifiable recipients from the portal users table.
type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// ListRecipients returns every user with notifications enabled.
func (r *UserRepository) ListRecipients(ctx context.Context) ([]model.Recipient, error) {
	query := `
        SELECT id, email, COALESCE(display_name, '')
        FROM users
        WHERE notifications_enabled = TRUE AND email <> ''
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDirectoryUnavailable, err)
	}
	defer rows.Close()

	var recipients []model.Recipient
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.ID, &rc.Email, &rc.DisplayName); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrDirectoryUnavailable, err)
		}
		recipients = append(recipients, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDirectoryUnavailable, err)
	}
	return recipients, nil
}

// GetRecipient returns one user by id.
func (r *UserRepository) GetRecipient(ctx context.Context, id int64) (*model.Recipient, error) {
	query := `
        SELECT id, email, COALESCE(display_name, '')
        FROM users
        WHERE id = $1
    `
	var rc model.Recipient
	if err := r.db.QueryRow(ctx, query, id).Scan(&rc.ID, &rc.Email, &rc.DisplayName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrDirectoryUnavailable, err)
	}
	return &rc, nil
}
