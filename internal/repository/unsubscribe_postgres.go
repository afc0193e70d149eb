package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/insurgrowth/insurgrowth/internal/domain"
)

// UnsubscribeRepository implements domain.UnsubscribeRepository
type UnsubscribeRepository struct {
	db *sql.DB
}

// NewUnsubscribeRepository creates a new UnsubscribeRepository
func NewUnsubscribeRepository(db *sql.DB) domain.UnsubscribeRepository {
	return &UnsubscribeRepository{db: db}
}

// IsUnsubscribed reports whether the email is on the unsubscribe list
func (r *UnsubscribeRepository) IsUnsubscribed(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM unsubscribes WHERE LOWER(email) = $1)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check unsubscribe list: %w", err)
	}
	return exists, nil
}

// Add records a global unsubscribe; re-adding an existing email is a no-op
func (r *UnsubscribeRepository) Add(ctx context.Context, email string) error {
	query := `
		INSERT INTO unsubscribes (email, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (email) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, strings.ToLower(strings.TrimSpace(email))); err != nil {
		return fmt.Errorf("failed to add unsubscribe: %w", err)
	}
	return nil
}
