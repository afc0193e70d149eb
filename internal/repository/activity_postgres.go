package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/insurgrowth/insurgrowth/internal/domain"
)

// ActivityRepository implements domain.ActivityRepository
type ActivityRepository struct {
	db *sql.DB
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *sql.DB) domain.ActivityRepository {
	return &ActivityRepository{db: db}
}

// Insert appends an event to the account's activity feed
func (r *ActivityRepository) Insert(ctx context.Context, event *domain.ActivityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query, args, err := psql.
		Insert("activity_log").
		Columns("id", "owner_id", "account_id", "kind", "metadata", "created_at").
		Values(event.ID, event.OwnerID, event.AccountID, event.Kind, metadataJSON, event.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert activity event: %w", err)
	}
	return nil
}
