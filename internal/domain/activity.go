package domain

import (
	"context"
	"time"
)

// ActivityKindEmailSent is logged after each successful dispatch.
const ActivityKindEmailSent = "email_sent"

// ActivityEvent links pipeline outcomes to an account's activity feed.
type ActivityEvent struct {
	ID        string                 `json:"id"`
	OwnerID   string                 `json:"owner_id"`
	AccountID string                 `json:"account_id"`
	Kind      string                 `json:"kind"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ActivityRepository defines data access for the activity log.
type ActivityRepository interface {
	Insert(ctx context.Context, event *ActivityEvent) error
}
