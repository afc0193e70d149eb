package domain

import (
	"context"
	"time"
)

// EmailLogStatus tracks a dispatched message through the provider lifecycle.
type EmailLogStatus string

const (
	EmailLogStatusQueued    EmailLogStatus = "queued"
	EmailLogStatusSent      EmailLogStatus = "sent"
	EmailLogStatusDelivered EmailLogStatus = "delivered"
	EmailLogStatusOpened    EmailLogStatus = "opened"
	EmailLogStatusClicked   EmailLogStatus = "clicked"
	EmailLogStatusFailed    EmailLogStatus = "failed"
	EmailLogStatusBounced   EmailLogStatus = "bounced"
)

// SuccessfulLogStatuses are the statuses counted as a completed send for
// template-level de-duplication and last-email-sent lookups.
var SuccessfulLogStatuses = []EmailLogStatus{
	EmailLogStatusSent, EmailLogStatusDelivered, EmailLogStatusOpened, EmailLogStatusClicked,
}

// TemplateDedupWindow is the window within which the same template must not
// be sent twice to the same recipient.
const TemplateDedupWindow = 7 * 24 * time.Hour

// EmailLog is the audit record for one dispatch attempt that reached the
// provider.
type EmailLog struct {
	ID                string         `json:"id"`
	OwnerID           string         `json:"owner_id"`
	ScheduledEmailID  *string        `json:"scheduled_email_id,omitempty"`
	AutomationID      *string        `json:"automation_id,omitempty"`
	AccountID         string         `json:"account_id"`
	TemplateID        string         `json:"template_id"`
	ToEmail           string         `json:"to_email"`
	FromEmail         string         `json:"from_email"`
	FromName          string         `json:"from_name,omitempty"`
	Subject           string         `json:"subject"`
	BodyHTML          string         `json:"body_html,omitempty"`
	BodyText          string         `json:"body_text,omitempty"`
	Status            EmailLogStatus `json:"status"`
	ProviderMessageID string         `json:"sendgrid_message_id,omitempty"`
	MessageID         string         `json:"message_id,omitempty"` // custom Message-ID header
	ReplyTo           string         `json:"reply_to,omitempty"`
	UseTrackingReply  bool           `json:"use_tracking_reply"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	FailedAt          *time.Time     `json:"failed_at,omitempty"`
	Opens             int            `json:"opens"`
	Clicks            int            `json:"clicks"`
	Replies           int            `json:"replies"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// EmailLogRepository defines data access for email logs.
type EmailLogRepository interface {
	// Create inserts the log in Queued state and returns nothing; the log's
	// ID must be set by the caller.
	Create(ctx context.Context, log *EmailLog) error

	// MarkSent records a successful dispatch: provider id, custom
	// Message-ID, reply-to, and the final rendered subject and bodies.
	MarkSent(ctx context.Context, log *EmailLog) error

	// MarkFailed records a failed dispatch.
	MarkFailed(ctx context.Context, id, errorMessage string) error

	// HasRecentSend reports whether a successful send of the template to the
	// recipient (case-insensitive) exists within the window.
	HasRecentSend(ctx context.Context, templateID, toEmail string, since time.Time) (bool, error)

	// LastSentByAccount returns, per account, the most recent successful
	// send time; accounts never emailed are absent from the map.
	LastSentByAccount(ctx context.Context, accountIDs []string) (map[string]time.Time, error)
}
