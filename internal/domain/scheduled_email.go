package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ScheduledEmailStatus is the queue row status.
type ScheduledEmailStatus string

const (
	ScheduledEmailStatusPending    ScheduledEmailStatus = "pending"
	ScheduledEmailStatusProcessing ScheduledEmailStatus = "processing"
	ScheduledEmailStatusSent       ScheduledEmailStatus = "sent"
	ScheduledEmailStatusFailed     ScheduledEmailStatus = "failed"
	ScheduledEmailStatusCancelled  ScheduledEmailStatus = "cancelled"
)

// IsValid checks if the status is a known value.
func (s ScheduledEmailStatus) IsValid() bool {
	switch s {
	case ScheduledEmailStatusPending, ScheduledEmailStatusProcessing,
		ScheduledEmailStatusSent, ScheduledEmailStatusFailed, ScheduledEmailStatusCancelled:
		return true
	default:
		return false
	}
}

// QualificationImmediate is the qualification value for automations without
// date triggers.
const QualificationImmediate = "immediate"

// TriggerFieldActivation marks rows scheduled by the immediate variant.
const TriggerFieldActivation = "activation"

// DefaultMaxAttempts bounds delivery retries per row.
const DefaultMaxAttempts = 3

// Cancellation reasons written by the verifier, sender and reactor.
const (
	ReasonAutomationDeactivated = "Automation deactivated"
	ReasonAutomationInactive    = "Automation no longer active"
	ReasonAccountMissing        = "Account no longer exists"
	ReasonAccountOptedOut       = "Account has opted out of email"
	ReasonRecipientInvalid      = "Recipient email is invalid"
	ReasonOnUnsubscribeList     = "Email is on unsubscribe list"
	ReasonUnsubscribedPreSend   = "Recipient unsubscribed before send"
	ReasonDuplicateWithin7Days  = "Duplicate email to this recipient within the last 7 days"
)

// ReasonEmailValidation formats the cancellation reason for a non-valid
// email validation status.
func ReasonEmailValidation(status EmailValidationStatus) string {
	return fmt.Sprintf("Email validation status is %s", status)
}

// ReasonTriggerGone formats the cancellation reason when the anchoring policy
// has disappeared or gone inactive.
func ReasonTriggerGone(triggerField, qualificationValue string) string {
	return fmt.Sprintf("Policy with %s = %s no longer exists or is inactive", triggerField, qualificationValue)
}

// ScheduledEmail is one planned send: the durable queue row.
type ScheduledEmail struct {
	ID                   string               `json:"id"`
	OwnerID              string               `json:"owner_id"`
	AutomationID         *string              `json:"automation_id,omitempty"` // nil for mass-email batches
	BatchID              *string              `json:"batch_id,omitempty"`
	AccountID            string               `json:"account_id"`
	TemplateID           string               `json:"template_id"`
	ToEmail              string               `json:"to_email"`
	ToName               string               `json:"to_name,omitempty"`
	FromEmail            string               `json:"from_email,omitempty"`
	FromName             string               `json:"from_name,omitempty"`
	Subject              string               `json:"subject,omitempty"` // snapshot at planning time
	ScheduledFor         time.Time            `json:"scheduled_for"`     // UTC instant
	Status               ScheduledEmailStatus `json:"status"`
	RequiresVerification bool                 `json:"requires_verification"`
	QualificationValue   string               `json:"qualification_value"` // ISO date or "immediate"
	TriggerField         string               `json:"trigger_field"`       // e.g. policy_expiration, activation
	NodeID               string               `json:"node_id,omitempty"`
	Attempts             int                  `json:"attempts"`
	MaxAttempts          int                  `json:"max_attempts"`
	LastAttemptAt        *time.Time           `json:"last_attempt_at,omitempty"`
	ErrorMessage         *string              `json:"error_message,omitempty"`
	EmailLogID           *string              `json:"email_log_id,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// DedupKey is the uniqueness key preventing duplicate plans:
// (automation_id, account_id, template_id, qualification_value).
func (e *ScheduledEmail) DedupKey() string {
	automationID := ""
	if e.AutomationID != nil {
		automationID = *e.AutomationID
	}
	return DedupKey(automationID, e.AccountID, e.TemplateID, e.QualificationValue)
}

// DedupKey builds the uniqueness key for the given components.
func DedupKey(automationID, accountID, templateID, qualificationValue string) string {
	return strings.Join([]string{automationID, accountID, templateID, qualificationValue}, "|")
}

// Validate validates the scheduled email.
func (e *ScheduledEmail) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if e.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if e.TemplateID == "" {
		return fmt.Errorf("template_id is required")
	}
	if e.ToEmail == "" {
		return fmt.Errorf("to_email is required")
	}
	if e.ScheduledFor.IsZero() {
		return fmt.Errorf("scheduled_for is required")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", e.Status)
	}
	if e.QualificationValue == "" {
		return fmt.Errorf("qualification_value is required")
	}
	return nil
}

// ScheduledEmailStats provides per-status counts for the queue.
type ScheduledEmailStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

// ScheduledEmailRepository is the durable queue contract.
type ScheduledEmailRepository interface {
	// InsertBatch inserts rows atomically per batch. Rows colliding with the
	// uniqueness key are skipped; the returned count is rows actually
	// inserted.
	InsertBatch(ctx context.Context, rows []*ScheduledEmail) (int, error)

	GetByID(ctx context.Context, id string) (*ScheduledEmail, error)

	// ListDueForVerification returns Pending rows with
	// requires_verification=true whose scheduled_for falls within
	// [now, now+24h], ordered by scheduled_for, capped at limit.
	ListDueForVerification(ctx context.Context, now time.Time, limit int) ([]*ScheduledEmail, error)

	// ListReadyToSend returns Pending rows past due that no longer require
	// verification, ordered by scheduled_for, capped at limit.
	ListReadyToSend(ctx context.Context, now time.Time, limit int) ([]*ScheduledEmail, error)

	// Claim atomically transitions Pending -> Processing, increments
	// attempts and stamps last_attempt_at. Returns true only if the row was
	// still Pending; concurrent claimers lose.
	Claim(ctx context.Context, id string) (bool, error)

	// MarkVerified clears requires_verification on a Pending row.
	MarkVerified(ctx context.Context, id string) error

	// Cancel transitions the row to Cancelled with the given reason.
	Cancel(ctx context.Context, id, reason string) error

	// MarkSent transitions the row to Sent and links the email log.
	MarkSent(ctx context.Context, id, emailLogID string) error

	// MarkFailedOrRetry returns the row to Pending when attempts remain,
	// otherwise transitions it to Failed. The error message is recorded
	// either way.
	MarkFailedOrRetry(ctx context.Context, id, errorMessage string) error

	// MarkFailed transitions the row straight to Failed, bypassing the retry
	// budget. Used for non-retryable provider rejections.
	MarkFailed(ctx context.Context, id, errorMessage string) error

	// CancelPendingForAutomation bulk-cancels every Pending row of an
	// automation, returning the number cancelled.
	CancelPendingForAutomation(ctx context.Context, automationID, reason string) (int64, error)

	// ListQualificationKeys returns the dedup keys of the automation's
	// non-cancelled rows, for planner de-duplication.
	ListQualificationKeys(ctx context.Context, automationID string) (map[string]bool, error)

	// ReapStuckProcessing returns rows stuck in Processing longer than the
	// threshold back to Pending; attempts already counted bound retries.
	ReapStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error)

	// GetStats returns per-status row counts.
	GetStats(ctx context.Context) (*ScheduledEmailStats, error)
}

// ErrScheduledEmailNotFound is returned when a queue row does not exist.
type ErrScheduledEmailNotFound struct {
	ID string
}

func (e *ErrScheduledEmailNotFound) Error() string {
	return fmt.Sprintf("scheduled email not found: %s", e.ID)
}
