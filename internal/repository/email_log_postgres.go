package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/lib/pq"
)

// EmailLogRepository implements domain.EmailLogRepository
type EmailLogRepository struct {
	db *sql.DB
}

// NewEmailLogRepository creates a new EmailLogRepository
func NewEmailLogRepository(db *sql.DB) domain.EmailLogRepository {
	return &EmailLogRepository{db: db}
}

// Create inserts the log in queued state
func (r *EmailLogRepository) Create(ctx context.Context, log *domain.EmailLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Status == "" {
		log.Status = domain.EmailLogStatusQueued
	}
	now := time.Now().UTC()
	log.CreatedAt = now
	log.UpdatedAt = now

	query, args, err := psql.
		Insert("email_logs").
		Columns("id", "owner_id", "scheduled_email_id", "automation_id", "account_id",
			"template_id", "to_email", "from_email", "from_name", "subject",
			"status", "use_tracking_reply", "created_at", "updated_at").
		Values(log.ID, log.OwnerID, log.ScheduledEmailID, log.AutomationID, log.AccountID,
			log.TemplateID, log.ToEmail, log.FromEmail, log.FromName, log.Subject,
			log.Status, log.UseTrackingReply, log.CreatedAt, log.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert email log: %w", err)
	}
	return nil
}

// MarkSent records a successful dispatch with the provider message id, the
// custom Message-ID header, reply-to, and the final rendered content.
func (r *EmailLogRepository) MarkSent(ctx context.Context, log *domain.EmailLog) error {
	query := `
		UPDATE email_logs
		SET status = 'sent',
		    sendgrid_message_id = $2,
		    message_id = $3,
		    reply_to = $4,
		    subject = $5,
		    body_html = $6,
		    body_text = $7,
		    sent_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		log.ID, log.ProviderMessageID, log.MessageID, log.ReplyTo,
		log.Subject, log.BodyHTML, log.BodyText)
	if err != nil {
		return fmt.Errorf("failed to mark email log sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("email log not found: %s", log.ID)
	}
	return nil
}

// MarkFailed records a failed dispatch
func (r *EmailLogRepository) MarkFailed(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE email_logs
		SET status = 'failed', error_message = $2, failed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, errorMessage); err != nil {
		return fmt.Errorf("failed to mark email log failed: %w", err)
	}
	return nil
}

// HasRecentSend reports whether a successful send of the template to the
// recipient exists within the window. Recipient matching is case-insensitive.
func (r *EmailLogRepository) HasRecentSend(ctx context.Context, templateID, toEmail string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM email_logs
			WHERE template_id = $1
			  AND LOWER(to_email) = $2
			  AND status = ANY($3)
			  AND sent_at >= $4
		)
	`

	var exists bool
	err := r.db.QueryRowContext(ctx, query,
		templateID, strings.ToLower(toEmail), pq.Array(successfulStatuses()), since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent send: %w", err)
	}
	return exists, nil
}

// LastSentByAccount returns, per account, the most recent successful send
// time; accounts never emailed are absent from the map.
func (r *EmailLogRepository) LastSentByAccount(ctx context.Context, accountIDs []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(accountIDs))
	if len(accountIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT account_id, MAX(sent_at)
		FROM email_logs
		WHERE account_id = ANY($1)
		  AND status = ANY($2)
		  AND sent_at IS NOT NULL
		GROUP BY account_id
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(accountIDs), pq.Array(successfulStatuses()))
	if err != nil {
		return nil, fmt.Errorf("failed to query last sent by account: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID string
		var sentAt time.Time
		if err := rows.Scan(&accountID, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan last sent row: %w", err)
		}
		result[accountID] = sentAt
	}

	return result, rows.Err()
}

func successfulStatuses() []string {
	statuses := make([]string, len(domain.SuccessfulLogStatuses))
	for i, s := range domain.SuccessfulLogStatuses {
		statuses[i] = string(s)
	}
	return statuses
}
