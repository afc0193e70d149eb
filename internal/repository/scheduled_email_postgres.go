package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/insurgrowth/insurgrowth/internal/domain"
)

// psql is a Squirrel StatementBuilder configured for PostgreSQL
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ScheduledEmailRepository implements domain.ScheduledEmailRepository
type ScheduledEmailRepository struct {
	db *sql.DB
}

// NewScheduledEmailRepository creates a new ScheduledEmailRepository
func NewScheduledEmailRepository(db *sql.DB) domain.ScheduledEmailRepository {
	return &ScheduledEmailRepository{db: db}
}

const scheduledEmailColumns = `id, owner_id, automation_id, batch_id, account_id, template_id,
	to_email, to_name, from_email, from_name, subject, scheduled_for, status,
	requires_verification, qualification_value, trigger_field, node_id,
	attempts, max_attempts, last_attempt_at, error_message, email_log_id,
	created_at, updated_at`

// InsertBatch inserts rows in one transaction. Rows colliding with the
// uniqueness key (automation_id, account_id, template_id, qualification_value
// over non-cancelled rows) are skipped via ON CONFLICT DO NOTHING; the
// returned count is rows actually inserted.
func (r *ScheduledEmailRepository) InsertBatch(ctx context.Context, rows []*domain.ScheduledEmail) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	insertBuilder := psql.
		Insert("scheduled_emails").
		Columns(
			"id", "owner_id", "automation_id", "batch_id", "account_id", "template_id",
			"to_email", "to_name", "from_email", "from_name", "subject",
			"scheduled_for", "status", "requires_verification",
			"qualification_value", "trigger_field", "node_id",
			"attempts", "max_attempts", "created_at", "updated_at",
		)

	for _, row := range rows {
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		if row.Status == "" {
			row.Status = domain.ScheduledEmailStatusPending
		}
		if row.MaxAttempts == 0 {
			row.MaxAttempts = domain.DefaultMaxAttempts
		}
		row.CreatedAt = now
		row.UpdatedAt = now

		insertBuilder = insertBuilder.Values(
			row.ID, row.OwnerID, row.AutomationID, row.BatchID, row.AccountID, row.TemplateID,
			row.ToEmail, row.ToName, row.FromEmail, row.FromName, row.Subject,
			row.ScheduledFor, row.Status, row.RequiresVerification,
			row.QualificationValue, row.TriggerField, row.NodeID,
			row.Attempts, row.MaxAttempts, row.CreatedAt, row.UpdatedAt,
		)
	}

	insertBuilder = insertBuilder.Suffix("ON CONFLICT DO NOTHING")

	query, args, err := insertBuilder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert scheduled emails: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return int(inserted), nil
}

// GetByID retrieves a scheduled email by ID
func (r *ScheduledEmailRepository) GetByID(ctx context.Context, id string) (*domain.ScheduledEmail, error) {
	query := fmt.Sprintf(`SELECT %s FROM scheduled_emails WHERE id = $1`, scheduledEmailColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	email, err := scanScheduledEmail(row)
	if err == sql.ErrNoRows {
		return nil, &domain.ErrScheduledEmailNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled email: %w", err)
	}
	return email, nil
}

// ListDueForVerification returns pending rows awaiting verification whose
// send time falls within the next 24 hours.
func (r *ScheduledEmailRepository) ListDueForVerification(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledEmail, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM scheduled_emails
		WHERE status = 'pending'
		  AND requires_verification = TRUE
		  AND scheduled_for >= $1
		  AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
		LIMIT $3
	`, scheduledEmailColumns)

	rows, err := r.db.QueryContext(ctx, query, now, now.Add(24*time.Hour), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due for verification: %w", err)
	}
	defer rows.Close()

	return collectScheduledEmails(rows)
}

// ListReadyToSend returns pending, verified rows past their send time.
func (r *ScheduledEmailRepository) ListReadyToSend(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledEmail, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM scheduled_emails
		WHERE status = 'pending'
		  AND requires_verification = FALSE
		  AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`, scheduledEmailColumns)

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready to send: %w", err)
	}
	defer rows.Close()

	return collectScheduledEmails(rows)
}

// Claim atomically transitions pending -> processing. Returns false when the
// row was already claimed by a concurrent worker.
func (r *ScheduledEmailRepository) Claim(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE scheduled_emails
		SET status = 'processing',
		    attempts = attempts + 1,
		    last_attempt_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled email: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkVerified clears requires_verification on a pending row
func (r *ScheduledEmailRepository) MarkVerified(ctx context.Context, id string) error {
	query := `
		UPDATE scheduled_emails
		SET requires_verification = FALSE, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled email verified: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.ErrScheduledEmailNotFound{ID: id}
	}

	return nil
}

// Cancel transitions a row to cancelled with a reason
func (r *ScheduledEmailRepository) Cancel(ctx context.Context, id, reason string) error {
	query := `
		UPDATE scheduled_emails
		SET status = 'cancelled', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`

	result, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled email: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.ErrScheduledEmailNotFound{ID: id}
	}

	return nil
}

// MarkSent transitions a processing row to sent and links the email log
func (r *ScheduledEmailRepository) MarkSent(ctx context.Context, id, emailLogID string) error {
	query := `
		UPDATE scheduled_emails
		SET status = 'sent', email_log_id = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.ExecContext(ctx, query, id, emailLogID)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled email sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.ErrScheduledEmailNotFound{ID: id}
	}

	return nil
}

// MarkFailedOrRetry returns the row to pending while attempts remain,
// otherwise transitions it to failed. The error message is recorded either
// way.
func (r *ScheduledEmailRepository) MarkFailedOrRetry(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE scheduled_emails
		SET status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
		    error_message = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.ExecContext(ctx, query, id, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled email failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.ErrScheduledEmailNotFound{ID: id}
	}

	return nil
}

// MarkFailed transitions a processing row straight to failed
func (r *ScheduledEmailRepository) MarkFailed(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE scheduled_emails
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.ExecContext(ctx, query, id, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled email failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.ErrScheduledEmailNotFound{ID: id}
	}

	return nil
}

// CancelPendingForAutomation bulk-cancels every pending row of an automation
func (r *ScheduledEmailRepository) CancelPendingForAutomation(ctx context.Context, automationID, reason string) (int64, error) {
	query := `
		UPDATE scheduled_emails
		SET status = 'cancelled', error_message = $2, updated_at = NOW()
		WHERE automation_id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, automationID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending for automation: %w", err)
	}

	cancelled, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return cancelled, nil
}

// ListQualificationKeys returns the dedup keys of the automation's
// non-cancelled rows, for planner de-duplication.
func (r *ScheduledEmailRepository) ListQualificationKeys(ctx context.Context, automationID string) (map[string]bool, error) {
	query := `
		SELECT account_id, template_id, qualification_value
		FROM scheduled_emails
		WHERE automation_id = $1 AND status != 'cancelled'
	`

	rows, err := r.db.QueryContext(ctx, query, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query qualification keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var accountID, templateID, qualificationValue string
		if err := rows.Scan(&accountID, &templateID, &qualificationValue); err != nil {
			return nil, fmt.Errorf("failed to scan qualification key: %w", err)
		}
		keys[domain.DedupKey(automationID, accountID, templateID, qualificationValue)] = true
	}

	return keys, rows.Err()
}

// ReapStuckProcessing returns rows stuck in processing longer than the
// threshold back to pending for recovery after a worker crash.
func (r *ScheduledEmailRepository) ReapStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE scheduled_emails
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND last_attempt_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to reap stuck processing rows: %w", err)
	}

	reaped, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return reaped, nil
}

// GetStats returns per-status row counts
func (r *ScheduledEmailRepository) GetStats(ctx context.Context) (*domain.ScheduledEmailStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) as pending,
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0) as processing,
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0) as sent,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) as failed,
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) as cancelled
		FROM scheduled_emails
	`

	var stats domain.ScheduledEmailStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending, &stats.Processing, &stats.Sent, &stats.Failed, &stats.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	return &stats, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanScheduledEmail scans a row into a ScheduledEmail
func scanScheduledEmail(row rowScanner) (*domain.ScheduledEmail, error) {
	var email domain.ScheduledEmail
	var automationID, batchID, emailLogID, errorMessage sql.NullString
	var toName, fromEmail, fromName, subject, triggerField, nodeID sql.NullString
	var lastAttemptAt sql.NullTime

	err := row.Scan(
		&email.ID, &email.OwnerID, &automationID, &batchID, &email.AccountID, &email.TemplateID,
		&email.ToEmail, &toName, &fromEmail, &fromName, &subject,
		&email.ScheduledFor, &email.Status, &email.RequiresVerification,
		&email.QualificationValue, &triggerField, &nodeID,
		&email.Attempts, &email.MaxAttempts, &lastAttemptAt, &errorMessage, &emailLogID,
		&email.CreatedAt, &email.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if automationID.Valid {
		email.AutomationID = &automationID.String
	}
	if batchID.Valid {
		email.BatchID = &batchID.String
	}
	if emailLogID.Valid {
		email.EmailLogID = &emailLogID.String
	}
	if errorMessage.Valid {
		email.ErrorMessage = &errorMessage.String
	}
	if lastAttemptAt.Valid {
		email.LastAttemptAt = &lastAttemptAt.Time
	}
	email.ToName = toName.String
	email.FromEmail = fromEmail.String
	email.FromName = fromName.String
	email.Subject = subject.String
	email.TriggerField = triggerField.String
	email.NodeID = nodeID.String

	return &email, nil
}

func collectScheduledEmails(rows *sql.Rows) ([]*domain.ScheduledEmail, error) {
	var emails []*domain.ScheduledEmail
	for rows.Next() {
		email, err := scanScheduledEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return emails, nil
}
