package service

import (
	"context"
	"strings"
	"time"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
)

// maxVerificationsPerRun caps one verification pass.
const maxVerificationsPerRun = 500

// VerifyResult reports one verification pass.
type VerifyResult struct {
	Verified  int
	Cancelled int
	Errors    []string
}

// Verifier re-qualifies pending rows within 24 hours of their send time.
// Every check fails closed: any negative condition cancels the row with a
// specific reason.
type Verifier struct {
	automationRepo  domain.AutomationRepository
	accountRepo     domain.AccountRepository
	policyRepo      domain.PolicyRepository
	emailLogRepo    domain.EmailLogRepository
	scheduledRepo   domain.ScheduledEmailRepository
	unsubscribeRepo domain.UnsubscribeRepository
	logger          logger.Logger
}

// NewVerifier creates a Verifier
func NewVerifier(
	automationRepo domain.AutomationRepository,
	accountRepo domain.AccountRepository,
	policyRepo domain.PolicyRepository,
	emailLogRepo domain.EmailLogRepository,
	scheduledRepo domain.ScheduledEmailRepository,
	unsubscribeRepo domain.UnsubscribeRepository,
	log logger.Logger,
) *Verifier {
	return &Verifier{
		automationRepo:  automationRepo,
		accountRepo:     accountRepo,
		policyRepo:      policyRepo,
		emailLogRepo:    emailLogRepo,
		scheduledRepo:   scheduledRepo,
		unsubscribeRepo: unsubscribeRepo,
		logger:          log,
	}
}

// Run verifies every row due within the next 24 hours. Store errors are
// collected per row and never abort the batch.
func (v *Verifier) Run(ctx context.Context, now time.Time) *VerifyResult {
	result := &VerifyResult{}

	rows, err := v.scheduledRepo.ListDueForVerification(ctx, now, maxVerificationsPerRun)
	if err != nil {
		v.logger.WithField("error", err.Error()).Error("failed to list rows due for verification")
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	for _, row := range rows {
		passed, reason, err := v.check(ctx, row, now)
		if err != nil {
			v.logger.WithField("scheduled_email_id", row.ID).
				WithField("error", err.Error()).
				Error("verification check failed")
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		if passed {
			if err := v.scheduledRepo.MarkVerified(ctx, row.ID); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Verified++
			continue
		}

		if err := v.scheduledRepo.Cancel(ctx, row.ID, reason); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		v.logger.WithField("scheduled_email_id", row.ID).
			WithField("reason", reason).
			Info("scheduled email cancelled at verification")
		result.Cancelled++
	}

	return result
}

// VerifyOne runs the checks for a single row; used by the change hooks.
func (v *Verifier) VerifyOne(ctx context.Context, row *domain.ScheduledEmail, now time.Time) (bool, string, error) {
	return v.check(ctx, row, now)
}

// check evaluates the ordered verification conditions. It returns pass=false
// with the cancellation reason on the first negative condition.
func (v *Verifier) check(ctx context.Context, row *domain.ScheduledEmail, now time.Time) (bool, string, error) {
	// 1. automation still exists and is active
	if row.AutomationID != nil {
		automation, err := v.automationRepo.GetByID(ctx, *row.AutomationID)
		if err != nil {
			if _, ok := err.(*domain.ErrAutomationNotFound); ok {
				return false, domain.ReasonAutomationInactive, nil
			}
			return false, "", err
		}
		if !automation.IsActive() {
			return false, domain.ReasonAutomationInactive, nil
		}
	}

	// 2. account exists and is not opted out
	account, err := v.accountRepo.GetByID(ctx, row.AccountID)
	if err != nil {
		if _, ok := err.(*domain.ErrAccountNotFound); ok {
			return false, domain.ReasonAccountMissing, nil
		}
		return false, "", err
	}
	if account.OptedOut {
		return false, domain.ReasonAccountOptedOut, nil
	}

	// 3. email validation status still valid
	if account.EmailValidationStatus != domain.EmailValidationValid {
		return false, domain.ReasonEmailValidation(account.EmailValidationStatus), nil
	}

	// 4. recipient email well-formed
	recipient := strings.TrimSpace(row.ToEmail)
	if recipient == "" {
		recipient = strings.TrimSpace(account.Email)
	}
	if recipient == "" || !strings.Contains(recipient, "@") {
		return false, domain.ReasonRecipientInvalid, nil
	}

	// 5. not on the global unsubscribe list
	unsubscribed, err := v.unsubscribeRepo.IsUnsubscribed(ctx, recipient)
	if err != nil {
		return false, "", err
	}
	if unsubscribed {
		return false, domain.ReasonOnUnsubscribeList, nil
	}

	// 6. the anchoring policy still exists with the same date
	if row.TriggerField == domain.FieldPolicyExpiration || row.TriggerField == domain.FieldPolicyEffective {
		triggerDate, err := time.Parse("2006-01-02", row.QualificationValue)
		if err == nil {
			exists, err := v.policyRepo.ExistsActiveWithDate(ctx, row.AccountID, row.TriggerField, triggerDate)
			if err != nil {
				return false, "", err
			}
			if !exists {
				return false, domain.ReasonTriggerGone(row.TriggerField, row.QualificationValue), nil
			}
		}
	}

	// 7. template-level dedup over the last 7 days
	recent, err := v.emailLogRepo.HasRecentSend(ctx, row.TemplateID, recipient, now.Add(-domain.TemplateDedupWindow))
	if err != nil {
		return false, "", err
	}
	if recent {
		return false, domain.ReasonDuplicateWithin7Days, nil
	}

	return true, "", nil
}
