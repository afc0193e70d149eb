package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
	"github.com/insurgrowth/insurgrowth/pkg/mergefields"
)

// DefaultMaxEmailsPerRun caps one sender pass.
const DefaultMaxEmailsPerRun = 200

// SenderConfig carries the environment-derived sending options.
type SenderConfig struct {
	ReplyDomain     string // enables the tracking Reply-To when set
	UnsubscribeURL  string
	RatingURL       string
	MaxEmailsPerRun int
}

// SendResult reports one sender pass.
type SendResult struct {
	Sent      int
	Failed    int
	Cancelled int
	Errors    []string
}

// Sender claims due rows one at a time, re-checks preconditions, composes
// the outbound message and dispatches it through the provider.
type Sender struct {
	scheduledRepo   domain.ScheduledEmailRepository
	accountRepo     domain.AccountRepository
	templateRepo    domain.TemplateRepository
	emailLogRepo    domain.EmailLogRepository
	settingsRepo    domain.SettingsRepository
	unsubscribeRepo domain.UnsubscribeRepository
	activityRepo    domain.ActivityRepository
	provider        EmailProvider
	logger          logger.Logger
	cfg             SenderConfig
	now             func() time.Time
}

// NewSender creates a Sender
func NewSender(
	scheduledRepo domain.ScheduledEmailRepository,
	accountRepo domain.AccountRepository,
	templateRepo domain.TemplateRepository,
	emailLogRepo domain.EmailLogRepository,
	settingsRepo domain.SettingsRepository,
	unsubscribeRepo domain.UnsubscribeRepository,
	activityRepo domain.ActivityRepository,
	provider EmailProvider,
	log logger.Logger,
	cfg SenderConfig,
) *Sender {
	if cfg.MaxEmailsPerRun <= 0 {
		cfg.MaxEmailsPerRun = DefaultMaxEmailsPerRun
	}
	return &Sender{
		scheduledRepo:   scheduledRepo,
		accountRepo:     accountRepo,
		templateRepo:    templateRepo,
		emailLogRepo:    emailLogRepo,
		settingsRepo:    settingsRepo,
		unsubscribeRepo: unsubscribeRepo,
		activityRepo:    activityRepo,
		provider:        provider,
		logger:          log,
		cfg:             cfg,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run processes due rows up to MaxEmailsPerRun. Rows lost to a concurrent
// claimer are skipped silently.
func (s *Sender) Run(ctx context.Context, now time.Time) *SendResult {
	result := &SendResult{}

	rows, err := s.scheduledRepo.ListReadyToSend(ctx, now, s.cfg.MaxEmailsPerRun)
	if err != nil {
		s.logger.WithField("error", err.Error()).Error("failed to list rows ready to send")
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	for _, row := range rows {
		claimed, err := s.scheduledRepo.Claim(ctx, row.ID)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if !claimed {
			continue
		}
		s.process(ctx, row, now, result)
	}

	return result
}

// SendOne dispatches a single row immediately ("Send Now"); the row must
// still be claimable.
func (s *Sender) SendOne(ctx context.Context, scheduledEmailID string) *SendResult {
	result := &SendResult{}

	row, err := s.scheduledRepo.GetByID(ctx, scheduledEmailID)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	claimed, err := s.scheduledRepo.Claim(ctx, row.ID)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if !claimed {
		result.Errors = append(result.Errors, fmt.Sprintf("scheduled email %s is not pending", row.ID))
		return result
	}

	s.process(ctx, row, s.now(), result)
	return result
}

// process handles one claimed row end to end.
func (s *Sender) process(ctx context.Context, row *domain.ScheduledEmail, now time.Time, result *SendResult) {
	account, reason, err := s.preDispatchChecks(ctx, row, now)
	if err != nil {
		s.logger.WithField("scheduled_email_id", row.ID).
			WithField("error", err.Error()).
			Error("pre-dispatch check failed")
		result.Errors = append(result.Errors, err.Error())
		if err := s.scheduledRepo.MarkFailedOrRetry(ctx, row.ID, err.Error()); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		return
	}
	if reason != "" {
		if err := s.scheduledRepo.Cancel(ctx, row.ID, reason); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return
		}
		result.Cancelled++
		return
	}

	msg, log, err := s.compose(ctx, row, account, now)
	if err != nil {
		// template or settings problems do not resolve themselves
		result.Failed++
		result.Errors = append(result.Errors, err.Error())
		if log != nil {
			_ = s.emailLogRepo.MarkFailed(ctx, log.ID, err.Error())
		}
		if err := s.scheduledRepo.MarkFailed(ctx, row.ID, err.Error()); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		return
	}

	providerID, err := s.provider.Send(ctx, msg)
	if err != nil {
		s.handleSendError(ctx, row, log, err, result)
		return
	}

	log.ProviderMessageID = providerID
	log.MessageID = msg.MessageID
	log.ReplyTo = msg.ReplyTo
	log.Subject = msg.Subject
	log.BodyHTML = msg.BodyHTML
	log.BodyText = msg.BodyText
	if err := s.emailLogRepo.MarkSent(ctx, log); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if err := s.scheduledRepo.MarkSent(ctx, row.ID, log.ID); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	event := &domain.ActivityEvent{
		OwnerID:   row.OwnerID,
		AccountID: row.AccountID,
		Kind:      domain.ActivityKindEmailSent,
		Metadata: map[string]interface{}{
			"scheduled_email_id": row.ID,
			"email_log_id":       log.ID,
			"template_id":        row.TemplateID,
			"subject":            msg.Subject,
		},
	}
	if err := s.activityRepo.Insert(ctx, event); err != nil {
		s.logger.WithField("error", err.Error()).Warn("failed to record activity event")
	}

	result.Sent++
}

func (s *Sender) handleSendError(ctx context.Context, row *domain.ScheduledEmail, log *domain.EmailLog, sendErr error, result *SendResult) {
	result.Errors = append(result.Errors, sendErr.Error())

	var providerErr *ProviderError
	if errors.As(sendErr, &providerErr) && !providerErr.Retryable() {
		result.Failed++
		_ = s.emailLogRepo.MarkFailed(ctx, log.ID, sendErr.Error())
		if err := s.scheduledRepo.MarkFailed(ctx, row.ID, sendErr.Error()); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		return
	}

	// transient failure: the retry budget decides pending vs failed
	result.Failed++
	_ = s.emailLogRepo.MarkFailed(ctx, log.ID, sendErr.Error())
	if err := s.scheduledRepo.MarkFailedOrRetry(ctx, row.ID, sendErr.Error()); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
}

// preDispatchChecks re-runs the volatile verifier checks right before
// dispatch. Returns a cancellation reason, or the loaded account on pass.
func (s *Sender) preDispatchChecks(ctx context.Context, row *domain.ScheduledEmail, now time.Time) (*domain.Account, string, error) {
	account, err := s.accountRepo.GetByID(ctx, row.AccountID)
	if err != nil {
		if _, ok := err.(*domain.ErrAccountNotFound); ok {
			return nil, domain.ReasonAccountMissing, nil
		}
		return nil, "", err
	}
	if account.OptedOut {
		return nil, domain.ReasonAccountOptedOut, nil
	}
	if account.EmailValidationStatus != domain.EmailValidationValid {
		return nil, domain.ReasonEmailValidation(account.EmailValidationStatus), nil
	}

	recipient := s.recipient(row, account)
	if recipient == "" || !strings.Contains(recipient, "@") {
		return nil, domain.ReasonRecipientInvalid, nil
	}

	unsubscribed, err := s.unsubscribeRepo.IsUnsubscribed(ctx, recipient)
	if err != nil {
		return nil, "", err
	}
	if unsubscribed {
		return nil, domain.ReasonUnsubscribedPreSend, nil
	}

	recent, err := s.emailLogRepo.HasRecentSend(ctx, row.TemplateID, recipient, now.Add(-domain.TemplateDedupWindow))
	if err != nil {
		return nil, "", err
	}
	if recent {
		return nil, domain.ReasonDuplicateWithin7Days, nil
	}

	return account, "", nil
}

func (s *Sender) recipient(row *domain.ScheduledEmail, account *domain.Account) string {
	if r := strings.TrimSpace(row.ToEmail); r != "" {
		return r
	}
	return strings.TrimSpace(account.Email)
}

// compose builds the outbound message and its queued email log. The returned
// log is non-nil once created, so failures after that point can mark it.
func (s *Sender) compose(ctx context.Context, row *domain.ScheduledEmail, account *domain.Account, now time.Time) (*OutboundEmail, *domain.EmailLog, error) {
	template, err := s.templateRepo.GetByID(ctx, row.TemplateID)
	if err != nil {
		return nil, nil, err
	}

	settings, err := s.settingsRepo.GetUserSettings(ctx, row.OwnerID)
	if err != nil {
		return nil, nil, err
	}

	fromEmail := firstNonEmpty(row.FromEmail, template.FromEmail, settings.FromEmail)
	fromName := firstNonEmpty(row.FromName, template.FromName, settings.FromName)
	if fromEmail == "" {
		return nil, nil, fmt.Errorf("no from address configured for owner %s", row.OwnerID)
	}
	recipient := s.recipient(row, account)

	log := &domain.EmailLog{
		OwnerID:          row.OwnerID,
		ScheduledEmailID: &row.ID,
		AutomationID:     row.AutomationID,
		AccountID:        row.AccountID,
		TemplateID:       row.TemplateID,
		ToEmail:          recipient,
		FromEmail:        fromEmail,
		FromName:         fromName,
		Subject:          template.Subject,
	}
	if err := s.emailLogRepo.Create(ctx, log); err != nil {
		return nil, nil, err
	}

	fields := s.mergeFields(row, account, recipient, now)

	subject, err := mergefields.Render(template.Subject, fields)
	if err != nil {
		return nil, log, fmt.Errorf("failed to render subject: %w", err)
	}
	bodyHTML, err := mergefields.Render(template.BodyHTML, fields)
	if err != nil {
		return nil, log, fmt.Errorf("failed to render html body: %w", err)
	}
	bodyText, err := mergefields.Render(template.BodyText, fields)
	if err != nil {
		return nil, log, fmt.Errorf("failed to render text body: %w", err)
	}

	bodyHTML = s.wrapBody(bodyHTML, settings, row.ID, recipient)

	fromDomain := emailDomain(fromEmail)
	messageID := fmt.Sprintf("<isg-%s-%d@%s>", log.ID, now.UnixMilli(), fromDomain)

	replyTo, useTracking, err := s.chooseReplyTo(ctx, row.OwnerID, fromEmail, fromDomain, settings, log.ID)
	if err != nil {
		return nil, log, err
	}
	log.UseTrackingReply = useTracking

	category := "automation"
	if row.AutomationID == nil {
		category = "mass_email"
	}

	automationID := ""
	if row.AutomationID != nil {
		automationID = *row.AutomationID
	}

	msg := &OutboundEmail{
		ToEmail:   recipient,
		ToName:    account.FullName(),
		FromEmail: fromEmail,
		FromName:  fromName,
		ReplyTo:   replyTo,
		Subject:   subject,
		BodyHTML:  bodyHTML,
		BodyText:  bodyText,
		MessageID: messageID,
		CustomArgs: map[string]string{
			"scheduled_email_id": row.ID,
			"automation_id":      automationID,
			"account_id":         row.AccountID,
			"owner_id":           row.OwnerID,
			"email_log_id":       log.ID,
		},
		Categories: []string{category, "owner_" + row.OwnerID},
	}
	return msg, log, nil
}

// chooseReplyTo picks the Reply-To address. The tracking address on
// REPLY_DOMAIN is used only when the owner's agency holds an active
// inbox-ingestion connection; otherwise the verified sender domain settings
// or the from address decide.
func (s *Sender) chooseReplyTo(ctx context.Context, ownerID, fromEmail, fromDomain string, settings *domain.UserSettings, emailLogID string) (string, bool, error) {
	if s.cfg.ReplyDomain != "" {
		hasConnection, err := s.settingsRepo.HasActiveProviderConnection(ctx, ownerID)
		if err != nil {
			return "", false, err
		}
		if hasConnection {
			return fmt.Sprintf("reply-%s@%s", emailLogID, s.cfg.ReplyDomain), true, nil
		}
	}

	senderDomain, err := s.settingsRepo.GetVerifiedSenderDomain(ctx, ownerID, fromDomain)
	if err != nil {
		return "", false, err
	}
	if senderDomain == nil && settings.ReplyToEmail != "" {
		return settings.ReplyToEmail, false, nil
	}
	return fromEmail, false, nil
}

func (s *Sender) mergeFields(row *domain.ScheduledEmail, account *domain.Account, recipient string, now time.Time) mergefields.Fields {
	fields := mergefields.Fields{
		"first_name":      account.FirstName,
		"last_name":       account.LastName,
		"full_name":       account.FullName(),
		"name":            account.FullName(),
		"company_name":    account.CompanyName,
		"email":           recipient,
		"phone":           account.Phone,
		"address":         account.Address,
		"city":            account.City,
		"state":           account.State,
		"zip":             account.PostalCode,
		"postal_code":     account.PostalCode,
		"recipient_name":  account.FullName(),
		"recipient_email": recipient,
		"today":           now.Format("January 2, 2006"),
		"current_year":    now.Format("2006"),
		"trigger_date":    row.QualificationValue,
	}
	if s.cfg.RatingURL != "" {
		fields = mergefields.Merge(fields, mergefields.RatingURLs(s.cfg.RatingURL, row.ID, row.AccountID))
	}
	return fields
}

// wrapBody places the rendered body in the standard container and appends
// the signature, the agency footer line and the unsubscribe link.
func (s *Sender) wrapBody(bodyHTML string, settings *domain.UserSettings, scheduledEmailID, recipient string) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: Arial, Helvetica, sans-serif; font-size: 14px; color: #333; max-width: 600px; margin: 0 auto;">`)
	b.WriteString(bodyHTML)

	if settings.SignatureHTML != "" {
		b.WriteString(`<div style="margin-top: 24px;">`)
		b.WriteString(settings.SignatureHTML)
		b.WriteString(`</div>`)
	}

	if parts := settings.AgencyInfoParts(); len(parts) > 0 {
		b.WriteString(`<p style="color: #888; font-size: 12px; text-align: center; margin-top: 32px;">`)
		b.WriteString(strings.Join(parts, " | "))
		b.WriteString(`</p>`)
	}

	if s.cfg.UnsubscribeURL != "" {
		b.WriteString(fmt.Sprintf(
			`<p style="font-size: 12px; text-align: center;"><a href="%s?id=%s&email=%s" style="color: #888;">Unsubscribe</a></p>`,
			s.cfg.UnsubscribeURL, url.QueryEscape(scheduledEmailID), url.QueryEscape(recipient),
		))
	}

	b.WriteString(`</div>`)
	return b.String()
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
