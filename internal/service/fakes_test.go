package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.NewLoggerWithLevel("fatal")
}

// In-memory repository fakes shared by the service tests.

type fakeAccountRepo struct {
	accounts []*domain.Account
}

func (f *fakeAccountRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	for _, a := range f.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, &domain.ErrAccountNotFound{ID: id}
}

func (f *fakeAccountRepo) ListByOwner(_ context.Context, ownerID string, offset, limit int) ([]*domain.Account, error) {
	var owned []*domain.Account
	for _, a := range f.accounts {
		if a.OwnerID == ownerID {
			owned = append(owned, a)
		}
	}
	return page(owned, offset, limit), nil
}

func (f *fakeAccountRepo) ListAll(_ context.Context, offset, limit int) ([]*domain.Account, error) {
	return page(f.accounts, offset, limit), nil
}

func page(accounts []*domain.Account, offset, limit int) []*domain.Account {
	if offset >= len(accounts) {
		return nil
	}
	end := offset + limit
	if end > len(accounts) {
		end = len(accounts)
	}
	return accounts[offset:end]
}

type fakePolicyRepo struct {
	policies map[string][]*domain.Policy
}

func (f *fakePolicyRepo) ListByAccountIDs(_ context.Context, accountIDs []string) (map[string][]*domain.Policy, error) {
	out := make(map[string][]*domain.Policy)
	for _, id := range accountIDs {
		if ps, ok := f.policies[id]; ok {
			out[id] = ps
		}
	}
	return out, nil
}

func (f *fakePolicyRepo) ListByAccount(_ context.Context, accountID string) ([]*domain.Policy, error) {
	return f.policies[accountID], nil
}

func (f *fakePolicyRepo) ExistsActiveWithDate(_ context.Context, accountID, field string, date time.Time) (bool, error) {
	for _, p := range f.policies[accountID] {
		if !p.IsActive() {
			continue
		}
		d := p.DateField(field)
		if d != nil && d.Format("2006-01-02") == date.Format("2006-01-02") {
			return true, nil
		}
	}
	return false, nil
}

type fakeTemplateRepo struct {
	templates map[string]*domain.EmailTemplate // by id
}

func (f *fakeTemplateRepo) GetByID(_ context.Context, id string) (*domain.EmailTemplate, error) {
	if t, ok := f.templates[id]; ok {
		return t, nil
	}
	return nil, &domain.ErrTemplateNotFound{Ref: id}
}

func (f *fakeTemplateRepo) GetByDefaultKey(_ context.Context, ownerID, defaultKey string) (*domain.EmailTemplate, error) {
	var system *domain.EmailTemplate
	for _, t := range f.templates {
		if t.DefaultKey == nil || *t.DefaultKey != defaultKey {
			continue
		}
		if t.OwnerID != nil && *t.OwnerID == ownerID {
			return t, nil
		}
		if t.OwnerID == nil {
			system = t
		}
	}
	if system != nil {
		return system, nil
	}
	return nil, &domain.ErrTemplateNotFound{Ref: defaultKey}
}

type sentRecord struct {
	TemplateID string
	ToEmail    string
	SentAt     time.Time
}

type fakeEmailLogRepo struct {
	mu     sync.Mutex
	logs   map[string]*domain.EmailLog
	sent   []sentRecord
	byAcct map[string]time.Time
}

func newFakeEmailLogRepo() *fakeEmailLogRepo {
	return &fakeEmailLogRepo{logs: map[string]*domain.EmailLog{}, byAcct: map[string]time.Time{}}
}

func (f *fakeEmailLogRepo) Create(_ context.Context, log *domain.EmailLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Status == "" {
		log.Status = domain.EmailLogStatusQueued
	}
	f.logs[log.ID] = log
	return nil
}

func (f *fakeEmailLogRepo) MarkSent(_ context.Context, log *domain.EmailLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.logs[log.ID]
	if !ok {
		return fmt.Errorf("email log not found: %s", log.ID)
	}
	*stored = *log
	stored.Status = domain.EmailLogStatusSent
	now := time.Now().UTC()
	stored.SentAt = &now
	f.sent = append(f.sent, sentRecord{TemplateID: log.TemplateID, ToEmail: strings.ToLower(log.ToEmail), SentAt: now})
	f.byAcct[log.AccountID] = now
	return nil
}

func (f *fakeEmailLogRepo) MarkFailed(_ context.Context, id, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.logs[id]; ok {
		stored.Status = domain.EmailLogStatusFailed
		stored.ErrorMessage = &errorMessage
	}
	return nil
}

func (f *fakeEmailLogRepo) HasRecentSend(_ context.Context, templateID, toEmail string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.sent {
		if rec.TemplateID == templateID && rec.ToEmail == strings.ToLower(toEmail) && rec.SentAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEmailLogRepo) LastSentByAccount(_ context.Context, accountIDs []string) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time)
	for _, id := range accountIDs {
		if t, ok := f.byAcct[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

type fakeScheduledRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.ScheduledEmail
}

func newFakeScheduledRepo() *fakeScheduledRepo {
	return &fakeScheduledRepo{rows: map[string]*domain.ScheduledEmail{}}
}

func (f *fakeScheduledRepo) all() []*domain.ScheduledEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.ScheduledEmail
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out
}

func (f *fakeScheduledRepo) byStatus(status domain.ScheduledEmailStatus) []*domain.ScheduledEmail {
	var out []*domain.ScheduledEmail
	for _, r := range f.all() {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeScheduledRepo) InsertBatch(_ context.Context, rows []*domain.ScheduledEmail) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing := map[string]bool{}
	for _, r := range f.rows {
		if r.Status != domain.ScheduledEmailStatusCancelled {
			existing[r.DedupKey()] = true
		}
	}

	inserted := 0
	for _, row := range rows {
		if existing[row.DedupKey()] {
			continue
		}
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		if row.Status == "" {
			row.Status = domain.ScheduledEmailStatusPending
		}
		if row.MaxAttempts == 0 {
			row.MaxAttempts = domain.DefaultMaxAttempts
		}
		clone := *row
		f.rows[row.ID] = &clone
		existing[row.DedupKey()] = true
		inserted++
	}
	return inserted, nil
}

func (f *fakeScheduledRepo) GetByID(_ context.Context, id string) (*domain.ScheduledEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		clone := *r
		return &clone, nil
	}
	return nil, &domain.ErrScheduledEmailNotFound{ID: id}
}

func (f *fakeScheduledRepo) ListDueForVerification(_ context.Context, now time.Time, limit int) ([]*domain.ScheduledEmail, error) {
	var out []*domain.ScheduledEmail
	for _, r := range f.all() {
		if r.Status == domain.ScheduledEmailStatusPending && r.RequiresVerification &&
			!r.ScheduledFor.Before(now) && !r.ScheduledFor.After(now.Add(24*time.Hour)) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeScheduledRepo) ListReadyToSend(_ context.Context, now time.Time, limit int) ([]*domain.ScheduledEmail, error) {
	var out []*domain.ScheduledEmail
	for _, r := range f.all() {
		if r.Status == domain.ScheduledEmailStatusPending && !r.RequiresVerification &&
			!r.ScheduledFor.After(now) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeScheduledRepo) Claim(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok || r.Status != domain.ScheduledEmailStatusPending {
		return false, nil
	}
	r.Status = domain.ScheduledEmailStatusProcessing
	r.Attempts++
	now := time.Now().UTC()
	r.LastAttemptAt = &now
	return true, nil
}

func (f *fakeScheduledRepo) MarkVerified(_ context.Context, id string) error {
	return f.update(id, func(r *domain.ScheduledEmail) { r.RequiresVerification = false })
}

func (f *fakeScheduledRepo) Cancel(_ context.Context, id, reason string) error {
	return f.update(id, func(r *domain.ScheduledEmail) {
		r.Status = domain.ScheduledEmailStatusCancelled
		r.ErrorMessage = &reason
	})
}

func (f *fakeScheduledRepo) MarkSent(_ context.Context, id, emailLogID string) error {
	return f.update(id, func(r *domain.ScheduledEmail) {
		r.Status = domain.ScheduledEmailStatusSent
		r.EmailLogID = &emailLogID
	})
}

func (f *fakeScheduledRepo) MarkFailedOrRetry(_ context.Context, id, errorMessage string) error {
	return f.update(id, func(r *domain.ScheduledEmail) {
		r.ErrorMessage = &errorMessage
		if r.Attempts < r.MaxAttempts {
			r.Status = domain.ScheduledEmailStatusPending
		} else {
			r.Status = domain.ScheduledEmailStatusFailed
		}
	})
}

func (f *fakeScheduledRepo) MarkFailed(_ context.Context, id, errorMessage string) error {
	return f.update(id, func(r *domain.ScheduledEmail) {
		r.Status = domain.ScheduledEmailStatusFailed
		r.ErrorMessage = &errorMessage
	})
}

func (f *fakeScheduledRepo) CancelPendingForAutomation(_ context.Context, automationID, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cancelled int64
	for _, r := range f.rows {
		if r.AutomationID != nil && *r.AutomationID == automationID && r.Status == domain.ScheduledEmailStatusPending {
			r.Status = domain.ScheduledEmailStatusCancelled
			r.ErrorMessage = &reason
			cancelled++
		}
	}
	return cancelled, nil
}

func (f *fakeScheduledRepo) ListQualificationKeys(_ context.Context, automationID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := map[string]bool{}
	for _, r := range f.rows {
		if r.AutomationID != nil && *r.AutomationID == automationID && r.Status != domain.ScheduledEmailStatusCancelled {
			keys[r.DedupKey()] = true
		}
	}
	return keys, nil
}

func (f *fakeScheduledRepo) ReapStuckProcessing(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var reaped int64
	for _, r := range f.rows {
		if r.Status == domain.ScheduledEmailStatusProcessing &&
			r.LastAttemptAt != nil && r.LastAttemptAt.Before(cutoff) {
			r.Status = domain.ScheduledEmailStatusPending
			reaped++
		}
	}
	return reaped, nil
}

func (f *fakeScheduledRepo) GetStats(_ context.Context) (*domain.ScheduledEmailStats, error) {
	stats := &domain.ScheduledEmailStats{}
	for _, r := range f.all() {
		switch r.Status {
		case domain.ScheduledEmailStatusPending:
			stats.Pending++
		case domain.ScheduledEmailStatusProcessing:
			stats.Processing++
		case domain.ScheduledEmailStatusSent:
			stats.Sent++
		case domain.ScheduledEmailStatusFailed:
			stats.Failed++
		case domain.ScheduledEmailStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (f *fakeScheduledRepo) update(id string, apply func(*domain.ScheduledEmail)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return &domain.ErrScheduledEmailNotFound{ID: id}
	}
	apply(r)
	return nil
}

type fakeAutomationRepo struct {
	automations map[string]*domain.Automation
}

func (f *fakeAutomationRepo) Create(_ context.Context, a *domain.Automation) error {
	f.automations[a.ID] = a
	return nil
}

func (f *fakeAutomationRepo) GetByID(_ context.Context, id string) (*domain.Automation, error) {
	if a, ok := f.automations[id]; ok {
		return a, nil
	}
	return nil, &domain.ErrAutomationNotFound{ID: id}
}

func (f *fakeAutomationRepo) List(_ context.Context, _ domain.AutomationFilter) ([]*domain.Automation, int, error) {
	var out []*domain.Automation
	for _, a := range f.automations {
		out = append(out, a)
	}
	return out, len(out), nil
}

func (f *fakeAutomationRepo) Update(_ context.Context, a *domain.Automation) error {
	f.automations[a.ID] = a
	return nil
}

func (f *fakeAutomationRepo) UpdateStatus(_ context.Context, id string, status domain.AutomationStatus) error {
	a, ok := f.automations[id]
	if !ok {
		return &domain.ErrAutomationNotFound{ID: id}
	}
	a.Status = status
	return nil
}

func (f *fakeAutomationRepo) ListActive(_ context.Context) ([]*domain.Automation, error) {
	var out []*domain.Automation
	for _, a := range f.automations {
		if a.IsActive() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAutomationRepo) ListActiveByOwner(_ context.Context, ownerID string) ([]*domain.Automation, error) {
	var out []*domain.Automation
	for _, a := range f.automations {
		if !a.IsActive() {
			continue
		}
		if a.OwnerID == nil || *a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeSettingsRepo struct {
	settings      map[string]*domain.UserSettings
	domains       map[string]*domain.SenderDomain // keyed owner|domain
	hasConnection map[string]bool
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{
		settings:      map[string]*domain.UserSettings{},
		domains:       map[string]*domain.SenderDomain{},
		hasConnection: map[string]bool{},
	}
}

func (f *fakeSettingsRepo) GetUserSettings(_ context.Context, ownerID string) (*domain.UserSettings, error) {
	if s, ok := f.settings[ownerID]; ok {
		return s, nil
	}
	return &domain.UserSettings{OwnerID: ownerID}, nil
}

func (f *fakeSettingsRepo) GetVerifiedSenderDomain(_ context.Context, ownerID, domainName string) (*domain.SenderDomain, error) {
	return f.domains[ownerID+"|"+strings.ToLower(domainName)], nil
}

func (f *fakeSettingsRepo) HasActiveProviderConnection(_ context.Context, ownerID string) (bool, error) {
	return f.hasConnection[ownerID], nil
}

type fakeUnsubscribeRepo struct {
	mu     sync.Mutex
	emails map[string]bool
}

func newFakeUnsubscribeRepo(emails ...string) *fakeUnsubscribeRepo {
	f := &fakeUnsubscribeRepo{emails: map[string]bool{}}
	for _, e := range emails {
		f.emails[strings.ToLower(e)] = true
	}
	return f
}

func (f *fakeUnsubscribeRepo) IsUnsubscribed(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emails[strings.ToLower(strings.TrimSpace(email))], nil
}

func (f *fakeUnsubscribeRepo) Add(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails[strings.ToLower(strings.TrimSpace(email))] = true
	return nil
}

type fakeActivityRepo struct {
	mu     sync.Mutex
	events []*domain.ActivityEvent
}

func (f *fakeActivityRepo) Insert(_ context.Context, event *domain.ActivityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeProvider struct {
	mu   sync.Mutex
	sent []*OutboundEmail
	err  error
}

func (f *fakeProvider) Send(_ context.Context, msg *OutboundEmail) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("provider-msg-%d", len(f.sent)), nil
}
