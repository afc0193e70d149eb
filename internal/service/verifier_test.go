package service

import (
	"context"
	"testing"
	"time"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verifierFixture struct {
	verifier    *Verifier
	automations *fakeAutomationRepo
	accounts    *fakeAccountRepo
	policies    *fakePolicyRepo
	emailLogs   *fakeEmailLogRepo
	scheduled   *fakeScheduledRepo
	unsubs      *fakeUnsubscribeRepo
	now         time.Time
}

func newVerifierFixture() *verifierFixture {
	f := &verifierFixture{
		automations: &fakeAutomationRepo{automations: map[string]*domain.Automation{}},
		accounts:    &fakeAccountRepo{},
		policies:    &fakePolicyRepo{policies: map[string][]*domain.Policy{}},
		emailLogs:   newFakeEmailLogRepo(),
		scheduled:   newFakeScheduledRepo(),
		unsubs:      newFakeUnsubscribeRepo(),
		now:         time.Date(2025, 4, 16, 10, 0, 0, 0, time.UTC),
	}
	f.verifier = NewVerifier(
		f.automations, f.accounts, f.policies, f.emailLogs, f.scheduled, f.unsubs, testLogger(),
	)

	owner := "owner-1"
	f.automations.automations["auto-1"] = &domain.Automation{
		ID: "auto-1", OwnerID: &owner, Name: "Expiration reminders",
		Status: domain.AutomationStatusActive,
	}
	f.accounts.accounts = append(f.accounts.accounts, &domain.Account{
		ID: "acc-1", OwnerID: owner, Email: "pat@example.com",
		EmailValidationStatus: domain.EmailValidationValid,
	})
	f.policies.policies["acc-1"] = []*domain.Policy{{
		ID: "p1", AccountID: "acc-1", Lob: "Auto", Status: "Active",
		ExpirationDate: datePtr(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)),
	}}
	return f
}

func (f *verifierFixture) addDueRow(id string) *domain.ScheduledEmail {
	automationID := "auto-1"
	row := &domain.ScheduledEmail{
		ID:                   id,
		OwnerID:              "owner-1",
		AutomationID:         &automationID,
		AccountID:            "acc-1",
		TemplateID:           "tpl-1",
		ToEmail:              "pat@example.com",
		ScheduledFor:         f.now.Add(4 * time.Hour),
		Status:               domain.ScheduledEmailStatusPending,
		RequiresVerification: true,
		QualificationValue:   "2025-06-15",
		TriggerField:         domain.FieldPolicyExpiration,
		MaxAttempts:          domain.DefaultMaxAttempts,
	}
	_, _ = f.scheduled.InsertBatch(context.Background(), []*domain.ScheduledEmail{row})
	return row
}

func (f *verifierFixture) rowStatus(t *testing.T, id string) (*domain.ScheduledEmail, domain.ScheduledEmailStatus) {
	t.Helper()
	row, err := f.scheduled.GetByID(context.Background(), id)
	require.NoError(t, err)
	return row, row.Status
}

func TestVerifierMarksPassingRowVerified(t *testing.T) {
	f := newVerifierFixture()
	f.addDueRow("se-1")

	result := f.verifier.Run(context.Background(), f.now)
	assert.Equal(t, 1, result.Verified)
	assert.Equal(t, 0, result.Cancelled)
	assert.Empty(t, result.Errors)

	row, status := f.rowStatus(t, "se-1")
	assert.Equal(t, domain.ScheduledEmailStatusPending, status)
	assert.False(t, row.RequiresVerification)
}

func TestVerifierCancelsWhenAutomationInactive(t *testing.T) {
	f := newVerifierFixture()
	f.addDueRow("se-1")
	f.automations.automations["auto-1"].Status = domain.AutomationStatusPaused

	result := f.verifier.Run(context.Background(), f.now)
	assert.Equal(t, 1, result.Cancelled)

	row, status := f.rowStatus(t, "se-1")
	assert.Equal(t, domain.ScheduledEmailStatusCancelled, status)
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, domain.ReasonAutomationInactive, *row.ErrorMessage)
}

func TestVerifierCancelsWhenAccountGoneOrOptedOut(t *testing.T) {
	f := newVerifierFixture()
	f.addDueRow("se-1")
	f.accounts.accounts = nil

	f.verifier.Run(context.Background(), f.now)
	row, _ := f.rowStatus(t, "se-1")
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, domain.ReasonAccountMissing, *row.ErrorMessage)

	f = newVerifierFixture()
	f.addDueRow("se-2")
	f.accounts.accounts[0].OptedOut = true

	f.verifier.Run(context.Background(), f.now)
	row, _ = f.rowStatus(t, "se-2")
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, domain.ReasonAccountOptedOut, *row.ErrorMessage)
}

func TestVerifierCancelsOnValidationDowngrade(t *testing.T) {
	f := newVerifierFixture()
	f.addDueRow("se-1")
	f.accounts.accounts[0].EmailValidationStatus = domain.EmailValidationRisky

	f.verifier.Run(context.Background(), f.now)
	row, _ := f.rowStatus(t, "se-1")
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, "Email validation status is risky", *row.ErrorMessage)
}

func TestVerifierCancelsUnsubscribedRecipient(t *testing.T) {
	f := newVerifierFixture()
	f.addDueRow("se-1")
	require.NoError(t, f.unsubs.Add(context.Background(), "Pat@Example.com"))

	result := f.verifier.Run(context.Background(), f.now)
	assert.Equal(t, 1, result.Cancelled)

	row, _ := f.rowStatus(t, "se-1")
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, domain.ReasonOnUnsubscribeList, *row.ErrorMessage)
}

func TestVerifierCancelsWhenAnchoringPolicyGone(t *testing.T) {
	f := newVerifierFixture()
	f.addDueRow("se-1")
	// the policy was rewritten to a new expiration date
	f.policies.policies["acc-1"][0].ExpirationDate = datePtr(time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC))

	result := f.verifier.Run(context.Background(), f.now)
	assert.Equal(t, 1, result.Cancelled)

	row, _ := f.rowStatus(t, "se-1")
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t,
		"Policy with policy_expiration = 2025-06-15 no longer exists or is inactive",
		*row.ErrorMessage)
}

func TestVerifierCancelsOnRecentTemplateSend(t *testing.T) {
	f := newVerifierFixture()
	f.addDueRow("se-1")

	log := &domain.EmailLog{ID: "log-1", OwnerID: "owner-1", AccountID: "acc-1", TemplateID: "tpl-1", ToEmail: "PAT@example.com"}
	require.NoError(t, f.emailLogs.Create(context.Background(), log))
	require.NoError(t, f.emailLogs.MarkSent(context.Background(), log))

	f.verifier.Run(context.Background(), f.now)
	row, _ := f.rowStatus(t, "se-1")
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, domain.ReasonDuplicateWithin7Days, *row.ErrorMessage)
}

func TestVerifierIgnoresRowsOutsideWindow(t *testing.T) {
	f := newVerifierFixture()
	f.addDueRow("se-far")
	_ = f.scheduled.update("se-far", func(r *domain.ScheduledEmail) { r.ScheduledFor = f.now.Add(48 * time.Hour) })

	result := f.verifier.Run(context.Background(), f.now)
	assert.Equal(t, 0, result.Verified)
	assert.Equal(t, 0, result.Cancelled)

	row, _ := f.rowStatus(t, "se-far")
	assert.True(t, row.RequiresVerification)
}
