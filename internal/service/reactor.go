package service

import (
	"context"
	"fmt"
	"time"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
)

// stuckProcessingThreshold is how long a row may sit in processing before
// the reaper returns it to pending.
const stuckProcessingThreshold = time.Hour

// Reactor orchestrates the pipeline over all active automations: refresh
// (planning), then verification, then sending, in that order within one
// invocation. It also handles the external change hooks.
type Reactor struct {
	automationRepo domain.AutomationRepository
	accountRepo    domain.AccountRepository
	policyRepo     domain.PolicyRepository
	scheduledRepo  domain.ScheduledEmailRepository
	planner        *Planner
	verifier       *Verifier
	sender         *Sender
	logger         logger.Logger
	now            func() time.Time
}

// NewReactor creates a Reactor
func NewReactor(
	automationRepo domain.AutomationRepository,
	accountRepo domain.AccountRepository,
	policyRepo domain.PolicyRepository,
	scheduledRepo domain.ScheduledEmailRepository,
	planner *Planner,
	verifier *Verifier,
	sender *Sender,
	log logger.Logger,
) *Reactor {
	return &Reactor{
		automationRepo: automationRepo,
		accountRepo:    accountRepo,
		policyRepo:     policyRepo,
		scheduledRepo:  scheduledRepo,
		planner:        planner,
		verifier:       verifier,
		sender:         sender,
		logger:         log,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Execute dispatches a trigger request to the matching entry point. Every
// invocation returns a summary; per-row and per-automation errors are
// collected, never propagated.
func (r *Reactor) Execute(ctx context.Context, req *domain.TriggerRequest) *domain.TriggerSummary {
	summary := &domain.TriggerSummary{Action: req.Action}

	switch req.Action {
	case domain.ActionDaily:
		r.Daily(ctx, req.AccountOffset, summary)
	case domain.ActionRefresh:
		r.refreshAll(ctx, req.AccountOffset, summary)
	case domain.ActionVerify:
		r.verify(ctx, summary)
	case domain.ActionSend:
		if req.ScheduledEmailID != "" {
			r.sendNow(ctx, req.ScheduledEmailID, summary)
		} else {
			r.send(ctx, summary)
		}
	case domain.ActionProcess:
		r.reap(ctx, summary)
		r.verify(ctx, summary)
		r.send(ctx, summary)
	case domain.ActionActivate:
		r.Activate(ctx, req.AutomationID, summary)
	}

	return summary
}

// Daily runs the full pipeline: reap stuck rows, re-plan every active
// automation from the given account offset, verify, then send.
func (r *Reactor) Daily(ctx context.Context, accountOffset int, summary *domain.TriggerSummary) {
	r.reap(ctx, summary)
	r.refreshAll(ctx, accountOffset, summary)
	r.verify(ctx, summary)
	r.send(ctx, summary)
}

// Activate plans one automation immediately; used by the status-change hook.
func (r *Reactor) Activate(ctx context.Context, automationID string, summary *domain.TriggerSummary) {
	automation, err := r.automationRepo.GetByID(ctx, automationID)
	if err != nil {
		summary.AddError("activate %s: %v", automationID, err)
		return
	}
	r.planOne(ctx, automation, 0, summary)
}

// Deactivate cancels every pending row of an automation.
func (r *Reactor) Deactivate(ctx context.Context, automationID string) (int64, error) {
	cancelled, err := r.scheduledRepo.CancelPendingForAutomation(ctx, automationID, domain.ReasonAutomationDeactivated)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate automation %s: %w", automationID, err)
	}
	r.logger.WithField("automation_id", automationID).
		WithField("cancelled", cancelled).
		Info("automation deactivated")
	return cancelled, nil
}

// OnAccountCreated re-plans every active automation of the account's owner.
// The uniqueness key keeps existing work untouched.
func (r *Reactor) OnAccountCreated(ctx context.Context, accountID, ownerID string) *domain.TriggerSummary {
	summary := &domain.TriggerSummary{Action: "account_created"}

	automations, err := r.automationRepo.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		summary.AddError("list automations for owner %s: %v", ownerID, err)
		return summary
	}
	for _, automation := range automations {
		r.planOne(ctx, automation, 0, summary)
	}
	return summary
}

// OnPolicyChanged re-plans the owner's active automations that anchor on
// policy dates, then re-verifies outstanding rows.
func (r *Reactor) OnPolicyChanged(ctx context.Context, accountID string) *domain.TriggerSummary {
	summary := &domain.TriggerSummary{Action: "policy_changed"}

	account, err := r.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		summary.AddError("load account %s: %v", accountID, err)
		return summary
	}

	automations, err := r.automationRepo.ListActiveByOwner(ctx, account.OwnerID)
	if err != nil {
		summary.AddError("list automations for owner %s: %v", account.OwnerID, err)
		return summary
	}

	for _, automation := range automations {
		if !hasPolicyDateTrigger(automation) {
			continue
		}
		r.planOne(ctx, automation, 0, summary)
	}

	r.verify(ctx, summary)
	return summary
}

func hasPolicyDateTrigger(automation *domain.Automation) bool {
	if automation.Filter == nil {
		return false
	}
	for _, rule := range automation.Filter.DateTriggerRules() {
		if rule.Field == domain.FieldPolicyExpiration || rule.Field == domain.FieldPolicyEffective {
			return true
		}
	}
	return false
}

func (r *Reactor) refreshAll(ctx context.Context, accountOffset int, summary *domain.TriggerSummary) {
	automations, err := r.automationRepo.ListActive(ctx)
	if err != nil {
		summary.AddError("list active automations: %v", err)
		return
	}
	for _, automation := range automations {
		r.planOne(ctx, automation, accountOffset, summary)
	}
	summary.Refreshed = len(automations)
}

func (r *Reactor) planOne(ctx context.Context, automation *domain.Automation, accountOffset int, summary *domain.TriggerSummary) {
	result, err := r.planner.Plan(ctx, automation, accountOffset)
	if err != nil {
		summary.AddError("plan automation %s: %v", automation.ID, err)
		return
	}
	summary.NewScheduled += result.NewScheduled
	summary.Errors = append(summary.Errors, result.Errors...)
	if result.HasMore {
		summary.HasMore = true
		summary.NextOffset = result.NextOffset
	}
}

func (r *Reactor) verify(ctx context.Context, summary *domain.TriggerSummary) {
	result := r.verifier.Run(ctx, r.now())
	summary.Verified += result.Verified
	summary.Cancelled += result.Cancelled
	summary.Errors = append(summary.Errors, result.Errors...)
}

func (r *Reactor) send(ctx context.Context, summary *domain.TriggerSummary) {
	result := r.sender.Run(ctx, r.now())
	summary.Sent += result.Sent
	summary.Failed += result.Failed
	summary.Cancelled += result.Cancelled
	summary.Errors = append(summary.Errors, result.Errors...)
}

func (r *Reactor) sendNow(ctx context.Context, scheduledEmailID string, summary *domain.TriggerSummary) {
	result := r.sender.SendOne(ctx, scheduledEmailID)
	summary.Sent += result.Sent
	summary.Failed += result.Failed
	summary.Cancelled += result.Cancelled
	summary.Errors = append(summary.Errors, result.Errors...)
}

// reap recovers rows stuck in processing after a worker crash; their attempt
// counters still bound retries.
func (r *Reactor) reap(ctx context.Context, summary *domain.TriggerSummary) {
	reaped, err := r.scheduledRepo.ReapStuckProcessing(ctx, stuckProcessingThreshold)
	if err != nil {
		summary.AddError("reap stuck rows: %v", err)
		return
	}
	if reaped > 0 {
		r.logger.WithField("reaped", reaped).Warn("recovered rows stuck in processing")
	}
}
