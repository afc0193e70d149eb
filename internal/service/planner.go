package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/insurgrowth/insurgrowth/pkg/geocode"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
	"github.com/insurgrowth/insurgrowth/pkg/sendtime"
)

const (
	// planHorizon caps how far ahead rows are materialized.
	planHorizon = 365 * 24 * time.Hour
	// insertBatchSize bounds each queue insert.
	insertBatchSize = 100
	// DefaultMaxAccountsPerRefresh bounds the account scan per invocation.
	DefaultMaxAccountsPerRefresh = 1000
	// defaultSendTime is used when an automation carries no send time.
	defaultSendTime = "09:00"
)

// emailStep is one send_email emission from the workflow walk.
type emailStep struct {
	NodeID     string
	TemplateID string
	Subject    string
	DaysOffset float64
}

// triggerSpec is the per-field trigger derivation from the filter's
// date-trigger rules.
type triggerSpec struct {
	Field      string
	DaysBefore int
	PolicyType string
	PolicyTerm string
}

// PlanResult reports one planning pass over an automation.
type PlanResult struct {
	NewScheduled int
	HasMore      bool
	NextOffset   int
	Errors       []string
}

// Planner materializes scheduled-email rows for active automations: it
// evaluates the base filter, derives trigger dates, walks the workflow and
// batch-inserts de-duplicated rows up to one year ahead.
type Planner struct {
	accountRepo   domain.AccountRepository
	policyRepo    domain.PolicyRepository
	templateRepo  domain.TemplateRepository
	emailLogRepo  domain.EmailLogRepository
	scheduledRepo domain.ScheduledEmailRepository
	evaluator     *FilterEvaluator
	geocoder      *geocode.Client
	logger        logger.Logger

	maxAccountsPerRefresh int
	now                   func() time.Time
}

// NewPlanner creates a Planner
func NewPlanner(
	accountRepo domain.AccountRepository,
	policyRepo domain.PolicyRepository,
	templateRepo domain.TemplateRepository,
	emailLogRepo domain.EmailLogRepository,
	scheduledRepo domain.ScheduledEmailRepository,
	evaluator *FilterEvaluator,
	geocoder *geocode.Client,
	log logger.Logger,
	maxAccountsPerRefresh int,
) *Planner {
	if maxAccountsPerRefresh <= 0 {
		maxAccountsPerRefresh = DefaultMaxAccountsPerRefresh
	}
	return &Planner{
		accountRepo:           accountRepo,
		policyRepo:            policyRepo,
		templateRepo:          templateRepo,
		emailLogRepo:          emailLogRepo,
		scheduledRepo:         scheduledRepo,
		evaluator:             evaluator,
		geocoder:              geocoder,
		logger:                log,
		maxAccountsPerRefresh: maxAccountsPerRefresh,
		now:                   func() time.Time { return time.Now().UTC() },
	}
}

// Plan runs one planning pass over the automation starting at accountOffset.
// Repeated runs are idempotent: the uniqueness key
// (automation_id, account_id, template_id, qualification_value) prevents
// duplicate rows.
func (p *Planner) Plan(ctx context.Context, automation *domain.Automation, accountOffset int) (*PlanResult, error) {
	result := &PlanResult{}

	if !automation.IsActive() {
		return result, nil
	}

	steps, err := p.resolveEmailSteps(ctx, automation)
	if err != nil {
		// no partial schedules on unresolvable templates
		return nil, fmt.Errorf("automation %s: %w", automation.ID, err)
	}
	if len(steps) == 0 {
		return result, nil
	}

	accounts, err := p.loadAccounts(ctx, automation, accountOffset)
	if err != nil {
		return nil, err
	}
	result.HasMore = len(accounts) == p.maxAccountsPerRefresh
	result.NextOffset = accountOffset + len(accounts)
	if len(accounts) == 0 {
		return result, nil
	}

	evalCtx, err := p.buildEvalContext(ctx, automation, accounts)
	if err != nil {
		return nil, err
	}

	var filter *domain.FilterConfig
	if automation.Filter != nil {
		filter = automation.Filter
	} else {
		filter = &domain.FilterConfig{}
	}

	base := filter.BaseFilter()
	var candidates []*domain.Account
	for _, account := range accounts {
		if !account.IsSendable() {
			continue
		}
		if p.evaluator.Matches(base, account, evalCtx) {
			candidates = append(candidates, account)
		}
	}
	if len(candidates) == 0 {
		return result, nil
	}

	existing, err := p.scheduledRepo.ListQualificationKeys(ctx, automation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing plans: %w", err)
	}

	specs := deriveTriggerSpecs(filter.DateTriggerRules())

	var rows []*domain.ScheduledEmail
	if len(specs) == 0 {
		rows = p.materializeImmediate(automation, candidates, steps, evalCtx.Now, existing)
	} else {
		rows = p.materializeTriggered(automation, candidates, specs, steps, evalCtx, existing)
	}

	rows = p.applyPacing(rows, automation.Pacing(), automation, evalCtx.Now)

	inserted, errs := p.insertBatches(ctx, rows, existing)
	result.NewScheduled = inserted
	result.Errors = errs

	return result, nil
}

// resolveEmailSteps walks the workflow nodes in order, accumulating delays
// and resolving every send_email step's template. Condition nodes recurse
// into their yes branch only; the no branch is resolved at runtime.
func (p *Planner) resolveEmailSteps(ctx context.Context, automation *domain.Automation) ([]emailStep, error) {
	var steps []emailStep
	offset := 0.0

	var walk func(nodes []*domain.WorkflowNode) error
	walk = func(nodes []*domain.WorkflowNode) error {
		for _, node := range nodes {
			switch node.Type {
			case domain.NodeTypeEntryCriteria, domain.NodeTypeTrigger:
				continue
			case domain.NodeTypeDelay:
				cfg, err := node.DelayConfig()
				if err != nil {
					return err
				}
				offset += cfg.Days()
			case domain.NodeTypeSendEmail:
				cfg, err := node.SendEmailConfig()
				if err != nil {
					return err
				}
				template, err := p.resolveTemplate(ctx, automation, cfg)
				if err != nil {
					return err
				}
				steps = append(steps, emailStep{
					NodeID:     node.ID,
					TemplateID: template.ID,
					Subject:    template.Subject,
					DaysOffset: offset,
				})
			case domain.NodeTypeCondition:
				children, err := node.YesBranch()
				if err != nil {
					return err
				}
				if err := walk(children); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(automation.Nodes); err != nil {
		return nil, err
	}
	return steps, nil
}

func (p *Planner) resolveTemplate(ctx context.Context, automation *domain.Automation, cfg domain.SendEmailNodeConfig) (*domain.EmailTemplate, error) {
	if cfg.Template != "" {
		return p.templateRepo.GetByID(ctx, cfg.Template)
	}
	ownerID := ""
	if automation.OwnerID != nil {
		ownerID = *automation.OwnerID
	}
	return p.templateRepo.GetByDefaultKey(ctx, ownerID, cfg.TemplateKey)
}

func (p *Planner) loadAccounts(ctx context.Context, automation *domain.Automation, offset int) ([]*domain.Account, error) {
	if automation.OwnerID != nil {
		return p.accountRepo.ListByOwner(ctx, *automation.OwnerID, offset, p.maxAccountsPerRefresh)
	}
	return p.accountRepo.ListAll(ctx, offset, p.maxAccountsPerRefresh)
}

// buildEvalContext precomputes the policy, last-email and geocode lookups for
// the account batch.
func (p *Planner) buildEvalContext(ctx context.Context, automation *domain.Automation, accounts []*domain.Account) (*EvalContext, error) {
	accountIDs := make([]string, len(accounts))
	for i, a := range accounts {
		accountIDs[i] = a.ID
	}

	policies, err := p.policyRepo.ListByAccountIDs(ctx, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	lastSent, err := p.emailLogRepo.LastSentByAccount(ctx, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load last-sent index: %w", err)
	}

	evalCtx := &EvalContext{
		Now:           p.now(),
		Policies:      policies,
		LastEmailSent: lastSent,
		Geocode:       map[string]*geocode.Point{},
	}

	if p.geocoder != nil && filterUsesLocation(automation.Filter) {
		var keys []string
		for _, a := range accounts {
			if key := geocode.BuildLocationKey(a.City, a.State, a.PostalCode); key != "" {
				keys = append(keys, key)
			}
		}
		evalCtx.Geocode = p.geocoder.LookupBatch(ctx, keys)
	}

	return evalCtx, nil
}

func filterUsesLocation(filter *domain.FilterConfig) bool {
	if filter == nil {
		return false
	}
	for _, g := range filter.Groups {
		for _, r := range g.Rules {
			if r.Field == domain.FieldLocation {
				return true
			}
		}
	}
	return false
}

// deriveTriggerSpecs folds the date-trigger rules into one spec per field.
// Inner bounds (in_next_days, more_than_days_future) set where the journey
// starts; less_than_days_future is an outer bound used only for previews;
// in_last_days sends after the trigger.
func deriveTriggerSpecs(rules []domain.FilterRule) []triggerSpec {
	byField := map[string]*triggerSpec{}
	var order []string

	for _, rule := range rules {
		spec, ok := byField[rule.Field]
		if !ok {
			spec = &triggerSpec{Field: rule.Field}
			byField[rule.Field] = spec
			order = append(order, rule.Field)
		}
		if rule.PolicyType != "" {
			spec.PolicyType = rule.PolicyType
		}
		if rule.PolicyTerm != "" {
			spec.PolicyTerm = rule.PolicyTerm
		}

		n, ok := parseInt(rule.Value)
		if !ok {
			continue
		}
		switch rule.Operator {
		case domain.OpInNextDays, domain.OpMoreThanDaysFuture:
			if n > spec.DaysBefore {
				spec.DaysBefore = n
			}
		case domain.OpInLastDays:
			spec.DaysBefore = -n
		case domain.OpLessThanDaysFuture, domain.OpLessThanDaysFutureL:
			// outer bound only; does not move the journey start
		}
	}

	specs := make([]triggerSpec, 0, len(order))
	for _, field := range order {
		specs = append(specs, *byField[field])
	}
	return specs
}

// materializeTriggered builds rows for every (account, trigger date, step)
// combination within the horizon.
func (p *Planner) materializeTriggered(
	automation *domain.Automation,
	candidates []*domain.Account,
	specs []triggerSpec,
	steps []emailStep,
	evalCtx *EvalContext,
	existing map[string]bool,
) []*domain.ScheduledEmail {
	now := evalCtx.Now
	horizon := now.Add(planHorizon)
	wallClock, timezone := p.sendClock(automation)

	var rows []*domain.ScheduledEmail
	for _, account := range candidates {
		for _, spec := range specs {
			for _, triggerDate := range triggerDates(account, evalCtx.Policies[account.ID], spec) {
				qualification := triggerDate.Format("2006-01-02")
				firstQualDate := triggerDate.AddDate(0, 0, -spec.DaysBefore)

				for _, step := range steps {
					key := domain.DedupKey(automation.ID, account.ID, step.TemplateID, qualification)
					if existing[key] {
						continue
					}

					sendDate := firstQualDate.AddDate(0, 0, int(math.Round(step.DaysOffset)))
					scheduledFor, err := sendtime.ToUTCForDate(sendDate, wallClock, timezone)
					if err != nil {
						continue
					}
					if scheduledFor.Before(now) || scheduledFor.After(horizon) {
						continue
					}

					rows = append(rows, p.buildRow(automation, account, step, scheduledFor, qualification, spec.Field, true))
					existing[key] = true
				}
			}
		}
	}
	return rows
}

// materializeImmediate handles automations without date triggers: one row per
// step anchored on activation. A first step whose send time has already
// passed today rolls to tomorrow.
func (p *Planner) materializeImmediate(
	automation *domain.Automation,
	candidates []*domain.Account,
	steps []emailStep,
	now time.Time,
	existing map[string]bool,
) []*domain.ScheduledEmail {
	wallClock, timezone := p.sendClock(automation)

	var rows []*domain.ScheduledEmail
	for _, account := range candidates {
		for _, step := range steps {
			key := domain.DedupKey(automation.ID, account.ID, step.TemplateID, domain.QualificationImmediate)
			if existing[key] {
				continue
			}

			sendDate := now.AddDate(0, 0, int(math.Round(step.DaysOffset)))
			scheduledFor, err := sendtime.ToUTCForDate(sendDate, wallClock, timezone)
			if err != nil {
				continue
			}
			if !scheduledFor.After(now) {
				scheduledFor, err = sendtime.ToUTCForDate(sendDate.AddDate(0, 0, 1), wallClock, timezone)
				if err != nil {
					continue
				}
			}

			row := p.buildRow(automation, account, step, scheduledFor, domain.QualificationImmediate, domain.TriggerFieldActivation, false)
			rows = append(rows, row)
			existing[key] = true
		}
	}
	return rows
}

func (p *Planner) buildRow(
	automation *domain.Automation,
	account *domain.Account,
	step emailStep,
	scheduledFor time.Time,
	qualification, triggerField string,
	requiresVerification bool,
) *domain.ScheduledEmail {
	ownerID := account.OwnerID
	if automation.OwnerID != nil {
		ownerID = *automation.OwnerID
	}
	automationID := automation.ID
	return &domain.ScheduledEmail{
		OwnerID:              ownerID,
		AutomationID:         &automationID,
		AccountID:            account.ID,
		TemplateID:           step.TemplateID,
		ToEmail:              account.Email,
		ToName:               account.FullName(),
		Subject:              step.Subject,
		ScheduledFor:         scheduledFor,
		Status:               domain.ScheduledEmailStatusPending,
		RequiresVerification: requiresVerification,
		QualificationValue:   qualification,
		TriggerField:         triggerField,
		NodeID:               step.NodeID,
		MaxAttempts:          domain.DefaultMaxAttempts,
	}
}

func (p *Planner) sendClock(automation *domain.Automation) (wallClock, timezone string) {
	wallClock = automation.SendTime
	timezone = automation.Timezone

	// a trigger node's explicit clock wins over the automation defaults
	for _, node := range automation.Nodes {
		if node.Type != domain.NodeTypeTrigger {
			continue
		}
		cfg, err := node.TriggerConfig()
		if err == nil {
			if cfg.Time != "" {
				wallClock = cfg.Time
			}
			if cfg.Timezone != "" {
				timezone = cfg.Timezone
			}
		}
		break
	}

	if wallClock == "" {
		wallClock = defaultSendTime
	}
	if timezone == "" {
		timezone = sendtime.DefaultTimezone
	}
	return wallClock, timezone
}

// triggerDates derives the anchoring dates for one account under a spec:
// dates from Active policies matching the optional sub-filters, or the
// account's creation date.
func triggerDates(account *domain.Account, policies []*domain.Policy, spec triggerSpec) []time.Time {
	if spec.Field == domain.FieldAccountCreated {
		return []time.Time{dateOnly(account.CreatedAt)}
	}

	var dates []time.Time
	seen := map[string]bool{}
	for _, policy := range policies {
		if !policy.IsActive() {
			continue
		}
		if spec.PolicyType != "" &&
			!strings.Contains(strings.ToLower(policy.Lob), strings.ToLower(strings.TrimSpace(spec.PolicyType))) {
			continue
		}
		if spec.PolicyTerm != "" &&
			!strings.Contains(domain.NormalizeTerm(policy.Term), domain.NormalizeTerm(spec.PolicyTerm)) {
			continue
		}
		date := policy.DateField(spec.Field)
		if date == nil {
			continue
		}
		day := dateOnly(*date)
		iso := day.Format("2006-01-02")
		if !seen[iso] {
			seen[iso] = true
			dates = append(dates, day)
		}
	}
	return dates
}

// applyPacing distributes rows across allowed days. With pacing enabled the
// rows are re-bucketed round-robin over the next spreadOverDays allowed
// dates; otherwise rows landing on a disallowed weekday shift forward to the
// next allowed day.
func (p *Planner) applyPacing(rows []*domain.ScheduledEmail, pacing *domain.PacingConfig, automation *domain.Automation, now time.Time) []*domain.ScheduledEmail {
	if pacing == nil || len(rows) == 0 {
		return rows
	}

	allowed := allowedWeekdays(pacing.AllowedDays)

	if pacing.Enabled && pacing.SpreadOverDays > 0 {
		// once today's send instant is behind us, re-bucketing may not
		// land rows back on today
		start := dateOnly(now)
		wallClock, timezone := p.sendClock(automation)
		if instant, err := sendtime.ToUTCForDate(start, wallClock, timezone); err == nil && !instant.After(now) {
			start = start.AddDate(0, 0, 1)
		}

		validDates := enumerateAllowedDates(start, pacing.SpreadOverDays, allowed)
		if len(validDates) == 0 {
			return rows
		}
		perBucket := int(math.Ceil(float64(len(rows)) / float64(len(validDates))))
		for i, row := range rows {
			bucket := i / perBucket
			if bucket >= len(validDates) {
				bucket = len(validDates) - 1
			}
			reassignDate(row, validDates[bucket])
		}
		return rows
	}

	if len(allowed) > 0 && len(allowed) < 7 {
		for _, row := range rows {
			for shift := 0; shift < 7; shift++ {
				day := row.ScheduledFor.AddDate(0, 0, shift)
				if allowed[day.Weekday()] {
					if shift > 0 {
						reassignDate(row, day)
					}
					break
				}
			}
		}
	}
	return rows
}

// reassignDate moves a row to another calendar date, keeping its wall-clock
// send instant.
func reassignDate(row *domain.ScheduledEmail, date time.Time) {
	row.ScheduledFor = time.Date(
		date.Year(), date.Month(), date.Day(),
		row.ScheduledFor.Hour(), row.ScheduledFor.Minute(), 0, 0, time.UTC,
	)
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func allowedWeekdays(names []string) map[time.Weekday]bool {
	allowed := map[time.Weekday]bool{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if len(name) < 3 {
			continue
		}
		if wd, ok := weekdayNames[name[:3]]; ok {
			allowed[wd] = true
		}
	}
	return allowed
}

// enumerateAllowedDates returns up to spreadOverDays dates starting at the
// given day whose weekday is allowed; an empty allow set allows every day.
func enumerateAllowedDates(start time.Time, spreadOverDays int, allowed map[time.Weekday]bool) []time.Time {
	var dates []time.Time
	day := start
	for scanned := 0; len(dates) < spreadOverDays && scanned < spreadOverDays*7+7; scanned++ {
		if len(allowed) == 0 || allowed[day.Weekday()] {
			dates = append(dates, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return dates
}

// insertBatches inserts rows in fixed-size batches. A failing batch is
// recorded and skipped; later batches still run.
func (p *Planner) insertBatches(ctx context.Context, rows []*domain.ScheduledEmail, existing map[string]bool) (int, []string) {
	inserted := 0
	var errs []string

	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		n, err := p.scheduledRepo.InsertBatch(ctx, batch)
		if err != nil {
			p.logger.WithField("error", err.Error()).Error("batch insert failed")
			errs = append(errs, fmt.Sprintf("batch insert failed: %v", err))
			continue
		}
		inserted += n
		for _, row := range batch {
			existing[row.DedupKey()] = true
		}
	}

	return inserted, errs
}
