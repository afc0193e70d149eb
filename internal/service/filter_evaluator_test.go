package service

import (
	"testing"
	"time"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/insurgrowth/insurgrowth/pkg/geocode"
	"github.com/stretchr/testify/assert"
)

func evalNow() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func emptyEvalCtx() *EvalContext {
	return &EvalContext{
		Now:           evalNow(),
		Policies:      map[string][]*domain.Policy{},
		LastEmailSent: map[string]time.Time{},
		Geocode:       map[string]*geocode.Point{},
	}
}

func singleRuleFilter(rule domain.FilterRule) *domain.FilterConfig {
	return &domain.FilterConfig{
		Groups: []domain.FilterGroup{{Rules: []domain.FilterRule{rule}}},
	}
}

func datePtr(t time.Time) *time.Time { return &t }

func TestMatchesEmptyFilterMatchesEverything(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1", Email: "jo@example.com"}

	assert.True(t, e.Matches(nil, account, emptyEvalCtx()))
	assert.True(t, e.Matches(&domain.FilterConfig{}, account, emptyEvalCtx()))
	assert.Equal(t, []int{0}, e.MatchedGroups(&domain.FilterConfig{}, account, emptyEvalCtx()))
}

func TestMatchesNotOptedOutPreCheck(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	filter := &domain.FilterConfig{NotOptedOut: true}

	assert.True(t, e.Matches(filter, &domain.Account{ID: "a1"}, emptyEvalCtx()))
	assert.False(t, e.Matches(filter, &domain.Account{ID: "a2", OptedOut: true}, emptyEvalCtx()))
}

func TestMatchesSearchPreCheck(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1", FirstName: "Maria", LastName: "Lopez", Email: "maria@acme.com", CompanyName: "Acme Insurance"}

	assert.True(t, e.Matches(&domain.FilterConfig{Search: "lopez"}, account, emptyEvalCtx()))
	assert.True(t, e.Matches(&domain.FilterConfig{Search: "ACME"}, account, emptyEvalCtx()))
	assert.False(t, e.Matches(&domain.FilterConfig{Search: "nowhere"}, account, emptyEvalCtx()))
}

func TestMatchesGroupsAreORRulesAreAND(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	filter := &domain.FilterConfig{
		Groups: []domain.FilterGroup{
			{Rules: []domain.FilterRule{
				{Field: domain.FieldState, Operator: domain.OpIs, Value: "TX"},
				{Field: domain.FieldCity, Operator: domain.OpEquals, Value: "Austin"},
			}},
			{Rules: []domain.FilterRule{
				{Field: domain.FieldState, Operator: domain.OpIs, Value: "OK"},
			}},
		},
	}

	austin := &domain.Account{ID: "a1", State: "TX", City: "Austin"}
	dallas := &domain.Account{ID: "a2", State: "TX", City: "Dallas"}
	tulsa := &domain.Account{ID: "a3", State: "OK", City: "Tulsa"}

	assert.Equal(t, []int{0}, e.MatchedGroups(filter, austin, emptyEvalCtx()))
	assert.Empty(t, e.MatchedGroups(filter, dallas, emptyEvalCtx()))
	assert.Equal(t, []int{1}, e.MatchedGroups(filter, tulsa, emptyEvalCtx()))
}

func TestEvalRuleDegenerateRulesAreNoOps(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1", State: "TX"}

	// missing value: rule evaluates true instead of excluding everyone
	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldState, Operator: domain.OpIs, Value: "",
	}), account, emptyEvalCtx()))

	// is_empty works without a value
	assert.False(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldState, Operator: domain.OpIsEmpty,
	}), account, emptyEvalCtx()))
	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldCity, Operator: domain.OpIsEmpty,
	}), account, emptyEvalCtx()))
}

func TestEvalRuleValueSetOperators(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1", State: "tx"}

	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldState, Operator: domain.OpIsAny, Value: "TX, OK, NM",
	}), account, emptyEvalCtx()))
	assert.False(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldState, Operator: domain.OpIsNotAny, Value: "TX, OK",
	}), account, emptyEvalCtx()))
	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldState, Operator: domain.OpIsNot, Value: "OK",
	}), account, emptyEvalCtx()))
}

func TestEvalRulePolicyExistentialSemantics(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1"}
	ctx := emptyEvalCtx()
	ctx.Policies["a1"] = []*domain.Policy{
		{ID: "p1", AccountID: "a1", Lob: "Personal Auto", Status: "Cancelled"},
		{ID: "p2", AccountID: "a1", Lob: "Homeowners", Status: "Active"},
	}

	// policy_type matches any policy by substring, regardless of status
	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldPolicyType, Operator: domain.OpIs, Value: "auto",
	}), account, ctx))

	// active_policy_type requires Active status
	assert.False(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldActivePolicyType, Operator: domain.OpIs, Value: "auto",
	}), account, ctx))
	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldActivePolicyType, Operator: domain.OpIs, Value: "home",
	}), account, ctx))

	// no policies at all: existential rules are false
	bare := &domain.Account{ID: "a2"}
	assert.False(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldPolicyType, Operator: domain.OpIs, Value: "auto",
	}), bare, ctx))
}

func TestEvalRulePolicyCount(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1"}
	ctx := emptyEvalCtx()
	ctx.Policies["a1"] = []*domain.Policy{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}

	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldPolicyCount, Operator: domain.OpAtLeast, Value: "2",
	}), account, ctx))
	assert.False(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldPolicyCount, Operator: domain.OpGreaterThan, Value: "3",
	}), account, ctx))
	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldPolicyCount, Operator: domain.OpBetween, Value: "2", Value2: "5",
	}), account, ctx))
}

func TestEvalRuleRelativeDateOperators(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1"}

	// now = 2025-03-01 throughout
	withExpiration := func(day time.Time) *EvalContext {
		c := emptyEvalCtx()
		c.Policies["a1"] = []*domain.Policy{
			{ID: "p1", AccountID: "a1", Lob: "Auto", Status: "Active", ExpirationDate: datePtr(day)},
		}
		return c
	}

	in30 := withExpiration(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
	in90 := withExpiration(time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC))
	ago10 := withExpiration(time.Date(2025, 2, 19, 0, 0, 0, 0, time.UTC))

	rule := func(op, value string) *domain.FilterConfig {
		return singleRuleFilter(domain.FilterRule{Field: domain.FieldPolicyExpiration, Operator: op, Value: value})
	}

	assert.True(t, e.Matches(rule(domain.OpInNextDays, "45"), account, in30))
	assert.False(t, e.Matches(rule(domain.OpInNextDays, "45"), account, in90))
	assert.False(t, e.Matches(rule(domain.OpInNextDays, "45"), account, ago10))

	assert.True(t, e.Matches(rule(domain.OpMoreThanDaysFuture, "60"), account, in90))
	assert.False(t, e.Matches(rule(domain.OpMoreThanDaysFuture, "60"), account, in30))

	assert.True(t, e.Matches(rule(domain.OpLessThanDaysFuture, "45"), account, in30))
	assert.False(t, e.Matches(rule(domain.OpLessThanDaysFuture, "45"), account, ago10))
	// legacy operator spelling behaves identically
	assert.True(t, e.Matches(rule(domain.OpLessThanDaysFutureL, "45"), account, in30))

	assert.True(t, e.Matches(rule(domain.OpInLastDays, "30"), account, ago10))
	assert.False(t, e.Matches(rule(domain.OpInLastDays, "5"), account, ago10))

	assert.True(t, e.Matches(rule(domain.OpMoreThanDaysAgo, "5"), account, ago10))
	assert.False(t, e.Matches(rule(domain.OpMoreThanDaysAgo, "30"), account, ago10))

	assert.True(t, e.Matches(rule(domain.OpLessThanDaysAgo, "30"), account, ago10))
	assert.False(t, e.Matches(rule(domain.OpLessThanDaysAgo, "30"), account, in30))
}

func TestEvalRuleAbsoluteDateOperators(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1", CreatedAt: time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC)}

	rule := func(op, value, value2 string) *domain.FilterConfig {
		return singleRuleFilter(domain.FilterRule{Field: domain.FieldAccountCreated, Operator: op, Value: value, Value2: value2})
	}

	assert.True(t, e.Matches(rule(domain.OpBefore, "2024-07-01", ""), account, emptyEvalCtx()))
	assert.False(t, e.Matches(rule(domain.OpBefore, "2024-06-01", ""), account, emptyEvalCtx()))
	assert.True(t, e.Matches(rule(domain.OpAfter, "2024-06-01", ""), account, emptyEvalCtx()))
	assert.True(t, e.Matches(rule(domain.OpBetween, "2024-06-01", "2024-06-30"), account, emptyEvalCtx()))
	assert.False(t, e.Matches(rule(domain.OpBetween, "2024-07-01", "2024-07-31"), account, emptyEvalCtx()))
}

func TestEvalRuleNeverEmailedAsymmetry(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1"}
	ctx := emptyEvalCtx() // a1 absent from LastEmailSent

	rule := func(op, value string) *domain.FilterConfig {
		return singleRuleFilter(domain.FilterRule{Field: domain.FieldLastEmailSent, Operator: op, Value: value})
	}

	// never emailed is further in the past than any date
	assert.True(t, e.Matches(rule(domain.OpBefore, "2025-01-01"), account, ctx))
	assert.True(t, e.Matches(rule(domain.OpMoreThanDaysAgo, "90"), account, ctx))
	assert.False(t, e.Matches(rule(domain.OpInLastDays, "90"), account, ctx))
	assert.False(t, e.Matches(rule(domain.OpAfter, "2020-01-01"), account, ctx))

	// once emailed, ordinary date matching applies
	ctx.LastEmailSent["a1"] = time.Date(2025, 2, 25, 9, 0, 0, 0, time.UTC)
	assert.True(t, e.Matches(rule(domain.OpInLastDays, "10"), account, ctx))
	assert.False(t, e.Matches(rule(domain.OpMoreThanDaysAgo, "10"), account, ctx))
}

func TestEvalRuleEmailDomainAndText(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1", Email: "sam@GmaiL.com", PostalCode: "73301"}

	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldEmailDomain, Operator: domain.OpEquals, Value: "gmail.com",
	}), account, emptyEvalCtx()))
	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldZipCode, Operator: domain.OpStartsWith, Value: "733",
	}), account, emptyEvalCtx()))
	assert.False(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldZipCode, Operator: domain.OpEndsWith, Value: "99",
	}), account, emptyEvalCtx()))
}

func TestEvalRulePolicyTermNormalization(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	account := &domain.Account{ID: "a1"}
	ctx := emptyEvalCtx()
	ctx.Policies["a1"] = []*domain.Policy{
		{ID: "p1", AccountID: "a1", Lob: "Auto", Status: "Active", Term: "6 months"},
	}

	assert.True(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldPolicyTerm, Operator: domain.OpIs, Value: "6 month",
	}), account, ctx))
	assert.False(t, e.Matches(singleRuleFilter(domain.FilterRule{
		Field: domain.FieldPolicyTerm, Operator: domain.OpIs, Value: "12 months",
	}), account, ctx))
}

func TestEvalRuleLocationRadius(t *testing.T) {
	e := NewFilterEvaluator(testLogger())
	austin := &domain.Account{ID: "a1", City: "Austin", State: "TX", PostalCode: "78701"}
	ctx := emptyEvalCtx()
	ctx.Geocode[geocode.BuildLocationKey("Austin", "TX", "78701")] = &geocode.Point{Lat: 30.2672, Lng: -97.7431}

	// center on downtown Austin, 25 mile radius
	near := singleRuleFilter(domain.FilterRule{
		Field: domain.FieldLocation, Operator: domain.OpWithinRadius,
		Value: "30.25, -97.75", Radius: 25,
	})
	assert.True(t, e.Matches(near, austin, ctx))

	// center on Dallas, 25 mile radius
	far := singleRuleFilter(domain.FilterRule{
		Field: domain.FieldLocation, Operator: domain.OpWithinRadius,
		Value: "32.7767, -96.7970", Radius: 25,
	})
	assert.False(t, e.Matches(far, austin, ctx))

	// no geocode result: fail closed
	nowhere := &domain.Account{ID: "a2", City: "Nowhere", State: "TX"}
	assert.False(t, e.Matches(near, nowhere, ctx))

	// missing radius: degenerate, no-op
	degenerate := singleRuleFilter(domain.FilterRule{
		Field: domain.FieldLocation, Operator: domain.OpWithinRadius, Value: "30.25, -97.75",
	})
	assert.True(t, e.Matches(degenerate, nowhere, ctx))
}
