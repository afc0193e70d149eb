package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/insurgrowth/insurgrowth/pkg/geocode"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
)

// EvalContext carries the per-batch precomputed lookups the evaluator needs:
// policies per account, the most recent successful send per account, and
// geocoded coordinates per location key. Accounts never emailed are absent
// from LastEmailSent.
type EvalContext struct {
	Now           time.Time
	Policies      map[string][]*domain.Policy
	LastEmailSent map[string]time.Time
	Geocode       map[string]*geocode.Point
}

// FilterEvaluator evaluates a filter config against accounts.
type FilterEvaluator struct {
	logger logger.Logger
}

// NewFilterEvaluator creates a FilterEvaluator
func NewFilterEvaluator(log logger.Logger) *FilterEvaluator {
	return &FilterEvaluator{logger: log}
}

// Matches reports whether the account satisfies the filter: at least one
// group matches, a group matches when every rule matches. An empty group list
// matches everything, subject to NotOptedOut and Search.
func (e *FilterEvaluator) Matches(filter *domain.FilterConfig, account *domain.Account, ctx *EvalContext) bool {
	return len(e.MatchedGroups(filter, account, ctx)) > 0
}

// MatchedGroups returns the indexes of the groups the account matches, for
// preview breakdowns. With no groups configured a match reports index 0.
func (e *FilterEvaluator) MatchedGroups(filter *domain.FilterConfig, account *domain.Account, ctx *EvalContext) []int {
	if filter == nil {
		filter = &domain.FilterConfig{}
	}

	if filter.NotOptedOut && account.OptedOut {
		return nil
	}
	if filter.Search != "" && !matchesSearch(account, filter.Search) {
		return nil
	}

	if len(filter.Groups) == 0 {
		return []int{0}
	}

	var matched []int
	for gi, group := range filter.Groups {
		ok := true
		for _, rule := range group.Rules {
			if !e.evalRule(&rule, account, ctx) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, gi)
		}
	}
	return matched
}

func matchesSearch(account *domain.Account, search string) bool {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return true
	}
	for _, hay := range []string{account.FullName(), account.Email, account.CompanyName} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// evalRule evaluates a single rule. Rules with missing values evaluate true
// rather than filtering everyone out of a partially configured automation.
func (e *FilterEvaluator) evalRule(rule *domain.FilterRule, account *domain.Account, ctx *EvalContext) bool {
	if isDegenerate(rule) {
		return true
	}

	policies := ctx.Policies[account.ID]

	switch rule.Field {
	case domain.FieldAccountStatus, domain.FieldCustomerStatus:
		return matchValueSet(rule.Operator, account.Status, rule.Value)

	case domain.FieldPolicyType:
		return anyPolicy(policies, func(p *domain.Policy) bool {
			return matchPolicySubstring(rule.Operator, p.Lob, rule.Value)
		})

	case domain.FieldActivePolicyType:
		return anyPolicy(policies, func(p *domain.Policy) bool {
			return p.IsActive() && matchPolicySubstring(rule.Operator, p.Lob, rule.Value)
		})

	case domain.FieldPolicyStatus:
		return anyPolicy(policies, func(p *domain.Policy) bool {
			return matchValueSet(rule.Operator, p.Status, rule.Value)
		})

	case domain.FieldPolicyCount:
		return matchNumeric(rule.Operator, float64(len(policies)), rule.Value, rule.Value2)

	case domain.FieldPolicyExpiration, domain.FieldPolicyEffective:
		return anyPolicy(policies, func(p *domain.Policy) bool {
			date := p.DateField(rule.Field)
			if date == nil {
				return false
			}
			return matchDate(rule.Operator, *date, rule.Value, rule.Value2, ctx.Now)
		})

	case domain.FieldAccountCreated:
		return matchDate(rule.Operator, account.CreatedAt, rule.Value, rule.Value2, ctx.Now)

	case domain.FieldLastEmailSent:
		lastSent, emailed := ctx.LastEmailSent[account.ID]
		if !emailed {
			// never emailed counts as further in the past than any date
			return matchNeverEmailed(rule.Operator)
		}
		return matchDate(rule.Operator, lastSent, rule.Value, rule.Value2, ctx.Now)

	case domain.FieldState:
		return matchValueSet(rule.Operator,
			strings.ToUpper(strings.TrimSpace(account.State)),
			strings.ToUpper(rule.Value))

	case domain.FieldCity:
		return matchText(rule.Operator, account.City, rule.Value)

	case domain.FieldZipCode:
		return matchText(rule.Operator, account.PostalCode, rule.Value)

	case domain.FieldEmailDomain:
		return matchText(rule.Operator, account.EmailDomain(), rule.Value)

	case domain.FieldLocation:
		return e.matchLocation(rule, account, ctx)

	case domain.FieldPolicyTerm:
		return anyPolicy(policies, func(p *domain.Policy) bool {
			return strings.Contains(
				domain.NormalizeTerm(p.Term),
				domain.NormalizeTerm(rule.Value))
		})

	default:
		return true
	}
}

// isDegenerate reports whether the rule lacks the value its operator needs;
// such rules are no-ops.
func isDegenerate(rule *domain.FilterRule) bool {
	switch rule.Operator {
	case domain.OpIsEmpty, domain.OpIsNotEmpty:
		return false
	case domain.OpWithinRadius:
		return rule.Value == "" || rule.Radius <= 0
	default:
		return rule.Value == ""
	}
}

func anyPolicy(policies []*domain.Policy, pred func(*domain.Policy) bool) bool {
	for _, p := range policies {
		if pred(p) {
			return true
		}
	}
	return false
}

// matchValueSet handles is / is_not / is_any / is_not_any with comma-split
// values, case-insensitively.
func matchValueSet(operator, actual, value string) bool {
	actual = strings.ToLower(strings.TrimSpace(actual))
	switch operator {
	case domain.OpIs, domain.OpEquals:
		return actual == strings.ToLower(strings.TrimSpace(value))
	case domain.OpIsNot, domain.OpNotEquals:
		return actual != strings.ToLower(strings.TrimSpace(value))
	case domain.OpIsAny:
		return inCommaList(actual, value)
	case domain.OpIsNotAny:
		return !inCommaList(actual, value)
	default:
		return true
	}
}

func inCommaList(actual, list string) bool {
	for _, v := range strings.Split(list, ",") {
		if strings.ToLower(strings.TrimSpace(v)) == actual {
			return true
		}
	}
	return false
}

// matchPolicySubstring handles the policy lob operators: matching is by
// substring on the lowercased line of business.
func matchPolicySubstring(operator, lob, value string) bool {
	lob = strings.ToLower(strings.TrimSpace(lob))
	switch operator {
	case domain.OpIs, domain.OpEquals, domain.OpContains:
		return strings.Contains(lob, strings.ToLower(strings.TrimSpace(value)))
	case domain.OpIsNot, domain.OpNotEquals, domain.OpNotContains:
		return !strings.Contains(lob, strings.ToLower(strings.TrimSpace(value)))
	case domain.OpIsAny:
		for _, v := range strings.Split(value, ",") {
			if strings.Contains(lob, strings.ToLower(strings.TrimSpace(v))) {
				return true
			}
		}
		return false
	case domain.OpIsNotAny:
		for _, v := range strings.Split(value, ",") {
			if strings.Contains(lob, strings.ToLower(strings.TrimSpace(v))) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func matchNumeric(operator string, actual float64, value, value2 string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return true
	}
	switch operator {
	case domain.OpEquals:
		return actual == v
	case domain.OpNotEquals:
		return actual != v
	case domain.OpGreaterThan:
		return actual > v
	case domain.OpLessThan:
		return actual < v
	case domain.OpAtLeast:
		return actual >= v
	case domain.OpAtMost:
		return actual <= v
	case domain.OpBetween:
		v2, err := strconv.ParseFloat(strings.TrimSpace(value2), 64)
		if err != nil {
			return actual >= v
		}
		return actual >= v && actual <= v2
	default:
		return true
	}
}

func matchText(operator, actual, value string) bool {
	actual = strings.ToLower(strings.TrimSpace(actual))
	value = strings.ToLower(strings.TrimSpace(value))
	switch operator {
	case domain.OpContains:
		return strings.Contains(actual, value)
	case domain.OpNotContains:
		return !strings.Contains(actual, value)
	case domain.OpEquals, domain.OpIs:
		return actual == value
	case domain.OpNotEquals, domain.OpIsNot:
		return actual != value
	case domain.OpStartsWith:
		return strings.HasPrefix(actual, value)
	case domain.OpEndsWith:
		return strings.HasSuffix(actual, value)
	case domain.OpIsEmpty:
		return actual == ""
	case domain.OpIsNotEmpty:
		return actual != ""
	default:
		return true
	}
}

// matchDate evaluates the relative and absolute date operators over calendar
// days relative to now.
func matchDate(operator string, date time.Time, value, value2 string, now time.Time) bool {
	days := calendarDaysBetween(now, date) // positive = future

	switch operator {
	case domain.OpInNextDays:
		n, ok := parseInt(value)
		return !ok || (days >= 0 && days <= n)
	case domain.OpInLastDays:
		n, ok := parseInt(value)
		return !ok || (days <= 0 && days >= -n)
	case domain.OpMoreThanDaysFuture:
		n, ok := parseInt(value)
		return !ok || days > n
	case domain.OpLessThanDaysFuture, domain.OpLessThanDaysFutureL:
		n, ok := parseInt(value)
		return !ok || (days >= 0 && days < n)
	case domain.OpMoreThanDaysAgo:
		n, ok := parseInt(value)
		return !ok || -days > n
	case domain.OpLessThanDaysAgo:
		n, ok := parseInt(value)
		return !ok || (days <= 0 && -days < n)
	case domain.OpBefore:
		ref, err := parseDate(value)
		return err != nil || dateOnly(date).Before(ref)
	case domain.OpAfter:
		ref, err := parseDate(value)
		return err != nil || dateOnly(date).After(ref)
	case domain.OpBetween:
		from, err1 := parseDate(value)
		to, err2 := parseDate(value2)
		if err1 != nil || err2 != nil {
			return true
		}
		d := dateOnly(date)
		return !d.Before(from) && !d.After(to)
	default:
		return true
	}
}

// matchNeverEmailed applies the asymmetric never-emailed semantics: it is
// treated as further in the past than any date.
func matchNeverEmailed(operator string) bool {
	switch operator {
	case domain.OpBefore, domain.OpMoreThanDaysAgo:
		return true
	default:
		return false
	}
}

func (e *FilterEvaluator) matchLocation(rule *domain.FilterRule, account *domain.Account, ctx *EvalContext) bool {
	if rule.Operator != domain.OpWithinRadius {
		return true
	}

	center, err := parseLatLng(rule.Value)
	if err != nil {
		return true
	}

	key := geocode.BuildLocationKey(account.City, account.State, account.PostalCode)
	if key == "" {
		return false
	}
	point := ctx.Geocode[key]
	if point == nil {
		return false
	}

	return geocode.DistanceMiles(center, *point) <= rule.Radius
}

func parseLatLng(value string) (geocode.Point, error) {
	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return geocode.Point{}, strconv.ErrSyntax
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geocode.Point{}, err
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geocode.Point{}, err
	}
	return geocode.Point{Lat: lat, Lng: lng}, nil
}

func parseInt(value string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	return n, err == nil
}

func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(value))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// calendarDaysBetween counts whole calendar days from a to b; positive when b
// is after a.
func calendarDaysBetween(a, b time.Time) int {
	return int(dateOnly(b).Sub(dateOnly(a)).Hours() / 24)
}
