package domain

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Recognized filter rule fields.
const (
	FieldAccountStatus    = "account_status"
	FieldCustomerStatus   = "customer_status"
	FieldPolicyType       = "policy_type"
	FieldActivePolicyType = "active_policy_type"
	FieldPolicyStatus     = "policy_status"
	FieldPolicyCount      = "policy_count"
	FieldPolicyExpiration = "policy_expiration"
	FieldPolicyEffective  = "policy_effective"
	FieldAccountCreated   = "account_created"
	FieldLastEmailSent    = "last_email_sent"
	FieldState            = "state"
	FieldCity             = "city"
	FieldZipCode          = "zip_code"
	FieldEmailDomain      = "email_domain"
	FieldLocation         = "location"
	FieldPolicyTerm       = "policy_term"
)

// Recognized rule operators.
const (
	OpIs       = "is"
	OpIsNot    = "is_not"
	OpIsAny    = "is_any"
	OpIsNotAny = "is_not_any"

	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpAtLeast     = "at_least"
	OpAtMost      = "at_most"
	OpBetween     = "between"

	OpInNextDays          = "in_next_days"
	OpInLastDays          = "in_last_days"
	OpMoreThanDaysFuture  = "more_than_days_future"
	OpLessThanDaysFuture  = "less_than_days_future"
	OpLessThanDaysFutureL = "less_than_than_days_future" // legacy spelling kept for stored configs
	OpMoreThanDaysAgo     = "more_than_days_ago"
	OpLessThanDaysAgo     = "less_than_days_ago"
	OpBefore              = "before"
	OpAfter               = "after"

	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"

	OpWithinRadius = "within_radius"
)

// FilterRule is one predicate over account or policy attributes.
type FilterRule struct {
	Field    string  `json:"field"`
	Operator string  `json:"operator"`
	Value    string  `json:"value,omitempty"`
	Value2   string  `json:"value2,omitempty"`
	Radius   float64 `json:"radius,omitempty"`

	// Optional sub-filters on date-trigger rules: restrict which policies
	// anchor the trigger.
	PolicyType string `json:"policyType,omitempty"`
	PolicyTerm string `json:"policyTerm,omitempty"`
}

// IsDateField reports whether the rule targets one of the relative-date
// trigger fields.
func (r *FilterRule) IsDateField() bool {
	switch r.Field {
	case FieldPolicyExpiration, FieldPolicyEffective, FieldAccountCreated:
		return true
	default:
		return false
	}
}

// IsRelativeDateOperator reports whether the operator is a relative-date
// predicate (the kind the planner turns into a trigger offset).
func (r *FilterRule) IsRelativeDateOperator() bool {
	switch r.Operator {
	case OpInNextDays, OpInLastDays, OpMoreThanDaysFuture,
		OpLessThanDaysFuture, OpLessThanDaysFutureL:
		return true
	default:
		return false
	}
}

// IsDateTrigger reports whether the rule should anchor a scheduling plan:
// a relative-date operator on a trigger-date field.
func (r *FilterRule) IsDateTrigger() bool {
	return r.IsDateField() && r.IsRelativeDateOperator()
}

// FilterGroup is a conjunction of rules.
type FilterGroup struct {
	Rules []FilterRule `json:"rules"`
}

// FilterConfig describes which accounts an automation targets. Accounts match
// iff at least one group matches (OR); a group matches iff every rule matches
// (AND). An empty group list matches everything, subject to NotOptedOut and
// Search.
type FilterConfig struct {
	Groups      []FilterGroup `json:"groups"`
	NotOptedOut bool          `json:"notOptedOut"`
	Search      string        `json:"search,omitempty"`
}

// UnmarshalJSON accepts both the current {groups: [...]} shape and the legacy
// {rules: [...]} shape, which means a single group of that rule list.
func (f *FilterConfig) UnmarshalJSON(data []byte) error {
	type alias FilterConfig
	var cfg alias
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}

	if len(cfg.Groups) == 0 && gjson.GetBytes(data, "rules").IsArray() {
		var rules []FilterRule
		if err := json.Unmarshal([]byte(gjson.GetBytes(data, "rules").Raw), &rules); err != nil {
			return fmt.Errorf("failed to parse legacy rules: %w", err)
		}
		if len(rules) > 0 {
			cfg.Groups = []FilterGroup{{Rules: rules}}
		}
	}

	*f = FilterConfig(cfg)
	return nil
}

// DateTriggerRules returns every date-trigger rule across all groups, in
// group order.
func (f *FilterConfig) DateTriggerRules() []FilterRule {
	var out []FilterRule
	for _, g := range f.Groups {
		for _, r := range g.Rules {
			if r.IsDateTrigger() {
				out = append(out, r)
			}
		}
	}
	return out
}

// BaseFilter returns a copy of the filter with the date-trigger rules
// removed; the planner evaluates this to find candidate accounts.
func (f *FilterConfig) BaseFilter() *FilterConfig {
	base := &FilterConfig{
		NotOptedOut: f.NotOptedOut,
		Search:      f.Search,
	}
	for _, g := range f.Groups {
		var rules []FilterRule
		for _, r := range g.Rules {
			if !r.IsDateTrigger() {
				rules = append(rules, r)
			}
		}
		base.Groups = append(base.Groups, FilterGroup{Rules: rules})
	}
	return base
}

// Validate checks the filter for unknown fields.
func (f *FilterConfig) Validate() error {
	known := map[string]bool{
		FieldAccountStatus: true, FieldCustomerStatus: true,
		FieldPolicyType: true, FieldActivePolicyType: true, FieldPolicyStatus: true,
		FieldPolicyCount: true, FieldPolicyExpiration: true, FieldPolicyEffective: true,
		FieldAccountCreated: true, FieldLastEmailSent: true,
		FieldState: true, FieldCity: true, FieldZipCode: true, FieldEmailDomain: true,
		FieldLocation: true, FieldPolicyTerm: true,
	}
	for gi, g := range f.Groups {
		for ri, r := range g.Rules {
			if r.Field == "" {
				return fmt.Errorf("group %d rule %d: field is required", gi, ri)
			}
			if !known[r.Field] {
				return fmt.Errorf("group %d rule %d: unknown field %q", gi, ri, r.Field)
			}
			if r.Operator == "" {
				return fmt.Errorf("group %d rule %d: operator is required", gi, ri)
			}
		}
	}
	return nil
}
