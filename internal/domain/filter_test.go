package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterConfigUnmarshalGroups(t *testing.T) {
	raw := `{
		"groups": [
			{"rules": [{"field": "state", "operator": "is", "value": "TX"}]},
			{"rules": [{"field": "policy_type", "operator": "contains", "value": "auto"}]}
		],
		"notOptedOut": true,
		"search": "smith"
	}`
	var cfg FilterConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	require.Len(t, cfg.Groups, 2)
	assert.True(t, cfg.NotOptedOut)
	assert.Equal(t, "smith", cfg.Search)
	assert.Equal(t, FieldState, cfg.Groups[0].Rules[0].Field)
}

func TestFilterConfigUnmarshalLegacyRules(t *testing.T) {
	raw := `{
		"rules": [
			{"field": "policy_expiration", "operator": "in_next_days", "value": "60"},
			{"field": "state", "operator": "is", "value": "TX"}
		]
	}`
	var cfg FilterConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	require.Len(t, cfg.Groups, 1)
	require.Len(t, cfg.Groups[0].Rules, 2)
	assert.Equal(t, FieldPolicyExpiration, cfg.Groups[0].Rules[0].Field)
}

func TestFilterRuleIsDateTrigger(t *testing.T) {
	assert.True(t, (&FilterRule{Field: FieldPolicyExpiration, Operator: OpInNextDays}).IsDateTrigger())
	assert.True(t, (&FilterRule{Field: FieldAccountCreated, Operator: OpInLastDays}).IsDateTrigger())
	assert.True(t, (&FilterRule{Field: FieldPolicyEffective, Operator: OpMoreThanDaysFuture}).IsDateTrigger())
	assert.True(t, (&FilterRule{Field: FieldPolicyExpiration, Operator: OpLessThanDaysFutureL}).IsDateTrigger())

	// absolute date operators stay in the base filter
	assert.False(t, (&FilterRule{Field: FieldPolicyExpiration, Operator: OpBefore, Value: "2025-01-01"}).IsDateTrigger())
	// relative ops on non-trigger fields are base rules too
	assert.False(t, (&FilterRule{Field: FieldLastEmailSent, Operator: OpInLastDays, Value: "7"}).IsDateTrigger())
}

func TestFilterConfigBaseFilterStripsTriggers(t *testing.T) {
	cfg := &FilterConfig{
		Groups: []FilterGroup{{Rules: []FilterRule{
			{Field: FieldActivePolicyType, Operator: OpIs, Value: "Auto"},
			{Field: FieldPolicyExpiration, Operator: OpMoreThanDaysFuture, Value: "60"},
		}}},
		NotOptedOut: true,
	}
	base := cfg.BaseFilter()
	require.Len(t, base.Groups, 1)
	require.Len(t, base.Groups[0].Rules, 1)
	assert.Equal(t, FieldActivePolicyType, base.Groups[0].Rules[0].Field)
	assert.True(t, base.NotOptedOut)

	triggers := cfg.DateTriggerRules()
	require.Len(t, triggers, 1)
	assert.Equal(t, FieldPolicyExpiration, triggers[0].Field)
}

func TestFilterConfigValidate(t *testing.T) {
	ok := &FilterConfig{Groups: []FilterGroup{{Rules: []FilterRule{
		{Field: FieldCity, Operator: OpContains, Value: "austin"},
	}}}}
	assert.NoError(t, ok.Validate())

	bad := &FilterConfig{Groups: []FilterGroup{{Rules: []FilterRule{
		{Field: "shoe_size", Operator: OpEquals, Value: "12"},
	}}}}
	assert.Error(t, bad.Validate())

	missingOp := &FilterConfig{Groups: []FilterGroup{{Rules: []FilterRule{
		{Field: FieldCity},
	}}}}
	assert.Error(t, missingOp.Validate())
}
