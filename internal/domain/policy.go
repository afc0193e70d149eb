package domain

import (
	"context"
	"strings"
	"time"
)

// PolicyStatusActive is the only policy status that drives date triggers.
const PolicyStatusActive = "Active"

// Policy is an insurance policy attached to an account.
type Policy struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"account_id"`
	Lob            string     `json:"lob"` // line of business, e.g. "Auto", "Homeowners"
	Status         string     `json:"status"`
	EffectiveDate  *time.Time `json:"effective_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	Term           string     `json:"term,omitempty"` // e.g. "6 months"
	CreatedAt      time.Time  `json:"created_at"`
}

// IsActive reports whether the policy status is Active, ignoring case and
// surrounding whitespace.
func (p *Policy) IsActive() bool {
	return strings.EqualFold(strings.TrimSpace(p.Status), PolicyStatusActive)
}

// DateField returns the policy date for a trigger field name, or nil when the
// field does not apply.
func (p *Policy) DateField(field string) *time.Time {
	switch field {
	case FieldPolicyExpiration:
		return p.ExpirationDate
	case FieldPolicyEffective:
		return p.EffectiveDate
	default:
		return nil
	}
}

// NormalizeTerm strips the trailing "month"/"months" from a term label for
// comparison, so "6 months" and "6 month" compare equal.
func NormalizeTerm(term string) string {
	t := strings.ToLower(strings.TrimSpace(term))
	t = strings.TrimSuffix(t, "months")
	t = strings.TrimSuffix(t, "month")
	return strings.TrimSpace(t)
}

// PolicyRepository defines data access for policies.
type PolicyRepository interface {
	// ListByAccountIDs returns policies grouped by account, batching the
	// underlying queries.
	ListByAccountIDs(ctx context.Context, accountIDs []string) (map[string][]*Policy, error)

	ListByAccount(ctx context.Context, accountID string) ([]*Policy, error)

	// ExistsActiveWithDate reports whether the account still holds an Active
	// policy whose date field equals the given calendar date.
	ExistsActiveWithDate(ctx context.Context, accountID, field string, date time.Time) (bool, error)
}
