package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/lib/pq"
)

// PolicyRepository implements domain.PolicyRepository
type PolicyRepository struct {
	db *sql.DB
}

// NewPolicyRepository creates a new PolicyRepository
func NewPolicyRepository(db *sql.DB) domain.PolicyRepository {
	return &PolicyRepository{db: db}
}

const policyColumns = `id, account_id, lob, status, effective_date, expiration_date, term, created_at`

// ListByAccountIDs returns policies grouped by account in a single query
func (r *PolicyRepository) ListByAccountIDs(ctx context.Context, accountIDs []string) (map[string][]*domain.Policy, error) {
	byAccount := make(map[string][]*domain.Policy, len(accountIDs))
	if len(accountIDs) == 0 {
		return byAccount, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM policies
		WHERE account_id = ANY($1)
		ORDER BY account_id, created_at ASC
	`, policyColumns)

	rows, err := r.db.QueryContext(ctx, query, pq.Array(accountIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query policies by accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		byAccount[policy.AccountID] = append(byAccount[policy.AccountID], policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return byAccount, nil
}

// ListByAccount returns all policies of one account
func (r *PolicyRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Policy, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM policies
		WHERE account_id = $1
		ORDER BY created_at ASC
	`, policyColumns)

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []*domain.Policy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}

// ExistsActiveWithDate reports whether the account still holds an Active
// policy whose date field equals the given calendar date. The status
// comparison ignores case and surrounding whitespace.
func (r *PolicyRepository) ExistsActiveWithDate(ctx context.Context, accountID, field string, date time.Time) (bool, error) {
	var column string
	switch field {
	case domain.FieldPolicyExpiration:
		column = "expiration_date"
	case domain.FieldPolicyEffective:
		column = "effective_date"
	default:
		return false, fmt.Errorf("unknown policy date field: %s", field)
	}

	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM policies
			WHERE account_id = $1
			  AND LOWER(TRIM(status)) = 'active'
			  AND %s::date = $2::date
		)
	`, column)

	var exists bool
	err := r.db.QueryRowContext(ctx, query, accountID, date.Format("2006-01-02")).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active policy: %w", err)
	}
	return exists, nil
}

func scanPolicy(rows *sql.Rows) (*domain.Policy, error) {
	var policy domain.Policy
	var lob, status, term sql.NullString
	var effectiveDate, expirationDate sql.NullTime

	err := rows.Scan(
		&policy.ID, &policy.AccountID, &lob, &status,
		&effectiveDate, &expirationDate, &term, &policy.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	policy.Lob = lob.String
	policy.Status = status.String
	policy.Term = term.String
	if effectiveDate.Valid {
		policy.EffectiveDate = &effectiveDate.Time
	}
	if expirationDate.Valid {
		policy.ExpirationDate = &expirationDate.Time
	}

	return &policy, nil
}
