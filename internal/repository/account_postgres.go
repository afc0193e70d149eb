package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/insurgrowth/insurgrowth/internal/domain"
)

// AccountRepository implements domain.AccountRepository
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sql.DB) domain.AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, owner_id, first_name, last_name, email, phone, company_name,
	address, city, state, postal_code, status, opted_out, marketing_subscribed,
	email_validation_status, survey_outcome, created_at`

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns)

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &domain.ErrAccountNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListByOwner returns the owner's accounts ordered by created_at, paged for
// chunked refresh scans.
func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*domain.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM accounts
		WHERE owner_id = $1
		ORDER BY created_at ASC, id ASC
		OFFSET $2 LIMIT $3
	`, accountColumns)

	rows, err := r.db.QueryContext(ctx, query, ownerID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts by owner: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// ListAll pages over every account; used by system-default automations
func (r *AccountRepository) ListAll(ctx context.Context, offset, limit int) ([]*domain.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM accounts
		ORDER BY created_at ASC, id ASC
		OFFSET $1 LIMIT $2
	`, accountColumns)

	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var phone, companyName, address, city, state, postalCode, status sql.NullString
	var validationStatus sql.NullString
	var surveyOutcome sql.NullString

	err := row.Scan(
		&account.ID, &account.OwnerID, &account.FirstName, &account.LastName,
		&account.Email, &phone, &companyName,
		&address, &city, &state, &postalCode, &status,
		&account.OptedOut, &account.MarketingSubscribed,
		&validationStatus, &surveyOutcome, &account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Phone = phone.String
	account.CompanyName = companyName.String
	account.Address = address.String
	account.City = city.String
	account.State = state.String
	account.PostalCode = postalCode.String
	account.Status = status.String
	if validationStatus.Valid {
		account.EmailValidationStatus = domain.EmailValidationStatus(validationStatus.String)
	} else {
		account.EmailValidationStatus = domain.EmailValidationUnknown
	}
	if surveyOutcome.Valid {
		account.SurveyOutcome = &surveyOutcome.String
	}

	return &account, nil
}

func collectAccounts(rows *sql.Rows) ([]*domain.Account, error) {
	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return accounts, nil
}
