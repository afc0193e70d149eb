package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
)

// EmailValidationStatus is the verification state of an account's email.
type EmailValidationStatus string

const (
	EmailValidationValid   EmailValidationStatus = "valid"
	EmailValidationInvalid EmailValidationStatus = "invalid"
	EmailValidationRisky   EmailValidationStatus = "risky"
	EmailValidationUnknown EmailValidationStatus = "unknown"
)

// IsValid checks if the email validation status is a known value.
func (s EmailValidationStatus) IsValid() bool {
	switch s {
	case EmailValidationValid, EmailValidationInvalid, EmailValidationRisky, EmailValidationUnknown:
		return true
	default:
		return false
	}
}

// Account is a customer account owned by an agent.
type Account struct {
	ID                    string                `json:"id"`
	OwnerID               string                `json:"owner_id"`
	FirstName             string                `json:"first_name"`
	LastName              string                `json:"last_name"`
	Email                 string                `json:"email"`
	Phone                 string                `json:"phone,omitempty"`
	CompanyName           string                `json:"company_name,omitempty"`
	Address               string                `json:"address,omitempty"`
	City                  string                `json:"city,omitempty"`
	State                 string                `json:"state,omitempty"`
	PostalCode            string                `json:"postal_code,omitempty"`
	Status                string                `json:"status,omitempty"`
	OptedOut              bool                  `json:"opted_out"`
	MarketingSubscribed   bool                  `json:"marketing_subscribed"`
	EmailValidationStatus EmailValidationStatus `json:"email_validation_status"`
	SurveyOutcome         *string               `json:"survey_outcome,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
}

// FullName returns the display name for merge fields.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// EmailDomain returns the part of the email after the @, lowercased.
func (a *Account) EmailDomain() string {
	at := strings.LastIndex(a.Email, "@")
	if at < 0 || at == len(a.Email)-1 {
		return ""
	}
	return strings.ToLower(a.Email[at+1:])
}

// IsSendable reports whether the account may be scheduled or sent to:
// a syntactically valid email, validation status "valid", and not opted out.
func (a *Account) IsSendable() bool {
	if a.OptedOut {
		return false
	}
	if a.EmailValidationStatus != EmailValidationValid {
		return false
	}
	return govalidator.IsEmail(a.Email)
}

// Validate validates the account.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if a.Email != "" && !govalidator.IsEmail(a.Email) {
		return fmt.Errorf("invalid email format: %s", a.Email)
	}
	if a.EmailValidationStatus != "" && !a.EmailValidationStatus.IsValid() {
		return fmt.Errorf("invalid email validation status: %s", a.EmailValidationStatus)
	}
	return nil
}

// AccountRepository defines data access for accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*Account, error)

	// ListByOwner returns the owner's accounts ordered by created_at, paged
	// by offset/limit for chunked refresh scans.
	ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*Account, error)

	// ListAll pages over every account; used by system-default automations
	// that carry no owner.
	ListAll(ctx context.Context, offset, limit int) ([]*Account, error)
}

// ErrAccountNotFound is returned when an account does not exist.
type ErrAccountNotFound struct {
	ID string
}

func (e *ErrAccountNotFound) Error() string {
	return fmt.Sprintf("account not found: %s", e.ID)
}
