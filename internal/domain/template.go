package domain

import (
	"context"
	"fmt"
	"time"
)

// EmailTemplate holds the reusable content of one automation email. System
// templates carry a DefaultKey and a nil owner; they fan out to every owner.
type EmailTemplate struct {
	ID         string    `json:"id"`
	OwnerID    *string   `json:"owner_id,omitempty"`
	DefaultKey *string   `json:"default_key,omitempty"`
	Name       string    `json:"name,omitempty"`
	Subject    string    `json:"subject"`
	BodyHTML   string    `json:"body_html"`
	BodyText   string    `json:"body_text,omitempty"`
	FromEmail  string    `json:"from_email,omitempty"`
	FromName   string    `json:"from_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate validates the template.
func (t *EmailTemplate) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if t.BodyHTML == "" && t.BodyText == "" {
		return fmt.Errorf("template requires an html or text body")
	}
	return nil
}

// TemplateRepository defines data access for email templates.
type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*EmailTemplate, error)

	// GetByDefaultKey resolves a templateKey against the owner's templates.
	GetByDefaultKey(ctx context.Context, ownerID, defaultKey string) (*EmailTemplate, error)
}

// ErrTemplateNotFound is returned when a template does not exist.
type ErrTemplateNotFound struct {
	Ref string
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("email template not found: %s", e.Ref)
}
