package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/insurgrowth/insurgrowth/internal/domain"
)

// TemplateRepository implements domain.TemplateRepository
type TemplateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a new TemplateRepository
func NewTemplateRepository(db *sql.DB) domain.TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, owner_id, default_key, name, subject, body_html, body_text,
	from_email, from_name, created_at, updated_at`

// GetByID retrieves a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM email_templates WHERE id = $1`, templateColumns)

	template, err := scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &domain.ErrTemplateNotFound{Ref: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return template, nil
}

// GetByDefaultKey resolves a templateKey for an owner. Owner-specific
// templates shadow the shared system template with the same key.
func (r *TemplateRepository) GetByDefaultKey(ctx context.Context, ownerID, defaultKey string) (*domain.EmailTemplate, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM email_templates
		WHERE default_key = $2 AND (owner_id = $1 OR owner_id IS NULL)
		ORDER BY owner_id NULLS LAST
		LIMIT 1
	`, templateColumns)

	template, err := scanTemplate(r.db.QueryRowContext(ctx, query, ownerID, defaultKey))
	if err == sql.ErrNoRows {
		return nil, &domain.ErrTemplateNotFound{Ref: defaultKey}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template by key: %w", err)
	}
	return template, nil
}

func scanTemplate(row rowScanner) (*domain.EmailTemplate, error) {
	var template domain.EmailTemplate
	var ownerID, defaultKey sql.NullString
	var name, bodyText, fromEmail, fromName sql.NullString

	err := row.Scan(
		&template.ID, &ownerID, &defaultKey, &name,
		&template.Subject, &template.BodyHTML, &bodyText,
		&fromEmail, &fromName, &template.CreatedAt, &template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ownerID.Valid {
		template.OwnerID = &ownerID.String
	}
	if defaultKey.Valid {
		template.DefaultKey = &defaultKey.String
	}
	template.Name = name.String
	template.BodyText = bodyText.String
	template.FromEmail = fromEmail.String
	template.FromName = fromName.String

	return &template, nil
}
