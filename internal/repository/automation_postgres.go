package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/insurgrowth/insurgrowth/internal/domain"
)

// AutomationRepository implements domain.AutomationRepository
type AutomationRepository struct {
	db *sql.DB
}

// NewAutomationRepository creates a new AutomationRepository
func NewAutomationRepository(db *sql.DB) domain.AutomationRepository {
	return &AutomationRepository{db: db}
}

const automationColumns = `id, owner_id, name, status, send_time, timezone, filter, nodes, created_at, updated_at`

// Create inserts a new automation
func (r *AutomationRepository) Create(ctx context.Context, automation *domain.Automation) error {
	if automation.ID == "" {
		automation.ID = uuid.New().String()
	}
	if automation.Status == "" {
		automation.Status = domain.AutomationStatusDraft
	}
	now := time.Now().UTC()
	automation.CreatedAt = now
	automation.UpdatedAt = now

	if err := automation.Validate(); err != nil {
		return fmt.Errorf("invalid automation: %w", err)
	}

	filterJSON, nodesJSON, err := marshalAutomationJSON(automation)
	if err != nil {
		return err
	}

	query, args, err := psql.
		Insert("automations").
		Columns("id", "owner_id", "name", "status", "send_time", "timezone",
			"filter", "nodes", "created_at", "updated_at").
		Values(automation.ID, automation.OwnerID, automation.Name, automation.Status,
			automation.SendTime, automation.Timezone,
			filterJSON, nodesJSON, automation.CreatedAt, automation.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert automation: %w", err)
	}
	return nil
}

// GetByID retrieves an automation by ID
func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*domain.Automation, error) {
	query := fmt.Sprintf(`SELECT %s FROM automations WHERE id = $1`, automationColumns)

	automation, err := scanAutomation(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &domain.ErrAutomationNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}
	return automation, nil
}

// List returns automations matching the filter plus the total count
func (r *AutomationRepository) List(ctx context.Context, filter domain.AutomationFilter) ([]*domain.Automation, int, error) {
	base := sq.And{}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		base = append(base, sq.Eq{"status": statuses})
	}
	if filter.OwnerID != "" {
		base = append(base, sq.Eq{"owner_id": filter.OwnerID})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("automations").Where(base).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count automations: %w", err)
	}

	builder := psql.Select(automationColumns).From("automations").
		Where(base).
		OrderBy("created_at DESC")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit)).Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query automations: %w", err)
	}
	defer rows.Close()

	automations, err := collectAutomations(rows)
	if err != nil {
		return nil, 0, err
	}
	return automations, total, nil
}

// Update rewrites the automation's mutable fields
func (r *AutomationRepository) Update(ctx context.Context, automation *domain.Automation) error {
	automation.UpdatedAt = time.Now().UTC()

	if err := automation.Validate(); err != nil {
		return fmt.Errorf("invalid automation: %w", err)
	}

	filterJSON, nodesJSON, err := marshalAutomationJSON(automation)
	if err != nil {
		return err
	}

	query, args, err := psql.
		Update("automations").
		Set("name", automation.Name).
		Set("status", automation.Status).
		Set("send_time", automation.SendTime).
		Set("timezone", automation.Timezone).
		Set("filter", filterJSON).
		Set("nodes", nodesJSON).
		Set("updated_at", automation.UpdatedAt).
		Where(sq.Eq{"id": automation.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.ErrAutomationNotFound{ID: automation.ID}
	}
	return nil
}

// UpdateStatus transitions the automation status
func (r *AutomationRepository) UpdateStatus(ctx context.Context, id string, status domain.AutomationStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid automation status: %s", status)
	}

	query := `UPDATE automations SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update automation status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.ErrAutomationNotFound{ID: id}
	}
	return nil
}

// ListActive returns every active automation
func (r *AutomationRepository) ListActive(ctx context.Context) ([]*domain.Automation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM automations
		WHERE status = 'active'
		ORDER BY created_at ASC
	`, automationColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active automations: %w", err)
	}
	defer rows.Close()

	return collectAutomations(rows)
}

// ListActiveByOwner returns the owner's active automations plus active
// system-default automations (nil owner).
func (r *AutomationRepository) ListActiveByOwner(ctx context.Context, ownerID string) ([]*domain.Automation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM automations
		WHERE status = 'active' AND (owner_id = $1 OR owner_id IS NULL)
		ORDER BY created_at ASC
	`, automationColumns)

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active automations by owner: %w", err)
	}
	defer rows.Close()

	return collectAutomations(rows)
}

func marshalAutomationJSON(automation *domain.Automation) ([]byte, []byte, error) {
	var filterJSON []byte
	if automation.Filter != nil {
		var err error
		filterJSON, err = json.Marshal(automation.Filter)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal filter: %w", err)
		}
	}
	nodesJSON, err := json.Marshal(automation.Nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}
	return filterJSON, nodesJSON, nil
}

func scanAutomation(row rowScanner) (*domain.Automation, error) {
	var automation domain.Automation
	var ownerID sql.NullString
	var sendTime, timezone sql.NullString
	var filterJSON, nodesJSON []byte

	err := row.Scan(
		&automation.ID, &ownerID, &automation.Name, &automation.Status,
		&sendTime, &timezone, &filterJSON, &nodesJSON,
		&automation.CreatedAt, &automation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ownerID.Valid {
		automation.OwnerID = &ownerID.String
	}
	automation.SendTime = sendTime.String
	automation.Timezone = timezone.String

	if len(filterJSON) > 0 {
		var filter domain.FilterConfig
		if err := json.Unmarshal(filterJSON, &filter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filter: %w", err)
		}
		automation.Filter = &filter
	}
	if len(nodesJSON) > 0 {
		if err := json.Unmarshal(nodesJSON, &automation.Nodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
		}
	}

	return &automation, nil
}

func collectAutomations(rows *sql.Rows) ([]*domain.Automation, error) {
	var automations []*domain.Automation
	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}
		automations = append(automations, automation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return automations, nil
}
