package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAutomationTest(t *testing.T) (domain.AutomationRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	repo := NewAutomationRepository(db)
	return repo, mock, func() { db.Close() }
}

func automationRowFixture(t *testing.T, id string, ownerID interface{}) *sqlmock.Rows {
	t.Helper()
	filter := &domain.FilterConfig{
		Groups: []domain.FilterGroup{{Rules: []domain.FilterRule{
			{Field: domain.FieldPolicyExpiration, Operator: domain.OpInNextDays, Value: "60"},
		}}},
	}
	filterJSON, err := json.Marshal(filter)
	require.NoError(t, err)
	nodes := []*domain.WorkflowNode{
		{ID: "n1", Type: domain.NodeTypeSendEmail, Config: map[string]interface{}{"template": "tpl-1"}},
	}
	nodesJSON, err := json.Marshal(nodes)
	require.NoError(t, err)

	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "owner_id", "name", "status", "send_time", "timezone",
		"filter", "nodes", "created_at", "updated_at",
	}).AddRow(id, ownerID, "Renewals", "active", "09:00", "America/Chicago",
		filterJSON, nodesJSON, now, now)
}

func TestAutomationRepository_GetByID(t *testing.T) {
	repo, mock, cleanup := setupAutomationTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT .* FROM automations WHERE id`).
		WithArgs("auto-1").
		WillReturnRows(automationRowFixture(t, "auto-1", "owner-1"))

	automation, err := repo.GetByID(context.Background(), "auto-1")
	require.NoError(t, err)
	assert.Equal(t, "auto-1", automation.ID)
	require.NotNil(t, automation.OwnerID)
	assert.Equal(t, "owner-1", *automation.OwnerID)
	require.NotNil(t, automation.Filter)
	require.Len(t, automation.Filter.Groups, 1)
	require.Len(t, automation.Nodes, 1)
	assert.Equal(t, domain.NodeTypeSendEmail, automation.Nodes[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAutomationRepository_GetByIDNotFound(t *testing.T) {
	repo, mock, cleanup := setupAutomationTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT .* FROM automations WHERE id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.IsType(t, &domain.ErrAutomationNotFound{}, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAutomationRepository_ListActiveByOwner(t *testing.T) {
	repo, mock, cleanup := setupAutomationTest(t)
	defer cleanup()

	// a system default (nil owner) rides along with the owner's automations
	rows := automationRowFixture(t, "auto-1", "owner-1")
	mock.ExpectQuery(`SELECT .* FROM automations`).
		WithArgs("owner-1").
		WillReturnRows(rows)

	automations, err := repo.ListActiveByOwner(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, automations, 1)
	assert.True(t, automations[0].IsActive())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAutomationRepository_UpdateStatus(t *testing.T) {
	repo, mock, cleanup := setupAutomationTest(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE automations SET status`).
		WithArgs("auto-1", domain.AutomationStatusPaused).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "auto-1", domain.AutomationStatusPaused)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, repo.UpdateStatus(context.Background(), "auto-1", "bogus"))
}
