package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
)

// PipelineExecutor runs one pipeline invocation and returns its summary.
type PipelineExecutor interface {
	Execute(ctx context.Context, req *domain.TriggerRequest) *domain.TriggerSummary
}

// TriggerHandler exposes the scheduler RPC surface.
type TriggerHandler struct {
	reactor       PipelineExecutor
	scheduledRepo domain.ScheduledEmailRepository
	logger        logger.Logger
}

// NewTriggerHandler creates a new trigger handler
func NewTriggerHandler(reactor PipelineExecutor, scheduledRepo domain.ScheduledEmailRepository, logger logger.Logger) *TriggerHandler {
	return &TriggerHandler{
		reactor:       reactor,
		scheduledRepo: scheduledRepo,
		logger:        logger,
	}
}

// RegisterRoutes registers the trigger routes
func (h *TriggerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/automations.trigger", h.handleTrigger)
	mux.HandleFunc("/api/scheduled_emails.stats", h.handleStats)
}

// handleTrigger runs one pipeline invocation. An empty body means
// {"action": "daily"}.
func (h *TriggerHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req domain.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary := h.reactor.Execute(r.Context(), &req)
	h.logger.WithFields(map[string]interface{}{
		"action":        summary.Action,
		"verified":      summary.Verified,
		"cancelled":     summary.Cancelled,
		"sent":          summary.Sent,
		"failed":        summary.Failed,
		"new_scheduled": summary.NewScheduled,
		"errors":        len(summary.Errors),
	}).Info("trigger invocation complete")

	writeJSON(w, http.StatusOK, summary)
}

// handleStats returns per-status queue counts
func (h *TriggerHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.scheduledRepo.GetStats(r.Context())
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to get scheduled email stats")
		WriteJSONError(w, "Failed to get queue stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
	})
}
