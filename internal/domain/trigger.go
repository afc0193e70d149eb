package domain

import "fmt"

// Trigger actions accepted by the scheduler RPC surface.
const (
	ActionDaily    = "daily"
	ActionRefresh  = "refresh"
	ActionVerify   = "verify"
	ActionSend     = "send"
	ActionProcess  = "process"
	ActionActivate = "activate"
)

// TriggerRequest is the scheduler invocation body. An absent body means
// {action: "daily"}.
type TriggerRequest struct {
	Action           string `json:"action"`
	AutomationID     string `json:"automationId,omitempty"`
	ScheduledEmailID string `json:"scheduledEmailId,omitempty"`
	AccountOffset    int    `json:"accountOffset,omitempty"`
}

// Validate validates the trigger request, defaulting the action to daily.
func (r *TriggerRequest) Validate() error {
	if r.Action == "" {
		r.Action = ActionDaily
	}
	switch r.Action {
	case ActionDaily, ActionRefresh, ActionVerify, ActionSend, ActionProcess, ActionActivate:
	default:
		return fmt.Errorf("invalid action: %s", r.Action)
	}
	if r.Action == ActionActivate && r.AutomationID == "" {
		return fmt.Errorf("automationId is required for activate")
	}
	if r.AccountOffset < 0 {
		return fmt.Errorf("accountOffset cannot be negative")
	}
	return nil
}

// TriggerSummary is the result of one scheduler invocation. Errors are
// collected per row / per automation; the invocation itself always returns a
// summary.
type TriggerSummary struct {
	Action       string   `json:"action"`
	Verified     int      `json:"verified"`
	Cancelled    int      `json:"cancelled"`
	Sent         int      `json:"sent"`
	Failed       int      `json:"failed"`
	Refreshed    int      `json:"refreshed"`
	NewScheduled int      `json:"newScheduled"`
	Errors       []string `json:"errors"`
	HasMore      bool     `json:"hasMore"`
	NextOffset   int      `json:"nextOffset"`
}

// AddError appends a collected error message.
func (s *TriggerSummary) AddError(format string, args ...interface{}) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}
