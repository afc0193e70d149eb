package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AutomationStatus represents the status of an automation.
type AutomationStatus string

const (
	AutomationStatusDraft    AutomationStatus = "draft"
	AutomationStatusActive   AutomationStatus = "active"
	AutomationStatusPaused   AutomationStatus = "paused"
	AutomationStatusArchived AutomationStatus = "archived"
)

// IsValid checks if the automation status is valid.
func (s AutomationStatus) IsValid() bool {
	switch s {
	case AutomationStatusDraft, AutomationStatusActive, AutomationStatusPaused, AutomationStatusArchived:
		return true
	default:
		return false
	}
}

// NodeType represents the type of workflow node.
type NodeType string

const (
	NodeTypeEntryCriteria NodeType = "entry_criteria"
	NodeTypeTrigger       NodeType = "trigger"
	NodeTypeSendEmail     NodeType = "send_email"
	NodeTypeDelay         NodeType = "delay"
	NodeTypeCondition     NodeType = "condition"
)

// IsValid checks if the node type is valid.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeEntryCriteria, NodeTypeTrigger, NodeTypeSendEmail, NodeTypeDelay, NodeTypeCondition:
		return true
	default:
		return false
	}
}

// WorkflowNode is one step in an automation's node list. Config carries the
// per-type payload; the typed accessors below decode it.
type WorkflowNode struct {
	ID     string                 `json:"id"`
	Type   NodeType               `json:"type"`
	Config map[string]interface{} `json:"config"`
}

// Validate validates the workflow node.
func (n *WorkflowNode) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("invalid node type: %s", n.Type)
	}
	switch n.Type {
	case NodeTypeDelay:
		cfg, err := n.DelayConfig()
		if err != nil {
			return err
		}
		return cfg.Validate()
	case NodeTypeSendEmail:
		cfg, err := n.SendEmailConfig()
		if err != nil {
			return err
		}
		return cfg.Validate()
	}
	return nil
}

// decodeConfig round-trips the config map into a typed struct.
func (n *WorkflowNode) decodeConfig(out interface{}) error {
	raw, err := json.Marshal(n.Config)
	if err != nil {
		return fmt.Errorf("failed to encode node %s config: %w", n.ID, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode node %s config: %w", n.ID, err)
	}
	return nil
}

// DelayNodeConfig configures a delay node.
type DelayNodeConfig struct {
	Duration float64 `json:"duration"`
	Unit     string  `json:"unit"` // "hours", "days", "weeks"
}

// Validate validates the delay node config.
func (c DelayNodeConfig) Validate() error {
	if c.Duration < 0 {
		return fmt.Errorf("delay duration cannot be negative")
	}
	switch c.Unit {
	case "hours", "days", "weeks":
		return nil
	default:
		return fmt.Errorf("invalid delay unit: %s (must be hours, days, or weeks)", c.Unit)
	}
}

// Days converts the delay to fractional days.
func (c DelayNodeConfig) Days() float64 {
	switch c.Unit {
	case "weeks":
		return c.Duration * 7
	case "hours":
		return c.Duration / 24
	default:
		return c.Duration
	}
}

// DelayConfig decodes a delay node's config.
func (n *WorkflowNode) DelayConfig() (DelayNodeConfig, error) {
	var cfg DelayNodeConfig
	err := n.decodeConfig(&cfg)
	return cfg, err
}

// SendEmailNodeConfig configures a send_email node. Template is a literal
// template UUID; TemplateKey resolves against the owner's templates by
// default_key.
type SendEmailNodeConfig struct {
	Template    string `json:"template,omitempty"`
	TemplateKey string `json:"templateKey,omitempty"`
}

// Validate validates the send_email node config.
func (c SendEmailNodeConfig) Validate() error {
	if c.Template == "" && c.TemplateKey == "" {
		return fmt.Errorf("send_email node requires template or templateKey")
	}
	return nil
}

// SendEmailConfig decodes a send_email node's config.
func (n *WorkflowNode) SendEmailConfig() (SendEmailNodeConfig, error) {
	var cfg SendEmailNodeConfig
	err := n.decodeConfig(&cfg)
	return cfg, err
}

// TriggerNodeConfig carries the send time for trigger nodes.
type TriggerNodeConfig struct {
	Time     string `json:"time,omitempty"`     // "HH:MM" local wall time
	Timezone string `json:"timezone,omitempty"` // IANA name
}

// TriggerConfig decodes a trigger node's config.
func (n *WorkflowNode) TriggerConfig() (TriggerNodeConfig, error) {
	var cfg TriggerNodeConfig
	err := n.decodeConfig(&cfg)
	return cfg, err
}

// PacingConfig distributes a large cohort of sends across allowed days.
type PacingConfig struct {
	Enabled        bool     `json:"enabled"`
	SpreadOverDays int      `json:"spreadOverDays"`
	AllowedDays    []string `json:"allowedDays"` // "mon".."sun"
}

// entryCriteriaConfig is the decoded entry_criteria node payload.
type entryCriteriaConfig struct {
	Pacing *PacingConfig `json:"pacing,omitempty"`
}

// YesBranch returns the child node list of a condition node's "yes" branch.
// Only the yes path is pre-scheduled; the no branch is resolved at runtime.
func (n *WorkflowNode) YesBranch() ([]*WorkflowNode, error) {
	var cfg struct {
		Branches struct {
			Yes []*WorkflowNode `json:"yes"`
		} `json:"branches"`
	}
	if err := n.decodeConfig(&cfg); err != nil {
		return nil, err
	}
	return cfg.Branches.Yes, nil
}

// Automation is a reusable marketing workflow: filter + nodes + schedule.
type Automation struct {
	ID        string           `json:"id"`
	OwnerID   *string          `json:"owner_id,omitempty"` // nil = system default
	Name      string           `json:"name"`
	Status    AutomationStatus `json:"status"`
	SendTime  string           `json:"send_time"` // local wall time, e.g. "09:00"
	Timezone  string           `json:"timezone"`  // IANA name
	Filter    *FilterConfig    `json:"filter"`
	Nodes     []*WorkflowNode  `json:"nodes"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// IsActive reports whether the automation may generate scheduled emails.
func (a *Automation) IsActive() bool {
	return a.Status == AutomationStatusActive
}

// Pacing returns the pacing config from the entry_criteria node, or nil.
func (a *Automation) Pacing() *PacingConfig {
	for _, n := range a.Nodes {
		if n.Type != NodeTypeEntryCriteria {
			continue
		}
		var cfg entryCriteriaConfig
		if err := n.decodeConfig(&cfg); err != nil {
			return nil
		}
		return cfg.Pacing
	}
	return nil
}

// Validate validates the automation.
func (a *Automation) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(a.Name) > 255 {
		return fmt.Errorf("name cannot exceed 255 characters")
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("invalid automation status: %s", a.Status)
	}
	if a.Filter != nil {
		if err := a.Filter.Validate(); err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
	}
	for i, node := range a.Nodes {
		if node == nil {
			return fmt.Errorf("node at index %d is nil", i)
		}
		if err := node.Validate(); err != nil {
			return fmt.Errorf("invalid node %s: %w", node.ID, err)
		}
	}
	return nil
}

// AutomationFilter defines filtering options for listing automations.
type AutomationFilter struct {
	Status  []AutomationStatus
	OwnerID string
	Limit   int
	Offset  int
}

// AutomationRepository defines data access for automations.
type AutomationRepository interface {
	Create(ctx context.Context, automation *Automation) error
	GetByID(ctx context.Context, id string) (*Automation, error)
	List(ctx context.Context, filter AutomationFilter) ([]*Automation, int, error)
	Update(ctx context.Context, automation *Automation) error
	UpdateStatus(ctx context.Context, id string, status AutomationStatus) error

	// ListActive returns every Active automation.
	ListActive(ctx context.Context) ([]*Automation, error)

	// ListActiveByOwner returns the owner's Active automations plus active
	// system-default automations (nil owner).
	ListActiveByOwner(ctx context.Context, ownerID string) ([]*Automation, error)
}

// ErrAutomationNotFound is returned when an automation does not exist.
type ErrAutomationNotFound struct {
	ID string
}

func (e *ErrAutomationNotFound) Error() string {
	return fmt.Sprintf("automation not found: %s", e.ID)
}
