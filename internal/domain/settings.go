package domain

import (
	"context"
	"time"
)

// UserSettings is the per-owner sending identity.
type UserSettings struct {
	OwnerID          string                 `json:"owner_id"`
	FromEmail        string                 `json:"from_email"`
	FromName         string                 `json:"from_name"`
	ReplyToEmail     string                 `json:"reply_to_email,omitempty"`
	SignatureHTML    string                 `json:"signature_html,omitempty"`
	AgencyName       string                 `json:"agency_name,omitempty"`
	AgencyAddress    string                 `json:"agency_address,omitempty"`
	AgencyPhone      string                 `json:"agency_phone,omitempty"`
	AgencyWebsite    string                 `json:"agency_website,omitempty"`
	GoogleReviewLink string                 `json:"google_review_link,omitempty"`
	DefaultSendTime  string                 `json:"default_send_time,omitempty"`
	Timezone         string                 `json:"timezone,omitempty"`
	DailySendLimit   int                    `json:"daily_send_limit,omitempty"`
	Preferences      map[string]interface{} `json:"preferences,omitempty"`
	TrialStartedAt   *time.Time             `json:"trial_started_at,omitempty"`
	TrialEndsAt      *time.Time             `json:"trial_ends_at,omitempty"`
}

// AgencyInfoParts returns the non-empty agency display parts in footer order.
func (s *UserSettings) AgencyInfoParts() []string {
	var parts []string
	for _, p := range []string{s.AgencyName, s.AgencyAddress, s.AgencyPhone, s.AgencyWebsite} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// SenderDomainStatusVerified is the only status that allows a domain to
// influence reply routing.
const SenderDomainStatusVerified = "verified"

// SenderDomain is an owner-owned sending domain.
type SenderDomain struct {
	ID                  string    `json:"id"`
	OwnerID             string    `json:"owner_id"`
	Domain              string    `json:"domain"`
	Status              string    `json:"status"`
	InboundParseEnabled bool      `json:"inbound_parse_enabled"`
	InboundSubdomain    string    `json:"inbound_subdomain,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Unsubscribe is a global opt-out by email address; matching is
// case-insensitive and a match is a hard stop at send time.
type Unsubscribe struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// SettingsRepository defines data access for sending identity and reply
// routing state.
type SettingsRepository interface {
	// GetUserSettings returns the owner's settings, or defaults when none
	// are stored.
	GetUserSettings(ctx context.Context, ownerID string) (*UserSettings, error)

	// GetVerifiedSenderDomain returns the owner's verified sender domain
	// exactly matching the given domain, or nil when none exists.
	GetVerifiedSenderDomain(ctx context.Context, ownerID, domain string) (*SenderDomain, error)

	// HasActiveProviderConnection reports whether the owner's agency holds
	// an active inbox-ingestion connection; gates the tracking Reply-To.
	HasActiveProviderConnection(ctx context.Context, ownerID string) (bool, error)
}

// UnsubscribeRepository defines data access for global unsubscribes.
type UnsubscribeRepository interface {
	// IsUnsubscribed reports whether the email is on the unsubscribe list,
	// case-insensitively.
	IsUnsubscribed(ctx context.Context, email string) (bool, error)

	// Add records a global unsubscribe.
	Add(ctx context.Context, email string) error
}
