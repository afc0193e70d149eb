package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/insurgrowth/insurgrowth/internal/domain"
)

// SettingsRepository implements domain.SettingsRepository
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *sql.DB) domain.SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetUserSettings returns the owner's settings; a missing row yields empty
// defaults rather than an error.
func (r *SettingsRepository) GetUserSettings(ctx context.Context, ownerID string) (*domain.UserSettings, error) {
	query := `
		SELECT owner_id, from_email, from_name, reply_to_email, signature_html,
		       agency_name, agency_address, agency_phone, agency_website,
		       google_review_link, default_send_time, timezone, daily_send_limit,
		       preferences, trial_started_at, trial_ends_at
		FROM user_settings
		WHERE owner_id = $1
	`

	var settings domain.UserSettings
	var fromEmail, fromName, replyTo, signature sql.NullString
	var agencyName, agencyAddress, agencyPhone, agencyWebsite sql.NullString
	var reviewLink, sendTime, timezone sql.NullString
	var dailyLimit sql.NullInt64
	var preferencesJSON []byte
	var trialStarted, trialEnds sql.NullTime

	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(
		&settings.OwnerID, &fromEmail, &fromName, &replyTo, &signature,
		&agencyName, &agencyAddress, &agencyPhone, &agencyWebsite,
		&reviewLink, &sendTime, &timezone, &dailyLimit,
		&preferencesJSON, &trialStarted, &trialEnds,
	)
	if err == sql.ErrNoRows {
		return &domain.UserSettings{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	settings.FromEmail = fromEmail.String
	settings.FromName = fromName.String
	settings.ReplyToEmail = replyTo.String
	settings.SignatureHTML = signature.String
	settings.AgencyName = agencyName.String
	settings.AgencyAddress = agencyAddress.String
	settings.AgencyPhone = agencyPhone.String
	settings.AgencyWebsite = agencyWebsite.String
	settings.GoogleReviewLink = reviewLink.String
	settings.DefaultSendTime = sendTime.String
	settings.Timezone = timezone.String
	settings.DailySendLimit = int(dailyLimit.Int64)
	if trialStarted.Valid {
		settings.TrialStartedAt = &trialStarted.Time
	}
	if trialEnds.Valid {
		settings.TrialEndsAt = &trialEnds.Time
	}
	if len(preferencesJSON) > 0 {
		if err := json.Unmarshal(preferencesJSON, &settings.Preferences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
		}
	}

	return &settings, nil
}

// GetVerifiedSenderDomain returns the owner's verified sender domain exactly
// matching the given domain, or nil when none exists.
func (r *SettingsRepository) GetVerifiedSenderDomain(ctx context.Context, ownerID, domainName string) (*domain.SenderDomain, error) {
	query := `
		SELECT id, owner_id, domain, status, inbound_parse_enabled, inbound_subdomain, created_at
		FROM sender_domains
		WHERE owner_id = $1 AND LOWER(domain) = LOWER($2) AND status = 'verified'
		LIMIT 1
	`

	var sd domain.SenderDomain
	var inboundSubdomain sql.NullString
	err := r.db.QueryRowContext(ctx, query, ownerID, domainName).Scan(
		&sd.ID, &sd.OwnerID, &sd.Domain, &sd.Status,
		&sd.InboundParseEnabled, &inboundSubdomain, &sd.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sender domain: %w", err)
	}
	sd.InboundSubdomain = inboundSubdomain.String

	return &sd, nil
}

// HasActiveProviderConnection reports whether the owner's agency holds an
// active inbox-ingestion connection. The agency is every owner sharing the
// user's profile_name, so a connection held by any of them counts; owners
// without a profile fall back to their own connections.
func (r *SettingsRepository) HasActiveProviderConnection(ctx context.Context, ownerID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM email_provider_connections pc
			WHERE pc.status = 'active'
			  AND (pc.owner_id = $1 OR pc.owner_id IN (
				SELECT peer.id
				FROM users me
				JOIN users peer ON peer.profile_name = me.profile_name
				WHERE me.id = $1 AND me.profile_name IS NOT NULL AND me.profile_name != ''
			  ))
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check provider connection: %w", err)
	}
	return exists, nil
}
