package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
)

// OutboundEmail is one fully composed message handed to the provider.
type OutboundEmail struct {
	ToEmail    string
	ToName     string
	FromEmail  string
	FromName   string
	ReplyTo    string
	Subject    string
	BodyHTML   string
	BodyText   string
	MessageID  string            // custom Message-ID header
	CustomArgs map[string]string // correlation ids echoed back by webhooks
	Categories []string
}

// EmailProvider dispatches composed messages. Implementations return the
// provider's opaque message id.
type EmailProvider interface {
	Send(ctx context.Context, msg *OutboundEmail) (string, error)
}

// ProviderError is a provider rejection carrying the HTTP status.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the rejection is worth retrying: 5xx is, a clear
// 4xx rejection is not.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode >= 500
}

// SendGridProvider sends through the SendGrid v3 mail send API. With no API
// key configured it runs in dry-run mode: sends are logged and a synthetic
// message id is returned.
type SendGridProvider struct {
	apiKey string
	apiURL string
	client *http.Client
	logger logger.Logger
}

// NewSendGridProvider creates a SendGridProvider
func NewSendGridProvider(apiKey, apiURL string, log logger.Logger) *SendGridProvider {
	if apiURL == "" {
		apiURL = "https://api.sendgrid.com/v3/mail/send"
	}
	return &SendGridProvider{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log,
	}
}

// Send delivers a single email. Success is any 2xx (202 is canonical); the
// X-Message-Id response header is the provider id, with a generated fallback.
func (p *SendGridProvider) Send(ctx context.Context, msg *OutboundEmail) (string, error) {
	if p.apiKey == "" {
		syntheticID := "dry-run-" + uuid.New().String()
		p.logger.WithField("to", msg.ToEmail).
			WithField("subject", msg.Subject).
			WithField("message_id", syntheticID).
			Info("dry-run send (no provider API key configured)")
		return syntheticID, nil
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{
				"to":          []map[string]string{{"email": msg.ToEmail, "name": msg.ToName}},
				"custom_args": msg.CustomArgs,
			},
		},
		"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
		"subject": msg.Subject,
		"tracking_settings": map[string]interface{}{
			"click_tracking":        map[string]bool{"enable": true},
			"open_tracking":         map[string]bool{"enable": true},
			"subscription_tracking": map[string]bool{"enable": false},
		},
	}

	var content []map[string]string
	if msg.BodyText != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": msg.BodyText})
	}
	if msg.BodyHTML != "" {
		content = append(content, map[string]string{"type": "text/html", "value": msg.BodyHTML})
	}
	payload["content"] = content

	if msg.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": msg.ReplyTo}
	}
	if msg.MessageID != "" {
		payload["headers"] = map[string]string{"Message-ID": msg.MessageID}
	}
	if len(msg.Categories) > 0 {
		payload["categories"] = msg.Categories
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal provider payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	providerID := resp.Header.Get("X-Message-Id")
	if providerID == "" {
		providerID = uuid.New().String()
	}
	return providerID, nil
}
