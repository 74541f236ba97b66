/**
 * @description
 * Client for the Brevo transactional email API.
 */
package brevoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quicklifts/prize-service/internal/domain"
)

const providerName = "brevo"

// Client is a client for the Brevo API.
type Client struct {
	BaseURL    string
	APIKey     string
	Sender     Contact
	HTTPClient *http.Client
}

// NewClient creates a new Brevo API client sending from the given identity.
func NewClient(baseURL, apiKey, senderEmail, senderName string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		Sender:  Contact{Email: senderEmail, Name: senderName},
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Contact is an email participant.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Email is an outbound transactional email.
type Email struct {
	To          Contact
	Subject     string
	HTMLContent string
	Tags        []string
}

type sendEmailRequest struct {
	Sender      Contact   `json:"sender"`
	To          []Contact `json:"to"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"htmlContent"`
	Tags        []string  `json:"tags,omitempty"`
}

type sendEmailResponse struct {
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendEmail sends a transactional email and returns the provider message id.
func (c *Client) SendEmail(ctx context.Context, email Email) (string, error) {
	payload, err := json.Marshal(sendEmailRequest{
		Sender:      c.Sender,
		To:          []Contact{email.To},
		Subject:     email.Subject,
		HTMLContent: email.HTMLContent,
		Tags:        email.Tags,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v3/smtp/email", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute email request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read email response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upstream := &domain.UpstreamError{Provider: providerName, StatusCode: resp.StatusCode}
		var errResp errorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil {
			upstream.Message = errResp.Message
		}
		slog.Warn("brevo send failed", "component", "brevo_client", "status", resp.StatusCode, "code", errResp.Code, "message", upstream.Message)
		return "", upstream
	}

	var sent sendEmailResponse
	if err := json.Unmarshal(bodyBytes, &sent); err != nil {
		return "", fmt.Errorf("failed to decode email response: %w", err)
	}
	return sent.MessageID, nil
}
