/**
 * @description
 * Client for the Stripe balance API. Only the available balance is read;
 * transfers to winners are executed elsewhere.
 */
package stripeclient

import (
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

const providerName = "stripe"

// Client is a client for the Stripe API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Stripe API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Funds is a single balance bucket.
type Funds struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// BalanceResponse is the subset of the Stripe balance object used here.
type BalanceResponse struct {
	Object    string  `json:"object"`
	Available []Funds `json:"available"`
	Pending   []Funds `json:"pending"`
}

// ErrorResponse is the Stripe error envelope.
type ErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetBalance fetches the account balance.
func (c *Client) GetBalance(ctx context.Context) (*BalanceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upstream := &domain.UpstreamError{Provider: providerName, StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil {
			upstream.Message = errResp.Error.Message
		}
		slog.Warn("stripe balance request failed", "component", "stripe_client", "status", resp.StatusCode, "message", upstream.Message)
		return nil, upstream
	}

	var balance BalanceResponse
	if err := json.Unmarshal(bodyBytes, &balance); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return &balance, nil
}

// AvailableBalance returns the available amount in the smallest unit of currency.
// A currency missing from the balance counts as zero.
func (c *Client) AvailableBalance(ctx context.Context, currency string) (int64, error) {
	balance, err := c.GetBalance(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, funds := range balance.Available {
		if strings.EqualFold(funds.Currency, currency) {
			total += funds.Amount
		}
	}
	return total, nil
}
