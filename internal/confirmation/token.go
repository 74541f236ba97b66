/**
 * @description
 * Confirmation tokens bind a prize assignment to the host-facing confirmation
 * link. A token is HMAC-SHA256(secret, assignmentID + issuedAtMillis) truncated
 * to 32 hex characters. The ledger keeps the issuance nonce so verification
 * re-derives the MAC instead of trusting a stored string.
 */
package confirmation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quicklifts/prize-service/internal/domain"
)

const (
	// TokenLength is the number of hex characters kept from the MAC.
	TokenLength = 32
	// MinValidity is the shortest confirmation window a host is given.
	MinValidity = 7 * 24 * time.Hour
)

var (
	ErrTokenExpired  = errors.New("confirmation token expired")
	ErrTokenMismatch = errors.New("confirmation token does not match")
)

// Token is a freshly issued confirmation token plus the data needed to verify it later.
type Token struct {
	Value     string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer issues and verifies confirmation tokens.
type Issuer struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// NewIssuer creates an Issuer. A blank secret is a configuration error.
func NewIssuer(secret string, validity time.Duration) (*Issuer, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("confirmation signing secret is not set: %w", domain.ErrConfiguration)
	}
	if validity < MinValidity {
		validity = MinValidity
	}
	return &Issuer{secret: []byte(trimmed), validity: validity, now: time.Now}, nil
}

// Validity returns the configured confirmation window.
func (i *Issuer) Validity() time.Duration {
	return i.validity
}

// Issue derives a new token for the assignment using the current time as nonce.
func (i *Issuer) Issue(assignmentID string) (Token, error) {
	if strings.TrimSpace(assignmentID) == "" {
		return Token{}, fmt.Errorf("assignment id is required: %w", domain.ErrValidation)
	}

	issuedAt := i.now().UTC()
	nonce := strconv.FormatInt(issuedAt.UnixMilli(), 10)

	return Token{
		Value:     i.derive(assignmentID, nonce),
		Nonce:     nonce,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(i.validity),
	}, nil
}

// Verify checks a presented token against the stored nonce and expiry.
func (i *Issuer) Verify(assignmentID, nonce, presented string, expiresAt time.Time) error {
	if assignmentID == "" || nonce == "" || presented == "" {
		return ErrTokenMismatch
	}
	if i.now().After(expiresAt) {
		return ErrTokenExpired
	}

	expected := i.derive(assignmentID, nonce)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(presented))) {
		return ErrTokenMismatch
	}
	return nil
}

func (i *Issuer) derive(assignmentID, nonce string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(assignmentID + nonce))
	return hex.EncodeToString(mac.Sum(nil))[:TokenLength]
}

// ConfirmationURL builds the link embedded in host emails.
func ConfirmationURL(baseURL, prizeID, token string) string {
	query := url.Values{}
	query.Set("prizeId", prizeID)
	query.Set("token", token)
	return strings.TrimSuffix(baseURL, "/") + "/confirm-prize-distribution?" + query.Encode()
}
