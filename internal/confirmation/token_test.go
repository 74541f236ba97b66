package confirmation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/quicklifts/prize-service/internal/domain"
)

var hexToken = regexp.MustCompile(`^[0-9a-f]{32}$`)

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	issuer, err := NewIssuer("test-signing-secret", 0)
	if err != nil {
		t.Fatalf("NewIssuer returned error: %v", err)
	}
	issuer.now = func() time.Time { return now }
	return issuer
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	_, err := NewIssuer("   ", MinValidity)
	if err == nil {
		t.Fatal("expected error for blank secret")
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewIssuer_RaisesShortValidity(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer returned error: %v", err)
	}
	if issuer.Validity() != MinValidity {
		t.Fatalf("expected validity %s, got %s", MinValidity, issuer.Validity())
	}
}

func TestIssue_DerivesTruncatedHMAC(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)

	token, err := issuer.Issue("prize-123")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	if !hexToken.MatchString(token.Value) {
		t.Fatalf("expected 32 lowercase hex chars, got %q", token.Value)
	}

	mac := hmac.New(sha256.New, []byte("test-signing-secret"))
	mac.Write([]byte("prize-123" + "1772366400000"))
	want := hex.EncodeToString(mac.Sum(nil))[:32]
	if token.Value != want {
		t.Fatalf("expected token %q, got %q", want, token.Value)
	}
	if token.Nonce != "1772366400000" {
		t.Fatalf("expected nonce to be issuance millis, got %q", token.Nonce)
	}
	if !token.ExpiresAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected expiry 7 days after issuance, got %s", token.ExpiresAt)
	}
}

func TestIssue_RejectsBlankAssignment(t *testing.T) {
	issuer := newTestIssuer(t, time.Now())
	_, err := issuer.Issue(" ")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIssue_DiffersAcrossAssignmentsAndTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)

	a, _ := issuer.Issue("prize-a")
	b, _ := issuer.Issue("prize-b")
	if a.Value == b.Value {
		t.Fatal("expected different tokens for different assignments")
	}

	issuer.now = func() time.Time { return now.Add(time.Millisecond) }
	a2, _ := issuer.Issue("prize-a")
	if a.Value == a2.Value {
		t.Fatal("expected different tokens for different issuance times")
	}
}

func TestVerify(t *testing.T) {
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, issuedAt)
	token, err := issuer.Issue("prize-123")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	tests := []struct {
		name       string
		assignment string
		nonce      string
		presented  string
		now        time.Time
		wantErr    error
	}{
		{name: "valid", assignment: "prize-123", nonce: token.Nonce, presented: token.Value, now: issuedAt.Add(time.Hour)},
		{name: "valid at expiry", assignment: "prize-123", nonce: token.Nonce, presented: token.Value, now: token.ExpiresAt},
		{name: "expired", assignment: "prize-123", nonce: token.Nonce, presented: token.Value, now: token.ExpiresAt.Add(time.Second), wantErr: ErrTokenExpired},
		{name: "other assignment", assignment: "prize-999", nonce: token.Nonce, presented: token.Value, now: issuedAt, wantErr: ErrTokenMismatch},
		{name: "tampered", assignment: "prize-123", nonce: token.Nonce, presented: "00000000000000000000000000000000", now: issuedAt, wantErr: ErrTokenMismatch},
		{name: "wrong nonce", assignment: "prize-123", nonce: "1", presented: token.Value, now: issuedAt, wantErr: ErrTokenMismatch},
		{name: "missing token", assignment: "prize-123", nonce: token.Nonce, presented: "", now: issuedAt, wantErr: ErrTokenMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := tt.now
			issuer.now = func() time.Time { return now }
			err := issuer.Verify(tt.assignment, tt.nonce, tt.presented, token.ExpiresAt)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfirmationURL(t *testing.T) {
	got := ConfirmationURL("https://fitwithpulse.ai/", "prize 1", "abc123")
	want := "https://fitwithpulse.ai/confirm-prize-distribution?prizeId=prize+1&token=abc123"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
