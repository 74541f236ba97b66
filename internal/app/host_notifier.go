/**
 * @description
 * Sends the host-facing confirmation email for a prize assignment and records
 * the delivery receipt plus a freshly issued confirmation token on the ledger.
 */
package app

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/quicklifts/prize-service/internal/confirmation"
	"github.com/quicklifts/prize-service/internal/domain"
	"github.com/quicklifts/prize-service/pkg/brevoclient"
)

// RetrySchedulerRequester is recorded as requestedBy for retry-mode sends.
const RetrySchedulerRequester = "retry_scheduler"

// HostRepository defines the ledger operations the notifier needs.
type HostRepository interface {
	GetAssignment(ctx context.Context, id string) (*domain.PrizeAssignment, error)
	GetChallengeHost(ctx context.Context, challengeID string) (*domain.Host, error)
	RecordHostEmailSent(ctx context.Context, id string, receipt domain.HostEmailReceipt) error
}

// TokenIssuer issues confirmation tokens.
type TokenIssuer interface {
	Issue(assignmentID string) (confirmation.Token, error)
}

// EmailSender delivers transactional email and returns the provider message id.
type EmailSender interface {
	SendEmail(ctx context.Context, email brevoclient.Email) (string, error)
}

// HostConfirmationRequest asks for a confirmation email. In retry mode only
// PrizeAssignmentID is needed; the rest is read from the ledger.
type HostConfirmationRequest struct {
	PrizeAssignmentID string                `json:"prizeAssignmentId"`
	ChallengeID       string                `json:"challengeId"`
	ChallengeTitle    string                `json:"challengeTitle"`
	PrizeAmount       int64                 `json:"prizeAmount"`
	PrizeStructure    domain.PrizeStructure `json:"prizeStructure"`
	RequestedBy       string                `json:"requestedBy"`
	IsRetryAttempt    bool                  `json:"isRetryAttempt"`
}

// HostConfirmationResult is returned after a successful send.
type HostConfirmationResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	HostEmail string `json:"hostEmail,omitempty"`
	HostName  string `json:"hostName,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HostNotifierConfig holds the notifier settings.
type HostNotifierConfig struct {
	SiteBaseURL    string
	EventsExchange string
}

// HostNotifier composes and sends host confirmation emails.
type HostNotifier struct {
	repo      HostRepository
	issuer    TokenIssuer
	sender    EmailSender
	publisher EventPublisher
	logger    *slog.Logger
	cfg       HostNotifierConfig
	now       func() time.Time
}

// NewHostNotifier creates a new HostNotifier.
func NewHostNotifier(repo HostRepository, issuer TokenIssuer, sender EmailSender, publisher EventPublisher, logger *slog.Logger, cfg HostNotifierConfig) *HostNotifier {
	return &HostNotifier{
		repo:      repo,
		issuer:    issuer,
		sender:    sender,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (r HostConfirmationRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.PrizeAssignmentID) == "" {
		missing = append(missing, "prizeAssignmentId")
	}
	if !r.IsRetryAttempt {
		if strings.TrimSpace(r.ChallengeID) == "" {
			missing = append(missing, "challengeId")
		}
		if strings.TrimSpace(r.ChallengeTitle) == "" {
			missing = append(missing, "challengeTitle")
		}
		if r.PrizeAmount <= 0 {
			missing = append(missing, "prizeAmount")
		}
		if !r.PrizeStructure.Valid() {
			missing = append(missing, "prizeStructure")
		}
		if strings.TrimSpace(r.RequestedBy) == "" {
			missing = append(missing, "requestedBy")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing or invalid fields: %s: %w", strings.Join(missing, ", "), domain.ErrValidation)
	}
	return nil
}

// SendHostConfirmation resolves the challenge host and emails them a confirmation link.
func (n *HostNotifier) SendHostConfirmation(ctx context.Context, req HostConfirmationRequest) (*HostConfirmationResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	assignment, err := n.repo.GetAssignment(ctx, req.PrizeAssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prize assignment: %w", err)
	}
	if req.IsRetryAttempt {
		req.RequestedBy = RetrySchedulerRequester
	} else if req.ChallengeID != assignment.ChallengeID || req.PrizeAmount != assignment.PrizeAmount {
		n.logger.Warn("host confirmation request does not match ledger", "prize_id", assignment.ID, "challenge_id", req.ChallengeID, "ledger_challenge_id", assignment.ChallengeID)
		return nil, fmt.Errorf("challengeId and prizeAmount must match prize assignment %s: %w", assignment.ID, domain.ErrValidation)
	}
	// The ledger is authoritative for what the host is asked to confirm.
	req.ChallengeID = assignment.ChallengeID
	req.ChallengeTitle = assignment.ChallengeTitle
	req.PrizeAmount = assignment.PrizeAmount
	req.PrizeStructure = assignment.PrizeStructure

	host, err := n.repo.GetChallengeHost(ctx, req.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve challenge host: %w", err)
	}
	if strings.TrimSpace(host.Email) == "" {
		return nil, fmt.Errorf("host %s has no email address: %w", host.UserID, domain.ErrNotFound)
	}
	hostName := host.DisplayName
	if hostName == "" {
		hostName = "Host"
	}

	token, err := n.issuer.Issue(assignment.ID)
	if err != nil {
		return nil, err
	}
	link := confirmation.ConfirmationURL(n.cfg.SiteBaseURL, assignment.ID, token.Value)

	html, err := renderHostEmail(hostEmailData{
		HostName:       hostName,
		ChallengeTitle: req.ChallengeTitle,
		PrizePool:      domain.FormatAmount(req.PrizeAmount),
		Structure:      req.PrizeStructure.Label(),
		Places:         placeLines(req.PrizeStructure, req.PrizeAmount),
		ConfirmURL:     link,
		ExpiresOn:      token.ExpiresAt.Format("January 2, 2006"),
		IsRetry:        req.IsRetryAttempt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render confirmation email: %w", err)
	}

	subject := fmt.Sprintf("Confirm prize distribution for %s", req.ChallengeTitle)
	if req.IsRetryAttempt {
		subject = fmt.Sprintf("Action needed: prize funds ready for %s", req.ChallengeTitle)
	}

	messageID, err := n.sender.SendEmail(ctx, brevoclient.Email{
		To:          brevoclient.Contact{Email: host.Email, Name: hostName},
		Subject:     subject,
		HTMLContent: html,
		Tags:        []string{"prize-confirmation"},
	})
	if err != nil {
		n.logger.Error("host confirmation email failed", "prize_id", assignment.ID, "challenge_id", req.ChallengeID, "retry", req.IsRetryAttempt, "error", err)
		return nil, fmt.Errorf("failed to send confirmation email: %w", err)
	}

	sentAt := n.now().UTC()
	receipt := domain.HostEmailReceipt{
		MessageID: messageID,
		SentAt:    sentAt,
		Nonce:     token.Nonce,
		ExpiresAt: token.ExpiresAt,
	}
	message := fmt.Sprintf("Confirmation email sent to %s", host.Email)
	if err := n.repo.RecordHostEmailSent(ctx, assignment.ID, receipt); err != nil {
		// The email is already out, so the dispatch still counts as sent.
		n.logger.Error("confirmation email sent but receipt not recorded", "prize_id", assignment.ID, "message_id", messageID, "error", err)
		message += "; receipt not recorded, the link will not verify until it is reissued"
	}

	n.logger.Info("host confirmation email sent", "prize_id", assignment.ID, "challenge_id", req.ChallengeID, "message_id", messageID, "requested_by", req.RequestedBy, "retry", req.IsRetryAttempt)

	publishEvent(ctx, n.publisher, n.logger, n.cfg.EventsExchange, eventHostConfirmationSent, hostConfirmationSentEvent{
		PrizeAssignmentID:   assignment.ID,
		ChallengeID:         req.ChallengeID,
		HostUserID:          host.UserID,
		MessageID:           messageID,
		RequestedBy:         req.RequestedBy,
		IsRetryAttempt:      req.IsRetryAttempt,
		ConfirmationExpires: token.ExpiresAt,
		Timestamp:           sentAt,
	})

	return &HostConfirmationResult{
		Success:   true,
		MessageID: messageID,
		HostEmail: host.Email,
		HostName:  hostName,
		Message:   message,
	}, nil
}

type placeLine struct {
	Place  string
	Amount string
}

type hostEmailData struct {
	HostName       string
	ChallengeTitle string
	PrizePool      string
	Structure      string
	Places         []placeLine
	ConfirmURL     string
	ExpiresOn      string
	IsRetry        bool
}

var ordinals = []string{"1st", "2nd", "3rd", "4th", "5th"}

func placeLines(structure domain.PrizeStructure, pool int64) []placeLine {
	amounts := domain.PlaceAmounts(structure, pool)
	lines := make([]placeLine, 0, len(amounts))
	for i, amount := range amounts {
		lines = append(lines, placeLine{Place: ordinals[i], Amount: domain.FormatAmount(amount)})
	}
	return lines
}

var hostEmailTemplate = template.Must(template.New("host_confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #111;">
  <h2>{{if .IsRetry}}Prize funds are ready{{else}}Confirm your prize distribution{{end}}</h2>
  <p>Hi {{.HostName}},</p>
  {{if .IsRetry}}
  <p>An earlier payout for <strong>{{.ChallengeTitle}}</strong> could not be completed. Funds are now available, so please confirm once more to send the remaining prizes.</p>
  {{else}}
  <p>Your challenge <strong>{{.ChallengeTitle}}</strong> has ended. Please confirm the results so we can pay the winners.</p>
  {{end}}
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td>Prize pool</td><td><strong>{{.PrizePool}}</strong></td></tr>
    <tr><td>Structure</td><td>{{.Structure}}</td></tr>
    {{range .Places}}<tr><td>{{.Place}} place</td><td>{{.Amount}}</td></tr>
    {{end}}
  </table>
  <p><a href="{{.ConfirmURL}}" style="background: #E0FE10; color: #000; padding: 12px 20px; text-decoration: none; border-radius: 6px;">Confirm distribution</a></p>
  <p style="font-size: 12px; color: #666;">This link expires on {{.ExpiresOn}}.</p>
</body>
</html>`))

func renderHostEmail(data hostEmailData) (string, error) {
	var buf bytes.Buffer
	if err := hostEmailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
