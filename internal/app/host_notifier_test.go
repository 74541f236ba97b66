package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/quicklifts/prize-service/internal/confirmation"
	"github.com/quicklifts/prize-service/internal/domain"
	"github.com/quicklifts/prize-service/pkg/brevoclient"
)

const testSigningSecret = "test-secret"

var linkTokenPattern = regexp.MustCompile(`token=([0-9a-f]+)`)

type hostRepoStub struct {
	HostRepository

	assignment    *domain.PrizeAssignment
	assignmentErr error
	host          *domain.Host
	hostErr       error
	recordErr     error

	recordedID      string
	recordedReceipt domain.HostEmailReceipt
}

func (s *hostRepoStub) GetAssignment(ctx context.Context, id string) (*domain.PrizeAssignment, error) {
	if s.assignmentErr != nil {
		return nil, s.assignmentErr
	}
	return s.assignment, nil
}

func (s *hostRepoStub) GetChallengeHost(ctx context.Context, challengeID string) (*domain.Host, error) {
	if s.hostErr != nil {
		return nil, s.hostErr
	}
	return s.host, nil
}

func (s *hostRepoStub) RecordHostEmailSent(ctx context.Context, id string, receipt domain.HostEmailReceipt) error {
	s.recordedID = id
	s.recordedReceipt = receipt
	return s.recordErr
}

type senderStub struct {
	messageID string
	err       error
	sent      []brevoclient.Email
}

func (s *senderStub) SendEmail(ctx context.Context, email brevoclient.Email) (string, error) {
	s.sent = append(s.sent, email)
	if s.err != nil {
		return "", s.err
	}
	return s.messageID, nil
}

func newTestNotifier(t *testing.T, repo *hostRepoStub, sender *senderStub, publisher *publisherStub) *HostNotifier {
	t.Helper()
	issuer, err := confirmation.NewIssuer(testSigningSecret, confirmation.MinValidity)
	if err != nil {
		t.Fatalf("NewIssuer returned error: %v", err)
	}
	return NewHostNotifier(repo, issuer, sender, publisher, testLogger(), HostNotifierConfig{
		SiteBaseURL:    "https://fitwithpulse.ai",
		EventsExchange: "quicklifts.events",
	})
}

func sampleAssignment() *domain.PrizeAssignment {
	return &domain.PrizeAssignment{
		ID:                 "prize-1",
		ChallengeID:        "challenge-1",
		ChallengeTitle:     "Spring Shred",
		PrizeAmount:        10000,
		PrizeStructure:     domain.PrizeStructureTopThreeSplit,
		HostConfirmed:      true,
		DistributionStatus: domain.DistributionFailed,
	}
}

func sampleHost() *domain.Host {
	return &domain.Host{UserID: "host-1", Email: "host@example.com", DisplayName: "Jordan", ChallengeTitle: "Spring Shred"}
}

func TestSendHostConfirmation_ValidatesRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     HostConfirmationRequest
		missing string
	}{
		{name: "missing assignment", req: HostConfirmationRequest{IsRetryAttempt: true}, missing: "prizeAssignmentId"},
		{name: "missing challenge", req: HostConfirmationRequest{PrizeAssignmentID: "p", ChallengeTitle: "t", PrizeAmount: 1, PrizeStructure: domain.PrizeStructureCustom, RequestedBy: "u"}, missing: "challengeId"},
		{name: "zero amount", req: HostConfirmationRequest{PrizeAssignmentID: "p", ChallengeID: "c", ChallengeTitle: "t", PrizeStructure: domain.PrizeStructureCustom, RequestedBy: "u"}, missing: "prizeAmount"},
		{name: "bad structure", req: HostConfirmationRequest{PrizeAssignmentID: "p", ChallengeID: "c", ChallengeTitle: "t", PrizeAmount: 1, PrizeStructure: "top_ten", RequestedBy: "u"}, missing: "prizeStructure"},
		{name: "missing requester", req: HostConfirmationRequest{PrizeAssignmentID: "p", ChallengeID: "c", ChallengeTitle: "t", PrizeAmount: 1, PrizeStructure: domain.PrizeStructureCustom}, missing: "requestedBy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &senderStub{}
			notifier := newTestNotifier(t, &hostRepoStub{}, sender, &publisherStub{})
			_, err := notifier.SendHostConfirmation(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Fatalf("expected error to name %s, got %v", tt.missing, err)
			}
			if len(sender.sent) != 0 {
				t.Fatal("expected no email for an invalid request")
			}
		})
	}
}

func TestSendHostConfirmation_SendsAndRecordsReceipt(t *testing.T) {
	repo := &hostRepoStub{assignment: sampleAssignment(), host: sampleHost()}
	sender := &senderStub{messageID: "<msg-1@brevo>"}
	publisher := &publisherStub{}
	notifier := newTestNotifier(t, repo, sender, publisher)

	result, err := notifier.SendHostConfirmation(context.Background(), HostConfirmationRequest{
		PrizeAssignmentID: "prize-1",
		ChallengeID:       "challenge-1",
		ChallengeTitle:    "Spring Shred",
		PrizeAmount:       10000,
		PrizeStructure:    domain.PrizeStructureTopThreeSplit,
		RequestedBy:       "admin-7",
	})
	if err != nil {
		t.Fatalf("SendHostConfirmation returned error: %v", err)
	}

	if !result.Success || result.MessageID != "<msg-1@brevo>" || result.HostEmail != "host@example.com" || result.HostName != "Jordan" {
		t.Fatalf("unexpected result %+v", result)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sender.sent))
	}
	email := sender.sent[0]
	if email.To.Email != "host@example.com" {
		t.Fatalf("unexpected recipient %+v", email.To)
	}
	for _, want := range []string{"Spring Shred", "$100.00", "$50.00", "$30.00", "$20.00", "Top 3 split", "This link expires on", "confirm-prize-distribution?prizeId=prize-1&amp;token="} {
		if !strings.Contains(email.HTMLContent, want) {
			t.Fatalf("expected email body to contain %q", want)
		}
	}

	if repo.recordedID != "prize-1" {
		t.Fatalf("expected receipt for prize-1, got %q", repo.recordedID)
	}
	receipt := repo.recordedReceipt
	if receipt.MessageID != "<msg-1@brevo>" || receipt.Nonce == "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	match := linkTokenPattern.FindStringSubmatch(email.HTMLContent)
	if match == nil || len(match[1]) != confirmation.TokenLength {
		t.Fatalf("expected a %d character token in the link, got %v", confirmation.TokenLength, match)
	}
	verifier, _ := confirmation.NewIssuer(testSigningSecret, confirmation.MinValidity)
	if err := verifier.Verify("prize-1", receipt.Nonce, match[1], receipt.ExpiresAt); err != nil {
		t.Fatalf("expected emailed token to verify against the recorded nonce: %v", err)
	}
	if receipt.ExpiresAt.Sub(receipt.SentAt) < confirmation.MinValidity-time.Minute {
		t.Fatalf("expected expiry at least 7 days after send, got %s", receipt.ExpiresAt.Sub(receipt.SentAt))
	}

	if len(publisher.routingKeys) != 1 || publisher.routingKeys[0] != eventHostConfirmationSent {
		t.Fatalf("expected host confirmation event, got %v", publisher.routingKeys)
	}
}

func TestSendHostConfirmation_RetryModeResolvesFromLedger(t *testing.T) {
	repo := &hostRepoStub{assignment: sampleAssignment(), host: sampleHost()}
	sender := &senderStub{messageID: "m"}
	publisher := &publisherStub{}
	notifier := newTestNotifier(t, repo, sender, publisher)

	if _, err := notifier.SendHostConfirmation(context.Background(), HostConfirmationRequest{PrizeAssignmentID: "prize-1", IsRetryAttempt: true}); err != nil {
		t.Fatalf("SendHostConfirmation returned error: %v", err)
	}

	if !strings.Contains(sender.sent[0].Subject, "Spring Shred") {
		t.Fatalf("expected subject from ledger title, got %q", sender.sent[0].Subject)
	}
	event, ok := publisher.bodies[0].(hostConfirmationSentEvent)
	if !ok {
		t.Fatalf("unexpected event body %T", publisher.bodies[0])
	}
	if event.RequestedBy != RetrySchedulerRequester || !event.IsRetryAttempt || event.ChallengeID != "challenge-1" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestSendHostConfirmation_HostErrors(t *testing.T) {
	tests := []struct {
		name string
		repo *hostRepoStub
	}{
		{name: "assignment missing", repo: &hostRepoStub{assignmentErr: fmt.Errorf("prize assignment %w", domain.ErrNotFound)}},
		{name: "challenge missing", repo: &hostRepoStub{assignment: sampleAssignment(), hostErr: fmt.Errorf("challenge %w", domain.ErrNotFound)}},
		{name: "host without email", repo: &hostRepoStub{assignment: sampleAssignment(), host: &domain.Host{UserID: "host-1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &senderStub{}
			notifier := newTestNotifier(t, tt.repo, sender, &publisherStub{})
			_, err := notifier.SendHostConfirmation(context.Background(), HostConfirmationRequest{PrizeAssignmentID: "prize-1", IsRetryAttempt: true})
			if !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			if len(sender.sent) != 0 {
				t.Fatal("expected no email")
			}
		})
	}
}

func TestSendHostConfirmation_ProviderErrorPropagates(t *testing.T) {
	repo := &hostRepoStub{assignment: sampleAssignment(), host: sampleHost()}
	sender := &senderStub{err: &domain.UpstreamError{Provider: "brevo", StatusCode: 401, Message: "Key not found"}}
	publisher := &publisherStub{}
	notifier := newTestNotifier(t, repo, sender, publisher)

	_, err := notifier.SendHostConfirmation(context.Background(), HostConfirmationRequest{PrizeAssignmentID: "prize-1", IsRetryAttempt: true})
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != 401 || upstream.Message != "Key not found" {
		t.Fatalf("expected upstream error with provider details, got %v", err)
	}
	if repo.recordedID != "" {
		t.Fatal("expected no receipt after a failed send")
	}
	if len(publisher.routingKeys) != 0 {
		t.Fatal("expected no event after a failed send")
	}
}

func TestSendHostConfirmation_RejectsRequestNotMatchingLedger(t *testing.T) {
	tests := []struct {
		name        string
		challengeID string
		amount      int64
	}{
		{name: "other challenge", challengeID: "challenge-9", amount: 10000},
		{name: "other amount", challengeID: "challenge-1", amount: 99999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &hostRepoStub{assignment: sampleAssignment(), host: &domain.Host{UserID: "host-9", Email: "other@example.com"}}
			sender := &senderStub{messageID: "m"}
			notifier := newTestNotifier(t, repo, sender, &publisherStub{})

			_, err := notifier.SendHostConfirmation(context.Background(), HostConfirmationRequest{
				PrizeAssignmentID: "prize-1",
				ChallengeID:       tt.challengeID,
				ChallengeTitle:    "Spring Shred",
				PrizeAmount:       tt.amount,
				PrizeStructure:    domain.PrizeStructureTopThreeSplit,
				RequestedBy:       "host-9",
			})
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(sender.sent) != 0 {
				t.Fatalf("expected no email, got %d", len(sender.sent))
			}
			if repo.recordedID != "" {
				t.Fatal("expected no token to be recorded")
			}
		})
	}
}

func TestSendHostConfirmation_UsesLedgerDetails(t *testing.T) {
	repo := &hostRepoStub{assignment: sampleAssignment(), host: sampleHost()}
	sender := &senderStub{messageID: "m"}
	notifier := newTestNotifier(t, repo, sender, &publisherStub{})

	_, err := notifier.SendHostConfirmation(context.Background(), HostConfirmationRequest{
		PrizeAssignmentID: "prize-1",
		ChallengeID:       "challenge-1",
		ChallengeTitle:    "Something Else",
		PrizeAmount:       10000,
		PrizeStructure:    domain.PrizeStructureWinnerTakesAll,
		RequestedBy:       "admin-7",
	})
	if err != nil {
		t.Fatalf("SendHostConfirmation returned error: %v", err)
	}
	email := sender.sent[0]
	if !strings.Contains(email.Subject, "Spring Shred") || !strings.Contains(email.HTMLContent, "Top 3 split") {
		t.Fatalf("expected ledger title and structure, got subject %q", email.Subject)
	}
}

func TestSendHostConfirmation_ReceiptFailureStillReportsSent(t *testing.T) {
	repo := &hostRepoStub{assignment: sampleAssignment(), host: sampleHost(), recordErr: errors.New("connection reset")}
	sender := &senderStub{messageID: "<msg-1@brevo>"}
	publisher := &publisherStub{}
	notifier := newTestNotifier(t, repo, sender, publisher)

	result, err := notifier.SendHostConfirmation(context.Background(), HostConfirmationRequest{PrizeAssignmentID: "prize-1", IsRetryAttempt: true})
	if err != nil {
		t.Fatalf("expected a sent email to be reported as sent, got %v", err)
	}
	if !result.Success || result.MessageID != "<msg-1@brevo>" || !strings.Contains(result.Message, "receipt not recorded") {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(publisher.routingKeys) != 1 {
		t.Fatalf("expected host confirmation event, got %v", publisher.routingKeys)
	}
}

// hostLedgerStub lets the real notifier run inside a retry pass.
type hostLedgerStub struct {
	*ledgerStub
	host *hostRepoStub
}

func (s hostLedgerStub) GetAssignment(ctx context.Context, id string) (*domain.PrizeAssignment, error) {
	a := s.ledgerStub.assignment(id)
	return &a, nil
}

func (s hostLedgerStub) GetChallengeHost(ctx context.Context, challengeID string) (*domain.Host, error) {
	return s.host.GetChallengeHost(ctx, challengeID)
}

func (s hostLedgerStub) RecordHostEmailSent(ctx context.Context, id string, receipt domain.HostEmailReceipt) error {
	return s.host.RecordHostEmailSent(ctx, id, receipt)
}

func TestRetryPass_ReceiptFailureDoesNotResend(t *testing.T) {
	ledger := newLedgerStub(confirmedAssignment("P1", domain.DistributionFailed, 10000))
	ledger.records["P1"] = failedRecords("P1", 5000, 3000)
	hostRepo := &hostRepoStub{host: sampleHost(), recordErr: errors.New("connection reset")}
	sender := &senderStub{messageID: "m"}
	notifier := newTestNotifier(t, hostRepo, sender, &publisherStub{})
	notifier.repo = hostLedgerStub{ledgerStub: ledger, host: hostRepo}

	service := NewRetryService(ledger, &fundsStub{cents: 10000}, notifier, &publisherStub{}, nil, testLogger(), RetryServiceConfig{})

	first, err := service.RunRetryPass(context.Background())
	if err != nil {
		t.Fatalf("first pass returned error: %v", err)
	}
	if len(first.RetryResults) != 1 || first.RetryResults[0].Action != domain.RetryActionEmailSent {
		t.Fatalf("expected the sent email to be reported as sent, got %+v", first.RetryResults)
	}
	got := ledger.assignment("P1")
	if got.DistributionStatus != domain.DistributionRetryEmailSent || got.RetryEmailCount != 1 {
		t.Fatalf("expected claim kept and completed, got status=%s count=%d", got.DistributionStatus, got.RetryEmailCount)
	}

	if _, err := service.RunRetryPass(context.Background()); err != nil {
		t.Fatalf("second pass returned error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one email across both passes, got %d", len(sender.sent))
	}
}
