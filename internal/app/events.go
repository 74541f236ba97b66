package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/quicklifts/prize-service/internal/domain"
)

const (
	eventHostConfirmationSent  = "prize.host_confirmation.sent"
	eventDistributionConfirmed = "prize.distribution.confirmed"
	eventRetryPassCompleted    = "prize.retry_pass.completed"
)

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

type hostConfirmationSentEvent struct {
	PrizeAssignmentID   string    `json:"prizeAssignmentId"`
	ChallengeID         string    `json:"challengeId"`
	HostUserID          string    `json:"hostUserId"`
	MessageID           string    `json:"messageId"`
	RequestedBy         string    `json:"requestedBy"`
	IsRetryAttempt      bool      `json:"isRetryAttempt"`
	ConfirmationExpires time.Time `json:"confirmationExpires"`
	Timestamp           time.Time `json:"timestamp"`
}

type distributionConfirmedEvent struct {
	PrizeAssignmentID  string                    `json:"prizeAssignmentId"`
	ChallengeID        string                    `json:"challengeId"`
	PrizeAmount        int64                     `json:"prizeAmount"`
	PrizeStructure     domain.PrizeStructure     `json:"prizeStructure"`
	DistributionStatus domain.DistributionStatus `json:"distributionStatus"`
	ConfirmedAt        time.Time                 `json:"confirmedAt"`
}

type retryPassCompletedEvent struct {
	RunSummaryID   string                 `json:"runSummaryId"`
	BalanceChecked domain.BalanceSnapshot `json:"balanceChecked"`
	Summary        domain.RetrySummary    `json:"summary"`
	Timestamp      time.Time              `json:"timestamp"`
}

func publishEvent(ctx context.Context, publisher EventPublisher, logger *slog.Logger, exchange, routingKey string, payload interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, exchange, routingKey, payload); err != nil {
		logger.Warn("failed to publish prize event", "routing_key", routingKey, "error", err)
	}
}
