/**
 * @description
 * Consumes the single-use confirmation links emailed to challenge hosts and
 * publishes the distribution confirmed event.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quicklifts/prize-service/internal/confirmation"
	"github.com/quicklifts/prize-service/internal/domain"
	"github.com/quicklifts/prize-service/internal/store"
)

// ConfirmationRepository defines the ledger operations used when a host confirms.
type ConfirmationRepository interface {
	GetAssignment(ctx context.Context, id string) (*domain.PrizeAssignment, error)
	ConfirmHostDistribution(ctx context.Context, id, nonce string, confirmedAt time.Time) (*domain.PrizeAssignment, error)
}

// TokenVerifier checks a presented confirmation token.
type TokenVerifier interface {
	Verify(assignmentID, nonce, presented string, expiresAt time.Time) error
}

// ConfirmationService consumes confirmation links clicked by hosts.
type ConfirmationService struct {
	repo      ConfirmationRepository
	verifier  TokenVerifier
	publisher EventPublisher
	logger    *slog.Logger
	exchange  string
	now       func() time.Time
}

// NewConfirmationService creates a ConfirmationService.
func NewConfirmationService(repo ConfirmationRepository, verifier TokenVerifier, publisher EventPublisher, logger *slog.Logger, exchange string) *ConfirmationService {
	return &ConfirmationService{
		repo:      repo,
		verifier:  verifier,
		publisher: publisher,
		logger:    logger,
		exchange:  exchange,
		now:       time.Now,
	}
}

// ConfirmDistribution verifies the token for prizeID and marks the host as
// having confirmed. A token can be used once.
func (s *ConfirmationService) ConfirmDistribution(ctx context.Context, prizeID, token string) (*domain.PrizeAssignment, error) {
	prizeID = strings.TrimSpace(prizeID)
	token = strings.TrimSpace(token)
	if prizeID == "" || token == "" {
		return nil, fmt.Errorf("prizeId and token are required: %w", domain.ErrValidation)
	}

	assignment, err := s.repo.GetAssignment(ctx, prizeID)
	if err != nil {
		return nil, err
	}
	if assignment.ConfirmationNonce == nil || assignment.ConfirmationExpires == nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, confirmation.ErrTokenMismatch)
	}
	if err := s.verifier.Verify(assignment.ID, *assignment.ConfirmationNonce, token, *assignment.ConfirmationExpires); err != nil {
		s.logger.Warn("confirmation token rejected", "prize_id", assignment.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	confirmedAt := s.now().UTC()
	confirmed, err := s.repo.ConfirmHostDistribution(ctx, assignment.ID, *assignment.ConfirmationNonce, confirmedAt)
	if err != nil {
		if errors.Is(err, store.ErrAssignmentNotFound) {
			// Used or reissued between load and update.
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, confirmation.ErrTokenMismatch)
		}
		return nil, err
	}

	s.logger.Info("host confirmed prize distribution", "prize_id", confirmed.ID, "challenge_id", confirmed.ChallengeID)
	publishEvent(ctx, s.publisher, s.logger, s.exchange, eventDistributionConfirmed, distributionConfirmedEvent{
		PrizeAssignmentID:  confirmed.ID,
		ChallengeID:        confirmed.ChallengeID,
		PrizeAmount:        confirmed.PrizeAmount,
		PrizeStructure:     confirmed.PrizeStructure,
		DistributionStatus: confirmed.DistributionStatus,
		ConfirmedAt:        confirmedAt,
	})
	return confirmed, nil
}
