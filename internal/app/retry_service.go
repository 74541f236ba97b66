/**
 * @description
 * Balance-gated retry of failed prize distributions.
 *
 * A pass reads the available balance once, walks the confirmed assignments
 * whose distribution failed or partially failed, and re-sends the host
 * confirmation email for each assignment whose entire outstanding amount fits
 * in the remaining budget. Assignments are handled one at a time; a failure on
 * one never aborts the rest of the batch.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/quicklifts/prize-service/internal/domain"
)

const (
	msgNoFunds          = "No available funds for retry"
	msgPassInProgress   = "Retry pass already in progress"
	errorLogSourceRetry = "retry-prize-distributions"
)

// Repository defines the ledger operations the retry pass needs.
type Repository interface {
	ListRetryEligibleAssignments(ctx context.Context) ([]domain.PrizeAssignment, error)
	ListPrizeRecords(ctx context.Context, prizeID string) ([]domain.PrizeRecord, error)
	ClaimAssignmentForRetry(ctx context.Context, id string, expectedStatus domain.DistributionStatus) (bool, error)
	CompleteRetry(ctx context.Context, id string, sentAt time.Time) error
	ReleaseRetryClaim(ctx context.Context, id string, restoreStatus domain.DistributionStatus) error
	InsertRunSummary(ctx context.Context, summary domain.RunSummary) (string, error)
	InsertErrorLog(ctx context.Context, entry domain.ErrorLogEntry) error
}

// FundsMover reports the balance available for payouts.
type FundsMover interface {
	AvailableBalance(ctx context.Context, currency string) (int64, error)
}

// Dispatcher sends the host confirmation email for one assignment.
type Dispatcher interface {
	SendHostConfirmation(ctx context.Context, req HostConfirmationRequest) (*HostConfirmationResult, error)
}

// RetryServiceConfig holds the retry pass settings.
type RetryServiceConfig struct {
	Currency       string
	EventsExchange string
}

// RetryService runs retry passes.
type RetryService struct {
	repo       Repository
	funds      FundsMover
	dispatcher Dispatcher
	publisher  EventPublisher
	lock       PassLock
	logger     *slog.Logger
	cfg        RetryServiceConfig
	now        func() time.Time
}

// NewRetryService creates a RetryService. lock may be nil.
func NewRetryService(repo Repository, funds FundsMover, dispatcher Dispatcher, publisher EventPublisher, lock PassLock, logger *slog.Logger, cfg RetryServiceConfig) *RetryService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &RetryService{
		repo:       repo,
		funds:      funds,
		dispatcher: dispatcher,
		publisher:  publisher,
		lock:       lock,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// RunRetryPass executes one retry pass. A returned error means the pass was
// aborted; it has already been written to the error log.
func (s *RetryService) RunRetryPass(ctx context.Context) (result *domain.RetryPassResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = s.recordFailure(ctx, fmt.Errorf("%w: retry pass panicked: %v", domain.ErrUnexpected, r), debug.Stack())
		}
	}()

	if s.lock != nil {
		release, acquired, lockErr := s.lock.Acquire(ctx)
		switch {
		case lockErr != nil:
			s.logger.Warn("retry pass lock unavailable; relying on per-assignment claims", "error", lockErr)
		case !acquired:
			s.logger.Info("retry pass skipped; another pass holds the lock")
			return &domain.RetryPassResult{
				Success:      true,
				Message:      msgPassInProgress,
				RetryResults: []domain.RetryResult{},
			}, nil
		default:
			defer release()
		}
	}

	startedAt := s.now().UTC()

	available, err := s.funds.AvailableBalance(ctx, s.cfg.Currency)
	if err != nil {
		return nil, s.recordFailure(ctx, fmt.Errorf("failed to check available balance: %w", err), debug.Stack())
	}

	result = &domain.RetryPassResult{
		Success:        true,
		BalanceChecked: domain.NewBalanceSnapshot(available),
		RetryResults:   []domain.RetryResult{},
	}
	s.logger.Info("retry pass started", "available_cents", available, "currency", s.cfg.Currency)

	if available <= 0 {
		result.Message = msgNoFunds
		s.logger.Info("retry pass finished; no available funds")
		return result, nil
	}

	assignments, err := s.repo.ListRetryEligibleAssignments(ctx)
	if err != nil {
		return nil, s.recordFailure(ctx, fmt.Errorf("failed to list retry-eligible assignments: %w", err), debug.Stack())
	}

	remaining := available
	for i, assignment := range assignments {
		if ctx.Err() != nil {
			s.logger.Warn("retry pass interrupted", "error", ctx.Err(), "unvisited", len(assignments)-i)
			break
		}

		outcome := s.retryAssignment(ctx, assignment, remaining)
		if outcome.skipped {
			result.Summary.PrizesSkipped++
		}
		if outcome.result != nil {
			result.Add(*outcome.result)
		}
		remaining -= outcome.committed
	}

	if len(result.RetryResults) == 0 {
		result.Message = "No prize distributions were retried"
	} else {
		result.Message = fmt.Sprintf("Processed %d prize distribution retries", result.Summary.PrizesProcessed)
		s.writeRunSummary(ctx, startedAt, result)
	}

	s.logger.Info("retry pass finished",
		"eligible", len(assignments),
		"processed", result.Summary.PrizesProcessed,
		"successes", result.Summary.TotalSuccesses,
		"failures", result.Summary.TotalFailures,
		"skipped", result.Summary.PrizesSkipped,
		"remaining_cents", remaining,
	)
	return result, nil
}

type assignmentOutcome struct {
	result    *domain.RetryResult
	committed int64
	skipped   bool
}

func (s *RetryService) retryAssignment(ctx context.Context, assignment domain.PrizeAssignment, remaining int64) assignmentOutcome {
	logger := s.logger.With("prize_id", assignment.ID, "challenge_id", assignment.ChallengeID)

	records, err := s.repo.ListPrizeRecords(ctx, assignment.ID)
	if err != nil {
		logger.Error("failed to load prize records", "error", err)
		return assignmentOutcome{result: errorResult(assignment, domain.RetryActionEmailError, nil, err)}
	}

	totals := domain.SummarizeRecords(records)
	if totals.OutstandingCount == 0 {
		logger.Info("no outstanding prize records; nothing to retry")
		return assignmentOutcome{}
	}

	if totals.ExceedsPool(assignment.PrizeAmount) {
		err := fmt.Errorf("succeeded %s plus outstanding %s exceeds prize pool %s",
			domain.FormatAmount(totals.Succeeded), domain.FormatAmount(totals.Outstanding), domain.FormatAmount(assignment.PrizeAmount))
		logger.Error("refusing retry", "error", err)
		return assignmentOutcome{result: errorResult(assignment, domain.RetryActionEmailError, &totals.Outstanding, err)}
	}

	if totals.Outstanding > remaining {
		logger.Info("insufficient funds for retry", "needed_cents", totals.Outstanding, "remaining_cents", remaining)
		return assignmentOutcome{skipped: true}
	}

	claimed, err := s.repo.ClaimAssignmentForRetry(ctx, assignment.ID, assignment.DistributionStatus)
	if err != nil {
		logger.Error("failed to claim assignment for retry", "error", err)
		return assignmentOutcome{result: errorResult(assignment, domain.RetryActionEmailError, &totals.Outstanding, err)}
	}
	if !claimed {
		logger.Info("assignment changed since it was listed; skipping")
		return assignmentOutcome{}
	}

	if _, err := s.dispatcher.SendHostConfirmation(ctx, HostConfirmationRequest{
		PrizeAssignmentID: assignment.ID,
		IsRetryAttempt:    true,
	}); err != nil {
		if releaseErr := s.repo.ReleaseRetryClaim(ctx, assignment.ID, assignment.DistributionStatus); releaseErr != nil {
			logger.Error("failed to release retry claim", "restore_status", assignment.DistributionStatus, "error", releaseErr)
		}
		action := domain.RetryActionEmailError
		if domain.IsClassified(err) {
			action = domain.RetryActionEmailFailed
		}
		logger.Warn("retry email not sent", "action", action, "error", err)
		return assignmentOutcome{result: errorResult(assignment, action, &totals.Outstanding, err)}
	}

	if err := s.repo.CompleteRetry(ctx, assignment.ID, s.now().UTC()); err != nil {
		logger.Error("retry email sent but completion stamp failed", "error", err)
	}

	logger.Info("retry email sent", "needed_cents", totals.Outstanding)
	needed := totals.Outstanding
	return assignmentOutcome{
		committed: needed,
		result: &domain.RetryResult{
			PrizeID:        assignment.ID,
			ChallengeTitle: assignment.ChallengeTitle,
			Action:         domain.RetryActionEmailSent,
			TotalNeeded:    &needed,
			Success:        true,
		},
	}
}

func errorResult(assignment domain.PrizeAssignment, action domain.RetryAction, needed *int64, err error) *domain.RetryResult {
	return &domain.RetryResult{
		PrizeID:        assignment.ID,
		ChallengeTitle: assignment.ChallengeTitle,
		Action:         action,
		TotalNeeded:    needed,
		Error:          err.Error(),
		Success:        false,
	}
}

func (s *RetryService) writeRunSummary(ctx context.Context, startedAt time.Time, result *domain.RetryPassResult) {
	summary := domain.RunSummary{
		Timestamp:      startedAt,
		BalanceChecked: result.BalanceChecked,
		RetryResults:   result.RetryResults,
		Summary:        result.Summary,
	}
	id, err := s.repo.InsertRunSummary(ctx, summary)
	if err != nil {
		s.logger.Error("failed to write retry run summary", "error", err)
		return
	}

	publishEvent(ctx, s.publisher, s.logger, s.cfg.EventsExchange, eventRetryPassCompleted, retryPassCompletedEvent{
		RunSummaryID:   id,
		BalanceChecked: result.BalanceChecked,
		Summary:        result.Summary,
		Timestamp:      startedAt,
	})
}

func (s *RetryService) recordFailure(ctx context.Context, cause error, stack []byte) error {
	s.logger.Error("retry pass aborted", "error", cause)

	entry := domain.ErrorLogEntry{
		Source:    errorLogSourceRetry,
		Message:   cause.Error(),
		Stack:     string(stack),
		Timestamp: s.now().UTC(),
	}
	// The pass context may be the reason for the failure.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.InsertErrorLog(logCtx, entry); err != nil {
		s.logger.Error("failed to write error log", "error", err)
	}

	if errors.Is(cause, domain.ErrUnexpected) {
		return cause
	}
	return fmt.Errorf("retry pass failed: %w", cause)
}
