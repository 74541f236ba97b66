/**
 * @description
 * Scheduled job implementations for the prize service.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/quicklifts/prize-service/internal/config"
	"github.com/quicklifts/prize-service/internal/domain"
)

// RetryRunner runs one retry pass.
type RetryRunner interface {
	RunRetryPass(ctx context.Context) (*domain.RetryPassResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	retry  RetryRunner
	logger *slog.Logger
	config config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(retry RetryRunner, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		retry:  retry,
		logger: logger,
		config: cfg,
	}
}

// RunPrizeDistributionRetry invokes a retry pass and returns its result unchanged.
func (j *Jobs) RunPrizeDistributionRetry(ctx context.Context) (*domain.RetryPassResult, error) {
	return j.retry.RunRetryPass(ctx)
}

// RetryPrizeDistributions is the cron entry for the daily retry pass.
func (j *Jobs) RetryPrizeDistributions() {
	j.logger.Info("starting prize distribution retry job")

	ctx := context.Background()
	if timeout := j.config.RetryJobTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := j.RunPrizeDistributionRetry(ctx)
	if err != nil {
		j.logger.Error("prize distribution retry job failed", "error", err)
		return
	}

	j.logger.Info("prize distribution retry job finished",
		"message", result.Message,
		"processed", result.Summary.PrizesProcessed,
		"successes", result.Summary.TotalSuccesses,
		"failures", result.Summary.TotalFailures,
	)
}
