/**
 * @description
 * Data access layer for the prize distribution ledger.
 * Every mutation is committed on its own; a retry pass never wraps several
 * assignments in one transaction.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quicklifts/prize-service/internal/domain"
)

var (
	ErrAssignmentNotFound = fmt.Errorf("prize assignment %w", domain.ErrNotFound)
	ErrChallengeNotFound  = fmt.Errorf("challenge %w", domain.ErrNotFound)
	ErrHostNotFound       = fmt.Errorf("challenge host %w", domain.ErrNotFound)
)

const assignmentColumns = `
	id, challenge_id, challenge_title, prize_amount, prize_structure,
	host_confirmed, host_confirmed_at, distribution_status,
	host_email_sent, host_email_sent_at, host_email_message_id,
	confirmation_nonce, confirmation_expires,
	retry_email_count, last_retry_email_sent, created_at, updated_at
`

// Repository handles database operations for prize assignments and records.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanAssignment(row pgx.Row) (*domain.PrizeAssignment, error) {
	var a domain.PrizeAssignment
	if err := row.Scan(
		&a.ID,
		&a.ChallengeID,
		&a.ChallengeTitle,
		&a.PrizeAmount,
		&a.PrizeStructure,
		&a.HostConfirmed,
		&a.HostConfirmedAt,
		&a.DistributionStatus,
		&a.HostEmailSent,
		&a.HostEmailSentAt,
		&a.HostEmailMessageID,
		&a.ConfirmationNonce,
		&a.ConfirmationExpires,
		&a.RetryEmailCount,
		&a.LastRetryEmailSent,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListRetryEligibleAssignments returns confirmed assignments whose last
// distribution attempt failed or only partially succeeded.
func (r *Repository) ListRetryEligibleAssignments(ctx context.Context) ([]domain.PrizeAssignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM prize_assignments
		WHERE host_confirmed = TRUE
		  AND distribution_status IN ('failed', 'partially_distributed')
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []domain.PrizeAssignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, *assignment)
	}
	return assignments, rows.Err()
}

// GetAssignment loads a single assignment.
func (r *Repository) GetAssignment(ctx context.Context, id string) (*domain.PrizeAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM prize_assignments WHERE id = $1`
	assignment, err := scanAssignment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}
	return assignment, nil
}

// ListPrizeRecords returns every payout record for an assignment.
func (r *Repository) ListPrizeRecords(ctx context.Context, prizeID string) ([]domain.PrizeRecord, error) {
	query := `
		SELECT id, prize_id, user_id, rank, prize_amount, status, updated_at
		FROM prize_records
		WHERE prize_id = $1
		ORDER BY rank ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, prizeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PrizeRecord
	for rows.Next() {
		var record domain.PrizeRecord
		if err := rows.Scan(
			&record.ID,
			&record.PrizeID,
			&record.UserID,
			&record.Rank,
			&record.PrizeAmount,
			&record.Status,
			&record.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ClaimAssignmentForRetry moves an assignment from expectedStatus to
// retry_email_sent. It returns false when another writer changed the status first.
func (r *Repository) ClaimAssignmentForRetry(ctx context.Context, id string, expectedStatus domain.DistributionStatus) (bool, error) {
	if !expectedStatus.CanTransitionTo(domain.DistributionRetryEmailSent) {
		return false, fmt.Errorf("cannot claim assignment in status %q: %w", expectedStatus, domain.ErrValidation)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE prize_assignments
		SET distribution_status = 'retry_email_sent',
		    updated_at = NOW()
		WHERE id = $1
		  AND host_confirmed = TRUE
		  AND distribution_status = $2
	`, id, expectedStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteRetry stamps a successful retry email on a claimed assignment.
func (r *Repository) CompleteRetry(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE prize_assignments
		SET last_retry_email_sent = $2,
		    retry_email_count = retry_email_count + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND distribution_status = 'retry_email_sent'
	`, id, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// ReleaseRetryClaim restores the status observed before a claim whose email could not be sent.
func (r *Repository) ReleaseRetryClaim(ctx context.Context, id string, restoreStatus domain.DistributionStatus) error {
	if !domain.DistributionRetryEmailSent.CanTransitionTo(restoreStatus) {
		return fmt.Errorf("cannot release claim to status %q: %w", restoreStatus, domain.ErrValidation)
	}
	_, err := r.db.Exec(ctx, `
		UPDATE prize_assignments
		SET distribution_status = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND distribution_status = 'retry_email_sent'
	`, id, restoreStatus)
	return err
}

// RecordHostEmailSent stores delivery metadata and the nonce of the freshly
// issued token. The token itself is never stored.
func (r *Repository) RecordHostEmailSent(ctx context.Context, id string, receipt domain.HostEmailReceipt) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE prize_assignments
		SET host_email_sent = TRUE,
		    host_email_sent_at = $2,
		    host_email_message_id = $3,
		    confirmation_nonce = $4,
		    confirmation_expires = $5,
		    updated_at = NOW()
		WHERE id = $1
	`, id, receipt.SentAt, receipt.MessageID, receipt.Nonce, receipt.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// ConfirmHostDistribution marks the assignment host-confirmed and clears the nonce.
// It returns ErrAssignmentNotFound when nonce is no longer the current one,
// either because it was used or because a newer link was issued.
func (r *Repository) ConfirmHostDistribution(ctx context.Context, id, nonce string, confirmedAt time.Time) (*domain.PrizeAssignment, error) {
	query := `
		UPDATE prize_assignments
		SET host_confirmed = TRUE,
		    host_confirmed_at = $2,
		    confirmation_nonce = NULL,
		    updated_at = NOW()
		WHERE id = $1
		  AND confirmation_nonce = $3
		RETURNING ` + assignmentColumns
	assignment, err := scanAssignment(r.db.QueryRow(ctx, query, id, confirmedAt, nonce))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}
	return assignment, nil
}

// GetChallengeHost resolves the host of a challenge with their contact details.
func (r *Repository) GetChallengeHost(ctx context.Context, challengeID string) (*domain.Host, error) {
	var (
		title  string
		hostID *string
	)
	err := r.db.QueryRow(ctx, `SELECT title, host_user_id FROM challenges WHERE id = $1`, challengeID).Scan(&title, &hostID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	if hostID == nil || *hostID == "" {
		return nil, ErrHostNotFound
	}

	host := domain.Host{UserID: *hostID, ChallengeTitle: title}
	var email, displayName *string
	err = r.db.QueryRow(ctx, `SELECT email, display_name FROM users WHERE id = $1`, *hostID).Scan(&email, &displayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHostNotFound
		}
		return nil, err
	}
	if email != nil {
		host.Email = *email
	}
	if displayName != nil {
		host.DisplayName = *displayName
	}
	return &host, nil
}

// InsertRunSummary appends one retry pass audit entry.
func (r *Repository) InsertRunSummary(ctx context.Context, summary domain.RunSummary) (string, error) {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	results, err := json.Marshal(summary.RetryResults)
	if err != nil {
		return "", err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO prize_retry_logs (
			id, run_at, available_usd, available_cents,
			prizes_processed, total_successes, total_failures, prizes_skipped,
			retry_results
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		summary.ID,
		summary.Timestamp,
		summary.BalanceChecked.AvailableUSD,
		summary.BalanceChecked.AvailableCents,
		summary.Summary.PrizesProcessed,
		summary.Summary.TotalSuccesses,
		summary.Summary.TotalFailures,
		summary.Summary.PrizesSkipped,
		string(results),
	)
	if err != nil {
		return "", err
	}
	return summary.ID, nil
}

// ListRecentRunSummaries returns the latest retry pass audit entries.
func (r *Repository) ListRecentRunSummaries(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, run_at, available_usd, available_cents,
		       prizes_processed, total_successes, total_failures, prizes_skipped,
		       retry_results
		FROM prize_retry_logs
		ORDER BY run_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.RunSummary
	for rows.Next() {
		var (
			summary domain.RunSummary
			results []byte
		)
		if err := rows.Scan(
			&summary.ID,
			&summary.Timestamp,
			&summary.BalanceChecked.AvailableUSD,
			&summary.BalanceChecked.AvailableCents,
			&summary.Summary.PrizesProcessed,
			&summary.Summary.TotalSuccesses,
			&summary.Summary.TotalFailures,
			&summary.Summary.PrizesSkipped,
			&results,
		); err != nil {
			return nil, err
		}
		if len(results) > 0 {
			if err := json.Unmarshal(results, &summary.RetryResults); err != nil {
				return nil, err
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// InsertErrorLog appends an error log entry for a failed pass.
func (r *Repository) InsertErrorLog(ctx context.Context, entry domain.ErrorLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO error_logs (id, source, message, stack, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.Source, entry.Message, entry.Stack, entry.Timestamp)
	return err
}
