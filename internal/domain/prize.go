/**
 * @description
 * Domain models for challenge prize pools and per-winner payouts.
 * Amounts are integers in the smallest currency unit (cents).
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PrizeStructure describes how a prize pool is split between winners.
type PrizeStructure string

const (
	PrizeStructureWinnerTakesAll PrizeStructure = "winner_takes_all"
	PrizeStructureTopThreeSplit  PrizeStructure = "top_three_split"
	PrizeStructureTopFiveSplit   PrizeStructure = "top_five_split"
	PrizeStructureCustom         PrizeStructure = "custom"
)

// Valid reports whether s is one of the known structures.
func (s PrizeStructure) Valid() bool {
	switch s {
	case PrizeStructureWinnerTakesAll, PrizeStructureTopThreeSplit, PrizeStructureTopFiveSplit, PrizeStructureCustom:
		return true
	}
	return false
}

// Shares returns the per-place split in basis points, or nil for custom pools.
func (s PrizeStructure) Shares() []int64 {
	switch s {
	case PrizeStructureWinnerTakesAll:
		return []int64{10000}
	case PrizeStructureTopThreeSplit:
		return []int64{5000, 3000, 2000}
	case PrizeStructureTopFiveSplit:
		return []int64{4000, 2500, 1500, 1200, 800}
	}
	return nil
}

// Label is the human-readable name used in host emails.
func (s PrizeStructure) Label() string {
	switch s {
	case PrizeStructureWinnerTakesAll:
		return "Winner takes all"
	case PrizeStructureTopThreeSplit:
		return "Top 3 split"
	case PrizeStructureTopFiveSplit:
		return "Top 5 split"
	case PrizeStructureCustom:
		return "Custom distribution"
	}
	return string(s)
}

// DistributionStatus is the challenge-level distribution state.
type DistributionStatus string

const (
	DistributionPending              DistributionStatus = "pending"
	DistributionFailed               DistributionStatus = "failed"
	DistributionPartiallyDistributed DistributionStatus = "partially_distributed"
	DistributionRetryEmailSent       DistributionStatus = "retry_email_sent"
	DistributionDistributed          DistributionStatus = "distributed"
)

var distributionTransitions = map[DistributionStatus][]DistributionStatus{
	DistributionPending:              {DistributionFailed, DistributionPartiallyDistributed, DistributionDistributed},
	DistributionFailed:               {DistributionRetryEmailSent, DistributionDistributed},
	DistributionPartiallyDistributed: {DistributionRetryEmailSent, DistributionDistributed},
	DistributionRetryEmailSent:       {DistributionFailed, DistributionPartiallyDistributed, DistributionDistributed},
}

// CanTransitionTo reports whether the ledger may move from s to next.
// The empty status is treated as pending.
func (s DistributionStatus) CanTransitionTo(next DistributionStatus) bool {
	from := s
	if from == "" {
		from = DistributionPending
	}
	for _, allowed := range distributionTransitions[from] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsRetryable reports whether a confirmed assignment in this state may be retried.
func (s DistributionStatus) IsRetryable() bool {
	return s == DistributionFailed || s == DistributionPartiallyDistributed
}

// RecordStatus is the payout state of a single winner.
type RecordStatus string

const (
	RecordPending      RecordStatus = "pending"
	RecordProcessing   RecordStatus = "processing"
	RecordPendingFunds RecordStatus = "pending_funds"
	RecordFailed       RecordStatus = "failed"
	RecordSucceeded    RecordStatus = "succeeded"
)

// IsOutstanding reports whether the record still needs money.
func (s RecordStatus) IsOutstanding() bool {
	return s == RecordFailed || s == RecordPendingFunds
}

// PrizeAssignment is the challenge-level prize pool pending distribution.
type PrizeAssignment struct {
	ID                  string             `json:"id"`
	ChallengeID         string             `json:"challengeId"`
	ChallengeTitle      string             `json:"challengeTitle"`
	PrizeAmount         int64              `json:"prizeAmount"`
	PrizeStructure      PrizeStructure     `json:"prizeStructure"`
	HostConfirmed       bool               `json:"hostConfirmed"`
	HostConfirmedAt     *time.Time         `json:"hostConfirmedAt,omitempty"`
	DistributionStatus  DistributionStatus `json:"distributionStatus"`
	HostEmailSent       bool               `json:"hostEmailSent"`
	HostEmailSentAt     *time.Time         `json:"hostEmailSentAt,omitempty"`
	HostEmailMessageID  *string            `json:"hostEmailMessageId,omitempty"`
	ConfirmationNonce   *string            `json:"-"`
	ConfirmationExpires *time.Time         `json:"confirmationExpires,omitempty"`
	RetryEmailCount     int                `json:"retryEmailCount"`
	LastRetryEmailSent  *time.Time         `json:"lastRetryEmailSent,omitempty"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// IsRetryEligible is the retry predicate: the host approved the pool once and
// the funds-transfer step did not complete.
func (a PrizeAssignment) IsRetryEligible() bool {
	return a.HostConfirmed && a.DistributionStatus.IsRetryable()
}

// PrizeRecord is one winner's payout within an assignment.
type PrizeRecord struct {
	ID          string       `json:"id"`
	PrizeID     string       `json:"prizeId"`
	UserID      string       `json:"userId"`
	Rank        int          `json:"rank"`
	PrizeAmount int64        `json:"prizeAmount"`
	Status      RecordStatus `json:"status"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// RecordTotals aggregates the payout records of one assignment.
type RecordTotals struct {
	Outstanding      int64
	OutstandingCount int
	Succeeded        int64
}

// SummarizeRecords sums outstanding (failed + pending_funds) and succeeded amounts.
func SummarizeRecords(records []PrizeRecord) RecordTotals {
	var totals RecordTotals
	for _, record := range records {
		switch {
		case record.Status.IsOutstanding():
			totals.Outstanding += record.PrizeAmount
			totals.OutstandingCount++
		case record.Status == RecordSucceeded:
			totals.Succeeded += record.PrizeAmount
		}
	}
	return totals
}

// ExceedsPool reports whether paying the outstanding amount would push the
// assignment past its prize pool. A zero pool is not checked.
func (t RecordTotals) ExceedsPool(prizeAmount int64) bool {
	if prizeAmount <= 0 {
		return false
	}
	return t.Succeeded+t.Outstanding > prizeAmount
}

// HostEmailReceipt is written back onto the assignment after a confirmation email is sent.
type HostEmailReceipt struct {
	MessageID string
	SentAt    time.Time
	Nonce     string
	ExpiresAt time.Time
}

// Host is the owner of a challenge who confirms distribution.
type Host struct {
	UserID         string
	Email          string
	DisplayName    string
	ChallengeTitle string
}

// MinorToMajor converts cents to a decimal dollar amount.
func MinorToMajor(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// FormatAmount renders cents as "$12.34".
func FormatAmount(amount int64) string {
	return "$" + MinorToMajor(amount).StringFixed(2)
}

// PlaceAmounts splits a pool across places using Shares. Rounding remainders
// go to first place so the parts always add up to the pool.
func PlaceAmounts(structure PrizeStructure, pool int64) []int64 {
	shares := structure.Shares()
	if len(shares) == 0 {
		return nil
	}
	amounts := make([]int64, len(shares))
	var allocated int64
	for i, bps := range shares {
		amounts[i] = pool * bps / 10000
		allocated += amounts[i]
	}
	amounts[0] += pool - allocated
	return amounts
}
