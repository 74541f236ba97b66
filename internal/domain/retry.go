package domain

import (
	"time"
)

// RetryAction classifies the outcome of one assignment within a retry pass.
type RetryAction string

const (
	RetryActionEmailSent   RetryAction = "retry_email_sent"
	RetryActionEmailFailed RetryAction = "retry_email_failed"
	RetryActionEmailError  RetryAction = "retry_email_error"
)

// RetryResult is the per-assignment outcome reported by a retry pass.
type RetryResult struct {
	PrizeID        string      `json:"prizeId"`
	ChallengeTitle string      `json:"challengeTitle"`
	Action         RetryAction `json:"action"`
	TotalNeeded    *int64      `json:"totalNeeded,omitempty"`
	Error          string      `json:"error,omitempty"`
	Success        bool        `json:"success"`
}

// BalanceSnapshot is the funds-mover balance captured once at the start of a pass.
type BalanceSnapshot struct {
	AvailableUSD   float64 `json:"availableUSD"`
	AvailableCents int64   `json:"availableCents"`
}

// NewBalanceSnapshot builds a snapshot from a balance in cents.
func NewBalanceSnapshot(cents int64) BalanceSnapshot {
	return BalanceSnapshot{
		AvailableUSD:   MinorToMajor(cents).InexactFloat64(),
		AvailableCents: cents,
	}
}

// RetrySummary counts outcomes across a pass.
type RetrySummary struct {
	PrizesProcessed int `json:"prizesProcessed"`
	TotalSuccesses  int `json:"totalSuccesses"`
	TotalFailures   int `json:"totalFailures"`
	PrizesSkipped   int `json:"prizesSkipped"`
}

// RetryPassResult is returned to whoever invoked the pass.
type RetryPassResult struct {
	Success        bool            `json:"success"`
	Message        string          `json:"message"`
	BalanceChecked BalanceSnapshot `json:"balanceChecked"`
	RetryResults   []RetryResult   `json:"retryResults"`
	Summary        RetrySummary    `json:"summary"`
}

// Add appends a result and updates the counters.
func (r *RetryPassResult) Add(result RetryResult) {
	r.RetryResults = append(r.RetryResults, result)
	r.Summary.PrizesProcessed++
	if result.Success {
		r.Summary.TotalSuccesses++
	} else {
		r.Summary.TotalFailures++
	}
}

// RunSummary is the append-only audit entry written once per pass that processed anything.
type RunSummary struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	BalanceChecked BalanceSnapshot `json:"balanceChecked"`
	RetryResults   []RetryResult   `json:"retryResults"`
	Summary        RetrySummary    `json:"summary"`
}

// ErrorLogEntry records a failure that aborted a pass.
type ErrorLogEntry struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Stack     string    `json:"stack"`
	Timestamp time.Time `json:"timestamp"`
}
