package models

import (
	"time"
)

// JobStatus cross-chain job status enum. Job status is a derived
// projection of leg statuses (see DeriveJobStatus), never set
// independently by API paths.
type JobStatus string

const (
	JobStatusPending         JobStatus = "pending"
	JobStatusQuoted          JobStatus = "quoted"
	JobStatusConfirmed       JobStatus = "confirmed"
	JobStatusExecuting       JobStatus = "executing"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusFailed          JobStatus = "failed"
	JobStatusPartiallyFailed JobStatus = "partially_failed"
	JobStatusCancelled       JobStatus = "cancelled"
)

// Cancellable reports whether the job has not yet committed on-chain work
func (s JobStatus) Cancellable() bool {
	switch s {
	case JobStatusPending, JobStatusQuoted, JobStatusConfirmed:
		return true
	}
	return false
}

// LegStatus per-leg execution status enum
type LegStatus string

const (
	LegStatusPending   LegStatus = "pending"
	LegStatusExecuting LegStatus = "executing"
	LegStatusSubmitted LegStatus = "submitted"
	LegStatusCompleted LegStatus = "completed"
	LegStatusFailed    LegStatus = "failed"
)

// InFlight reports whether the leg has started but not finished
func (s LegStatus) InFlight() bool {
	return s == LegStatusExecuting || s == LegStatusSubmitted
}

// LegProtocol how a single leg is executed
type LegProtocol string

const (
	LegProtocolSwap       LegProtocol = "swap"        // same-chain token swap
	LegProtocolBridge     LegProtocol = "bridge"      // generic chain-to-chain bridge
	LegProtocolLedgerMint LegProtocol = "ledger_mint" // XRPL↔hub mint/redeem leg
)

// CrossChainJob one route execution instance built from a frozen quote
type CrossChainJob struct {
	ID            string    `json:"id" gorm:"primaryKey"` // UUID
	WalletAddress string    `json:"wallet_address" gorm:"not null;index"`
	Recipient     string    `json:"recipient"`
	SourceChain   string    `json:"source_chain"`
	SourceToken   string    `json:"source_token"`
	DestChain     string    `json:"dest_chain"`
	DestToken     string    `json:"dest_token"`
	SourceAmount  string    `json:"source_amount"` // minor units, decimal string
	QuoteID       string    `json:"quote_id" gorm:"index"`
	Status        JobStatus `json:"status" gorm:"not null;default:pending;index"`
	CurrentLeg    int       `json:"current_leg" gorm:"default:0"`
	LastError     string    `json:"last_error" gorm:"type:text"`
	ExpiresAt     time.Time `json:"expires_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Legs []CrossChainLeg `json:"legs" gorm:"foreignKey:JobID"`
}

// CrossChainLeg one atomic hop of a job's route
type CrossChainLeg struct {
	ID        string      `json:"id" gorm:"primaryKey"` // UUID
	JobID     string      `json:"job_id" gorm:"not null;index"`
	LegIndex  int         `json:"leg_index" gorm:"not null"`
	FromChain string      `json:"from_chain"`
	ToChain   string      `json:"to_chain"`
	FromToken string      `json:"from_token"`
	ToToken   string      `json:"to_token"`
	Protocol  LegProtocol `json:"protocol"`
	// Amount is the input minor-unit amount for this leg. Leg 0 carries
	// the job's source amount; later legs stay "0" until the upstream
	// leg completes and reports its output.
	Amount       string    `json:"amount"`
	SourceTxHash string    `json:"source_tx_hash"`
	DestTxHash   string    `json:"dest_tx_hash"`
	Status       LegStatus `json:"status" gorm:"not null;default:pending"`
	LastError    string    `json:"last_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeriveJobStatus recomputes the job status from its legs:
// completed iff every leg completed; failed iff at least one leg failed
// and none completed; partially_failed iff legs contain both a completed
// and a failed leg; executing if any leg is in flight; otherwise the
// job's pre-execution status is preserved.
func DeriveJobStatus(current JobStatus, legs []CrossChainLeg) JobStatus {
	if len(legs) == 0 {
		return current
	}
	var completed, failed, inFlight int
	for _, leg := range legs {
		switch {
		case leg.Status == LegStatusCompleted:
			completed++
		case leg.Status == LegStatusFailed:
			failed++
		case leg.Status.InFlight():
			inFlight++
		}
	}
	switch {
	case completed == len(legs):
		return JobStatusCompleted
	case failed > 0 && completed > 0:
		return JobStatusPartiallyFailed
	case failed > 0:
		return JobStatusFailed
	case inFlight > 0 || completed > 0:
		return JobStatusExecuting
	}
	return current
}

// DeriveCurrentLeg returns the index of the first non-completed leg, or
// len(legs) when every leg has completed. Legs must be ordered by index.
func DeriveCurrentLeg(legs []CrossChainLeg) int {
	for i, leg := range legs {
		if leg.Status != LegStatusCompleted {
			return i
		}
	}
	return len(legs)
}

// RouteQuote an issued quote; immutable once written
type RouteQuote struct {
	ID          string `json:"id" gorm:"primaryKey"` // UUID
	SourceChain string `json:"source_chain"`
	SourceToken string `json:"source_token"`
	DestChain   string `json:"dest_chain"`
	DestToken   string `json:"dest_token"`
	AmountIn    string `json:"amount_in"`  // source minor units
	AmountOut   string `json:"amount_out"` // destination minor units after fees

	GasFeeUSD    float64 `json:"gas_fee_usd"`
	BridgeFeeUSD float64 `json:"bridge_fee_usd"`
	SlippageUSD  float64 `json:"slippage_usd"`
	TotalFeeUSD  float64 `json:"total_fee_usd"`

	EstimatedSeconds int    `json:"estimated_seconds"`
	LegsJSON         string `json:"legs_json" gorm:"type:text"` // frozen route

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the quote may no longer create a job
func (q *RouteQuote) IsExpired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}
