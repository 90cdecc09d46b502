package models

import (
	"time"
)

// RedemptionStatus withdrawal (EVM burn → XRPL payout) status enum
type RedemptionStatus string

const (
	RedemptionStatusPending         RedemptionStatus = "pending"          // burn observed, payout not yet submitted
	RedemptionStatusPayoutSubmitted RedemptionStatus = "payout_submitted" // XRPL payout sent, not yet validated
	RedemptionStatusConfirming      RedemptionStatus = "confirming"       // settlement confirmation in progress
	RedemptionStatusCompleted       RedemptionStatus = "completed"
	RedemptionStatusRetrying        RedemptionStatus = "retrying"  // confirmation being retried by the retry engine
	RedemptionStatusFailed          RedemptionStatus = "failed"    // last attempt failed, eligible for retry
	RedemptionStatusAbandoned       RedemptionStatus = "abandoned" // max retries exceeded, manual intervention
)

// Redemption one EVM → XRPL withdrawal record
type Redemption struct {
	ID            string           `json:"id" gorm:"primaryKey"` // UUID
	WalletAddress string           `json:"wallet_address" gorm:"not null;index"`
	Status        RedemptionStatus `json:"status" gorm:"not null;default:pending;index"`

	BurnTxHash         string `json:"burn_tx_hash" gorm:"index"` // EVM burn transaction
	PayoutTxHash       string `json:"payout_tx_hash"`            // XRPL payout transaction
	DestinationAddress string `json:"destination_address"`       // XRPL address receiving the payout
	AmountDrops        int64  `json:"amount_drops"`

	// Retry bookkeeping. LastRetryAt and RetryCount are updated only
	// after a failed attempt, never before one; backoff correctness
	// under repeated immediate failures depends on this.
	NeedsRetry  bool       `json:"needs_retry" gorm:"index"`
	RetryCount  int        `json:"retry_count" gorm:"default:0"`
	MaxRetries  int        `json:"max_retries" gorm:"default:10"`
	LastRetryAt *time.Time `json:"last_retry_at"`

	LastError string `json:"last_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetryDue reports whether the exponential backoff window has elapsed:
// baseBackoff × 2^retryCount measured from the last failed attempt.
func (r *Redemption) RetryDue(now time.Time, baseBackoff time.Duration) bool {
	if r.LastRetryAt == nil {
		return true
	}
	delay := baseBackoff * time.Duration(int64(1)<<uint(r.RetryCount))
	return now.Sub(*r.LastRetryAt) >= delay
}

// RetriesExhausted reports whether the redemption has hit its retry bound
func (r *Redemption) RetriesExhausted() bool {
	return r.RetryCount >= r.MaxRetries
}

// RecordFailedAttempt updates retry bookkeeping after an attempt failed
func (r *Redemption) RecordFailedAttempt(now time.Time, errMsg string) {
	r.RetryCount++
	r.LastRetryAt = &now
	r.LastError = errMsg
	if r.RetriesExhausted() {
		r.Status = RedemptionStatusAbandoned
		r.NeedsRetry = false
	} else {
		r.Status = RedemptionStatusFailed
	}
}
