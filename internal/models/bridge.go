package models

import (
	"time"
)

// BridgeStatus deposit bridge request status enum
type BridgeStatus string

const (
	BridgeStatusPending             BridgeStatus = "pending"              // request created, nothing reserved yet
	BridgeStatusReservingCollateral BridgeStatus = "reserving_collateral" // reserving agent address and amount
	BridgeStatusAwaitingPayment     BridgeStatus = "awaiting_payment"     // agent address registered, waiting for XRPL payment
	BridgeStatusXRPLConfirmed       BridgeStatus = "xrpl_confirmed"       // payment validated on XRPL
	BridgeStatusGeneratingProof     BridgeStatus = "generating_proof"     // ledger inclusion proof in progress
	BridgeStatusProofGenerated      BridgeStatus = "proof_generated"      // proof attached, mint not yet submitted
	BridgeStatusMinting             BridgeStatus = "minting"              // destination chain mint submitted
	BridgeStatusVaultMinting        BridgeStatus = "vault_minting"        // mint confirmed, vault deposit submitted
	BridgeStatusCompleted           BridgeStatus = "completed"
	BridgeStatusFailed              BridgeStatus = "failed"
	BridgeStatusCancelled           BridgeStatus = "cancelled"
	BridgeStatusVaultMintFailed     BridgeStatus = "vault_mint_failed" // mint succeeded but vault deposit failed
)

// IsTerminal reports whether no further transitions are allowed
func (s BridgeStatus) IsTerminal() bool {
	switch s {
	case BridgeStatusCompleted, BridgeStatusFailed, BridgeStatusCancelled, BridgeStatusVaultMintFailed:
		return true
	}
	return false
}

// bridgeTransitions is the closed transition table for the deposit state
// machine. failed and cancelled are reachable from every non-terminal
// state and are therefore not listed per-state.
var bridgeTransitions = map[BridgeStatus][]BridgeStatus{
	BridgeStatusPending:             {BridgeStatusReservingCollateral, BridgeStatusAwaitingPayment},
	BridgeStatusReservingCollateral: {BridgeStatusAwaitingPayment},
	BridgeStatusAwaitingPayment:     {BridgeStatusXRPLConfirmed},
	BridgeStatusXRPLConfirmed:       {BridgeStatusGeneratingProof},
	BridgeStatusGeneratingProof:     {BridgeStatusProofGenerated},
	BridgeStatusProofGenerated:      {BridgeStatusMinting},
	BridgeStatusMinting:             {BridgeStatusVaultMinting, BridgeStatusVaultMintFailed},
	BridgeStatusVaultMinting:        {BridgeStatusCompleted, BridgeStatusVaultMintFailed},
}

// CanTransition reports whether from → to is an allowed bridge transition
func CanTransition(from, to BridgeStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == BridgeStatusFailed || to == BridgeStatusCancelled {
		return true
	}
	for _, next := range bridgeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CommitPoint reports whether the bridge has passed the point of no
// return: once the destination chain mint has been submitted the flow
// must run to completion or failure, cancellation is refused.
func (s BridgeStatus) PastCommitPoint() bool {
	switch s {
	case BridgeStatusMinting, BridgeStatusVaultMinting, BridgeStatusCompleted, BridgeStatusVaultMintFailed:
		return true
	}
	return false
}

// BridgeRequest one XRPL → EVM deposit bridge request
type BridgeRequest struct {
	ID            string       `json:"id" gorm:"primaryKey"` // UUID
	WalletAddress string       `json:"wallet_address" gorm:"not null;index"`
	VaultAddress  string       `json:"vault_address"`
	Status        BridgeStatus `json:"status" gorm:"not null;default:pending;index"`

	// XRPL side
	SourceAmountDrops int64  `json:"source_amount_drops"`
	AgentAddress      string `json:"agent_address" gorm:"index"` // per-request settlement address
	PaymentReference  string `json:"payment_reference"`          // opaque memo correlation token

	// ReservedValueDrops + ReservedFeeDrops is immutable once set and is
	// the sole basis for payment-amount acceptance.
	ReservedValueDrops int64 `json:"reserved_value_drops"`
	ReservedFeeDrops   int64 `json:"reserved_fee_drops"`

	// EVM side
	ExpectedMintAmount string `json:"expected_mint_amount"` // wei, decimal string
	ActualMintAmount   string `json:"actual_mint_amount"`   // wei, read from the mint event

	XRPLTxHash  string `json:"xrpl_tx_hash" gorm:"index"`
	MintTxHash  string `json:"mint_tx_hash"`
	VaultTxHash string `json:"vault_tx_hash"`
	Proof       string `json:"proof" gorm:"type:text"` // ledger inclusion proof blob

	ExpiresAt  time.Time `json:"expires_at"`
	RetryCount int       `json:"retry_count" gorm:"default:0"`
	LastError  string    `json:"last_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReservedTotalDrops returns the exact drops amount an agent payment
// must carry to be accepted.
func (b *BridgeRequest) ReservedTotalDrops() int64 {
	return b.ReservedValueDrops + b.ReservedFeeDrops
}

// IsExpired reports whether the request is past its payment window
func (b *BridgeRequest) IsExpired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}

// AcceptsPayment reports whether a validated agent payment may still be
// applied. xrpl_confirmed with no proof recorded is deliberately
// accepted as an idempotent retry window for duplicate ledger events.
func (b *BridgeRequest) AcceptsPayment() bool {
	if b.Status == BridgeStatusAwaitingPayment {
		return true
	}
	return b.Status == BridgeStatusXRPLConfirmed && b.Proof == ""
}
