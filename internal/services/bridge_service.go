package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/clients"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/events"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/metrics"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/repository"

	"github.com/google/uuid"
)

var (
	// ErrCancellationRefused returned when a cancel arrives after the
	// destination-chain mint has been submitted.
	ErrCancellationRefused = errors.New("bridge has passed its commit point, cancellation refused")
	// ErrStaleTransition returned when a compare-and-transition loses a
	// race: some other trigger already moved the request on.
	ErrStaleTransition = errors.New("bridge status changed concurrently")
)

// AddressWatcher is the slice of the LedgerWatcher the bridge service
// needs. Injected after construction to break the watcher↔service
// dependency cycle (two-phase wiring).
type AddressWatcher interface {
	AddWatchedAddress(addr string) error
	RemoveWatchedAddress(addr string) error
}

// BridgeService owns the lifecycle of two-party XRPL↔EVM bridge
// requests. It is the only component that mutates BridgeRequest rows;
// the reconciliation and retry engines re-enter its public operations.
type BridgeService struct {
	bridges     repository.BridgeRepository
	redemptions repository.RedemptionRepository
	executor    ChainExecutor
	proofGen    ProofGenerator
	publisher   events.EventPublisher
	agents      *AgentAddressPool
	cfg         *config.Config

	// set in wiring phase two, before the watcher starts
	watcher AddressWatcher
}

// NewBridgeService constructs the service without a watcher reference;
// call SetAddressWatcher before any operation that reserves addresses.
func NewBridgeService(
	bridges repository.BridgeRepository,
	redemptions repository.RedemptionRepository,
	executor ChainExecutor,
	proofGen ProofGenerator,
	publisher events.EventPublisher,
	agents *AgentAddressPool,
	cfg *config.Config,
) *BridgeService {
	return &BridgeService{
		bridges:     bridges,
		redemptions: redemptions,
		executor:    executor,
		proofGen:    proofGen,
		publisher:   publisher,
		agents:      agents,
		cfg:         cfg,
	}
}

// SetAddressWatcher injects the watcher dependency (wiring phase two)
func (s *BridgeService) SetAddressWatcher(watcher AddressWatcher) {
	s.watcher = watcher
}

// transition performs a compare-and-transition guarded by the closed
// transition table, then publishes the status event.
func (s *BridgeService) transition(ctx context.Context, req *models.BridgeRequest, to models.BridgeStatus, updates map[string]interface{}) error {
	from := req.Status
	if !models.CanTransition(from, to) {
		return fmt.Errorf("transition %s → %s not allowed for bridge %s", from, to, req.ID)
	}
	ok, err := s.bridges.UpdateStatusIf(ctx, req.ID, []models.BridgeStatus{from}, to, updates)
	if err != nil {
		return fmt.Errorf("failed to transition bridge %s to %s: %w", req.ID, to, err)
	}
	if !ok {
		return ErrStaleTransition
	}
	req.Status = to

	metrics.BridgeStatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.publisher.PublishBridgeStatus(&events.BridgeStatusEvent{
		BridgeID:  req.ID,
		Wallet:    req.WalletAddress,
		From:      string(from),
		To:        string(to),
		Timestamp: time.Now(),
	})
	log.Printf("🔁 Bridge %s: %s → %s", req.ID, from, to)
	return nil
}

// failBridge moves a request to failed recording a structured code and
// human-readable message.
func (s *BridgeService) failBridge(ctx context.Context, req *models.BridgeRequest, code, message string) error {
	err := s.transition(ctx, req, models.BridgeStatusFailed, map[string]interface{}{
		"last_error": fmt.Sprintf("%s: %s", code, message),
	})
	if err != nil {
		return err
	}
	s.releaseAgent(req)
	return nil
}

func (s *BridgeService) releaseAgent(req *models.BridgeRequest) {
	if req.AgentAddress == "" {
		return
	}
	if s.watcher != nil {
		if err := s.watcher.RemoveWatchedAddress(req.AgentAddress); err != nil {
			log.Printf("⚠️ Failed to unwatch agent address %s: %v", req.AgentAddress, err)
		}
	}
	s.agents.Release(req.AgentAddress)
}

// CreateBridgeRequest records a new deposit bridge request in pending
func (s *BridgeService) CreateBridgeRequest(ctx context.Context, wallet, vault string, amountDrops int64) (*models.BridgeRequest, error) {
	fee := s.cfg.Bridge.FeeDrops
	if amountDrops <= fee {
		return nil, fmt.Errorf("amount %d drops does not cover the %d drops bridge fee", amountDrops, fee)
	}

	req := &models.BridgeRequest{
		ID:                 uuid.New().String(),
		WalletAddress:      wallet,
		VaultAddress:       vault,
		Status:             models.BridgeStatusPending,
		SourceAmountDrops:  amountDrops,
		ReservedValueDrops: amountDrops - fee,
		ReservedFeeDrops:   fee,
		PaymentReference:   uuid.New().String(),
		ExpiresAt:          time.Now().Add(s.cfg.Bridge.RequestTTL()),
	}
	if err := s.bridges.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create bridge request: %w", err)
	}
	return req, nil
}

// InitiateBridge reserves an agent settlement address for the request,
// moves it to awaiting_payment and registers the address with the
// ledger watcher.
func (s *BridgeService) InitiateBridge(ctx context.Context, requestID string) (*models.BridgeRequest, error) {
	req, err := s.bridges.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("bridge %s not found: %w", requestID, err)
	}
	if req.Status != models.BridgeStatusPending {
		return nil, fmt.Errorf("bridge %s is %s, expected pending", requestID, req.Status)
	}

	agentAddress, err := s.agents.Allocate()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve agent address: %w", err)
	}

	if err := s.transition(ctx, req, models.BridgeStatusAwaitingPayment, map[string]interface{}{
		"agent_address": agentAddress,
	}); err != nil {
		s.agents.Release(agentAddress)
		return nil, err
	}
	req.AgentAddress = agentAddress

	if err := s.watcher.AddWatchedAddress(agentAddress); err != nil {
		// The reservation stands; reconciliation re-subscribes pending
		// bridges, so a transient subscribe failure is not fatal.
		log.Printf("⚠️ Failed to watch agent address %s for bridge %s: %v", agentAddress, requestID, err)
	}

	log.Printf("🟢 Bridge %s awaiting %d drops on %s (ref %s)",
		req.ID, req.ReservedTotalDrops(), agentAddress, req.PaymentReference)
	return req, nil
}

// HandleAgentPayment is the watcher callback for payments landing on an
// agent settlement address. Validation rejections leave the request
// awaiting a correct payment, except amount mismatches which fail the
// request with an amount_mismatch code, and expiry which cancels it.
func (s *BridgeService) HandleAgentPayment(payment *LedgerPayment) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := s.bridges.GetByAgentAddress(ctx, payment.Destination)
	if err != nil {
		return fmt.Errorf("no bridge reserved for agent address %s: %w", payment.Destination, err)
	}

	result := ValidateAgentPayment(req, payment, time.Now(), s.cfg.XRPL.MaxDecimals)
	metrics.PaymentsValidated.WithLabelValues(result.Code).Inc()

	switch result.Code {
	case ValidationOK:
		// fall through below

	case ValidationExpired:
		log.Printf("⏰ Bridge %s expired before payment %s arrived", req.ID, payment.TxHash)
		if err := s.CancelExpiredBridge(ctx, req); err != nil && !errors.Is(err, ErrStaleTransition) {
			return err
		}
		return nil

	case ValidationAmountMismatch:
		log.Printf("❌ Bridge %s amount mismatch on tx %s: %s", req.ID, payment.TxHash, result.Message)
		if err := s.failBridge(ctx, req, ValidationAmountMismatch, result.Message); err != nil && !errors.Is(err, ErrStaleTransition) {
			return err
		}
		return nil

	default:
		// Memo mismatch, malformed amount, terminal or conflicting
		// status: reject and ignore, the request stays as it is.
		log.Printf("🚫 Bridge %s rejected payment %s (%s): %s", req.ID, payment.TxHash, result.Code, result.Message)
		return nil
	}

	if req.Status == models.BridgeStatusAwaitingPayment {
		if err := s.transition(ctx, req, models.BridgeStatusXRPLConfirmed, map[string]interface{}{
			"xrpl_tx_hash": payment.TxHash,
		}); err != nil {
			if errors.Is(err, ErrStaleTransition) {
				// A duplicate ledger event raced us; the winner carries on.
				return nil
			}
			return err
		}
	}

	log.Printf("💰 Bridge %s payment confirmed: %d drops, tx %s", req.ID, result.ReceivedDrops, payment.TxHash)

	// Proof generation and minting run in the background; the watcher
	// loop must not block on chain calls.
	go s.runMintPipeline(req.ID, payment.TxHash)
	return nil
}

// runMintPipeline drives a confirmed bridge to completion, keeping the
// goroutine exception-safe.
func (s *BridgeService) runMintPipeline(requestID, sourceTxHash string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Mint pipeline for bridge %s panicked: %v", requestID, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.ExecuteMintingWithProof(ctx, requestID, sourceTxHash); err != nil {
		log.Printf("❌ Mint pipeline for bridge %s failed: %v", requestID, err)
	}
}

// ExecuteMintingWithProof generates (or reuses) the ledger-inclusion
// proof and submits the destination-chain mint. Safe to call again for
// the same request: an existing proof is reused, a submitted mint is
// not resubmitted.
func (s *BridgeService) ExecuteMintingWithProof(ctx context.Context, requestID, sourceTxHash string) error {
	req, err := s.bridges.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("bridge %s not found: %w", requestID, err)
	}
	if req.Status.IsTerminal() {
		return nil
	}

	if req.Proof == "" {
		if req.Status == models.BridgeStatusXRPLConfirmed {
			if err := s.transition(ctx, req, models.BridgeStatusGeneratingProof, nil); err != nil {
				if errors.Is(err, ErrStaleTransition) {
					return nil // another trigger owns the pipeline now
				}
				return err
			}
		} else if req.Status != models.BridgeStatusGeneratingProof {
			return fmt.Errorf("bridge %s in %s cannot generate a proof", requestID, req.Status)
		}

		proof, err := s.proofGen.GenerateProof(ctx, sourceTxHash)
		if err != nil {
			return s.recordRetryableFailure(ctx, req, fmt.Errorf("proof generation failed: %w", err))
		}
		if err := s.transition(ctx, req, models.BridgeStatusProofGenerated, map[string]interface{}{
			"proof": string(proof),
		}); err != nil {
			return err
		}
		req.Proof = string(proof)
	} else if req.Status == models.BridgeStatusGeneratingProof || req.Status == models.BridgeStatusXRPLConfirmed {
		// Crash after the proof was stored but before the status moved:
		// repair the status without regenerating.
		if err := s.transition(ctx, req, models.BridgeStatusProofGenerated, nil); err != nil && !errors.Is(err, ErrStaleTransition) {
			return err
		}
	}

	if req.Status == models.BridgeStatusProofGenerated {
		if err := s.transition(ctx, req, models.BridgeStatusMinting, nil); err != nil {
			if errors.Is(err, ErrStaleTransition) {
				return nil // another trigger is submitting the mint
			}
			return err
		}
	}

	if req.Status == models.BridgeStatusMinting {
		if req.MintTxHash == "" {
			mintTx, err := s.executor.SubmitMintWithProof(ctx, &clients.MintSubmission{
				RequestID:  req.ID,
				Recipient:  req.WalletAddress,
				AmountWei:  dropsToWei(req.ReservedValueDrops),
				XRPLTxHash: sourceTxHash,
				Proof:      []byte(req.Proof),
			})
			if err != nil {
				return s.recordRetryableFailure(ctx, req, fmt.Errorf("mint submission failed: %w", err))
			}
			if _, err := s.bridges.UpdateStatusIf(ctx, req.ID,
				[]models.BridgeStatus{models.BridgeStatusMinting}, models.BridgeStatusMinting,
				map[string]interface{}{"mint_tx_hash": mintTx}); err != nil {
				return err
			}
			req.MintTxHash = mintTx
		}
		return s.CompleteMint(ctx, requestID, sourceTxHash)
	}
	return nil
}

// CompleteMint reads the confirmed mint event for its actual minted
// amount and drives the vault deposit to completion.
func (s *BridgeService) CompleteMint(ctx context.Context, requestID, sourceTxHash string) error {
	req, err := s.bridges.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("bridge %s not found: %w", requestID, err)
	}
	if req.Status != models.BridgeStatusMinting {
		return fmt.Errorf("bridge %s is %s, expected minting", requestID, req.Status)
	}
	if req.MintTxHash == "" {
		return fmt.Errorf("bridge %s has no mint transaction recorded", requestID)
	}

	// The minted amount is read from the chain event, never assumed
	// equal to what we asked for.
	result, err := s.executor.GetMintResult(ctx, req.MintTxHash)
	if err != nil {
		return s.recordRetryableFailure(ctx, req, fmt.Errorf("failed to read mint result: %w", err))
	}
	if !result.Success {
		return s.failBridge(ctx, req, "mint_reverted", fmt.Sprintf("mint tx %s reverted", req.MintTxHash))
	}

	if err := s.transition(ctx, req, models.BridgeStatusVaultMinting, map[string]interface{}{
		"actual_mint_amount": result.MintedAmount.String(),
	}); err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return nil
		}
		return err
	}

	vaultTx, err := s.executor.DepositToVault(ctx, req.WalletAddress, result.MintedAmount)
	if err != nil {
		log.Printf("❌ Bridge %s vault deposit failed after successful mint: %v", req.ID, err)
		if terr := s.transition(ctx, req, models.BridgeStatusVaultMintFailed, map[string]interface{}{
			"last_error": fmt.Sprintf("vault_deposit_failed: %v", err),
		}); terr != nil && !errors.Is(terr, ErrStaleTransition) {
			return terr
		}
		s.releaseAgent(req)
		return nil
	}

	if err := s.transition(ctx, req, models.BridgeStatusCompleted, map[string]interface{}{
		"vault_tx_hash": vaultTx,
	}); err != nil && !errors.Is(err, ErrStaleTransition) {
		return err
	}
	s.releaseAgent(req)
	log.Printf("✅ Bridge %s completed: minted %s wei, vault tx %s", req.ID, result.MintedAmount, vaultTx)
	return nil
}

// ResumeVaultDeposit retries the vault deposit for a bridge whose mint
// completed but whose deposit was interrupted. Only bridges sitting at
// vault_minting with a recorded mint amount qualify.
func (s *BridgeService) ResumeVaultDeposit(ctx context.Context, requestID string) error {
	req, err := s.bridges.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("bridge %s not found: %w", requestID, err)
	}
	if req.Status != models.BridgeStatusVaultMinting {
		return nil // something else already moved it on
	}
	minted, ok := new(big.Int).SetString(req.ActualMintAmount, 10)
	if !ok || minted.Sign() <= 0 {
		return fmt.Errorf("bridge %s at vault_minting has no recorded mint amount", requestID)
	}

	vaultTx, err := s.executor.DepositToVault(ctx, req.WalletAddress, minted)
	if err != nil {
		if terr := s.transition(ctx, req, models.BridgeStatusVaultMintFailed, map[string]interface{}{
			"last_error": fmt.Sprintf("vault_deposit_failed: %v", err),
		}); terr != nil && !errors.Is(terr, ErrStaleTransition) {
			return terr
		}
		s.releaseAgent(req)
		return nil
	}

	if err := s.transition(ctx, req, models.BridgeStatusCompleted, map[string]interface{}{
		"vault_tx_hash": vaultTx,
	}); err != nil && !errors.Is(err, ErrStaleTransition) {
		return err
	}
	s.releaseAgent(req)
	log.Printf("✅ Bridge %s completed after vault resume: vault tx %s", req.ID, vaultTx)
	return nil
}

// recordRetryableFailure bumps retry bookkeeping without leaving the
// resumable state; the reconciliation sweep picks the bridge up again.
func (s *BridgeService) recordRetryableFailure(ctx context.Context, req *models.BridgeRequest, cause error) error {
	_, uerr := s.bridges.UpdateStatusIf(ctx, req.ID,
		[]models.BridgeStatus{req.Status}, req.Status,
		map[string]interface{}{
			"retry_count": req.RetryCount + 1,
			"last_error":  cause.Error(),
		})
	if uerr != nil {
		return fmt.Errorf("%v (bookkeeping failed: %w)", cause, uerr)
	}
	return cause
}

// CancelBridge cancels a request that has not yet committed on-chain
// work; once the mint has been submitted the flow runs to completion or
// failure instead.
func (s *BridgeService) CancelBridge(ctx context.Context, requestID string) error {
	req, err := s.bridges.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("bridge %s not found: %w", requestID, err)
	}
	if req.Status.IsTerminal() {
		return fmt.Errorf("bridge %s is already %s", requestID, req.Status)
	}
	if req.Status.PastCommitPoint() {
		return ErrCancellationRefused
	}
	if err := s.transition(ctx, req, models.BridgeStatusCancelled, nil); err != nil {
		return err
	}
	s.releaseAgent(req)
	return nil
}

// CancelExpiredBridge cancels an expired request and releases its
// watched address so open ledger subscriptions never leak indefinitely.
// Past the commit point expiry is ignored and the pipeline finishes.
func (s *BridgeService) CancelExpiredBridge(ctx context.Context, req *models.BridgeRequest) error {
	if req.Status.PastCommitPoint() {
		return nil // too late to cancel, let the pipeline finish
	}
	if err := s.transition(ctx, req, models.BridgeStatusCancelled, map[string]interface{}{
		"last_error": "expired",
	}); err != nil {
		return err
	}
	s.releaseAgent(req)
	return nil
}

// GetBridge returns one bridge request
func (s *BridgeService) GetBridge(ctx context.Context, requestID string) (*models.BridgeRequest, error) {
	return s.bridges.GetByID(ctx, requestID)
}

// ============================================================================
// Redemption (withdrawal) path
// ============================================================================

// CreateRedemption records an observed EVM burn awaiting an XRPL payout
func (s *BridgeService) CreateRedemption(ctx context.Context, wallet, burnTxHash, destination string, amountDrops int64) (*models.Redemption, error) {
	redemption := &models.Redemption{
		ID:                 uuid.New().String(),
		WalletAddress:      wallet,
		Status:             models.RedemptionStatusPending,
		BurnTxHash:         burnTxHash,
		DestinationAddress: destination,
		AmountDrops:        amountDrops,
		MaxRetries:         s.cfg.Retry.MaxRetries,
	}
	if err := s.redemptions.Create(ctx, redemption); err != nil {
		return nil, fmt.Errorf("failed to create redemption: %w", err)
	}
	return redemption, nil
}

// RecordPayoutSubmitted attaches the XRPL payout transaction to a
// pending redemption.
func (s *BridgeService) RecordPayoutSubmitted(ctx context.Context, redemptionID, payoutTxHash string) error {
	ok, err := s.redemptions.UpdateStatusIf(ctx, redemptionID,
		[]models.RedemptionStatus{models.RedemptionStatusPending},
		models.RedemptionStatusPayoutSubmitted,
		map[string]interface{}{"payout_tx_hash": payoutTxHash})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("redemption %s is not pending", redemptionID)
	}
	return nil
}

// HandleRedemptionPayment confirms an outbound ledger payout observed
// on the stream against its redemption record.
func (s *BridgeService) HandleRedemptionPayment(payment *LedgerPayment) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redemption, err := s.redemptions.GetByBurnTxHash(ctx, payment.Memo)
	if err != nil {
		// Memo does not reference a burn we know; fall back to the
		// payout hash recorded at submission time.
		r2, err2 := s.findRedemptionByPayout(ctx, payment.TxHash)
		if err2 != nil {
			return fmt.Errorf("payout %s matches no redemption", payment.TxHash)
		}
		redemption = r2
	}

	return s.finalizeRedemptionPayout(ctx, redemption, payment.TxHash)
}

func (s *BridgeService) findRedemptionByPayout(ctx context.Context, payoutTxHash string) (*models.Redemption, error) {
	pending, err := s.redemptions.GetWithPendingPayouts(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range pending {
		if r.PayoutTxHash == payoutTxHash {
			return r, nil
		}
	}
	return nil, fmt.Errorf("no pending redemption for payout %s", payoutTxHash)
}

// finalizeRedemptionPayout runs the destination-chain settlement
// confirmation and completes the redemption.
func (s *BridgeService) finalizeRedemptionPayout(ctx context.Context, redemption *models.Redemption, payoutTxHash string) error {
	ok, err := s.redemptions.UpdateStatusIf(ctx, redemption.ID,
		[]models.RedemptionStatus{models.RedemptionStatusPayoutSubmitted, models.RedemptionStatusFailed},
		models.RedemptionStatusConfirming,
		map[string]interface{}{"payout_tx_hash": payoutTxHash})
	if err != nil {
		return err
	}
	if !ok {
		return nil // already being confirmed or finished
	}
	redemption.PayoutTxHash = payoutTxHash
	return s.ConfirmRedemption(ctx, redemption.ID)
}

// ConfirmRedemption submits the settlement confirmation for a
// redemption whose payout is ledger-validated. Re-entered by the
// withdrawal retry engine; a failure flags the redemption for retry and
// is returned so the caller can record it.
func (s *BridgeService) ConfirmRedemption(ctx context.Context, redemptionID string) error {
	redemption, err := s.redemptions.GetByID(ctx, redemptionID)
	if err != nil {
		return fmt.Errorf("redemption %s not found: %w", redemptionID, err)
	}
	if redemption.Status == models.RedemptionStatusCompleted || redemption.Status == models.RedemptionStatusAbandoned {
		return nil
	}
	if redemption.PayoutTxHash == "" {
		return fmt.Errorf("redemption %s has no payout transaction", redemptionID)
	}

	if _, err := s.executor.ConfirmRedemptionPayout(ctx, redemption.BurnTxHash, redemption.PayoutTxHash); err != nil {
		if _, uerr := s.redemptions.UpdateStatusIf(ctx, redemption.ID,
			[]models.RedemptionStatus{redemption.Status},
			models.RedemptionStatusFailed,
			map[string]interface{}{
				"needs_retry": true,
				"last_error":  err.Error(),
			}); uerr != nil {
			return fmt.Errorf("%v (bookkeeping failed: %w)", err, uerr)
		}
		return fmt.Errorf("settlement confirmation for redemption %s failed: %w", redemptionID, err)
	}

	if _, err := s.redemptions.UpdateStatusIf(ctx, redemption.ID,
		[]models.RedemptionStatus{redemption.Status},
		models.RedemptionStatusCompleted,
		map[string]interface{}{"needs_retry": false, "last_error": ""}); err != nil {
		return err
	}
	log.Printf("✅ Redemption %s settled: burn %s, payout %s", redemption.ID, redemption.BurnTxHash, redemption.PayoutTxHash)
	return nil
}

// dropsToWei converts XRP drops (6 decimals) to the wrapped token's wei
// (18 decimals): 1 drop = 10^12 wei.
func dropsToWei(drops int64) *big.Int {
	wei := new(big.Int).SetInt64(drops)
	return wei.Mul(wei, big.NewInt(1_000_000_000_000))
}
