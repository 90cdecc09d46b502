package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bridgeHarness struct {
	bridges     *fakeBridgeRepo
	redemptions *fakeRedemptionRepo
	executor    *fakeExecutor
	proofGen    *fakeProofGen
	publisher   *fakePublisher
	watcher     *fakeWatcher
	agents      *AgentAddressPool
	svc         *BridgeService
}

func newBridgeHarness() *bridgeHarness {
	h := &bridgeHarness{
		bridges:     newFakeBridgeRepo(),
		redemptions: newFakeRedemptionRepo(),
		executor:    newFakeExecutor(),
		proofGen:    &fakeProofGen{},
		publisher:   &fakePublisher{},
		watcher:     newFakeWatcher(),
		agents:      NewAgentAddressPool([]string{"rAgent1", "rAgent2"}),
	}
	cfg := &config.Config{
		XRPL:   config.XRPLConfig{MaxDecimals: 6},
		Bridge: config.BridgeConfig{RequestTTLMinutes: 30, FeeDrops: 12_000},
		Retry:  config.RetryConfig{MaxRetries: 3},
	}
	h.svc = NewBridgeService(h.bridges, h.redemptions, h.executor, h.proofGen, h.publisher, h.agents, cfg)
	h.svc.SetAddressWatcher(h.watcher)
	return h
}

func (h *bridgeHarness) seedBridge(t *testing.T, status models.BridgeStatus, mutate func(*models.BridgeRequest)) *models.BridgeRequest {
	t.Helper()
	req := &models.BridgeRequest{
		ID:                 uuid.New().String(),
		WalletAddress:      "0xWallet",
		Status:             status,
		SourceAmountDrops:  100_000_000,
		ReservedValueDrops: 99_988_000,
		ReservedFeeDrops:   12_000,
		PaymentReference:   "ref-" + uuid.New().String(),
		ExpiresAt:          time.Now().Add(time.Hour),
	}
	if mutate != nil {
		mutate(req)
	}
	require.NoError(t, h.bridges.Create(context.Background(), req))
	return req
}

func (h *bridgeHarness) waitForStatus(t *testing.T, id string, want models.BridgeStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.bridges.status(id) == want
	}, 2*time.Second, 10*time.Millisecond, "bridge %s never reached %s (now %s)", id, want, h.bridges.status(id))
}

func TestCreateBridgeRequestSplitsFee(t *testing.T) {
	h := newBridgeHarness()
	req, err := h.svc.CreateBridgeRequest(context.Background(), "0xWallet", "rVault", 100_000_000)
	require.NoError(t, err)

	assert.Equal(t, models.BridgeStatusPending, req.Status)
	assert.Equal(t, int64(99_988_000), req.ReservedValueDrops)
	assert.Equal(t, int64(12_000), req.ReservedFeeDrops)
	assert.Equal(t, int64(100_000_000), req.ReservedTotalDrops())
	assert.NotEmpty(t, req.PaymentReference)
	assert.False(t, req.ExpiresAt.IsZero())
}

func TestCreateBridgeRequestRejectsAmountBelowFee(t *testing.T) {
	h := newBridgeHarness()
	_, err := h.svc.CreateBridgeRequest(context.Background(), "0xWallet", "rVault", 12_000)
	require.Error(t, err)
}

func TestInitiateBridgeReservesAgentAndWatches(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusPending, nil)

	got, err := h.svc.InitiateBridge(context.Background(), req.ID)
	require.NoError(t, err)

	assert.Equal(t, models.BridgeStatusAwaitingPayment, got.Status)
	assert.NotEmpty(t, got.AgentAddress)
	assert.True(t, h.watcher.isWatched(got.AgentAddress))
	assert.Equal(t, 1, h.agents.FreeCount())
}

func TestInitiateBridgeRequiresPending(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusAwaitingPayment, nil)
	_, err := h.svc.InitiateBridge(context.Background(), req.ID)
	require.Error(t, err)
}

func TestHandleAgentPaymentDrivesMintToCompletion(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusPending, nil)
	got, err := h.svc.InitiateBridge(context.Background(), req.ID)
	require.NoError(t, err)

	err = h.svc.HandleAgentPayment(&LedgerPayment{
		Payer:       "rPayer",
		Destination: got.AgentAddress,
		Amount:      FormatDrops(got.ReservedTotalDrops(), 6),
		TxHash:      "XRPLTX1",
		Memo:        got.PaymentReference,
	})
	require.NoError(t, err)

	h.waitForStatus(t, req.ID, models.BridgeStatusCompleted)

	final, err := h.bridges.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, "XRPLTX1", final.XRPLTxHash)
	assert.Equal(t, "0xmint", final.MintTxHash)
	assert.Equal(t, "0xvault", final.VaultTxHash)
	assert.NotEmpty(t, final.Proof)
	// The agent address is released and unwatched once the bridge settles.
	assert.False(t, h.watcher.isWatched(got.AgentAddress))
	assert.Equal(t, 2, h.agents.FreeCount())
}

func TestHandleAgentPaymentAmountMismatchFailsBridge(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusPending, nil)
	got, err := h.svc.InitiateBridge(context.Background(), req.ID)
	require.NoError(t, err)

	err = h.svc.HandleAgentPayment(&LedgerPayment{
		Destination: got.AgentAddress,
		Amount:      "99.999999",
		TxHash:      "XRPLTX2",
		Memo:        got.PaymentReference,
	})
	require.NoError(t, err)

	assert.Equal(t, models.BridgeStatusFailed, h.bridges.status(req.ID))
	assert.Equal(t, 2, h.agents.FreeCount())
}

func TestHandleAgentPaymentMemoMismatchLeavesRequestWaiting(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusPending, nil)
	got, err := h.svc.InitiateBridge(context.Background(), req.ID)
	require.NoError(t, err)

	err = h.svc.HandleAgentPayment(&LedgerPayment{
		Destination: got.AgentAddress,
		Amount:      FormatDrops(got.ReservedTotalDrops(), 6),
		TxHash:      "XRPLTX3",
		Memo:        "wrong-reference",
	})
	require.NoError(t, err)

	// A wrong memo rejects the payment but keeps the window open.
	assert.Equal(t, models.BridgeStatusAwaitingPayment, h.bridges.status(req.ID))
	assert.True(t, h.watcher.isWatched(got.AgentAddress))
}

func TestHandleAgentPaymentExpiredCancels(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusPending, nil)
	got, err := h.svc.InitiateBridge(context.Background(), req.ID)
	require.NoError(t, err)

	h.bridges.mu.Lock()
	h.bridges.bridges[req.ID].ExpiresAt = time.Now().Add(-time.Minute)
	h.bridges.mu.Unlock()

	err = h.svc.HandleAgentPayment(&LedgerPayment{
		Destination: got.AgentAddress,
		Amount:      FormatDrops(got.ReservedTotalDrops(), 6),
		TxHash:      "XRPLTX4",
		Memo:        got.PaymentReference,
	})
	require.NoError(t, err)

	assert.Equal(t, models.BridgeStatusCancelled, h.bridges.status(req.ID))
	assert.False(t, h.watcher.isWatched(got.AgentAddress))
}

func TestExecuteMintingIsIdempotent(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusXRPLConfirmed, func(r *models.BridgeRequest) {
		r.XRPLTxHash = "XRPLTX5"
	})

	require.NoError(t, h.svc.ExecuteMintingWithProof(context.Background(), req.ID, "XRPLTX5"))
	assert.Equal(t, models.BridgeStatusCompleted, h.bridges.status(req.ID))

	// A second pass over a settled bridge must not mint again.
	require.NoError(t, h.svc.ExecuteMintingWithProof(context.Background(), req.ID, "XRPLTX5"))
	assert.Equal(t, 1, h.proofGen.calls)
	assert.Equal(t, 1, h.executor.mintCalls)
	assert.Equal(t, 1, h.executor.vaultCalls)
}

func TestExecuteMintingReusesStoredProof(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusGeneratingProof, func(r *models.BridgeRequest) {
		r.XRPLTxHash = "XRPLTX6"
		r.Proof = "stored-proof"
	})

	require.NoError(t, h.svc.ExecuteMintingWithProof(context.Background(), req.ID, "XRPLTX6"))

	assert.Equal(t, models.BridgeStatusCompleted, h.bridges.status(req.ID))
	assert.Equal(t, 0, h.proofGen.calls, "a stored proof must never be regenerated")
}

func TestExecuteMintingRecordsRetryableProofFailure(t *testing.T) {
	h := newBridgeHarness()
	h.proofGen.err = errors.New("prover unavailable")
	req := h.seedBridge(t, models.BridgeStatusXRPLConfirmed, func(r *models.BridgeRequest) {
		r.XRPLTxHash = "XRPLTX7"
	})

	err := h.svc.ExecuteMintingWithProof(context.Background(), req.ID, "XRPLTX7")
	require.Error(t, err)

	// The bridge stays resumable; bookkeeping records the attempt.
	final, gerr := h.bridges.GetByID(context.Background(), req.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.BridgeStatusGeneratingProof, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	assert.Contains(t, final.LastError, "prover unavailable")
}

func TestCompleteMintRevertedFailsBridge(t *testing.T) {
	h := newBridgeHarness()
	h.executor.mintResult.Success = false
	req := h.seedBridge(t, models.BridgeStatusXRPLConfirmed, func(r *models.BridgeRequest) {
		r.XRPLTxHash = "XRPLTX8"
		r.AgentAddress = "rAgent1"
	})
	h.agents.Reserve("rAgent1")

	require.NoError(t, h.svc.ExecuteMintingWithProof(context.Background(), req.ID, "XRPLTX8"))

	assert.Equal(t, models.BridgeStatusFailed, h.bridges.status(req.ID))
	assert.Equal(t, 2, h.agents.FreeCount())
}

func TestVaultDepositFailureMarksVaultMintFailed(t *testing.T) {
	h := newBridgeHarness()
	h.executor.vaultErr = errors.New("vault contract reverted")
	req := h.seedBridge(t, models.BridgeStatusXRPLConfirmed, func(r *models.BridgeRequest) {
		r.XRPLTxHash = "XRPLTX9"
	})

	require.NoError(t, h.svc.ExecuteMintingWithProof(context.Background(), req.ID, "XRPLTX9"))

	final, err := h.bridges.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BridgeStatusVaultMintFailed, final.Status)
	assert.NotEmpty(t, final.MintTxHash, "the mint itself succeeded")
	assert.Contains(t, final.LastError, "vault_deposit_failed")
}

func TestResumeVaultDeposit(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusVaultMinting, func(r *models.BridgeRequest) {
		r.XRPLTxHash = "XRPLTX10"
		r.MintTxHash = "0xmint"
		r.ActualMintAmount = "99988000000000000000"
	})

	require.NoError(t, h.svc.ResumeVaultDeposit(context.Background(), req.ID))

	final, err := h.bridges.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BridgeStatusCompleted, final.Status)
	assert.Equal(t, "0xvault", final.VaultTxHash)
	assert.Equal(t, 1, h.executor.vaultCalls)
	assert.Equal(t, 0, h.executor.mintCalls, "resume must not resubmit the mint")
}

func TestResumeVaultDepositIgnoresOtherStates(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusMinting, nil)
	require.NoError(t, h.svc.ResumeVaultDeposit(context.Background(), req.ID))
	assert.Equal(t, models.BridgeStatusMinting, h.bridges.status(req.ID))
	assert.Equal(t, 0, h.executor.vaultCalls)
}

func TestCancelBridgeBeforeCommitPoint(t *testing.T) {
	h := newBridgeHarness()
	req := h.seedBridge(t, models.BridgeStatusAwaitingPayment, func(r *models.BridgeRequest) {
		r.AgentAddress = "rAgent1"
	})
	h.agents.Reserve("rAgent1")

	require.NoError(t, h.svc.CancelBridge(context.Background(), req.ID))
	assert.Equal(t, models.BridgeStatusCancelled, h.bridges.status(req.ID))
	assert.Equal(t, 2, h.agents.FreeCount())
}

func TestCancelBridgeRefusedPastCommitPoint(t *testing.T) {
	h := newBridgeHarness()
	for _, status := range []models.BridgeStatus{models.BridgeStatusMinting, models.BridgeStatusVaultMinting} {
		req := h.seedBridge(t, status, nil)
		err := h.svc.CancelBridge(context.Background(), req.ID)
		assert.ErrorIs(t, err, ErrCancellationRefused, "status %s", status)
		assert.Equal(t, status, h.bridges.status(req.ID))
	}
}

func TestConfirmRedemptionFlagsRetryOnFailure(t *testing.T) {
	h := newBridgeHarness()
	h.executor.confirmErr = errors.New("rpc timeout")

	redemption, err := h.svc.CreateRedemption(context.Background(), "0xWallet", "0xburn1", "rDest", 50_000_000)
	require.NoError(t, err)
	require.NoError(t, h.svc.RecordPayoutSubmitted(context.Background(), redemption.ID, "PAYOUT1"))

	err = h.svc.ConfirmRedemption(context.Background(), redemption.ID)
	require.Error(t, err)

	final, gerr := h.redemptions.GetByID(context.Background(), redemption.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.RedemptionStatusFailed, final.Status)
	assert.True(t, final.NeedsRetry)
	assert.Contains(t, final.LastError, "rpc timeout")
}

func TestHandleRedemptionPaymentCompletesByBurnMemo(t *testing.T) {
	h := newBridgeHarness()
	redemption, err := h.svc.CreateRedemption(context.Background(), "0xWallet", "0xburn2", "rDest", 50_000_000)
	require.NoError(t, err)
	require.NoError(t, h.svc.RecordPayoutSubmitted(context.Background(), redemption.ID, "PAYOUT2"))

	err = h.svc.HandleRedemptionPayment(&LedgerPayment{
		Payer:  "rVault",
		Amount: "50.000000",
		TxHash: "PAYOUT2",
		Memo:   "0xburn2",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RedemptionStatusCompleted, h.redemptions.status(redemption.ID))
	assert.Equal(t, 1, h.executor.confirmCalls)
}

func TestHandleRedemptionPaymentFallsBackToPayoutHash(t *testing.T) {
	h := newBridgeHarness()
	redemption, err := h.svc.CreateRedemption(context.Background(), "0xWallet", "0xburn3", "rDest", 10_000_000)
	require.NoError(t, err)
	require.NoError(t, h.svc.RecordPayoutSubmitted(context.Background(), redemption.ID, "PAYOUT3"))

	// No memo on the payout; correlation falls back to the recorded hash.
	err = h.svc.HandleRedemptionPayment(&LedgerPayment{
		Payer:  "rVault",
		Amount: "10.000000",
		TxHash: "PAYOUT3",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RedemptionStatusCompleted, h.redemptions.status(redemption.ID))
}

func TestRecordPayoutSubmittedRequiresPending(t *testing.T) {
	h := newBridgeHarness()
	redemption, err := h.svc.CreateRedemption(context.Background(), "0xWallet", "0xburn4", "rDest", 10_000_000)
	require.NoError(t, err)
	require.NoError(t, h.svc.RecordPayoutSubmitted(context.Background(), redemption.ID, "PAYOUT4"))
	require.Error(t, h.svc.RecordPayoutSubmitted(context.Background(), redemption.ID, "PAYOUT4-dup"))
}
