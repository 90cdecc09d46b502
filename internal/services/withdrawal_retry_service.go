package services

import (
	"context"
	"log"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/metrics"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/repository"
)

// WithdrawalRetryService drives stalled redemptions to settlement. Each
// cycle it reconciles payouts awaiting ledger validation, checks the
// shared gas funding once, and retries flagged confirmations under
// exponential backoff. All state changes go through BridgeService's
// public operations.
type WithdrawalRetryService struct {
	redemptions repository.RedemptionRepository
	service     *BridgeService
	ledger      LedgerLookup
	executor    ChainExecutor
	cfg         *config.RetryConfig

	isProcessing atomic.Bool
	stopChan     chan struct{}
	done         chan struct{}
}

// NewWithdrawalRetryService creates the withdrawal retry engine
func NewWithdrawalRetryService(
	redemptions repository.RedemptionRepository,
	service *BridgeService,
	ledger LedgerLookup,
	executor ChainExecutor,
	cfg *config.RetryConfig,
) *WithdrawalRetryService {
	return &WithdrawalRetryService{
		redemptions: redemptions,
		service:     service,
		ledger:      ledger,
		executor:    executor,
		cfg:         cfg,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the retry loop
func (s *WithdrawalRetryService) Start() {
	go s.loop()
	log.Printf("🔁 Withdrawal retry engine started (interval %ds, base backoff %ds)",
		s.cfg.IntervalSeconds, s.cfg.BaseBackoffSeconds)
}

// Stop halts the retry loop
func (s *WithdrawalRetryService) Stop() {
	close(s.stopChan)
	<-s.done
}

func (s *WithdrawalRetryService) loop() {
	defer close(s.done)
	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunCycle()
		}
	}
}

// RunCycle executes one retry cycle. Cycles never overlap; a cycle
// arriving while one is in flight is dropped.
func (s *WithdrawalRetryService) RunCycle() {
	if !s.isProcessing.CompareAndSwap(false, true) {
		return
	}
	defer s.isProcessing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s.reconcilePendingPayouts(ctx)
	s.retryFailedConfirmations(ctx)
}

// reconcilePendingPayouts looks up submitted payouts on the ledger and
// finalizes the ones that validated while nobody was watching (stream
// gap, restart).
func (s *WithdrawalRetryService) reconcilePendingPayouts(ctx context.Context) {
	pending, err := s.redemptions.GetWithPendingPayouts(ctx)
	if err != nil {
		log.Printf("❌ Retry engine: failed to load pending payouts: %v", err)
		return
	}
	for _, redemption := range pending {
		result, err := s.ledger.GetTransaction(ctx, redemption.PayoutTxHash)
		if err != nil {
			log.Printf("⚠️ Retry engine: payout %s lookup failed: %v", redemption.PayoutTxHash, err)
			continue
		}
		if !result.Validated {
			continue // still settling on the ledger
		}
		log.Printf("🔎 Retry engine: payout %s validated, finalizing redemption %s", redemption.PayoutTxHash, redemption.ID)
		if err := s.service.finalizeRedemptionPayout(ctx, redemption, redemption.PayoutTxHash); err != nil {
			log.Printf("⚠️ Retry engine: failed to finalize redemption %s: %v", redemption.ID, err)
		}
	}
}

// retryFailedConfirmations re-runs settlement confirmations flagged for
// retry, gated by one gas check per cycle.
func (s *WithdrawalRetryService) retryFailedConfirmations(ctx context.Context) {
	candidates, err := s.redemptions.GetNeedingRetry(ctx)
	if err != nil {
		log.Printf("❌ Retry engine: failed to load retry candidates: %v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	// One gas check per cycle: remediation is for the whole batch, not
	// per redemption. A cycle that cannot secure gas abandons its batch
	// and lets the next cycle try again.
	if !s.ensureGas(ctx) {
		metrics.WithdrawalRetries.WithLabelValues("gas_short").Inc()
		log.Printf("⛽ Retry engine: gas funding short, deferring %d retries", len(candidates))
		return
	}

	now := time.Now()
	for _, redemption := range candidates {
		if redemption.RetriesExhausted() {
			s.abandon(ctx, redemption)
			continue
		}
		if !redemption.RetryDue(now, s.cfg.BaseBackoff()) {
			continue
		}
		s.retryOne(ctx, redemption)
	}
}

func (s *WithdrawalRetryService) retryOne(ctx context.Context, redemption *models.Redemption) {
	ok, err := s.redemptions.UpdateStatusIf(ctx, redemption.ID,
		[]models.RedemptionStatus{models.RedemptionStatusFailed, models.RedemptionStatusConfirming},
		models.RedemptionStatusRetrying, nil)
	if err != nil || !ok {
		return // someone else owns this attempt
	}

	log.Printf("🔁 Retry engine: attempt %d/%d for redemption %s",
		redemption.RetryCount+1, redemption.MaxRetries, redemption.ID)

	if err := s.service.ConfirmRedemption(ctx, redemption.ID); err != nil {
		// Bookkeeping is written only after the failed attempt so the
		// backoff window measures from real attempts.
		redemption.RecordFailedAttempt(time.Now(), err.Error())
		if uerr := s.redemptions.Update(ctx, redemption); uerr != nil {
			log.Printf("❌ Retry engine: bookkeeping for redemption %s failed: %v", redemption.ID, uerr)
		}
		if redemption.Status == models.RedemptionStatusAbandoned {
			metrics.WithdrawalRetries.WithLabelValues("abandoned").Inc()
			log.Printf("🚫 Retry engine: redemption %s abandoned after %d attempts", redemption.ID, redemption.RetryCount)
		} else {
			metrics.WithdrawalRetries.WithLabelValues("failed").Inc()
		}
		return
	}
	metrics.WithdrawalRetries.WithLabelValues("succeeded").Inc()
}

func (s *WithdrawalRetryService) abandon(ctx context.Context, redemption *models.Redemption) {
	ok, err := s.redemptions.UpdateStatusIf(ctx, redemption.ID,
		[]models.RedemptionStatus{models.RedemptionStatusFailed, models.RedemptionStatusConfirming},
		models.RedemptionStatusAbandoned,
		map[string]interface{}{"needs_retry": false})
	if err != nil || !ok {
		return
	}
	metrics.WithdrawalRetries.WithLabelValues("abandoned").Inc()
	log.Printf("🚫 Retry engine: redemption %s exhausted its %d retries", redemption.ID, redemption.MaxRetries)
}

// ensureGas verifies the shared gas funding covers the configured
// minimum, remediating through the paymaster when enabled, otherwise by
// an operator top-up. Returns false when the balance stays short.
func (s *WithdrawalRetryService) ensureGas(ctx context.Context) bool {
	minBalance, ok := new(big.Int).SetString(s.cfg.MinGasBalanceWei, 10)
	if !ok || minBalance.Sign() <= 0 {
		return true // no minimum configured
	}

	balance, err := s.executor.GasBalance(ctx)
	if err != nil {
		log.Printf("❌ Retry engine: gas balance check failed: %v", err)
		return false
	}
	metrics.GasFundingBalance.Set(weiToFloat(balance))
	if balance.Cmp(minBalance) >= 0 {
		return true
	}

	log.Printf("⛽ Retry engine: gas funding %s below minimum %s, remediating", balance, minBalance)
	if s.cfg.PaymasterEnabled {
		if err := s.executor.SponsorGasViaPaymaster(ctx); err != nil {
			log.Printf("❌ Retry engine: paymaster sponsorship failed: %v", err)
			return false
		}
		return true
	}

	topUp, ok := new(big.Int).SetString(s.cfg.AutoFundAmountWei, 10)
	if !ok || topUp.Sign() <= 0 {
		return false
	}
	if _, err := s.executor.FundGasFromOperator(ctx, topUp); err != nil {
		log.Printf("❌ Retry engine: operator gas top-up failed: %v", err)
		return false
	}

	// Re-check rather than assume the top-up covered the gap.
	balance, err = s.executor.GasBalance(ctx)
	if err != nil {
		return false
	}
	metrics.GasFundingBalance.Set(weiToFloat(balance))
	return balance.Cmp(minBalance) >= 0
}

func weiToFloat(wei *big.Int) float64 {
	f, _ := new(big.Float).SetInt(wei).Float64()
	return f
}
