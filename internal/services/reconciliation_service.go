package services

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/metrics"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/repository"
)

// ReconciliationService resumes interrupted bridges after a restart and
// sweeps periodically for stuck or expired requests. It only re-enters
// BridgeService's public operations; it never mutates bridge rows
// itself, so every resume goes through the same compare-and-transition
// guards as the live path.
type ReconciliationService struct {
	bridges repository.BridgeRepository
	service *BridgeService
	watcher AddressWatcher
	agents  *AgentAddressPool
	cfg     *config.ReconciliationConfig

	// running is the single-flight guard: overlapping sweeps would race
	// each other through the same resumable bridges.
	running  atomic.Bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewReconciliationService creates the reconciliation engine
func NewReconciliationService(
	bridges repository.BridgeRepository,
	service *BridgeService,
	watcher AddressWatcher,
	agents *AgentAddressPool,
	cfg *config.ReconciliationConfig,
) *ReconciliationService {
	return &ReconciliationService{
		bridges:  bridges,
		service:  service,
		watcher:  watcher,
		agents:   agents,
		cfg:      cfg,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the startup reconciliation synchronously, then launches
// the periodic sweep when configured.
func (s *ReconciliationService) Start(ctx context.Context) error {
	log.Printf("🔄 Running startup reconciliation...")
	s.RunOnce(ctx)

	if s.cfg.RunPeriodic {
		go s.loop()
	} else {
		close(s.done)
	}
	return nil
}

// Stop halts the periodic sweep
func (s *ReconciliationService) Stop() {
	close(s.stopChan)
	<-s.done
}

func (s *ReconciliationService) loop() {
	defer close(s.done)
	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			s.RunOnce(ctx)
			cancel()
		}
	}
}

// RunOnce executes one reconciliation sweep. A sweep already in
// progress makes this call a no-op.
func (s *ReconciliationService) RunOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.ReconciliationRuns.WithLabelValues("skipped").Inc()
		log.Printf("⏭️ Reconciliation already running, skipping")
		return
	}
	defer s.running.Store(false)

	s.restoreWatchedAddresses(ctx)
	s.resumeConfirmedWithoutProof(ctx)
	s.resumeStuckBridges(ctx)
	s.cancelExpiredBridges(ctx)
	s.exportStatusGauges(ctx)

	metrics.ReconciliationRuns.WithLabelValues("completed").Inc()
}

// restoreWatchedAddresses re-reserves agent addresses and re-subscribes
// the watcher for every bridge still awaiting its payment. Both calls
// are idempotent, so running this on every sweep is safe.
func (s *ReconciliationService) restoreWatchedAddresses(ctx context.Context) {
	pending, err := s.bridges.GetPendingBridges(ctx)
	if err != nil {
		log.Printf("❌ Reconciliation: failed to load pending bridges: %v", err)
		return
	}
	for _, req := range pending {
		if req.AgentAddress == "" {
			continue
		}
		s.agents.Reserve(req.AgentAddress)
		if err := s.watcher.AddWatchedAddress(req.AgentAddress); err != nil {
			log.Printf("⚠️ Reconciliation: failed to re-watch %s for bridge %s: %v", req.AgentAddress, req.ID, err)
		}
	}
	if len(pending) > 0 {
		log.Printf("🔄 Reconciliation: restored %d awaiting-payment subscriptions", len(pending))
	}
}

// resumeConfirmedWithoutProof restarts proof generation for bridges
// whose payment was confirmed but whose proof never landed. This is the
// only recovery path that touches xrpl_confirmed bridges; confirmed
// bridges with a proof already recorded resume through the stuck sweep.
func (s *ReconciliationService) resumeConfirmedWithoutProof(ctx context.Context) {
	confirmed, err := s.bridges.GetConfirmedWithoutProof(ctx)
	if err != nil {
		log.Printf("❌ Reconciliation: failed to load confirmed bridges: %v", err)
		return
	}
	for _, req := range confirmed {
		if req.XRPLTxHash == "" {
			log.Printf("⚠️ Reconciliation: bridge %s confirmed without a source tx hash, cannot resume", req.ID)
			continue
		}
		log.Printf("🔄 Reconciliation: resuming proof generation for bridge %s", req.ID)
		metrics.BridgesRecovered.Inc()
		go s.resume(req.ID, req.XRPLTxHash)
	}
}

// resumeStuckBridges re-enters the mint pipeline for bridges left in an
// intermediate state by a crash or transient failure.
func (s *ReconciliationService) resumeStuckBridges(ctx context.Context) {
	stuck, err := s.bridges.GetStuckBridges(ctx)
	if err != nil {
		log.Printf("❌ Reconciliation: failed to load stuck bridges: %v", err)
		return
	}
	for _, req := range stuck {
		if req.XRPLTxHash == "" {
			continue
		}
		log.Printf("🔄 Reconciliation: resuming bridge %s from %s", req.ID, req.Status)
		metrics.BridgesRecovered.Inc()
		if req.Status == models.BridgeStatusVaultMinting {
			// The mint already completed; only the vault deposit is
			// outstanding. CompleteMint cannot re-enter vault_minting, so
			// repair through the dedicated path.
			go s.resumeVaultDeposit(req.ID)
			continue
		}
		go s.resume(req.ID, req.XRPLTxHash)
	}
}

func (s *ReconciliationService) resume(requestID, sourceTxHash string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Reconciliation resume of bridge %s panicked: %v", requestID, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := s.service.ExecuteMintingWithProof(ctx, requestID, sourceTxHash); err != nil {
		log.Printf("❌ Reconciliation: resume of bridge %s failed: %v", requestID, err)
	}
}

func (s *ReconciliationService) resumeVaultDeposit(requestID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Reconciliation vault resume of bridge %s panicked: %v", requestID, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := s.service.ResumeVaultDeposit(ctx, requestID); err != nil {
		log.Printf("❌ Reconciliation: vault resume of bridge %s failed: %v", requestID, err)
	}
}

// cancelExpiredBridges cancels requests whose payment window lapsed,
// releasing their reserved agent addresses.
func (s *ReconciliationService) cancelExpiredBridges(ctx context.Context) {
	expired, err := s.bridges.GetExpired(ctx, time.Now())
	if err != nil {
		log.Printf("❌ Reconciliation: failed to load expired bridges: %v", err)
		return
	}
	for _, req := range expired {
		if req.Status.PastCommitPoint() {
			continue // committed work finishes regardless of expiry
		}
		if err := s.service.CancelExpiredBridge(ctx, req); err != nil {
			log.Printf("⚠️ Reconciliation: failed to cancel expired bridge %s: %v", req.ID, err)
			continue
		}
		log.Printf("⏰ Reconciliation: cancelled expired bridge %s", req.ID)
	}
}

func (s *ReconciliationService) exportStatusGauges(ctx context.Context) {
	counts, err := s.bridges.CountByStatus(ctx)
	if err != nil {
		return
	}
	for status, n := range counts {
		metrics.BridgesByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
