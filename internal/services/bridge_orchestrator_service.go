package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/events"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/metrics"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/repository"

	"github.com/google/uuid"
)

var (
	// ErrQuoteExpired returned when a job is initiated from a stale quote
	ErrQuoteExpired = errors.New("quote has expired, request a new one")
	// ErrJobNotCancellable returned when a cancel arrives after on-chain
	// work has started.
	ErrJobNotCancellable = errors.New("job has started executing, cancellation refused")
)

// LegHandler submits one leg of a route for execution. Submission is
// source-side only; the leg's eventual outcome is reported back through
// UpdateLegStatus by whichever component observes it (a chain receipt,
// the ledger watcher, or an operator tool).
type LegHandler interface {
	SubmitLeg(ctx context.Context, job *models.CrossChainJob, leg *models.CrossChainLeg, route RouteLeg) (txHash string, err error)
}

// LegUpdate the optional fields UpdateLegStatus can set alongside a
// status change. Empty fields are left untouched.
type LegUpdate struct {
	SourceTxHash string
	DestTxHash   string
	// OutputAmount is the leg's realized output in the next leg's minor
	// units; set when completing a leg so the downstream leg knows its
	// input.
	OutputAmount string
	LastError    string
}

// BridgeOrchestratorService owns the lifecycle of N-leg cross-chain
// jobs built from frozen route quotes. It is the only component that
// writes leg rows; job status is always a derived projection of leg
// statuses, never set directly by API paths.
type BridgeOrchestratorService struct {
	repo      repository.CrossChainRepository
	publisher events.EventPublisher
	handlers  map[models.LegProtocol]LegHandler
}

// NewBridgeOrchestratorService creates the orchestrator; protocol
// handlers are registered separately during wiring.
func NewBridgeOrchestratorService(repo repository.CrossChainRepository, publisher events.EventPublisher) *BridgeOrchestratorService {
	return &BridgeOrchestratorService{
		repo:      repo,
		publisher: publisher,
		handlers:  make(map[models.LegProtocol]LegHandler),
	}
}

// RegisterLegHandler binds a protocol to its handler. Registration
// happens once during wiring; rebinding a protocol is a configuration
// error.
func (s *BridgeOrchestratorService) RegisterLegHandler(protocol models.LegProtocol, handler LegHandler) error {
	if _, exists := s.handlers[protocol]; exists {
		return fmt.Errorf("leg handler for %s already registered", protocol)
	}
	s.handlers[protocol] = handler
	return nil
}

// InitiateBridge creates a job from a quote and starts executing its
// first leg. The quote's frozen route is copied onto leg rows: leg 0
// carries the known source amount, later legs stay "0" until their
// upstream leg completes and reports its output.
func (s *BridgeOrchestratorService) InitiateBridge(ctx context.Context, quoteID, wallet, recipient string) (*models.CrossChainJob, error) {
	quote, err := s.repo.GetQuoteByID(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("quote %s not found: %w", quoteID, err)
	}
	if quote.IsExpired(time.Now()) {
		return nil, ErrQuoteExpired
	}

	route, err := ParseRouteLegs(quote)
	if err != nil {
		return nil, err
	}

	job := &models.CrossChainJob{
		ID:            uuid.New().String(),
		WalletAddress: wallet,
		Recipient:     recipient,
		SourceChain:   quote.SourceChain,
		SourceToken:   quote.SourceToken,
		DestChain:     quote.DestChain,
		DestToken:     quote.DestToken,
		SourceAmount:  quote.AmountIn,
		QuoteID:       quote.ID,
		Status:        models.JobStatusConfirmed,
		ExpiresAt:     quote.ExpiresAt,
	}

	legs := make([]models.CrossChainLeg, len(route))
	for i, hop := range route {
		amount := "0"
		if i == 0 {
			amount = quote.AmountIn
		}
		legs[i] = models.CrossChainLeg{
			ID:        uuid.New().String(),
			LegIndex:  i,
			FromChain: hop.FromChain,
			ToChain:   hop.ToChain,
			FromToken: hop.FromToken,
			ToToken:   hop.ToToken,
			Protocol:  hop.Protocol,
			Amount:    amount,
			Status:    models.LegStatusPending,
		}
	}

	if err := s.repo.CreateJobWithLegs(ctx, job, legs); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	job.Legs = legs
	log.Printf("🧭 Job %s created from quote %s: %d legs, %s → %s", job.ID, quote.ID, len(legs), job.SourceChain, job.DestChain)

	go s.executeLeg(job.ID, legs[0].ID)
	return job, nil
}

// UpdateLegStatus is the only write path for leg state. After every
// write the job's status and current-leg pointer are recomputed from
// the full leg set and persisted in the same transaction. Completing a
// leg propagates its output amount into the next leg and submits it.
func (s *BridgeOrchestratorService) UpdateLegStatus(ctx context.Context, legID string, status models.LegStatus, update LegUpdate) error {
	leg, err := s.repo.GetLegByID(ctx, legID)
	if err != nil {
		return fmt.Errorf("leg %s not found: %w", legID, err)
	}
	if leg.Status == models.LegStatusCompleted {
		return nil // terminal for a leg, late updates are no-ops
	}

	leg.Status = status
	if update.SourceTxHash != "" {
		leg.SourceTxHash = update.SourceTxHash
	}
	if update.DestTxHash != "" {
		leg.DestTxHash = update.DestTxHash
	}
	if update.LastError != "" {
		leg.LastError = update.LastError
	}

	legs, err := s.repo.GetLegsByJobID(ctx, leg.JobID)
	if err != nil {
		return fmt.Errorf("failed to load legs for job %s: %w", leg.JobID, err)
	}
	for i := range legs {
		if legs[i].ID == leg.ID {
			legs[i] = *leg
		}
	}

	job, err := s.repo.GetJobByID(ctx, leg.JobID)
	if err != nil {
		return fmt.Errorf("job %s not found: %w", leg.JobID, err)
	}

	derived := models.DeriveJobStatus(job.Status, legs)
	currentLeg := models.DeriveCurrentLeg(legs)
	if err := s.repo.UpdateLeg(ctx, leg, derived, currentLeg); err != nil {
		return fmt.Errorf("failed to persist leg %s: %w", legID, err)
	}

	if derived != job.Status {
		metrics.JobStatusTransitions.WithLabelValues(string(derived)).Inc()
		s.publisher.PublishJobStatus(&events.JobStatusEvent{
			JobID:      job.ID,
			Status:     string(derived),
			CurrentLeg: currentLeg,
			Timestamp:  time.Now(),
		})
		log.Printf("🔁 Job %s: %s → %s (leg %d/%d)", job.ID, job.Status, derived, currentLeg, len(legs))
	}

	if status == models.LegStatusCompleted && currentLeg < len(legs) {
		next := legs[currentLeg]
		if update.OutputAmount != "" {
			next.Amount = update.OutputAmount
			if err := s.repo.UpdateLeg(ctx, &next, derived, currentLeg); err != nil {
				return fmt.Errorf("failed to propagate output to leg %d: %w", currentLeg, err)
			}
		}
		go s.executeLeg(job.ID, next.ID)
	}
	return nil
}

// executeLeg dispatches one leg to its protocol handler in the
// background and records the submission outcome.
func (s *BridgeOrchestratorService) executeLeg(jobID, legID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Leg handler for %s panicked: %v", legID, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		log.Printf("❌ Job %s vanished before leg %s ran: %v", jobID, legID, err)
		return
	}
	if job.Status == models.JobStatusCancelled {
		return
	}
	leg, err := s.repo.GetLegByID(ctx, legID)
	if err != nil {
		log.Printf("❌ Leg %s not found: %v", legID, err)
		return
	}
	if leg.Status != models.LegStatusPending {
		return // already picked up by another trigger
	}

	quote, err := s.repo.GetQuoteByID(ctx, job.QuoteID)
	if err != nil {
		log.Printf("❌ Job %s lost its quote %s: %v", jobID, job.QuoteID, err)
		return
	}
	route, err := ParseRouteLegs(quote)
	if err != nil || leg.LegIndex >= len(route) {
		log.Printf("❌ Job %s route does not cover leg %d", jobID, leg.LegIndex)
		return
	}

	handler, ok := s.handlers[leg.Protocol]
	if !ok {
		s.markLegFailed(ctx, leg.ID, fmt.Sprintf("no handler registered for protocol %s", leg.Protocol))
		return
	}

	if err := s.UpdateLegStatus(ctx, leg.ID, models.LegStatusExecuting, LegUpdate{}); err != nil {
		log.Printf("❌ Failed to mark leg %s executing: %v", leg.ID, err)
		return
	}

	txHash, err := handler.SubmitLeg(ctx, job, leg, route[leg.LegIndex])
	if err != nil {
		log.Printf("❌ Leg %d of job %s failed to submit: %v", leg.LegIndex, jobID, err)
		s.markLegFailed(ctx, leg.ID, err.Error())
		return
	}

	if err := s.UpdateLegStatus(ctx, leg.ID, models.LegStatusSubmitted, LegUpdate{SourceTxHash: txHash}); err != nil {
		log.Printf("❌ Failed to record submission of leg %s: %v", leg.ID, err)
	}
	log.Printf("🚀 Leg %d of job %s submitted: %s", leg.LegIndex, jobID, txHash)
}

func (s *BridgeOrchestratorService) markLegFailed(ctx context.Context, legID, message string) {
	if err := s.UpdateLegStatus(ctx, legID, models.LegStatusFailed, LegUpdate{LastError: message}); err != nil {
		log.Printf("❌ Failed to mark leg %s failed: %v", legID, err)
	}
}

// CancelJob cancels a job that has not started on-chain work. Once any
// leg is executing the job runs to whatever end state its legs reach.
func (s *BridgeOrchestratorService) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job %s not found: %w", jobID, err)
	}
	if !job.Status.Cancellable() {
		return ErrJobNotCancellable
	}
	ok, err := s.repo.UpdateJobStatusIf(ctx, jobID,
		[]models.JobStatus{models.JobStatusPending, models.JobStatusQuoted, models.JobStatusConfirmed},
		models.JobStatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobNotCancellable
	}
	log.Printf("🛑 Job %s cancelled", jobID)
	return nil
}

// GetJob returns one job with its ordered legs
func (s *BridgeOrchestratorService) GetJob(ctx context.Context, jobID string) (*models.CrossChainJob, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

// GetJobsByWallet returns a wallet's jobs, newest first
func (s *BridgeOrchestratorService) GetJobsByWallet(ctx context.Context, wallet string) ([]*models.CrossChainJob, error) {
	return s.repo.GetJobsByWallet(ctx, wallet)
}
