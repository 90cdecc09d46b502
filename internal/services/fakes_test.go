package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/clients"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/events"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
)

// ============================================================================
// In-memory repositories with real compare-and-transition semantics
// ============================================================================

type fakeBridgeRepo struct {
	mu      sync.Mutex
	bridges map[string]*models.BridgeRequest
}

func newFakeBridgeRepo() *fakeBridgeRepo {
	return &fakeBridgeRepo{bridges: make(map[string]*models.BridgeRequest)}
}

func (r *fakeBridgeRepo) Create(_ context.Context, req *models.BridgeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *req
	r.bridges[req.ID] = &cp
	return nil
}

func (r *fakeBridgeRepo) GetByID(_ context.Context, id string) (*models.BridgeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.bridges[id]
	if !ok {
		return nil, fmt.Errorf("bridge %s not found", id)
	}
	cp := *req
	return &cp, nil
}

func (r *fakeBridgeRepo) GetByAgentAddress(_ context.Context, addr string) (*models.BridgeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.bridges {
		if req.AgentAddress == addr {
			cp := *req
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no bridge for agent %s", addr)
}

func (r *fakeBridgeRepo) Update(_ context.Context, req *models.BridgeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *req
	r.bridges[req.ID] = &cp
	return nil
}

func (r *fakeBridgeRepo) UpdateStatusIf(_ context.Context, id string, from []models.BridgeStatus, to models.BridgeStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.bridges[id]
	if !ok {
		return false, fmt.Errorf("bridge %s not found", id)
	}
	matched := false
	for _, s := range from {
		if req.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	req.Status = to
	applyBridgeUpdates(req, updates)
	return true, nil
}

func applyBridgeUpdates(req *models.BridgeRequest, updates map[string]interface{}) {
	for key, value := range updates {
		switch key {
		case "agent_address":
			req.AgentAddress = value.(string)
		case "xrpl_tx_hash":
			req.XRPLTxHash = value.(string)
		case "proof":
			req.Proof = value.(string)
		case "mint_tx_hash":
			req.MintTxHash = value.(string)
		case "actual_mint_amount":
			req.ActualMintAmount = value.(string)
		case "vault_tx_hash":
			req.VaultTxHash = value.(string)
		case "last_error":
			req.LastError = value.(string)
		case "retry_count":
			req.RetryCount = value.(int)
		}
	}
}

func (r *fakeBridgeRepo) filter(keep func(*models.BridgeRequest) bool) []*models.BridgeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.BridgeRequest
	for _, req := range r.bridges {
		if keep(req) {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out
}

func (r *fakeBridgeRepo) GetPendingBridges(context.Context) ([]*models.BridgeRequest, error) {
	return r.filter(func(b *models.BridgeRequest) bool {
		return b.Status == models.BridgeStatusAwaitingPayment
	}), nil
}

func (r *fakeBridgeRepo) GetStuckBridges(context.Context) ([]*models.BridgeRequest, error) {
	return r.filter(func(b *models.BridgeRequest) bool {
		switch b.Status {
		case models.BridgeStatusGeneratingProof, models.BridgeStatusProofGenerated,
			models.BridgeStatusMinting, models.BridgeStatusVaultMinting:
			return true
		}
		return false
	}), nil
}

func (r *fakeBridgeRepo) GetConfirmedWithoutProof(context.Context) ([]*models.BridgeRequest, error) {
	return r.filter(func(b *models.BridgeRequest) bool {
		return b.Status == models.BridgeStatusXRPLConfirmed && b.Proof == ""
	}), nil
}

func (r *fakeBridgeRepo) GetExpired(_ context.Context, now time.Time) ([]*models.BridgeRequest, error) {
	return r.filter(func(b *models.BridgeRequest) bool {
		return !b.Status.IsTerminal() && b.IsExpired(now)
	}), nil
}

func (r *fakeBridgeRepo) CountByStatus(context.Context) (map[models.BridgeStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.BridgeStatus]int64)
	for _, req := range r.bridges {
		out[req.Status]++
	}
	return out, nil
}

func (r *fakeBridgeRepo) status(id string) models.BridgeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bridges[id].Status
}

type fakeRedemptionRepo struct {
	mu          sync.Mutex
	redemptions map[string]*models.Redemption
}

func newFakeRedemptionRepo() *fakeRedemptionRepo {
	return &fakeRedemptionRepo{redemptions: make(map[string]*models.Redemption)}
}

func (r *fakeRedemptionRepo) Create(_ context.Context, redemption *models.Redemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *redemption
	r.redemptions[redemption.ID] = &cp
	return nil
}

func (r *fakeRedemptionRepo) GetByID(_ context.Context, id string) (*models.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	redemption, ok := r.redemptions[id]
	if !ok {
		return nil, fmt.Errorf("redemption %s not found", id)
	}
	cp := *redemption
	return &cp, nil
}

func (r *fakeRedemptionRepo) GetByBurnTxHash(_ context.Context, hash string) (*models.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, redemption := range r.redemptions {
		if redemption.BurnTxHash == hash {
			cp := *redemption
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no redemption for burn %s", hash)
}

func (r *fakeRedemptionRepo) Update(_ context.Context, redemption *models.Redemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *redemption
	r.redemptions[redemption.ID] = &cp
	return nil
}

func (r *fakeRedemptionRepo) UpdateStatusIf(_ context.Context, id string, from []models.RedemptionStatus, to models.RedemptionStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	redemption, ok := r.redemptions[id]
	if !ok {
		return false, fmt.Errorf("redemption %s not found", id)
	}
	matched := false
	for _, s := range from {
		if redemption.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	redemption.Status = to
	for key, value := range updates {
		switch key {
		case "payout_tx_hash":
			redemption.PayoutTxHash = value.(string)
		case "needs_retry":
			redemption.NeedsRetry = value.(bool)
		case "last_error":
			redemption.LastError = value.(string)
		}
	}
	return true, nil
}

func (r *fakeRedemptionRepo) GetNeedingRetry(context.Context) ([]*models.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Redemption
	for _, redemption := range r.redemptions {
		if redemption.NeedsRetry &&
			(redemption.Status == models.RedemptionStatusFailed || redemption.Status == models.RedemptionStatusConfirming) {
			cp := *redemption
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRedemptionRepo) GetWithPendingPayouts(context.Context) ([]*models.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Redemption
	for _, redemption := range r.redemptions {
		if redemption.Status == models.RedemptionStatusPayoutSubmitted && redemption.PayoutTxHash != "" {
			cp := *redemption
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRedemptionRepo) status(id string) models.RedemptionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redemptions[id].Status
}

type fakeCrossChainRepo struct {
	mu     sync.Mutex
	jobs   map[string]*models.CrossChainJob
	legs   map[string]*models.CrossChainLeg
	quotes map[string]*models.RouteQuote
}

func newFakeCrossChainRepo() *fakeCrossChainRepo {
	return &fakeCrossChainRepo{
		jobs:   make(map[string]*models.CrossChainJob),
		legs:   make(map[string]*models.CrossChainLeg),
		quotes: make(map[string]*models.RouteQuote),
	}
}

func (r *fakeCrossChainRepo) CreateJobWithLegs(_ context.Context, job *models.CrossChainJob, legs []models.CrossChainLeg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	for i := range legs {
		legs[i].JobID = job.ID
		legCp := legs[i]
		r.legs[legs[i].ID] = &legCp
	}
	return nil
}

func (r *fakeCrossChainRepo) GetJobByID(_ context.Context, id string) (*models.CrossChainJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	cp := *job
	cp.Legs = r.legsOf(id)
	return &cp, nil
}

func (r *fakeCrossChainRepo) legsOf(jobID string) []models.CrossChainLeg {
	var out []models.CrossChainLeg
	for i := 0; ; i++ {
		found := false
		for _, leg := range r.legs {
			if leg.JobID == jobID && leg.LegIndex == i {
				out = append(out, *leg)
				found = true
				break
			}
		}
		if !found {
			return out
		}
	}
}

func (r *fakeCrossChainRepo) GetJobsByWallet(_ context.Context, wallet string) ([]*models.CrossChainJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CrossChainJob
	for _, job := range r.jobs {
		if job.WalletAddress == wallet {
			cp := *job
			cp.Legs = r.legsOf(job.ID)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCrossChainRepo) GetLegByID(_ context.Context, id string) (*models.CrossChainLeg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	leg, ok := r.legs[id]
	if !ok {
		return nil, fmt.Errorf("leg %s not found", id)
	}
	cp := *leg
	return &cp, nil
}

func (r *fakeCrossChainRepo) GetLegsByJobID(_ context.Context, jobID string) ([]models.CrossChainLeg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.legsOf(jobID), nil
}

func (r *fakeCrossChainRepo) UpdateLeg(_ context.Context, leg *models.CrossChainLeg, jobStatus models.JobStatus, currentLeg int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *leg
	r.legs[leg.ID] = &cp
	if job, ok := r.jobs[leg.JobID]; ok {
		job.Status = jobStatus
		job.CurrentLeg = currentLeg
	}
	return nil
}

func (r *fakeCrossChainRepo) UpdateJobStatusIf(_ context.Context, id string, from []models.JobStatus, to models.JobStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	for _, s := range from {
		if job.Status == s {
			job.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeCrossChainRepo) CreateQuote(_ context.Context, quote *models.RouteQuote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *quote
	r.quotes[quote.ID] = &cp
	return nil
}

func (r *fakeCrossChainRepo) GetQuoteByID(_ context.Context, id string) (*models.RouteQuote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	quote, ok := r.quotes[id]
	if !ok {
		return nil, fmt.Errorf("quote %s not found", id)
	}
	cp := *quote
	return &cp, nil
}

// ============================================================================
// Collaborator fakes
// ============================================================================

type fakeExecutor struct {
	mu sync.Mutex

	mintErr       error
	mintResult    *clients.MintResult
	vaultErr      error
	confirmErr    error
	gasBalance    *big.Int
	paymasterErr  error
	operatorErr   error
	mintCalls     int
	vaultCalls    int
	confirmCalls  int
	paymasterRuns int
	operatorRuns  int
	fundedAmount  *big.Int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		mintResult: &clients.MintResult{Success: true, MintedAmount: big.NewInt(1)},
		gasBalance: big.NewInt(1_000_000),
	}
}

func (e *fakeExecutor) SubmitMintWithProof(_ context.Context, sub *clients.MintSubmission) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mintCalls++
	if e.mintErr != nil {
		return "", e.mintErr
	}
	return "0xmint", nil
}

func (e *fakeExecutor) GetMintResult(context.Context, string) (*clients.MintResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mintResult, nil
}

func (e *fakeExecutor) DepositToVault(_ context.Context, _ string, _ *big.Int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vaultCalls++
	if e.vaultErr != nil {
		return "", e.vaultErr
	}
	return "0xvault", nil
}

func (e *fakeExecutor) ConfirmRedemptionPayout(context.Context, string, string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmCalls++
	if e.confirmErr != nil {
		return "", e.confirmErr
	}
	return "0xconfirm", nil
}

func (e *fakeExecutor) GasBalance(context.Context) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.gasBalance), nil
}

func (e *fakeExecutor) FundGasFromOperator(_ context.Context, amount *big.Int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.operatorRuns++
	if e.operatorErr != nil {
		return "", e.operatorErr
	}
	e.fundedAmount = new(big.Int).Set(amount)
	e.gasBalance = new(big.Int).Add(e.gasBalance, amount)
	return "0xfund", nil
}

func (e *fakeExecutor) SponsorGasViaPaymaster(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paymasterRuns++
	return e.paymasterErr
}

type fakeProofGen struct {
	mu    sync.Mutex
	err   error
	proof []byte
	calls int
}

func (g *fakeProofGen) GenerateProof(context.Context, string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if g.proof != nil {
		return g.proof, nil
	}
	return []byte("proof-blob"), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	bridge []*events.BridgeStatusEvent
	jobs   []*events.JobStatusEvent
}

func (p *fakePublisher) PublishBridgeStatus(event *events.BridgeStatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bridge = append(p.bridge, event)
}

func (p *fakePublisher) PublishJobStatus(event *events.JobStatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, event)
}

func (p *fakePublisher) jobEvents() []*events.JobStatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*events.JobStatusEvent(nil), p.jobs...)
}

type fakeWatcher struct {
	mu      sync.Mutex
	watched map[string]bool
	addErr  error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{watched: make(map[string]bool)}
}

func (w *fakeWatcher) AddWatchedAddress(addr string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.addErr != nil {
		return w.addErr
	}
	w.watched[addr] = true
	return nil
}

func (w *fakeWatcher) RemoveWatchedAddress(addr string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, addr)
	return nil
}

func (w *fakeWatcher) isWatched(addr string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[addr]
}

type fakeLookup struct {
	mu      sync.Mutex
	results map[string]*clients.XRPLTxResult
}

func (l *fakeLookup) GetTransaction(_ context.Context, hash string) (*clients.XRPLTxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	result, ok := l.results[hash]
	if !ok {
		return nil, fmt.Errorf("tx %s not found", hash)
	}
	return result, nil
}

// fakeStream feeds scripted messages to the ledger watcher
type fakeStream struct {
	mu         sync.Mutex
	messages   chan clients.XRPLStreamMessage
	subscribed []string
	connectErr error
	closed     bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{messages: make(chan clients.XRPLStreamMessage, 16)}
}

func (s *fakeStream) Connect(context.Context) error { return s.connectErr }

func (s *fakeStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.messages)
	}
}

func (s *fakeStream) Messages() <-chan clients.XRPLStreamMessage { return s.messages }

func (s *fakeStream) SubscribeAccounts(_ context.Context, accounts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, accounts...)
	return nil
}

func (s *fakeStream) UnsubscribeAccounts(_ context.Context, accounts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range accounts {
		for i, existing := range s.subscribed {
			if existing == account {
				s.subscribed = append(s.subscribed[:i], s.subscribed[i+1:]...)
				break
			}
		}
	}
	return nil
}
