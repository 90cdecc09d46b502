package app

import (
	"context"
	"errors"
	"sync"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
)

// ErrNotReady is returned by pending proxies for calls made before
// their real service finished initializing.
var ErrNotReady = errors.New("service not ready")

// BridgeAPI is the handler-facing slice of the bridge service.
type BridgeAPI interface {
	CreateBridgeRequest(ctx context.Context, wallet, vault string, amountDrops int64) (*models.BridgeRequest, error)
	InitiateBridge(ctx context.Context, requestID string) (*models.BridgeRequest, error)
	GetBridge(ctx context.Context, requestID string) (*models.BridgeRequest, error)
	CancelBridge(ctx context.Context, requestID string) error
	CreateRedemption(ctx context.Context, wallet, burnTxHash, destination string, amountDrops int64) (*models.Redemption, error)
	RecordPayoutSubmitted(ctx context.Context, redemptionID, payoutTxHash string) error
}

// PendingBridgeAPI lets HTTP routes be registered before background
// startup completes. Every call returns ErrNotReady until SetDelegate
// binds the real service, then forwards.
type PendingBridgeAPI struct {
	mu       sync.RWMutex
	delegate BridgeAPI
}

// NewPendingBridgeAPI creates an unbound proxy
func NewPendingBridgeAPI() *PendingBridgeAPI {
	return &PendingBridgeAPI{}
}

// SetDelegate binds the real service. Calls forward from here on.
func (p *PendingBridgeAPI) SetDelegate(delegate BridgeAPI) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegate = delegate
}

func (p *PendingBridgeAPI) get() BridgeAPI {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.delegate
}

func (p *PendingBridgeAPI) CreateBridgeRequest(ctx context.Context, wallet, vault string, amountDrops int64) (*models.BridgeRequest, error) {
	delegate := p.get()
	if delegate == nil {
		return nil, ErrNotReady
	}
	return delegate.CreateBridgeRequest(ctx, wallet, vault, amountDrops)
}

func (p *PendingBridgeAPI) InitiateBridge(ctx context.Context, requestID string) (*models.BridgeRequest, error) {
	delegate := p.get()
	if delegate == nil {
		return nil, ErrNotReady
	}
	return delegate.InitiateBridge(ctx, requestID)
}

func (p *PendingBridgeAPI) GetBridge(ctx context.Context, requestID string) (*models.BridgeRequest, error) {
	delegate := p.get()
	if delegate == nil {
		return nil, ErrNotReady
	}
	return delegate.GetBridge(ctx, requestID)
}

func (p *PendingBridgeAPI) CancelBridge(ctx context.Context, requestID string) error {
	delegate := p.get()
	if delegate == nil {
		return ErrNotReady
	}
	return delegate.CancelBridge(ctx, requestID)
}

func (p *PendingBridgeAPI) CreateRedemption(ctx context.Context, wallet, burnTxHash, destination string, amountDrops int64) (*models.Redemption, error) {
	delegate := p.get()
	if delegate == nil {
		return nil, ErrNotReady
	}
	return delegate.CreateRedemption(ctx, wallet, burnTxHash, destination, amountDrops)
}

func (p *PendingBridgeAPI) RecordPayoutSubmitted(ctx context.Context, redemptionID, payoutTxHash string) error {
	delegate := p.get()
	if delegate == nil {
		return ErrNotReady
	}
	return delegate.RecordPayoutSubmitted(ctx, redemptionID, payoutTxHash)
}
