package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/clients"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/db"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/events"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/repository"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/services"

	"gorm.io/gorm"
)

// ServiceContainer wires repositories, clients and services in two
// phases: everything except the ledger watcher first, then the watcher
// is injected into the bridge service and started last so no payment
// event can arrive before its consumers exist.
type ServiceContainer struct {
	DB  *gorm.DB
	Cfg *config.Config

	// Repositories
	BridgeRepo     repository.BridgeRepository
	RedemptionRepo repository.RedemptionRepository
	CrossChainRepo repository.CrossChainRepository

	// Clients
	Executor  *clients.EVMExecutor
	Prover    *clients.ProverClient
	Publisher events.EventPublisher

	// Services
	AgentPool      *services.AgentAddressPool
	BridgeService  *services.BridgeService
	Watcher        *services.LedgerWatcher
	RouteRegistry  *services.RouteRegistry
	Orchestrator   *services.BridgeOrchestratorService
	Reconciliation *services.ReconciliationService
	RetryEngine    *services.WithdrawalRetryService

	// BridgeAPI is the proxy handlers bind to. It answers ErrNotReady
	// until Start finishes, so routes can be registered immediately.
	BridgeAPI *PendingBridgeAPI

	Readiness *ReadinessRegistry

	natsPublisher *events.NATSPublisher
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container once
func InitializeContainer(cfg *config.Config) (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")

		container := &ServiceContainer{
			DB:        db.DB,
			Cfg:       cfg,
			BridgeAPI: NewPendingBridgeAPI(),
			Readiness: NewReadinessRegistry(),
		}

		container.initRepositories()

		if err := container.initClients(); err != nil {
			initErr = fmt.Errorf("failed to initialize clients: %w", err)
			return
		}
		if err := container.initServices(); err != nil {
			initErr = fmt.Errorf("failed to initialize services: %w", err)
			return
		}

		Container = container
		log.Println("✅ Service Container initialized successfully")
	})

	return Container, initErr
}

func (c *ServiceContainer) initRepositories() {
	log.Println("📦 Initializing Repositories...")
	c.BridgeRepo = repository.NewBridgeRepository(c.DB)
	c.RedemptionRepo = repository.NewRedemptionRepository(c.DB)
	c.CrossChainRepo = repository.NewCrossChainRepository(c.DB)
}

func (c *ServiceContainer) initClients() error {
	log.Println("🔌 Initializing Clients...")

	executor, err := clients.NewEVMExecutor(&c.Cfg.Chain)
	if err != nil {
		c.Readiness.SetError("chain_executor", err)
		return err
	}
	c.Executor = executor
	c.Readiness.SetReady("chain_executor", "")

	c.Prover = clients.NewProverClient(c.Cfg.XRPL.ProverURL)
	c.Readiness.SetReady("prover", "")

	// NATS is optional; without it status events are dropped, not queued.
	c.Publisher = events.NoopPublisher{}
	if c.Cfg.NATS.Enabled && c.Cfg.NATS.URL != "" {
		publisher, err := events.NewNATSPublisher(&c.Cfg.NATS)
		if err != nil {
			c.Readiness.SetError("nats", err)
			log.Printf("⚠️ NATS unavailable, status events disabled: %v", err)
		} else {
			c.natsPublisher = publisher
			c.Publisher = publisher
			c.Readiness.SetReady("nats", "")
		}
	}
	return nil
}

// initServices wires the service graph. Phase one builds everything
// except the watcher; phase two injects the watcher into the bridge
// service and registers its handlers.
func (c *ServiceContainer) initServices() error {
	log.Println("🔧 Initializing Services...")

	c.AgentPool = services.NewAgentAddressPool(c.Cfg.XRPL.AgentAddresses)

	c.BridgeService = services.NewBridgeService(
		c.BridgeRepo,
		c.RedemptionRepo,
		c.Executor,
		c.Prover,
		c.Publisher,
		c.AgentPool,
		c.Cfg,
	)

	// Phase two: the watcher depends on the bridge service's handlers
	// and the bridge service needs the watcher for subscriptions.
	vault := c.Cfg.XRPL.VaultAddress
	wsURL := c.Cfg.XRPL.WebsocketURL
	c.Watcher = services.NewLedgerWatcher(func() services.LedgerStream {
		return clients.NewXRPLClient(wsURL)
	}, vault, c.Cfg.XRPL.MaxDecimals)

	if err := c.Watcher.RegisterAgentPaymentHandler(c.BridgeService.HandleAgentPayment); err != nil {
		return err
	}
	if err := c.Watcher.RegisterDepositHandler(c.handleVaultPayment(vault)); err != nil {
		return err
	}
	c.BridgeService.SetAddressWatcher(c.Watcher)

	c.RouteRegistry = services.NewRouteRegistry(c.CrossChainRepo, &c.Cfg.Routes)

	c.Orchestrator = services.NewBridgeOrchestratorService(c.CrossChainRepo, c.Publisher)
	operator := c.Cfg.Chain.OperatorAddress
	if err := c.Orchestrator.RegisterLegHandler(models.LegProtocolSwap,
		services.NewSwapLegHandler(c.Executor, &c.Cfg.Routes, operator)); err != nil {
		return err
	}
	if err := c.Orchestrator.RegisterLegHandler(models.LegProtocolBridge,
		services.NewBridgeLegHandler(c.Executor, &c.Cfg.Routes, operator)); err != nil {
		return err
	}
	if err := c.Orchestrator.RegisterLegHandler(models.LegProtocolLedgerMint,
		services.NewLedgerMintLegHandler(c.BridgeService, vault)); err != nil {
		return err
	}

	c.Reconciliation = services.NewReconciliationService(
		c.BridgeRepo, c.BridgeService, c.Watcher, c.AgentPool, &c.Cfg.Reconciliation)

	c.RetryEngine = services.NewWithdrawalRetryService(
		c.RedemptionRepo, c.BridgeService, clients.NewXRPLLookupClient(wsURL), c.Executor, &c.Cfg.Retry)

	return nil
}

// handleVaultPayment routes vault-involving payments: outbound
// transfers sent by the vault are redemption payouts; inbound deposits
// are recorded for the reserve audit trail.
func (c *ServiceContainer) handleVaultPayment(vault string) services.PaymentHandler {
	return func(payment *services.LedgerPayment) error {
		if payment.Payer == vault {
			return c.BridgeService.HandleRedemptionPayment(payment)
		}
		log.Printf("🏦 Vault deposit observed: %s XRP from %s (tx %s)", payment.Amount, payment.Payer, payment.TxHash)
		return nil
	}
}

// Start runs startup reconciliation, then brings the background engines
// and finally the watcher online. The watcher starts last: every
// consumer of its events must already be wired.
func (c *ServiceContainer) Start(ctx context.Context) error {
	if err := c.Reconciliation.Start(ctx); err != nil {
		return fmt.Errorf("reconciliation failed to start: %w", err)
	}
	c.Readiness.SetReady("reconciliation", "")

	c.RetryEngine.Start()
	c.Readiness.SetReady("retry_engine", "")

	if err := c.Watcher.Start(); err != nil {
		c.Readiness.SetError("ledger_watcher", err)
		return fmt.Errorf("ledger watcher failed to start: %w", err)
	}
	c.Readiness.SetReady("ledger_watcher", "")

	// Routes registered against the proxy start forwarding now.
	c.BridgeAPI.SetDelegate(c.BridgeService)
	return nil
}

// Shutdown stops background work in reverse start order
func (c *ServiceContainer) Shutdown() {
	log.Println("🧹 Shutting down Service Container...")

	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	if c.RetryEngine != nil {
		c.RetryEngine.Stop()
	}
	if c.Reconciliation != nil {
		c.Reconciliation.Stop()
	}
	if c.natsPublisher != nil {
		c.natsPublisher.Close()
	}
	db.Close()
	log.Println("✅ Service Container shut down")
}
