package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/clients"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/metrics"
)

// LedgerPayment a normalized payment event emitted by the watcher.
// Amount is the ledger decimal string (e.g. "100.000000" XRP).
type LedgerPayment struct {
	Payer       string
	Destination string
	Amount      string
	TxHash      string
	Memo        string
}

// PaymentHandler consumes normalized payment events. A returned error
// is logged at the watcher boundary and never propagates into the
// stream loop.
type PaymentHandler func(payment *LedgerPayment) error

// LedgerWatcher maintains a live XRPL subscription for the vault
// address plus a dynamic set of agent settlement addresses, and
// dispatches normalized payment events to exactly one handler per
// destination class.
type LedgerWatcher struct {
	newStream    func() LedgerStream
	vaultAddress string
	maxDecimals  int

	mu        sync.Mutex
	watched   map[string]struct{}
	stream    LedgerStream
	connected bool

	depositHandler PaymentHandler
	agentHandler   PaymentHandler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLedgerWatcher creates a watcher; newStream is called once per
// (re)connection so a dead stream can be replaced wholesale.
func NewLedgerWatcher(newStream func() LedgerStream, vaultAddress string, maxDecimals int) *LedgerWatcher {
	return &LedgerWatcher{
		newStream:    newStream,
		vaultAddress: vaultAddress,
		maxDecimals:  maxDecimals,
		watched:      make(map[string]struct{}),
	}
}

// RegisterDepositHandler sets the vault-destination handler. Handler
// registration happens exactly once; a second registration is a
// configuration error.
func (w *LedgerWatcher) RegisterDepositHandler(handler PaymentHandler) error {
	if w.depositHandler != nil {
		return fmt.Errorf("deposit handler already registered")
	}
	w.depositHandler = handler
	return nil
}

// RegisterAgentPaymentHandler sets the agent-destination handler
func (w *LedgerWatcher) RegisterAgentPaymentHandler(handler PaymentHandler) error {
	if w.agentHandler != nil {
		return fmt.Errorf("agent payment handler already registered")
	}
	w.agentHandler = handler
	return nil
}

// Start opens the stream and begins dispatching. Handlers must be
// registered before Start.
func (w *LedgerWatcher) Start() error {
	if w.depositHandler == nil || w.agentHandler == nil {
		return fmt.Errorf("ledger watcher started before handlers were registered")
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.done = make(chan struct{})
	go w.run()
	return nil
}

// Stop tears the stream down and waits for the loop to exit
func (w *LedgerWatcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.mu.Lock()
	if w.stream != nil {
		w.stream.Close()
	}
	w.mu.Unlock()
	<-w.done
}

// AddWatchedAddress subscribes an agent settlement address. Adding an
// address twice is a no-op. While connected the live subscription is
// updated synchronously; otherwise only the local set changes and the
// next (re)connection subscribes it.
func (w *LedgerWatcher) AddWatchedAddress(addr string) error {
	w.mu.Lock()
	if _, ok := w.watched[addr]; ok {
		w.mu.Unlock()
		return nil
	}
	w.watched[addr] = struct{}{}
	metrics.WatchedAddresses.Set(float64(len(w.watched)))
	stream, connected := w.stream, w.connected
	w.mu.Unlock()

	if connected {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := stream.SubscribeAccounts(ctx, []string{addr}); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", addr, err)
		}
	}
	return nil
}

// RemoveWatchedAddress unsubscribes an agent settlement address;
// removing an unknown address is a no-op.
func (w *LedgerWatcher) RemoveWatchedAddress(addr string) error {
	w.mu.Lock()
	if _, ok := w.watched[addr]; !ok {
		w.mu.Unlock()
		return nil
	}
	delete(w.watched, addr)
	metrics.WatchedAddresses.Set(float64(len(w.watched)))
	stream, connected := w.stream, w.connected
	w.mu.Unlock()

	if connected {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := stream.UnsubscribeAccounts(ctx, []string{addr}); err != nil {
			return fmt.Errorf("failed to unsubscribe %s: %w", addr, err)
		}
	}
	return nil
}

// WatchedAddresses returns a snapshot of the watched set
func (w *LedgerWatcher) WatchedAddresses() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for addr := range w.watched {
		out = append(out, addr)
	}
	return out
}

// run is the connect/dispatch/reconnect loop
func (w *LedgerWatcher) run() {
	defer close(w.done)
	for {
		if w.ctx.Err() != nil {
			return
		}
		if err := w.connectAndDispatch(); err != nil {
			log.Printf("❌ XRPL watcher connection lost: %v", err)
		}
		metrics.WatcherConnectionStatus.Set(0)

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (w *LedgerWatcher) connectAndDispatch() error {
	stream := w.newStream()
	if err := stream.Connect(w.ctx); err != nil {
		return err
	}

	// Subscribe the vault plus the full watched set on every
	// (re)connection so nothing is lost across a drop.
	w.mu.Lock()
	accounts := []string{w.vaultAddress}
	for addr := range w.watched {
		accounts = append(accounts, addr)
	}
	w.stream = stream
	w.connected = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.connected = false
		w.stream = nil
		w.mu.Unlock()
		stream.Close()
	}()

	subCtx, cancel := context.WithTimeout(w.ctx, 15*time.Second)
	err := stream.SubscribeAccounts(subCtx, accounts)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to subscribe accounts: %w", err)
	}

	metrics.WatcherConnectionStatus.Set(1)
	log.Printf("👁️ XRPL watcher subscribed to %d accounts", len(accounts))

	for {
		select {
		case <-w.ctx.Done():
			return nil
		case msg, ok := <-stream.Messages():
			if !ok {
				return fmt.Errorf("stream closed")
			}
			w.handleStreamMessage(&msg)
		}
	}
}

// handleStreamMessage filters, normalizes and dispatches one stream
// message. Handler panics and errors are contained here; the watch loop
// must survive anything a handler does.
func (w *LedgerWatcher) handleStreamMessage(msg *clients.XRPLStreamMessage) {
	if !msg.Validated || msg.Transaction == nil {
		return
	}
	tx := msg.Transaction
	if tx.TransactionType != "Payment" {
		return
	}

	// Only fungible native-asset payments carry a plain drops string;
	// issued-currency amounts are JSON objects and are ignored.
	raw := msg.Meta.DeliveredAmount
	if len(raw) == 0 {
		raw = tx.Amount
	}
	var drops string
	if err := json.Unmarshal(raw, &drops); err != nil {
		return
	}
	dropsInt, err := strconv.ParseInt(drops, 10, 64)
	if err != nil {
		return
	}

	payment := &LedgerPayment{
		Payer:       tx.Account,
		Destination: tx.Destination,
		Amount:      FormatDrops(dropsInt, w.maxDecimals),
		TxHash:      tx.Hash,
		Memo:        decodeMemo(tx.Memos),
	}

	// Vault-involving transactions (inbound deposits and outbound
	// payouts sent by the vault account) go to the deposit handler;
	// payments landing on a reserved agent address go to the agent
	// handler. Everything else on the stream is ignored.
	var handler PaymentHandler
	var class string
	switch {
	case tx.Destination == w.vaultAddress || tx.Account == w.vaultAddress:
		handler, class = w.depositHandler, "vault"
	case w.isWatched(tx.Destination):
		handler, class = w.agentHandler, "agent"
	default:
		return
	}

	metrics.WatcherEventsReceived.WithLabelValues(class).Inc()
	w.dispatch(class, handler, payment)
}

func (w *LedgerWatcher) isWatched(addr string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watched[addr]
	return ok
}

func (w *LedgerWatcher) dispatch(class string, handler PaymentHandler, payment *LedgerPayment) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WatcherHandlerErrors.Inc()
			log.Printf("❌ %s payment handler panicked on tx %s: %v", class, payment.TxHash, r)
		}
	}()
	if err := handler(payment); err != nil {
		metrics.WatcherHandlerErrors.Inc()
		log.Printf("❌ %s payment handler rejected tx %s: %v", class, payment.TxHash, err)
	}
}

// decodeMemo extracts the first memo's data field, hex-decoded
func decodeMemo(memos []clients.XRPLMemoWrap) string {
	if len(memos) == 0 {
		return ""
	}
	data, err := hex.DecodeString(memos[0].Memo.MemoData)
	if err != nil {
		return ""
	}
	return string(data)
}
