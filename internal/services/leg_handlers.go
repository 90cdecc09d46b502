package services

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/clients"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
)

// routeTables is the shared config lookup used by the chain-side leg
// handlers.
type routeTables struct {
	chains map[string]config.RouteChainConfig
	tokens map[string]config.RouteTokenConfig
}

func newRouteTables(cfg *config.RoutesConfig) routeTables {
	t := routeTables{
		chains: make(map[string]config.RouteChainConfig),
		tokens: make(map[string]config.RouteTokenConfig),
	}
	for _, c := range cfg.Chains {
		t.chains[c.ID] = c
	}
	for _, tok := range cfg.Tokens {
		t.tokens[tok.Symbol] = tok
	}
	return t
}

func (t routeTables) tokenAddress(symbol, chainID string) (string, error) {
	tok, ok := t.tokens[symbol]
	if !ok {
		return "", fmt.Errorf("unknown token %q", symbol)
	}
	addr, ok := tok.Addresses[chainID]
	if !ok {
		return "", fmt.Errorf("token %s has no contract address on %s", symbol, chainID)
	}
	return addr, nil
}

func parseMinorUnits(amount string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("invalid leg amount %q", amount)
	}
	return v, nil
}

// SwapLegHandler executes same-chain swap legs through the chain's
// configured router contract.
type SwapLegHandler struct {
	executor RouterExecutor
	tables   routeTables
	// operator receives intermediate outputs; only the final leg pays
	// the job's recipient directly.
	operatorAddress string
}

// NewSwapLegHandler creates the swap protocol handler
func NewSwapLegHandler(executor RouterExecutor, routes *config.RoutesConfig, operatorAddress string) *SwapLegHandler {
	return &SwapLegHandler{
		executor:        executor,
		tables:          newRouteTables(routes),
		operatorAddress: operatorAddress,
	}
}

// SubmitLeg submits the swap; the transaction is mined before returning
func (h *SwapLegHandler) SubmitLeg(ctx context.Context, job *models.CrossChainJob, leg *models.CrossChainLeg, route RouteLeg) (string, error) {
	chain, ok := h.tables.chains[leg.FromChain]
	if !ok || chain.RouterContract == "" {
		return "", fmt.Errorf("chain %s has no swap router configured", leg.FromChain)
	}
	tokenIn, err := h.tables.tokenAddress(leg.FromToken, leg.FromChain)
	if err != nil {
		return "", err
	}
	tokenOut, err := h.tables.tokenAddress(leg.ToToken, leg.FromChain)
	if err != nil {
		return "", err
	}
	amount, err := parseMinorUnits(leg.Amount)
	if err != nil {
		return "", err
	}

	recipient := h.operatorAddress
	if isFinalLeg(job, leg) {
		recipient = job.Recipient
	}
	return h.executor.ExecuteRouterSwap(ctx, &clients.RouterSwap{
		Router:    chain.RouterContract,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  amount,
		Recipient: recipient,
	})
}

// BridgeLegHandler executes generic chain-to-chain transfer legs
// through the source chain's bridge router.
type BridgeLegHandler struct {
	executor        RouterExecutor
	tables          routeTables
	operatorAddress string
}

// NewBridgeLegHandler creates the bridge protocol handler
func NewBridgeLegHandler(executor RouterExecutor, routes *config.RoutesConfig, operatorAddress string) *BridgeLegHandler {
	return &BridgeLegHandler{
		executor:        executor,
		tables:          newRouteTables(routes),
		operatorAddress: operatorAddress,
	}
}

// SubmitLeg locks tokens into the source-chain router for delivery on
// the destination chain. Destination delivery is confirmed separately
// through UpdateLegStatus when the dest transaction is observed.
func (h *BridgeLegHandler) SubmitLeg(ctx context.Context, job *models.CrossChainJob, leg *models.CrossChainLeg, route RouteLeg) (string, error) {
	src, ok := h.tables.chains[leg.FromChain]
	if !ok || src.RouterContract == "" {
		return "", fmt.Errorf("chain %s has no bridge router configured", leg.FromChain)
	}
	dst, ok := h.tables.chains[leg.ToChain]
	if !ok {
		return "", fmt.Errorf("unknown destination chain %s", leg.ToChain)
	}
	token, err := h.tables.tokenAddress(leg.FromToken, leg.FromChain)
	if err != nil {
		return "", err
	}
	amount, err := parseMinorUnits(leg.Amount)
	if err != nil {
		return "", err
	}

	recipient := h.operatorAddress
	if isFinalLeg(job, leg) {
		recipient = job.Recipient
	}
	return h.executor.SubmitBridgeTransfer(ctx, &clients.RouterBridgeTransfer{
		Router:      src.RouterContract,
		Token:       token,
		Amount:      amount,
		DestChainID: dst.ChainID,
		Recipient:   recipient,
	})
}

// LedgerMintLegHandler executes ledger-touching legs by driving the
// two-party bridge path. A ledger-to-chain leg becomes a bridge request
// awaiting its XRPL payment; a chain-to-ledger leg becomes a redemption
// awaiting its payout.
type LedgerMintLegHandler struct {
	bridge *BridgeService
	vault  string
}

// NewLedgerMintLegHandler creates the ledger protocol handler
func NewLedgerMintLegHandler(bridge *BridgeService, vaultAddress string) *LedgerMintLegHandler {
	return &LedgerMintLegHandler{bridge: bridge, vault: vaultAddress}
}

// SubmitLeg routes the leg into the two-party state machine. The
// returned reference is the bridge request (or redemption) id; its
// terminal transition reports back through UpdateLegStatus.
func (h *LedgerMintLegHandler) SubmitLeg(ctx context.Context, job *models.CrossChainJob, leg *models.CrossChainLeg, route RouteLeg) (string, error) {
	drops, err := strconv.ParseInt(leg.Amount, 10, 64)
	if err != nil || drops <= 0 {
		return "", fmt.Errorf("invalid drops amount %q for ledger leg", leg.Amount)
	}

	ledgerSource := h.isLedgerChain(leg.FromChain, route)
	if ledgerSource {
		req, err := h.bridge.CreateBridgeRequest(ctx, job.WalletAddress, h.vault, drops)
		if err != nil {
			return "", err
		}
		if _, err := h.bridge.InitiateBridge(ctx, req.ID); err != nil {
			return "", err
		}
		return req.ID, nil
	}

	// Chain-to-ledger: the upstream leg's destination transaction is the
	// burn the payout settles against; fall back to the leg id when the
	// leg opens the route.
	burnRef := leg.SourceTxHash
	if burnRef == "" {
		burnRef = leg.ID
	}
	redemption, err := h.bridge.CreateRedemption(ctx, job.WalletAddress, burnRef, job.Recipient, drops)
	if err != nil {
		return "", err
	}
	return redemption.ID, nil
}

func (h *LedgerMintLegHandler) isLedgerChain(chainID string, route RouteLeg) bool {
	// The route froze the protocol as ledger_mint; direction comes from
	// which end matches the leg's source chain.
	return route.FromChain == chainID && route.Protocol == models.LegProtocolLedgerMint && route.GasChain != chainID
}

func isFinalLeg(job *models.CrossChainJob, leg *models.CrossChainLeg) bool {
	return leg.ToChain == job.DestChain && leg.ToToken == job.DestToken
}
