package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/metrics"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/repository"

	"github.com/google/uuid"
)

// Swap legs have no per-lane config; these defaults apply everywhere.
const (
	defaultSwapFeePct   = 0.003
	defaultSwapTimeSecs = 30
)

// RouteLeg one hop of a computed route, frozen into the quote
type RouteLeg struct {
	FromChain string             `json:"from_chain"`
	ToChain   string             `json:"to_chain"`
	FromToken string             `json:"from_token"`
	ToToken   string             `json:"to_token"`
	Protocol  models.LegProtocol `json:"protocol"`
	FeePct    float64            `json:"fee_pct"`
	GasUnits  int64              `json:"gas_units"`
	GasChain  string             `json:"gas_chain"` // chain whose gas pays for this leg
	TimeSecs  int                `json:"time_secs"`
}

// QuoteOptions optional per-quote overrides
type QuoteOptions struct {
	// SlippageBps overrides the configured tolerance when > 0
	SlippageBps int64
}

// RouteRegistry is the stateless route calculator. Chains, tokens and
// lanes come from configuration; prices are the configured reference
// prices (price-feed accuracy is out of scope).
type RouteRegistry struct {
	repo   repository.CrossChainRepository
	cfg    *config.RoutesConfig
	chains map[string]config.RouteChainConfig
	tokens map[string]config.RouteTokenConfig
	lanes  map[string]config.DirectRouteConfig
}

// NewRouteRegistry indexes the configured route tables
func NewRouteRegistry(repo repository.CrossChainRepository, cfg *config.RoutesConfig) *RouteRegistry {
	r := &RouteRegistry{
		repo:   repo,
		cfg:    cfg,
		chains: make(map[string]config.RouteChainConfig),
		tokens: make(map[string]config.RouteTokenConfig),
		lanes:  make(map[string]config.DirectRouteConfig),
	}
	for _, c := range cfg.Chains {
		r.chains[c.ID] = c
	}
	for _, t := range cfg.Tokens {
		r.tokens[t.Symbol] = t
	}
	for _, d := range cfg.Direct {
		r.lanes[d.FromChain+"|"+d.ToChain] = d
	}
	return r
}

// GetQuote computes a route and fee quote for a chain/token pair.
// Unknown chain or token identifiers are errors; a valid pair with no
// available route returns (nil, nil).
func (r *RouteRegistry) GetQuote(ctx context.Context, srcChain, srcToken, dstChain, dstToken, amount string, opts QuoteOptions) (*models.RouteQuote, error) {
	src, ok := r.chains[srcChain]
	if !ok {
		return nil, fmt.Errorf("unknown source chain %q", srcChain)
	}
	dst, ok := r.chains[dstChain]
	if !ok {
		return nil, fmt.Errorf("unknown destination chain %q", dstChain)
	}
	srcTok, ok := r.tokens[srcToken]
	if !ok {
		return nil, fmt.Errorf("unknown source token %q", srcToken)
	}
	dstTok, ok := r.tokens[dstToken]
	if !ok {
		return nil, fmt.Errorf("unknown destination token %q", dstToken)
	}
	if !tokenOnChain(srcTok, srcChain) {
		return nil, fmt.Errorf("token %s is not available on %s", srcToken, srcChain)
	}
	if !tokenOnChain(dstTok, dstChain) {
		return nil, fmt.Errorf("token %s is not available on %s", dstToken, dstChain)
	}

	amountTokens, err := minorUnitsToTokens(amount, srcTok.Decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if amountTokens <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	legs := r.findRoute(src, dst, srcToken, dstToken)
	if legs == nil {
		metrics.QuotesRejected.WithLabelValues("no_route").Inc()
		return nil, nil
	}

	quote, err := r.priceRoute(legs, srcTok, dstTok, amount, amountTokens, opts)
	if err != nil {
		return nil, err
	}
	quote.SourceChain = srcChain
	quote.SourceToken = srcToken
	quote.DestChain = dstChain
	quote.DestToken = dstToken

	if err := r.repo.CreateQuote(ctx, quote); err != nil {
		return nil, fmt.Errorf("failed to persist quote: %w", err)
	}
	metrics.QuotesIssued.Inc()
	log.Printf("🗺️ Quote %s: %s %s@%s → %s@%s, %d legs, $%.2f fees",
		quote.ID, amount, srcToken, srcChain, dstToken, dstChain, len(legs), quote.TotalFeeUSD)
	return quote, nil
}

// findRoute searches in order: same-chain swap, configured direct
// lane, multi-hop through the hub. Returns nil when nothing applies.
func (r *RouteRegistry) findRoute(src, dst config.RouteChainConfig, srcToken, dstToken string) []RouteLeg {
	// Same chain: a single swap leg (identical tokens would be a no-op,
	// treated as no route).
	if src.ID == dst.ID {
		if srcToken == dstToken {
			return nil
		}
		return []RouteLeg{r.swapLeg(src, srcToken, dstToken)}
	}

	// Direct lane, when configured and enabled.
	if lane, ok := r.lanes[src.ID+"|"+dst.ID]; ok && lane.Enabled {
		legs := []RouteLeg{r.bridgeLeg(lane, src, dst, srcToken)}
		if srcToken != dstToken {
			legs = append(legs, r.swapLeg(dst, srcToken, dstToken))
		}
		return legs
	}

	// Multi-hop through the hub chain.
	hub, ok := r.chains[r.cfg.HubChain]
	if !ok || hub.ID == src.ID || hub.ID == dst.ID {
		return nil
	}
	laneIn, okIn := r.lanes[src.ID+"|"+hub.ID]
	laneOut, okOut := r.lanes[hub.ID+"|"+dst.ID]
	if !okIn || !okOut || !laneIn.Enabled || !laneOut.Enabled {
		return nil
	}

	legs := []RouteLeg{r.bridgeLeg(laneIn, src, hub, srcToken)}

	// Swap on the hub to the best token for the destination leg: the
	// destination token when the hub carries it, otherwise stay put.
	hubToken := srcToken
	if dstTok, ok := r.tokens[dstToken]; ok && tokenOnChain(dstTok, hub.ID) && srcToken != dstToken {
		legs = append(legs, r.swapLeg(hub, srcToken, dstToken))
		hubToken = dstToken
	}

	legs = append(legs, r.bridgeLeg(laneOut, hub, dst, hubToken))
	if hubToken != dstToken {
		legs = append(legs, r.swapLeg(dst, hubToken, dstToken))
	}

	if bridgeHops(legs) > r.cfg.MaxHops {
		return nil
	}
	return legs
}

// bridgeLeg builds a chain-to-chain leg. Lanes touching the ledger are
// always ledger_mint legs regardless of hop count.
func (r *RouteRegistry) bridgeLeg(lane config.DirectRouteConfig, from, to config.RouteChainConfig, token string) RouteLeg {
	protocol := models.LegProtocolBridge
	if from.IsLedger || to.IsLedger {
		protocol = models.LegProtocolLedgerMint
	}
	// Gas for a bridge leg is paid on the EVM side of the lane.
	gasChain := from
	if from.IsLedger {
		gasChain = to
	}
	timeSecs := lane.TimeSecs
	if timeSecs <= 0 {
		timeSecs = 120
	}
	return RouteLeg{
		FromChain: from.ID,
		ToChain:   to.ID,
		FromToken: token,
		ToToken:   token,
		Protocol:  protocol,
		FeePct:    lane.FeePct,
		GasUnits:  gasChain.BridgeGasUnits,
		GasChain:  gasChain.ID,
		TimeSecs:  timeSecs,
	}
}

func (r *RouteRegistry) swapLeg(chain config.RouteChainConfig, fromToken, toToken string) RouteLeg {
	return RouteLeg{
		FromChain: chain.ID,
		ToChain:   chain.ID,
		FromToken: fromToken,
		ToToken:   toToken,
		Protocol:  models.LegProtocolSwap,
		FeePct:    defaultSwapFeePct,
		GasUnits:  chain.SwapGasUnits,
		GasChain:  chain.ID,
		TimeSecs:  defaultSwapTimeSecs,
	}
}

// priceRoute applies the fee model:
//
//	gas     = Σ(leg gas-units × assumed gas price × native USD price)
//	bridge  = Σ(leg notional-USD × leg fee-percentage)
//	slip    = amount × (toleranceBps/10000) × source USD price
//	out     = (input-USD − total-fee-USD) / dest USD price, floored to
//	          the destination token's minor-unit precision
func (r *RouteRegistry) priceRoute(legs []RouteLeg, srcTok, dstTok config.RouteTokenConfig, amountIn string, amountTokens float64, opts QuoteOptions) (*models.RouteQuote, error) {
	inputUSD := amountTokens * srcTok.PriceUSD

	var gasUSD, bridgeUSD float64
	var totalSecs int
	for _, leg := range legs {
		chain := r.chains[leg.GasChain]
		nativeUSD := r.tokens[chain.NativeToken].PriceUSD
		gasUSD += float64(leg.GasUnits) * chain.GasPriceGwei * 1e-9 * nativeUSD
		bridgeUSD += inputUSD * leg.FeePct
		totalSecs += leg.TimeSecs
	}

	slippageBps := r.cfg.SlippageBps
	if opts.SlippageBps > 0 {
		slippageBps = opts.SlippageBps
	}
	slippageUSD := amountTokens * (float64(slippageBps) / 10000) * srcTok.PriceUSD

	totalFeeUSD := gasUSD + bridgeUSD + slippageUSD
	outputUSD := inputUSD - totalFeeUSD
	if outputUSD <= 0 {
		return nil, fmt.Errorf("amount too small: $%.4f input does not cover $%.4f fees", inputUSD, totalFeeUSD)
	}

	outTokens := outputUSD / dstTok.PriceUSD
	outMinor := math.Floor(outTokens * math.Pow10(dstTok.Decimals))

	legsJSON, err := json.Marshal(legs)
	if err != nil {
		return nil, fmt.Errorf("failed to freeze route: %w", err)
	}

	return &models.RouteQuote{
		ID:               uuid.New().String(),
		AmountIn:         amountIn,
		AmountOut:        fmt.Sprintf("%.0f", outMinor),
		GasFeeUSD:        gasUSD,
		BridgeFeeUSD:     bridgeUSD,
		SlippageUSD:      slippageUSD,
		TotalFeeUSD:      totalFeeUSD,
		EstimatedSeconds: totalSecs,
		LegsJSON:         string(legsJSON),
		ExpiresAt:        time.Now().Add(r.cfg.QuoteTTL()),
	}, nil
}

// ParseRouteLegs unfreezes the route stored on a quote
func ParseRouteLegs(quote *models.RouteQuote) ([]RouteLeg, error) {
	var legs []RouteLeg
	if err := json.Unmarshal([]byte(quote.LegsJSON), &legs); err != nil {
		return nil, fmt.Errorf("quote %s carries a malformed route: %w", quote.ID, err)
	}
	if len(legs) == 0 {
		return nil, fmt.Errorf("quote %s carries an empty route", quote.ID)
	}
	return legs, nil
}

func tokenOnChain(tok config.RouteTokenConfig, chainID string) bool {
	for _, c := range tok.Chains {
		if c == chainID {
			return true
		}
	}
	return false
}

func bridgeHops(legs []RouteLeg) int {
	n := 0
	for _, leg := range legs {
		if leg.Protocol != models.LegProtocolSwap {
			n++
		}
	}
	return n
}

// minorUnitsToTokens converts a minor-unit decimal string to whole
// tokens for USD pricing. Quoting tolerates float math; settlement
// never does.
func minorUnitsToTokens(minor string, decimals int) (float64, error) {
	var v float64
	if _, err := fmt.Sscanf(minor, "%f", &v); err != nil {
		return 0, err
	}
	return v / math.Pow10(decimals), nil
}
