package services

import (
	"context"
	"math/big"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/clients"
)

// ChainExecutor submits proofs, mints and redemption confirmations to
// the destination chain. Implemented by clients.EVMExecutor; faked in
// tests. The parsed settlement amounts it returns come from chain
// events, never from the request.
type ChainExecutor interface {
	SubmitMintWithProof(ctx context.Context, sub *clients.MintSubmission) (string, error)
	GetMintResult(ctx context.Context, txHash string) (*clients.MintResult, error)
	DepositToVault(ctx context.Context, wallet string, amountWei *big.Int) (string, error)
	ConfirmRedemptionPayout(ctx context.Context, burnTxHash, payoutTxHash string) (string, error)
	GasBalance(ctx context.Context) (*big.Int, error)
	FundGasFromOperator(ctx context.Context, amountWei *big.Int) (string, error)
	SponsorGasViaPaymaster(ctx context.Context) error
}

// RouterExecutor submits swap and bridge-transfer legs through router
// contracts. Also implemented by clients.EVMExecutor.
type RouterExecutor interface {
	ExecuteRouterSwap(ctx context.Context, swap *clients.RouterSwap) (string, error)
	SubmitBridgeTransfer(ctx context.Context, xfer *clients.RouterBridgeTransfer) (string, error)
}

// LedgerStream is the streaming side of the XRPL client consumed by the
// LedgerWatcher.
type LedgerStream interface {
	Connect(ctx context.Context) error
	Close()
	Messages() <-chan clients.XRPLStreamMessage
	SubscribeAccounts(ctx context.Context, accounts []string) error
	UnsubscribeAccounts(ctx context.Context, accounts []string) error
}

// LedgerLookup is the transaction-lookup side of the XRPL client,
// consumed by the payout-confirmation check.
type LedgerLookup interface {
	GetTransaction(ctx context.Context, hash string) (*clients.XRPLTxResult, error)
}

// ProofGenerator produces a ledger-inclusion proof for a validated XRPL
// transaction. Proof generation may be slow; callers run it in the
// background.
type ProofGenerator interface {
	GenerateProof(ctx context.Context, xrplTxHash string) ([]byte, error)
}
