package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// MintSubmission the inputs for a destination-chain mint
type MintSubmission struct {
	RequestID  string
	Recipient  string
	AmountWei  *big.Int
	XRPLTxHash string
	Proof      []byte
}

// MintResult the parsed outcome of a confirmed mint transaction.
// MintedAmount comes from the contract event, never from the request.
type MintResult struct {
	TxHash       string
	MintedAmount *big.Int
	Success      bool
}

var (
	mintWithProofSelector     = crypto.Keccak256([]byte("mintWithProof(bytes32,address,uint256,bytes32,bytes)"))[:4]
	vaultDepositSelector      = crypto.Keccak256([]byte("depositFor(address,uint256)"))[:4]
	confirmWithdrawalSelector = crypto.Keccak256([]byte("confirmWithdrawal(bytes32,bytes32)"))[:4]
	paymasterSponsorSelector  = crypto.Keccak256([]byte("sponsorGas()"))[:4]
	routerSwapSelector        = crypto.Keccak256([]byte("swapExactTokens(address,address,uint256,address)"))[:4]
	sendToChainSelector       = crypto.Keccak256([]byte("sendToChain(address,uint256,uint256,address)"))[:4]
	bridgeMintCompletedTopic  = crypto.Keccak256Hash([]byte("BridgeMintCompleted(bytes32,address,uint256)"))
	receiptPollInterval       = 3 * time.Second
	receiptPollTimeout        = 3 * time.Minute
)

// EVMExecutor submits proofs, mints and redemption confirmations to the
// destination chain with the operator key.
type EVMExecutor struct {
	client         *ethclient.Client
	chainID        *big.Int
	operatorKey    *ecdsa.PrivateKey
	operatorAddr   common.Address
	bridgeContract common.Address
	vaultContract  common.Address
	gasFundAddr    common.Address
}

// NewEVMExecutor dials the chain RPC and loads the operator key
func NewEVMExecutor(cfg *config.ChainConfig) (*EVMExecutor, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC %s: %w", cfg.RPCURL, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}

	exec := &EVMExecutor{
		client:         client,
		chainID:        big.NewInt(cfg.ChainID),
		operatorKey:    key,
		operatorAddr:   crypto.PubkeyToAddress(key.PublicKey),
		bridgeContract: common.HexToAddress(cfg.BridgeContract),
		vaultContract:  common.HexToAddress(cfg.VaultContract),
		gasFundAddr:    common.HexToAddress(cfg.GasFundAddress),
	}
	log.Printf("✅ EVM executor ready, operator %s, chain %d", exec.operatorAddr.Hex(), cfg.ChainID)
	return exec, nil
}

// SubmitMintWithProof submits the mint transaction and waits for it to
// be mined. Returns the transaction hash on success.
func (e *EVMExecutor) SubmitMintWithProof(ctx context.Context, sub *MintSubmission) (string, error) {
	data := append([]byte{}, mintWithProofSelector...)
	data = append(data, idToBytes32(sub.RequestID)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(sub.Recipient).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(sub.AmountWei.Bytes(), 32)...)
	data = append(data, hashToBytes32(sub.XRPLTxHash)...)
	data = append(data, packBytes(sub.Proof)...)

	txHash, err := e.sendTransaction(ctx, e.bridgeContract, big.NewInt(0), data)
	if err != nil {
		return "", fmt.Errorf("failed to submit mint: %w", err)
	}
	if _, err := e.waitReceipt(ctx, txHash); err != nil {
		return txHash.Hex(), err
	}
	return txHash.Hex(), nil
}

// GetMintResult reads the mint receipt and parses the actual minted
// amount from the BridgeMintCompleted event.
func (e *EVMExecutor) GetMintResult(ctx context.Context, txHash string) (*MintResult, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to get mint receipt: %w", err)
	}
	result := &MintResult{TxHash: txHash, Success: receipt.Status == types.ReceiptStatusSuccessful}
	if !result.Success {
		return result, nil
	}
	for _, lg := range receipt.Logs {
		if len(lg.Topics) > 0 && lg.Topics[0] == bridgeMintCompletedTopic && len(lg.Data) >= 32 {
			result.MintedAmount = new(big.Int).SetBytes(lg.Data[len(lg.Data)-32:])
			return result, nil
		}
	}
	return nil, fmt.Errorf("mint receipt %s has no BridgeMintCompleted event", txHash)
}

// DepositToVault deposits the minted amount into the vault for a wallet
func (e *EVMExecutor) DepositToVault(ctx context.Context, wallet string, amountWei *big.Int) (string, error) {
	data := append([]byte{}, vaultDepositSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(wallet).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amountWei.Bytes(), 32)...)

	txHash, err := e.sendTransaction(ctx, e.vaultContract, big.NewInt(0), data)
	if err != nil {
		return "", fmt.Errorf("failed to submit vault deposit: %w", err)
	}
	receipt, err := e.waitReceipt(ctx, txHash)
	if err != nil {
		return txHash.Hex(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash.Hex(), fmt.Errorf("vault deposit %s reverted", txHash.Hex())
	}
	return txHash.Hex(), nil
}

// ConfirmRedemptionPayout records a validated XRPL payout against the
// burn on the destination chain.
func (e *EVMExecutor) ConfirmRedemptionPayout(ctx context.Context, burnTxHash, payoutTxHash string) (string, error) {
	data := append([]byte{}, confirmWithdrawalSelector...)
	data = append(data, hashToBytes32(burnTxHash)...)
	data = append(data, hashToBytes32(payoutTxHash)...)

	txHash, err := e.sendTransaction(ctx, e.bridgeContract, big.NewInt(0), data)
	if err != nil {
		return "", fmt.Errorf("failed to submit redemption confirmation: %w", err)
	}
	receipt, err := e.waitReceipt(ctx, txHash)
	if err != nil {
		return txHash.Hex(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash.Hex(), fmt.Errorf("redemption confirmation %s reverted", txHash.Hex())
	}
	return txHash.Hex(), nil
}

// GasBalance returns the shared gas-funding account balance
func (e *EVMExecutor) GasBalance(ctx context.Context) (*big.Int, error) {
	return e.client.BalanceAt(ctx, e.gasFundAddr, nil)
}

// FundGasFromOperator tops the gas-funding account up from the operator
func (e *EVMExecutor) FundGasFromOperator(ctx context.Context, amountWei *big.Int) (string, error) {
	txHash, err := e.sendTransaction(ctx, e.gasFundAddr, amountWei, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fund gas account: %w", err)
	}
	if _, err := e.waitReceipt(ctx, txHash); err != nil {
		return txHash.Hex(), err
	}
	return txHash.Hex(), nil
}

// SponsorGasViaPaymaster asks the bridge contract's paymaster to cover
// upcoming confirmation gas.
func (e *EVMExecutor) SponsorGasViaPaymaster(ctx context.Context) error {
	data := append([]byte{}, paymasterSponsorSelector...)
	txHash, err := e.sendTransaction(ctx, e.bridgeContract, big.NewInt(0), data)
	if err != nil {
		return fmt.Errorf("paymaster sponsorship failed: %w", err)
	}
	receipt, err := e.waitReceipt(ctx, txHash)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("paymaster sponsorship %s reverted", txHash.Hex())
	}
	return nil
}

// RouterSwap the inputs for a same-chain token swap through a router
// contract.
type RouterSwap struct {
	Router    string
	TokenIn   string
	TokenOut  string
	AmountIn  *big.Int
	Recipient string
}

// ExecuteRouterSwap submits a swap and waits for it to be mined
func (e *EVMExecutor) ExecuteRouterSwap(ctx context.Context, swap *RouterSwap) (string, error) {
	data := append([]byte{}, routerSwapSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(swap.TokenIn).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(swap.TokenOut).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(swap.AmountIn.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(swap.Recipient).Bytes(), 32)...)

	txHash, err := e.sendTransaction(ctx, common.HexToAddress(swap.Router), big.NewInt(0), data)
	if err != nil {
		return "", fmt.Errorf("failed to submit swap: %w", err)
	}
	receipt, err := e.waitReceipt(ctx, txHash)
	if err != nil {
		return txHash.Hex(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash.Hex(), fmt.Errorf("swap %s reverted", txHash.Hex())
	}
	return txHash.Hex(), nil
}

// RouterBridgeTransfer the inputs for a chain-to-chain transfer through
// a bridge router contract.
type RouterBridgeTransfer struct {
	Router      string
	Token       string
	Amount      *big.Int
	DestChainID int64
	Recipient   string
}

// SubmitBridgeTransfer locks tokens into the bridge router for delivery
// on the destination chain. The source-side transaction is mined before
// returning; destination delivery is asynchronous.
func (e *EVMExecutor) SubmitBridgeTransfer(ctx context.Context, xfer *RouterBridgeTransfer) (string, error) {
	data := append([]byte{}, sendToChainSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(xfer.Token).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(xfer.Amount.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(xfer.DestChainID).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(xfer.Recipient).Bytes(), 32)...)

	txHash, err := e.sendTransaction(ctx, common.HexToAddress(xfer.Router), big.NewInt(0), data)
	if err != nil {
		return "", fmt.Errorf("failed to submit bridge transfer: %w", err)
	}
	receipt, err := e.waitReceipt(ctx, txHash)
	if err != nil {
		return txHash.Hex(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash.Hex(), fmt.Errorf("bridge transfer %s reverted", txHash.Hex())
	}
	return txHash.Hex(), nil
}

func (e *EVMExecutor) sendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	nonce, err := e.client.PendingNonceAt(ctx, e.operatorAddr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      500_000,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.operatorKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return signed.Hash(), nil
}

func (e *EVMExecutor) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(receiptPollTimeout)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for receipt of %s", txHash.Hex())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// idToBytes32 hashes a UUID request id into a bytes32 contract key
func idToBytes32(id string) []byte {
	return crypto.Keccak256([]byte(id))
}

// hashToBytes32 left-pads a hex tx hash into 32 bytes; XRPL hashes are
// already 32 bytes of hex.
func hashToBytes32(hexHash string) []byte {
	return common.LeftPadBytes(common.FromHex(strings.TrimPrefix(hexHash, "0x")), 32)
}

// packBytes ABI-encodes a trailing dynamic bytes argument. The offset is
// fixed because every call site places the proof as the only dynamic
// argument after four static words.
func packBytes(b []byte) []byte {
	out := common.LeftPadBytes(big.NewInt(5*32).Bytes(), 32) // offset
	out = append(out, common.LeftPadBytes(big.NewInt(int64(len(b))).Bytes(), 32)...)
	padded := len(b)
	if rem := padded % 32; rem != 0 {
		padded += 32 - rem
	}
	out = append(out, common.RightPadBytes(b, padded)...)
	return out
}
