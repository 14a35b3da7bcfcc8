package x402

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ErrSettlementUnsupported signals that the ledger cannot execute the
// authorized transfer for this asset or configuration. It is the only
// settlement error that callers may treat as a fallback trigger; anything
// else is a real failure.
var ErrSettlementUnsupported = errors.New("settlement not supported")

// ErrGasLimitExceeded signals that the estimated settlement gas exceeds
// the configured ceiling.
var ErrGasLimitExceeded = errors.New("settlement gas limit exceeded")

// Set the raw JSON for the asset contract calls used by the ledger
const assetABIJSON = `[{
	"type": "function",
	"name": "transferWithAuthorization",
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "v", "type": "uint8"},
		{"name": "r", "type": "bytes32"},
		{"name": "s", "type": "bytes32"}
	],
	"outputs": [],
	"constant": false
}, {
	"type": "function",
	"name": "authorizationState",
	"inputs": [
		{"name": "authorizer", "type": "address"},
		{"name": "nonce", "type": "bytes32"}
	],
	"outputs": [
		{"name": "", "type": "bool"}
	],
	"constant": true
}, {
	"type": "function",
	"name": "balanceOf",
	"inputs": [
		{"name": "account", "type": "address"}
	],
	"outputs": [
		{"name": "", "type": "uint256"}
	],
	"constant": true
}]`

// LedgerConfig are the configuration parameters for the ledger.
type LedgerConfig struct {
	ChainID int64
	RPCURL  string

	// PrivateKey holds settlement credentials. Empty means the ledger is
	// read-only and Settle returns ErrSettlementUnsupported.
	PrivateKey string

	// GasLimitCap bounds the gas spent per settlement. Zero means no cap.
	GasLimitCap uint64
}

// Ledger talks to the asset contract: it can probe whether an
// authorization nonce was already consumed on-chain, check payer balances,
// and, when it holds credentials, execute the authorized transfer.
type Ledger struct {
	client   EthClientInterface
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	sender   common.Address
	gasCap   uint64
	assetABI abi.ABI
	log      *zap.Logger
}

// NewLedger creates a ledger for the configured network.
func NewLedger(c LedgerConfig, log *zap.Logger) (*Ledger, error) {

	if c.RPCURL == "" {
		return nil, fmt.Errorf("ledger RPC URL is not set")
	}

	client, err := NewEthClient(c.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC client: %v", err)
	}

	assetABI, err := abi.JSON(strings.NewReader(assetABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse asset ABI: %v", err)
	}

	l := &Ledger{
		client:   client,
		chainID:  big.NewInt(c.ChainID),
		gasCap:   c.GasLimitCap,
		assetABI: assetABI,
		log:      log,
	}

	if c.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse settlement private key: %v", err)
		}
		l.key = key
		l.sender = crypto.PubkeyToAddress(key.PublicKey)
	}

	return l, nil
}

// CanSettle reports whether the ledger holds settlement credentials.
func (l *Ledger) CanSettle() bool {
	return l.key != nil
}

// UsedResult is the outcome of the on-chain used-nonce query. Supported is
// false when the asset does not expose the query, in which case Used is
// meaningless and the caller must rely on signature verification instead.
type UsedResult struct {
	Supported bool
	Used      bool
}

// AuthorizationUsed asks the asset contract whether the authorizer's nonce
// has already been consumed. A revert or empty result maps to an
// unsupported capability, not an error; transport failures propagate.
func (l *Ledger) AuthorizationUsed(ctx context.Context, asset, authorizer common.Address, nonce [NonceLength]byte) (UsedResult, error) {

	data, err := l.assetABI.Pack("authorizationState", authorizer, nonce)
	if err != nil {
		return UsedResult{}, fmt.Errorf("failed to pack authorizationState call data: %v", err)
	}

	result, err := l.client.CallContract(ctx, ethereum.CallMsg{
		To:   &asset,
		Data: data,
	}, nil)
	if err != nil {
		// A revert means the contract has no authorizationState method.
		if isRevert(err) {
			return UsedResult{Supported: false}, nil
		}
		return UsedResult{}, fmt.Errorf("failed to query authorization state: %v", err)
	}
	if len(result) != 32 {
		return UsedResult{Supported: false}, nil
	}

	used := new(big.Int).SetBytes(result).Sign() != 0
	return UsedResult{Supported: true, Used: used}, nil
}

// BalanceOf returns the asset balance of the account.
func (l *Ledger) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {

	data, err := l.assetABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call data: %v", err)
	}

	result, err := l.client.CallContract(ctx, ethereum.CallMsg{
		To:   &asset,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance: %v", err)
	}
	if len(result) != 32 {
		return nil, fmt.Errorf("failed to get token balance: balance result is not 32 bytes")
	}

	return new(big.Int).SetBytes(result), nil
}

// Settle executes the authorized transfer on-chain and returns the
// transaction hash. The authorization nonce is consumed by the contract
// itself, so a successful settlement is also a replay barrier.
func (l *Ledger) Settle(ctx context.Context, asset common.Address, a Authorization, sig Signature) (string, error) {

	if l.key == nil {
		return "", ErrSettlementUnsupported
	}

	// The contract takes the Ethereum-convention recovery id (27/28)
	v := sig.V
	if v == 0 || v == 1 {
		v += 27
	}

	// Pack the function call data
	txData, err := l.assetABI.Pack(
		"transferWithAuthorization",
		a.From,
		a.To,
		a.Value,
		a.ValidAfter,
		a.ValidBefore,
		a.Nonce,
		v,
		sig.R,
		sig.S,
	)
	if err != nil {
		return "", fmt.Errorf("failed to pack transferWithAuthorization call data: %v", err)
	}

	// Get the pending nonce for the settlement account
	txNonce, err := l.client.PendingNonceAt(ctx, l.sender)
	if err != nil {
		return "", fmt.Errorf("failed to get pending nonce: %v", err)
	}

	// Get the suggested gas tip cap
	gasTipCap, err := l.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest gas tip cap: %v", err)
	}

	// Get the latest block header to get the base fee
	blockHeader, err := l.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get block header: %v", err)
	}
	if blockHeader.BaseFee == nil {
		return "", fmt.Errorf("block header missing base fee: network may not support EIP-1559")
	}

	// Determine the gas fee cap (2x base fee + gas tip cap)
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(blockHeader.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	// Get the estimated gas limit to set the gas amount
	gasLimit, err := l.client.EstimateGas(ctx, ethereum.CallMsg{
		From: l.sender,
		To:   &asset,
		Data: txData,
	})
	if err != nil {
		// A revert on estimation means the asset cannot execute the
		// transfer authorization primitive at all.
		if isRevert(err) {
			return "", fmt.Errorf("%w: transferWithAuthorization reverted: %v", ErrSettlementUnsupported, err)
		}
		return "", fmt.Errorf("failed to estimate gas: %v", err)
	}

	// Add 20% buffer to the gas estimate for safety
	gasLimit = gasLimit * 120 / 100

	// Ensure gas limit does not exceed the allowed gas limit
	if l.gasCap > 0 && gasLimit > l.gasCap {
		return "", ErrGasLimitExceeded
	}

	// Create the transaction using EIP-1559
	transaction := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   l.chainID,
		Nonce:     txNonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &asset,
		Value:     big.NewInt(0),
		Data:      txData,
	})

	// Sign the transaction using the EIP-1559 signer
	signer := ethtypes.NewLondonSigner(l.chainID)
	signedTx, err := ethtypes.SignTx(transaction, signer, l.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %v", err)
	}

	// Send the signed transaction
	if err := l.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %v", err)
	}

	l.log.Info("settled payment on-chain",
		zap.String("tx", signedTx.Hash().Hex()),
		zap.String("from", a.From.Hex()),
		zap.String("to", a.To.Hex()),
		zap.String("value", a.Value.String()),
	)

	return signedTx.Hash().Hex(), nil
}

// isRevert reports whether the RPC error is an EVM execution revert as
// opposed to a transport failure.
func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert") || strings.Contains(msg, "execution reverted")
}
