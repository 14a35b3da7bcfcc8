// Package x402 implements the cryptographic core of the x402 payment
// protocol: EIP-3009 TransferWithAuthorization typed-data construction,
// signing, signer recovery, and on-chain settlement. The signing and
// verifying sides build the digest through the same code path so a
// domain advertised by a server always matches what its verifier checks.
package x402

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/agentfi/x402-credit-go/types"
)

// NonceLength is the required nonce width in bytes.
const NonceLength = 32

// ErrNonceLength is returned when a hex nonce decodes to the wrong width.
var ErrNonceLength = errors.New("nonce length mismatch")

// Authorization is a parsed, validated transfer authorization ready for
// signing or verification.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [NonceLength]byte
}

// ParseNonce decodes a 0x-prefixed hex nonce and enforces its width.
func ParseNonce(s string) ([NonceLength]byte, error) {
	var nonce [NonceLength]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nonce, fmt.Errorf("failed to decode nonce: %v", err)
	}
	if len(raw) != NonceLength {
		return nonce, fmt.Errorf("%w: want %d bytes, got %d bytes", ErrNonceLength, NonceLength, len(raw))
	}
	copy(nonce[:], raw)
	return nonce, nil
}

// typedData constructs the EIP-712 typed data for a transfer
// authorization under the given domain.
func typedData(d types.EIP712Domain, a Authorization) apitypes.TypedData {

	// Convert the chain ID to hex or decimal
	bigChainID := big.NewInt(d.ChainID)
	hexChainID := math.HexOrDecimal256(*bigChainID)

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           &hexChainID,
			VerifyingContract: d.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"from":        a.From.Hex(),
			"to":          a.To.Hex(),
			"value":       a.Value,
			"validAfter":  a.ValidAfter,
			"validBefore": a.ValidBefore,
			"nonce":       a.Nonce,
		},
	}
}

// Digest computes the EIP-712 signing hash of the authorization under the
// given domain.
func Digest(d types.EIP712Domain, a Authorization) ([]byte, error) {

	td := typedData(d, a)

	// Compute the domain hash
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %v", err)
	}

	// Compute the message hash
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %v", err)
	}

	// Construct the signature hash
	rawData := append(append([]byte("\x19\x01"), domainSeparator...), messageHash...)
	return crypto.Keccak256(rawData), nil
}
