package x402

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agentfi/x402-credit-go/types"
)

// Signature holds the three components of an authorization signature.
// V uses the Ethereum convention (27/28).
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// Sign produces the authorization signature under the given typed-data
// domain.
func Sign(d types.EIP712Domain, a Authorization, key *ecdsa.PrivateKey) (Signature, error) {

	sighash, err := Digest(d, a)
	if err != nil {
		return Signature{}, err
	}

	raw, err := crypto.Sign(sighash, key)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign authorization: %v", err)
	}

	var sig Signature
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])

	// Convert the V value of the signature if necessary (0/1 -> 27/28)
	sig.V = raw[64]
	if sig.V == 0 || sig.V == 1 {
		sig.V += 27
	}

	return sig, nil
}

// RecoverSigner recovers the address that produced the signature over the
// authorization under the given domain.
func RecoverSigner(d types.EIP712Domain, a Authorization, sig Signature) (common.Address, error) {

	sighash, err := Digest(d, a)
	if err != nil {
		return common.Address{}, err
	}

	// Reassemble the 65-byte signature with a 0/1 recovery id
	raw := make([]byte, 65)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = sig.V
	if raw[64] == 27 || raw[64] == 28 {
		raw[64] -= 27
	}

	// Recover the public key
	pubkey, err := crypto.Ecrecover(sighash, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %v", err)
	}

	// Unmarshal the public key
	recovered, err := crypto.UnmarshalPubkey(pubkey)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unmarshal public key: %v", err)
	}

	return crypto.PubkeyToAddress(*recovered), nil
}

// NewNonce returns a fresh cryptographically random nonce. Uniqueness of
// this value alone is what prevents authorization replay, so it is never
// derived from the payer, payee, or amount.
func NewNonce() ([NonceLength]byte, error) {
	var nonce [NonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("failed to generate nonce: %v", err)
	}
	return nonce, nil
}

// NonceHex renders a nonce in the 0x-prefixed hex wire form.
func NonceHex(nonce [NonceLength]byte) string {
	return "0x" + hex.EncodeToString(nonce[:])
}
