package x402

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agentfi/x402-credit-go/types"
)

func testDomain() types.EIP712Domain {
	return types.EIP712Domain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           84532,
		VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func testAuthorization(t *testing.T, from common.Address) Authorization {
	t.Helper()
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}
	now := time.Now().Unix()
	return Authorization{
		From:        from,
		To:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Value:       big.NewInt(1000000),
		ValidAfter:  big.NewInt(now - 60),
		ValidBefore: big.NewInt(now + 300),
		Nonce:       nonce,
	}
}

func TestSignRecoverRoundtrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	auth := testAuthorization(t, from)

	sig, err := Sign(testDomain(), auth, key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if sig.V != 27 && sig.V != 28 {
		t.Errorf("expected recovery id 27 or 28, got %d", sig.V)
	}

	recovered, err := RecoverSigner(testDomain(), auth, sig)
	if err != nil {
		t.Fatalf("failed to recover signer: %v", err)
	}
	if recovered != from {
		t.Errorf("expected recovered signer %s, got %s", from.Hex(), recovered.Hex())
	}
}

func TestTamperedAuthorizationChangesDigest(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	auth := testAuthorization(t, from)

	sig, err := Sign(testDomain(), auth, key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	otherNonce, err := NewNonce()
	if err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(a Authorization) Authorization
	}{
		{
			name: "value",
			mutate: func(a Authorization) Authorization {
				a.Value = big.NewInt(2000000)
				return a
			},
		},
		{
			name: "to",
			mutate: func(a Authorization) Authorization {
				a.To = common.HexToAddress("0x2222222222222222222222222222222222222222")
				return a
			},
		},
		{
			name: "nonce",
			mutate: func(a Authorization) Authorization {
				a.Nonce = otherNonce
				return a
			},
		},
		{
			name: "validBefore",
			mutate: func(a Authorization) Authorization {
				a.ValidBefore = new(big.Int).Add(a.ValidBefore, big.NewInt(1))
				return a
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tampered := tc.mutate(auth)
			recovered, err := RecoverSigner(testDomain(), tampered, sig)
			if err == nil && recovered == from {
				t.Errorf("tampering with %s did not invalidate the signature", tc.name)
			}
		})
	}
}

func TestDomainMismatchFailsRecovery(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	auth := testAuthorization(t, from)

	sig, err := Sign(testDomain(), auth, key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	otherDomain := testDomain()
	otherDomain.ChainID = 11155111

	recovered, err := RecoverSigner(otherDomain, auth, sig)
	if err == nil && recovered == from {
		t.Error("signature verified against a different domain")
	}
}

func TestParseNonce(t *testing.T) {
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}

	parsed, err := ParseNonce(NonceHex(nonce))
	if err != nil {
		t.Fatalf("failed to parse nonce: %v", err)
	}
	if parsed != nonce {
		t.Error("parsed nonce does not match original")
	}

	if _, err := ParseNonce("0xdeadbeef"); err == nil {
		t.Error("expected error for short nonce")
	}
	if _, err := ParseNonce("0xzz"); err == nil {
		t.Error("expected error for non-hex nonce")
	}
}

func TestNewNonceUnique(t *testing.T) {
	a, err := NewNonce()
	if err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}
	b, err := NewNonce()
	if err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}
	if a == b {
		t.Error("two fresh nonces are identical")
	}
}
