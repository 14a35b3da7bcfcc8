package server

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentfi/x402-credit-go/creditoracle"
	"github.com/agentfi/x402-credit-go/noncestore"
	"github.com/agentfi/x402-credit-go/types"
	"github.com/agentfi/x402-credit-go/x402"
)

var (
	testPayTo = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testAsset = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
)

// newTestOracle serves a canned assessment for any subject.
func newTestOracle(t *testing.T) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := r.URL.Path[len("/score/"):]
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(creditoracle.Assessment{
			Subject:    subject,
			Score:      722,
			Tier:       "B",
			MaxLoan:    "250000000",
			AssessedAt: time.Now().UTC(),
		})
	}))
	t.Cleanup(backend.Close)
	return backend
}

type serverOverride func(*Config)

// newTestServer builds a resource server in signature-only mode by
// default, backed by the given nonce store and a canned oracle.
func newTestServer(t *testing.T, store noncestore.Store, ledger *x402.Ledger, overrides ...serverOverride) *httptest.Server {
	t.Helper()

	cfg := Config{
		PayTo:                 testPayTo,
		Asset:                 testAsset,
		AssetName:             "USDC",
		AssetVersion:          "2",
		AssetDecimals:         6,
		Network:               types.NetworkBaseSepolia,
		ChainID:               84532,
		Price:                 big.NewInt(1000000),
		MaxTimeoutSeconds:     300,
		SignatureOnlyFallback: true,
	}
	for _, o := range overrides {
		o(&cfg)
	}

	oracle := creditoracle.New(newTestOracle(t).URL, time.Minute, zap.NewNop())
	srv := New(cfg, store, ledger, oracle, zap.NewNop())

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

// fetchChallenge requests the resource unpaid and decodes the 402 body.
func fetchChallenge(t *testing.T, ts *httptest.Server, path string) types.PaymentRequirement {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	var challenge types.PaymentRequired
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&challenge))
	require.Equal(t, types.X402Version1, challenge.X402Version)
	require.Len(t, challenge.Accepts, 1)
	return challenge.Accepts[0]
}

// payloadMutation alters the wire payload after signing, for tamper and
// mismatch scenarios.
type payloadMutation func(*types.ExactEvmPayload)

func withValue(value string) payloadMutation {
	return func(p *types.ExactEvmPayload) { p.Value = value }
}

// signedHeader produces an X-PAYMENT header satisfying the requirement,
// signed with the key under the requirement's embedded domain.
func signedHeader(t *testing.T, r types.PaymentRequirement, key *ecdsa.PrivateKey, mutations ...payloadMutation) string {
	t.Helper()

	value := new(big.Int)
	_, ok := value.SetString(r.MaxAmountRequired, 10)
	require.True(t, ok)

	validAfter, err := strconv.ParseInt(r.Extra.ValidAfter, 10, 64)
	require.NoError(t, err)
	validBefore, err := strconv.ParseInt(r.Extra.ValidBefore, 10, 64)
	require.NoError(t, err)

	nonce, err := x402.NewNonce()
	require.NoError(t, err)

	from := crypto.PubkeyToAddress(key.PublicKey)
	auth := x402.Authorization{
		From:        from,
		To:          common.HexToAddress(r.PayTo),
		Value:       value,
		ValidAfter:  big.NewInt(validAfter),
		ValidBefore: big.NewInt(validBefore),
		Nonce:       nonce,
	}

	sig, err := x402.Sign(r.Extra.EIP712Domain, auth, key)
	require.NoError(t, err)

	payload := types.ExactEvmPayload{
		From:        from.Hex(),
		To:          auth.To.Hex(),
		Value:       value.String(),
		ValidAfter:  r.Extra.ValidAfter,
		ValidBefore: r.Extra.ValidBefore,
		Nonce:       x402.NonceHex(nonce),
		V:           sig.V,
		R:           "0x" + hex.EncodeToString(sig.R[:]),
		S:           "0x" + hex.EncodeToString(sig.S[:]),
	}
	for _, m := range mutations {
		m(&payload)
	}

	header, err := types.EncodePaymentHeader(types.PaymentPayload{
		X402Version: types.X402Version1,
		Scheme:      types.SchemeExact,
		Network:     r.Network,
		Payload:     payload,
	})
	require.NoError(t, err)
	return header
}

// payAndFetch sends the request with the proof header attached.
func payAndFetch(t *testing.T, ts *httptest.Server, path, header string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set(types.PaymentHeader, header)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// decodeRejection reads a 402 rejection body.
func decodeRejection(t *testing.T, resp *http.Response) types.Rejection {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	var rejection types.Rejection
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejection))
	return rejection
}

// customWindowHeader signs with an explicit validity window instead of
// the one the server advertised.
func customWindowHeader(t *testing.T, r types.PaymentRequirement, key *ecdsa.PrivateKey, validAfter, validBefore int64) string {
	t.Helper()
	r.Extra.ValidAfter = fmt.Sprintf("%d", validAfter)
	r.Extra.ValidBefore = fmt.Sprintf("%d", validBefore)
	return signedHeader(t, r, key)
}
