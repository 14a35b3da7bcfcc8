// Package client implements the paying side of the x402 protocol: it
// wraps ordinary HTTP requests, intercepts 402 challenges, signs the
// requested transfer authorization, and retries with proof of payment.
package client

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/agentfi/x402-credit-go/types"
	"github.com/agentfi/x402-credit-go/x402"
)

// ErrPaymentRetriesExceeded is returned when the server keeps answering
// 402 after the retry budget is spent.
var ErrPaymentRetriesExceeded = errors.New("payment retries exceeded")

// ErrNoMatchingRequirement is returned when no advertised requirement
// uses a scheme and network this client can satisfy.
var ErrNoMatchingRequirement = errors.New("no supported payment requirement")

// ErrMalformedChallenge is returned when a 402 body is missing required
// fields. This is a protocol violation by the server, not something a
// retry can fix.
var ErrMalformedChallenge = errors.New("malformed payment challenge")

const defaultMaxRetries = 2

// Client transparently satisfies x402 payment challenges on outbound
// requests and tracks the cumulative amount it has authorized.
type Client struct {
	http       *http.Client
	key        *ecdsa.PrivateKey
	from       common.Address
	maxRetries int

	// domains maps networks to locally known signing domains, used only
	// when a server omits the domain from its requirement.
	domains map[types.Network]types.EIP712Domain

	mu    sync.Mutex
	total *big.Int

	log *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMaxRetries bounds how many payment attempts follow a 402.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithNetworkDomain registers a fallback signing domain for a network.
// The domain embedded in a server's requirement always wins over this.
func WithNetworkDomain(network types.Network, domain types.EIP712Domain) Option {
	return func(c *Client) { c.domains[network] = domain }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a paying client signing with the given key.
func New(key *ecdsa.PrivateKey, opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		key:        key,
		from:       crypto.PubkeyToAddress(key.PublicKey),
		maxRetries: defaultMaxRetries,
		domains:    make(map[types.Network]types.EIP712Domain),
		total:      new(big.Int),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the payer address derived from the signing key.
func (c *Client) Address() common.Address {
	return c.from
}

// TotalAuthorized returns the cumulative value authorized across the
// client's lifetime, for callers enforcing spend budgets.
func (c *Client) TotalAuthorized() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.total)
}

func (c *Client) addAuthorized(value *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total.Add(c.total, value)
}

// FetchWithPayment sends the request and transparently handles the
// payment round-trip. Non-402 responses pass through unchanged,
// including hard errors.
func (c *Client) FetchWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {

	if req.Body != nil && req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}

	proof := ""
	for attempt := 0; ; attempt++ {

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptReq, err := cloneRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		if proof != "" {
			attemptReq.Header.Set(types.PaymentHeader, proof)
		}

		resp, err := c.http.Do(attemptReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusPaymentRequired {
			return resp, nil
		}

		// Retry budget spent: fail loudly instead of looping.
		if attempt >= c.maxRetries {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: server still responded 402 after %d attempts", ErrPaymentRetriesExceeded, attempt+1)
		}

		requirement, err := parseChallenge(resp)
		if err != nil {
			return nil, err
		}

		proof, err = c.payFor(requirement)
		if err != nil {
			return nil, err
		}

		c.log.Debug("retrying with payment attached",
			zap.String("resource", requirement.Resource),
			zap.String("value", requirement.MaxAmountRequired),
			zap.Int("attempt", attempt+1),
		)
	}
}

// parseChallenge decodes a 402 body and selects the first requirement
// with a scheme this client supports.
func parseChallenge(resp *http.Response) (types.PaymentRequirement, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.PaymentRequirement{}, fmt.Errorf("%w: unreadable body: %v", ErrMalformedChallenge, err)
	}

	var challenge types.PaymentRequired
	if err := json.Unmarshal(body, &challenge); err != nil {
		return types.PaymentRequirement{}, fmt.Errorf("%w: %v", ErrMalformedChallenge, err)
	}
	// A version this client does not speak is the server violating the
	// protocol contract, not a requirement mismatch.
	if challenge.X402Version != types.X402Version1 {
		return types.PaymentRequirement{}, fmt.Errorf("%w: unsupported x402 version %d", ErrMalformedChallenge, challenge.X402Version)
	}
	if len(challenge.Accepts) == 0 {
		return types.PaymentRequirement{}, fmt.Errorf("%w: challenge lists no payment requirements", ErrMalformedChallenge)
	}

	for _, r := range challenge.Accepts {
		if r.Scheme == types.SchemeExact {
			return r, nil
		}
	}
	return types.PaymentRequirement{}, fmt.Errorf("%w: no requirement uses the exact scheme", ErrNoMatchingRequirement)
}

// payFor constructs, signs, and encodes the authorization satisfying the
// requirement, and records the amount against the running total.
func (c *Client) payFor(r types.PaymentRequirement) (string, error) {

	value := new(big.Int)
	if _, ok := value.SetString(r.MaxAmountRequired, 10); !ok {
		return "", fmt.Errorf("%w: bad maxAmountRequired %q", ErrMalformedChallenge, r.MaxAmountRequired)
	}
	if !common.IsHexAddress(r.PayTo) {
		return "", fmt.Errorf("%w: bad payTo address %q", ErrMalformedChallenge, r.PayTo)
	}

	validAfter, validBefore, err := validityWindow(r)
	if err != nil {
		return "", err
	}

	// The server's embedded domain is authoritative; a locally guessed
	// domain that disagrees with it signs something that verifies
	// against nothing.
	domain := r.Extra.EIP712Domain
	if domain.IsZero() {
		fallback, ok := c.domains[r.Network]
		if !ok {
			return "", fmt.Errorf("%w: requirement omits the signing domain and no fallback is known for network %q", ErrNoMatchingRequirement, r.Network)
		}
		domain = fallback
	}

	// A fresh nonce on every attempt: a partially processed earlier
	// attempt may already have consumed the previous one.
	nonce, err := x402.NewNonce()
	if err != nil {
		return "", err
	}

	auth := x402.Authorization{
		From:        c.from,
		To:          common.HexToAddress(r.PayTo),
		Value:       value,
		ValidAfter:  big.NewInt(validAfter),
		ValidBefore: big.NewInt(validBefore),
		Nonce:       nonce,
	}

	sig, err := x402.Sign(domain, auth, c.key)
	if err != nil {
		return "", err
	}

	payload := types.PaymentPayload{
		X402Version: types.X402Version1,
		Scheme:      types.SchemeExact,
		Network:     r.Network,
		Payload: types.ExactEvmPayload{
			From:        c.from.Hex(),
			To:          auth.To.Hex(),
			Value:       value.String(),
			ValidAfter:  strconv.FormatInt(validAfter, 10),
			ValidBefore: strconv.FormatInt(validBefore, 10),
			Nonce:       x402.NonceHex(nonce),
			V:           sig.V,
			R:           "0x" + hex.EncodeToString(sig.R[:]),
			S:           "0x" + hex.EncodeToString(sig.S[:]),
		},
	}

	proof, err := types.EncodePaymentHeader(payload)
	if err != nil {
		return "", err
	}

	c.addAuthorized(value)
	return proof, nil
}

// validityWindow takes the window from the requirement's extra bag,
// defaulting around the current time when the server omitted it.
func validityWindow(r types.PaymentRequirement) (int64, int64, error) {

	now := time.Now()
	validAfter := now.Add(-60 * time.Second).Unix()

	timeout := r.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}
	validBefore := now.Add(time.Duration(timeout) * time.Second).Unix()

	if r.Extra.ValidAfter != "" {
		v, err := strconv.ParseInt(r.Extra.ValidAfter, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: bad validAfter %q", ErrMalformedChallenge, r.Extra.ValidAfter)
		}
		validAfter = v
	}
	if r.Extra.ValidBefore != "" {
		v, err := strconv.ParseInt(r.Extra.ValidBefore, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: bad validBefore %q", ErrMalformedChallenge, r.Extra.ValidBefore)
		}
		validBefore = v
	}

	return validAfter, validBefore, nil
}

// cloneRequest duplicates the original request for one attempt,
// rehydrating the body when present.
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %v", err)
		}
		clone.Body = body
	}
	return clone, nil
}
