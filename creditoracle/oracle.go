// Package creditoracle fetches credit assessments from the upstream
// scoring service. This is the payload gated behind the payment protocol,
// not part of the protocol itself.
package creditoracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/agentfi/x402-credit-go/utils"
)

// Assessment is the credit report returned once a payment clears.
type Assessment struct {
	Subject    string    `json:"subject"`
	Score      int       `json:"score"`
	Tier       string    `json:"tier"`
	MaxLoan    string    `json:"maxLoan"`
	AssessedAt time.Time `json:"assessedAt"`
}

// Client caches assessments for a short window so a paid re-fetch of the
// same subject does not hit the upstream source twice.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.Cache[string, Assessment]
	ttl     time.Duration
	log     *zap.Logger
}

// New creates an oracle client for the given base URL.
func New(baseURL string, ttl time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   cache.New[string, Assessment](),
		ttl:     ttl,
		log:     log,
	}
}

// Assessment returns the credit assessment for the subject, consulting
// the cache first.
func (c *Client) Assessment(ctx context.Context, subject string) (Assessment, error) {

	if a, ok := c.cache.Get(subject); ok {
		return a, nil
	}

	var a Assessment
	err := retry.Do(func() error {
		fetched, err := c.fetch(ctx, subject)
		if err != nil {
			return err
		}
		a = fetched
		return nil
	}, retry.Attempts(3), retry.Delay(100*time.Millisecond), retry.Context(ctx),
		// Surface the final attempt's error as-is so callers can still
		// inspect its status instead of a flattened multi-error.
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// A missing subject is definitive, only transport-level
			// failures are worth retrying.
			var se utils.StatusError
			return !(errors.As(err, &se) && se.Status() == http.StatusNotFound)
		}))
	if err != nil {
		return Assessment{}, err
	}

	c.cache.Set(subject, a, cache.WithExpiration(c.ttl))
	return a, nil
}

func (c *Client) fetch(ctx context.Context, subject string) (Assessment, error) {

	endpoint := fmt.Sprintf("%s/score/%s", c.baseURL, url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to build oracle request: %v", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Assessment{}, utils.NewStatusError(
			fmt.Errorf("failed to reach credit oracle: %v", err),
			http.StatusBadGateway,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Assessment{}, utils.NewStatusError(
			fmt.Errorf("no credit record for subject %s", subject),
			http.StatusNotFound,
		)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warn("credit oracle returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.String("subject", subject),
			zap.ByteString("body", body),
		)
		return Assessment{}, utils.NewStatusError(
			fmt.Errorf("credit oracle returned status %d", resp.StatusCode),
			http.StatusBadGateway,
		)
	}

	var a Assessment
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return Assessment{}, fmt.Errorf("failed to decode oracle response: %v", err)
	}
	return a, nil
}
