// Package server implements the payment-gated resource server: it issues
// x402 challenges for unpaid requests, verifies proofs of payment, and
// serves the gated credit assessment once a payment clears.
package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/agentfi/x402-credit-go/creditoracle"
	"github.com/agentfi/x402-credit-go/noncestore"
	"github.com/agentfi/x402-credit-go/pkg/metrics"
	"github.com/agentfi/x402-credit-go/types"
	"github.com/agentfi/x402-credit-go/utils"
	"github.com/agentfi/x402-credit-go/x402"
)

// Config holds the payment parameters the server advertises and verifies
// against.
type Config struct {
	PayTo         common.Address
	Asset         common.Address
	AssetName     string
	AssetVersion  string
	AssetDecimals int
	Network       types.Network
	ChainID       int64

	// Price is the amount required per request in base asset units.
	Price *big.Int

	MaxTimeoutSeconds int64

	// SignatureOnlyFallback permits accepting a payment on a local
	// signature check when on-chain settlement is unavailable.
	SignatureOnlyFallback bool
}

// Server gates credit assessments behind x402 payments.
type Server struct {
	cfg    Config
	store  noncestore.Store
	ledger *x402.Ledger // nil when no RPC is configured
	oracle *creditoracle.Client
	log    *zap.Logger
}

// New creates a resource server.
func New(cfg Config, store noncestore.Store, ledger *x402.Ledger, oracle *creditoracle.Client, log *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		oracle: oracle,
		log:    log,
	}
}

// Routes returns the HTTP handler for the server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/credit/", s.handleCredit)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {

	subject := strings.TrimPrefix(r.URL.Path, "/credit/")
	if subject == "" || strings.Contains(subject, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
		return
	}

	// No proof header: issue the challenge and stop.
	header := r.Header.Get(types.PaymentHeader)
	if header == "" {
		s.writeChallenge(w, r.URL.Path, "payment required")
		return
	}

	payload, err := types.DecodePaymentHeader(header)
	if err != nil {
		reason := types.InvalidReasonInvalidPaymentPayload
		if errors.Is(err, types.ErrUnsupportedVersion) {
			reason = types.InvalidReasonInvalidX402Version
		}
		s.writeRejection(w, r.URL.Path, reason)
		return
	}

	v, err := s.verifyPayment(r.Context(), r.URL.Path, payload)
	if err != nil {
		s.log.Error("payment verification failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if v.reason != "" {
		s.writeRejection(w, r.URL.Path, v.reason)
		return
	}

	// Payment accepted: fetch and serve the gated payload. A backend
	// failure here is never reported as a payment failure.
	assessment, err := s.oracle.Assessment(r.Context(), subject)
	if err != nil {
		s.log.Error("credit assessment fetch failed", zap.String("subject", subject), zap.Error(err))
		status := http.StatusBadGateway
		var se utils.StatusError
		if errors.As(err, &se) {
			status = se.Status()
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// writeChallenge responds 402 with the machine-readable payment
// requirements for the resource.
func (s *Server) writeChallenge(w http.ResponseWriter, resource, msg string) {
	metrics.ChallengeIssued()
	writeJSON(w, http.StatusPaymentRequired, types.PaymentRequired{
		X402Version: types.X402Version1,
		Error:       msg,
		Accepts:     []types.PaymentRequirement{s.requirement(resource)},
	})
}

// writeRejection responds 402 with the rejection reason and a fresh
// requirement so a well-behaved client can correct and retry.
func (s *Server) writeRejection(w http.ResponseWriter, resource string, reason types.InvalidReason) {
	metrics.PaymentRejected(string(reason))
	s.log.Info("payment rejected",
		zap.String("resource", resource),
		zap.String("reason", string(reason)),
	)
	requirement := s.requirement(resource)
	writeJSON(w, http.StatusPaymentRequired, types.Rejection{
		Error:  "invalid payment",
		Reason: reason,
		X402:   &requirement,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}
