package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/agentfi/x402-credit-go/noncestore"
	"github.com/agentfi/x402-credit-go/pkg/metrics"
	"github.com/agentfi/x402-credit-go/types"
	"github.com/agentfi/x402-credit-go/x402"
)

// verdict is the outcome of the verification pipeline. An empty reason
// means the payment was accepted; settled distinguishes real on-chain
// settlement from the signature-only fallback.
type verdict struct {
	reason  types.InvalidReason
	settled bool
}

func reject(reason types.InvalidReason) verdict {
	return verdict{reason: reason}
}

// verifyPayment runs the full fail-closed validation sequence over a
// decoded payment payload. It returns an error only for infrastructure
// failures; every protocol violation maps to a reason code instead.
func (s *Server) verifyPayment(ctx context.Context, resource string, p types.PaymentPayload) (verdict, error) {

	now := time.Now()

	// Verify the scheme matches what this server advertises
	if p.Scheme != types.SchemeExact {
		return reject(types.InvalidReasonInvalidSchemeMismatch), nil
	}

	// Verify the network matches what this server advertises
	if p.Network != s.cfg.Network {
		return reject(types.InvalidReasonInvalidNetworkMismatch), nil
	}

	// Verify authorization from is a valid address
	if !common.IsHexAddress(p.Payload.From) {
		return reject(types.InvalidReasonInvalidAuthorizationFromAddress), nil
	}
	fromAddress := common.HexToAddress(p.Payload.From)

	// Verify authorization to is a valid address
	if !common.IsHexAddress(p.Payload.To) {
		return reject(types.InvalidReasonInvalidAuthorizationToAddress), nil
	}

	// Verify the authorization to address matches the configured pay to
	// address (parsing makes the compare case-insensitive)
	if common.HexToAddress(p.Payload.To) != s.cfg.PayTo {
		return reject(types.InvalidReasonInvalidAuthorizationToAddressMismatch), nil
	}

	// Convert the authorization value from string to big.Int
	authValue := new(big.Int)
	if _, ok := authValue.SetString(p.Payload.Value, 10); !ok {
		return reject(types.InvalidReasonInvalidAuthorizationValue), nil
	}

	// Verify the authorization value is non-negative
	if authValue.Sign() < 0 {
		return reject(types.InvalidReasonInvalidAuthorizationValueNegative), nil
	}

	// Verify the authorization value covers the advertised price
	if authValue.Cmp(s.cfg.Price) < 0 {
		return reject(types.InvalidReasonInsufficientAuthorizationValue), nil
	}

	// Convert the authorization valid after to int64
	validAfter, err := strconv.ParseInt(p.Payload.ValidAfter, 10, 64)
	if err != nil {
		return reject(types.InvalidReasonInvalidAuthorizationValidAfter), nil
	}

	// Convert the authorization valid before to int64
	validBefore, err := strconv.ParseInt(p.Payload.ValidBefore, 10, 64)
	if err != nil {
		return reject(types.InvalidReasonInvalidAuthorizationValidBefore), nil
	}

	// Verify the authorization time window is coherent
	if validAfter >= validBefore {
		return reject(types.InvalidReasonInvalidAuthorizationTimeWindow), nil
	}

	// Verify the authorization valid after time is in the past
	if !now.After(time.Unix(validAfter, 0)) {
		return reject(types.InvalidReasonAuthorizationNotYetValid), nil
	}

	// Verify the authorization valid before time is in the future
	if !now.Before(time.Unix(validBefore, 0)) {
		return reject(types.InvalidReasonAuthorizationExpired), nil
	}

	// Decode and validate the nonce
	nonce, err := x402.ParseNonce(p.Payload.Nonce)
	if err != nil {
		if errors.Is(err, x402.ErrNonceLength) {
			return reject(types.InvalidReasonInvalidAuthorizationNonceLength), nil
		}
		return reject(types.InvalidReasonInvalidAuthorizationNonce), nil
	}

	// Local replay check, the fast path
	seen, err := s.store.Seen(ctx, p.Payload.Nonce)
	if err != nil {
		return verdict{}, fmt.Errorf("failed to check nonce store: %v", err)
	}
	if seen {
		metrics.ReplayBlocked()
		return reject(types.InvalidReasonAuthorizationNonceUsed), nil
	}

	auth := x402.Authorization{
		From:        fromAddress,
		To:          s.cfg.PayTo,
		Value:       authValue,
		ValidAfter:  big.NewInt(validAfter),
		ValidBefore: big.NewInt(validBefore),
		Nonce:       nonce,
	}

	// Ledger-side replay check, when the asset supports the query. An
	// unreachable ledger is not a payment rejection: log and move on,
	// the local store and signature check still stand.
	if s.ledger != nil {
		used, err := s.ledger.AuthorizationUsed(ctx, s.cfg.Asset, fromAddress, nonce)
		if err != nil {
			s.log.Warn("ledger used-nonce query failed", zap.Error(err))
		} else if used.Supported && used.Used {
			metrics.ReplayBlocked()
			return reject(types.InvalidReasonAuthorizationNonceUsed), nil
		}
	}

	// Parse the signature components
	sig, reason := parseSignature(p.Payload)
	if reason != "" {
		return reject(reason), nil
	}

	v, err := s.acceptPayment(ctx, auth, sig)
	if err != nil {
		return verdict{}, err
	}
	if v.reason != "" {
		return v, nil
	}

	// Record the nonce before acknowledging success so a concurrent
	// duplicate cannot also pass. The race loser surfaces as a replay.
	if err := s.store.MarkUsed(ctx, p.Payload.Nonce); err != nil {
		if errors.Is(err, noncestore.ErrNonceUsed) {
			metrics.ReplayBlocked()
			return reject(types.InvalidReasonAuthorizationNonceUsed), nil
		}
		return verdict{}, fmt.Errorf("failed to record used nonce: %v", err)
	}

	if v.settled {
		metrics.PaymentSettled()
	} else {
		metrics.PaymentVerifiedSignatureOnly()
		s.log.Warn("payment accepted without settlement",
			zap.String("resource", resource),
			zap.String("from", auth.From.Hex()),
			zap.String("value", auth.Value.String()),
		)
	}

	return v, nil
}

// acceptPayment chooses the verification strategy: settle on-chain when
// credentials are available, otherwise verify the signature locally when
// the fallback is permitted.
func (s *Server) acceptPayment(ctx context.Context, auth x402.Authorization, sig x402.Signature) (verdict, error) {

	if s.ledger != nil && s.ledger.CanSettle() {

		// Preflight the payer's balance so an unfunded authorization is
		// rejected with a precise reason instead of a failed transaction.
		balance, err := s.ledger.BalanceOf(ctx, s.cfg.Asset, auth.From)
		if err != nil {
			s.log.Warn("balance preflight failed", zap.Error(err))
		} else if balance.Cmp(auth.Value) < 0 {
			return reject(types.InvalidReasonInsufficientFunds), nil
		}

		_, err = s.ledger.Settle(ctx, s.cfg.Asset, auth, sig)
		if err == nil {
			return verdict{settled: true}, nil
		}
		if errors.Is(err, x402.ErrGasLimitExceeded) {
			return reject(types.InvalidReasonSettlementFailed), nil
		}
		if !errors.Is(err, x402.ErrSettlementUnsupported) {
			// A real settlement failure, not a missing capability.
			if !s.cfg.SignatureOnlyFallback {
				s.log.Error("settlement failed", zap.Error(err))
				return reject(types.InvalidReasonSettlementFailed), nil
			}
			s.log.Warn("settlement failed, falling back to signature verification", zap.Error(err))
		}
	} else if !s.cfg.SignatureOnlyFallback {
		return reject(types.InvalidReasonSettlementFailed), nil
	}

	// Trust-but-verify: recover the signer from the typed-data digest
	// under the advertised domain. No ledger state changes here.
	signer, err := x402.RecoverSigner(s.domain(), auth, sig)
	if err != nil {
		return reject(types.InvalidReasonInvalidAuthorizationSignature), nil
	}
	if signer != auth.From {
		return reject(types.InvalidReasonInvalidAuthorizationSenderMismatch), nil
	}

	return verdict{settled: false}, nil
}

// parseSignature decodes the r and s components from their hex wire form.
func parseSignature(p types.ExactEvmPayload) (x402.Signature, types.InvalidReason) {

	r, err := hex.DecodeString(strings.TrimPrefix(p.R, "0x"))
	if err != nil || len(r) != 32 {
		return x402.Signature{}, types.InvalidReasonInvalidAuthorizationSignature
	}
	sBytes, err := hex.DecodeString(strings.TrimPrefix(p.S, "0x"))
	if err != nil || len(sBytes) != 32 {
		return x402.Signature{}, types.InvalidReasonInvalidAuthorizationSignature
	}

	var sig x402.Signature
	sig.V = p.V
	copy(sig.R[:], r)
	copy(sig.S[:], sBytes)
	return sig, ""
}
