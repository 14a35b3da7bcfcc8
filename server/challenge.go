package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentfi/x402-credit-go/types"
)

// clockSkewGrace backdates validAfter so a client whose clock runs
// slightly ahead of ours still produces an acceptable window.
const clockSkewGrace = 60 * time.Second

// requirement builds a fresh payment requirement for the resource. The
// embedded EIP-712 domain is the one the verifier will check against, so
// clients can sign against it verbatim.
func (s *Server) requirement(resource string) types.PaymentRequirement {

	now := time.Now()
	validAfter := now.Add(-clockSkewGrace).Unix()
	validBefore := now.Add(time.Duration(s.cfg.MaxTimeoutSeconds) * time.Second).Unix()

	amount := decimal.NewFromBigInt(s.cfg.Price, -int32(s.cfg.AssetDecimals))

	return types.PaymentRequirement{
		Scheme:            types.SchemeExact,
		Network:           s.cfg.Network,
		MaxAmountRequired: s.cfg.Price.String(),
		Resource:          resource,
		Description:       fmt.Sprintf("Credit assessment, %s %s per request", amount.String(), s.cfg.AssetName),
		PayTo:             s.cfg.PayTo.Hex(),
		Asset:             s.cfg.Asset.Hex(),
		MaxTimeoutSeconds: s.cfg.MaxTimeoutSeconds,
		Extra: types.Extra{
			Decimals:     s.cfg.AssetDecimals,
			ValidAfter:   strconv.FormatInt(validAfter, 10),
			ValidBefore:  strconv.FormatInt(validBefore, 10),
			EIP712Domain: s.domain(),
		},
	}
}

// domain is the typed-data domain this server advertises and verifies
// against.
func (s *Server) domain() types.EIP712Domain {
	return types.EIP712Domain{
		Name:              s.cfg.AssetName,
		Version:           s.cfg.AssetVersion,
		ChainID:           s.cfg.ChainID,
		VerifyingContract: s.cfg.Asset.Hex(),
	}
}
