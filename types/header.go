package types

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// PaymentHeader is the request header carrying the base64 JSON proof of
// payment.
const PaymentHeader = "X-PAYMENT"

// ErrUnsupportedVersion is returned when the payment header carries an
// unknown x402 version. Unknown versions are rejected outright, never
// best-effort parsed.
var ErrUnsupportedVersion = errors.New("unsupported x402 version")

// EncodePaymentHeader serializes a payment payload into the X-PAYMENT
// header value.
func EncodePaymentHeader(p PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader parses an X-PAYMENT header value. The version field
// is the schema discriminant and is validated before anything else is
// looked at.
func DecodePaymentHeader(value string) (PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to decode payment header: %v", err)
	}

	// Probe the version discriminant first so unknown versions are
	// rejected before the rest of the payload is interpreted.
	var version struct {
		X402Version X402Version `json:"x402Version"`
	}
	if err := json.Unmarshal(raw, &version); err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to unmarshal payment header: %v", err)
	}
	if version.X402Version != X402Version1 {
		return PaymentPayload{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version.X402Version)
	}

	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to unmarshal payment payload: %v", err)
	}
	return p, nil
}
