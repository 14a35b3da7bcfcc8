package types

// X402Version is the x402 version enum.
type X402Version int

const (
	X402Version1 X402Version = 1
)

// Scheme is the scheme enum.
type Scheme string

const (
	SchemeExact Scheme = "exact"
)

// Network is the network enum.
type Network string

const (
	NetworkSepolia     Network = "sepolia"
	NetworkBaseSepolia Network = "base-sepolia"
)

// InvalidReason is the machine-readable rejection reason enum. Every
// verification step that can fail maps to exactly one reason so a paying
// client can tell what to correct before retrying.
type InvalidReason string

const (
	InvalidReasonInvalidX402Version                    InvalidReason = "invalid_x402_version"
	InvalidReasonInvalidSchemeMismatch                 InvalidReason = "invalid_scheme_mismatch"
	InvalidReasonInvalidNetworkMismatch                InvalidReason = "invalid_network_mismatch"
	InvalidReasonInvalidPaymentPayload                 InvalidReason = "invalid_payment_payload"
	InvalidReasonInvalidAuthorizationFromAddress       InvalidReason = "invalid_authorization_from_address"
	InvalidReasonInvalidAuthorizationToAddress         InvalidReason = "invalid_authorization_to_address"
	InvalidReasonInvalidAuthorizationToAddressMismatch InvalidReason = "invalid_authorization_to_address_mismatch"
	InvalidReasonInvalidAuthorizationValue             InvalidReason = "invalid_authorization_value"
	InvalidReasonInvalidAuthorizationValueNegative     InvalidReason = "invalid_authorization_value_negative"
	InvalidReasonInsufficientAuthorizationValue        InvalidReason = "insufficient_authorization_value"
	InvalidReasonInvalidAuthorizationValidAfter        InvalidReason = "invalid_authorization_valid_after"
	InvalidReasonInvalidAuthorizationValidBefore       InvalidReason = "invalid_authorization_valid_before"
	InvalidReasonInvalidAuthorizationTimeWindow        InvalidReason = "invalid_authorization_time_window"
	InvalidReasonAuthorizationNotYetValid              InvalidReason = "authorization_not_yet_valid"
	InvalidReasonAuthorizationExpired                  InvalidReason = "authorization_expired"
	InvalidReasonInvalidAuthorizationNonce             InvalidReason = "invalid_authorization_nonce"
	InvalidReasonInvalidAuthorizationNonceLength       InvalidReason = "invalid_authorization_nonce_length"
	InvalidReasonAuthorizationNonceUsed                InvalidReason = "authorization_nonce_used"
	InvalidReasonInvalidAuthorizationSignature         InvalidReason = "invalid_authorization_signature"
	InvalidReasonInvalidAuthorizationSenderMismatch    InvalidReason = "invalid_authorization_sender_mismatch"
	InvalidReasonInsufficientFunds                     InvalidReason = "insufficient_funds"
	InvalidReasonSettlementFailed                      InvalidReason = "settlement_failed"
)
