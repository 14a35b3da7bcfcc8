package types

// PaymentRequirement describes one acceptable way to pay for a resource.
// The embedded EIP-712 domain is authoritative: clients must sign against
// it verbatim rather than against any locally configured domain.
type PaymentRequirement struct {
	Scheme            Scheme  `json:"scheme"`
	Network           Network `json:"network"`
	MaxAmountRequired string  `json:"maxAmountRequired"`
	Resource          string  `json:"resource"`
	Description       string  `json:"description"`
	PayTo             string  `json:"payTo"`
	Asset             string  `json:"asset"`
	MaxTimeoutSeconds int64   `json:"maxTimeoutSeconds"`
	Extra             Extra   `json:"extra"`
}

// Extra carries the asset-specific parameters of a payment requirement.
type Extra struct {
	Decimals     int          `json:"decimals"`
	ValidAfter   string       `json:"validAfter"`
	ValidBefore  string       `json:"validBefore"`
	EIP712Domain EIP712Domain `json:"eip712Domain"`
}

// EIP712Domain is the typed-data domain the authorization signature is
// scoped to.
type EIP712Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// IsZero reports whether the domain was omitted from the requirement.
func (d EIP712Domain) IsZero() bool {
	return d.Name == "" && d.Version == "" && d.ChainID == 0 && d.VerifyingContract == ""
}

// PaymentRequired is the body of a 402 challenge response.
type PaymentRequired struct {
	X402Version X402Version          `json:"x402Version"`
	Error       string               `json:"error"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// PaymentPayload is the proof of payment carried in the X-PAYMENT header.
type PaymentPayload struct {
	X402Version X402Version     `json:"x402Version"`
	Scheme      Scheme          `json:"scheme"`
	Network     Network         `json:"network"`
	Payload     ExactEvmPayload `json:"payload"`
}

// ExactEvmPayload is the signed transfer authorization for the exact
// scheme. Numeric fields are decimal strings to avoid precision loss.
type ExactEvmPayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	V           uint8  `json:"v"`
	R           string `json:"r"`
	S           string `json:"s"`
}

// Rejection is the body of a 402 response to an invalid payment. X402
// restates a fresh requirement when a corrected retry is possible.
type Rejection struct {
	Error  string              `json:"error"`
	Reason InvalidReason       `json:"reason"`
	X402   *PaymentRequirement `json:"x402,omitempty"`
}
