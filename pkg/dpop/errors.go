package dpop

// RFC 9449 and RFC 6750 error codes.
const (
	CodeInvalidProof      = "invalid_dpop_proof"
	CodeUseNonce          = "use_dpop_nonce"
	CodeInvalidToken      = "invalid_token"
	CodeInvalidRequest    = "invalid_request"
	CodeInsufficientScope = "insufficient_scope"
)
