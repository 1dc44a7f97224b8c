package dpopserver

import (
	"errors"
	"fmt"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
)

var (
	// ErrInvalidJTI indicates the JTI is empty or otherwise invalid.
	ErrInvalidJTI = errors.New("invalid jti: must be non-empty")

	// ErrJTITooLong indicates the JTI exceeds the maximum allowed length.
	ErrJTITooLong = errors.New("jti too long: maximum 1024 bytes")

	// ErrCacheFull indicates the cache has reached its maximum entry count.
	ErrCacheFull = errors.New("jti cache full: maximum entries reached")
)

// ProofError is a proof validation failure with its wire error code.
type ProofError struct {
	Code   string
	Detail string

	// Claim names the payload claim that failed, when one did.
	Claim string
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func errInvalidProof(format string, args ...any) *ProofError {
	return &ProofError{Code: dpop.CodeInvalidProof, Detail: fmt.Sprintf(format, args...)}
}

func errUseNonce() *ProofError {
	return &ProofError{Code: dpop.CodeUseNonce, Detail: "authorization server requires nonce in DPoP proof"}
}
