package errors

// ErrorCode represents a machine-readable error kind surfaced to clients in
// the `error_kind` field and inside payment receipts.
type ErrorCode string

// Request validation and lookup errors
const (
	// Malformed request body or field values
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Unknown session id, mandate id, product, or user
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Operation not permitted in the session's current state
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
)

// Mandate validation errors
const (
	// Mandate totals, currency, or payer email disagree with the session
	ErrCodeMandateSessionMismatch ErrorCode = "MANDATE_SESSION_MISMATCH"

	// Signature verification of user_authorization failed
	ErrCodeInvalidAuthorization ErrorCode = "INVALID_AUTHORIZATION"

	// Token/cryptogram/last-four shape violations
	ErrCodeMalformedMandate ErrorCode = "MALFORMED_MANDATE"

	// Mandate id already attached to a different session
	ErrCodeMandateReuse ErrorCode = "MANDATE_REUSE"
)

// Step-up challenge errors
const (
	ErrCodeChallengeExpired   ErrorCode = "CHALLENGE_EXPIRED"
	ErrCodeChallengeExhausted ErrorCode = "CHALLENGE_EXHAUSTED"
	ErrCodeInvalidOTP         ErrorCode = "INVALID_OTP"
)

// Session lifecycle errors
const (
	// Session exceeded the inactivity window before completion
	ErrCodeSessionExpired ErrorCode = "SESSION_EXPIRED"
)

// External collaborator errors
const (
	// Signer, catalog, or network adapter transport failure
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
)

// Internal/system errors
const (
	// Uncategorized; logged with correlation id
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// IsRetryable returns whether an error code represents a retryable error.
// Mandate-integrity and authorization failures are terminal by design; only
// transport-level upstream failures are worth retrying.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeUpstreamUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - client validation errors
	case ErrCodeInvalidInput,
		ErrCodeMalformedMandate,
		ErrCodeMandateSessionMismatch:
		return 400

	// 401 Unauthorized - signature/code verification failures
	case ErrCodeInvalidAuthorization,
		ErrCodeInvalidOTP:
		return 401

	// 404 Not Found
	case ErrCodeNotFound:
		return 404

	// 409 Conflict - state machine and challenge lifecycle violations
	case ErrCodeInvalidState,
		ErrCodeMandateReuse,
		ErrCodeChallengeExpired,
		ErrCodeChallengeExhausted,
		ErrCodeSessionExpired:
		return 409

	// 502 Bad Gateway - external collaborator failures
	case ErrCodeUpstreamUnavailable:
		return 502

	// 500 Internal Server Error
	default:
		return 500
	}
}

// IsTerminal reports whether this error kind ends the session's life: clients
// must open a new checkout session rather than retry the same one.
func (e ErrorCode) IsTerminal() bool {
	switch e {
	case ErrCodeInvalidAuthorization,
		ErrCodeMalformedMandate,
		ErrCodeChallengeExpired,
		ErrCodeChallengeExhausted,
		ErrCodeSessionExpired:
		return true
	default:
		return false
	}
}
