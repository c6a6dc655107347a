// Package ucp defines the Universal Commerce Protocol wire surface: the
// discovery profile served at /.well-known/ucp, the checkout-session
// request/response shapes, product search, and the base64 discipline
// shared by every binary field on the wire.
package ucp

import "time"

// Version is the UCP protocol version date advertised in discovery.
const Version = "2026-01-11"

// Service and capability names.
const (
	// ShoppingService is the UCP service key under ucp.services.
	ShoppingService = "dev.ucp.shopping"

	// CapabilityProductSearch names the product search capability.
	CapabilityProductSearch = "dev.ucp.shopping.product_search"

	// CapabilityCheckout names the checkout capability.
	CapabilityCheckout = "dev.ucp.shopping.checkout"

	// ExtensionAP2Mandate is the checkout extension carrying AP2 mandates.
	ExtensionAP2Mandate = "ap2_mandate"

	// ExtensionDiscount is the checkout extension for promocode discounts.
	ExtensionDiscount = "discount"
)

// Session statuses. Terminal sessions are immutable.
const (
	StatusIncomplete         = "incomplete"
	StatusReadyForComplete   = "ready_for_complete"
	StatusRequiresEscalation = "requires_escalation"
	StatusComplete           = "complete"
	StatusFailed             = "failed"
)

// TerminalStatus reports whether a session status admits no further
// transitions.
func TerminalStatus(status string) bool {
	return status == StatusComplete || status == StatusFailed
}

// Complete response statuses (the outer envelope, distinct from session
// status).
const (
	CompleteStatusSuccess     = "success"
	CompleteStatusOTPRequired = "otp_required"
	CompleteStatusFailed      = "failed"
)

// Timing defaults.
const (
	// DefaultSessionExpiry is the inactivity window after which a
	// ready_for_complete or requires_escalation session fails with
	// SESSION_EXPIRED.
	DefaultSessionExpiry = 5 * time.Minute

	// ChallengeTTL is the lifetime of a step-up challenge.
	ChallengeTTL = 5 * time.Minute

	// MaxChallengeAttempts is the number of OTP submissions allowed
	// before the session fails with CHALLENGE_EXHAUSTED.
	MaxChallengeAttempts = 3

	// DefaultOutboundTimeout is the deadline applied to every
	// shopper-side outbound call.
	DefaultOutboundTimeout = 30 * time.Second
)

// AmountTolerance is the epsilon used when comparing session totals that
// arrive as JSON numbers.
const AmountTolerance = 1e-6
