package observability

import (
	"context"
	"time"
)

// Hook is the base interface for all observability hooks.
// Implementations can emit events to DataDog, New Relic, OpenTelemetry, etc.
type Hook interface {
	// Name returns the hook's identifier for logging/debugging
	Name() string
}

// MandateHook receives events from the AP2 merchant agent.
type MandateHook interface {
	Hook

	// OnMandateAdjudicated is called after the agent decides a mandate:
	// approved, escalated to a step-up challenge, or declined.
	OnMandateAdjudicated(ctx context.Context, event MandateAdjudicatedEvent)
}

// StepUpHook receives events during the OTP challenge lifecycle.
type StepUpHook interface {
	Hook

	// OnChallengeIssued is called when a new OTP challenge is opened.
	OnChallengeIssued(ctx context.Context, event ChallengeIssuedEvent)

	// OnChallengeResolved is called when a challenge ends: verified,
	// wrong code, exhausted, or expired.
	OnChallengeResolved(ctx context.Context, event ChallengeResolvedEvent)
}

// CheckoutHook receives events when checkout sessions reach a terminal
// state.
type CheckoutHook interface {
	Hook

	// OnSessionCompleted is called when a session lands in complete or
	// failed (including inactivity expiry).
	OnSessionCompleted(ctx context.Context, event SessionCompletedEvent)
}

// RequestHook receives events from the request recorder.
type RequestHook interface {
	Hook

	// OnRequestRecorded is called after a protocol request/response pair
	// is captured.
	OnRequestRecorded(ctx context.Context, event RequestRecordedEvent)
}

// ===============================================
// Event Types
// ===============================================

// MandateAdjudicatedEvent is emitted once per ProcessPayment decision.
type MandateAdjudicatedEvent struct {
	Timestamp  time.Time
	MandateID  string
	MerchantID string
	PayerEmail string // already redacted by the emitter
	Outcome    string // "approved", "step_up", "declined"
	ErrorKind  string // set when Outcome == "declined"
	Amount     int64  // minor units
	Currency   string
	RiskDraw   float64
	Duration   time.Duration
}

// ChallengeIssuedEvent is emitted when a step-up challenge is opened.
type ChallengeIssuedEvent struct {
	Timestamp time.Time
	MandateID string
	SentTo    string // already redacted by the emitter
	ExpiresAt time.Time
}

// ChallengeResolvedEvent is emitted when a challenge ends.
type ChallengeResolvedEvent struct {
	Timestamp time.Time
	MandateID string
	Result    string // "verified", "invalid", "exhausted", "expired"
	Attempts  int
}

// SessionCompletedEvent is emitted when a checkout session goes terminal.
type SessionCompletedEvent struct {
	Timestamp time.Time
	SessionID string
	Outcome   string // "success", "failed", "expired"
	ErrorKind string
	Amount    int64 // minor units
	Currency  string
	LineItems int
	Duration  time.Duration // create-to-terminal
}

// RequestRecordedEvent is emitted for each captured protocol exchange.
type RequestRecordedEvent struct {
	Timestamp time.Time
	Method    string
	Path      string
	Endpoint  string // logical endpoint label, e.g. "checkout_complete"
	Status    int
	Duration  time.Duration
}
