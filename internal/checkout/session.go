// Package checkout owns the merchant-side checkout session lifecycle: the
// state machine from creation through mandate attachment to completion, the
// per-session serialization discipline, and the inactivity reaper. Payment
// adjudication itself is delegated to the AP2 merchant agent behind the
// Adjudicator interface.
package checkout

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/money"
	"github.com/AgentCommerce/ucp/pkg/ap2"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

// Status is a checkout session lifecycle state.
type Status string

const (
	// StatusIncomplete is the state of a freshly created session: totals are
	// computed but no payment mandate is attached yet.
	StatusIncomplete Status = "incomplete"

	// StatusReadyForComplete means a valid mandate is attached and the
	// session can be completed.
	StatusReadyForComplete Status = "ready_for_complete"

	// StatusRequiresEscalation means risk policy demanded a step-up code;
	// completion retries must carry otp_code.
	StatusRequiresEscalation Status = "requires_escalation"

	// StatusComplete is terminal: payment captured, receipt on file.
	StatusComplete Status = "complete"

	// StatusFailed is terminal: the session can never complete. A new cart
	// is required.
	StatusFailed Status = "failed"
)

// Terminal reports whether the session is immutable.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanUpdate reports whether a mandate or promocode update is legal in this
// state. Any non-terminal state accepts updates; attaching a fresh mandate
// from requires_escalation resets the open challenge.
func (s Status) CanUpdate() bool {
	switch s {
	case StatusIncomplete, StatusReadyForComplete, StatusRequiresEscalation:
		return true
	default:
		return false
	}
}

// CanComplete reports whether Complete is legal in this state. Terminal
// states are handled separately (idempotent replay), so they are excluded
// here.
func (s Status) CanComplete() bool {
	return s == StatusReadyForComplete || s == StatusRequiresEscalation
}

// Session is the internal session model. Monetary fields are held as
// decimal amounts; the wire snapshot converts to bankers-rounded floats.
//
// Sessions are stored by value and mutated copy-on-write under the
// manager's per-session lock: pointer fields are never modified in place,
// only replaced.
type Session struct {
	ID         string
	Status     Status
	LineItems  []ucp.LineItem
	BuyerEmail string

	Subtotal money.Amount
	Discount money.Amount
	Tax      money.Amount
	Total    money.Amount

	Promocode      *ucp.AppliedPromocode
	PromocodeError string

	Mandate       *ap2.PaymentMandate
	UserSignature string

	Challenge *ap2.OTPChallenge
	Receipt   *ap2.PaymentReceipt

	// Terminal failure details, kept so idempotent Complete replays can
	// surface the original error.
	FailureKind    apierrors.ErrorCode
	FailureMessage string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    time.Time
	LastActivityAt time.Time

	// Version is the store's compare-and-set counter, incremented on every
	// successful write.
	Version int64
}

// NewSessionID generates a checkout session identifier: "cs_" followed by
// 16 lowercase hex characters.
func NewSessionID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "cs_" + hex.EncodeToString(b), nil
}

// MandateID returns the attached mandate's id, or "" when no mandate is
// attached.
func (s *Session) MandateID() string {
	if s.Mandate == nil {
		return ""
	}
	return s.Mandate.PaymentMandateContents.PaymentMandateID
}

// Touch records activity for the inactivity reaper.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}

// ExpiredAt reports whether the session has been inactive past the ttl and
// sits in a state the reaper is allowed to fail. Only sessions waiting on
// the shopper expire; incomplete carts and terminal sessions do not.
func (s *Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if s.Status != StatusReadyForComplete && s.Status != StatusRequiresEscalation {
		return false
	}
	return now.Sub(s.LastActivityAt) > ttl
}

// Fail moves the session to its terminal failed state, recording the error
// kind and message for idempotent replays.
func (s *Session) Fail(kind apierrors.ErrorCode, message string, now time.Time) {
	s.Status = StatusFailed
	s.FailureKind = kind
	s.FailureMessage = message
	s.Challenge = nil
	s.UpdatedAt = now
	s.CompletedAt = now
}

// MandateEqual reports whether the incoming mandate is byte-identical to
// the attached one under deterministic JSON encoding. Used for the
// idempotent re-attach no-op.
func (s *Session) MandateEqual(other *ap2.PaymentMandate) bool {
	if s.Mandate == nil || other == nil {
		return false
	}
	a, err := json.Marshal(s.Mandate)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// Snapshot converts the session to its wire representation. Monetary
// values are bankers-rounded to 2 decimals; timestamps are UTC RFC 3339.
func (s *Session) Snapshot() *ucp.CheckoutSession {
	snap := &ucp.CheckoutSession{
		ID:         s.ID,
		Status:     string(s.Status),
		LineItems:  s.LineItems,
		BuyerEmail: s.BuyerEmail,
		Totals: ucp.Totals{
			Subtotal: s.Subtotal.RoundBankers().Float64(),
			Discount: s.Discount.RoundBankers().Float64(),
			Tax:      s.Tax.RoundBankers().Float64(),
			Total:    s.Total.RoundBankers().Float64(),
			Currency: s.Total.Currency,
		},
		Promocode:      s.Promocode,
		PromocodeError: s.PromocodeError,
		PaymentMandate: s.Mandate,
		UserSignature:  s.UserSignature,
		OTPChallenge:   s.Challenge,
		Receipt:        s.Receipt,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !s.UpdatedAt.IsZero() {
		snap.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if !s.CompletedAt.IsZero() {
		snap.CompletedAt = s.CompletedAt.UTC().Format(time.RFC3339)
	}
	return snap
}
