package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// ZerologHook logs all observability events as structured log lines.
// Useful for demos and development environments where the event stream
// doubles as the audit trail.
type ZerologHook struct {
	logger zerolog.Logger
}

// NewZerologHook creates a hook that logs all events.
func NewZerologHook(logger zerolog.Logger) *ZerologHook {
	return &ZerologHook{logger: logger}
}

func (h *ZerologHook) Name() string {
	return "zerolog"
}

// ===============================================
// MandateHook Implementation
// ===============================================

func (h *ZerologHook) OnMandateAdjudicated(ctx context.Context, event MandateAdjudicatedEvent) {
	log := h.logger.Info()
	if event.Outcome == "declined" {
		log = h.logger.Warn().Str("error_kind", event.ErrorKind)
	}

	log.Str("mandate_id", event.MandateID).
		Str("merchant_id", event.MerchantID).
		Str("payer_email", event.PayerEmail).
		Str("outcome", event.Outcome).
		Int64("amount", event.Amount).
		Str("currency", event.Currency).
		Float64("risk_draw", event.RiskDraw).
		Dur("duration", event.Duration).
		Msg("ap2.mandate_adjudicated")
}

// ===============================================
// StepUpHook Implementation
// ===============================================

func (h *ZerologHook) OnChallengeIssued(ctx context.Context, event ChallengeIssuedEvent) {
	h.logger.Info().
		Str("mandate_id", event.MandateID).
		Str("sent_to", event.SentTo).
		Time("expires_at", event.ExpiresAt).
		Msg("ap2.challenge_issued")
}

func (h *ZerologHook) OnChallengeResolved(ctx context.Context, event ChallengeResolvedEvent) {
	log := h.logger.Info()
	if event.Result != "verified" {
		log = h.logger.Warn()
	}

	log.Str("mandate_id", event.MandateID).
		Str("result", event.Result).
		Int("attempts", event.Attempts).
		Msg("ap2.challenge_resolved")
}

// ===============================================
// CheckoutHook Implementation
// ===============================================

func (h *ZerologHook) OnSessionCompleted(ctx context.Context, event SessionCompletedEvent) {
	log := h.logger.Info()
	if event.Outcome != "success" {
		log = h.logger.Warn().Str("error_kind", event.ErrorKind)
	}

	log.Str("session_id", event.SessionID).
		Str("outcome", event.Outcome).
		Int64("amount", event.Amount).
		Str("currency", event.Currency).
		Int("line_items", event.LineItems).
		Dur("duration", event.Duration).
		Msg("checkout.session_terminal")
}

// ===============================================
// RequestHook Implementation
// ===============================================

func (h *ZerologHook) OnRequestRecorded(ctx context.Context, event RequestRecordedEvent) {
	h.logger.Debug().
		Str("method", event.Method).
		Str("path", event.Path).
		Str("endpoint", event.Endpoint).
		Int("status", event.Status).
		Dur("duration", event.Duration).
		Msg("reqlog.request_recorded")
}
