package shopperserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AgentCommerce/ucp/internal/credentials"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/orchestrator"
)

type submitOTPRequest struct {
	OTPCode string `json:"otp_code"`
}

// prepareCheckout opens a merchant session for the cart and returns the
// unsigned mandate with its signing challenge.
func (h handlers) prepareCheckout(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req orchestrator.PrepareInput
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("checkout.prepare.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	result, err := h.checkout.Prepare(r.Context(), req)
	if err != nil {
		log.Warn().
			Err(err).
			Str("kind", string(apierrors.KindOf(err))).
			Msg("checkout.prepare.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	log.Info().
		Str("session_id", result.SessionID).
		Int("line_items", len(req.LineItems)).
		Msg("checkout.prepare.success")

	respondJSON(w, r, http.StatusOK, result)
}

// confirmCheckout presents the device assertion and drives the payment
// to completion.
func (h handlers) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	sessionID := chi.URLParam(r, "session_id")

	var as credentials.Assertion
	if err := decodeJSON(r.Body, &as); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("checkout.confirm.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	result, err := h.checkout.Confirm(r.Context(), sessionID, as)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("kind", string(apierrors.KindOf(err))).
			Msg("checkout.confirm.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	log.Info().
		Str("session_id", sessionID).
		Str("status", result.Status).
		Msg("checkout.confirm.outcome")

	respondJSON(w, r, http.StatusOK, result)
}

// submitCheckoutOTP answers the merchant's step-up challenge.
func (h handlers) submitCheckoutOTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	sessionID := chi.URLParam(r, "session_id")

	var req submitOTPRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("checkout.otp.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	result, err := h.checkout.SubmitOTP(r.Context(), sessionID, req.OTPCode)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("kind", string(apierrors.KindOf(err))).
			Msg("checkout.otp.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	log.Info().
		Str("session_id", sessionID).
		Str("status", result.Status).
		Msg("checkout.otp.outcome")

	respondJSON(w, r, http.StatusOK, result)
}

// getCheckout proxies the merchant's view of the session.
func (h handlers) getCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	sess, err := h.checkout.Status(r.Context(), sessionID)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Debug().
			Err(err).
			Str("session_id", sessionID).
			Msg("checkout.get.miss")
		apierrors.WriteFromErr(w, err)
		return
	}

	respondJSON(w, r, http.StatusOK, sess)
}
