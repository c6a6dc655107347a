package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

// createCheckoutSession opens a new checkout session from a cart.
func (h handlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req ucp.CheckoutCreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("checkout.create.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	sess, err := h.checkout.Create(r.Context(), &req)
	if err != nil {
		log.Warn().Err(err).Msg("checkout.create.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	log.Info().
		Str("session_id", sess.ID).
		Int("line_items", len(sess.LineItems)).
		Str("currency", sess.Totals.Currency).
		Msg("checkout.create.success")

	respondJSON(w, r, http.StatusOK, sess)
}

// getCheckoutSession returns the current session snapshot.
func (h handlers) getCheckoutSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.checkout.Get(r.Context(), id)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Debug().
			Err(err).
			Str("session_id", id).
			Msg("checkout.get.miss")
		apierrors.WriteFromErr(w, err)
		return
	}

	respondJSON(w, r, http.StatusOK, sess)
}

// updateCheckoutSession attaches a payment mandate and/or promocode to
// an open session.
func (h handlers) updateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req ucp.CheckoutUpdateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("checkout.update.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	sess, err := h.checkout.Update(r.Context(), id, &req)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", id).
			Str("kind", string(apierrors.KindOf(err))).
			Msg("checkout.update.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	log.Info().
		Str("session_id", sess.ID).
		Str("status", sess.Status).
		Bool("mandate_attached", sess.PaymentMandate != nil).
		Msg("checkout.update.success")

	respondJSON(w, r, http.StatusOK, sess)
}

// completeCheckoutSession runs the attached mandate through the merchant
// agent. The response status distinguishes success, a step-up challenge,
// and a declined payment; session-level problems surface as error
// envelopes instead.
func (h handlers) completeCheckoutSession(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")
	otpCode := r.URL.Query().Get("otp_code")

	result, err := h.checkout.Complete(r.Context(), id, otpCode)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", id).
			Str("kind", string(apierrors.KindOf(err))).
			Msg("checkout.complete.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	log.Info().
		Str("session_id", id).
		Str("status", result.Status).
		Msg("checkout.complete.outcome")

	respondJSON(w, r, http.StatusOK, result)
}
