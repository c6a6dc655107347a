package httpserver

import (
	"net/http"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/reqlog"
	"github.com/AgentCommerce/ucp/pkg/ap2"
)

// Message types recorded for AP2 exchanges.
const (
	messageTypePaymentMandate  = "payment_mandate"
	messageTypeOTPVerification = "otp_verification"
)

// verifyOTPRequest is the wire shape of /ap2/payment/verify-otp: the
// original mandate plus the user's answer to the challenge.
type verifyOTPRequest struct {
	Mandate         ap2.PaymentMandate  `json:"mandate"`
	OTPVerification ap2.OTPVerification `json:"otp_verification"`
}

// processPayment adjudicates a bare AP2 mandate outside the checkout
// flow. Every adjudication outcome returns HTTP 200 with a receipt; the
// receipt's payment_status carries the result. Error envelopes are
// reserved for requests the agent could not adjudicate at all.
func (h handlers) processPayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var mandate ap2.PaymentMandate
	if err := decodeJSON(r.Body, &mandate); err != nil {
		log.Warn().Err(err).Msg("ap2.process.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMalformedMandate, "Invalid payment mandate body")
		return
	}

	reqlog.SetAP2Details(r.Context(), reqlog.AP2Details{
		MessageType:      messageTypePaymentMandate,
		MandateID:        mandate.PaymentMandateContents.PaymentMandateID,
		RequestSignature: mandate.UserAuthorization,
	})

	receipt, challenge, err := h.payments.ProcessPayment(r.Context(), &mandate)
	if receipt == nil {
		log.Error().
			Err(err).
			Str("mandate_id", mandate.PaymentMandateContents.PaymentMandateID).
			Msg("ap2.process.failed")
		apierrors.WriteFromErr(w, err)
		return
	}

	reqlog.SetAP2Details(r.Context(), reqlog.AP2Details{
		PaymentStatus:     receipt.PaymentStatus.Code,
		ResponseSignature: receipt.MerchantSignature,
	})

	log.Info().
		Str("mandate_id", receipt.PaymentMandateID).
		Str("payment_status", receipt.PaymentStatus.Code).
		Bool("challenged", challenge != nil).
		Msg("ap2.process.adjudicated")

	respondJSON(w, r, http.StatusOK, receipt)
}

// verifyOTP resolves a step-up challenge for a mandate processed through
// /ap2/payment/process. Like processPayment, adjudication outcomes come
// back as receipts with HTTP 200.
func (h handlers) verifyOTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req verifyOTPRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("ap2.verify_otp.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid OTP verification body")
		return
	}

	mandateID := req.OTPVerification.PaymentMandateID
	if mandateID == "" {
		mandateID = req.Mandate.PaymentMandateContents.PaymentMandateID
	}
	reqlog.SetAP2Details(r.Context(), reqlog.AP2Details{
		MessageType:      messageTypeOTPVerification,
		MandateID:        mandateID,
		RequestSignature: req.Mandate.UserAuthorization,
	})

	receipt, err := h.payments.VerifyOTP(r.Context(), &req.Mandate, req.OTPVerification)
	if receipt == nil {
		log.Error().Err(err).Str("mandate_id", mandateID).Msg("ap2.verify_otp.failed")
		apierrors.WriteFromErr(w, err)
		return
	}

	reqlog.SetAP2Details(r.Context(), reqlog.AP2Details{
		PaymentStatus:     receipt.PaymentStatus.Code,
		ResponseSignature: receipt.MerchantSignature,
	})

	log.Info().
		Str("mandate_id", mandateID).
		Str("payment_status", receipt.PaymentStatus.Code).
		Msg("ap2.verify_otp.resolved")

	respondJSON(w, r, http.StatusOK, receipt)
}
