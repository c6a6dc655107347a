package shopperserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AgentCommerce/ucp/internal/auth"
	"github.com/AgentCommerce/ucp/internal/credentials"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
)

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

type enrollBeginRequest struct {
	UserEmail string `json:"user_email"`
}

type enrollFinishRequest struct {
	UserEmail string `json:"user_email"`
	credentials.Attestation
}

type authorizeBeginRequest struct {
	UserEmail string `json:"user_email"`
	Digest    string `json:"digest"`
}

// credentialResponse is the wire shape of an enrolled device key. The
// public key stays server-side.
type credentialResponse struct {
	CredentialID string `json:"credential_id"`
	UserEmail    string `json:"user_email"`
	CreatedAt    string `json:"created_at"`
}

// registerUser creates a shopper account and seeds the demo card.
func (h handlers) registerUser(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req registerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("users.register.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	user, err := h.wallet.RegisterUser(r.Context(), req.Email, req.DisplayName)
	if err != nil {
		log.Warn().Err(err).Msg("users.register.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	log.Info().Str("user_id", user.ID).Msg("users.register.success")
	respondJSON(w, r, http.StatusCreated, user)
}

// getUser looks up a registered account by email.
func (h handlers) getUser(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	user, err := h.wallet.GetUser(r.Context(), email)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Debug().Err(err).Msg("users.get.miss")
		apierrors.WriteFromErr(w, err)
		return
	}

	respondJSON(w, r, http.StatusOK, user)
}

// beginEnrollment issues a device enrollment challenge.
func (h handlers) beginEnrollment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req enrollBeginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("enroll.begin.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	challenge, err := h.wallet.BeginEnrollment(r.Context(), req.UserEmail)
	if err != nil {
		log.Warn().Err(err).Msg("enroll.begin.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	respondJSON(w, r, http.StatusOK, challenge)
}

// finishEnrollment verifies the device attestation and stores the
// credential.
func (h handlers) finishEnrollment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req enrollFinishRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("enroll.finish.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	cred, err := h.wallet.FinishEnrollment(r.Context(), req.UserEmail, req.Attestation)
	if err != nil {
		log.Warn().
			Err(err).
			Str("kind", string(apierrors.KindOf(err))).
			Msg("enroll.finish.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	log.Info().Str("credential_id", cred.ID).Msg("enroll.finish.success")
	respondJSON(w, r, http.StatusCreated, credentialResponse{
		CredentialID: cred.ID,
		UserEmail:    cred.UserEmail,
		CreatedAt:    cred.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// beginAuthorization issues a signing challenge bound to a digest the
// caller supplies. The checkout flow gets its challenge from prepare;
// this endpoint serves agents driving device signing directly.
func (h handlers) beginAuthorization(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req authorizeBeginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("authorize.begin.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	digest, err := auth.DecodeBase64(req.Digest)
	if err != nil || len(digest) == 0 {
		log.Warn().Msg("authorize.begin.bad_digest")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "digest must be base64")
		return
	}

	challenge, err := h.wallet.BeginAuthorization(r.Context(), req.UserEmail, digest)
	if err != nil {
		log.Warn().Err(err).Msg("authorize.begin.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	respondJSON(w, r, http.StatusOK, challenge)
}
