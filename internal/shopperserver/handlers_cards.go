package shopperserver

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/credentials"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/tokenization"
)

type addCardRequest struct {
	UserEmail string `json:"user_email"`
	credentials.AddCardInput
}

// addCard stores a payment instrument and, when the network adapter is
// live, provisions a network token for it. Tokenization failure is not
// fatal: the card stays usable untokenized.
func (h handlers) addCard(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req addCardRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("cards.add.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	ins, err := h.wallet.AddInstrument(r.Context(), req.UserEmail, req.AddCardInput)
	if err != nil {
		log.Warn().
			Err(err).
			Str("kind", string(apierrors.KindOf(err))).
			Msg("cards.add.rejected")
		apierrors.WriteFromErr(w, err)
		return
	}

	view := ins.View()
	if h.tokenizeInstrument(r, log, ins) {
		view.IsTokenized = true
	}

	log.Info().
		Str("instrument_id", ins.ID).
		Str("network", ins.Network).
		Bool("tokenized", view.IsTokenized).
		Msg("cards.add.success")

	respondJSON(w, r, http.StatusCreated, view)
}

// listCards returns the user's instruments as masked views.
func (h handlers) listCards(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("user_email")
	if email == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidInput, "user_email query parameter is required")
		return
	}

	views, err := h.wallet.ListInstruments(r.Context(), email)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Debug().Err(err).Msg("cards.list.miss")
		apierrors.WriteFromErr(w, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]any{"cards": views})
}

// tokenizeInstrument runs the just-stored card through the network
// adapter and records the token. Reports whether the instrument is now
// tokenized.
func (h handlers) tokenizeInstrument(r *http.Request, log zerolog.Logger, ins *credentials.Instrument) bool {
	if !h.tokens.Enabled() {
		return false
	}
	ctx := r.Context()

	pan, err := h.wallet.InstrumentPAN(ctx, ins.ID)
	if err != nil {
		log.Warn().Err(err).Str("instrument_id", ins.ID).Msg("cards.tokenize.pan_unavailable")
		return false
	}

	res, err := h.tokens.Tokenize(ctx, tokenization.CardInput{
		PAN:         pan,
		ExpiryMonth: ins.ExpiryMonth,
		ExpiryYear:  ins.ExpiryYear,
		HolderName:  ins.HolderName,
	})
	if err != nil {
		h.metrics.ObserveTokenization("tokenize", "error")
		log.Warn().Err(err).Str("instrument_id", ins.ID).Msg("cards.tokenize.failed")
		return false
	}

	token := credentials.NetworkToken{
		Token:       res.Token,
		Reference:   res.Reference,
		Assurance:   res.Assurance,
		TokenizedAt: time.Now().UTC(),
	}
	if err := h.wallet.MarkTokenized(ctx, ins.ID, token); err != nil {
		h.metrics.ObserveTokenization("tokenize", "error")
		log.Warn().Err(err).Str("instrument_id", ins.ID).Msg("cards.tokenize.record_failed")
		return false
	}

	h.metrics.ObserveTokenization("tokenize", "success")
	return true
}
