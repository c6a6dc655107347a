// Package consumeragent assembles AP2 payment mandates on the shopper
// side: fresh mandate and details ids, per-transaction card material,
// and the canonical digest the user's device signs. The agent never
// sees a PAN; it works from the wallet's stored instrument metadata.
package consumeragent

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/credentials"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/pkg/ap2"
)

// tokenValidityYears is how far out a freshly minted per-transaction
// token is stamped to expire.
const tokenValidityYears = 3

// Agent builds unsigned mandates and their signing digests.
type Agent struct {
	logger  zerolog.Logger
	nowFunc func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.nowFunc = now }
}

// NewAgent builds a consumer agent.
func NewAgent(log zerolog.Logger, opts ...Option) *Agent {
	a := &Agent{
		logger:  log,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MandateInput is everything a mandate is assembled from: the checkout
// total, the instrument paying for it, and the two parties.
type MandateInput struct {
	Amount        float64
	Currency      string
	Instrument    *credentials.Instrument
	PayerEmail    string
	PayerName     string
	MerchantAgent string
}

// BuildMandate assembles an unsigned payment mandate. The token is the
// instrument's network token when one is recorded, otherwise a fresh
// 16-digit token; the cryptogram is always per-transaction. The mandate
// leaves here without a user authorization; the device adds that after
// signing the digest from SigningDigest.
func (a *Agent) BuildMandate(in MandateInput) (*ap2.PaymentMandate, error) {
	if in.Instrument == nil {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "a payment instrument is required")
	}
	if in.Amount <= 0 {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "amount must be positive")
	}
	if in.Currency == "" {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "currency is required")
	}
	if in.PayerEmail == "" {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "payer email is required")
	}
	if in.MerchantAgent == "" {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "merchant agent id is required")
	}

	token := ap2.NewToken()
	tokenized := in.Instrument.Tokenized && in.Instrument.NetworkToken != ""
	if tokenized {
		token = in.Instrument.NetworkToken
	}

	now := a.nowFunc().UTC()
	details := ap2.CardDetails{
		Token:        token,
		TokenExpiry:  now.AddDate(tokenValidityYears, 0, 0).Format("01/06"),
		Cryptogram:   ap2.NewCryptogram(),
		CardLastFour: in.Instrument.LastFour,
		CardNetwork:  in.Instrument.Network,
	}
	if err := ap2.ValidateCardDetails(details); err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeInvalidInput, "instrument cannot pay", err)
	}

	requestID := ap2.NewPaymentDetailsID()
	mandate := &ap2.PaymentMandate{
		PaymentMandateContents: ap2.PaymentMandateContents{
			PaymentMandateID: ap2.NewMandateID(),
			Timestamp:        now.Format(time.RFC3339),
			PaymentDetailsID: requestID,
			PaymentDetailsTotal: ap2.PaymentItem{
				Label: "Total",
				Amount: ap2.PaymentCurrencyAmount{
					Currency: in.Currency,
					Value:    in.Amount,
				},
			},
			PaymentResponse: ap2.PaymentResponse{
				RequestID:  requestID,
				MethodName: "CARD",
				Details:    details,
				PayerEmail: in.PayerEmail,
				PayerName:  in.PayerName,
			},
			MerchantAgent: in.MerchantAgent,
		},
	}

	a.logger.Info().
		Str("mandate_id", mandate.PaymentMandateContents.PaymentMandateID).
		Str("network", details.CardNetwork).
		Str("last_four", details.CardLastFour).
		Bool("network_token", tokenized).
		Msg("consumeragent.mandate_assembled")
	return mandate, nil
}

// SigningDigest computes the canonical digest of the mandate contents,
// the exact bytes the device signs and the merchant verifies.
func (a *Agent) SigningDigest(m *ap2.PaymentMandate) ([]byte, error) {
	digest, err := ap2.ContentsDigest(m.PaymentMandateContents)
	if err != nil {
		return nil, fmt.Errorf("consumeragent: digest mandate: %w", err)
	}
	return digest, nil
}

// Authorize attaches the device signature to the mandate.
func (a *Agent) Authorize(m *ap2.PaymentMandate, signature string) {
	m.UserAuthorization = signature
}
