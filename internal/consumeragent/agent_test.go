package consumeragent

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/credentials"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/pkg/ap2"
)

var (
	mandateIDRe = regexp.MustCompile(`^PM-[0-9A-F]{16}$`)
	requestIDRe = regexp.MustCompile(`^REQ-[0-9A-F]{12}$`)
	tokenRe     = regexp.MustCompile(`^\d{16}$`)
)

func fixedClock() time.Time {
	ts, _ := time.Parse(time.RFC3339, "2026-03-01T10:30:00Z")
	return ts
}

func testInstrument() *credentials.Instrument {
	return &credentials.Instrument{
		ID:         "card_demo",
		UserEmail:  "shopper@example.com",
		LastFour:   "5000",
		Network:    "mastercard",
		HolderName: "Demo Shopper",
	}
}

func testInput() MandateInput {
	return MandateInput{
		Amount:        42.50,
		Currency:      "USD",
		Instrument:    testInstrument(),
		PayerEmail:    "shopper@example.com",
		PayerName:     "Demo Shopper",
		MerchantAgent: "merchant-001",
	}
}

func TestBuildMandate(t *testing.T) {
	a := NewAgent(zerolog.Nop(), WithClock(fixedClock))

	m, err := a.BuildMandate(testInput())
	if err != nil {
		t.Fatalf("BuildMandate() error = %v", err)
	}
	c := m.PaymentMandateContents

	if !mandateIDRe.MatchString(c.PaymentMandateID) {
		t.Errorf("mandate id = %q", c.PaymentMandateID)
	}
	if !requestIDRe.MatchString(c.PaymentDetailsID) {
		t.Errorf("details id = %q", c.PaymentDetailsID)
	}
	if c.PaymentResponse.RequestID != c.PaymentDetailsID {
		t.Errorf("request id %q != details id %q", c.PaymentResponse.RequestID, c.PaymentDetailsID)
	}
	if c.Timestamp != "2026-03-01T10:30:00Z" {
		t.Errorf("timestamp = %q", c.Timestamp)
	}
	if c.PaymentDetailsTotal.Label != "Total" {
		t.Errorf("label = %q", c.PaymentDetailsTotal.Label)
	}
	if got := c.PaymentDetailsTotal.Amount; got.Currency != "USD" || got.Value != 42.50 {
		t.Errorf("total = %+v", got)
	}
	if c.PaymentResponse.MethodName != "CARD" {
		t.Errorf("method = %q", c.PaymentResponse.MethodName)
	}
	if c.MerchantAgent != "merchant-001" {
		t.Errorf("merchant agent = %q", c.MerchantAgent)
	}
	if m.UserAuthorization != "" {
		t.Error("mandate left the agent already authorized")
	}

	d := c.PaymentResponse.Details
	if !tokenRe.MatchString(d.Token) {
		t.Errorf("token = %q", d.Token)
	}
	if d.TokenExpiry != "03/29" {
		t.Errorf("token expiry = %q, want 03/29", d.TokenExpiry)
	}
	if d.CardLastFour != "5000" || d.CardNetwork != "mastercard" {
		t.Errorf("card = %s %s", d.CardLastFour, d.CardNetwork)
	}
	if err := ap2.ValidateCardDetails(d); err != nil {
		t.Errorf("assembled details invalid: %v", err)
	}
}

func TestBuildMandateUsesNetworkToken(t *testing.T) {
	a := NewAgent(zerolog.Nop(), WithClock(fixedClock))

	in := testInput()
	in.Instrument.Tokenized = true
	in.Instrument.NetworkToken = "5204731612345678"

	m, err := a.BuildMandate(in)
	if err != nil {
		t.Fatalf("BuildMandate() error = %v", err)
	}
	if got := m.PaymentMandateContents.PaymentResponse.Details.Token; got != "5204731612345678" {
		t.Errorf("token = %q, want the instrument's network token", got)
	}
}

func TestBuildMandateFreshMaterialPerCall(t *testing.T) {
	a := NewAgent(zerolog.Nop(), WithClock(fixedClock))

	first, err := a.BuildMandate(testInput())
	if err != nil {
		t.Fatalf("BuildMandate() error = %v", err)
	}
	second, err := a.BuildMandate(testInput())
	if err != nil {
		t.Fatalf("BuildMandate() error = %v", err)
	}

	fc, sc := first.PaymentMandateContents, second.PaymentMandateContents
	if fc.PaymentMandateID == sc.PaymentMandateID {
		t.Error("mandate ids repeat")
	}
	if fc.PaymentResponse.Details.Token == sc.PaymentResponse.Details.Token {
		t.Error("tokens repeat")
	}
	if fc.PaymentResponse.Details.Cryptogram == sc.PaymentResponse.Details.Cryptogram {
		t.Error("cryptograms repeat")
	}
}

func TestBuildMandateValidation(t *testing.T) {
	a := NewAgent(zerolog.Nop())

	tests := []struct {
		name   string
		mutate func(*MandateInput)
	}{
		{"nil instrument", func(in *MandateInput) { in.Instrument = nil }},
		{"zero amount", func(in *MandateInput) { in.Amount = 0 }},
		{"negative amount", func(in *MandateInput) { in.Amount = -1 }},
		{"missing currency", func(in *MandateInput) { in.Currency = "" }},
		{"missing payer", func(in *MandateInput) { in.PayerEmail = "" }},
		{"missing merchant agent", func(in *MandateInput) { in.MerchantAgent = "" }},
		{"unknown network", func(in *MandateInput) { in.Instrument.Network = "unknown" }},
		{"missing last four", func(in *MandateInput) { in.Instrument.LastFour = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testInput()
			tt.mutate(&in)
			if _, err := a.BuildMandate(in); !apierrors.IsKind(err, apierrors.ErrCodeInvalidInput) {
				t.Errorf("BuildMandate() error = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestSigningDigestStable(t *testing.T) {
	a := NewAgent(zerolog.Nop(), WithClock(fixedClock))

	m, err := a.BuildMandate(testInput())
	if err != nil {
		t.Fatalf("BuildMandate() error = %v", err)
	}

	first, err := a.SigningDigest(m)
	if err != nil {
		t.Fatalf("SigningDigest() error = %v", err)
	}
	second, err := a.SigningDigest(m)
	if err != nil {
		t.Fatalf("SigningDigest() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("digest is not stable across calls")
	}
	if len(first) != 32 {
		t.Errorf("digest length = %d, want 32", len(first))
	}

	// The digest covers contents only; authorization does not move it.
	a.Authorize(m, "c2lnbmF0dXJl")
	third, err := a.SigningDigest(m)
	if err != nil {
		t.Fatalf("SigningDigest() error = %v", err)
	}
	if !bytes.Equal(first, third) {
		t.Error("authorization changed the signing digest")
	}
	if m.UserAuthorization != "c2lnbmF0dXJl" {
		t.Errorf("authorization = %q", m.UserAuthorization)
	}

	if err := ap2.ValidateMandateShape(*m); err != nil {
		t.Errorf("authorized mandate fails shape validation: %v", err)
	}
}
