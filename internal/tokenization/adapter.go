// Package tokenization adapts the card network's tokenization and
// card-on-file authentication APIs. The adapter is optional end to end:
// when disabled or failing, enrollment keeps the untokenized card and
// checkout falls back to per-transaction tokens, so nothing here is on
// the critical path of a payment.
package tokenization

import (
	"context"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
)

// CardInput is the card material submitted for tokenization. The PAN
// arrives here straight from the wallet's decrypt path and must never
// be logged.
type CardInput struct {
	PAN          string
	ExpiryMonth  int
	ExpiryYear   int
	HolderName   string
	SecurityCode string
}

// TokenizeResult is a provisioned network token.
type TokenizeResult struct {
	Token     string
	Reference string
	Assurance string
}

// AuthenticationInput describes the transaction a card-on-file
// authentication check runs against.
type AuthenticationInput struct {
	TokenReference string
	Amount         float64
	Currency       string
	MerchantID     string
	MerchantName   string
	TransactionID  string
}

// AuthenticationResult is the network's authentication decision.
type AuthenticationResult struct {
	Required    bool
	Method      string
	ChallengeID string
	Status      string
}

// VerificationResult answers a network authentication challenge.
type VerificationResult struct {
	Verified bool
	Status   string
	Message  string
}

// Adapter is the tokenization surface the orchestrator and wallet see.
type Adapter interface {
	// Enabled reports whether calls will reach a real network API.
	Enabled() bool

	// Tokenize provisions a network token for the card.
	Tokenize(ctx context.Context, card CardInput) (*TokenizeResult, error)

	// InitiateAuthentication asks the network whether this transaction
	// needs a step-up.
	InitiateAuthentication(ctx context.Context, in AuthenticationInput) (*AuthenticationResult, error)

	// VerifyChallenge answers a step-up challenge with the user's code.
	VerifyChallenge(ctx context.Context, challengeID, code string) (*VerificationResult, error)
}

// Disabled is the no-op adapter used when tokenization is switched off
// or credentials are missing. Callers gate on Enabled; reaching a
// method anyway is a caller bug and reports as such.
type Disabled struct{}

// Enabled implements Adapter.
func (Disabled) Enabled() bool { return false }

// Tokenize implements Adapter.
func (Disabled) Tokenize(context.Context, CardInput) (*TokenizeResult, error) {
	return nil, errDisabled()
}

// InitiateAuthentication implements Adapter.
func (Disabled) InitiateAuthentication(context.Context, AuthenticationInput) (*AuthenticationResult, error) {
	return nil, errDisabled()
}

// VerifyChallenge implements Adapter.
func (Disabled) VerifyChallenge(context.Context, string, string) (*VerificationResult, error) {
	return nil, errDisabled()
}

func errDisabled() error {
	return apierrors.E(apierrors.ErrCodeInvalidState, "Network tokenization is not enabled")
}
