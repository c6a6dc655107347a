// Package orchestrator drives a checkout end to end on the shopper
// side: open the merchant session, assemble the payment mandate against
// the user's default card, collect the device signature, attach the
// mandate, and complete — resuming through the OTP step-up when the
// merchant escalates.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/consumeragent"
	"github.com/AgentCommerce/ucp/internal/credentials"
	"github.com/AgentCommerce/ucp/internal/discovery"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/tokenization"
	"github.com/AgentCommerce/ucp/pkg/ap2"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

const (
	// defaultCurrency is assumed when the cart does not name one.
	defaultCurrency = "USD"

	// inflightGrace is how long a checkout record stays queryable after
	// its last activity. Settled outcomes replay within this window;
	// abandoned prepares age out with it.
	inflightGrace = time.Hour

	pruneInterval = time.Minute
)

// checkoutState is the shopper-side record of one checkout session,
// from prepare until the settled outcome ages out. While the mandate is
// non-nil the session is awaiting a signature or a step-up answer.
type checkoutState struct {
	sessionID string
	userEmail string
	mandate   *ap2.PaymentMandate
	busy      bool // held across one confirm/otp call; the holder owns mandate
	outcome   *ConfirmResult
	failure   error
	updatedAt time.Time
}

// PrepareInput opens a checkout for a cart.
type PrepareInput struct {
	UserEmail string         `json:"user_email"`
	LineItems []ucp.LineItem `json:"line_items"`
	Currency  string         `json:"currency,omitempty"`
	Promocode string         `json:"promocode,omitempty"`
}

// PrepareResult carries everything the shopper client needs to ask the
// user's device for a signature: the priced session, the unsigned
// mandate, the masked card it pays with, and the signing challenge
// whose digest the device must sign.
type PrepareResult struct {
	SessionID      string                              `json:"session_id"`
	Checkout       *ucp.CheckoutSession                `json:"checkout"`
	Mandate        *ap2.PaymentMandate                 `json:"payment_mandate"`
	Instrument     credentials.InstrumentView          `json:"instrument"`
	Challenge      *credentials.AuthorizationChallenge `json:"signing_challenge"`
	Authentication *tokenization.AuthenticationResult  `json:"network_authentication,omitempty"`
}

// ConfirmResult reports how a confirm or OTP submission landed.
type ConfirmResult struct {
	SessionID    string               `json:"session_id"`
	Status       string               `json:"status"` // success | otp_required | failed
	Checkout     *ucp.CheckoutSession `json:"checkout,omitempty"`
	Receipt      *ap2.PaymentReceipt  `json:"receipt,omitempty"`
	OTPChallenge *ap2.OTPChallenge    `json:"otp_challenge,omitempty"`
	Message      string               `json:"message,omitempty"`
}

// Orchestrator coordinates discovery, the credential wallet, the
// consumer agent, and the optional network tokenization adapter. Safe
// for concurrent use; at most one confirmation runs per session id at a
// time.
type Orchestrator struct {
	discovery *discovery.Client
	wallet    *credentials.Provider
	agent     *consumeragent.Agent
	tokens    tokenization.Adapter
	client    *merchantClient
	logger    zerolog.Logger
	nowFunc   func() time.Time

	mu        sync.Mutex
	inflight  map[string]*checkoutState
	lastPrune time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = now }
}

// New builds the checkout orchestrator. The merchant endpoint config
// supplies the outbound timeout; the checkout URL itself always comes
// from discovery.
func New(cfg config.MerchantEndpoint, d *discovery.Client, wallet *credentials.Provider, agent *consumeragent.Agent, tokens tokenization.Adapter, log zerolog.Logger, opts ...Option) *Orchestrator {
	if tokens == nil {
		tokens = tokenization.Disabled{}
	}
	o := &Orchestrator{
		discovery: d,
		wallet:    wallet,
		agent:     agent,
		tokens:    tokens,
		client:    newMerchantClient(d, cfg.Timeout.Duration, log),
		logger:    log,
		nowFunc:   time.Now,
		inflight:  make(map[string]*checkoutState),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.lastPrune = o.nowFunc()
	return o
}

// Prepare opens a merchant session for the cart, assembles an unsigned
// mandate against the user's default instrument, and issues the signing
// challenge. When the instrument carries a network token and the
// tokenization adapter is live, the network authentication pre-check
// runs too; its failure is logged but never blocks the checkout.
func (o *Orchestrator) Prepare(ctx context.Context, in PrepareInput) (*PrepareResult, error) {
	if strings.TrimSpace(in.UserEmail) == "" {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "user_email is required")
	}
	if len(in.LineItems) == 0 {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "line_items must not be empty")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	user, err := o.wallet.GetUser(ctx, in.UserEmail)
	if err != nil {
		return nil, err
	}
	instrument, err := o.wallet.DefaultInstrument(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	supported, err := o.discovery.SupportsAP2(ctx)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, apierrors.E(apierrors.ErrCodeInvalidState,
			"Merchant does not accept AP2 payment mandates")
	}
	profile, err := o.discovery.Profile(ctx)
	if err != nil {
		return nil, err
	}

	session, err := o.client.CreateSession(ctx, ucp.CheckoutCreateRequest{
		LineItems:  in.LineItems,
		BuyerEmail: user.Email,
		Currency:   currency,
		Promocode:  in.Promocode,
	})
	if err != nil {
		return nil, err
	}

	mandate, err := o.agent.BuildMandate(consumeragent.MandateInput{
		Amount:        session.Totals.Total,
		Currency:      session.Totals.Currency,
		Instrument:    instrument,
		PayerEmail:    user.Email,
		PayerName:     instrument.HolderName,
		MerchantAgent: profile.Merchant.ID,
	})
	if err != nil {
		return nil, err
	}
	digest, err := o.agent.SigningDigest(mandate)
	if err != nil {
		return nil, err
	}
	challenge, err := o.wallet.BeginAuthorization(ctx, user.Email, digest)
	if err != nil {
		return nil, err
	}

	result := &PrepareResult{
		SessionID:  session.ID,
		Checkout:   session,
		Mandate:    mandate,
		Instrument: instrument.View(),
		Challenge:  challenge,
	}
	result.Authentication = o.authPrecheck(ctx, session, instrument, profile)

	now := o.nowFunc()
	o.mu.Lock()
	o.pruneLocked(now)
	o.inflight[session.ID] = &checkoutState{
		sessionID: session.ID,
		userEmail: user.Email,
		mandate:   mandate,
		updatedAt: now,
	}
	o.mu.Unlock()

	o.logger.Info().
		Str("session_id", session.ID).
		Str("mandate_id", mandate.PaymentMandateContents.PaymentMandateID).
		Str("merchant_id", profile.Merchant.ID).
		Str("instrument_id", instrument.ID).
		Float64("total", session.Totals.Total).
		Str("currency", session.Totals.Currency).
		Msg("orchestrator.checkout_prepared")
	return result, nil
}

// authPrecheck runs the card network's authentication pre-check for
// tokenized instruments. Advisory only: any failure downgrades to a
// warning and the checkout proceeds on the mandate alone.
func (o *Orchestrator) authPrecheck(ctx context.Context, session *ucp.CheckoutSession, instrument *credentials.Instrument, profile *ucp.Profile) *tokenization.AuthenticationResult {
	if !o.tokens.Enabled() || !instrument.Tokenized || instrument.TokenReference == "" {
		return nil
	}
	auth, err := o.tokens.InitiateAuthentication(ctx, tokenization.AuthenticationInput{
		TokenReference: instrument.TokenReference,
		Amount:         session.Totals.Total,
		Currency:       session.Totals.Currency,
		MerchantID:     profile.Merchant.ID,
		MerchantName:   profile.Merchant.Name,
		TransactionID:  session.ID,
	})
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("session_id", session.ID).
			Str("instrument_id", instrument.ID).
			Msg("orchestrator.auth_precheck_failed")
		return nil
	}
	return auth
}

// Confirm verifies the device assertion against the signing challenge,
// attaches the signed mandate, and completes the session. Re-confirming
// a settled session replays the recorded outcome without touching the
// merchant; re-confirming after an indeterminate failure resumes from
// the already-verified signature instead of demanding a fresh one (the
// signing challenge is single-use).
func (o *Orchestrator) Confirm(ctx context.Context, sessionID string, assertion credentials.Assertion) (*ConfirmResult, error) {
	state, done, err := o.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done, nil
	}
	defer o.release(sessionID)

	if state.mandate.UserAuthorization == "" {
		if _, err := o.wallet.VerifyAssertion(ctx, state.userEmail, assertion); err != nil {
			return nil, err
		}
		o.agent.Authorize(state.mandate, assertion.Signature)
	}

	if _, err := o.client.UpdateSession(ctx, sessionID, ucp.CheckoutUpdateRequest{
		PaymentMandate: state.mandate,
		UserSignature:  state.mandate.UserAuthorization,
	}); err != nil {
		return nil, o.recordFailure(sessionID, err)
	}

	result, err := o.client.CompleteSession(ctx, sessionID, "")
	if err != nil {
		return o.resolveComplete(ctx, sessionID, err)
	}
	return o.settle(sessionID, result), nil
}

// SubmitOTP answers the merchant's step-up challenge. A wrong code with
// attempts remaining surfaces as INVALID_OTP and leaves the checkout
// resumable; terminal outcomes settle it.
func (o *Orchestrator) SubmitOTP(ctx context.Context, sessionID, code string) (*ConfirmResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "otp_code is required")
	}

	_, done, err := o.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done, nil
	}
	defer o.release(sessionID)

	result, err := o.client.CompleteSession(ctx, sessionID, code)
	if err != nil {
		return o.resolveComplete(ctx, sessionID, err)
	}
	return o.settle(sessionID, result), nil
}

// Status returns the merchant's current view of the session.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*ucp.CheckoutSession, error) {
	return o.client.GetSession(ctx, sessionID)
}

// ===========================================================
// Outcome handling
// ===========================================================

// resolveComplete handles a failed Complete call. Transport-level
// failures are indeterminate — the merchant may have finished the
// payment and lost only the response — so the session is polled once to
// recover the durable outcome. Typed rejections pass through; terminal
// kinds settle the checkout as failed.
func (o *Orchestrator) resolveComplete(ctx context.Context, sessionID string, cause error) (*ConfirmResult, error) {
	kind := apierrors.KindOf(cause)
	if kind == apierrors.ErrCodeUpstreamUnavailable || kind == apierrors.ErrCodeInternal {
		o.logger.Warn().
			Err(cause).
			Str("session_id", sessionID).
			Msg("orchestrator.complete_indeterminate")
		if result, ok := o.pollOutcome(ctx, sessionID); ok {
			return result, nil
		}
		return nil, cause
	}
	if kind.IsTerminal() {
		return nil, o.recordFailure(sessionID, cause)
	}
	return nil, cause
}

// pollOutcome reads the session after an indeterminate Complete and
// converts a durable terminal state into the equivalent envelope.
func (o *Orchestrator) pollOutcome(ctx context.Context, sessionID string) (*ConfirmResult, bool) {
	session, err := o.client.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false
	}
	switch session.Status {
	case ucp.StatusComplete:
		return o.settle(sessionID, &ucp.CompleteResponse{
			Status:   ucp.CompleteStatusSuccess,
			Checkout: session,
			Receipt:  session.Receipt,
		}), true
	case ucp.StatusFailed:
		message := ""
		if session.Receipt != nil {
			message = session.Receipt.PaymentStatus.ErrorMessage
		}
		return o.settle(sessionID, &ucp.CompleteResponse{
			Status:   ucp.CompleteStatusFailed,
			Checkout: session,
			Receipt:  session.Receipt,
			Message:  message,
		}), true
	case ucp.StatusRequiresEscalation:
		// Step-up reached the merchant before the line dropped; the
		// checkout continues through SubmitOTP.
		return o.settle(sessionID, &ucp.CompleteResponse{
			Status:       ucp.CompleteStatusOTPRequired,
			Checkout:     session,
			OTPChallenge: session.OTPChallenge,
		}), true
	default:
		return nil, false
	}
}

// settle converts the merchant envelope into a ConfirmResult and, on
// terminal outcomes, retires the in-flight mandate while keeping the
// outcome replayable until it ages out.
func (o *Orchestrator) settle(sessionID string, res *ucp.CompleteResponse) *ConfirmResult {
	result := &ConfirmResult{
		SessionID:    sessionID,
		Status:       res.Status,
		Checkout:     res.Checkout,
		Receipt:      res.Receipt,
		OTPChallenge: res.OTPChallenge,
		Message:      res.Message,
	}

	terminal := res.Status == ucp.CompleteStatusSuccess || res.Status == ucp.CompleteStatusFailed
	o.mu.Lock()
	if state, ok := o.inflight[sessionID]; ok {
		state.updatedAt = o.nowFunc()
		if terminal {
			state.outcome = result
			state.mandate = nil
		}
	}
	o.mu.Unlock()

	o.logger.Info().
		Str("session_id", sessionID).
		Str("status", res.Status).
		Msg("orchestrator.complete_outcome")
	return result
}

// recordFailure retires the in-flight mandate for a terminal rejection
// so later confirms replay the same error instead of re-signing.
func (o *Orchestrator) recordFailure(sessionID string, cause error) error {
	if !apierrors.KindOf(cause).IsTerminal() {
		return cause
	}
	o.mu.Lock()
	if state, ok := o.inflight[sessionID]; ok {
		state.failure = cause
		state.mandate = nil
		state.updatedAt = o.nowFunc()
	}
	o.mu.Unlock()

	o.logger.Warn().
		Err(cause).
		Str("session_id", sessionID).
		Str("kind", string(apierrors.KindOf(cause))).
		Msg("orchestrator.checkout_failed")
	return cause
}

// ===========================================================
// In-flight registry
// ===========================================================

// acquire looks up the session's in-flight record and takes the busy
// flag. Settled records short-circuit: the cached outcome (or the
// terminal error) is returned without acquiring anything.
func (o *Orchestrator) acquire(sessionID string) (*checkoutState, *ConfirmResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pruneLocked(o.nowFunc())

	state, ok := o.inflight[sessionID]
	if !ok {
		return nil, nil, apierrors.E(apierrors.ErrCodeNotFound, "No checkout in flight for this session")
	}
	if state.outcome != nil {
		return nil, state.outcome, nil
	}
	if state.failure != nil {
		return nil, nil, state.failure
	}
	if state.busy {
		return nil, nil, apierrors.E(apierrors.ErrCodeInvalidState, "Confirmation already in progress")
	}
	state.busy = true
	return state, nil, nil
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	if state, ok := o.inflight[sessionID]; ok {
		state.busy = false
	}
	o.mu.Unlock()
}

// pruneLocked drops records idle past the grace window. Runs at most
// once per pruneInterval; callers hold mu.
func (o *Orchestrator) pruneLocked(now time.Time) {
	if now.Sub(o.lastPrune) < pruneInterval {
		return
	}
	o.lastPrune = now
	for id, state := range o.inflight {
		if !state.busy && now.Sub(state.updatedAt) > inflightGrace {
			delete(o.inflight, id)
		}
	}
}
