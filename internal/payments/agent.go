// Package payments implements the merchant-side AP2 agent: mandate
// adjudication, deterministic risk-based step-up, OTP challenge
// lifecycle, and signed receipt issuance. Receipt issuance is the single
// commit point — every terminal decision produces exactly one receipt.
package payments

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/auth"
	"github.com/AgentCommerce/ucp/internal/config"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/metrics"
	"github.com/AgentCommerce/ucp/internal/money"
	"github.com/AgentCommerce/ucp/internal/observability"
	"github.com/AgentCommerce/ucp/pkg/ap2"
)

const (
	// pendingPaymentID is the interim payment id on OTP_REQUIRED receipts.
	pendingPaymentID = "PENDING-OTP"

	// invalidOTPPaymentID marks receipts for a rejected but retryable OTP.
	invalidOTPPaymentID = "ERR-INVALID-OTP"

	// challengeGrace keeps expired challenge state around long enough for
	// a late verify to get CHALLENGE_EXPIRED instead of INVALID_OTP.
	challengeGrace = time.Hour

	pruneInterval = time.Minute
)

var otpShape = regexp.MustCompile(`^\d{6}$`)

// challengeState is the server-side record of an issued OTP challenge,
// keyed by mandate id. The code itself never leaves the process.
type challengeState struct {
	code      string
	sentTo    string
	message   string
	attempts  int
	issuedAt  time.Time
	expiresAt time.Time
}

// Agent adjudicates payment mandates for one merchant. Safe for
// concurrent use.
type Agent struct {
	merchantID string
	cfg        config.PaymentsConfig
	verifier   Verifier
	signer     auth.ReceiptSigner
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	hooks      *observability.Registry
	nowFunc    func() time.Time
	codeFunc   func() (string, error)

	mu         sync.Mutex
	challenges map[string]*challengeState
	lastPrune  time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithVerifier overrides the authorization verifier built from
// configured credentials.
func WithVerifier(v Verifier) Option {
	return func(a *Agent) { a.verifier = v }
}

// WithSigner overrides the receipt signer built from configuration.
func WithSigner(s auth.ReceiptSigner) Option {
	return func(a *Agent) { a.signer = s }
}

// WithLogger sets the agent's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithHooks sets the observability hook registry.
func WithHooks(r *observability.Registry) Option {
	return func(a *Agent) { a.hooks = r }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.nowFunc = now }
}

// WithCodeGenerator overrides OTP code generation. Used in tests.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(a *Agent) { a.codeFunc = gen }
}

// NewAgent builds an agent for merchantID. Without WithVerifier the
// verifier comes from cfg.Credentials; without WithSigner the signer
// comes from cfg.Signer and may be absent, in which case receipts go
// out unsigned.
func NewAgent(merchantID string, cfg config.PaymentsConfig, opts ...Option) (*Agent, error) {
	a := &Agent{
		merchantID: merchantID,
		cfg:        withDefaults(cfg),
		logger:     zerolog.Nop(),
		nowFunc:    time.Now,
		challenges: make(map[string]*challengeState),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.verifier == nil {
		v, err := NewVerifier(a.cfg.Credentials)
		if err != nil {
			return nil, fmt.Errorf("payments: build verifier: %w", err)
		}
		a.verifier = v
	}
	if a.signer == nil {
		a.signer = auth.NewReceiptSigner(a.cfg.Signer)
	}
	if a.codeFunc == nil {
		a.codeFunc = randomOTPCode
	}
	a.lastPrune = a.nowFunc()
	return a, nil
}

func withDefaults(cfg config.PaymentsConfig) config.PaymentsConfig {
	if cfg.StepUp.AmountThreshold <= 0 {
		cfg.StepUp.AmountThreshold = 100
	}
	if cfg.StepUp.LowProbability <= 0 {
		cfg.StepUp.LowProbability = 0.10
	}
	if cfg.StepUp.HighProbability <= 0 {
		cfg.StepUp.HighProbability = 0.30
	}
	if cfg.OTP.DemoCode == "" {
		cfg.OTP.DemoCode = "123456"
	}
	if cfg.OTP.TTL.Duration <= 0 {
		cfg.OTP.TTL = config.Duration{Duration: 5 * time.Minute}
	}
	if cfg.OTP.MaxAttempts <= 0 {
		cfg.OTP.MaxAttempts = 3
	}
	return cfg
}

func (a *Agent) now() time.Time {
	return a.nowFunc()
}

func (a *Agent) timestamp() string {
	return a.now().UTC().Format(time.RFC3339)
}

// ProcessPayment adjudicates a mandate. Exactly one of three outcomes:
// a SUCCESS receipt, an OTP challenge with its interim OTP_REQUIRED
// receipt, or a failure receipt alongside the decline error. The
// receipt is non-nil in every case.
func (a *Agent) ProcessPayment(ctx context.Context, mandate *ap2.PaymentMandate) (*ap2.PaymentReceipt, *ap2.OTPChallenge, error) {
	start := a.now()
	contents := mandate.PaymentMandateContents

	if err := a.checkIntegrity(mandate); err != nil {
		return a.decline(ctx, mandate, err, 0, start)
	}
	if err := a.checkAuthorization(ctx, mandate); err != nil {
		return a.decline(ctx, mandate, err, 0, start)
	}

	// A repeat submission while a challenge is still open re-presents the
	// same challenge instead of minting a new code or resetting attempts.
	if challenge := a.openChallenge(contents.PaymentMandateID); challenge != nil {
		a.logger.Debug().
			Str("mandate_id", contents.PaymentMandateID).
			Msg("ap2.challenge_reissued")
		return a.challengeReceipt(ctx, mandate, challenge), challenge, nil
	}

	draw := riskDraw(contents.PaymentMandateID, a.merchantID)
	if a.stepUpRequired(contents.PaymentDetailsTotal.Amount.Value, draw) {
		challenge, err := a.issueChallenge(ctx, mandate)
		if err != nil {
			return nil, nil, apierrors.Wrap(apierrors.ErrCodeInternal, "Payment processing failed", err)
		}
		a.emitAdjudicated(ctx, mandate, "step_up", "", draw, start)
		a.logger.Info().
			Str("mandate_id", contents.PaymentMandateID).
			Str("payer", logger.RedactEmail(contents.PaymentResponse.PayerEmail)).
			Float64("risk_draw", draw).
			Msg("ap2.step_up_issued")
		if a.metrics != nil {
			a.metrics.ObserveStepUp("issued")
		}
		return a.challengeReceipt(ctx, mandate, challenge), challenge, nil
	}

	receipt := a.successReceipt(ctx, mandate)
	a.emitAdjudicated(ctx, mandate, "approved", "", draw, start)
	a.logger.Info().
		Str("mandate_id", contents.PaymentMandateID).
		Str("payment_id", receipt.PaymentID).
		Str("payer", logger.RedactEmail(contents.PaymentResponse.PayerEmail)).
		Float64("amount", receipt.Amount.Value).
		Str("currency", receipt.Amount.Currency).
		Msg("ap2.payment_processed")
	return receipt, nil, nil
}

// VerifyOTP resolves an open challenge. A correct code commits the
// payment directly — the mandate was already adjudicated when the
// challenge was issued. The receipt is non-nil in every case.
func (a *Agent) VerifyOTP(ctx context.Context, mandate *ap2.PaymentMandate, verification ap2.OTPVerification) (*ap2.PaymentReceipt, error) {
	contents := mandate.PaymentMandateContents
	mandateID := verification.PaymentMandateID
	if mandateID == "" {
		mandateID = contents.PaymentMandateID
	}

	result, attempts := a.resolveChallenge(mandateID, verification.OTPCode)
	switch result {
	case otpVerified:
		receipt := a.successReceipt(ctx, mandate)
		a.emitChallengeResolved(ctx, mandateID, "verified", attempts)
		a.logger.Info().
			Str("mandate_id", mandateID).
			Str("payment_id", receipt.PaymentID).
			Int("attempts", attempts).
			Msg("ap2.otp_verified")
		if a.metrics != nil {
			a.metrics.ObserveStepUp("verified")
		}
		return receipt, nil

	case otpExpired:
		err := apierrors.E(apierrors.ErrCodeChallengeExpired, "OTP challenge expired")
		a.emitChallengeResolved(ctx, mandateID, "expired", attempts)
		a.observeOTPRejection(mandateID, err, attempts, "expired")
		return a.failureReceipt(ctx, mandate, err), err

	case otpExhausted:
		err := apierrors.E(apierrors.ErrCodeChallengeExhausted, "Maximum OTP attempts exceeded")
		a.emitChallengeResolved(ctx, mandateID, "exhausted", attempts)
		a.observeOTPRejection(mandateID, err, attempts, "exhausted")
		return a.failureReceipt(ctx, mandate, err), err

	default: // otpInvalid, otpMissing
		err := apierrors.E(apierrors.ErrCodeInvalidOTP, "Invalid OTP code")
		a.emitChallengeResolved(ctx, mandateID, "invalid", attempts)
		a.observeOTPRejection(mandateID, err, attempts, "invalid")
		receipt := &ap2.PaymentReceipt{
			PaymentMandateID: mandateID,
			Timestamp:        a.timestamp(),
			PaymentID:        invalidOTPPaymentID,
			Amount:           receiptAmount(contents),
			PaymentStatus: ap2.PaymentStatus{
				Code:         string(apierrors.ErrCodeInvalidOTP),
				ErrorMessage: "Invalid OTP code",
			},
		}
		a.sign(ctx, receipt)
		return receipt, err
	}
}

// ===========================================================
// Adjudication checks
// ===========================================================

func (a *Agent) checkIntegrity(mandate *ap2.PaymentMandate) error {
	if err := ap2.ValidateMandateShape(*mandate); err != nil {
		return apierrors.Wrap(apierrors.ErrCodeMalformedMandate, "Invalid payment mandate", err)
	}

	amount := mandate.PaymentMandateContents.PaymentDetailsTotal.Amount
	if amount.Value <= 0 {
		return apierrors.E(apierrors.ErrCodeMalformedMandate, "Payment amount must be positive")
	}
	if _, err := money.NormalizeCurrency(amount.Currency); err != nil {
		return apierrors.Ef(apierrors.ErrCodeMalformedMandate, "Invalid currency %q", amount.Currency)
	}

	expiry := mandate.PaymentMandateContents.PaymentResponse.Details.TokenExpiry
	if tokenExpired(expiry, a.now()) {
		return apierrors.E(apierrors.ErrCodeMalformedMandate, "Payment token expired. Please retry the transaction.")
	}
	return nil
}

func (a *Agent) checkAuthorization(ctx context.Context, mandate *ap2.PaymentMandate) error {
	authorization := strings.TrimSpace(mandate.UserAuthorization)
	if authorization == "" {
		return apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Invalid mandate signature")
	}

	digest, err := ap2.ContentsDigest(mandate.PaymentMandateContents)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrCodeInternal, "Payment processing failed", err)
	}

	payer := mandate.PaymentMandateContents.PaymentResponse.PayerEmail
	return a.verifier.VerifyAuthorization(ctx, payer, digest, authorization)
}

// tokenExpired parses an MM/YY token expiry. A token is valid through
// the last day of its month. Missing or unparseable expiries are
// accepted; only a parseable, past expiry declines.
func tokenExpired(expiry string, now time.Time) bool {
	expiry = strings.TrimSpace(expiry)
	if expiry == "" {
		return false
	}
	t, err := time.Parse("01/06", expiry)
	if err != nil {
		return false
	}
	return !now.Before(t.AddDate(0, 1, 0))
}

// riskDraw maps a mandate deterministically into [0, 1): the first
// eight bytes of SHA-256(mandateID:merchantID) as a big-endian fraction.
// Replays of the same mandate always land in the same band.
func riskDraw(mandateID, merchantID string) float64 {
	sum := sha256.Sum256([]byte(mandateID + ":" + merchantID))
	return float64(binary.BigEndian.Uint64(sum[:8])) / (1 << 64)
}

func (a *Agent) stepUpRequired(amount, draw float64) bool {
	if !a.cfg.StepUp.Enabled {
		return false
	}
	band := a.cfg.StepUp.LowProbability
	if amount >= a.cfg.StepUp.AmountThreshold {
		band = a.cfg.StepUp.HighProbability
	}
	return draw < band
}

// ===========================================================
// Challenge lifecycle
// ===========================================================

// openChallenge returns the unexpired challenge for mandateID, or nil.
func (a *Agent) openChallenge(mandateID string) *ap2.OTPChallenge {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(now)

	state, ok := a.challenges[mandateID]
	if !ok || now.After(state.expiresAt) {
		return nil
	}
	return &ap2.OTPChallenge{
		PaymentMandateID: mandateID,
		Message:          state.message,
		OTPSentTo:        state.sentTo,
	}
}

func (a *Agent) issueChallenge(ctx context.Context, mandate *ap2.PaymentMandate) (*ap2.OTPChallenge, error) {
	contents := mandate.PaymentMandateContents
	payer := contents.PaymentResponse.PayerEmail

	code := a.cfg.OTP.DemoCode
	if !a.cfg.OTP.DemoMode {
		var err error
		code, err = a.codeFunc()
		if err != nil {
			return nil, fmt.Errorf("generate otp code: %w", err)
		}
	}

	now := a.now()
	state := &challengeState{
		code:      code,
		sentTo:    payer,
		message:   "OTP verification required. Code sent to " + payer,
		issuedAt:  now,
		expiresAt: now.Add(a.cfg.OTP.TTL.Duration),
	}

	a.mu.Lock()
	a.challenges[contents.PaymentMandateID] = state
	a.mu.Unlock()

	if a.hooks != nil {
		a.hooks.EmitChallengeIssued(ctx, observability.ChallengeIssuedEvent{
			Timestamp: now,
			MandateID: contents.PaymentMandateID,
			SentTo:    logger.RedactEmail(payer),
			ExpiresAt: state.expiresAt,
		})
	}
	return &ap2.OTPChallenge{
		PaymentMandateID: contents.PaymentMandateID,
		Message:          state.message,
		OTPSentTo:        payer,
	}, nil
}

type otpResult int

const (
	otpVerified otpResult = iota
	otpInvalid
	otpMissing
	otpExpired
	otpExhausted
)

// resolveChallenge applies one verification attempt under the lock, so
// concurrent submissions of the same code cannot double-consume.
func (a *Agent) resolveChallenge(mandateID, code string) (otpResult, int) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(now)

	state, ok := a.challenges[mandateID]
	if !ok {
		return otpMissing, 0
	}
	if now.After(state.expiresAt) {
		delete(a.challenges, mandateID)
		return otpExpired, state.attempts
	}
	if a.codeMatches(state, code) {
		delete(a.challenges, mandateID)
		return otpVerified, state.attempts + 1
	}
	state.attempts++
	if state.attempts >= a.cfg.OTP.MaxAttempts {
		delete(a.challenges, mandateID)
		return otpExhausted, state.attempts
	}
	return otpInvalid, state.attempts
}

// codeMatches accepts any six-digit code in demo mode; production mode
// requires the exact issued code.
func (a *Agent) codeMatches(state *challengeState, code string) bool {
	if a.cfg.OTP.DemoMode {
		return otpShape.MatchString(code)
	}
	return code != "" && code == state.code
}

// pruneLocked drops challenge state well past expiry. Called
// opportunistically under the lock; no background goroutine.
func (a *Agent) pruneLocked(now time.Time) {
	if now.Sub(a.lastPrune) < pruneInterval {
		return
	}
	a.lastPrune = now
	for id, state := range a.challenges {
		if now.After(state.expiresAt.Add(challengeGrace)) {
			delete(a.challenges, id)
		}
	}
}

func randomOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// ===========================================================
// Receipts
// ===========================================================

func receiptAmount(contents ap2.PaymentMandateContents) ap2.PaymentCurrencyAmount {
	amount := contents.PaymentDetailsTotal.Amount
	currency := strings.ToUpper(strings.TrimSpace(amount.Currency))
	value := money.FromFloat(currency, amount.Value).RoundBankers().Float64()
	return ap2.PaymentCurrencyAmount{Currency: currency, Value: value}
}

func (a *Agent) successReceipt(ctx context.Context, mandate *ap2.PaymentMandate) *ap2.PaymentReceipt {
	contents := mandate.PaymentMandateContents
	receipt := &ap2.PaymentReceipt{
		PaymentMandateID: contents.PaymentMandateID,
		Timestamp:        a.timestamp(),
		PaymentID:        ap2.NewPaymentID(),
		Amount:           receiptAmount(contents),
		PaymentStatus: ap2.PaymentStatus{
			Code:                   ap2.StatusSuccess,
			MerchantConfirmationID: ap2.NewMerchantConfirmationID(),
			PSPConfirmationID:      ap2.NewPSPConfirmationID(),
			NetworkConfirmationID:  ap2.NewNetworkConfirmationID(),
		},
		PaymentMethodDetails: map[string]interface{}{
			"method":      contents.PaymentResponse.MethodName,
			"payer_email": contents.PaymentResponse.PayerEmail,
		},
	}
	a.sign(ctx, receipt)
	return receipt
}

func (a *Agent) challengeReceipt(ctx context.Context, mandate *ap2.PaymentMandate, challenge *ap2.OTPChallenge) *ap2.PaymentReceipt {
	contents := mandate.PaymentMandateContents
	receipt := &ap2.PaymentReceipt{
		PaymentMandateID: contents.PaymentMandateID,
		Timestamp:        a.timestamp(),
		PaymentID:        pendingPaymentID,
		Amount:           receiptAmount(contents),
		PaymentStatus: ap2.PaymentStatus{
			Code:         ap2.StatusOTPRequired,
			ErrorMessage: ap2.OTPRequiredPrefix + " " + challenge.Message,
		},
		PaymentMethodDetails: map[string]interface{}{
			"otp_challenge": challenge,
		},
	}
	a.sign(ctx, receipt)
	return receipt
}

func (a *Agent) failureReceipt(ctx context.Context, mandate *ap2.PaymentMandate, declineErr error) *ap2.PaymentReceipt {
	contents := mandate.PaymentMandateContents
	code := string(apierrors.ErrCodeInternal)
	message := "Payment processing failed"
	if e, ok := apierrors.AsError(declineErr); ok {
		code = string(e.Kind)
		message = e.Message
	}
	receipt := &ap2.PaymentReceipt{
		PaymentMandateID: contents.PaymentMandateID,
		Timestamp:        a.timestamp(),
		PaymentID:        ap2.NewErrorPaymentID(),
		Amount:           receiptAmount(contents),
		PaymentStatus: ap2.PaymentStatus{
			Code:         code,
			ErrorMessage: message,
		},
	}
	a.sign(ctx, receipt)
	return receipt
}

// sign attaches the merchant signature. Signing failures degrade to an
// unsigned receipt rather than failing the payment.
func (a *Agent) sign(ctx context.Context, receipt *ap2.PaymentReceipt) {
	if a.signer == nil {
		return
	}
	start := a.now()
	signature, err := a.signer.SignReceipt(ctx, *receipt)
	if a.metrics != nil {
		a.metrics.ObserveUpstreamCall("signer", "sign_receipt", a.now().Sub(start), err)
	}
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("payment_id", receipt.PaymentID).
			Msg("ap2.receipt_unsigned")
		return
	}
	receipt.MerchantSignature = signature
}

// ===========================================================
// Outcome emission
// ===========================================================

func (a *Agent) decline(ctx context.Context, mandate *ap2.PaymentMandate, declineErr error, draw float64, start time.Time) (*ap2.PaymentReceipt, *ap2.OTPChallenge, error) {
	contents := mandate.PaymentMandateContents
	kind := apierrors.KindOf(declineErr)
	receipt := a.failureReceipt(ctx, mandate, declineErr)
	a.emitAdjudicated(ctx, mandate, "declined", string(kind), draw, start)
	a.logger.Warn().
		Err(declineErr).
		Str("mandate_id", contents.PaymentMandateID).
		Str("payer", logger.RedactEmail(contents.PaymentResponse.PayerEmail)).
		Str("kind", string(kind)).
		Msg("ap2.payment_declined")
	return receipt, nil, declineErr
}

func (a *Agent) emitAdjudicated(ctx context.Context, mandate *ap2.PaymentMandate, outcome, errorKind string, draw float64, start time.Time) {
	if a.hooks == nil {
		return
	}
	contents := mandate.PaymentMandateContents
	amount := contents.PaymentDetailsTotal.Amount
	a.hooks.EmitMandateAdjudicated(ctx, observability.MandateAdjudicatedEvent{
		Timestamp:  a.now(),
		MandateID:  contents.PaymentMandateID,
		MerchantID: a.merchantID,
		PayerEmail: logger.RedactEmail(contents.PaymentResponse.PayerEmail),
		Outcome:    outcome,
		ErrorKind:  errorKind,
		Amount:     money.FromFloat(amount.Currency, amount.Value).MinorUnits(),
		Currency:   strings.ToUpper(strings.TrimSpace(amount.Currency)),
		RiskDraw:   draw,
		Duration:   a.now().Sub(start),
	})
}

func (a *Agent) emitChallengeResolved(ctx context.Context, mandateID, result string, attempts int) {
	if a.hooks == nil {
		return
	}
	a.hooks.EmitChallengeResolved(ctx, observability.ChallengeResolvedEvent{
		Timestamp: a.now(),
		MandateID: mandateID,
		Result:    result,
		Attempts:  attempts,
	})
}

func (a *Agent) observeOTPRejection(mandateID string, err error, attempts int, result string) {
	a.logger.Warn().
		Err(err).
		Str("mandate_id", mandateID).
		Int("attempts", attempts).
		Str("result", result).
		Msg("ap2.otp_rejected")
	if a.metrics != nil {
		a.metrics.ObserveStepUp(result)
	}
}
