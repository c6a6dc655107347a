package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/metrics"
	"github.com/AgentCommerce/ucp/internal/money"
	"github.com/AgentCommerce/ucp/internal/products"
	"github.com/AgentCommerce/ucp/internal/promocodes"
	"github.com/AgentCommerce/ucp/pkg/ap2"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

// Adjudicator is the slice of the AP2 merchant agent the checkout flow
// depends on. ProcessPayment runs signature, integrity, and risk checks
// for an attached mandate: exactly one of (challenge, error) is set on a
// non-success outcome, and a receipt accompanies every terminal decision.
// VerifyOTP resolves an open step-up challenge.
type Adjudicator interface {
	ProcessPayment(ctx context.Context, mandate *ap2.PaymentMandate) (*ap2.PaymentReceipt, *ap2.OTPChallenge, error)
	VerifyOTP(ctx context.Context, mandate *ap2.PaymentMandate, verification ap2.OTPVerification) (*ap2.PaymentReceipt, error)
}

// Config holds session lifecycle settings.
type Config struct {
	// SessionTTL is the inactivity window after which sessions awaiting the
	// shopper (ready_for_complete, requires_escalation) fail with
	// SESSION_EXPIRED.
	SessionTTL time.Duration

	// CleanupInterval is how often the expiry reaper runs.
	CleanupInterval time.Duration

	// EnforceCatalog rejects carts whose SKUs are not active in the
	// catalog.
	EnforceCatalog bool
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
	return c
}

// successMessage is the user-facing line returned with success envelopes.
const successMessage = "Payment completed successfully!"

// Manager drives the checkout session state machine. All transitions on a
// session are serialized behind a per-session mutex; the store's version
// counter backstops that discipline.
type Manager struct {
	store   Store
	agent   Adjudicator
	catalog products.Repository
	promos  promocodes.Repository

	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	nowFunc func() time.Time

	locks sessionLocks

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithCatalog wires the product repository used for SKU enforcement.
func WithCatalog(repo products.Repository) Option {
	return func(m *Manager) { m.catalog = repo }
}

// WithPromocodes wires the promocode repository.
func WithPromocodes(repo promocodes.Repository) Option {
	return func(m *Manager) { m.promos = repo }
}

// WithLogger sets the manager's structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics wires Prometheus metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.nowFunc = now }
}

// NewManager creates a checkout manager and starts its expiry reaper.
// Callers must Stop it on shutdown.
func NewManager(store Store, agent Adjudicator, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		agent:      agent,
		cfg:        cfg.withDefaults(),
		logger:     zerolog.Nop(),
		nowFunc:    time.Now,
		locks:      sessionLocks{locks: make(map[string]*sync.Mutex)},
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.reapLoop()
	return m
}

// Stop halts the expiry reaper and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopReaper)
	<-m.reaperDone
}

func (m *Manager) now() time.Time {
	return m.nowFunc()
}

// Create opens a new session in incomplete with computed totals.
func (m *Manager) Create(ctx context.Context, req *ucp.CheckoutCreateRequest) (*ucp.CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, err.Error())
	}
	currency, err := money.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, err.Error())
	}

	if m.cfg.EnforceCatalog && m.catalog != nil {
		for _, item := range req.LineItems {
			p, err := m.catalog.GetProductBySKU(ctx, item.SKU)
			if err != nil || !p.Active {
				return nil, apierrors.Ef(apierrors.ErrCodeInvalidInput, "Unknown SKU: %s", item.SKU)
			}
		}
	}

	subtotal := money.Zero(currency)
	for _, item := range req.LineItems {
		line := money.FromFloat(currency, item.Price).MulInt(int64(item.Quantity))
		subtotal, err = subtotal.Add(line)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.ErrCodeInternal, "compute subtotal", err)
		}
	}

	applied, discount, promoErr := m.applyPromocode(ctx, req.Promocode, subtotal)

	total, err := subtotal.Sub(discount)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeInternal, "compute total", err)
	}

	id, err := NewSessionID()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeInternal, "create session", err)
	}

	now := m.now()
	sess := &Session{
		ID:             id,
		Status:         StatusIncomplete,
		LineItems:      req.LineItems,
		BuyerEmail:     req.BuyerEmail,
		Subtotal:       subtotal,
		Discount:       discount,
		Tax:            money.Zero(currency),
		Total:          total.ClampNonNegative(),
		Promocode:      applied,
		PromocodeError: promoErr,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeInternal, "store session", err)
	}

	if m.metrics != nil {
		m.metrics.CheckoutSessionsTotal.WithLabelValues(string(StatusIncomplete)).Inc()
		m.metrics.CheckoutSessionsActive.Inc()
		m.metrics.LineItemsTotal.Add(float64(len(req.LineItems)))
	}
	m.logger.Info().
		Str("session_id", id).
		Str("buyer_email", logger.RedactEmail(req.BuyerEmail)).
		Str("total", sess.Total.StringFixed()).
		Int("line_items", len(req.LineItems)).
		Msg("checkout.session_created")

	return sess.Snapshot(), nil
}

// Get returns the current session snapshot.
func (m *Manager) Get(ctx context.Context, id string) (*ucp.CheckoutSession, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, sessionLookupError(err)
	}
	return sess.Snapshot(), nil
}

// Update applies a promocode and/or attaches a signed mandate. The write
// is atomic: on any validation error nothing is persisted. Attaching a
// fresh mandate transitions the session to ready_for_complete and clears
// any open challenge; a byte-identical re-attach is a no-op.
func (m *Manager) Update(ctx context.Context, id string, req *ucp.CheckoutUpdateRequest) (*ucp.CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, err.Error())
	}

	unlock := m.locks.lock(id)
	defer unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, sessionLookupError(err)
	}
	now := m.now()
	if expired, err := m.failIfExpired(ctx, sess, now); expired {
		return nil, err
	}
	if !sess.Status.CanUpdate() {
		return nil, apierrors.Ef(apierrors.ErrCodeInvalidState,
			"Checkout session is terminal (status: %s)", sess.Status)
	}

	changed := false

	if req.Promocode != "" {
		applied, discount, promoErr := m.applyPromocode(ctx, req.Promocode, sess.Subtotal)
		if promoErr != "" {
			sess.Promocode = nil
			sess.PromocodeError = promoErr
			discount = money.Zero(sess.Subtotal.Currency)
		} else {
			sess.Promocode = applied
			sess.PromocodeError = ""
		}
		sess.Discount = discount
		total, err := sess.Subtotal.Sub(discount)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.ErrCodeInternal, "compute total", err)
		}
		sess.Total = total.ClampNonNegative()
		changed = true
	}

	if req.PaymentMandate != nil {
		if sess.MandateEqual(req.PaymentMandate) {
			// Idempotent re-attach; the challenge is not reset.
		} else {
			if req.PaymentMandate.PaymentMandateContents.PaymentMandateID == "" {
				return nil, apierrors.E(apierrors.ErrCodeMalformedMandate, "Payment mandate missing mandate id")
			}
			sess.Mandate = req.PaymentMandate
			sess.UserSignature = req.UserSignature
			sess.Status = StatusReadyForComplete
			sess.Challenge = nil
			changed = true
		}
	}

	// Whatever this update did, an attached mandate must still agree with
	// the session: totals within tolerance, same currency, payer matches
	// buyer.
	if sess.Mandate != nil {
		if err := matchMandate(sess); err != nil {
			return nil, err
		}
	}

	if !changed {
		return sess.Snapshot(), nil
	}

	sess.UpdatedAt = now
	sess.Touch(now)
	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}

	if m.metrics != nil && sess.Status == StatusReadyForComplete {
		m.metrics.CheckoutSessionsTotal.WithLabelValues(string(StatusReadyForComplete)).Inc()
	}
	m.logger.Info().
		Str("session_id", sess.ID).
		Str("status", string(sess.Status)).
		Str("mandate_id", sess.MandateID()).
		Msg("checkout.session_updated")

	return sess.Snapshot(), nil
}

// Complete drives the payment attempt. The otpCode is empty on a first
// attempt and carries the shopper's 6-digit answer on step-up retries.
// Terminal sessions replay: complete returns the cached receipt envelope,
// failed returns the original terminal error.
func (m *Manager) Complete(ctx context.Context, id, otpCode string) (*ucp.CompleteResponse, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, sessionLookupError(err)
	}

	switch sess.Status {
	case StatusComplete:
		return &ucp.CompleteResponse{
			Status:   "success",
			Checkout: sess.Snapshot(),
			Receipt:  sess.Receipt,
			Message:  successMessage,
		}, nil
	case StatusFailed:
		return nil, m.terminalError(sess)
	}

	now := m.now()
	if expired, err := m.failIfExpired(ctx, sess, now); expired {
		return nil, err
	}
	if !sess.Status.CanComplete() {
		return nil, apierrors.Ef(apierrors.ErrCodeInvalidState,
			"Checkout session not ready for completion (status: %s)", sess.Status)
	}
	if sess.Mandate == nil {
		return nil, apierrors.E(apierrors.ErrCodeInvalidState, "Payment mandate missing")
	}

	if sess.Status == StatusRequiresEscalation && otpCode == "" {
		// Re-prompt with the open challenge; no attempt is consumed.
		sess.Touch(now)
		if err := m.persist(ctx, sess); err != nil {
			return nil, err
		}
		return &ucp.CompleteResponse{
			Status:       "otp_required",
			Checkout:     sess.Snapshot(),
			OTPChallenge: sess.Challenge,
		}, nil
	}

	if otpCode != "" {
		return m.completeWithOTP(ctx, sess, otpCode, now)
	}
	return m.completeFirstAttempt(ctx, sess, now)
}

// completeFirstAttempt adjudicates the attached mandate.
func (m *Manager) completeFirstAttempt(ctx context.Context, sess *Session, now time.Time) (*ucp.CompleteResponse, error) {
	receipt, challenge, err := m.agent.ProcessPayment(ctx, sess.Mandate)
	if err != nil {
		kind := apierrors.KindOf(err)
		if !kind.IsTerminal() {
			// Adjudication itself failed; leave the session intact.
			return nil, err
		}
		return m.finishFailed(ctx, sess, kind, errorMessage(err), receipt, now)
	}

	if challenge != nil {
		sess.Status = StatusRequiresEscalation
		sess.Challenge = challenge
		sess.UpdatedAt = now
		sess.Touch(now)
		if err := m.persist(ctx, sess); err != nil {
			return nil, err
		}
		if m.metrics != nil {
			m.metrics.CheckoutSessionsTotal.WithLabelValues(string(StatusRequiresEscalation)).Inc()
			m.metrics.StepUpChallengesTotal.WithLabelValues("issued").Inc()
		}
		m.logger.Info().
			Str("session_id", sess.ID).
			Str("mandate_id", sess.MandateID()).
			Msg("checkout.step_up_required")
		return &ucp.CompleteResponse{
			Status:       "otp_required",
			Checkout:     sess.Snapshot(),
			OTPChallenge: challenge,
		}, nil
	}

	return m.finishSuccess(ctx, sess, receipt, now)
}

// completeWithOTP resolves a step-up answer.
func (m *Manager) completeWithOTP(ctx context.Context, sess *Session, otpCode string, now time.Time) (*ucp.CompleteResponse, error) {
	verification := ap2.OTPVerification{
		PaymentMandateID: sess.MandateID(),
		OTPCode:          otpCode,
	}
	receipt, err := m.agent.VerifyOTP(ctx, sess.Mandate, verification)
	if err != nil {
		kind := apierrors.KindOf(err)
		if kind.IsTerminal() {
			if m.metrics != nil {
				m.metrics.StepUpChallengesTotal.WithLabelValues(stepUpResult(kind)).Inc()
			}
			return m.finishFailed(ctx, sess, kind, errorMessage(err), receipt, now)
		}
		// Wrong code with attempts remaining: the session stays in
		// requires_escalation.
		sess.Touch(now)
		if perr := m.persist(ctx, sess); perr != nil {
			return nil, perr
		}
		if m.metrics != nil {
			m.metrics.StepUpChallengesTotal.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.StepUpChallengesTotal.WithLabelValues("verified").Inc()
	}
	return m.finishSuccess(ctx, sess, receipt, now)
}

// finishSuccess commits the terminal complete state.
func (m *Manager) finishSuccess(ctx context.Context, sess *Session, receipt *ap2.PaymentReceipt, now time.Time) (*ucp.CompleteResponse, error) {
	sess.Status = StatusComplete
	sess.Receipt = receipt
	sess.Challenge = nil
	sess.UpdatedAt = now
	sess.CompletedAt = now
	sess.Touch(now)
	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}

	m.incrementPromocodeUsage(ctx, sess)

	if m.metrics != nil {
		m.metrics.CheckoutSessionsTotal.WithLabelValues(string(StatusComplete)).Inc()
		m.metrics.CheckoutSessionsActive.Dec()
		m.metrics.CheckoutDuration.WithLabelValues("success").Observe(now.Sub(sess.CreatedAt).Seconds())
		m.metrics.CheckoutAmountTotal.WithLabelValues(sess.Total.Currency).Add(float64(sess.Total.MinorUnits()))
	}
	m.logger.Info().
		Str("session_id", sess.ID).
		Str("mandate_id", sess.MandateID()).
		Str("payment_id", receipt.PaymentID).
		Str("amount", sess.Total.StringFixed()).
		Msg("checkout.payment_completed")

	return &ucp.CompleteResponse{
		Status:   "success",
		Checkout: sess.Snapshot(),
		Receipt:  receipt,
		Message:  successMessage,
	}, nil
}

// finishFailed commits the terminal failed state and returns the failed
// envelope carrying the failure receipt.
func (m *Manager) finishFailed(ctx context.Context, sess *Session, kind apierrors.ErrorCode, message string, receipt *ap2.PaymentReceipt, now time.Time) (*ucp.CompleteResponse, error) {
	sess.Fail(kind, message, now)
	sess.Receipt = receipt
	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.CheckoutSessionsTotal.WithLabelValues(string(StatusFailed)).Inc()
		m.metrics.CheckoutSessionsActive.Dec()
		m.metrics.CheckoutDuration.WithLabelValues("failed").Observe(now.Sub(sess.CreatedAt).Seconds())
		m.metrics.ValidationFailuresTotal.WithLabelValues(string(kind)).Inc()
	}
	m.logger.Warn().
		Str("session_id", sess.ID).
		Str("mandate_id", sess.MandateID()).
		Str("error_kind", string(kind)).
		Str("message", message).
		Msg("checkout.payment_failed")

	return &ucp.CompleteResponse{
		Status:   "failed",
		Checkout: sess.Snapshot(),
		Receipt:  receipt,
		Message:  message,
	}, nil
}

// terminalError rebuilds the error a failed session originally reported.
func (m *Manager) terminalError(sess *Session) error {
	kind := sess.FailureKind
	if kind == "" {
		kind = apierrors.ErrCodeInvalidState
	}
	message := sess.FailureMessage
	if message == "" {
		message = "Payment failed"
	}
	return apierrors.E(kind, message)
}

// failIfExpired lazily enforces the inactivity window when a request beats
// the reaper to a stale session. Returns (true, terminal error) after
// transitioning.
func (m *Manager) failIfExpired(ctx context.Context, sess *Session, now time.Time) (bool, error) {
	if !sess.ExpiredAt(now, m.cfg.SessionTTL) {
		return false, nil
	}
	m.expireSession(ctx, sess, now)
	return true, m.terminalError(sess)
}

// expireSession transitions a stale session to failed/SESSION_EXPIRED.
func (m *Manager) expireSession(ctx context.Context, sess *Session, now time.Time) {
	sess.Fail(apierrors.ErrCodeSessionExpired, "Checkout session expired", now)
	if err := m.persist(ctx, sess); err != nil {
		m.logger.Error().Err(err).Str("session_id", sess.ID).Msg("checkout.expire_failed")
		return
	}
	if m.metrics != nil {
		m.metrics.SessionsExpiredTotal.Inc()
		m.metrics.CheckoutSessionsTotal.WithLabelValues(string(StatusFailed)).Inc()
		m.metrics.CheckoutSessionsActive.Dec()
		m.metrics.CheckoutDuration.WithLabelValues("expired").Observe(now.Sub(sess.CreatedAt).Seconds())
	}
	m.logger.Warn().
		Str("session_id", sess.ID).
		Time("last_activity", sess.LastActivityAt).
		Msg("checkout.session_expired")
}

// reapLoop periodically fails sessions whose inactivity window lapsed.
func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	defer close(m.reaperDone)

	for {
		select {
		case <-m.stopReaper:
			return
		case <-ticker.C:
			m.reapExpired(context.Background())
		}
	}
}

// reapExpired runs one reaper pass and returns how many sessions it
// failed.
func (m *Manager) reapExpired(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.SessionTTL)
	stale, err := m.store.ListStale(ctx, cutoff)
	if err != nil {
		m.logger.Error().Err(err).Msg("checkout.reaper_list_failed")
		return 0
	}

	reaped := 0
	for _, candidate := range stale {
		unlock := m.locks.lock(candidate.ID)
		sess, err := m.store.Get(ctx, candidate.ID)
		if err == nil && sess.ExpiredAt(m.now(), m.cfg.SessionTTL) {
			m.expireSession(ctx, sess, m.now())
			reaped++
		}
		unlock()
	}
	return reaped
}

// applyPromocode resolves and validates a code against the subtotal.
// Returns the applied promocode view and discount, or a user-facing error
// message; promocode problems never fail the request.
func (m *Manager) applyPromocode(ctx context.Context, code string, subtotal money.Amount) (*ucp.AppliedPromocode, money.Amount, string) {
	zero := money.Zero(subtotal.Currency)
	if code == "" {
		return nil, zero, ""
	}
	if m.promos == nil {
		m.countPromocode("rejected")
		return nil, zero, "Invalid promocode"
	}

	promo, err := m.promos.GetByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, promocodes.ErrPromocodeNotFound) {
			m.logger.Error().Err(err).Str("promocode", promocodes.NormalizeCode(code)).Msg("checkout.promocode_lookup_failed")
		}
		m.countPromocode("rejected")
		return nil, zero, "Invalid promocode"
	}
	if err := promo.Validate(subtotal); err != nil {
		m.countPromocode("rejected")
		return nil, zero, err.Error()
	}

	discount := promo.CalculateDiscount(subtotal)
	m.countPromocode("applied")
	return &ucp.AppliedPromocode{
		Code:           promo.Code,
		Description:    promo.Description,
		DiscountType:   string(promo.DiscountType),
		DiscountValue:  promo.DiscountValue,
		DiscountAmount: discount.RoundBankers().Float64(),
	}, discount, ""
}

func (m *Manager) countPromocode(result string) {
	if m.metrics != nil {
		m.metrics.PromocodesTotal.WithLabelValues(result).Inc()
	}
}

// incrementPromocodeUsage records a successful redemption. Failures are
// logged and swallowed: the payment already committed.
func (m *Manager) incrementPromocodeUsage(ctx context.Context, sess *Session) {
	if sess.Promocode == nil || m.promos == nil {
		return
	}
	if err := m.promos.IncrementUsage(ctx, sess.Promocode.Code); err != nil {
		m.logger.Warn().Err(err).
			Str("session_id", sess.ID).
			Str("promocode", sess.Promocode.Code).
			Msg("checkout.promocode_usage_not_recorded")
	}
}

// persist writes the session back, translating store sentinels.
func (m *Manager) persist(ctx context.Context, sess *Session) error {
	err := m.store.Update(ctx, sess)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMandateBound):
		return apierrors.E(apierrors.ErrCodeMandateReuse,
			"Payment mandate already attached to another checkout session")
	case errors.Is(err, ErrSessionNotFound):
		return apierrors.E(apierrors.ErrCodeNotFound, "Checkout session not found")
	default:
		return apierrors.Wrap(apierrors.ErrCodeInternal, "store session", err)
	}
}

// matchMandate enforces the mandate/session agreement rules.
func matchMandate(sess *Session) error {
	contents := sess.Mandate.PaymentMandateContents
	amount := contents.PaymentDetailsTotal.Amount

	mandateCurrency := strings.ToUpper(strings.TrimSpace(amount.Currency))
	if mandateCurrency != sess.Total.Currency {
		return apierrors.Ef(apierrors.ErrCodeMandateSessionMismatch,
			"Mandate currency %s does not match session currency %s", amount.Currency, sess.Total.Currency)
	}
	mandateTotal := money.FromFloat(mandateCurrency, amount.Value)
	if !mandateTotal.EqualWithinTolerance(sess.Total) {
		return apierrors.Ef(apierrors.ErrCodeMandateSessionMismatch,
			"Mandate total %s does not match session total %s", mandateTotal.StringFixed(), sess.Total.StringFixed())
	}
	if !strings.EqualFold(contents.PaymentResponse.PayerEmail, sess.BuyerEmail) {
		return apierrors.E(apierrors.ErrCodeMandateSessionMismatch,
			"Mandate payer email does not match buyer email")
	}
	return nil
}

func sessionLookupError(err error) error {
	if errors.Is(err, ErrSessionNotFound) {
		return apierrors.E(apierrors.ErrCodeNotFound, "Checkout session not found")
	}
	return apierrors.Wrap(apierrors.ErrCodeInternal, "load session", err)
}

// errorMessage extracts the human-readable message from a typed error.
func errorMessage(err error) string {
	if appErr, ok := apierrors.AsError(err); ok {
		return appErr.Message
	}
	return err.Error()
}

func stepUpResult(kind apierrors.ErrorCode) string {
	switch kind {
	case apierrors.ErrCodeChallengeExhausted:
		return "exhausted"
	case apierrors.ErrCodeChallengeExpired:
		return "expired"
	default:
		return "failed"
	}
}

// sessionLocks hands out one mutex per session id.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the session's mutex and returns its release func.
func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sync.Mutex{}
		l.locks[id] = sl
	}
	l.mu.Unlock()

	sl.Lock()
	return sl.Unlock
}
