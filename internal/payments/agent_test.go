package payments

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/auth"
	"github.com/AgentCommerce/ucp/internal/config"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/observability"
	"github.com/AgentCommerce/ucp/pkg/ap2"
)

var (
	paymentIDPattern      = regexp.MustCompile(`^PAY-[0-9A-F]{12}$`)
	errorPaymentIDPattern = regexp.MustCompile(`^ERR-[0-9a-f]{8}$`)
	confirmationPattern   = regexp.MustCompile(`^(MCH|PSP|NET)-[0-9A-F]{8}$`)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	base, _ := time.Parse(time.RFC3339, "2026-03-01T10:00:00Z")
	return &fakeClock{t: base}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// demoAuthorization is a shape-valid signature the demo verifier accepts.
func demoAuthorization() string {
	sig := make([]byte, ed25519.SignatureSize)
	for i := range sig {
		sig[i] = byte(i + 1)
	}
	return auth.EncodeBase64(sig)
}

func testMandate(total float64, currency, email string) *ap2.PaymentMandate {
	return &ap2.PaymentMandate{
		PaymentMandateContents: ap2.PaymentMandateContents{
			PaymentMandateID: ap2.NewMandateID(),
			Timestamp:        "2026-03-01T10:00:00Z",
			PaymentDetailsID: ap2.NewPaymentDetailsID(),
			PaymentDetailsTotal: ap2.PaymentItem{
				Label:  "Total",
				Amount: ap2.PaymentCurrencyAmount{Currency: currency, Value: total},
			},
			PaymentResponse: ap2.PaymentResponse{
				RequestID:  ap2.NewPaymentDetailsID(),
				MethodName: "CARD",
				Details: ap2.CardDetails{
					Token:        "4111222233334444",
					TokenExpiry:  "12/29",
					Cryptogram:   "0123456789ABCDEF0123456789ABCDEF",
					CardLastFour: "4444",
					CardNetwork:  "visa",
				},
				PayerEmail: email,
			},
			MerchantAgent: "merchant-demo",
		},
		UserAuthorization: demoAuthorization(),
	}
}

func demoConfig() config.PaymentsConfig {
	return config.PaymentsConfig{
		OTP: config.OTPConfig{
			DemoMode:    true,
			DemoCode:    "123456",
			TTL:         config.Duration{Duration: 5 * time.Minute},
			MaxAttempts: 3,
		},
	}
}

// stepUpConfig challenges every mandate: both bands at probability 1.
func stepUpConfig() config.PaymentsConfig {
	cfg := demoConfig()
	cfg.StepUp = config.StepUpConfig{
		Enabled:         true,
		AmountThreshold: 100,
		LowProbability:  1.0,
		HighProbability: 1.0,
	}
	return cfg
}

func newTestAgent(t *testing.T, cfg config.PaymentsConfig, opts ...Option) (*Agent, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	all := append([]Option{WithLogger(zerolog.Nop()), WithClock(clock.Now)}, opts...)
	agent, err := NewAgent("merchant-demo", cfg, all...)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	return agent, clock
}

type captureHooks struct {
	mu          sync.Mutex
	adjudicated []observability.MandateAdjudicatedEvent
	issued      []observability.ChallengeIssuedEvent
	resolved    []observability.ChallengeResolvedEvent
}

func (h *captureHooks) Name() string { return "capture" }

func (h *captureHooks) OnMandateAdjudicated(_ context.Context, e observability.MandateAdjudicatedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adjudicated = append(h.adjudicated, e)
}

func (h *captureHooks) OnChallengeIssued(_ context.Context, e observability.ChallengeIssuedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.issued = append(h.issued, e)
}

func (h *captureHooks) OnChallengeResolved(_ context.Context, e observability.ChallengeResolvedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolved = append(h.resolved, e)
}

func (h *captureHooks) snapshot() ([]observability.MandateAdjudicatedEvent, []observability.ChallengeIssuedEvent, []observability.ChallengeResolvedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]observability.MandateAdjudicatedEvent(nil), h.adjudicated...),
		append([]observability.ChallengeIssuedEvent(nil), h.issued...),
		append([]observability.ChallengeResolvedEvent(nil), h.resolved...)
}

func hookRegistry(h *captureHooks) *observability.Registry {
	registry := observability.NewRegistry(zerolog.Nop())
	registry.RegisterMandateHook(h)
	registry.RegisterStepUpHook(h)
	return registry
}

func TestProcessPaymentApproves(t *testing.T) {
	agent, _ := newTestAgent(t, demoConfig())
	mandate := testMandate(9.98, "SGD", "a@example.com")

	receipt, challenge, err := agent.ProcessPayment(context.Background(), mandate)
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if challenge != nil {
		t.Fatalf("unexpected challenge: %+v", challenge)
	}
	if receipt == nil {
		t.Fatal("receipt is nil")
	}
	if !receipt.PaymentStatus.IsSuccess() {
		t.Fatalf("status = %s, want %s", receipt.PaymentStatus.Code, ap2.StatusSuccess)
	}
	if !paymentIDPattern.MatchString(receipt.PaymentID) {
		t.Errorf("payment id %q does not match %s", receipt.PaymentID, paymentIDPattern)
	}
	for _, id := range []string{
		receipt.PaymentStatus.MerchantConfirmationID,
		receipt.PaymentStatus.PSPConfirmationID,
		receipt.PaymentStatus.NetworkConfirmationID,
	} {
		if !confirmationPattern.MatchString(id) {
			t.Errorf("confirmation id %q does not match %s", id, confirmationPattern)
		}
	}
	if receipt.PaymentMandateID != mandate.PaymentMandateContents.PaymentMandateID {
		t.Errorf("receipt mandate id = %q", receipt.PaymentMandateID)
	}
	if receipt.Amount.Currency != "SGD" || receipt.Amount.Value != 9.98 {
		t.Errorf("amount = %+v", receipt.Amount)
	}
	if receipt.Timestamp != "2026-03-01T10:00:00Z" {
		t.Errorf("timestamp = %q", receipt.Timestamp)
	}
	if got := receipt.PaymentMethodDetails["payer_email"]; got != "a@example.com" {
		t.Errorf("payer_email detail = %v", got)
	}
	if receipt.MerchantSignature != "" {
		t.Errorf("unexpected signature without signer: %q", receipt.MerchantSignature)
	}
}

func TestProcessPaymentDeclines(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ap2.PaymentMandate)
		wantKind apierrors.ErrorCode
		wantMsg  string
	}{
		{
			name:     "missing mandate id",
			mutate:   func(m *ap2.PaymentMandate) { m.PaymentMandateContents.PaymentMandateID = "" },
			wantKind: apierrors.ErrCodeMalformedMandate,
			wantMsg:  "Invalid payment mandate",
		},
		{
			name:     "zero amount",
			mutate:   func(m *ap2.PaymentMandate) { m.PaymentMandateContents.PaymentDetailsTotal.Amount.Value = 0 },
			wantKind: apierrors.ErrCodeMalformedMandate,
			wantMsg:  "Payment amount must be positive",
		},
		{
			name:     "negative amount",
			mutate:   func(m *ap2.PaymentMandate) { m.PaymentMandateContents.PaymentDetailsTotal.Amount.Value = -5 },
			wantKind: apierrors.ErrCodeMalformedMandate,
			wantMsg:  "Payment amount must be positive",
		},
		{
			name:     "invalid currency",
			mutate:   func(m *ap2.PaymentMandate) { m.PaymentMandateContents.PaymentDetailsTotal.Amount.Currency = "SG" },
			wantKind: apierrors.ErrCodeMalformedMandate,
			wantMsg:  `Invalid currency "SG"`,
		},
		{
			name:     "expired token",
			mutate:   func(m *ap2.PaymentMandate) { m.PaymentMandateContents.PaymentResponse.Details.TokenExpiry = "01/20" },
			wantKind: apierrors.ErrCodeMalformedMandate,
			wantMsg:  "Payment token expired. Please retry the transaction.",
		},
		{
			name:     "missing authorization",
			mutate:   func(m *ap2.PaymentMandate) { m.UserAuthorization = "" },
			wantKind: apierrors.ErrCodeInvalidAuthorization,
			wantMsg:  "Invalid mandate signature",
		},
		{
			name:     "malformed authorization",
			mutate:   func(m *ap2.PaymentMandate) { m.UserAuthorization = "%%%" },
			wantKind: apierrors.ErrCodeInvalidAuthorization,
			wantMsg:  "Invalid mandate signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent, _ := newTestAgent(t, demoConfig())
			mandate := testMandate(9.98, "SGD", "a@example.com")
			tt.mutate(mandate)

			receipt, challenge, err := agent.ProcessPayment(context.Background(), mandate)
			if err == nil {
				t.Fatal("expected decline error")
			}
			if kind := apierrors.KindOf(err); kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", kind, tt.wantKind)
			}
			apiErr, ok := apierrors.AsError(err)
			if !ok {
				t.Fatalf("error %v is not an API error", err)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
			if challenge != nil {
				t.Errorf("unexpected challenge: %+v", challenge)
			}
			if receipt == nil {
				t.Fatal("decline must still produce a receipt")
			}
			if !errorPaymentIDPattern.MatchString(receipt.PaymentID) {
				t.Errorf("payment id %q does not match %s", receipt.PaymentID, errorPaymentIDPattern)
			}
			if receipt.PaymentStatus.Code != string(tt.wantKind) {
				t.Errorf("receipt status = %q, want %q", receipt.PaymentStatus.Code, tt.wantKind)
			}
			if receipt.PaymentStatus.ErrorMessage != tt.wantMsg {
				t.Errorf("receipt message = %q, want %q", receipt.PaymentStatus.ErrorMessage, tt.wantMsg)
			}
		})
	}
}

func TestTokenExpired(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2026-03-01T10:00:00Z")

	tests := []struct {
		name   string
		expiry string
		want   bool
	}{
		{"empty accepted", "", false},
		{"future", "12/29", false},
		{"current month still valid", "03/26", false},
		{"previous month expired", "02/26", true},
		{"distant past", "01/20", true},
		{"unparseable month", "13/26", false},
		{"garbage accepted", "next year", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tokenExpired(tt.expiry, now); got != tt.want {
				t.Errorf("tokenExpired(%q) = %v, want %v", tt.expiry, got, tt.want)
			}
		})
	}
}

func TestStepUpRequired(t *testing.T) {
	cfg := demoConfig()
	cfg.StepUp = config.StepUpConfig{
		Enabled:         true,
		AmountThreshold: 100,
		LowProbability:  0.10,
		HighProbability: 0.30,
	}
	agent, _ := newTestAgent(t, cfg)

	tests := []struct {
		name   string
		amount float64
		draw   float64
		want   bool
	}{
		{"low band hit", 50, 0.05, true},
		{"low band miss", 50, 0.15, false},
		{"high band hit", 150, 0.15, true},
		{"high band miss", 150, 0.35, false},
		{"threshold uses high band", 100, 0.25, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := agent.stepUpRequired(tt.amount, tt.draw); got != tt.want {
				t.Errorf("stepUpRequired(%v, %v) = %v, want %v", tt.amount, tt.draw, got, tt.want)
			}
		})
	}

	disabled, _ := newTestAgent(t, demoConfig())
	if disabled.stepUpRequired(50, 0.0) {
		t.Error("step-up fired while disabled")
	}
}

func TestRiskDraw(t *testing.T) {
	d1 := riskDraw("PM-0011223344556677", "merchant-demo")
	d2 := riskDraw("PM-0011223344556677", "merchant-demo")
	if d1 != d2 {
		t.Fatalf("draw not deterministic: %v vs %v", d1, d2)
	}
	if d1 < 0 || d1 >= 1 {
		t.Fatalf("draw %v outside [0, 1)", d1)
	}
	if d3 := riskDraw("PM-FFEEDDCCBBAA9988", "merchant-demo"); d3 == d1 {
		t.Errorf("different mandates drew the same value %v", d3)
	}
	if d4 := riskDraw("PM-0011223344556677", "other-merchant"); d4 == d1 {
		t.Errorf("different merchants drew the same value %v", d4)
	}
}

func TestProcessPaymentStepUp(t *testing.T) {
	hooks := &captureHooks{}
	agent, _ := newTestAgent(t, stepUpConfig(), WithHooks(hookRegistry(hooks)))
	mandate := testMandate(9.98, "SGD", "alice@example.com")

	receipt, challenge, err := agent.ProcessPayment(context.Background(), mandate)
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if challenge == nil {
		t.Fatal("expected a challenge")
	}
	if challenge.PaymentMandateID != mandate.PaymentMandateContents.PaymentMandateID {
		t.Errorf("challenge mandate id = %q", challenge.PaymentMandateID)
	}
	if challenge.Message != "OTP verification required. Code sent to alice@example.com" {
		t.Errorf("challenge message = %q", challenge.Message)
	}
	if challenge.OTPSentTo != "alice@example.com" {
		t.Errorf("otp_sent_to = %q", challenge.OTPSentTo)
	}

	if receipt == nil {
		t.Fatal("interim receipt is nil")
	}
	if receipt.PaymentID != pendingPaymentID {
		t.Errorf("payment id = %q, want %q", receipt.PaymentID, pendingPaymentID)
	}
	if receipt.PaymentStatus.Code != ap2.StatusOTPRequired {
		t.Errorf("status = %q, want %q", receipt.PaymentStatus.Code, ap2.StatusOTPRequired)
	}
	if !strings.HasPrefix(receipt.PaymentStatus.ErrorMessage, ap2.OTPRequiredPrefix) {
		t.Errorf("error message %q lacks prefix %q", receipt.PaymentStatus.ErrorMessage, ap2.OTPRequiredPrefix)
	}
	if receipt.PaymentMethodDetails["otp_challenge"] == nil {
		t.Error("interim receipt carries no otp_challenge detail")
	}

	adjudicated, issued, _ := hooks.snapshot()
	if len(adjudicated) != 1 || adjudicated[0].Outcome != "step_up" {
		t.Fatalf("adjudicated events = %+v", adjudicated)
	}
	if adjudicated[0].PayerEmail != "al***@example.com" {
		t.Errorf("hook payer email %q is not redacted", adjudicated[0].PayerEmail)
	}
	if len(issued) != 1 || issued[0].SentTo != "al***@example.com" {
		t.Fatalf("issued events = %+v", issued)
	}
}

func TestProcessPaymentReissuesOpenChallenge(t *testing.T) {
	hooks := &captureHooks{}
	agent, _ := newTestAgent(t, stepUpConfig(), WithHooks(hookRegistry(hooks)))
	mandate := testMandate(9.98, "SGD", "a@example.com")

	_, first, err := agent.ProcessPayment(context.Background(), mandate)
	if err != nil || first == nil {
		t.Fatalf("first ProcessPayment: challenge=%v err=%v", first, err)
	}
	_, second, err := agent.ProcessPayment(context.Background(), mandate)
	if err != nil || second == nil {
		t.Fatalf("second ProcessPayment: challenge=%v err=%v", second, err)
	}
	if second.Message != first.Message {
		t.Errorf("reissued challenge message changed: %q vs %q", second.Message, first.Message)
	}

	_, issued, _ := hooks.snapshot()
	if len(issued) != 1 {
		t.Fatalf("issued %d challenges, want 1 (reissue must not mint a new one)", len(issued))
	}
}

func TestProcessPaymentReplacesExpiredChallenge(t *testing.T) {
	cfg := stepUpConfig()
	cfg.OTP.DemoMode = false
	codes := []string{"111111", "222222"}
	var calls int
	gen := func() (string, error) {
		code := codes[calls]
		calls++
		return code, nil
	}
	agent, clock := newTestAgent(t, cfg, WithCodeGenerator(gen))
	mandate := testMandate(9.98, "SGD", "a@example.com")

	if _, challenge, err := agent.ProcessPayment(context.Background(), mandate); err != nil || challenge == nil {
		t.Fatalf("first ProcessPayment: challenge=%v err=%v", challenge, err)
	}

	clock.Advance(6 * time.Minute)

	if _, challenge, err := agent.ProcessPayment(context.Background(), mandate); err != nil || challenge == nil {
		t.Fatalf("second ProcessPayment: challenge=%v err=%v", challenge, err)
	}
	if calls != 2 {
		t.Fatalf("code generator called %d times, want 2", calls)
	}

	// The stale code no longer verifies; the fresh one does.
	if _, err := agent.VerifyOTP(context.Background(), mandate, ap2.OTPVerification{OTPCode: "111111"}); apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
		t.Fatalf("stale code: err = %v", err)
	}
	receipt, err := agent.VerifyOTP(context.Background(), mandate, ap2.OTPVerification{OTPCode: "222222"})
	if err != nil {
		t.Fatalf("fresh code: %v", err)
	}
	if !receipt.PaymentStatus.IsSuccess() {
		t.Fatalf("status = %s", receipt.PaymentStatus.Code)
	}
}

func TestVerifyOTPDemoMode(t *testing.T) {
	agent, _ := newTestAgent(t, stepUpConfig())
	mandate := testMandate(9.98, "SGD", "a@example.com")
	ctx := context.Background()

	if _, challenge, err := agent.ProcessPayment(ctx, mandate); err != nil || challenge == nil {
		t.Fatalf("ProcessPayment: challenge=%v err=%v", challenge, err)
	}

	// Demo mode still requires six digits.
	receipt, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "12345"})
	if apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
		t.Fatalf("five digits: err = %v", err)
	}
	if receipt == nil || receipt.PaymentID != invalidOTPPaymentID {
		t.Fatalf("invalid-OTP receipt = %+v", receipt)
	}

	// Any six-digit code passes, not just the configured one.
	receipt, err = agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "999999"})
	if err != nil {
		t.Fatalf("six digits: %v", err)
	}
	if !receipt.PaymentStatus.IsSuccess() {
		t.Fatalf("status = %s", receipt.PaymentStatus.Code)
	}
	if !paymentIDPattern.MatchString(receipt.PaymentID) {
		t.Errorf("payment id = %q", receipt.PaymentID)
	}

	// The challenge is consumed by success.
	if _, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "999999"}); apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
		t.Fatalf("consumed challenge: err = %v", err)
	}
}

func TestVerifyOTPProductionExactMatch(t *testing.T) {
	cfg := stepUpConfig()
	cfg.OTP.DemoMode = false
	gen := func() (string, error) { return "654321", nil }
	agent, _ := newTestAgent(t, cfg, WithCodeGenerator(gen))
	mandate := testMandate(9.98, "SGD", "a@example.com")
	ctx := context.Background()

	if _, challenge, err := agent.ProcessPayment(ctx, mandate); err != nil || challenge == nil {
		t.Fatalf("ProcessPayment: challenge=%v err=%v", challenge, err)
	}

	// The demo code is not a backdoor in production mode.
	if _, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "123456"}); apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
		t.Fatalf("demo code: err = %v", err)
	}

	receipt, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "654321"})
	if err != nil {
		t.Fatalf("issued code: %v", err)
	}
	if !receipt.PaymentStatus.IsSuccess() {
		t.Fatalf("status = %s", receipt.PaymentStatus.Code)
	}
}

func TestVerifyOTPExhaustion(t *testing.T) {
	hooks := &captureHooks{}
	cfg := stepUpConfig()
	cfg.OTP.DemoMode = false
	gen := func() (string, error) { return "654321", nil }
	agent, _ := newTestAgent(t, cfg, WithCodeGenerator(gen), WithHooks(hookRegistry(hooks)))
	mandate := testMandate(9.98, "SGD", "a@example.com")
	ctx := context.Background()

	if _, challenge, err := agent.ProcessPayment(ctx, mandate); err != nil || challenge == nil {
		t.Fatalf("ProcessPayment: challenge=%v err=%v", challenge, err)
	}

	for i, code := range []string{"000000", "111111"} {
		if _, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: code}); apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
			t.Fatalf("attempt %d: err = %v", i+1, err)
		}
	}

	receipt, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "222222"})
	if apierrors.KindOf(err) != apierrors.ErrCodeChallengeExhausted {
		t.Fatalf("third attempt: err = %v", err)
	}
	if receipt == nil {
		t.Fatal("exhaustion must still produce a receipt")
	}
	if receipt.PaymentStatus.ErrorMessage != "Maximum OTP attempts exceeded" {
		t.Errorf("receipt message = %q", receipt.PaymentStatus.ErrorMessage)
	}
	if !errorPaymentIDPattern.MatchString(receipt.PaymentID) {
		t.Errorf("payment id = %q", receipt.PaymentID)
	}

	// Even the correct code is dead after exhaustion.
	if _, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "654321"}); apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
		t.Fatalf("post-exhaustion: err = %v", err)
	}

	_, _, resolved := hooks.snapshot()
	var results []string
	for _, e := range resolved {
		results = append(results, e.Result)
	}
	want := []string{"invalid", "invalid", "exhausted", "invalid"}
	if len(results) != len(want) {
		t.Fatalf("resolved results = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("resolved results = %v, want %v", results, want)
		}
	}
}

func TestVerifyOTPExpiry(t *testing.T) {
	agent, clock := newTestAgent(t, stepUpConfig())
	mandate := testMandate(9.98, "SGD", "a@example.com")
	ctx := context.Background()

	if _, challenge, err := agent.ProcessPayment(ctx, mandate); err != nil || challenge == nil {
		t.Fatalf("ProcessPayment: challenge=%v err=%v", challenge, err)
	}

	clock.Advance(5*time.Minute + time.Second)

	receipt, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "123456"})
	if apierrors.KindOf(err) != apierrors.ErrCodeChallengeExpired {
		t.Fatalf("expired challenge: err = %v", err)
	}
	if receipt == nil || receipt.PaymentStatus.ErrorMessage != "OTP challenge expired" {
		t.Fatalf("receipt = %+v", receipt)
	}

	// Expiry consumed the challenge state.
	if _, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "123456"}); apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
		t.Fatalf("second verify: err = %v", err)
	}
}

func TestVerifyOTPWithoutChallenge(t *testing.T) {
	agent, _ := newTestAgent(t, demoConfig())
	mandate := testMandate(9.98, "SGD", "a@example.com")

	receipt, err := agent.VerifyOTP(context.Background(), mandate, ap2.OTPVerification{
		PaymentMandateID: mandate.PaymentMandateContents.PaymentMandateID,
		OTPCode:          "123456",
	})
	if apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
		t.Fatalf("err = %v", err)
	}
	if receipt == nil || receipt.PaymentID != invalidOTPPaymentID {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestChallengeAttemptsSurviveReissue(t *testing.T) {
	cfg := stepUpConfig()
	cfg.OTP.DemoMode = false
	var calls int
	gen := func() (string, error) {
		calls++
		return "654321", nil
	}
	agent, _ := newTestAgent(t, cfg, WithCodeGenerator(gen))
	mandate := testMandate(9.98, "SGD", "a@example.com")
	ctx := context.Background()

	if _, challenge, err := agent.ProcessPayment(ctx, mandate); err != nil || challenge == nil {
		t.Fatalf("ProcessPayment: challenge=%v err=%v", challenge, err)
	}
	if _, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "000000"}); apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
		t.Fatalf("first wrong code: err = %v", err)
	}

	// Resubmitting the mandate re-presents the open challenge without
	// minting a new code or resetting the attempt count.
	if _, challenge, err := agent.ProcessPayment(ctx, mandate); err != nil || challenge == nil {
		t.Fatalf("resubmit: challenge=%v err=%v", challenge, err)
	}
	if calls != 1 {
		t.Fatalf("code generator called %d times, want 1", calls)
	}

	if _, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "111111"}); apierrors.KindOf(err) != apierrors.ErrCodeInvalidOTP {
		t.Fatalf("second wrong code: err = %v", err)
	}
	if _, err := agent.VerifyOTP(ctx, mandate, ap2.OTPVerification{OTPCode: "222222"}); apierrors.KindOf(err) != apierrors.ErrCodeChallengeExhausted {
		t.Fatalf("third wrong code: err = %v", err)
	}
}

func TestProcessPaymentDirectoryCredentials(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := demoConfig()
	cfg.Credentials = map[string]string{"alice@example.com": auth.EncodeBase64(pub)}
	agent, _ := newTestAgent(t, cfg)
	ctx := context.Background()

	signMandate := func(m *ap2.PaymentMandate) {
		t.Helper()
		digest, err := ap2.ContentsDigest(m.PaymentMandateContents)
		if err != nil {
			t.Fatalf("ContentsDigest: %v", err)
		}
		m.UserAuthorization = auth.SignMessage(priv, digest)
	}

	mandate := testMandate(9.98, "SGD", "alice@example.com")
	signMandate(mandate)
	receipt, _, err := agent.ProcessPayment(ctx, mandate)
	if err != nil {
		t.Fatalf("signed mandate declined: %v", err)
	}
	if !receipt.PaymentStatus.IsSuccess() {
		t.Fatalf("status = %s", receipt.PaymentStatus.Code)
	}

	// Changing the contents after signing invalidates the authorization.
	tampered := testMandate(9.98, "SGD", "alice@example.com")
	signMandate(tampered)
	tampered.PaymentMandateContents.PaymentDetailsTotal.Amount.Value = 8.98
	receipt, _, err = agent.ProcessPayment(ctx, tampered)
	if apierrors.KindOf(err) != apierrors.ErrCodeInvalidAuthorization {
		t.Fatalf("tampered mandate: err = %v", err)
	}
	if receipt.PaymentStatus.Code != string(apierrors.ErrCodeInvalidAuthorization) {
		t.Errorf("receipt status = %q", receipt.PaymentStatus.Code)
	}

	// A shape-valid but unregistered signature is not enough once
	// credentials are configured.
	unsigned := testMandate(9.98, "SGD", "alice@example.com")
	if _, _, err := agent.ProcessPayment(ctx, unsigned); apierrors.KindOf(err) != apierrors.ErrCodeInvalidAuthorization {
		t.Fatalf("demo signature with directory verifier: err = %v", err)
	}
}

func TestReceiptSigning(t *testing.T) {
	cfg := demoConfig()
	cfg.Signer = config.SignerConfig{Secret: "test-secret"}
	agent, _ := newTestAgent(t, cfg)
	ctx := context.Background()

	receipt, _, err := agent.ProcessPayment(ctx, testMandate(9.98, "SGD", "a@example.com"))
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if receipt.MerchantSignature == "" {
		t.Fatal("receipt is unsigned")
	}

	// The signature covers the canonical receipt, so re-signing the
	// signed receipt reproduces it.
	signer := auth.NewReceiptSigner(config.SignerConfig{Secret: "test-secret"})
	want, err := signer.SignReceipt(ctx, *receipt)
	if err != nil {
		t.Fatalf("SignReceipt: %v", err)
	}
	if receipt.MerchantSignature != want {
		t.Errorf("signature = %q, want %q", receipt.MerchantSignature, want)
	}
}

type failingSigner struct{}

func (failingSigner) SignReceipt(context.Context, ap2.PaymentReceipt) (string, error) {
	return "", errors.New("signer offline")
}

func TestReceiptSigningDegradesToUnsigned(t *testing.T) {
	agent, _ := newTestAgent(t, demoConfig(), WithSigner(failingSigner{}))

	receipt, _, err := agent.ProcessPayment(context.Background(), testMandate(9.98, "SGD", "a@example.com"))
	if err != nil {
		t.Fatalf("signer failure must not fail the payment: %v", err)
	}
	if !receipt.PaymentStatus.IsSuccess() {
		t.Fatalf("status = %s", receipt.PaymentStatus.Code)
	}
	if receipt.MerchantSignature != "" {
		t.Errorf("unexpected signature %q", receipt.MerchantSignature)
	}
}

func TestAdjudicationHookOutcomes(t *testing.T) {
	hooks := &captureHooks{}
	agent, _ := newTestAgent(t, demoConfig(), WithHooks(hookRegistry(hooks)))
	ctx := context.Background()

	if _, _, err := agent.ProcessPayment(ctx, testMandate(9.98, "SGD", "a@example.com")); err != nil {
		t.Fatalf("approve: %v", err)
	}

	declined := testMandate(9.98, "SGD", "a@example.com")
	declined.UserAuthorization = ""
	if _, _, err := agent.ProcessPayment(ctx, declined); err == nil {
		t.Fatal("expected decline")
	}

	adjudicated, _, _ := hooks.snapshot()
	if len(adjudicated) != 2 {
		t.Fatalf("adjudicated %d events, want 2", len(adjudicated))
	}
	approve := adjudicated[0]
	if approve.Outcome != "approved" || approve.ErrorKind != "" {
		t.Errorf("approve event = %+v", approve)
	}
	if approve.Amount != 998 || approve.Currency != "SGD" {
		t.Errorf("approve amount = %d %s", approve.Amount, approve.Currency)
	}
	if approve.PayerEmail != "***@example.com" {
		t.Errorf("approve payer = %q", approve.PayerEmail)
	}
	decline := adjudicated[1]
	if decline.Outcome != "declined" || decline.ErrorKind != string(apierrors.ErrCodeInvalidAuthorization) {
		t.Errorf("decline event = %+v", decline)
	}
}
