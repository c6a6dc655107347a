package shopperserver

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/auth"
	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/credentials"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/metrics"
	"github.com/AgentCommerce/ucp/internal/orchestrator"
	"github.com/AgentCommerce/ucp/internal/tokenization"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

const testOrigin = "http://localhost:8452"

// mockOrchestrator implements CheckoutService with overridable
// functions.
type mockOrchestrator struct {
	prepareFn func(ctx context.Context, in orchestrator.PrepareInput) (*orchestrator.PrepareResult, error)
	confirmFn func(ctx context.Context, sessionID string, as credentials.Assertion) (*orchestrator.ConfirmResult, error)
	otpFn     func(ctx context.Context, sessionID, code string) (*orchestrator.ConfirmResult, error)
	statusFn  func(ctx context.Context, sessionID string) (*ucp.CheckoutSession, error)
}

func (m *mockOrchestrator) Prepare(ctx context.Context, in orchestrator.PrepareInput) (*orchestrator.PrepareResult, error) {
	return m.prepareFn(ctx, in)
}

func (m *mockOrchestrator) Confirm(ctx context.Context, sessionID string, as credentials.Assertion) (*orchestrator.ConfirmResult, error) {
	return m.confirmFn(ctx, sessionID, as)
}

func (m *mockOrchestrator) SubmitOTP(ctx context.Context, sessionID, code string) (*orchestrator.ConfirmResult, error) {
	return m.otpFn(ctx, sessionID, code)
}

func (m *mockOrchestrator) Status(ctx context.Context, sessionID string) (*ucp.CheckoutSession, error) {
	return m.statusFn(ctx, sessionID)
}

// fakeAdapter is a controllable tokenization stand-in.
type fakeAdapter struct {
	lastCard    tokenization.CardInput
	tokenizeErr error
	calls       int
}

func (f *fakeAdapter) Enabled() bool { return true }

func (f *fakeAdapter) Tokenize(_ context.Context, card tokenization.CardInput) (*tokenization.TokenizeResult, error) {
	f.calls++
	f.lastCard = card
	if f.tokenizeErr != nil {
		return nil, f.tokenizeErr
	}
	return &tokenization.TokenizeResult{
		Token:     "9911223344556677",
		Reference: "DWSPMC000000000132456",
		Assurance: "TOKEN_ASSURED",
	}, nil
}

func (f *fakeAdapter) InitiateAuthentication(context.Context, tokenization.AuthenticationInput) (*tokenization.AuthenticationResult, error) {
	return &tokenization.AuthenticationResult{Required: false, Status: "NOT_REQUIRED"}, nil
}

func (f *fakeAdapter) VerifyChallenge(context.Context, string, string) (*tokenization.VerificationResult, error) {
	return &tokenization.VerificationResult{Verified: true, Status: "APPROVED"}, nil
}

func testConfig() *config.ShopperConfig {
	return &config.ShopperConfig{
		Merchant: config.MerchantEndpoint{
			BaseURL: "http://localhost:8453",
		},
		Credentials: config.CredentialsConfig{
			Origin: testOrigin,
		},
	}
}

func testWallet(t *testing.T) *credentials.Provider {
	t.Helper()
	key, err := credentials.GeneratePANKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wallet, err := credentials.NewProvider(
		config.CredentialsConfig{PANKey: key, Origin: testOrigin},
		credentials.NewMemoryStore(),
		zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return wallet
}

func testHandlers(t *testing.T) handlers {
	t.Helper()
	return handlers{
		cfg:    testConfig(),
		wallet: testWallet(t),
		tokens: tokenization.Disabled{},
		logger: zerolog.Nop(),
	}
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// withURLParam attaches a chi route parameter to the request context so
// handlers can be exercised without a router.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return body
}

func clientDataJSON(t *testing.T, typ, challenge string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"type":      typ,
		"challenge": challenge,
		"origin":    testOrigin,
	})
	if err != nil {
		t.Fatalf("marshal client data: %v", err)
	}
	return auth.EncodeBase64(raw)
}

func registerTestUser(t *testing.T, h handlers, email string) {
	t.Helper()
	if _, err := h.wallet.RegisterUser(context.Background(), email, "Demo Shopper"); err != nil {
		t.Fatalf("register user: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := testHandlers(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	h.health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", body["status"])
	}
	if body["service"] != "ucp-shopper" {
		t.Errorf("service = %v, want ucp-shopper", body["service"])
	}
	features, ok := body["features"].(map[string]interface{})
	if !ok {
		t.Fatal("expected features object")
	}
	if features["tokenization_enabled"] != false {
		t.Errorf("tokenization_enabled = %v, want false", features["tokenization_enabled"])
	}
}

func TestRegisterUserSeedsDemoCard(t *testing.T) {
	h := testHandlers(t)

	payload := `{"email":"Shopper@Example.com","display_name":"Demo Shopper"}`
	req := httptest.NewRequest("POST", "/api/users/register", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.registerUser(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["email"] != "shopper@example.com" {
		t.Errorf("email = %v, want folded shopper@example.com", body["email"])
	}

	listReq := httptest.NewRequest("GET", "/api/cards?user_email=shopper@example.com", nil)
	listRec := httptest.NewRecorder()
	h.listCards(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("list cards = %d: %s", listRec.Code, listRec.Body.String())
	}
	var listing struct {
		Cards []credentials.InstrumentView `json:"cards"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	if len(listing.Cards) != 1 {
		t.Fatalf("expected 1 seeded card, got %d", len(listing.Cards))
	}
	if listing.Cards[0].CardLastFour != "5000" || !listing.Cards[0].IsDefault {
		t.Errorf("seeded card = %+v, want last four 5000 and default", listing.Cards[0])
	}
	if strings.Contains(listRec.Body.String(), "5342223122345000") {
		t.Fatal("card listing leaked the PAN")
	}
}

func TestRegisterUserRejected(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantCode int
		wantKind apierrors.ErrorCode
	}{
		{"malformed body", `{broken`, http.StatusBadRequest, apierrors.ErrCodeInvalidInput},
		{"missing at sign", `{"email":"not-an-email"}`, http.StatusBadRequest, apierrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHandlers(t)

			req := httptest.NewRequest("POST", "/api/users/register", strings.NewReader(tt.payload))
			rec := httptest.NewRecorder()

			h.registerUser(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decodeBody(t, rec)
			if body["error_kind"] != string(tt.wantKind) {
				t.Errorf("error_kind = %v, want %s", body["error_kind"], tt.wantKind)
			}
		})
	}
}

func TestRegisterUserDuplicate(t *testing.T) {
	h := testHandlers(t)
	registerTestUser(t, h, "shopper@example.com")

	payload := `{"email":"shopper@example.com"}`
	req := httptest.NewRequest("POST", "/api/users/register", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.registerUser(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error_kind"] != string(apierrors.ErrCodeInvalidState) {
		t.Errorf("error_kind = %v, want %s", body["error_kind"], apierrors.ErrCodeInvalidState)
	}
}

func TestGetUserNotFound(t *testing.T) {
	h := testHandlers(t)

	req := httptest.NewRequest("GET", "/api/users/ghost@example.com", nil)
	req = withURLParam(req, "email", "ghost@example.com")
	rec := httptest.NewRecorder()

	h.getUser(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestEnrollmentAndAuthorizationFlow(t *testing.T) {
	h := testHandlers(t)
	registerTestUser(t, h, "shopper@example.com")

	beginReq := httptest.NewRequest("POST", "/api/credentials/enroll/begin",
		strings.NewReader(`{"user_email":"shopper@example.com"}`))
	beginRec := httptest.NewRecorder()
	h.beginEnrollment(beginRec, beginReq)

	if beginRec.Code != http.StatusOK {
		t.Fatalf("enroll begin = %d: %s", beginRec.Code, beginRec.Body.String())
	}
	var chal credentials.EnrollmentChallenge
	if err := json.Unmarshal(beginRec.Body.Bytes(), &chal); err != nil {
		t.Fatalf("parse challenge: %v", err)
	}
	if chal.Challenge == "" {
		t.Fatal("expected non-empty challenge")
	}

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	finish := map[string]string{
		"user_email":       "shopper@example.com",
		"credential_id":    "cred-device-1",
		"client_data_json": clientDataJSON(t, "webauthn.create", chal.Challenge),
		"public_key":       auth.EncodeBase64(pub),
	}
	raw, _ := json.Marshal(finish)

	finishReq := httptest.NewRequest("POST", "/api/credentials/enroll/finish", strings.NewReader(string(raw)))
	finishRec := httptest.NewRecorder()
	h.finishEnrollment(finishRec, finishReq)

	if finishRec.Code != http.StatusCreated {
		t.Fatalf("enroll finish = %d: %s", finishRec.Code, finishRec.Body.String())
	}
	finishBody := decodeBody(t, finishRec)
	if finishBody["credential_id"] != "cred-device-1" {
		t.Errorf("credential_id = %v, want cred-device-1", finishBody["credential_id"])
	}
	if _, leaked := finishBody["public_key"]; leaked {
		t.Error("credential response should not echo the public key")
	}

	digest := auth.EncodeBase64([]byte("0123456789abcdef0123456789abcdef"))
	authReq := httptest.NewRequest("POST", "/api/credentials/authorize/begin",
		strings.NewReader(`{"user_email":"shopper@example.com","digest":"`+digest+`"}`))
	authRec := httptest.NewRecorder()
	h.beginAuthorization(authRec, authReq)

	if authRec.Code != http.StatusOK {
		t.Fatalf("authorize begin = %d: %s", authRec.Code, authRec.Body.String())
	}
	var signing credentials.AuthorizationChallenge
	if err := json.Unmarshal(authRec.Body.Bytes(), &signing); err != nil {
		t.Fatalf("parse signing challenge: %v", err)
	}
	if signing.Digest != digest {
		t.Errorf("digest = %q, want the submitted digest echoed", signing.Digest)
	}
	if signing.Challenge == "" {
		t.Error("expected non-empty signing challenge")
	}
}

func TestFinishEnrollmentWrongChallenge(t *testing.T) {
	h := testHandlers(t)
	registerTestUser(t, h, "shopper@example.com")

	if _, err := h.wallet.BeginEnrollment(context.Background(), "shopper@example.com"); err != nil {
		t.Fatalf("begin enrollment: %v", err)
	}

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	finish := map[string]string{
		"user_email":       "shopper@example.com",
		"credential_id":    "cred-device-1",
		"client_data_json": clientDataJSON(t, "webauthn.create", "bm90LXRoZS1jaGFsbGVuZ2U"),
		"public_key":       auth.EncodeBase64(pub),
	}
	raw, _ := json.Marshal(finish)

	req := httptest.NewRequest("POST", "/api/credentials/enroll/finish", strings.NewReader(string(raw)))
	rec := httptest.NewRecorder()
	h.finishEnrollment(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error_kind"] != string(apierrors.ErrCodeInvalidAuthorization) {
		t.Errorf("error_kind = %v, want %s", body["error_kind"], apierrors.ErrCodeInvalidAuthorization)
	}
}

func TestBeginAuthorizationBadDigest(t *testing.T) {
	h := testHandlers(t)
	registerTestUser(t, h, "shopper@example.com")

	for _, digest := range []string{"", "%%%not-base64%%%"} {
		req := httptest.NewRequest("POST", "/api/credentials/authorize/begin",
			strings.NewReader(`{"user_email":"shopper@example.com","digest":"`+digest+`"}`))
		rec := httptest.NewRecorder()
		h.beginAuthorization(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("digest %q: status = %d, want 400", digest, rec.Code)
		}
	}
}

func TestAddCardMasksPAN(t *testing.T) {
	h := testHandlers(t)
	registerTestUser(t, h, "shopper@example.com")

	payload := `{"user_email":"shopper@example.com","card_number":"4111 1111 1111 1111","card_holder_name":"Demo Shopper","expiry_month":12,"expiry_year":2030,"make_default":true}`
	req := httptest.NewRequest("POST", "/api/cards", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.addCard(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var view credentials.InstrumentView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse view: %v", err)
	}
	if view.CardLastFour != "1111" || view.CardNetwork != "visa" {
		t.Errorf("view = %+v, want last four 1111 network visa", view)
	}
	if !view.IsDefault {
		t.Error("expected the new card to be default")
	}
	if view.IsTokenized {
		t.Error("tokenization disabled, card must not report tokenized")
	}
	if strings.Contains(rec.Body.String(), "4111111111111111") || strings.Contains(rec.Body.String(), "4111 1111") {
		t.Fatal("add-card response leaked the PAN")
	}
}

func TestAddCardTokenizes(t *testing.T) {
	adapter := &fakeAdapter{}
	h := testHandlers(t)
	h.tokens = adapter
	h.metrics = newTestMetrics()
	registerTestUser(t, h, "shopper@example.com")

	payload := `{"user_email":"shopper@example.com","card_number":"4111111111111111","expiry_month":12,"expiry_year":2030}`
	req := httptest.NewRequest("POST", "/api/cards", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.addCard(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if adapter.calls != 1 {
		t.Fatalf("adapter calls = %d, want 1", adapter.calls)
	}
	if adapter.lastCard.PAN != "4111111111111111" {
		t.Errorf("adapter received PAN %q, want the normalized card number", adapter.lastCard.PAN)
	}

	var view credentials.InstrumentView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse view: %v", err)
	}
	if !view.IsTokenized {
		t.Fatal("expected the card to report tokenized")
	}

	views, err := h.wallet.ListInstruments(context.Background(), "shopper@example.com")
	if err != nil {
		t.Fatalf("list instruments: %v", err)
	}
	var stored *credentials.InstrumentView
	for i := range views {
		if views[i].ID == view.ID {
			stored = &views[i]
		}
	}
	if stored == nil || !stored.IsTokenized {
		t.Fatalf("stored instrument not marked tokenized: %+v", stored)
	}
}

func TestAddCardTokenizeFailureIsSoft(t *testing.T) {
	adapter := &fakeAdapter{tokenizeErr: apierrors.E(apierrors.ErrCodeUpstreamUnavailable, "network down")}
	h := testHandlers(t)
	h.tokens = adapter
	h.metrics = newTestMetrics()
	registerTestUser(t, h, "shopper@example.com")

	payload := `{"user_email":"shopper@example.com","card_number":"4111111111111111","expiry_month":12,"expiry_year":2030}`
	req := httptest.NewRequest("POST", "/api/cards", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.addCard(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("tokenization failure must not fail the add, got %d: %s", rec.Code, rec.Body.String())
	}
	var view credentials.InstrumentView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse view: %v", err)
	}
	if view.IsTokenized {
		t.Error("failed tokenization must leave the card untokenized")
	}
}

func TestListCardsRequiresEmail(t *testing.T) {
	h := testHandlers(t)

	req := httptest.NewRequest("GET", "/api/cards", nil)
	rec := httptest.NewRecorder()

	h.listCards(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestPrepareCheckout(t *testing.T) {
	var gotInput orchestrator.PrepareInput
	h := testHandlers(t)
	h.checkout = &mockOrchestrator{
		prepareFn: func(ctx context.Context, in orchestrator.PrepareInput) (*orchestrator.PrepareResult, error) {
			gotInput = in
			return &orchestrator.PrepareResult{
				SessionID: "cs_0123456789abcdef",
				Checkout:  &ucp.CheckoutSession{ID: "cs_0123456789abcdef", Status: ucp.StatusReadyForComplete},
			}, nil
		},
	}

	payload := `{"user_email":"shopper@example.com","line_items":[{"sku":"sku-kit","name":"Starter Kit","price":42.50,"quantity":1}],"currency":"USD"}`
	req := httptest.NewRequest("POST", "/api/checkout/prepare", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.prepareCheckout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotInput.UserEmail != "shopper@example.com" || len(gotInput.LineItems) != 1 {
		t.Fatalf("orchestrator received %+v", gotInput)
	}
	if gotInput.LineItems[0].SKU != "sku-kit" || gotInput.Currency != "USD" {
		t.Errorf("line item = %+v currency = %q", gotInput.LineItems[0], gotInput.Currency)
	}

	body := decodeBody(t, rec)
	if body["session_id"] != "cs_0123456789abcdef" {
		t.Errorf("session_id = %v, want cs_0123456789abcdef", body["session_id"])
	}
}

func TestPrepareCheckoutUpstreamDown(t *testing.T) {
	h := testHandlers(t)
	h.checkout = &mockOrchestrator{
		prepareFn: func(ctx context.Context, in orchestrator.PrepareInput) (*orchestrator.PrepareResult, error) {
			return nil, apierrors.E(apierrors.ErrCodeUpstreamUnavailable, "merchant discovery unavailable")
		},
	}

	payload := `{"user_email":"shopper@example.com","line_items":[{"sku":"sku-kit","price":1,"quantity":1}]}`
	req := httptest.NewRequest("POST", "/api/checkout/prepare", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.prepareCheckout(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error_kind"] != string(apierrors.ErrCodeUpstreamUnavailable) {
		t.Errorf("error_kind = %v, want %s", body["error_kind"], apierrors.ErrCodeUpstreamUnavailable)
	}
}

func TestConfirmCheckoutPassesAssertion(t *testing.T) {
	var gotSession string
	var gotAssertion credentials.Assertion
	h := testHandlers(t)
	h.checkout = &mockOrchestrator{
		confirmFn: func(ctx context.Context, sessionID string, as credentials.Assertion) (*orchestrator.ConfirmResult, error) {
			gotSession = sessionID
			gotAssertion = as
			return &orchestrator.ConfirmResult{
				SessionID: sessionID,
				Status:    ucp.CompleteStatusSuccess,
			}, nil
		},
	}

	payload := `{"credential_id":"cred-device-1","client_data_json":"Y2xpZW50LWRhdGE","signature":"c2lnbmF0dXJl","counter":7}`
	req := httptest.NewRequest("POST", "/api/checkout/cs_abc/confirm", strings.NewReader(payload))
	req = withURLParam(req, "session_id", "cs_abc")
	rec := httptest.NewRecorder()

	h.confirmCheckout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotSession != "cs_abc" {
		t.Errorf("session = %q, want cs_abc", gotSession)
	}
	if gotAssertion.CredentialID != "cred-device-1" || gotAssertion.Signature != "c2lnbmF0dXJl" || gotAssertion.Counter != 7 {
		t.Errorf("assertion = %+v", gotAssertion)
	}

	body := decodeBody(t, rec)
	if body["status"] != ucp.CompleteStatusSuccess {
		t.Errorf("status = %v, want %s", body["status"], ucp.CompleteStatusSuccess)
	}
}

func TestConfirmCheckoutRejected(t *testing.T) {
	h := testHandlers(t)
	h.checkout = &mockOrchestrator{
		confirmFn: func(ctx context.Context, sessionID string, as credentials.Assertion) (*orchestrator.ConfirmResult, error) {
			return nil, apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Assertion signature invalid")
		},
	}

	req := httptest.NewRequest("POST", "/api/checkout/cs_abc/confirm", strings.NewReader(`{}`))
	req = withURLParam(req, "session_id", "cs_abc")
	rec := httptest.NewRecorder()

	h.confirmCheckout(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error_kind"] != string(apierrors.ErrCodeInvalidAuthorization) {
		t.Errorf("error_kind = %v, want %s", body["error_kind"], apierrors.ErrCodeInvalidAuthorization)
	}
}

func TestSubmitCheckoutOTP(t *testing.T) {
	var gotSession, gotCode string
	h := testHandlers(t)
	h.checkout = &mockOrchestrator{
		otpFn: func(ctx context.Context, sessionID, code string) (*orchestrator.ConfirmResult, error) {
			gotSession = sessionID
			gotCode = code
			return &orchestrator.ConfirmResult{
				SessionID: sessionID,
				Status:    ucp.CompleteStatusSuccess,
			}, nil
		},
	}

	req := httptest.NewRequest("POST", "/api/checkout/cs_abc/otp", strings.NewReader(`{"otp_code":"123456"}`))
	req = withURLParam(req, "session_id", "cs_abc")
	rec := httptest.NewRecorder()

	h.submitCheckoutOTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotSession != "cs_abc" || gotCode != "123456" {
		t.Errorf("orchestrator received session=%q code=%q", gotSession, gotCode)
	}
}

func TestGetCheckoutNotFound(t *testing.T) {
	h := testHandlers(t)
	h.checkout = &mockOrchestrator{
		statusFn: func(ctx context.Context, sessionID string) (*ucp.CheckoutSession, error) {
			return nil, apierrors.E(apierrors.ErrCodeNotFound, "Checkout session not found")
		},
	}

	req := httptest.NewRequest("GET", "/api/checkout/cs_missing", nil)
	req = withURLParam(req, "session_id", "cs_missing")
	rec := httptest.NewRecorder()

	h.getCheckout(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestCheckoutHandlersRejectMalformedBodies(t *testing.T) {
	h := testHandlers(t)
	h.checkout = &mockOrchestrator{
		prepareFn: func(context.Context, orchestrator.PrepareInput) (*orchestrator.PrepareResult, error) {
			t.Fatal("prepare should not be called")
			return nil, nil
		},
		confirmFn: func(context.Context, string, credentials.Assertion) (*orchestrator.ConfirmResult, error) {
			t.Fatal("confirm should not be called")
			return nil, nil
		},
		otpFn: func(context.Context, string, string) (*orchestrator.ConfirmResult, error) {
			t.Fatal("submit_otp should not be called")
			return nil, nil
		},
	}

	calls := []struct {
		name    string
		handler http.HandlerFunc
		path    string
	}{
		{"prepare", h.prepareCheckout, "/api/checkout/prepare"},
		{"confirm", h.confirmCheckout, "/api/checkout/cs_abc/confirm"},
		{"otp", h.submitCheckoutOTP, "/api/checkout/cs_abc/otp"},
	}

	for _, call := range calls {
		t.Run(call.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", call.path, strings.NewReader("{broken"))
			req = withURLParam(req, "session_id", "cs_abc")
			rec := httptest.NewRecorder()

			call.handler(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			body := decodeBody(t, rec)
			if body["error_kind"] != string(apierrors.ErrCodeInvalidInput) {
				t.Errorf("error_kind = %v, want %s", body["error_kind"], apierrors.ErrCodeInvalidInput)
			}
		})
	}
}

func TestListCardsUnknownUser(t *testing.T) {
	h := testHandlers(t)

	req := httptest.NewRequest("GET", "/api/cards?user_email=nobody@example.com", nil)
	rec := httptest.NewRecorder()

	h.listCards(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error_kind"] != string(apierrors.ErrCodeNotFound) {
		t.Errorf("error_kind = %v, want %s", body["error_kind"], apierrors.ErrCodeNotFound)
	}
}
