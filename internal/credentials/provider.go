package credentials

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/auth"
	"github.com/AgentCommerce/ucp/internal/config"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
)

const (
	// challengeTTL is the lifetime of enrollment and authorization
	// challenges.
	challengeTTL = 5 * time.Minute

	// challengeGrace keeps expired challenge state around long enough
	// for late answers to fail with the expiry kind instead of
	// "unknown challenge".
	challengeGrace = time.Hour

	pruneInterval = time.Minute

	// demoPAN is the fixture card seeded at registration so a fresh
	// user can check out immediately.
	demoPAN         = "5342223122345000"
	demoExpiryMonth = 12
	demoExpiryYear  = 2030
)

type pendingEnrollment struct {
	challenge string
	expiresAt time.Time
}

type pendingAuthorization struct {
	email     string
	digest    []byte
	expiresAt time.Time
}

// Provider implements the wallet operations: user registration, device
// key enrollment, mandate authorization, and instrument storage. Safe
// for concurrent use.
type Provider struct {
	store   Store
	cipher  *PANCipher
	origin  string
	logger  zerolog.Logger
	nowFunc func() time.Time

	mu             sync.Mutex
	enrollments    map[string]pendingEnrollment    // email -> pending
	authorizations map[string]pendingAuthorization // challenge -> pending
	lastPrune      time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.nowFunc = now }
}

// NewProvider builds a wallet provider. When no PAN key is configured a
// fresh one is generated, which means stored instruments do not survive
// a restart; the generated key is logged only as a fingerprint.
func NewProvider(cfg config.CredentialsConfig, store Store, log zerolog.Logger, opts ...Option) (*Provider, error) {
	key := cfg.PANKey
	if key == "" {
		generated, err := GeneratePANKey()
		if err != nil {
			return nil, err
		}
		key = generated
		log.Warn().Msg("credentials.pan_key_generated")
	}
	cipher, err := NewPANCipher(key)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		store:          store,
		cipher:         cipher,
		origin:         strings.TrimRight(cfg.Origin, "/"),
		logger:         log,
		nowFunc:        time.Now,
		enrollments:    make(map[string]pendingEnrollment),
		authorizations: make(map[string]pendingAuthorization),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastPrune = p.nowFunc()
	return p, nil
}

// ===========================================================
// Users
// ===========================================================

// RegisterUser creates a user and seeds the demo instrument so the
// account can check out immediately.
func (p *Provider) RegisterUser(ctx context.Context, email, displayName string) (*User, error) {
	folded := foldEmail(email)
	if folded == "" || !strings.Contains(folded, "@") {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "a valid email is required")
	}

	now := p.nowFunc()
	user := &User{
		ID:          newID("usr"),
		Email:       folded,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return nil, apierrors.Ef(apierrors.ErrCodeInvalidState, "user %s is already registered", folded)
		}
		return nil, fmt.Errorf("credentials: create user: %w", err)
	}

	if err := p.seedDemoInstrument(ctx, user); err != nil {
		// The account itself is fine; a card can still be added manually.
		p.logger.Error().Err(err).Str("user", folded).Msg("credentials.demo_card_seed_failed")
	}

	p.logger.Info().Str("user", folded).Str("user_id", user.ID).Msg("credentials.user_registered")
	return user, nil
}

// GetUser looks up a registered user by email.
func (p *Provider) GetUser(ctx context.Context, email string) (*User, error) {
	user, err := p.store.GetUser(ctx, foldEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apierrors.E(apierrors.ErrCodeNotFound, "User not found")
		}
		return nil, fmt.Errorf("credentials: get user: %w", err)
	}
	return user, nil
}

func (p *Provider) seedDemoInstrument(ctx context.Context, user *User) error {
	encrypted, err := p.cipher.Encrypt(demoPAN)
	if err != nil {
		return err
	}
	ins := &Instrument{
		ID:           newID("card"),
		UserEmail:    user.Email,
		EncryptedPAN: encrypted,
		LastFour:     LastFour(demoPAN),
		Network:      DetectNetwork(demoPAN),
		HolderName:   user.DisplayName,
		ExpiryMonth:  demoExpiryMonth,
		ExpiryYear:   demoExpiryYear,
		Default:      true,
		CreatedAt:    p.nowFunc(),
	}
	return p.store.AddInstrument(ctx, ins)
}

// ===========================================================
// Device enrollment
// ===========================================================

// BeginEnrollment issues a challenge the device must echo inside its
// attestation. A new Begin replaces any outstanding enrollment
// challenge for the user.
func (p *Provider) BeginEnrollment(ctx context.Context, email string) (*EnrollmentChallenge, error) {
	user, err := p.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}

	challenge, err := newChallenge()
	if err != nil {
		return nil, err
	}
	now := p.nowFunc()
	expiresAt := now.Add(challengeTTL)

	p.mu.Lock()
	p.pruneLocked(now)
	p.enrollments[user.Email] = pendingEnrollment{challenge: challenge, expiresAt: expiresAt}
	p.mu.Unlock()

	p.logger.Info().Str("user", user.Email).Msg("credentials.enrollment_started")
	return &EnrollmentChallenge{UserEmail: user.Email, Challenge: challenge, ExpiresAt: expiresAt}, nil
}

// FinishEnrollment verifies the attestation against the outstanding
// challenge and stores the device credential. Verification is
// demo-grade: challenge echo, origin check, and key extraction, without
// full attestation-statement parsing.
func (p *Provider) FinishEnrollment(ctx context.Context, email string, att Attestation) (*DeviceCredential, error) {
	folded := foldEmail(email)
	now := p.nowFunc()

	p.mu.Lock()
	pending, ok := p.enrollments[folded]
	p.mu.Unlock()
	if !ok {
		return nil, apierrors.E(apierrors.ErrCodeInvalidState, "No enrollment in progress")
	}
	if now.After(pending.expiresAt) {
		p.mu.Lock()
		delete(p.enrollments, folded)
		p.mu.Unlock()
		return nil, apierrors.E(apierrors.ErrCodeChallengeExpired, "Enrollment challenge expired")
	}

	cd, err := decodeClientData(att.ClientDataJSON)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeInvalidInput, "malformed client data", err)
	}
	if subtle.ConstantTimeCompare([]byte(cd.Challenge), []byte(pending.challenge)) != 1 {
		return nil, apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Attestation challenge mismatch")
	}
	if !p.originAllowed(cd.Origin) {
		return nil, apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Attestation origin rejected")
	}

	pub, err := auth.DecodePublicKey(att.PublicKey)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeInvalidInput, "invalid device public key", err)
	}

	credID := att.CredentialID
	if credID == "" {
		credID, err = newChallenge()
		if err != nil {
			return nil, err
		}
	}

	cred := &DeviceCredential{
		ID:        credID,
		UserEmail: folded,
		PublicKey: pub,
		Counter:   0,
		CreatedAt: now,
	}
	if err := p.store.PutCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("credentials: store credential: %w", err)
	}

	p.mu.Lock()
	delete(p.enrollments, folded)
	p.mu.Unlock()

	p.logger.Info().
		Str("user", folded).
		Str("credential_id", credID).
		Msg("credentials.device_enrolled")
	return cred, nil
}

// ===========================================================
// Mandate authorization
// ===========================================================

// BeginAuthorization issues a signing challenge bound to the digest the
// device is being asked to authorize.
func (p *Provider) BeginAuthorization(ctx context.Context, email string, digest []byte) (*AuthorizationChallenge, error) {
	user, err := p.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(digest) == 0 {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "a digest to authorize is required")
	}

	creds, err := p.store.CredentialsForUser(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("credentials: list credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, apierrors.E(apierrors.ErrCodeInvalidState, "No enrolled device for user")
	}

	challenge, err := newChallenge()
	if err != nil {
		return nil, err
	}
	now := p.nowFunc()
	expiresAt := now.Add(challengeTTL)

	p.mu.Lock()
	p.pruneLocked(now)
	p.authorizations[challenge] = pendingAuthorization{
		email:     user.Email,
		digest:    append([]byte(nil), digest...),
		expiresAt: expiresAt,
	}
	p.mu.Unlock()

	return &AuthorizationChallenge{
		UserEmail: user.Email,
		Challenge: challenge,
		Digest:    auth.EncodeBase64(digest),
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyAssertion checks a device's answer to an authorization
// challenge: the challenge must be outstanding and bound to this user,
// the origin accepted, the Ed25519 signature valid over the bound
// digest, and the counter strictly increasing. Challenges are
// single-use.
func (p *Provider) VerifyAssertion(ctx context.Context, email string, as Assertion) (*DeviceCredential, error) {
	folded := foldEmail(email)
	now := p.nowFunc()

	cd, err := decodeClientData(as.ClientDataJSON)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeInvalidInput, "malformed client data", err)
	}

	p.mu.Lock()
	pending, ok := p.authorizations[cd.Challenge]
	p.mu.Unlock()
	if !ok || pending.email != folded {
		return nil, apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Unknown or consumed signing challenge")
	}
	if now.After(pending.expiresAt) {
		p.mu.Lock()
		delete(p.authorizations, cd.Challenge)
		p.mu.Unlock()
		return nil, apierrors.E(apierrors.ErrCodeChallengeExpired, "Signing challenge expired")
	}
	if !p.originAllowed(cd.Origin) {
		return nil, apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Assertion origin rejected")
	}

	cred, err := p.store.GetCredential(ctx, as.CredentialID)
	if err != nil || cred.UserEmail != folded {
		return nil, apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Unknown device credential")
	}

	if err := auth.VerifyMessage(cred.PublicKey, pending.digest, as.Signature); err != nil {
		p.logger.Warn().
			Str("user", folded).
			Str("credential_id", cred.ID).
			Msg("credentials.assertion_signature_invalid")
		return nil, apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Invalid device signature")
	}

	if as.Counter <= cred.Counter {
		p.logger.Warn().
			Str("user", folded).
			Str("credential_id", cred.ID).
			Uint32("stored", cred.Counter).
			Uint32("presented", as.Counter).
			Msg("credentials.assertion_counter_regressed")
		return nil, apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Assertion counter regressed")
	}
	if err := p.store.SetCredentialCounter(ctx, cred.ID, as.Counter); err != nil {
		return nil, fmt.Errorf("credentials: record counter: %w", err)
	}
	cred.Counter = as.Counter

	p.mu.Lock()
	delete(p.authorizations, cd.Challenge)
	p.mu.Unlock()

	p.logger.Info().
		Str("user", folded).
		Str("credential_id", cred.ID).
		Msg("credentials.assertion_verified")
	return cred, nil
}

// ===========================================================
// Instruments
// ===========================================================

// AddInstrument stores a card for the user. The PAN is encrypted before
// it touches the store and never logged.
func (p *Provider) AddInstrument(ctx context.Context, email string, in AddCardInput) (*Instrument, error) {
	user, err := p.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}

	clean := NormalizePAN(in.PAN)
	if !validPAN(clean) {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "card_number must be 12-19 digits")
	}
	if in.ExpiryMonth < 1 || in.ExpiryMonth > 12 {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "expiry_month must be 1-12")
	}
	now := p.nowFunc()
	if in.ExpiryYear < now.Year() ||
		(in.ExpiryYear == now.Year() && in.ExpiryMonth < int(now.Month())) {
		return nil, apierrors.E(apierrors.ErrCodeInvalidInput, "card is expired")
	}

	encrypted, err := p.cipher.Encrypt(clean)
	if err != nil {
		return nil, fmt.Errorf("credentials: encrypt pan: %w", err)
	}

	ins := &Instrument{
		ID:           newID("card"),
		UserEmail:    user.Email,
		EncryptedPAN: encrypted,
		LastFour:     LastFour(clean),
		Network:      DetectNetwork(clean),
		HolderName:   strings.TrimSpace(in.HolderName),
		ExpiryMonth:  in.ExpiryMonth,
		ExpiryYear:   in.ExpiryYear,
		Default:      in.MakeDefault,
		CreatedAt:    now,
	}
	if err := p.store.AddInstrument(ctx, ins); err != nil {
		return nil, fmt.Errorf("credentials: store instrument: %w", err)
	}

	p.logger.Info().
		Str("user", user.Email).
		Str("instrument_id", ins.ID).
		Str("network", ins.Network).
		Str("last_four", ins.LastFour).
		Msg("credentials.card_added")
	return ins, nil
}

// ListInstruments returns the user's cards as masked views.
func (p *Provider) ListInstruments(ctx context.Context, email string) ([]InstrumentView, error) {
	user, err := p.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	instruments, err := p.store.ListInstruments(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("credentials: list instruments: %w", err)
	}
	views := make([]InstrumentView, 0, len(instruments))
	for _, ins := range instruments {
		views = append(views, ins.View())
	}
	return views, nil
}

// DefaultInstrument returns the user's default card.
func (p *Provider) DefaultInstrument(ctx context.Context, email string) (*Instrument, error) {
	user, err := p.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	ins, err := p.store.DefaultInstrument(ctx, user.Email)
	if err != nil {
		if errors.Is(err, ErrInstrumentNotFound) {
			return nil, apierrors.E(apierrors.ErrCodeNotFound, "No payment instrument on file")
		}
		return nil, fmt.Errorf("credentials: default instrument: %w", err)
	}
	return ins, nil
}

// InstrumentPAN decrypts a stored card number. Callers are the
// tokenization flow only; the cleartext must never reach a log or
// response body.
func (p *Provider) InstrumentPAN(ctx context.Context, instrumentID string) (string, error) {
	ins, err := p.store.GetInstrument(ctx, instrumentID)
	if err != nil {
		if errors.Is(err, ErrInstrumentNotFound) {
			return "", apierrors.E(apierrors.ErrCodeNotFound, "Instrument not found")
		}
		return "", fmt.Errorf("credentials: get instrument: %w", err)
	}
	return p.cipher.Decrypt(ins.EncryptedPAN)
}

// MarkTokenized records a tokenization result against an instrument.
func (p *Provider) MarkTokenized(ctx context.Context, instrumentID string, token NetworkToken) error {
	if err := p.store.SetInstrumentToken(ctx, instrumentID, token); err != nil {
		if errors.Is(err, ErrInstrumentNotFound) {
			return apierrors.E(apierrors.ErrCodeNotFound, "Instrument not found")
		}
		return fmt.Errorf("credentials: record token: %w", err)
	}
	p.logger.Info().
		Str("instrument_id", instrumentID).
		Str("assurance", token.Assurance).
		Msg("credentials.instrument_tokenized")
	return nil
}

// ===========================================================
// Internals
// ===========================================================

// originAllowed applies the configured origin policy: exact match when
// an origin is configured, otherwise the permissive demo policy of
// localhost or any https origin.
func (p *Provider) originAllowed(origin string) bool {
	if p.origin != "" {
		return strings.TrimRight(origin, "/") == p.origin
	}
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "https://")
}

// pruneLocked drops challenge state well past expiry. Called under the
// caller's lock; no background goroutine.
func (p *Provider) pruneLocked(now time.Time) {
	if now.Sub(p.lastPrune) < pruneInterval {
		return
	}
	p.lastPrune = now
	for email, pending := range p.enrollments {
		if now.After(pending.expiresAt.Add(challengeGrace)) {
			delete(p.enrollments, email)
		}
	}
	for challenge, pending := range p.authorizations {
		if now.After(pending.expiresAt.Add(challengeGrace)) {
			delete(p.authorizations, challenge)
		}
	}
}

func foldEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newChallenge() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("credentials: challenge: %w", err)
	}
	return auth.EncodeBase64(raw), nil
}

func decodeClientData(encoded string) (clientData, error) {
	var cd clientData
	raw, err := auth.DecodeBase64(encoded)
	if err != nil {
		return cd, err
	}
	if err := json.Unmarshal(raw, &cd); err != nil {
		return cd, err
	}
	return cd, nil
}

func newID(prefix string) string {
	u := uuid.New()
	return prefix + "_" + hex.EncodeToString(u[:])[:12]
}
