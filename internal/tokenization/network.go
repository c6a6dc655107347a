package tokenization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/circuitbreaker"
	"github.com/AgentCommerce/ucp/internal/config"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/httputil"
	"github.com/AgentCommerce/ucp/internal/money"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

const (
	sandboxBaseURL    = "https://sandbox.api.mastercard.com"
	productionBaseURL = "https://api.mastercard.com"

	tokenizePath     = "/mdes/digitization/1/0/tokenize"
	authenticatePath = "/scof/authentication/1/0/initiate"
	verifyPath       = "/scof/authentication/1/0/verify"
)

// Network calls the card network's tokenization and card-on-file
// authentication APIs with OAuth 1.0a signed requests.
type Network struct {
	baseURL string
	signer  *oauthSigner
	http    *http.Client
	breaker *circuitbreaker.Manager
	logger  zerolog.Logger
}

// NewFromConfig builds the adapter the configuration asks for: Disabled
// when tokenization is off or credentials are missing, otherwise a
// Network client against the sandbox or production base URL. A signing
// key that exists but cannot be parsed is an error; the caller decides
// whether to run degraded.
func NewFromConfig(cfg config.TokenizationConfig, breaker *circuitbreaker.Manager, log zerolog.Logger) (Adapter, error) {
	if !cfg.Enabled {
		log.Info().Msg("tokenization.disabled")
		return Disabled{}, nil
	}
	if cfg.ConsumerKey == "" || cfg.SigningKeyPath == "" {
		log.Warn().Msg("tokenization.credentials_missing")
		return Disabled{}, nil
	}

	signer, err := newOAuthSigner(cfg.ConsumerKey, cfg.SigningKeyPath)
	if err != nil {
		return nil, err
	}

	base := cfg.BaseURL
	if base == "" {
		base = productionBaseURL
		if cfg.Sandbox {
			base = sandboxBaseURL
		}
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = ucp.DefaultOutboundTimeout
	}

	n := &Network{
		baseURL: strings.TrimRight(base, "/"),
		signer:  signer,
		http:    httputil.NewClient(timeout),
		breaker: breaker,
		logger:  log,
	}
	log.Info().Bool("sandbox", cfg.Sandbox).Msg("tokenization.enabled")
	return n, nil
}

// Enabled implements Adapter.
func (n *Network) Enabled() bool { return true }

type encryptedPayload struct {
	AccountNumber string `json:"accountNumber"`
	ExpiryMonth   string `json:"expiryMonth"`
	ExpiryYear    string `json:"expiryYear"`
	SecurityCode  string `json:"securityCode,omitempty"`
}

type fundingAccountInfo struct {
	EncryptedPayload encryptedPayload `json:"encryptedPayload"`
}

type cardholderInfo struct {
	AccountHolderName string `json:"accountHolderName"`
}

type tokenizeRequest struct {
	RequestID          string             `json:"requestId"`
	TaskID             string             `json:"taskId"`
	TokenType          string             `json:"tokenType"`
	TokenRequestorID   string             `json:"tokenRequestorId"`
	FundingAccountInfo fundingAccountInfo `json:"fundingAccountInfo"`
	CardholderInfo     *cardholderInfo    `json:"cardholderInfo,omitempty"`
}

type tokenizeResponse struct {
	Token struct {
		Value string `json:"value"`
	} `json:"token"`
	TokenUniqueReference string `json:"tokenUniqueReference"`
	TokenAssuranceLevel  string `json:"tokenAssuranceLevel"`
}

// Tokenize implements Adapter.
func (n *Network) Tokenize(ctx context.Context, card CardInput) (*TokenizeResult, error) {
	req := tokenizeRequest{
		RequestID:        uuid.NewString(),
		TaskID:           uuid.NewString(),
		TokenType:        "CLOUD",
		TokenRequestorID: n.signer.consumerKey,
		FundingAccountInfo: fundingAccountInfo{
			EncryptedPayload: encryptedPayload{
				AccountNumber: card.PAN,
				ExpiryMonth:   fmt.Sprintf("%02d", card.ExpiryMonth),
				ExpiryYear:    strconv.Itoa(card.ExpiryYear),
				SecurityCode:  card.SecurityCode,
			},
		},
	}
	if card.HolderName != "" {
		req.CardholderInfo = &cardholderInfo{AccountHolderName: card.HolderName}
	}

	var out tokenizeResponse
	if err := n.post(ctx, tokenizePath, req, &out); err != nil {
		return nil, err
	}

	assurance := out.TokenAssuranceLevel
	if assurance == "" {
		assurance = "unknown"
	}
	n.logger.Info().
		Str("token_reference", out.TokenUniqueReference).
		Str("assurance", assurance).
		Msg("tokenization.card_tokenized")
	return &TokenizeResult{
		Token:     out.Token.Value,
		Reference: out.TokenUniqueReference,
		Assurance: assurance,
	}, nil
}

type minorAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

type authenticateRequest struct {
	RequestID             string      `json:"requestId"`
	TransactionID         string      `json:"transactionId"`
	TokenUniqueReference  string      `json:"tokenUniqueReference"`
	Amount                minorAmount `json:"amount"`
	MerchantID            string      `json:"merchantId"`
	MerchantName          string      `json:"merchantName"`
	AuthenticationChannel string      `json:"authenticationChannel"`
}

type authenticateResponse struct {
	AuthenticationRequired bool   `json:"authenticationRequired"`
	AuthenticationMethod   string `json:"authenticationMethod"`
	ChallengeID            string `json:"challengeId"`
	Status                 string `json:"status"`
}

// InitiateAuthentication implements Adapter.
func (n *Network) InitiateAuthentication(ctx context.Context, in AuthenticationInput) (*AuthenticationResult, error) {
	req := authenticateRequest{
		RequestID:            uuid.NewString(),
		TransactionID:        in.TransactionID,
		TokenUniqueReference: in.TokenReference,
		Amount: minorAmount{
			Value:    money.FromFloat(in.Currency, in.Amount).MinorUnits(),
			Currency: in.Currency,
		},
		MerchantID:            in.MerchantID,
		MerchantName:          in.MerchantName,
		AuthenticationChannel: "WEB",
	}

	var out authenticateResponse
	if err := n.post(ctx, authenticatePath, req, &out); err != nil {
		return nil, err
	}

	method := out.AuthenticationMethod
	if method == "" {
		method = "none"
	}
	status := out.Status
	if status == "" {
		status = "pending"
	}
	n.logger.Info().
		Bool("required", out.AuthenticationRequired).
		Str("status", status).
		Msg("tokenization.authentication_initiated")
	return &AuthenticationResult{
		Required:    out.AuthenticationRequired,
		Method:      method,
		ChallengeID: out.ChallengeID,
		Status:      status,
	}, nil
}

type verifyRequest struct {
	RequestID        string `json:"requestId"`
	ChallengeID      string `json:"challengeId"`
	VerificationCode string `json:"verificationCode"`
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// VerifyChallenge implements Adapter.
func (n *Network) VerifyChallenge(ctx context.Context, challengeID, code string) (*VerificationResult, error) {
	req := verifyRequest{
		RequestID:        uuid.NewString(),
		ChallengeID:      challengeID,
		VerificationCode: code,
	}

	var out verifyResponse
	if err := n.post(ctx, verifyPath, req, &out); err != nil {
		return nil, err
	}

	status := out.Status
	if status == "" {
		status = "declined"
	}
	n.logger.Info().Str("status", status).Msg("tokenization.challenge_verified")
	return &VerificationResult{
		Verified: status == "approved",
		Status:   status,
		Message:  out.Message,
	}, nil
}

// post signs and sends one API call through the tokenization breaker.
// Error bodies are never logged; an upstream error response could echo
// request fields, and requests here carry PANs.
func (n *Network) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("tokenization: encode request: %w", err)
	}
	endpoint := n.baseURL + path
	authz, err := n.signer.AuthorizationHeader(http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}

	_, execErr := n.breaker.Execute(circuitbreaker.ServiceTokenization, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "build network request", err)
		}
		req.Header.Set("Authorization", authz)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := n.http.Do(req)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "call network API", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			n.logger.Error().
				Int("status", resp.StatusCode).
				Str("path", path).
				Msg("tokenization.api_error")
			return nil, apierrors.Ef(apierrors.ErrCodeUpstreamUnavailable, "network API returned status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "decode network response", err)
		}
		return nil, nil
	})
	if execErr != nil {
		if _, ok := apierrors.AsError(execErr); !ok {
			return apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "tokenization circuit", execErr)
		}
		return execErr
	}
	return nil
}
