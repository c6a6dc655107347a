// checkoutflow drives one full purchase against a running shopper
// service: register, enroll a device key, prepare a checkout, sign the
// mandate digest, confirm, and answer a step-up challenge if one comes
// back. It plays the "device" itself with a locally generated Ed25519
// key.
//
// Run both services first:
//
//	go run ./cmd/merchantd &
//	go run ./cmd/shopperd &
//	go run ./cmd/tests/checkoutflow -email a@example.com -sku PROD-001 -qty 2
package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/AgentCommerce/ucp/internal/auth"
	"github.com/AgentCommerce/ucp/internal/credentials"
	"github.com/AgentCommerce/ucp/internal/orchestrator"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

func main() {
	var (
		shopperURL = flag.String("shopper", "http://localhost:8452", "shopper service base URL")
		email      = flag.String("email", "a@example.com", "shopper email to register and pay as")
		sku        = flag.String("sku", "PROD-001", "catalog SKU to buy")
		name       = flag.String("name", "Demo Product", "line item display name")
		price      = flag.Float64("price", 4.99, "unit price in major units")
		qty        = flag.Int("qty", 2, "quantity")
		currency   = flag.String("currency", "SGD", "3-letter currency code")
		otpCode    = flag.String("otp", "123456", "code to submit if step-up is required")
		origin     = flag.String("origin", "http://localhost:8452", "origin claimed in device attestations")
	)
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}

	// The device: one Ed25519 keypair for the whole run.
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate device key: %v", err)
	}

	// Register. An already-registered email is fine; the wallet keeps
	// the existing account.
	var user credentials.User
	status, err := call(client, *shopperURL+"/api/users/register", map[string]string{
		"email":        *email,
		"display_name": "Checkout Flow",
	}, &user)
	switch {
	case err != nil:
		log.Printf("register: %v (continuing; account may already exist)", err)
	case status == http.StatusCreated:
		log.Printf("registered %s", user.Email)
	}

	// Enroll the device key.
	var enrollChallenge credentials.EnrollmentChallenge
	if _, err := call(client, *shopperURL+"/api/credentials/enroll/begin", map[string]string{
		"user_email": *email,
	}, &enrollChallenge); err != nil {
		log.Fatalf("enroll begin: %v", err)
	}

	finishReq := map[string]string{
		"user_email":       *email,
		"credential_id":    "",
		"client_data_json": clientData("webauthn.create", enrollChallenge.Challenge, *origin),
		"public_key":       auth.EncodeBase64(pub),
	}
	var cred struct {
		CredentialID string `json:"credential_id"`
	}
	if _, err := call(client, *shopperURL+"/api/credentials/enroll/finish", finishReq, &cred); err != nil {
		log.Fatalf("enroll finish: %v", err)
	}
	log.Printf("enrolled device credential %s", cred.CredentialID)

	// Prepare the checkout.
	prepareReq := orchestrator.PrepareInput{
		UserEmail: *email,
		Currency:  *currency,
		LineItems: []ucp.LineItem{{
			SKU:      *sku,
			Name:     *name,
			Price:    *price,
			Quantity: *qty,
		}},
	}
	var prepared orchestrator.PrepareResult
	if _, err := call(client, *shopperURL+"/api/checkout/prepare", prepareReq, &prepared); err != nil {
		log.Fatalf("prepare: %v", err)
	}
	log.Printf("session %s total %s %.2f, paying with %s ****%s",
		prepared.SessionID,
		prepared.Checkout.Totals.Currency,
		prepared.Checkout.Totals.Total,
		prepared.Instrument.CardNetwork,
		prepared.Instrument.CardLastFour,
	)

	// Sign the mandate digest the wallet bound to the challenge.
	digest, err := auth.DecodeBase64(prepared.Challenge.Digest)
	if err != nil {
		log.Fatalf("decode signing digest: %v", err)
	}
	assertion := credentials.Assertion{
		CredentialID:   cred.CredentialID,
		ClientDataJSON: clientData("webauthn.get", prepared.Challenge.Challenge, *origin),
		Signature:      auth.SignMessage(priv, digest),
		Counter:        1,
	}

	var outcome orchestrator.ConfirmResult
	if _, err := call(client, *shopperURL+"/api/checkout/"+prepared.SessionID+"/confirm", assertion, &outcome); err != nil {
		log.Fatalf("confirm: %v", err)
	}
	log.Printf("confirm outcome: %s", outcome.Status)

	if outcome.Status == "otp_required" {
		if outcome.OTPChallenge != nil {
			log.Printf("step-up: %s", outcome.OTPChallenge.Message)
		}
		if _, err := call(client, *shopperURL+"/api/checkout/"+prepared.SessionID+"/otp", map[string]string{
			"otp_code": *otpCode,
		}, &outcome); err != nil {
			log.Fatalf("submit otp: %v", err)
		}
		log.Printf("otp outcome: %s", outcome.Status)
	}

	if outcome.Receipt != nil {
		log.Printf("receipt: payment %s, %s %.2f, status %s",
			outcome.Receipt.PaymentID,
			outcome.Receipt.Amount.Currency,
			outcome.Receipt.Amount.Value,
			outcome.Receipt.PaymentStatus.Code,
		)
	}
	if outcome.Status != "success" {
		log.Fatalf("checkout did not complete: %s (%s)", outcome.Status, outcome.Message)
	}
	log.Printf("checkout complete")
}

// clientData builds the base64 client_data_json the wallet expects from
// a device.
func clientData(typ, challenge, origin string) string {
	raw, _ := json.Marshal(map[string]string{
		"type":      typ,
		"challenge": challenge,
		"origin":    origin,
	})
	return auth.EncodeBase64(raw)
}

// call POSTs a JSON body and decodes the JSON response into out. Error
// envelopes come back as errors.
func call(client *http.Client, url string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			ErrorKind string `json:"error_kind"`
			Message   string `json:"message"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.ErrorKind != "" {
			return resp.StatusCode, fmt.Errorf("%s: %s (%s)", url, envelope.Message, envelope.ErrorKind)
		}
		return resp.StatusCode, fmt.Errorf("%s: HTTP %d: %s", url, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", url, err)
		}
	}
	return resp.StatusCode, nil
}
