// Package credentials is the shopper's wallet: registered users, their
// enrolled device keys, and their stored payment instruments. PANs are
// encrypted at rest and only masked views ever leave the package;
// device keys authorize mandates through a challenge-response flow.
package credentials

import (
	"crypto/ed25519"
	"time"
)

// User is a registered shopper. Emails are case-folded at registration
// and unique.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeviceCredential is an enrolled device key. The counter increases
// with every assertion; a replayed or cloned-device assertion presents
// a stale counter and is rejected.
type DeviceCredential struct {
	ID        string
	UserEmail string
	PublicKey ed25519.PublicKey
	Counter   uint32
	CreatedAt time.Time
}

// Instrument is a stored payment card. EncryptedPAN is base64
// nonce-prefixed AES-256-GCM ciphertext; the cleartext PAN exists only
// transiently inside AddInstrument and InstrumentPAN.
type Instrument struct {
	ID           string
	UserEmail    string
	EncryptedPAN string
	LastFour     string
	Network      string
	HolderName   string
	ExpiryMonth  int
	ExpiryYear   int
	Default      bool
	CreatedAt    time.Time

	// Network tokenization state, populated when the tokenization
	// adapter succeeds. Untokenized instruments work fine; the consumer
	// agent then mints a per-transaction token instead.
	NetworkToken   string
	TokenReference string
	TokenAssurance string
	TokenizedAt    time.Time
	Tokenized      bool
}

// InstrumentView is the masked wire shape. It never carries the PAN,
// encrypted or not.
type InstrumentView struct {
	ID           string `json:"id"`
	UserEmail    string `json:"user_email"`
	CardLastFour string `json:"card_last_four"`
	CardNetwork  string `json:"card_network"`
	HolderName   string `json:"card_holder_name,omitempty"`
	ExpiryMonth  int    `json:"expiry_month,omitempty"`
	ExpiryYear   int    `json:"expiry_year,omitempty"`
	IsDefault    bool   `json:"is_default"`
	IsTokenized  bool   `json:"is_tokenized"`
	CreatedAt    string `json:"created_at"`
}

// View returns the masked wire shape of the instrument.
func (i *Instrument) View() InstrumentView {
	return InstrumentView{
		ID:           i.ID,
		UserEmail:    i.UserEmail,
		CardLastFour: i.LastFour,
		CardNetwork:  i.Network,
		HolderName:   i.HolderName,
		ExpiryMonth:  i.ExpiryMonth,
		ExpiryYear:   i.ExpiryYear,
		IsDefault:    i.Default,
		IsTokenized:  i.Tokenized,
		CreatedAt:    i.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NetworkToken is the tokenization result recorded against an
// instrument.
type NetworkToken struct {
	Token       string
	Reference   string
	Assurance   string
	TokenizedAt time.Time
}

// EnrollmentChallenge is issued by BeginEnrollment. The device echoes
// the challenge inside the attestation's client data.
type EnrollmentChallenge struct {
	UserEmail string    `json:"user_email"`
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Attestation finishes an enrollment: the echoed client data, the
// credential id the device minted, and the Ed25519 public key.
type Attestation struct {
	CredentialID   string `json:"credential_id"`
	ClientDataJSON string `json:"client_data_json"`
	PublicKey      string `json:"public_key"`
}

// AuthorizationChallenge is issued by BeginAuthorization, bound to the
// digest the device is being asked to sign.
type AuthorizationChallenge struct {
	UserEmail string    `json:"user_email"`
	Challenge string    `json:"challenge"`
	Digest    string    `json:"digest"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Assertion answers an authorization challenge: the client data echoes
// the challenge, the signature covers the digest bound at Begin, and
// the counter must exceed the stored one.
type Assertion struct {
	CredentialID   string `json:"credential_id"`
	ClientDataJSON string `json:"client_data_json"`
	Signature      string `json:"signature"`
	Counter        uint32 `json:"counter"`
}

// AddCardInput is the add-instrument request. PAN is accepted with
// spaces or hyphens and normalized before storage.
type AddCardInput struct {
	PAN         string `json:"card_number"`
	HolderName  string `json:"card_holder_name,omitempty"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	MakeDefault bool   `json:"make_default,omitempty"`
}

// clientData is the decoded client_data_json payload.
type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}
