package ap2

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Protocol id formats. Mandate and details ids are minted by the shopper;
// payment and confirmation ids by the merchant.

// NewMandateID returns a fresh mandate id: PM-<16 hex upper>.
func NewMandateID() string {
	return "PM-" + strings.ToUpper(uuidHex()[:16])
}

// NewPaymentDetailsID returns a fresh payment details id: REQ-<12 hex upper>.
func NewPaymentDetailsID() string {
	return "REQ-" + strings.ToUpper(uuidHex()[:12])
}

// NewPaymentID returns a fresh payment id: PAY-<12 hex upper>.
func NewPaymentID() string {
	return "PAY-" + strings.ToUpper(uuidHex()[:12])
}

// NewMerchantConfirmationID returns MCH-<8 hex upper>.
func NewMerchantConfirmationID() string {
	return "MCH-" + strings.ToUpper(uuidHex()[:8])
}

// NewPSPConfirmationID returns PSP-<8 hex upper>.
func NewPSPConfirmationID() string {
	return "PSP-" + strings.ToUpper(uuidHex()[:8])
}

// NewNetworkConfirmationID returns NET-<8 hex upper>.
func NewNetworkConfirmationID() string {
	return "NET-" + strings.ToUpper(uuidHex()[:8])
}

// NewErrorPaymentID returns ERR-<8 hex>, the payment id stamped on
// receipts for attempts that never reached capture.
func NewErrorPaymentID() string {
	return "ERR-" + uuidHex()[:8]
}

// NewToken returns 16 random decimal digits, the locally generated
// per-transaction token used when no network token is on file.
func NewToken() string {
	var b strings.Builder
	b.Grow(16)
	for i := 0; i < 16; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			// crypto/rand failure is unrecoverable for payment material
			panic(fmt.Sprintf("ap2: random token: %v", err))
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String()
}

// NewCryptogram returns 32 random uppercase hex characters.
func NewCryptogram() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("ap2: random cryptogram: %v", err))
	}
	return strings.ToUpper(hex.EncodeToString(raw))
}

// uuidHex returns a v4 UUID as 32 lowercase hex characters without
// separators.
func uuidHex() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
