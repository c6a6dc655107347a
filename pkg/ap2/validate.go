package ap2

import (
	"fmt"
	"regexp"
)

// Shape requirements for per-transaction card material.
var (
	tokenPattern      = regexp.MustCompile(`^\d{16}$`)
	cryptogramPattern = regexp.MustCompile(`^[0-9A-F]{32}$`)
	lastFourPattern   = regexp.MustCompile(`^\d{4}$`)
	mandateIDPattern  = regexp.MustCompile(`^PM-[0-9A-F]{16}$`)
)

// knownNetworks is the accepted card_network set.
var knownNetworks = map[string]bool{
	"visa":       true,
	"mastercard": true,
	"amex":       true,
	"discover":   true,
}

// KnownNetwork reports whether network is in the accepted set.
func KnownNetwork(network string) bool {
	return knownNetworks[network]
}

// ValidMandateID reports whether id matches PM-<16 hex upper>.
func ValidMandateID(id string) bool {
	return mandateIDPattern.MatchString(id)
}

// ValidateCardDetails checks the shape of per-transaction card material:
// 16-digit token, 32-uppercase-hex cryptogram, 4-digit last-four, and a
// known network. Returns the first violation found.
func ValidateCardDetails(d CardDetails) error {
	if !tokenPattern.MatchString(d.Token) {
		return fmt.Errorf("ap2: token must be 16 decimal digits")
	}
	if !cryptogramPattern.MatchString(d.Cryptogram) {
		return fmt.Errorf("ap2: cryptogram must be 32 uppercase hex characters")
	}
	if !lastFourPattern.MatchString(d.CardLastFour) {
		return fmt.Errorf("ap2: card_last_four must be 4 digits")
	}
	if !KnownNetwork(d.CardNetwork) {
		return fmt.Errorf("ap2: unknown card network %q", d.CardNetwork)
	}
	return nil
}

// ValidateMandateShape checks the structural requirements of a mandate
// before any signature or business validation: ids present, method CARD,
// card details well-formed, payer email present.
func ValidateMandateShape(m PaymentMandate) error {
	c := m.PaymentMandateContents
	if c.PaymentMandateID == "" {
		return fmt.Errorf("ap2: missing payment_mandate_id")
	}
	if c.PaymentDetailsID == "" {
		return fmt.Errorf("ap2: missing payment_details_id")
	}
	if c.PaymentResponse.MethodName != "CARD" {
		return fmt.Errorf("ap2: unsupported method %q", c.PaymentResponse.MethodName)
	}
	if c.PaymentResponse.PayerEmail == "" {
		return fmt.Errorf("ap2: missing payer_email")
	}
	return ValidateCardDetails(c.PaymentResponse.Details)
}
