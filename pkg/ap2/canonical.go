package ap2

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/gibson042/canonicaljson-go"
	"github.com/shopspring/decimal"
)

// CanonicalContents returns the canonical JSON encoding of mandate
// contents: lexicographically sorted keys, UTF-8, no insignificant
// whitespace, monetary values bankers-rounded to 2 decimals. The device
// signs this encoding and the merchant verifies against it, so signer
// and verifier must agree byte for byte.
func CanonicalContents(c PaymentMandateContents) ([]byte, error) {
	c.PaymentDetailsTotal.Amount = roundAmount(c.PaymentDetailsTotal.Amount)

	// Round-trip through a generic map so canonicaljson controls both key
	// ordering and numeric formatting.
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("ap2: marshal contents: %w", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("ap2: reshape contents: %w", err)
	}
	canonical, err := canonicaljson.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("ap2: canonicalize contents: %w", err)
	}
	return canonical, nil
}

// ContentsDigest returns the SHA-256 digest of the canonical contents
// encoding. This is the exact byte string a device credential signs.
func ContentsDigest(c PaymentMandateContents) ([]byte, error) {
	canonical, err := CanonicalContents(c)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}

// CanonicalReceipt returns the canonical JSON encoding of a receipt with
// the merchant signature field cleared, used as the merchant signing
// input.
func CanonicalReceipt(r PaymentReceipt) ([]byte, error) {
	r.MerchantSignature = ""
	r.Amount = roundAmount(r.Amount)

	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("ap2: marshal receipt: %w", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("ap2: reshape receipt: %w", err)
	}
	canonical, err := canonicaljson.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("ap2: canonicalize receipt: %w", err)
	}
	return canonical, nil
}

// roundAmount bankers-rounds a monetary value to 2 decimal places so both
// sides format the same digits regardless of float encoding noise.
func roundAmount(a PaymentCurrencyAmount) PaymentCurrencyAmount {
	rounded, _ := decimal.NewFromFloat(a.Value).RoundBank(2).Float64()
	a.Value = rounded
	return a
}
