package ucp

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Every binary field on the wire (signatures, challenges, credential ids,
// authenticator data) uses URL-safe base64 WITHOUT padding. Decoders
// accept both padded and unpadded input so round-trips with stricter
// encoders still verify.

// EncodeBytes encodes raw bytes as unpadded URL-safe base64.
func EncodeBytes(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeBytes decodes URL-safe base64, accepting padded or unpadded
// input. Standard-alphabet input is rejected.
func DecodeBytes(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("ucp: decode base64: %w", err)
	}
	return raw, nil
}
