package credentials

import "strings"

// Card networks detected from the leading PAN digits.
const (
	NetworkVisa       = "visa"
	NetworkMastercard = "mastercard"
	NetworkAmex       = "amex"
	NetworkDiscover   = "discover"
	NetworkUnknown    = "unknown"
)

// NormalizePAN strips the spaces and hyphens card numbers commonly
// arrive with.
func NormalizePAN(pan string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, pan)
}

// LastFour returns the trailing four digits of a normalized PAN.
func LastFour(pan string) string {
	clean := NormalizePAN(pan)
	if len(clean) < 4 {
		return clean
	}
	return clean[len(clean)-4:]
}

// DetectNetwork identifies the card network from the normalized PAN
// prefix: visa 4; mastercard 51-55 and 2221-2720; amex 34 and 37;
// discover 6011, 65, 622126-622925, 644-649.
func DetectNetwork(pan string) string {
	clean := NormalizePAN(pan)
	if clean == "" {
		return NetworkUnknown
	}

	if clean[0] == '5' && len(clean) > 1 && clean[1] >= '1' && clean[1] <= '5' {
		return NetworkMastercard
	}
	if n, ok := prefixValue(clean, 4); ok && n >= 2221 && n <= 2720 {
		return NetworkMastercard
	}

	if clean[0] == '4' {
		return NetworkVisa
	}

	if strings.HasPrefix(clean, "34") || strings.HasPrefix(clean, "37") {
		return NetworkAmex
	}

	if strings.HasPrefix(clean, "6011") || strings.HasPrefix(clean, "65") {
		return NetworkDiscover
	}
	if n, ok := prefixValue(clean, 6); ok && n >= 622126 && n <= 622925 {
		return NetworkDiscover
	}
	if n, ok := prefixValue(clean, 3); ok && n >= 644 && n <= 649 {
		return NetworkDiscover
	}

	return NetworkUnknown
}

// prefixValue parses the first n characters as a decimal number.
func prefixValue(s string, n int) (int, bool) {
	if len(s) < n {
		return 0, false
	}
	v := 0
	for _, r := range s[:n] {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + int(r-'0')
	}
	return v, true
}

// validPAN reports whether a normalized PAN is all digits with a
// plausible length.
func validPAN(clean string) bool {
	if len(clean) < 12 || len(clean) > 19 {
		return false
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
