package money

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount represents a monetary amount in a specific currency.
// All arithmetic is performed on decimals to avoid floating-point drift;
// wire values are bankers-rounded to two decimal places.
//
// Examples:
//   - 9.98 SGD  = Amount{Currency: "SGD", Value: 9.98}
//   - 4.99 USD  = Amount{Currency: "USD", Value: 4.99}
type Amount struct {
	Currency string
	Value    decimal.Decimal
}

var (
	// ErrCurrencyMismatch occurs when operating on different currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")

	// ErrInvalidCurrency occurs when a currency code is not 3 letters.
	ErrInvalidCurrency = errors.New("money: invalid currency code")

	// ErrInvalidFormat occurs when parsing fails.
	ErrInvalidFormat = errors.New("money: invalid format")
)

// currencyPattern matches ISO-4217 style 3-letter codes.
var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// tolerance is the comparison slack for totals arriving as JSON numbers.
// Two amounts within 1e-6 of each other are considered equal.
var tolerance = decimal.New(1, -6)

// ValidCurrency reports whether code is a plausible 3-letter currency code.
func ValidCurrency(code string) bool {
	return currencyPattern.MatchString(code)
}

// NormalizeCurrency upper-cases a currency code and validates its shape.
func NormalizeCurrency(code string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(code))
	if !ValidCurrency(upper) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return upper, nil
}

// Zero returns a zero amount for the given currency.
func Zero(currency string) Amount {
	return Amount{Currency: currency, Value: decimal.Zero}
}

// New creates an Amount from a decimal value.
func New(currency string, value decimal.Decimal) Amount {
	return Amount{Currency: currency, Value: value}
}

// FromFloat creates an Amount from a float64 as received in JSON bodies.
func FromFloat(currency string, value float64) Amount {
	return Amount{Currency: currency, Value: decimal.NewFromFloat(value)}
}

// FromMinorUnits creates an Amount from minor units (cents).
//
// Example: FromMinorUnits("SGD", 998) → 9.98 SGD
func FromMinorUnits(currency string, cents int64) Amount {
	return Amount{Currency: currency, Value: decimal.New(cents, -2)}
}

// Parse creates an Amount from a decimal string (e.g. "9.98").
func Parse(currency, value string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return Amount{Currency: currency, Value: d}, nil
}

// Add returns the sum of two amounts.
// Returns an error if the currencies don't match.
func (a Amount) Add(other Amount) (Amount, error) {
	if a.Currency != other.Currency {
		return Amount{}, fmt.Errorf("%w: cannot add %s and %s", ErrCurrencyMismatch, a.Currency, other.Currency)
	}
	return Amount{Currency: a.Currency, Value: a.Value.Add(other.Value)}, nil
}

// Sub returns the difference of two amounts.
func (a Amount) Sub(other Amount) (Amount, error) {
	if a.Currency != other.Currency {
		return Amount{}, fmt.Errorf("%w: cannot subtract %s and %s", ErrCurrencyMismatch, a.Currency, other.Currency)
	}
	return Amount{Currency: a.Currency, Value: a.Value.Sub(other.Value)}, nil
}

// MulInt multiplies the amount by an integer quantity.
func (a Amount) MulInt(qty int64) Amount {
	return Amount{Currency: a.Currency, Value: a.Value.Mul(decimal.NewFromInt(qty))}
}

// RoundBankers rounds the amount to two decimal places with bankers
// rounding (round half to even), the rounding used for all wire values
// and canonical signing digests.
//
// Examples: 2.345 → 2.34, 2.355 → 2.36, 2.675 → 2.68
func (a Amount) RoundBankers() Amount {
	return Amount{Currency: a.Currency, Value: a.Value.RoundBank(2)}
}

// Float64 returns the amount as a float64 for JSON wire encoding.
func (a Amount) Float64() float64 {
	f, _ := a.Value.Float64()
	return f
}

// MinorUnits returns the amount in minor units (cents), bankers-rounded.
//
// Example: 9.98 SGD → 998
func (a Amount) MinorUnits() int64 {
	return a.Value.RoundBank(2).Shift(2).IntPart()
}

// StringFixed returns the amount formatted with exactly two decimal
// places using bankers rounding (e.g. "9.98"). This is the canonical
// monetary representation inside signing digests.
func (a Amount) StringFixed() string {
	return a.Value.StringFixedBank(2)
}

// EqualWithinTolerance reports whether two amounts agree in currency and
// differ by at most 1e-6. Totals cross the wire as JSON numbers, so a
// strict equality check would reject float encoding noise.
func (a Amount) EqualWithinTolerance(other Amount) bool {
	if a.Currency != other.Currency {
		return false
	}
	return a.Value.Sub(other.Value).Abs().LessThanOrEqual(tolerance)
}

// IsPositive returns true if the amount is greater than zero.
func (a Amount) IsPositive() bool {
	return a.Value.IsPositive()
}

// IsNegative returns true if the amount is less than zero.
func (a Amount) IsNegative() bool {
	return a.Value.IsNegative()
}

// IsZero returns true if the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.Value.IsZero()
}

// LessThan returns true if a < other (same currency required).
func (a Amount) LessThan(other Amount) bool {
	if a.Currency != other.Currency {
		return false // Cannot compare different currencies
	}
	return a.Value.LessThan(other.Value)
}

// GreaterThanOrEqual returns true if a >= other (same currency required).
func (a Amount) GreaterThanOrEqual(other Amount) bool {
	if a.Currency != other.Currency {
		return false
	}
	return a.Value.GreaterThanOrEqual(other.Value)
}

// Min returns the smaller of a and other.
func (a Amount) Min(other Amount) Amount {
	if other.Value.LessThan(a.Value) {
		return other
	}
	return a
}

// ClampNonNegative raises negative amounts to zero. Discounts can never
// push a total below zero.
func (a Amount) ClampNonNegative() Amount {
	if a.Value.IsNegative() {
		return Zero(a.Currency)
	}
	return a
}

// String returns a human-readable representation.
// Example: Amount{SGD, 9.98} → "9.98 SGD"
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.StringFixed(), a.Currency)
}
