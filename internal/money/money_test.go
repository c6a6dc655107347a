package money

import (
	"testing"
)

func TestRoundBankers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no rounding needed", "9.98", "9.98"},
		{"half rounds to even down", "2.345", "2.34"},
		{"half rounds to even up", "2.355", "2.36"},
		{"half rounds to even up odd", "2.675", "2.68"},
		{"below half rounds down", "1.234", "1.23"},
		{"above half rounds up", "1.236", "1.24"},
		{"whole number keeps decimals", "10", "10.00"},
		{"negative half to even", "-2.345", "-2.34"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse("SGD", tt.input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			got := a.RoundBankers().StringFixed()
			if got != tt.want {
				t.Errorf("RoundBankers(%s) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestEqualWithinTolerance(t *testing.T) {
	tests := []struct {
		name string
		a    float64
		b    float64
		want bool
	}{
		{"identical", 9.98, 9.98, true},
		{"within tolerance", 9.98, 9.9800000009, true},
		{"at tolerance boundary", 9.98, 9.980001, true},
		{"beyond tolerance", 9.98, 9.98001, false},
		{"clearly different", 9.98, 10.00, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := FromFloat("SGD", tt.a)
			b := FromFloat("SGD", tt.b)
			if got := a.EqualWithinTolerance(b); got != tt.want {
				t.Errorf("EqualWithinTolerance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}

	// Currency mismatch is never equal, regardless of value.
	a := FromFloat("SGD", 9.98)
	b := FromFloat("USD", 9.98)
	if a.EqualWithinTolerance(b) {
		t.Error("amounts in different currencies must not compare equal")
	}
}

func TestCartArithmetic(t *testing.T) {
	// 2 × 4.99 SGD = 9.98 SGD
	unit := FromFloat("SGD", 4.99)
	total := unit.MulInt(2)

	if got := total.StringFixed(); got != "9.98" {
		t.Errorf("2 x 4.99 = %s, want 9.98", got)
	}
	if got := total.MinorUnits(); got != 998 {
		t.Errorf("MinorUnits() = %d, want 998", got)
	}
}

func TestFromMinorUnits(t *testing.T) {
	a := FromMinorUnits("SGD", 499)
	if got := a.StringFixed(); got != "4.99" {
		t.Errorf("FromMinorUnits(499) = %s, want 4.99", got)
	}
	if got := a.Float64(); got != 4.99 {
		t.Errorf("Float64() = %v, want 4.99", got)
	}
}

func TestAddCurrencyMismatch(t *testing.T) {
	a := FromFloat("SGD", 1.00)
	b := FromFloat("USD", 1.00)
	if _, err := a.Add(b); err == nil {
		t.Error("Add across currencies should fail")
	}
	if _, err := a.Sub(b); err == nil {
		t.Error("Sub across currencies should fail")
	}
}

func TestNormalizeCurrency(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"SGD", "SGD", false},
		{"sgd", "SGD", false},
		{" usd ", "USD", false},
		{"SG", "", true},
		{"SGDX", "", true},
		{"12A", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeCurrency(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeCurrency(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeCurrency(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestClampNonNegative(t *testing.T) {
	pos := FromFloat("SGD", 5.00)
	if got := pos.ClampNonNegative(); !got.EqualWithinTolerance(pos) {
		t.Errorf("positive amount should be unchanged, got %s", got)
	}

	neg := FromFloat("SGD", -3.00)
	if got := neg.ClampNonNegative(); !got.IsZero() {
		t.Errorf("negative amount should clamp to zero, got %s", got)
	}
}
