package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"-333.23", "-333.23", true},
		{"+67,90", "67.9", true},
		{"-1.234,56", "-1234.56", true},
		{"1,000.5", "1000.5", true},
		{" 2.50 ", "2.5", true},
		{"0", "0", true},
		{"abc", "", false},
		{"1,2,3", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected ErrInvalidAmount, got %v", tc.in, err)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	got, err := NormalizeCurrency(" eur ")
	if err != nil || got != "EUR" {
		t.Fatalf("expected EUR, got %q (err=%v)", got, err)
	}
	if _, err := NormalizeCurrency("XYZ1"); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("expected ErrUnknownCurrency, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.RequireFromString("1234.56"), "USD"); got != "$1,234.56" {
		t.Errorf("FormatAmount USD = %q", got)
	}
	if got := FormatAmount(decimal.RequireFromString("12.5"), "???"); got != "12.5" {
		t.Errorf("FormatAmount unknown = %q", got)
	}
}
