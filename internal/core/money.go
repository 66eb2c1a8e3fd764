// Package core provides amount parsing and currency handling utilities.
//
// This file contains functions for parsing signed monetary amounts from the
// strings found in bank exports and for checking currency codes.
package core

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

const (
	// UnitPricePlaces is the precision kept for derived unit prices.
	UnitPricePlaces = 8
	// BalancePlaces is the precision of balances derived from unit prices.
	BalancePlaces = 2
	// PercentPlaces is the precision of distribution percentages.
	PercentPlaces = 4
)

// ParseAmount converts a decimal string to an exact signed amount.
//
// It accepts dot (12.34) and comma (12,34) decimal separators. When both
// appear, the rightmost one is the decimal separator and the other is
// treated as a thousands separator.
//
// Examples:
//
//	ParseAmount("12.34")     -> 12.34
//	ParseAmount("-1.234,56") -> -1234.56
//	ParseAmount("+1,000.5")  -> 1000.5
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.TrimPrefix(s, "+")

	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case dot >= 0 && comma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// NormalizeCurrency upper-cases an ISO 4217 code and checks that it exists.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if money.GetCurrency(code) == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return code, nil
}

// FormatAmount renders an amount with the currency's symbol and separators,
// e.g. "$1,234.56" for USD. Unknown currencies fall back to the plain number.
func FormatAmount(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(strings.ToUpper(code))
	if cur == nil {
		return amount.String()
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}
