package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	Buy   TradeAction = "buy"
	Sell  TradeAction = "sell"
	Price TradeAction = "price"
)

type (
	TradeAction string

	// Operation is a normalized cash movement as produced by an importer.
	// Amount is signed: positive values are inflows.
	Operation struct {
		Date     Date            `json:"date"`
		Title    string          `json:"title"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}

	// Trade is a normalized change to a holding. Units and TotalValue
	// describe buys and sells; UnitPrice describes a price update.
	Trade struct {
		Date       Date            `json:"date"`
		Title      string          `json:"title"`
		Action     TradeAction     `json:"action"`
		Units      decimal.Decimal `json:"units"`
		TotalValue decimal.Decimal `json:"totalValue"`
		UnitPrice  decimal.Decimal `json:"unitPrice"`
	}

	// Valuation replaces the balance of a stream that is not priced per unit.
	Valuation struct {
		Date    Date            `json:"date"`
		Title   string          `json:"title"`
		Balance decimal.Decimal `json:"balance"`
	}
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrInvalidDate     = errors.New("invalid date")
)

// ValidationError reports malformed input for a single record of a batch.
// Index is the position of the record in the batch, or -1.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("validation failed: record %d: %s %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError that is not tied to a batch position.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Index: -1, Field: field, Reason: reason}
}

// At returns a copy of the error positioned at index i.
func (e *ValidationError) At(i int) *ValidationError {
	c := *e
	c.Index = i
	return &c
}

func (o Operation) Validate() error {
	if o.Date.IsZero() {
		return Invalid("date", "is required")
	}
	if len(o.Title) > 500 {
		return Invalid("title", "is too long (max 500 characters)")
	}
	if strings.TrimSpace(o.Currency) == "" {
		return Invalid("currency", "is required")
	}
	if _, err := NormalizeCurrency(o.Currency); err != nil {
		return Invalid("currency", fmt.Sprintf("%q is not a known currency", o.Currency))
	}
	return nil
}

func (t Trade) Validate() error {
	if t.Date.IsZero() {
		return Invalid("date", "is required")
	}
	switch t.Action {
	case Buy, Sell:
		if !t.Units.IsPositive() {
			return Invalid("units", "must be greater than zero")
		}
		if !t.TotalValue.IsPositive() {
			return Invalid("totalValue", "must be greater than zero")
		}
	case Price:
		if !t.Price().IsPositive() {
			return Invalid("unitPrice", "must be greater than zero")
		}
	default:
		return Invalid("action", fmt.Sprintf("%q is not one of buy, sell, price", t.Action))
	}
	return nil
}

// Price returns the unit price of the trade. Buys and sells always derive
// it as total value divided by units; UnitPrice only counts for price updates.
func (t Trade) Price() decimal.Decimal {
	if t.Action == Price || t.Units.IsZero() {
		return t.UnitPrice
	}
	return t.TotalValue.DivRound(t.Units, UnitPricePlaces)
}

func (v Valuation) Validate() error {
	if v.Date.IsZero() {
		return Invalid("date", "is required")
	}
	if v.Balance.IsNegative() {
		return Invalid("balance", "cannot be negative")
	}
	return nil
}
