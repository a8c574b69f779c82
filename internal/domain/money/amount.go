// Package money provides the monetary amount type used across spending
// rules and governance decisions.
package money

import (
	"fmt"
	"math"
)

// Epsilon is the tolerance used for equality comparison of amounts.
// Monetary values are carried as float64 (W3C PaymentCurrencyAmount shape),
// so exact equality is unreliable.
const Epsilon = 0.001

// Amount is a monetary value in a single currency.
// Currency is an ISO 4217 code for fiat (e.g., "USD") or a token symbol
// for crypto (e.g., "USDC").
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// New constructs an Amount.
func New(value float64, currency string) Amount {
	return Amount{Value: value, Currency: currency}
}

// IsZero reports whether the amount has no value and no currency.
func (a Amount) IsZero() bool {
	return a.Currency == "" && a.Value == 0
}

// SameCurrency reports whether b is denominated in the same currency.
func (a Amount) SameCurrency(b Amount) bool {
	return a.Currency == b.Currency
}

// Equal reports whether two amounts are equal within Epsilon.
// Amounts in different currencies are never equal.
func (a Amount) Equal(b Amount) bool {
	return a.SameCurrency(b) && math.Abs(a.Value-b.Value) < Epsilon
}

// String formats the amount for logs and messages.
func (a Amount) String() string {
	return fmt.Sprintf("%.2f %s", a.Value, a.Currency)
}
