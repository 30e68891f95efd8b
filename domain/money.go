package domain

import "strings"

// DefaultCurrencyUnit is used for placeholder grant values until a
// downstream consumer computes the real amount.
const DefaultCurrencyUnit = "EUR"

// MonetaryValue is an amount in a currency or point unit.
type MonetaryValue struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// NewMonetaryValue builds a validated monetary value. The unit is
// trimmed and must be non-empty; the amount must not be negative.
func NewMonetaryValue(amount float64, unit string) (MonetaryValue, error) {
	unit = strings.TrimSpace(unit)
	if amount < 0 {
		return MonetaryValue{}, &ValidationError{Field: "amount", Message: "amount must not be negative"}
	}
	if unit == "" {
		return MonetaryValue{}, &ValidationError{Field: "unit", Message: "unit is required"}
	}
	return MonetaryValue{Amount: amount, Unit: unit}, nil
}

// ZeroValue returns the placeholder value written on freshly created
// grants.
func ZeroValue() MonetaryValue {
	return MonetaryValue{Amount: 0, Unit: DefaultCurrencyUnit}
}
