// README: Money helpers shared by request budgets and match rates.
package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts are stored as NUMERIC(14,2).
const AmountScale = 2

// MaxAmount is the exclusive upper bound of a storable amount.
var MaxAmount = decimal.New(1, 12)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrNegativeAmount  = fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	ErrAmountPrecision = fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, AmountScale)
	ErrAmountTooLarge  = fmt.Errorf("%w: must be below %s", ErrInvalidAmount, MaxAmount)
)

// CheckAmount rejects values the store would reject or round: negatives,
// more than two decimal places, and anything at or above MaxAmount. Zero is
// allowed. A trailing zero such as 10.500 is accepted.
func CheckAmount(v decimal.Decimal) error {
	switch {
	case v.IsNegative():
		return ErrNegativeAmount
	case !v.Equal(v.Truncate(AmountScale)):
		return ErrAmountPrecision
	case v.GreaterThanOrEqual(MaxAmount):
		return ErrAmountTooLarge
	}
	return nil
}

// AmountPtr copies v so callers can keep optional amounts without aliasing.
func AmountPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

// AmountString renders an optional amount for SQL parameters.
func AmountString(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// ParseAmount is the inverse of AmountString.
func ParseAmount(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
