// README: Amount boundary checks.
package types

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCheckAmount(t *testing.T) {
	cases := []struct {
		in   string
		want error
	}{
		{"0", nil},
		{"65000", nil},
		{"65000.5", nil},
		{"65000.50", nil},
		{"65000.500", nil},
		{"999999999999.99", nil},
		{"-0.01", ErrNegativeAmount},
		{"65000.555", ErrAmountPrecision},
		{"0.001", ErrAmountPrecision},
		{"1000000000000", ErrAmountTooLarge},
		{"1e15", ErrAmountTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			err := CheckAmount(decimal.RequireFromString(tc.in))
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) || !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
