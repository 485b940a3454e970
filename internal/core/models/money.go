package models

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrAmountOverflow = errors.New("amount overflow")
	ErrInvalidMoney   = errors.New("invalid money amount")
)

// Money is an amount in the smallest currency unit.
type Money int64

const Zero Money = 0

func (m Money) Add(o Money) (Money, error) {
	if (o > 0 && m > math.MaxInt64-o) || (o < 0 && m < math.MinInt64-o) {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, m, o)
	}
	return m + o, nil
}

func (m Money) Sub(o Money) (Money, error) {
	if (o < 0 && m > math.MaxInt64+o) || (o > 0 && m < math.MinInt64+o) {
		return 0, fmt.Errorf("%w: %d - %d", ErrAmountOverflow, m, o)
	}
	return m - o, nil
}

func (m Money) Neg() (Money, error) {
	if m == math.MinInt64 {
		return 0, fmt.Errorf("%w: -(%d)", ErrAmountOverflow, m)
	}
	return -m, nil
}

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	switch {
	case m < o:
		return -1
	case m > o:
		return 1
	default:
		return 0
	}
}

// Abs fails only for the most negative value.
func (m Money) Abs() (Money, error) {
	if m < 0 {
		return m.Neg()
	}
	return m, nil
}

func (m Money) Int64() int64 { return int64(m) }

// Decimal renders the amount in major units.
func (m Money) Decimal(minorUnits int32) decimal.Decimal {
	return decimal.New(int64(m), -minorUnits)
}

func (m Money) Format(minorUnits int32) string {
	return m.Decimal(minorUnits).StringFixed(minorUnits)
}

// Sum adds all amounts, failing on the first overflow.
func Sum(amounts ...Money) (Money, error) {
	var total Money
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ParseMoney converts a decimal string in major units into Money.
// Spaces are ignored and a comma is accepted as the decimal separator.
// Values finer than the currency's minor units are rejected rather than rounded.
func ParseMoney(s string, minorUnits int32) (Money, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidMoney)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
	}

	scaled := d.Shift(minorUnits)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidMoney, s, minorUnits)
	}

	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}

	return Money(scaled.IntPart()), nil
}
