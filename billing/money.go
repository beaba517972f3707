package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact fixed-point monetary amount
// =============================================================================

// Money is an exact monetary amount. All billing arithmetic goes through
// decimal.Decimal; binary floating point is never used.
type Money struct {
	Value decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{Value: decimal.Zero}

// NewMoneyFromInt builds a whole-unit amount.
func NewMoneyFromInt(v int64) Money {
	return Money{Value: decimal.NewFromInt(v)}
}

// NewMoneyFromMinor builds an amount from minor units (e.g. cents).
func NewMoneyFromMinor(minor int64) Money {
	return Money{Value: decimal.New(minor, -2)}
}

// ParseMoney parses a decimal string such as "100" or "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

// MustMoney is ParseMoney for literals in tests and fixtures.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money        { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money        { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) MulInt(n int) Money       { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg()} }
func (m Money) Cmp(o Money) int          { return m.Value.Cmp(o.Value) }
func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool    { return m.Value.LessThan(o.Value) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// String renders the amount with two decimals, e.g. "100.00".
func (m Money) String() string {
	return m.Value.StringFixed(2)
}

// MarshalJSON encodes the amount as a JSON string to keep it exact.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.Value.String() + `"`), nil
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Value.UnmarshalJSON(data)
}
