package amortization

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of significant digits carried through intermediate steps.
const DefaultPrecision int32 = 34

// MinPrecision is the lowest precision accepted for schedule arithmetic.
const MinPrecision int32 = 30

// MathContext rounds every intermediate result to Precision significant digits, half-up.
// It is passed by value into each computation; nothing in this package reads shared
// precision state such as decimal.DivisionPrecision.
type MathContext struct {
	Precision int32
}

// DefaultContext is the context used when callers do not supply one.
var DefaultContext = MathContext{Precision: DefaultPrecision}

// Round rounds d to the context precision. A zero precision means unlimited.
func (mc MathContext) Round(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || mc.Precision <= 0 {
		return d
	}
	places := mc.Precision - 1 - adjustedExponent(d)
	if places >= -d.Exponent() {
		return d
	}
	return d.Round(places)
}

func (mc MathContext) Add(a, b decimal.Decimal) decimal.Decimal {
	return mc.Round(a.Add(b))
}

func (mc MathContext) Sub(a, b decimal.Decimal) decimal.Decimal {
	return mc.Round(a.Sub(b))
}

func (mc MathContext) Mul(a, b decimal.Decimal) decimal.Decimal {
	return mc.Round(a.Mul(b))
}

// Div divides a by b. The quotient is truncated with at least one guard digit past the
// context precision and then rounded, so the result equals the exact quotient rounded
// half-up. b must not be zero.
func (mc MathContext) Div(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() {
		return decimal.Zero
	}
	precision := mc.Precision
	if precision <= 0 {
		precision = DefaultPrecision
	}
	places := precision + 1 - (adjustedExponent(a) - adjustedExponent(b))
	q, _ := a.QuoRem(b, places)
	return MathContext{Precision: precision}.Round(q)
}

// Pow raises x to a non-negative integer power by repeated squaring. The working
// precision is widened by the digit count of n before the final rounding.
func (mc MathContext) Pow(x decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return decimal.NewFromInt(1)
	}
	work := MathContext{Precision: mc.Precision + int32(len(strconv.Itoa(n))) + 1}
	if mc.Precision <= 0 {
		work = mc
	}
	result := decimal.NewFromInt(1)
	base := x
	for e := n; e > 0; e >>= 1 {
		if e&1 == 1 {
			result = work.Mul(result, base)
		}
		if e > 1 {
			base = work.Mul(base, base)
		}
	}
	return mc.Round(result)
}

// adjustedExponent is the power of ten of the most significant digit of d.
func adjustedExponent(d decimal.Decimal) int32 {
	c := d.Coefficient()
	return int32(len(c.Abs(c).String())) + d.Exponent() - 1
}
