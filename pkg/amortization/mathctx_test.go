package amortization

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMathContext_Round(t *testing.T) {
	mc := MathContext{Precision: 4}
	cases := map[string]string{
		"123.45":    "123.5",
		"123.44":    "123.4",
		"0.0012345": "0.001235",
		"99995":     "100000",
		"-2.5555":   "-2.556",
		"12":        "12",
		"0":         "0",
	}
	for in, want := range cases {
		got := mc.Round(d(in))
		assert.True(t, got.Equal(d(want)), "Round(%s) = %s, want %s", in, got, want)
	}

	unlimited := MathContext{}
	assert.Equal(t, "1.23456789", unlimited.Round(d("1.23456789")).String())
}

func TestMathContext_Div(t *testing.T) {
	mc := MathContext{Precision: 5}
	assert.Equal(t, "0.33333", mc.Div(d("1"), d("3")).String())
	assert.Equal(t, "0.66667", mc.Div(d("2"), d("3")).String())
	assert.Equal(t, "3.3333", mc.Div(d("10"), d("3")).String())
	// exactly halfway at the sixth digit
	assert.Equal(t, "0.12346", mc.Div(d("0.123455"), d("1")).String())
	assert.Equal(t, "4000", mc.Div(d("12000"), d("3")).String())
	assert.True(t, mc.Div(decimal.Zero, d("7")).IsZero())
}

func TestMathContext_Pow(t *testing.T) {
	assert.Equal(t, "1", DefaultContext.Pow(d("1.5"), 0).String())
	assert.Equal(t, "1024", DefaultContext.Pow(d("2"), 10).String())
	assert.Equal(t, "1.21", DefaultContext.Pow(d("1.1"), 2).String())

	// (1.00625)^120 to 34 significant digits
	got := DefaultContext.Pow(d("1.00625"), 120)
	assert.Equal(t, int32(-33), got.Exponent())
	assert.True(t, got.Sub(d("2.112064637127726678842130824158367")).Abs().LessThanOrEqual(d("1e-32")), "got %s", got)
}

func TestMathContext_AddSubMul(t *testing.T) {
	mc := MathContext{Precision: 6}
	assert.Equal(t, "1.00001", mc.Add(d("1"), d("0.000005")).String())
	assert.Equal(t, "0.999995", mc.Sub(d("1"), d("0.000005")).String())
	assert.Equal(t, "1.23457", mc.Mul(d("1.234567"), d("1")).String())
}
