package amortization

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var generatedAt = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func floatInstallment(principal, annualRate float64, years int) float64 {
	n := float64(years * 12)
	r := annualRate / 1200
	if r == 0 {
		return principal / n
	}
	pow := math.Pow(1+r, n)
	return principal * r * pow / (pow - 1)
}

func TestMonthlyRate(t *testing.T) {
	r := MonthlyRate(DefaultContext, decimal.RequireFromString("7.5"))
	assert.True(t, r.Equal(decimal.RequireFromString("0.00625")), "got %s", r)

	r = MonthlyRate(DefaultContext, decimal.NewFromInt(8))
	assert.Equal(t, "0.006666666666666666666666666666666667", r.String())
}

func TestMonthlyInstallment_StandardCase(t *testing.T) {
	terms := Terms{
		Principal:         decimal.RequireFromString("500000.00"),
		AnnualRatePercent: decimal.RequireFromString("7.5"),
		TenureYears:       10,
	}

	emi := MonthlyInstallment(DefaultContext, terms)

	expected := decimal.NewFromFloat(floatInstallment(500000, 7.5, 10)).Round(2)
	assert.True(t, emi.Equal(expected), "expected %s, got %s", expected, emi)
	assert.Equal(t, "5935.09", emi.StringFixed(2))
	assert.Equal(t, int32(-2), emi.Exponent())
}

func TestMonthlyInstallment_MatchesFormula(t *testing.T) {
	cases := []struct {
		principal float64
		rate      string
		years     int
		want      string
	}{
		{100000, "8", 5, "2027.64"},
		{1000, "12", 1, "88.85"},
		{250000, "6.5", 30, ""},
		{75000, "13.25", 7, ""},
		{20000, "15", 2, ""},
	}
	for _, c := range cases {
		rate := decimal.RequireFromString(c.rate)
		emi := MonthlyInstallment(DefaultContext, Terms{
			Principal:         decimal.NewFromFloat(c.principal),
			AnnualRatePercent: rate,
			TenureYears:       c.years,
		})
		f, _ := rate.Float64()
		approx := floatInstallment(c.principal, f, c.years)
		got, _ := emi.Float64()
		assert.InDelta(t, approx, got, 0.006, "principal=%v rate=%s years=%d", c.principal, c.rate, c.years)
		if c.want != "" {
			assert.Equal(t, c.want, emi.StringFixed(2))
		}
	}
}

func TestMonthlyInstallment_ZeroInterest(t *testing.T) {
	emi := MonthlyInstallment(DefaultContext, Terms{
		Principal:         decimal.NewFromInt(120000),
		AnnualRatePercent: decimal.Zero,
		TenureYears:       1,
	})
	assert.Equal(t, "10000.00", emi.StringFixed(2))

	emi = MonthlyInstallment(DefaultContext, Terms{
		Principal:         decimal.NewFromInt(100000),
		AnnualRatePercent: decimal.Zero,
		TenureYears:       3,
	})
	assert.Equal(t, "2777.78", emi.StringFixed(2))
}

func TestMonthlyInstallment_NoMonths(t *testing.T) {
	emi := MonthlyInstallment(DefaultContext, Terms{
		Principal:         decimal.NewFromInt(1000),
		AnnualRatePercent: decimal.NewFromInt(10),
		TenureYears:       0,
	})
	assert.True(t, emi.IsZero())
}

func TestBuildSchedule_ZeroInterest(t *testing.T) {
	s := BuildSchedule(DefaultContext, Terms{
		Principal:         decimal.NewFromInt(120000),
		AnnualRatePercent: decimal.Zero,
		TenureYears:       1,
	}, generatedAt)

	require.Len(t, s.Entries, 12)
	for i, e := range s.Entries {
		assert.Equal(t, "10000.00", e.Amount.StringFixed(2))
		expected := decimal.NewFromInt(int64(120000 - 10000*(i+1)))
		assert.True(t, e.RemainingBalance.Equal(expected), "period %d: expected %s, got %s", i, expected, e.RemainingBalance)
	}
	assert.Equal(t, "0.00", s.Entries[11].RemainingBalance.StringFixed(2))
	assert.Equal(t, "120000.00", s.TotalRepayable.StringFixed(2))
}

func TestBuildSchedule_Properties(t *testing.T) {
	cases := []Terms{
		{Principal: decimal.RequireFromString("500000.00"), AnnualRatePercent: decimal.RequireFromString("7.5"), TenureYears: 10},
		{Principal: decimal.RequireFromString("100000"), AnnualRatePercent: decimal.Zero, TenureYears: 3},
		{Principal: decimal.RequireFromString("987654.32"), AnnualRatePercent: decimal.RequireFromString("11.75"), TenureYears: 30},
		{Principal: decimal.RequireFromString("500"), AnnualRatePercent: decimal.RequireFromString("6.5"), TenureYears: 1},
	}

	for _, terms := range cases {
		s := BuildSchedule(DefaultContext, terms, generatedAt)
		n := terms.TenureYears * 12

		require.Len(t, s.Entries, n)

		sum := decimal.Zero
		for i, e := range s.Entries {
			assert.Equal(t, i, e.SequenceIndex)
			assert.True(t, e.Amount.Equal(s.Installment), "amounts must be uniform")
			assert.Equal(t, int32(-2), e.RemainingBalance.Exponent())
			if i > 0 {
				assert.True(t, s.Entries[i-1].RemainingBalance.GreaterThanOrEqual(e.RemainingBalance),
					"balance increased at %d: %s -> %s", i, s.Entries[i-1].RemainingBalance, e.RemainingBalance)
			}
			sum = sum.Add(e.Amount)
		}

		assert.True(t, s.Entries[n-1].RemainingBalance.IsZero(), "final balance %s", s.Entries[n-1].RemainingBalance)
		assert.True(t, sum.Equal(s.Installment.Mul(decimal.NewFromInt(int64(n)))), "sum %s", sum)
		assert.True(t, sum.Equal(s.TotalRepayable), "sum %s total %s", sum, s.TotalRepayable)
	}
}

func TestBuildSchedule_DueDates(t *testing.T) {
	s := BuildSchedule(DefaultContext, Terms{
		Principal:         decimal.NewFromInt(50000),
		AnnualRatePercent: decimal.NewFromInt(9),
		TenureYears:       2,
	}, generatedAt)

	require.Len(t, s.Entries, 24)
	assert.Equal(t, time.Date(2025, 4, 14, 0, 0, 0, 0, time.UTC), s.Entries[0].DueDate)
	for i := 1; i < len(s.Entries); i++ {
		prev, cur := s.Entries[i-1].DueDate, s.Entries[i].DueDate
		assert.Equal(t, prev.AddDate(0, 1, 0), cur, "entry %d", i)
	}
	assert.Equal(t, time.Date(2027, 3, 14, 0, 0, 0, 0, time.UTC), s.Entries[23].DueDate)
}

func TestBuildSchedule_MonthEndGeneration(t *testing.T) {
	s := BuildSchedule(DefaultContext, Terms{
		Principal:         decimal.NewFromInt(12000),
		AnnualRatePercent: decimal.NewFromInt(10),
		TenureYears:       1,
	}, time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC))

	require.Len(t, s.Entries, 12)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), s.Entries[0].DueDate)
	assert.Equal(t, time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC), s.Entries[1].DueDate)
	assert.Equal(t, time.Date(2025, 1, 29, 0, 0, 0, 0, time.UTC), s.Entries[11].DueDate)
}

func TestBuildSchedule_NoMonths(t *testing.T) {
	s := BuildSchedule(DefaultContext, Terms{Principal: decimal.NewFromInt(1000), TenureYears: 0}, generatedAt)
	assert.Empty(t, s.Entries)
	assert.True(t, s.Installment.IsZero())
}

func TestAddMonths(t *testing.T) {
	cases := []struct {
		from   time.Time
		months int
		want   time.Time
	}{
		{time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC), 3, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), 0, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, AddMonths(c.from, c.months), "%s + %d", c.from.Format("2006-01-02"), c.months)
	}
}

func TestValidateTerms(t *testing.T) {
	valid := Terms{Principal: decimal.NewFromInt(1000), AnnualRatePercent: decimal.NewFromInt(7), TenureYears: 5}
	assert.NoError(t, ValidateTerms(valid))

	zeroRate := valid
	zeroRate.AnnualRatePercent = decimal.Zero
	assert.NoError(t, ValidateTerms(zeroRate))

	bad := []Terms{
		{Principal: decimal.Zero, AnnualRatePercent: decimal.NewFromInt(7), TenureYears: 5},
		{Principal: decimal.NewFromInt(-10), AnnualRatePercent: decimal.NewFromInt(7), TenureYears: 5},
		{Principal: decimal.NewFromInt(1000), AnnualRatePercent: decimal.NewFromInt(-1), TenureYears: 5},
		{Principal: decimal.NewFromInt(1000), AnnualRatePercent: decimal.NewFromInt(7), TenureYears: 0},
		{Principal: decimal.NewFromInt(1000), AnnualRatePercent: decimal.NewFromInt(7), TenureYears: 31},
	}
	for _, terms := range bad {
		assert.ErrorIs(t, ValidateTerms(terms), ErrInvalidLoanInput)
	}
}
