package amortization

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	moneyPlaces    = 2
	monthsPerYear  = 12
	maxTenureYears = 30
)

var (
	// ErrInvalidLoanInput is returned by ValidateTerms. Callers must reject such loans before
	// asking for a schedule.
	ErrInvalidLoanInput = errors.New("invalid loan input")

	percentPerMonth = decimal.NewFromInt(1200)
	one             = decimal.NewFromInt(1)
)

// Terms are the loan figures the schedule is computed from.
type Terms struct {
	Principal         decimal.Decimal
	AnnualRatePercent decimal.Decimal
	TenureYears       int
}

// Months is the installment count of the terms.
func (t Terms) Months() int {
	return t.TenureYears * monthsPerYear
}

// ValidateTerms checks the preconditions of schedule generation.
func ValidateTerms(t Terms) error {
	if !t.Principal.IsPositive() {
		return fmt.Errorf("%w: principal must be positive, got %s", ErrInvalidLoanInput, t.Principal)
	}
	if t.AnnualRatePercent.IsNegative() {
		return fmt.Errorf("%w: interest rate cannot be negative, got %s", ErrInvalidLoanInput, t.AnnualRatePercent)
	}
	if t.TenureYears < 1 || t.TenureYears > maxTenureYears {
		return fmt.Errorf("%w: tenure must be between 1 and %d years, got %d", ErrInvalidLoanInput, maxTenureYears, t.TenureYears)
	}
	return nil
}

// MonthlyRate converts an annual percentage into a per-month decimal rate.
func MonthlyRate(mc MathContext, annualRatePercent decimal.Decimal) decimal.Decimal {
	return mc.Div(annualRatePercent, percentPerMonth)
}

// MonthlyInstallment computes the fixed EMI, rounded half-up to two places:
//
//	EMI = P * r * (1+r)^n / ((1+r)^n - 1)
//
// A zero rate divides the principal evenly. A non-positive month count yields zero.
func MonthlyInstallment(mc MathContext, t Terms) decimal.Decimal {
	n := t.Months()
	if n <= 0 {
		return decimal.Zero
	}
	r := MonthlyRate(mc, t.AnnualRatePercent)
	if r.IsZero() {
		return mc.Div(t.Principal, decimal.NewFromInt(int64(n))).Round(moneyPlaces)
	}
	pow := mc.Pow(mc.Add(one, r), n)
	numerator := mc.Mul(mc.Mul(t.Principal, r), pow)
	denominator := mc.Sub(pow, one)
	return mc.Div(numerator, denominator).Round(moneyPlaces)
}

// Entry is one computed period of a schedule.
type Entry struct {
	SequenceIndex    int
	DueDate          time.Time
	Amount           decimal.Decimal
	RemainingBalance decimal.Decimal
}

// Schedule is the full set of periods for a loan.
type Schedule struct {
	Installment    decimal.Decimal
	TotalRepayable decimal.Decimal
	Entries        []Entry
}

// BuildSchedule computes the installment and walks the balance down from the total
// repayable figure one period at a time. The first installment falls due one calendar
// month after generatedAt.
//
// The total repayable is installment*n rather than the compounded total, so any rounding
// residue shows up in the balances and is absorbed by the zero floor, never in the amount
// of the final installment.
func BuildSchedule(mc MathContext, t Terms, generatedAt time.Time) Schedule {
	installment := MonthlyInstallment(mc, t)
	n := t.Months()
	if n <= 0 {
		return Schedule{Installment: installment, TotalRepayable: decimal.Zero}
	}

	total := mc.Mul(installment, decimal.NewFromInt(int64(n)))
	firstDue := AddMonths(DateOf(generatedAt), 1)

	entries := make([]Entry, 0, n)
	balance := total
	for i := 0; i < n; i++ {
		balance = mc.Sub(balance, installment)
		if balance.IsNegative() {
			balance = decimal.Zero
		}
		entries = append(entries, Entry{
			SequenceIndex:    i,
			DueDate:          AddMonths(firstDue, i),
			Amount:           installment,
			RemainingBalance: balance.Round(moneyPlaces),
		})
	}

	return Schedule{
		Installment:    installment,
		TotalRepayable: total.Round(moneyPlaces),
		Entries:        entries,
	}
}

// DateOf truncates t to midnight UTC of its calendar day in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddMonths moves a date by whole calendar months. When the target month is shorter the
// day is clamped to its last day, so Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(date time.Time, months int) time.Time {
	y, m, d := date.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, date.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	h, mi, s := date.Clock()
	return time.Date(first.Year(), first.Month(), d, h, mi, s, date.Nanosecond(), date.Location())
}
