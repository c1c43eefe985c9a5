package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places of the currency minor unit.
const MinorUnitPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds an amount to the currency minor unit (half away from zero).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// Percent returns rate% of base, unrounded.
func Percent(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddMonths adds calendar months to a date. When the target month is shorter
// than the source day the result is clamped to the last day of that month,
// so Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, months int) time.Time {
	t = DateOnly(t)
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// CalculateDueDate returns the due date of an installment, counted in
// calendar months from the disbursement date.
func CalculateDueDate(disbursementDate time.Time, installment int) time.Time {
	return AddMonths(disbursementDate, installment)
}

// IsDateOverdue reports whether dueDate lies strictly before asOf, comparing
// calendar dates only.
func IsDateOverdue(dueDate, asOf time.Time) bool {
	return DateOnly(dueDate).Before(DateOnly(asOf))
}

// DecimalFromString converts string to decimal.Decimal
func DecimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
