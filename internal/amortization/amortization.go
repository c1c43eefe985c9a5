// Package amortization turns a principal, rate and tenor into a repayment
// schedule. It is pure: no I/O, no clock.
package amortization

import (
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/domain"
	customError "github.com/segyhp/loan-ledger/pkg/errors"
	"github.com/segyhp/loan-ledger/pkg/utils"
	"github.com/shopspring/decimal"
)

var (
	one          = decimal.NewFromInt(1)
	monthsInYear = decimal.NewFromInt(12)
	hundred      = decimal.NewFromInt(100)
)

// Input describes the loan to amortize.
type Input struct {
	LoanID           uuid.UUID
	Principal        decimal.Decimal
	RatePercent      decimal.Decimal
	TenorMonths      int
	InterestType     domain.InterestType
	DisbursementDate time.Time
}

// Validate rejects inputs no schedule can be built from.
func (in Input) Validate() error {
	if !in.Principal.IsPositive() {
		return customError.WrapInvalidScheduleInput("principal", "must be greater than 0")
	}
	if in.RatePercent.IsNegative() {
		return customError.WrapInvalidScheduleInput("interest_rate", "must not be negative")
	}
	if in.TenorMonths < 1 {
		return customError.WrapInvalidScheduleInput("tenor_months", "must be at least 1")
	}
	if in.DisbursementDate.IsZero() {
		return customError.WrapInvalidScheduleInput("disbursement_date", "is required")
	}
	switch in.InterestType {
	case domain.InterestFlat, domain.InterestReducing:
	default:
		return customError.WrapInvalidScheduleInput("interest_type", "must be flat or reducing")
	}
	return nil
}

// Generate builds the ordered schedule, installment 1 first. Amounts are
// rounded to the currency minor unit and the rounding remainder is carried
// into the final installment, so the principal column always sums to the
// principal exactly.
func Generate(in Input) ([]*domain.ScheduleLine, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	switch in.InterestType {
	case domain.InterestFlat:
		return flat(in), nil
	default:
		return reducing(in), nil
	}
}

// FlatInterest is the interest charged once on the original principal.
func FlatInterest(principal, ratePercent decimal.Decimal) decimal.Decimal {
	return principal.Mul(ratePercent).Div(hundred)
}

// MonthlyRate converts an annual percentage rate into a monthly fraction.
func MonthlyRate(annualPercent decimal.Decimal) decimal.Decimal {
	return annualPercent.Div(hundred).Div(monthsInYear)
}

// EMI is the equal installment P*r*(1+r)^n / ((1+r)^n - 1). A zero rate
// degrades to an even split of the principal.
func EMI(principal, monthlyRate decimal.Decimal, n int) decimal.Decimal {
	periods := decimal.NewFromInt(int64(n))
	if monthlyRate.IsZero() {
		return principal.Div(periods)
	}
	growth := one.Add(monthlyRate).Pow(periods)
	return principal.Mul(monthlyRate).Mul(growth).Div(growth.Sub(one))
}

func flat(in Input) []*domain.ScheduleLine {
	n := decimal.NewFromInt(int64(in.TenorMonths))
	totalInterest := utils.RoundMoney(FlatInterest(in.Principal, in.RatePercent))
	principalPart := utils.RoundMoney(in.Principal.Div(n))
	interestPart := utils.RoundMoney(totalInterest.Div(n))

	lines := make([]*domain.ScheduleLine, 0, in.TenorMonths)
	principalLeft, interestLeft := in.Principal, totalInterest
	for i := 1; i <= in.TenorMonths; i++ {
		p, r := principalPart, interestPart
		if i == in.TenorMonths {
			p, r = principalLeft, interestLeft
		}
		principalLeft = principalLeft.Sub(p)
		interestLeft = interestLeft.Sub(r)
		lines = append(lines, newLine(in, i, p, r))
	}
	return lines
}

func reducing(in Input) []*domain.ScheduleLine {
	r := MonthlyRate(in.RatePercent)
	installment := utils.RoundMoney(EMI(in.Principal, r, in.TenorMonths))

	lines := make([]*domain.ScheduleLine, 0, in.TenorMonths)
	remaining := in.Principal
	for i := 1; i <= in.TenorMonths; i++ {
		interest := utils.RoundMoney(remaining.Mul(r))
		p := installment.Sub(interest)
		if i == in.TenorMonths || p.GreaterThan(remaining) {
			p = remaining
		}
		if p.IsNegative() {
			p = decimal.Zero
		}
		remaining = remaining.Sub(p)
		lines = append(lines, newLine(in, i, p, interest))
		if !remaining.IsPositive() && i < in.TenorMonths {
			// Rounding paid the loan off early; the remaining lines carry nothing.
			for j := i + 1; j <= in.TenorMonths; j++ {
				lines = append(lines, newLine(in, j, decimal.Zero, decimal.Zero))
			}
			break
		}
	}
	return lines
}

func newLine(in Input, installment int, principal, interest decimal.Decimal) *domain.ScheduleLine {
	line := &domain.ScheduleLine{
		LoanID:            in.LoanID,
		InstallmentNumber: installment,
		DueDate:           utils.CalculateDueDate(in.DisbursementDate, installment),
		PrincipalDue:      principal,
		InterestDue:       interest,
		TotalDue:          principal.Add(interest),
		PrincipalPaid:     decimal.Zero,
		InterestPaid:      decimal.Zero,
		Status:            domain.ScheduleStatusPending,
	}
	line.Refresh()
	return line
}
