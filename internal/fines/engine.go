// Package fines computes the late-installment and outstanding-balance fines
// a loan owes as of a date. It does not persist or post anything; the
// lifecycle manager commits the result together with its journal entries.
package fines

import (
	"fmt"
	"time"

	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/pkg/utils"
	"github.com/shopspring/decimal"
)

// Accrue returns the fines that should exist for the loan as of asOf but are
// not in existing. Fines are keyed by (loan, type, installment, period), so
// calling it again with its own output in existing returns nothing.
func Accrue(loan *domain.Loan, product *domain.LoanProduct, existing []*domain.Fine, asOf time.Time) []*domain.Fine {
	if loan.Status != domain.LoanStatusActive {
		return nil
	}

	seen := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		seen[f.Key()] = struct{}{}
	}

	var created []*domain.Fine
	add := func(f *domain.Fine) {
		key := f.Key()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		f.ID = domain.FineID(key)
		created = append(created, f)
	}

	if rule := product.LateFineRule; rule.Enabled {
		for _, line := range loan.Schedule {
			if line.IsPaid() {
				continue
			}
			for _, p := range firedPeriods(rule, line.DueDate, asOf) {
				amount := Amount(rule, line.TotalDue, line.Remaining())
				if !amount.IsPositive() {
					continue
				}
				n := line.InstallmentNumber
				add(&domain.Fine{
					LoanID:            loan.ID,
					Type:              domain.FineTypeLate,
					InstallmentNumber: &n,
					Period:            p,
					Amount:            amount,
					AmountPaid:        decimal.Zero,
					Reason:            lateReason(n, p),
					Status:            domain.FineStatusOutstanding,
					CreatedDate:       threshold(rule, line.DueDate, p),
				})
			}
		}
	}

	if rule := product.OutstandingFineRule; rule.Enabled && len(loan.Schedule) > 0 {
		balance := loan.ScheduleBalance()
		if balance.IsPositive() {
			final := loan.FinalDueDate()
			for _, p := range firedPeriods(rule, final, asOf) {
				amount := Amount(rule, balance, balance)
				if !amount.IsPositive() {
					continue
				}
				add(&domain.Fine{
					LoanID:      loan.ID,
					Type:        domain.FineTypeOutstanding,
					Period:      p,
					Amount:      amount,
					AmountPaid:  decimal.Zero,
					Reason:      outstandingReason(p),
					Status:      domain.FineStatusOutstanding,
					CreatedDate: threshold(rule, final, p),
				})
			}
		}
	}

	domain.SortFines(created)
	return created
}

// Amount is what one firing of rule charges. dueTotal and unpaid are the
// two bases a percentage rule can be charged on.
func Amount(rule domain.FineRule, dueTotal, unpaid decimal.Decimal) decimal.Decimal {
	switch rule.Kind {
	case domain.FineKindPercentage:
		basis := dueTotal
		if rule.ChargeBasis == domain.ChargeTotalUnpaid {
			basis = unpaid
		}
		return utils.RoundMoney(utils.Percent(basis, rule.Value))
	default:
		return utils.RoundMoney(rule.Value)
	}
}

// firedPeriods lists the periods whose threshold lies strictly before asOf.
// Period 0 is the first firing; refiring rules add one period per further
// calendar month.
func firedPeriods(rule domain.FineRule, due, asOf time.Time) []int {
	var periods []int
	for p := 0; utils.IsDateOverdue(threshold(rule, due, p), asOf); p++ {
		periods = append(periods, p)
		if !rule.Refires() {
			break
		}
	}
	return periods
}

func threshold(rule domain.FineRule, due time.Time, period int) time.Time {
	return utils.AddMonths(due, period).AddDate(0, 0, rule.GraceDays)
}

func lateReason(installment, period int) string {
	if period == 0 {
		return fmt.Sprintf("Late payment of installment %d", installment)
	}
	return fmt.Sprintf("Late payment of installment %d, month %d", installment, period+1)
}

func outstandingReason(period int) string {
	if period == 0 {
		return "Outstanding balance after final due date"
	}
	return fmt.Sprintf("Outstanding balance after final due date, month %d", period+1)
}
