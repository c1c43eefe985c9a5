package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/pkg/utils"
	"github.com/shopspring/decimal"
)

type ScheduleStatus string

const (
	ScheduleStatusPending       ScheduleStatus = "pending"
	ScheduleStatusPartiallyPaid ScheduleStatus = "partially-paid"
	ScheduleStatusPaid          ScheduleStatus = "paid"
)

// rank orders statuses so they can only progress.
func (s ScheduleStatus) rank() int {
	switch s {
	case ScheduleStatusPartiallyPaid:
		return 1
	case ScheduleStatusPaid:
		return 2
	default:
		return 0
	}
}

// ScheduleLine represents one installment of a loan's repayment schedule.
// Due amounts are fixed at generation; only the paid amounts and the status
// move, and the status never moves backward.
type ScheduleLine struct {
	LoanID            uuid.UUID       `json:"loan_id" db:"loan_id"`
	InstallmentNumber int             `json:"installment_number" db:"installment_number"`
	DueDate           time.Time       `json:"due_date" db:"due_date"`
	PrincipalDue      decimal.Decimal `json:"principal_due" db:"principal_due"`
	InterestDue       decimal.Decimal `json:"interest_due" db:"interest_due"`
	TotalDue          decimal.Decimal `json:"total_due" db:"total_due"`
	PrincipalPaid     decimal.Decimal `json:"principal_paid" db:"principal_paid"`
	InterestPaid      decimal.Decimal `json:"interest_paid" db:"interest_paid"`
	Status            ScheduleStatus  `json:"status" db:"status"`
}

func (l *ScheduleLine) InterestRemaining() decimal.Decimal {
	return l.InterestDue.Sub(l.InterestPaid)
}

func (l *ScheduleLine) PrincipalRemaining() decimal.Decimal {
	return l.PrincipalDue.Sub(l.PrincipalPaid)
}

// Remaining is the unpaid part of the installment.
func (l *ScheduleLine) Remaining() decimal.Decimal {
	return l.InterestRemaining().Add(l.PrincipalRemaining())
}

func (l *ScheduleLine) IsPaid() bool {
	return l.Status == ScheduleStatusPaid
}

// PayInterest applies up to amount to the interest portion and returns what was used.
func (l *ScheduleLine) PayInterest(amount decimal.Decimal) decimal.Decimal {
	applied := utils.MinDecimal(amount, l.InterestRemaining())
	if applied.IsPositive() {
		l.InterestPaid = l.InterestPaid.Add(applied)
		l.Refresh()
	}
	return applied
}

// PayPrincipal applies up to amount to the principal portion and returns what was used.
func (l *ScheduleLine) PayPrincipal(amount decimal.Decimal) decimal.Decimal {
	applied := utils.MinDecimal(amount, l.PrincipalRemaining())
	if applied.IsPositive() {
		l.PrincipalPaid = l.PrincipalPaid.Add(applied)
		l.Refresh()
	}
	return applied
}

// Refresh advances the status to match the paid amounts.
func (l *ScheduleLine) Refresh() {
	next := ScheduleStatusPending
	switch {
	case !l.Remaining().IsPositive():
		next = ScheduleStatusPaid
	case l.InterestPaid.IsPositive() || l.PrincipalPaid.IsPositive():
		next = ScheduleStatusPartiallyPaid
	}
	if next.rank() > l.Status.rank() {
		l.Status = next
	}
}
