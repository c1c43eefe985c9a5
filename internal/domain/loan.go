package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusClosed    LoanStatus = "closed"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

// Direction tells which side of the loan the SACCO is on.
type Direction string

const (
	// DirectionReceivable is a loan the SACCO lends to a member.
	DirectionReceivable Direction = "receivable"
	// DirectionPayable is a loan the SACCO borrows, e.g. from a bank.
	DirectionPayable Direction = "payable"
)

// Loan represents a loan entity
type Loan struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	ProductID        string          `json:"product_id" db:"product_id"`
	MemberID         string          `json:"member_id" db:"member_id"`
	Principal        decimal.Decimal `json:"principal" db:"principal"`
	InterestRate     decimal.Decimal `json:"interest_rate" db:"interest_rate"`
	InterestType     InterestType    `json:"interest_type" db:"interest_type"`
	TenorMonths      int             `json:"tenor_months" db:"tenor_months"`
	DisbursementDate time.Time       `json:"disbursement_date" db:"disbursement_date"`
	Direction        Direction       `json:"direction" db:"direction"`
	Status           LoanStatus      `json:"status" db:"status"`
	Version          int64           `json:"version" db:"version"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
	Schedule         []*ScheduleLine `json:"schedule" db:"-"`
}

// OutstandingPrincipal is derived from the schedule, never stored.
func (l *Loan) OutstandingPrincipal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range l.Schedule {
		total = total.Add(line.PrincipalRemaining())
	}
	return total
}

// OutstandingInterest is the scheduled interest not yet paid.
func (l *Loan) OutstandingInterest() decimal.Decimal {
	total := decimal.Zero
	for _, line := range l.Schedule {
		total = total.Add(line.InterestRemaining())
	}
	return total
}

// ScheduleBalance is the unpaid part of every installment.
func (l *Loan) ScheduleBalance() decimal.Decimal {
	return l.OutstandingPrincipal().Add(l.OutstandingInterest())
}

// FinalDueDate is the due date of the last installment.
func (l *Loan) FinalDueDate() time.Time {
	if len(l.Schedule) == 0 {
		return l.DisbursementDate
	}
	return l.Schedule[len(l.Schedule)-1].DueDate
}

// Line returns the schedule line for an installment number.
func (l *Loan) Line(installment int) *ScheduleLine {
	for _, line := range l.Schedule {
		if line.InstallmentNumber == installment {
			return line
		}
	}
	return nil
}

// AllLinesPaid reports whether every installment is settled.
func (l *Loan) AllLinesPaid() bool {
	for _, line := range l.Schedule {
		if !line.IsPaid() {
			return false
		}
	}
	return true
}

// AcceptsRepayments reports whether money can still be applied to the loan.
func (l *Loan) AcceptsRepayments() bool {
	return l.Status == LoanStatusActive || l.Status == LoanStatusDefaulted
}

// Clone returns a deep copy of the loan and its schedule.
func (l *Loan) Clone() *Loan {
	c := *l
	c.Schedule = make([]*ScheduleLine, len(l.Schedule))
	for i, line := range l.Schedule {
		lc := *line
		c.Schedule[i] = &lc
	}
	if l.ApprovedAt != nil {
		t := *l.ApprovedAt
		c.ApprovedAt = &t
	}
	if l.ClosedAt != nil {
		t := *l.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// DTOs for requests and responses

type CreateLoanRequest struct {
	ProductID        string          `json:"product_id" validate:"required"`
	MemberID         string          `json:"member_id"`
	Principal        decimal.Decimal `json:"principal"`
	DisbursementDate time.Time       `json:"disbursement_date" validate:"required"`
	Direction        Direction       `json:"direction" validate:"omitempty,oneof=receivable payable"`
}

type LoanResponse struct {
	Loan                 *Loan           `json:"loan"`
	OutstandingPrincipal decimal.Decimal `json:"outstanding_principal"`
}
