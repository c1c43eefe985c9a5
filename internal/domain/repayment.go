package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var repaymentNamespace = uuid.MustParse("0b7e9c6a-3f4d-4e8b-8f4e-91a5c2d7e610")

// Repayment records money received against (or paid out on) a loan.
type Repayment struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	LoanID    uuid.UUID       `json:"loan_id" db:"loan_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Allocated decimal.Decimal `json:"allocated" db:"allocated"`
	Remainder decimal.Decimal `json:"remainder" db:"remainder"`
	Date      time.Time       `json:"date" db:"payment_date"`
	Method    PaymentMethod   `json:"method" db:"method"`
	Reference string          `json:"reference" db:"reference"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// RepaymentID derives a stable ID from the caller's reference so that a
// retried request maps onto the repayment it already created.
func RepaymentID(loanID uuid.UUID, reference string) uuid.UUID {
	if reference == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(repaymentNamespace, []byte(loanID.String()+":"+reference))
}

// AllocationTarget is what part of the debt a slice of a repayment settled.
type AllocationTarget string

const (
	AllocationFine      AllocationTarget = "fine"
	AllocationInterest  AllocationTarget = "interest"
	AllocationPrincipal AllocationTarget = "principal"
)

// Allocation is one slice of a repayment applied to one obligation.
type Allocation struct {
	Target            AllocationTarget `json:"target"`
	FineID            *uuid.UUID       `json:"fine_id,omitempty"`
	InstallmentNumber *int             `json:"installment_number,omitempty"`
	Amount            decimal.Decimal  `json:"amount"`
	Reference         string           `json:"reference"`
}

type RepaymentRequest struct {
	LoanID    uuid.UUID       `json:"loan_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date" validate:"required"`
	Method    PaymentMethod   `json:"method" validate:"required,oneof=cash bank mobile_money"`
	Reference string          `json:"reference" validate:"required,max=64"`
}

// RepaymentResult is what a posted repayment changed.
type RepaymentResult struct {
	Loan        *Loan           `json:"loan"`
	Repayment   *Repayment      `json:"repayment"`
	Allocations []Allocation    `json:"allocations"`
	Fines       []*Fine         `json:"fines"`
	Lines       []*ScheduleLine `json:"lines"`
	Entries     []*JournalEntry `json:"journal_entries"`
	Remainder   decimal.Decimal `json:"remainder"`
	Replayed    bool            `json:"replayed"` // reference already posted, nothing new written
}
