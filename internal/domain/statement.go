package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statement is a read-only view of a loan's current state.
type Statement struct {
	Loan                 *Loan           `json:"loan"`
	Schedule             []*ScheduleLine `json:"schedule"`
	Fines                []*Fine         `json:"fines"`
	Repayments           []*Repayment    `json:"repayments"`
	JournalEntries       []*JournalEntry `json:"journal_entries"`
	OutstandingPrincipal decimal.Decimal `json:"outstanding_principal"`
	OutstandingInterest  decimal.Decimal `json:"outstanding_interest"`
	OutstandingFines     decimal.Decimal `json:"outstanding_fines"`
	Exposure             decimal.Decimal `json:"exposure"`
	GeneratedAt          time.Time       `json:"generated_at"`
}

// OutstandingFines sums what is still owed on fines.
func OutstandingFines(fines []*Fine) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fines {
		total = total.Add(f.Remaining())
	}
	return total
}

// HasOutstandingFines reports whether any fine is not fully paid.
func HasOutstandingFines(fines []*Fine) bool {
	for _, f := range fines {
		if !f.IsSettled() {
			return true
		}
	}
	return false
}

// Exposure is the unpaid schedule plus unpaid fines.
func Exposure(loan *Loan, fines []*Fine) decimal.Decimal {
	return loan.ScheduleBalance().Add(OutstandingFines(fines))
}
