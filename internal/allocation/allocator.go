// Package allocation splits a repayment across a loan's obligations in a
// fixed order: fines oldest first, then each installment's interest and
// principal, oldest installment first.
package allocation

import (
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/ledger"
	"github.com/shopspring/decimal"
)

// Request is one repayment to apply.
type Request struct {
	RepaymentID uuid.UUID
	Amount      decimal.Decimal
	Date        time.Time
	Source      domain.AccountCode
}

// Result holds everything the allocation changed. Loan and Fines are the
// inputs, mutated in place; Lines and AffectedFines list only what moved.
type Result struct {
	Allocations   []domain.Allocation
	AffectedFines []*domain.Fine
	Lines         []*domain.ScheduleLine
	Entries       []*domain.JournalEntry
	Allocated     decimal.Decimal
	Remainder     decimal.Decimal
}

// Allocate applies req to loan and fines. The caller passes copies it owns;
// nothing here touches storage.
func Allocate(loan *domain.Loan, fines []*domain.Fine, req Request) *Result {
	res := &Result{Allocated: decimal.Zero, Remainder: decimal.Zero}
	left := req.Amount

	ordered := make([]*domain.Fine, len(fines))
	copy(ordered, fines)
	domain.SortFines(ordered)

	for _, fine := range ordered {
		if !left.IsPositive() {
			break
		}
		if fine.IsSettled() {
			continue
		}
		applied := fine.Pay(left)
		if !applied.IsPositive() {
			continue
		}
		left = left.Sub(applied)
		entry := ledger.FinePaymentEntry(loan, req.RepaymentID, fine, req.Source, applied, req.Date)
		fineID := fine.ID
		res.add(domain.Allocation{Target: domain.AllocationFine, FineID: &fineID, Amount: applied, Reference: entry.Reference}, entry)
		res.AffectedFines = append(res.AffectedFines, fine)
	}

	for _, line := range loan.Schedule {
		if !left.IsPositive() {
			break
		}
		if line.IsPaid() {
			continue
		}
		touched := false
		n := line.InstallmentNumber

		if applied := line.PayInterest(left); applied.IsPositive() {
			left = left.Sub(applied)
			entry := ledger.InterestPaymentEntry(loan, req.RepaymentID, n, req.Source, applied, req.Date)
			res.add(domain.Allocation{Target: domain.AllocationInterest, InstallmentNumber: intPtr(n), Amount: applied, Reference: entry.Reference}, entry)
			touched = true
		}
		if applied := line.PayPrincipal(left); applied.IsPositive() {
			left = left.Sub(applied)
			entry := ledger.PrincipalPaymentEntry(loan, req.RepaymentID, n, req.Source, applied, req.Date)
			res.add(domain.Allocation{Target: domain.AllocationPrincipal, InstallmentNumber: intPtr(n), Amount: applied, Reference: entry.Reference}, entry)
			touched = true
		}
		if touched {
			res.Lines = append(res.Lines, line)
		}
	}

	res.Remainder = left
	return res
}

func (r *Result) add(a domain.Allocation, entry *domain.JournalEntry) {
	r.Allocations = append(r.Allocations, a)
	r.Entries = append(r.Entries, entry)
	r.Allocated = r.Allocated.Add(a.Amount)
}

func intPtr(n int) *int {
	return &n
}
