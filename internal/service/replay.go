package service

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/domain"
)

// allocationsFromEntries recovers the allocation list of a posted repayment
// from the references of its journal entries.
func allocationsFromEntries(entries []*domain.JournalEntry) []domain.Allocation {
	allocations := make([]domain.Allocation, 0, len(entries))
	for _, e := range entries {
		a := domain.Allocation{Amount: e.DebitAmount, Reference: e.Reference}

		if i := strings.Index(e.Reference, "-FINE-"); i >= 0 {
			id, err := uuid.Parse(e.Reference[i+len("-FINE-"):])
			if err != nil {
				continue
			}
			a.Target = domain.AllocationFine
			a.FineID = &id
		} else if n, ok := installmentSuffix(e.Reference, "-INT-"); ok {
			a.Target = domain.AllocationInterest
			a.InstallmentNumber = &n
		} else if n, ok := installmentSuffix(e.Reference, "-PRN-"); ok {
			a.Target = domain.AllocationPrincipal
			a.InstallmentNumber = &n
		} else {
			continue
		}
		allocations = append(allocations, a)
	}
	return allocations
}

func installmentSuffix(reference, marker string) (int, bool) {
	i := strings.LastIndex(reference, marker)
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(reference[i+len(marker):])
	if err != nil {
		return 0, false
	}
	return n, true
}
