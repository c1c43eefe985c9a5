package allocation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/amortization"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func flatLoan(t *testing.T, direction domain.Direction) *domain.Loan {
	t.Helper()
	loan := &domain.Loan{
		ID:               uuid.New(),
		Principal:        decimal.NewFromInt(10000),
		InterestRate:     decimal.NewFromInt(12),
		InterestType:     domain.InterestFlat,
		TenorMonths:      6,
		DisbursementDate: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		Direction:        direction,
		Status:           domain.LoanStatusActive,
	}
	schedule, err := amortization.Generate(amortization.Input{
		LoanID:           loan.ID,
		Principal:        loan.Principal,
		RatePercent:      loan.InterestRate,
		TenorMonths:      loan.TenorMonths,
		InterestType:     loan.InterestType,
		DisbursementDate: loan.DisbursementDate,
	})
	require.NoError(t, err)
	loan.Schedule = schedule
	return loan
}

func lateFine(loan *domain.Loan, installment int, amount string, created time.Time) *domain.Fine {
	f := &domain.Fine{
		LoanID:            loan.ID,
		Type:              domain.FineTypeLate,
		InstallmentNumber: &installment,
		Amount:            dec(amount),
		AmountPaid:        decimal.Zero,
		Status:            domain.FineStatusOutstanding,
		CreatedDate:       created,
	}
	f.ID = domain.FineID(f.Key())
	return f
}

func request(amount string) Request {
	return Request{
		RepaymentID: uuid.New(),
		Amount:      dec(amount),
		Date:        time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		Source:      domain.AccountCash,
	}
}

func TestAllocate_InterestBeforePrincipal(t *testing.T) {
	loan := flatLoan(t, domain.DirectionReceivable)

	res := Allocate(loan, nil, request("2000"))

	require.Len(t, res.Allocations, 3)
	assert.Equal(t, domain.AllocationInterest, res.Allocations[0].Target)
	assert.Equal(t, "200.00", res.Allocations[0].Amount.StringFixed(2))
	assert.Equal(t, domain.AllocationPrincipal, res.Allocations[1].Target)
	assert.Equal(t, "1666.67", res.Allocations[1].Amount.StringFixed(2))
	assert.Equal(t, domain.AllocationInterest, res.Allocations[2].Target)
	assert.Equal(t, 2, *res.Allocations[2].InstallmentNumber)
	assert.Equal(t, "133.33", res.Allocations[2].Amount.StringFixed(2))

	assert.True(t, loan.Schedule[0].IsPaid())
	assert.Equal(t, domain.ScheduleStatusPartiallyPaid, loan.Schedule[1].Status)
	assert.Len(t, res.Lines, 2)
	assert.True(t, res.Remainder.IsZero())
	assert.True(t, res.Allocated.Equal(dec("2000")))
}

func TestAllocate_FinesFirstOldestFirst(t *testing.T) {
	loan := flatLoan(t, domain.DirectionReceivable)
	newer := lateFine(loan, 2, "300", time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC))
	older := lateFine(loan, 1, "200", time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC))

	// Smaller than the fines: the schedule is untouched.
	res := Allocate(loan, []*domain.Fine{newer, older}, request("350"))

	require.Len(t, res.Allocations, 2)
	assert.Equal(t, older.ID, *res.Allocations[0].FineID)
	assert.Equal(t, "200", res.Allocations[0].Amount.String())
	assert.Equal(t, newer.ID, *res.Allocations[1].FineID)
	assert.Equal(t, "150", res.Allocations[1].Amount.String())

	assert.Equal(t, domain.FineStatusPaid, older.Status)
	assert.Equal(t, domain.FineStatusPartiallyPaid, newer.Status)
	assert.Len(t, res.AffectedFines, 2)
	assert.Empty(t, res.Lines)
	for _, line := range loan.Schedule {
		assert.Equal(t, domain.ScheduleStatusPending, line.Status)
		assert.True(t, line.PrincipalPaid.IsZero())
	}
}

func TestAllocate_OverpaymentLeavesRemainder(t *testing.T) {
	loan := flatLoan(t, domain.DirectionReceivable)
	fine := lateFine(loan, 1, "100", time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC))

	res := Allocate(loan, []*domain.Fine{fine}, request("12000"))

	assert.True(t, loan.AllLinesPaid())
	assert.True(t, fine.IsSettled())
	assert.Equal(t, "11300.00", res.Allocated.StringFixed(2))
	assert.Equal(t, "700.00", res.Remainder.StringFixed(2))
	assert.Len(t, res.Lines, 6)
}

func TestAllocate_EntriesMatchAllocations(t *testing.T) {
	for _, direction := range []domain.Direction{domain.DirectionReceivable, domain.DirectionPayable} {
		t.Run(string(direction), func(t *testing.T) {
			loan := flatLoan(t, direction)
			fine := lateFine(loan, 1, "100", time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC))
			req := request("5000")

			res := Allocate(loan, []*domain.Fine{fine}, req)

			require.Len(t, res.Entries, len(res.Allocations))
			total := decimal.Zero
			seen := map[string]bool{}
			for i, e := range res.Entries {
				assert.True(t, e.Balanced())
				assert.Equal(t, res.Allocations[i].Reference, e.Reference)
				assert.False(t, seen[e.Reference])
				seen[e.Reference] = true
				if direction == domain.DirectionReceivable {
					assert.Equal(t, domain.AccountCash, e.DebitAccount)
				} else {
					assert.Equal(t, domain.AccountCash, e.CreditAccount)
				}
				total = total.Add(e.DebitAmount)
			}
			assert.True(t, total.Equal(req.Amount))
		})
	}
}

func TestAllocate_StatusNeverMovesBackward(t *testing.T) {
	loan := flatLoan(t, domain.DirectionReceivable)
	Allocate(loan, nil, request("1866.67"))
	require.True(t, loan.Schedule[0].IsPaid())

	Allocate(loan, nil, request("10"))
	assert.True(t, loan.Schedule[0].IsPaid())
	assert.Equal(t, domain.ScheduleStatusPartiallyPaid, loan.Schedule[1].Status)
}
