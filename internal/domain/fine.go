package domain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/pkg/utils"
	"github.com/shopspring/decimal"
)

type FineStatus string

const (
	FineStatusOutstanding   FineStatus = "outstanding"
	FineStatusPartiallyPaid FineStatus = "partially-paid"
	FineStatusPaid          FineStatus = "paid"
)

// FineType tells a late-installment fine from an outstanding-balance fine.
type FineType string

const (
	FineTypeLate        FineType = "late"
	FineTypeOutstanding FineType = "outstanding"
)

var fineNamespace = uuid.MustParse("6f1c2a8e-5d0b-4c55-9a55-2b1f0e3c7d41")

// Fine is a charge raised against a loan by the accrual engine.
type Fine struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	LoanID            uuid.UUID       `json:"loan_id" db:"loan_id"`
	Type              FineType        `json:"type" db:"fine_type"`
	InstallmentNumber *int            `json:"installment_number" db:"installment_number"`
	Period            int             `json:"period" db:"period"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	AmountPaid        decimal.Decimal `json:"amount_paid" db:"amount_paid"`
	Reason            string          `json:"reason" db:"reason"`
	Status            FineStatus      `json:"status" db:"status"`
	CreatedDate       time.Time       `json:"created_date" db:"created_date"`
}

// FineKey identifies the obligation and period a fine charges for. Two fines
// with the same key are duplicates.
func FineKey(loanID uuid.UUID, fineType FineType, installment *int, period int) string {
	n := 0
	if installment != nil {
		n = *installment
	}
	return fmt.Sprintf("%s:%s:%d:%d", loanID, fineType, n, period)
}

// FineID derives the fine ID from its key so re-running accrual yields the same ID.
func FineID(key string) uuid.UUID {
	return uuid.NewSHA1(fineNamespace, []byte(key))
}

func (f *Fine) Key() string {
	return FineKey(f.LoanID, f.Type, f.InstallmentNumber, f.Period)
}

func (f *Fine) Remaining() decimal.Decimal {
	return f.Amount.Sub(f.AmountPaid)
}

func (f *Fine) IsSettled() bool {
	return f.Status == FineStatusPaid
}

// Pay applies up to amount to the fine and returns what was used.
func (f *Fine) Pay(amount decimal.Decimal) decimal.Decimal {
	applied := utils.MinDecimal(amount, f.Remaining())
	if !applied.IsPositive() {
		return decimal.Zero
	}
	f.AmountPaid = f.AmountPaid.Add(applied)
	if f.Remaining().IsPositive() {
		f.Status = FineStatusPartiallyPaid
	} else {
		f.Status = FineStatusPaid
	}
	return applied
}

func (f *Fine) Clone() *Fine {
	c := *f
	if f.InstallmentNumber != nil {
		n := *f.InstallmentNumber
		c.InstallmentNumber = &n
	}
	return &c
}

// SortFines orders fines oldest first: by creation date, then installment
// (outstanding-balance fines last), then period.
func SortFines(fines []*Fine) {
	sort.SliceStable(fines, func(i, j int) bool {
		a, b := fines[i], fines[j]
		if !a.CreatedDate.Equal(b.CreatedDate) {
			return a.CreatedDate.Before(b.CreatedDate)
		}
		ai, bi := installmentOrder(a), installmentOrder(b)
		if ai != bi {
			return ai < bi
		}
		return a.Period < b.Period
	})
}

func installmentOrder(f *Fine) int {
	if f.InstallmentNumber == nil {
		return math.MaxInt
	}
	return *f.InstallmentNumber
}
