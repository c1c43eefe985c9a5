package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalEntry is a single balanced debit/credit pair. Entries are
// append-only: never mutated or deleted once written.
type JournalEntry struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Date          time.Time       `json:"date" db:"entry_date"`
	Description   string          `json:"description" db:"description"`
	Reference     string          `json:"reference" db:"reference"`
	LoanID        uuid.UUID       `json:"loan_id" db:"loan_id"`
	DebitAccount  AccountCode     `json:"debit_account" db:"debit_account"`
	CreditAccount AccountCode     `json:"credit_account" db:"credit_account"`
	DebitAmount   decimal.Decimal `json:"debit_amount" db:"debit_amount"`
	CreditAmount  decimal.Decimal `json:"credit_amount" db:"credit_amount"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Balanced reports whether the debit leg equals the credit leg.
func (e *JournalEntry) Balanced() bool {
	return e.DebitAmount.Equal(e.CreditAmount)
}
