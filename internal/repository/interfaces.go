package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/domain"
)

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// CreateLoan stores a new loan together with its schedule
	CreateLoan(ctx context.Context, loan *domain.Loan) error

	// GetLoan retrieves a loan and its schedule
	GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error)

	// GetLoanVersion reads only the loan's current version
	GetLoanVersion(ctx context.Context, id uuid.UUID) (int64, error)

	// ListLoansByStatus retrieves loans in a given status, oldest first
	ListLoansByStatus(ctx context.Context, status domain.LoanStatus) ([]*domain.Loan, error)
}

// FineRepository defines the interface for fine data operations
type FineRepository interface {
	// ListFines retrieves every fine of a loan, oldest first
	ListFines(ctx context.Context, loanID uuid.UUID) ([]*domain.Fine, error)
}

// PaymentRepository defines the interface for repayment data operations
type PaymentRepository interface {
	// GetRepaymentByReference retrieves the repayment posted under a caller reference
	GetRepaymentByReference(ctx context.Context, loanID uuid.UUID, reference string) (*domain.Repayment, error)

	// ListRepayments retrieves all repayments for a loan, oldest first
	ListRepayments(ctx context.Context, loanID uuid.UUID) ([]*domain.Repayment, error)
}

// JournalRepository is the append-only journal store.
type JournalRepository interface {
	// AppendEntries writes entries atomically; a duplicate reference rejects the whole batch
	AppendEntries(ctx context.Context, entries []*domain.JournalEntry) error

	// ListEntriesByReferencePrefix retrieves entries whose reference starts with prefix
	ListEntriesByReferencePrefix(ctx context.Context, prefix string) ([]*domain.JournalEntry, error)

	// ListEntriesByLoanID retrieves the entries posted for a loan, in posting order
	ListEntriesByLoanID(ctx context.Context, loanID uuid.UUID) ([]*domain.JournalEntry, error)

	// AccountTotals sums debits and credits per account over the whole journal
	AccountTotals(ctx context.Context) (map[domain.AccountCode]domain.AccountTotals, error)
}

// Changeset is one loan mutation: everything in it commits or nothing does.
type Changeset struct {
	Loan            *domain.Loan // full new state, schedule included
	ExpectedVersion int64        // version the change was computed from
	NewFines        []*domain.Fine
	UpdatedFines    []*domain.Fine
	Entries         []*domain.JournalEntry
	Repayment       *domain.Repayment
}

// Committer applies a changeset atomically. It fails with a version
// conflict when the stored loan has moved past ExpectedVersion, and
// increments the version on success.
type Committer interface {
	Commit(ctx context.Context, cs *Changeset) error
}

// Store bundles every repository a loan service needs.
type Store interface {
	LoanRepository
	FineRepository
	PaymentRepository
	JournalRepository
	Committer
	Close() error
}
