package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

var _ repository.Store = (*MockStore)(nil)

func (m *MockStore) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	args := m.Called(ctx, loan)
	return args.Error(0)
}

func (m *MockStore) GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Loan).Clone(), args.Error(1)
}

func (m *MockStore) GetLoanVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ListLoansByStatus(ctx context.Context, status domain.LoanStatus) ([]*domain.Loan, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Loan), args.Error(1)
}

func (m *MockStore) ListFines(ctx context.Context, loanID uuid.UUID) ([]*domain.Fine, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Fine), args.Error(1)
}

func (m *MockStore) GetRepaymentByReference(ctx context.Context, loanID uuid.UUID, reference string) (*domain.Repayment, error) {
	args := m.Called(ctx, loanID, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Repayment), args.Error(1)
}

func (m *MockStore) ListRepayments(ctx context.Context, loanID uuid.UUID) ([]*domain.Repayment, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Repayment), args.Error(1)
}

func (m *MockStore) AppendEntries(ctx context.Context, entries []*domain.JournalEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockStore) ListEntriesByReferencePrefix(ctx context.Context, prefix string) ([]*domain.JournalEntry, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.JournalEntry), args.Error(1)
}

func (m *MockStore) ListEntriesByLoanID(ctx context.Context, loanID uuid.UUID) ([]*domain.JournalEntry, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.JournalEntry), args.Error(1)
}

func (m *MockStore) AccountTotals(ctx context.Context) (map[domain.AccountCode]domain.AccountTotals, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.AccountCode]domain.AccountTotals), args.Error(1)
}

func (m *MockStore) Commit(ctx context.Context, cs *repository.Changeset) error {
	args := m.Called(ctx, cs)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
