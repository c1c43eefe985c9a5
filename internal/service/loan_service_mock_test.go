package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/repository"
	"github.com/segyhp/loan-ledger/internal/repository/mocks"
	customError "github.com/segyhp/loan-ledger/pkg/errors"
)

func pendingLoan(t *testing.T) *domain.Loan {
	t.Helper()
	loan := &domain.Loan{
		ID:               uuid.New(),
		ProductID:        "emergency",
		Principal:        decimal.NewFromInt(10000),
		InterestRate:     decimal.NewFromInt(12),
		InterestType:     domain.InterestFlat,
		TenorMonths:      6,
		DisbursementDate: date(2025, 8, 1),
		Direction:        domain.DirectionReceivable,
		Status:           domain.LoanStatusPending,
		Version:          4,
	}
	schedule, err := generateSchedule(loan)
	require.NoError(t, err)
	loan.Schedule = schedule
	return loan
}

func newMockService(t *testing.T, store repository.Store, retries int) *LoanService {
	t.Helper()
	settings := defaultSettings()
	settings.CommitRetries = retries
	svc, err := NewLoanService(store, testRegistry(t), domain.DefaultAccountCatalog(), settings,
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return date(2025, 8, 1) }),
	)
	require.NoError(t, err)
	return svc
}

func TestApproveLoan_RetriesOnVersionConflict(t *testing.T) {
	// Arrange
	store := &mocks.MockStore{}
	loan := pendingLoan(t)
	svc := newMockService(t, store, 3)

	store.On("GetLoan", mock.Anything, loan.ID).Return(loan, nil)
	store.On("Commit", mock.Anything, mock.AnythingOfType("*repository.Changeset")).
		Return(customError.WrapVersionConflict(loan.ID.String())).Once()
	store.On("Commit", mock.Anything, mock.MatchedBy(func(cs *repository.Changeset) bool {
		return cs.ExpectedVersion == 4 && len(cs.Entries) == 1 && cs.Loan.Status == domain.LoanStatusActive
	})).Return(nil).Once()

	// Act
	approved, err := svc.ApproveLoan(context.Background(), loan.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, approved.Status)
	store.AssertNumberOfCalls(t, "GetLoan", 2)
	store.AssertNumberOfCalls(t, "Commit", 2)
	store.AssertExpectations(t)
}

func TestApproveLoan_GivesUpAfterRetries(t *testing.T) {
	store := &mocks.MockStore{}
	loan := pendingLoan(t)
	svc := newMockService(t, store, 2)

	store.On("GetLoan", mock.Anything, loan.ID).Return(loan, nil)
	store.On("Commit", mock.Anything, mock.Anything).Return(customError.WrapVersionConflict(loan.ID.String()))

	_, err := svc.ApproveLoan(context.Background(), loan.ID)

	assert.True(t, errors.Is(err, customError.ErrVersionConflict))
	store.AssertNumberOfCalls(t, "Commit", 2)
}

func TestLoanService_StoreErrors(t *testing.T) {
	loan := pendingLoan(t)
	dbErr := errors.New("connection refused")

	tests := []struct {
		name          string
		setup         func(store *mocks.MockStore)
		call          func(svc *LoanService) error
		expectedCode  string
		expectedError error
	}{
		{
			name: "Failure - get loan",
			setup: func(store *mocks.MockStore) {
				store.On("GetLoan", mock.Anything, loan.ID).Return(nil, dbErr)
			},
			call: func(svc *LoanService) error {
				_, err := svc.GetLoan(context.Background(), loan.ID)
				return err
			},
			expectedCode: customError.ErrCodeDatabaseError,
		},
		{
			name: "Failure - loan not found passes through",
			setup: func(store *mocks.MockStore) {
				store.On("GetLoan", mock.Anything, loan.ID).Return(nil, customError.WrapLoanNotFound(loan.ID.String()))
			},
			call: func(svc *LoanService) error {
				_, err := svc.ApproveLoan(context.Background(), loan.ID)
				return err
			},
			expectedError: customError.ErrLoanNotFound,
		},
		{
			name: "Failure - commit",
			setup: func(store *mocks.MockStore) {
				store.On("GetLoan", mock.Anything, loan.ID).Return(loan, nil)
				store.On("Commit", mock.Anything, mock.Anything).Return(dbErr)
			},
			call: func(svc *LoanService) error {
				_, err := svc.ApproveLoan(context.Background(), loan.ID)
				return err
			},
			expectedCode: customError.ErrCodeDatabaseError,
		},
		{
			name: "Failure - listing active loans",
			setup: func(store *mocks.MockStore) {
				store.On("ListLoansByStatus", mock.Anything, domain.LoanStatusActive).Return(nil, dbErr)
			},
			call: func(svc *LoanService) error {
				_, err := svc.AccrueFines(context.Background(), date(2025, 11, 15), nil)
				return err
			},
			expectedCode: customError.ErrCodeDatabaseError,
		},
		{
			name: "Failure - create loan",
			setup: func(store *mocks.MockStore) {
				store.On("CreateLoan", mock.Anything, mock.Anything).Return(dbErr)
			},
			call: func(svc *LoanService) error {
				_, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
					ProductID:        "emergency",
					Principal:        decimal.NewFromInt(1000),
					DisbursementDate: date(2025, 8, 1),
				})
				return err
			},
			expectedCode: customError.ErrCodeDatabaseError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mocks.MockStore{}
			tt.setup(store)
			svc := newMockService(t, store, 3)

			err := tt.call(svc)

			require.Error(t, err)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, customError.Code(err))
			}
			if tt.expectedError != nil {
				assert.True(t, errors.Is(err, tt.expectedError))
			}
			store.AssertExpectations(t)
		})
	}
}

func TestAccrueFines_ContinuesPastFailingLoan(t *testing.T) {
	store := &mocks.MockStore{}
	broken := pendingLoan(t)
	broken.Status = domain.LoanStatusActive
	idle := pendingLoan(t)
	idle.Status = domain.LoanStatusActive
	svc := newMockService(t, store, 3)

	store.On("ListLoansByStatus", mock.Anything, domain.LoanStatusActive).Return([]*domain.Loan{broken, idle}, nil)
	store.On("GetLoan", mock.Anything, broken.ID).Return(nil, errors.New("timeout"))
	store.On("GetLoan", mock.Anything, idle.ID).Return(idle, nil)
	store.On("ListFines", mock.Anything, idle.ID).Return([]*domain.Fine{}, nil)

	// Nothing is overdue yet on the healthy loan.
	raised, err := svc.AccrueFines(context.Background(), date(2025, 8, 15), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.ID.String())
	assert.Empty(t, raised)
	store.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}
