package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/repository"
	customError "github.com/segyhp/loan-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStores returns a fresh SQLite store, plus a Postgres one when
// TEST_DATABASE_URL is set. The Postgres tables are truncated first.
func testStores(t *testing.T) map[string]*Store {
	t.Helper()
	ctx := context.Background()
	stores := make(map[string]*Store)

	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_busy_timeout=5000&_foreign_keys=on"
	lite, err := sqlx.Connect(DriverSQLite, dsn)
	require.NoError(t, err)
	lite.SetMaxOpenConns(1)
	stores[DriverSQLite] = mustStore(t, lite)

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		pg, err := sqlx.Connect(DriverPostgres, url)
		require.NoError(t, err)
		store := mustStore(t, pg)
		_, err = pg.ExecContext(ctx, `TRUNCATE journal_entries, repayments, fines, schedule_lines, loans`)
		require.NoError(t, err)
		stores[DriverPostgres] = store
	}
	return stores
}

func mustStore(t *testing.T, db *sqlx.DB) *Store {
	t.Helper()
	store, err := New(db)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newLoan() *domain.Loan {
	id := uuid.New()
	created := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)
	return &domain.Loan{
		ID:               id,
		ProductID:        "emergency",
		MemberID:         "M-7",
		Principal:        decimal.RequireFromString("1000.50"),
		InterestRate:     decimal.NewFromInt(12),
		InterestType:     domain.InterestFlat,
		TenorMonths:      2,
		DisbursementDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Direction:        domain.DirectionReceivable,
		Status:           domain.LoanStatusActive,
		CreatedAt:        created,
		UpdatedAt:        created,
		Schedule: []*domain.ScheduleLine{
			{
				LoanID:            id,
				InstallmentNumber: 1,
				DueDate:           time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
				PrincipalDue:      decimal.RequireFromString("500.25"),
				InterestDue:       decimal.NewFromInt(10),
				TotalDue:          decimal.RequireFromString("510.25"),
				Status:            domain.ScheduleStatusPending,
			},
			{
				LoanID:            id,
				InstallmentNumber: 2,
				DueDate:           time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
				PrincipalDue:      decimal.RequireFromString("500.25"),
				InterestDue:       decimal.NewFromInt(10),
				TotalDue:          decimal.RequireFromString("510.25"),
				Status:            domain.ScheduleStatusPending,
			},
		},
	}
}

func entry(loanID uuid.UUID, ref string, amount string) *domain.JournalEntry {
	return &domain.JournalEntry{
		ID:            uuid.New(),
		Date:          time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Description:   "test posting",
		Reference:     ref,
		LoanID:        loanID,
		DebitAccount:  domain.AccountLoansReceivable,
		CreditAccount: domain.AccountBank,
		DebitAmount:   decimal.RequireFromString(amount),
		CreditAmount:  decimal.RequireFromString(amount),
		CreatedAt:     time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC),
	}
}

func lateFine(loanID uuid.UUID, installment int) *domain.Fine {
	f := &domain.Fine{
		LoanID:            loanID,
		Type:              domain.FineTypeLate,
		InstallmentNumber: &installment,
		Amount:            decimal.NewFromInt(50),
		Reason:            "late installment",
		Status:            domain.FineStatusOutstanding,
		CreatedDate:       time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	f.ID = domain.FineID(f.Key())
	return f
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	_, err := New(sqlx.NewDb(nil, "mysql"))
	assert.Error(t, err)
}

func TestStore_LoanRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			loan := newLoan()
			require.NoError(t, store.CreateLoan(ctx, loan))

			got, err := store.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, loan.ID, got.ID)
			assert.Equal(t, "M-7", got.MemberID)
			assert.True(t, got.Principal.Equal(loan.Principal))
			assert.Equal(t, loan.DisbursementDate, got.DisbursementDate)
			assert.True(t, loan.CreatedAt.Equal(got.CreatedAt))
			assert.Nil(t, got.ApprovedAt)
			require.Len(t, got.Schedule, 2)
			assert.Equal(t, loan.Schedule[1].DueDate, got.Schedule[1].DueDate)
			assert.True(t, got.Schedule[0].TotalDue.Equal(decimal.RequireFromString("510.25")))

			_, err = store.GetLoan(ctx, uuid.New())
			assert.True(t, errors.Is(err, customError.ErrLoanNotFound))

			active, err := store.ListLoansByStatus(ctx, domain.LoanStatusActive)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Len(t, active[0].Schedule, 2)

			pending, err := store.ListLoansByStatus(ctx, domain.LoanStatusPending)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestStore_CommitBumpsVersion(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			loan := newLoan()
			require.NoError(t, store.CreateLoan(ctx, loan))

			loan.Schedule[0].PayInterest(decimal.NewFromInt(10))
			loan.Schedule[0].PayPrincipal(decimal.RequireFromString("500.25"))
			closed := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)
			loan.ClosedAt = &closed
			require.NoError(t, store.Commit(ctx, &repository.Changeset{
				Loan:            loan,
				ExpectedVersion: 0,
				Entries:         []*domain.JournalEntry{entry(loan.ID, "REPAY-1-PRN-1", "500.25")},
			}))
			assert.Equal(t, int64(1), loan.Version)

			got, err := store.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Version)
			assert.True(t, got.Schedule[0].IsPaid())
			assert.Equal(t, domain.ScheduleStatusPending, got.Schedule[1].Status)
			require.NotNil(t, got.ClosedAt)
			assert.True(t, closed.Equal(*got.ClosedAt))

			version, err := store.GetLoanVersion(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), version)
			_, err = store.GetLoanVersion(ctx, uuid.New())
			assert.True(t, errors.Is(err, customError.ErrLoanNotFound))

			stale := &repository.Changeset{Loan: got, ExpectedVersion: 0}
			err = store.Commit(ctx, stale)
			assert.True(t, errors.Is(err, customError.ErrVersionConflict))

			missing := newLoan()
			err = store.Commit(ctx, &repository.Changeset{Loan: missing})
			assert.True(t, errors.Is(err, customError.ErrLoanNotFound))
		})
	}
}

func TestStore_CommitIsAllOrNothing(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			loan := newLoan()
			require.NoError(t, store.CreateLoan(ctx, loan))
			require.NoError(t, store.AppendEntries(ctx, []*domain.JournalEntry{entry(loan.ID, "DISB-"+loan.ID.String(), "1000.50")}))

			loan.Schedule[0].PayInterest(decimal.NewFromInt(5))
			err := store.Commit(ctx, &repository.Changeset{
				Loan:     loan,
				NewFines: []*domain.Fine{lateFine(loan.ID, 1)},
				Entries: []*domain.JournalEntry{
					entry(loan.ID, "FINE-1", "50"),
					entry(loan.ID, "DISB-"+loan.ID.String(), "1000.50"),
				},
			})
			assert.True(t, errors.Is(err, customError.ErrDuplicateReference))

			fines, err := store.ListFines(ctx, loan.ID)
			require.NoError(t, err)
			assert.Empty(t, fines)

			entries, err := store.ListEntriesByLoanID(ctx, loan.ID)
			require.NoError(t, err)
			assert.Len(t, entries, 1)

			got, err := store.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), got.Version)
			assert.True(t, got.Schedule[0].InterestPaid.IsZero())
		})
	}
}

func TestStore_Fines(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			loan := newLoan()
			require.NoError(t, store.CreateLoan(ctx, loan))

			second, first := lateFine(loan.ID, 2), lateFine(loan.ID, 1)
			require.NoError(t, store.Commit(ctx, &repository.Changeset{
				Loan:     loan,
				NewFines: []*domain.Fine{second, first},
			}))

			fines, err := store.ListFines(ctx, loan.ID)
			require.NoError(t, err)
			require.Len(t, fines, 2)
			assert.Equal(t, 1, *fines[0].InstallmentNumber)
			assert.Equal(t, first.CreatedDate, fines[0].CreatedDate)

			// Re-raising the same obligation and period is refused.
			err = store.Commit(ctx, &repository.Changeset{Loan: loan, ExpectedVersion: 1, NewFines: []*domain.Fine{lateFine(loan.ID, 1)}})
			assert.True(t, errors.Is(err, customError.ErrDuplicateFineAccrual))

			first.Pay(decimal.NewFromInt(20))
			require.NoError(t, store.Commit(ctx, &repository.Changeset{Loan: loan, ExpectedVersion: 1, UpdatedFines: []*domain.Fine{first}}))

			fines, err = store.ListFines(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.FineStatusPartiallyPaid, fines[0].Status)
			assert.True(t, fines[0].Remaining().Equal(decimal.NewFromInt(30)))

			// Outstanding-balance fines carry no installment.
			outstanding := &domain.Fine{LoanID: loan.ID, Type: domain.FineTypeOutstanding, Amount: decimal.NewFromInt(5), Status: domain.FineStatusOutstanding}
			outstanding.ID = domain.FineID(outstanding.Key())
			require.NoError(t, store.Commit(ctx, &repository.Changeset{Loan: loan, ExpectedVersion: 2, NewFines: []*domain.Fine{outstanding}}))
			fines, err = store.ListFines(ctx, loan.ID)
			require.NoError(t, err)
			require.Len(t, fines, 3)
		})
	}
}

func TestStore_RepaymentByReference(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			loan := newLoan()
			require.NoError(t, store.CreateLoan(ctx, loan))

			got, err := store.GetRepaymentByReference(ctx, loan.ID, "MPESA-1")
			require.NoError(t, err)
			assert.Nil(t, got)

			repayment := &domain.Repayment{
				ID:        domain.RepaymentID(loan.ID, "MPESA-1"),
				LoanID:    loan.ID,
				Amount:    decimal.NewFromInt(600),
				Allocated: decimal.RequireFromString("510.25"),
				Remainder: decimal.RequireFromString("89.75"),
				Date:      time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
				Method:    domain.PaymentMethodMobileMoney,
				Reference: "MPESA-1",
				CreatedAt: time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC),
			}
			require.NoError(t, store.Commit(ctx, &repository.Changeset{Loan: loan, Repayment: repayment}))

			got, err = store.GetRepaymentByReference(ctx, loan.ID, "MPESA-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, repayment.ID, got.ID)
			assert.Equal(t, repayment.Date, got.Date)
			assert.True(t, got.Remainder.Equal(repayment.Remainder))
			assert.Equal(t, domain.PaymentMethodMobileMoney, got.Method)

			list, err := store.ListRepayments(ctx, loan.ID)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			err = store.Commit(ctx, &repository.Changeset{Loan: loan, ExpectedVersion: 1, Repayment: repayment})
			assert.True(t, errors.Is(err, customError.ErrDuplicateReference))
		})
	}
}

func TestStore_Journal(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			loanID := uuid.New()
			require.NoError(t, store.AppendEntries(ctx, []*domain.JournalEntry{
				entry(loanID, "REPAY-A-INT-1", "100.10"),
				entry(loanID, "REPAY-A-PRN-1", "50.05"),
				entry(loanID, "REPAY_B-PRN-1", "1"),
			}))

			err := store.AppendEntries(ctx, []*domain.JournalEntry{
				entry(loanID, "REPAY-C-PRN-1", "1"),
				entry(loanID, "REPAY-A-INT-1", "1"),
			})
			assert.True(t, errors.Is(err, customError.ErrDuplicateReference))

			totals, err := store.AccountTotals(ctx)
			require.NoError(t, err)
			assert.Equal(t, "151.15", totals[domain.AccountLoansReceivable].Debits.StringFixed(2))
			assert.Equal(t, "151.15", totals[domain.AccountBank].Credits.StringFixed(2))

			byPrefix, err := store.ListEntriesByReferencePrefix(ctx, "REPAY-A-")
			require.NoError(t, err)
			require.Len(t, byPrefix, 2)
			assert.Equal(t, "REPAY-A-INT-1", byPrefix[0].Reference)

			// "_" is matched literally, not as a wildcard.
			underscore, err := store.ListEntriesByReferencePrefix(ctx, "REPAY_")
			require.NoError(t, err)
			require.Len(t, underscore, 1)
			assert.Equal(t, "REPAY_B-PRN-1", underscore[0].Reference)

			byLoan, err := store.ListEntriesByLoanID(ctx, loanID)
			require.NoError(t, err)
			assert.Len(t, byLoan, 3)
			assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), byLoan[0].Date)
		})
	}
}
