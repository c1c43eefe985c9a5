// Package sqlstore keeps loans, fines, repayments and the journal in a SQL
// database. It runs on Postgres in production and on SQLite for local
// development and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/repository"
	customError "github.com/segyhp/loan-ledger/pkg/errors"
	"github.com/segyhp/loan-ledger/pkg/utils"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var schemaFiles = map[string]string{
	DriverPostgres: "schema/postgres.sql",
	DriverSQLite:   "schema/sqlite.sql",
}

const (
	loanColumns = `id, product_id, member_id, principal, interest_rate, interest_type, tenor_months,
		disbursement_date, direction, status, version, approved_at, closed_at, created_at, updated_at`
	lineColumns = `loan_id, installment_number, due_date, principal_due, interest_due, total_due,
		principal_paid, interest_paid, status`
	fineColumns = `id, loan_id, fine_type, installment_number, period, amount, amount_paid,
		reason, status, created_date`
	repaymentColumns = `id, loan_id, amount, allocated, remainder, payment_date, method, reference, created_at`
	entryColumns     = `id, entry_date, description, reference, loan_id, debit_account, credit_account,
		debit_amount, credit_amount, created_at`
)

type Store struct {
	db *sqlx.DB
}

var _ repository.Store = (*Store)(nil)

// New wraps an open connection. The driver must be postgres or sqlite3.
func New(db *sqlx.DB) (*Store, error) {
	if _, ok := schemaFiles[db.DriverName()]; !ok {
		return nil, fmt.Errorf("unsupported database driver %q", db.DriverName())
	}
	return &Store{db: db}, nil
}

// Migrate creates the tables if they don't exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	schema, err := schemaFS.ReadFile(schemaFiles[s.db.DriverName()])
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO loans (` + loanColumns + `)
		VALUES (:id, :product_id, :member_id, :principal, :interest_rate, :interest_type, :tenor_months,
			:disbursement_date, :direction, :status, :version, :approved_at, :closed_at, :created_at, :updated_at)
	`
	if _, err := tx.NamedExecContext(ctx, query, loan); err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	if err := upsertLines(ctx, tx, loan.Schedule); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`

	var loan domain.Loan
	err := s.db.GetContext(ctx, &loan, s.db.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customError.WrapLoanNotFound(id.String())
	}
	if err != nil {
		return nil, err
	}

	query = `SELECT ` + lineColumns + ` FROM schedule_lines WHERE loan_id = ? ORDER BY installment_number`
	if err := s.db.SelectContext(ctx, &loan.Schedule, s.db.Rebind(query), id); err != nil {
		return nil, err
	}

	normalizeLoan(&loan)
	return &loan, nil
}

func (s *Store) GetLoanVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var version int64
	err := s.db.GetContext(ctx, &version, s.db.Rebind(`SELECT version FROM loans WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, customError.WrapLoanNotFound(id.String())
	}
	return version, err
}

func (s *Store) ListLoansByStatus(ctx context.Context, status domain.LoanStatus) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE status = ? ORDER BY created_at, id`

	var loans []*domain.Loan
	if err := s.db.SelectContext(ctx, &loans, s.db.Rebind(query), status); err != nil {
		return nil, err
	}

	query = `
		SELECT ` + lineColumns + ` FROM schedule_lines
		WHERE loan_id IN (SELECT id FROM loans WHERE status = ?)
		ORDER BY loan_id, installment_number
	`
	var lines []*domain.ScheduleLine
	if err := s.db.SelectContext(ctx, &lines, s.db.Rebind(query), status); err != nil {
		return nil, err
	}

	byLoan := make(map[uuid.UUID][]*domain.ScheduleLine, len(loans))
	for _, line := range lines {
		byLoan[line.LoanID] = append(byLoan[line.LoanID], line)
	}
	for _, loan := range loans {
		loan.Schedule = byLoan[loan.ID]
		normalizeLoan(loan)
	}
	return loans, nil
}

func (s *Store) ListFines(ctx context.Context, loanID uuid.UUID) ([]*domain.Fine, error) {
	query := `SELECT ` + fineColumns + ` FROM fines WHERE loan_id = ?`

	var fines []*domain.Fine
	if err := s.db.SelectContext(ctx, &fines, s.db.Rebind(query), loanID); err != nil {
		return nil, err
	}
	for _, f := range fines {
		f.CreatedDate = utils.DateOnly(f.CreatedDate)
	}
	domain.SortFines(fines)
	return fines, nil
}

// GetRepaymentByReference returns nil, nil when the reference is unused.
func (s *Store) GetRepaymentByReference(ctx context.Context, loanID uuid.UUID, reference string) (*domain.Repayment, error) {
	query := `SELECT ` + repaymentColumns + ` FROM repayments WHERE loan_id = ? AND reference = ?`

	var repayment domain.Repayment
	err := s.db.GetContext(ctx, &repayment, s.db.Rebind(query), loanID, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	normalizeRepayment(&repayment)
	return &repayment, nil
}

func (s *Store) ListRepayments(ctx context.Context, loanID uuid.UUID) ([]*domain.Repayment, error) {
	query := `SELECT ` + repaymentColumns + ` FROM repayments WHERE loan_id = ? ORDER BY created_at, payment_date, id`

	var repayments []*domain.Repayment
	if err := s.db.SelectContext(ctx, &repayments, s.db.Rebind(query), loanID); err != nil {
		return nil, err
	}
	for _, r := range repayments {
		normalizeRepayment(r)
	}
	return repayments, nil
}

func (s *Store) AppendEntries(ctx context.Context, entries []*domain.JournalEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListEntriesByReferencePrefix(ctx context.Context, prefix string) ([]*domain.JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE reference LIKE ? ESCAPE '\' ORDER BY entry_date, seq`
	return s.selectEntries(ctx, query, likePrefix(prefix))
}

func (s *Store) ListEntriesByLoanID(ctx context.Context, loanID uuid.UUID) ([]*domain.JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE loan_id = ? ORDER BY entry_date, seq`
	return s.selectEntries(ctx, query, loanID)
}

type postingRow struct {
	DebitAccount  domain.AccountCode `db:"debit_account"`
	CreditAccount domain.AccountCode `db:"credit_account"`
	DebitAmount   decimal.Decimal    `db:"debit_amount"`
	CreditAmount  decimal.Decimal    `db:"credit_amount"`
}

// AccountTotals sums in Go: SQLite would turn TEXT amounts into floats under SUM.
func (s *Store) AccountTotals(ctx context.Context) (map[domain.AccountCode]domain.AccountTotals, error) {
	query := `SELECT debit_account, credit_account, debit_amount, credit_amount FROM journal_entries`

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[domain.AccountCode]domain.AccountTotals)
	for rows.Next() {
		var p postingRow
		if err := rows.StructScan(&p); err != nil {
			return nil, err
		}
		dr := totals[p.DebitAccount]
		dr.Debits = dr.Debits.Add(p.DebitAmount)
		totals[p.DebitAccount] = dr

		cr := totals[p.CreditAccount]
		cr.Credits = cr.Credits.Add(p.CreditAmount)
		totals[p.CreditAccount] = cr
	}
	return totals, rows.Err()
}

// Commit writes a changeset in one transaction. The version check is the
// conditional UPDATE on the loan row; a concurrent writer either waits on
// the row lock or finds the version moved on.
func (s *Store) Commit(ctx context.Context, cs *repository.Changeset) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	loan := cs.Loan
	query := `
		UPDATE loans
		SET status = ?, version = version + 1, approved_at = ?, closed_at = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := tx.ExecContext(ctx, tx.Rebind(query),
		loan.Status,
		loan.ApprovedAt,
		loan.ClosedAt,
		loan.UpdatedAt,
		loan.ID,
		cs.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if updated == 0 {
		var count int
		if err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM loans WHERE id = ?`), loan.ID); err != nil {
			return err
		}
		if count == 0 {
			return customError.WrapLoanNotFound(loan.ID.String())
		}
		return customError.WrapVersionConflict(loan.ID.String())
	}

	if err := upsertLines(ctx, tx, loan.Schedule); err != nil {
		return err
	}
	if err := insertFines(ctx, tx, cs.NewFines); err != nil {
		return err
	}
	if err := updateFines(ctx, tx, cs.UpdatedFines); err != nil {
		return err
	}
	if err := insertEntries(ctx, tx, cs.Entries); err != nil {
		return err
	}
	if cs.Repayment != nil {
		if err := insertRepayment(ctx, tx, cs.Repayment); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	loan.Version = cs.ExpectedVersion + 1
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) selectEntries(ctx context.Context, query string, args ...interface{}) ([]*domain.JournalEntry, error) {
	var entries []*domain.JournalEntry
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, e := range entries {
		e.Date = utils.DateOnly(e.Date)
		e.CreatedAt = e.CreatedAt.UTC()
	}
	return entries, nil
}

func upsertLines(ctx context.Context, tx *sqlx.Tx, lines []*domain.ScheduleLine) error {
	query := `
		INSERT INTO schedule_lines (` + lineColumns + `)
		VALUES (:loan_id, :installment_number, :due_date, :principal_due, :interest_due, :total_due,
			:principal_paid, :interest_paid, :status)
		ON CONFLICT (loan_id, installment_number) DO UPDATE SET
			principal_paid = excluded.principal_paid,
			interest_paid = excluded.interest_paid,
			status = excluded.status
	`
	for _, line := range lines {
		if _, err := tx.NamedExecContext(ctx, query, line); err != nil {
			return fmt.Errorf("failed to write installment %d: %w", line.InstallmentNumber, err)
		}
	}
	return nil
}

func insertFines(ctx context.Context, tx *sqlx.Tx, fines []*domain.Fine) error {
	query := tx.Rebind(`
		INSERT INTO fines (fine_key, ` + fineColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, f := range fines {
		_, err := tx.ExecContext(ctx, query,
			f.Key(),
			f.ID,
			f.LoanID,
			f.Type,
			f.InstallmentNumber,
			f.Period,
			f.Amount,
			f.AmountPaid,
			f.Reason,
			f.Status,
			f.CreatedDate,
		)
		if isUniqueViolation(err) {
			return customError.WrapDuplicateFineAccrual(f.LoanID.String(), f.Key())
		}
		if err != nil {
			return fmt.Errorf("failed to insert fine: %w", err)
		}
	}
	return nil
}

func updateFines(ctx context.Context, tx *sqlx.Tx, fines []*domain.Fine) error {
	query := tx.Rebind(`UPDATE fines SET amount_paid = ?, status = ? WHERE id = ?`)
	for _, f := range fines {
		res, err := tx.ExecContext(ctx, query, f.AmountPaid, f.Status, f.ID)
		if err != nil {
			return fmt.Errorf("failed to update fine: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("fine %s does not exist", f.ID)
		}
	}
	return nil
}

func insertEntries(ctx context.Context, tx *sqlx.Tx, entries []*domain.JournalEntry) error {
	query := `
		INSERT INTO journal_entries (` + entryColumns + `)
		VALUES (:id, :entry_date, :description, :reference, :loan_id, :debit_account, :credit_account,
			:debit_amount, :credit_amount, :created_at)
	`
	for _, e := range entries {
		_, err := tx.NamedExecContext(ctx, query, e)
		if isUniqueViolation(err) {
			return customError.WrapDuplicateReference(e.Reference)
		}
		if err != nil {
			return fmt.Errorf("failed to insert journal entry: %w", err)
		}
	}
	return nil
}

func insertRepayment(ctx context.Context, tx *sqlx.Tx, r *domain.Repayment) error {
	query := `
		INSERT INTO repayments (` + repaymentColumns + `)
		VALUES (:id, :loan_id, :amount, :allocated, :remainder, :payment_date, :method, :reference, :created_at)
	`
	_, err := tx.NamedExecContext(ctx, query, r)
	if isUniqueViolation(err) {
		return customError.WrapDuplicateReference(r.Reference)
	}
	if err != nil {
		return fmt.Errorf("failed to insert repayment: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// likePrefix escapes LIKE wildcards in prefix and appends %.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// Drivers hand dates back in their session zone; the domain works in UTC
// calendar dates.
func normalizeLoan(loan *domain.Loan) {
	loan.DisbursementDate = utils.DateOnly(loan.DisbursementDate)
	loan.CreatedAt = loan.CreatedAt.UTC()
	loan.UpdatedAt = loan.UpdatedAt.UTC()
	if loan.ApprovedAt != nil {
		t := loan.ApprovedAt.UTC()
		loan.ApprovedAt = &t
	}
	if loan.ClosedAt != nil {
		t := loan.ClosedAt.UTC()
		loan.ClosedAt = &t
	}
	for _, line := range loan.Schedule {
		line.DueDate = utils.DateOnly(line.DueDate)
	}
}

func normalizeRepayment(r *domain.Repayment) {
	r.Date = utils.DateOnly(r.Date)
	r.CreatedAt = r.CreatedAt.UTC()
}
