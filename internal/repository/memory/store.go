// Package memory is an in-process implementation of repository.Store.
// It is safe for concurrent use; data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/repository"
	customError "github.com/segyhp/loan-ledger/pkg/errors"
)

// Store keeps every entity in maps guarded by one RWMutex and hands out
// copies so callers can never mutate stored state.
type Store struct {
	mu sync.RWMutex

	loans      map[uuid.UUID]*domain.Loan
	loanOrder  []uuid.UUID
	fines      map[uuid.UUID]*domain.Fine
	finesByKey map[string]uuid.UUID
	loanFines  map[uuid.UUID][]uuid.UUID
	repayments map[string]*domain.Repayment
	loanRepays map[uuid.UUID][]string
	entries    []*domain.JournalEntry
	references map[string]struct{}
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		loans:      make(map[uuid.UUID]*domain.Loan),
		fines:      make(map[uuid.UUID]*domain.Fine),
		finesByKey: make(map[string]uuid.UUID),
		loanFines:  make(map[uuid.UUID][]uuid.UUID),
		repayments: make(map[string]*domain.Repayment),
		loanRepays: make(map[uuid.UUID][]string),
		references: make(map[string]struct{}),
	}
}

func (s *Store) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	if loan.ID == uuid.Nil {
		return fmt.Errorf("loan ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.loans[loan.ID]; exists {
		return fmt.Errorf("loan %s already exists", loan.ID)
	}
	s.loans[loan.ID] = loan.Clone()
	s.loanOrder = append(s.loanOrder, loan.ID)
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loan, ok := s.loans[id]
	if !ok {
		return nil, customError.WrapLoanNotFound(id.String())
	}
	return loan.Clone(), nil
}

func (s *Store) GetLoanVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loan, ok := s.loans[id]
	if !ok {
		return 0, customError.WrapLoanNotFound(id.String())
	}
	return loan.Version, nil
}

func (s *Store) ListLoansByStatus(ctx context.Context, status domain.LoanStatus) ([]*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Loan
	for _, id := range s.loanOrder {
		if loan := s.loans[id]; loan.Status == status {
			result = append(result, loan.Clone())
		}
	}
	return result, nil
}

func (s *Store) ListFines(ctx context.Context, loanID uuid.UUID) ([]*domain.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Fine, 0, len(s.loanFines[loanID]))
	for _, id := range s.loanFines[loanID] {
		result = append(result, s.fines[id].Clone())
	}
	domain.SortFines(result)
	return result, nil
}

// GetRepaymentByReference returns nil when no repayment uses the reference.
func (s *Store) GetRepaymentByReference(ctx context.Context, loanID uuid.UUID, reference string) (*domain.Repayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.repayments[repaymentKey(loanID, reference)]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (s *Store) ListRepayments(ctx context.Context, loanID uuid.UUID) ([]*domain.Repayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Repayment, 0, len(s.loanRepays[loanID]))
	for _, key := range s.loanRepays[loanID] {
		c := *s.repayments[key]
		result = append(result, &c)
	}
	return result, nil
}

func (s *Store) AppendEntries(ctx context.Context, entries []*domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReferences(entries); err != nil {
		return err
	}
	s.appendEntries(entries)
	return nil
}

func (s *Store) ListEntriesByReferencePrefix(ctx context.Context, prefix string) ([]*domain.JournalEntry, error) {
	return s.filterEntries(func(e *domain.JournalEntry) bool {
		return strings.HasPrefix(e.Reference, prefix)
	}), nil
}

func (s *Store) ListEntriesByLoanID(ctx context.Context, loanID uuid.UUID) ([]*domain.JournalEntry, error) {
	return s.filterEntries(func(e *domain.JournalEntry) bool {
		return e.LoanID == loanID
	}), nil
}

func (s *Store) AccountTotals(ctx context.Context) (map[domain.AccountCode]domain.AccountTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[domain.AccountCode]domain.AccountTotals)
	for _, e := range s.entries {
		debit := totals[e.DebitAccount]
		debit.Debits = debit.Debits.Add(e.DebitAmount)
		totals[e.DebitAccount] = debit

		credit := totals[e.CreditAccount]
		credit.Credits = credit.Credits.Add(e.CreditAmount)
		totals[e.CreditAccount] = credit
	}
	return totals, nil
}

// Commit validates the whole changeset before applying any of it.
func (s *Store) Commit(ctx context.Context, cs *repository.Changeset) error {
	if cs == nil || cs.Loan == nil {
		return fmt.Errorf("changeset must carry a loan")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.loans[cs.Loan.ID]
	if !ok {
		return customError.WrapLoanNotFound(cs.Loan.ID.String())
	}
	if current.Version != cs.ExpectedVersion {
		return customError.WrapVersionConflict(cs.Loan.ID.String())
	}

	batchKeys := make(map[string]struct{}, len(cs.NewFines))
	for _, f := range cs.NewFines {
		key := f.Key()
		_, stored := s.finesByKey[key]
		_, inBatch := batchKeys[key]
		if stored || inBatch {
			return customError.WrapDuplicateFineAccrual(f.LoanID.String(), key)
		}
		batchKeys[key] = struct{}{}
	}
	for _, f := range cs.UpdatedFines {
		if _, ok := s.fines[f.ID]; !ok {
			return fmt.Errorf("fine %s does not exist", f.ID)
		}
	}
	if err := s.checkReferences(cs.Entries); err != nil {
		return err
	}
	if cs.Repayment != nil {
		if _, exists := s.repayments[repaymentKey(cs.Repayment.LoanID, cs.Repayment.Reference)]; exists {
			return customError.WrapDuplicateReference(cs.Repayment.Reference)
		}
	}

	loan := cs.Loan.Clone()
	loan.Version = current.Version + 1
	s.loans[loan.ID] = loan
	cs.Loan.Version = loan.Version

	for _, f := range cs.NewFines {
		s.fines[f.ID] = f.Clone()
		s.finesByKey[f.Key()] = f.ID
		s.loanFines[f.LoanID] = append(s.loanFines[f.LoanID], f.ID)
	}
	for _, f := range cs.UpdatedFines {
		s.fines[f.ID] = f.Clone()
	}
	s.appendEntries(cs.Entries)
	if cs.Repayment != nil {
		key := repaymentKey(cs.Repayment.LoanID, cs.Repayment.Reference)
		c := *cs.Repayment
		s.repayments[key] = &c
		s.loanRepays[c.LoanID] = append(s.loanRepays[c.LoanID], key)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) checkReferences(entries []*domain.JournalEntry) error {
	batch := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		_, stored := s.references[e.Reference]
		_, inBatch := batch[e.Reference]
		if stored || inBatch {
			return customError.WrapDuplicateReference(e.Reference)
		}
		batch[e.Reference] = struct{}{}
	}
	return nil
}

func (s *Store) appendEntries(entries []*domain.JournalEntry) {
	for _, e := range entries {
		c := *e
		s.entries = append(s.entries, &c)
		s.references[e.Reference] = struct{}{}
	}
}

func (s *Store) filterEntries(match func(*domain.JournalEntry) bool) []*domain.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.JournalEntry
	for _, e := range s.entries {
		if match(e) {
			c := *e
			result = append(result, &c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result
}

func repaymentKey(loanID uuid.UUID, reference string) string {
	return loanID.String() + ":" + reference
}
