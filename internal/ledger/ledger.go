// Package ledger validates and posts double-entry journal records and
// derives account balances from them.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/repository"
	customError "github.com/segyhp/loan-ledger/pkg/errors"
	"github.com/shopspring/decimal"
)

// Ledger is the append-only journal. It never updates or removes an entry.
type Ledger struct {
	catalog *domain.AccountCatalog
	repo    repository.JournalRepository
	now     func() time.Time
}

func New(catalog *domain.AccountCatalog, repo repository.JournalRepository) *Ledger {
	return &Ledger{
		catalog: catalog,
		repo:    repo,
		now:     time.Now,
	}
}

// Catalog returns the chart of accounts the ledger posts against.
func (l *Ledger) Catalog() *domain.AccountCatalog {
	return l.catalog
}

// Validate checks a batch of entries without writing anything: every entry
// must balance, carry a positive amount, name catalog accounts only, and
// use a reference no other entry in the batch uses.
func (l *Ledger) Validate(entries []*domain.JournalEntry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.Balanced() {
			return customError.WrapUnbalancedEntry(e.Reference, e.DebitAmount.String(), e.CreditAmount.String())
		}
		if !e.DebitAmount.IsPositive() {
			return customError.WrapInvalidPaymentAmount(e.DebitAmount.String()).WithField("amount")
		}
		if _, ok := l.catalog.Lookup(e.DebitAccount); !ok {
			return customError.WrapUnknownAccount(string(e.DebitAccount))
		}
		if _, ok := l.catalog.Lookup(e.CreditAccount); !ok {
			return customError.WrapUnknownAccount(string(e.CreditAccount))
		}
		if _, dup := seen[e.Reference]; dup {
			return customError.WrapDuplicateReference(e.Reference)
		}
		seen[e.Reference] = struct{}{}
	}
	return nil
}

// Stamp assigns IDs and creation times to entries that have none.
func (l *Ledger) Stamp(entries []*domain.JournalEntry) {
	now := l.now().UTC()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
	}
}

// Post validates and appends entries as one batch. Entries that belong to a
// loan mutation go through repository.Committer instead, so that they land
// together with the loan state they describe.
func (l *Ledger) Post(ctx context.Context, entries ...*domain.JournalEntry) error {
	if err := l.Validate(entries); err != nil {
		return err
	}
	l.Stamp(entries)
	return l.repo.AppendEntries(ctx, entries)
}

// ByReferencePrefix reconstructs every posting for one fine or repayment.
func (l *Ledger) ByReferencePrefix(ctx context.Context, prefix string) ([]*domain.JournalEntry, error) {
	return l.repo.ListEntriesByReferencePrefix(ctx, prefix)
}

func (l *Ledger) ByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.JournalEntry, error) {
	return l.repo.ListEntriesByLoanID(ctx, loanID)
}

// Summary returns the running balance of every catalog account the filter
// matches, including accounts that have never been posted to.
func (l *Ledger) Summary(ctx context.Context, filter domain.AccountFilter) ([]domain.AccountBalance, error) {
	for _, code := range filter.Codes {
		if _, ok := l.catalog.Lookup(code); !ok {
			return nil, customError.WrapUnknownAccount(string(code))
		}
	}

	totals, err := l.repo.AccountTotals(ctx)
	if err != nil {
		return nil, err
	}

	var balances []domain.AccountBalance
	for _, account := range l.catalog.Accounts() {
		if !filter.Matches(account) {
			continue
		}
		balances = append(balances, domain.BalanceOf(account, totals[account.Code]))
	}
	return balances, nil
}

// TrialBalance is the sum of every debit and credit ever posted.
type TrialBalance struct {
	Debits   decimal.Decimal         `json:"debits"`
	Credits  decimal.Decimal         `json:"credits"`
	Balanced bool                    `json:"balanced"`
	Accounts []domain.AccountBalance `json:"accounts"`
}

func (l *Ledger) TrialBalance(ctx context.Context) (*TrialBalance, error) {
	totals, err := l.repo.AccountTotals(ctx)
	if err != nil {
		return nil, err
	}

	tb := &TrialBalance{Debits: decimal.Zero, Credits: decimal.Zero}
	codes := make([]domain.AccountCode, 0, len(totals))
	for code := range totals {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	for _, code := range codes {
		t := totals[code]
		tb.Debits = tb.Debits.Add(t.Debits)
		tb.Credits = tb.Credits.Add(t.Credits)
		account, ok := l.catalog.Lookup(code)
		if !ok {
			return nil, customError.WrapUnknownAccount(string(code))
		}
		tb.Accounts = append(tb.Accounts, domain.BalanceOf(account, t))
	}
	tb.Balanced = tb.Debits.Equal(tb.Credits)
	return tb, nil
}
