package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/allocation"
	"github.com/segyhp/loan-ledger/internal/amortization"
	"github.com/segyhp/loan-ledger/internal/cache"
	"github.com/segyhp/loan-ledger/internal/catalog"
	"github.com/segyhp/loan-ledger/internal/config"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/fines"
	"github.com/segyhp/loan-ledger/internal/ledger"
	"github.com/segyhp/loan-ledger/internal/lock"
	"github.com/segyhp/loan-ledger/internal/repository"
	customError "github.com/segyhp/loan-ledger/pkg/errors"
	"github.com/segyhp/loan-ledger/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SavingsProvider reports a member's savings balance. It is only needed for
// products limited by a multiple of savings.
type SavingsProvider interface {
	GetSavingsBalance(ctx context.Context, memberID string) (decimal.Decimal, error)
}

// Settings are the business knobs of the service.
type Settings struct {
	AllowOverpayment    bool
	DisbursementAccount domain.AccountCode
	LockTimeout         time.Duration
	CommitRetries       int
}

// SettingsFromConfig reads Settings from the process configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		AllowOverpayment:    cfg.Business.AllowOverpayment,
		DisbursementAccount: domain.AccountCode(cfg.Business.DisbursementAccount),
		LockTimeout:         cfg.GetLockTimeout(),
		CommitRetries:       cfg.Business.CommitRetries,
	}
}

type Option func(*LoanService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *LoanService) { s.now = now }
}

func WithSavingsProvider(p SavingsProvider) Option {
	return func(s *LoanService) { s.savings = p }
}

func WithStatementCache(c cache.StatementCache) Option {
	return func(s *LoanService) { s.cache = c }
}

func WithLocker(l lock.Locker) Option {
	return func(s *LoanService) { s.locker = l }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *LoanService) { s.log = log }
}

// LoanService is the loan lifecycle manager. It owns every mutation of a
// loan and commits each one as a single changeset while holding the loan's
// lock.
type LoanService struct {
	store    repository.Store
	products catalog.ProductProvider
	accounts *domain.AccountCatalog
	ledger   *ledger.Ledger
	settings Settings
	locker   lock.Locker
	cache    cache.StatementCache
	savings  SavingsProvider
	validate *validator.Validate
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewLoanService(
	store repository.Store,
	products catalog.ProductProvider,
	accounts *domain.AccountCatalog,
	settings Settings,
	opts ...Option,
) (*LoanService, error) {
	if !accounts.IsSource(settings.DisbursementAccount) {
		return nil, customError.WrapUnknownAccount(string(settings.DisbursementAccount)).WithField("disbursement_account")
	}
	if settings.CommitRetries < 1 {
		settings.CommitRetries = 1
	}
	if settings.LockTimeout <= 0 {
		settings.LockTimeout = 5 * time.Second
	}

	s := &LoanService{
		store:    store,
		products: products,
		accounts: accounts,
		ledger:   ledger.New(accounts, store),
		settings: settings,
		locker:   lock.NewKeyedMutex(),
		cache:    cache.Nop{},
		validate: validator.New(),
		log:      logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateLoan creates a pending loan with its repayment schedule
func (s *LoanService) CreateLoan(ctx context.Context, request *domain.CreateLoanRequest) (*domain.Loan, error) {
	if err := s.validate.Struct(request); err != nil {
		return nil, validationError(err)
	}

	// 1. Resolve the product the loan is issued against
	product, err := s.products.GetProduct(ctx, request.ProductID)
	if err != nil {
		return nil, err
	}

	direction := request.Direction
	if direction == "" {
		direction = domain.DirectionReceivable
	}

	now := s.now().UTC()
	loan := &domain.Loan{
		ID:               uuid.New(),
		ProductID:        product.ID,
		MemberID:         request.MemberID,
		Principal:        request.Principal,
		InterestRate:     product.InterestRatePercent,
		InterestType:     product.InterestType,
		TenorMonths:      product.TenorMonths,
		DisbursementDate: utils.DateOnly(request.DisbursementDate),
		Direction:        direction,
		Status:           domain.LoanStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// 2. Generate the schedule; this also rejects a bad principal
	if loan.Schedule, err = generateSchedule(loan); err != nil {
		return nil, err
	}

	// 3. Enforce the product limit
	if err := s.checkLimit(ctx, product, loan); err != nil {
		return nil, err
	}

	if err := s.store.CreateLoan(ctx, loan); err != nil {
		return nil, storeError(err)
	}

	s.log.WithFields(logrus.Fields{
		"loan_id":    loan.ID,
		"product_id": loan.ProductID,
		"principal":  loan.Principal.String(),
		"direction":  loan.Direction,
	}).Info("loan created")

	return loan, nil
}

// GetLoan returns a loan with its schedule
func (s *LoanService) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, storeError(err)
	}
	return loan, nil
}

// ApproveLoan activates a pending loan and posts its disbursement
func (s *LoanService) ApproveLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	cs, err := s.mutate(ctx, loanID, func(ctx context.Context, loan *domain.Loan) (*repository.Changeset, error) {
		if loan.Status != domain.LoanStatusPending {
			return nil, customError.WrapInvalidTransition(loan.ID.String(), string(loan.Status), string(domain.LoanStatusActive))
		}
		if len(loan.Schedule) == 0 {
			schedule, err := generateSchedule(loan)
			if err != nil {
				return nil, err
			}
			loan.Schedule = schedule
		}

		now := s.now().UTC()
		loan.Status = domain.LoanStatusActive
		loan.ApprovedAt = &now
		loan.UpdatedAt = now

		return &repository.Changeset{
			Loan:    loan,
			Entries: []*domain.JournalEntry{ledger.DisbursementEntry(loan, s.settings.DisbursementAccount)},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("loan_id", loanID).Info("loan approved and disbursed")
	return cs.Loan, nil
}

// MarkDefaulted records an external default decision on an active loan
func (s *LoanService) MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	cs, err := s.mutate(ctx, loanID, func(ctx context.Context, loan *domain.Loan) (*repository.Changeset, error) {
		if loan.Status != domain.LoanStatusActive {
			return nil, customError.WrapInvalidTransition(loan.ID.String(), string(loan.Status), string(domain.LoanStatusDefaulted))
		}
		loan.Status = domain.LoanStatusDefaulted
		loan.UpdatedAt = s.now().UTC()
		return &repository.Changeset{Loan: loan}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("loan_id", loanID).Warn("loan marked defaulted")
	return cs.Loan, nil
}

// AccrueFines raises the fines owed as of asOf, for one loan or for every
// active loan. A failure on one loan does not stop the others; the fines
// that were committed are returned together with the joined errors.
func (s *LoanService) AccrueFines(ctx context.Context, asOf time.Time, loanID *uuid.UUID) ([]*domain.Fine, error) {
	asOf = utils.DateOnly(asOf)
	if loanID != nil {
		return s.accrueLoan(ctx, *loanID, asOf)
	}

	loans, err := s.store.ListLoansByStatus(ctx, domain.LoanStatusActive)
	if err != nil {
		return nil, storeError(err)
	}

	var (
		created []*domain.Fine
		errs    []error
	)
	for _, loan := range loans {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		raised, err := s.accrueLoan(ctx, loan.ID, asOf)
		if err != nil {
			s.log.WithError(err).WithField("loan_id", loan.ID).Error("fine accrual failed")
			errs = append(errs, fmt.Errorf("loan %s: %w", loan.ID, err))
			continue
		}
		created = append(created, raised...)
	}

	s.log.WithFields(logrus.Fields{
		"as_of":  asOf.Format(time.DateOnly),
		"loans":  len(loans),
		"fines":  len(created),
		"errors": len(errs),
	}).Info("fine accrual run finished")

	return created, errors.Join(errs...)
}

func (s *LoanService) accrueLoan(ctx context.Context, loanID uuid.UUID, asOf time.Time) ([]*domain.Fine, error) {
	cs, err := s.mutate(ctx, loanID, func(ctx context.Context, loan *domain.Loan) (*repository.Changeset, error) {
		product, err := s.products.GetProduct(ctx, loan.ProductID)
		if err != nil {
			return nil, err
		}
		existing, err := s.store.ListFines(ctx, loan.ID)
		if err != nil {
			return nil, storeError(err)
		}

		created := fines.Accrue(loan, product, existing, asOf)
		if len(created) == 0 {
			return nil, nil
		}

		entries := make([]*domain.JournalEntry, 0, len(created))
		for _, f := range created {
			entries = append(entries, ledger.FineAccrualEntry(loan, f))
		}
		loan.UpdatedAt = s.now().UTC()
		return &repository.Changeset{Loan: loan, NewFines: created, Entries: entries}, nil
	})
	if err != nil || cs == nil {
		return nil, err
	}

	for _, f := range cs.NewFines {
		s.log.WithFields(logrus.Fields{
			"loan_id": loanID,
			"fine_id": f.ID,
			"amount":  f.Amount.String(),
		}).Info(f.Reason)
	}
	return cs.NewFines, nil
}

// PostRepayment applies a repayment to fines, interest and principal in
// that order and closes the loan once nothing is owed. Posting the same
// reference again returns the original result.
func (s *LoanService) PostRepayment(ctx context.Context, request *domain.RepaymentRequest) (*domain.RepaymentResult, error) {
	if err := s.validateRepayment(request); err != nil {
		return nil, err
	}
	source, _ := s.accounts.SourceAccount(request.Method)
	date := utils.DateOnly(request.Date)
	repaymentID := domain.RepaymentID(request.LoanID, request.Reference)

	var result *domain.RepaymentResult
	cs, err := s.mutate(ctx, request.LoanID, func(ctx context.Context, loan *domain.Loan) (*repository.Changeset, error) {
		// 1. Replay a reference that was already posted
		existing, err := s.store.GetRepaymentByReference(ctx, loan.ID, request.Reference)
		if err != nil {
			return nil, storeError(err)
		}
		if existing != nil {
			if !existing.Amount.Equal(request.Amount) {
				return nil, customError.WrapReferenceConflict(loan.ID.String(), request.Reference)
			}
			result, err = s.replay(ctx, loan, existing)
			return nil, err
		}

		// 2. Only loans with money owed accept repayments
		if !loan.AcceptsRepayments() {
			return nil, customError.WrapInvalidTransition(loan.ID.String(), string(loan.Status), "repayment")
		}

		loanFines, err := s.store.ListFines(ctx, loan.ID)
		if err != nil {
			return nil, storeError(err)
		}

		// 3. Allocate fines first, then interest and principal per installment
		res := allocation.Allocate(loan, loanFines, allocation.Request{
			RepaymentID: repaymentID,
			Amount:      request.Amount,
			Date:        date,
			Source:      source,
		})
		if !res.Allocated.IsPositive() {
			return nil, customError.WrapNoOutstandingBalance(loan.ID.String())
		}
		if res.Remainder.IsPositive() && !s.settings.AllowOverpayment {
			return nil, customError.WrapOverpaymentRejected(loan.ID.String(), res.Remainder.String())
		}

		// 4. Closure is computed, never requested
		now := s.now().UTC()
		if loan.Status == domain.LoanStatusActive && loan.AllLinesPaid() && !domain.HasOutstandingFines(loanFines) {
			loan.Status = domain.LoanStatusClosed
			loan.ClosedAt = &now
		}
		loan.UpdatedAt = now

		repayment := &domain.Repayment{
			ID:        repaymentID,
			LoanID:    loan.ID,
			Amount:    request.Amount,
			Allocated: res.Allocated,
			Remainder: res.Remainder,
			Date:      date,
			Method:    request.Method,
			Reference: request.Reference,
			CreatedAt: now,
		}
		result = &domain.RepaymentResult{
			Loan:        loan,
			Repayment:   repayment,
			Allocations: res.Allocations,
			Fines:       res.AffectedFines,
			Lines:       res.Lines,
			Entries:     res.Entries,
			Remainder:   res.Remainder,
		}
		return &repository.Changeset{
			Loan:         loan,
			UpdatedFines: res.AffectedFines,
			Entries:      res.Entries,
			Repayment:    repayment,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"loan_id":   request.LoanID,
		"reference": request.Reference,
		"amount":    request.Amount.String(),
	}
	if cs == nil {
		s.log.WithFields(fields).Info("repayment replayed")
		return result, nil
	}

	fields["remainder"] = result.Remainder.String()
	fields["status"] = result.Loan.Status
	s.log.WithFields(fields).Info("repayment posted")
	if result.Loan.Status == domain.LoanStatusClosed {
		s.log.WithField("loan_id", request.LoanID).Info("loan closed")
	}
	return result, nil
}

func (s *LoanService) validateRepayment(request *domain.RepaymentRequest) error {
	if request == nil {
		return customError.WrapInvalidRequest("request", "is required")
	}
	if _, ok := s.accounts.SourceAccount(request.Method); !ok {
		return customError.WrapInvalidPaymentMethod(string(request.Method))
	}
	if !request.Amount.IsPositive() || !request.Amount.Equal(utils.RoundMoney(request.Amount)) {
		return customError.WrapInvalidPaymentAmount(request.Amount.String())
	}
	if err := s.validate.Struct(request); err != nil {
		return validationError(err)
	}
	return nil
}

// replay rebuilds the result of an already posted repayment from the store.
func (s *LoanService) replay(ctx context.Context, loan *domain.Loan, repayment *domain.Repayment) (*domain.RepaymentResult, error) {
	entries, err := s.ledger.ByReferencePrefix(ctx, ledger.RepaymentReference(repayment.ID)+"-")
	if err != nil {
		return nil, storeError(err)
	}
	return &domain.RepaymentResult{
		Loan:        loan,
		Repayment:   repayment,
		Allocations: allocationsFromEntries(entries),
		Entries:     entries,
		Remainder:   repayment.Remainder,
		Replayed:    true,
	}, nil
}

// GetStatement assembles the current state of a loan. It never mutates
// anything. A cached statement is only served while its loan version is
// still the stored one; the assembly reads outside the loan lock, so a
// concurrent commit can leave an older statement in the cache.
func (s *LoanService) GetStatement(ctx context.Context, loanID uuid.UUID) (*domain.Statement, error) {
	cached, err := s.cache.Get(ctx, loanID)
	if err != nil {
		s.log.WithError(customError.WrapCacheError(err)).WithField("loan_id", loanID).Warn("statement cache read failed")
	}
	if cached != nil && cached.Loan != nil {
		version, err := s.store.GetLoanVersion(ctx, loanID)
		if err != nil {
			return nil, storeError(err)
		}
		if version == cached.Loan.Version {
			return cached, nil
		}
		s.log.WithFields(logrus.Fields{
			"loan_id":        loanID,
			"cached_version": cached.Loan.Version,
			"version":        version,
		}).Debug("dropping stale cached statement")
		s.invalidateStatement(ctx, loanID)
	}

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, storeError(err)
	}
	loanFines, err := s.store.ListFines(ctx, loanID)
	if err != nil {
		return nil, storeError(err)
	}
	repayments, err := s.store.ListRepayments(ctx, loanID)
	if err != nil {
		return nil, storeError(err)
	}
	entries, err := s.ledger.ByLoan(ctx, loanID)
	if err != nil {
		return nil, storeError(err)
	}

	statement := &domain.Statement{
		Loan:                 loan,
		Schedule:             loan.Schedule,
		Fines:                loanFines,
		Repayments:           repayments,
		JournalEntries:       entries,
		OutstandingPrincipal: loan.OutstandingPrincipal(),
		OutstandingInterest:  loan.OutstandingInterest(),
		OutstandingFines:     domain.OutstandingFines(loanFines),
		Exposure:             domain.Exposure(loan, loanFines),
		GeneratedAt:          s.now().UTC(),
	}

	if err := s.cache.Set(ctx, statement); err != nil {
		s.log.WithError(customError.WrapCacheError(err)).WithField("loan_id", loanID).Warn("statement cache write failed")
	}
	return statement, nil
}

// GetLedgerSummary returns running balances for the accounts the filter matches
func (s *LoanService) GetLedgerSummary(ctx context.Context, filter domain.AccountFilter) ([]domain.AccountBalance, error) {
	balances, err := s.ledger.Summary(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}
	return balances, nil
}

// TrialBalance sums every posting; Balanced is false only if the ledger is corrupt.
func (s *LoanService) TrialBalance(ctx context.Context) (*ledger.TrialBalance, error) {
	tb, err := s.ledger.TrialBalance(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return tb, nil
}

// ListProducts returns the registered loan products
func (s *LoanService) ListProducts(ctx context.Context) ([]*domain.LoanProduct, error) {
	return s.products.ListProducts(ctx)
}

type mutation func(ctx context.Context, loan *domain.Loan) (*repository.Changeset, error)

// mutate runs fn against a fresh copy of the loan under the loan's lock and
// commits what it returns. fn runs again on a version conflict. A nil
// changeset means there is nothing to write.
func (s *LoanService) mutate(ctx context.Context, loanID uuid.UUID, fn mutation) (*repository.Changeset, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.settings.LockTimeout)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, loanID.String())
	if err != nil {
		return nil, customError.WrapLockTimeout(loanID.String(), err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		loan, err := s.store.GetLoan(ctx, loanID)
		if err != nil {
			return nil, storeError(err)
		}
		version := loan.Version

		cs, err := fn(ctx, loan)
		if err != nil || cs == nil {
			return nil, err
		}
		cs.ExpectedVersion = version

		if err := s.ledger.Validate(cs.Entries); err != nil {
			s.log.WithError(err).WithField("loan_id", loanID).Error("refusing to commit invalid postings")
			return nil, err
		}
		s.ledger.Stamp(cs.Entries)

		err = s.store.Commit(ctx, cs)
		if errors.Is(err, customError.ErrVersionConflict) && attempt < s.settings.CommitRetries {
			s.log.WithFields(logrus.Fields{"loan_id": loanID, "attempt": attempt}).Warn("version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, storeError(err)
		}

		s.invalidateStatement(ctx, loanID)
		return cs, nil
	}
}

func (s *LoanService) invalidateStatement(ctx context.Context, loanID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, loanID); err != nil {
		s.log.WithError(customError.WrapCacheError(err)).WithField("loan_id", loanID).Warn("statement cache invalidation failed")
	}
}

func (s *LoanService) checkLimit(ctx context.Context, product *domain.LoanProduct, loan *domain.Loan) error {
	if product.MaxAmount != nil {
		if loan.Principal.GreaterThan(*product.MaxAmount) {
			return customError.WrapLoanLimitExceeded(product.ID, product.MaxAmount.String())
		}
		return nil
	}
	if product.MaxMultipleOfSavings == nil {
		return nil
	}

	if s.savings == nil {
		return customError.WrapSavingsUnavailable(loan.MemberID, errors.New("no savings provider configured"))
	}
	savings, err := s.savings.GetSavingsBalance(ctx, loan.MemberID)
	if err != nil {
		return customError.WrapSavingsUnavailable(loan.MemberID, err)
	}
	limit := utils.RoundMoney(savings.Mul(*product.MaxMultipleOfSavings))
	if loan.Principal.GreaterThan(limit) {
		return customError.WrapLoanLimitExceeded(product.ID, limit.String())
	}
	return nil
}

func generateSchedule(loan *domain.Loan) ([]*domain.ScheduleLine, error) {
	return amortization.Generate(amortization.Input{
		LoanID:           loan.ID,
		Principal:        loan.Principal,
		RatePercent:      loan.InterestRate,
		TenorMonths:      loan.TenorMonths,
		InterestType:     loan.InterestType,
		DisbursementDate: loan.DisbursementDate,
	})
}

// storeError passes business errors through and wraps everything else.
func storeError(err error) error {
	if err == nil || customError.Code(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return customError.WrapDatabaseError(err)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return customError.WrapInvalidRequest(fe.Field(), "failed "+fe.Tag())
	}
	return customError.WrapInvalidRequest("request", err.Error())
}
