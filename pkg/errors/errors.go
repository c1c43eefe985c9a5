package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrLoanNotFound         = errors.New("loan not found")
	ErrProductNotFound      = errors.New("loan product not found")
	ErrProductAlreadyExists = errors.New("loan product already exists")
	ErrInvalidProduct       = errors.New("invalid loan product")
	ErrInvalidScheduleInput = errors.New("invalid schedule input")
	ErrInvalidTransition    = errors.New("invalid loan state transition")
	ErrUnbalancedEntry      = errors.New("unbalanced journal entry")
	ErrUnknownAccount       = errors.New("unknown ledger account")
	ErrDuplicateReference   = errors.New("duplicate journal reference")
	ErrOverpaymentRejected  = errors.New("overpayment rejected")
	ErrDuplicateFineAccrual = errors.New("duplicate fine accrual")
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrReferenceConflict    = errors.New("repayment reference already used with different amount")
	ErrVersionConflict      = errors.New("loan was modified concurrently")
	ErrLoanLimitExceeded    = errors.New("loan amount exceeds product limit")
	ErrNoOutstandingBalance = errors.New("no outstanding balance")
	ErrSavingsUnavailable   = errors.New("member savings unavailable")
	ErrLockTimeout          = errors.New("timed out waiting for loan lock")
	ErrInvalidRequest       = errors.New("invalid request")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	LoanID  string
	Field   string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithLoan attaches the loan the error refers to.
func (e *BusinessError) WithLoan(loanID string) *BusinessError {
	e.LoanID = loanID
	return e
}

// WithField attaches the offending input field.
func (e *BusinessError) WithField(field string) *BusinessError {
	e.Field = field
	return e
}

// Error codes
const (
	ErrCodeLoanNotFound         = "LOAN_NOT_FOUND"
	ErrCodeProductNotFound      = "PRODUCT_NOT_FOUND"
	ErrCodeProductAlreadyExists = "PRODUCT_ALREADY_EXISTS"
	ErrCodeInvalidProduct       = "INVALID_PRODUCT"
	ErrCodeInvalidScheduleInput = "INVALID_SCHEDULE_INPUT"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeUnbalancedEntry      = "UNBALANCED_ENTRY"
	ErrCodeUnknownAccount       = "UNKNOWN_ACCOUNT"
	ErrCodeDuplicateReference   = "DUPLICATE_REFERENCE"
	ErrCodeOverpaymentRejected  = "OVERPAYMENT_REJECTED"
	ErrCodeDuplicateFineAccrual = "DUPLICATE_FINE_ACCRUAL"
	ErrCodeInvalidPaymentAmount = "INVALID_PAYMENT_AMOUNT"
	ErrCodeInvalidPaymentMethod = "INVALID_PAYMENT_METHOD"
	ErrCodeReferenceConflict    = "REFERENCE_CONFLICT"
	ErrCodeVersionConflict      = "VERSION_CONFLICT"
	ErrCodeLoanLimitExceeded    = "LOAN_LIMIT_EXCEEDED"
	ErrCodeNoOutstandingBalance = "NO_OUTSTANDING_BALANCE"
	ErrCodeSavingsUnavailable   = "SAVINGS_UNAVAILABLE"
	ErrCodeLockTimeout          = "LOCK_TIMEOUT"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeDatabaseError        = "DATABASE_ERROR"
	ErrCodeCacheError           = "CACHE_ERROR"
)

// Wrap common errors with business context
func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan with ID %s not found", loanID),
		ErrLoanNotFound,
	).WithLoan(loanID)
}

func WrapProductNotFound(productID string) *BusinessError {
	return NewBusinessError(
		ErrCodeProductNotFound,
		fmt.Sprintf("Loan product %s not found", productID),
		ErrProductNotFound,
	).WithField("product_id")
}

func WrapProductAlreadyExists(productID string) *BusinessError {
	return NewBusinessError(
		ErrCodeProductAlreadyExists,
		fmt.Sprintf("Loan product %s is already registered and cannot be redefined", productID),
		ErrProductAlreadyExists,
	).WithField("id")
}

func WrapInvalidProduct(productID, field, constraint string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidProduct,
		fmt.Sprintf("Loan product %s: %s %s", productID, field, constraint),
		ErrInvalidProduct,
	).WithField(field)
}

func WrapInvalidScheduleInput(field, constraint string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidScheduleInput,
		fmt.Sprintf("%s %s", field, constraint),
		ErrInvalidScheduleInput,
	).WithField(field)
}

func WrapInvalidTransition(loanID, from, to string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidTransition,
		fmt.Sprintf("Loan %s cannot move from %s to %s", loanID, from, to),
		ErrInvalidTransition,
	).WithLoan(loanID).WithField("status")
}

func WrapUnbalancedEntry(reference, debit, credit string) *BusinessError {
	return NewBusinessError(
		ErrCodeUnbalancedEntry,
		fmt.Sprintf("Journal entry %s debits %s but credits %s", reference, debit, credit),
		ErrUnbalancedEntry,
	)
}

func WrapUnknownAccount(account string) *BusinessError {
	return NewBusinessError(
		ErrCodeUnknownAccount,
		fmt.Sprintf("Account %q is not in the account catalog", account),
		ErrUnknownAccount,
	).WithField("account")
}

func WrapDuplicateReference(reference string) *BusinessError {
	return NewBusinessError(
		ErrCodeDuplicateReference,
		fmt.Sprintf("Journal reference %s already posted", reference),
		ErrDuplicateReference,
	).WithField("reference")
}

func WrapOverpaymentRejected(loanID, remainder string) *BusinessError {
	return NewBusinessError(
		ErrCodeOverpaymentRejected,
		fmt.Sprintf("Payment exceeds the amount owed on loan %s by %s", loanID, remainder),
		ErrOverpaymentRejected,
	).WithLoan(loanID).WithField("amount")
}

func WrapDuplicateFineAccrual(loanID, fineKey string) *BusinessError {
	return NewBusinessError(
		ErrCodeDuplicateFineAccrual,
		fmt.Sprintf("Fine %s already accrued", fineKey),
		ErrDuplicateFineAccrual,
	).WithLoan(loanID)
}

func WrapInvalidPaymentAmount(amount string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidPaymentAmount,
		fmt.Sprintf("Invalid payment amount: %s", amount),
		ErrInvalidPaymentAmount,
	).WithField("amount")
}

func WrapInvalidPaymentMethod(method string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidPaymentMethod,
		fmt.Sprintf("Payment method %q has no source account", method),
		ErrInvalidPaymentMethod,
	).WithField("method")
}

func WrapReferenceConflict(loanID, reference string) *BusinessError {
	return NewBusinessError(
		ErrCodeReferenceConflict,
		fmt.Sprintf("Reference %s was already used on loan %s with a different amount", reference, loanID),
		ErrReferenceConflict,
	).WithLoan(loanID).WithField("reference")
}

func WrapVersionConflict(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeVersionConflict,
		fmt.Sprintf("Loan %s was modified concurrently", loanID),
		ErrVersionConflict,
	).WithLoan(loanID)
}

func WrapLoanLimitExceeded(productID, limit string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanLimitExceeded,
		fmt.Sprintf("Principal exceeds the limit %s of product %s", limit, productID),
		ErrLoanLimitExceeded,
	).WithField("principal")
}

func WrapNoOutstandingBalance(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeNoOutstandingBalance,
		fmt.Sprintf("Loan with ID %s has no outstanding balance", loanID),
		ErrNoOutstandingBalance,
	).WithLoan(loanID)
}

func WrapSavingsUnavailable(memberID string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeSavingsUnavailable,
		fmt.Sprintf("Savings balance for member %q unavailable: %v", memberID, err),
		ErrSavingsUnavailable,
	).WithField("member_id")
}

func WrapLockTimeout(loanID string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeLockTimeout,
		fmt.Sprintf("Loan %s is busy: %v", loanID, err),
		ErrLockTimeout,
	).WithLoan(loanID)
}

func WrapInvalidRequest(field, constraint string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidRequest,
		fmt.Sprintf("%s %s", field, constraint),
		ErrInvalidRequest,
	).WithField(field)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}

// Code returns the business code carried by err, or "" if there is none.
func Code(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
