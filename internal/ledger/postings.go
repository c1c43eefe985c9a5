package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Reference formats. Every posting for a fine or a repayment shares a
// prefix so statements can rebuild them with ByReferencePrefix.
const (
	disbursementPrefix = "DISB-"
	finePrefix         = "FINE-"
	repaymentPrefix    = "REPAY-"
)

func DisbursementReference(loanID uuid.UUID) string {
	return disbursementPrefix + loanID.String()
}

func FineReference(fineID uuid.UUID) string {
	return finePrefix + fineID.String()
}

// RepaymentReference is the prefix shared by every leg of one repayment.
func RepaymentReference(repaymentID uuid.UUID) string {
	return repaymentPrefix + repaymentID.String()
}

func FinePaymentReference(repaymentID, fineID uuid.UUID) string {
	return fmt.Sprintf("%s-FINE-%s", RepaymentReference(repaymentID), fineID)
}

func InterestPaymentReference(repaymentID uuid.UUID, installment int) string {
	return fmt.Sprintf("%s-INT-%d", RepaymentReference(repaymentID), installment)
}

func PrincipalPaymentReference(repaymentID uuid.UUID, installment int) string {
	return fmt.Sprintf("%s-PRN-%d", RepaymentReference(repaymentID), installment)
}

func newEntry(loanID uuid.UUID, date time.Time, reference, description string, debit, credit domain.AccountCode, amount decimal.Decimal) *domain.JournalEntry {
	return &domain.JournalEntry{
		Date:          date,
		Description:   description,
		Reference:     reference,
		LoanID:        loanID,
		DebitAccount:  debit,
		CreditAccount: credit,
		DebitAmount:   amount,
		CreditAmount:  amount,
	}
}

// DisbursementEntry moves the principal between the disbursement account
// and the loan account.
func DisbursementEntry(loan *domain.Loan, disbursement domain.AccountCode) *domain.JournalEntry {
	description := fmt.Sprintf("Disbursement of loan %s", loan.ID)
	if loan.Direction == domain.DirectionPayable {
		return newEntry(loan.ID, loan.DisbursementDate, DisbursementReference(loan.ID), description,
			disbursement, domain.AccountLoansPayable, loan.Principal)
	}
	return newEntry(loan.ID, loan.DisbursementDate, DisbursementReference(loan.ID), description,
		domain.AccountLoansReceivable, disbursement, loan.Principal)
}

// FineAccrualEntry recognises a fine the moment it is raised.
func FineAccrualEntry(loan *domain.Loan, fine *domain.Fine) *domain.JournalEntry {
	if loan.Direction == domain.DirectionPayable {
		return newEntry(loan.ID, fine.CreatedDate, FineReference(fine.ID), fine.Reason,
			domain.AccountFineExpense, domain.AccountFinesPayable, fine.Amount)
	}
	return newEntry(loan.ID, fine.CreatedDate, FineReference(fine.ID), fine.Reason,
		domain.AccountFinesReceivable, domain.AccountFineIncome, fine.Amount)
}

func FinePaymentEntry(loan *domain.Loan, repaymentID uuid.UUID, fine *domain.Fine, source domain.AccountCode, amount decimal.Decimal, date time.Time) *domain.JournalEntry {
	ref := FinePaymentReference(repaymentID, fine.ID)
	description := fmt.Sprintf("Fine payment: %s", fine.Reason)
	if loan.Direction == domain.DirectionPayable {
		return newEntry(loan.ID, date, ref, description, domain.AccountFinesPayable, source, amount)
	}
	return newEntry(loan.ID, date, ref, description, source, domain.AccountFinesReceivable, amount)
}

func InterestPaymentEntry(loan *domain.Loan, repaymentID uuid.UUID, installment int, source domain.AccountCode, amount decimal.Decimal, date time.Time) *domain.JournalEntry {
	ref := InterestPaymentReference(repaymentID, installment)
	description := fmt.Sprintf("Interest payment for installment %d", installment)
	if loan.Direction == domain.DirectionPayable {
		return newEntry(loan.ID, date, ref, description, domain.AccountInterestExpense, source, amount)
	}
	return newEntry(loan.ID, date, ref, description, source, domain.AccountInterestIncome, amount)
}

func PrincipalPaymentEntry(loan *domain.Loan, repaymentID uuid.UUID, installment int, source domain.AccountCode, amount decimal.Decimal, date time.Time) *domain.JournalEntry {
	ref := PrincipalPaymentReference(repaymentID, installment)
	description := fmt.Sprintf("Principal payment for installment %d", installment)
	if loan.Direction == domain.DirectionPayable {
		return newEntry(loan.ID, date, ref, description, domain.AccountLoansPayable, source, amount)
	}
	return newEntry(loan.ID, date, ref, description, source, domain.AccountLoansReceivable, amount)
}
