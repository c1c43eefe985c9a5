package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AccountCode identifies a ledger account. Only codes present in an
// AccountCatalog may be posted to.
type AccountCode string

const (
	AccountCash            AccountCode = "cash"
	AccountBank            AccountCode = "bank"
	AccountMobileMoney     AccountCode = "mobile_money"
	AccountLoansReceivable AccountCode = "loans_receivable"
	AccountFinesReceivable AccountCode = "fines_receivable"
	AccountLoansPayable    AccountCode = "loans_payable"
	AccountFinesPayable    AccountCode = "fines_payable"
	AccountInterestIncome  AccountCode = "interest_income"
	AccountFineIncome      AccountCode = "fine_income"
	AccountInterestExpense AccountCode = "interest_expense"
	AccountFineExpense     AccountCode = "fine_expense"
)

type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
)

// NormalBalance is the side on which an account's balance grows.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "debit"
	NormalCredit NormalBalance = "credit"
)

// PaymentMethod is how money reached (or left) the SACCO.
type PaymentMethod string

const (
	PaymentMethodCash        PaymentMethod = "cash"
	PaymentMethodBank        PaymentMethod = "bank"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
)

type Account struct {
	Code   AccountCode   `json:"code"`
	Name   string        `json:"name"`
	Type   AccountType   `json:"type"`
	Normal NormalBalance `json:"normal_balance"`
	Source bool          `json:"source"` // money can be paid from or into it
}

// AccountCatalog is the closed set of postable accounts.
type AccountCatalog struct {
	accounts map[AccountCode]Account
	methods  map[PaymentMethod]AccountCode
}

// DefaultAccountCatalog returns the chart of accounts used for loan postings.
func DefaultAccountCatalog() *AccountCatalog {
	c := &AccountCatalog{
		accounts: make(map[AccountCode]Account),
		methods: map[PaymentMethod]AccountCode{
			PaymentMethodCash:        AccountCash,
			PaymentMethodBank:        AccountBank,
			PaymentMethodMobileMoney: AccountMobileMoney,
		},
	}
	for _, a := range []Account{
		{Code: AccountCash, Name: "Cash", Type: AccountTypeAsset, Source: true},
		{Code: AccountBank, Name: "Bank", Type: AccountTypeAsset, Source: true},
		{Code: AccountMobileMoney, Name: "Mobile Money", Type: AccountTypeAsset, Source: true},
		{Code: AccountLoansReceivable, Name: "Loans Receivable", Type: AccountTypeAsset},
		{Code: AccountFinesReceivable, Name: "Fines Receivable", Type: AccountTypeAsset},
		{Code: AccountLoansPayable, Name: "Loans Payable", Type: AccountTypeLiability},
		{Code: AccountFinesPayable, Name: "Fines Payable", Type: AccountTypeLiability},
		{Code: AccountInterestIncome, Name: "Interest Income", Type: AccountTypeIncome},
		{Code: AccountFineIncome, Name: "Fine Income", Type: AccountTypeIncome},
		{Code: AccountInterestExpense, Name: "Interest Expense", Type: AccountTypeExpense},
		{Code: AccountFineExpense, Name: "Fine Expense", Type: AccountTypeExpense},
	} {
		c.add(a)
	}
	return c
}

func (c *AccountCatalog) add(a Account) {
	switch a.Type {
	case AccountTypeAsset, AccountTypeExpense:
		a.Normal = NormalDebit
	default:
		a.Normal = NormalCredit
	}
	c.accounts[a.Code] = a
}

func (c *AccountCatalog) Lookup(code AccountCode) (Account, bool) {
	a, ok := c.accounts[code]
	return a, ok
}

// SourceAccount maps a payment method to the account money moves through.
func (c *AccountCatalog) SourceAccount(method PaymentMethod) (AccountCode, bool) {
	code, ok := c.methods[method]
	return code, ok
}

// IsSource reports whether code is a cash-like account usable as a payment source.
func (c *AccountCatalog) IsSource(code AccountCode) bool {
	a, ok := c.accounts[code]
	return ok && a.Source
}

// Accounts lists the catalog ordered by code.
func (c *AccountCatalog) Accounts() []Account {
	out := make([]Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// AccountFilter narrows a ledger summary. Empty fields match everything.
type AccountFilter struct {
	Codes []AccountCode `json:"codes,omitempty"`
	Type  AccountType   `json:"type,omitempty"`
}

func (f AccountFilter) Matches(a Account) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if len(f.Codes) == 0 {
		return true
	}
	for _, code := range f.Codes {
		if code == a.Code {
			return true
		}
	}
	return false
}

// AccountTotals are the raw debit and credit sums of an account.
type AccountTotals struct {
	Debits  decimal.Decimal `json:"debits" db:"debits"`
	Credits decimal.Decimal `json:"credits" db:"credits"`
}

// AccountBalance is an account with its running balance on its normal side.
type AccountBalance struct {
	Account
	Debits  decimal.Decimal `json:"debits"`
	Credits decimal.Decimal `json:"credits"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceOf computes the running balance of an account from its totals.
func BalanceOf(a Account, t AccountTotals) AccountBalance {
	balance := t.Credits.Sub(t.Debits)
	if a.Normal == NormalDebit {
		balance = t.Debits.Sub(t.Credits)
	}
	return AccountBalance{Account: a, Debits: t.Debits, Credits: t.Credits, Balance: balance}
}
