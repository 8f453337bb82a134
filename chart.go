package main

import "fmt"

// The mnemonic DEADCLIC is used to help remember the effect of debit or credit transactions on the relevant accounts.
// DEAD: Debit to increase Expense, Asset and Drawing accounts and CLIC: Credit to increase Liability, Income and Capital accounts.

//               Debit      Credit
// Asset       Increase    Decrease
// Liability   Decrease    Increase
// Income      Decrease    Increase
// Expense     Increase    Decrease

// AccountType represents the type of account in the ledger system.
// The closed enumeration has no stored equity type: equity is reported
// as the residual of assets minus liabilities on the balance sheet.
type AccountType uint16

const (
	// Assets (codes conventionally 1000-1999)
	AccountTypeAsset AccountType = 1000

	// Liabilities (2000-2999)
	AccountTypeLiability AccountType = 2000

	// Income/Revenue (4000-4999)
	AccountTypeIncome AccountType = 4000

	// Expenses (5000-5999)
	AccountTypeExpense AccountType = 5000
)

// AllAccountTypes lists the valid account types in report order.
var AllAccountTypes = []AccountType{
	AccountTypeAsset,
	AccountTypeLiability,
	AccountTypeIncome,
	AccountTypeExpense,
}

// Valid reports whether t is a member of the closed enumeration.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeIncome, AccountTypeExpense:
		return true
	default:
		return false
	}
}

// DebitIncreasing reports whether the account's balance grows with debits.
// Asset and Expense accounts are debit-increasing, Liability and Income
// accounts are credit-increasing (the DEADCLIC rule above).
func (t AccountType) DebitIncreasing() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

func (t AccountType) String() string {
	switch t {
	case AccountTypeAsset:
		return "asset"
	case AccountTypeLiability:
		return "liability"
	case AccountTypeIncome:
		return "income"
	case AccountTypeExpense:
		return "expense"
	default:
		return ""
	}
}

// ParseAccountType converts a string account type to its enum value.
func ParseAccountType(s string) (AccountType, error) {
	switch s {
	case "asset":
		return AccountTypeAsset, nil
	case "liability":
		return AccountTypeLiability, nil
	case "income":
		return AccountTypeIncome, nil
	case "expense":
		return AccountTypeExpense, nil
	default:
		return 0, fmt.Errorf("unknown account type: %s", s)
	}
}
