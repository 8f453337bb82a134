package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountTypeValid(t *testing.T) {
	for _, accountType := range AllAccountTypes {
		assert.True(t, accountType.Valid(), "%s should be valid", accountType)
	}

	assert.False(t, AccountType(0).Valid())
	assert.False(t, AccountType(3000).Valid(), "there is no stored equity type")
	assert.False(t, AccountType(9999).Valid())
}

func TestAccountTypeDebitIncreasing(t *testing.T) {
	// DEAD: debit increases expense and asset accounts.
	assert.True(t, AccountTypeAsset.DebitIncreasing())
	assert.True(t, AccountTypeExpense.DebitIncreasing())

	// CLIC: credit increases liability and income accounts.
	assert.False(t, AccountTypeLiability.DebitIncreasing())
	assert.False(t, AccountTypeIncome.DebitIncreasing())
}

func TestAccountTypeString(t *testing.T) {
	assert.Equal(t, "asset", AccountTypeAsset.String())
	assert.Equal(t, "liability", AccountTypeLiability.String())
	assert.Equal(t, "income", AccountTypeIncome.String())
	assert.Equal(t, "expense", AccountTypeExpense.String())
	assert.Equal(t, "", AccountType(42).String())
}

func TestParseAccountType(t *testing.T) {
	// Every member of the enumeration round-trips through its string form
	for _, accountType := range AllAccountTypes {
		parsed, err := ParseAccountType(accountType.String())
		require.NoError(t, err)
		assert.Equal(t, accountType, parsed)
	}

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseAccountType("equity")
		require.Error(t, err)
		assert.Equal(t, "unknown account type: equity", err.Error())
	})

	t.Run("empty type", func(t *testing.T) {
		_, err := ParseAccountType("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown account type")
	})

	t.Run("case sensitive", func(t *testing.T) {
		_, err := ParseAccountType("Asset")
		require.Error(t, err)
	})
}
