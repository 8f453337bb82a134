package main

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AccountStatus represents the lifecycle state of an account (active or inactive)
type AccountStatus string

var (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
)

// Account represents one account of the chart of accounts.
// Accounts referenced by voucher lines are never hard-deleted,
// only flagged inactive, so historical postings stay resolvable.
type Account struct {
	ID   uint   `gorm:"primaryKey"`
	Code string `gorm:"column:code;type:varchar(32);not null;uniqueIndex"`
	Name string `gorm:"column:name;type:varchar(255);not null"`
	// Type is immutable after creation: changing it would flip the normal
	// balance side of every historical posting against the account.
	Type           AccountType   `gorm:"column:account_type;not null;index"`
	Status         AccountStatus `gorm:"column:status;not null"`
	CashEquivalent bool          `gorm:"column:cash_equivalent;not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName specifies the table name for the Account model
func (Account) TableName() string {
	return "accounts"
}

// IsActive reports whether the account may receive new voucher lines.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// getAccountByCode retrieves an account by its code
func getAccountByCode(tx *gorm.DB, code string) (*Account, error) {
	var account Account
	if err := tx.Where("code = ?", code).First(&account).Error; err != nil {
		return nil, err
	}

	return &account, nil
}

// getAccountsByCodes loads the given accounts into a map keyed by code.
func getAccountsByCodes(tx *gorm.DB, codes []string) (map[string]Account, error) {
	var accounts []Account
	if err := tx.Where("code IN ?", codes).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	result := make(map[string]Account, len(accounts))
	for _, account := range accounts {
		result[account.Code] = account
	}
	return result, nil
}

// getAllAccounts returns every account ordered by code
func getAllAccounts(tx *gorm.DB) ([]Account, error) {
	var accounts []Account
	if err := tx.Order("code ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to load chart of accounts: %w", err)
	}
	return accounts, nil
}

// countAccounts returns the number of accounts in the registry
func countAccounts(tx *gorm.DB) (int64, error) {
	var count int64
	err := tx.Model(&Account{}).Count(&count).Error
	return count, err
}
