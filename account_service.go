package main

import (
	"errors"

	"gorm.io/gorm"
)

const (
	ErrAccountNotFound       = "account not found"
	ErrAccountInactive       = "account is inactive"
	ErrInvalidAccountType    = "invalid account type"
	ErrDuplicateAccountCode  = "account code already exists"
	ErrAccountHasOpenBalance = "account carries a non-zero posted balance"
)

// AccountService handles the business logic for chart of accounts operations.
type AccountService struct {
	db    *gorm.DB
	cache *ReportCache
}

// NewAccountService creates a new AccountService.
func NewAccountService(db *gorm.DB, cache *ReportCache) *AccountService {
	return &AccountService{db: db, cache: cache}
}

// CreateAccount registers a new active account in the chart.
func (s *AccountService) CreateAccount(params *CreateAccountParams, logger Logger) (*Account, error) {
	accountType, err := ParseAccountType(params.Type)
	if err != nil {
		return nil, RPCErrorf(ErrInvalidAccountType+": %s", params.Type)
	}

	var account Account
	err = s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := getAccountByCode(tx, params.Code)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("failed to check account code", "error", err)
			return RPCErrorf("failed to check account code")
		}
		if existing != nil {
			return RPCErrorf(ErrDuplicateAccountCode+": %s", params.Code)
		}

		account = Account{
			Code:           params.Code,
			Name:           params.Name,
			Type:           accountType,
			Status:         AccountStatusActive,
			CashEquivalent: params.CashEquivalent,
		}
		if err := tx.Create(&account).Error; err != nil {
			logger.Error("failed to create account", "error", err)
			return RPCErrorf("failed to create account")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Flush()
	return &account, nil
}

// UpdateAccount renames an account or toggles its cash flag. The account
// type is immutable after creation because changing it would flip the side
// on which every historical line counts.
func (s *AccountService) UpdateAccount(params *UpdateAccountParams, logger Logger) (*Account, error) {
	var account *Account
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = getAccountByCode(tx, params.Code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return RPCErrorf(ErrAccountNotFound+": %s", params.Code)
			}
			logger.Error("failed to find account", "error", err)
			return RPCErrorf("failed to find account")
		}

		if params.Name != nil && *params.Name != "" {
			account.Name = *params.Name
		}
		if params.CashEquivalent != nil {
			account.CashEquivalent = *params.CashEquivalent
		}
		if err := tx.Save(account).Error; err != nil {
			logger.Error("failed to save account", "error", err)
			return RPCErrorf("failed to update account %s", params.Code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Flush()
	return account, nil
}

// DeactivateAccount retires an account from new postings while keeping its
// history intact. Accounts with a non-zero posted balance are refused unless
// the caller forces it.
func (s *AccountService) DeactivateAccount(params *DeactivateAccountParams, logger Logger) (*Account, error) {
	var account *Account
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = getAccountByCode(tx, params.Code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return RPCErrorf(ErrAccountNotFound+": %s", params.Code)
			}
			logger.Error("failed to find account", "error", err)
			return RPCErrorf("failed to find account")
		}
		if !account.IsActive() {
			return nil
		}

		if !params.Force {
			balance, err := GetAccountLedger(tx, *account).Balance(nil)
			if err != nil {
				logger.Error(ErrGetAccountBalance, "error", err)
				return RPCErrorf(ErrGetAccountBalance + " for deactivation check")
			}
			if !balance.IsZero() {
				return RPCErrorf(ErrAccountHasOpenBalance+": %s has %s", account.Code, balance.String())
			}
		}

		account.Status = AccountStatusInactive
		if err := tx.Save(account).Error; err != nil {
			logger.Error("failed to save account", "error", err)
			return RPCErrorf("failed to deactivate account %s", params.Code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Flush()
	return account, nil
}

// ReactivateAccount makes a deactivated account postable again.
func (s *AccountService) ReactivateAccount(code string, logger Logger) (*Account, error) {
	var account *Account
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = getAccountByCode(tx, code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return RPCErrorf(ErrAccountNotFound+": %s", code)
			}
			logger.Error("failed to find account", "error", err)
			return RPCErrorf("failed to find account")
		}
		if account.IsActive() {
			return nil
		}

		account.Status = AccountStatusActive
		if err := tx.Save(account).Error; err != nil {
			logger.Error("failed to save account", "error", err)
			return RPCErrorf("failed to reactivate account %s", code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Flush()
	return account, nil
}

// GetAccount returns a single account by code.
func (s *AccountService) GetAccount(code string) (*Account, error) {
	account, err := getAccountByCode(s.db, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, RPCErrorf(ErrAccountNotFound+": %s", code)
		}
		return nil, RPCErrorf("failed to find account")
	}
	return account, nil
}

// ListAccounts returns chart entries matching the filters, ordered by code.
func (s *AccountService) ListAccounts(params *GetAccountsParams) ([]Account, error) {
	query := s.db.Model(&Account{})
	if params.Type != nil && *params.Type != "" {
		accountType, err := ParseAccountType(*params.Type)
		if err != nil {
			return nil, RPCErrorf(ErrInvalidAccountType+": %s", *params.Type)
		}
		query = query.Where("account_type = ?", accountType)
	}
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Search != nil && *params.Search != "" {
		pattern := "%" + *params.Search + "%"
		query = query.Where("code LIKE ? OR name LIKE ?", pattern, pattern)
	}

	query = applyListOptions(query, "code", SortTypeAscending, &params.ListOptions)

	var accounts []Account
	if err := query.Find(&accounts).Error; err != nil {
		return nil, RPCErrorf("failed to list accounts")
	}
	return accounts, nil
}

// SeedChart loads the configured chart of accounts into an empty registry.
// A registry that already holds any account is left untouched so repeated
// startups never duplicate or resurrect chart entries.
func (s *AccountService) SeedChart(chart *ChartConfig, logger Logger) (int, error) {
	created := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		count, err := countAccounts(tx)
		if err != nil {
			return err
		}
		if count > 0 {
			logger.Debug("chart already seeded", "accounts", count)
			return nil
		}

		for _, entry := range chart.Accounts {
			if entry.Disabled {
				continue
			}
			accountType, err := ParseAccountType(entry.Type)
			if err != nil {
				return errors.New(ErrInvalidAccountType + " in chart: " + entry.Type)
			}
			account := Account{
				Code:           entry.Code,
				Name:           entry.Name,
				Type:           accountType,
				Status:         AccountStatusActive,
				CashEquivalent: entry.CashEquivalent,
			}
			if err := tx.Create(&account).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return created, nil
}
