package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	chartFileName = "chart.yaml"
)

var accountCodeRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ChartConfig represents the root configuration structure for the chart of
// accounts. It is read once at startup and used to seed an empty registry.
type ChartConfig struct {
	Accounts []ChartAccountConfig `yaml:"accounts"`
}

// ChartAccountConfig represents configuration for a single account.
type ChartAccountConfig struct {
	// Code is the unique account code (e.g., "1000")
	// This field is required for enabled accounts
	Code string `yaml:"code"`
	// Name is the human-readable account name (e.g., "Cash in Hand")
	// If empty, it will inherit the Code value during validation
	Name string `yaml:"name"`
	// Type is one of asset, liability, income, expense
	Type string `yaml:"type"`
	// CashEquivalent marks the account as a cash or bank account so it is
	// included in cash flow reporting
	CashEquivalent bool `yaml:"cash_equivalent"`
	// Disabled determines if this account should be seeded
	Disabled bool `yaml:"disabled"`
}

// LoadChart loads and validates the chart of accounts from a YAML file.
// It reads from <configDirPath>/chart.yaml, validates all settings,
// and returns the parsed configuration.
func LoadChart(configDirPath string) (ChartConfig, error) {
	chartPath := filepath.Join(configDirPath, chartFileName)
	f, err := os.Open(chartPath)
	if err != nil {
		return ChartConfig{}, err
	}
	defer f.Close()

	var cfg ChartConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return ChartConfig{}, err
	}

	if err := cfg.verifyVariables(); err != nil {
		return ChartConfig{}, err
	}

	return cfg, nil
}

// verifyVariables validates the configuration structure and applies defaults:
// - Account codes are required and must be unique within the file
// - Account names default to codes if not specified
// - Account types must parse to a known type for enabled accounts
func (cfg *ChartConfig) verifyVariables() error {
	seen := make(map[string]struct{}, len(cfg.Accounts))
	for i, account := range cfg.Accounts {
		if account.Disabled {
			continue
		}

		if account.Code == "" {
			return fmt.Errorf("missing account code for account[%d]", i)
		}
		if !accountCodeRegex.MatchString(account.Code) {
			return fmt.Errorf("invalid account code '%s' for account[%d]", account.Code, i)
		}
		if _, ok := seen[account.Code]; ok {
			return fmt.Errorf("duplicate account code '%s' for account[%d]", account.Code, i)
		}
		seen[account.Code] = struct{}{}

		if account.Name == "" {
			cfg.Accounts[i].Name = account.Code
		}

		if _, err := ParseAccountType(account.Type); err != nil {
			return fmt.Errorf("invalid account type '%s' for account %s", account.Type, account.Code)
		}
	}

	return nil
}

// GetAccountByCode looks up an enabled account entry by its code.
// The second return value indicates whether the entry was found.
func (cfg ChartConfig) GetAccountByCode(code string) (ChartAccountConfig, bool) {
	for _, account := range cfg.Accounts {
		if account.Disabled {
			continue
		}
		if account.Code == code {
			return account, true
		}
	}
	return ChartAccountConfig{}, false
}

// DefaultChart returns the chart seeded when no chart.yaml is provided:
// a minimal set covering cash, bank, receivables, payables, income and the
// usual running expenses.
func DefaultChart() ChartConfig {
	return ChartConfig{
		Accounts: []ChartAccountConfig{
			{Code: "1000", Name: "Cash in Hand", Type: "asset", CashEquivalent: true},
			{Code: "1010", Name: "Bank Account", Type: "asset", CashEquivalent: true},
			{Code: "1100", Name: "Accounts Receivable", Type: "asset"},
			{Code: "1500", Name: "Furniture and Equipment", Type: "asset"},
			{Code: "2000", Name: "Accounts Payable", Type: "liability"},
			{Code: "2100", Name: "Loans Payable", Type: "liability"},
			{Code: "4000", Name: "Fee Income", Type: "income"},
			{Code: "4100", Name: "Donations", Type: "income"},
			{Code: "5000", Name: "Salaries Expense", Type: "expense"},
			{Code: "5100", Name: "Rent Expense", Type: "expense"},
			{Code: "5200", Name: "Utilities Expense", Type: "expense"},
		},
	}
}
