package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ErrUnbalancedLedger = "posted ledger debits and credits diverge"
)

// TrialBalanceRow places one account's net posted balance in its debit or
// credit column.
type TrialBalanceRow struct {
	AccountCode string          `json:"account_code"`
	AccountName string          `json:"account_name"`
	AccountType string          `json:"account_type"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

type TrialBalanceReport struct {
	AsOf        string            `json:"as_of,omitempty"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
}

// ReportLine is one account amount inside a P&L, balance sheet or cash flow
// section.
type ReportLine struct {
	AccountCode string          `json:"account_code"`
	AccountName string          `json:"account_name"`
	Amount      decimal.Decimal `json:"amount"`
}

type ProfitLossReport struct {
	From         string          `json:"from,omitempty"`
	To           string          `json:"to,omitempty"`
	Income       []ReportLine    `json:"income"`
	Expenses     []ReportLine    `json:"expenses"`
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalExpense decimal.Decimal `json:"total_expense"`
	NetProfit    decimal.Decimal `json:"net_profit"`
}

type BalanceSheetReport struct {
	AsOf             string          `json:"as_of,omitempty"`
	Assets           []ReportLine    `json:"assets"`
	Liabilities      []ReportLine    `json:"liabilities"`
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	Equity           decimal.Decimal `json:"equity"`
}

type CashFlowRow struct {
	AccountCode string          `json:"account_code"`
	AccountName string          `json:"account_name"`
	Inflow      decimal.Decimal `json:"inflow"`
	Outflow     decimal.Decimal `json:"outflow"`
}

// CashFlowCategory buckets cash movement by the narration of the vouchers
// that produced it.
type CashFlowCategory struct {
	Category string          `json:"category"`
	Inflow   decimal.Decimal `json:"inflow"`
	Outflow  decimal.Decimal `json:"outflow"`
	Net      decimal.Decimal `json:"net"`
}

type CashFlowReport struct {
	From         string             `json:"from,omitempty"`
	To           string             `json:"to,omitempty"`
	Rows         []CashFlowRow      `json:"rows"`
	Categories   []CashFlowCategory `json:"categories,omitempty"`
	TotalInflow  decimal.Decimal    `json:"total_inflow"`
	TotalOutflow decimal.Decimal    `json:"total_outflow"`
	NetCash      decimal.Decimal    `json:"net_cash"`
	OpeningCash  decimal.Decimal    `json:"opening_cash"`
	ClosingCash  decimal.Decimal    `json:"closing_cash"`
}

// AccountLedgerReport wraps one account's statement for the general ledger.
type AccountLedgerReport struct {
	AccountCode string           `json:"account_code"`
	AccountName string           `json:"account_name"`
	AccountType string           `json:"account_type"`
	Opening     decimal.Decimal  `json:"opening_balance"`
	Movements   []LedgerMovement `json:"movements"`
	TotalDebit  decimal.Decimal  `json:"total_debit"`
	TotalCredit decimal.Decimal  `json:"total_credit"`
	Closing     decimal.Decimal  `json:"closing_balance"`
}

type GeneralLedgerReport struct {
	From            string                `json:"from,omitempty"`
	To              string                `json:"to,omitempty"`
	Accounts        []AccountLedgerReport `json:"accounts"`
	UnknownAccounts []string              `json:"unknown_accounts,omitempty"`
}

type DashboardReport struct {
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	CashPosition     decimal.Decimal `json:"cash_position"`
	ActiveAccounts   int64           `json:"active_accounts"`
	PostedVouchers   int64           `json:"posted_vouchers"`
	DraftVouchers    int64           `json:"draft_vouchers"`
}

// ReportService computes financial statements from posted data only.
// Every method is read-only and returns a freshly built result struct;
// results are cached until the next mutation flushes the cache.
type ReportService struct {
	db    *gorm.DB
	cache *ReportCache
}

// NewReportService creates a new ReportService.
func NewReportService(db *gorm.DB, cache *ReportCache) *ReportService {
	return &ReportService{db: db, cache: cache}
}

// TrialBalance lists every account with its net posted balance as of the
// given date, placed in the debit or credit column by sign. The two column
// totals must agree to the cent; a mismatch means the posting invariant has
// been violated outside the API and is reported as an error, never patched.
func (s *ReportService) TrialBalance(asOf *time.Time) (*TrialBalanceReport, error) {
	key := reportCacheKey("trial_balance", asOf, nil)
	if cached, ok := s.cache.Get(key); ok {
		if report, ok := cached.(*TrialBalanceReport); ok {
			return report, nil
		}
	}

	accounts, err := getAllAccounts(s.db)
	if err != nil {
		return nil, err
	}
	totals, err := postedTotalsByAccount(s.db, nil, asOf)
	if err != nil {
		return nil, err
	}

	report := &TrialBalanceReport{
		AsOf: formatDatePtr(asOf),
		Rows: make([]TrialBalanceRow, 0, len(accounts)),
	}
	for _, account := range accounts {
		t := totals[account.Code]
		net := t.Debit.Sub(t.Credit)

		row := TrialBalanceRow{
			AccountCode: account.Code,
			AccountName: account.Name,
			AccountType: account.Type.String(),
			Debit:       decimal.Zero,
			Credit:      decimal.Zero,
		}
		if net.IsPositive() {
			row.Debit = net
		} else if net.IsNegative() {
			row.Credit = net.Neg()
		}

		report.Rows = append(report.Rows, row)
		report.TotalDebit = report.TotalDebit.Add(row.Debit)
		report.TotalCredit = report.TotalCredit.Add(row.Credit)
	}

	if !report.TotalDebit.Equal(report.TotalCredit) {
		return nil, fmt.Errorf(ErrUnbalancedLedger+": debit %s, credit %s, difference %s",
			report.TotalDebit.String(), report.TotalCredit.String(),
			report.TotalDebit.Sub(report.TotalCredit).String())
	}

	s.cache.Put(key, report)
	return report, nil
}

// ProfitAndLoss sums Income and Expense movements over the date range.
// A negative net profit is a loss.
func (s *ReportService) ProfitAndLoss(from, to *time.Time) (*ProfitLossReport, error) {
	key := reportCacheKey("profit_loss", from, to)
	if cached, ok := s.cache.Get(key); ok {
		if report, ok := cached.(*ProfitLossReport); ok {
			return report, nil
		}
	}

	accounts, err := getAllAccounts(s.db)
	if err != nil {
		return nil, err
	}
	totals, err := postedTotalsByAccount(s.db, from, to)
	if err != nil {
		return nil, err
	}

	report := &ProfitLossReport{
		From:     formatDatePtr(from),
		To:       formatDatePtr(to),
		Income:   []ReportLine{},
		Expenses: []ReportLine{},
	}
	for _, account := range accounts {
		t := totals[account.Code]
		switch account.Type {
		case AccountTypeIncome:
			amount := t.Credit.Sub(t.Debit)
			report.Income = append(report.Income, ReportLine{
				AccountCode: account.Code,
				AccountName: account.Name,
				Amount:      amount,
			})
			report.TotalIncome = report.TotalIncome.Add(amount)
		case AccountTypeExpense:
			amount := t.Debit.Sub(t.Credit)
			report.Expenses = append(report.Expenses, ReportLine{
				AccountCode: account.Code,
				AccountName: account.Name,
				Amount:      amount,
			})
			report.TotalExpense = report.TotalExpense.Add(amount)
		}
	}
	report.NetProfit = report.TotalIncome.Sub(report.TotalExpense)

	s.cache.Put(key, report)
	return report, nil
}

// BalanceSheet lists Asset and Liability balances as of the given date.
// Equity is not a stored account type here: it is the computed residual
// assets minus liabilities, which folds in accumulated profit.
func (s *ReportService) BalanceSheet(asOf *time.Time) (*BalanceSheetReport, error) {
	key := reportCacheKey("balance_sheet", asOf, nil)
	if cached, ok := s.cache.Get(key); ok {
		if report, ok := cached.(*BalanceSheetReport); ok {
			return report, nil
		}
	}

	accounts, err := getAllAccounts(s.db)
	if err != nil {
		return nil, err
	}
	totals, err := postedTotalsByAccount(s.db, nil, asOf)
	if err != nil {
		return nil, err
	}

	report := &BalanceSheetReport{
		AsOf:        formatDatePtr(asOf),
		Assets:      []ReportLine{},
		Liabilities: []ReportLine{},
	}
	for _, account := range accounts {
		t := totals[account.Code]
		switch account.Type {
		case AccountTypeAsset:
			amount := t.Debit.Sub(t.Credit)
			report.Assets = append(report.Assets, ReportLine{
				AccountCode: account.Code,
				AccountName: account.Name,
				Amount:      amount,
			})
			report.TotalAssets = report.TotalAssets.Add(amount)
		case AccountTypeLiability:
			amount := t.Credit.Sub(t.Debit)
			report.Liabilities = append(report.Liabilities, ReportLine{
				AccountCode: account.Code,
				AccountName: account.Name,
				Amount:      amount,
			})
			report.TotalLiabilities = report.TotalLiabilities.Add(amount)
		}
	}
	report.Equity = report.TotalAssets.Sub(report.TotalLiabilities)

	s.cache.Put(key, report)
	return report, nil
}

// GeneralLedger renders per-account statements for the requested codes, or
// for the whole chart when no codes are given. Unknown codes are reported
// back instead of failing the whole request.
func (s *ReportService) GeneralLedger(codes []string, from, to *time.Time) (*GeneralLedgerReport, error) {
	key := reportCacheKey("general_ledger:"+strings.Join(codes, ","), from, to)
	if cached, ok := s.cache.Get(key); ok {
		if report, ok := cached.(*GeneralLedgerReport); ok {
			return report, nil
		}
	}

	var accounts []Account
	var unknown []string
	if len(codes) == 0 {
		var err error
		accounts, err = getAllAccounts(s.db)
		if err != nil {
			return nil, err
		}
	} else {
		found, err := getAccountsByCodes(s.db, codes)
		if err != nil {
			return nil, err
		}
		for _, code := range codes {
			account, ok := found[code]
			if !ok {
				unknown = append(unknown, code)
				continue
			}
			accounts = append(accounts, account)
		}
	}

	report := &GeneralLedgerReport{
		From:            formatDatePtr(from),
		To:              formatDatePtr(to),
		Accounts:        make([]AccountLedgerReport, 0, len(accounts)),
		UnknownAccounts: unknown,
	}
	for _, account := range accounts {
		view, err := GetAccountLedger(s.db, account).View(from, to)
		if err != nil {
			return nil, err
		}
		report.Accounts = append(report.Accounts, AccountLedgerReport{
			AccountCode: account.Code,
			AccountName: account.Name,
			AccountType: account.Type.String(),
			Opening:     view.Opening,
			Movements:   view.Movements,
			TotalDebit:  view.TotalDebit,
			TotalCredit: view.TotalCredit,
			Closing:     view.Closing,
		})
	}

	s.cache.Put(key, report)
	return report, nil
}

// CashFlow sums movements of cash-equivalent accounts over the range. Cash
// accounts are assets, so debits are inflows and credits are outflows. With
// byNarration set the report also buckets the movement by voucher narration.
func (s *ReportService) CashFlow(from, to *time.Time, byNarration bool) (*CashFlowReport, error) {
	kind := "cash_flow"
	if byNarration {
		kind = "cash_flow_by_narration"
	}
	key := reportCacheKey(kind, from, to)
	if cached, ok := s.cache.Get(key); ok {
		if report, ok := cached.(*CashFlowReport); ok {
			return report, nil
		}
	}

	var cashAccounts []Account
	if err := s.db.Where("cash_equivalent = ?", true).Order("code ASC").Find(&cashAccounts).Error; err != nil {
		return nil, err
	}
	totals, err := postedTotalsByAccount(s.db, from, to)
	if err != nil {
		return nil, err
	}

	report := &CashFlowReport{
		From: formatDatePtr(from),
		To:   formatDatePtr(to),
		Rows: make([]CashFlowRow, 0, len(cashAccounts)),
	}
	for _, account := range cashAccounts {
		t := totals[account.Code]
		report.Rows = append(report.Rows, CashFlowRow{
			AccountCode: account.Code,
			AccountName: account.Name,
			Inflow:      t.Debit,
			Outflow:     t.Credit,
		})
		report.TotalInflow = report.TotalInflow.Add(t.Debit)
		report.TotalOutflow = report.TotalOutflow.Add(t.Credit)

		if from != nil {
			dayBefore := from.AddDate(0, 0, -1)
			opening, err := GetAccountLedger(s.db, account).Balance(&dayBefore)
			if err != nil {
				return nil, err
			}
			report.OpeningCash = report.OpeningCash.Add(opening)
		}
	}
	report.NetCash = report.TotalInflow.Sub(report.TotalOutflow)
	report.ClosingCash = report.OpeningCash.Add(report.NetCash)

	if byNarration {
		codes := make([]string, 0, len(cashAccounts))
		for _, account := range cashAccounts {
			codes = append(codes, account.Code)
		}
		categories, err := cashByNarration(s.db, codes, from, to)
		if err != nil {
			return nil, err
		}
		report.Categories = categories
	}

	s.cache.Put(key, report)
	return report, nil
}

// cashByNarration sums posted cash movements per voucher narration. Sums run
// in Go so the result is exact on every driver. Vouchers without a narration
// land in the "(uncategorized)" bucket.
func cashByNarration(db *gorm.DB, codes []string, from, to *time.Time) ([]CashFlowCategory, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	type row struct {
		Narration string          `gorm:"column:narration"`
		Debit     decimal.Decimal `gorm:"column:debit"`
		Credit    decimal.Decimal `gorm:"column:credit"`
	}
	var rows []row
	err := postedLines(db, "", from, to).
		Where("voucher_lines.account_code IN ?", codes).
		Select("vouchers.narration AS narration, voucher_lines.debit AS debit, voucher_lines.credit AS credit").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]*CashFlowCategory)
	names := make([]string, 0)
	for _, r := range rows {
		name := r.Narration
		if name == "" {
			name = "(uncategorized)"
		}
		bucket, ok := buckets[name]
		if !ok {
			bucket = &CashFlowCategory{Category: name}
			buckets[name] = bucket
			names = append(names, name)
		}
		bucket.Inflow = bucket.Inflow.Add(r.Debit)
		bucket.Outflow = bucket.Outflow.Add(r.Credit)
	}
	sort.Strings(names)

	categories := make([]CashFlowCategory, 0, len(names))
	for _, name := range names {
		bucket := buckets[name]
		bucket.Net = bucket.Inflow.Sub(bucket.Outflow)
		categories = append(categories, *bucket)
	}
	return categories, nil
}

// Dashboard aggregates the headline figures shown on an overview screen.
func (s *ReportService) Dashboard() (*DashboardReport, error) {
	key := "dashboard"
	if cached, ok := s.cache.Get(key); ok {
		if report, ok := cached.(*DashboardReport); ok {
			return report, nil
		}
	}

	balanceSheet, err := s.BalanceSheet(nil)
	if err != nil {
		return nil, err
	}
	profitLoss, err := s.ProfitAndLoss(nil, nil)
	if err != nil {
		return nil, err
	}
	cashFlow, err := s.CashFlow(nil, nil, false)
	if err != nil {
		return nil, err
	}

	report := &DashboardReport{
		TotalAssets:      balanceSheet.TotalAssets,
		TotalLiabilities: balanceSheet.TotalLiabilities,
		NetProfit:        profitLoss.NetProfit,
		CashPosition:     cashFlow.ClosingCash,
	}

	if err := s.db.Model(&Account{}).Where("status = ?", AccountStatusActive).Count(&report.ActiveAccounts).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&Voucher{}).Where("status = ?", VoucherStatusPosted).Count(&report.PostedVouchers).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&Voucher{}).Where("status = ?", VoucherStatusDraft).Count(&report.DraftVouchers).Error; err != nil {
		return nil, err
	}

	s.cache.Put(key, report)
	return report, nil
}

// reportCacheKey builds a stable cache key from the report kind and range.
func reportCacheKey(kind string, from, to *time.Time) string {
	return fmt.Sprintf("%s:%s:%s", kind, formatDatePtr(from), formatDatePtr(to))
}

// formatDatePtr renders an optional date at day granularity, empty when nil.
func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}
