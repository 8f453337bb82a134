package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FindingSeverity string
type FindingCode string

const (
	SeverityCritical FindingSeverity = "critical"
	SeverityWarning  FindingSeverity = "warning"
)

const (
	FindingUnbalancedPostedVoucher FindingCode = "unbalanced_posted_voucher"
	FindingInvalidLineAmounts      FindingCode = "invalid_line_amounts"
	FindingOrphanedLine            FindingCode = "orphaned_line"
	FindingUnknownAccount          FindingCode = "unknown_account"
	FindingDuplicateAccountCode    FindingCode = "duplicate_account_code"
	FindingDanglingReversalRef     FindingCode = "dangling_reversal_ref"
	FindingMissingPostedTimestamp  FindingCode = "missing_posted_timestamp"
	FindingEmptyChart              FindingCode = "empty_chart"
)

// Finding describes one integrity violation discovered by a scan.
type Finding struct {
	Code     FindingCode     `json:"code"`
	Severity FindingSeverity `json:"severity"`
	Subject  string          `json:"subject"`
	Detail   string          `json:"detail"`
}

// IntegrityScan is the persisted record of one full ledger scan.
type IntegrityScan struct {
	ID              uint           `gorm:"primaryKey"`
	VouchersChecked int64          `gorm:"column:vouchers_checked;not null"`
	LinesChecked    int64          `gorm:"column:lines_checked;not null"`
	AccountsChecked int64          `gorm:"column:accounts_checked;not null"`
	CriticalCount   int            `gorm:"column:critical_count;not null"`
	WarningCount    int            `gorm:"column:warning_count;not null"`
	Codes           pq.StringArray `gorm:"type:text[];column:codes"`
	Findings        datatypes.JSON `gorm:"column:findings;type:text"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
}

func (IntegrityScan) TableName() string {
	return "integrity_scans"
}

// HasCritical reports whether the scan found violations that corrupt the
// books rather than merely smell.
func (s *IntegrityScan) HasCritical() bool {
	return s.CriticalCount > 0
}

// IntegrityChecker cross-checks the stored ledger against the invariants
// the write path enforces. A clean database yields an empty finding list;
// anything else means the data was modified outside the API or a bug slipped
// through, and nothing here ever mutates the books to hide it.
type IntegrityChecker struct {
	db *gorm.DB
	lg Logger
}

// NewIntegrityChecker creates a new IntegrityChecker.
func NewIntegrityChecker(db *gorm.DB, lg Logger) *IntegrityChecker {
	return &IntegrityChecker{db: db, lg: lg.NewSystem("integrity-checker")}
}

// Scan runs every check, persists a scan record and returns it together
// with the findings.
func (c *IntegrityChecker) Scan(ctx context.Context) (*IntegrityScan, []Finding, error) {
	db := c.db.WithContext(ctx)
	findings := []Finding{}

	scan := &IntegrityScan{}
	if err := db.Model(&Voucher{}).Count(&scan.VouchersChecked).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to count vouchers: %w", err)
	}
	if err := db.Model(&VoucherLine{}).Count(&scan.LinesChecked).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to count voucher lines: %w", err)
	}
	if err := db.Model(&Account{}).Count(&scan.AccountsChecked).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to count accounts: %w", err)
	}

	checks := []func(*gorm.DB) ([]Finding, error){
		c.checkPostedVouchers,
		c.checkOrphanedLines,
		c.checkUnknownAccounts,
		c.checkDuplicateAccountCodes,
		c.checkReversalLinks,
		c.checkChartSeeded,
	}
	for _, check := range checks {
		found, err := check(db)
		if err != nil {
			return nil, nil, err
		}
		findings = append(findings, found...)
	}

	codes := make(map[FindingCode]struct{})
	for _, f := range findings {
		codes[f.Code] = struct{}{}
		if f.Severity == SeverityCritical {
			scan.CriticalCount++
		} else {
			scan.WarningCount++
		}
	}
	for code := range codes {
		scan.Codes = append(scan.Codes, string(code))
	}

	payload, err := json.Marshal(findings)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal findings: %w", err)
	}
	scan.Findings = payload

	if err := db.Create(scan).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to store integrity scan: %w", err)
	}

	c.lg.Info("integrity scan finished",
		"vouchers", scan.VouchersChecked,
		"lines", scan.LinesChecked,
		"accounts", scan.AccountsChecked,
		"critical", scan.CriticalCount,
		"warnings", scan.WarningCount)
	return scan, findings, nil
}

// History returns past scan records, newest first.
func (c *IntegrityChecker) History(options *ListOptions) ([]IntegrityScan, error) {
	query := applyListOptions(c.db.Model(&IntegrityScan{}), "created_at", SortTypeDescending, options)

	var scans []IntegrityScan
	if err := query.Find(&scans).Error; err != nil {
		return nil, RPCErrorf("failed to list integrity scans")
	}
	return scans, nil
}

// checkPostedVouchers verifies that every posted voucher balances exactly,
// has at least two well-formed lines and carries a posting timestamp.
// Sums run in Go so the result is exact on every driver.
func (c *IntegrityChecker) checkPostedVouchers(db *gorm.DB) ([]Finding, error) {
	var vouchers []Voucher
	if err := db.Where("status = ?", VoucherStatusPosted).Find(&vouchers).Error; err != nil {
		return nil, fmt.Errorf("failed to load posted vouchers: %w", err)
	}
	if len(vouchers) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(vouchers))
	for _, v := range vouchers {
		ids = append(ids, v.ID)
	}
	var lines []VoucherLine
	if err := db.Where("voucher_id IN ?", ids).Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("failed to load posted lines: %w", err)
	}
	linesByVoucher := make(map[uint][]VoucherLine, len(vouchers))
	for _, line := range lines {
		linesByVoucher[line.VoucherID] = append(linesByVoucher[line.VoucherID], line)
	}

	var findings []Finding
	for _, voucher := range vouchers {
		voucherLines := linesByVoucher[voucher.ID]

		if len(voucherLines) < 2 {
			findings = append(findings, Finding{
				Code:     FindingUnbalancedPostedVoucher,
				Severity: SeverityCritical,
				Subject:  voucher.Number,
				Detail:   fmt.Sprintf("posted voucher has %d lines", len(voucherLines)),
			})
			continue
		}

		for _, line := range voucherLines {
			if err := validateLineAmounts(line.Debit, line.Credit); err != nil {
				findings = append(findings, Finding{
					Code:     FindingInvalidLineAmounts,
					Severity: SeverityCritical,
					Subject:  voucher.Number,
					Detail:   fmt.Sprintf("line %d: debit %s, credit %s", line.ID, line.Debit.String(), line.Credit.String()),
				})
			}
		}

		totalDebit, totalCredit := voucherTotals(voucherLines)
		if !totalDebit.Equal(totalCredit) {
			findings = append(findings, Finding{
				Code:     FindingUnbalancedPostedVoucher,
				Severity: SeverityCritical,
				Subject:  voucher.Number,
				Detail:   fmt.Sprintf("debits %s, credits %s", totalDebit.String(), totalCredit.String()),
			})
		}

		if voucher.PostedAt == nil {
			findings = append(findings, Finding{
				Code:     FindingMissingPostedTimestamp,
				Severity: SeverityWarning,
				Subject:  voucher.Number,
				Detail:   "posted voucher has no posting timestamp",
			})
		}
	}
	return findings, nil
}

// checkOrphanedLines finds lines whose parent voucher row is gone.
func (c *IntegrityChecker) checkOrphanedLines(db *gorm.DB) ([]Finding, error) {
	var orphans []VoucherLine
	err := db.Table("voucher_lines").
		Joins("LEFT JOIN vouchers ON vouchers.id = voucher_lines.voucher_id").
		Where("vouchers.id IS NULL").
		Select("voucher_lines.*").
		Find(&orphans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check orphaned lines: %w", err)
	}

	var findings []Finding
	for _, line := range orphans {
		findings = append(findings, Finding{
			Code:     FindingOrphanedLine,
			Severity: SeverityCritical,
			Subject:  fmt.Sprintf("line %d", line.ID),
			Detail:   fmt.Sprintf("references missing voucher %d", line.VoucherID),
		})
	}
	return findings, nil
}

// checkUnknownAccounts finds lines that reference a code absent from the
// chart. Deactivation keeps account rows around precisely so this cannot
// happen through the API.
func (c *IntegrityChecker) checkUnknownAccounts(db *gorm.DB) ([]Finding, error) {
	var codes []string
	err := db.Table("voucher_lines").
		Joins("LEFT JOIN accounts ON accounts.code = voucher_lines.account_code").
		Where("accounts.id IS NULL").
		Distinct().
		Pluck("voucher_lines.account_code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check account references: %w", err)
	}

	var findings []Finding
	for _, code := range codes {
		findings = append(findings, Finding{
			Code:     FindingUnknownAccount,
			Severity: SeverityCritical,
			Subject:  code,
			Detail:   "voucher lines reference an account that is not in the chart",
		})
	}
	return findings, nil
}

// checkDuplicateAccountCodes guards the code uniqueness the schema already
// enforces, in case rows were loaded past the index.
func (c *IntegrityChecker) checkDuplicateAccountCodes(db *gorm.DB) ([]Finding, error) {
	var codes []string
	err := db.Model(&Account{}).
		Select("code").
		Group("code").
		Having("COUNT(*) > 1").
		Pluck("code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate account codes: %w", err)
	}

	var findings []Finding
	for _, code := range codes {
		findings = append(findings, Finding{
			Code:     FindingDuplicateAccountCode,
			Severity: SeverityCritical,
			Subject:  code,
			Detail:   "account code appears more than once",
		})
	}
	return findings, nil
}

// checkReversalLinks verifies reversal pairs point at each other.
func (c *IntegrityChecker) checkReversalLinks(db *gorm.DB) ([]Finding, error) {
	var linked []Voucher
	if err := db.Where("reversal_of IS NOT NULL OR reversed_by IS NOT NULL").Find(&linked).Error; err != nil {
		return nil, fmt.Errorf("failed to load reversal links: %w", err)
	}
	if len(linked) == 0 {
		return nil, nil
	}

	byNumber := make(map[string]Voucher, len(linked))
	numbers := make([]string, 0, len(linked)*2)
	for _, v := range linked {
		byNumber[v.Number] = v
		if v.ReversalOf != nil {
			numbers = append(numbers, *v.ReversalOf)
		}
		if v.ReversedBy != nil {
			numbers = append(numbers, *v.ReversedBy)
		}
	}
	referenced, err := getVouchersByNumbers(db, numbers)
	if err != nil {
		return nil, fmt.Errorf("failed to load referenced vouchers: %w", err)
	}

	var findings []Finding
	for _, v := range linked {
		if v.ReversalOf != nil {
			original, ok := referenced[*v.ReversalOf]
			switch {
			case !ok:
				findings = append(findings, Finding{
					Code:     FindingDanglingReversalRef,
					Severity: SeverityWarning,
					Subject:  v.Number,
					Detail:   fmt.Sprintf("reverses missing voucher %s", *v.ReversalOf),
				})
			case original.ReversedBy == nil || *original.ReversedBy != v.Number:
				findings = append(findings, Finding{
					Code:     FindingDanglingReversalRef,
					Severity: SeverityWarning,
					Subject:  v.Number,
					Detail:   fmt.Sprintf("voucher %s does not link back to its reversal", original.Number),
				})
			}
		}
		if v.ReversedBy != nil {
			if _, ok := referenced[*v.ReversedBy]; !ok {
				findings = append(findings, Finding{
					Code:     FindingDanglingReversalRef,
					Severity: SeverityWarning,
					Subject:  v.Number,
					Detail:   fmt.Sprintf("reversed by missing voucher %s", *v.ReversedBy),
				})
			}
		}
	}
	return findings, nil
}

// checkChartSeeded warns when the chart is still empty.
func (c *IntegrityChecker) checkChartSeeded(db *gorm.DB) ([]Finding, error) {
	count, err := countAccounts(db)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}
	return []Finding{{
		Code:     FindingEmptyChart,
		Severity: SeverityWarning,
		Subject:  "accounts",
		Detail:   "chart of accounts is empty",
	}}, nil
}

// getVouchersByNumbers loads vouchers keyed by number.
func getVouchersByNumbers(tx *gorm.DB, numbers []string) (map[string]Voucher, error) {
	if len(numbers) == 0 {
		return map[string]Voucher{}, nil
	}
	var vouchers []Voucher
	if err := tx.Where("number IN ?", numbers).Find(&vouchers).Error; err != nil {
		return nil, err
	}
	result := make(map[string]Voucher, len(vouchers))
	for _, v := range vouchers {
		result[v.Number] = v
	}
	return result, nil
}
