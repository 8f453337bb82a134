package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VoucherStatus represents the posting state of a voucher (draft or posted)
type VoucherStatus string

var (
	VoucherStatusDraft  VoucherStatus = "draft"
	VoucherStatusPosted VoucherStatus = "posted"
)

const (
	voucherNumberFormat = "V-%06d"
	dateLayout          = "2006-01-02"
)

// Voucher represents a double-entry transaction document.
// Draft is the only editable state; Posted is terminal and the voucher
// and its lines are frozen, with reversal as the only corrective path.
type Voucher struct {
	ID        uint          `gorm:"primaryKey"`
	Number    string        `gorm:"column:number;type:varchar(32);not null;uniqueIndex"`
	Date      time.Time     `gorm:"column:voucher_date;type:date;not null;index"`
	Narration string        `gorm:"column:narration;type:text"`
	Reference string        `gorm:"column:reference;type:varchar(255)"`
	Status    VoucherStatus `gorm:"column:status;not null;index"`
	PostedAt  *time.Time    `gorm:"column:posted_at"`
	// ReversalOf is set on a reversing voucher and names the voucher it
	// offsets; ReversedBy is the back-link set on the original.
	ReversalOf *string `gorm:"column:reversal_of;type:varchar(32)"`
	ReversedBy *string `gorm:"column:reversed_by;type:varchar(32)"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName specifies the table name for the Voucher model
func (Voucher) TableName() string {
	return "vouchers"
}

// IsPosted reports whether the voucher has left the editable draft state.
func (v *Voucher) IsPosted() bool {
	return v.Status == VoucherStatusPosted
}

// VoucherLine represents one debit-or-credit entry within a voucher.
// Amount columns are varchar under AutoMigrate so sqlite stores the exact
// decimal text; the postgres migrations declare them numeric(20,2).
type VoucherLine struct {
	ID          uint            `gorm:"primaryKey"`
	VoucherID   uint            `gorm:"column:voucher_id;not null;index:idx_voucher_lines_voucher"`
	Position    uint            `gorm:"column:position;not null"`
	AccountCode string          `gorm:"column:account_code;type:varchar(32);not null;index:idx_voucher_lines_account"`
	Debit       decimal.Decimal `gorm:"column:debit;type:varchar(32);not null"`
	Credit      decimal.Decimal `gorm:"column:credit;type:varchar(32);not null"`
	CreatedAt   time.Time
}

// TableName specifies the table name for the VoucherLine model
func (VoucherLine) TableName() string {
	return "voucher_lines"
}

// getVoucherByNumber retrieves a voucher by its public number
func getVoucherByNumber(tx *gorm.DB, number string) (*Voucher, error) {
	var voucher Voucher
	if err := tx.Where("number = ?", number).First(&voucher).Error; err != nil {
		return nil, err
	}

	return &voucher, nil
}

// getVoucherLines returns the voucher's lines in insertion order
func getVoucherLines(tx *gorm.DB, voucherID uint) ([]VoucherLine, error) {
	var lines []VoucherLine
	if err := tx.Where("voucher_id = ?", voucherID).
		Order("position ASC, id ASC").
		Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("failed to load voucher lines: %w", err)
	}
	return lines, nil
}

// voucherTotals sums the debit and credit columns of a line set.
func voucherTotals(lines []VoucherLine) (decimal.Decimal, decimal.Decimal) {
	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for _, line := range lines {
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	return totalDebit, totalCredit
}

// generateVoucherNumber assigns the next sequential voucher number,
// retrying past numbers already taken by caller-assigned vouchers.
func generateVoucherNumber(tx *gorm.DB) (string, error) {
	var count int64
	if err := tx.Model(&Voucher{}).Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to count vouchers: %w", err)
	}

	for i := int64(1); i <= 10; i++ {
		candidate := fmt.Sprintf(voucherNumberFormat, count+i)

		var existing int64
		if err := tx.Model(&Voucher{}).Where("number = ?", candidate).Count(&existing).Error; err != nil {
			return "", fmt.Errorf("failed to check voucher number: %w", err)
		}
		if existing == 0 {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("failed to generate a unique voucher number after multiple attempts")
}

// parseDate parses a YYYY-MM-DD date string at day granularity.
func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}
