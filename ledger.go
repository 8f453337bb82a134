package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ErrGetAccountBalance = "failed to get account balance"
	ErrListLedgerLines   = "failed to list ledger lines"
)

// LedgerMovement is one posted line seen from a single account, carrying the
// running balance after the line is applied.
type LedgerMovement struct {
	LineID        uint            `json:"line_id"`
	VoucherNumber string          `json:"voucher_number"`
	Date          time.Time       `json:"date"`
	Narration     string          `json:"narration"`
	Reference     string          `json:"reference,omitempty"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Balance       decimal.Decimal `json:"balance"`
}

// LedgerView is the full statement of one account over a date range.
type LedgerView struct {
	Account     Account          `json:"-"`
	From        *time.Time       `json:"-"`
	To          *time.Time       `json:"-"`
	Opening     decimal.Decimal  `json:"opening_balance"`
	Movements   []LedgerMovement `json:"movements"`
	TotalDebit  decimal.Decimal  `json:"total_debit"`
	TotalCredit decimal.Decimal  `json:"total_credit"`
	Closing     decimal.Decimal  `json:"closing_balance"`
}

// AccountLedger aggregates posted voucher lines for a single account.
// Draft lines never reach any of its queries.
type AccountLedger struct {
	account Account
	db      *gorm.DB
}

func GetAccountLedger(db *gorm.DB, account Account) *AccountLedger {
	return &AccountLedger{account: account, db: db}
}

// postedLines builds the base query joining lines to their posted vouchers.
// An empty accountCode selects lines of every account.
func postedLines(db *gorm.DB, accountCode string, from, to *time.Time) *gorm.DB {
	q := db.Table("voucher_lines").
		Joins("JOIN vouchers ON vouchers.id = voucher_lines.voucher_id").
		Where("vouchers.status = ?", VoucherStatusPosted)
	if accountCode != "" {
		q = q.Where("voucher_lines.account_code = ?", accountCode)
	}
	if from != nil {
		q = q.Where("vouchers.voucher_date >= ?", *from)
	}
	if to != nil {
		q = q.Where("vouchers.voucher_date <= ?", *to)
	}
	return q
}

// Balance returns the account's closing balance on its normal side over all
// posted lines dated up to asOf (or over the whole history when asOf is nil).
// Asset and Expense accounts grow with debits, Liability and Income accounts
// grow with credits.
func (l *AccountLedger) Balance(asOf *time.Time) (decimal.Decimal, error) {
	raw := decimal.Zero

	switch l.db.Dialector.Name() {
	case "postgres":
		var result struct {
			Balance decimal.Decimal
		}
		err := postedLines(l.db, l.account.Code, nil, asOf).
			Select("COALESCE(SUM(voucher_lines.debit), 0) - COALESCE(SUM(voucher_lines.credit), 0) AS balance").
			Scan(&result).Error
		if err != nil {
			return decimal.Zero, err
		}
		raw = result.Balance

	case "sqlite":
		// Fetch the rows and sum in Go: SQLite would coerce the varchar
		// amount columns to floating point inside SUM.
		var lines []VoucherLine
		err := postedLines(l.db, l.account.Code, nil, asOf).
			Select("voucher_lines.*").
			Find(&lines).Error
		if err != nil {
			return decimal.Zero, err
		}
		for _, line := range lines {
			raw = raw.Add(line.Debit).Sub(line.Credit)
		}

	default:
		return decimal.Zero, fmt.Errorf("unsupported database driver: %s", l.db.Dialector.Name())
	}

	if l.account.Type.DebitIncreasing() {
		return raw, nil
	}
	return raw.Neg(), nil
}

// View returns the account statement for the date range: opening balance,
// movements in posting order with a running balance, and closing totals.
// The ordering (date, voucher number, line id) is total, so identical posted
// data always renders the identical statement.
func (l *AccountLedger) View(from, to *time.Time) (*LedgerView, error) {
	opening := decimal.Zero
	if from != nil {
		dayBefore := from.AddDate(0, 0, -1)
		var err error
		opening, err = l.Balance(&dayBefore)
		if err != nil {
			return nil, err
		}
	}

	type ledgerRow struct {
		LineID    uint            `gorm:"column:line_id"`
		Number    string          `gorm:"column:number"`
		Date      time.Time       `gorm:"column:voucher_date"`
		Narration string          `gorm:"column:narration"`
		Reference string          `gorm:"column:reference"`
		Debit     decimal.Decimal `gorm:"column:debit"`
		Credit    decimal.Decimal `gorm:"column:credit"`
	}
	var rows []ledgerRow
	err := postedLines(l.db, l.account.Code, from, to).
		Select("voucher_lines.id AS line_id, vouchers.number, vouchers.voucher_date, vouchers.narration, vouchers.reference, voucher_lines.debit, voucher_lines.credit").
		Order("vouchers.voucher_date ASC, vouchers.number ASC, voucher_lines.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf(ErrListLedgerLines+": %w", err)
	}

	view := &LedgerView{
		Account:   l.account,
		From:      from,
		To:        to,
		Opening:   opening,
		Movements: make([]LedgerMovement, 0, len(rows)),
	}

	balance := opening
	for _, row := range rows {
		delta := row.Debit.Sub(row.Credit)
		if !l.account.Type.DebitIncreasing() {
			delta = delta.Neg()
		}
		balance = balance.Add(delta)

		view.Movements = append(view.Movements, LedgerMovement{
			LineID:        row.LineID,
			VoucherNumber: row.Number,
			Date:          row.Date,
			Narration:     row.Narration,
			Reference:     row.Reference,
			Debit:         row.Debit,
			Credit:        row.Credit,
			Balance:       balance,
		})
		view.TotalDebit = view.TotalDebit.Add(row.Debit)
		view.TotalCredit = view.TotalCredit.Add(row.Credit)
	}
	view.Closing = balance

	return view, nil
}

// accountTotals holds the raw posted debit and credit sums of one account.
type accountTotals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// postedTotalsByAccount sums posted debits and credits per account over the
// date range in one pass. Accounts without posted lines in range are absent
// from the map.
func postedTotalsByAccount(db *gorm.DB, from, to *time.Time) (map[string]accountTotals, error) {
	totals := make(map[string]accountTotals)

	switch db.Dialector.Name() {
	case "postgres":
		type row struct {
			AccountCode string          `gorm:"column:account_code"`
			Debit       decimal.Decimal `gorm:"column:debit"`
			Credit      decimal.Decimal `gorm:"column:credit"`
		}
		var rows []row
		err := postedLines(db, "", from, to).
			Select("voucher_lines.account_code AS account_code, COALESCE(SUM(voucher_lines.debit), 0) AS debit, COALESCE(SUM(voucher_lines.credit), 0) AS credit").
			Group("voucher_lines.account_code").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			totals[r.AccountCode] = accountTotals{Debit: r.Debit, Credit: r.Credit}
		}

	case "sqlite":
		var lines []VoucherLine
		err := postedLines(db, "", from, to).
			Select("voucher_lines.*").
			Find(&lines).Error
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			t := totals[line.AccountCode]
			t.Debit = t.Debit.Add(line.Debit)
			t.Credit = t.Credit.Add(line.Credit)
			totals[line.AccountCode] = t
		}

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", db.Dialector.Name())
	}

	return totals, nil
}
