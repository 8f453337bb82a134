package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ErrVoucherNotFound        = "voucher not found"
	ErrVoucherNotEditable     = "voucher is posted and can no longer be modified"
	ErrVoucherNotPosted       = "voucher is not posted"
	ErrInvalidLineAmounts     = "invalid line amounts"
	ErrInsufficientLines      = "voucher requires at least two lines"
	ErrUnbalancedVoucher      = "voucher debits and credits are not equal"
	ErrAlreadyReversed        = "voucher has already been reversed"
	ErrDuplicateVoucherNumber = "voucher number already exists"
)

// VoucherService handles the business logic for voucher operations.
type VoucherService struct {
	db    *gorm.DB
	cache *ReportCache
}

// NewVoucherService creates a new VoucherService.
func NewVoucherService(db *gorm.DB, cache *ReportCache) *VoucherService {
	return &VoucherService{db: db, cache: cache}
}

// VoucherWithTotals pairs a voucher with the sums of its line columns.
type VoucherWithTotals struct {
	Voucher     Voucher
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// CreateDraft creates a new draft voucher, optionally with initial lines.
func (s *VoucherService) CreateDraft(params *CreateVoucherParams, logger Logger) (*Voucher, error) {
	date, err := parseDate(params.Date)
	if err != nil {
		return nil, RPCErrorf("%s", err.Error())
	}

	var voucher Voucher
	err = s.db.Transaction(func(tx *gorm.DB) error {
		number := ""
		if params.Number != nil && *params.Number != "" {
			existing, err := getVoucherByNumber(tx, *params.Number)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				logger.Error("failed to check voucher number", "error", err)
				return RPCErrorf("failed to check voucher number")
			}
			if existing != nil {
				return RPCErrorf(ErrDuplicateVoucherNumber+": %s", *params.Number)
			}
			number = *params.Number
		} else {
			number, err = generateVoucherNumber(tx)
			if err != nil {
				logger.Error("failed to generate voucher number", "error", err)
				return RPCErrorf("failed to generate voucher number")
			}
		}

		voucher = Voucher{
			Number:    number,
			Date:      date,
			Narration: params.Narration,
			Reference: params.Reference,
			Status:    VoucherStatusDraft,
		}
		if err := tx.Create(&voucher).Error; err != nil {
			logger.Error("failed to create voucher", "error", err)
			return RPCErrorf("failed to create voucher")
		}

		for i, lineParams := range params.Lines {
			if _, err := appendVoucherLine(tx, &voucher, uint(i+1), lineParams.AccountCode, lineParams.Debit, lineParams.Credit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &voucher, nil
}

// AddLine appends a line to a draft voucher.
func (s *VoucherService) AddLine(params *AddVoucherLineParams, logger Logger) (*VoucherLine, error) {
	var line *VoucherLine
	err := s.db.Transaction(func(tx *gorm.DB) error {
		voucher, err := getEditableVoucher(tx, params.Number)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&VoucherLine{}).Where("voucher_id = ?", voucher.ID).Count(&count).Error; err != nil {
			logger.Error("failed to count voucher lines", "error", err)
			return RPCErrorf("failed to count voucher lines")
		}

		line, err = appendVoucherLine(tx, voucher, uint(count+1), params.AccountCode, params.Debit, params.Credit)
		return err
	})
	if err != nil {
		return nil, err
	}

	return line, nil
}

// RemoveLine deletes a line from a draft voucher.
func (s *VoucherService) RemoveLine(params *RemoveVoucherLineParams) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		voucher, err := getEditableVoucher(tx, params.Number)
		if err != nil {
			return err
		}

		res := tx.Where("id = ? AND voucher_id = ?", params.LineID, voucher.ID).Delete(&VoucherLine{})
		if res.Error != nil {
			return RPCErrorf("failed to remove voucher line")
		}
		if res.RowsAffected == 0 {
			return RPCErrorf("line %d not found on voucher %s", params.LineID, voucher.Number)
		}
		return nil
	})
}

// DeleteDraft removes a draft voucher together with its lines.
// Posted vouchers are permanent and can only be offset by a reversal.
func (s *VoucherService) DeleteDraft(number string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		voucher, err := getEditableVoucher(tx, number)
		if err != nil {
			return err
		}

		if err := tx.Where("voucher_id = ?", voucher.ID).Delete(&VoucherLine{}).Error; err != nil {
			return RPCErrorf("failed to delete voucher lines")
		}
		if err := tx.Delete(voucher).Error; err != nil {
			return RPCErrorf("failed to delete voucher")
		}
		return nil
	})
}

// PostVoucher validates a draft and atomically marks it posted.
// Every check runs again inside the transaction so a draft edited since the
// last read cannot slip an invalid voucher into the ledger.
func (s *VoucherService) PostVoucher(number string, logger Logger) (*Voucher, error) {
	var voucher *Voucher
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		voucher, err = getEditableVoucher(tx, number)
		if err != nil {
			return err
		}

		lines, err := getVoucherLines(tx, voucher.ID)
		if err != nil {
			logger.Error("failed to load voucher lines", "error", err)
			return RPCErrorf("failed to load voucher lines")
		}
		if len(lines) < 2 {
			return RPCErrorf(ErrInsufficientLines+": voucher %s has %d", voucher.Number, len(lines))
		}

		codes := make([]string, 0, len(lines))
		for _, line := range lines {
			codes = append(codes, line.AccountCode)
		}
		accounts, err := getAccountsByCodes(tx, codes)
		if err != nil {
			logger.Error("failed to load voucher accounts", "error", err)
			return RPCErrorf("failed to load voucher accounts")
		}

		for _, line := range lines {
			if err := validateLineAmounts(line.Debit, line.Credit); err != nil {
				return err
			}
			account, ok := accounts[line.AccountCode]
			if !ok {
				return RPCErrorf(ErrAccountNotFound+": %s", line.AccountCode)
			}
			if !account.IsActive() {
				return RPCErrorf(ErrAccountInactive+": %s", line.AccountCode)
			}
		}

		totalDebit, totalCredit := voucherTotals(lines)
		if !totalDebit.Equal(totalCredit) {
			return RPCErrorf(ErrUnbalancedVoucher+": debits %s, credits %s, difference %s",
				totalDebit.String(), totalCredit.String(), totalDebit.Sub(totalCredit).String())
		}

		now := time.Now()
		voucher.Status = VoucherStatusPosted
		voucher.PostedAt = &now
		if err := tx.Save(voucher).Error; err != nil {
			logger.Error("failed to save voucher", "error", err)
			return RPCErrorf("failed to post voucher %s", voucher.Number)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Flush()
	return voucher, nil
}

// ReverseVoucher creates and posts a new voucher that offsets a posted one
// line by line with debit and credit swapped. Both vouchers are linked, and a
// voucher can be reversed at most once.
func (s *VoucherService) ReverseVoucher(params *ReverseVoucherParams, logger Logger) (*Voucher, error) {
	var reversal Voucher
	err := s.db.Transaction(func(tx *gorm.DB) error {
		original, err := getVoucherByNumber(tx, params.Number)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return RPCErrorf(ErrVoucherNotFound+": %s", params.Number)
			}
			logger.Error("failed to find voucher", "error", err)
			return RPCErrorf("failed to find voucher")
		}
		if !original.IsPosted() {
			return RPCErrorf(ErrVoucherNotPosted+": %s", original.Number)
		}
		if original.ReversedBy != nil {
			return RPCErrorf(ErrAlreadyReversed+": %s reversed by %s", original.Number, *original.ReversedBy)
		}

		date := time.Now().UTC().Truncate(24 * time.Hour)
		if params.Date != nil {
			date, err = parseDate(*params.Date)
			if err != nil {
				return RPCErrorf("%s", err.Error())
			}
		}
		narration := fmt.Sprintf("Reversal of %s", original.Number)
		if params.Narration != nil && *params.Narration != "" {
			narration = *params.Narration
		}

		number, err := generateVoucherNumber(tx)
		if err != nil {
			logger.Error("failed to generate voucher number", "error", err)
			return RPCErrorf("failed to generate voucher number")
		}

		now := time.Now()
		reversal = Voucher{
			Number:     number,
			Date:       date,
			Narration:  narration,
			Reference:  original.Reference,
			Status:     VoucherStatusPosted,
			PostedAt:   &now,
			ReversalOf: &original.Number,
		}
		if err := tx.Create(&reversal).Error; err != nil {
			logger.Error("failed to create reversal voucher", "error", err)
			return RPCErrorf("failed to create reversal voucher")
		}

		lines, err := getVoucherLines(tx, original.ID)
		if err != nil {
			logger.Error("failed to load voucher lines", "error", err)
			return RPCErrorf("failed to load voucher lines")
		}
		for _, line := range lines {
			reversed := VoucherLine{
				VoucherID:   reversal.ID,
				Position:    line.Position,
				AccountCode: line.AccountCode,
				Debit:       line.Credit,
				Credit:      line.Debit,
			}
			if err := tx.Create(&reversed).Error; err != nil {
				logger.Error("failed to create reversal line", "error", err)
				return RPCErrorf("failed to create reversal line")
			}
		}

		if err := tx.Model(&Voucher{}).Where("id = ?", original.ID).
			Update("reversed_by", reversal.Number).Error; err != nil {
			logger.Error("failed to link reversed voucher", "error", err)
			return RPCErrorf("failed to link reversed voucher")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Flush()
	return &reversal, nil
}

// GetVoucher returns a voucher with its lines.
func (s *VoucherService) GetVoucher(number string) (*Voucher, []VoucherLine, error) {
	voucher, err := getVoucherByNumber(s.db, number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, RPCErrorf(ErrVoucherNotFound+": %s", number)
		}
		return nil, nil, RPCErrorf("failed to find voucher")
	}
	lines, err := getVoucherLines(s.db, voucher.ID)
	if err != nil {
		return nil, nil, RPCErrorf("failed to load voucher lines")
	}
	return voucher, lines, nil
}

// ListVouchers returns vouchers matching the filters together with their
// line totals, newest first unless the caller asks otherwise.
func (s *VoucherService) ListVouchers(params *GetVouchersParams) ([]VoucherWithTotals, error) {
	query := s.db.Model(&Voucher{})
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", *params.Status)
	}
	if params.AccountCode != nil && *params.AccountCode != "" {
		query = query.Where("id IN (?)",
			s.db.Model(&VoucherLine{}).Select("voucher_id").Where("account_code = ?", *params.AccountCode))
	}
	if params.Search != nil && *params.Search != "" {
		pattern := "%" + *params.Search + "%"
		query = query.Where("number LIKE ? OR narration LIKE ? OR reference LIKE ?", pattern, pattern, pattern)
	}
	query, err := applyDateRange(query, "voucher_date", params.DateFrom, params.DateTo)
	if err != nil {
		return nil, err
	}
	query = applyListOptions(query, "voucher_date", SortTypeDescending, &params.ListOptions)

	var vouchers []Voucher
	if err := query.Find(&vouchers).Error; err != nil {
		return nil, RPCErrorf("failed to list vouchers")
	}
	if len(vouchers) == 0 {
		return []VoucherWithTotals{}, nil
	}

	ids := make([]uint, 0, len(vouchers))
	for _, v := range vouchers {
		ids = append(ids, v.ID)
	}
	var lines []VoucherLine
	if err := s.db.Where("voucher_id IN ?", ids).Find(&lines).Error; err != nil {
		return nil, RPCErrorf("failed to load voucher totals")
	}

	debits := make(map[uint]decimal.Decimal, len(vouchers))
	credits := make(map[uint]decimal.Decimal, len(vouchers))
	for _, line := range lines {
		debits[line.VoucherID] = debits[line.VoucherID].Add(line.Debit)
		credits[line.VoucherID] = credits[line.VoucherID].Add(line.Credit)
	}

	result := make([]VoucherWithTotals, 0, len(vouchers))
	for _, v := range vouchers {
		result = append(result, VoucherWithTotals{
			Voucher:     v,
			TotalDebit:  debits[v.ID],
			TotalCredit: credits[v.ID],
		})
	}
	return result, nil
}

// getEditableVoucher loads a voucher and rejects anything already posted.
func getEditableVoucher(tx *gorm.DB, number string) (*Voucher, error) {
	voucher, err := getVoucherByNumber(tx, number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, RPCErrorf(ErrVoucherNotFound+": %s", number)
		}
		return nil, RPCErrorf("failed to find voucher")
	}
	if voucher.IsPosted() {
		return nil, RPCErrorf(ErrVoucherNotEditable+": %s", number)
	}
	return voucher, nil
}

// appendVoucherLine validates amounts and the target account, then stores the
// line at the given position. Callers must run it inside a transaction.
func appendVoucherLine(tx *gorm.DB, voucher *Voucher, position uint, accountCode string, debit, credit decimal.Decimal) (*VoucherLine, error) {
	if err := validateLineAmounts(debit, credit); err != nil {
		return nil, err
	}

	account, err := getAccountByCode(tx, accountCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, RPCErrorf(ErrAccountNotFound+": %s", accountCode)
		}
		return nil, RPCErrorf("failed to find account %s", accountCode)
	}
	if !account.IsActive() {
		return nil, RPCErrorf(ErrAccountInactive+": %s", accountCode)
	}

	line := VoucherLine{
		VoucherID:   voucher.ID,
		Position:    position,
		AccountCode: account.Code,
		Debit:       debit,
		Credit:      credit,
	}
	if err := tx.Create(&line).Error; err != nil {
		return nil, RPCErrorf("failed to create voucher line")
	}
	return &line, nil
}

// validateLineAmounts enforces the line shape: exactly one positive side,
// nothing negative, at most two decimal places.
func validateLineAmounts(debit, credit decimal.Decimal) error {
	if debit.IsNegative() || credit.IsNegative() {
		return RPCErrorf(ErrInvalidLineAmounts + ": amounts must not be negative")
	}
	if debit.IsZero() == credit.IsZero() {
		return RPCErrorf(ErrInvalidLineAmounts + ": exactly one of debit or credit must be positive")
	}
	if !debit.Equal(debit.Round(2)) || !credit.Equal(credit.Round(2)) {
		return RPCErrorf(ErrInvalidLineAmounts + ": amounts are limited to two decimal places")
	}
	return nil
}
