package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"
)

// ExportOptions contains options for exporting vouchers
type ExportOptions struct {
	Status      string
	AccountCode string
	DateFrom    *time.Time
	DateTo      *time.Time
	OutputDir   string
}

// VoucherExporter handles exporting voucher lines to CSV
type VoucherExporter struct {
	db *gorm.DB
}

// NewVoucherExporter creates a new voucher exporter
func NewVoucherExporter(db *gorm.DB) *VoucherExporter {
	return &VoucherExporter{
		db: db,
	}
}

// ExportToCSV writes one CSV row per voucher line, vouchers ordered by date
// and number, lines by position
func (e *VoucherExporter) ExportToCSV(writer io.Writer, options ExportOptions) error {
	query := e.db.Model(&Voucher{})
	if options.Status != "" {
		query = query.Where("status = ?", options.Status)
	}
	if options.AccountCode != "" {
		query = query.Where("id IN (?)",
			e.db.Model(&VoucherLine{}).Select("voucher_id").Where("account_code = ?", options.AccountCode))
	}
	if options.DateFrom != nil {
		query = query.Where("voucher_date >= ?", *options.DateFrom)
	}
	if options.DateTo != nil {
		query = query.Where("voucher_date <= ?", *options.DateTo)
	}

	var vouchers []Voucher
	if err := query.Order("voucher_date ASC, number ASC").Find(&vouchers).Error; err != nil {
		return fmt.Errorf("failed to get vouchers: %w", err)
	}

	var accounts []Account
	if err := e.db.Find(&accounts).Error; err != nil {
		return fmt.Errorf("failed to get accounts: %w", err)
	}
	accountNames := make(map[string]string, len(accounts))
	for _, account := range accounts {
		accountNames[account.Code] = account.Name
	}

	linesByVoucher := make(map[uint][]VoucherLine, len(vouchers))
	if len(vouchers) > 0 {
		ids := make([]uint, 0, len(vouchers))
		for _, voucher := range vouchers {
			ids = append(ids, voucher.ID)
		}
		var lines []VoucherLine
		if err := e.db.Where("voucher_id IN ?", ids).Order("position ASC").Find(&lines).Error; err != nil {
			return fmt.Errorf("failed to get voucher lines: %w", err)
		}
		for _, line := range lines {
			linesByVoucher[line.VoucherID] = append(linesByVoucher[line.VoucherID], line)
		}
	}

	csvWriter := csv.NewWriter(writer)
	defer csvWriter.Flush()

	// Write header
	header := []string{"Number", "Date", "Status", "Narration", "Reference", "AccountCode", "AccountName", "Debit", "Credit"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}

	// Write voucher lines
	for _, voucher := range vouchers {
		for _, line := range linesByVoucher[voucher.ID] {
			row := []string{
				voucher.Number,
				voucher.Date.Format(dateLayout),
				string(voucher.Status),
				voucher.Narration,
				voucher.Reference,
				line.AccountCode,
				accountNames[line.AccountCode],
				line.Debit.String(),
				line.Credit.String(),
			}
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write row to CSV: %w", err)
			}
		}
	}
	return nil
}

// ExportToFile exports vouchers to a CSV file
func (e *VoucherExporter) ExportToFile(options ExportOptions) (string, error) {
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", options.OutputDir, err)
	}

	fileName := filepath.Join(options.OutputDir, fmt.Sprintf("vouchers_%s.csv", time.Now().Format("20060102-150405")))
	file, err := os.Create(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file %s: %w", fileName, err)
	}
	defer file.Close()

	if err := e.ExportToCSV(file, options); err != nil {
		return "", fmt.Errorf("failed to export to CSV: %w", err)
	}

	return fileName, nil
}

func runExportVouchersCli(logger Logger) {
	logger = logger.NewSystem("export-vouchers")
	if len(os.Args) > 6 {
		logger.Fatal("Usage: ledgerd export-vouchers [status] [accountCode] [dateFrom] [dateTo]")
	}

	var status, accountCode string
	var dateFrom, dateTo *time.Time

	// Optional status parameter
	if len(os.Args) > 2 {
		status = os.Args[2]
		if status != string(VoucherStatusDraft) && status != string(VoucherStatusPosted) {
			logger.Fatal("Invalid voucher status", "status", status)
		}
	}

	// Optional account code parameter
	if len(os.Args) > 3 {
		accountCode = os.Args[3]
	}

	// Optional date range parameters
	if len(os.Args) > 4 {
		parsed, err := parseDate(os.Args[4])
		if err != nil {
			logger.Fatal("Invalid from date", "value", os.Args[4], "error", err)
		}
		dateFrom = &parsed
	}
	if len(os.Args) > 5 {
		parsed, err := parseDate(os.Args[5])
		if err != nil {
			logger.Fatal("Invalid to date", "value", os.Args[5], "error", err)
		}
		dateTo = &parsed
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	exporter := NewVoucherExporter(db)
	options := ExportOptions{
		Status:      status,
		AccountCode: accountCode,
		DateFrom:    dateFrom,
		DateTo:      dateTo,
		OutputDir:   "csv_export",
	}

	fileName, err := exporter.ExportToFile(options)
	if err != nil {
		logger.Fatal("Failed to export vouchers", "error", err)
	}
	logger.Info("Successfully exported vouchers", "file", fileName)
}
