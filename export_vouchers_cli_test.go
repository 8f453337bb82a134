package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupExportFixture seeds the standard report fixture plus one draft so
// status filtering has something to distinguish.
func setupExportFixture(t *testing.T) (*VoucherExporter, func()) {
	t.Helper()

	db, cleanup := setupTestDB(t)
	seedBaseChart(t, db)
	service := NewVoucherService(db, NewReportCache())
	seedLedgerFixture(t, service)

	logger := LoggerFromContext(context.Background())
	_, err := service.CreateDraft(getCreateVoucherParams("2026-02-05", "Pending supplies", []VoucherLineParams{
		debitLine("5000", 120),
		creditLine("2000", 120),
	}), logger)
	require.NoError(t, err)

	return NewVoucherExporter(db), cleanup
}

func exportRecords(t *testing.T, exporter *VoucherExporter, options ExportOptions) [][]string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, exporter.ExportToCSV(&buf, options))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	return records
}

func TestVoucherExporterExportToCSV(t *testing.T) {
	t.Run("full export", func(t *testing.T) {
		exporter, cleanup := setupExportFixture(t)
		t.Cleanup(cleanup)

		records := exportRecords(t, exporter, ExportOptions{})

		// Header plus one row per line: four posted vouchers and one draft,
		// two lines each
		require.Len(t, records, 11)
		assert.Equal(t, []string{"Number", "Date", "Status", "Narration", "Reference", "AccountCode", "AccountName", "Debit", "Credit"}, records[0])

		// Vouchers ordered by date then number, lines by position
		assert.Equal(t, []string{"V-000001", "2026-01-05", "posted", "Cash sale", "", "1000", "Cash", "1000", "0"}, records[1])
		assert.Equal(t, []string{"V-000001", "2026-01-05", "posted", "Cash sale", "", "4000", "Sales Revenue", "0", "1000"}, records[2])
		assert.Equal(t, "V-000002", records[3][0])
		assert.Equal(t, "V-000005", records[9][0])
		assert.Equal(t, "draft", records[9][2])
	})

	t.Run("status filter", func(t *testing.T) {
		exporter, cleanup := setupExportFixture(t)
		t.Cleanup(cleanup)

		records := exportRecords(t, exporter, ExportOptions{Status: "draft"})
		require.Len(t, records, 3)
		assert.Equal(t, "V-000005", records[1][0])
		assert.Equal(t, "Pending supplies", records[1][3])
	})

	t.Run("account code filter keeps whole vouchers", func(t *testing.T) {
		exporter, cleanup := setupExportFixture(t)
		t.Cleanup(cleanup)

		// Both supplies vouchers touch 2000, and each comes out with both of
		// its lines, not just the matching one
		records := exportRecords(t, exporter, ExportOptions{AccountCode: "2000"})
		require.Len(t, records, 5)
		assert.Equal(t, "V-000004", records[1][0])
		assert.Equal(t, "5000", records[1][5])
		assert.Equal(t, "2000", records[2][5])
		assert.Equal(t, "V-000005", records[3][0])
	})

	t.Run("date range filter", func(t *testing.T) {
		exporter, cleanup := setupExportFixture(t)
		t.Cleanup(cleanup)

		from := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
		to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
		records := exportRecords(t, exporter, ExportOptions{DateFrom: &from, DateTo: &to})

		require.Len(t, records, 5)
		assert.Equal(t, "V-000002", records[1][0])
		assert.Equal(t, "V-000003", records[3][0])
	})

	t.Run("empty result still writes header", func(t *testing.T) {
		exporter, cleanup := setupExportFixture(t)
		t.Cleanup(cleanup)

		records := exportRecords(t, exporter, ExportOptions{AccountCode: "9999"})
		require.Len(t, records, 1)
		assert.Equal(t, "Number", records[0][0])
	})
}

func TestVoucherExporterExportToFile(t *testing.T) {
	exporter, cleanup := setupExportFixture(t)
	t.Cleanup(cleanup)

	outputDir := filepath.Join(t.TempDir(), "exports")
	fileName, err := exporter.ExportToFile(ExportOptions{OutputDir: outputDir})
	require.NoError(t, err)

	assert.Equal(t, outputDir, filepath.Dir(fileName))
	assert.Contains(t, filepath.Base(fileName), "vouchers_")

	content, err := os.ReadFile(fileName)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(content)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 11)
}
