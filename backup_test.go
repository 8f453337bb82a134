package main

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestBackupService(t *testing.T) {
	logger := NewLoggerIPFS("root.test")

	t.Run("Snapshot_WritesFileAndCatalog", func(t *testing.T) {
		db := setupTestSqlite(t)
		seedBaseChart(t, db)
		vouchers := NewVoucherService(db, NewReportCache())
		postedVoucher(t, vouchers, "2026-01-15", 100)

		service := NewBackupService(db, t.TempDir(), 3, logger)
		backup, err := service.Snapshot(BackupTagManual)
		require.NoError(t, err)

		assert.Equal(t, BackupTagManual, backup.Tag)
		info, err := os.Stat(backup.Path)
		require.NoError(t, err)
		assert.Equal(t, info.Size(), backup.SizeBytes)
		assert.Greater(t, backup.SizeBytes, int64(0))

		var stats map[string]int64
		require.NoError(t, json.Unmarshal(backup.Stats, &stats))
		assert.Equal(t, int64(5), stats["accounts"])
		assert.Equal(t, int64(1), stats["vouchers"])
		assert.Equal(t, int64(2), stats["voucher_lines"])
		assert.Equal(t, int64(0), stats["integrity_scans"])

		backups, err := service.List(&ListOptions{})
		require.NoError(t, err)
		require.Len(t, backups, 1)
		assert.Equal(t, backup.ID, backups[0].ID)
	})

	t.Run("Snapshot_IsRestorable", func(t *testing.T) {
		db := setupTestSqlite(t)
		seedBaseChart(t, db)
		vouchers := NewVoucherService(db, NewReportCache())
		posted := postedVoucher(t, vouchers, "2026-01-15", 250)

		service := NewBackupService(db, t.TempDir(), 0, logger)
		backup, err := service.Snapshot(BackupTagManual)
		require.NoError(t, err)

		restored, err := gorm.Open(sqlite.Open(backup.Path), &gorm.Config{})
		require.NoError(t, err)

		var accounts, lines int64
		require.NoError(t, restored.Model(&Account{}).Count(&accounts).Error)
		require.NoError(t, restored.Model(&VoucherLine{}).Count(&lines).Error)
		assert.Equal(t, int64(5), accounts)
		assert.Equal(t, int64(2), lines)

		var voucher Voucher
		require.NoError(t, restored.Where("number = ?", posted.Number).First(&voucher).Error)
		assert.Equal(t, VoucherStatusPosted, voucher.Status)
	})

	t.Run("Snapshot_PrunesPerTagRetention", func(t *testing.T) {
		db := setupTestSqlite(t)
		seedBaseChart(t, db)

		service := NewBackupService(db, t.TempDir(), 2, logger)
		first, err := service.Snapshot(BackupTagManual)
		require.NoError(t, err)
		second, err := service.Snapshot(BackupTagManual)
		require.NoError(t, err)
		_, err = service.Snapshot(BackupTagStartup)
		require.NoError(t, err)
		third, err := service.Snapshot(BackupTagManual)
		require.NoError(t, err)

		var manual []Backup
		require.NoError(t, db.Where("tag = ?", BackupTagManual).Find(&manual).Error)
		require.Len(t, manual, 2)
		ids := []uint{manual[0].ID, manual[1].ID}
		assert.Contains(t, ids, second.ID)
		assert.Contains(t, ids, third.ID)

		// The oldest snapshot file is removed with its row
		_, statErr := os.Stat(first.Path)
		assert.True(t, os.IsNotExist(statErr))
		_, statErr = os.Stat(third.Path)
		assert.NoError(t, statErr)

		// Retention for one tag leaves other tags alone
		var startup int64
		require.NoError(t, db.Model(&Backup{}).Where("tag = ?", BackupTagStartup).Count(&startup).Error)
		assert.Equal(t, int64(1), startup)
	})

	t.Run("Snapshot_KeepZeroKeepsEverything", func(t *testing.T) {
		db := setupTestSqlite(t)
		seedBaseChart(t, db)

		service := NewBackupService(db, t.TempDir(), 0, logger)
		for i := 0; i < 4; i++ {
			_, err := service.Snapshot(BackupTagPost)
			require.NoError(t, err)
		}

		backups, err := service.List(&ListOptions{})
		require.NoError(t, err)
		assert.Len(t, backups, 4)
		for _, backup := range backups {
			_, err := os.Stat(backup.Path)
			assert.NoError(t, err)
		}
	})

	t.Run("List_NewestFirst", func(t *testing.T) {
		db := setupTestSqlite(t)
		seedBaseChart(t, db)

		service := NewBackupService(db, t.TempDir(), 0, logger)
		first, err := service.Snapshot(BackupTagManual)
		require.NoError(t, err)
		second, err := service.Snapshot(BackupTagStartup)
		require.NoError(t, err)

		backups, err := service.List(&ListOptions{})
		require.NoError(t, err)
		require.Len(t, backups, 2)
		assert.Equal(t, second.ID, backups[0].ID)
		assert.Equal(t, first.ID, backups[1].ID)
	})

	t.Run("Snapshot_ErrorUnsupportedDriver", func(t *testing.T) {
		if os.Getenv("TEST_DB_DRIVER") != "postgres" {
			t.Skip("requires the postgres test driver")
		}
		db, cleanup := setupTestDB(t)
		t.Cleanup(cleanup)

		service := NewBackupService(db, t.TempDir(), 3, logger)
		_, err := service.Snapshot(BackupTagManual)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database snapshots are only supported on sqlite")
	})
}
