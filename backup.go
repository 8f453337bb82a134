package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BackupTag records what triggered a snapshot.
type BackupTag string

var (
	BackupTagStartup BackupTag = "startup"
	BackupTagManual  BackupTag = "manual"
	BackupTagPost    BackupTag = "post"
)

// Backup is the catalog row for one snapshot file on disk.
type Backup struct {
	ID        uint           `gorm:"primaryKey"`
	Tag       BackupTag      `gorm:"column:tag;not null;index"`
	Path      string         `gorm:"column:path;type:varchar(512);not null"`
	SizeBytes int64          `gorm:"column:size_bytes;not null"`
	Stats     datatypes.JSON `gorm:"column:stats;type:text"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (Backup) TableName() string {
	return "backups"
}

// BackupService snapshots the sqlite database into a backup directory and
// keeps a bounded catalog of past snapshots per tag.
type BackupService struct {
	db   *gorm.DB
	dir  string
	keep int
	lg   Logger
}

// NewBackupService creates a new BackupService. keep limits how many
// snapshots are retained per tag; zero or negative keeps everything.
func NewBackupService(db *gorm.DB, dir string, keep int, lg Logger) *BackupService {
	return &BackupService{db: db, dir: dir, keep: keep, lg: lg.NewSystem("backup")}
}

// Snapshot writes a consistent copy of the database, catalogs it and prunes
// snapshots beyond the retention limit for the tag. Only the sqlite driver
// is supported; postgres deployments are expected to use pg_dump or
// infrastructure-level backups.
func (s *BackupService) Snapshot(tag BackupTag) (*Backup, error) {
	if s.db.Dialector.Name() != "sqlite" {
		return nil, errors.New("database snapshots are only supported on sqlite")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create backup directory")
	}

	fileName := fmt.Sprintf("ledgerd-%s-%s-%s.db", tag, time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(s.dir, fileName)

	// VACUUM INTO takes no bind parameters, so the path is escaped inline.
	escapedPath := strings.ReplaceAll(path, "'", "''")
	if err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escapedPath)).Error; err != nil {
		return nil, errors.Wrap(err, "failed to snapshot database")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat backup file")
	}

	stats, err := s.collectStats()
	if err != nil {
		return nil, err
	}

	backup := &Backup{
		Tag:       tag,
		Path:      path,
		SizeBytes: info.Size(),
		Stats:     stats,
	}
	if err := s.db.Create(backup).Error; err != nil {
		return nil, errors.Wrap(err, "failed to catalog backup")
	}

	if err := s.prune(tag); err != nil {
		return nil, err
	}

	s.lg.Info("database snapshot written", "tag", tag, "path", path, "sizeBytes", backup.SizeBytes)
	return backup, nil
}

// List returns catalog rows, newest first.
func (s *BackupService) List(options *ListOptions) ([]Backup, error) {
	query := applyListOptions(s.db.Model(&Backup{}), "created_at", SortTypeDescending, options)

	var backups []Backup
	if err := query.Find(&backups).Error; err != nil {
		return nil, RPCErrorf("failed to list backups")
	}
	return backups, nil
}

// collectStats counts the rows each snapshot carries, for the catalog.
func (s *BackupService) collectStats() (datatypes.JSON, error) {
	counts := make(map[string]int64, 4)
	for name, model := range map[string]any{
		"accounts":        &Account{},
		"vouchers":        &Voucher{},
		"voucher_lines":   &VoucherLine{},
		"integrity_scans": &IntegrityScan{},
	} {
		var count int64
		if err := s.db.Model(model).Count(&count).Error; err != nil {
			return nil, errors.Wrapf(err, "failed to count %s", name)
		}
		counts[name] = count
	}

	payload, err := json.Marshal(counts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal backup stats")
	}
	return payload, nil
}

// prune removes snapshots beyond the retention limit for the tag, newest
// kept. A missing file is logged and its catalog row dropped anyway.
func (s *BackupService) prune(tag BackupTag) error {
	if s.keep <= 0 {
		return nil
	}

	var backups []Backup
	err := s.db.Model(&Backup{}).
		Where("tag = ?", tag).
		Order("created_at DESC, id DESC").
		Find(&backups).Error
	if err != nil {
		return errors.Wrap(err, "failed to list stale backups")
	}
	if len(backups) <= s.keep {
		return nil
	}

	for _, backup := range backups[s.keep:] {
		if err := os.Remove(backup.Path); err != nil && !os.IsNotExist(err) {
			s.lg.Warn("failed to remove stale backup file", "path", backup.Path, "error", err)
		}
		if err := s.db.Delete(&backup).Error; err != nil {
			return errors.Wrap(err, "failed to drop stale backup row")
		}
	}
	return nil
}
