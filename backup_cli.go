package main

// runBackupCli snapshots the database from the command line.
// Example: ledgerd backup
func runBackupCli(logger Logger) {
	logger = logger.NewSystem("backup-cli")

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	service := NewBackupService(db, config.backupDir, config.backupKeep, logger)
	backup, err := service.Snapshot(BackupTagManual)
	if err != nil {
		logger.Fatal("Failed to snapshot database", "error", err)
	}

	logger.Info("Successfully created backup", "path", backup.Path, "sizeBytes", backup.SizeBytes)
}
