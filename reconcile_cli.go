package main

import (
	"context"
)

// runReconcileCli is the entry point for the reconcile command line interface.
// It runs a full integrity scan against the stored ledger and exits non-zero
// when any critical finding is present, so it can gate cron jobs and deploys.
// Example: ledgerd reconcile
func runReconcileCli(logger Logger) {
	logger = logger.NewSystem("reconcile")

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	checker := NewIntegrityChecker(db, logger)
	scan, findings, err := checker.Scan(context.Background())
	if err != nil {
		logger.Fatal("Failed to run integrity scan", "error", err)
	}

	for _, finding := range findings {
		if finding.Severity == SeverityCritical {
			logger.Error("critical finding", "code", finding.Code, "subject", finding.Subject, "detail", finding.Detail)
		} else {
			logger.Warn("warning finding", "code", finding.Code, "subject", finding.Subject, "detail", finding.Detail)
		}
	}

	if scan.HasCritical() {
		logger.Fatal("Ledger integrity check failed",
			"critical", scan.CriticalCount,
			"warnings", scan.WarningCount)
	}

	logger.Info("Ledger integrity check passed",
		"vouchers", scan.VouchersChecked,
		"lines", scan.LinesChecked,
		"accounts", scan.AccountsChecked,
		"warnings", scan.WarningCount)
}
