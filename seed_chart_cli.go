package main

// runSeedChartCli inserts any chart of accounts entries that are missing from
// the registry. Seeding is idempotent and never overwrites existing accounts,
// so it is safe to run against a live database after editing chart.yaml.
// Example: ledgerd seed-chart
func runSeedChartCli(logger Logger) {
	logger = logger.NewSystem("seed-chart")

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	cache := NewReportCache()
	accountService := NewAccountService(db, cache)
	created, err := accountService.SeedChart(&config.chart, logger)
	if err != nil {
		logger.Fatal("Failed to seed chart of accounts", "error", err)
	}

	logger.Info("Successfully seeded chart of accounts",
		"created", created,
		"configured", len(config.chart.Accounts))
}
