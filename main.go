package main

import (
	"context"
	"embed"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed config/migrations/*/*.sql
var embedMigrations embed.FS

func main() {
	logger := NewLoggerIPFS("root")
	if len(os.Args) > 1 {
		// If a CLI command is provided, run it and exit
		runCli(logger, os.Args[1])
		return
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	rpcStore := NewRPCStore(db)

	// Initialize Prometheus metrics
	metrics := NewMetrics()

	authManager, err := NewAuthManager(config.apiSecret)
	if err != nil {
		logger.Fatal("failed to initialize auth manager", "error", err)
	}

	cache := NewReportCache()
	accountService := NewAccountService(db, cache)
	voucherService := NewVoucherService(db, cache)
	reportService := NewReportService(db, cache)
	integrityChecker := NewIntegrityChecker(db, logger)
	backupService := NewBackupService(db, config.backupDir, config.backupKeep, logger)

	created, err := accountService.SeedChart(&config.chart, logger)
	if err != nil {
		logger.Fatal("failed to seed chart of accounts", "error", err)
	}
	if created > 0 {
		logger.Info("chart of accounts seeded", "created", created)
	}

	// Check stored books before accepting traffic. A corrupted ledger keeps
	// serving so reports can surface what is wrong, but never silently.
	scan, _, err := integrityChecker.Scan(context.Background())
	if err != nil {
		logger.Fatal("failed to run startup integrity scan", "error", err)
	}
	if scan.HasCritical() {
		logger.Error("startup integrity scan found critical findings",
			"critical", scan.CriticalCount, "warnings", scan.WarningCount)
	}

	if _, err := backupService.Snapshot(BackupTagStartup); err != nil {
		logger.Warn("startup backup skipped", "error", err)
	}

	rpcNode := NewRPCNode(logger)
	wsNotifier := NewWSNotifier(rpcNode.Broadcast, logger)

	NewRPCRouter(rpcNode, config, accountService, voucherService, reportService,
		integrityChecker, backupService, cache, db, authManager, metrics, rpcStore, wsNotifier, logger)

	rpcListenAddr := ":8000"
	rpcListenEndpoint := "/ws"
	rpcMux := http.NewServeMux()
	rpcMux.HandleFunc(rpcListenEndpoint, rpcNode.HandleConnection)

	rpcServer := &http.Server{
		Addr:    rpcListenAddr,
		Handler: rpcMux,
	}

	metricsListenAddr := ":4242"
	metricsEndpoint := "/metrics"
	// Set up a separate mux for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle(metricsEndpoint, promhttp.Handler())

	// Start metrics server on a separate port
	metricsServer := &http.Server{
		Addr:    metricsListenAddr,
		Handler: metricsMux,
	}

	// Start metrics monitoring
	go metrics.RecordMetricsPeriodically(db, cache, logger)

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", metricsListenAddr, "endpoint", metricsEndpoint)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	// Start the main HTTP server.
	go func() {
		logger.Info("RPC server available", "listenAddr", rpcListenAddr, "endpoint", rpcListenEndpoint)
		if err := rpcServer.ListenAndServe(); err != nil {
			logger.Fatal("RPC server failure", "error", err)
		}
	}()

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	// Shutdown metrics server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}

	// Shutdown RPC server
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down RPC server", "error", err)
	}

	logger.Info("shutdown complete")
}

func runCli(logger Logger, name string) {
	switch name {
	case "reconcile":
		runReconcileCli(logger)
	case "export-vouchers":
		runExportVouchersCli(logger)
	case "backup":
		runBackupCli(logger)
	case "seed-chart":
		runSeedChartCli(logger)
	default:
		logger.Fatal("Unknown CLI command", "name", name)
	}
}
