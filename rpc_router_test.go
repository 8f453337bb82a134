package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	container "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testAPISecret = "test-operator-secret-0123456789"

// setupTestSqlite creates an in-memory SQLite DB for testing
func setupTestSqlite(t testing.TB) *gorm.DB {
	t.Helper()

	uniqueDSN := fmt.Sprintf("file::memory:test%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(uniqueDSN), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&Account{}, &Voucher{}, &VoucherLine{}, &IntegrityScan{}, &Backup{}, &RPCRecord{})
	require.NoError(t, err)

	return db
}

// setupTestPostgres creates a PostgreSQL database using testcontainers
func setupTestPostgres(ctx context.Context, t testing.TB) (*gorm.DB, testcontainers.Container) {
	t.Helper()

	const dbName = "postgres"
	const dbUser = "postgres"
	const dbPassword = "postgres"

	postgresContainer, err := container.Run(ctx,
		"postgres:16-alpine",
		container.WithDatabase(dbName),
		container.WithUsername(dbUser),
		container.WithPassword(dbPassword),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_HOST_AUTH_METHOD": "trust",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForLog("database system is ready to accept connections"),
				wait.ForListeningPort("5432/tcp"),
			)))
	require.NoError(t, err)
	log.Println("Started container:", postgresContainer.GetContainerID())

	url, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	log.Println("PostgreSQL URL:", url)

	db, err := gorm.Open(postgres.Open(url), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&Account{}, &Voucher{}, &VoucherLine{}, &IntegrityScan{}, &Backup{}, &RPCRecord{})
	require.NoError(t, err)

	return db, postgresContainer
}

// setupTestDB chooses SQLite or Postgres based on TEST_DB_DRIVER
func setupTestDB(t testing.TB) (*gorm.DB, func()) {
	t.Helper()

	ctx := context.Background()
	var db *gorm.DB
	var cleanup func()

	switch os.Getenv("TEST_DB_DRIVER") {
	case "postgres":
		log.Println("Using PostgreSQL for testing")
		var container testcontainers.Container
		db, container = setupTestPostgres(ctx, t)
		cleanup = func() {
			if container != nil {
				if err := container.Terminate(ctx); err != nil {
					log.Printf("Failed to terminate PostgreSQL container: %v", err)
				}
			}
		}
	default:
		log.Println("Using SQLite for testing (default)")
		db = setupTestSqlite(t)
		cleanup = func() {}
	}

	return db, cleanup
}

func setupTestRPCRouter(t *testing.T) (*RPCRouter, *gorm.DB, func()) {
	db, dbCleanup := setupTestDB(t)

	logger := NewLoggerIPFS("root.test")

	node := NewRPCNode(logger)
	wsNotifier := NewWSNotifier(node.Broadcast, logger)

	authManager, err := NewAuthManager(testAPISecret)
	require.NoError(t, err)

	config := &Config{
		mode:          ModeTest,
		chart:         DefaultChart(),
		apiSecret:     testAPISecret,
		msgExpiryTime: 60,
	}

	cache := NewReportCache()

	// Create an instance of RPCRouter
	router := &RPCRouter{
		Node:             node,
		Config:           config,
		AccountService:   NewAccountService(db, cache),
		VoucherService:   NewVoucherService(db, cache),
		ReportService:    NewReportService(db, cache),
		IntegrityChecker: NewIntegrityChecker(db, logger),
		BackupService:    NewBackupService(db, t.TempDir(), 3, logger),
		Cache:            cache,
		DB:               db,
		AuthManager:      authManager,
		RPCStore:         NewRPCStore(db),
		MessageCache:     NewMessageCache(60 * time.Second),
		wsNotifier:       wsNotifier,
		lg:               logger.NewSystem("rpc-router"),
		Metrics:          NewMetricsWithRegistry(prometheus.NewRegistry()),
	}

	return router, router.DB, func() {
		dbCleanup()
	}
}

// seedTestAccounts writes the default chart into the DB so voucher and
// report tests have accounts to post against.
func seedTestAccounts(t *testing.T, router *RPCRouter) {
	t.Helper()

	_, err := router.AccountService.SeedChart(&router.Config.chart, router.lg)
	require.NoError(t, err)
}
