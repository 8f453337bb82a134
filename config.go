package main

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeProduction Mode = "production"
	ModeTest       Mode = "test"
)

const (
	configDirPathEnv     = "LEDGERD_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
	defaultBackupDir     = "backups"
	defaultBackupKeep    = 5  // snapshots retained per tag
	defaultMsgExpiryTime = 60 // seconds a mutation request timestamp stays valid
)

// Config represents the overall application configuration
type Config struct {
	mode          Mode
	chart         ChartConfig
	apiSecret     string
	dbConf        DatabaseConfig
	backupDir     string
	backupKeep    int
	backupOnPost  bool
	msgExpiryTime int
}

// LoadConfig builds configuration from environment variables
func LoadConfig(logger Logger) (*Config, error) {
	logger = logger.NewSystem("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	// Load .env files
	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	mode := Mode(os.Getenv("LEDGERD_MODE"))
	if mode == "" {
		mode = ModeProduction
	} else if mode != ModeProduction && mode != ModeTest {
		logger.Fatal("invalid LEDGERD_MODE value", "value", mode)
	}
	logger.Info("set mode", "value", mode)

	// Get database URL from environment variables
	var dbConf DatabaseConfig
	dbURL := os.Getenv("LEDGERD_DATABASE_URL")

	// If DATABASE_URL is not empty, parse the connection string
	// Otherwise, read the envs in usual way
	if dbURL != "" {
		var err error
		dbConf, err = ParseConnectionString(dbURL)
		if err != nil {
			logger.Error("failed to parse connection string", "err", err)
			return nil, err
		}
	} else {
		// Read db config
		if err := cleanenv.ReadEnv(&dbConf); err != nil {
			logger.Error("failed to read env", "err", err)
			return nil, err
		}
	}

	// The shared secret operators authenticate with. Refusing to start
	// without one beats silently running an unauthenticated ledger.
	apiSecret := os.Getenv("LEDGERD_API_SECRET")
	if apiSecret == "" {
		logger.Fatal("LEDGERD_API_SECRET environment variable is required")
	}

	backupDir := os.Getenv("LEDGERD_BACKUP_DIR")
	if backupDir == "" {
		backupDir = defaultBackupDir
	}

	backupKeep := defaultBackupKeep
	if keep := os.Getenv("LEDGERD_BACKUP_KEEP"); keep != "" {
		if parsed, err := strconv.Atoi(keep); err == nil && parsed >= 0 {
			backupKeep = parsed
		} else {
			logger.Warn("invalid LEDGERD_BACKUP_KEEP", "value", keep)
		}
	}

	backupOnPost := false
	if onPost := os.Getenv("LEDGERD_BACKUP_ON_POST"); onPost != "" {
		if parsed, err := strconv.ParseBool(onPost); err == nil {
			backupOnPost = parsed
		} else {
			logger.Warn("invalid LEDGERD_BACKUP_ON_POST", "value", onPost)
		}
	}

	msgExpiryTime := defaultMsgExpiryTime
	if expiry := os.Getenv("LEDGERD_MSG_EXPIRY_TIME"); expiry != "" {
		if parsed, err := strconv.Atoi(expiry); err == nil && parsed > 0 {
			msgExpiryTime = parsed
		} else {
			logger.Warn("invalid LEDGERD_MSG_EXPIRY_TIME", "value", expiry)
		}
	}

	chart, err := LoadChart(configDirPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no chart.yaml found, using the default chart")
			chart = DefaultChart()
		} else {
			logger.Fatal("failed to load chart of accounts", "error", err)
		}
	}

	config := Config{
		mode:          mode,
		chart:         chart,
		apiSecret:     apiSecret,
		dbConf:        dbConf,
		backupDir:     backupDir,
		backupKeep:    backupKeep,
		backupOnPost:  backupOnPost,
		msgExpiryTime: msgExpiryTime,
	}

	return &config, nil
}
