// Package main provides the quorumd replica-set coordinator server.
//
// This is the main entrypoint for the quorumd-server binary, which runs
// the topology coordinator, the per-peer heartbeat loops, and the HTTP
// wire surface peers and operators talk to.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"quorumd.io/server/internal/api"
	"quorumd.io/server/internal/cluster"
	"quorumd.io/server/internal/logging"
	"quorumd.io/server/internal/metrics"
	"quorumd.io/server/internal/repl"
	"quorumd.io/server/internal/storage"
	"quorumd.io/server/internal/util"
	"quorumd.io/server/models"
)

// Config holds server configuration from flags and environment variables.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":7217").
	ListenAddr string

	// SetName is the replica set this node belongs to.
	SetName string

	// SelfHost is this node's member address as it appears in the
	// replica-set configuration.
	SelfHost string

	// DatabasePath is the path to the SQLite database file.
	DatabasePath string

	// InstanceID is this instance's UUID.
	InstanceID string

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string

	// LogFormat is the log format (json, console).
	LogFormat string

	// RequestsPerSecond rate-limits each client IP; zero disables it.
	RequestsPerSecond float64
}

// parseFlags parses command-line flags and environment variables.
func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.ListenAddr, "listen", getEnv("QUORUMD_LISTEN_ADDR", ":7217"),
		"Address to listen on")
	flag.StringVar(&config.SetName, "set", getEnv("QUORUMD_SET_NAME", ""),
		"Replica set name (required)")
	flag.StringVar(&config.SelfHost, "self", getEnv("QUORUMD_SELF_HOST", ""),
		"This node's member address as configured in the set (required)")
	flag.StringVar(&config.DatabasePath, "db", getEnv("QUORUMD_DB_PATH", "./quorumd.db"),
		"Path to SQLite database file")
	flag.StringVar(&config.InstanceID, "instance-id", getEnv("QUORUMD_INSTANCE_ID", ""),
		"Instance UUID (auto-generated if not provided)")
	flag.StringVar(&config.LogLevel, "log-level", getEnv("QUORUMD_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	flag.StringVar(&config.LogFormat, "log-format", getEnv("QUORUMD_LOG_FORMAT", "console"),
		"Log format (json, console)")
	flag.Float64Var(&config.RequestsPerSecond, "rate-limit",
		100, "Per-IP request rate limit (0 disables)")

	flag.Parse()
	return config
}

// getEnv retrieves an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateConfig validates the server configuration.
func validateConfig(config *Config) error {
	if err := util.ValidateSetName(config.SetName); err != nil {
		return fmt.Errorf("set name: %w (set QUORUMD_SET_NAME or use -set)", err)
	}
	if config.SelfHost == "" {
		return fmt.Errorf("self host is required (set QUORUMD_SELF_HOST or use -self)")
	}
	if err := util.ValidateHostPort(config.SelfHost); err != nil {
		return fmt.Errorf("self host: %w", err)
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.New().String()
	}
	if err := util.ValidateInstanceID(config.InstanceID); err != nil {
		return err
	}
	return nil
}

// setupLogger creates a Zap logger based on configuration.
func setupLogger(config *Config) (*zap.Logger, error) {
	env := logging.EnvironmentDevelopment
	if config.LogFormat == "json" {
		env = logging.EnvironmentProduction
	}
	return logging.NewLogger(logging.Config{
		Level:            config.LogLevel,
		Environment:      env,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// openDatabase opens a connection to the SQLite database.
func openDatabase(path string, logger *zap.Logger) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established", zap.String("path", path))
	return db, nil
}

func main() {
	config := parseFlags()

	if err := validateConfig(config); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := setupLogger(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting quorumd-server",
		zap.String("version", "0.1.0"),
		zap.String("instance_id", config.InstanceID),
		zap.String("set", config.SetName),
		zap.String("self", config.SelfHost),
		zap.String("listen_addr", config.ListenAddr),
	)

	if err := metrics.Init(); err != nil {
		logger.Fatal("failed to initialize metrics", zap.Error(err))
	}

	db, err := openDatabase(config.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	store := storage.NewStore(db, logger)
	if err := store.Migrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	coord := repl.NewCoordinator(logger, repl.Options{})
	transport := cluster.NewHTTPTransport(&http.Client{})
	manager := cluster.NewManager(&cluster.Config{
		InstanceID: config.InstanceID,
		SetName:    config.SetName,
		SelfHost:   models.MustHostPort(config.SelfHost),
	}, coord, store, transport, logger)

	if err := manager.Start(); err != nil {
		logger.Fatal("failed to start cluster manager", zap.Error(err))
	}
	defer manager.Stop()

	router := api.SetupRouter(&api.RouterConfig{
		Manager:           manager,
		Logger:            logger,
		InstanceID:        config.InstanceID,
		RequestsPerSecond: config.RequestsPerSecond,
	})

	logger.Info("server listening", zap.String("addr", config.ListenAddr))
	if err := router.Run(config.ListenAddr); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
