package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Address        string
	DatabaseDSN    string
	SQLitePath     string
	SessionKey     string
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	LogLevel       string
}

// NewServerConfig reads the configuration from command line args; environment
// variables (optionally loaded from a .env file) take precedence over flags.
func NewServerConfig(args []string) (*ServerConfig, error) {
	_ = godotenv.Load()

	config := &ServerConfig{
		Address:        DefaultAddress,
		SessionTTL:     DefaultSessionTTL,
		RequestTimeout: DefaultRequestTimeout,
		LogLevel:       DefaultLogLevel,
	}

	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	address := flags.String("a", config.Address, "address")
	databaseDSN := flags.String("d", config.DatabaseDSN, "database dsn")
	sqlitePath := flags.String("f", config.SQLitePath, "path to sqlite database file")
	sessionKey := flags.String("k", config.SessionKey, "key signing session cookies")
	sessionTTL := flags.Duration("s", config.SessionTTL, "session cookie lifetime")
	requestTimeout := flags.Duration("t", config.RequestTimeout, "request timeout")
	logLevel := flags.String("l", config.LogLevel, "log level")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	envVars := map[string]*string{
		"ADDRESS":      address,
		"DATABASE_DSN": databaseDSN,
		"SQLITE_PATH":  sqlitePath,
		"SESSION_KEY":  sessionKey,
		"LOG_LEVEL":    logLevel,
	}

	for envVar, flag := range envVars {
		if envValue := os.Getenv(envVar); envValue != "" {
			*flag = envValue
		}
	}

	durationVars := map[string]*time.Duration{
		"SESSION_TTL":     sessionTTL,
		"REQUEST_TIMEOUT": requestTimeout,
	}

	for envVar, flag := range durationVars {
		if envValue := os.Getenv(envVar); envValue != "" {
			duration, err := time.ParseDuration(envValue)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", envVar, err)
			}
			*flag = duration
		}
	}

	config.Address = *address
	config.DatabaseDSN = *databaseDSN
	config.SQLitePath = *sqlitePath
	config.SessionKey = *sessionKey
	config.SessionTTL = *sessionTTL
	config.RequestTimeout = *requestTimeout
	config.LogLevel = *logLevel

	if config.SessionTTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", config.SessionTTL)
	}
	if config.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive, got %s", config.RequestTimeout)
	}

	return config, nil
}

// StorageKind reports which backend the configuration selects. A database DSN
// wins over a SQLite path; without either the data lives in memory.
func (c *ServerConfig) StorageKind() string {
	switch {
	case c.DatabaseDSN != "":
		return StoragePostgres
	case c.SQLitePath != "":
		return StorageSQLite
	default:
		return StorageMemory
	}
}
