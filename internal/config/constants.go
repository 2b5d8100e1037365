// Package config provides the server configuration and its defaults.
package config

import "time"

const (
	// StorageMemory keeps all data in process memory.
	StorageMemory = "memory"

	// StoragePostgres stores data in PostgreSQL.
	StoragePostgres = "postgres"

	// StorageSQLite stores data in a SQLite file.
	StorageSQLite = "sqlite"
)

const (
	DefaultAddress        = "localhost:8080"
	DefaultSessionTTL     = 24 * time.Hour
	DefaultRequestTimeout = 15 * time.Second
	DefaultLogLevel       = "info"
)
