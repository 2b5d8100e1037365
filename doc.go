// Package shapementor implements a backend for tracking body metrics.
//
// Users are identified by email and get a profile on first reference. Each user
// records timestamped observations of metrics from a fixed catalog:
//   - Metric catalog: metric index, human readable name and unit
//   - User directory: profile fields, unique email, store-assigned ids
//   - Metric ledger: one value per (user, timestamp, metric), listed by time
//
// The server stores data in memory, in a SQLite file or in PostgreSQL. The
// "current user" of a client is kept in a signed cookie, so concurrent clients
// never observe each other's selection.
//
// Features:
//   - JSON and form endpoints for profiles and metrics
//   - Schema bootstrap with embedded migrations
//   - Data compression using gzip
//   - Request timeouts and graceful shutdown
//   - Structured logging
//
// The server is configured via command-line flags, environment variables and
// an optional .env file.
package shapementor
