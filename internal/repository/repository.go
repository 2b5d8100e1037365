// Package repository implements storage for users, the metric catalog and the
// metric ledger. MemStorage keeps everything in process memory; DBStorage
// persists to PostgreSQL or to a SQLite file.
package repository

import (
	"context"
	"time"

	models "github.com/Schera-ole/shapementor/internal/model"
)

// UserRepository stores user profiles.
type UserRepository interface {
	// FindUserByEmail returns errors.ErrUserNotFound when no user has this email.
	FindUserByEmail(ctx context.Context, email string) (models.User, error)

	// FindUserByID returns errors.ErrUserNotFound when the id does not resolve.
	FindUserByID(ctx context.Context, id int64) (models.User, error)

	// UpsertUserByEmail inserts user unless a user with the same email exists,
	// and returns the stored record. The ID of user is ignored; the store assigns it.
	UpsertUserByEmail(ctx context.Context, user models.User) (models.User, error)

	// UpdateUser applies patch to the user and returns the updated record.
	UpdateUser(ctx context.Context, id int64, patch models.UserPatch) (models.User, error)
}

// CatalogRepository reads the metric catalog.
type CatalogRepository interface {
	LookupMetric(ctx context.Context, index string) (models.MetricDefinition, error)
	ListDefinitions(ctx context.Context) ([]models.MetricDefinition, error)
}

// LedgerRepository stores metric observations.
type LedgerRepository interface {
	// ListObservations returns the user's observations joined with the catalog,
	// ordered by timestamp. It returns errors.ErrUserNotFound for an unknown user
	// and an empty slice for a known user without observations.
	ListObservations(ctx context.Context, userID int64) ([]models.MetricRecord, error)

	// AddObservation inserts obs and returns errors.ErrConflict if the
	// (user, timestamp, metric) key is already taken.
	AddObservation(ctx context.Context, obs models.MetricObservation) error

	// DeleteObservation removes the observation with the exact key or returns
	// errors.ErrObservationNotFound.
	DeleteObservation(ctx context.Context, userID int64, ts time.Time, index string) error
}

// Repository is the full storage contract used by the services.
type Repository interface {
	UserRepository
	CatalogRepository
	LedgerRepository
	Ping(ctx context.Context) error
	Close() error
}
