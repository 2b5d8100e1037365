package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
	models "github.com/Schera-ole/shapementor/internal/model"
)

type observationKey struct {
	micros int64
	index  string
}

// MemStorage implements the Repository interface using in-memory storage.
type MemStorage struct {
	// mu provides thread-safe access to the storage maps
	mu sync.RWMutex

	// users stores profiles by id
	users map[int64]models.User

	// emails maps an email to the owning user id
	emails map[string]int64

	// lastID is the last assigned user id
	lastID int64

	// catalog stores metric definitions by index
	catalog map[string]models.MetricDefinition

	// ledger stores observation values per user
	ledger map[int64]map[observationKey]float64
}

// NewMemStorage creates a new in-memory storage instance.
//
// The catalog is seeded with models.DefaultCatalog.
func NewMemStorage() *MemStorage {

	ms := &MemStorage{
		users:   make(map[int64]models.User),
		emails:  make(map[string]int64),
		catalog: make(map[string]models.MetricDefinition),
		ledger:  make(map[int64]map[observationKey]float64),
	}
	for _, def := range models.DefaultCatalog {
		ms.catalog[def.Index] = def
	}
	return ms
}

// FindUserByEmail returns the user with the given email.
func (ms *MemStorage) FindUserByEmail(ctx context.Context, email string) (models.User, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	id, exists := ms.emails[email]
	if !exists {
		return models.User{}, internalerrors.ErrUserNotFound
	}
	return ms.users[id], nil
}

// FindUserByID returns the user with the given id.
func (ms *MemStorage) FindUserByID(ctx context.Context, id int64) (models.User, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	user, exists := ms.users[id]
	if !exists {
		return models.User{}, internalerrors.ErrUserNotFound
	}
	return user, nil
}

// UpsertUserByEmail stores user under the next id unless its email is taken.
//
// The lookup and the id assignment happen under one write lock, so concurrent
// calls for the same email observe a single user.
func (ms *MemStorage) UpsertUserByEmail(ctx context.Context, user models.User) (models.User, error) {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if id, exists := ms.emails[user.Email]; exists {
		return ms.users[id], nil
	}
	ms.lastID++
	user.ID = ms.lastID
	ms.users[user.ID] = user
	ms.emails[user.Email] = user.ID
	return user, nil
}

// UpdateUser applies the patch to an existing user.
func (ms *MemStorage) UpdateUser(ctx context.Context, id int64, patch models.UserPatch) (models.User, error) {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	user, exists := ms.users[id]
	if !exists {
		return models.User{}, internalerrors.ErrUserNotFound
	}
	updated := user.Apply(patch)
	if updated.Email != user.Email {
		if owner, taken := ms.emails[updated.Email]; taken && owner != id {
			return models.User{}, internalerrors.ErrDuplicateEmail
		}
		delete(ms.emails, user.Email)
		ms.emails[updated.Email] = id
	}
	ms.users[id] = updated
	return updated, nil
}

// LookupMetric returns the catalog entry for index.
func (ms *MemStorage) LookupMetric(ctx context.Context, index string) (models.MetricDefinition, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	def, exists := ms.catalog[index]
	if !exists {
		return models.MetricDefinition{}, fmt.Errorf("%w: %q", internalerrors.ErrUnknownMetric, index)
	}
	return def, nil
}

// ListDefinitions returns the catalog ordered by index.
func (ms *MemStorage) ListDefinitions(ctx context.Context) ([]models.MetricDefinition, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make([]models.MetricDefinition, 0, len(ms.catalog))
	for _, def := range ms.catalog {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

// ListObservations returns the user's observations joined with the catalog.
func (ms *MemStorage) ListObservations(ctx context.Context, userID int64) ([]models.MetricRecord, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if _, exists := ms.users[userID]; !exists {
		return nil, internalerrors.ErrUserNotFound
	}

	result := make([]models.MetricRecord, 0, len(ms.ledger[userID]))
	for key, value := range ms.ledger[userID] {
		def := ms.catalog[key.index]
		result = append(result, models.MetricRecord{
			Timestamp:   time.UnixMicro(key.micros).UTC(),
			MetricIndex: key.index,
			Value:       value,
			MetricName:  def.Name,
			MetricUnit:  def.Unit,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].MetricIndex < result[j].MetricIndex
	})
	return result, nil
}

// AddObservation stores a new observation.
//
// Like the SQL stores it enforces both references and the composite key.
func (ms *MemStorage) AddObservation(ctx context.Context, obs models.MetricObservation) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, exists := ms.users[obs.UserID]; !exists {
		return internalerrors.ErrUserNotFound
	}
	if _, exists := ms.catalog[obs.MetricIndex]; !exists {
		return fmt.Errorf("%w: %q", internalerrors.ErrUnknownMetric, obs.MetricIndex)
	}

	key := observationKey{micros: obs.Timestamp.UnixMicro(), index: obs.MetricIndex}
	userLedger, exists := ms.ledger[obs.UserID]
	if !exists {
		userLedger = make(map[observationKey]float64)
		ms.ledger[obs.UserID] = userLedger
	}
	if _, taken := userLedger[key]; taken {
		return internalerrors.ErrConflict
	}
	userLedger[key] = obs.Value
	return nil
}

// DeleteObservation removes the observation with the exact composite key.
func (ms *MemStorage) DeleteObservation(ctx context.Context, userID int64, ts time.Time, index string) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	key := observationKey{micros: ts.UnixMicro(), index: index}
	userLedger := ms.ledger[userID]
	if _, exists := userLedger[key]; !exists || ts.Nanosecond()%int(models.TimestampPrecision) != 0 {
		return internalerrors.ErrObservationNotFound
	}
	delete(userLedger, key)
	return nil
}

// Close releases any resources held by the memory storage.
func (ms *MemStorage) Close() error {

	return nil
}

// Ping checks the health of the memory storage.
//
// For MemStorage, this always returns nil since there are no external dependencies.
func (ms *MemStorage) Ping(ctx context.Context) error {
	return nil
}
