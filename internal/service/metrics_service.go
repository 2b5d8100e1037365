// Package service provides the business logic layer for the body-metrics tracker.
package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
	models "github.com/Schera-ole/shapementor/internal/model"
	"github.com/Schera-ole/shapementor/internal/repository"
)

// MetricsRepository is the storage MetricsService depends on.
type MetricsRepository interface {
	repository.CatalogRepository
	repository.LedgerRepository
	FindUserByID(ctx context.Context, id int64) (models.User, error)
	Ping(ctx context.Context) error
}

// AddMetricInput describes one new observation.
type AddMetricInput struct {
	UserID      int64   `json:"user_id" validate:"gt=0"`
	MetricIndex string  `json:"metric_index" validate:"required,max=50"`
	Value       float64 `json:"value"`

	// Timestamp defaults to the current time when nil
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// MetricsService provides methods for managing the metric catalog and ledger.
//
// It validates input before delegating to the underlying repository.
type MetricsService struct {
	// repository is the underlying data storage implementation
	repository MetricsRepository

	// now returns the timestamp of observations recorded without one
	now func() time.Time

	validate *validator.Validate
}

// NewMetricsService creates a new MetricsService with the specified repository.
func NewMetricsService(repo MetricsRepository) *MetricsService {

	return &MetricsService{repository: repo, now: time.Now, validate: newValidator()}
}

// ListDefinitions returns the metric catalog.
func (ms *MetricsService) ListDefinitions(ctx context.Context) ([]models.MetricDefinition, error) {

	return ms.repository.ListDefinitions(ctx)
}

// LookupMetric returns the catalog entry for index.
func (ms *MetricsService) LookupMetric(ctx context.Context, index string) (models.MetricDefinition, error) {

	return ms.repository.LookupMetric(ctx, strings.TrimSpace(index))
}

// ListMetrics returns the user's observations ordered by timestamp.
// A user without observations gets an empty slice.
func (ms *MetricsService) ListMetrics(ctx context.Context, userID int64) ([]models.MetricRecord, error) {

	return ms.repository.ListObservations(ctx, userID)
}

// AddMetric records a new observation and returns it as stored.
//
// The metric index and the user are checked before the insert. An observation
// with the same (user, timestamp, metric) key is rejected with ErrConflict.
func (ms *MetricsService) AddMetric(ctx context.Context, input AddMetricInput) (models.MetricObservation, error) {

	input.MetricIndex = strings.TrimSpace(input.MetricIndex)
	if err := ms.validate.Struct(input); err != nil {
		return models.MetricObservation{}, validationError("metric", err)
	}
	if math.IsNaN(input.Value) || math.IsInf(input.Value, 0) {
		return models.MetricObservation{}, fmt.Errorf("%w: value must be a finite number", internalerrors.ErrInvalidInput)
	}
	if _, err := ms.repository.LookupMetric(ctx, input.MetricIndex); err != nil {
		return models.MetricObservation{}, err
	}
	if _, err := ms.repository.FindUserByID(ctx, input.UserID); err != nil {
		return models.MetricObservation{}, err
	}

	ts := ms.now()
	if input.Timestamp != nil {
		ts = *input.Timestamp
	}
	obs := models.MetricObservation{
		UserID:      input.UserID,
		Timestamp:   models.NormalizeTimestamp(ts),
		MetricIndex: input.MetricIndex,
		Value:       input.Value,
	}
	if err := ms.repository.AddObservation(ctx, obs); err != nil {
		return models.MetricObservation{}, err
	}
	return obs, nil
}

// DeleteMetric removes the observation identified by the canonical textual
// timestamp and the metric index.
func (ms *MetricsService) DeleteMetric(ctx context.Context, userID int64, timestamp string, index string) error {

	ts, err := models.ParseTimestamp(timestamp)
	if err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrInvalidTimestamp, err)
	}
	index = strings.TrimSpace(index)
	if index == "" {
		return fmt.Errorf("%w: metric_index is required", internalerrors.ErrInvalidInput)
	}
	return ms.repository.DeleteObservation(ctx, userID, ts, index)
}

// Ping checks the repository connection, delegating to the repository implementation.
func (ms *MetricsService) Ping(ctx context.Context) error {

	return ms.repository.Ping(ctx)
}
