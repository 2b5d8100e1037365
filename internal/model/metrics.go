package models

import (
	"strings"
	"time"
)

// TimestampLayout is the canonical textual form of an observation timestamp.
// It is always rendered in UTC with up to microsecond precision, which is the
// precision the stores persist.
const TimestampLayout = "2006-01-02 15:04:05.999999"

// TimestampPrecision is the unit observation timestamps are truncated to.
const TimestampPrecision = time.Microsecond

// MetricDefinition is a catalog entry describing one kind of body metric.
type MetricDefinition struct {
	Index string `json:"metric_index"`
	Name  string `json:"metric_name"`
	Unit  string `json:"metric_unit"`
}

// DefaultCatalog is the set of metric definitions seeded into every store.
var DefaultCatalog = []MetricDefinition{
	{Index: "bmi", Name: "Body mass index", Unit: "kg/m2"},
	{Index: "body_fat_pct", Name: "Body fat", Unit: "%"},
	{Index: "chest_cm", Name: "Chest circumference", Unit: "cm"},
	{Index: "height_cm", Name: "Height", Unit: "cm"},
	{Index: "hip_cm", Name: "Hip circumference", Unit: "cm"},
	{Index: "resting_hr", Name: "Resting heart rate", Unit: "bpm"},
	{Index: "waist_cm", Name: "Waist circumference", Unit: "cm"},
	{Index: "weight_kg", Name: "Weight", Unit: "kg"},
}

// MetricObservation is one timestamped reading of a metric for a user.
// (UserID, Timestamp, MetricIndex) is its identity.
type MetricObservation struct {
	UserID      int64
	Timestamp   time.Time
	MetricIndex string
	Value       float64
}

// MetricRecord is an observation joined with its catalog definition.
type MetricRecord struct {
	Timestamp   time.Time
	MetricIndex string
	Value       float64
	MetricName  string
	MetricUnit  string
}

// MetricRecordDTO is the wire form of a MetricRecord.
type MetricRecordDTO struct {
	// Timestamp is rendered in TimestampLayout and can be sent back verbatim to delete the record
	Timestamp   string  `json:"timestamp"`
	MetricIndex string  `json:"metric_index"`
	Value       float64 `json:"value"`
	MetricName  string  `json:"metric_name"`
	MetricUnit  string  `json:"metric_unit"`
}

// ToDTO converts the record into its wire form.
func (r MetricRecord) ToDTO() MetricRecordDTO {
	return MetricRecordDTO{
		Timestamp:   FormatTimestamp(r.Timestamp),
		MetricIndex: r.MetricIndex,
		Value:       r.Value,
		MetricName:  r.MetricName,
		MetricUnit:  r.MetricUnit,
	}
}

// NormalizeTimestamp converts t to UTC at the stored precision.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(TimestampPrecision)
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses the canonical textual form produced by FormatTimestamp.
// A value without offset is read as UTC; RFC 3339 input is accepted as well.
// Inputs finer than TimestampPrecision are rejected since no stored value can match them.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		var rfcErr error
		t, rfcErr = time.Parse(time.RFC3339Nano, s)
		if rfcErr != nil {
			return time.Time{}, err
		}
	}
	if t.Nanosecond()%int(TimestampPrecision) != 0 {
		return time.Time{}, &time.ParseError{
			Layout:  TimestampLayout,
			Value:   s,
			Message: ": precision finer than a microsecond",
		}
	}
	return t.UTC(), nil
}
