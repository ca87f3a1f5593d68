package telemetry

import (
	"context"
	"time"
)

// Store persists sensor samples and answers windowed queries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert assigns an id (and a timestamp if unset) and persists the sample
	Insert(ctx context.Context, fields Fields) (Sample, error)

	// Recent returns at most limit samples, newest first
	Recent(ctx context.Context, limit int) ([]Sample, error)

	// InRange returns samples with start <= created_at <= end, oldest first
	InRange(ctx context.Context, start, end time.Time) ([]Sample, error)

	// Aggregate summarizes all samples with created_at >= since
	Aggregate(ctx context.Context, since time.Time) (Aggregate, error)

	Close() error
}

// Sample is one persisted sensor reading. Each sensor value is optional.
type Sample struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Temperature  *float64  `json:"temperature_c"`
	Humidity     *float64  `json:"humidity"`
	SoilMoisture *float64  `json:"soil_moisture"`
}

// Fields is the insertable part of a Sample. A zero CreatedAt is replaced by
// the store's clock.
type Fields struct {
	CreatedAt    time.Time `json:"created_at"`
	Temperature  *float64  `json:"temperature_c"`
	Humidity     *float64  `json:"humidity"`
	SoilMoisture *float64  `json:"soil_moisture"`
}

// Empty reports whether no sensor value is present
func (f Fields) Empty() bool {
	return f.Temperature == nil && f.Humidity == nil && f.SoilMoisture == nil
}

// Aggregate is the summary of one time window. Averages only cover samples
// where the field is present and are nil when there are none.
type Aggregate struct {
	Since           time.Time  `json:"since"`
	Until           time.Time  `json:"until"`
	Count           int        `json:"count"`
	AvgTemperature  *float64   `json:"avg_temperature_c"`
	AvgHumidity     *float64   `json:"avg_humidity"`
	AvgSoilMoisture *float64   `json:"avg_soil_moisture"`
	FirstReading    *time.Time `json:"first_reading"`
	LastReading     *time.Time `json:"last_reading"`
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
