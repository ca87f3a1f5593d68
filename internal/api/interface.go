package api

import (
	"context"
	"time"

	"codeberg.org/mutker/agrimon/internal/supervisor"
	"codeberg.org/mutker/agrimon/internal/telemetry"
)

// Samples is the query facade the API reads from
type Samples interface {
	Insert(ctx context.Context, fields telemetry.Fields) (telemetry.Sample, error)
	Recent(ctx context.Context, limit int) ([]telemetry.Sample, error)
	InRange(ctx context.Context, start, end time.Time) ([]telemetry.Sample, error)
	Aggregate(ctx context.Context, since time.Time) (telemetry.Aggregate, error)
}

// Advisor produces a recommendation for a window
type Advisor interface {
	Advise(ctx context.Context, agg telemetry.Aggregate) string
}

type StatusProvider interface {
	Status() supervisor.Status
}
