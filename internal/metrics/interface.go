package metrics

import "time"

// Recorder receives instrumentation from the ingestion pipeline, the
// advisory service and the query API. Implementations are safe for
// concurrent use.
type Recorder interface {
	// ReaderEvent counts one reader loop event by kind
	ReaderEvent(kind string)

	// ReaderState marks state as the current reader state
	ReaderState(state string)

	// AdvisoryOutcome counts one advisory result (generated or fallback)
	AdvisoryOutcome(outcome string)

	// BreakerState records the advisory circuit breaker state
	BreakerState(state string)

	ObserveHTTP(route, method string, status int, elapsed time.Duration)
}

// Advisory outcomes
const (
	OutcomeGenerated = "generated"
	OutcomeFallback  = "fallback"
)
