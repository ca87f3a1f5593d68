package reader

import (
	"time"

	"codeberg.org/mutker/agrimon/internal/telemetry"
)

// State is the ingestion mode of a Reader
type State int32

const (
	Stopped State = iota
	Starting
	Live
	Simulated
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Live:
		return "live"
	case Simulated:
		return "simulated"
	default:
		return "stopped"
	}
}

// EventKind names something the reader did or swallowed
type EventKind string

const (
	EventStateChanged      EventKind = "state_changed"
	EventDeviceUnavailable EventKind = "device_unavailable"
	EventDeviceReopened    EventKind = "device_reopened"
	EventReadFailed        EventKind = "read_failed"
	EventParseFailed       EventKind = "parse_failed"
	EventStoreFailed       EventKind = "store_failed"
	EventSampleStored      EventKind = "sample_stored"
	EventCloseFailed       EventKind = "close_failed"
)

// Event is passed to the event handler. Err is set for failure kinds and
// Sample for EventSampleStored.
type Event struct {
	Kind   EventKind
	State  State
	Err    error
	Sample *telemetry.Sample
	Time   time.Time
}
