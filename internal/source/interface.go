package source

import "codeberg.org/mutker/agrimon/internal/telemetry"

// LineReader is a live device producing newline-terminated text records.
// ReadLine blocks for at most the configured read timeout; when nothing
// arrived it returns an error for which IsTimeout is true.
type LineReader interface {
	ReadLine() (string, error)
	Close() error
}

// Opener opens the live device. It is called by the reader loop only.
type Opener func() (LineReader, error)

// Generator produces synthetic samples without a device
type Generator interface {
	Next() telemetry.Fields
}
