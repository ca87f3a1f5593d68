package reader

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"
	"codeberg.org/mutker/agrimon/internal/metrics"
	"codeberg.org/mutker/agrimon/internal/parser"
	"codeberg.org/mutker/agrimon/internal/source"
	"codeberg.org/mutker/agrimon/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
)

// Store is the write side of the sample store
type Store interface {
	Insert(ctx context.Context, fields telemetry.Fields) (telemetry.Sample, error)
}

type Reader struct {
	cfg     Config
	store   Store
	open    source.Opener
	gen     source.Generator
	log     logger.Logger
	metrics metrics.Recorder
	onEvent func(Event)
	now     func() time.Time

	state   atomic.Int32
	running atomic.Bool
}

type Option func(*Reader)

func WithLogger(l logger.Logger) Option {
	return func(r *Reader) {
		r.log = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *Reader) {
		r.metrics = m
	}
}

// WithEventHandler registers fn for every event. fn runs on the reader
// goroutine and must not block.
func WithEventHandler(fn func(Event)) Option {
	return func(r *Reader) {
		r.onEvent = fn
	}
}

// New builds a reader. open may be nil when cfg.Enabled is false.
func New(cfg Config, store Store, open source.Opener, gen source.Generator, opts ...Option) (*Reader, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || gen == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "store and generator are required")
	}
	if cfg.Enabled && open == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "live ingestion enabled without a device opener")
	}

	r := &Reader{
		cfg:     cfg,
		store:   store,
		open:    open,
		gen:     gen,
		log:     logger.New("reader"),
		metrics: metrics.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state.Store(int32(Stopped))

	return r, nil
}

// State returns the current ingestion mode
func (r *Reader) State() State {
	return State(r.state.Load())
}

// Run ingests until ctx is cancelled and returns nil. The live device, if
// one was opened, is closed before Run returns.
func (r *Reader) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New().New(ErrAlreadyRunning)
	}
	defer r.running.Store(false)

	r.setState(Starting)
	defer r.setState(Stopped)

	var line source.LineReader
	if r.cfg.Enabled {
		line = r.openDevice()
	}

	for ctx.Err() == nil {
		if line != nil {
			r.setState(Live)
			r.runLive(ctx, line)
			r.closeDevice(line)
			return nil
		}

		r.setState(Simulated)
		line = r.runSimulated(ctx)
		if line != nil {
			r.emit(Event{Kind: EventDeviceReopened})
		}
	}

	if line != nil {
		r.closeDevice(line)
	}
	return nil
}

func (r *Reader) openDevice() source.LineReader {
	line, err := r.open()
	if err != nil {
		r.emit(Event{Kind: EventDeviceUnavailable, Err: err})
		return nil
	}
	return line
}

func (r *Reader) closeDevice(line source.LineReader) {
	if err := line.Close(); err != nil {
		r.emit(Event{Kind: EventCloseFailed, Err: err})
	}
}

func (r *Reader) runLive(ctx context.Context, line source.LineReader) {
	b := backoff.NewConstantBackOff(r.cfg.ReadBackoff)

	for ctx.Err() == nil {
		raw, err := line.ReadLine()
		if err != nil {
			if source.IsTimeout(err) {
				continue
			}

			r.emit(Event{Kind: EventReadFailed, Err: err})
			if !sleep(ctx, b.NextBackOff()) {
				return
			}
			continue
		}

		if strings.TrimSpace(raw) == "" {
			continue
		}

		fields, err := parser.Parse(raw)
		if err != nil {
			r.emit(Event{Kind: EventParseFailed, Err: err})
			continue
		}

		r.insert(ctx, fields)
	}
}

// runSimulated returns a reopened device, or nil once ctx is cancelled
func (r *Reader) runSimulated(ctx context.Context) source.LineReader {
	var reopen <-chan time.Time
	if r.cfg.Enabled && r.cfg.ReopenInterval > 0 {
		ticker := time.NewTicker(r.cfg.ReopenInterval)
		defer ticker.Stop()
		reopen = ticker.C
	}

	wait := time.NewTimer(r.cfg.SimulatedInterval)
	defer wait.Stop()

	for {
		r.insert(ctx, r.gen.Next())
		wait.Reset(r.cfg.SimulatedInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-wait.C:
			continue
		case <-reopen:
			if line := r.openDevice(); line != nil {
				return line
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-wait.C:
		}
	}
}

func (r *Reader) insert(ctx context.Context, fields telemetry.Fields) {
	sample, err := r.store.Insert(ctx, fields)
	if err != nil {
		r.emit(Event{Kind: EventStoreFailed, Err: err})
		return
	}
	r.emit(Event{Kind: EventSampleStored, Sample: &sample})
}

func (r *Reader) setState(s State) {
	if State(r.state.Swap(int32(s))) == s {
		return
	}
	r.metrics.ReaderState(s.String())
	r.emit(Event{Kind: EventStateChanged})
}

func (r *Reader) emit(ev Event) {
	ev.State = r.State()
	ev.Time = r.now()

	r.metrics.ReaderEvent(string(ev.Kind))
	r.logEvent(ev)

	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func (r *Reader) logEvent(ev Event) {
	var event *logger.LogEvent

	switch ev.Kind {
	case EventSampleStored, EventParseFailed:
		event = r.log.Debug()
	case EventStateChanged, EventDeviceReopened:
		event = r.log.Info()
	case EventStoreFailed:
		event = r.log.Error()
	default:
		event = r.log.Warn()
	}

	event.Str("event", string(ev.Kind)).Str("state", ev.State.String())

	if ev.Err != nil {
		event.Str("error_code", string(errors.CodeOf(ev.Err))).Err(ev.Err)
	}
	if s := ev.Sample; s != nil {
		event.Int64("id", s.ID)
		if s.Temperature != nil {
			event.Float64("temperature_c", *s.Temperature)
		}
		if s.Humidity != nil {
			event.Float64("humidity", *s.Humidity)
		}
		if s.SoilMoisture != nil {
			event.Float64("soil_moisture", *s.SoilMoisture)
		}
	}

	event.Msg("Reader " + strings.ReplaceAll(string(ev.Kind), "_", " "))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
