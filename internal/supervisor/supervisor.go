package supervisor

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"
	"codeberg.org/mutker/agrimon/internal/reader"
	"codeberg.org/mutker/agrimon/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
)

// StoreOpener opens the sample store
type StoreOpener func() (telemetry.Store, error)

// Runner is a started ingestion loop
type Runner interface {
	Run(ctx context.Context) error
	State() reader.State
}

// RunnerFactory builds the ingestion loop on top of an open store
type RunnerFactory func(store reader.Store) (Runner, error)

// Status is a snapshot of the lifecycle
type Status struct {
	Running     bool   `json:"running"`
	StorageOpen bool   `json:"storage_open"`
	ReaderState string `json:"reader_state"`
}

type Supervisor struct {
	openStore StoreOpener
	newRunner RunnerFactory
	log       logger.Logger

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.RWMutex
	store  telemetry.Store
	runner Runner
}

type Option func(*Supervisor)

func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) {
		s.log = l
	}
}

func New(openStore StoreOpener, newRunner RunnerFactory, opts ...Option) *Supervisor {
	s := &Supervisor{
		openStore: openStore,
		newRunner: newRunner,
		log:       logger.New("supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens storage if needed and starts the reader loop. Calling Start on
// a running supervisor is a no-op. A failed Start leaves nothing running and
// may be retried.
func (s *Supervisor) Start(ctx context.Context) error {
	errFactory := errors.New()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	store, err := s.ensureStore()
	if err != nil {
		return err
	}

	runner, err := s.newRunner(store)
	if err != nil {
		initErr := errFactory.Wrap(ErrReaderInit, err)
		s.log.ErrorWithCode(initErr).Msg("Failed to build reader")
		return initErr
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := runner.Run(runCtx); err != nil {
			s.log.Error().Err(err).Msg("Reader exited with error")
		}
	}()

	s.mu.Lock()
	s.runner = runner
	s.mu.Unlock()

	s.cancel = cancel
	s.done = done

	s.log.Info().Msg("Ingestion started")

	return nil
}

func (s *Supervisor) ensureStore() (telemetry.Store, error) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()

	if store != nil {
		return store, nil
	}

	store, err := s.openStore()
	if err != nil {
		unavailable := errors.New().Wrap(ErrStorageUnavailable, err)
		s.log.ErrorWithCode(unavailable).
			Str("cause_code", string(errors.CodeOf(err))).
			Msg("Storage unavailable")
		return nil, unavailable
	}

	s.mu.Lock()
	s.store = store
	s.mu.Unlock()

	return store, nil
}

// StartWithRetry calls Start until it succeeds, b gives up or ctx is done
func (s *Supervisor) StartWithRetry(ctx context.Context, b backoff.BackOff) error {
	notify := func(err error, next time.Duration) {
		s.log.Warn().
			Err(err).
			Dur("retry_in", next).
			Msg("Start failed, retrying")
	}

	return backoff.RetryNotify(func() error {
		err := s.Start(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), notify)
}

// Stop cancels the reader, waits for it to exit and closes storage. If ctx
// expires first the store is left open and ErrStopTimeout is returned.
func (s *Supervisor) Stop(ctx context.Context) error {
	errFactory := errors.New()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done != nil {
		s.cancel()

		select {
		case <-s.done:
		case <-ctx.Done():
			return errFactory.Wrap(ErrStopTimeout, ctx.Err())
		}

		s.cancel = nil
		s.done = nil
	}

	s.mu.Lock()
	store := s.store
	s.store = nil
	s.runner = nil
	s.mu.Unlock()

	if store == nil {
		return nil
	}

	if err := store.Close(); err != nil {
		return err
	}

	s.log.Info().Msg("Ingestion stopped")

	return nil
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		StorageOpen: s.store != nil,
		ReaderState: reader.Stopped.String(),
	}
	if s.runner != nil {
		st.Running = true
		st.ReaderState = s.runner.State().String()
	}
	return st
}

func (s *Supervisor) current() (telemetry.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.store == nil {
		return nil, errors.New().New(ErrStorageUnavailable)
	}
	return s.store, nil
}

func (s *Supervisor) Insert(ctx context.Context, fields telemetry.Fields) (telemetry.Sample, error) {
	store, err := s.current()
	if err != nil {
		return telemetry.Sample{}, err
	}
	return store.Insert(ctx, fields)
}

func (s *Supervisor) Recent(ctx context.Context, limit int) ([]telemetry.Sample, error) {
	store, err := s.current()
	if err != nil {
		return nil, err
	}
	return store.Recent(ctx, limit)
}

func (s *Supervisor) InRange(ctx context.Context, start, end time.Time) ([]telemetry.Sample, error) {
	store, err := s.current()
	if err != nil {
		return nil, err
	}
	return store.InRange(ctx, start, end)
}

func (s *Supervisor) Aggregate(ctx context.Context, since time.Time) (telemetry.Aggregate, error) {
	store, err := s.current()
	if err != nil {
		return telemetry.Aggregate{}, err
	}
	return store.Aggregate(ctx, since)
}
