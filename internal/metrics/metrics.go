package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Circuit breaker states as exported by the breaker_state gauge
var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

type service struct {
	readerEvents *prometheus.CounterVec
	readerState  *prometheus.GaugeVec
	advisory     *prometheus.CounterVec
	breakerState prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	mu    sync.Mutex
	state string
}

// No-op implementation
type noopRecorder struct{}

// NewService registers the collectors on reg. A disabled config yields a
// no-op Recorder and registers nothing.
func NewService(cfg Config, reg prometheus.Registerer) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Metrics disabled, using no-op recorder")
		return Nop(), nil
	}

	ns := cfg.Namespace
	s := &service{
		readerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reader_events_total",
			Help:      "Reader loop events by kind.",
		}, []string{"kind"}),
		readerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "reader_state",
			Help:      "Current reader state (1 for the active state).",
		}, []string{"state"}),
		advisory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "advisory_requests_total",
			Help:      "Advisory results by outcome.",
		}, []string{"outcome"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "advisory_breaker_state",
			Help:      "Advisory circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{
		s.readerEvents,
		s.readerState,
		s.advisory,
		s.breakerState,
		s.httpRequests,
		s.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errFactory.Wrap(ErrRegisterFailed, err)
		}
	}

	logger.Debug().
		Str("namespace", ns).
		Msg("Metrics registered")

	return s, nil
}

// Nop returns a Recorder that discards everything
func Nop() Recorder {
	return &noopRecorder{}
}

// Handler exposes everything gathered by g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (s *service) ReaderEvent(kind string) {
	s.readerEvents.WithLabelValues(kind).Inc()
}

func (s *service) ReaderState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != "" && s.state != state {
		s.readerState.WithLabelValues(s.state).Set(0)
	}
	s.readerState.WithLabelValues(state).Set(1)
	s.state = state
}

func (s *service) AdvisoryOutcome(outcome string) {
	s.advisory.WithLabelValues(outcome).Inc()
}

func (s *service) BreakerState(state string) {
	if v, ok := breakerStates[state]; ok {
		s.breakerState.Set(v)
	}
}

func (s *service) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	s.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	s.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (*noopRecorder) ReaderEvent(string) {}
func (*noopRecorder) ReaderState(string) {}
func (*noopRecorder) AdvisoryOutcome(string) {}
func (*noopRecorder) BreakerState(string) {}
func (*noopRecorder) ObserveHTTP(string, string, int, time.Duration) {}
