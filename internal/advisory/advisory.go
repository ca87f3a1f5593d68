package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"
	"codeberg.org/mutker/agrimon/internal/metrics"
	"codeberg.org/mutker/agrimon/internal/telemetry"
	"github.com/sony/gobreaker"
)

const (
	generatePath = "/api/generate"
	maxReplySize = 1 << 20
)

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type Service struct {
	cfg     Config
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	log     logger.Logger
	metrics metrics.Recorder
}

type Option func(*Service)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.client = c
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		client:  &http.Client{},
		log:     logger.New("advisory"),
		metrics: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cb = newBreaker("advisory", breakerFailures, breakerOpen, s.onStateChange)

	return s, nil
}

func newBreaker(name string, fails uint32, open time.Duration, onChange func(string, gobreaker.State, gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		// A caller giving up is not an endpoint failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: onChange,
	})
}

func (s *Service) onStateChange(name string, from, to gobreaker.State) {
	s.metrics.BreakerState(to.String())
	s.log.Info().
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Advisory circuit breaker state changed")
}

// Advise always returns a recommendation: the model's reply verbatim, or the
// heuristic text annotated with the reason the model could not be used. A
// reply with a missing or empty response field counts as a failure and also
// yields the heuristic text.
func (s *Service) Advise(ctx context.Context, agg telemetry.Aggregate) string {
	reply, err := s.generate(ctx, BuildPrompt(agg))
	if err != nil {
		s.metrics.AdvisoryOutcome(metrics.OutcomeFallback)
		s.log.Warn().
			Str("error_code", string(errors.CodeOf(err))).
			Err(err).
			Msg("Advisory endpoint unavailable, using heuristic")
		return Heuristic(agg, err)
	}

	s.metrics.AdvisoryOutcome(metrics.OutcomeGenerated)
	return reply
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	res, err := s.cb.Execute(func() (any, error) {
		return s.request(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", errors.New().Wrap(ErrBreakerOpen, err)
		}
		return "", err
	}

	return res.(string), nil
}

func (s *Service) request(ctx context.Context, prompt string) (string, error) {
	errFactory := errors.New()

	body, err := json.Marshal(generateRequest{
		Model:  s.cfg.Model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", errFactory.Wrap(ErrRequestFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(s.cfg.Host, "/") + generatePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errFactory.Wrap(ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errFactory.Wrap(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errFactory.WithData(ErrBadStatus, resp.Status)
	}

	var reply generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReplySize)).Decode(&reply); err != nil {
		return "", errFactory.Wrap(ErrInvalidReply, err)
	}
	if strings.TrimSpace(reply.Response) == "" {
		return "", errFactory.New(ErrEmptyReply)
	}

	return reply.Response, nil
}

// BuildPrompt lists the assessment tasks followed by the window values
func BuildPrompt(agg telemetry.Aggregate) string {
	var b strings.Builder

	b.WriteString("You are an agronomy assistant. Analyze environmental sensor data and provide:\n")
	b.WriteString("1) Brief assessment of crop stress risk\n")
	b.WriteString("2) Irrigation recommendation (when/how much)\n")
	b.WriteString("3) Preventive measures\n")
	b.WriteString("4) Any anomalies to check\n")
	b.WriteString("Use clear, concise bullet points.\n")
	b.WriteString("\nSensor aggregates (last window):\n")

	fmt.Fprintf(&b, "- avg_temperature_c: %s\n", formatFloat(agg.AvgTemperature))
	fmt.Fprintf(&b, "- avg_humidity: %s\n", formatFloat(agg.AvgHumidity))
	fmt.Fprintf(&b, "- avg_soil_moisture: %s\n", formatFloat(agg.AvgSoilMoisture))
	fmt.Fprintf(&b, "- since: %s\n", agg.Since.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- count: %d\n", agg.Count)
	fmt.Fprintf(&b, "- last_reading: %s", formatTime(agg.LastReading))

	return b.String()
}

func formatFloat(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
