package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/agrimon/internal/advisory"
	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"
	"codeberg.org/mutker/agrimon/internal/metrics"
	"codeberg.org/mutker/agrimon/internal/supervisor"
	"codeberg.org/mutker/agrimon/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	defaultHours = 24
	maxHours     = 24 * 366
)

type Handler struct {
	samples  Samples
	advisor  Advisor
	status   StatusProvider
	log      logger.Logger
	metrics  metrics.Recorder
	gatherer prometheus.Gatherer
	now      func() time.Time
}

type Option func(*Handler)

func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		h.log = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithGatherer exposes g on GET /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = g
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func NewHandler(samples Samples, advisor Advisor, status StatusProvider, opts ...Option) *Handler {
	h := &Handler{
		samples: samples,
		advisor: advisor,
		status:  status,
		log:     logger.New("api"),
		metrics: metrics.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the gin engine with all routes registered
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.observe())
	h.RegisterRoutes(router)
	return router
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(h.gatherer)))
	}

	api := router.Group("/api")
	api.GET("/readings", h.RecentReadings)
	api.GET("/readings/range", h.RangeReadings)
	api.POST("/readings", h.CreateReading)
	api.GET("/aggregates", h.Aggregates)
	api.POST("/analysis", h.Analysis)
	api.GET("/status", h.Status)
}

// observe logs and counts every request by its route pattern
func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()

		h.metrics.ObserveHTTP(route, c.Request.Method, status, elapsed)
		h.log.Debug().
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("Request served")
	}
}

type readingsResponse struct {
	Readings []telemetry.Sample `json:"readings"`
	Degraded bool               `json:"degraded,omitempty"`
}

type aggregateResponse struct {
	telemetry.Aggregate
	Degraded bool `json:"degraded,omitempty"`
}

type analysisRequest struct {
	Hours *int `json:"hours"`
}

type analysisResponse struct {
	Aggregates     telemetry.Aggregate `json:"aggregates"`
	Summary        advisory.Summary    `json:"summary"`
	Recommendation string              `json:"recommendation"`
	Degraded       bool                `json:"degraded,omitempty"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Status())
}

func (h *Handler) RecentReadings(c *gin.Context) {
	limit, err := intParam(c, "limit", defaultLimit)
	if err != nil {
		badRequest(c, err)
		return
	}
	limit = min(limit, maxLimit)

	samples, err := h.samples.Recent(c.Request.Context(), limit)
	h.respondReadings(c, samples, err)
}

func (h *Handler) RangeReadings(c *gin.Context) {
	start, err := timeParam(c, "start")
	if err != nil {
		badRequest(c, err)
		return
	}
	end, err := timeParam(c, "end")
	if err != nil {
		badRequest(c, err)
		return
	}
	if end.Before(start) {
		badRequest(c, errors.New().WithMessage(ErrInvalidParam, "end is before start"))
		return
	}

	samples, err := h.samples.InRange(c.Request.Context(), start, end)
	h.respondReadings(c, samples, err)
}

func (h *Handler) CreateReading(c *gin.Context) {
	errFactory := errors.New()

	var fields telemetry.Fields
	if err := c.ShouldBindJSON(&fields); err != nil {
		badRequest(c, errFactory.Wrap(ErrInvalidBody, err))
		return
	}
	if fields.Empty() {
		badRequest(c, errFactory.WithMessage(ErrInvalidBody, "no sensor values"))
		return
	}

	sample, err := h.samples.Insert(c.Request.Context(), fields)
	if err != nil {
		if errors.HasCode(err, telemetry.ErrInvalidTimestamp) {
			badRequest(c, err)
			return
		}
		if isDegraded(err) {
			h.log.Warn().Err(err).Msg("Insert rejected, storage unavailable")
			c.JSON(http.StatusServiceUnavailable, errorBody(err))
			return
		}
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sample)
}

func (h *Handler) Aggregates(c *gin.Context) {
	hours, err := intParam(c, "hours", defaultHours)
	if err != nil {
		badRequest(c, err)
		return
	}
	if hours > maxHours {
		badRequest(c, errors.New().WithData(ErrInvalidParam, "hours"))
		return
	}

	agg, degraded, err := h.aggregate(c, hours)
	if err != nil {
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, aggregateResponse{Aggregate: agg, Degraded: degraded})
}

func (h *Handler) Analysis(c *gin.Context) {
	errFactory := errors.New()

	// an empty body selects the default window
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, errFactory.Wrap(ErrInvalidBody, err))
		return
	}

	hours := defaultHours
	if req.Hours != nil {
		hours = *req.Hours
	}
	if hours <= 0 || hours > maxHours {
		badRequest(c, errFactory.WithData(ErrInvalidParam, "hours"))
		return
	}

	agg, degraded, err := h.aggregate(c, hours)
	if err != nil {
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, analysisResponse{
		Aggregates:     agg,
		Summary:        advisory.Summarize(agg),
		Recommendation: h.advisor.Advise(c.Request.Context(), agg),
		Degraded:       degraded,
	})
}

// aggregate falls back to an empty window when storage is unavailable
func (h *Handler) aggregate(c *gin.Context, hours int) (telemetry.Aggregate, bool, error) {
	now := h.now().UTC()
	since := now.Add(-time.Duration(hours) * time.Hour)

	agg, err := h.samples.Aggregate(c.Request.Context(), since)
	if err != nil {
		if isDegraded(err) {
			h.log.Warn().Err(err).Msg("Serving degraded aggregate")
			return telemetry.Aggregate{Since: since, Until: now}, true, nil
		}
		return telemetry.Aggregate{}, false, err
	}
	return agg, false, nil
}

func (h *Handler) respondReadings(c *gin.Context, samples []telemetry.Sample, err error) {
	if err != nil {
		if !isDegraded(err) {
			h.internalError(c, err)
			return
		}
		h.log.Warn().Err(err).Msg("Serving degraded readings")
		c.JSON(http.StatusOK, readingsResponse{Readings: []telemetry.Sample{}, Degraded: true})
		return
	}

	if samples == nil {
		samples = []telemetry.Sample{}
	}
	c.JSON(http.StatusOK, readingsResponse{Readings: samples})
}

func (h *Handler) internalError(c *gin.Context, err error) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		h.log.ErrorWithCode(appErr).Msg("Request failed")
	} else {
		h.log.Error().Err(err).Msg("Request failed")
	}
	c.JSON(http.StatusInternalServerError, errorBody(err))
}

func isDegraded(err error) bool {
	return supervisor.IsStorageUnavailable(err) || telemetry.IsStorageError(err)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody(err))
}

func errorBody(err error) gin.H {
	return gin.H{
		"error": err.Error(),
		"code":  errors.CodeOf(err),
	}
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New().WithData(ErrInvalidParam, name)
	}
	return v, nil
}

func timeParam(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, errors.New().WithMessage(ErrInvalidParam, name+" is required")
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New().WithData(ErrInvalidParam, name)
	}
	return t, nil
}
