package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

// Timestamps are stored as unix nanoseconds, which bounds what can be stored
var (
	minStoredTime = time.Unix(0, math.MinInt64).UTC()
	maxStoredTime = time.Unix(0, math.MaxInt64).UTC()
)

type sqliteRepository struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
	mu     sync.RWMutex
}

// Option configures a repository
type Option func(*sqliteRepository)

// WithClock overrides the clock used for default timestamps and window ends
func WithClock(now func() time.Time) Option {
	return func(r *sqliteRepository) {
		r.now = now
	}
}

// NewRepository opens (creating if needed) the SQLite database at cfg.DBPath
func NewRepository(cfg Config, log logger.Logger, opts ...Option) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	log = log.With("path", cfg.DBPath)
	log.Debug().Msg("Initializing telemetry repository")

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=%d", cfg.DBPath, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "ping_database",
			Error: err.Error(),
		})
	}

	if err := InitSchema(db, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	repo := &sqliteRepository{
		db:     db,
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(repo)
	}

	log.Info().Msg("Telemetry repository initialized")

	return repo, nil
}

func (r *sqliteRepository) Insert(ctx context.Context, fields Fields) (Sample, error) {
	createdAt := fields.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	createdAt = createdAt.UTC()
	if createdAt.Before(minStoredTime) || createdAt.After(maxStoredTime) {
		return Sample{}, errors.New().WithData(ErrInvalidTimestamp, createdAt.Format(time.RFC3339))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, insertReadingSQL,
		createdAt.UnixNano(),
		nullable(fields.Temperature),
		nullable(fields.Humidity),
		nullable(fields.SoilMoisture),
	)
	if err != nil {
		return Sample{}, errors.New().Wrap(ErrStorageAccess, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Sample{}, errors.New().Wrap(ErrStorageAccess, err)
	}

	return Sample{
		ID:           id,
		CreatedAt:    createdAt,
		Temperature:  fields.Temperature,
		Humidity:     fields.Humidity,
		SoilMoisture: fields.SoilMoisture,
	}, nil
}

func (r *sqliteRepository) Recent(ctx context.Context, limit int) ([]Sample, error) {
	if limit <= 0 {
		return []Sample{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.query(ctx, recentReadingsSQL, limit)
}

func (r *sqliteRepository) InRange(ctx context.Context, start, end time.Time) ([]Sample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.query(ctx, rangeReadingsSQL, storedNanos(start), storedNanos(end))
}

func (r *sqliteRepository) Aggregate(ctx context.Context, since time.Time) (Aggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg := Aggregate{
		Since: since.UTC(),
		Until: r.now().UTC(),
	}

	var (
		count                 int
		avgTemp, avgHum, avgS sql.NullFloat64
		first, last           sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, aggregateReadingsSQL, storedNanos(since)).
		Scan(&count, &avgTemp, &avgHum, &avgS, &first, &last)
	if err != nil {
		return Aggregate{}, errors.New().Wrap(ErrStorageAccess, err)
	}

	agg.Count = count
	agg.AvgTemperature = nullFloat(avgTemp)
	agg.AvgHumidity = nullFloat(avgHum)
	agg.AvgSoilMoisture = nullFloat(avgS)
	agg.FirstReading = nullTime(first)
	agg.LastReading = nullTime(last)

	return agg, nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Fold the WAL back into the main file before closing
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.logger.Debug().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	r.logger.Info().Msg("Telemetry repository closed")

	return nil
}

func (r *sqliteRepository) query(ctx context.Context, query string, args ...any) ([]Sample, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		var (
			s         Sample
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &createdAt, &s.Temperature, &s.Humidity, &s.SoilMoisture); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		s.CreatedAt = time.Unix(0, createdAt).UTC()
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return samples, nil
}

// storedNanos clamps t to the storable range
func storedNanos(t time.Time) int64 {
	switch {
	case t.Before(minStoredTime):
		return math.MinInt64
	case t.After(maxStoredTime):
		return math.MaxInt64
	}
	return t.UnixNano()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return Float(v.Float64)
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
