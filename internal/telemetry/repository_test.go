package telemetry_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"
	"codeberg.org/mutker/agrimon/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...telemetry.Option) telemetry.Store {
	t.Helper()

	cfg := telemetry.Config{DBPath: filepath.Join(t.TempDir(), "data", "sensor_data.db")}
	store, err := telemetry.NewRepository(cfg, logger.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func TestNewRepositoryRejectsEmptyPath(t *testing.T) {
	_, err := telemetry.NewRepository(telemetry.Config{}, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, telemetry.ErrInvalidDBPath))
}

func TestInsertAssignsIDAndTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(t, telemetry.WithClock(fixedClock(now)))
	ctx := context.Background()

	first, err := store.Insert(ctx, telemetry.Fields{Temperature: telemetry.Float(24.5)})
	require.NoError(t, err)
	second, err := store.Insert(ctx, telemetry.Fields{Humidity: telemetry.Float(55)})
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, now, first.CreatedAt)
	require.NotNil(t, first.Temperature)
	assert.InDelta(t, 24.5, *first.Temperature, 1e-9)
	assert.Nil(t, first.Humidity)
	assert.Nil(t, first.SoilMoisture)
}

func TestInsertKeepsExplicitTimestamp(t *testing.T) {
	store := newStore(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 6, time.FixedZone("CET", 3600))

	s, err := store.Insert(context.Background(), telemetry.Fields{CreatedAt: at})
	require.NoError(t, err)
	assert.True(t, s.CreatedAt.Equal(at))
	assert.Equal(t, time.UTC, s.CreatedAt.Location())
}

func TestInsertRejectsUnstorableTimestamp(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, at := range []time.Time{
		time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		_, err := store.Insert(ctx, telemetry.Fields{CreatedAt: at, Temperature: telemetry.Float(20)})
		require.Error(t, err, at)
		assert.True(t, errors.HasCode(err, telemetry.ErrInvalidTimestamp), at)
		assert.False(t, telemetry.IsStorageError(err))
	}

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestUnboundedRangeAndWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(t, telemetry.WithClock(fixedClock(now)))
	ctx := context.Background()

	for _, at := range []time.Time{now.Add(-time.Hour), now} {
		_, err := store.Insert(ctx, telemetry.Fields{CreatedAt: at, Temperature: telemetry.Float(20)})
		require.NoError(t, err)
	}

	all, err := store.InRange(ctx, time.Time{}, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	agg, err := store.Aggregate(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Count)
	assert.True(t, agg.Since.IsZero())
}

func TestRecentNewestFirstWithInsertionTieBreak(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var ids []int64
	for i, at := range []time.Time{base, base.Add(time.Minute), base.Add(time.Minute), base.Add(2 * time.Minute)} {
		s, err := store.Insert(ctx, telemetry.Fields{CreatedAt: at, SoilMoisture: telemetry.Float(float64(400 + i))})
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	recent, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []int64{ids[3], ids[2], ids[1]}, []int64{recent[0].ID, recent[1].ID, recent[2].ID})

	all, err := store.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecentRoundTripsNullFields(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, telemetry.Fields{Humidity: telemetry.Float(61.25)})
	require.NoError(t, err)

	recent, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Nil(t, recent[0].Temperature)
	assert.Nil(t, recent[0].SoilMoisture)
	require.NotNil(t, recent[0].Humidity)
	assert.InDelta(t, 61.25, *recent[0].Humidity, 1e-9)
}

func TestAggregateEmptyWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(t, telemetry.WithClock(fixedClock(now)))

	agg, err := store.Aggregate(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 0, agg.Count)
	assert.Nil(t, agg.AvgTemperature)
	assert.Nil(t, agg.AvgHumidity)
	assert.Nil(t, agg.AvgSoilMoisture)
	assert.Nil(t, agg.FirstReading)
	assert.Nil(t, agg.LastReading)
	assert.Equal(t, now, agg.Until)
	assert.Equal(t, now.Add(-time.Hour), agg.Since)
}

func TestAggregateAveragesOnlyPresentValues(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(t, telemetry.WithClock(fixedClock(now)))
	ctx := context.Background()

	rows := []telemetry.Fields{
		{CreatedAt: now.Add(-50 * time.Minute), Temperature: telemetry.Float(20), Humidity: telemetry.Float(50)},
		{CreatedAt: now.Add(-40 * time.Minute), Temperature: telemetry.Float(30)},
		{CreatedAt: now.Add(-30 * time.Minute)},
		// outside the window
		{CreatedAt: now.Add(-3 * time.Hour), Temperature: telemetry.Float(100), SoilMoisture: telemetry.Float(900)},
	}
	for _, f := range rows {
		_, err := store.Insert(ctx, f)
		require.NoError(t, err)
	}

	agg, err := store.Aggregate(ctx, now.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, agg.Count)
	require.NotNil(t, agg.AvgTemperature)
	assert.InDelta(t, 25.0, *agg.AvgTemperature, 1e-9)
	require.NotNil(t, agg.AvgHumidity)
	assert.InDelta(t, 50.0, *agg.AvgHumidity, 1e-9)
	assert.Nil(t, agg.AvgSoilMoisture)
	require.NotNil(t, agg.FirstReading)
	require.NotNil(t, agg.LastReading)
	assert.Equal(t, now.Add(-50*time.Minute), *agg.FirstReading)
	assert.Equal(t, now.Add(-30*time.Minute), *agg.LastReading)
}

func TestWindowAndRangeEndToEnd(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(t, telemetry.WithClock(fixedClock(now)))
	ctx := context.Background()

	// Five samples spanning two hours, two of them within the last hour.
	offsets := []time.Duration{-120 * time.Minute, -90 * time.Minute, -61 * time.Minute, -30 * time.Minute, -5 * time.Minute}
	for i, off := range offsets {
		_, err := store.Insert(ctx, telemetry.Fields{
			CreatedAt:   now.Add(off),
			Temperature: telemetry.Float(float64(10 * (i + 1))),
		})
		require.NoError(t, err)
	}

	agg, err := store.Aggregate(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Count)
	require.NotNil(t, agg.AvgTemperature)
	assert.InDelta(t, 45.0, *agg.AvgTemperature, 1e-9)

	all, err := store.InRange(ctx, now.Add(-120*time.Minute), now)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].CreatedAt.Before(all[i].CreatedAt), "range must be ascending")
	}
	assert.Equal(t, now.Add(-120*time.Minute), all[0].CreatedAt, "start bound is inclusive")

	inner, err := store.InRange(ctx, now.Add(-90*time.Minute), now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, inner, 3, "both bounds are inclusive")

	empty, err := store.InRange(ctx, now, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConcurrentInsertAndQuery(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.Insert(ctx, telemetry.Fields{Temperature: telemetry.Float(float64(i))})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			_, err := store.Recent(ctx, 10)
			assert.NoError(t, err)
			_, err = store.Aggregate(ctx, time.Unix(0, 0))
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	agg, err := store.Aggregate(ctx, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, agg.Count)

	all, err := store.Recent(ctx, writers*perWriter)
	require.NoError(t, err)
	seen := make(map[int64]bool, len(all))
	for _, s := range all {
		assert.False(t, seen[s.ID], "duplicate id %d", s.ID)
		seen[s.ID] = true
	}
}

func TestClosedStoreReportsStorageError(t *testing.T) {
	cfg := telemetry.Config{DBPath: filepath.Join(t.TempDir(), "closed.db")}
	store, err := telemetry.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Insert(context.Background(), telemetry.Fields{})
	require.Error(t, err)
	assert.True(t, telemetry.IsStorageError(err))

	_, err = store.Recent(context.Background(), 5)
	assert.True(t, telemetry.IsStorageError(err))
}

func TestSoilPercent(t *testing.T) {
	assert.InDelta(t, 0.0, telemetry.SoilPercent(100), 1e-9)
	assert.InDelta(t, 50.0, telemetry.SoilPercent(500), 1e-9)
	assert.InDelta(t, 100.0, telemetry.SoilPercent(1023), 1e-9)
}
