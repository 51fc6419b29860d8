package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/cache"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/ingest"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

// body renders hours 00:00..n-1 on 2025-04-15 with pressure falling 1 hPa/h.
func body(n int) string {
	times := make([]string, n)
	pressures := make([]string, n)
	for i := 0; i < n; i++ {
		times[i] = fmt.Sprintf(`"2025-04-15T%02d:00"`, i)
		pressures[i] = fmt.Sprintf("%.1f", 1015.0-float64(i))
	}
	return fmt.Sprintf(`{"hourly":{"time":[%s],"pressure_msl":[%s]}}`,
		strings.Join(times, ","), strings.Join(pressures, ","))
}

func newTestService(t *testing.T, at time.Time, status int) (*Service, *atomic.Int32, *clockwork.FakeClock) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte(body(6)))
	}))
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClockAt(at)
	svc := NewService(ingest.NewOpenMeteoClient(srv.URL), cache.NewMemory(clock), time.Hour, clock)
	t.Cleanup(svc.Close)
	return svc, &calls, clock
}

func TestForecast_EnrichesAndCaches(t *testing.T) {
	ctx := context.Background()
	svc, calls, clock := newTestService(t, time.Date(2025, 4, 15, 2, 10, 0, 0, time.UTC), http.StatusOK)

	first, err := svc.Forecast(ctx, 29.5647, -94.3912, 7)
	require.NoError(t, err)
	require.Len(t, first, 6)
	assert.InDelta(t, -3.0, first[3].PressureDelta3h.Float64, 1e-9)
	assert.Equal(t, models.TrendFallingRapidly, first[3].PressureTrend)

	second, err := svc.Forecast(ctx, 29.5647, -94.3912, 7)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "second call should be served from cache")

	_, err = svc.Forecast(ctx, 29.5647, -94.3912, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "different day count is a different key")

	clock.Advance(time.Hour)
	_, err = svc.Forecast(ctx, 29.5647, -94.3912, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "expired entry should be refetched")
}

func TestCurrent_PicksClosestHour(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2025, 4, 15, 2, 40, 0, 0, time.UTC), http.StatusOK)

	current, err := svc.Current(context.Background(), 41.96, -82.52)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, time.Date(2025, 4, 15, 3, 0, 0, 0, time.UTC), current.Time)
}

func TestForecast_UpstreamFailure(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), http.StatusNotFound)

	_, err := svc.Forecast(context.Background(), 29.5, -94.4, 7)
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "openmeteo:29.5647,-94.3912:7", cacheKey(29.56471, -94.39119, 7))
}
