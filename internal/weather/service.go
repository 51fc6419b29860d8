// Package weather serves enriched hourly forecasts, caching upstream
// responses for a bounded time.
package weather

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/cache"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/forecast"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/ingest"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

const DefaultCacheTTL = time.Hour

// Service owns its cache; call Close when done.
type Service struct {
	client *ingest.OpenMeteoClient
	cache  cache.Cache
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewService(client *ingest.OpenMeteoClient, c cache.Cache, ttl time.Duration, clock clockwork.Clock) *Service {
	if c == nil {
		c = cache.NewMemory(clock)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{client: client, cache: c, ttl: ttl, clock: clock}
}

func cacheKey(lat, lon float64, days int) string {
	return fmt.Sprintf("openmeteo:%.4f,%.4f:%d", lat, lon, days)
}

// Forecast returns enriched hourly observations for a point. Upstream
// bodies are cached and re-parsed on a hit.
func (s *Service) Forecast(ctx context.Context, lat, lon float64, days int) ([]models.EnrichedObservation, error) {
	hourly, err := s.hourly(ctx, lat, lon, days)
	if err != nil {
		return nil, err
	}
	return forecast.Enrich(hourly)
}

func (s *Service) hourly(ctx context.Context, lat, lon float64, days int) ([]models.HourlyObservation, error) {
	key := cacheKey(lat, lon, days)

	body, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Printf("weather: cache get %s: %v", key, err)
	}
	if ok {
		observations, _, err := ingest.ParseHourly(body)
		if err == nil {
			return observations, nil
		}
		log.Printf("weather: discarding cached %s: %v", key, err)
	}

	observations, result, err := s.client.FetchHourly(ctx, lat, lon, days)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	if err := s.cache.Set(ctx, key, result.Body, s.ttl); err != nil {
		log.Printf("weather: cache set %s: %v", key, err)
	}
	return observations, nil
}

// Current returns the enriched hour closest to now, or nil when the
// forecast is empty.
func (s *Service) Current(ctx context.Context, lat, lon float64) (*models.EnrichedObservation, error) {
	enriched, err := s.Forecast(ctx, lat, lon, 1)
	if err != nil {
		return nil, err
	}
	if len(enriched) == 0 {
		return nil, nil
	}

	now := s.clock.Now()
	best := 0
	bestGap := absDuration(enriched[0].Time.Sub(now))
	for i := 1; i < len(enriched); i++ {
		if gap := absDuration(enriched[i].Time.Sub(now)); gap < bestGap {
			best, bestGap = i, gap
		}
	}
	current := enriched[best]
	return &current, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (s *Service) Close() {
	s.cache.Close()
}
