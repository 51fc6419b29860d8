package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/cache"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/fallout"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/metrics"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/weather"
)

const DefaultPredictionCacheTTL = 30 * time.Minute

// PredictionService scores live forecasts for arbitrary points.
type PredictionService struct {
	weather *weather.Service
	engine  *fallout.Engine
	cache   cache.Cache
	ttl     time.Duration
}

// NewPredictionService caches results in c for ttl; a nil cache disables
// result caching.
func NewPredictionService(weatherSvc *weather.Service, engine *fallout.Engine, c cache.Cache, ttl time.Duration) *PredictionService {
	if ttl <= 0 {
		ttl = DefaultPredictionCacheTTL
	}
	return &PredictionService{weather: weatherSvc, engine: engine, cache: c, ttl: ttl}
}

func predictionKey(lat, lon float64, days int) string {
	return fmt.Sprintf("predictions:%.4f,%.4f:%d", lat, lon, days)
}

// Predict fetches the enriched forecast for a point and scores each day.
func (p *PredictionService) Predict(ctx context.Context, lat, lon float64, days int) ([]models.DailyPrediction, error) {
	key := predictionKey(lat, lon, days)
	if p.cache != nil {
		if b, ok, err := p.cache.Get(ctx, key); err != nil {
			log.Printf("api: prediction cache get: %v", err)
		} else if ok {
			var cached []models.DailyPrediction
			if err := json.Unmarshal(b, &cached); err == nil {
				return cached, nil
			}
		}
	}

	enriched, err := p.weather.Forecast(ctx, lat, lon, days)
	if err != nil {
		return nil, err
	}
	predictions, err := p.engine.Predict(enriched, lat, lon)
	if err != nil {
		return nil, err
	}
	for _, pred := range predictions {
		metrics.PredictionsGenerated.WithLabelValues(pred.Label).Inc()
	}

	if p.cache != nil {
		if b, err := json.Marshal(predictions); err == nil {
			if err := p.cache.Set(ctx, key, b, p.ttl); err != nil {
				log.Printf("api: prediction cache set: %v", err)
			}
		}
	}
	return predictions, nil
}
