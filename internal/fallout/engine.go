// Package fallout scores enriched hourly weather into daily bird fallout
// predictions.
package fallout

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

// AlgorithmVersion is stored with every persisted prediction.
const AlgorithmVersion = "1.0.0"

// Engine turns enriched hourly observations into daily predictions. It
// holds no mutable state and is safe for concurrent use.
type Engine struct {
	clock clockwork.Clock
}

// NewEngine returns an engine reading "now" from clock. A nil clock uses
// the real wall clock.
func NewEngine(clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{clock: clock}
}

// Predict groups observations by UTC calendar day and scores each day's
// most extreme hour. Output is in ascending date order with one entry per
// day present in the input.
func (e *Engine) Predict(observations []models.EnrichedObservation, lat, lon float64) ([]models.DailyPrediction, error) {
	now := e.clock.Now()

	days := make(map[time.Time][]models.EnrichedObservation)
	for i, obs := range observations {
		if obs.Time.IsZero() {
			return nil, fmt.Errorf("%w: missing timestamp at index %d", models.ErrInvalidInput, i)
		}
		day := dayOf(obs.Time)
		days[day] = append(days[day], obs)
	}

	dates := make([]time.Time, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	corridor := CorridorFor(lat, lon)
	coastal := IsCoastal(lat, lon)

	predictions := make([]models.DailyPrediction, 0, len(dates))
	for _, date := range dates {
		rep, ok := representative(days[date])
		if !ok {
			continue
		}
		predictions = append(predictions, e.scoreDay(date, rep, corridor, coastal, now))
	}
	return predictions, nil
}

func (e *Engine) scoreDay(date time.Time, rep models.EnrichedObservation, corridor models.Corridor, coastal bool, now time.Time) models.DailyPrediction {
	season, migration := SeasonFor(date)
	cond := conditions{season: season, corridor: corridor, coastal: coastal}

	factors := make(map[models.Factor]models.ScoreComponent, len(models.AllFactors))
	raw := 0
	for _, f := range models.AllFactors {
		component := scorers[f](rep, cond)
		factors[f] = component
		raw += component.Score
	}

	score, reason := applyRegionalMultiplier(raw, corridor, season)

	p := models.DailyPrediction{
		Date:               date,
		OverallScore:       score,
		Label:              Label(score),
		Confidence:         confidenceAt(rep.Time, now),
		Season:             season,
		MigrationType:      migration,
		Factors:            factors,
		Summary:            summarize(score, factors, reason),
		Corridor:           corridor,
		RepresentativeTime: rep.Time,
	}
	if reason != "" {
		p.RegionalBoost = sql.NullString{String: reason, Valid: true}
	}
	return p
}

// representative picks the hour with the highest ranking value. Ties go to
// the earliest hour.
func representative(hours []models.EnrichedObservation) (models.EnrichedObservation, bool) {
	if len(hours) == 0 {
		return models.EnrichedObservation{}, false
	}
	best := 0
	bestValue := rankingValue(hours[0])
	for i := 1; i < len(hours); i++ {
		if v := rankingValue(hours[i]); v > bestValue {
			best, bestValue = i, v
		}
	}
	return hours[best], true
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
