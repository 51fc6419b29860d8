package fallout

import (
	"database/sql"
	"math"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/forecast"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

// Per-factor caps. They sum to maxScore.
const (
	maxFront         = 30
	maxWind          = 25
	maxPrecipitation = 20
	maxPressure      = 10
	maxVisibility    = 10
	maxTemperature   = 5

	maxScore = 100
)

// conditions is the location and calendar context shared by every scorer.
type conditions struct {
	season   models.Season
	corridor models.Corridor
	coastal  bool
}

type scorer func(models.EnrichedObservation, conditions) models.ScoreComponent

var scorers = map[models.Factor]scorer{
	models.FactorFront:         scoreFront,
	models.FactorWind:          scoreWind,
	models.FactorPrecipitation: scorePrecipitation,
	models.FactorPressure:      scorePressure,
	models.FactorVisibility:    scoreVisibility,
	models.FactorTemperature:   scoreTemperature,
}

// caps returns the maximum score for each factor.
func caps() map[models.Factor]int {
	return map[models.Factor]int{
		models.FactorFront:         maxFront,
		models.FactorWind:          maxWind,
		models.FactorPrecipitation: maxPrecipitation,
		models.FactorPressure:      maxPressure,
		models.FactorVisibility:    maxVisibility,
		models.FactorTemperature:   maxTemperature,
	}
}

var (
	frontPressureDrop = ladder{below: true, bands: []band{
		{-4, 12, "Very rapid pressure drop"},
		{-2, 8, "Rapid pressure drop"},
		{-1, 4, "Moderate pressure drop"},
	}}
	springCooling = ladder{below: true, format: "%s (%.0f°C)", bands: []band{
		{-12, 8, "Major cold snap"},
		{-8, 5, "Significant cooling"},
		{-5, 3, "Moderate cooling"},
	}}
	fallCooling = ladder{below: true, format: "%s (%.0f°C)", bands: []band{
		{-10, 8, "Strong cold front"},
		{-6, 5, "Cold front passage"},
	}}
)

func scoreFront(obs models.EnrichedObservation, c conditions) models.ScoreComponent {
	var t tally
	if obs.IsFrontalPassage {
		t.add(10, "Frontal passage detected")
	}
	if obs.PressureDelta3h.Valid {
		t.climb(frontPressureDrop, obs.PressureDelta3h.Float64)
	}
	if obs.TemperatureDelta24h.Valid {
		switch c.season {
		case models.SeasonSpring:
			t.climb(springCooling, obs.TemperatureDelta24h.Float64)
		case models.SeasonFall:
			t.climb(fallCooling, obs.TemperatureDelta24h.Float64)
		}
	}
	return t.component(maxFront, "No significant frontal activity")
}

var (
	headwindSpeed = ladder{format: "%s (%.0f km/h)", bands: []band{
		{40, 15, "Strong"},
		{25, 10, "Moderate"},
		{15, 5, "Light"},
	}}
	gusts = ladder{format: "%s (%.0f km/h)", bands: []band{
		{60, 8, "Very strong gusts"},
		{45, 5, "Strong gusts"},
		{30, 2, "Moderate gusts"},
	}}
)

func scoreWind(obs models.EnrichedObservation, c conditions) models.ScoreComponent {
	if !obs.WindSpeed.Valid || !obs.WindDirection.Valid {
		return models.ScoreComponent{Score: 0, Description: "No wind data"}
	}
	speed := obs.WindSpeed.Float64
	dir := int(obs.WindDirection.Int64)

	var t tally
	headwind := false
	switch {
	case c.season == models.SeasonSpring && forecast.IsNortherly(dir):
		headwind = true
		t.add(0, "Northerly headwinds")
	case c.season == models.SeasonFall && forecast.IsSoutherly(dir):
		headwind = true
		t.add(0, "Southerly headwinds")
	}
	if headwind {
		t.climb(headwindSpeed, speed)
	}
	if obs.WindGusts.Valid {
		t.climb(gusts, obs.WindGusts.Float64)
	}
	if c.corridor == models.CorridorPacific && dir >= 45 && dir <= 135 && speed >= 15 {
		t.add(3, "Unusual easterly winds on Pacific coast")
	}
	return t.component(maxWind, "Favorable winds")
}

var (
	rainProbability = ladder{format: "%s (%.0f%%)", bands: []band{
		{80, 10, "High rain probability"},
		{50, 6, "Moderate rain probability"},
		{30, 3, "Some rain possible"},
	}}
	rainAmount = ladder{format: "%s (%.1fmm)", bands: []band{
		{20, 8, "Heavy rain expected"},
		{10, 5, "Moderate rain"},
		{3, 2, "Light rain"},
	}}
)

const coastalRainProbability = 40

func scorePrecipitation(obs models.EnrichedObservation, c conditions) models.ScoreComponent {
	var t tally
	if obs.PrecipProbability.Valid {
		t.climb(rainProbability, float64(obs.PrecipProbability.Int64))
	}
	if obs.Precipitation.Valid {
		t.climb(rainAmount, obs.Precipitation.Float64)
	}
	if c.coastal && obs.PrecipProbability.Valid && obs.PrecipProbability.Int64 >= coastalRainProbability {
		t.add(4, "Coastal precipitation - trans-Gulf migrants affected")
	}
	return t.component(maxPrecipitation, "Dry conditions")
}

var (
	pressureDrop24h = ladder{below: true, format: "%s (%.1f hPa)", bands: []band{
		{-10, 7, "Major pressure drop"},
		{-5, 4, "Significant pressure drop"},
		{-2, 2, "Falling pressure"},
	}}
	lowPressure = ladder{below: true, format: "%s (%.0f hPa)", bands: []band{
		{1000, 3, "Low pressure system"},
		{1008, 1, "Below average pressure"},
	}}
)

func scorePressure(obs models.EnrichedObservation, _ conditions) models.ScoreComponent {
	var t tally
	if obs.PressureDelta24h.Valid {
		t.climb(pressureDrop24h, obs.PressureDelta24h.Float64)
	}
	if obs.Pressure.Valid {
		t.climb(lowPressure, obs.Pressure.Float64)
	}
	return t.component(maxPressure, "Stable pressure")
}

var (
	poorVisibility = ladder{below: true, format: "%s (%.0fm)", bands: []band{
		{1000, 6, "Very low visibility"},
		{3000, 4, "Reduced visibility"},
		{5000, 2, "Moderate visibility"},
	}}
	lowCloud = ladder{format: "%s (%.0f%%)", bands: []band{
		{90, 4, "Very low cloud ceiling"},
		{70, 2, "Low clouds"},
	}}
	overcast = ladder{format: "%s (%.0f%%)", bands: []band{
		{95, 2, "Overcast"},
	}}
)

func scoreVisibility(obs models.EnrichedObservation, _ conditions) models.ScoreComponent {
	var t tally
	if obs.Visibility.Valid {
		t.climb(poorVisibility, float64(obs.Visibility.Int64))
	}
	// Total cover is only a fallback when the low layer is unreported.
	switch {
	case obs.CloudCoverLow.Valid:
		t.climb(lowCloud, float64(obs.CloudCoverLow.Int64))
	case obs.CloudCover.Valid:
		t.climb(overcast, float64(obs.CloudCover.Int64))
	}
	return t.component(maxVisibility, "Good visibility")
}

var (
	springCold = ladder{below: true, format: "%s (%.0f°C)", bands: []band{
		{0, 5, "Freezing conditions"},
		{5, 3, "Cold snap"},
	}}
	winterCold = ladder{below: true, format: "%s (%.0f°C)", bands: []band{
		{-20, 5, "Extreme cold"},
		{-10, 3, "Very cold"},
	}}
)

const windChillGap = 10.0

func scoreTemperature(obs models.EnrichedObservation, c conditions) models.ScoreComponent {
	if !obs.Temperature.Valid {
		return models.ScoreComponent{Score: 0, Description: "No temperature data"}
	}
	temp := obs.Temperature.Float64

	var t tally
	switch c.season {
	case models.SeasonSpring:
		t.climb(springCold, temp)
	case models.SeasonWinter:
		t.climb(winterCold, temp)
	}
	if apparent := obs.ApparentTemperature; apparent.Valid && apparent.Float64 < temp-windChillGap {
		t.add(2, "Significant wind chill")
	}
	return t.component(maxTemperature, "Normal temperatures")
}

// rankingValue is the extremity heuristic used to pick a day's
// representative hour. Missing readings count as zero here only.
func rankingValue(obs models.EnrichedObservation) float64 {
	var prob float64
	if obs.PrecipProbability.Valid {
		prob = float64(obs.PrecipProbability.Int64)
	}
	return math.Abs(orZero(obs.PressureDelta3h)) + prob/10 + orZero(obs.WindSpeed)/5
}

func orZero(v sql.NullFloat64) float64 {
	if !v.Valid {
		return 0
	}
	return v.Float64
}
