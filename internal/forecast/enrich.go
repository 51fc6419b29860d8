package forecast

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

const (
	shortLookback = 3  // hours
	longLookback  = 24 // hours

	frontalPressureDrop = -3.0 // hPa over 3h
	frontalTempSwing    = 5.0  // °C over 24h
)

// Enrich derives deltas, frontal passage, pressure trend and labels for an
// hourly sequence. Index i is assumed to be exactly i hours after index 0,
// so the input must be strictly increasing in time.
func Enrich(observations []models.HourlyObservation) ([]models.EnrichedObservation, error) {
	if err := validateSequence(observations); err != nil {
		return nil, err
	}

	results := make([]models.EnrichedObservation, len(observations))
	for i, obs := range observations {
		e := models.EnrichedObservation{HourlyObservation: obs}

		if i >= shortLookback {
			e.PressureDelta3h = delta(obs.Pressure, observations[i-shortLookback].Pressure)
		}
		if i >= longLookback {
			prev := observations[i-longLookback]
			e.PressureDelta24h = delta(obs.Pressure, prev.Pressure)
			e.TemperatureDelta24h = delta(obs.Temperature, prev.Temperature)
		}

		e.IsFrontalPassage = isFrontalPassage(observations, i, e.PressureDelta3h)
		if e.IsFrontalPassage {
			e.FrontType = frontType(e.TemperatureDelta24h)
		}
		e.PressureTrend = PressureTrend(e.PressureDelta3h)

		if obs.WindDirection.Valid {
			e.WindDirectionLabel = sql.NullString{String: CompassLabel(int(obs.WindDirection.Int64)), Valid: true}
		}
		if obs.WeatherCode.Valid {
			e.WeatherDescription = sql.NullString{String: WeatherDescription(int(obs.WeatherCode.Int64)), Valid: true}
		}

		results[i] = e
	}
	return results, nil
}

func validateSequence(observations []models.HourlyObservation) error {
	for i, obs := range observations {
		if obs.Time.IsZero() {
			return fmt.Errorf("%w: missing timestamp at index %d", models.ErrInvalidInput, i)
		}
		if i > 0 && !obs.Time.After(observations[i-1].Time) {
			return fmt.Errorf("%w: timestamp %s at index %d does not follow %s",
				models.ErrInvalidInput, obs.Time.Format("2006-01-02T15:04"), i,
				observations[i-1].Time.Format("2006-01-02T15:04"))
		}
	}
	return nil
}

// present treats zero as missing. The upstream service has always skipped
// deltas when either endpoint reads exactly 0, and scores depend on that.
func present(v sql.NullFloat64) bool {
	return v.Valid && v.Float64 != 0
}

func delta(current, previous sql.NullFloat64) sql.NullFloat64 {
	if !present(current) || !present(previous) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: round2(current.Float64 - previous.Float64), Valid: true}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func isFrontalPassage(observations []models.HourlyObservation, i int, pressureDelta3h sql.NullFloat64) bool {
	if i < shortLookback {
		return false
	}

	if pressureDelta3h.Valid && pressureDelta3h.Float64 < frontalPressureDrop {
		return true
	}

	prevDir := observations[i-shortLookback].WindDirection
	currDir := observations[i].WindDirection
	if prevDir.Valid && currDir.Valid {
		// S/SW to N/NW shift marks a cold front.
		if IsSoutherly(int(prevDir.Int64)) && IsNortherly(int(currDir.Int64)) {
			return true
		}
	}
	return false
}

// frontType never yields stationary or occluded: anything not clearly warm
// is reported as a cold front.
func frontType(tempDelta24h sql.NullFloat64) models.FrontType {
	if tempDelta24h.Valid {
		if tempDelta24h.Float64 < -frontalTempSwing {
			return models.FrontCold
		}
		if tempDelta24h.Float64 > frontalTempSwing {
			return models.FrontWarm
		}
	}
	return models.FrontCold
}

// PressureTrend classifies a 3-hour pressure change.
func PressureTrend(delta3h sql.NullFloat64) models.PressureTrend {
	if !delta3h.Valid {
		return models.TrendUnknown
	}
	d := delta3h.Float64
	switch {
	case d < -2:
		return models.TrendFallingRapidly
	case d < -0.5:
		return models.TrendFalling
	case d > 2:
		return models.TrendRisingRapidly
	case d > 0.5:
		return models.TrendRising
	default:
		return models.TrendSteady
	}
}

// IsSoutherly reports wind from 135-225 degrees inclusive.
func IsSoutherly(deg int) bool {
	return deg >= 135 && deg <= 225
}

// IsNortherly reports wind from 315-360 or 0-45 degrees.
func IsNortherly(deg int) bool {
	return deg >= 315 || deg <= 45
}
