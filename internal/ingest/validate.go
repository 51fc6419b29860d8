package ingest

import (
	"database/sql"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

const (
	FlagTempOutOfRange        = "temp_out_of_range"
	FlagApparentOutOfRange    = "apparent_temp_out_of_range"
	FlagWindSpeedUnlikely     = "wind_speed_unlikely"
	FlagWindGustUnlikely      = "wind_gust_unlikely"
	FlagWindDirInvalid        = "wind_dir_invalid"
	FlagPressureOutOfRange    = "pressure_out_of_range"
	FlagProbabilityInvalid    = "precip_probability_invalid"
	FlagPrecipNegative        = "precip_negative"
	FlagRainNegative          = "rain_negative"
	FlagCloudCoverInvalid     = "cloud_cover_invalid"
	FlagCloudCoverLowInvalid  = "cloud_cover_low_invalid"
	FlagVisibilityNegative    = "visibility_negative"
	FlagWeatherCodeOutOfRange = "weather_code_out_of_range"
)

// ValidateHourly returns a flag for every value outside its physical range.
func ValidateHourly(obs *models.HourlyObservation) []string {
	var flags []string

	if outside(obs.Temperature, -90, 60) {
		flags = append(flags, FlagTempOutOfRange)
	}
	if outside(obs.ApparentTemperature, -110, 75) {
		flags = append(flags, FlagApparentOutOfRange)
	}
	if outside(obs.WindSpeed, 0, 400) {
		flags = append(flags, FlagWindSpeedUnlikely)
	}
	if outside(obs.WindGusts, 0, 500) {
		flags = append(flags, FlagWindGustUnlikely)
	}
	if outsideInt(obs.WindDirection, 0, 360) {
		flags = append(flags, FlagWindDirInvalid)
	}
	if outside(obs.Pressure, 850, 1090) {
		flags = append(flags, FlagPressureOutOfRange)
	}
	if outsideInt(obs.PrecipProbability, 0, 100) {
		flags = append(flags, FlagProbabilityInvalid)
	}
	if obs.Precipitation.Valid && obs.Precipitation.Float64 < 0 {
		flags = append(flags, FlagPrecipNegative)
	}
	if obs.Rain.Valid && obs.Rain.Float64 < 0 {
		flags = append(flags, FlagRainNegative)
	}
	if outsideInt(obs.CloudCover, 0, 100) {
		flags = append(flags, FlagCloudCoverInvalid)
	}
	if outsideInt(obs.CloudCoverLow, 0, 100) {
		flags = append(flags, FlagCloudCoverLowInvalid)
	}
	if obs.Visibility.Valid && obs.Visibility.Int64 < 0 {
		flags = append(flags, FlagVisibilityNegative)
	}
	if outsideInt(obs.WeatherCode, 0, 99) {
		flags = append(flags, FlagWeatherCodeOutOfRange)
	}

	return flags
}

// SanitizeHourly clears every flagged value so it is treated as unknown, and
// returns the flags.
func SanitizeHourly(obs *models.HourlyObservation) []string {
	flags := ValidateHourly(obs)
	for _, f := range flags {
		switch f {
		case FlagTempOutOfRange:
			obs.Temperature = sql.NullFloat64{}
		case FlagApparentOutOfRange:
			obs.ApparentTemperature = sql.NullFloat64{}
		case FlagWindSpeedUnlikely:
			obs.WindSpeed = sql.NullFloat64{}
		case FlagWindGustUnlikely:
			obs.WindGusts = sql.NullFloat64{}
		case FlagWindDirInvalid:
			obs.WindDirection = sql.NullInt64{}
		case FlagPressureOutOfRange:
			obs.Pressure = sql.NullFloat64{}
		case FlagProbabilityInvalid:
			obs.PrecipProbability = sql.NullInt64{}
		case FlagPrecipNegative:
			obs.Precipitation = sql.NullFloat64{}
		case FlagRainNegative:
			obs.Rain = sql.NullFloat64{}
		case FlagCloudCoverInvalid:
			obs.CloudCover = sql.NullInt64{}
		case FlagCloudCoverLowInvalid:
			obs.CloudCoverLow = sql.NullInt64{}
		case FlagVisibilityNegative:
			obs.Visibility = sql.NullInt64{}
		case FlagWeatherCodeOutOfRange:
			obs.WeatherCode = sql.NullInt64{}
		}
	}
	return flags
}

func outside(v sql.NullFloat64, lo, hi float64) bool {
	return v.Valid && (v.Float64 < lo || v.Float64 > hi)
}

func outsideInt(v sql.NullInt64, lo, hi int64) bool {
	return v.Valid && (v.Int64 < lo || v.Int64 > hi)
}
