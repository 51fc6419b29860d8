package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

const (
	DefaultOpenMeteoURL = "https://api.open-meteo.com/v1"
	MaxForecastDays     = 16
	openMeteoTimeLayout = "2006-01-02T15:04"
)

var hourlyVariables = []string{
	"temperature_2m",
	"apparent_temperature",
	"precipitation_probability",
	"precipitation",
	"rain",
	"weather_code",
	"pressure_msl",
	"cloud_cover",
	"cloud_cover_low",
	"visibility",
	"wind_speed_10m",
	"wind_direction_10m",
	"wind_gusts_10m",
}

type OpenMeteoClient struct {
	baseURL string
	fetcher
}

func NewOpenMeteoClient(baseURL string) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	return &OpenMeteoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: newFetcher("openmeteo"),
	}
}

type openMeteoResponse struct {
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Hourly    openMeteoHours `json:"hourly"`
}

type openMeteoHours struct {
	Time                []string   `json:"time"`
	Temperature         []*float64 `json:"temperature_2m"`
	ApparentTemperature []*float64 `json:"apparent_temperature"`
	PrecipProbability   []*float64 `json:"precipitation_probability"`
	Precipitation       []*float64 `json:"precipitation"`
	Rain                []*float64 `json:"rain"`
	WeatherCode         []*float64 `json:"weather_code"`
	Pressure            []*float64 `json:"pressure_msl"`
	CloudCover          []*float64 `json:"cloud_cover"`
	CloudCoverLow       []*float64 `json:"cloud_cover_low"`
	Visibility          []*float64 `json:"visibility"`
	WindSpeed           []*float64 `json:"wind_speed_10m"`
	WindDirection       []*float64 `json:"wind_direction_10m"`
	WindGusts           []*float64 `json:"wind_gusts_10m"`
}

// ForecastURL builds the hourly forecast request for a point.
func (c *OpenMeteoClient) ForecastURL(lat, lon float64, days int) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("hourly", strings.Join(hourlyVariables, ","))
	q.Set("forecast_days", strconv.Itoa(clampDays(days)))
	q.Set("timezone", "UTC")
	return c.baseURL + "/forecast?" + q.Encode()
}

func clampDays(days int) int {
	return max(1, min(days, MaxForecastDays))
}

// FetchHourly fetches and parses the hourly forecast for a point. The result
// carries the raw body even when parsing fails.
func (c *OpenMeteoClient) FetchHourly(ctx context.Context, lat, lon float64, days int) ([]models.HourlyObservation, *FetchResult, error) {
	result := &FetchResult{}
	body, err := c.get(ctx, c.ForecastURL(lat, lon, days), result)
	if err != nil {
		return nil, result, err
	}

	observations, parsed, err := ParseHourly(body)
	if parsed != nil {
		result.ParseErrors = parsed.ParseErrors
		result.ParseError = parsed.ParseError
	}
	if err != nil {
		return nil, result, err
	}
	result.RecordCount = parsed.RecordCount
	result.ParseErrors = parsed.ParseErrors
	result.ParseError = parsed.ParseError
	result.FlaggedValues = parsed.FlaggedValues
	return observations, result, nil
}

// ParseHourly decodes an Open-Meteo hourly response. Any unparseable or
// non-hourly timestamp fails the whole response; out-of-range values are
// dropped.
func ParseHourly(body []byte) ([]models.HourlyObservation, *FetchResult, error) {
	var data openMeteoResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal: %w", err)
	}

	result := &FetchResult{ResponseSize: len(body)}
	h := data.Hourly
	observations := make([]models.HourlyObservation, 0, len(h.Time))
	var parseErrors []string

	var prev time.Time
	for i, ts := range h.Time {
		t, err := time.ParseInLocation(openMeteoTimeLayout, ts, time.UTC)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("time[%d]=%q: %v", i, ts, err))
			continue
		}
		if !prev.IsZero() && !t.Equal(prev.Add(time.Hour)) {
			parseErrors = append(parseErrors, fmt.Sprintf("time[%d]=%q: not one hour after %s", i, ts, prev.Format(openMeteoTimeLayout)))
		}
		prev = t

		obs := models.HourlyObservation{
			Time:                t,
			Temperature:         floatAt(h.Temperature, i),
			ApparentTemperature: floatAt(h.ApparentTemperature, i),
			WindSpeed:           floatAt(h.WindSpeed, i),
			WindDirection:       intAt(h.WindDirection, i),
			WindGusts:           floatAt(h.WindGusts, i),
			Pressure:            floatAt(h.Pressure, i),
			PrecipProbability:   intAt(h.PrecipProbability, i),
			Precipitation:       floatAt(h.Precipitation, i),
			Rain:                floatAt(h.Rain, i),
			CloudCover:          intAt(h.CloudCover, i),
			CloudCoverLow:       intAt(h.CloudCoverLow, i),
			Visibility:          intAt(h.Visibility, i),
			WeatherCode:         intAt(h.WeatherCode, i),
		}
		result.FlaggedValues += len(SanitizeHourly(&obs))
		observations = append(observations, obs)
	}

	if len(parseErrors) > 0 {
		result.ParseErrors = len(parseErrors)
		result.ParseError = fmt.Sprintf("%d parse errors: %v", len(parseErrors), parseErrors[0])
		return nil, result, fmt.Errorf("%w: %s", models.ErrInvalidInput, result.ParseError)
	}
	result.RecordCount = len(observations)
	return observations, result, nil
}

func floatAt(values []*float64, i int) sql.NullFloat64 {
	if i >= len(values) || values[i] == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *values[i], Valid: true}
}

func intAt(values []*float64, i int) sql.NullInt64 {
	if i >= len(values) || values[i] == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*values[i]), Valid: true}
}
