package api

import (
	"database/sql"
	"time"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/hotspots"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/store"
)

const (
	dateLayout     = "2006-01-02"
	hourTimeLayout = "2006-01-02T15:04:05"
)

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ForecastHour is one enriched forecast hour as served to clients.
type ForecastHour struct {
	ForecastTime             string   `json:"forecast_time"`
	Temperature              *float64 `json:"temperature_2m"`
	ApparentTemperature      *float64 `json:"apparent_temperature"`
	WindSpeed                *float64 `json:"wind_speed_10m"`
	WindDirection            *int64   `json:"wind_direction_10m"`
	WindDirectionLabel       *string  `json:"wind_direction_label"`
	WindGusts                *float64 `json:"wind_gusts_10m"`
	Pressure                 *float64 `json:"pressure_msl"`
	PrecipitationProbability *int64   `json:"precipitation_probability"`
	Precipitation            *float64 `json:"precipitation_mm"`
	Rain                     *float64 `json:"rain_mm"`
	CloudCover               *int64   `json:"cloud_cover_total"`
	CloudCoverLow            *int64   `json:"cloud_cover_low"`
	Visibility               *int64   `json:"visibility_m"`
	WeatherCode              *int64   `json:"weather_code"`
	WeatherDescription       *string  `json:"weather_description"`
	PressureDelta3h          *float64 `json:"pressure_delta_3h"`
	PressureDelta24h         *float64 `json:"pressure_delta_24h"`
	TemperatureDelta24h      *float64 `json:"temperature_delta_24h"`
	IsFrontalPassage         bool     `json:"is_frontal_passage"`
	FrontType                *string  `json:"front_type"`
	PressureTrend            string   `json:"pressure_trend"`
}

func newForecastHour(o models.EnrichedObservation) ForecastHour {
	return ForecastHour{
		ForecastTime:             o.Time.UTC().Format(hourTimeLayout),
		Temperature:              floatPtr(o.Temperature),
		ApparentTemperature:      floatPtr(o.ApparentTemperature),
		WindSpeed:                floatPtr(o.WindSpeed),
		WindDirection:            intPtr(o.WindDirection),
		WindDirectionLabel:       stringPtr(o.WindDirectionLabel),
		WindGusts:                floatPtr(o.WindGusts),
		Pressure:                 floatPtr(o.Pressure),
		PrecipitationProbability: intPtr(o.PrecipProbability),
		Precipitation:            floatPtr(o.Precipitation),
		Rain:                     floatPtr(o.Rain),
		CloudCover:               intPtr(o.CloudCover),
		CloudCoverLow:            intPtr(o.CloudCoverLow),
		Visibility:               intPtr(o.Visibility),
		WeatherCode:              intPtr(o.WeatherCode),
		WeatherDescription:       stringPtr(o.WeatherDescription),
		PressureDelta3h:          floatPtr(o.PressureDelta3h),
		PressureDelta24h:         floatPtr(o.PressureDelta24h),
		TemperatureDelta24h:      floatPtr(o.TemperatureDelta24h),
		IsFrontalPassage:         o.IsFrontalPassage,
		FrontType:                optionalString(string(o.FrontType)),
		PressureTrend:            string(o.PressureTrend),
	}
}

func newForecastHours(observations []models.EnrichedObservation) []ForecastHour {
	hours := make([]ForecastHour, 0, len(observations))
	for _, o := range observations {
		hours = append(hours, newForecastHour(o))
	}
	return hours
}

type Prediction struct {
	Latitude       float64                                 `json:"latitude"`
	Longitude      float64                                 `json:"longitude"`
	PredictionDate string                                  `json:"prediction_date"`
	OverallScore   int                                     `json:"overall_score"`
	ScoreLabel     string                                  `json:"score_label"`
	Confidence     models.Confidence                       `json:"confidence"`
	Season         models.Season                           `json:"season"`
	MigrationType  models.MigrationType                    `json:"migration_type"`
	Factors        map[models.Factor]models.ScoreComponent `json:"factors"`
	Summary        string                                  `json:"summary"`
	Corridor       *string                                 `json:"corridor"`
	RegionalBoost  *string                                 `json:"regional_boost"`
}

func newPrediction(p models.DailyPrediction, lat, lon float64) Prediction {
	return Prediction{
		Latitude:       lat,
		Longitude:      lon,
		PredictionDate: p.Date.Format(dateLayout),
		OverallScore:   p.OverallScore,
		ScoreLabel:     p.Label,
		Confidence:     p.Confidence,
		Season:         p.Season,
		MigrationType:  p.MigrationType,
		Factors:        p.Factors,
		Summary:        p.Summary,
		Corridor:       optionalString(string(p.Corridor)),
		RegionalBoost:  stringPtr(p.RegionalBoost),
	}
}

// NewPredictions renders point predictions at lat/lon.
func NewPredictions(daily []models.DailyPrediction, lat, lon float64) []Prediction {
	out := make([]Prediction, 0, len(daily))
	for _, p := range daily {
		out = append(out, newPrediction(p, lat, lon))
	}
	return out
}

// RegionPrediction is a stored prediction with its region.
type RegionPrediction struct {
	Prediction
	RegionCode       string    `json:"region_code"`
	RegionName       string    `json:"region_name"`
	GeneratedAt      time.Time `json:"generated_at"`
	AlgorithmVersion string    `json:"algorithm_version"`
}

func newRegionPredictions(stored []models.StoredPrediction) []RegionPrediction {
	out := make([]RegionPrediction, 0, len(stored))
	for _, p := range stored {
		out = append(out, RegionPrediction{
			Prediction:       newPrediction(p.DailyPrediction, p.Latitude, p.Longitude),
			RegionCode:       p.RegionCode,
			RegionName:       p.RegionName,
			GeneratedAt:      p.GeneratedAt.UTC(),
			AlgorithmVersion: p.AlgorithmVersion,
		})
	}
	return out
}

type Hotspot struct {
	ID                  string   `json:"id"`
	EBirdLocID          string   `json:"ebird_loc_id"`
	Name                string   `json:"name"`
	Latitude            float64  `json:"latitude"`
	Longitude           float64  `json:"longitude"`
	StateCode           *string  `json:"state_code"`
	CountyCode          *string  `json:"county_code"`
	HabitatType         *string  `json:"habitat_type"`
	Description         *string  `json:"description,omitempty"`
	IsFalloutSite       bool     `json:"is_fallout_site"`
	FalloutHistoryScore int      `json:"fallout_history_score"`
	DistanceKm          *float64 `json:"distance_km"`
}

func newHotspot(h models.Hotspot) Hotspot {
	return Hotspot{
		ID:                  h.ID,
		EBirdLocID:          h.EBirdLocID,
		Name:                h.Name,
		Latitude:            h.Latitude,
		Longitude:           h.Longitude,
		StateCode:           stringPtr(h.StateCode),
		CountyCode:          stringPtr(h.CountyCode),
		HabitatType:         stringPtr(h.HabitatType),
		Description:         stringPtr(h.Description),
		IsFalloutSite:       h.IsFalloutSite,
		FalloutHistoryScore: h.FalloutHistoryScore,
	}
}

func newHotspots(list []models.Hotspot) []Hotspot {
	out := make([]Hotspot, 0, len(list))
	for _, h := range list {
		out = append(out, newHotspot(h))
	}
	return out
}

func newNearbyHotspots(list []hotspots.Nearby) []Hotspot {
	out := make([]Hotspot, 0, len(list))
	for _, n := range list {
		h := newHotspot(n.Hotspot)
		d := n.DistanceKm
		h.DistanceKm = &d
		out = append(out, h)
	}
	return out
}

type Region struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Code              string  `json:"code"`
	RegionType        string  `json:"region_type"`
	CenterLat         float64 `json:"center_lat"`
	CenterLon         float64 `json:"center_lon"`
	MigrationCorridor *string `json:"migration_corridor"`
	ParentRegionID    *string `json:"parent_region_id"`
	IsCoastal         bool    `json:"is_coastal"`
	WeatherSnapshots  *int    `json:"weather_snapshots,omitempty"`
}

func newRegion(r models.Region) Region {
	return Region{
		ID:                r.ID,
		Name:              r.Name,
		Code:              r.Code,
		RegionType:        string(r.RegionType),
		CenterLat:         r.CenterLat,
		CenterLon:         r.CenterLon,
		MigrationCorridor: stringPtr(r.MigrationCorridor),
		ParentRegionID:    stringPtr(r.ParentRegionID),
		IsCoastal:         r.IsCoastal,
	}
}

func newRegions(list []models.Region) []Region {
	out := make([]Region, 0, len(list))
	for _, r := range list {
		out = append(out, newRegion(r))
	}
	return out
}

type IngestRun struct {
	ID            int64      `json:"id"`
	Source        string     `json:"source"`
	Endpoint      string     `json:"endpoint"`
	RegionCode    *string    `json:"region_code"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	HTTPStatus    *int64     `json:"http_status"`
	ParseErrors   *int64     `json:"parse_errors"`
	FlaggedValues *int64     `json:"flagged_values"`
	ErrorMessage  *string    `json:"error_message"`
}

func newIngestRuns(runs []store.IngestRun) []IngestRun {
	out := make([]IngestRun, 0, len(runs))
	for _, r := range runs {
		v := IngestRun{
			ID:            r.ID,
			Source:        r.Source,
			Endpoint:      r.Endpoint,
			RegionCode:    optionalString(r.RegionCode),
			StartedAt:     r.StartedAt.UTC(),
			HTTPStatus:    intPtr(r.HTTPStatus),
			ParseErrors:   intPtr(r.ParseErrors),
			FlaggedValues: intPtr(r.FlaggedValues),
			ErrorMessage:  stringPtr(r.ErrorMessage),
		}
		if r.FinishedAt.Valid {
			t := r.FinishedAt.Time.UTC()
			v.FinishedAt = &t
		}
		out = append(out, v)
	}
	return out
}
