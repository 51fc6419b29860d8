package models

import (
	"database/sql"
	"errors"
	"time"
)

// ErrInvalidInput is returned when an hourly sequence has malformed or
// non-increasing timestamps.
var ErrInvalidInput = errors.New("invalid input")

// HourlyObservation is one forecast hour from the weather provider.
// Every measurement is optional; an invalid Null value means "unknown".
type HourlyObservation struct {
	Time                time.Time
	Temperature         sql.NullFloat64 // °C
	ApparentTemperature sql.NullFloat64 // °C
	WindSpeed           sql.NullFloat64 // km/h
	WindDirection       sql.NullInt64   // degrees
	WindGusts           sql.NullFloat64 // km/h
	Pressure            sql.NullFloat64 // hPa, mean sea level
	PrecipProbability   sql.NullInt64   // 0-100
	Precipitation       sql.NullFloat64 // mm
	Rain                sql.NullFloat64 // mm
	CloudCover          sql.NullInt64   // 0-100
	CloudCoverLow       sql.NullInt64   // 0-100
	Visibility          sql.NullInt64   // metres
	WeatherCode         sql.NullInt64   // WMO code
}

type FrontType string

const (
	FrontCold       FrontType = "cold"
	FrontWarm       FrontType = "warm"
	FrontStationary FrontType = "stationary"
	FrontOccluded   FrontType = "occluded"
)

type PressureTrend string

const (
	TrendFallingRapidly PressureTrend = "falling_rapidly"
	TrendFalling        PressureTrend = "falling"
	TrendSteady         PressureTrend = "steady"
	TrendRising         PressureTrend = "rising"
	TrendRisingRapidly  PressureTrend = "rising_rapidly"
	TrendUnknown        PressureTrend = "unknown"
)

// EnrichedObservation is an hourly observation with derived lookback fields.
type EnrichedObservation struct {
	HourlyObservation
	PressureDelta3h     sql.NullFloat64
	PressureDelta24h    sql.NullFloat64
	TemperatureDelta24h sql.NullFloat64
	IsFrontalPassage    bool
	FrontType           FrontType // empty when no frontal passage
	PressureTrend       PressureTrend
	WindDirectionLabel  sql.NullString
	WeatherDescription  sql.NullString
}

type Season string

const (
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonFall   Season = "fall"
	SeasonWinter Season = "winter"
)

type MigrationType string

const (
	MigrationNeotropical MigrationType = "neotropical"
	MigrationIrruption   MigrationType = "irruption"
	MigrationDispersal   MigrationType = "dispersal"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type Corridor string

const (
	CorridorGulfCoast  Corridor = "gulf_coast"
	CorridorAtlantic   Corridor = "atlantic"
	CorridorGreatLakes Corridor = "great_lakes"
	CorridorPacific    Corridor = "pacific"
	CorridorCentral    Corridor = "central"
)

// Valid reports whether c names a known corridor.
func (c Corridor) Valid() bool {
	switch c {
	case CorridorGulfCoast, CorridorAtlantic, CorridorGreatLakes, CorridorPacific, CorridorCentral:
		return true
	}
	return false
}

type Factor string

const (
	FactorFront         Factor = "front"
	FactorWind          Factor = "wind"
	FactorPrecipitation Factor = "precipitation"
	FactorPressure      Factor = "pressure"
	FactorVisibility    Factor = "visibility"
	FactorTemperature   Factor = "temperature"
)

// AllFactors lists every scored factor in reporting order.
var AllFactors = []Factor{
	FactorFront,
	FactorWind,
	FactorPrecipitation,
	FactorPressure,
	FactorVisibility,
	FactorTemperature,
}

// ScoreComponent is one factor's bounded score and explanation.
type ScoreComponent struct {
	Score       int    `json:"score"`
	Description string `json:"description"`
}

type DailyPrediction struct {
	Date               time.Time // midnight UTC
	OverallScore       int
	Label              string
	Confidence         Confidence
	Season             Season
	MigrationType      MigrationType
	Factors            map[Factor]ScoreComponent
	Summary            string
	Corridor           Corridor // empty outside every corridor
	RegionalBoost      sql.NullString
	RepresentativeTime time.Time
}

type RegionType string

const (
	RegionState          RegionType = "state"
	RegionCounty         RegionType = "county"
	RegionHotspotCluster RegionType = "hotspot_cluster"
)

// Valid reports whether t names a known region type.
func (t RegionType) Valid() bool {
	switch t {
	case RegionState, RegionCounty, RegionHotspotCluster:
		return true
	}
	return false
}

type Region struct {
	ID                string
	Name              string
	Code              string
	RegionType        RegionType
	ParentRegionID    sql.NullString
	CenterLat         float64
	CenterLon         float64
	MigrationCorridor sql.NullString
	Timezone          string
	IsCoastal         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Hotspot struct {
	ID                  string
	EBirdLocID          string
	Name                string
	Latitude            float64
	Longitude           float64
	RegionID            sql.NullString
	CountryCode         sql.NullString
	StateCode           sql.NullString
	CountyCode          sql.NullString
	HabitatType         sql.NullString
	Description         sql.NullString
	IsFalloutSite       bool
	FalloutHistoryScore int
	LastSyncedAt        sql.NullTime
	CreatedAt           time.Time
}

// StoredPrediction is a DailyPrediction persisted against a region.
type StoredPrediction struct {
	ID               string
	RegionID         string
	RegionCode       string
	RegionName       string
	Latitude         float64
	Longitude        float64
	GeneratedAt      time.Time
	AlgorithmVersion string
	DailyPrediction
}
