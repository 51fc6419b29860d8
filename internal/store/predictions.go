package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

const dateLayout = "2006-01-02"

// InsertWeatherSnapshots upserts enriched hours for a region in one
// transaction and returns the number written.
func (s *Store) InsertWeatherSnapshots(regionID string, fetchedAt time.Time, observations []models.EnrichedObservation) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin snapshots tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO weather_snapshots (region_id, forecast_time, fetched_at, temperature, apparent_temperature,
			wind_speed, wind_direction, wind_gusts, pressure, precip_probability, precipitation, rain,
			cloud_cover, cloud_cover_low, visibility, weather_code, pressure_delta_3h, pressure_delta_24h,
			temperature_delta_24h, is_frontal_passage, front_type, pressure_trend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(region_id, forecast_time) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			temperature = excluded.temperature,
			apparent_temperature = excluded.apparent_temperature,
			wind_speed = excluded.wind_speed,
			wind_direction = excluded.wind_direction,
			wind_gusts = excluded.wind_gusts,
			pressure = excluded.pressure,
			precip_probability = excluded.precip_probability,
			precipitation = excluded.precipitation,
			rain = excluded.rain,
			cloud_cover = excluded.cloud_cover,
			cloud_cover_low = excluded.cloud_cover_low,
			visibility = excluded.visibility,
			weather_code = excluded.weather_code,
			pressure_delta_3h = excluded.pressure_delta_3h,
			pressure_delta_24h = excluded.pressure_delta_24h,
			temperature_delta_24h = excluded.temperature_delta_24h,
			is_frontal_passage = excluded.is_frontal_passage,
			front_type = excluded.front_type,
			pressure_trend = excluded.pressure_trend
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range observations {
		frontType := sql.NullString{String: string(o.FrontType), Valid: o.FrontType != ""}
		if _, err := stmt.Exec(regionID, o.Time.UTC(), fetchedAt.UTC(), o.Temperature, o.ApparentTemperature,
			o.WindSpeed, o.WindDirection, o.WindGusts, o.Pressure, o.PrecipProbability, o.Precipitation, o.Rain,
			o.CloudCover, o.CloudCoverLow, o.Visibility, o.WeatherCode, o.PressureDelta3h, o.PressureDelta24h,
			o.TemperatureDelta24h, o.IsFrontalPassage, frontType, string(o.PressureTrend)); err != nil {
			return 0, fmt.Errorf("insert snapshot %s: %w", o.Time.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshots: %w", err)
	}
	return len(observations), nil
}

// CountWeatherSnapshots returns how many hours are stored for a region.
func (s *Store) CountWeatherSnapshots(regionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM weather_snapshots WHERE region_id = ?`, regionID).Scan(&n)
	return n, err
}

// UpsertPrediction stores one day's prediction for a region, replacing any
// earlier run for the same day. Returns the row ID.
func (s *Store) UpsertPrediction(p models.StoredPrediction) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.GeneratedAt.IsZero() {
		p.GeneratedAt = s.now()
	}

	factors, err := json.Marshal(p.Factors)
	if err != nil {
		return "", fmt.Errorf("marshal factors: %w", err)
	}
	corridor := sql.NullString{String: string(p.Corridor), Valid: p.Corridor != ""}
	var repTime sql.NullTime
	if !p.RepresentativeTime.IsZero() {
		repTime = sql.NullTime{Time: p.RepresentativeTime.UTC(), Valid: true}
	}

	var id string
	err = s.db.QueryRow(`
		INSERT INTO predictions (id, region_id, prediction_date, overall_score, score_label, confidence,
			season, migration_type, factors_json, summary, corridor, regional_boost, representative_time,
			generated_at, algorithm_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(region_id, prediction_date) DO UPDATE SET
			overall_score = excluded.overall_score,
			score_label = excluded.score_label,
			confidence = excluded.confidence,
			season = excluded.season,
			migration_type = excluded.migration_type,
			factors_json = excluded.factors_json,
			summary = excluded.summary,
			corridor = excluded.corridor,
			regional_boost = excluded.regional_boost,
			representative_time = excluded.representative_time,
			generated_at = excluded.generated_at,
			algorithm_version = excluded.algorithm_version
		RETURNING id
	`, p.ID, p.RegionID, p.Date.Format(dateLayout), p.OverallScore, p.Label, string(p.Confidence),
		string(p.Season), string(p.MigrationType), string(factors), p.Summary, corridor, p.RegionalBoost,
		repTime, p.GeneratedAt.UTC(), p.AlgorithmVersion).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert prediction %s %s: %w", p.RegionID, p.Date.Format(dateLayout), err)
	}
	return id, nil
}

const predictionColumns = `p.id, p.region_id, r.code, r.name, COALESCE(r.center_lat, 0), COALESCE(r.center_lon, 0),
	p.prediction_date, p.overall_score, p.score_label, p.confidence, p.season, p.migration_type,
	p.factors_json, p.summary, p.corridor, p.regional_boost, p.representative_time, p.generated_at,
	p.algorithm_version`

func (s *Store) queryPredictions(query string, args ...any) ([]models.StoredPrediction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.StoredPrediction
	for rows.Next() {
		var p models.StoredPrediction
		var date, confidence, season, migration, factors string
		var corridor sql.NullString
		var repTime sql.NullTime
		if err := rows.Scan(&p.ID, &p.RegionID, &p.RegionCode, &p.RegionName, &p.Latitude, &p.Longitude,
			&date, &p.OverallScore, &p.Label, &confidence, &season, &migration,
			&factors, &p.Summary, &corridor, &p.RegionalBoost, &repTime, &p.GeneratedAt,
			&p.AlgorithmVersion); err != nil {
			return nil, err
		}
		if p.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parse prediction date %q: %w", date, err)
		}
		if err := json.Unmarshal([]byte(factors), &p.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal factors for %s: %w", p.ID, err)
		}
		p.Confidence = models.Confidence(confidence)
		p.Season = models.Season(season)
		p.MigrationType = models.MigrationType(migration)
		p.Corridor = models.Corridor(corridor.String)
		if repTime.Valid {
			p.RepresentativeTime = repTime.Time
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// TopPredictions ranks every region's prediction for date by score.
func (s *Store) TopPredictions(date time.Time, limit int) ([]models.StoredPrediction, error) {
	return s.queryPredictions(`
		SELECT `+predictionColumns+`
		FROM predictions p JOIN regions r ON r.id = p.region_id
		WHERE p.prediction_date = ?
		ORDER BY p.overall_score DESC, r.code
		LIMIT ?
	`, date.Format(dateLayout), limit)
}

// PredictionsForRegion returns up to days consecutive daily predictions
// starting at from, in date order.
func (s *Store) PredictionsForRegion(regionID string, from time.Time, days int) ([]models.StoredPrediction, error) {
	end := from.AddDate(0, 0, days)
	return s.queryPredictions(`
		SELECT `+predictionColumns+`
		FROM predictions p JOIN regions r ON r.id = p.region_id
		WHERE p.region_id = ? AND p.prediction_date >= ? AND p.prediction_date < ?
		ORDER BY p.prediction_date
	`, regionID, from.Format(dateLayout), end.Format(dateLayout))
}

// PredictionsForDate returns predictions for date scoring at least minScore.
func (s *Store) PredictionsForDate(date time.Time, minScore int) ([]models.StoredPrediction, error) {
	return s.queryPredictions(`
		SELECT `+predictionColumns+`
		FROM predictions p JOIN regions r ON r.id = p.region_id
		WHERE p.prediction_date = ? AND p.overall_score >= ?
		ORDER BY p.overall_score DESC, r.code
	`, date.Format(dateLayout), minScore)
}
