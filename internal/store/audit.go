package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Upstream feeds recorded in the audit trail.
const (
	SourceOpenMeteo = "openmeteo"
	SourceEBird     = "ebird"

	EndpointForecast   = "forecast"
	EndpointHotspotGeo = "ref/hotspot/geo"
)

// RunTarget names what a fetch was for: one upstream endpoint at one point,
// usually on behalf of a region.
type RunTarget struct {
	Source     string
	Endpoint   string
	RegionCode string
	Lat, Lon   float64
}

// IngestRun is one audited upstream fetch and what came of it.
type IngestRun struct {
	ID int64
	RunTarget
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	HTTPStatus    sql.NullInt64
	ResponseBytes sql.NullInt64
	RecordsParsed sql.NullInt64
	RecordsStored sql.NullInt64
	ParseErrors   sql.NullInt64
	FlaggedValues sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// Fail marks the run failed with err's message.
func (r *IngestRun) Fail(err error) {
	r.Success = false
	r.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
}

// BeginRun records the start of a fetch. The run stays failed until
// FinishRun is called with Success set.
func (s *Store) BeginRun(target RunTarget) (*IngestRun, error) {
	run := &IngestRun{RunTarget: target, StartedAt: s.now()}

	var region sql.NullString
	if target.RegionCode != "" {
		region = sql.NullString{String: target.RegionCode, Valid: true}
	}
	res, err := s.db.Exec(`
		INSERT INTO ingest_runs (source, endpoint, region_code, latitude, longitude, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, target.Source, target.Endpoint, region, target.Lat, target.Lon, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("begin %s run: %w", target.Source, err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return run, nil
}

// FinishRun stamps the finish time and writes the outcome. A nil run is a
// no-op so callers can finish a run whose BeginRun failed.
func (s *Store) FinishRun(run *IngestRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: s.now(), Valid: true}
	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?, http_status = ?, response_bytes = ?,
			records_parsed = ?, records_stored = ?, parse_errors = ?,
			flagged_values = ?, success = ?, error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseBytes,
		run.RecordsParsed, run.RecordsStored, run.ParseErrors,
		run.FlaggedValues, run.Success, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", run.ID, err)
	}
	return nil
}

// FeedHealth summarizes one source/endpoint over a window.
type FeedHealth struct {
	Source        string     `json:"source"`
	Endpoint      string     `json:"endpoint"`
	Runs          int        `json:"runs"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	Records       int64      `json:"records_stored"`
	ParseErrors   int64      `json:"parse_errors"`
	FlaggedValues int64      `json:"flagged_values"`
	LastSuccessAt *time.Time `json:"last_success_at"`
}

// FeedHealthSince summarizes runs started in the last days, one row per
// feed, along with each feed's most recent success at any time.
func (s *Store) FeedHealthSince(days int) ([]FeedHealth, error) {
	since := s.now().AddDate(0, 0, -days)
	rows, err := s.db.Query(`
		SELECT source, endpoint,
			COUNT(*),
			SUM(CASE WHEN success THEN 1 ELSE 0 END),
			COALESCE(SUM(records_stored), 0),
			COALESCE(SUM(parse_errors), 0),
			COALESCE(SUM(flagged_values), 0)
		FROM ingest_runs
		WHERE started_at >= ?
		GROUP BY source, endpoint
		ORDER BY source, endpoint
	`, since)
	if err != nil {
		return nil, fmt.Errorf("feed health: %w", err)
	}

	var feeds []FeedHealth
	for rows.Next() {
		var f FeedHealth
		if err := rows.Scan(&f.Source, &f.Endpoint, &f.Runs, &f.Succeeded,
			&f.Records, &f.ParseErrors, &f.FlaggedValues); err != nil {
			rows.Close()
			return nil, err
		}
		f.Failed = f.Runs - f.Succeeded
		feeds = append(feeds, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range feeds {
		var last time.Time
		err := s.db.QueryRow(`
			SELECT finished_at FROM ingest_runs
			WHERE source = ? AND endpoint = ? AND success
			ORDER BY finished_at DESC LIMIT 1
		`, feeds[i].Source, feeds[i].Endpoint).Scan(&last)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return nil, fmt.Errorf("last success %s: %w", feeds[i].Source, err)
		default:
			last = last.UTC()
			feeds[i].LastSuccessAt = &last
		}
	}
	return feeds, nil
}

// RecentFailures returns the newest failed runs first.
func (s *Store) RecentFailures(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, source, endpoint, region_code, latitude, longitude,
			started_at, finished_at, http_status, response_bytes,
			records_parsed, records_stored, parse_errors, flagged_values,
			success, error_message
		FROM ingest_runs
		WHERE NOT success
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	defer rows.Close()

	var runs []IngestRun
	for rows.Next() {
		var (
			r      IngestRun
			region sql.NullString
			lat    sql.NullFloat64
			lon    sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Endpoint, &region, &lat, &lon,
			&r.StartedAt, &r.FinishedAt, &r.HTTPStatus, &r.ResponseBytes,
			&r.RecordsParsed, &r.RecordsStored, &r.ParseErrors, &r.FlaggedValues,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.RegionCode, r.Lat, r.Lon = region.String, lat.Float64, lon.Float64
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
