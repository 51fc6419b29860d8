package store

import (
	"database/sql"
	"fmt"
	"log"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Regions and hotspots",
		SQL: `
CREATE TABLE IF NOT EXISTS regions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    code TEXT NOT NULL UNIQUE,
    region_type TEXT NOT NULL,
    parent_region_id TEXT REFERENCES regions(id),
    center_lat REAL,
    center_lon REAL,
    migration_corridor TEXT,
    timezone TEXT NOT NULL DEFAULT 'UTC',
    is_coastal BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_regions_type ON regions(region_type);
CREATE INDEX IF NOT EXISTS idx_regions_corridor ON regions(migration_corridor);

CREATE TABLE IF NOT EXISTS hotspots (
    id TEXT PRIMARY KEY,
    ebird_loc_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    region_id TEXT REFERENCES regions(id),
    country_code TEXT,
    state_code TEXT,
    county_code TEXT,
    habitat_type TEXT,
    description TEXT,
    is_fallout_site BOOLEAN NOT NULL DEFAULT FALSE,
    fallout_history_score INTEGER NOT NULL DEFAULT 0,
    last_synced_at DATETIME,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hotspots_location ON hotspots(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_hotspots_state ON hotspots(state_code);
CREATE INDEX IF NOT EXISTS idx_hotspots_fallout ON hotspots(is_fallout_site, fallout_history_score);
`,
	},
	{
		Version:     2,
		Description: "Weather snapshots and predictions",
		SQL: `
CREATE TABLE IF NOT EXISTS weather_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    region_id TEXT NOT NULL REFERENCES regions(id),
    forecast_time DATETIME NOT NULL,
    fetched_at DATETIME NOT NULL,
    temperature REAL,
    apparent_temperature REAL,
    wind_speed REAL,
    wind_direction INTEGER,
    wind_gusts REAL,
    pressure REAL,
    precip_probability INTEGER,
    precipitation REAL,
    rain REAL,
    cloud_cover INTEGER,
    cloud_cover_low INTEGER,
    visibility INTEGER,
    weather_code INTEGER,
    pressure_delta_3h REAL,
    pressure_delta_24h REAL,
    temperature_delta_24h REAL,
    is_frontal_passage BOOLEAN NOT NULL DEFAULT FALSE,
    front_type TEXT,
    pressure_trend TEXT,
    UNIQUE(region_id, forecast_time)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_time ON weather_snapshots(forecast_time);

CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    region_id TEXT NOT NULL REFERENCES regions(id),
    prediction_date TEXT NOT NULL,
    overall_score INTEGER NOT NULL,
    score_label TEXT NOT NULL,
    confidence TEXT NOT NULL,
    season TEXT NOT NULL,
    migration_type TEXT NOT NULL,
    factors_json TEXT NOT NULL,
    summary TEXT NOT NULL,
    corridor TEXT,
    regional_boost TEXT,
    representative_time DATETIME,
    generated_at DATETIME NOT NULL,
    algorithm_version TEXT NOT NULL,
    UNIQUE(region_id, prediction_date)
);

CREATE INDEX IF NOT EXISTS idx_predictions_date_score ON predictions(prediction_date, overall_score);
`,
	},
	{
		Version:     3,
		Description: "Ingest runs and payload archive",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    region_code TEXT,
    latitude REAL,
    longitude REAL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    http_status INTEGER,
    response_bytes INTEGER,
    records_parsed INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    flagged_values INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_feed ON ingest_runs(source, endpoint, started_at);

CREATE TABLE IF NOT EXISTS payload_archive (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER NOT NULL REFERENCES ingest_runs(id),
    archived_at DATETIME NOT NULL,
    body_gzip BLOB NOT NULL,
    body_sha256 TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_payload_archive_archived ON payload_archive(archived_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, s.now(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
