package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// New wraps an open SQLite handle. A nil clock uses wall time.
func New(db *sql.DB, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

const regionColumns = `r.id, r.name, r.code, r.region_type, r.parent_region_id, r.center_lat, r.center_lon,
	r.migration_corridor, r.timezone, r.is_coastal, r.created_at, r.updated_at`

// UpsertRegion inserts or updates a region keyed by code and returns its ID.
func (s *Store) UpsertRegion(r models.Region) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	now := s.now()

	var id string
	err := s.db.QueryRow(`
		INSERT INTO regions (id, name, code, region_type, parent_region_id, center_lat, center_lon,
			migration_corridor, timezone, is_coastal, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			region_type = excluded.region_type,
			parent_region_id = excluded.parent_region_id,
			center_lat = excluded.center_lat,
			center_lon = excluded.center_lon,
			migration_corridor = excluded.migration_corridor,
			timezone = excluded.timezone,
			is_coastal = excluded.is_coastal,
			updated_at = excluded.updated_at
		RETURNING id
	`, r.ID, r.Name, r.Code, string(r.RegionType), r.ParentRegionID, r.CenterLat, r.CenterLon,
		r.MigrationCorridor, r.Timezone, r.IsCoastal, now, now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert region %s: %w", r.Code, err)
	}
	return id, nil
}

func scanRegion(row interface{ Scan(...any) error }) (models.Region, error) {
	var r models.Region
	var regionType string
	err := row.Scan(&r.ID, &r.Name, &r.Code, &regionType, &r.ParentRegionID, &r.CenterLat, &r.CenterLon,
		&r.MigrationCorridor, &r.Timezone, &r.IsCoastal, &r.CreatedAt, &r.UpdatedAt)
	r.RegionType = models.RegionType(regionType)
	return r, err
}

// GetRegionByCode returns nil when no region has the code.
func (s *Store) GetRegionByCode(code string) (*models.Region, error) {
	row := s.db.QueryRow(`SELECT `+regionColumns+` FROM regions r WHERE r.code = ?`, code)
	r, err := scanRegion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RegionFilter narrows ListRegions. Zero values match everything.
type RegionFilter struct {
	Type       models.RegionType
	Corridor   models.Corridor
	ParentCode string
	Limit      int
	Offset     int
}

func (s *Store) ListRegions(f RegionFilter) ([]models.Region, error) {
	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "r.region_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Corridor != "" {
		where = append(where, "r.migration_corridor = ?")
		args = append(args, string(f.Corridor))
	}
	if f.ParentCode != "" {
		where = append(where, "p.code = ?")
		args = append(args, f.ParentCode)
	}

	query := `SELECT ` + regionColumns + ` FROM regions r LEFT JOIN regions p ON p.id = r.parent_region_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.name"
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []models.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// RegionsWithCoordinates returns every region that has a center point.
func (s *Store) RegionsWithCoordinates() ([]models.Region, error) {
	rows, err := s.db.Query(`SELECT ` + regionColumns + ` FROM regions r
		WHERE r.center_lat IS NOT NULL AND r.center_lon IS NOT NULL ORDER BY r.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []models.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

const hotspotColumns = `id, ebird_loc_id, name, latitude, longitude, region_id, country_code, state_code,
	county_code, habitat_type, description, is_fallout_site, fallout_history_score, last_synced_at, created_at`

// UpsertHotspot inserts or updates a hotspot keyed by its eBird location ID
// and returns its ID. An existing fallout flag and history score are kept
// when the update does not set them.
func (s *Store) UpsertHotspot(h models.Hotspot) (string, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now()
	}

	var id string
	err := s.db.QueryRow(`
		INSERT INTO hotspots (`+hotspotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ebird_loc_id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			region_id = COALESCE(excluded.region_id, hotspots.region_id),
			country_code = COALESCE(excluded.country_code, hotspots.country_code),
			state_code = COALESCE(excluded.state_code, hotspots.state_code),
			county_code = COALESCE(excluded.county_code, hotspots.county_code),
			habitat_type = COALESCE(excluded.habitat_type, hotspots.habitat_type),
			description = COALESCE(excluded.description, hotspots.description),
			is_fallout_site = excluded.is_fallout_site OR hotspots.is_fallout_site,
			fallout_history_score = MAX(excluded.fallout_history_score, hotspots.fallout_history_score),
			last_synced_at = COALESCE(excluded.last_synced_at, hotspots.last_synced_at)
		RETURNING id
	`, h.ID, h.EBirdLocID, h.Name, h.Latitude, h.Longitude, h.RegionID, h.CountryCode, h.StateCode,
		h.CountyCode, h.HabitatType, h.Description, h.IsFalloutSite, h.FalloutHistoryScore,
		h.LastSyncedAt, h.CreatedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert hotspot %s: %w", h.EBirdLocID, err)
	}
	return id, nil
}

func scanHotspot(row interface{ Scan(...any) error }) (models.Hotspot, error) {
	var h models.Hotspot
	err := row.Scan(&h.ID, &h.EBirdLocID, &h.Name, &h.Latitude, &h.Longitude, &h.RegionID, &h.CountryCode,
		&h.StateCode, &h.CountyCode, &h.HabitatType, &h.Description, &h.IsFalloutSite,
		&h.FalloutHistoryScore, &h.LastSyncedAt, &h.CreatedAt)
	return h, err
}

func (s *Store) queryHotspots(query string, args ...any) ([]models.Hotspot, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hotspots []models.Hotspot
	for rows.Next() {
		h, err := scanHotspot(rows)
		if err != nil {
			return nil, err
		}
		hotspots = append(hotspots, h)
	}
	return hotspots, rows.Err()
}

// GetHotspot returns nil when the eBird location is unknown.
func (s *Store) GetHotspot(ebirdLocID string) (*models.Hotspot, error) {
	row := s.db.QueryRow(`SELECT `+hotspotColumns+` FROM hotspots WHERE ebird_loc_id = ?`, ebirdLocID)
	h, err := scanHotspot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

type HotspotFilter struct {
	StateCode   string
	FalloutOnly bool
	Limit       int
	Offset      int
}

// ListHotspots orders by fallout history, strongest first.
func (s *Store) ListHotspots(f HotspotFilter) ([]models.Hotspot, error) {
	var where []string
	var args []any
	if f.StateCode != "" {
		where = append(where, "state_code = ?")
		args = append(args, f.StateCode)
	}
	if f.FalloutOnly {
		where = append(where, "is_fallout_site = TRUE")
	}

	query := `SELECT ` + hotspotColumns + ` FROM hotspots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY fallout_history_score DESC, name"
	query, args = paginate(query, args, f.Limit, f.Offset)

	return s.queryHotspots(query, args...)
}

// HotspotsInBox returns hotspots inside the inclusive lat/lon bounds.
func (s *Store) HotspotsInBox(minLat, maxLat, minLon, maxLon float64, falloutOnly bool) ([]models.Hotspot, error) {
	query := `SELECT ` + hotspotColumns + ` FROM hotspots
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`
	if falloutOnly {
		query += " AND is_fallout_site = TRUE"
	}
	return s.queryHotspots(query, minLat, maxLat, minLon, maxLon)
}

func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	query += " LIMIT ? OFFSET ?"
	return query, append(args, limit, offset)
}
