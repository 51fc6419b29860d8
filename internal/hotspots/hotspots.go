// Package hotspots knows the classic fallout sites and answers distance
// queries over stored hotspots.
package hotspots

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/fallout"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/store"
)

const earthRadiusKm = 6371.0

// Site is a built-in fallout location.
type Site struct {
	Code        string
	Name        string
	Lat         float64
	Lon         float64
	State       string
	Description string
	Habitat     string
}

// FalloutSites are the well-known migrant traps seeded on startup.
var FalloutSites = []Site{
	{"TX-HIGH-ISLAND-BSW", "High Island - Boy Scout Woods", 29.5647, -94.3912, "TX", "Premier Gulf Coast fallout site, famous for spring trans-Gulf migrants", "woodland"},
	{"TX-HIGH-ISLAND-SO", "High Island - Smith Oaks", 29.5589, -94.3867, "TX", "Classic fallout location with rookery", "woodland"},
	{"TX-SOUTH-PADRE", "South Padre Island Convention Centre", 26.1044, -97.1650, "TX", "Lower Texas coast migrant trap", "coastal"},
	{"AL-DAUPHIN-ISLAND", "Dauphin Island - Shell Mound Park", 30.2528, -88.1089, "AL", "Gulf Coast barrier island fallout site", "woodland"},
	{"AL-FORT-MORGAN", "Fort Morgan", 30.2283, -88.0242, "AL", "Alabama coast migrant concentration point", "coastal"},
	{"ON-POINT-PELEE", "Point Pelee National Park", 41.9628, -82.5181, "ON", "Great Lakes migration funnel, spring warbler mecca", "woodland"},
	{"OH-MAGEE-MARSH", "Magee Marsh Wildlife Area", 41.6189, -83.1978, "OH", "The Warbler Capital of the World", "wetland"},
	{"NJ-CAPE-MAY", "Cape May Point State Park", 38.9331, -74.9597, "NJ", "Atlantic coast fall migration hotspot", "coastal"},
	{"NJ-HIGBEE-BEACH", "Higbee Beach WMA", 38.9467, -74.9681, "NJ", "Famous morning flight location", "woodland"},
	{"NY-CENTRAL-PARK", "Central Park - The Ramble", 40.7794, -73.9686, "NY", "Urban oasis, spring and fall migrant trap", "urban_park"},
	{"TX-GALVESTON-ISLAND", "Galveston Island State Park", 29.2044, -94.9692, "TX", "Gulf Coast barrier island", "coastal"},
	{"TX-PADRE-ISLAND", "Padre Island National Seashore", 27.0500, -97.4000, "TX", "Longest undeveloped barrier island", "coastal"},
	{"MI-WHITEFISH-POINT", "Whitefish Point Bird Observatory", 46.7714, -84.9583, "MI", "Great Lakes northern migration corridor", "woodland"},
	{"IL-MONTROSE-POINT", "Montrose Point Bird Sanctuary", 41.9631, -87.6383, "IL", "Chicago lakefront migrant trap", "urban_park"},
	{"TX-ANAHUAC", "Anahuac National Wildlife Refuge", 29.6167, -94.5333, "TX", "Upper Texas coast wetlands", "wetland"},
}

// Haversine returns the great-circle distance in km, rounded to 2 decimals.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	d := earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(d*100) / 100
}

// Box is an inclusive lat/lon rectangle.
type Box struct {
	MinLat, MaxLat, MinLon, MaxLon float64
}

// BoundingBox approximates the rectangle enclosing a radius around a point.
func BoundingBox(lat, lon, radiusKm float64) Box {
	dLat := radiusKm / 111
	dLon := radiusKm / (111 * math.Cos(lat*math.Pi/180))
	return Box{
		MinLat: lat - dLat,
		MaxLat: lat + dLat,
		MinLon: lon - dLon,
		MaxLon: lon + dLon,
	}
}

// Nearby is a hotspot with its distance from the query point.
type Nearby struct {
	models.Hotspot
	DistanceKm float64
}

// Finder answers radius searches against the store.
type Finder struct {
	store *store.Store
}

func NewFinder(st *store.Store) *Finder {
	return &Finder{store: st}
}

// Near returns hotspots within radiusKm of a point, closest first, at most
// limit of them.
func (f *Finder) Near(lat, lon, radiusKm float64, falloutOnly bool, limit int) ([]Nearby, error) {
	box := BoundingBox(lat, lon, radiusKm)
	candidates, err := f.store.HotspotsInBox(box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, falloutOnly)
	if err != nil {
		return nil, fmt.Errorf("hotspots in box: %w", err)
	}

	var results []Nearby
	for _, h := range candidates {
		d := Haversine(lat, lon, h.Latitude, h.Longitude)
		if d <= radiusKm {
			results = append(results, Nearby{Hotspot: h, DistanceKm: d})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DistanceKm < results[j].DistanceKm
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Seed stores one hotspot_cluster region and one fallout hotspot per
// built-in site. Safe to call on every startup.
func Seed(st *store.Store) (int, error) {
	for _, site := range FalloutSites {
		corridor := fallout.CorridorFor(site.Lat, site.Lon)
		regionID, err := st.UpsertRegion(models.Region{
			Name:              site.Name,
			Code:              site.Code,
			RegionType:        models.RegionHotspotCluster,
			CenterLat:         site.Lat,
			CenterLon:         site.Lon,
			MigrationCorridor: sql.NullString{String: string(corridor), Valid: corridor != ""},
			Timezone:          "UTC",
			IsCoastal:         fallout.IsCoastal(site.Lat, site.Lon),
		})
		if err != nil {
			return 0, fmt.Errorf("seed region %s: %w", site.Code, err)
		}

		if _, err := st.UpsertHotspot(models.Hotspot{
			EBirdLocID:          "seed:" + strings.ToLower(site.Code),
			Name:                site.Name,
			Latitude:            site.Lat,
			Longitude:           site.Lon,
			RegionID:            sql.NullString{String: regionID, Valid: true},
			StateCode:           sql.NullString{String: site.State, Valid: true},
			HabitatType:         sql.NullString{String: site.Habitat, Valid: true},
			Description:         sql.NullString{String: site.Description, Valid: true},
			IsFalloutSite:       true,
			FalloutHistoryScore: 100,
		}); err != nil {
			return 0, fmt.Errorf("seed hotspot %s: %w", site.Code, err)
		}
	}
	return len(FalloutSites), nil
}
