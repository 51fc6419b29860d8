package hotspots

import (
	"database/sql"
	"math"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, clockwork.NewFakeClock())
	require.NoError(t, st.Migrate())
	return st
}

func TestHaversine(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"same point", 29.5647, -94.3912, 29.5647, -94.3912, 0},
		{"one degree of latitude", 0, 0, 1, 0, 111.19},
		{"High Island sites", 29.5647, -94.3912, 29.5589, -94.3867, 0.78},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2), 0.011)
		})
	}
}

func TestHaversine_RoundsToTwoDecimals(t *testing.T) {
	d := Haversine(41.9628, -82.5181, 41.6189, -83.1978)
	assert.Equal(t, d, math.Round(d*100)/100)
}

func TestBoundingBox(t *testing.T) {
	box := BoundingBox(0, 10, 111)
	assert.InDelta(t, -1, box.MinLat, 1e-9)
	assert.InDelta(t, 1, box.MaxLat, 1e-9)
	assert.InDelta(t, 9, box.MinLon, 1e-9)
	assert.InDelta(t, 11, box.MaxLon, 1e-9)

	north := BoundingBox(60, 0, 111)
	assert.InDelta(t, 4, north.MaxLon-north.MinLon, 1e-9, "longitude span widens toward the poles")
	assert.Greater(t, north.MaxLon-north.MinLon, box.MaxLon-box.MinLon)
}

func TestFalloutSites(t *testing.T) {
	assert.Len(t, FalloutSites, 15)
	seen := map[string]bool{}
	for _, s := range FalloutSites {
		assert.False(t, seen[s.Code], "duplicate code %s", s.Code)
		seen[s.Code] = true
	}
}

func TestSeed_IsIdempotent(t *testing.T) {
	st := setupStore(t)

	n, err := Seed(st)
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	_, err = Seed(st)
	require.NoError(t, err)

	regions, err := st.RegionsWithCoordinates()
	require.NoError(t, err)
	assert.Len(t, regions, 15)

	sites, err := st.ListHotspots(store.HotspotFilter{FalloutOnly: true})
	require.NoError(t, err)
	assert.Len(t, sites, 15)

	pelee, err := st.GetRegionByCode("ON-POINT-PELEE")
	require.NoError(t, err)
	require.NotNil(t, pelee)
	assert.Equal(t, string(models.CorridorGreatLakes), pelee.MigrationCorridor.String)
	assert.False(t, pelee.IsCoastal)

	capeMay, err := st.GetRegionByCode("NJ-CAPE-MAY")
	require.NoError(t, err)
	require.NotNil(t, capeMay)
	assert.Equal(t, string(models.CorridorAtlantic), capeMay.MigrationCorridor.String)
	assert.True(t, capeMay.IsCoastal)
}

func TestFinder_Near(t *testing.T) {
	st := setupStore(t)
	_, err := Seed(st)
	require.NoError(t, err)

	_, err = st.UpsertHotspot(models.Hotspot{
		EBirdLocID: "L999",
		Name:       "Rollover Pass",
		Latitude:   29.5083,
		Longitude:  -94.5000,
	})
	require.NoError(t, err)

	finder := NewFinder(st)

	near, err := finder.Near(29.5647, -94.3912, 50, false, 20)
	require.NoError(t, err)
	require.Len(t, near, 4)
	assert.Equal(t, "High Island - Boy Scout Woods", near[0].Name)
	assert.Equal(t, 0.0, near[0].DistanceKm)
	for i := 1; i < len(near); i++ {
		assert.LessOrEqual(t, near[i-1].DistanceKm, near[i].DistanceKm)
	}

	falloutOnly, err := finder.Near(29.5647, -94.3912, 50, true, 20)
	require.NoError(t, err)
	assert.Len(t, falloutOnly, 3)

	limited, err := finder.Near(29.5647, -94.3912, 50, false, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := finder.Near(0, 0, 10, false, 20)
	require.NoError(t, err)
	assert.Empty(t, none)
}
