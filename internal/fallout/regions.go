package fallout

import (
	"slices"
	"time"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

type bounds struct {
	latMin, latMax float64
	lonMin, lonMax float64
}

func (b bounds) contains(lat, lon float64) bool {
	return lat >= b.latMin && lat <= b.latMax && lon >= b.lonMin && lon <= b.lonMax
}

// corridors are checked in order; the first box containing the point wins.
var corridors = []struct {
	corridor models.Corridor
	box      bounds
}{
	{models.CorridorGulfCoast, bounds{25, 31, -98, -80}},
	{models.CorridorAtlantic, bounds{35, 45, -77, -70}},
	{models.CorridorGreatLakes, bounds{41, 47, -92, -76}},
	{models.CorridorPacific, bounds{32, 49, -125, -117}},
	{models.CorridorCentral, bounds{30, 48, -105, -93}},
}

var gulfCoast = bounds{25, 31, -98, -80}

// CorridorFor returns the migration corridor containing the point, or ""
// when it lies outside every corridor.
func CorridorFor(lat, lon float64) models.Corridor {
	for _, c := range corridors {
		if c.box.contains(lat, lon) {
			return c.corridor
		}
	}
	return ""
}

// IsCoastal is a loose coastline heuristic and does not agree with the
// corridor table at the edges.
func IsCoastal(lat, lon float64) bool {
	switch {
	case gulfCoast.contains(lat, lon):
		return true
	case lat <= 45 && lon >= -77:
		return true
	case lon <= -117:
		return true
	}
	return false
}

// SeasonFor maps a calendar month to its migration season.
func SeasonFor(date time.Time) (models.Season, models.MigrationType) {
	switch date.Month() {
	case time.March, time.April, time.May:
		return models.SeasonSpring, models.MigrationNeotropical
	case time.August, time.September, time.October, time.November:
		return models.SeasonFall, models.MigrationNeotropical
	case time.December, time.January, time.February:
		return models.SeasonWinter, models.MigrationIrruption
	default:
		return models.SeasonSummer, models.MigrationDispersal
	}
}

type boost struct {
	corridor   models.Corridor
	seasons    []models.Season
	multiplier float64
	reason     string
}

var boosts = []boost{
	{models.CorridorGulfCoast, []models.Season{models.SeasonSpring}, 1.2, "Gulf Coast spring migration corridor (+20%)"},
	{models.CorridorAtlantic, []models.Season{models.SeasonFall}, 1.15, "Atlantic coast fall migration (+15%)"},
	{models.CorridorGreatLakes, []models.Season{models.SeasonSpring, models.SeasonFall}, 1.1, "Great Lakes migration funnel (+10%)"},
}

// applyRegionalMultiplier scales raw by the corridor/season boost, truncates
// and clamps to maxScore. reason is empty when no boost applied.
func applyRegionalMultiplier(raw int, corridor models.Corridor, season models.Season) (score int, reason string) {
	multiplier := 1.0
	for _, b := range boosts {
		if b.corridor != corridor || !slices.Contains(b.seasons, season) {
			continue
		}
		multiplier = b.multiplier
		reason = b.reason
		break
	}
	score = int(float64(raw) * multiplier)
	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}
	return score, reason
}
