package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/ingest"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/store"
)

// badRequest writes a 400 and reports true when q holds an input error.
func badRequest(w http.ResponseWriter, q *query) bool {
	var pe *paramError
	if errors.As(q.err, &pe) {
		writeError(w, http.StatusBadRequest, pe.msg)
		return true
	}
	return false
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	log.Printf("api: %s: %v", what, err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleWeatherForecast(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	lat := q.float("lat", -90, 90)
	lon := q.float("lon", -180, 180)
	days := q.intOr("days", 7, 1, ingest.MaxForecastDays)
	if badRequest(w, q) {
		return
	}

	forecasts, err := s.weather.Forecast(r.Context(), lat, lon, days)
	if err != nil {
		log.Printf("api: weather forecast: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error fetching weather data: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"latitude":       lat,
		"longitude":      lon,
		"forecast_count": len(forecasts),
		"forecasts":      newForecastHours(forecasts),
	})
}

func (s *Server) handleWeatherCurrent(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	lat := q.float("lat", -90, 90)
	lon := q.float("lon", -180, 180)
	if badRequest(w, q) {
		return
	}

	current, err := s.weather.Current(r.Context(), lat, lon)
	if err != nil {
		log.Printf("api: current weather: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error fetching weather data: %v", err))
		return
	}
	if current == nil {
		writeError(w, http.StatusNotFound, "No weather data available")
		return
	}

	hour := newForecastHour(*current)
	writeJSON(w, http.StatusOK, map[string]any{
		"latitude":  lat,
		"longitude": lon,
		"timestamp": hour.ForecastTime,
		"weather":   hour,
	})
}

func (s *Server) handlePredictionsLocation(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	lat := q.float("lat", -90, 90)
	lon := q.float("lon", -180, 180)
	days := q.intOr("days", 7, 1, ingest.MaxForecastDays)
	if badRequest(w, q) {
		return
	}

	daily, err := s.predictions.Predict(r.Context(), lat, lon, days)
	if err != nil {
		log.Printf("api: predictions: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error generating predictions: %v", err))
		return
	}

	out := NewPredictions(daily, lat, lon)
	writeJSON(w, http.StatusOK, map[string]any{
		"latitude":    lat,
		"longitude":   lon,
		"predictions": out,
		"total":       len(out),
	})
}

func (s *Server) handlePredictionsTop(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	date := q.dateOr("date", s.clock.Now())
	limit := q.intOr("limit", 10, 1, 50)
	if badRequest(w, q) {
		return
	}

	top, err := s.store.TopPredictions(date, limit)
	if err != nil {
		s.internalError(w, "top predictions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":        date.Format(dateLayout),
		"predictions": newRegionPredictions(top),
		"total":       len(top),
	})
}

func (s *Server) handlePredictionsMap(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	date := q.dateOr("date", s.clock.Now())
	minScore := q.intOr("min_score", 0, 0, 100)
	if badRequest(w, q) {
		return
	}

	points, err := s.store.PredictionsForDate(date, minScore)
	if err != nil {
		s.internalError(w, "map predictions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":        date.Format(dateLayout),
		"min_score":   minScore,
		"predictions": newRegionPredictions(points),
		"total":       len(points),
	})
}

func (s *Server) handlePredictionsRegion(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	q := newQuery(r)
	days := q.intOr("days", 7, 1, 14)
	if badRequest(w, q) {
		return
	}

	region, err := s.store.GetRegionByCode(code)
	if err != nil {
		s.internalError(w, "get region", err)
		return
	}
	if region == nil {
		writeError(w, http.StatusNotFound, "Region not found: "+code)
		return
	}

	stored, err := s.store.PredictionsForRegion(region.ID, utcDay(s.clock.Now()), days)
	if err != nil {
		s.internalError(w, "region predictions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"region":      newRegion(*region),
		"predictions": newRegionPredictions(stored),
		"total":       len(stored),
	})
}

func (s *Server) handleHotspots(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	filter := store.HotspotFilter{
		StateCode:   q.raw("state_code"),
		FalloutOnly: q.boolean("fallout_sites_only"),
		Limit:       q.intOr("limit", 50, 1, 500),
		Offset:      q.intOr("offset", 0, 0, 1<<31-1),
	}
	if badRequest(w, q) {
		return
	}

	list, err := s.store.ListHotspots(filter)
	if err != nil {
		s.internalError(w, "list hotspots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hotspots": newHotspots(list),
		"total":    len(list),
	})
}

func (s *Server) handleHotspotsNearby(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	lat := q.float("lat", -90, 90)
	lon := q.float("lon", -180, 180)
	radius := q.floatOr("radius_km", 50, 1, 500)
	falloutOnly := q.boolean("fallout_sites_only")
	limit := q.intOr("limit", 20, 1, 100)
	if badRequest(w, q) {
		return
	}

	near, err := s.hotspots.Near(lat, lon, radius, falloutOnly, limit)
	if err != nil {
		s.internalError(w, "nearby hotspots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hotspots": newNearbyHotspots(near),
		"total":    len(near),
	})
}

func (s *Server) handleFalloutSites(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	filter := store.HotspotFilter{
		StateCode:   q.raw("state_code"),
		FalloutOnly: true,
		Limit:       q.intOr("limit", 50, 1, 200),
	}
	if badRequest(w, q) {
		return
	}

	list, err := s.store.ListHotspots(filter)
	if err != nil {
		s.internalError(w, "fallout sites", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hotspots": newHotspots(list),
		"total":    len(list),
	})
}

func (s *Server) handleHotspot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h, err := s.store.GetHotspot(id)
	if err != nil {
		s.internalError(w, "get hotspot", err)
		return
	}
	if h == nil {
		writeError(w, http.StatusNotFound, "Hotspot not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, newHotspot(*h))
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	filter := store.RegionFilter{
		Type:       models.RegionType(q.raw("region_type")),
		Corridor:   models.Corridor(q.raw("corridor")),
		ParentCode: q.raw("parent_code"),
		Limit:      q.intOr("limit", 100, 1, 500),
		Offset:     q.intOr("offset", 0, 0, 1<<31-1),
	}
	if badRequest(w, q) {
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid region_type: "+string(filter.Type))
		return
	}
	if filter.Corridor != "" && !filter.Corridor.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid corridor: "+string(filter.Corridor))
		return
	}

	list, err := s.store.ListRegions(filter)
	if err != nil {
		s.internalError(w, "list regions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"regions": newRegions(list),
		"total":   len(list),
	})
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	region, err := s.store.GetRegionByCode(code)
	if err != nil {
		s.internalError(w, "get region", err)
		return
	}
	if region == nil {
		writeError(w, http.StatusNotFound, "Region not found: "+code)
		return
	}

	snapshots, err := s.store.CountWeatherSnapshots(region.ID)
	if err != nil {
		s.internalError(w, "count snapshots", err)
		return
	}
	view := newRegion(*region)
	view.WeatherSnapshots = &snapshots
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRegionChildren(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	parent, err := s.store.GetRegionByCode(code)
	if err != nil {
		s.internalError(w, "get region", err)
		return
	}
	if parent == nil {
		writeError(w, http.StatusNotFound, "Region not found: "+code)
		return
	}

	children, err := s.store.ListRegions(store.RegionFilter{ParentCode: parent.Code})
	if err != nil {
		s.internalError(w, "region children", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"regions": newRegions(children),
		"total":   len(children),
	})
}

func (s *Server) handleIngestHealth(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	days := q.intOr("days", 7, 1, 90)
	if badRequest(w, q) {
		return
	}

	feeds, err := s.store.FeedHealthSince(days)
	if err != nil {
		s.internalError(w, "ingest health", err)
		return
	}
	failures, err := s.store.RecentFailures(20)
	if err != nil {
		s.internalError(w, "ingest failures", err)
		return
	}

	status := "ok"
	for _, f := range feeds {
		if f.Failed > 0 {
			status = "degraded"
			break
		}
	}
	if feeds == nil {
		feeds = []store.FeedHealth{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"days":          days,
		"feeds":         feeds,
		"recent_errors": newIngestRuns(failures),
	})
}

func (s *Server) handleRunPayload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "run id must be a positive integer")
		return
	}

	body, err := s.store.RunPayload(id)
	if err != nil {
		s.internalError(w, "run payload", err)
		return
	}
	if body == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No payload archived for run %d", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
