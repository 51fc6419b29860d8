package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/hotspots"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/store"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/weather"
)

const (
	apiName    = "Birding Fallout Predictor API"
	apiVersion = "1.0.0"
)

// DefaultAllowedOrigins are the local frontend dev servers.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

type Server struct {
	store          *store.Store
	weather        *weather.Service
	predictions    *PredictionService
	hotspots       *hotspots.Finder
	clock          clockwork.Clock
	port           string
	allowedOrigins []string
}

func NewServer(st *store.Store, weatherSvc *weather.Service, predictions *PredictionService, clock clockwork.Clock, port string) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Server{
		store:          st,
		weather:        weatherSvc,
		predictions:    predictions,
		hotspots:       hotspots.NewFinder(st),
		clock:          clock,
		port:           port,
		allowedOrigins: DefaultAllowedOrigins,
	}
}

// SetAllowedOrigins replaces the CORS origin allow-list.
func (s *Server) SetAllowedOrigins(origins []string) {
	s.allowedOrigins = origins
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/weather/forecast", s.handleWeatherForecast)
	mux.HandleFunc("GET /api/v1/weather/current", s.handleWeatherCurrent)

	mux.HandleFunc("GET /api/v1/predictions/location", s.handlePredictionsLocation)
	mux.HandleFunc("GET /api/v1/predictions/top", s.handlePredictionsTop)
	mux.HandleFunc("GET /api/v1/predictions/map", s.handlePredictionsMap)
	mux.HandleFunc("GET /api/v1/predictions/region/{code}", s.handlePredictionsRegion)

	mux.HandleFunc("GET /api/v1/hotspots", s.handleHotspots)
	mux.HandleFunc("GET /api/v1/hotspots/nearby", s.handleHotspotsNearby)
	mux.HandleFunc("GET /api/v1/hotspots/fallout-sites", s.handleFalloutSites)
	mux.HandleFunc("GET /api/v1/hotspots/{id}", s.handleHotspot)

	mux.HandleFunc("GET /api/v1/regions", s.handleRegions)
	mux.HandleFunc("GET /api/v1/regions/{code}", s.handleRegion)
	mux.HandleFunc("GET /api/v1/regions/{code}/children", s.handleRegionChildren)

	mux.HandleFunc("GET /api/v1/ingest/health", s.handleIngestHealth)
	mux.HandleFunc("GET /api/v1/ingest/runs/{id}/payload", s.handleRunPayload)

	return s.cors(mux)
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(s.allowedOrigins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "*")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    apiName,
		"version": apiVersion,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
