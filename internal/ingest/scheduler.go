package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/fallout"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/forecast"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/metrics"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/store"
)

const (
	DefaultRefreshSchedule = "0 */6 * * *"
	maintenanceSchedule    = "15 4 * * *"
	refreshConcurrency     = 4
	payloadRetention       = 14 * 24 * time.Hour
	hotspotSyncRadiusKm    = 15
)

type Scheduler struct {
	store     *store.Store
	openMeteo *OpenMeteoClient
	ebird     *EBirdClient
	engine    *fallout.Engine
	clock     clockwork.Clock
	days      int
	schedule  string
}

func NewScheduler(st *store.Store, openMeteo *OpenMeteoClient, engine *fallout.Engine, clock clockwork.Clock, days int, schedule string) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	return &Scheduler{
		store:     st,
		openMeteo: openMeteo,
		engine:    engine,
		clock:     clock,
		days:      clampDays(days),
		schedule:  schedule,
	}
}

// SetEBirdClient enables the daily hotspot sync.
func (s *Scheduler) SetEBirdClient(client *EBirdClient) {
	s.ebird = client
}

// RefreshSummary counts region outcomes for one refresh.
type RefreshSummary struct {
	Regions   int
	Succeeded int
	Failed    int
}

// Run refreshes immediately, then on the cron schedule until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() { s.refresh(ctx) }); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", s.schedule, err)
	}
	if _, err := c.AddFunc(maintenanceSchedule, func() { s.maintain(ctx) }); err != nil {
		return fmt.Errorf("maintenance schedule: %w", err)
	}

	s.refresh(ctx)
	c.Start()
	log.Printf("scheduler: refresh scheduled %q", s.schedule)

	<-ctx.Done()
	log.Println("scheduler: shutting down")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) refresh(ctx context.Context) {
	summary, err := s.RefreshOnce(ctx)
	if err != nil {
		log.Printf("scheduler: refresh: %v", err)
		return
	}
	log.Printf("scheduler: refreshed %d/%d regions (%d failed)", summary.Succeeded, summary.Regions, summary.Failed)
}

func (s *Scheduler) maintain(ctx context.Context) {
	pruned, err := s.store.PruneArchive(payloadRetention)
	if err != nil {
		log.Printf("scheduler: %v", err)
	} else if pruned > 0 {
		log.Printf("scheduler: pruned %d archived payloads", pruned)
	}

	if s.ebird != nil {
		if err := s.SyncHotspots(ctx); err != nil {
			log.Printf("scheduler: hotspot sync: %v", err)
		}
	}
}

// RefreshOnce fetches, enriches and scores every region with coordinates.
// A failing region is logged and counted; it does not stop the others.
func (s *Scheduler) RefreshOnce(ctx context.Context) (RefreshSummary, error) {
	start := s.clock.Now()
	regions, err := s.store.RegionsWithCoordinates()
	if err != nil {
		return RefreshSummary{}, fmt.Errorf("list regions: %w", err)
	}

	var succeeded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, region := range regions {
		g.Go(func() error {
			if err := s.refreshRegion(gctx, region); err != nil {
				log.Printf("scheduler: region %s: %v", region.Code, err)
				metrics.RegionsRefreshed.WithLabelValues("failed").Inc()
				failed.Add(1)
				return nil
			}
			metrics.RegionsRefreshed.WithLabelValues("ok").Inc()
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	metrics.RefreshDuration.Observe(s.clock.Since(start).Seconds())

	summary := RefreshSummary{
		Regions:   len(regions),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Scheduler) refreshRegion(ctx context.Context, region models.Region) error {
	run := s.beginRun(store.SourceOpenMeteo, store.EndpointForecast, region)

	observations, fetchResult, err := s.openMeteo.FetchHourly(ctx, region.CenterLat, region.CenterLon, s.days)
	recordFetch(run, fetchResult, err)
	if fetchResult != nil {
		if _, _, err := s.store.ArchivePayload(run, fetchResult.Body); err != nil {
			log.Printf("scheduler: %v", err)
		}
	}
	if fetchResult != nil && fetchResult.FlaggedValues > 0 {
		log.Printf("scheduler: region %s: dropped %d out-of-range values", region.Code, fetchResult.FlaggedValues)
	}
	if err != nil {
		s.finishRun(run)
		return fmt.Errorf("fetch forecast: %w", err)
	}

	stored, err := s.storeForecast(region, observations)
	if run != nil {
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		if err != nil {
			run.Fail(err)
		}
	}
	s.finishRun(run)
	return err
}

// storeForecast enriches and scores the hours, then persists both. Returns
// the number of weather snapshots stored.
func (s *Scheduler) storeForecast(region models.Region, observations []models.HourlyObservation) (int, error) {
	enriched, err := forecast.Enrich(observations)
	if err != nil {
		return 0, fmt.Errorf("enrich: %w", err)
	}
	predictions, err := s.engine.Predict(enriched, region.CenterLat, region.CenterLon)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}

	now := s.clock.Now().UTC()
	stored, err := s.store.InsertWeatherSnapshots(region.ID, now, enriched)
	if err != nil {
		return 0, fmt.Errorf("store snapshots: %w", err)
	}

	for _, p := range predictions {
		if _, err := s.store.UpsertPrediction(models.StoredPrediction{
			RegionID:         region.ID,
			GeneratedAt:      now,
			AlgorithmVersion: fallout.AlgorithmVersion,
			DailyPrediction:  p,
		}); err != nil {
			return stored, err
		}
		metrics.PredictionsGenerated.WithLabelValues(p.Label).Inc()
	}
	return stored, nil
}

// SyncHotspots pulls eBird hotspots around every region and files them
// under that region.
func (s *Scheduler) SyncHotspots(ctx context.Context) error {
	if s.ebird == nil {
		return nil
	}
	regions, err := s.store.RegionsWithCoordinates()
	if err != nil {
		return fmt.Errorf("list regions: %w", err)
	}

	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		run := s.beginRun(store.SourceEBird, store.EndpointHotspotGeo, region)
		hotspots, fetchResult, err := s.ebird.NearbyHotspots(ctx, region.CenterLat, region.CenterLon, hotspotSyncRadiusKm)
		recordFetch(run, fetchResult, err)
		if err != nil {
			log.Printf("scheduler: ebird %s: %v", region.Code, err)
			s.finishRun(run)
			continue
		}

		now := s.clock.Now().UTC()
		stored := 0
		for _, h := range hotspots {
			h.RegionID = sql.NullString{String: region.ID, Valid: true}
			h.LastSyncedAt = sql.NullTime{Time: now, Valid: true}
			if _, err := s.store.UpsertHotspot(h); err != nil {
				log.Printf("scheduler: upsert hotspot: %v", err)
				continue
			}
			stored++
		}
		if run != nil {
			run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		}
		s.finishRun(run)
		log.Printf("scheduler: synced %d eBird hotspots near %s", stored, region.Code)
	}
	return nil
}

// beginRun opens an audit run for region. A store failure is logged and
// the fetch goes ahead unaudited.
func (s *Scheduler) beginRun(source, endpoint string, region models.Region) *store.IngestRun {
	run, err := s.store.BeginRun(store.RunTarget{
		Source:     source,
		Endpoint:   endpoint,
		RegionCode: region.Code,
		Lat:        region.CenterLat,
		Lon:        region.CenterLon,
	})
	if err != nil {
		log.Printf("scheduler: %v", err)
	}
	return run
}

func recordFetch(run *store.IngestRun, result *FetchResult, err error) {
	if run == nil {
		return
	}
	run.Success = err == nil
	if result != nil {
		run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
		run.ResponseBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: result.ResponseSize > 0}
		run.RecordsParsed = sql.NullInt64{Int64: int64(result.RecordCount), Valid: true}
		run.FlaggedValues = sql.NullInt64{Int64: int64(result.FlaggedValues), Valid: result.FlaggedValues > 0}
		if result.ParseErrors > 0 {
			run.ParseErrors = sql.NullInt64{Int64: int64(result.ParseErrors), Valid: true}
			run.ErrorMessage = sql.NullString{String: result.ParseError, Valid: true}
		}
	}
	if err != nil {
		run.Fail(err)
	}
}

func (s *Scheduler) finishRun(run *store.IngestRun) {
	if err := s.store.FinishRun(run); err != nil {
		log.Printf("scheduler: %v", err)
	}
}
