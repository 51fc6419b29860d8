package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/fallout"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/store"
)

var testNow = time.Date(2025, 4, 15, 6, 0, 0, 0, time.UTC)

func noDelay() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func nf(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }
func ni(v int64) sql.NullInt64     { return sql.NullInt64{Int64: v, Valid: true} }

// hourlyBody renders an Open-Meteo response of n hours starting at
// 2025-04-15T00:00 with steadily falling pressure and southerly wind.
func hourlyBody(t *testing.T, n int) []byte {
	t.Helper()
	hourly := map[string]any{}
	times := make([]string, n)
	series := map[string][]any{}
	for _, v := range hourlyVariables {
		series[v] = make([]any, n)
	}
	start := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		times[i] = start.Add(time.Duration(i) * time.Hour).Format(openMeteoTimeLayout)
		series["temperature_2m"][i] = 24.0 - 0.1*float64(i)
		series["apparent_temperature"][i] = 25.0
		series["precipitation_probability"][i] = 55
		series["precipitation"][i] = 1.5
		series["rain"][i] = 1.5
		series["weather_code"][i] = 61
		series["pressure_msl"][i] = 1015.0 - 0.5*float64(i)
		series["cloud_cover"][i] = 90
		series["cloud_cover_low"][i] = 70
		series["visibility"][i] = 8000
		series["wind_speed_10m"][i] = 20.0
		series["wind_direction_10m"][i] = 190
		series["wind_gusts_10m"][i] = 35.0
	}
	hourly["time"] = times
	for k, v := range series {
		hourly[k] = v
	}
	body, err := json.Marshal(map[string]any{"latitude": 29.56, "longitude": -94.39, "hourly": hourly})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestParseHourly(t *testing.T) {
	body := []byte(`{
		"latitude": 29.56,
		"longitude": -94.39,
		"hourly": {
			"time": ["2025-04-15T00:00", "2025-04-15T01:00"],
			"temperature_2m": [21.4, null],
			"precipitation_probability": [45.7, 50],
			"pressure_msl": [1012.3, 1240.0],
			"wind_direction_10m": [185.9, 190],
			"visibility": [24140.0, 20000]
		}
	}`)

	observations, result, err := ParseHourly(body)
	if err != nil {
		t.Fatalf("ParseHourly: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("got %d observations, want 2", len(observations))
	}
	if result.RecordCount != 2 || result.ParseErrors != 0 {
		t.Errorf("RecordCount=%d ParseErrors=%d, want 2 and 0", result.RecordCount, result.ParseErrors)
	}
	if result.FlaggedValues != 1 {
		t.Errorf("FlaggedValues = %d, want 1", result.FlaggedValues)
	}

	first := observations[0]
	if !first.Time.Equal(time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)) || first.Time.Location() != time.UTC {
		t.Errorf("Time = %v, want 2025-04-15T00:00Z", first.Time)
	}
	if first.PrecipProbability != ni(45) {
		t.Errorf("PrecipProbability = %+v, want truncated 45", first.PrecipProbability)
	}
	if first.WindDirection != ni(185) {
		t.Errorf("WindDirection = %+v, want 185", first.WindDirection)
	}
	if first.Rain.Valid || first.CloudCover.Valid {
		t.Error("variables missing from the response should stay unknown")
	}

	second := observations[1]
	if second.Temperature.Valid {
		t.Error("null temperature should stay unknown")
	}
	if second.Pressure.Valid {
		t.Error("out-of-range pressure should be dropped")
	}
}

func TestParseHourly_RejectsBadTimestamps(t *testing.T) {
	tests := []struct {
		name     string
		times    string
		wantNote string
	}{
		{
			name:     "unparseable hour",
			times:    `"2025-04-15T00:00", "2025-04-15T01:00", "not-a-time", "2025-04-15T03:00", "2025-04-15T04:00", "2025-04-15T05:00"`,
			wantNote: "not-a-time",
		},
		{
			name:     "missing hour",
			times:    `"2025-04-15T00:00", "2025-04-15T01:00", "2025-04-15T03:00"`,
			wantNote: "not one hour after",
		},
		{
			name:     "repeated hour",
			times:    `"2025-04-15T00:00", "2025-04-15T00:00"`,
			wantNote: "not one hour after",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"hourly":{"time":[` + tt.times + `],"pressure_msl":[1010,1009,1008,1007,1006,1005]}}`)
			observations, result, err := ParseHourly(body)
			if !errors.Is(err, models.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if observations != nil {
				t.Errorf("got %d observations, want none", len(observations))
			}
			if result == nil || result.ParseErrors == 0 {
				t.Fatalf("parse errors not recorded: %+v", result)
			}
			if !strings.Contains(result.ParseError, tt.wantNote) {
				t.Errorf("ParseError = %q, want mention of %q", result.ParseError, tt.wantNote)
			}
		})
	}
}

func TestOpenMeteo_FetchHourlyKeepsParseAudit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hourly":{"time":["2025-04-15T00:00","bad"]}}`))
	}))
	defer srv.Close()

	client := NewOpenMeteoClient(srv.URL)
	client.newBackOff = noDelay
	_, result, err := client.FetchHourly(context.Background(), 29.56, -94.39, 1)
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if result.HTTPStatus != http.StatusOK || result.ParseErrors != 1 || !strings.Contains(result.ParseError, "bad") {
		t.Errorf("audit fields not kept: %+v", result)
	}
}

func TestParseHourly_InvalidJSON(t *testing.T) {
	if _, _, err := ParseHourly([]byte("<html>")); err == nil {
		t.Error("expected error for non-JSON body")
	}
}

func TestOpenMeteo_FetchHourlyRequest(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast" {
			t.Errorf("path = %s, want /forecast", r.URL.Path)
		}
		query.Store(r.URL.Query())
		w.Write(hourlyBody(t, 24))
	}))
	defer srv.Close()

	client := NewOpenMeteoClient(srv.URL + "/")
	client.newBackOff = noDelay
	observations, result, err := client.FetchHourly(context.Background(), 29.5647, -94.3912, 30)
	if err != nil {
		t.Fatalf("FetchHourly: %v", err)
	}
	if len(observations) != 24 || result.RecordCount != 24 {
		t.Errorf("got %d observations (RecordCount %d), want 24", len(observations), result.RecordCount)
	}
	if result.HTTPStatus != http.StatusOK || result.ResponseSize == 0 || len(result.Body) == 0 {
		t.Errorf("audit fields not set: %+v", result)
	}

	q := query.Load().(url.Values)
	checks := map[string]string{
		"latitude":      "29.5647",
		"longitude":     "-94.3912",
		"forecast_days": "16",
		"timezone":      "UTC",
	}
	for k, want := range checks {
		if got := q[k]; len(got) != 1 || got[0] != want {
			t.Errorf("%s = %v, want %s", k, got, want)
		}
	}
	if vars := strings.Split(q["hourly"][0], ","); len(vars) != 13 {
		t.Errorf("requested %d hourly variables, want 13", len(vars))
	}
}

func TestOpenMeteo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(hourlyBody(t, 3))
	}))
	defer srv.Close()

	client := NewOpenMeteoClient(srv.URL)
	client.newBackOff = noDelay
	observations, _, err := client.FetchHourly(context.Background(), 40, -74, 1)
	if err != nil {
		t.Fatalf("FetchHourly: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if len(observations) != 3 {
		t.Errorf("got %d observations, want 3", len(observations))
	}
}

func TestOpenMeteo_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":true,"reason":"Latitude must be in range of -90 to 90°."}`))
	}))
	defer srv.Close()

	client := NewOpenMeteoClient(srv.URL)
	client.newBackOff = noDelay
	_, result, err := client.FetchHourly(context.Background(), 95, 0, 7)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if result.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want 400", result.HTTPStatus)
	}
	if !strings.Contains(err.Error(), "Latitude must be in range") {
		t.Errorf("error %q should carry the upstream reason", err)
	}
}

func TestEBird_NearbyHotspots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-eBirdApiToken"); got != "secret" {
			t.Errorf("token header = %q", got)
		}
		if r.URL.Path != "/ref/hotspot/geo" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("dist"); got != "50" {
			t.Errorf("dist = %s, want capped 50", got)
		}
		w.Write([]byte(`[
			{"locId":"L129060","locName":"High Island--Boy Scout Woods","countryCode":"US",
			 "subnational1Code":"US-TX","subnational2Code":"US-TX-071","lat":29.5647,"lng":-94.3912},
			{"locId":"","locName":"broken"}
		]`))
	}))
	defer srv.Close()

	client := NewEBirdClient(srv.URL, "secret")
	client.newBackOff = noDelay
	hotspots, result, err := client.NearbyHotspots(context.Background(), 29.56, -94.39, 120)
	if err != nil {
		t.Fatalf("NearbyHotspots: %v", err)
	}
	if len(hotspots) != 1 {
		t.Fatalf("got %d hotspots, want 1", len(hotspots))
	}
	if result.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", result.ParseErrors)
	}
	h := hotspots[0]
	if h.EBirdLocID != "L129060" || h.StateCode.String != "US-TX" || h.CountyCode.String != "US-TX-071" {
		t.Errorf("unexpected mapping: %+v", h)
	}
	if h.IsFalloutSite {
		t.Error("eBird hotspots should not be marked as fallout sites")
	}
}

func TestValidateHourly(t *testing.T) {
	tests := []struct {
		name      string
		obs       models.HourlyObservation
		wantFlags []string
	}{
		{
			name: "valid hour",
			obs: models.HourlyObservation{
				Temperature:       nf(18),
				WindSpeed:         nf(25),
				WindDirection:     ni(180),
				Pressure:          nf(1010),
				PrecipProbability: ni(40),
				Precipitation:     nf(0),
				CloudCover:        ni(100),
				Visibility:        ni(0),
				WeatherCode:       ni(95),
			},
		},
		{
			name:      "pressure below range",
			obs:       models.HourlyObservation{Pressure: nf(820)},
			wantFlags: []string{FlagPressureOutOfRange},
		},
		{
			name:      "direction above 360",
			obs:       models.HourlyObservation{WindDirection: ni(361)},
			wantFlags: []string{FlagWindDirInvalid},
		},
		{
			name:      "negative precipitation and rain",
			obs:       models.HourlyObservation{Precipitation: nf(-0.1), Rain: nf(-1)},
			wantFlags: []string{FlagPrecipNegative, FlagRainNegative},
		},
		{
			name:      "cloud cover over 100",
			obs:       models.HourlyObservation{CloudCover: ni(101), CloudCoverLow: ni(-1)},
			wantFlags: []string{FlagCloudCoverInvalid, FlagCloudCoverLowInvalid},
		},
		{
			name:      "unknown values are never flagged",
			obs:       models.HourlyObservation{},
			wantFlags: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateHourly(&tt.obs)
			if fmt.Sprint(got) != fmt.Sprint(tt.wantFlags) {
				t.Errorf("flags = %v, want %v", got, tt.wantFlags)
			}
		})
	}
}

func TestSanitizeHourly_ClearsFlaggedValues(t *testing.T) {
	obs := models.HourlyObservation{Temperature: nf(75), WindSpeed: nf(30)}
	flags := SanitizeHourly(&obs)
	if len(flags) != 1 {
		t.Fatalf("flags = %v, want one", flags)
	}
	if obs.Temperature.Valid {
		t.Error("temperature should be cleared")
	}
	if obs.WindSpeed != nf(30) {
		t.Error("valid wind speed should be kept")
	}
}

func setupScheduler(t *testing.T, handler http.HandlerFunc) (*Scheduler, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	st := store.New(db, clock)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewOpenMeteoClient(srv.URL)
	client.newBackOff = noDelay
	return NewScheduler(st, client, fallout.NewEngine(clock), clock, 2, ""), st
}

func addRegion(t *testing.T, st *store.Store, code string, lat, lon float64) string {
	t.Helper()
	id, err := st.UpsertRegion(models.Region{
		Name:       code,
		Code:       code,
		RegionType: models.RegionHotspotCluster,
		CenterLat:  lat,
		CenterLon:  lon,
	})
	if err != nil {
		t.Fatalf("UpsertRegion: %v", err)
	}
	return id
}

func TestScheduler_RefreshOnce(t *testing.T) {
	sched, st := setupScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latitude") == "10" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(hourlyBody(t, 48))
	})
	gulf := addRegion(t, st, "TX-HIGH-ISLAND", 29.5647, -94.3912)
	addRegion(t, st, "ZZ-BROKEN", 10, 10)

	summary, err := sched.RefreshOnce(context.Background())
	if err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}
	if summary.Regions != 2 || summary.Succeeded != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 regions, 1 ok, 1 failed", summary)
	}

	snapshots, err := st.CountWeatherSnapshots(gulf)
	if err != nil {
		t.Fatalf("CountWeatherSnapshots: %v", err)
	}
	if snapshots != 48 {
		t.Errorf("stored %d snapshots, want 48", snapshots)
	}

	predictions, err := st.PredictionsForRegion(gulf, time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), 7)
	if err != nil {
		t.Fatalf("PredictionsForRegion: %v", err)
	}
	if len(predictions) != 2 {
		t.Fatalf("got %d predictions, want 2", len(predictions))
	}
	for _, p := range predictions {
		if p.AlgorithmVersion != fallout.AlgorithmVersion {
			t.Errorf("AlgorithmVersion = %q", p.AlgorithmVersion)
		}
		if p.Corridor != models.CorridorGulfCoast || p.Season != models.SeasonSpring {
			t.Errorf("prediction %s: corridor %q season %q", p.Date.Format("2006-01-02"), p.Corridor, p.Season)
		}
		if p.OverallScore < 0 || p.OverallScore > 100 {
			t.Errorf("score %d out of range", p.OverallScore)
		}
	}

	feeds, err := st.FeedHealthSince(1)
	if err != nil {
		t.Fatalf("FeedHealthSince: %v", err)
	}
	if len(feeds) != 1 {
		t.Fatalf("got %d feeds, want 1", len(feeds))
	}
	if feeds[0].Runs != 2 || feeds[0].Succeeded != 1 || feeds[0].Failed != 1 {
		t.Errorf("feed = %+v", feeds[0])
	}
	if feeds[0].Records != 48 {
		t.Errorf("Records = %d, want 48", feeds[0].Records)
	}

	failures, err := st.RecentFailures(5)
	if err != nil {
		t.Fatalf("RecentFailures: %v", err)
	}
	if len(failures) != 1 || failures[0].HTTPStatus.Int64 != http.StatusBadGateway || failures[0].RegionCode != "ZZ-BROKEN" {
		t.Errorf("failures = %+v, want one 502 for ZZ-BROKEN", failures)
	}
}

func TestScheduler_RefreshRejectsGappedForecast(t *testing.T) {
	sched, st := setupScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hourly":{
			"time":["2025-04-15T00:00","2025-04-15T01:00","garbled","2025-04-15T03:00","2025-04-15T04:00","2025-04-15T05:00"],
			"pressure_msl":[1010,1009,1008,1007,1006,1005]}}`))
	})
	id := addRegion(t, st, "TX-HIGH-ISLAND", 29.5647, -94.3912)

	summary, err := sched.RefreshOnce(context.Background())
	if err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v, want the region to fail", summary)
	}
	if n, _ := st.CountWeatherSnapshots(id); n != 0 {
		t.Errorf("stored %d snapshots from a gapped forecast", n)
	}

	failures, err := st.RecentFailures(1)
	if err != nil || len(failures) != 1 {
		t.Fatalf("RecentFailures = %v, %v", failures, err)
	}
	if failures[0].ParseErrors.Int64 == 0 || !strings.Contains(failures[0].ErrorMessage.String, "garbled") {
		t.Errorf("failure = %+v, want parse errors naming the bad timestamp", failures[0])
	}
	if body, _ := st.RunPayload(failures[0].ID); !strings.Contains(string(body), "garbled") {
		t.Error("rejected body should still be archived")
	}
}

func TestScheduler_SyncHotspots(t *testing.T) {
	sched, st := setupScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("sync should not call Open-Meteo")
	})

	ebird := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") == "10.0000" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`[
			{"locId":"L129060","locName":"High Island--Boy Scout Woods","subnational1Code":"US-TX","lat":29.5647,"lng":-94.3912},
			{"locId":"L302468","locName":"Bolivar Flats","subnational1Code":"US-TX","lat":29.3806,"lng":-94.7261}
		]`))
	}))
	defer ebird.Close()

	client := NewEBirdClient(ebird.URL, "secret")
	client.newBackOff = noDelay
	sched.SetEBirdClient(client)

	gulf := addRegion(t, st, "TX-HIGH-ISLAND", 29.5647, -94.3912)
	addRegion(t, st, "ZZ-BROKEN", 10, 10)

	if err := sched.SyncHotspots(context.Background()); err != nil {
		t.Fatalf("SyncHotspots: %v", err)
	}

	for _, locID := range []string{"L129060", "L302468"} {
		h, err := st.GetHotspot(locID)
		if err != nil || h == nil {
			t.Fatalf("GetHotspot(%s) = %v, %v", locID, h, err)
		}
		if h.RegionID.String != gulf {
			t.Errorf("%s region = %q, want %q", locID, h.RegionID.String, gulf)
		}
		if h.IsFalloutSite {
			t.Errorf("%s marked as a fallout site", locID)
		}
		if !h.LastSyncedAt.Valid || !h.LastSyncedAt.Time.Equal(testNow) {
			t.Errorf("%s LastSyncedAt = %+v, want %v", locID, h.LastSyncedAt, testNow)
		}
	}

	feeds, err := st.FeedHealthSince(1)
	if err != nil {
		t.Fatalf("FeedHealthSince: %v", err)
	}
	if len(feeds) != 1 || feeds[0].Source != store.SourceEBird || feeds[0].Endpoint != store.EndpointHotspotGeo {
		t.Fatalf("feeds = %+v, want one ebird feed", feeds)
	}
	if feeds[0].Runs != 2 || feeds[0].Succeeded != 1 || feeds[0].Records != 2 {
		t.Errorf("ebird feed = %+v, want 2 runs, 1 ok, 2 records", feeds[0])
	}

	failures, _ := st.RecentFailures(5)
	if len(failures) != 1 || failures[0].RegionCode != "ZZ-BROKEN" || failures[0].HTTPStatus.Int64 != http.StatusForbidden {
		t.Errorf("failures = %+v, want one 403 for ZZ-BROKEN", failures)
	}
}

func TestScheduler_SyncHotspotsWithoutKey(t *testing.T) {
	sched, st := setupScheduler(t, func(w http.ResponseWriter, r *http.Request) {})
	addRegion(t, st, "TX-HIGH-ISLAND", 29.5647, -94.3912)

	if err := sched.SyncHotspots(context.Background()); err != nil {
		t.Fatalf("SyncHotspots: %v", err)
	}
	if feeds, _ := st.FeedHealthSince(1); len(feeds) != 0 {
		t.Errorf("sync without a client recorded runs: %+v", feeds)
	}
}

func TestScheduler_RefreshIsIdempotent(t *testing.T) {
	sched, st := setupScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(hourlyBody(t, 24))
	})
	id := addRegion(t, st, "NJ-CAPE-MAY", 38.9331, -74.9597)

	for i := 0; i < 2; i++ {
		if _, err := sched.RefreshOnce(context.Background()); err != nil {
			t.Fatalf("RefreshOnce #%d: %v", i+1, err)
		}
	}

	n, _ := st.CountWeatherSnapshots(id)
	if n != 24 {
		t.Errorf("stored %d snapshots after two refreshes, want 24", n)
	}
	predictions, _ := st.PredictionsForRegion(id, time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), 7)
	if len(predictions) != 1 {
		t.Errorf("got %d predictions, want 1", len(predictions))
	}
}
