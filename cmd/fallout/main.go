package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/api"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/cache"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/fallout"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/hotspots"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/ingest"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/store"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/weather"
)

type CLI struct {
	DB              string        `help:"Path to SQLite database." default:"data/fallout.db" env:"FALLOUT_DB" type:"path"`
	OpenMeteoURL    string        `name:"openmeteo-url" help:"Open-Meteo API base URL." default:"https://api.open-meteo.com/v1" env:"OPENMETEO_BASE_URL"`
	EBirdAPIKey     string        `name:"ebird-api-key" help:"eBird API token; enables hotspot sync." env:"EBIRD_API_KEY"`
	EBirdURL        string        `name:"ebird-url" help:"eBird API base URL." default:"https://api.ebird.org/v2" env:"EBIRD_BASE_URL"`
	WeatherCacheTTL time.Duration `help:"How long upstream forecasts are cached." default:"1h" env:"WEATHER_CACHE_TTL"`
	ValkeyAddr      string        `help:"Valkey/Redis address or URL for the forecast cache; empty uses memory." env:"VALKEY_ADDR"`
	ForecastDays    int           `help:"Days of forecast to score on refresh." default:"7" env:"FORECAST_DAYS"`

	Serve   ServeCmd   `cmd:"" help:"Run the API server and scheduled refresh."`
	Predict PredictCmd `cmd:"" help:"Print predictions for a point as JSON."`
	Ingest  IngestCmd  `cmd:"" help:"Refresh stored predictions once and exit."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations and exit."`
}

type ServeCmd struct {
	Port               string        `help:"HTTP server port." default:"8080" env:"PORT"`
	PredictionCacheTTL time.Duration `help:"How long point predictions are cached." default:"30m" env:"PREDICTION_CACHE_TTL"`
	RefreshSchedule    string        `help:"Cron schedule (UTC) for the prediction refresh." default:"0 */6 * * *" env:"REFRESH_SCHEDULE"`
	CORSOrigins        []string      `name:"cors-origin" help:"Allowed CORS origins." default:"http://localhost:5173,http://localhost:3000" env:"CORS_ORIGINS"`
	NoPoll             bool          `help:"Disable scheduled refresh (server only, for local dev)."`
}

type PredictCmd struct {
	Lat  float64 `help:"Latitude." required:""`
	Lon  float64 `help:"Longitude." required:""`
	Days int     `help:"Days to predict (1-16)." default:"7"`
}

type IngestCmd struct{}

type MigrateCmd struct{}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("fallout"),
		kong.Description("Birding fallout predictor."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

func openStore(path string, clock clockwork.Clock) (*store.Store, *sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, clock)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Println("database migrated")
	return st, db, nil
}

func (c *CLI) scheduler(st *store.Store, clock clockwork.Clock, schedule string) *ingest.Scheduler {
	sched := ingest.NewScheduler(st, ingest.NewOpenMeteoClient(c.OpenMeteoURL), fallout.NewEngine(clock), clock, c.ForecastDays, schedule)
	if c.EBirdAPIKey != "" {
		sched.SetEBirdClient(ingest.NewEBirdClient(c.EBirdURL, c.EBirdAPIKey))
	}
	return sched
}

func seed(st *store.Store) error {
	n, err := hotspots.Seed(st)
	if err != nil {
		return err
	}
	log.Printf("seeded %d fallout sites", n)
	return nil
}

func (cmd *ServeCmd) Run(cli *CLI) error {
	clock := clockwork.NewRealClock()
	st, db, err := openStore(cli.DB, clock)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := seed(st); err != nil {
		return err
	}

	forecastCache := cache.Open(cli.ValkeyAddr)
	weatherSvc := weather.NewService(ingest.NewOpenMeteoClient(cli.OpenMeteoURL), forecastCache, cli.WeatherCacheTTL, clock)
	defer weatherSvc.Close()

	predictions := api.NewPredictionService(weatherSvc, fallout.NewEngine(clock), cache.NewMemory(clock), cmd.PredictionCacheTTL)
	server := api.NewServer(st, weatherSvc, predictions, clock, cmd.Port)
	server.SetAllowedOrigins(cmd.CORSOrigins)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !cmd.NoPoll {
		sched := cli.scheduler(st, clock, cmd.RefreshSchedule)
		go func() {
			if err := sched.Run(ctx); err != nil {
				log.Printf("scheduler: %v", err)
			}
		}()
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	return server.Run(ctx)
}

func (cmd *PredictCmd) Run(cli *CLI) error {
	if cmd.Lat < -90 || cmd.Lat > 90 || cmd.Lon < -180 || cmd.Lon > 180 {
		return fmt.Errorf("coordinates out of range: %g,%g", cmd.Lat, cmd.Lon)
	}
	if cmd.Days < 1 || cmd.Days > ingest.MaxForecastDays {
		return fmt.Errorf("days must be between 1 and %d", ingest.MaxForecastDays)
	}

	clock := clockwork.NewRealClock()
	weatherSvc := weather.NewService(ingest.NewOpenMeteoClient(cli.OpenMeteoURL), cache.NewMemory(clock), cli.WeatherCacheTTL, clock)
	defer weatherSvc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	daily, err := api.NewPredictionService(weatherSvc, fallout.NewEngine(clock), nil, 0).Predict(ctx, cmd.Lat, cmd.Lon, cmd.Days)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(api.NewPredictions(daily, cmd.Lat, cmd.Lon))
}

func (cmd *IngestCmd) Run(cli *CLI) error {
	clock := clockwork.NewRealClock()
	st, db, err := openStore(cli.DB, clock)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := seed(st); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := cli.scheduler(st, clock, "")
	if err := sched.SyncHotspots(ctx); err != nil {
		log.Printf("hotspot sync: %v", err)
	}

	log.Println("running single refresh")
	summary, err := sched.RefreshOnce(ctx)
	if err != nil {
		return err
	}
	log.Printf("done: %d/%d regions refreshed", summary.Succeeded, summary.Regions)
	if summary.Regions > 0 && summary.Succeeded == 0 {
		return fmt.Errorf("every region failed to refresh")
	}
	return nil
}

func (cmd *MigrateCmd) Run(cli *CLI) error {
	st, db, err := openStore(cli.DB, clockwork.NewRealClock())
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	log.Printf("schema at version %d", version)
	return nil
}
