package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/episense/episense/pkg/config"
	"github.com/episense/episense/pkg/feature"
	"github.com/episense/episense/pkg/lifecycle"
	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/metrics"
	"github.com/episense/episense/pkg/model"
	"github.com/episense/episense/pkg/provider"
	"github.com/episense/episense/pkg/push"
	"github.com/episense/episense/pkg/risk"
	"github.com/episense/episense/pkg/store"
	"github.com/episense/episense/pkg/telem"
	"github.com/episense/episense/pkg/trainer"
	"github.com/episense/episense/pkg/weather"
)

const (
	version = "1.0.0-dev"
	appName = "episensed"
)

func main() {
	var (
		configFile  = flag.String("config", "/etc/episense/config.json", "Config file path")
		logLevel    = flag.String("log-level", "", "Log level override (debug|info|warn|error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logx.New(cfg.LogLevel)
	logger.Info("starting episense daemon",
		"version", version,
		"config", *configFile,
		"log_level", cfg.LogLevel,
	)

	db, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer db.Close()

	weatherCfg := weather.DefaultConfig()
	weatherCfg.Latitude = cfg.Latitude
	weatherCfg.Longitude = cfg.Longitude
	if cfg.WeatherBaseURL != "" {
		weatherCfg.BaseURL = cfg.WeatherBaseURL
	}
	weatherClient := weather.NewClient(weatherCfg, logger)

	var healthProvider provider.HealthProvider = provider.NoopHealthProvider{}

	telemStore := telem.NewStore(cfg.Telemetry)

	var recorder *metrics.Server
	if cfg.MetricsEnabled {
		recorder = metrics.NewServer(logger)
		if err := recorder.Start(cfg.MetricsAddr); err != nil {
			logger.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer recorder.Stop()
	}

	pushClient := push.NewClient(cfg.Push, logger)
	if err := pushClient.Connect(); err != nil {
		// The companion channel is best-effort; scoring proceeds without it.
		logger.Warn("companion push unavailable", "error", err)
	}
	defer pushClient.Disconnect()

	extractor := feature.New(logger)
	modelTrainer := trainer.New(trainer.DefaultConfig(), extractor, logger)
	controller := lifecycle.New(lifecycle.Config{
		Threshold:    cfg.ModelThreshold,
		RetrainEvery: cfg.ModelRetrainEvery,
		Cooldown:     time.Duration(cfg.ModelCooldownHours) * time.Hour,
	}, modelTrainer, logger)

	var sink risk.Sink = pushClient
	var rec risk.Recorder
	if recorder != nil {
		rec = recorder
	}
	engine := risk.New(extractor, controller, sink, rec, telemStore, logger)
	engine.SetThrottle(time.Duration(cfg.RefreshMinutes) * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	refresh := func() {
		in, hours := gatherInputs(ctx, cfg, db, weatherClient, healthProvider, recorder, telemStore, logger)
		engine.Refresh(ctx, in, hours)
	}

	logger.Info("episense daemon started")
	refresh()

	ticker := time.NewTicker(time.Duration(cfg.RefreshMinutes) * time.Minute)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ticker.C:
			refresh()
		case <-cleanup.C:
			telemStore.Cleanup()
		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			return
		}
	}
}

// gatherInputs assembles one scoring call's inputs from the store and
// providers. Provider failures degrade to missing signals.
func gatherInputs(
	ctx context.Context,
	cfg *config.Config,
	db *store.Store,
	weatherClient *weather.Client,
	healthProvider provider.HealthProvider,
	recorder *metrics.Server,
	telemStore *telem.Store,
	logger *logx.Logger,
) (risk.Input, []model.ForecastHour) {
	in := risk.Input{}
	in.At = time.Now()

	episodes, err := db.ListEpisodes(ctx)
	if err != nil {
		logger.Warn("failed to load episodes", "error", err)
	}
	in.Episodes = episodes

	if checkIns, err := db.ListCheckIns(ctx); err == nil {
		in.AllCheckIns = checkIns
	} else {
		logger.Warn("failed to load check-ins", "error", err)
	}
	if today, err := db.LoadToday(ctx); err == nil {
		in.CheckIn = today
	}
	if recent, err := db.LoadRange(ctx, 7); err == nil {
		in.RecentCheckIns = recent
	}

	if current, err := weatherClient.Current(ctx); err == nil {
		in.Weather = current
	} else {
		logger.Warn("weather unavailable", "error", err)
		if recorder != nil {
			recorder.RecordProviderError("weather")
		}
		telemStore.AddEvent(telem.Event{
			Timestamp: time.Now(),
			Level:     "warn",
			Type:      "provider_failure",
			Message:   "weather provider unavailable",
		})
	}

	if healthProvider.IsAuthorized() {
		if snapshot, err := healthProvider.LatestSnapshot(ctx); err == nil {
			in.Health = snapshot
		} else if recorder != nil {
			recorder.RecordProviderError("health")
		}
	}

	var hours []model.ForecastHour
	if h, err := weatherClient.FetchForecast(ctx, cfg.Latitude, cfg.Longitude); err == nil {
		hours = h
	} else {
		logger.Warn("forecast unavailable", "error", err)
		if recorder != nil {
			recorder.RecordProviderError("weather_forecast")
		}
	}

	return in, hours
}
