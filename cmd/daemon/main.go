// SPDX-License-Identifier: MIT

// Command daemon runs the vodpull server: HTTP API, download scheduler,
// retention sweeper and config watcher in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/strmforge/vodpull/internal/api"
	"github.com/strmforge/vodpull/internal/config"
	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/mux"
	"github.com/strmforge/vodpull/internal/retention"
	"github.com/strmforge/vodpull/internal/scheduler"
	"github.com/strmforge/vodpull/internal/settings"
	"github.com/strmforge/vodpull/internal/telemetry"
	"github.com/strmforge/vodpull/internal/upstream"
	"github.com/strmforge/vodpull/internal/version"
)

const (
	// readHeaderTimeout bounds header reads only. Connection deadlines
	// stay unset so WebSocket sessions and long range downloads survive.
	readHeaderTimeout = 10 * time.Second

	retentionSweepInterval = time.Hour

	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	listenFlag := flag.String("listen", "", "listen address override (host:port)")
	dataFlag := flag.String("data", "", "data directory override")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Explicit -config wins; otherwise pick up <dataDir>/config.yaml when
	// it exists, so a hand-placed config survives without extra flags.
	explicitPath := strings.TrimSpace(*configPath)
	effectivePath := explicitPath
	if effectivePath == "" {
		dataDir := strings.TrimSpace(*dataFlag)
		if dataDir == "" {
			dataDir = strings.TrimSpace(os.Getenv(config.EnvDataDir))
		}
		if dataDir == "" {
			dataDir = "./data"
		}
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectivePath = autoPath
		}
	}

	cfg, err := config.Load(effectivePath)
	if err != nil {
		log.Configure(log.Config{Service: "vodpull"})
		log.WithComponent("daemon").Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectivePath).
			Msg("failed to load configuration")
	}
	if err := applyFlagOverrides(&cfg, *listenFlag, *dataFlag); err != nil {
		log.Configure(log.Config{Service: "vodpull"})
		log.WithComponent("daemon").Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("flag overrides failed validation")
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "vodpull"})
	logger := log.WithComponent("daemon")

	switch {
	case explicitPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectivePath).
			Msg("loaded configuration from file")
	case effectivePath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file(auto)").
			Str("path", effectivePath).
			Msg("loaded configuration from file")
	default:
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	holder := config.NewHolder(cfg, effectivePath)

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "vodpull",
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Protocol,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise tracing")
	}

	muxer := mux.New(mux.NewRunner(cfg.FFmpegBin))
	toolReady := true
	if err := muxer.Probe(); err != nil {
		// Not fatal: the API still serves the cache and settings, and
		// every download fails cleanly with the install hint.
		toolReady = false
		logger.Error().
			Err(err).
			Str("event", "startup.tool_missing").
			Str("ffmpeg_bin", cfg.FFmpegBin).
			Msg("media tool not found; downloads will fail until it is installed")
	}

	store, err := settings.Load(cfg.SettingsPath(), settings.Default(cfg.DefaultDownloadsDir()))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "settings.load_failed").
			Str("path", cfg.SettingsPath()).
			Msg("failed to load settings")
	}

	// The downloads root is fixed for the process lifetime so the
	// retention store and the scheduler never disagree about where
	// finished artifacts live. A changed setting applies on restart.
	downloadsRoot := store.DownloadsDir()
	retStore := retention.NewStore(downloadsRoot, store.DefaultRetentionDays)

	manager := scheduler.New(scheduler.Config{
		TempRoot:              cfg.TempRoot(),
		DownloadsRoot:         downloadsRoot,
		MaxConcurrent:         store.MaxConcurrent,
		Retention:             retStore,
		Muxer:                 muxer,
		AllowPrivateUpstreams: cfg.AllowPrivateUpstreams,
	})
	if err := manager.Initialize(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "scheduler.init_failed").
			Msg("failed to initialise scheduler")
	}

	apiServer := api.New(api.Options{
		Queue:     manager,
		Settings:  store,
		Retention: retStore,
		NewUpstream: func(srv settings.Server) (api.Upstream, error) {
			// Read the policy from the holder so a config reload
			// applies to the next request.
			return upstream.New(srv, upstream.Options{
				AllowPrivateHosts: holder.Get().AllowPrivateUpstreams,
			})
		},
		RateLimit: cfg.APIRateLimit,
		Version:   version.Version,
	})
	apiServer.SetReady(true)

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Listen).
		Msg("starting vodpull")
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Downloads: %s", downloadsRoot)
	if toolReady {
		logger.Info().Msgf("→ FFmpeg: %s", cfg.FFmpegBin)
	} else {
		logger.Warn().Msgf("→ FFmpeg: NOT FOUND (%s)", cfg.FFmpegBin)
	}
	logger.Info().Msgf("→ API rate limit: %d req/min", cfg.APIRateLimit)
	if cfg.AllowPrivateUpstreams {
		logger.Info().Msg("→ Upstreams: private addresses allowed")
	}
	if cfg.Telemetry.Enabled {
		logger.Info().Msgf("→ Telemetry: %s via %s", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: the daemon runs fine without it.
	if err := holder.Watch(gctx); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "config.watcher_start_failed").
			Msg("failed to start config watcher")
	}

	reloads := make(chan config.Config, 1)
	holder.RegisterListener(reloads)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case next := <-reloads:
				applyReload(logger, next)
			}
		}
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info().
					Str("event", "config.reload.signal").
					Msg("SIGHUP received, reloading configuration")
				if err := holder.Reload(gctx); err != nil {
					logger.Warn().
						Err(err).
						Str("event", "config.reload_failed").
						Msg("config reload failed, keeping previous configuration")
				}
			}
		}
	})

	g.Go(func() error {
		retStore.StartSweeper(gctx, retentionSweepInterval)
		return nil
	})

	g.Go(func() error {
		logger.Info().
			Str("event", "http.listening").
			Str("addr", httpSrv.Addr).
			Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		apiServer.SetReady(false)

		// ShutdownTimeout comes from the holder so a reloaded value
		// applies to this drain.
		timeout := holder.Get().ShutdownTimeout
		shCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		logger.Info().
			Str("event", "shutdown.started").
			Dur("timeout", timeout).
			Msg("shutting down")
		if err := httpSrv.Shutdown(shCtx); err != nil {
			logger.Warn().
				Err(err).
				Str("event", "shutdown.http_failed").
				Msg("http server shutdown failed")
		}
		apiServer.Close()
		if err := manager.Shutdown(shCtx); err != nil {
			logger.Error().
				Err(err).
				Str("event", "shutdown.scheduler_failed").
				Msg("scheduler shutdown failed")
		}
		return nil
	})

	err = g.Wait()
	holder.Stop()

	telCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	if shutdownErr := provider.Shutdown(telCtx); shutdownErr != nil {
		logger.Warn().
			Err(shutdownErr).
			Str("event", "shutdown.telemetry_failed").
			Msg("telemetry shutdown failed")
	}
	cancel()

	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}
	logger.Info().Msg("server exiting")
}

// applyFlagOverrides lets -listen and -data beat the file and the
// environment, then re-validates the merged result.
func applyFlagOverrides(cfg *config.Config, listen, data string) error {
	listen = strings.TrimSpace(listen)
	data = strings.TrimSpace(data)
	if listen == "" && data == "" {
		return nil
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if data != "" {
		if abs, err := filepath.Abs(data); err == nil {
			data = abs
		}
		cfg.DataDir = data
	}
	return cfg.Validate()
}

// applyReload applies the hot parts of a freshly loaded configuration.
// The holder already logged which fields need a restart instead.
func applyReload(logger zerolog.Logger, cfg config.Config) {
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	logger.Info().
		Str("event", "config.reload.applied").
		Str("log_level", cfg.LogLevel).
		Msg("reloaded configuration applied")
}
