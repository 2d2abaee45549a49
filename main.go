// Command gridline-replay serves F1 race replays: it builds dense 25 Hz
// frame sequences from upstream session telemetry and streams them to
// clients over websockets with play/pause/seek control.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/gridline-data/gridline.replay/internal/api"
	"github.com/gridline-data/gridline.replay/internal/framecache"
	"github.com/gridline-data/gridline.replay/internal/monitoring"
	"github.com/gridline-data/gridline.replay/internal/replay"
	"github.com/gridline-data/gridline.replay/internal/telemetry"
	"github.com/gridline-data/gridline.replay/internal/upstream"
	"github.com/gridline-data/gridline.replay/internal/version"
)

// Config is the service configuration, read from GRIDLINE_* environment
// variables with flag overrides.
type Config struct {
	Listen    string `default:":8080"`
	BridgeURL string `envconfig:"BRIDGE_URL" default:"http://localhost:8001"`
	CachePath string `envconfig:"CACHE_PATH" default:"frames.db"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Debug     bool
}

var (
	listen    = flag.String("listen", "", "Listen address (overrides GRIDLINE_LISTEN)")
	bridgeURL = flag.String("bridge", "", "F1 data bridge base URL (overrides GRIDLINE_BRIDGE_URL)")
	cachePath = flag.String("cache", "", "Frame cache database path (overrides GRIDLINE_CACHE_PATH)")
	debug     = flag.Bool("debug", false, "Enable debug and trace logging")
)

func main() {
	flag.Parse()

	var cfg Config
	if err := envconfig.Process("gridline", &cfg); err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *bridgeURL != "" {
		cfg.BridgeURL = *bridgeURL
	}
	if *cachePath != "" {
		cfg.CachePath = *cachePath
	}
	if *debug {
		cfg.Debug = true
	}

	log := newLogger(cfg)
	monitoring.SetLogger(func(format string, v ...interface{}) {
		log.Debug().Msgf(format, v...)
	})
	wirePipelineLogs(cfg.Debug)

	log.Info().
		Str("version", version.Version).
		Str("commit", version.GitSHA).
		Str("listen", cfg.Listen).
		Str("bridge", cfg.BridgeURL).
		Msg("starting gridline-replay")

	cache, err := framecache.Open(cfg.CachePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.CachePath).Msg("opening frame cache")
	}
	defer cache.Close()

	up := upstream.NewClient(cfg.BridgeURL, nil)
	manager, err := replay.NewManager(up, cache, log)
	if err != nil {
		log.Fatal().Err(err).Msg("creating session manager")
	}

	server := api.NewServer(manager, up, nil, log)
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	manager.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

func newLogger(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// wirePipelineLogs routes the frame pipeline's leveled writers: operational
// messages always, diagnostics and trace only in debug mode.
func wirePipelineLogs(debug bool) {
	diag := io.Discard
	trace := io.Discard
	if debug {
		diag = os.Stderr
		trace = os.Stderr
	}
	telemetry.SetLogWriters(os.Stderr, diag, trace)
}
