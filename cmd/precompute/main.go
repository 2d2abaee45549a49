// Package main provides a batch precompute tool: it builds session frame
// artifacts ahead of time and stores them in the frame cache so that the
// first viewer of a session does not pay the build cost.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridline-data/gridline.replay/internal/framecache"
	"github.com/gridline-data/gridline.replay/internal/telemetry"
	"github.com/gridline-data/gridline.replay/internal/upstream"
)

type config struct {
	BridgeURL string
	CachePath string
	Year      int
	Rounds    string
	Kinds     string
	Refresh   bool
	Verbose   bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.BridgeURL, "bridge", "http://localhost:8001", "F1 data bridge base URL")
	flag.StringVar(&cfg.CachePath, "cache", "frames.db", "Frame cache database path")
	flag.IntVar(&cfg.Year, "year", time.Now().Year(), "Season to precompute")
	flag.StringVar(&cfg.Rounds, "rounds", "", "Comma-separated round numbers (default: whole season)")
	flag.StringVar(&cfg.Kinds, "kinds", "R", "Comma-separated session kinds (R,S,Q,SQ)")
	flag.BoolVar(&cfg.Refresh, "refresh", false, "Rebuild even when a cache entry exists")
	flag.BoolVar(&cfg.Verbose, "v", false, "Verbose pipeline logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if cfg.Verbose {
		telemetry.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	} else {
		telemetry.SetLogWriters(os.Stderr, nil, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("precompute failed")
	}
}

func run(ctx context.Context, cfg config, log zerolog.Logger) error {
	cache, err := framecache.Open(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer cache.Close()

	client := upstream.NewClient(cfg.BridgeURL, nil)

	rounds, err := selectRounds(ctx, client, cfg)
	if err != nil {
		return err
	}
	kinds := strings.Split(cfg.Kinds, ",")

	for _, round := range rounds {
		for _, kind := range kinds {
			kind = strings.TrimSpace(kind)
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := precompute(ctx, client, cache, cfg, round, kind, log); err != nil {
				log.Error().Err(err).Int("round", round).Str("kind", kind).Msg("session skipped")
			}
		}
	}
	return nil
}

func selectRounds(ctx context.Context, client *upstream.Client, cfg config) ([]int, error) {
	if cfg.Rounds != "" {
		var out []int
		for _, part := range strings.Split(cfg.Rounds, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("invalid round %q", part)
			}
			out = append(out, n)
		}
		return out, nil
	}

	listed, err := client.Rounds(ctx, cfg.Year)
	if err != nil {
		return nil, fmt.Errorf("listing rounds for %d: %w", cfg.Year, err)
	}
	out := make([]int, len(listed))
	for i, r := range listed {
		out[i] = r.Round
	}
	return out, nil
}

func precompute(ctx context.Context, client *upstream.Client, cache *framecache.Cache, cfg config, round int, kind string, log zerolog.Logger) error {
	if !cfg.Refresh {
		if _, err := cache.Load(ctx, cfg.Year, round, kind); err == nil {
			log.Info().Int("round", round).Str("kind", kind).Msg("already cached")
			return nil
		}
	}

	started := time.Now()
	log.Info().Int("round", round).Str("kind", kind).Msg("building")

	var entry framecache.Entry
	switch kind {
	case "Q", "SQ":
		catalog, err := telemetry.BuildQuali(ctx, client.QualiSource(cfg.Year, round, kind), telemetry.BuildOptions{})
		if err != nil {
			return err
		}
		entry.Quali = catalog
	default:
		data, err := telemetry.BuildRace(ctx, client.RaceSource(cfg.Year, round, kind), telemetry.BuildOptions{})
		if err != nil {
			return err
		}
		entry.Race = data
		log.Info().Int("frames", len(data.Frames)).Int("laps", data.TotalLaps).Msg("frames built")
	}

	if err := cache.Save(ctx, cfg.Year, round, kind, &entry); err != nil {
		return err
	}
	log.Info().Int("round", round).Str("kind", kind).Dur("took", time.Since(started)).Msg("cached")
	return nil
}
