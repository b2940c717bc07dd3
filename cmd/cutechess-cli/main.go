package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/laldon/cutechess/internal/archive"
	"github.com/laldon/cutechess/internal/config"
	"github.com/laldon/cutechess/internal/game"
	"github.com/laldon/cutechess/internal/livestate"
	"github.com/laldon/cutechess/internal/match"
	"github.com/laldon/cutechess/internal/obslog"
	"github.com/laldon/cutechess/internal/pgn"
	"github.com/laldon/cutechess/internal/report"
	"github.com/laldon/cutechess/internal/uci"
)

func main() {
	configPath := flag.String("config", "match.yaml", "path to the match configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	if err := obslog.Init(level); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer obslog.Sync()

	opts, closers, err := buildOptions(cfg)
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()
	if err != nil {
		return err
	}

	m := match.New(opts)
	runErr := m.Run(ctx)
	fmt.Println(m.Score())
	return runErr
}

// buildOptions translates the file configuration into match options and
// connects the configured sinks. Returned closers shut the sinks down in
// order, also when buildOptions itself fails partway.
func buildOptions(cfg *config.Config) (match.Options, []func() error, error) {
	var closers []func() error

	opts := match.Options{
		Event:     cfg.Event,
		Site:      cfg.Site,
		Variant:   cfg.Variant,
		Games:     cfg.Games,
		Repeat:    cfg.Repeat,
		StartFEN:  cfg.Openings.FEN,
		BookFile:  cfg.Openings.Book,
		BookDepth: cfg.Openings.BookDepth,
		PGNFile:   cfg.Openings.PGN,
		PGNDepth:  cfg.Openings.PGNDepth,
		PGNOut:    cfg.PGNOut,
		Cooldown:  time.Duration(cfg.CooldownMs) * time.Millisecond,
		Debug:     cfg.Debug,
		Rules: game.AdjudicationRules{
			DrawMoveNumber:  cfg.Adjudication.DrawMoveNumber,
			DrawMoveCount:   cfg.Adjudication.DrawMoveCount,
			DrawScoreCP:     cfg.Adjudication.DrawScore,
			ResignMoveCount: cfg.Adjudication.ResignMoveCount,
			ResignScoreCP:   cfg.Adjudication.ResignScore,
			UseTablebase:    cfg.Adjudication.Tablebase,
		},
	}
	if cfg.PGNMode == "minimal" {
		opts.PGNMode = pgn.Minimal
	}

	for i, e := range cfg.Engines {
		tc, err := e.TimeControl()
		if err != nil {
			return match.Options{}, closers, err
		}
		opts.Engines[i] = uci.Config{
			Name:        e.Name,
			Command:     e.Command,
			Args:        e.Args,
			Dir:         e.Dir,
			Options:     e.Options,
			TimeControl: tc,
			Depth:       e.Depth,
			Nodes:       e.Nodes,
		}
	}

	if cfg.Sinks.DatabaseURL != "" {
		store, err := archive.Open(cfg.Sinks.DatabaseURL)
		if err != nil {
			return match.Options{}, closers, fmt.Errorf("archive: %w", err)
		}
		closers = append(closers, store.Close)
		opts.Archive = store
	}
	if cfg.Sinks.RedisURL != "" {
		pub, err := livestate.New(cfg.Sinks.RedisURL)
		if err != nil {
			return match.Options{}, closers, fmt.Errorf("livestate: %w", err)
		}
		closers = append(closers, pub.Close)
		opts.Live = pub
	}
	if cfg.Sinks.ReportURL != "" {
		client, err := report.New(cfg.Sinks.ReportURL)
		if err != nil {
			return match.Options{}, closers, fmt.Errorf("report: %w", err)
		}
		opts.Report = client
	}

	return opts, closers, nil
}
