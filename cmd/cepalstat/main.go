package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cepalstack/cepalstack/internal/config"
	"github.com/cepalstack/cepalstack/internal/derive"
	"github.com/cepalstack/cepalstack/internal/fetcher"
	"github.com/cepalstack/cepalstack/internal/persist"
	"github.com/cepalstack/cepalstack/internal/pipeline"
	"github.com/cepalstack/cepalstack/internal/report"
	"github.com/cepalstack/cepalstack/internal/sink"
)

const defaultConfigPath = "config.yaml"

type options struct {
	skipFetch  bool
	skipDerive bool
	watch      bool
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to config file")
	logLevel := flag.String("log-level", "info", "log level: debug | info | warn | error")
	var opts options
	flag.BoolVar(&opts.skipFetch, "skip-fetch", false, "do not download indicators")
	flag.BoolVar(&opts.skipDerive, "skip-derive", false, "do not compute monthly income")
	flag.BoolVar(&opts.watch, "watch", false, "re-derive whenever an input table changes")
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	runID := uuid.NewString()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("run_id", runID)
	slog.SetDefault(logger)

	slog.Info("cepalstat starting", "config", *configPath)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "err", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, runID, cfg, opts); err != nil {
		slog.Error("cepalstat failed", "err", err)
		cancel()
		os.Exit(1)
	}
	slog.Info("cepalstat finished")
}

// loadConfig falls back to built-in defaults when the default config file is
// absent. An explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		slog.Info("no config file, using defaults", "config", path)
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	slog.Info("config loaded",
		"base_url", cfg.API.BaseURL,
		"indicators", cfg.Paths.Indicators,
		"data_dir", cfg.Paths.DataDir,
		"storage", cfg.Storage.Backend,
	)
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid -log-level %q", s)
	}
	return l, nil
}

func run(ctx context.Context, runID string, cfg *config.Config, opts options) error {
	if err := persist.EnsureDirs(cfg.Paths.MetadataDir, cfg.Paths.DataDir); err != nil {
		return err
	}

	rep := report.Run{ID: runID}

	if !opts.skipFetch {
		sum, err := fetchAll(ctx, cfg)
		if err != nil {
			return err
		}
		rep.Fetch = &sum
	}

	snk, err := sink.Open(cfg.Storage)
	if err != nil {
		return err
	}
	if snk != nil {
		defer snk.Close()
	}

	deriveOnce := func() error {
		start := time.Now()
		res, out, err := derive.Run(cfg.Paths.DataDir, cfg.Derive)
		if err != nil {
			return err
		}
		rep.Result = res
		rep.Duration = time.Since(start)
		rep.Finished = time.Now()
		slog.Info("derive: result written",
			"path", out,
			"rows", len(res.Rows),
			"countries", res.Countries,
			"years", fmt.Sprintf("%d-%d", res.FirstYear, res.LastYear),
			"duration", rep.Duration,
		)

		if snk != nil {
			if err := snk.Replace(ctx, res.Rows); err != nil {
				return err
			}
			slog.Info("sink: result stored", "backend", cfg.Storage.Backend, "rows", len(res.Rows))
		}
		return nil
	}

	// In watch mode the inputs may not exist yet, so a failed first
	// derivation waits for the next change instead of ending the run.
	if !opts.skipDerive {
		if err := deriveOnce(); err != nil {
			if !opts.watch {
				return err
			}
			slog.Error("derive: initial derivation failed, waiting for input changes", "err", err)
		}
	}
	writeReport(cfg.Report.Path, rep)

	if !opts.watch {
		return nil
	}

	inputs := derive.InputPaths(cfg.Paths.DataDir, cfg.Derive)
	slog.Info("watching inputs", "paths", inputs)
	return derive.Watch(ctx, inputs, func() {
		slog.Info("derive: inputs changed, re-deriving")
		if err := deriveOnce(); err != nil {
			slog.Error("derive: re-derivation failed", "err", err)
			return
		}
		writeReport(cfg.Report.Path, rep)
	})
}

func fetchAll(ctx context.Context, cfg *config.Config) (pipeline.Summary, error) {
	client, err := fetcher.New(cfg.API)
	if err != nil {
		return pipeline.Summary{}, err
	}
	ids, err := pipeline.ReadIndicators(cfg.Paths.Indicators)
	if err != nil {
		return pipeline.Summary{}, err
	}
	slog.Info("pipeline: indicators loaded", "count", len(ids))

	sum := pipeline.New(client, cfg.Paths.MetadataDir, cfg.Paths.DataDir).Run(ctx, ids)

	attrs := []any{"processed", len(sum.Outcomes), "succeeded", sum.Succeeded()}
	for step, n := range sum.FailedAt() {
		attrs = append(attrs, "failed_"+string(step), n)
	}
	slog.Info("pipeline: run complete", attrs...)
	return sum, nil
}

// writeReport logs rather than fails: the report is a side channel.
func writeReport(path string, rep report.Run) {
	if path == "" {
		return
	}
	if err := report.Write(path, rep); err != nil {
		slog.Warn("report: write failed", "path", path, "err", err)
		return
	}
	slog.Debug("report: written", "path", path)
}
