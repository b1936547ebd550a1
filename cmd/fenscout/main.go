// fenscout scatters random material onto a chess board and asks a UCI
// engine for an evaluation of every position that survives its check
// filter, highlighting near-equal ones. Engine crashes on malformed
// positions are expected and handled by restarting the engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/fenscout/internal/config"
	"github.com/park285/fenscout/internal/obslog"
	"github.com/park285/fenscout/internal/scout"
	"github.com/park285/fenscout/internal/uci"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fenscout:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to a YAML config file")
		material    = flag.String("material", "", "piece symbols to scatter per position")
		executable  = flag.String("executable", "", "comma-separated engine binary candidates")
		moveTimeMS  = flag.Int("movetime", 0, "per-position search time (ms)")
		depth       = flag.Int("depth", 0, "per-position search depth")
		count       = flag.Int("count", 0, "number of positions to report")
		noHighlight = flag.Bool("no-highlight", false, "disable highlighting of near-equal evaluations")
		threshold   = flag.Int("highlight-threshold", -1, "highlight threshold (centipawns)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *material != "" {
		cfg.Material = *material
	}
	if *executable != "" {
		cfg.ExecutablePath = *executable
	}
	if *moveTimeMS > 0 {
		cfg.MoveTimeMillis = *moveTimeMS
	}
	if *depth > 0 {
		cfg.Depth = *depth
	}
	if *count > 0 {
		cfg.TargetCount = *count
	}
	if *noHighlight {
		cfg.Highlight = false
	}
	if *threshold >= 0 {
		cfg.HighlightThreshold = *threshold
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := obslog.InitFromEnv(); err != nil {
		return err
	}
	logger := obslog.L()
	defer logger.Sync()

	binary, err := uci.ResolveExecutable(cfg.ExecutablePath)
	if err != nil {
		return fmt.Errorf("%w (set -executable or FENSCOUT_EXECUTABLE)", err)
	}
	logger.Info("using engine", zap.String("binary", binary))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := uci.NewSession(binary, logger.Named("uci"))
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		if err := session.Stop(); err != nil {
			logger.Warn("engine stop failed", zap.Error(err))
		}
	}()

	s := scout.New(session, scout.Config{
		Material: cfg.Material,
		Limits: uci.Limits{
			Depth:          cfg.Depth,
			MoveTimeMillis: cfg.MoveTimeMillis,
		},
		TargetCount:        cfg.TargetCount,
		Highlight:          cfg.Highlight,
		HighlightThreshold: cfg.HighlightThreshold,
	}, logger.Named("scout"))
	defer s.Close()

	if cfg.RedisURL != "" {
		sink, err := scout.NewRedisSink(cfg.RedisURL, time.Duration(cfg.RedisTTLSecs)*time.Second)
		if err != nil {
			return fmt.Errorf("redis sink: %w", err)
		}
		s.AttachSink(sink)
		logger.Info("recording findings to redis", zap.String("run_id", s.RunID()))
	}
	if cfg.DatabaseURL != "" {
		repo, err := scout.NewRepository(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres sink: %w", err)
		}
		s.AttachSink(repo)
		logger.Info("recording findings to postgres", zap.String("run_id", s.RunID()))
	}

	if err := s.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted")
			return nil
		}
		return err
	}
	return nil
}
