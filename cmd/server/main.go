package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kyleqd/sitemap/internal/collab"
	"github.com/kyleqd/sitemap/internal/config"
	"github.com/kyleqd/sitemap/internal/database"
	"github.com/kyleqd/sitemap/internal/editor"
	"github.com/kyleqd/sitemap/internal/handler/health"
	"github.com/kyleqd/sitemap/internal/migrations"
	"github.com/kyleqd/sitemap/internal/persist"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	// --- Rules ---
	engine := rules.Default()
	if cfg.RulesFile != "" {
		rc, err := rules.LoadConfig(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}
		if engine, err = rules.NewEngine(rc); err != nil {
			return fmt.Errorf("compiling rules: %w", err)
		}
		logger.Info("loaded rules", "path", cfg.RulesFile, "rules", engine.RuleIDs())
	}

	// --- Collab transport ---
	tr, err := openTransport(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening %s transport: %w", cfg.CollabTransport, err)
	}
	defer tr.close()

	// --- Editor ---
	reg := editor.NewRegistry(ctx, editor.Options{
		Engine:   engine,
		CellSize: cfg.SpatialCellSize,
		Collab: collab.Config{
			IdleTimeout:    cfg.PresenceIdleTimeout,
			SweepInterval:  cfg.PresenceSweepInterval,
			ConflictWindow: cfg.ConflictWindow,
			CursorRate:     rate.Limit(cfg.CursorRate),
			CursorBurst:    cfg.CursorBurst,
		},
		Transport:     tr.Transport,
		Docs:          persist.NewDocStore(db),
		FlushInterval: cfg.SnapshotFlushInterval,
		Logger:        logger,
	})

	if cfg.SeedDemo {
		if err := editor.SeedDemo(ctx, logger, reg); err != nil {
			return fmt.Errorf("seeding demo map: %w", err)
		}
	}

	// --- HTTP Server ---
	checks := map[string]health.Checker{"sqlite": dbChecker{db}}
	if tr.check != nil {
		checks[string(cfg.CollabTransport)] = tr.check
	}
	srv := server.New(cfg.HTTPAddr, logger, reg, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		if err := srv.Shutdown(context.Background()); err != nil {
			return err
		}
		logger.Info("flushing open maps")
		return reg.Close()
	})

	return g.Wait()
}

// dbChecker adapts *sql.DB to health.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }
