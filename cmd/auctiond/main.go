package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skovgaard/auctiond/internal/api"
	"github.com/skovgaard/auctiond/internal/arbiter"
	"github.com/skovgaard/auctiond/internal/auction"
	"github.com/skovgaard/auctiond/internal/clock"
	"github.com/skovgaard/auctiond/internal/config"
	"github.com/skovgaard/auctiond/internal/health"
	"github.com/skovgaard/auctiond/internal/hub"
	"github.com/skovgaard/auctiond/internal/identity"
	"github.com/skovgaard/auctiond/internal/leader"
	"github.com/skovgaard/auctiond/internal/store/postgres"
	"github.com/skovgaard/auctiond/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer repos.Closer.Close()
	logger.InfoContext(ctx, "connected to database", slog.String("host", cfg.Database.Host))

	arb, err := arbiter.NewRedis(ctx, cfg.Arbiter, logger)
	if err != nil {
		return fmt.Errorf("connecting to arbiter: %w", err)
	}
	defer arb.Close()

	broadcast := hub.New(logger, 64)
	coord := auction.New(arb, repos.Auctions, repos.Users, broadcast, logger, tp.TracerProvider, clk)
	verifier := identity.NewVerifier(cfg.Identity.Secret, repos.Users, logger)

	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "database", Check: repos.Ping},
		health.Checker{Name: "arbiter", Check: arb.Ping},
	)

	srv := api.NewServer(coord, verifier, broadcast, healthHandler, logger, cfg.Server.CORSOrigins)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	// serve is the coordinating work that only one replica should run: it
	// recovers the live registry, flips readiness and holds it until the
	// context ends.
	serve := func(ctx context.Context) {
		n, recoverErr := coord.Recover(ctx)
		if recoverErr != nil {
			logger.ErrorContext(ctx, "auction recovery failed", slog.Any("error", recoverErr))
			return
		}
		logger.InfoContext(ctx, "auctiond is running",
			slog.String("version", version),
			slog.Int("recovered_auctions", n),
		)

		healthHandler.SetReady(true)
		<-ctx.Done()
		healthHandler.SetReady(false)
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")
		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, serve, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		serve(ctx)
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
