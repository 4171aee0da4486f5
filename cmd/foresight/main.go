package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/futarchia/foresight/api"
	"github.com/futarchia/foresight/internal/auth"
	"github.com/futarchia/foresight/internal/config"
	"github.com/futarchia/foresight/internal/mcp"
	"github.com/futarchia/foresight/internal/params"
	"github.com/futarchia/foresight/internal/ratelimit"
	"github.com/futarchia/foresight/internal/server"
	"github.com/futarchia/foresight/internal/service/evolution"
	"github.com/futarchia/foresight/internal/service/market"
	"github.com/futarchia/foresight/internal/service/reputation"
	"github.com/futarchia/foresight/internal/service/treasury"
	"github.com/futarchia/foresight/internal/storage"
	"github.com/futarchia/foresight/internal/telemetry"
	"github.com/futarchia/foresight/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("FORESIGHT_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("foresight starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Load the committed governance parameters, seeding defaults on the
	// first boot.
	cur, err := db.LoadParams(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("params: %w", err)
		}
		cur = params.Defaults()
		if err := db.SaveParams(ctx, cur); err != nil {
			return fmt.Errorf("params: seed defaults: %w", err)
		}
		logger.Info("seeded default governance parameters")
	}
	paramStore, err := params.NewStore(cur, db, logger)
	if err != nil {
		return fmt.Errorf("params: %w", err)
	}

	// Service layer, shared by HTTP and MCP.
	reputationSvc := reputation.New(db, cfg.ReputationTTL, logger)
	marketSvc := market.New(db, paramStore, reputationSvc, nil, logger)
	treasurySvc := treasury.New(db, logger)
	evolutionSvc, err := evolution.New(ctx, db, paramStore, logger)
	if err != nil {
		return fmt.Errorf("evolution: %w", err)
	}

	mcpSrv := mcp.New(marketSvc, reputationSvc, evolutionSvc, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		DB:                  db,
		JWT:                 jwtMgr,
		Market:              marketSvc,
		Reputation:          reputationSvc,
		Evolution:           evolutionSvc,
		Treasury:            treasurySvc,
		Logger:              logger,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})

	if err := handlers.SeedOperator(ctx, cfg.OperatorAPIKey); err != nil {
		slog.Warn("operator seed failed", "error", err)
	}

	srv := server.New(server.ServerConfig{
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MCPServer:    mcpSrv.MCPServer(),
	}, handlers, jwtMgr, limiter, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Periodically re-verify the evolution audit chain so tampering is
	// noticed long before anyone consults the log.
	g.Go(func() error {
		chainVerifyLoop(gctx, evolutionSvc, logger, cfg.EvolutionInterval)
		return nil
	})

	// Expired idempotency keys are useless after their replay window.
	g.Go(func() error {
		idempotencyCleanupLoop(gctx, db, logger, cfg.IdempotencyTTL)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		slog.Info("foresight shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("foresight stopped")
	return nil
}

func chainVerifyLoop(ctx context.Context, evo *evolution.Service, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			corrupted, err := evo.VerifyChain(ctx)
			if err != nil {
				logger.Error("evolution chain verification failed", "error", err)
				continue
			}
			if corrupted != 0 {
				logger.Error("evolution audit chain corrupted", "first_corrupted_id", corrupted)
			}
		}
	}
}

func idempotencyCleanupLoop(ctx context.Context, db *storage.DB, logger *slog.Logger, completedTTL time.Duration) {
	// Abandoned in-progress keys block retries, so they expire much
	// sooner than completed replays.
	const inProgressTTL = time.Hour

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := db.CleanupIdempotencyKeys(ctx, completedTTL, inProgressTTL)
			if err != nil {
				logger.Error("idempotency cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("idempotency keys cleaned", "removed", removed)
			}
		}
	}
}
