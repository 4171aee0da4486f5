// Package foresight is the public API for embedding the Foresight
// governance server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := foresight.New(
//	    foresight.WithVersion(version),
//	    foresight.WithLogger(logger),
//	    foresight.WithExecutor(myPayloadRunner{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: foresight (root)
// imports internal/*, but internal/* never imports foresight (root).
// Public types (Proposal, Deliverable) are standalone structs with no
// internal imports; the conversion helper toPublicProposal lives here
// because this is the only file that sees both sides of the boundary.
package foresight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/futarchia/foresight/api"
	"github.com/futarchia/foresight/internal/auth"
	"github.com/futarchia/foresight/internal/config"
	"github.com/futarchia/foresight/internal/mcp"
	"github.com/futarchia/foresight/internal/model"
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

// App is the Foresight server lifecycle. Construct with New(), run with
// Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	evolution    *evolution.Service
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Foresight server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("foresight starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Load the committed governance parameters, seeding defaults on the
	// first boot.
	cur, err := db.LoadParams(context.Background())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("params: %w", err)
		}
		cur = params.Defaults()
		if err := db.SaveParams(context.Background(), cur); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("params: seed defaults: %w", err)
		}
		logger.Info("seeded default governance parameters")
	}
	paramStore, err := params.NewStore(cur, db, logger)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("params: %w", err)
	}

	// External executor override takes priority over the log-only default.
	var executor market.Executor
	if o.executor != nil {
		executor = &executorAdapter{e: o.executor}
	}

	reputationSvc := reputation.New(db, cfg.ReputationTTL, logger)
	marketSvc := market.New(db, paramStore, reputationSvc, executor, logger)
	treasurySvc := treasury.New(db, logger)
	evolutionSvc, err := evolution.New(context.Background(), db, paramStore, logger)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("evolution: %w", err)
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

	if err := handlers.SeedOperator(context.Background(), cfg.OperatorAPIKey); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("operator seed: %w", err)
	}

	srv := server.New(server.ServerConfig{
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MCPServer:    mcpSrv.MCPServer(),
	}, handlers, jwtMgr, limiter, logger)

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		evolution:    evolutionSvc,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the background loops and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown has
// already run — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.chainVerifyLoop(gctx)
		return nil
	})

	g.Go(func() error {
		a.idempotencyCleanupLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown drains in-flight requests, then closes the database pool and
// the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("foresight shutting down")

	err := a.srv.Shutdown(ctx)

	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("foresight stopped")
	return err
}

// chainVerifyLoop periodically re-verifies the evolution audit chain so
// tampering is noticed long before anyone consults the log.
func (a *App) chainVerifyLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.EvolutionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			corrupted, err := a.evolution.VerifyChain(ctx)
			if err != nil {
				a.logger.Error("evolution chain verification failed", "error", err)
				continue
			}
			if corrupted != 0 {
				a.logger.Error("evolution audit chain corrupted", "first_corrupted_id", corrupted)
			}
		}
	}
}

func (a *App) idempotencyCleanupLoop(ctx context.Context) {
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
			removed, err := a.db.CleanupIdempotencyKeys(ctx, a.cfg.IdempotencyTTL, inProgressTTL)
			if err != nil {
				a.logger.Error("idempotency cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				a.logger.Info("idempotency keys cleaned", "removed", removed)
			}
		}
	}
}

// executorAdapter wraps a public Executor to satisfy market.Executor.
// It converts internal model types to public foresight types at the
// boundary.
type executorAdapter struct {
	e Executor
}

func (a *executorAdapter) Execute(ctx context.Context, p model.Proposal) error {
	return a.e.Execute(ctx, toPublicProposal(p))
}

// toPublicProposal converts an internal model.Proposal to the public
// foresight.Proposal. Lives here because this is the only file that
// imports both sides of the boundary.
func toPublicProposal(p model.Proposal) Proposal {
	milestones := make([]Milestone, len(p.Deliverable.Milestones))
	for i, m := range p.Deliverable.Milestones {
		milestones[i] = Milestone{DueAt: m.DueAt, Completed: m.Completed}
	}
	return Proposal{
		ID:               p.ID,
		Title:            p.Title,
		Description:      p.Description,
		Proposer:         p.Proposer,
		OutcomeTag:       p.OutcomeTag,
		ExecutionPayload: p.ExecutionPayload,
		Deliverable: Deliverable{
			Type:           p.Deliverable.Type,
			Description:    p.Deliverable.Description,
			Links:          p.Deliverable.Links,
			Milestones:     milestones,
			SuccessMetrics: p.Deliverable.SuccessMetrics,
		},
		CreatedAt:         p.CreatedAt,
		Deadline:          p.Deadline,
		ExecutionDeadline: p.ExecutionDeadline,
	}
}
