package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/practicecore/libs/auth"
	"github.com/md-rashed-zaman/practicecore/libs/db"
	"github.com/md-rashed-zaman/practicecore/libs/grpcx"
	"github.com/md-rashed-zaman/practicecore/libs/httpx"
	"github.com/md-rashed-zaman/practicecore/libs/kafkax"
	otelx "github.com/md-rashed-zaman/practicecore/libs/otel"
	"github.com/md-rashed-zaman/practicecore/libs/runtime"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/availability"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/credits"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/handlers"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/memberships"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/processor"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/reconcile"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/rewards"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/scheduler"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/settlement"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage/memory"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage/postgres"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers with the background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

// backend is the storage-specific half of the wiring.
type backend struct {
	store   storage.Store
	outbox  outbox.Source
	locker  reconcile.Locker
	checks  []runtime.ReadyCheck
	prune   func(context.Context) (int64, error)
	closeFn func()
}

func openBackend(ctx context.Context, cfg Config, logger *slog.Logger) (backend, error) {
	if cfg.Storage == storageMemory {
		s := memory.New()
		if cfg.DemoSeed {
			seedDemo(s, time.Now().UTC())
			logger.Info("demo data seeded")
		}
		logger.Warn("using in-memory storage; data is lost on restart")
		return backend{store: s, outbox: s, locker: reconcile.NoopLocker{}, closeFn: func() {}}, nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns:  cfg.DBMaxConns,
		SlowQuery: cfg.DBSlowQuery,
		Logger:    logger,
	})
	if err != nil {
		return backend{}, fmt.Errorf("db connect: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return backend{}, err
		}
		logger.Info("schema migrated")
	}
	store := postgres.New(pool, db.DefaultRetryPolicy())
	repo := outbox.NewRepository(pool)
	return backend{
		store:  store,
		outbox: repo,
		locker: store.AdvisoryLocker(cfg.SweepLockKey),
		checks: []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}},
		prune: func(ctx context.Context) (int64, error) {
			return repo.Prune(ctx, cfg.OutboxRetention)
		},
		closeFn: pool.Close,
	}, nil
}

func newAuthenticator(cfg Config) (tenant.Authenticator, error) {
	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		return nil, errors.New("config: JWT_SECRET or JWKS_URL is required")
	}
	opts := auth.VerifierOptions{
		HS256Secret: cfg.JWTSecret,
		Issuer:      cfg.JWTIssuer,
		Audience:    cfg.JWTAudience,
		Leeway:      cfg.JWTLeeway,
	}
	if cfg.JWKSURL != "" {
		opts.JWKS = auth.NewJWKSClient(cfg.JWKSURL, 5*time.Minute)
	}
	v, err := auth.NewVerifier(opts)
	if err != nil {
		return nil, err
	}
	return tenant.JWTAuthenticator{Verifier: v}, nil
}

func serve(cfg Config) error {
	logger := runtime.NewLoggerWithOptions(cfg.Service, runtime.LogOptions{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, cfg.Config)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	authn, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.closeFn()

	proc := processor.New(cfg.StripeSecretKey)
	ledger := credits.NewLedger(logger)
	points := rewards.NewLedger()
	settler := settlement.NewHandler(ledger, points, cfg.RewardBaseRate, logger)

	h := handlers.New(handlers.Deps{
		Store:                  be.store,
		Scheduler:              scheduler.NewService(be.store, settler, logger),
		Resolver:               availability.NewResolver(be.store),
		Memberships:            memberships.NewService(be.store, ledger, proc, logger),
		Rewards:                points,
		Logger:                 logger,
		StripeWebhookSecret:    cfg.StripeWebhookSecret,
		StripeWebhookTolerance: cfg.StripeWebhookTolerance,
	})

	worker := reconcile.NewWorker(be.store, reconcile.NewReconciler(ledger, logger), logger, reconcile.WorkerConfig{
		PollEvery:   cfg.WorkerPollEvery,
		MaxAttempts: cfg.WorkerMaxAttempts,
		RetryBase:   cfg.WorkerRetryBase,
		RetryMax:    cfg.WorkerRetryMax,
	})
	go worker.Run(ctx)

	publisher := outbox.NewPublisher(be.outbox, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	})
	go publisher.Run(ctx)

	jobs := newScheduler(logger)
	if cfg.StripeSecretKey != "" {
		sweeper := reconcile.NewSweeper(be.store, proc, be.locker, logger, cfg.SweepBatchSize)
		if _, err := jobs.AddFunc(cfg.SweepCron, func() {
			n, err := sweeper.SweepOnce(ctx)
			if err != nil {
				logger.Error("membership sweep failed", "err", err)
				return
			}
			logger.Info("membership sweep finished", "queued", n)
		}); err != nil {
			return fmt.Errorf("schedule sweep %q: %w", cfg.SweepCron, err)
		}
	} else {
		logger.Warn("membership sweep disabled: STRIPE_SECRET_KEY missing")
	}
	if be.prune != nil {
		if _, err := jobs.AddFunc(cfg.OutboxPruneCron, func() {
			n, err := be.prune(ctx)
			if err != nil {
				logger.Error("outbox prune failed", "err", err)
				return
			}
			logger.Info("outbox pruned", "deleted", n)
		}); err != nil {
			return fmt.Errorf("schedule outbox prune %q: %w", cfg.OutboxPruneCron, err)
		}
	}
	jobs.Start()
	defer func() { <-jobs.Stop().Done() }()

	checks := be.checks
	if len(cfg.KafkaBrokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	var limiter httpx.Limiter = httpx.NewMemoryLimiter(cfg.RateLimitPerMin, time.Minute)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = httpx.NewRedisLimiter(rdb, cfg.RateLimitPerMin, time.Minute, cfg.Service+":rl")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	api, public := http.NewServeMux(), http.NewServeMux()
	h.Routes(api, public)
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/webhooks/", public)
	mux.Handle("/", httpx.Chain(api,
		tenant.Middleware(authn),
		httpx.RateLimit(limiter, tenant.OrgKey, logger, cfg.RateLimitFailOpen),
	))

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(cfg.MaxBodyBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	srv := &http.Server{
		Addr:              cfg.Port.Addr(),
		Handler:           otelhttp.NewHandler(httpHandler, cfg.Service),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCPort.Addr())
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go watchHealth(ctx, health, be.checks, logger)
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	health.Shutdown()
	grpcSrv.GracefulStop()
	logger.Info("servers stopped")
	return nil
}

// watchHealth mirrors the storage readiness checks onto the gRPC health
// service until ctx ends.
func watchHealth(ctx context.Context, hs interface {
	SetServingStatus(string, healthpb.HealthCheckResponse_ServingStatus)
}, checks []runtime.ReadyCheck, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_SERVING
		failures := runtime.RunChecks(ctx, checks)
		if len(failures) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			for name, err := range failures {
				logger.Warn("dependency unhealthy", "check", name, "err", err)
			}
			hs.SetServingStatus("", status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
