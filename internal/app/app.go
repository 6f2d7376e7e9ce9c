package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/keyward/keyward/internal/api"
	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/cache"
	"github.com/keyward/keyward/internal/domain/apikey"
	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/repository"
	"github.com/keyward/keyward/pkg/health"
	"github.com/keyward/keyward/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the side-effect
// consumer, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := health.New()

	// Credential store: PostgreSQL when configured, in-memory otherwise.
	var repo apikey.Repository
	if cfg.DatabaseURL != "" {
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
		repo = repository.NewAPIKeyRepository(pool)
	} else {
		lg.Warn("No database configured, keys will not survive restarts")
		repo = repository.NewMemory()
	}

	// Verification cache: Redis when configured, in-process otherwise.
	var verifyCache cache.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()

		redisCache, err := cache.NewRedis(ctx, client)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		verifyCache = redisCache
	} else {
		verifyCache = cache.NewMemory(time.Minute)
	}

	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	settings := cfg.Settings()

	// Side-effect pipeline: usage stats and lifecycle hooks run off the
	// request path through a bounded queue.
	dispatcher := events.NewChannel(cfg.EventBuffer, lg.Named("events"))
	consumer := events.NewConsumer(repo, lg.Named("events"), settings.TrackRequestsCount)

	keyService := apikey.NewService(repo, settings)
	authenticator := auth.NewAuthenticator(cfg.AuthConfig(settings), repo, verifyCache, dispatcher)

	h := api.NewHandler(keyService, authenticator)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("keyward-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := dispatcher.Run(gctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	<-shutdownDone
	return nil
}
