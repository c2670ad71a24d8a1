package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpapi "github.com/aussiebroadwan/gatekeeper/internal/auth/http"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/instrumentation"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/revocation"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/ratelimit"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

const (
	redisPrefix = "gatekeeper:"

	// memoryLimiterKeys bounds each in-process limiter. Idle buckets are
	// dropped by housekeeping.
	memoryLimiterKeys = 100_000
)

type migratingStore interface {
	store.Store
	ApplyMigrations() error
}

// Application holds the wired auth service.
type Application struct {
	cfg    Config
	logger *slog.Logger
	inst   *instrumentation.Instrumentation

	db    store.Store
	redis *redis.Client

	ring     *keyRing
	keyCache *jwtx.KeyCache
	watcher  *keyWatcher

	tokenService        *service.TokenService
	validator           *service.TokenValidator
	userService         *service.UserService
	mfaService          *service.MFAService
	housekeepingService *service.HousekeepingService

	router *httpapi.Router
	server *http.Server

	startOnce   sync.Once
	started     bool
	stopWatcher context.CancelFunc
}

// Option adjusts how New wires the application.
type Option func(*options)

type options struct {
	secrets SecretsClient
	inst    *instrumentation.Instrumentation
}

// WithSecretsClient replaces the AWS Secrets Manager client.
func WithSecretsClient(c SecretsClient) Option {
	return func(o *options) { o.secrets = c }
}

// WithInstrumentation replaces the providers built from Config.MetricsEnabled.
func WithInstrumentation(i *instrumentation.Instrumentation) Option {
	return func(o *options) { o.inst = i }
}

// New wires every dependency. Nothing runs until Start or Run.
func New(ctx context.Context, cfg Config, opts ...Option) (*Application, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "gatekeeper",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initInstrumentation(o.inst); err != nil {
		return nil, err
	}
	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.initRedis(ctx); err != nil {
		app.closeStores()
		return nil, err
	}
	if err := app.initKeys(ctx, o.secrets); err != nil {
		app.closeStores()
		return nil, err
	}
	if err := app.initServices(ctx); err != nil {
		app.closeStores()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler exposes the router, mainly for tests.
func (app *Application) Handler() http.Handler { return app.router }

// Start launches the background workers: housekeeping and the key file
// watcher. It is safe to call more than once.
func (app *Application) Start(ctx context.Context) {
	app.startOnce.Do(func() {
		app.started = true
		app.housekeepingService.Start()

		if app.watcher != nil {
			wctx, cancel := context.WithCancel(ctx)
			app.stopWatcher = cancel
			go app.watcher.Run(wctx)
		}
	})
}

// Run starts the application and blocks until ctx is cancelled, a shutdown
// signal arrives or the server fails.
func (app *Application) Run(ctx context.Context) error {
	app.Start(ctx)

	app.logger.Info("gatekeeper starting",
		slog.String("addr", app.cfg.ListenAddr),
		slog.String("version", BuildVersion),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
		app.logger.Info("context cancelled")
	}

	if err := app.Shutdown(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Shutdown drains the server, stops the workers and closes the stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gatekeeper")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", slog.Any("err", err))
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", slog.Any("err", err))
		}
	}

	if app.started {
		app.housekeepingService.Stop()
		if app.stopWatcher != nil {
			app.stopWatcher()
		}
	}

	if err := app.inst.Shutdown(ctx); err != nil {
		app.logger.Error("instrumentation shutdown failed", slog.Any("err", err))
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("gatekeeper stopped")
	return nil
}

func (app *Application) closeStores() error {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database", slog.Any("err", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (app *Application) initInstrumentation(inst *instrumentation.Instrumentation) error {
	if inst != nil {
		app.inst = inst
		return nil
	}
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "gatekeeper",
		ServiceVersion: BuildVersion,
		Enabled:        app.cfg.MetricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	app.inst = inst
	return nil
}

func (app *Application) initDatabase(ctx context.Context) error {
	var (
		db  migratingStore
		err error
	)
	switch app.cfg.DBDriver {
	case DriverPostgres:
		db, err = postgres.NewStore(ctx, app.cfg.DBDSN)
	default:
		db, err = sqlite.NewStore(app.cfg.DBDSN)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		app.db = nil
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied", slog.String("driver", app.cfg.DBDriver))
	return nil
}

func (app *Application) initRedis(ctx context.Context) error {
	if app.cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(app.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	app.redis = redis.NewClient(opts)

	// Unreachable Redis is tolerated at startup. Limiters are wrapped in
	// ratelimit.FailOpen and readiness reports the outage.
	if err := app.redis.Ping(ctx).Err(); err != nil {
		app.logger.Warn("redis unreachable at startup", slog.Any("err", err))
	}
	return nil
}

func (app *Application) initKeys(ctx context.Context, secrets SecretsClient) error {
	ring, source, err := initKeys(ctx, app.cfg, secrets, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.ring = ring

	metrics := app.inst.Metrics()
	app.keyCache = jwtx.NewKeyCache(jwtx.KeyCacheOptions{
		Source:       source,
		MaxAttempts:  app.cfg.KeyFetchAttempts,
		Backoff:      app.cfg.KeyFetchBackoff,
		FetchTimeout: app.cfg.KeyFetchTimeout,
		Logger:       app.logger,
		OnFetchError: func(_ int, err error) {
			metrics.RecordKeyFetch(context.Background(), err)
		},
	})

	if app.cfg.SigningMode == SigningModeAsymmetric && app.cfg.WatchKeyFile {
		w, err := newKeyWatcher(app.cfg.PrivateKeyFile, ring.Reload, app.keyCache.Invalidate, app.logger)
		if err != nil {
			app.logger.Warn("signing key watcher disabled", slog.Any("err", err))
		} else {
			app.watcher = w
		}
	}
	return nil
}

func (app *Application) initServices(ctx context.Context) error {
	metrics := app.inst.Metrics()

	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}
	passwords := cryptox.PasswordHasher{Pepper: pepper}

	app.housekeepingService = service.NewHousekeepingService(app.db, app.logger, app.cfg.HousekeepingInterval)

	var revocations revocation.Store
	if app.redis != nil {
		revocations = revocation.NewRedisStore(app.redis, redisPrefix+"revoked:")
	} else {
		mem := revocation.NewMemoryStore(nil)
		revocations = mem
		app.housekeepingService.Sweepers = append(app.housekeepingService.Sweepers, mem)
		if err := app.inst.RegisterGauge("auth.revocations.entries",
			"Access tokens held in the in-memory blacklist",
			func() int64 { return int64(mem.Len()) },
		); err != nil {
			return err
		}
	}

	codec := jwtx.NewCodec(app.cfg.Issuer, nil)

	app.tokenService = &service.TokenService{
		Store:       app.db,
		Codec:       codec,
		Signer:      app.ring,
		Passwords:   passwords,
		Guard:       service.NewLoginGuard(app.db, app.cfg.LockoutPolicy(), nil),
		Revocations: revocations,
		AccessTTL:   app.cfg.AccessTTL,
		RefreshTTL:  app.cfg.RefreshTTL,
		Metrics:     metrics,
		Tracer:      app.inst.Tracer("service"),
	}
	app.validator = &service.TokenValidator{
		Codec:       codec,
		Keys:        app.keyCache,
		Revocations: revocations,
		FailClosed:  app.cfg.RevocationFailClosed,
		Metrics:     metrics,
	}
	app.userService = &service.UserService{Store: app.db, Passwords: passwords}
	app.mfaService = &service.MFAService{Store: app.db, Issuer: app.cfg.Issuer}

	if app.cfg.AdminEmail != "" {
		bootstrap := &service.BootstrapService{Users: app.userService}
		created, err := bootstrap.EnsureAdmin(ctx, app.cfg.AdminEmail, app.cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("failed to bootstrap admin: %w", err)
		}
		if created {
			app.logger.Info("bootstrap admin created", slog.String("email", app.cfg.AdminEmail))
		}
	}
	return nil
}

func (app *Application) initHTTP() {
	metrics := app.inst.Metrics()

	router := httpapi.NewRouter(BuildVersion, app.logger)
	router.TokenService = app.tokenService
	router.Validator = app.validator
	router.MFAService = app.mfaService
	router.Keys = app.keyCache
	router.Metrics = metrics
	router.IPLimit = app.cfg.IPRate
	router.PrincipalLimit = app.cfg.PrincipalRate
	router.TrustProxy = app.cfg.TrustProxy
	router.IPLimiter = app.limiter("ip", app.cfg.IPRate)
	router.PrincipalLimiter = app.limiter("principal", app.cfg.PrincipalRate)

	router.ReadinessChecks = []httpapi.ReadinessCheck{
		{Name: "database", Ping: app.db.Ping},
		{Name: "signing_key", Ping: func(ctx context.Context) error {
			_, err := app.keyCache.GetKey(ctx)
			return err
		}},
	}
	if app.redis != nil {
		router.ReadinessChecks = append(router.ReadinessChecks, httpapi.ReadinessCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return app.redis.Ping(ctx).Err() },
		})
	}

	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              app.cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// limiter picks the shared Redis limiter when Redis is configured and an
// in-process one otherwise.
func (app *Application) limiter(name string, cfg ratelimit.Config) ratelimit.Limiter {
	metrics := app.inst.Metrics()

	if app.redis != nil {
		redisLimiter := ratelimit.NewRedisLimiter(app.redis, redisPrefix+"rl:"+name+":", cfg, nil)
		return ratelimit.FailOpen(redisLimiter, app.logger, func(string, error) {
			metrics.RecordFailOpen(context.Background(), "ratelimit."+name)
		})
	}

	mem := ratelimit.NewMemoryLimiter(cfg, nil, memoryLimiterKeys)
	app.housekeepingService.Limiters = append(app.housekeepingService.Limiters, mem)
	if err := app.inst.RegisterGauge("auth.ratelimit."+name+".keys",
		"Keys tracked by the in-memory "+name+" limiter",
		func() int64 { return int64(mem.Len()) },
	); err != nil {
		app.logger.Warn("ratelimit gauge not registered", slog.String("limiter", name), slog.Any("err", err))
	}
	return mem
}
