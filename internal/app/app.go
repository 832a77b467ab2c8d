// Package app assembles the service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/opengovfood/opengovfood/internal/config"
	"github.com/opengovfood/opengovfood/internal/crypto"
	"github.com/opengovfood/opengovfood/internal/limiter"
	"github.com/opengovfood/opengovfood/internal/migrate"
	"github.com/opengovfood/opengovfood/internal/obs"
	"github.com/opengovfood/opengovfood/internal/repository/postgres"
	"github.com/opengovfood/opengovfood/internal/repository/sqlite"
	"github.com/opengovfood/opengovfood/internal/seed"
	grpcserver "github.com/opengovfood/opengovfood/internal/server/grpc"
	httpserver "github.com/opengovfood/opengovfood/internal/server/http"
	"github.com/opengovfood/opengovfood/internal/service"
	"github.com/opengovfood/opengovfood/internal/session"
	"github.com/opengovfood/opengovfood/internal/token"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// Store is a session manager with a reachability probe.
type Store interface {
	session.Manager
	Ping(ctx context.Context) error
}

// App is a fully wired service instance.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *obs.Metrics
	store   Store
	hasher  *crypto.Hasher

	Auth  *service.AuthServiceImpl
	Items *service.ItemServiceImpl

	http     *httpserver.Server
	janitors []func(ctx context.Context)
	closers  []func()
}

// New opens storage (running migrations), builds the auth core and the transports.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, version string) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{cfg: cfg, log: log, metrics: obs.NewMetrics()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	pg, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	a.hasher, err = crypto.NewHasher(
		crypto.WithAlgorithm(crypto.Algorithm(cfg.Auth.PasswordHashAlgo)),
		crypto.WithCost(cfg.Auth.PasswordHashCost),
	)
	if err != nil {
		return nil, err
	}
	codec, err := token.New([]byte(cfg.Auth.SecretKey),
		token.WithIssuer(cfg.Auth.Issuer),
		token.WithLeeway(cfg.Auth.Leeway),
	)
	if err != nil {
		return nil, err
	}
	lim, err := a.newLimiter(ctx, pg)
	if err != nil {
		return nil, err
	}

	a.Auth = service.NewAuthService(a.store, a.hasher, codec, lim, cfg.TokenTTL(),
		service.WithOpenRegistration(cfg.Auth.OpenRegistration),
		service.WithLogger(log.Named("auth")),
		service.WithRecorder(a.metrics),
	)
	a.Items = service.NewItemService(a.store, a.Auth.Resolver(), service.NewGate(log.Named("gate"), a.metrics), log.Named("items"))

	a.http = httpserver.New(a.Auth, a.Items, a.store, log.Named("http"), a.metrics, httpserver.Options{
		Version:        version,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RatePerSecond:  cfg.HTTP.RatePerSecond,
		RateBurst:      cfg.HTTP.RateBurst,
		TrustForwarded: cfg.HTTP.TrustForwarded,
	})
	a.janitors = append(a.janitors, a.http.Janitor)
	return a, nil
}

// openStore connects the configured database. The postgres handle is returned for backends that
// share it.
func (a *App) openStore(ctx context.Context) (*postgres.DB, error) {
	kind, target := a.cfg.Database.Kind()
	switch kind {
	case "postgres":
		iso, err := postgres.ParseIsolation(a.cfg.Database.Isolation)
		if err != nil {
			return nil, err
		}
		if err := migrate.UpPostgres(ctx, target, a.log.Named("migrate")); err != nil {
			return nil, err
		}
		db, err := postgres.New(ctx, target)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.store = postgres.NewManager(db,
			postgres.WithIsolation(iso),
			postgres.WithLogger(a.log.Named("uow")),
			postgres.WithObserver(a.metrics.UnitOfWork),
		)
		a.log.Info("database ready", zap.String("kind", kind))
		return db, nil
	case "sqlite":
		db, err := sqlite.Open(ctx, target, a.log.Named("migrate"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.store = sqlite.NewManager(db,
			sqlite.WithLogger(a.log.Named("uow")),
			sqlite.WithObserver(a.metrics.UnitOfWork),
		)
		a.log.Info("database ready", zap.String("kind", kind), zap.String("path", target))
		return nil, nil
	default:
		return nil, fmt.Errorf("app: unsupported database %q", kind)
	}
}

func (a *App) newLimiter(ctx context.Context, pg *postgres.DB) (limiter.Limiter, error) {
	lc := limiter.Config{Threshold: a.cfg.RateLimit.Threshold, Window: a.cfg.RateLimit.Window}
	switch a.cfg.RateLimit.Backend {
	case "memory":
		m, err := limiter.NewMemory(lc)
		if err != nil {
			return nil, err
		}
		a.janitors = append(a.janitors, func(ctx context.Context) { m.Janitor(ctx, lc.Window) })
		return m, nil
	case "postgres":
		if pg == nil {
			return nil, errors.New("app: postgres rate limiter requires a postgres database")
		}
		l, err := limiter.NewPG(pg.Pool, lc)
		if err != nil {
			return nil, err
		}
		a.janitors = append(a.janitors, func(ctx context.Context) { a.prunePG(ctx, l, lc.Window) })
		return l, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("app: redis ping: %w", err)
		}
		return limiter.NewRedis(rdb, lc, "")
	default:
		return nil, fmt.Errorf("app: unknown rate limit backend %q", a.cfg.RateLimit.Backend)
	}
}

func (a *App) prunePG(ctx context.Context, l *limiter.PG, every time.Duration) {
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			if n, err := l.Prune(ctx); err != nil {
				a.log.Warn("prune login attempts", zap.Error(err))
			} else if n > 0 {
				a.log.Debug("pruned login attempts", zap.Int64("rows", n))
			}
		}
	}
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.http.Handler() }

// Seed inserts demo data into an empty database.
func (a *App) Seed(ctx context.Context) (bool, error) {
	return seed.Run(ctx, a.store, a.hasher, a.log.Named("seed"))
}

// Run serves HTTP (and the gRPC health listener when configured) until ctx is done, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, j := range a.janitors {
		go j(ctx)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.HTTP.ReadTimeout,
		WriteTimeout:      a.cfg.HTTP.WriteTimeout,
		IdleTimeout:       a.cfg.HTTP.IdleTimeout,
	}
	lis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen http: %w", err)
	}
	errCh := make(chan error, 2)
	go func() {
		a.log.Info("http listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("app: http: %w", err)
		}
	}()

	if addr := a.cfg.GRPC.HealthAddr; addr != "" {
		glis, err := net.Listen("tcp", addr)
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("app: listen grpc: %w", err)
		}
		gs := grpcserver.New(a.store, a.log.Named("grpc"), grpcOpts(a.cfg)...)
		go func() {
			a.log.Info("grpc health listening", zap.String("addr", glis.Addr().String()))
			if err := gs.Serve(ctx, glis); err != nil {
				errCh <- fmt.Errorf("app: grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	a.log.Info("shutdown complete")
	return runErr
}

func grpcOpts(cfg *config.Config) []grpcserver.Option {
	if cfg.Env == "local" || cfg.Env == "dev" {
		return []grpcserver.Option{grpcserver.WithReflection()}
	}
	return nil
}

// Close releases storage and client connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Migrate applies pending migrations to the configured database and returns.
func Migrate(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	kind, target := cfg.Database.Kind()
	switch kind {
	case "postgres":
		return migrate.UpPostgres(ctx, target, log)
	case "sqlite":
		db, err := sqlite.Open(ctx, target, log)
		if err != nil {
			return err
		}
		return db.Close()
	default:
		return fmt.Errorf("app: unsupported database %q", kind)
	}
}
