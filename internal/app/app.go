// Package app wires the seat-hold engine together and exposes it over HTTP:
// the ledger behind hold endpoints, the notifier behind the event stream,
// and the expiry scheduler running alongside the server.
package app

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

	"github.com/alexedwards/scs/goredisstore"
	"github.com/alexedwards/scs/v2"
	"github.com/exaring/otelpgx"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/cinexhq/seathold/internal/config"
	"github.com/cinexhq/seathold/internal/domain"
	"github.com/cinexhq/seathold/internal/ledger"
	"github.com/cinexhq/seathold/internal/notifier"
	"github.com/cinexhq/seathold/internal/repository"
	"github.com/cinexhq/seathold/internal/scheduler"
	appvalidator "github.com/cinexhq/seathold/internal/validator"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Application struct {
	config         config.Config
	logger         *slog.Logger
	db             *pgxpool.Pool
	redis          redis.UniversalClient
	validator      *validator.Validate
	sessionManager *scs.SessionManager

	seatRepo domain.SeatRepository
	ledger   domain.HoldLedger
	hub      *notifier.Hub
	relay    *notifier.RedisRelay
	reaper   *scheduler.ExpiryScheduler

	// closed when shutdown begins so long-lived event streams end promptly
	// and the server can drain.
	shutdownCh chan struct{}
}

// New builds the application from configuration: database, redis, ledger
// backend, notifier, scheduler. The returned application owns the clients
// and closes them in Run.
func New(cfg config.Config, logger *slog.Logger) (*Application, error) {
	app := &Application{
		config:     cfg,
		logger:     logger,
		validator:  appvalidator.NewValidator(),
		shutdownCh: make(chan struct{}),
	}

	db, err := newDatabasePool(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db

	if err := repository.Migrate(cfg.DB.DSN); err != nil {
		db.Close()
		return nil, err
	}

	app.seatRepo = repository.NewPostgresSeatRepository(db)
	app.hub = notifier.NewHub(cfg.Hold.QueueDepth, logger)

	if cfg.Redis.URL != "" {
		redisClient, err := newRedisClient(cfg)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redis = redisClient
	}

	app.sessionManager = newSessionManager(app.redis)

	switch cfg.Hold.Backend {
	case BackendRedis:
		if app.redis == nil {
			db.Close()
			return nil, errors.New("redis hold backend requires a redis URL")
		}

		app.relay = notifier.NewRedisRelay(app.hub, app.redis, logger)
		app.ledger = ledger.NewRedis(app.redis, app.relay, logger)

	case BackendMemory:
		holdRepo := repository.NewPostgresHoldRepository(db)
		memLedger := ledger.NewMemory(app.hub, logger, ledger.WithStore(holdRepo))

		if err := restoreHolds(memLedger, holdRepo, app.hub, logger); err != nil {
			db.Close()
			return nil, err
		}

		app.ledger = memLedger

	default:
		db.Close()
		return nil, fmt.Errorf("unknown hold backend %q", cfg.Hold.Backend)
	}

	app.reaper = scheduler.NewExpiryScheduler(app.ledger, cfg.Hold.ReapInterval, logger)

	return app, nil
}

// restoreHolds reloads persisted leases after a restart. Rows whose lease
// already ended are pruned, not re-announced.
func restoreHolds(memLedger *ledger.Memory, holdRepo *repository.PostgresHoldRepository, hub *notifier.Hub, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()

	records, err := holdRepo.LoadActive(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to load persisted holds: %w", err)
	}

	memLedger.Restore(records)
	hub.Prime(records)

	pruned, err := holdRepo.PruneExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to prune expired holds: %w", err)
	}

	if len(records) > 0 || pruned > 0 {
		logger.Info("restored persisted seat holds", "restored", len(records), "pruned", pruned)
	}

	return nil
}

func newSessionManager(client redis.UniversalClient) *scs.SessionManager {
	sessionManager := scs.New()

	if redisClient, ok := client.(*redis.Client); ok && redisClient != nil {
		sessionManager.Store = goredisstore.New(redisClient)
	}

	// Holder identity must outlive the hold lease, or a renewing buyer
	// would silently become a different holder mid-checkout.
	sessionManager.IdleTimeout = 30 * time.Minute
	sessionManager.Cookie.Name = "session_id"

	return sessionManager
}

func newRedisClient(cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Redis.URL,
		MaxIdleConns:    cfg.Redis.MaxIdleConns,
		MaxActiveConns:  cfg.Redis.MaxOpenConns,
		ConnMaxIdleTime: cfg.Redis.MaxIdleTime,
	})

	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := rdb.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return rdb, nil
}

func newDatabasePool(cfg config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConnIdleTime = cfg.DB.MaxIdleTime
	poolConfig.MaxConns = int32(cfg.DB.MaxOpenConns)
	poolConfig.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = db.Ping(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Run starts the scheduler, the relay when configured, and the HTTP server,
// then shuts everything down in reverse order on SIGINT/SIGTERM.
func (app *Application) Run() error {
	defer app.db.Close()
	if app.redis != nil {
		defer app.redis.Close()
	}

	shutdownTelemetry, err := app.InitTelemetry()
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if app.relay != nil {
		redisLedger, ok := app.ledger.(*ledger.Redis)
		if !ok {
			return errors.New("relay configured without redis ledger")
		}

		if err := app.relay.Start(ctx, redisLedger); err != nil {
			return err
		}
		defer app.relay.Close()
	}

	go app.reaper.Start(ctx)
	defer app.reaper.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", app.config.Port),
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // event streams stay open indefinitely
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelDebug),
	}

	shutdownError := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("shutting down server", "signal", s.String())

		close(app.shutdownCh)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		shutdownError <- srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.Env, "backend", app.config.Hold.Backend)

	err = srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdownError
	if err != nil {
		return err
	}

	app.logger.Info("stopped server", "addr", srv.Addr)

	return nil
}
