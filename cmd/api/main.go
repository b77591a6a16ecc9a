package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/cinexhq/seathold/internal/app"
	"github.com/cinexhq/seathold/internal/config"
	"github.com/cinexhq/seathold/internal/vcs"
)

var (
	version = vcs.Version()
)

func main() {
	var cfg config.Config

	flag.IntVar(&cfg.Port, "port", 3000, "server port")
	flag.StringVar(&cfg.Env, "env", "dev", "Environment (dev|staging|prod)")

	flag.StringVar(&cfg.DB.DSN, "db-dsn", os.Getenv("SEATHOLD_DB_DSN"), "PostgreSQL DSN")
	flag.IntVar(&cfg.DB.MaxOpenConns, "db-max-open-conns", 25, "PostgreSQL max open connections")
	flag.DurationVar(&cfg.DB.MaxIdleTime, "db-max-idle-time", 15*time.Minute, "PostgreSQL max connection idle time")

	flag.StringVar(&cfg.Redis.URL, "redis-url", os.Getenv("SEATHOLD_REDIS_URL"), "Redis address (host:port)")
	flag.IntVar(&cfg.Redis.MaxOpenConns, "redis-max-open-conns", 25, "Redis max open connections")
	flag.IntVar(&cfg.Redis.MaxIdleConns, "redis-max-idle-conns", 10, "Redis max idle connections")
	flag.DurationVar(&cfg.Redis.MaxIdleTime, "redis-max-idle-time", 15*time.Minute, "Redis max connection idle time")

	flag.StringVar(&cfg.Hold.Backend, "hold-backend", app.BackendMemory, "Hold ledger backend (memory|redis)")
	flag.DurationVar(&cfg.Hold.Lease, "hold-lease", 5*time.Minute, "Default seat hold lease")
	flag.DurationVar(&cfg.Hold.ReapInterval, "hold-reap-interval", 2*time.Second, "How often expired holds are reaped")
	flag.IntVar(&cfg.Hold.QueueDepth, "event-queue-depth", 64, "Per-subscriber event queue depth")

	flag.StringVar(&cfg.FinalizerKey, "finalizer-key", os.Getenv("SEATHOLD_FINALIZER_KEY"), "Shared key for the booking finalizer endpoints")
	flag.StringVar(&cfg.OtelCollectorUrl, "otel-collector-url", os.Getenv("OTEL_COLLECTOR_URL"), "OpenTelemetry collector URL")

	displayVersion := flag.Bool("version", false, "Display version and exit")

	flag.Parse()

	if *displayVersion {
		fmt.Printf("Version:\t%s\n", version)
		os.Exit(0)
	}

	logger := slog.New(app.NewMultiHandler(
		slog.NewTextHandler(os.Stdout, nil),
		otelslog.NewHandler("seathold-api"),
	))

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	err = application.Run()
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
