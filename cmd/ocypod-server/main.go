// Command ocypod-server runs the job queue server: the HTTP API, the
// Redis-backed store, the bounded worker pool, and the background
// monitor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	goredis "github.com/redis/go-redis/v9"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/api"
	"github.com/legaultmarc/ocypod/metrics"
	"github.com/legaultmarc/ocypod/monitor"
	redisstore "github.com/legaultmarc/ocypod/store/redis"
	"github.com/legaultmarc/ocypod/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ocypod-server:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(ocypod.Version)
		return nil
	}

	cfg := ocypod.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = ocypod.LoadConfig(*configPath); err != nil {
			return err
		}
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting ocypod-server",
		slog.String("version", ocypod.Version),
		slog.String("addr", cfg.Server.Addr),
	)

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	client := goredis.NewClient(redisOpts)
	defer client.Close()

	store := redisstore.New(client, redisstore.WithLogger(logger))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Ping(ctx); err != nil {
		return err
	}
	logger.Info("connected to redis", slog.String("addr", redisOpts.Addr))

	mx := metrics.New()

	pool := worker.NewPool(
		worker.WithSize(cfg.Redis.Workers),
		worker.WithLogger(logger),
	)
	pool.Start()

	mon := monitor.New(store, cfg.Monitor.Interval.Std(),
		monitor.WithLogger(logger),
		monitor.WithMetrics(mx),
		monitor.WithPool(pool),
	)
	mon.Start()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.New(store, pool,
		api.WithLogger(logger),
		api.WithMetrics(mx),
		api.WithMaxBodySize(cfg.Server.MaxBodySize),
	)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("listening", slog.String("addr", cfg.Server.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	mon.Stop()
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn("worker pool shutdown incomplete", "error", err)
	}

	logger.Info("stopped")
	return nil
}

// newLogger builds the process logger: tinted console output for
// humans, JSON for log shippers.
func newLogger(cfg ocypod.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.New(handler)
}
