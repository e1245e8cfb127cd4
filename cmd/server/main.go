package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/rideshare/internal/auth"
	"github.com/example/rideshare/internal/cache"
	"github.com/example/rideshare/internal/config"
	"github.com/example/rideshare/internal/events"
	httpapi "github.com/example/rideshare/internal/http"
	"github.com/example/rideshare/internal/logging"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/storage"
)

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel, "rideshare-api")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := &matcher.Service{Logger: logger}
	var ready []httpapi.Pinger

	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		svc.Store, svc.Users = pg, pg
		ready = append(ready, pg)
	} else {
		logger.Warn("PG_DSN not set, rides are kept in memory")
		svc.Store, svc.Users = storage.NewMemoryStore(), storage.NewMemoryUsers()
	}

	if cfg.RedisAddr != "" {
		rc := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		defer rc.Close()
		svc.Cache = cache.NewActiveRides(rc, cfg.ActiveCacheTTL)
		svc.Timelines = cache.NewTimeline(rc)
		ready = append(ready, redisPinger{rc})
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	defer publisher.Close()
	svc.Events = publisher

	go svc.RunRetention(ctx, cfg.CompletedRetention, cfg.RetentionSweepInterval)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, auth.NewVerifier(cfg.JWTSecret), logger, ready...),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rideshare api listening", "addr", cfg.HTTPAddr,
			"postgres", cfg.PGDSN != "", "redis", cfg.RedisAddr != "", "kafka", len(cfg.KafkaBrokers) > 0)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
