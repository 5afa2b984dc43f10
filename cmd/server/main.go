package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/sabayta-booking/internal/booking"
	"github.com/example/sabayta-booking/internal/config"
	"github.com/example/sabayta-booking/internal/dispatch"
	"github.com/example/sabayta-booking/internal/events"
	"github.com/example/sabayta-booking/internal/geo"
	httpapi "github.com/example/sabayta-booking/internal/http"
	"github.com/example/sabayta-booking/internal/logging"
	"github.com/example/sabayta-booking/internal/notify"
	"github.com/example/sabayta-booking/internal/rating"
	"github.com/example/sabayta-booking/internal/route"
	"github.com/example/sabayta-booking/internal/storage"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "read .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, "booking-api")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewBus(logger)
	emitter := notify.NewEmitter(store, logger)
	if cfg.NotifyInProcess {
		bus.Subscribe("notify", emitter)
	}

	hub := dispatch.NewHub(logger)
	var pending geo.PendingIndex
	if cfg.Store == config.StoreMemory {
		pending = geo.NewIndex()
	}
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		pending = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		// watchers on every instance hear events through redis
		bus.Subscribe("redis", events.NewRedisForwarder(rc))
		relay := dispatch.NewRelay(rc, hub, logger)
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("watch relay stopped", "error", err)
			}
		}()
	} else {
		bus.Subscribe("watch", hub)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kf := events.NewKafkaForwarder(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kf.Close()
		bus.Subscribe("kafka", kf)
		logger.Info("forwarding events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.AMQPURL != "" {
		af, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, 5, 2*time.Second)
		if err != nil {
			logger.Warn("amqp unavailable, events not forwarded", "error", err)
		} else {
			defer af.Close()
			bus.Subscribe("amqp", af)
			logger.Info("forwarding events to amqp", "exchange", cfg.AMQPExchange)
		}
	}

	fallback := &route.Fallback{Secondary: route.StraightLine{SpeedMps: cfg.AvgSpeedMps}, Logger: logger}
	if cfg.OSRMEndpoint != "" {
		fallback.Primary = &route.Cached{Provider: route.NewOSRMClient(cfg.OSRMEndpoint), Cache: route.NewCache(cfg.RouteCacheTTL)}
	}

	engine := booking.NewEngine(store, store, bus, logger)
	engine.Routes = fallback
	engine.Pending = pending
	engine.PendingTTL = cfg.PendingTTL
	if pending == nil {
		// other instances write the same store; a local index would miss their bookings
		logger.Info("no shared pending index, nearby queries scan the store")
	} else if n, err := engine.RebuildPendingIndex(ctx); err != nil {
		logger.Warn("pending index rebuild failed", "error", err)
	} else {
		logger.Info("pending index rebuilt", "bookings", n)
	}
	go engine.RunExpiry(ctx, cfg.ExpirySweepInterval)

	api := httpapi.NewServer(httpapi.Options{
		Engine:        engine,
		Ratings:       rating.NewRecorder(store, logger),
		Notifications: emitter,
		Hub:           hub,
		Ping:          store.Ping,
		Logger:        logger,
		JWTSecret:     cfg.JWTSecret,
		CORSOrigins:   cfg.CORSOrigins,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("booking api listening", "addr", cfg.HTTPAddr, "store", cfg.Store, "auth", cfg.JWTSecret != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			path := filepath.Join(cfg.MigrationsDir, "001_create_bookings.sql")
			if err := ps.Migrate(ctx, path); err != nil {
				_ = ps.Close()
				return nil, err
			}
			logger.Info("migration applied", "file", path)
		}
		return ps, nil
	case config.StoreMongo:
		ms, err := storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return ms, nil
	}
	logger.Warn("using in-memory store; bookings are lost on restart")
	return storage.NewMemoryStore(), nil
}
