// Command notifier consumes booking events from Kafka and writes the
// notification records for them. Run it with NOTIFY_INPROCESS=false on the
// API so each notification is written once.
package main

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/sabayta-booking/internal/config"
	"github.com/example/sabayta-booking/internal/events"
	"github.com/example/sabayta-booking/internal/logging"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/notify"
	"github.com/example/sabayta-booking/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_consumed_total",
		Help: "Total booking event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_invalid_total",
		Help: "Total booking event messages that could not be decoded",
	})
	emitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_emit_errors_total",
		Help: "Notifications given up on after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, emitErrors)
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "read .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadNotifierConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, "booking-notifier")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("store unavailable", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	go serveHealth(cfg.MetricsAddr, store, logger)

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer r.Close()
	logger.Info("notifier listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	emitter := notify.NewEmitter(store, logger)
	consume(ctx, r, emitter, cfg, logger)
}

// MessageReader is the part of *kafka.Reader the loop uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r MessageReader, e Emitter, cfg config.NotifierConfig, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down notifier")
				return
			}
			logger.Warn("kafka read failed", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		ev, err := events.Decode(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid event message", "offset", m.Offset, "error", err)
			continue
		}
		for _, msg := range notify.Policy(ev) {
			if err := emitWithRetry(ctx, e, msg, ev.BookingID, cfg.RetryAttempts, cfg.RetryBaseDelay); err != nil {
				emitErrors.Inc()
				logger.Error("notification dropped", "booking_id", ev.BookingID, "user_id", msg.UserID, "type", msg.Type, "error", err)
			}
		}
	}
}

// Emitter persists one notification.
type Emitter interface {
	Emit(ctx context.Context, userID string, typ models.NotificationType, title, message, bookingID string) error
}

// emitWithRetry retries one recipient at a time so a retry never duplicates
// a notification that was already written.
func emitWithRetry(ctx context.Context, e Emitter, m notify.Message, bookingID string, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = e.Emit(ctx, m.UserID, m.Type, m.Title, m.Message, bookingID); err == nil {
			return nil
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func serveHealth(addr string, store storage.Store, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.NotifierConfig) (storage.Store, error) {
	if cfg.Store == config.StoreMongo {
		ms, err := storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return ms, nil
	}
	ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	return ps, nil
}
