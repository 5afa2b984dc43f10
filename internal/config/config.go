package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// ServerConfig captures all tunable parameters for the booking API process.
// Values are loaded from environment variables (and a local .env file when
// present) with defaults that run everything in memory.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Store         string
	PGDSN         string
	RunMigrations bool
	MigrationsDir string
	MongoURI      string
	MongoDB       string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	AMQPURL      string
	AMQPExchange string

	OSRMEndpoint  string
	RouteCacheTTL time.Duration
	AvgSpeedMps   float64

	PendingTTL          time.Duration
	ExpirySweepInterval time.Duration

	JWTSecret   string
	CORSOrigins []string
	// NotifyInProcess writes notifications from the API process. Turn it off
	// when cmd/notifier consumes the Kafka topic instead.
	NotifyInProcess bool

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		Store:               StoreMemory,
		MigrationsDir:       "migrations",
		MongoDB:             "sabayta",
		RedisGeoKey:         "pending_pickups",
		KafkaTopic:          "booking-events",
		AMQPExchange:        "booking.events",
		RouteCacheTTL:       time.Minute,
		AvgSpeedMps:         8,
		PendingTTL:          15 * time.Minute,
		ExpirySweepInterval: 30 * time.Second,
		NotifyInProcess:     true,
		LogLevel:            "info",
	}
}

// LoadDotEnv reads .env from the working directory if it exists. Variables
// already set in the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.MongoURI = strings.TrimSpace(os.Getenv("MONGO_URI"))
	setStringFromEnv(&cfg.MongoDB, "MONGO_DB")
	setStringFromEnv(&cfg.MigrationsDir, "MIGRATIONS_DIR")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	cfg.Store = storeKind(cfg)
	setBoolFromEnv(&cfg.NotifyInProcess, "NOTIFY_INPROCESS", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	cfg.OSRMEndpoint = strings.TrimRight(strings.TrimSpace(os.Getenv("OSRM_ENDPOINT")), "/")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	setFloatFromEnv(&cfg.AvgSpeedMps, "AVG_SPEED_MPS", &errs)

	setDurationFromEnv(&cfg.PendingTTL, "BOOKING_PENDING_TTL", &errs)
	setDurationFromEnv(&cfg.ExpirySweepInterval, "EXPIRY_SWEEP_INTERVAL", &errs)

	cfg.JWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	switch cfg.Store {
	case StoreMemory, StorePostgres, StoreMongo:
	default:
		errs = append(errs, fmt.Errorf("STORE must be memory, postgres or mongo, got %q", cfg.Store))
	}
	if cfg.Store == StorePostgres && cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("STORE=postgres requires PG_DSN"))
	}
	if cfg.Store == StoreMongo && cfg.MongoURI == "" {
		errs = append(errs, fmt.Errorf("STORE=mongo requires MONGO_URI"))
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		errs = append(errs, fmt.Errorf("KAFKA_TOPIC must not be empty"))
	}
	if cfg.AvgSpeedMps <= 0 {
		errs = append(errs, fmt.Errorf("AVG_SPEED_MPS must be > 0"))
	}
	if cfg.PendingTTL < 0 {
		errs = append(errs, fmt.Errorf("BOOKING_PENDING_TTL must not be negative"))
	}
	if cfg.ExpirySweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be > 0"))
	}
	if !cfg.NotifyInProcess && len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_INPROCESS=false needs KAFKA_BROKERS for cmd/notifier"))
	}

	return cfg, errors.Join(errs...)
}

// storeKind honours STORE and otherwise picks the backend whose connection
// string is set.
func storeKind(cfg ServerConfig) string {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE"))); v != "" {
		return v
	}
	switch {
	case cfg.PGDSN != "":
		return StorePostgres
	case cfg.MongoURI != "":
		return StoreMongo
	}
	return StoreMemory
}

// NotifierConfig configures cmd/notifier, which turns booking events from
// Kafka into notification records.
type NotifierConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	Store    string
	PGDSN    string
	MongoURI string
	MongoDB  string

	MetricsAddr    string
	RetryAttempts  int
	RetryBaseDelay time.Duration

	LogLevel string
}

func LoadNotifierConfig() (NotifierConfig, error) {
	cfg := NotifierConfig{
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "booking-events",
		KafkaGroup:     "booking-notifier",
		MongoDB:        "sabayta",
		MetricsAddr:    ":2112",
		RetryAttempts:  3,
		RetryBaseDelay: 200 * time.Millisecond,
		LogLevel:       "info",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.MongoURI = strings.TrimSpace(os.Getenv("MONGO_URI"))
	setStringFromEnv(&cfg.MongoDB, "MONGO_DB")
	cfg.Store = storeKind(ServerConfig{PGDSN: cfg.PGDSN, MongoURI: cfg.MongoURI})
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setIntFromEnv(&cfg.RetryAttempts, "NOTIFY_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryBaseDelay, "NOTIFY_RETRY_DELAY", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
	}
	switch cfg.Store {
	case StorePostgres, StoreMongo:
	default:
		// notifications written by a separate process must be shared
		errs = append(errs, fmt.Errorf("notifier needs STORE=postgres or STORE=mongo, got %q", cfg.Store))
	}
	if cfg.Store == StorePostgres && cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("STORE=postgres requires PG_DSN"))
	}
	if cfg.Store == StoreMongo && cfg.MongoURI == "" {
		errs = append(errs, fmt.Errorf("STORE=mongo requires MONGO_URI"))
	}
	if cfg.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_RETRY_ATTEMPTS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
