package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != StoreMemory || cfg.PendingTTL != 15*time.Minute || !cfg.NotifyInProcess {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/sabayta")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("BOOKING_PENDING_TTL", "0")
	t.Setenv("CORS_ORIGINS", "https://app.example")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != StorePostgres {
		t.Fatalf("store should follow PG_DSN, got %s", cfg.Store)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.PendingTTL != 0 || cfg.LogLevel != "debug" || cfg.CORSOrigins[0] != "https://app.example" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadServerConfigCollectsAllErrors(t *testing.T) {
	t.Setenv("STORE", "mongo")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("AVG_SPEED_MPS", "-1")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"MONGO_URI", "HTTP_READ_TIMEOUT", "AVG_SPEED_MPS"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}

func TestLoadNotifierConfigNeedsSharedStore(t *testing.T) {
	if _, err := LoadNotifierConfig(); err == nil {
		t.Fatal("memory store must be rejected for the notifier")
	}
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	cfg, err := LoadNotifierConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != StoreMongo || cfg.KafkaGroup != "booking-notifier" {
		t.Fatalf("unexpected notifier config %+v", cfg)
	}
}
