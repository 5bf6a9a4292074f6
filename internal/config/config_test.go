package config

import (
	"testing"
	"time"
)

func TestLoadEnv_Defaults(t *testing.T) {
	cfg := LoadEnv()

	if cfg.Ledger.MaxConsumeRetries != 5 {
		t.Errorf("Expected MaxConsumeRetries=5, got %d", cfg.Ledger.MaxConsumeRetries)
	}
	if cfg.Kafka.Topic != "orders.events" {
		t.Errorf("Expected default topic orders.events, got %s", cfg.Kafka.Topic)
	}
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("LEDGER_MAX_CONSUME_RETRIES", "3")
	t.Setenv("RESERVATION_SWEEP_INTERVAL", "15s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := LoadEnv()
	if cfg.Ledger.MaxConsumeRetries != 3 {
		t.Errorf("Expected MaxConsumeRetries=3, got %d", cfg.Ledger.MaxConsumeRetries)
	}
	if cfg.Ledger.SweepInterval != 15*time.Second {
		t.Errorf("Expected SweepInterval=15s, got %s", cfg.Ledger.SweepInterval)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Expected two trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.DB != 0 {
		t.Errorf("Expected invalid REDIS_DB to fall back to 0, got %d", cfg.Redis.DB)
	}
}

func TestLoadEnv_EmptyBrokersDisablesKafka(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "  ")
	if brokers := LoadEnv().Kafka.Brokers; len(brokers) != 0 {
		t.Errorf("Expected no brokers, got %v", brokers)
	}
}
