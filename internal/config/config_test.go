package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddress != ":8080" {
		t.Errorf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Errorf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.Environment != EnvDevelopment {
		t.Errorf("unexpected environment %q", cfg.Environment)
	}
	if !cfg.IsDevelopment() {
		t.Error("default environment should count as development")
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "kafka:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.OutboxBatchSize != 25 {
		t.Errorf("unexpected outbox batch size %d", cfg.OutboxBatchSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9000")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("ENVIRONMENT", EnvProduction)
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092,")
	t.Setenv("OUTBOX_BATCH_SIZE", "100")

	cfg := Load()

	if cfg.HTTPAddress != ":9000" {
		t.Errorf("override not applied: %q", cfg.HTTPAddress)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Errorf("ttl override not applied: %s", cfg.TokenTTL)
	}
	if cfg.IsDevelopment() {
		t.Error("production environment must not count as development")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker-2:9092" {
		t.Errorf("broker list not trimmed: %v", cfg.KafkaBrokers)
	}
	if cfg.OutboxBatchSize != 100 {
		t.Errorf("batch size override not applied: %d", cfg.OutboxBatchSize)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TOKEN_TTL", "soon")
	t.Setenv("OUTBOX_BATCH_SIZE", "many")

	cfg := Load()

	if cfg.TokenTTL != 30*time.Minute {
		t.Errorf("malformed duration must fall back, got %s", cfg.TokenTTL)
	}
	if cfg.OutboxBatchSize != 25 {
		t.Errorf("malformed int must fall back, got %d", cfg.OutboxBatchSize)
	}
}
