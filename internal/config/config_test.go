package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QC_STORE", "")
	t.Setenv("QC_REDIS_ADDR", "")
	t.Setenv("QC_KAFKA_BROKERS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("unexpected http addr %q", cfg.HTTP.Addr)
	}
	if cfg.Store.Backend != StoreBackendPostgres {
		t.Errorf("expected postgres backend, got %q", cfg.Store.Backend)
	}
	if cfg.Redis.Addr != "" || len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("redis and kafka should be disabled by default")
	}
	if cfg.Monitor.DecisionTimeout != 0 {
		t.Errorf("decision monitor should be disabled by default")
	}
	if cfg.Realtime.SendBuffer != 32 {
		t.Errorf("unexpected send buffer %d", cfg.Realtime.SendBuffer)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QC_STORE", "Memory")
	t.Setenv("QC_KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("QC_DECISION_TIMEOUT", "15m")
	t.Setenv("QC_STATUS_CACHE_TTL", "bogus")
	t.Setenv("QC_TRACE_STDOUT", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Errorf("expected memory backend, got %q", cfg.Store.Backend)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Monitor.DecisionTimeout != 15*time.Minute {
		t.Errorf("unexpected decision timeout %s", cfg.Monitor.DecisionTimeout)
	}
	if cfg.Redis.StatusCacheTTL != 10*time.Second {
		t.Errorf("invalid duration should fall back to default, got %s", cfg.Redis.StatusCacheTTL)
	}
	if !cfg.Trace.Stdout {
		t.Errorf("expected stdout tracing enabled")
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("QC_STORE", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}
