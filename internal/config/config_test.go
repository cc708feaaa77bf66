package config

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Relational defaults
	if cfg.Relational.Port != 3306 {
		t.Errorf("expected relational port 3306, got %d", cfg.Relational.Port)
	}
	if cfg.Relational.Table != "structured_data" {
		t.Errorf("expected relational table 'structured_data', got %s", cfg.Relational.Table)
	}
	if cfg.Relational.TLS != "preferred" {
		t.Errorf("expected relational TLS 'preferred', got %s", cfg.Relational.TLS)
	}

	// Document defaults
	if cfg.Document.Collection != "unstructured_data" {
		t.Errorf("expected collection 'unstructured_data', got %s", cfg.Document.Collection)
	}

	// Pipeline defaults
	if cfg.Pipeline.BatchSize != 50 {
		t.Errorf("expected batch_size 50, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.QueueCapacity != 1000 {
		t.Errorf("expected queue_capacity 1000, got %d", cfg.Pipeline.QueueCapacity)
	}

	// Stats defaults
	if cfg.Stats.SampleCapacity != 1000 {
		t.Errorf("expected sample_capacity 1000, got %d", cfg.Stats.SampleCapacity)
	}
	if cfg.Stats.SmallSetThreshold != 20 {
		t.Errorf("expected small_set_threshold 20, got %d", cfg.Stats.SmallSetThreshold)
	}

	// Policy defaults
	if cfg.Policy.LowerThreshold != 0.75 || cfg.Policy.UpperThreshold != 0.85 {
		t.Errorf("expected thresholds 0.75/0.85, got %v/%v", cfg.Policy.LowerThreshold, cfg.Policy.UpperThreshold)
	}
	if cfg.Policy.UniqueRatio != 0.98 {
		t.Errorf("expected unique_ratio 0.98, got %v", cfg.Policy.UniqueRatio)
	}
	if cfg.Policy.ConfidenceCount != 1000 {
		t.Errorf("expected confidence_count 1000, got %d", cfg.Policy.ConfidenceCount)
	}
	if len(cfg.Policy.JoinKeys) != 3 {
		t.Errorf("expected 3 join keys, got %v", cfg.Policy.JoinKeys)
	}

	// Advisor is opt-in
	if cfg.Advisor.Enabled {
		t.Error("expected advisor disabled by default")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected logging level 'info', got %s", cfg.Logging.Level)
	}
}

func TestDefaultJoinKeysNotShared(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.JoinKeys[0] = "changed"

	if DefaultJoinKeys[0] != "username" {
		t.Errorf("mutating a config must not alter DefaultJoinKeys, got %v", DefaultJoinKeys)
	}
}
