package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
relational:
  host: localhost
  port: 3306
  user: testuser
  password: testpass
  database: testdb
  table: events
  tls: disable
  max_connections: 5

document:
  uri: mongodb://localhost:27017
  database: adaptive
  collection: events_docs

pipeline:
  batch_size: 25
  queue_capacity: 200

policy:
  lower_threshold: 0.7
  upper_threshold: 0.9
  join_keys: [username, sys_ingested_at]

source:
  type: jsonl
  path: /tmp/records.jsonl

logging:
  level: debug
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Relational.Host != "localhost" {
		t.Errorf("expected relational host 'localhost', got %s", cfg.Relational.Host)
	}
	if cfg.Relational.Table != "events" {
		t.Errorf("expected relational table 'events', got %s", cfg.Relational.Table)
	}
	if cfg.Relational.MaxConnections != 5 {
		t.Errorf("expected max_connections 5, got %d", cfg.Relational.MaxConnections)
	}
	// Unset values keep their defaults
	if cfg.Relational.MaxIdleConnections != 5 {
		t.Errorf("expected default max_idle_connections 5, got %d", cfg.Relational.MaxIdleConnections)
	}

	if cfg.Document.Collection != "events_docs" {
		t.Errorf("expected collection 'events_docs', got %s", cfg.Document.Collection)
	}

	if cfg.Pipeline.BatchSize != 25 {
		t.Errorf("expected batch_size 25, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.PollTimeoutSeconds != 1 {
		t.Errorf("expected default poll_timeout_seconds 1, got %v", cfg.Pipeline.PollTimeoutSeconds)
	}

	if cfg.Policy.UpperThreshold != 0.9 {
		t.Errorf("expected upper_threshold 0.9, got %v", cfg.Policy.UpperThreshold)
	}
	if len(cfg.Policy.JoinKeys) != 2 {
		t.Errorf("expected 2 join keys, got %v", cfg.Policy.JoinKeys)
	}

	if cfg.Source.Type != "jsonl" || cfg.Source.Path != "/tmp/records.jsonl" {
		t.Errorf("unexpected source config: %+v", cfg.Source)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected logging level 'debug', got %s", cfg.Logging.Level)
	}
}

func TestLoadWithEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "env-host")
	t.Setenv("TEST_DB_USER", "env-user")
	t.Setenv("TEST_DB_PASS", "env-pass")
	t.Setenv("TEST_MONGO_URI", "mongodb://mongo:27017")
	t.Setenv("TEST_LLM_KEY", "sk-test")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-env.yaml")

	configContent := `
relational:
  host: ${TEST_DB_HOST}
  user: ${TEST_DB_USER}
  password: ${TEST_DB_PASS}
  database: testdb
document:
  uri: ${TEST_MONGO_URI}
advisor:
  api_key: $TEST_LLM_KEY
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Relational.Host != "env-host" {
		t.Errorf("expected relational host 'env-host', got %s", cfg.Relational.Host)
	}
	if cfg.Relational.User != "env-user" {
		t.Errorf("expected relational user 'env-user', got %s", cfg.Relational.User)
	}
	if cfg.Relational.Password != "env-pass" {
		t.Errorf("expected relational password 'env-pass', got %s", cfg.Relational.Password)
	}
	if cfg.Document.URI != "mongodb://mongo:27017" {
		t.Errorf("expected document uri from env, got %s", cfg.Document.URI)
	}
	if cfg.Advisor.APIKey != "sk-test" {
		t.Errorf("expected advisor api key from env, got %s", cfg.Advisor.APIKey)
	}
}

func TestExpandEnvVar(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "test-value"},
		{"$TEST_VAR", "test-value"},
		{"prefix-${TEST_VAR}-suffix", "prefix-test-value-suffix"},
		{"${NONEXISTENT}", "${NONEXISTENT}"}, // Unset vars remain unchanged
		{"no-vars-here", "no-vars-here"},
	}

	for _, tt := range tests {
		result := expandEnvVar(tt.input)
		if result != tt.expected {
			t.Errorf("expandEnvVar(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()

	cfg.ApplyOverrides("debug", "text", 10, 64, "/var/lib/goadaptive")

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected log format 'text', got %s", cfg.Logging.Format)
	}
	if cfg.Pipeline.BatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.QueueCapacity != 64 {
		t.Errorf("expected queue capacity 64, got %d", cfg.Pipeline.QueueCapacity)
	}
	if cfg.State.Dir != "/var/lib/goadaptive" {
		t.Errorf("expected state dir override, got %s", cfg.State.Dir)
	}
}

func TestApplyOverridesZeroValuesIgnored(t *testing.T) {
	cfg := DefaultConfig()

	cfg.ApplyOverrides("", "", 0, 0, "")

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level unchanged, got %s", cfg.Logging.Level)
	}
	if cfg.Pipeline.BatchSize != 50 {
		t.Errorf("expected batch size unchanged, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.State.Dir != "metadata" {
		t.Errorf("expected state dir unchanged, got %s", cfg.State.Dir)
	}
}
