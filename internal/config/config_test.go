package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
database:
  path: /tmp/test.db
cluster:
  topicThreshold: 0.75
trend:
  tickInterval: 1m
  dormantAfter: 30m
  inactivityWindow: 2h
  emergingFactor: 3
  topEntities: 3
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STORYWATCH_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("database path = %q, want /tmp/test.db", cfg.Database.Path)
	}
	if cfg.Cluster.TopicThreshold != 0.75 {
		t.Errorf("topic threshold = %g, want 0.75", cfg.Cluster.TopicThreshold)
	}
	if cfg.Trend.TickInterval.Std() != time.Minute {
		t.Errorf("tick interval = %s, want 1m", cfg.Trend.TickInterval)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Ingest.Workers != Default().Ingest.Workers {
		t.Errorf("workers = %d, want default %d", cfg.Ingest.Workers, Default().Ingest.Workers)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database: [not\n  a: map"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STORYWATCH_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORYWATCH_CONFIG", "")
	t.Setenv("STORYWATCH_DB", "/tmp/override.db")
	t.Setenv("STORYWATCH_WORKERS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("database path = %q, want env override", cfg.Database.Path)
	}
	if cfg.Ingest.Workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.Ingest.Workers)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.Cluster.TopicThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for topic threshold > 1")
	}

	cfg = Default()
	cfg.Trend.InactivityWindow = Duration(time.Minute)
	cfg.Trend.DormantAfter = Duration(time.Hour)
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for inactivity window below dormancy window")
	}
}
