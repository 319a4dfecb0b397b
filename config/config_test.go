package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Triage.MinQuestions != 3 || cfg.Triage.MaxQuestions != 8 {
		t.Fatalf("unexpected question bounds: %d/%d", cfg.Triage.MinQuestions, cfg.Triage.MaxQuestions)
	}
	if cfg.Triage.ConfidenceThreshold != 0.75 {
		t.Fatalf("unexpected confidence threshold: %f", cfg.Triage.ConfidenceThreshold)
	}
	if cfg.Triage.SessionTTL != 24*time.Hour {
		t.Fatalf("unexpected session ttl: %s", cfg.Triage.SessionTTL)
	}
	if cfg.Storage.Type != "inmemory" {
		t.Fatalf("unexpected default storage: %s", cfg.Storage.Type)
	}
	if cfg.General.Listen != ":8000" {
		t.Fatalf("unexpected listen address: %s", cfg.General.Listen)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := &Config{
		Triage:  TriageConfig{ConfidenceThreshold: 0.75, MinQuestions: 3, MaxQuestions: 8},
		Storage: StorageConfig{Type: "inmemory"},
	}
	if err := validateConfig(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := *valid
	bad.Triage.MinQuestions = 10
	if err := validateConfig(&bad); err == nil {
		t.Fatal("min above max must be rejected")
	}

	bad = *valid
	bad.Triage.ConfidenceThreshold = 1.5
	if err := validateConfig(&bad); err == nil {
		t.Fatal("threshold above 1 must be rejected")
	}

	bad = *valid
	bad.Storage.Type = "cassandra"
	if err := validateConfig(&bad); err == nil {
		t.Fatal("unknown storage type must be rejected")
	}
}
