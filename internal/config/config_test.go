package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.DBPath != "prestations.db" {
		t.Errorf("DBPath = %s", cfg.DBPath)
	}
	if cfg.MaxAllocRetries != 3 {
		t.Errorf("MaxAllocRetries = %d, want 3", cfg.MaxAllocRetries)
	}
	if cfg.Storage.Provider != "memory" {
		t.Errorf("Storage.Provider = %s, want memory", cfg.Storage.Provider)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Errorf("APIBasePath = %s, want /api/v1", cfg.APIBasePath)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("IdempotencyTTL = %v", cfg.IdempotencyTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "warning") // normalized to warn
	t.Setenv("ALLOC_MAX_RETRIES", "7")
	t.Setenv("STORAGE_PROVIDER", "gcs")
	t.Setenv("STORAGE_BUCKET", "prestations-docs")
	t.Setenv("API_BASE_PATH", "api/v2/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %s", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %s, want warn", cfg.LogLevel)
	}
	if cfg.MaxAllocRetries != 7 {
		t.Errorf("MaxAllocRetries = %d", cfg.MaxAllocRetries)
	}
	if cfg.Storage.Bucket != "prestations-docs" {
		t.Errorf("Storage.Bucket = %s", cfg.Storage.Bucket)
	}
	if cfg.APIBasePath != "/api/v2" {
		t.Errorf("APIBasePath = %s, want /api/v2", cfg.APIBasePath)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"LOG_LEVEL":         "verbose",
		"ALLOC_MAX_RETRIES": "0",
		"STORAGE_PROVIDER":  "s3",
		"RATE_BURST":        "0",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", k, v)
			}
		})
	}
}

func TestLoad_GCSRequiresBucket(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "gcs")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when gcs provider has no bucket")
	}
}
