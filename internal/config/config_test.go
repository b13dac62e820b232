package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
scheduler:
  workers: 4
  pacing_delay: 500ms
  retention: 10m
  admins: ["42"]
fetcher:
  concurrency: 3
  retry_delay: 1s
  host_overrides:
    - host: CDN.example.com
      rps: 2.5
delivery:
  sink: GCS
  transient_retries: 5
  gcs:
    bucket: chapters
    prefix: cbz
sources:
  mangaonline:
    enabled: false
  toonbr:
    cdn_url: https://cdn.example.com
notify:
  pubsub:
    project_id: demo
    topic: notices
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Scheduler.Workers != 4 || cfg.Scheduler.PacingDelay != 500*time.Millisecond {
		t.Fatalf("expected scheduler overrides to apply: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.Retention != 10*time.Minute || len(cfg.Scheduler.Admins) != 1 {
		t.Fatalf("expected retention and admins: %+v", cfg.Scheduler)
	}
	if got := cfg.Fetcher.Overrides()["cdn.example.com"]; got != 2.5 {
		t.Fatalf("expected host override 2.5, got %v", got)
	}
	if cfg.Fetcher.Timeout != 60*time.Second {
		t.Fatalf("expected default fetch timeout, got %v", cfg.Fetcher.Timeout)
	}
	if cfg.Delivery.Sink != SinkGCS || cfg.Delivery.GCS.Bucket != "chapters" {
		t.Fatalf("expected gcs sink: %+v", cfg.Delivery)
	}
	if cfg.Sources.MangaOnline.Enabled || !cfg.Sources.MangaFlix.Enabled {
		t.Fatalf("expected source toggles to apply: %+v", cfg.Sources)
	}
	if !cfg.Notify.PubSub.Enabled() {
		t.Fatalf("expected pubsub notices enabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Delivery.Sink != SinkLocal || cfg.Delivery.Local.Dir != "downloads" {
		t.Fatalf("expected local sink default: %+v", cfg.Delivery)
	}
	if cfg.Scheduler.MaxConsecutiveFailures != 0 || cfg.Scheduler.Workers != 2 {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Progress.MaxBatchWait != 250*time.Millisecond {
		t.Fatalf("unexpected progress defaults: %+v", cfg.Progress)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CHAPTERBOX_SCHEDULER_WORKERS", "7")
	t.Setenv("CHAPTERBOX_DELIVERY_SINK", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Workers != 7 {
		t.Fatalf("expected workers from env, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Delivery.Sink != SinkMemory {
		t.Fatalf("expected memory sink from env, got %q", cfg.Delivery.Sink)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Scheduler: SchedulerConfig{Workers: 1, MaxChaptersPerJob: 10},
		Fetcher:   FetcherConfig{Concurrency: 1, Timeout: time.Second},
		Delivery:  DeliveryConfig{Sink: SinkMemory},
		Sources:   SourcesConfig{ToonBr: ProviderConfig{Enabled: true}},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid workers", func(c *Config) { c.Scheduler.Workers = 0 }, "scheduler.workers"},
		{"invalid concurrency", func(c *Config) { c.Fetcher.Concurrency = 0 }, "fetcher.concurrency"},
		{"invalid timeout", func(c *Config) { c.Fetcher.Timeout = 0 }, "fetcher.timeout"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown sink", func(c *Config) { c.Delivery.Sink = "ftp" }, "delivery.sink"},
		{"gcs without bucket", func(c *Config) { c.Delivery.Sink = SinkGCS }, "delivery.gcs.bucket"},
		{"telegram without token", func(c *Config) { c.Delivery.Sink = SinkTelegram }, "telegram.token"},
		{"half pubsub", func(c *Config) { c.Notify.PubSub.Topic = "t" }, "notify.pubsub"},
		{"no sources", func(c *Config) { c.Sources.ToonBr.Enabled = false }, "source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
