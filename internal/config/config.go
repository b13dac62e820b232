// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported delivery sinks.
const (
	SinkMemory   = "memory"
	SinkLocal    = "local"
	SinkGCS      = "gcs"
	SinkTelegram = "telegram"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SchedulerConfig sizes the worker pool and bounds jobs.
type SchedulerConfig struct {
	Workers                int           `mapstructure:"workers"`
	MaxChaptersPerJob      int           `mapstructure:"max_chapters_per_job"`
	PacingDelay            time.Duration `mapstructure:"pacing_delay"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	Retention              time.Duration `mapstructure:"retention"`
	Admins                 []string      `mapstructure:"admins"`
}

// FetcherConfig governs image downloads.
type FetcherConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
	HostRPS     float64       `mapstructure:"host_rps"`
	HostBurst   int           `mapstructure:"host_burst"`
	// HostOverrides sets a different RPS for specific CDN hosts. It is a list
	// because viper splits map keys on dots.
	HostOverrides []HostOverride `mapstructure:"host_overrides"`
}

// HostOverride pins the request rate of one host.
type HostOverride struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// Overrides converts HostOverrides into a host to RPS map.
func (f FetcherConfig) Overrides() map[string]float64 {
	out := make(map[string]float64, len(f.HostOverrides))
	for _, o := range f.HostOverrides {
		out[strings.ToLower(o.Host)] = o.RPS
	}
	return out
}

// DeliveryConfig selects the sink and its retry policy.
type DeliveryConfig struct {
	Sink             string        `mapstructure:"sink"`
	TransientRetries int           `mapstructure:"transient_retries"`
	TransientBackoff time.Duration `mapstructure:"transient_backoff"`
	RateLimitMargin  time.Duration `mapstructure:"rate_limit_margin"`
	Local            LocalConfig   `mapstructure:"local"`
	GCS              GCSConfig     `mapstructure:"gcs"`
}

// LocalConfig configures the filesystem sink.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSConfig configures the Cloud Storage sink.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// TelegramConfig holds Bot API credentials.
type TelegramConfig struct {
	Token   string        `mapstructure:"token"`
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Notices sends user-visible notices through the bot as chat messages.
	Notices bool `mapstructure:"notices"`
}

// NotifyConfig configures optional notice fan-out.
type NotifyConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether both project and topic are set.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// SourcesConfig lists the provider connectors.
type SourcesConfig struct {
	MangaFlix   ProviderConfig `mapstructure:"mangaflix"`
	ToonBr      ProviderConfig `mapstructure:"toonbr"`
	MangaOnline ProviderConfig `mapstructure:"mangaonline"`
	UserAgent   string         `mapstructure:"user_agent"`
	Timeout     time.Duration  `mapstructure:"timeout"`
}

// ProviderConfig toggles and points one connector.
type ProviderConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	CDNURL   string `mapstructure:"cdn_url"`
	Referer  string `mapstructure:"referer"`
	Language string `mapstructure:"language"`
}

// ProgressConfig tunes the event hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// DatabaseConfig controls the optional job history store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAPTERBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		// Without an explicit path, a chapterbox.yaml in the usual places is
		// optional.
		v.SetConfigName("chapterbox")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/chapterbox/")
		v.AddConfigPath("$HOME/.chapterbox")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Delivery.Sink = strings.ToLower(strings.TrimSpace(cfg.Delivery.Sink))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("scheduler.workers", 2)
	v.SetDefault("scheduler.max_chapters_per_job", 200)
	v.SetDefault("scheduler.pacing_delay", "1s")
	v.SetDefault("scheduler.max_consecutive_failures", 0)
	v.SetDefault("scheduler.retention", "1h")
	v.SetDefault("scheduler.admins", []string{})
	v.SetDefault("fetcher.concurrency", 8)
	v.SetDefault("fetcher.max_retries", 2)
	v.SetDefault("fetcher.retry_delay", "2s")
	v.SetDefault("fetcher.timeout", "60s")
	v.SetDefault("fetcher.user_agent", "Mozilla/5.0 (compatible; chapterbox/1.0)")
	v.SetDefault("fetcher.max_bytes", 32<<20)
	v.SetDefault("fetcher.host_rps", 8)
	v.SetDefault("fetcher.host_burst", 8)
	v.SetDefault("delivery.sink", SinkLocal)
	v.SetDefault("delivery.transient_retries", 3)
	v.SetDefault("delivery.transient_backoff", "5s")
	v.SetDefault("delivery.rate_limit_margin", "1s")
	v.SetDefault("delivery.local.dir", "downloads")
	v.SetDefault("telegram.timeout", "120s")
	v.SetDefault("sources.timeout", "30s")
	v.SetDefault("sources.mangaflix.enabled", true)
	v.SetDefault("sources.toonbr.enabled", true)
	v.SetDefault("sources.mangaonline.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.ensure_schema", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Scheduler.Workers <= 0 {
		errs = append(errs, errors.New("scheduler.workers must be > 0"))
	}
	if c.Scheduler.MaxChaptersPerJob <= 0 {
		errs = append(errs, errors.New("scheduler.max_chapters_per_job must be > 0"))
	}
	if c.Scheduler.PacingDelay < 0 {
		errs = append(errs, errors.New("scheduler.pacing_delay must be >= 0"))
	}
	if c.Fetcher.Concurrency <= 0 {
		errs = append(errs, errors.New("fetcher.concurrency must be > 0"))
	}
	if c.Fetcher.MaxRetries < 0 {
		errs = append(errs, errors.New("fetcher.max_retries must be >= 0"))
	}
	if c.Fetcher.Timeout <= 0 {
		errs = append(errs, errors.New("fetcher.timeout must be > 0"))
	}
	if c.Delivery.TransientRetries < 0 {
		errs = append(errs, errors.New("delivery.transient_retries must be >= 0"))
	}
	switch c.Delivery.Sink {
	case SinkMemory:
	case SinkLocal:
		if c.Delivery.Local.Dir == "" {
			errs = append(errs, errors.New("delivery.local.dir must be set for the local sink"))
		}
	case SinkGCS:
		if c.Delivery.GCS.Bucket == "" {
			errs = append(errs, errors.New("delivery.gcs.bucket must be set for the gcs sink"))
		}
	case SinkTelegram:
		if c.Telegram.Token == "" {
			errs = append(errs, errors.New("telegram.token must be set for the telegram sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("delivery.sink %q is not one of memory, local, gcs, telegram", c.Delivery.Sink))
	}
	if c.Telegram.Notices && c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token must be set when telegram.notices is enabled"))
	}
	if (c.Notify.PubSub.ProjectID == "") != (c.Notify.PubSub.Topic == "") {
		errs = append(errs, errors.New("notify.pubsub needs both project_id and topic"))
	}
	if !c.Sources.MangaFlix.Enabled && !c.Sources.ToonBr.Enabled && !c.Sources.MangaOnline.Enabled {
		errs = append(errs, errors.New("at least one source must be enabled"))
	}
	return errors.Join(errs...)
}
