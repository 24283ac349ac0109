// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid marks configuration validation failures. They are the only
// fatal error class and surface before any crawling starts.
var ErrInvalid = errors.New("invalid configuration")

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

// LogConfig toggles zap development features.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// Transport modes.
const (
	TransportFixture = "fixture"
	TransportHTTP    = "http"
)

// TransportConfig selects and tunes the fetch adapters.
type TransportConfig struct {
	Mode           string `mapstructure:"mode"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// Timeout returns the per-request budget.
func (t TransportConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Publish providers.
const (
	PublishNone   = "none"
	PublishLocal  = "local"
	PublishMemory = "memory"
	PublishGCS    = "gcs"
)

// PublishConfig describes where released shards are mirrored and who is
// notified once a manifest lands.
type PublishConfig struct {
	Provider  string `mapstructure:"provider"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalRoot string `mapstructure:"local_root"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Ledger drivers.
const (
	LedgerNone     = ""
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
)

// LedgerConfig controls the run ledger database.
type LedgerConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CORPUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Pipeline.applyVocabularyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the configuration Load produces without a file or
// environment overrides.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("transport.mode", TransportFixture)
	v.SetDefault("transport.timeout_seconds", 15)
	v.SetDefault("transport.max_retries", 2)
	v.SetDefault("publish.provider", PublishNone)
	v.SetDefault("publish.prefix", "releases")
	v.SetDefault("ledger.driver", LedgerNone)
	v.SetDefault("ledger.table", "corpus_runs")

	v.SetDefault("pipeline.website.allowed_domains", []string{})
	v.SetDefault("pipeline.website.blocked_paths", []string{})
	v.SetDefault("pipeline.website.seeds", []string{})
	v.SetDefault("pipeline.website.rate_limit.requests", 600)
	v.SetDefault("pipeline.website.rate_limit.per", time.Minute)
	v.SetDefault("pipeline.website.host_rate_limit.requests", 0)
	v.SetDefault("pipeline.website.host_rate_limit.per", time.Duration(0))
	v.SetDefault("pipeline.website.max_concurrency", 32)
	v.SetDefault("pipeline.website.max_depth", 4)
	v.SetDefault("pipeline.website.user_agent", DefaultUserAgent)
	v.SetDefault("pipeline.website.obey_robots_txt", true)
	v.SetDefault("pipeline.website.min_content_length", 256)

	for _, platform := range []string{"github", "gitlab"} {
		prefix := "pipeline." + platform + "."
		v.SetDefault(prefix+"organisations", []string{})
		v.SetDefault(prefix+"languages", []string{"Python", "JavaScript", "Go", "Rust", "C#"})
		v.SetDefault(prefix+"rate_limit.requests", 30)
		v.SetDefault(prefix+"rate_limit.per", 10*time.Second)
		v.SetDefault(prefix+"max_concurrency", 8)
		v.SetDefault(prefix+"max_open_prs", 200)
		v.SetDefault(prefix+"include_wiki", false)
		v.SetDefault(prefix+"include_security_advisories", false)
		v.SetDefault(prefix+"default_branch_only", true)
	}

	v.SetDefault("pipeline.storage.raw_root", "data/raw")
	v.SetDefault("pipeline.storage.staging_root", "data/staging")
	v.SetDefault("pipeline.storage.release_root", "data/release")

	v.SetDefault("pipeline.desired_languages", []string{"en", "ru"})
	v.SetDefault("pipeline.batch_size", 5000)
	v.SetDefault("pipeline.normalize_whitespace", true)
	v.SetDefault("pipeline.redact_patterns", []string{`(?i)api_key=[0-9a-z-_]+`})
	v.SetDefault("pipeline.pii_detectors", []string{
		`(?i)ssn\b[ -]?(\d{3})[ -]?(\d{2})[ -]?(\d{4})`,
		`\b\d{16}\b`,
	})
	v.SetDefault("pipeline.embedding_model", "sentence-transformers/paraphrase-multilingual-mpnet-base-v2")
	v.SetDefault("pipeline.metrics_sinks", []string{"prometheus", "datahub"})
	v.SetDefault("pipeline.checkpoint_interval", 10000)
	v.SetDefault("pipeline.max_pending_tasks", 50000)
	v.SetDefault("pipeline.metadata_enrichers", []string{
		"license_classifier",
		"language_detector",
		"domain_quality_scorer",
	})
	v.SetDefault("pipeline.compress_output", false)
	v.SetDefault("pipeline.compression_format", "zstd")
	v.SetDefault("pipeline.dedupe_window_days", 90)
	v.SetDefault("pipeline.incremental_refresh", true)
	v.SetDefault("pipeline.partition_strategy", "domain-date-shard")
	v.SetDefault("pipeline.shard_max_records", 0)
	v.SetDefault("pipeline.quality_keywords", []string{})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.Server.Port <= 0 {
		return invalid("server.port must be > 0")
	}
	switch c.Transport.Mode {
	case TransportFixture, TransportHTTP:
	default:
		return invalid("transport.mode must be %q or %q", TransportFixture, TransportHTTP)
	}
	if c.Transport.TimeoutSeconds <= 0 {
		return invalid("transport.timeout_seconds must be > 0")
	}
	if c.Transport.MaxRetries < 0 {
		return invalid("transport.max_retries must be >= 0")
	}
	switch c.Publish.Provider {
	case PublishNone, PublishMemory:
	case PublishLocal:
		if c.Publish.LocalRoot == "" {
			return invalid("publish.local_root must be set when publish.provider is %q", PublishLocal)
		}
	case PublishGCS:
		if c.Publish.Bucket == "" {
			return invalid("publish.bucket must be set when publish.provider is %q", PublishGCS)
		}
	default:
		return invalid("publish.provider %q is not supported", c.Publish.Provider)
	}
	if c.Publish.Topic != "" && c.Publish.Provider != PublishMemory && c.Publish.ProjectID == "" {
		return invalid("publish.project_id must be set when publish.topic is")
	}
	switch c.Ledger.Driver {
	case LedgerNone:
	case LedgerPostgres, LedgerSQLite:
		if c.Ledger.DSN == "" {
			return invalid("ledger.dsn must be set when ledger.driver is %q", c.Ledger.Driver)
		}
	default:
		return invalid("ledger.driver %q is not supported", c.Ledger.Driver)
	}
	return nil
}

// Validate checks the pipeline section on its own.
func (p PipelineConfig) Validate() error {
	if err := p.Website.RateLimit.Validate(); err != nil {
		return fmt.Errorf("pipeline.website.rate_limit: %w", err)
	}
	if !p.Website.HostRateLimit.IsZero() {
		if err := p.Website.HostRateLimit.Validate(); err != nil {
			return fmt.Errorf("pipeline.website.host_rate_limit: %w", err)
		}
	}
	if p.Website.MaxConcurrency <= 0 {
		return invalid("pipeline.website.max_concurrency must be > 0")
	}
	if p.Website.MaxDepth < 0 {
		return invalid("pipeline.website.max_depth must be >= 0")
	}
	if p.Website.MinContentLength < 0 {
		return invalid("pipeline.website.min_content_length must be >= 0")
	}
	for name, git := range map[string]GitConfig{"github": p.GitHub, "gitlab": p.GitLab} {
		if err := git.RateLimit.Validate(); err != nil {
			return fmt.Errorf("pipeline.%s.rate_limit: %w", name, err)
		}
		if git.MaxConcurrency <= 0 {
			return invalid("pipeline.%s.max_concurrency must be > 0", name)
		}
	}
	seen := make(map[string]struct{}, len(p.Vocabularies))
	for i, vocab := range p.Vocabularies {
		if vocab.Provider == "" {
			return invalid("pipeline.vocabularies[%d].provider must be set", i)
		}
		if _, dup := seen[vocab.Provider]; dup {
			return invalid("pipeline.vocabularies[%d].provider %q is duplicated", i, vocab.Provider)
		}
		seen[vocab.Provider] = struct{}{}
		if len(vocab.LanguagePair) != 2 {
			return invalid("pipeline.vocabularies[%d].language_pair must have two entries", i)
		}
	}
	if p.BatchSize <= 0 {
		return invalid("pipeline.batch_size must be > 0")
	}
	if p.ShardMaxRecords < 0 {
		return invalid("pipeline.shard_max_records must be >= 0")
	}
	if p.Storage.ReleaseRoot == "" {
		return invalid("pipeline.storage.release_root must be set")
	}
	for _, pattern := range p.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return invalid("pipeline.redact_patterns: %q does not compile: %v", pattern, err)
		}
	}
	for _, pattern := range p.PIIDetectors {
		if _, err := regexp.Compile(pattern); err != nil {
			return invalid("pipeline.pii_detectors: %q does not compile: %v", pattern, err)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
