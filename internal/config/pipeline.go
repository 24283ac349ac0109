package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultUserAgent identifies the crawler to remote sites.
const DefaultUserAgent = "MWRC-Scraper/1.0 (+https://datasets.example.org/policies#crawler)"

// RateLimit is a token bucket: Requests tokens refill every Per.
type RateLimit struct {
	Requests int           `mapstructure:"requests"`
	Per      time.Duration `mapstructure:"per"`
}

// IsZero reports whether the limit is unset.
func (r RateLimit) IsZero() bool { return r == RateLimit{} }

// Validate rejects non-positive requests or window.
func (r RateLimit) Validate() error {
	if r.Requests <= 0 {
		return invalid("requests must be positive")
	}
	if r.Per <= 0 {
		return invalid("per must be a positive duration")
	}
	return nil
}

// WebsiteConfig governs generic website crawling.
type WebsiteConfig struct {
	AllowedDomains   []string  `mapstructure:"allowed_domains"`
	BlockedPaths     []string  `mapstructure:"blocked_paths"`
	Seeds            []string  `mapstructure:"seeds"`
	RateLimit        RateLimit `mapstructure:"rate_limit"`
	// HostRateLimit optionally caps each host below RateLimit, which always
	// bounds the source as a whole. The zero value disables it.
	HostRateLimit    RateLimit `mapstructure:"host_rate_limit"`
	MaxConcurrency   int       `mapstructure:"max_concurrency"`
	MaxDepth         int       `mapstructure:"max_depth"`
	UserAgent        string    `mapstructure:"user_agent"`
	ObeyRobotsTxt    bool      `mapstructure:"obey_robots_txt"`
	MinContentLength int       `mapstructure:"min_content_length"`
}

// GitConfig is shared by the GitHub and GitLab sources.
type GitConfig struct {
	Organisations             []string  `mapstructure:"organisations"`
	Languages                 []string  `mapstructure:"languages"`
	RateLimit                 RateLimit `mapstructure:"rate_limit"`
	MaxConcurrency            int       `mapstructure:"max_concurrency"`
	MaxOpenPRs                int       `mapstructure:"max_open_prs"`
	IncludeWiki               bool      `mapstructure:"include_wiki"`
	IncludeSecurityAdvisories bool      `mapstructure:"include_security_advisories"`
	DefaultBranchOnly         bool      `mapstructure:"default_branch_only"`
	TokenEnvVar               string    `mapstructure:"token_env_var"`
	BaseURL                   string    `mapstructure:"base_url"`
}

// Token resolves the access token from the configured environment variable.
// The variable name is configuration; its value never is.
func (g GitConfig) Token() string {
	if g.TokenEnvVar == "" {
		return ""
	}
	return os.Getenv(g.TokenEnvVar)
}

// VocabularySource describes one bilingual lexicon provider.
type VocabularySource struct {
	Provider     string   `mapstructure:"provider"`
	LanguagePair []string `mapstructure:"language_pair"`
	URL          string   `mapstructure:"url"`
	Path         string   `mapstructure:"path"`
	LicenseName  string   `mapstructure:"license_name"`
}

// SourceLanguage is the first element of the language pair.
func (v VocabularySource) SourceLanguage() string { return v.LanguagePair[0] }

// TargetLanguage is the second element of the language pair.
func (v VocabularySource) TargetLanguage() string { return v.LanguagePair[1] }

// StorageTargets are the output roots of a run.
type StorageTargets struct {
	RawRoot     string `mapstructure:"raw_root"`
	StagingRoot string `mapstructure:"staging_root"`
	ReleaseRoot string `mapstructure:"release_root"`
}

// EnsureDirectories creates every configured root that is missing.
func (s StorageTargets) EnsureDirectories() error {
	for _, dir := range []string{s.RawRoot, s.StagingRoot, s.ReleaseRoot} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// PipelineConfig aggregates everything a run needs.
type PipelineConfig struct {
	Website             WebsiteConfig      `mapstructure:"website"`
	GitHub              GitConfig          `mapstructure:"github"`
	GitLab              GitConfig          `mapstructure:"gitlab"`
	Vocabularies        []VocabularySource `mapstructure:"vocabularies"`
	Storage             StorageTargets     `mapstructure:"storage"`
	DesiredLanguages    []string           `mapstructure:"desired_languages"`
	BatchSize           int                `mapstructure:"batch_size"`
	NormalizeWhitespace bool               `mapstructure:"normalize_whitespace"`
	RedactPatterns      []string           `mapstructure:"redact_patterns"`
	PIIDetectors        []string           `mapstructure:"pii_detectors"`
	EmbeddingModel      string             `mapstructure:"embedding_model"`
	MetricsSinks        []string           `mapstructure:"metrics_sinks"`
	CheckpointInterval  int                `mapstructure:"checkpoint_interval"`
	MaxPendingTasks     int                `mapstructure:"max_pending_tasks"`
	MetadataEnrichers   []string           `mapstructure:"metadata_enrichers"`
	// CompressOutput and CompressionFormat are recorded for downstream
	// packaging. Shards are always written as plain JSONL.
	CompressOutput      bool               `mapstructure:"compress_output"`
	CompressionFormat   string             `mapstructure:"compression_format"`
	DedupeWindowDays    int                `mapstructure:"dedupe_window_days"`
	IncrementalRefresh  bool               `mapstructure:"incremental_refresh"`
	PartitionStrategy   string             `mapstructure:"partition_strategy"`
	ShardMaxRecords     int                `mapstructure:"shard_max_records"`
	QualityKeywords     []string           `mapstructure:"quality_keywords"`
	AdditionalSettings  map[string]string  `mapstructure:"additional_settings"`
}

// ExportEnv flattens the settings a worker or manifest reader needs. Token
// variables are exported by name only.
func (p PipelineConfig) ExportEnv() map[string]string {
	env := map[string]string{
		"CORPUS_BATCH_SIZE":         strconv.Itoa(p.BatchSize),
		"CORPUS_EMBEDDING_MODEL":    p.EmbeddingModel,
		"CORPUS_PARTITION_STRATEGY": p.PartitionStrategy,
		"CORPUS_COMPRESS_OUTPUT":    "0",
	}
	if p.CompressOutput {
		env["CORPUS_COMPRESS_OUTPUT"] = "1"
	}
	if p.Website.UserAgent != "" {
		env["CORPUS_USER_AGENT"] = p.Website.UserAgent
	}
	if p.GitHub.TokenEnvVar != "" {
		env["CORPUS_GITHUB_TOKEN_ENV"] = p.GitHub.TokenEnvVar
	}
	if p.GitLab.TokenEnvVar != "" {
		env["CORPUS_GITLAB_TOKEN_ENV"] = p.GitLab.TokenEnvVar
	}
	for k, v := range p.AdditionalSettings {
		env[k] = v
	}
	return env
}

// Sources lists configured source identifiers in run order.
func (p PipelineConfig) Sources() []string {
	out := []string{"website", "github", "gitlab"}
	for _, vocab := range p.Vocabularies {
		out = append(out, "vocabulary:"+vocab.Provider)
	}
	return out
}

func (p *PipelineConfig) applyVocabularyDefaults() {
	for i := range p.Vocabularies {
		if len(p.Vocabularies[i].LanguagePair) == 0 {
			p.Vocabularies[i].LanguagePair = []string{"ru", "en"}
		}
		if p.Vocabularies[i].LicenseName == "" {
			p.Vocabularies[i].LicenseName = "CC-BY-4.0"
		}
	}
}
