package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
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
log:
  level: debug
  development: true
transport:
  mode: http
  timeout_seconds: 45
pipeline:
  website:
    allowed_domains: ["example.org", "docs.example.org"]
    blocked_paths: ["/private"]
    rate_limit:
      requests: 10
      per: 30s
    max_concurrency: 4
    max_depth: 2
    min_content_length: 64
  github:
    organisations: ["acme"]
    languages: ["Go"]
    token_env_var: GITHUB_TOKEN
  vocabularies:
    - provider: lexicon-a
    - provider: lexicon-b
      language_pair: ["uk", "en"]
      license_name: CC0-1.0
      path: /tmp/lexicon.yaml
  storage:
    release_root: ` + filepath.Join(dir, "release") + `
  batch_size: 100
  shard_max_records: 50
  additional_settings:
    CORPUS_REGION: eu
ledger:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "ledger.db") + `
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
	if cfg.Log.Level != "debug" || !cfg.Log.Development {
		t.Fatalf("expected log overrides to apply: %+v", cfg.Log)
	}
	if cfg.Transport.Mode != TransportHTTP || cfg.Transport.Timeout() != 45*time.Second {
		t.Fatalf("expected transport overrides to apply: %+v", cfg.Transport)
	}
	web := cfg.Pipeline.Website
	if web.RateLimit.Requests != 10 || web.RateLimit.Per != 30*time.Second {
		t.Fatalf("expected website rate limit 10/30s, got %+v", web.RateLimit)
	}
	if web.MaxDepth != 2 || web.MinContentLength != 64 || !web.ObeyRobotsTxt {
		t.Fatalf("unexpected website config: %+v", web)
	}
	if web.UserAgent != DefaultUserAgent {
		t.Fatalf("expected default user agent, got %q", web.UserAgent)
	}
	gh := cfg.Pipeline.GitHub
	if !reflect.DeepEqual(gh.Languages, []string{"Go"}) || gh.RateLimit.Per != 10*time.Second {
		t.Fatalf("unexpected github config: %+v", gh)
	}
	vocabs := cfg.Pipeline.Vocabularies
	if len(vocabs) != 2 {
		t.Fatalf("expected two vocabulary sources, got %d", len(vocabs))
	}
	if vocabs[0].SourceLanguage() != "ru" || vocabs[0].TargetLanguage() != "en" || vocabs[0].LicenseName != "CC-BY-4.0" {
		t.Fatalf("expected vocabulary defaults, got %+v", vocabs[0])
	}
	if vocabs[1].SourceLanguage() != "uk" || vocabs[1].LicenseName != "CC0-1.0" {
		t.Fatalf("expected vocabulary overrides, got %+v", vocabs[1])
	}
	if cfg.Pipeline.ShardMaxRecords != 50 || cfg.Pipeline.BatchSize != 100 {
		t.Fatalf("unexpected pipeline sizes: %+v", cfg.Pipeline)
	}
	if cfg.Ledger.Driver != LedgerSQLite {
		t.Fatalf("expected sqlite ledger, got %q", cfg.Ledger.Driver)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p := cfg.Pipeline
	if p.Website.RateLimit.Requests != 600 || p.Website.RateLimit.Per != time.Minute {
		t.Fatalf("expected 600/min website rate limit, got %+v", p.Website.RateLimit)
	}
	if p.Website.MaxConcurrency != 32 || p.Website.MaxDepth != 4 || p.Website.MinContentLength != 256 {
		t.Fatalf("unexpected website defaults: %+v", p.Website)
	}
	wantLangs := []string{"Python", "JavaScript", "Go", "Rust", "C#"}
	if !reflect.DeepEqual(p.GitLab.Languages, wantLangs) {
		t.Fatalf("expected default languages %v, got %v", wantLangs, p.GitLab.Languages)
	}
	if p.CompressOutput {
		t.Fatalf("expected uncompressed shards by default")
	}
	if p.GitHub.MaxOpenPRs != 200 || !p.GitHub.DefaultBranchOnly {
		t.Fatalf("unexpected git defaults: %+v", p.GitHub)
	}
	if !reflect.DeepEqual(p.DesiredLanguages, []string{"en", "ru"}) {
		t.Fatalf("unexpected desired languages %v", p.DesiredLanguages)
	}
	if len(p.RedactPatterns) != 1 || len(p.PIIDetectors) != 2 {
		t.Fatalf("expected default redact and pii patterns, got %v / %v", p.RedactPatterns, p.PIIDetectors)
	}
	if p.PartitionStrategy != "domain-date-shard" || p.CompressionFormat != "zstd" {
		t.Fatalf("unexpected export defaults: %+v", p)
	}
	if cfg.Transport.Mode != TransportFixture || cfg.Publish.Provider != PublishNone {
		t.Fatalf("expected offline defaults, got transport=%q publish=%q", cfg.Transport.Mode, cfg.Publish.Provider)
	}
	if !reflect.DeepEqual(Default(), cfg) {
		t.Fatalf("Default() should match Load(\"\")")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CORPUS_PIPELINE_BATCH_SIZE", "42")
	t.Setenv("CORPUS_SERVER_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.BatchSize != 42 {
		t.Fatalf("expected env batch size 42, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero requests", func(c *Config) { c.Pipeline.Website.RateLimit.Requests = 0 }},
		{"zero window", func(c *Config) { c.Pipeline.GitHub.RateLimit.Per = 0 }},
		{"negative gitlab requests", func(c *Config) { c.Pipeline.GitLab.RateLimit.Requests = -1 }},
		{"half-set host rate limit", func(c *Config) { c.Pipeline.Website.HostRateLimit.Requests = 1 }},
		{"zero concurrency", func(c *Config) { c.Pipeline.Website.MaxConcurrency = 0 }},
		{"negative depth", func(c *Config) { c.Pipeline.Website.MaxDepth = -1 }},
		{"zero batch", func(c *Config) { c.Pipeline.BatchSize = 0 }},
		{"bad redact pattern", func(c *Config) { c.Pipeline.RedactPatterns = []string{"("} }},
		{"bad pii pattern", func(c *Config) { c.Pipeline.PIIDetectors = []string{"[a-"} }},
		{"missing release root", func(c *Config) { c.Pipeline.Storage.ReleaseRoot = "" }},
		{"missing vocab provider", func(c *Config) {
			c.Pipeline.Vocabularies = []VocabularySource{{LanguagePair: []string{"ru", "en"}}}
		}},
		{"duplicate vocab provider", func(c *Config) {
			c.Pipeline.Vocabularies = []VocabularySource{
				{Provider: "a", LanguagePair: []string{"ru", "en"}},
				{Provider: "a", LanguagePair: []string{"ru", "en"}},
			}
		}},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad transport", func(c *Config) { c.Transport.Mode = "carrier-pigeon" }},
		{"gcs without bucket", func(c *Config) { c.Publish.Provider = PublishGCS }},
		{"local without root", func(c *Config) { c.Publish.Provider = PublishLocal }},
		{"topic without project", func(c *Config) { c.Publish.Topic = "releases" }},
		{"unknown ledger", func(c *Config) { c.Ledger.Driver = "mysql" }},
		{"ledger without dsn", func(c *Config) { c.Ledger.Driver = LedgerPostgres }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestExportEnv(t *testing.T) {
	t.Parallel()

	p := Default().Pipeline
	p.GitHub.TokenEnvVar = "GH_TOKEN"
	p.AdditionalSettings = map[string]string{"CORPUS_REGION": "eu"}

	env := p.ExportEnv()
	want := map[string]string{
		"CORPUS_BATCH_SIZE":         "5000",
		"CORPUS_EMBEDDING_MODEL":    "sentence-transformers/paraphrase-multilingual-mpnet-base-v2",
		"CORPUS_PARTITION_STRATEGY": "domain-date-shard",
		"CORPUS_COMPRESS_OUTPUT":    "0",
		"CORPUS_USER_AGENT":         DefaultUserAgent,
		"CORPUS_GITHUB_TOKEN_ENV":   "GH_TOKEN",
		"CORPUS_REGION":             "eu",
	}
	if !reflect.DeepEqual(env, want) {
		t.Fatalf("ExportEnv() = %v, want %v", env, want)
	}

	p.CompressOutput = true
	p.Website.UserAgent = ""
	env = p.ExportEnv()
	if env["CORPUS_COMPRESS_OUTPUT"] != "1" {
		t.Fatalf("expected compress flag 1, got %q", env["CORPUS_COMPRESS_OUTPUT"])
	}
	if _, ok := env["CORPUS_USER_AGENT"]; ok {
		t.Fatalf("expected no user agent entry")
	}
}

func TestSources(t *testing.T) {
	t.Parallel()

	p := Default().Pipeline
	p.Vocabularies = []VocabularySource{{Provider: "a"}, {Provider: "b"}}
	want := []string{"website", "github", "gitlab", "vocabulary:a", "vocabulary:b"}
	if got := p.Sources(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Sources() = %v, want %v", got, want)
	}
}

func TestEnsureDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	targets := StorageTargets{
		RawRoot:     filepath.Join(root, "raw"),
		StagingRoot: filepath.Join(root, "staging", "nested"),
		ReleaseRoot: filepath.Join(root, "release"),
	}
	if err := targets.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error = %v", err)
	}
	// Second call is a no-op.
	if err := targets.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() second call error = %v", err)
	}
	for _, dir := range []string{targets.RawRoot, targets.StagingRoot, targets.ReleaseRoot} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected %s to exist as a directory", dir)
		}
	}
}

func TestGitTokenReadsNamedVariable(t *testing.T) {
	t.Setenv("CORPUS_TEST_TOKEN", "s3cret")

	g := GitConfig{TokenEnvVar: "CORPUS_TEST_TOKEN"}
	if got := g.Token(); got != "s3cret" {
		t.Fatalf("Token() = %q", got)
	}
	if got := (GitConfig{}).Token(); got != "" {
		t.Fatalf("expected empty token without env var name, got %q", got)
	}
}
