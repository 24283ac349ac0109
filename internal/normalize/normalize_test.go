package normalize

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/hash/sha256"
)

var observed = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func newTestNormalizer(minLen int) *Normalizer {
	return New(Options{
		DesiredLanguages: []string{"en", "ru"},
		MinContentLength: minLen,
	})
}

func TestNormalizeIdentityAndCleaning(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(0)
	rec, ok := n.Normalize(corpus.RawItem{
		Locator:    "https://example.org/a",
		Content:    "Hello   world",
		ObservedAt: observed,
	}, corpus.DomainGitHub)
	require.True(t, ok)

	assert.Equal(t, "Hello world", rec.Text)
	assert.Equal(t, "fe6f0246bc7e4312f581a0e2b70231fc7923b443d76ab510214d43b4dc7cdff8", rec.ContentHash)
	assert.Equal(t, "github-fe6f0246", rec.ID)
	assert.Equal(t, 2, rec.TokenCount)
	assert.Equal(t, corpus.UnknownLicense, rec.License)
	assert.Equal(t, "unknown", rec.Language)
	assert.Equal(t, "2024-05-01T10:30:00Z", rec.Provenance.RetrievedAt)
	assert.Equal(t, corpus.DomainGitHub, rec.Provenance.Domain)
	assert.False(t, rec.Safety.PIIFlag)
	assert.Empty(t, rec.Safety.PIIDetectorsTriggered)
	assert.Empty(t, rec.Safety.RedactionsApplied)
	assert.Equal(t, corpus.TierPublic, rec.Safety.SecurityTier)
	assert.Nil(t, rec.Alignment)
}

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"<html><body><p>Hi</p><b>there</b></body></html>", "Hi there"},
		{"  tabs\tand\nnewlines  ", "tabs and newlines"},
		{"a<br/>b", "a b"},
		{"", ""},
		{"<div></div>", ""},
		{"Hello\u00a0\u00a0\u3000world\v!", "Hello world !"},
		{"\u2028a\u00a0b\x1c", "a b"},
		{"caf\xe9 au lait", "caf\ufffd au lait"},
		{"\xff\xfe<b>x</b>", "\ufffd\ufffd x"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Clean(tc.in), "input %q", tc.in)
	}
}

func TestCountTokensFloorsAtOne(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, CountTokens(""))
	assert.Equal(t, 1, CountTokens("   "))
	assert.Equal(t, 3, CountTokens("a b  c"))
}

func TestReadability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tokens int
		want   float64
	}{
		{1, 1.0},
		{60, 1.0},
		{120, 0.9},
		{300, 0.6},
		{599, 0.1},
		{10000, 0.1},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, Readability(tc.tokens), 1e-9, "tokens=%d", tc.tokens)
	}
}

func TestNormalizeWebLengthFloor(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(256)
	short := corpus.RawItem{
		Locator: "https://example.org/short",
		Content: "<p>" + strings.Repeat("a", 255) + "</p>",
	}
	_, ok := n.Normalize(short, corpus.DomainWeb)
	assert.False(t, ok, "255 cleaned bytes must be skipped")

	exact := corpus.RawItem{
		Locator:      "https://example.org/exact",
		Content:      "<p>" + strings.Repeat("a", 256) + "</p>",
		LanguageHint: "en",
		Attributes:   map[string]any{"language_hint": "en", "license": "CC-BY-4.0"},
	}
	rec, ok := n.Normalize(exact, corpus.DomainWeb)
	require.True(t, ok, "256 cleaned bytes must be kept")
	require.NotNil(t, rec.Quality.LanguageConfidence)
	assert.InDelta(t, 0.95, *rec.Quality.LanguageConfidence, 1e-9)
	assert.InDelta(t, 0.85, rec.Quality.DomainSpecific["security_relevance"], 1e-9)
	assert.Equal(t, "CC-BY-4.0", rec.License)
	assert.Equal(t, "en", rec.Language)

	// Floor applies to web only.
	_, ok = n.Normalize(short, corpus.DomainGitLab)
	assert.True(t, ok)
}

func TestNormalizeWebLengthFloorCountsCharacters(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(256)
	tests := []struct {
		name    string
		content string
		keep    bool
	}{
		// 179 characters, 339 bytes.
		{"short cyrillic", strings.Repeat("безопасн ", 20), false},
		{"exact cyrillic", strings.Repeat("б", 256), true},
		{"one under", strings.Repeat("б", 255), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, ok := n.Normalize(corpus.RawItem{
				Locator: "https://example.org/ru",
				Content: "<p>" + tc.content + "</p>",
			}, corpus.DomainWeb)
			assert.Equal(t, tc.keep, ok)
		})
	}
}

func TestNormalizeHashMatchesExportedLine(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(0)
	rec, ok := n.Normalize(corpus.RawItem{
		Locator:    "https://example.org/caf\xe9",
		Content:    "<p>caf\xe9 au lait \xff\xfe</p>",
		ObservedAt: observed,
	}, corpus.DomainGitHub)
	require.True(t, ok)

	line, err := rec.MarshalLine()
	require.NoError(t, err)
	var exported struct {
		Locator     string `json:"locator"`
		Text        string `json:"text"`
		ContentHash string `json:"content_hash"`
	}
	require.NoError(t, json.Unmarshal(line, &exported))
	assert.Equal(t, rec.Text, exported.Text)
	assert.Equal(t, rec.ContentHash, exported.ContentHash)
	assert.Equal(t, exported.ContentHash, sha256.ContentHash(exported.Locator, exported.Text))
}

func TestNormalizeCollapsesUnicodeSpacesBeforeHashing(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(0)
	rec, ok := n.Normalize(corpus.RawItem{
		Locator: "https://example.org/a",
		Content: "Hello\u00a0\u00a0\u3000world",
	}, corpus.DomainGitHub)
	require.True(t, ok)
	assert.Equal(t, "Hello world", rec.Text)
	assert.Equal(t, "fe6f0246bc7e4312f581a0e2b70231fc7923b443d76ab510214d43b4dc7cdff8", rec.ContentHash)
	assert.Equal(t, 2, rec.TokenCount)
}

func TestNormalizeWebLanguageConfidence(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(0)
	tests := []struct {
		hint string
		want float64
	}{
		{"en", 0.95},
		{"ru", 0.95},
		{"en-GB", 0.95},
		{"de", 0.8},
		{"", 0.8},
		{"not a tag!", 0.8},
	}
	for _, tc := range tests {
		rec, ok := n.Normalize(corpus.RawItem{
			Locator:    "https://example.org/" + tc.hint,
			Content:    "text",
			Attributes: map[string]any{"language_hint": tc.hint},
		}, corpus.DomainWeb)
		require.True(t, ok)
		require.NotNil(t, rec.Quality.LanguageConfidence)
		assert.InDelta(t, tc.want, *rec.Quality.LanguageConfidence, 1e-9, "hint %q", tc.hint)
	}
}

func TestNormalizeGitQuality(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(0)
	rec, ok := n.Normalize(corpus.RawItem{
		Locator:      "https://gitlab.com/acme/go-playbook",
		Content:      "print('Hello from Go repo maintained by acme')",
		LanguageHint: "en",
		Attributes: map[string]any{
			"platform":      "gitlab",
			"language":      "Go",
			"license":       "MIT",
			"security_tier": "sensitive",
		},
		ObservedAt: observed,
	}, corpus.DomainGitLab)
	require.True(t, ok)

	assert.Equal(t, "Go", rec.Quality.CodeLanguage)
	require.NotNil(t, rec.Quality.TestsPresent)
	assert.False(t, *rec.Quality.TestsPresent)
	assert.InDelta(t, 0.9, rec.Quality.DomainSpecific["security_relevance"], 1e-9)
	assert.Nil(t, rec.Quality.LanguageConfidence)
	assert.Equal(t, corpus.TierSensitive, rec.Safety.SecurityTier)
	assert.Equal(t, "gitlab", rec.Provenance.Extra["platform"])
	assert.Equal(t, "MIT", rec.License)
}

func TestNormalizeVocabularyAlignment(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(0)

	rec, ok := n.Normalize(corpus.RawItem{
		Locator:      "https://lexicons.example/p/0",
		Content:      `{"ru":"безопасность","en":"security"}`,
		LanguageHint: "ru-en",
	}, corpus.DomainVocabulary)
	require.True(t, ok)
	require.NotNil(t, rec.Alignment)
	assert.Equal(t, []string{"безопасность"}, rec.Alignment.SourceTokens)
	assert.Equal(t, []string{"security"}, rec.Alignment.TargetTokens)
	assert.Equal(t, "noun", rec.Alignment.PartOfSpeech)
	assert.Equal(t, "common", rec.Quality.FrequencyBucket)
	assert.Equal(t, "ru-en", rec.Language)

	rec, ok = n.Normalize(corpus.RawItem{
		Locator:      "https://lexicons.example/p/1",
		Content:      `{"uk":"бігти","en":"run","pos":"verb"}`,
		LanguageHint: "uk-en",
		Attributes:   map[string]any{"frequency_bucket": "specialised"},
	}, corpus.DomainVocabulary)
	require.True(t, ok)
	require.NotNil(t, rec.Alignment)
	assert.Equal(t, "verb", rec.Alignment.PartOfSpeech)
	assert.Equal(t, "specialised", rec.Quality.FrequencyBucket)
}

func TestNormalizeVocabularyMalformedContentStillEmits(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(0)
	for _, content := range []string{`not json`, `{"ru":"only"}`, `["ru","en"]`} {
		rec, ok := n.Normalize(corpus.RawItem{
			Locator: "https://lexicons.example/p/x",
			Content: content,
		}, corpus.DomainVocabulary)
		require.True(t, ok, "content %q", content)
		assert.Nil(t, rec.Alignment, "content %q", content)
	}
}

func TestNormalizeProvenanceCarriesAttributes(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(0)
	rec, ok := n.Normalize(corpus.RawItem{
		Locator: "https://example.org/x",
		Content: "body",
		Attributes: map[string]any{
			"domain":       "example.org",
			"depth":        2,
			"retrieved_at": "bogus",
		},
		ObservedAt: observed,
	}, corpus.DomainWeb)
	require.True(t, ok)
	assert.Equal(t, corpus.DomainWeb, rec.Provenance.Domain)
	assert.Equal(t, "2024-05-01T10:30:00Z", rec.Provenance.RetrievedAt)
	assert.Equal(t, 2, rec.Provenance.Extra["depth"])
	assert.NotContains(t, rec.Provenance.Extra, "domain")
	assert.NotContains(t, rec.Provenance.Extra, "retrieved_at")
}

func TestNormalizeKeepWhitespace(t *testing.T) {
	t.Parallel()

	n := New(Options{KeepWhitespace: true})
	rec, ok := n.Normalize(corpus.RawItem{Locator: "l", Content: " a  <b>b</b> "}, corpus.DomainGitHub)
	require.True(t, ok)
	assert.Equal(t, "a   b", rec.Text)
}

func TestNormalizeClassifiersFillGaps(t *testing.T) {
	t.Parallel()

	classifiers, err := Classifiers(
		[]string{LicenseClassifierName, LanguageDetectorName, DomainQualityScorerName},
		[]string{"security"},
	)
	require.NoError(t, err)
	n := New(Options{Classifiers: classifiers})

	rec, ok := n.Normalize(corpus.RawItem{
		Locator: "https://gitlab.com/acme/x",
		Content: "Released under the MIT License. Безопасность важна для security",
	}, corpus.DomainGitLab)
	require.True(t, ok)
	assert.Equal(t, "MIT", rec.License)
	assert.Equal(t, "en", rec.Language)
	assert.InDelta(t, 0.11, rec.Quality.Extra["keyword_density"], 1e-9)

	rec, ok = n.Normalize(corpus.RawItem{
		Locator:      "https://gitlab.com/acme/y",
		Content:      "Apache License text",
		LanguageHint: "de",
		Attributes:   map[string]any{"license": "GPL-2.0"},
	}, corpus.DomainGitLab)
	require.True(t, ok)
	assert.Equal(t, "GPL-2.0", rec.License, "source license wins")
	assert.Equal(t, "de", rec.Language, "source language wins")
}

func TestClassifiersRejectUnknownName(t *testing.T) {
	t.Parallel()

	_, err := Classifiers([]string{"sentiment"}, nil)
	require.Error(t, err)
}

func TestLanguageDetector(t *testing.T) {
	t.Parallel()

	d := LanguageDetector{}
	assert.Equal(t, "ru", d.Classify("Привет мир", corpus.Provenance{}).Language)
	assert.Equal(t, "en", d.Classify("hello world", corpus.Provenance{}).Language)
	assert.Empty(t, d.Classify("12345 !!!", corpus.Provenance{}).Language)
}

func TestDomainQualityScorerWithoutKeywords(t *testing.T) {
	t.Parallel()

	score := NewDomainQualityScorer(nil).Classify("anything", corpus.Provenance{})
	assert.Nil(t, score.Quality)
}
