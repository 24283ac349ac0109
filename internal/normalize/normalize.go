// Package normalize converts raw crawl items into canonical corpus records.
package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/hash/sha256"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
)

const (
	unknownLanguage     = "unknown"
	defaultPartOfSpeech = "noun"
	defaultBucket       = "common"

	webSecurityRelevance = 0.85
	gitSecurityRelevance = 0.9
	confidenceDesired    = 0.95
	confidenceOther      = 0.8
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	// Unicode whitespace: RE2's \s is ASCII only.
	whitespacePattern = regexp.MustCompile(`[\s\v\x{1c}-\x{1f}\x{85}\p{Z}]+`)
)

// Options configures a Normalizer.
type Options struct {
	// DesiredLanguages are the BCP 47 tags whose base language earns web
	// records the higher language confidence.
	DesiredLanguages []string
	// MinContentLength is the cleaned-text floor for web records, in
	// characters.
	MinContentLength int
	// KeepWhitespace disables collapsing whitespace runs.
	KeepWhitespace bool
	Classifiers    []corpus.Classifier
	Clock          corpus.Clock
	Logger         *zap.Logger
}

// Normalizer is stateless apart from its configuration and safe for
// concurrent use.
type Normalizer struct {
	desired          []language.Base
	minContentLength int
	keepWhitespace   bool
	classifiers      []corpus.Classifier
	clock            corpus.Clock
	logger           *zap.Logger
}

// New builds a Normalizer. Unparseable desired languages are ignored.
func New(opts Options) *Normalizer {
	n := &Normalizer{
		minContentLength: opts.MinContentLength,
		keepWhitespace:   opts.KeepWhitespace,
		classifiers:      opts.Classifiers,
		clock:            opts.Clock,
		logger:           logging.OrNop(opts.Logger).Named("normalize"),
	}
	for _, raw := range opts.DesiredLanguages {
		tag, err := language.Parse(raw)
		if err != nil {
			n.logger.Warn("ignoring desired language", zap.String("language", raw), zap.Error(err))
			continue
		}
		base, _ := tag.Base()
		n.desired = append(n.desired, base)
	}
	return n
}

// Clean strips markup and collapses whitespace. Invalid UTF-8 is replaced
// first so the text hashes the same as its JSON encoding.
func Clean(content string) string {
	text := tagPattern.ReplaceAllString(ValidUTF8(content), " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ValidUTF8 replaces every byte that is not part of a valid UTF-8 sequence
// with U+FFFD, byte for byte, matching encoding/json.
func ValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// CountTokens is the whitespace token count, never below one.
func CountTokens(text string) int {
	return max(1, len(strings.Fields(text)))
}

// Normalize builds the canonical record for raw. The boolean is false when
// the item is skipped.
func (n *Normalizer) Normalize(raw corpus.RawItem, domain corpus.Domain) (corpus.CanonicalRecord, bool) {
	text := n.clean(raw.Content)
	locator := ValidUTF8(raw.Locator)

	if length := utf8.RuneCountInString(text); domain == corpus.DomainWeb && length < n.minContentLength {
		n.logger.Debug("skipping short web record",
			zap.String("locator", locator),
			zap.Int("length", length),
			zap.Int("min_content_length", n.minContentLength),
		)
		metrics.ObserveSkipped(string(domain), "too_short")
		return corpus.CanonicalRecord{}, false
	}

	contentHash := sha256.ContentHash(locator, text)
	tokens := CountTokens(text)

	rec := corpus.CanonicalRecord{
		ID:          string(domain) + "-" + contentHash[:8],
		Domain:      domain,
		Locator:     locator,
		Language:    orDefault(raw.LanguageHint, unknownLanguage),
		Text:        text,
		TokenCount:  tokens,
		License:     raw.AttrString("license", corpus.UnknownLicense),
		Provenance:  n.provenance(raw, domain),
		Quality:     n.quality(raw, domain, tokens),
		ContentHash: contentHash,
		Safety: corpus.Safety{
			PIIDetectorsTriggered: []string{},
			SecurityTier:          corpus.ParseSecurityTier(raw.Attr("security_tier"), corpus.TierPublic),
			RedactionsApplied:     []corpus.Redaction{},
		},
	}
	if domain == corpus.DomainVocabulary {
		rec.Alignment = n.alignment(raw)
	}
	n.classify(&rec)

	metrics.ObserveNormalized(string(domain))
	return rec, true
}

func (n *Normalizer) clean(content string) string {
	if n.keepWhitespace {
		return strings.TrimSpace(tagPattern.ReplaceAllString(ValidUTF8(content), " "))
	}
	return Clean(content)
}

func (n *Normalizer) provenance(raw corpus.RawItem, domain corpus.Domain) corpus.Provenance {
	observed := raw.ObservedAt
	if observed.IsZero() && n.clock != nil {
		observed = n.clock.Now()
	}
	extra := make(map[string]any, len(raw.Attributes))
	for k, v := range raw.Attributes {
		extra[k] = v
	}
	delete(extra, "retrieved_at")
	delete(extra, "domain")
	if len(extra) == 0 {
		extra = nil
	}
	return corpus.Provenance{
		RetrievedAt: observed.UTC().Format(time.RFC3339),
		Domain:      domain,
		Extra:       extra,
	}
}

func (n *Normalizer) quality(raw corpus.RawItem, domain corpus.Domain, tokens int) corpus.Quality {
	q := corpus.Quality{
		Readability:    Readability(tokens),
		Toxicity:       0.0,
		DomainSpecific: map[string]float64{},
		DedupeRank:     0,
	}
	switch {
	case domain == corpus.DomainWeb:
		hint := raw.AttrString("language_hint", raw.LanguageHint)
		conf := confidenceOther
		if n.isDesired(hint) {
			conf = confidenceDesired
		}
		q.LanguageConfidence = &conf
		q.DomainSpecific["security_relevance"] = webSecurityRelevance
	case domain.IsGit():
		q.CodeLanguage = raw.AttrString("language", unknownLanguage)
		tests, _ := raw.Attr("tests_present").(bool)
		q.TestsPresent = &tests
		q.DomainSpecific["security_relevance"] = gitSecurityRelevance
	case domain == corpus.DomainVocabulary:
		q.FrequencyBucket = raw.AttrString("frequency_bucket", defaultBucket)
	}
	return q
}

// Readability is clamp(0.1, 1.0, 1.1 - tokens/600) rounded to two decimals.
func Readability(tokens int) float64 {
	score := 1.1 - float64(tokens)/600
	score = math.Max(0.1, math.Min(1.0, score))
	return math.Round(score*100) / 100
}

func (n *Normalizer) isDesired(hint string) bool {
	if hint == "" {
		return false
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	for _, d := range n.desired {
		if d == base {
			return true
		}
	}
	return false
}

// alignment reads the bilingual pair from vocabulary content. The pair is
// taken from the item's language ("ru-en"), defaulting to ru/en.
func (n *Normalizer) alignment(raw corpus.RawItem) *corpus.Alignment {
	src, dst := "ru", "en"
	if parts := strings.SplitN(raw.LanguageHint, "-", 2); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		src, dst = parts[0], parts[1]
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(raw.Content), &entry); err != nil {
		n.logger.Debug("unable to parse vocabulary alignment",
			zap.String("locator", raw.Locator),
			zap.String("content", truncate(raw.Content, 50)),
			zap.Error(err),
		)
		return nil
	}
	first, okSrc := entry[src].(string)
	second, okDst := entry[dst].(string)
	if !okSrc || !okDst {
		return nil
	}
	pos, _ := entry["pos"].(string)
	return &corpus.Alignment{
		SourceTokens: []string{first},
		TargetTokens: []string{second},
		PartOfSpeech: orDefault(pos, defaultPartOfSpeech),
	}
}

// classify lets registered classifiers fill gaps. They never override a
// value the source provided, and quality extensions never replace
// well-known keys.
func (n *Normalizer) classify(rec *corpus.CanonicalRecord) {
	for _, c := range n.classifiers {
		score := c.Classify(rec.Text, rec.Provenance)
		if score.License != "" && rec.License == corpus.UnknownLicense {
			rec.License = score.License
		}
		if score.Language != "" && rec.Language == unknownLanguage {
			rec.Language = score.Language
		}
		for k, v := range score.Quality {
			if rec.Quality.Extra == nil {
				rec.Quality.Extra = make(map[string]any, len(score.Quality))
			}
			if _, exists := rec.Quality.Extra[k]; !exists {
				rec.Quality.Extra[k] = v
			}
		}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
