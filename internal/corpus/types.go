// Package corpus defines the core types shared across the crawl, normalize,
// gate, and export stages.
package corpus

import (
	"errors"
	"time"
)

// Domain tags the source kind a record came from. It is unrelated to network
// domain names.
type Domain string

// Known source domains.
const (
	DomainWeb        Domain = "web"
	DomainGitHub     Domain = "github"
	DomainGitLab     Domain = "gitlab"
	DomainVocabulary Domain = "vocabulary"
)

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	switch d {
	case DomainWeb, DomainGitHub, DomainGitLab, DomainVocabulary:
		return true
	default:
		return false
	}
}

// IsGit reports whether d is a repository-hosting platform.
func (d Domain) IsGit() bool {
	return d == DomainGitHub || d == DomainGitLab
}

// SecurityTier classifies default visibility of a record's source.
type SecurityTier string

// Supported security tiers.
const (
	TierPublic    SecurityTier = "public"
	TierSensitive SecurityTier = "sensitive"
)

// ParseSecurityTier maps free-form attribute values onto a tier. Unknown
// values fall back to def.
func ParseSecurityTier(v any, def SecurityTier) SecurityTier {
	s, ok := v.(string)
	if !ok {
		return def
	}
	switch SecurityTier(s) {
	case TierPublic, TierSensitive:
		return SecurityTier(s)
	default:
		return def
	}
}

// UnknownLicense is the sentinel used when no license could be determined.
const UnknownLicense = "unknown-custom"

// ErrSourceUnavailable is returned by transports when an entire source cannot
// be enumerated. Crawlers surface it to the orchestrator, which reports the
// source as failed instead of aborting the run.
var ErrSourceUnavailable = errors.New("source unavailable")

// RawItem is one fetched unit before normalization. It is owned by a single
// crawler invocation and never persisted.
type RawItem struct {
	Locator      string
	Content      string
	LanguageHint string
	Attributes   map[string]any
	ObservedAt   time.Time
}

// Attr returns the attribute stored under key, or nil.
func (r RawItem) Attr(key string) any {
	if r.Attributes == nil {
		return nil
	}
	return r.Attributes[key]
}

// AttrString returns the attribute under key when it is a non-empty string.
func (r RawItem) AttrString(key, def string) string {
	if s, ok := r.Attr(key).(string); ok && s != "" {
		return s
	}
	return def
}

// TargetKind distinguishes what a transport is asked to fetch.
type TargetKind string

// Supported fetch target kinds.
const (
	TargetPage       TargetKind = "page"
	TargetRepository TargetKind = "repository"
	TargetLexicon    TargetKind = "lexicon"
)

// Target describes one unit of work handed to a Transport.
type Target struct {
	Kind       TargetKind
	URL        string
	Depth      int
	Attributes map[string]string
}

// Document is the transport's answer for a Target.
type Document struct {
	URL        string
	Body       []byte
	Language   string
	Links      []string
	Attributes map[string]any
}
