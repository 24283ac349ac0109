// Package gate applies redaction patterns and the PII admission check to
// normalized records.
package gate

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/normalize"
)

// Replacement is written in place of every redacted match.
const Replacement = "<REDACTED>"

// Verdict is the admission outcome for one record.
type Verdict struct {
	Accepted  bool
	Detectors []string
}

type pattern struct {
	source string
	re     *regexp.Regexp
}

// Gate is immutable after construction and safe for concurrent use.
type Gate struct {
	redactors []pattern
	detectors []pattern
	logger    *zap.Logger
}

// New compiles the redaction and PII patterns. A pattern that does not
// compile is a configuration error.
func New(redactPatterns, piiDetectors []string, logger *zap.Logger) (*Gate, error) {
	g := &Gate{logger: logging.OrNop(logger).Named("gate")}
	for _, p := range redactPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		g.redactors = append(g.redactors, pattern{source: p, re: re})
	}
	for _, p := range piiDetectors {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pii detector %q: %w", p, err)
		}
		g.detectors = append(g.detectors, pattern{source: p, re: re})
	}
	return g, nil
}

// Apply redacts rec in pattern order, then rejects it if any PII detector
// still matches. Redaction never cures PII: detectors run on the redacted
// text and a match always rejects.
func (g *Gate) Apply(rec corpus.CanonicalRecord) (corpus.CanonicalRecord, Verdict) {
	out := rec.Clone()
	text := out.Text
	applied := 0
	for _, p := range g.redactors {
		if !p.re.MatchString(text) {
			continue
		}
		text = p.re.ReplaceAllLiteralString(text, Replacement)
		out.Safety.RedactionsApplied = append(out.Safety.RedactionsApplied, corpus.Redaction{
			Pattern:     p.source,
			Replacement: Replacement,
		})
		applied++
	}
	out.Text = text
	out.TokenCount = normalize.CountTokens(text)
	metrics.ObserveRedactions(string(out.Domain), applied)

	var triggered []string
	for _, d := range g.detectors {
		if d.re.MatchString(text) {
			triggered = append(triggered, d.source)
		}
	}
	if len(triggered) > 0 {
		metrics.ObserveRejected(string(out.Domain), triggered)
		for _, d := range triggered {
			g.logger.Info("record rejected by pii detector",
				zap.String("record_id", out.ID),
				zap.String("domain", string(out.Domain)),
				zap.String("detector", d),
			)
		}
		return corpus.CanonicalRecord{}, Verdict{Accepted: false, Detectors: triggered}
	}
	return out, Verdict{Accepted: true}
}
