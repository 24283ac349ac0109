package normalize

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/language"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// Registered classifier names.
const (
	LicenseClassifierName   = "license_classifier"
	LanguageDetectorName    = "language_detector"
	DomainQualityScorerName = "domain_quality_scorer"
)

// Classifiers builds the enrichers named in order. Unknown names are a
// configuration error.
func Classifiers(names []string, qualityKeywords []string) ([]corpus.Classifier, error) {
	out := make([]corpus.Classifier, 0, len(names))
	for _, name := range names {
		switch name {
		case LicenseClassifierName:
			out = append(out, LicenseClassifier{})
		case LanguageDetectorName:
			out = append(out, LanguageDetector{})
		case DomainQualityScorerName:
			out = append(out, NewDomainQualityScorer(qualityKeywords))
		default:
			return nil, fmt.Errorf("unknown metadata enricher %q", name)
		}
	}
	return out, nil
}

// LicenseClassifier sniffs license names from well-known phrases.
type LicenseClassifier struct{}

var licensePhrases = []struct {
	phrase string
	spdx   string
}{
	{"creative commons attribution-sharealike", "CC-BY-SA-4.0"},
	{"creative commons attribution", "CC-BY-4.0"},
	{"apache license", "Apache-2.0"},
	{"mit license", "MIT"},
	{"gnu general public license", "GPL-3.0"},
	{"mozilla public license", "MPL-2.0"},
	{"bsd 3-clause", "BSD-3-Clause"},
	{"public domain", "CC0-1.0"},
}

// Name implements corpus.Classifier.
func (LicenseClassifier) Name() string { return LicenseClassifierName }

// Classify implements corpus.Classifier.
func (LicenseClassifier) Classify(text string, _ corpus.Provenance) corpus.Score {
	lower := strings.ToLower(text)
	for _, p := range licensePhrases {
		if strings.Contains(lower, p.phrase) {
			return corpus.Score{License: p.spdx}
		}
	}
	return corpus.Score{}
}

// LanguageDetector guesses Russian or English from the script of the text.
type LanguageDetector struct{}

// Name implements corpus.Classifier.
func (LanguageDetector) Name() string { return LanguageDetectorName }

// Classify implements corpus.Classifier.
func (LanguageDetector) Classify(text string, _ corpus.Provenance) corpus.Score {
	var cyrillic, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	switch {
	case cyrillic == 0 && latin == 0:
		return corpus.Score{}
	case cyrillic > latin:
		return corpus.Score{Language: language.Russian.String()}
	default:
		return corpus.Score{Language: language.English.String()}
	}
}

// DomainQualityScorer reports the share of tokens that hit a keyword list.
// Without keywords it has no opinion.
type DomainQualityScorer struct {
	keywords map[string]struct{}
}

// NewDomainQualityScorer builds a scorer for the given keywords.
func NewDomainQualityScorer(keywords []string) DomainQualityScorer {
	s := DomainQualityScorer{keywords: make(map[string]struct{}, len(keywords))}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			s.keywords[k] = struct{}{}
		}
	}
	return s
}

// Name implements corpus.Classifier.
func (DomainQualityScorer) Name() string { return DomainQualityScorerName }

// Classify implements corpus.Classifier.
func (s DomainQualityScorer) Classify(text string, _ corpus.Provenance) corpus.Score {
	if len(s.keywords) == 0 {
		return corpus.Score{}
	}
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return corpus.Score{}
	}
	hits := 0
	for _, f := range fields {
		if _, ok := s.keywords[strings.TrimFunc(f, unicode.IsPunct)]; ok {
			hits++
		}
	}
	density := math.Round(float64(hits)/float64(len(fields))*100) / 100
	return corpus.Score{Quality: map[string]any{"keyword_density": density}}
}
