package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalRecord is the unit of the corpus. It is immutable once the gate
// admits it; stages hand ownership forward instead of sharing it.
type CanonicalRecord struct {
	ID          string      `json:"id"`
	Domain      Domain      `json:"domain"`
	Locator     string      `json:"locator"`
	Language    string      `json:"language"`
	Text        string      `json:"text"`
	TokenCount  int         `json:"token_count"`
	License     string      `json:"license"`
	Provenance  Provenance  `json:"provenance"`
	Quality     Quality     `json:"quality"`
	Safety      Safety      `json:"safety"`
	ContentHash string      `json:"content_hash"`
	Alignment   *Alignment  `json:"alignment,omitempty"`
	Embeddings  *Embeddings `json:"embeddings,omitempty"`
}

// Provenance records where a record came from. Source-specific attributes
// live in Extra and are flattened into the same JSON object.
type Provenance struct {
	RetrievedAt string         `json:"retrieved_at"`
	Domain      Domain         `json:"domain"`
	Extra       map[string]any `json:"-"`
}

// Quality carries quality metadata. Domain-dependent keys are optional.
type Quality struct {
	Readability        float64            `json:"readability"`
	Toxicity           float64            `json:"toxicity"`
	DomainSpecific     map[string]float64 `json:"domain_specific"`
	DedupeRank         int                `json:"dedupe_rank"`
	LanguageConfidence *float64           `json:"language_confidence,omitempty"`
	CodeLanguage       string             `json:"code_language,omitempty"`
	TestsPresent       *bool              `json:"tests_present,omitempty"`
	FrequencyBucket    string             `json:"frequency_bucket,omitempty"`
	Extra              map[string]any     `json:"-"`
}

// Safety carries the redaction and PII outcome for a record.
type Safety struct {
	PIIFlag               bool           `json:"pii_flag"`
	PIIDetectorsTriggered []string       `json:"pii_detectors_triggered"`
	SecurityTier          SecurityTier   `json:"security_tier"`
	RedactionsApplied     []Redaction    `json:"redactions_applied"`
	Extra                 map[string]any `json:"-"`
}

// Redaction names a pattern that rewrote a record's text.
type Redaction struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

// Alignment is the bilingual pair extracted from vocabulary entries.
type Alignment struct {
	SourceTokens []string `json:"source_tokens"`
	TargetTokens []string `json:"target_tokens"`
	PartOfSpeech string   `json:"part_of_speech"`
}

// Embeddings is populated by an external enrichment stage.
type Embeddings struct {
	Model    string         `json:"model"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy whose slices and maps can be modified without
// touching r.
func (r CanonicalRecord) Clone() CanonicalRecord {
	out := r
	out.Provenance.Extra = cloneMap(r.Provenance.Extra)
	out.Quality.Extra = cloneMap(r.Quality.Extra)
	if r.Quality.DomainSpecific != nil {
		out.Quality.DomainSpecific = make(map[string]float64, len(r.Quality.DomainSpecific))
		for k, v := range r.Quality.DomainSpecific {
			out.Quality.DomainSpecific[k] = v
		}
	}
	out.Safety.Extra = cloneMap(r.Safety.Extra)
	out.Safety.PIIDetectorsTriggered = append([]string{}, r.Safety.PIIDetectorsTriggered...)
	out.Safety.RedactionsApplied = append([]Redaction{}, r.Safety.RedactionsApplied...)
	if r.Alignment != nil {
		a := *r.Alignment
		a.SourceTokens = append([]string(nil), a.SourceTokens...)
		a.TargetTokens = append([]string(nil), a.TargetTokens...)
		out.Alignment = &a
	}
	return out
}

type provenanceAlias Provenance

// MarshalJSON flattens Extra next to the well-known fields.
func (p Provenance) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(provenanceAlias(p), p.Extra)
}

// UnmarshalJSON splits unknown keys into Extra.
func (p *Provenance) UnmarshalJSON(data []byte) error {
	var alias provenanceAlias
	extra, err := unmarshalWithExtra(data, &alias, "retrieved_at", "domain")
	if err != nil {
		return err
	}
	*p = Provenance(alias)
	p.Extra = extra
	return nil
}

type qualityAlias Quality

// MarshalJSON flattens Extra next to the well-known fields.
func (q Quality) MarshalJSON() ([]byte, error) {
	if q.DomainSpecific == nil {
		q.DomainSpecific = map[string]float64{}
	}
	return marshalWithExtra(qualityAlias(q), q.Extra)
}

// UnmarshalJSON splits unknown keys into Extra.
func (q *Quality) UnmarshalJSON(data []byte) error {
	var alias qualityAlias
	extra, err := unmarshalWithExtra(data, &alias,
		"readability", "toxicity", "domain_specific", "dedupe_rank",
		"language_confidence", "code_language", "tests_present", "frequency_bucket",
	)
	if err != nil {
		return err
	}
	*q = Quality(alias)
	q.Extra = extra
	return nil
}

type safetyAlias Safety

// MarshalJSON flattens Extra next to the well-known fields. Empty lists are
// written as [] rather than null.
func (s Safety) MarshalJSON() ([]byte, error) {
	if s.PIIDetectorsTriggered == nil {
		s.PIIDetectorsTriggered = []string{}
	}
	if s.RedactionsApplied == nil {
		s.RedactionsApplied = []Redaction{}
	}
	return marshalWithExtra(safetyAlias(s), s.Extra)
}

// UnmarshalJSON splits unknown keys into Extra.
func (s *Safety) UnmarshalJSON(data []byte) error {
	var alias safetyAlias
	extra, err := unmarshalWithExtra(data, &alias,
		"pii_flag", "pii_detectors_triggered", "security_tier", "redactions_applied",
	)
	if err != nil {
		return err
	}
	*s = Safety(alias)
	s.Extra = extra
	return nil
}

// marshalWithExtra encodes known and merges extra keys that do not collide
// with a well-known field. encoding/json sorts map keys, so output is stable.
func marshalWithExtra(known any, extra map[string]any) ([]byte, error) {
	base, err := encodeJSON(known)
	if err != nil {
		return nil, fmt.Errorf("marshal known fields: %w", err)
	}
	if len(extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(extra)+8)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("merge known fields: %w", err)
	}
	for k, v := range extra {
		if _, taken := merged[k]; taken {
			continue
		}
		raw, err := encodeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("marshal extra %q: %w", k, err)
		}
		merged[k] = raw
	}
	out, err := encodeJSON(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged fields: %w", err)
	}
	return out, nil
}

// encodeJSON is json.Marshal without HTML escaping, so redaction markers
// such as <REDACTED> stay readable in shards.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func unmarshalWithExtra(data []byte, known any, knownKeys ...string) (map[string]any, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, fmt.Errorf("decode known fields: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode extra fields: %w", err)
	}
	for _, k := range knownKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MarshalLine encodes r as a single JSON line without a trailing newline.
func (r CanonicalRecord) MarshalLine() ([]byte, error) {
	line, err := encodeJSON(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	return line, nil
}
