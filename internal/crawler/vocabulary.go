package crawler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// LexiconBaseURL is where lexicons without an explicit URL or path are
// requested from the transport.
const LexiconBaseURL = "https://lexicons.example"

// VocabularyEntry is one lexical row: a form per language plus optional
// part of speech, frequency bucket, and row locator.
type VocabularyEntry struct {
	Forms           map[string]string
	PartOfSpeech    string
	FrequencyBucket string
	URL             string
}

func entryFromMap(row map[string]string) VocabularyEntry {
	e := VocabularyEntry{Forms: make(map[string]string, len(row))}
	for k, v := range row {
		switch k {
		case "pos", "part_of_speech":
			e.PartOfSpeech = v
		case "frequency_bucket":
			e.FrequencyBucket = v
		case "url":
			e.URL = v
		default:
			e.Forms[k] = v
		}
	}
	return e
}

// LoadVocabularyFile reads entries from a YAML list or a JSON Lines file,
// chosen by extension.
func LoadVocabularyFile(path string) ([]VocabularyEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseVocabularyYAML(data)
	default:
		return ParseVocabularyJSONL(bytes.NewReader(data))
	}
}

// ParseVocabularyYAML decodes a YAML sequence of string maps.
func ParseVocabularyYAML(data []byte) ([]VocabularyEntry, error) {
	var rows []map[string]string
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode vocabulary yaml: %w", err)
	}
	entries := make([]VocabularyEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entryFromMap(row))
	}
	return entries, nil
}

// ParseVocabularyJSONL decodes one JSON object per line. Blank lines are
// ignored.
func ParseVocabularyJSONL(r io.Reader) ([]VocabularyEntry, error) {
	var entries []VocabularyEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, fmt.Errorf("decode vocabulary line %d: %w", line, err)
		}
		row := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				row[k] = s
			}
		}
		entries = append(entries, entryFromMap(row))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan vocabulary: %w", err)
	}
	return entries, nil
}

// VocabularyCrawler yields one item per lexical entry of a single source.
type VocabularyCrawler struct {
	src  config.VocabularySource
	deps Deps
}

// NewVocabularyCrawler builds a crawler for one vocabulary source.
func NewVocabularyCrawler(src config.VocabularySource, deps Deps) *VocabularyCrawler {
	if len(src.LanguagePair) != 2 {
		src.LanguagePair = []string{"ru", "en"}
	}
	return &VocabularyCrawler{
		src:  src,
		deps: deps.withDefaults("crawler.vocabulary"),
	}
}

// Source implements Crawler.
func (v *VocabularyCrawler) Source() string { return "vocabulary:" + v.src.Provider }

// Domain implements Crawler.
func (*VocabularyCrawler) Domain() corpus.Domain { return corpus.DomainVocabulary }

// Produce implements Crawler. Entries come from the source's file when a
// path is configured, otherwise from the transport.
func (v *VocabularyCrawler) Produce(ctx context.Context) iter.Seq2[corpus.RawItem, error] {
	return func(yield func(corpus.RawItem, error) bool) {
		entries, err := v.entries(ctx)
		if err != nil {
			yieldErr(yield, fmt.Errorf("%s: %w", v.Source(), err))
			return
		}
		src, dst := v.src.SourceLanguage(), v.src.TargetLanguage()
		for idx, entry := range entries {
			if err := ctx.Err(); err != nil {
				yieldErr(yield, err)
				return
			}
			if !yield(v.item(idx, entry, src, dst), nil) {
				return
			}
		}
	}
}

func (v *VocabularyCrawler) entries(ctx context.Context) ([]VocabularyEntry, error) {
	if v.src.Path != "" {
		entries, err := LoadVocabularyFile(v.src.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", corpus.ErrSourceUnavailable, err)
		}
		return entries, nil
	}
	url := v.src.URL
	if url == "" {
		url = LexiconBaseURL + "/" + v.src.Provider
	}
	doc, err := v.deps.Transport.Fetch(ctx, corpus.Target{
		Kind:       corpus.TargetLexicon,
		URL:        url,
		Attributes: map[string]string{"provider": v.src.Provider},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch lexicon: %w", corpus.ErrSourceUnavailable, err)
	}
	entries, err := ParseVocabularyJSONL(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", corpus.ErrSourceUnavailable, err)
	}
	return entries, nil
}

func (v *VocabularyCrawler) item(idx int, entry VocabularyEntry, src, dst string) corpus.RawItem {
	locator := entry.URL
	if locator == "" {
		locator = v.src.URL
	}
	if locator == "" {
		locator = fmt.Sprintf("%s/%s/%d", LexiconBaseURL, v.src.Provider, idx)
	}
	bucket := entry.FrequencyBucket
	if bucket == "" {
		bucket = "common"
	}
	return corpus.RawItem{
		Locator:      locator,
		Content:      pairContent(entry, src, dst),
		LanguageHint: src + "-" + dst,
		Attributes: map[string]any{
			"provider":         v.src.Provider,
			"license":          v.src.LicenseName,
			"row_id":           idx,
			"frequency_bucket": bucket,
		},
		ObservedAt: v.deps.now(),
	}
}

// pairContent renders {"<src>": ..., "<dst>": ...} with the source language
// first, then "pos" when known. Missing forms are left out.
func pairContent(entry VocabularyEntry, src, dst string) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	write := func(k, v string) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.Write(jsonString(k))
		b.WriteByte(':')
		b.Write(jsonString(v))
	}
	if form, ok := entry.Forms[src]; ok {
		write(src, form)
	}
	if form, ok := entry.Forms[dst]; ok {
		write(dst, form)
	}
	if entry.PartOfSpeech != "" {
		write("pos", entry.PartOfSpeech)
	}
	b.WriteByte('}')
	return b.String()
}

func jsonString(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Strings always encode.
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}
