package crawler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/transport/fixture"
)

func TestVocabularyCrawlerFromTransport(t *testing.T) {
	t.Parallel()

	src := config.VocabularySource{Provider: "opus", LicenseName: "CC-BY-4.0"}
	c := NewVocabularyCrawler(src, deps(fixture.New()))
	assert.Equal(t, "vocabulary:opus", c.Source())
	assert.Equal(t, corpus.DomainVocabulary, c.Domain())

	items, err := drain(t, c, context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, []string{
		"https://lexicons.example/opus/0",
		"https://lexicons.example/opus/1",
		"https://lexicons.example/opus/2",
	}, locators(items))
	assert.Equal(t, `{"ru":"безопасность","en":"security"}`, items[0].Content)
	assert.Equal(t, "ru-en", items[0].LanguageHint)
	assert.Equal(t, "opus", items[0].Attributes["provider"])
	assert.Equal(t, "CC-BY-4.0", items[0].Attributes["license"])
	assert.Equal(t, 0, items[0].Attributes["row_id"])
	assert.Equal(t, "common", items[0].Attributes["frequency_bucket"])
	assert.Equal(t, "specialised", items[1].Attributes["frequency_bucket"])
}

func TestVocabularyCrawlerReversedPair(t *testing.T) {
	t.Parallel()

	src := config.VocabularySource{Provider: "opus", LanguagePair: []string{"en", "ru"}}
	items, err := drain(t, NewVocabularyCrawler(src, deps(fixture.New())), context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, `{"en":"security","ru":"безопасность"}`, items[0].Content)
	assert.Equal(t, "en-ru", items[0].LanguageHint)
}

func TestVocabularyCrawlerFromYAMLFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- uk: бігти
  en: run
  pos: verb
  url: https://lexicons.example/uk/run
- uk: дім
  en: house
  frequency_bucket: rare
`), 0o600))

	src := config.VocabularySource{Provider: "local", LanguagePair: []string{"uk", "en"}, Path: path}
	items, err := drain(t, NewVocabularyCrawler(src, deps(nil)), context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "https://lexicons.example/uk/run", items[0].Locator)
	assert.Equal(t, `{"uk":"бігти","en":"run","pos":"verb"}`, items[0].Content)
	assert.Equal(t, "https://lexicons.example/local/1", items[1].Locator)
	assert.Equal(t, "rare", items[1].Attributes["frequency_bucket"])
}

func TestParseVocabularyJSONL(t *testing.T) {
	t.Parallel()

	entries, err := ParseVocabularyJSONL(strings.NewReader(
		"{\"ru\":\"сеть\",\"en\":\"network\",\"part_of_speech\":\"noun\",\"rank\":3}\n\n" +
			"{\"ru\":\"ключ\",\"en\":\"key\"}\n"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]string{"ru": "сеть", "en": "network"}, entries[0].Forms)
	assert.Equal(t, "noun", entries[0].PartOfSpeech)

	_, err = ParseVocabularyJSONL(strings.NewReader("{not json}\n"))
	require.Error(t, err)
}

func TestVocabularyCrawlerUnavailableSource(t *testing.T) {
	t.Parallel()

	src := config.VocabularySource{Provider: "missing", Path: filepath.Join(t.TempDir(), "nope.jsonl")}
	items, err := drain(t, NewVocabularyCrawler(src, deps(nil)), context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, corpus.ErrSourceUnavailable))
	assert.Empty(t, items)

	tr := fixture.New(fixture.WithUnavailableHost("lexicons.example"))
	_, err = drain(t, NewVocabularyCrawler(config.VocabularySource{Provider: "opus"}, deps(tr)), context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, corpus.ErrSourceUnavailable))
}
