package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/clock/system"
	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/transport/fixture"
)

var crawlTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func webConfig() config.WebsiteConfig {
	return config.WebsiteConfig{
		AllowedDomains: []string{"example.org", "news.example"},
		RateLimit:      config.RateLimit{Requests: 1000, Per: time.Second},
		MaxConcurrency: 4,
		MaxDepth:       2,
	}
}

func deps(tr corpus.Transport) Deps {
	return Deps{Transport: tr, Clock: system.NewFixed(crawlTime)}
}

// drain collects every item and the terminal error, if any.
func drain(t *testing.T, c Crawler, ctx context.Context) ([]corpus.RawItem, error) {
	t.Helper()
	var items []corpus.RawItem
	for item, err := range c.Produce(ctx) {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

func locators(items []corpus.RawItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Locator)
	}
	return out
}

func TestWebCrawlerWalksArticlesInOrder(t *testing.T) {
	t.Parallel()

	c := NewWebCrawler(webConfig(), deps(fixture.New()))
	items, err := drain(t, c, context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.org/article/0",
		"https://example.org/article/1",
		"https://example.org/article/2",
		"https://example.org/article/3",
		"https://example.org/article/4",
		"https://news.example/article/0",
		"https://news.example/article/1",
		"https://news.example/article/2",
		"https://news.example/article/3",
		"https://news.example/article/4",
	}, locators(items))

	first := items[0]
	assert.Equal(t, fixture.ArticleBody("example.org", 0), first.Content)
	assert.Equal(t, "en", first.LanguageHint)
	assert.Equal(t, crawlTime, first.ObservedAt)
	assert.Equal(t, "example.org", first.Attributes["domain"])
	assert.Equal(t, 1, first.Attributes["depth"])
	assert.Equal(t, "requests", first.Attributes["render_strategy"])
	assert.Equal(t, "public", first.Attributes["security_tier"])
	assert.Equal(t, "CC-BY-4.0", first.Attributes["license"])
	assert.Equal(t, "ru", items[1].LanguageHint)
}

func TestWebCrawlerSeeds(t *testing.T) {
	t.Parallel()

	cfg := webConfig()
	cfg.AllowedDomains = []string{"example.org", "*.example.net", ".example.com"}
	assert.Equal(t, []string{"https://example.org/"}, NewWebCrawler(cfg, Deps{}).Seeds())

	cfg.Seeds = []string{"https://example.org/start"}
	assert.Equal(t, []string{"https://example.org/start"}, NewWebCrawler(cfg, Deps{}).Seeds())
}

func TestWebCrawlerDepthAndBlockedPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.WebsiteConfig)
		wantLen int
	}{
		{"roots only", func(c *config.WebsiteConfig) { c.MaxDepth = 0 }, 0},
		{"blocked article", func(c *config.WebsiteConfig) { c.BlockedPaths = []string{"/article/3"} }, 8},
		{"blocked prefix without slash", func(c *config.WebsiteConfig) { c.BlockedPaths = []string{"article"} }, 0},
		{"single domain", func(c *config.WebsiteConfig) { c.AllowedDomains = []string{"news.example"} }, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := webConfig()
			tc.mutate(&cfg)
			items, err := drain(t, NewWebCrawler(cfg, deps(fixture.New())), context.Background())
			require.NoError(t, err)
			assert.Len(t, items, tc.wantLen)
		})
	}
}

func TestWebCrawlerStaysOnSeedHostsWithoutAllowList(t *testing.T) {
	t.Parallel()

	cfg := webConfig()
	cfg.AllowedDomains = nil
	cfg.Seeds = []string{"https://example.org/"}
	items, err := drain(t, NewWebCrawler(cfg, deps(fixture.New())), context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 5)
	for _, it := range items {
		assert.Equal(t, "example.org", it.Attributes["domain"])
	}
}

func TestWebCrawlerDropsFailedItems(t *testing.T) {
	t.Parallel()

	tr := fixture.New(fixture.WithFailingURL("https://example.org/article/2"))
	items, err := drain(t, NewWebCrawler(webConfig(), deps(tr)), context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 9)
	assert.NotContains(t, locators(items), "https://example.org/article/2")
}

func TestWebCrawlerSourceUnavailableEndsSequence(t *testing.T) {
	t.Parallel()

	tr := fixture.New(fixture.WithUnavailableHost("news.example"))
	items, err := drain(t, NewWebCrawler(webConfig(), deps(tr)), context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, corpus.ErrSourceUnavailable))
	assert.Empty(t, items)
}

func TestWebCrawlerEarlyBreak(t *testing.T) {
	t.Parallel()

	tr := fixture.New()
	c := NewWebCrawler(webConfig(), deps(tr))
	var got []corpus.RawItem
	for item, err := range c.Produce(context.Background()) {
		require.NoError(t, err)
		got = append(got, item)
		if len(got) == 2 {
			break
		}
	}
	assert.Len(t, got, 2)
	// Roots plus at most one window of prefetched articles.
	assert.LessOrEqual(t, tr.Calls(), 2+2+int(webConfig().MaxConcurrency))
}

func TestWebCrawlerCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items, err := drain(t, NewWebCrawler(webConfig(), deps(fixture.New())), ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, items)
}

func TestWebCrawlerRateLimitSpansHosts(t *testing.T) {
	t.Parallel()

	cfg := webConfig()
	cfg.AllowedDomains = []string{"a.example", "b.example", "c.example", "d.example"}
	cfg.RateLimit = config.RateLimit{Requests: 1, Per: time.Hour}
	cfg.MaxDepth = 0

	tr := fixture.New()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	// Waits past the deadline fail, so the crawl ends early either way.
	_, _ = drain(t, NewWebCrawler(cfg, deps(tr)), ctx)
	assert.Equal(t, 1, tr.Calls(), "one token for the whole source, however many hosts")
}
