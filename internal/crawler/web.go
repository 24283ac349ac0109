package crawler

import (
	"context"
	"iter"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/policy/ratelimit"
)

// WebCrawler walks allowed sites breadth first from their seeds. Only links
// on allowed hosts and outside blocked paths are followed, each URL at most
// once, up to MaxDepth hops from a seed. Documents with an empty body (index
// pages) contribute links but no item.
type WebCrawler struct {
	cfg  config.WebsiteConfig
	deps Deps
}

// NewWebCrawler builds a crawler for the website source.
func NewWebCrawler(cfg config.WebsiteConfig, deps Deps) *WebCrawler {
	return &WebCrawler{
		cfg:  cfg,
		deps: deps.withDefaults("crawler.web"),
	}
}

// Source implements Crawler.
func (*WebCrawler) Source() string { return "website" }

// Domain implements Crawler.
func (*WebCrawler) Domain() corpus.Domain { return corpus.DomainWeb }

// Seeds returns the configured seeds, or the root of every exact allowed
// domain when none are configured.
func (w *WebCrawler) Seeds() []string {
	if len(w.cfg.Seeds) > 0 {
		return append([]string(nil), w.cfg.Seeds...)
	}
	hosts := exactHosts(w.cfg.AllowedDomains)
	seeds := make([]string, 0, len(hosts))
	for _, host := range hosts {
		seeds = append(seeds, "https://"+host+"/")
	}
	return seeds
}

// Produce implements Crawler.
func (w *WebCrawler) Produce(ctx context.Context) iter.Seq2[corpus.RawItem, error] {
	return func(yield func(corpus.RawItem, error) bool) {
		f := &fetcher{
			source:    w.Source(),
			transport: w.deps.Transport,
			limiter:   ratelimit.New(w.Source(), w.cfg.RateLimit, ratelimit.PerHost(w.cfg.HostRateLimit)),
			permits:   int64(w.cfg.MaxConcurrency),
			logger:    w.deps.Logger,
		}
		sc := newScope(w.cfg.AllowedDomains, w.cfg.BlockedPaths)
		visited := make(map[string]struct{})
		frontier := w.seedTargets(sc, visited)

		for depth := 0; len(frontier) > 0; depth++ {
			var next []corpus.Target
			cont, err := f.each(ctx, frontier, func(target corpus.Target, doc corpus.Document) bool {
				if depth < w.cfg.MaxDepth {
					next = append(next, w.discover(sc, doc, depth+1, visited)...)
				}
				if len(doc.Body) == 0 {
					return true
				}
				return yield(w.item(target, doc), nil)
			})
			if err != nil {
				yieldErr(yield, err)
				return
			}
			if !cont {
				return
			}
			frontier = next
		}
	}
}

func (w *WebCrawler) seedTargets(sc *scope, visited map[string]struct{}) []corpus.Target {
	var targets []corpus.Target
	for _, raw := range w.Seeds() {
		u, err := resolveURL(nil, raw)
		if err != nil {
			w.deps.Logger.Warn("ignoring malformed seed", zap.String("seed", raw), zap.Error(err))
			continue
		}
		// Without an allow-list the crawl stays on the seed hosts.
		if len(w.cfg.AllowedDomains) == 0 {
			sc.allowed.add(u.Hostname())
		}
		key := u.String()
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		targets = append(targets, corpus.Target{Kind: corpus.TargetPage, URL: key, Depth: 0})
	}
	return targets
}

func (w *WebCrawler) discover(sc *scope, doc corpus.Document, depth int, visited map[string]struct{}) []corpus.Target {
	base, err := url.Parse(doc.URL)
	if err != nil {
		return nil
	}
	var out []corpus.Target
	for _, href := range doc.Links {
		u, err := resolveURL(base, href)
		if err != nil || !sc.Allows(u) {
			continue
		}
		key := u.String()
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		out = append(out, corpus.Target{Kind: corpus.TargetPage, URL: key, Depth: depth})
	}
	return out
}

func (w *WebCrawler) item(target corpus.Target, doc corpus.Document) corpus.RawItem {
	host := ""
	if u, err := url.Parse(doc.URL); err == nil {
		host = u.Hostname()
	}
	attrs := mergeAttributes(map[string]any{
		"domain":          host,
		"depth":           target.Depth,
		"render_strategy": "requests",
		"security_tier":   string(corpus.TierPublic),
	}, doc.Attributes)
	if doc.Language != "" {
		if _, ok := attrs["language_hint"]; !ok {
			attrs["language_hint"] = doc.Language
		}
	}
	return corpus.RawItem{
		Locator:      doc.URL,
		Content:      string(doc.Body),
		LanguageHint: doc.Language,
		Attributes:   attrs,
		ObservedAt:   w.deps.now(),
	}
}
