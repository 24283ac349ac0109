package crawler

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/policy/ratelimit"
)

// Target attribute keys understood by repository transports.
const (
	AttrPlatform     = "platform"
	AttrOrganisation = "organisation"
	AttrLanguage     = "language"
)

// RepositoryCrawler yields one item per (organisation, language) pair on a
// Git hosting platform.
type RepositoryCrawler struct {
	platform corpus.Domain
	cfg      config.GitConfig
	deps     Deps
}

// NewRepositoryCrawler builds a crawler for platform, which must be github
// or gitlab.
func NewRepositoryCrawler(platform corpus.Domain, cfg config.GitConfig, deps Deps) (*RepositoryCrawler, error) {
	if !platform.IsGit() {
		return nil, fmt.Errorf("repository crawler: unsupported platform %q", platform)
	}
	return &RepositoryCrawler{
		platform: platform,
		cfg:      cfg,
		deps:     deps.withDefaults("crawler." + string(platform)),
	}, nil
}

// Source implements Crawler.
func (r *RepositoryCrawler) Source() string { return string(r.platform) }

// Domain implements Crawler.
func (r *RepositoryCrawler) Domain() corpus.Domain { return r.platform }

// PlaybookLocator is the logical repository address used when the transport
// does not resolve a real one.
func PlaybookLocator(platform corpus.Domain, org, language string) string {
	return fmt.Sprintf("https://%s.com/%s/%s-playbook", platform, org, strings.ToLower(language))
}

func (r *RepositoryCrawler) targets() []corpus.Target {
	targets := make([]corpus.Target, 0, len(r.cfg.Organisations)*len(r.cfg.Languages))
	for _, org := range r.cfg.Organisations {
		for _, lang := range r.cfg.Languages {
			targets = append(targets, corpus.Target{
				Kind: corpus.TargetRepository,
				URL:  PlaybookLocator(r.platform, org, lang),
				Attributes: map[string]string{
					AttrPlatform:     string(r.platform),
					AttrOrganisation: org,
					AttrLanguage:     lang,
				},
			})
		}
	}
	return targets
}

// Produce implements Crawler.
func (r *RepositoryCrawler) Produce(ctx context.Context) iter.Seq2[corpus.RawItem, error] {
	return func(yield func(corpus.RawItem, error) bool) {
		f := &fetcher{
			source:    r.Source(),
			transport: r.deps.Transport,
			limiter:   ratelimit.New(r.Source(), r.cfg.RateLimit),
			permits:   int64(r.cfg.MaxConcurrency),
			logger:    r.deps.Logger,
		}
		_, err := f.each(ctx, r.targets(), func(target corpus.Target, doc corpus.Document) bool {
			return yield(r.item(target, doc), nil)
		})
		if err != nil {
			yieldErr(yield, err)
		}
	}
}

func (r *RepositoryCrawler) defaultTier() corpus.SecurityTier {
	if r.platform == corpus.DomainGitHub {
		return corpus.TierPublic
	}
	return corpus.TierSensitive
}

func (r *RepositoryCrawler) item(target corpus.Target, doc corpus.Document) corpus.RawItem {
	attrs := mergeAttributes(map[string]any{
		AttrPlatform:     target.Attributes[AttrPlatform],
		AttrOrganisation: target.Attributes[AttrOrganisation],
		AttrLanguage:     target.Attributes[AttrLanguage],
		"branch":         "main",
		"tests_present":  false,
	}, doc.Attributes)

	tier := r.defaultTier()
	if visibility, ok := attrs["visibility"].(string); ok {
		switch visibility {
		case "public":
			tier = corpus.TierPublic
		case "private", "internal":
			tier = corpus.TierSensitive
		}
	}
	attrs["security_tier"] = string(tier)

	lang := doc.Language
	if lang == "" {
		lang = "en"
	}
	return corpus.RawItem{
		Locator:      doc.URL,
		Content:      string(doc.Body),
		LanguageHint: lang,
		Attributes:   attrs,
		ObservedAt:   r.deps.now(),
	}
}
