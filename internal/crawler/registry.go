package crawler

import (
	"fmt"

	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// FromConfig builds one crawler per configured source, in the order of
// cfg.Sources: website, github, gitlab, then each vocabulary provider.
func FromConfig(cfg config.PipelineConfig, deps Deps) ([]Crawler, error) {
	crawlers := []Crawler{NewWebCrawler(cfg.Website, deps)}
	for _, platform := range []struct {
		domain corpus.Domain
		cfg    config.GitConfig
	}{
		{corpus.DomainGitHub, cfg.GitHub},
		{corpus.DomainGitLab, cfg.GitLab},
	} {
		c, err := NewRepositoryCrawler(platform.domain, platform.cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("build %s crawler: %w", platform.domain, err)
		}
		crawlers = append(crawlers, c)
	}
	for _, src := range cfg.Vocabularies {
		crawlers = append(crawlers, NewVocabularyCrawler(src, deps))
	}
	return crawlers, nil
}
