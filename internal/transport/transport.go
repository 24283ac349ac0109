// Package transport selects the corpus.Transport a run fetches through.
package transport

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
	collytransport "github.com/JakeFAU/corpus-crawler/internal/transport/colly"
	"github.com/JakeFAU/corpus-crawler/internal/transport/fixture"
	githubtransport "github.com/JakeFAU/corpus-crawler/internal/transport/github"
)

// ErrNoRoute is returned for targets no configured transport serves.
var ErrNoRoute = errors.New("transport: no route for target")

// Router dispatches targets by kind, and repository targets by platform.
type Router struct {
	pages        corpus.Transport
	lexicons     corpus.Transport
	repositories map[string]corpus.Transport
}

// Fetch implements corpus.Transport.
func (r *Router) Fetch(ctx context.Context, target corpus.Target) (corpus.Document, error) {
	var next corpus.Transport
	switch target.Kind {
	case corpus.TargetPage:
		next = r.pages
	case corpus.TargetLexicon:
		next = r.lexicons
	case corpus.TargetRepository:
		next = r.repositories[target.Attributes["platform"]]
	}
	if next == nil {
		return corpus.Document{}, fmt.Errorf("%w: %s %s", ErrNoRoute, target.Kind, target.URL)
	}
	return next.Fetch(ctx, target)
}

// New builds the transport for cfg. Fixture mode serves the offline sample
// corpus for every source. HTTP mode fetches pages and lexicons with colly
// and GitHub repositories through the REST API; GitLab has no API client
// here and keeps the fixture playbooks.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (corpus.Transport, error) {
	logger = logging.OrNop(logger)
	offline := fixture.New()
	switch cfg.Transport.Mode {
	case "", config.TransportFixture:
		return offline, nil
	case config.TransportHTTP:
	default:
		return nil, fmt.Errorf("%w: transport.mode %q", config.ErrInvalid, cfg.Transport.Mode)
	}

	web := collytransport.New(collytransport.Config{
		UserAgent:  cfg.Pipeline.Website.UserAgent,
		ObeyRobots: cfg.Pipeline.Website.ObeyRobotsTxt,
		Timeout:    cfg.Transport.Timeout(),
		MaxRetries: cfg.Transport.MaxRetries,
	}, logger)

	gh, err := githubtransport.New(ctx, githubtransport.Config{
		Token:                     cfg.Pipeline.GitHub.Token(),
		BaseURL:                   cfg.Pipeline.GitHub.BaseURL,
		IncludeWiki:               cfg.Pipeline.GitHub.IncludeWiki,
		IncludeSecurityAdvisories: cfg.Pipeline.GitHub.IncludeSecurityAdvisories,
		Timeout:                   cfg.Transport.Timeout(),
	}, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Pipeline.GitLab.Organisations) > 0 {
		logger.Warn("gitlab source uses fixture playbooks in http mode")
	}

	return &Router{
		pages:    web,
		lexicons: web,
		repositories: map[string]corpus.Transport{
			string(corpus.DomainGitHub): gh,
			string(corpus.DomainGitLab): offline,
		},
	}, nil
}
