// Package githubtransport resolves repository targets against the GitHub
// REST API.
package githubtransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
)

// ErrNoRepository is returned when no repository matches an
// (organisation, language) pair.
var ErrNoRepository = errors.New("github: no matching repository")

const defaultTimeout = 30 * time.Second

// testDirectories are root entries that count as a test suite.
var testDirectories = map[string]struct{}{
	"test":      {},
	"tests":     {},
	"spec":      {},
	"__tests__": {},
	"testdata":  {},
}

// Config controls the GitHub transport.
type Config struct {
	Token string
	// BaseURL overrides the API root, for GitHub Enterprise
	// ("https://ghe.example/api/v3/").
	BaseURL                   string
	IncludeWiki               bool
	IncludeSecurityAdvisories bool
	Timeout                   time.Duration
}

// Transport implements corpus.Transport for repository targets.
type Transport struct {
	gh     *gh.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Transport. An empty token yields an anonymous client.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = cfg.Timeout
	}
	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		client.BaseURL = parsed
	}
	return &Transport{
		gh:     client,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("transport.github"),
	}, nil
}

// Fetch resolves the most-starred repository of the target's organisation
// in the target's language and returns its README.
func (t *Transport) Fetch(ctx context.Context, target corpus.Target) (corpus.Document, error) {
	if target.Kind != corpus.TargetRepository {
		return corpus.Document{}, fmt.Errorf("github transport: unsupported target kind %q", target.Kind)
	}
	org := target.Attributes["organisation"]
	lang := target.Attributes["language"]
	if org == "" || lang == "" {
		return corpus.Document{}, fmt.Errorf("github transport: target %s lacks organisation or language", target.URL)
	}

	repo, err := t.topRepository(ctx, org, lang)
	if err != nil {
		return corpus.Document{}, err
	}
	owner, name := repo.GetOwner().GetLogin(), repo.GetName()

	body, err := t.readme(ctx, owner, name)
	if err != nil {
		return corpus.Document{}, err
	}
	if body == "" {
		body = repo.GetDescription()
	}

	attrs := map[string]any{
		"repository":    repo.GetFullName(),
		"branch":        orDefault(repo.GetDefaultBranch(), "main"),
		"stars":         repo.GetStargazersCount(),
		"visibility":    visibility(repo),
		"tests_present": false,
	}
	if spdx := repo.GetLicense().GetSPDXID(); spdx != "" && spdx != "NOASSERTION" {
		attrs["license"] = spdx
	}

	root, err := t.rootEntries(ctx, owner, name)
	if err != nil {
		return corpus.Document{}, err
	}
	for _, entry := range root {
		if entry.GetType() != "dir" {
			continue
		}
		if _, ok := testDirectories[strings.ToLower(entry.GetName())]; ok {
			attrs["tests_present"] = true
			break
		}
	}
	if t.cfg.IncludeWiki {
		attrs["has_wiki"] = repo.GetHasWiki()
	}
	if t.cfg.IncludeSecurityAdvisories {
		attrs["security_policy"] = hasSecurityPolicy(root)
	}

	return corpus.Document{
		URL:        repo.GetHTMLURL(),
		Body:       []byte(body),
		Attributes: attrs,
	}, nil
}

func (t *Transport) topRepository(ctx context.Context, org, lang string) (*gh.Repository, error) {
	query := fmt.Sprintf("org:%s language:%s", org, strings.ToLower(lang))
	opts := &gh.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: gh.ListOptions{PerPage: 1},
	}
	result, _, err := t.gh.Search.Repositories(ctx, query, opts)
	if err != nil {
		return nil, wrapError(err, "search repositories")
	}
	if len(result.Repositories) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRepository, query)
	}
	return result.Repositories[0], nil
}

// readme returns the decoded README, or "" when the repository has none.
func (t *Transport) readme(ctx context.Context, owner, repo string) (string, error) {
	content, _, err := t.gh.Repositories.GetReadme(ctx, owner, repo, nil)
	if err != nil {
		if isNotFound(err) {
			t.logger.Debug("repository has no readme", zap.String("repository", owner+"/"+repo))
			return "", nil
		}
		return "", wrapError(err, "get readme")
	}
	decoded, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode readme: %w", err)
	}
	return decoded, nil
}

func (t *Transport) rootEntries(ctx context.Context, owner, repo string) ([]*gh.RepositoryContent, error) {
	_, entries, _, err := t.gh.Repositories.GetContents(ctx, owner, repo, "", nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, wrapError(err, "list root")
	}
	return entries, nil
}

func hasSecurityPolicy(root []*gh.RepositoryContent) bool {
	for _, entry := range root {
		if entry.GetType() == "file" && strings.EqualFold(entry.GetName(), "SECURITY.md") {
			return true
		}
	}
	return false
}

func visibility(repo *gh.Repository) string {
	if v := repo.GetVisibility(); v != "" {
		return v
	}
	if repo.GetPrivate() {
		return "private"
	}
	return "public"
}

// wrapError marks authentication and rate-limit failures as making the
// whole source unavailable.
func wrapError(err error, operation string) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%s: %w: %w", operation, corpus.ErrSourceUnavailable, err)
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w: %w", operation, corpus.ErrSourceUnavailable, err)
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", operation, corpus.ErrSourceUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func isNotFound(err error) bool {
	var respErr *gh.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
