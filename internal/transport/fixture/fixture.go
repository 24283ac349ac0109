// Package fixture provides a deterministic, offline corpus.Transport that
// serves a small sample corpus. It backs the default transport mode and the
// pipeline tests.
package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// ArticlesPerDomain is the number of article pages linked from each site
// root.
const ArticlesPerDomain = 5

// LexiconRows is the sample vocabulary served for every provider.
var LexiconRows = []map[string]string{
	{"ru": "безопасность", "en": "security", "frequency_bucket": "common"},
	{"ru": "инфраструктура", "en": "infrastructure", "frequency_bucket": "specialised"},
	{"ru": "разведка", "en": "reconnaissance", "frequency_bucket": "specialised"},
}

// Transport serves fixture documents. The zero value is ready to use.
type Transport struct {
	mu          sync.Mutex
	unavailable map[string]struct{}
	failing     map[string]struct{}
	bodies      map[string]string
	calls       int
}

// Option configures a Transport.
type Option func(*Transport)

// WithUnavailableHost makes every fetch against host report the whole
// source as unavailable.
func WithUnavailableHost(host string) Option {
	return func(t *Transport) { t.unavailable[strings.ToLower(host)] = struct{}{} }
}

// WithFailingURL makes fetches of one URL fail as an ordinary item error.
func WithFailingURL(rawURL string) Option {
	return func(t *Transport) { t.failing[rawURL] = struct{}{} }
}

// WithBody overrides the body served for one URL.
func WithBody(rawURL, body string) Option {
	return func(t *Transport) { t.bodies[rawURL] = body }
}

// New builds a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		unavailable: make(map[string]struct{}),
		failing:     make(map[string]struct{}),
		bodies:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Calls returns how many fetches were served.
func (t *Transport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Fetch implements corpus.Transport.
func (t *Transport) Fetch(ctx context.Context, target corpus.Target) (corpus.Document, error) {
	if err := ctx.Err(); err != nil {
		return corpus.Document{}, fmt.Errorf("fixture fetch: %w", err)
	}
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()

	u, err := url.Parse(target.URL)
	if err != nil {
		return corpus.Document{}, fmt.Errorf("fixture fetch: parse %q: %w", target.URL, err)
	}
	if _, down := t.unavailable[strings.ToLower(u.Hostname())]; down {
		return corpus.Document{}, fmt.Errorf("fixture fetch %s: %w", u.Hostname(), corpus.ErrSourceUnavailable)
	}
	if _, fail := t.failing[target.URL]; fail {
		return corpus.Document{}, fmt.Errorf("fixture fetch %s: simulated failure", target.URL)
	}

	var doc corpus.Document
	switch target.Kind {
	case corpus.TargetPage:
		doc, err = page(u)
	case corpus.TargetRepository:
		doc = repository(target)
	case corpus.TargetLexicon:
		doc, err = lexicon(target)
	default:
		err = fmt.Errorf("fixture fetch: unsupported target kind %q", target.Kind)
	}
	if err != nil {
		return corpus.Document{}, err
	}
	if body, ok := t.bodies[target.URL]; ok {
		doc.Body = []byte(body)
	}
	return doc, nil
}

// ArticleBody is the HTML served for article idx of host. Its cleaned text
// clears the default 256 character web floor.
func ArticleBody(host string, idx int) string {
	return fmt.Sprintf("<html><body><h1>Sample content for domain %s index %d.</h1>"+
		"<p>Incident responders rotate credentials, review access logs and patch exposed services "+
		"before attackers can pivot. Teams record every step in the incident timeline. "+
		"Дополнительный текст о мерах безопасности и реагировании на инциденты.</p></body></html>", host, idx)
}

func page(u *url.URL) (corpus.Document, error) {
	host := u.Hostname()
	switch {
	case u.Path == "" || u.Path == "/":
		links := make([]string, 0, ArticlesPerDomain)
		for i := 0; i < ArticlesPerDomain; i++ {
			links = append(links, "/article/"+strconv.Itoa(i))
		}
		return corpus.Document{URL: u.String(), Links: links}, nil
	case strings.HasPrefix(u.Path, "/article/"):
		idx, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/article/"))
		if err != nil || idx < 0 || idx >= ArticlesPerDomain {
			return corpus.Document{}, fmt.Errorf("fixture fetch %s: not found", u)
		}
		lang, license := "en", "CC-BY-4.0"
		if idx%2 == 1 {
			lang, license = "ru", "CC-BY-SA-3.0"
		}
		return corpus.Document{
			URL:      u.String(),
			Body:     []byte(ArticleBody(host, idx)),
			Language: lang,
			// Every article links back to the root and to its neighbour.
			Links: []string{"/", "/article/" + strconv.Itoa((idx+1)%ArticlesPerDomain)},
			Attributes: map[string]any{
				"render_strategy": "requests",
				"language_hint":   lang,
				"license":         license,
			},
		}, nil
	default:
		return corpus.Document{}, fmt.Errorf("fixture fetch %s: not found", u)
	}
}

func repository(target corpus.Target) corpus.Document {
	org := target.Attributes["organisation"]
	lang := target.Attributes["language"]
	return corpus.Document{
		URL:      target.URL,
		Body:     []byte(fmt.Sprintf("print('Hello from %s repo maintained by %s')", lang, org)),
		Language: "en",
		Attributes: map[string]any{
			"branch":  "main",
			"license": "MIT",
		},
	}
}

func lexicon(target corpus.Target) (corpus.Document, error) {
	var b strings.Builder
	for _, row := range LexiconRows {
		line, err := json.Marshal(row)
		if err != nil {
			return corpus.Document{}, fmt.Errorf("fixture lexicon: %w", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return corpus.Document{URL: target.URL, Body: []byte(b.String()), Language: "ru-en"}, nil
}
