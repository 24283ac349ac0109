// Package collytransport implements corpus.Transport over HTTP with gocolly.
package collytransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
)

// ErrDisallowed is returned for URLs excluded by robots.txt.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Config controls collector behavior.
type Config struct {
	UserAgent  string
	ObeyRobots bool
	Timeout    time.Duration
	MaxRetries int
}

// Transport fetches pages and lexicon files with a cloned colly collector
// per request.
type Transport struct {
	client        *http.Client
	baseCollector *colly.Collector
	robots        robotsPolicy
	retry         *retryPolicy
	logger        *zap.Logger
}

// New builds a Transport.
func New(cfg Config, logger *zap.Logger) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger = logging.OrNop(logger).Named("transport.http")
	rt := newHTTPTransport()
	client := &http.Client{Transport: rt, Timeout: cfg.Timeout}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(rt)
	// Robots are enforced by robotsPolicy so a disallowed URL is a typed error.
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Clones share the backend, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Transport{
		client:        client,
		baseCollector: c,
		robots:        newRobotsPolicy(cfg.ObeyRobots, cfg.UserAgent, client, logger),
		retry:         newRetryPolicy(cfg.MaxRetries),
		logger:        logger,
	}
}

// Fetch implements corpus.Transport. Retryable failures (timeouts, 429,
// 5xx) are retried with jittered exponential backoff.
func (t *Transport) Fetch(ctx context.Context, target corpus.Target) (corpus.Document, error) {
	if err := ctx.Err(); err != nil {
		return corpus.Document{}, fmt.Errorf("fetch %s: %w", target.URL, err)
	}
	if !t.robots.Allowed(ctx, target.URL) {
		return corpus.Document{}, fmt.Errorf("fetch %s: %w", target.URL, ErrDisallowed)
	}
	for attempt := 0; ; attempt++ {
		doc, status, err := t.fetchOnce(ctx, target)
		if err == nil {
			return doc, nil
		}
		if !t.retry.ShouldRetry(err, status, attempt) {
			return corpus.Document{}, err
		}
		delay := t.retry.Backoff(attempt)
		t.logger.Debug("retrying fetch",
			zap.String("url", target.URL),
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return corpus.Document{}, fmt.Errorf("fetch %s: %w", target.URL, err)
		}
	}
}

func (t *Transport) fetchOnce(ctx context.Context, target corpus.Target) (corpus.Document, int, error) {
	var (
		doc      corpus.Document
		status   int
		fetchErr error
	)
	collector := t.baseCollector.Clone()

	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		doc.URL = r.Request.URL.String()
		doc.Body = append([]byte(nil), r.Body...)
		doc.Attributes = map[string]any{
			"render_strategy": "requests",
			"status_code":     r.StatusCode,
		}
		if ct := r.Headers.Get("Content-Type"); ct != "" {
			doc.Attributes["content_type"] = ct
		}
	})
	collector.OnHTML("html[lang]", func(e *colly.HTMLElement) {
		doc.Language = strings.TrimSpace(e.Attr("lang"))
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if href := strings.TrimSpace(e.Attr("href")); href != "" {
			doc.Links = append(doc.Links, href)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if canceled, err := runCollector(ctx, collector, target.URL); err != nil {
		if canceled {
			// The visit may still be running its callbacks.
			return corpus.Document{}, 0, err
		}
		return corpus.Document{}, status, err
	}
	if fetchErr != nil {
		return corpus.Document{}, status, fmt.Errorf("fetch %s: status %d: %w", target.URL, status, fetchErr)
	}
	if doc.URL == "" {
		doc.URL = target.URL
	}
	return doc, status, nil
}

// runCollector visits url. canceled is true when ctx ended before the visit
// returned.
func runCollector(ctx context.Context, collector *colly.Collector, url string) (canceled bool, err error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return true, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return false, fmt.Errorf("colly visit failed: %w", err)
		}
		return false, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
