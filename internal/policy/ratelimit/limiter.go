// Package ratelimit implements token bucket rate limiting for crawl sources.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
)

// Limiter hands out tokens for one source. Every caller shares the source
// bucket. With PerHost, a caller additionally waits on the bucket of its URL
// host. Waiting never drops a request, it only suspends the caller.
type Limiter struct {
	source string
	shared *rate.Limiter

	hostLimit rate.Limit
	hostBurst int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// Option tweaks a Limiter.
type Option func(*Limiter)

// PerHost layers a bucket per URL host under the source bucket. A zero
// RateLimit leaves hosts unbounded.
func PerHost(rl config.RateLimit) Option {
	return func(l *Limiter) {
		l.hostLimit, l.hostBurst = bucketParams(rl)
	}
}

// New creates a Limiter that refills rl.Requests tokens every rl.Per with a
// burst of rl.Requests. A zero RateLimit disables the source bucket.
func New(source string, rl config.RateLimit, opts ...Option) *Limiter {
	limit, burst := bucketParams(rl)
	l := &Limiter{
		source:    source,
		shared:    rate.NewLimiter(limit, burst),
		hostLimit: rate.Inf,
		hostBurst: 1,
		hosts:     make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func bucketParams(rl config.RateLimit) (rate.Limit, int) {
	if rl.Requests <= 0 || rl.Per <= 0 {
		return rate.Inf, 1
	}
	return rate.Every(rl.Per / time.Duration(rl.Requests)), rl.Requests
}

// Unlimited returns a Limiter that never waits.
func Unlimited(source string) *Limiter {
	return New(source, config.RateLimit{})
}

// Wait blocks until a token is available for locator, respecting the context.
func (l *Limiter) Wait(ctx context.Context, locator string) error {
	start := time.Now()
	if l.shared.Limit() != rate.Inf {
		if err := l.shared.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if l.hostLimit != rate.Inf {
		if err := l.host(hostKey(locator)).Wait(ctx); err != nil {
			return fmt.Errorf("host rate limit wait: %w", err)
		}
	}
	// Only waits that actually suspended the caller are interesting.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.source, d)
	}
	return nil
}

func (l *Limiter) host(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.hosts[key]
	if !exists {
		limiter = rate.NewLimiter(l.hostLimit, l.hostBurst)
		l.hosts[key] = limiter
	}
	return limiter
}

func hostKey(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
