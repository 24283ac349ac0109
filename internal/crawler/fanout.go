package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/policy/ratelimit"
)

// fetcher runs transport fetches with a bounded number of permits and a
// token bucket, handing results back in target order.
type fetcher struct {
	source    string
	transport corpus.Transport
	limiter   *ratelimit.Limiter
	permits   int64
	logger    *zap.Logger
}

type fetchResult struct {
	doc corpus.Document
	err error
}

// each fetches targets and calls yield with every successful document, in
// target order. A permit is held from dispatch until the consumer has taken
// the result, so at most permits documents are in flight or buffered.
//
// It returns false when iteration must stop: yield asked to stop, the
// context ended, or the transport reported the whole source unavailable. In
// the last two cases err is non-nil.
func (f *fetcher) each(ctx context.Context, targets []corpus.Target, yield func(corpus.Target, corpus.Document) bool) (bool, error) {
	if len(targets) == 0 {
		return true, ctx.Err()
	}
	permits := f.permits
	if permits <= 0 {
		permits = 1
	}
	sem := semaphore.NewWeighted(permits)

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan fetchResult, len(targets))
	for i := range results {
		results[i] = make(chan fetchResult, 1)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, target := range targets {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] <- f.fetchOne(ctx, target)
			}()
		}
	}()

	for i, target := range targets {
		var res fetchResult
		select {
		case res = <-results[i]:
			sem.Release(1)
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if res.err != nil {
			if errors.Is(res.err, corpus.ErrSourceUnavailable) {
				return false, fmt.Errorf("%s: %w", f.source, res.err)
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			f.logger.Warn("fetch failed; dropping item",
				zap.String("locator", target.URL),
				zap.Error(res.err),
			)
			continue
		}
		if !yield(target, res.doc) {
			return false, nil
		}
	}
	return true, nil
}

func (f *fetcher) fetchOne(ctx context.Context, target corpus.Target) fetchResult {
	metrics.IncFetchesInFlight()
	defer metrics.DecFetchesInFlight()

	if err := f.limiter.Wait(ctx, target.URL); err != nil {
		return fetchResult{err: err}
	}
	doc, err := f.transport.Fetch(ctx, target)
	metrics.ObserveFetch(f.source, target.URL, err)
	if err != nil {
		return fetchResult{err: err}
	}
	if doc.URL == "" {
		doc.URL = target.URL
	}
	return fetchResult{doc: doc}
}
