// Package memory records release announcements in memory for tests and dry
// runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// Publisher stores published releases for inspection.
type Publisher struct {
	mu       sync.RWMutex
	releases []corpus.Release
	err      error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish call return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the release and returns a pseudo message ID.
func (p *Publisher) Publish(ctx context.Context, release corpus.Release) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish release: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	release.Shards = append([]string(nil), release.Shards...)
	p.releases = append(p.releases, release)
	return fmt.Sprintf("memory-%d", len(p.releases)), nil
}

// Releases returns a copy of the recorded releases.
func (p *Publisher) Releases() []corpus.Release {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]corpus.Release, len(p.releases))
	copy(out, p.releases)
	return out
}
