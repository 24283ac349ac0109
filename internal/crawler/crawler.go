// Package crawler turns configured sources into lazy sequences of raw items.
// Each variant enumerates its own targets and delegates the actual I/O to a
// corpus.Transport.
package crawler

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/clock/system"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
)

// Crawler produces raw items for one source.
//
// Produce returns a finite, single-pass sequence. Items come in target
// order. Per-item transport failures are logged and dropped; a failure that
// prevents enumerating the source ends the sequence with a non-nil error.
// Resources are released on every exit path, including an early break by
// the consumer.
type Crawler interface {
	// Source is the identifier reported for this crawler ("website",
	// "github", "gitlab", "vocabulary:<provider>").
	Source() string
	Domain() corpus.Domain
	Produce(ctx context.Context) iter.Seq2[corpus.RawItem, error]
}

// Deps are the collaborators every crawler variant needs.
type Deps struct {
	Transport corpus.Transport
	Clock     corpus.Clock
	Logger    *zap.Logger
}

func (d Deps) withDefaults(name string) Deps {
	if d.Clock == nil {
		d.Clock = system.New()
	}
	d.Logger = logging.OrNop(d.Logger).Named(name)
	return d
}

func (d Deps) now() time.Time {
	return d.Clock.Now()
}

// yieldErr ends a sequence with err.
func yieldErr(yield func(corpus.RawItem, error) bool, err error) {
	yield(corpus.RawItem{}, err)
}

func mergeAttributes(base map[string]any, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
