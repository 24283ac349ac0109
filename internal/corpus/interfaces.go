package corpus

import (
	"context"
	"io"
	"time"
)

// Transport fetches one Target. Retry, backoff, robots compliance, and auth
// are the transport's concern; a returned error means the item never
// arrives. Implementations return ErrSourceUnavailable (wrapped) when the
// whole source is unreachable rather than a single item.
type Transport interface {
	Fetch(ctx context.Context, target Target) (Document, error)
}

// Hasher computes digests for identity and integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Score is the structured output of a Classifier. Empty fields mean the
// classifier has no opinion.
type Score struct {
	License  string
	Language string
	Quality  map[string]any
}

// Classifier is a pluggable, side-effect-free scoring function consulted by
// the normalizer (license detection, language detection, domain quality).
type Classifier interface {
	Name() string
	Classify(text string, prov Provenance) Score
}

// BlobStore mirrors release files to durable storage. PutObject returns the
// URI of the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces a finished release and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, release Release) (string, error)
}
