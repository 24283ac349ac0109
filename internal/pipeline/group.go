package pipeline

import "github.com/JakeFAU/corpus-crawler/internal/corpus"

// GroupByLanguage buckets records by their language tag, keeping input
// order within each bucket.
func GroupByLanguage(records []corpus.CanonicalRecord) map[string][]corpus.CanonicalRecord {
	out := make(map[string][]corpus.CanonicalRecord)
	for _, rec := range records {
		out[rec.Language] = append(out[rec.Language], rec)
	}
	return out
}
