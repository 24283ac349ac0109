package corpus

// ReleaseStatus summarizes how many sources made it into a release.
type ReleaseStatus string

// Release statuses.
const (
	ReleaseSuccess ReleaseStatus = "success"
	ReleasePartial ReleaseStatus = "partial"
	ReleaseFailed  ReleaseStatus = "failed"
)

// Release announces a finished run to downstream consumers.
type Release struct {
	RunID       string        `json:"run_id"`
	GeneratedAt string        `json:"generated_at"`
	Status      ReleaseStatus `json:"status"`
	Manifest    string        `json:"manifest"`
	Shards      []string      `json:"shards"`

	// FailedSources lists sources that contributed no records because of an
	// error.
	FailedSources []string `json:"failed_sources,omitempty"`
}
