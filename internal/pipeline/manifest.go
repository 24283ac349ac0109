package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// ManifestTimeLayout is used for generated_at.
const ManifestTimeLayout = time.RFC3339

// ShardEntry describes one shard as found on disk.
type ShardEntry struct {
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
	Records int    `json:"records"`
	SHA256  string `json:"sha256"`
}

// Manifest is the run-level index of a release.
type Manifest struct {
	RunID       string                            `json:"run_id"`
	GeneratedAt string                            `json:"generated_at"`
	Shards      []ShardEntry                      `json:"shards"`
	Config      map[string]string                 `json:"config"`
	Rejections  map[corpus.Domain]RejectionCounts `json:"rejections"`
	// FailedSources maps each failed source to its error text.
	FailedSources map[string]string `json:"failed_sources,omitempty"`
}

// BuildManifest re-reads every shard in shardPaths to measure it, then
// writes manifests/manifest-<UTC timestamp>.json under the release root.
// It returns the manifest path.
func (o *Orchestrator) BuildManifest(results Results, shardPaths []string) (string, error) {
	now := o.clock.Now().UTC()
	m := Manifest{
		RunID:       results.RunID.String(),
		GeneratedAt: now.Format(ManifestTimeLayout),
		Shards:      make([]ShardEntry, 0, len(shardPaths)),
		Config:      o.cfg.ExportEnv(),
		Rejections:  results.Report.Rejections(),
	}
	if failures := results.Report.Failures(); len(failures) > 0 {
		m.FailedSources = failures
	}
	for _, path := range shardPaths {
		entry, err := o.measureShard(path)
		if err != nil {
			return "", fmt.Errorf("build manifest: %w", err)
		}
		m.Shards = append(m.Shards, entry)
	}
	sort.SliceStable(m.Shards, func(i, j int) bool { return m.Shards[i].Path < m.Shards[j].Path })

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("build manifest: encode: %w", err)
	}
	dir := filepath.Join(o.cfg.Storage.ReleaseRoot, "manifests")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("build manifest: %w", err)
	}
	path := filepath.Join(dir, "manifest-"+now.Format("20060102T150405Z")+".json")
	err = writeAtomic(path, func(w *bufio.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("build manifest: %w", err)
	}
	return path, nil
}

// measureShard reads path back from disk; in-memory counts are never used.
func (o *Orchestrator) measureShard(path string) (ShardEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ShardEntry{}, fmt.Errorf("read shard %s: %w", path, err)
	}
	digest, err := o.hasher.Hash(data)
	if err != nil {
		return ShardEntry{}, fmt.Errorf("hash shard %s: %w", path, err)
	}
	lines := bytes.Count(data, []byte{'\n'})
	if len(data) > 0 && data[len(data)-1] != '\n' {
		lines++
	}
	return ShardEntry{
		Path:    o.relative(path),
		Bytes:   int64(len(data)),
		Records: lines,
		SHA256:  digest,
	}, nil
}

// ReadManifest decodes a manifest file.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, nil
}
