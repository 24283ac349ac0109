package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/progress"
)

// domainOrder fixes the export order so shard lists are deterministic.
var domainOrder = []corpus.Domain{
	corpus.DomainWeb,
	corpus.DomainGitHub,
	corpus.DomainGitLab,
	corpus.DomainVocabulary,
}

// ShardName is the file name of shard index (1-based) for domain on day.
func ShardName(domain corpus.Domain, day time.Time, index int) string {
	return fmt.Sprintf("%s-%s-%06d.jsonl", domain, day.UTC().Format("20060102"), index)
}

// Export writes one JSONL shard per non-empty domain under the release root
// and returns the shard paths. With ShardMaxRecords > 0 a domain rolls over
// to the next shard index once a shard holds that many records. Same-day
// shards of a written domain beyond the new shard count are removed.
func (o *Orchestrator) Export(results Results) ([]string, error) {
	day := o.clock.Now()
	var paths []string
	for _, domain := range domainOrder {
		records := results.Records[domain]
		if len(records) == 0 {
			continue
		}
		dir := filepath.Join(o.cfg.Storage.ReleaseRoot, string(domain))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, fmt.Errorf("export %s: %w", domain, err)
		}
		chunks := chunkRecords(records, o.cfg.ShardMaxRecords)
		for i, chunk := range chunks {
			path := filepath.Join(dir, ShardName(domain, day, i+1))
			written, err := writeShard(path, chunk)
			if err != nil {
				return paths, fmt.Errorf("export %s: %w", domain, err)
			}
			paths = append(paths, path)
			metrics.ObserveShard(string(domain), written)
			o.progress.Emit(progress.Event{
				RunID:   results.RunID,
				TS:      o.clock.Now(),
				Stage:   progress.StageShardWritten,
				Domain:  string(domain),
				Shard:   o.relative(path),
				Records: len(chunk),
				Bytes:   written,
			})
			o.logger.Info("shard written",
				zap.String("path", path),
				zap.Int("records", len(chunk)),
				zap.Int64("bytes", written),
			)
		}
		if err := o.pruneShards(dir, domain, day, len(chunks)); err != nil {
			return paths, fmt.Errorf("export %s: %w", domain, err)
		}
	}
	return paths, nil
}

// pruneShards removes shards of domain on day whose index exceeds keep.
func (o *Orchestrator) pruneShards(dir string, domain corpus.Domain, day time.Time, keep int) error {
	prefix := strings.TrimSuffix(ShardName(domain, day, 0), "000000.jsonl")
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.jsonl"))
	if err != nil {
		return fmt.Errorf("list shards: %w", err)
	}
	for _, path := range matches {
		digits := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), prefix), ".jsonl")
		index, err := strconv.Atoi(digits)
		if err != nil || len(digits) != 6 || index <= keep {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove stale shard: %w", err)
		}
		o.logger.Info("stale shard removed", zap.String("path", path))
	}
	return nil
}

func chunkRecords(records []corpus.CanonicalRecord, size int) [][]corpus.CanonicalRecord {
	if size <= 0 || len(records) <= size {
		return [][]corpus.CanonicalRecord{records}
	}
	var out [][]corpus.CanonicalRecord
	for start := 0; start < len(records); start += size {
		out = append(out, records[start:min(start+size, len(records))])
	}
	return out
}

// writeShard writes records to a temp file next to path and renames it into
// place, so readers never observe a partial shard.
func writeShard(path string, records []corpus.CanonicalRecord) (int64, error) {
	var written int64
	err := writeAtomic(path, func(w *bufio.Writer) error {
		for _, rec := range records {
			line, err := rec.MarshalLine()
			if err != nil {
				return err
			}
			n, err := w.Write(append(line, '\n'))
			written += int64(n)
			if err != nil {
				return fmt.Errorf("write %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	return written, err
}

func writeAtomic(path string, fill func(*bufio.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = fill(w); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// relative returns path relative to the release root with forward slashes.
func (o *Orchestrator) relative(path string) string {
	rel, err := filepath.Rel(o.cfg.Storage.ReleaseRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
