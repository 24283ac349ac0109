package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type shardCounter struct {
	shards  int
	records int
}

func (s *shardCounter) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StageShardWritten {
			s.shards++
			s.records += evt.Records
		}
	}
	return nil
}

func (s *shardCounter) Close(context.Context) error { return nil }

// ExampleHub_Emit shows a sink tallying shard events; Close flushes.
func ExampleHub_Emit() {
	sink := &shardCounter{}
	hub := NewHub(Config{MaxBatchEvents: 8, MaxBatchWait: time.Second}, sink)

	runID := uuid.MustParse("00000000-0000-7000-8000-000000000001")
	for i, n := range []int{10, 4} {
		hub.Emit(Event{
			RunID:   runID,
			TS:      time.Unix(0, 0),
			Stage:   StageShardWritten,
			Domain:  "web",
			Shard:   fmt.Sprintf("web/web-19700101-%06d.jsonl", i+1),
			Records: n,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("shards=%d records=%d\n", sink.shards, sink.records)
	// Output:
	// shards=2 records=14
}
