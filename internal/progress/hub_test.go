package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageRunDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesPartialBatchAfterWait(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.Batches(), 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent(StageRunDone))
	require.Len(t, sink.Batches(), 1, "events after close are ignored")
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageRunStart, TS: time.Now()})
	hub.Emit(Event{RunID: uuid.New(), TS: time.Now(), Stage: StageSourceDone})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubEmitDoesNotBlockWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.NotZero(t, hub.lastDropLog.Load(), "first drop is logged")
}

func TestHubSinkErrorsDoNotStopDelivery(t *testing.T) {
	t.Parallel()

	good := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, failingSink{}, good)
	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, good.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{"run start", Event{RunID: id, TS: now, Stage: StageRunStart}, false},
		{"source done", Event{RunID: id, TS: now, Stage: StageSourceDone, Source: "github"}, false},
		{"source without name", Event{RunID: id, TS: now, Stage: StageSourceError}, true},
		{"shard", Event{RunID: id, TS: now, Stage: StageShardWritten, Shard: "web/web-20240501-000001.jsonl"}, false},
		{"shard without path", Event{RunID: id, TS: now, Stage: StageShardWritten}, true},
		{"missing id", Event{TS: now, Stage: StageRunStart}, true},
		{"missing ts", Event{RunID: id, Stage: StageRunStart}, true},
		{"unknown stage", Event{RunID: id, TS: now, Stage: "NOPE"}, true},
		{"negative dur", Event{RunID: id, TS: now, Stage: StageRunDone, Dur: -time.Second}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type failingSink struct{}

func (failingSink) Consume(context.Context, []Event) error { return errors.New("sink down") }
func (failingSink) Close(context.Context) error            { return nil }

func sampleEvent(stage Stage) Event {
	return Event{RunID: uuid.New(), TS: time.Now(), Stage: stage}
}
