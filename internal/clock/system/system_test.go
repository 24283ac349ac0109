package system

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowIsUTCAndCurrent(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.WithinDuration(t, before.Add(time.Second), got, 2*time.Second)
}

func TestFixedClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	clk := NewFixed(start)
	require.True(t, clk.Now().Equal(start))
	assert.Equal(t, time.UTC, clk.Now().Location())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clk.Advance(time.Minute)
		}()
	}
	wg.Wait()
	assert.True(t, clk.Now().Equal(start.Add(10*time.Minute)))
}
