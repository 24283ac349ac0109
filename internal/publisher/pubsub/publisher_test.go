package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

func TestMessage(t *testing.T) {
	t.Parallel()

	release := corpus.Release{
		RunID:         "0190a1b2-0000-7000-8000-000000000000",
		GeneratedAt:   "2024-05-01T12:00:00Z",
		Status:        "partial",
		Manifest:      "manifests/manifest-20240501T120000Z.json",
		Shards:        []string{"web/web-20240501-000001.jsonl"},
		FailedSources: []string{"gitlab"},
	}
	msg, err := Message(release)
	require.NoError(t, err)

	assert.Equal(t, "corpus.release", msg.Attributes["event"])
	assert.Equal(t, release.RunID, msg.Attributes["run_id"])
	assert.Equal(t, "partial", msg.Attributes["status"])

	var decoded corpus.Release
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, release, decoded)
}

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	var p *Publisher
	_, err := p.Publish(context.Background(), corpus.Release{})
	require.Error(t, err)
	require.NoError(t, p.Close())

	_, err = Open(context.Background(), "", "releases")
	require.Error(t, err)
}
