// Package pubsub announces releases on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// topic is the subset of *pubsub.Topic the publisher needs.
type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// Publisher sends one message per release.
type Publisher struct {
	topic  topic
	client *pubsub.Client
}

// New wraps an existing topic handle.
func New(t *pubsub.Topic) *Publisher {
	return &Publisher{topic: t}
}

// Open connects to projectID and resolves topicID. Close flushes pending
// messages and releases the client.
func Open(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub publisher: project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{topic: client.Topic(topicID), client: client}, nil
}

// Message renders a release as a Pub/Sub message.
func Message(release corpus.Release) (*pubsub.Message, error) {
	data, err := json.Marshal(release)
	if err != nil {
		return nil, fmt.Errorf("marshal release: %w", err)
	}
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":  "corpus.release",
			"run_id": release.RunID,
			"status": string(release.Status),
		},
	}, nil
}

// Publish sends the release and waits for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, release corpus.Release) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	msg, err := Message(release)
	if err != nil {
		return "", err
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish release %s: %w", release.RunID, err)
	}
	return id, nil
}

// Close stops the topic and closes the client when Open created it.
func (p *Publisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
