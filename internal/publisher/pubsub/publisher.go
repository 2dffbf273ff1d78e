// Package pubsub implements a Google Cloud Pub/Sub publisher for terminal
// project notifications.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher wraps a Pub/Sub client and publishes to named topics.
type Publisher struct {
	client *pubsub.Client
}

// New creates a Publisher over the provided client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client}
}

// Connect dials Pub/Sub for the given GCP project.
func Connect(ctx context.Context, projectID string) (*Publisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client}, nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Publish marshals the payload to JSON and publishes it to the topic,
// blocking until the server assigns a message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := p.client.Topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
