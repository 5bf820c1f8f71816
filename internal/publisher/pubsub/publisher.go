// Package pubsub publishes dataset events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/ecoles-crawler/internal/publisher"
)

// Config names the topic to publish to.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Open creates a client for cfg.ProjectID and checks the topic exists. The
// returned close function stops the topic and closes the client.
func Open(ctx context.Context, cfg Config) (*Publisher, func() error, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.Topic)
	ok, err := topic.Exists(ctx)
	if err != nil || !ok {
		_ = client.Close()
		if err == nil {
			err = fmt.Errorf("topic does not exist")
		}
		return nil, nil, fmt.Errorf("pubsub topic %q: %w", cfg.Topic, err)
	}
	closeFn := func() error {
		topic.Stop()
		return client.Close()
	}
	return New(topic), closeFn, nil
}

// Publish marshals event to JSON and waits for the server to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, event publisher.DatasetReady) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":  publisher.EventDatasetReady,
			"run_id": event.RunID,
			"stage":  event.Stage,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
