// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Config names the project and the topic each notification event is sent to.
type Config struct {
	ProjectID string            `mapstructure:"project_id"`
	Topics    map[string]string `mapstructure:"topics"`
}

// Publisher routes events onto Pub/Sub topics. Events without a mapped topic
// use the event name as the topic ID.
type Publisher struct {
	client *pubsub.Client
	routes map[string]string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New wraps an existing client.
func New(client *pubsub.Client, routes map[string]string) *Publisher {
	return &Publisher{
		client: client,
		routes: routes,
		topics: make(map[string]*pubsub.Topic),
	}
}

// Connect creates a client using Application Default Credentials.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client, cfg.Topics), nil
}

// Publish marshals the payload to JSON and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": event},
	}
	id, err := p.topic(event).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", event, err)
	}
	return id, nil
}

func (p *Publisher) topic(event string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := event
	if mapped, ok := p.routes[event]; ok && mapped != "" {
		name = mapped
	}
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
