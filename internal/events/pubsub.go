package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBus wraps the in-memory Bus and additionally publishes every event
// to a Google Cloud Pub/Sub topic for durable, cross-service delivery.
// In-process subscribers still get the immediate fan-out.
type PubSubBus struct {
	*Bus

	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubBus connects to Pub/Sub, creating the topic when missing.
func NewPubSubBus(projectID, topicID string) (*PubSubBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
	}
	// Per-task ordering downstream mirrors the per-task lock upstream.
	topic.EnableMessageOrdering = true

	b := &PubSubBus{
		Bus:    NewBus(),
		client: client,
		topic:  topic,
		logger: log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}
	b.logger.Printf("✅ connected to Pub/Sub topic projects/%s/topics/%s", projectID, topicID)
	return b, nil
}

// Publish emits locally and publishes durably. Satisfies money.Publisher.
func (b *PubSubBus) Publish(ctx context.Context, topic string, payload map[string]string) {
	e := NewEvent(topic, payload)
	b.Bus.Emit(e)
	b.publishDurable(ctx, e)
}

func (b *PubSubBus) publishDurable(ctx context.Context, e *Event) {
	data, err := e.JSON()
	if err != nil {
		b.logger.Printf("❌ marshal event %s: %v", e.ID, err)
		return
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"topic":    e.Topic,
			"event_id": e.ID,
		},
	}
	if taskID := e.Payload["task_id"]; taskID != "" {
		msg.OrderingKey = taskID
	}

	result := b.topic.Publish(ctx, msg)
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			b.logger.Printf("❌ pubsub publish %s on %s: %v", e.ID, e.Topic, err)
		}
	}()
}

// Close flushes pending publishes and closes the client.
func (b *PubSubBus) Close() error {
	b.topic.Stop()
	return b.client.Close()
}
