package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types published on the market topic
const (
	OrderCreated  = "order.created"
	OrderUpdated  = "order.updated"
	OrderDeleted  = "order.deleted"
	TradeCreated  = "trade.created"
	WindowUpdated = "window.updated"
)

// Event is one change to market state. Payload is the record after the
// change, or nil for deletions.
type Event struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OwnerID string      `json:"owner_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// New stamps an event with the current UTC time
func New(eventType, id, ownerID string, payload interface{}) Event {
	return Event{
		Type:    eventType,
		ID:      id,
		OwnerID: ownerID,
		Payload: payload,
		At:      time.Now().UTC(),
	}
}

// Publisher delivers market events to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// KafkaPublisher writes events to a single topic keyed by record id, so
// every change to one record lands on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Async:                  false,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.ID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(e.Type)},
			},
			Time: e.At,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish events: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
