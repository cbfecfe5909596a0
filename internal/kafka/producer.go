// Package kafka publishes detection loop events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"

	"pirwatch/internal/history"
	"pirwatch/internal/pipeline"
)

// EventPayload is the JSON value of each message.
type EventPayload struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message,omitempty"`
	Record    *history.Record `json:"record,omitempty"`
}

type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer connects a synchronous producer that waits for all replicas.
func NewProducer(brokers []string, topic, clientID string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	if clientID != "" {
		config.ClientID = clientID
	}

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewProducerFrom(producer, topic), nil
}

// NewProducerFrom wraps an existing producer.
func NewProducerFrom(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// Publish sends one event keyed by its type.
func (p *Producer) Publish(ev pipeline.Event) error {
	payload, err := json.Marshal(EventPayload{
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Message:   ev.Message,
		Record:    ev.Record,
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Type),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send %s event: %w", ev.Type, err)
	}
	return nil
}

// Run publishes events from ch until ctx is done or ch is closed.
// Per-iteration status events are not forwarded.
func (p *Producer) Run(ctx context.Context, ch <-chan pipeline.Event) {
	log.Printf("[Kafka] Publishing events to topic %s", p.topic)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == pipeline.EventStatus {
				continue
			}
			if err := p.Publish(ev); err != nil {
				log.Printf("[Kafka] %v", err)
			}
		}
	}
}
