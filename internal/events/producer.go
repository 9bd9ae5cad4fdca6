package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher sends events to a named stream
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Message represents a Kafka message to be sent
type Message struct {
	Key     string
	Value   interface{}
	Headers []kafka.Header
}

// messageWriter is the subset of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles producing messages to Kafka topics
type Producer struct {
	mu        sync.Mutex
	writers   map[string]messageWriter
	newWriter func(topic string) messageWriter
	logger    *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, clientID string, logger *zap.Logger) *Producer {
	return &Producer{
		writers: make(map[string]messageWriter),
		newWriter: func(topic string) messageWriter {
			return &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        topic,
				Balancer:     &kafka.LeastBytes{},
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				RequiredAcks: kafka.RequireOne,
				Async:        false,
				Transport: &kafka.Transport{
					ClientID: clientID,
				},
			}
		},
		logger: logger,
	}
}

// getWriter returns the writer for a topic, creating it on first use
func (p *Producer) getWriter(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, exists := p.writers[topic]; exists {
		return writer
	}

	writer := p.newWriter(topic)
	p.writers[topic] = writer
	return writer
}

// Publish sends a JSON encoded message to a Kafka topic
func (p *Producer) Publish(ctx context.Context, topic string, msg Message) error {
	jsonValue, err := json.Marshal(msg.Value)
	if err != nil {
		p.logger.Error("Failed to marshal message",
			zap.String("topic", topic),
			zap.Error(err))
		return err
	}

	kafkaMsg := kafka.Message{
		Key:     []byte(msg.Key),
		Value:   jsonValue,
		Headers: msg.Headers,
		Time:    time.Now(),
	}

	if err := p.getWriter(topic).WriteMessages(ctx, kafkaMsg); err != nil {
		p.logger.Error("Failed to publish message",
			zap.String("topic", topic),
			zap.String("key", msg.Key),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Message published",
		zap.String("topic", topic),
		zap.String("key", msg.Key))

	return nil
}

// Close closes all Kafka writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			p.logger.Error("Failed to close Kafka writer",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
	return nil
}

// NopPublisher drops every message
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Message) error { return nil }
