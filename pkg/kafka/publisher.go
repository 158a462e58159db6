package kafkautils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Publisher sends a JSON event to a named channel.
type Publisher interface {
	Notify(ctx context.Context, channel string, payload any) error
}

// producer is satisfied by *kafka.Producer.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

type EventPublisherConfig struct {
	Logger            *zap.Logger
	Brokers           string
	Partitions        int
	ReplicationFactor int
	DeclareTimeout    time.Duration // upper bound on retrying a topic declaration
}

// EventPublisher produces events to Kafka. Each topic is declared once per process before its
// first event. Notify does not wait for the broker's delivery report.
type EventPublisher struct {
	logger   *zap.Logger
	producer producer
	declare  func(ctx context.Context, topic string) error
	declared sync.Map // topic -> struct{}
	closers  []func()
}

func NewEventPublisher(cfg EventPublisherConfig) (*EventPublisher, error) {
	prod, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	admin, err := kafka.NewAdminClientFromProducer(prod)
	if err != nil {
		prod.Close()
		return nil, fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	if cfg.DeclareTimeout <= 0 {
		cfg.DeclareTimeout = 30 * time.Second
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}

	declare := func(ctx context.Context, topic string) error {
		return declareTopics(cfg.Logger, ctx, admin, cfg.DeclareTimeout, TopicConfig{
			Topic:             topic,
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
	}
	p := newEventPublisher(prod, declare, cfg.Logger)
	p.closers = append(p.closers, admin.Close)
	return p, nil
}

func newEventPublisher(prod producer, declare func(ctx context.Context, topic string) error, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{logger: logger, producer: prod, declare: declare}
}

// Declare creates the given topics up front so subscribers can attach before the first event.
func (p *EventPublisher) Declare(ctx context.Context, topics ...string) error {
	for _, topic := range topics {
		if err := p.ensureTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// Notify encodes payload as JSON and hands it to the producer.
func (p *EventPublisher) Notify(ctx context.Context, channel string, payload any) error {
	if err := p.ensureTopic(ctx, channel); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", channel, err)
	}
	topic := channel
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          body,
		Headers:        []kafka.Header{{Key: "content-type", Value: []byte("application/json")}},
	}
	if err := p.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("produce %s event: %w", channel, err)
	}
	return nil
}

func (p *EventPublisher) ensureTopic(ctx context.Context, topic string) error {
	if _, ok := p.declared.Load(topic); ok {
		return nil
	}
	if err := p.declare(ctx, topic); err != nil {
		return fmt.Errorf("declare topic %s: %w", topic, err)
	}
	p.declared.Store(topic, struct{}{})
	return nil
}

// Start drains delivery reports in the background and returns a closer that flushes the producer.
func (p *EventPublisher) Start() func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range p.producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					p.logger.Error("event_delivery_failed",
						zap.Stringp("topic", ev.TopicPartition.Topic),
						zap.Error(ev.TopicPartition.Error))
				}
			case kafka.Error:
				p.logger.Warn("kafka_producer_error", zap.Error(ev))
			}
		}
	}()

	return func() {
		if remaining := p.producer.Flush(5000); remaining > 0 {
			p.logger.Warn("kafka_producer_flush_incomplete", zap.Int("remaining", remaining))
		}
		for _, c := range p.closers {
			c()
		}
		p.producer.Close()
		<-done
		p.logger.Info("kafka_publisher_closed")
	}
}
