package kafkautils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const (
	topicBootstrapTimeout = 2 * time.Minute
	adminOperationTimeout = 30 * time.Second
)

type KafkaConfig struct {
	BootstrapServers string
	Topics           []TopicConfig
}

type TopicConfig struct {
	Topic             string
	NumPartitions     int
	ReplicationFactor int
	Config            map[string]string
}

func (t TopicConfig) spec() kafka.TopicSpecification {
	return kafka.TopicSpecification{
		Topic:             t.Topic,
		NumPartitions:     t.NumPartitions,
		ReplicationFactor: t.ReplicationFactor,
		Config:            t.Config,
	}
}

// topicCreator is satisfied by *kafka.AdminClient.
type topicCreator interface {
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
}

// InitKafkaTopics makes sure the inbound topics exist before the consumer subscribes.
// Brokers that are still starting are retried for up to two minutes.
func InitKafkaTopics(logger *zap.Logger, ctx context.Context, cnf KafkaConfig) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": cnf.BootstrapServers})
	if err != nil {
		return fmt.Errorf("kafka admin client: %w", err)
	}
	defer admin.Close()
	return declareTopics(logger, ctx, admin, topicBootstrapTimeout, cnf.Topics...)
}

// declareTopics treats an existing topic as declared. Requests the broker rejects as invalid
// are not retried.
func declareTopics(logger *zap.Logger, ctx context.Context, admin topicCreator, maxElapsed time.Duration, topics ...TopicConfig) error {
	specs := make([]kafka.TopicSpecification, len(topics))
	for i, topic := range topics {
		specs[i] = topic.spec()
	}

	attempt := 0
	declare := func() error {
		attempt++
		results, err := admin.CreateTopics(ctx, specs, kafka.SetAdminOperationTimeout(adminOperationTimeout))
		if err != nil {
			logger.Warn("kafka_topic_declare_retry", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		for _, result := range results {
			switch result.Error.Code() {
			case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
				logger.Info("kafka_topic_declared", zap.String("topic", result.Topic))
			case kafka.ErrInvalidPartitions, kafka.ErrInvalidReplicationFactor, kafka.ErrInvalidConfig, kafka.ErrPolicyViolation:
				return backoff.Permanent(fmt.Errorf("kafka topic %s rejected: %w", result.Topic, result.Error))
			default:
				return fmt.Errorf("kafka topic %s: %w", result.Topic, result.Error)
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	return backoff.Retry(declare, backoff.WithContext(b, ctx))
}
