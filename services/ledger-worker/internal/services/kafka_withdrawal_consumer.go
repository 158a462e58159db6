package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	kafkautils "github.com/nimeshabuddhika/custodial-ledger/pkg/kafka"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/utils"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/configs"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/internal/observability"
	"go.uber.org/zap"
)

const pollTimeout = 500 * time.Millisecond

// WithdrawalConsumer feeds the withdrawal_creation topic into the intake.
type WithdrawalConsumer interface {
	Start() func()
}

// messageReader is the subset of *kafka.Consumer the worker loop needs.
type messageReader interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Close() error
}

// KafkaWithdrawalConfig holds configuration and dependencies for the withdrawal consumer.
type KafkaWithdrawalConfig struct {
	Context context.Context
	Logger  *zap.Logger
	Config  *configs.Config
	Intake  WithdrawalIntake

	// internal initialization
	consumer messageReader
	commits  *kafkautils.CommitManager
	sem      chan struct{} // Semaphore to limit concurrent withdrawal processing
	inflight sync.WaitGroup
}

// NewKafkaWithdrawalConsumer creates a manual-commit consumer in the configured group.
func NewKafkaWithdrawalConsumer(cfg KafkaWithdrawalConfig) (WithdrawalConsumer, error) {
	kafkaConsumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,
		"group.id":           cfg.Config.KafkaConsumerGroup,
		"auto.offset.reset":  "earliest", // Start reading from the earliest offset if no prior offset
		"enable.auto.commit": false,      // Offsets are committed by the CommitManager only
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka withdrawal consumer: %w", err)
	}
	return newKafkaWithdrawalConsumer(cfg, kafkaConsumer), nil
}

func newKafkaWithdrawalConsumer(cfg KafkaWithdrawalConfig, reader messageReader) *KafkaWithdrawalConfig {
	cfg.consumer = reader
	cfg.commits = kafkautils.NewCommitManager(reader, cfg.Logger)
	cfg.sem = make(chan struct{}, cfg.Config.MaxWithdrawalConcurrentJobs)
	return &cfg
}

// Start subscribes and runs the read loop until Context is cancelled. The returned closer
// waits for the loop and every in-flight message, then closes the consumer.
func (k *KafkaWithdrawalConfig) Start() func() {
	topic := k.Config.KafkaWithdrawalTopic
	if err := k.consumer.SubscribeTopics([]string{topic}, k.onRebalance); err != nil {
		k.Logger.Fatal("failed_to_subscribe_withdrawal_topic", zap.String("topic", topic), zap.Error(err))
	}
	k.Logger.Info("listening_to_kafka_topic",
		zap.String("topic", topic),
		zap.String("group", k.Config.KafkaConsumerGroup))

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		k.readLoop()
	}()

	return func() {
		<-loopDone
		k.inflight.Wait()
		if err := k.consumer.Close(); err != nil {
			k.Logger.Error("failed_to_close_kafka_consumer", zap.Error(err))
			return
		}
		k.Logger.Info("kafka_withdrawal_consumer_closed")
	}
}

func (k *KafkaWithdrawalConfig) readLoop() {
	for {
		if k.Context.Err() != nil {
			return
		}
		msg, err := k.consumer.ReadMessage(pollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			k.Logger.Error("failed_to_read_kafka_message", zap.Error(err))
			continue
		}
		observability.WithdrawalMessagesReceived.WithLabelValues(topicOf(msg)).Inc()

		// Track in read order so the commit manager knows every gap.
		k.commits.Track(msg)
		select {
		case k.sem <- struct{}{}:
		case <-k.Context.Done():
			// left uncommitted; redelivered to whoever owns the partition next
			return
		}
		k.inflight.Add(1)
		observability.WithdrawalsInflight.Inc()
		go func(m *kafka.Message) {
			defer func() {
				observability.WithdrawalsInflight.Dec()
				<-k.sem
				k.inflight.Done()
			}()
			k.processMessage(m)
		}(msg)
	}
}

// processMessage hands one message to the intake and retries it in place until it reaches a
// terminal outcome or the worker shuts down. Only terminal outcomes are acknowledged.
func (k *KafkaWithdrawalConfig) processMessage(msg *kafka.Message) {
	start := time.Now()
	in := WithdrawalMessage{ClientID: headerValue(msg, pkg.HeaderClientId), Body: msg.Value}
	log := k.Logger.With(
		zap.String("topic", topicOf(msg)),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)))

	retry := utils.NewRetryBackOff(k.Config.RetryBaseBackoff, k.Config.MaxRetryBackoff)
	for attempt := 1; ; attempt++ {
		outcome, err := k.Intake.Handle(k.Context, in)
		if outcome.ShouldAck() {
			k.commits.Ack(string(msg.Key), msg)
			observability.WithdrawalProcessLatency.WithLabelValues(topicOf(msg)).Observe(time.Since(start).Seconds())
			return
		}

		delay := retry.NextBackOff()
		log.Warn("withdrawal_retry_scheduled",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		timer := time.NewTimer(delay)
		select {
		case <-k.Context.Done():
			timer.Stop()
			log.Info("withdrawal_left_unacknowledged_on_shutdown")
			return
		case <-timer.C:
		}
	}
}

func (k *KafkaWithdrawalConfig) onRebalance(_ *kafka.Consumer, ev kafka.Event) error {
	switch e := ev.(type) {
	case kafka.AssignedPartitions:
		k.Logger.Info("kafka_partitions_assigned", zap.Int("count", len(e.Partitions)))
	case kafka.RevokedPartitions:
		k.commits.Revoke(e.Partitions)
		k.Logger.Info("kafka_partitions_revoked", zap.Int("count", len(e.Partitions)))
	}
	return nil
}

func headerValue(msg *kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func topicOf(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}
