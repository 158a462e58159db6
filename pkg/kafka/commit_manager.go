package kafkautils

import (
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"go.uber.org/zap"
)

type tp struct {
	topic     string
	partition int32
}

// offsetCommitter is satisfied by *kafka.Consumer.
type offsetCommitter interface {
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
}

// CommitManager commits only the contiguous prefix of acknowledged offsets per partition,
// so a message that was read but never acknowledged is redelivered after a restart or rebalance.
type CommitManager struct {
	mu        sync.Mutex
	inflight  map[tp][]int64            // offsets read and not yet committed, in read order
	done      map[tp]map[int64]struct{} // acknowledged offsets not yet committed
	committer offsetCommitter
	log       *zap.Logger
}

func NewCommitManager(c offsetCommitter, l *zap.Logger) *CommitManager {
	return &CommitManager{
		inflight:  make(map[tp][]int64),
		done:      make(map[tp]map[int64]struct{}),
		committer: c,
		log:       l,
	}
}

// Track registers a message as read. It must be called in read order, before the message is handed off.
func (m *CommitManager) Track(msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := keyOf(msg)
	m.inflight[key] = append(m.inflight[key], int64(msg.TopicPartition.Offset))
}

// Ack marks a tracked message as processed and commits every offset up to the first gap.
func (m *CommitManager) Ack(idempotencyKey string, msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(msg)
	off := int64(msg.TopicPartition.Offset)
	queue := m.inflight[key]
	if !tracked(queue, off) {
		// partition revoked while the message was being handled; its new owner redelivers it
		m.log.Debug("ack_for_untracked_offset_ignored",
			zap.String(pkg.IdempotencyKey, idempotencyKey),
			zap.String("topic", key.topic),
			zap.Int32("partition", key.partition),
			zap.Int64("offset", off))
		return
	}
	if m.done[key] == nil {
		m.done[key] = map[int64]struct{}{}
	}
	m.done[key][off] = struct{}{}

	committable := int64(-1)
	n := 0
	for n < len(queue) {
		if _, ok := m.done[key][queue[n]]; !ok {
			break
		}
		committable = queue[n]
		delete(m.done[key], queue[n])
		n++
	}
	if n == 0 {
		return
	}
	if n == len(queue) {
		delete(m.inflight, key)
		delete(m.done, key)
	} else {
		m.inflight[key] = queue[n:]
	}

	// Kafka commits the next offset to read.
	tpToCommit := kafka.TopicPartition{Topic: &key.topic, Partition: key.partition, Offset: kafka.Offset(committable + 1)}
	if _, err := m.committer.CommitOffsets([]kafka.TopicPartition{tpToCommit}); err != nil {
		// a later ack commits past this offset; until then a restart redelivers it
		m.log.Error("offset_commit_failed",
			zap.String(pkg.IdempotencyKey, idempotencyKey),
			zap.String("topic", key.topic),
			zap.Int32("partition", key.partition),
			zap.Int64("attempted_offset", committable), zap.Error(err))
		return
	}
	m.log.Debug("offset_committed",
		zap.String(pkg.IdempotencyKey, idempotencyKey),
		zap.String("topic", key.topic),
		zap.Int32("partition", key.partition),
		zap.Int64("offset", committable))
}

// Revoke forgets uncommitted state of partitions this consumer no longer owns.
func (m *CommitManager) Revoke(partitions []kafka.TopicPartition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range partitions {
		if p.Topic == nil {
			continue
		}
		key := tp{topic: *p.Topic, partition: p.Partition}
		delete(m.inflight, key)
		delete(m.done, key)
	}
}

// Pending reports how many tracked messages of a partition are not yet committed.
func (m *CommitManager) Pending(topic string, partition int32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight[tp{topic: topic, partition: partition}])
}

func tracked(queue []int64, off int64) bool {
	for _, o := range queue {
		if o == off {
			return true
		}
	}
	return false
}

func keyOf(msg *kafka.Message) tp {
	var topic string
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}
	return tp{topic: topic, partition: msg.TopicPartition.Partition}
}
