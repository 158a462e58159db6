package kafkautils

import (
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingCommitter struct {
	commits []kafka.TopicPartition
	err     error
}

func (r *recordingCommitter) CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.commits = append(r.commits, offsets...)
	return offsets, nil
}

func (r *recordingCommitter) lastOffset() kafka.Offset {
	if len(r.commits) == 0 {
		return kafka.OffsetInvalid
	}
	return r.commits[len(r.commits)-1].Offset
}

func message(topic string, partition int32, offset int64) *kafka.Message {
	return &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: partition, Offset: kafka.Offset(offset)}}
}

func TestCommitManager_CommitsFirstOffset(t *testing.T) {
	c := &recordingCommitter{}
	m := NewCommitManager(c, zap.NewNop())

	msg := message("withdrawal_creation", 0, 0)
	m.Track(msg)
	m.Ack("k0", msg)

	assert.Equal(t, kafka.Offset(1), c.lastOffset())
	assert.Equal(t, 0, m.Pending("withdrawal_creation", 0))
}

func TestCommitManager_WaitsForGap(t *testing.T) {
	c := &recordingCommitter{}
	m := NewCommitManager(c, zap.NewNop())

	msgs := []*kafka.Message{
		message("withdrawal_creation", 0, 10),
		message("withdrawal_creation", 0, 11),
		message("withdrawal_creation", 0, 12),
	}
	for _, msg := range msgs {
		m.Track(msg)
	}

	m.Ack("k12", msgs[2])
	m.Ack("k11", msgs[1])
	assert.Empty(t, c.commits, "offset 10 is still in flight")

	m.Ack("k10", msgs[0])
	assert.Equal(t, kafka.Offset(13), c.lastOffset())
	assert.Len(t, c.commits, 1)
}

func TestCommitManager_PartitionsAreIndependent(t *testing.T) {
	c := &recordingCommitter{}
	m := NewCommitManager(c, zap.NewNop())

	p0 := message("withdrawal_creation", 0, 5)
	p1 := message("withdrawal_creation", 1, 7)
	m.Track(p0)
	m.Track(p1)

	m.Ack("k", p1)
	assert.Equal(t, kafka.Offset(8), c.lastOffset())
	assert.Equal(t, int32(1), c.commits[0].Partition)
	assert.Equal(t, 1, m.Pending("withdrawal_creation", 0))
}

func TestCommitManager_FailedCommitIsCoveredByLaterAck(t *testing.T) {
	c := &recordingCommitter{err: errors.New("coordinator not available")}
	m := NewCommitManager(c, zap.NewNop())

	first := message("withdrawal_creation", 0, 1)
	second := message("withdrawal_creation", 0, 2)
	m.Track(first)
	m.Track(second)

	m.Ack("k1", first)
	assert.Empty(t, c.commits)

	c.err = nil
	m.Ack("k2", second)
	assert.Equal(t, kafka.Offset(3), c.lastOffset())
}

func TestCommitManager_Revoke(t *testing.T) {
	c := &recordingCommitter{}
	m := NewCommitManager(c, zap.NewNop())

	topic := "withdrawal_creation"
	m.Track(message(topic, 0, 1))
	m.Track(message(topic, 0, 2))
	m.Revoke([]kafka.TopicPartition{{Topic: &topic, Partition: 0}})

	assert.Equal(t, 0, m.Pending(topic, 0))
	m.Ack("late", message(topic, 0, 2))
	assert.Empty(t, c.commits, "acks for revoked partitions are not committed")
}

func TestCommitManager_LateAckLeavesNoState(t *testing.T) {
	c := &recordingCommitter{}
	m := NewCommitManager(c, zap.NewNop())

	topic := "withdrawal_creation"
	for round := int64(0); round < 3; round++ {
		m.Track(message(topic, 0, round))
		m.Revoke([]kafka.TopicPartition{{Topic: &topic, Partition: 0}})
		m.Ack("late", message(topic, 0, round))
	}
	assert.Empty(t, m.done)
	assert.Empty(t, m.inflight)
	assert.Empty(t, c.commits)

	// fully committed partitions are dropped as well
	msg := message(topic, 1, 4)
	m.Track(msg)
	m.Ack("k4", msg)
	assert.Empty(t, m.done)
	assert.Empty(t, m.inflight)
}
