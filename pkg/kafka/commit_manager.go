package kafkautils

import (
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"go.uber.org/zap"
)

// OffsetCommitter is the part of *kafka.Consumer the commit manager needs.
type OffsetCommitter interface {
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
}

type tp struct {
	topic     string
	partition int32
}

// CommitManager commits an offset only once every earlier offset of the partition has been
// acknowledged, so out-of-order completion inside a batch never skips a message.
type CommitManager struct {
	mu        sync.Mutex
	high      map[tp]int64              // last committed offset per partition
	done      map[tp]map[int64]struct{} // acknowledged offsets not yet committed
	committer OffsetCommitter
	log       *zap.Logger
}

func NewCommitManager(c OffsetCommitter, l *zap.Logger) *CommitManager {
	return &CommitManager{
		high:      make(map[tp]int64),
		done:      make(map[tp]map[int64]struct{}),
		committer: c,
		log:       l,
	}
}

// Track must be called for every fetched message before it is handed off. The first
// message seen on a partition fixes the base the contiguous commit is counted from.
func (m *CommitManager) Track(msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tp{topic: *msg.TopicPartition.Topic, partition: msg.TopicPartition.Partition}
	if _, ok := m.high[key]; !ok {
		m.high[key] = int64(msg.TopicPartition.Offset) - 1
	}
}

// Committed returns the last committed offset for a partition, or -1.
func (m *CommitManager) Committed(topic string, partition int32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off, ok := m.high[tp{topic: topic, partition: partition}]; ok {
		return off
	}
	return -1
}

func (m *CommitManager) Ack(idempotencyKey string, msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tp{topic: *msg.TopicPartition.Topic, partition: msg.TopicPartition.Partition}
	off := int64(msg.TopicPartition.Offset)

	if m.done[key] == nil {
		m.done[key] = map[int64]struct{}{}
	}
	m.done[key][off] = struct{}{}

	next, seen := m.high[key]
	if !seen {
		// untracked partition
		next = off - 1
		m.high[key] = next
	}
	for {
		if _, ok := m.done[key][next+1]; !ok {
			break
		}
		next++
	}
	if next <= m.high[key] {
		return
	}

	commit := kafka.TopicPartition{Topic: &key.topic, Partition: key.partition, Offset: kafka.Offset(next + 1)}
	if _, err := m.committer.CommitOffsets([]kafka.TopicPartition{commit}); err != nil {
		m.log.Error("offset_commit_failed",
			zap.String(pkg.IdempotencyKey, idempotencyKey),
			zap.String("topic", key.topic),
			zap.Int32("partition", key.partition),
			zap.Int64("attempted_offset", next), zap.Error(err))
		return
	}
	for o := m.high[key] + 1; o <= next; o++ {
		delete(m.done[key], o)
	}
	m.high[key] = next
	m.log.Debug("offset_committed",
		zap.String(pkg.IdempotencyKey, idempotencyKey),
		zap.String("topic", key.topic),
		zap.Int32("partition", key.partition),
		zap.Int64("offset", next))
}
