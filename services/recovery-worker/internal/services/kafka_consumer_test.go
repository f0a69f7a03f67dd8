package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	kafkautils "github.com/nimeshabuddhika/parcel-recovery/pkg/kafka"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/views"
	"github.com/nimeshabuddhika/parcel-recovery/services/recovery-worker/configs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProcessor struct {
	batches     [][]detection.Dispute
	fail        map[string]error
	interrupted map[string]bool
}

func (f *fakeProcessor) ProcessBatch(_ context.Context, disputes []detection.Dispute) []WorkflowResult {
	f.batches = append(f.batches, disputes)
	out := make([]WorkflowResult, len(disputes))
	for i, d := range disputes {
		out[i] = WorkflowResult{OrderID: d.OrderID, Success: true}
		if err, ok := f.fail[d.OrderID]; ok {
			out[i].Success = false
			out[i].Err = err
			out[i].Error = err.Error()
		}
		if f.interrupted[d.OrderID] {
			out[i].Success = false
			out[i].Interrupted = true
			out[i].Err = context.Canceled
			out[i].Error = context.Canceled.Error()
		}
	}
	return out
}

type published struct {
	topic   string
	key     string
	payload any
	headers map[string]string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, payload any, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func (f *fakePublisher) Close() {}

type recordingCommitter struct {
	mu      sync.Mutex
	offsets []int64
}

func (r *recordingCommitter) CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range offsets {
		r.offsets = append(r.offsets, int64(o.Offset))
	}
	return offsets, nil
}

type scriptedSource struct {
	msgs []*kafka.Message
}

func (s *scriptedSource) ReadMessage(time.Duration) (*kafka.Message, error) {
	if len(s.msgs) == 0 {
		return nil, kafka.NewError(kafka.ErrTimedOut, "timed out", false)
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

const disputeTopic = "disputes"

func kafkaMessage(offset int64, key string, value []byte) *kafka.Message {
	topic := disputeTopic
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: kafka.Offset(offset)},
		Key:            []byte(key),
		Value:          value,
	}
}

func jobMessage(t *testing.T, offset int64, key, orderID string) *kafka.Message {
	t.Helper()
	body, err := json.Marshal(views.DisputeJob{
		IdempotencyKey: key,
		Dispute:        sampleDispute(orderID, "dpd"),
		PublishedAt:    fixedNow,
	})
	require.NoError(t, err)
	return kafkaMessage(offset, key, body)
}

func newTestConsumer(processor BatchProcessor, dlq kafkautils.Publisher, committer kafkautils.OffsetCommitter,
	source MessageSource) *DisputeConsumerConfig {
	return &DisputeConsumerConfig{
		Context:   context.Background(),
		Logger:    zap.NewNop(),
		Processor: processor,
		DLQ:       dlq,
		Config: &configs.Config{
			KafkaDisputeTopic:  disputeTopic,
			KafkaDLQTopic:      "disputes.dlq",
			DisputeBatchSize:   10,
			DisputeBatchLinger: 50 * time.Millisecond,
		},
		source:   source,
		commits:  kafkautils.NewCommitManager(committer, zap.NewNop()),
		validate: validator.New(),
	}
}

func TestHandleBatch_RoutesFailuresToDLQAndAcksEverything(t *testing.T) {
	processor := &fakeProcessor{fail: map[string]error{
		"ORD-DUP":  fmt.Errorf("%s: %w", pkg.StepClaimSubmission, pkg.ErrDuplicateClaim),
		"ORD-FAIL": fmt.Errorf("%s: disk full", pkg.StepClaimGeneration),
	}}
	dlq := &fakePublisher{}
	committer := &recordingCommitter{}
	k := newTestConsumer(processor, dlq, committer, nil)

	noKey, err := json.Marshal(views.DisputeJob{Dispute: sampleDispute("ORD-X", "dpd")})
	require.NoError(t, err)
	msgs := []*kafka.Message{
		jobMessage(t, 100, "k-ok", "ORD-OK"),
		kafkaMessage(101, "k-bad", []byte("{not json")),
		jobMessage(t, 102, "k-dup", "ORD-DUP"),
		kafkaMessage(103, "", noKey),
		jobMessage(t, 104, "k-fail", "ORD-FAIL"),
	}
	for _, m := range msgs {
		k.commits.Track(m)
	}

	k.handleBatch(context.Background(), msgs)

	require.Len(t, processor.batches, 1)
	var orders []string
	for _, d := range processor.batches[0] {
		orders = append(orders, d.OrderID)
	}
	assert.Equal(t, []string{"ORD-OK", "ORD-DUP", "ORD-FAIL"}, orders)

	reasons := map[int64]string{}
	for _, m := range dlq.msgs {
		assert.Equal(t, "disputes.dlq", m.topic)
		letter, ok := m.payload.(views.DeadLetter)
		require.True(t, ok)
		assert.Equal(t, letter.Reason, m.headers["x-dlq-reason"])
		reasons[letter.Offset] = letter.Reason
	}
	assert.Equal(t, map[int64]string{
		101: ReasonDecode,
		102: ReasonDuplicateClaim,
		103: ReasonValidation,
		104: ReasonWorkflow,
	}, reasons)

	assert.Equal(t, int64(104), k.commits.Committed(disputeTopic, 0))
	require.NotEmpty(t, committer.offsets)
	assert.Equal(t, int64(105), committer.offsets[len(committer.offsets)-1])
}

func TestHandleBatch_AllInvalidSkipsProcessor(t *testing.T) {
	processor := &fakeProcessor{}
	k := newTestConsumer(processor, &fakePublisher{}, &recordingCommitter{}, nil)
	msg := kafkaMessage(7, "k", []byte("nope"))
	k.commits.Track(msg)

	k.handleBatch(context.Background(), []*kafka.Message{msg})

	assert.Empty(t, processor.batches)
	assert.Equal(t, int64(7), k.commits.Committed(disputeTopic, 0))
}

func TestCollect_StopsOnReadTimeout(t *testing.T) {
	source := &scriptedSource{msgs: []*kafka.Message{
		jobMessage(t, 1, "a", "ORD-A"),
		jobMessage(t, 2, "b", "ORD-B"),
	}}
	k := newTestConsumer(&fakeProcessor{}, &fakePublisher{}, &recordingCommitter{}, source)

	batch, err := k.collect()
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestCollect_RespectsBatchSize(t *testing.T) {
	source := &scriptedSource{}
	for i := range 5 {
		source.msgs = append(source.msgs, jobMessage(t, int64(i), fmt.Sprint(i), fmt.Sprintf("ORD-%d", i)))
	}
	k := newTestConsumer(&fakeProcessor{}, &fakePublisher{}, &recordingCommitter{}, source)
	k.Config.DisputeBatchSize = 3

	batch, err := k.collect()
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	assert.Len(t, source.msgs, 2)
}

func TestHandleBatch_InterruptedWorkflowIsNeitherDeadLetteredNorAcked(t *testing.T) {
	processor := &fakeProcessor{interrupted: map[string]bool{"ORD-INT": true}}
	dlq := &fakePublisher{}
	committer := &recordingCommitter{}
	k := newTestConsumer(processor, dlq, committer, nil)

	msgs := []*kafka.Message{
		jobMessage(t, 10, "k-a", "ORD-A"),
		jobMessage(t, 11, "k-int", "ORD-INT"),
		jobMessage(t, 12, "k-b", "ORD-B"),
	}
	for _, m := range msgs {
		k.commits.Track(m)
	}

	k.handleBatch(context.Background(), msgs)

	assert.Empty(t, dlq.msgs)
	// offset 11 holds the partition back, so 12 is not committed either
	assert.Equal(t, int64(10), k.commits.Committed(disputeTopic, 0))
	assert.Equal(t, []int64{11}, committer.offsets)
}

func TestBatchContext_OutlivesShutdownUntilDrainTimeout(t *testing.T) {
	parent, stop := context.WithCancel(context.Background())
	k := newTestConsumer(&fakeProcessor{}, &fakePublisher{}, &recordingCommitter{}, nil)
	k.Context = parent
	k.Config.ShutdownDrainTimeout = 50 * time.Millisecond

	ctx, cancel := k.batchContext()
	defer cancel()

	stop()
	assert.NoError(t, ctx.Err())
	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("batch context was never canceled after the drain timeout")
	}
}

func TestBatchContext_ReleasedWithoutShutdown(t *testing.T) {
	k := newTestConsumer(&fakeProcessor{}, &fakePublisher{}, &recordingCommitter{}, nil)
	k.Config.ShutdownDrainTimeout = time.Millisecond

	ctx, cancel := k.batchContext()
	assert.NoError(t, ctx.Err())
	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
