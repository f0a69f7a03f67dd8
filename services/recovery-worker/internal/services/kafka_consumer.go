package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	kafkautils "github.com/nimeshabuddhika/parcel-recovery/pkg/kafka"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/views"
	"github.com/nimeshabuddhika/parcel-recovery/services/recovery-worker/configs"
	"github.com/nimeshabuddhika/parcel-recovery/services/recovery-worker/internal/observability"
	"go.uber.org/zap"
)

// DLQ reasons.
const (
	ReasonDecode         = "json_unmarshal_error"
	ReasonValidation     = "validation_error"
	ReasonDuplicateClaim = "duplicate_claim"
	ReasonWorkflow       = "workflow_failed"
)

// BatchProcessor is the orchestrator as seen by the consumer.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, disputes []detection.Dispute) []WorkflowResult
}

// MessageSource is the read side of *kafka.Consumer.
type MessageSource interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
}

// DisputeConsumerConfig holds configuration and dependencies for the dispute consumer.
type DisputeConsumerConfig struct {
	Context   context.Context
	Logger    *zap.Logger
	Config    *configs.Config
	Processor BatchProcessor
	// DLQ receives undecodable messages and failed workflows.
	DLQ kafkautils.Publisher

	// internal initialization
	consumer *kafka.Consumer
	source   MessageSource
	commits  *kafkautils.CommitManager
	validate *validator.Validate
}

// NewDisputeConsumer creates the Kafka consumer with manual offset management.
func NewDisputeConsumer(cfg DisputeConsumerConfig) (*DisputeConsumerConfig, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,
		"group.id":           cfg.Config.KafkaDisputeConsumerGroup,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, err
	}
	cfg.consumer = c
	cfg.source = c
	cfg.commits = kafkautils.NewCommitManager(c, cfg.Logger)
	cfg.validate = validator.New()
	return &cfg, nil
}

// Start subscribes and runs the batch loop in a goroutine. The returned func stops the loop
// and closes the consumer.
func (k *DisputeConsumerConfig) Start() (func(), error) {
	if err := k.consumer.SubscribeTopics([]string{k.Config.KafkaDisputeTopic}, nil); err != nil {
		return nil, err
	}
	k.Logger.Info("listening to kafka topic",
		zap.String("topic", k.Config.KafkaDisputeTopic),
		zap.String("group", k.Config.KafkaDisputeConsumerGroup))

	done := make(chan struct{})
	go func() {
		defer close(done)
		k.run()
	}()

	return func() {
		<-done
		if err := k.consumer.Close(); err != nil {
			k.Logger.Error("failed to close kafka consumer", zap.Error(err))
			return
		}
		k.Logger.Info("kafka consumer closed successfully")
	}, nil
}

func (k *DisputeConsumerConfig) run() {
	failures := 0
	for k.Context.Err() == nil {
		batch, err := k.collect()
		if err != nil {
			failures++
			delay := utils.RetryDelay(failures, k.Config.RetryBaseBackoff, k.Config.MaxRetryBackoff)
			k.Logger.Error("failed to read kafka message", zap.Error(err), zap.Duration("backoff", delay))
			select {
			case <-k.Context.Done():
			case <-time.After(delay):
			}
		} else {
			failures = 0
		}
		if len(batch) > 0 {
			ctx, cancel := k.batchContext()
			k.handleBatch(ctx, batch)
			cancel()
		}
	}
}

// batchContext survives shutdown for ShutdownDrainTimeout so the batch in flight can finish.
// Past that the workflows see cancellation and leave their claims for redelivery.
func (k *DisputeConsumerConfig) batchContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(k.Context))
	stop := context.AfterFunc(k.Context, func() {
		k.Logger.Info("draining in-flight batch", zap.Duration("timeout", k.Config.ShutdownDrainTimeout))
		time.AfterFunc(k.Config.ShutdownDrainTimeout, cancel)
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

// collect gathers up to DisputeBatchSize messages or whatever arrives within DisputeBatchLinger.
func (k *DisputeConsumerConfig) collect() ([]*kafka.Message, error) {
	size := max(k.Config.DisputeBatchSize, 1)
	deadline := time.Now().Add(k.Config.DisputeBatchLinger)
	batch := make([]*kafka.Message, 0, size)

	for len(batch) < size && k.Context.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		msg, err := k.source.ReadMessage(remaining)
		if err != nil {
			var kErr kafka.Error
			if errors.As(err, &kErr) && kErr.IsTimeout() {
				break
			}
			return batch, err
		}
		k.commits.Track(msg)
		observability.MessagesReceived.WithLabelValues(topicOf(msg)).Inc()
		batch = append(batch, msg)
	}
	return batch, nil
}

// handleBatch decodes, runs the valid disputes through the orchestrator and acknowledges the
// messages. Failures go to the DLQ. Interrupted workflows are neither dead-lettered nor acked,
// so their offsets stay uncommitted and the messages are redelivered.
func (k *DisputeConsumerConfig) handleBatch(ctx context.Context, msgs []*kafka.Message) {
	var (
		jobs     []views.DisputeJob
		jobMsgs  []*kafka.Message
		disputes []detection.Dispute
	)
	for _, msg := range msgs {
		var job views.DisputeJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			k.Logger.Error("failed to decode dispute job", zap.Error(err))
			k.deadLetter(ctx, msg, ReasonDecode, err)
			k.commits.Ack(string(msg.Key), msg)
			continue
		}
		if err := k.validate.Struct(&job); err != nil {
			k.Logger.Error("invalid dispute job", zap.String(pkg.IdempotencyKey, job.IdempotencyKey), zap.Error(err))
			k.deadLetter(ctx, msg, ReasonValidation, err)
			k.commits.Ack(job.IdempotencyKey, msg)
			continue
		}
		jobs = append(jobs, job)
		jobMsgs = append(jobMsgs, msg)
		disputes = append(disputes, job.Dispute)
	}
	if len(disputes) == 0 {
		return
	}

	results := k.Processor.ProcessBatch(ctx, disputes)
	for i, res := range results {
		job, msg := jobs[i], jobMsgs[i]
		if res.Interrupted {
			k.Logger.Warn("claim workflow interrupted; leaving message for redelivery",
				zap.String(pkg.IdempotencyKey, job.IdempotencyKey),
				zap.String(pkg.OrderID, res.OrderID))
			continue
		}
		if !res.Success {
			reason := ReasonWorkflow
			if IsDuplicateClaim(res.Err) {
				reason = ReasonDuplicateClaim
			}
			k.Logger.Warn("claim workflow failed; sending to DLQ",
				zap.String(pkg.IdempotencyKey, job.IdempotencyKey),
				zap.String(pkg.OrderID, res.OrderID),
				zap.Strings("steps_completed", res.StepsCompleted),
				zap.String("error", res.Error))
			k.deadLetter(ctx, msg, reason, errors.New(res.Error))
		}
		k.commits.Ack(job.IdempotencyKey, msg)
	}
}

func (k *DisputeConsumerConfig) deadLetter(ctx context.Context, msg *kafka.Message, reason string, cause error) {
	observability.DLQPublished.WithLabelValues(reason).Inc()
	letter := views.DeadLetter{
		Reason:    reason,
		Error:     cause.Error(),
		Key:       string(msg.Key),
		Topic:     topicOf(msg),
		Partition: msg.TopicPartition.Partition,
		Offset:    int64(msg.TopicPartition.Offset),
		Payload:   msg.Value,
		FailedAt:  time.Now().UTC(),
	}
	// the DLQ write must survive shutdown cancellation
	if err := k.DLQ.Publish(context.WithoutCancel(ctx), k.Config.KafkaDLQTopic, string(msg.Key), letter,
		map[string]string{"x-dlq-reason": reason}); err != nil {
		k.Logger.Error("failed to produce to DLQ", zap.String("reason", reason), zap.Error(err))
	}
}

func topicOf(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}
