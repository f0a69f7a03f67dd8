package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	kafkautils "github.com/nimeshabuddhika/parcel-recovery/pkg/kafka"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/views"
	"go.uber.org/zap"
)

// DisputePublisher hands detected disputes to the recovery worker.
type DisputePublisher interface {
	PublishDisputes(ctx context.Context, traceID string, disputes []detection.Dispute) (int, error)
}

type KafkaDisputePublisher struct {
	logger    *zap.Logger
	publisher kafkautils.Publisher
	topic     string
	now       func() time.Time
}

func NewKafkaDisputePublisher(logger *zap.Logger, publisher kafkautils.Publisher, topic string) *KafkaDisputePublisher {
	return &KafkaDisputePublisher{logger: logger, publisher: publisher, topic: topic, now: time.Now}
}

// PublishDisputes publishes every disputed result keyed by order id and returns how many went
// out. Results without a dispute are ignored. The first publish error stops the run.
func (p *KafkaDisputePublisher) PublishDisputes(ctx context.Context, traceID string, disputes []detection.Dispute) (int, error) {
	sent := 0
	for _, d := range disputes {
		if !d.HasDispute {
			continue
		}
		job := views.DisputeJob{
			IdempotencyKey: IdempotencyKey(d),
			TraceID:        traceID,
			Dispute:        d,
			PublishedAt:    p.now().UTC(),
		}
		headers := map[string]string{pkg.HeaderTraceId: traceID}
		if err := p.publisher.Publish(ctx, p.topic, d.OrderID, job, headers); err != nil {
			p.logger.Error("failed to publish dispute",
				zap.String(pkg.TraceId, traceID),
				zap.String(pkg.OrderID, d.OrderID),
				zap.Error(err))
			return sent, pkg.NewAppError(pkg.ErrDependencyCode, "failed to publish disputes", err)
		}
		sent++
	}
	p.logger.Info("disputes published", zap.String(pkg.TraceId, traceID), zap.Int("count", sent))
	return sent, nil
}

// IdempotencyKey is stable for the same order and rule outcome, so a re-run audit produces the
// same keys.
func IdempotencyKey(d detection.Dispute) string {
	key := d.OrderID
	for _, m := range d.Matches {
		key += ":" + string(m.RuleID)
	}
	return fmt.Sprintf("%s@%.2f", key, d.TotalRecoverable)
}
