package services

import (
	"context"
	"time"

	kafkautils "github.com/nimeshabuddhika/parcel-recovery/pkg/kafka"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/views"
)

// KafkaClaimEvents publishes claim lifecycle events keyed by order id.
type KafkaClaimEvents struct {
	publisher kafkautils.Publisher
	topic     string
}

func NewKafkaClaimEvents(publisher kafkautils.Publisher, topic string) *KafkaClaimEvents {
	return &KafkaClaimEvents{publisher: publisher, topic: topic}
}

func (k *KafkaClaimEvents) Publish(ctx context.Context, event views.ClaimEvent) error {
	return k.publisher.Publish(ctx, k.topic, event.OrderID, event, map[string]string{"event-type": string(event.Type)})
}

// KafkaNotifier hands notifications to the email service through the notification topic.
type KafkaNotifier struct {
	publisher     kafkautils.Publisher
	topic         string
	operatorEmail string
	now           func() time.Time
}

func NewKafkaNotifier(publisher kafkautils.Publisher, topic, operatorEmail string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic, operatorEmail: operatorEmail, now: time.Now}
}

func (k *KafkaNotifier) NotifyClaimSubmitted(ctx context.Context, recipient, claimReference, carrier string,
	amount float64, orderID string, method models.SubmissionMethod) error {
	return k.send(ctx, views.Notification{
		Kind:             views.NotifyClaimSubmitted,
		Recipient:        recipient,
		ClaimReference:   claimReference,
		Carrier:          carrier,
		Amount:           amount,
		OrderID:          orderID,
		SubmissionMethod: method,
	})
}

func (k *KafkaNotifier) NotifyOperator(ctx context.Context, task models.ManualTask, claimReference string) error {
	return k.send(ctx, views.Notification{
		Kind:           views.NotifyManualIntervention,
		Recipient:      k.operatorEmail,
		ClaimReference: claimReference,
		Carrier:        task.Carrier,
		OrderID:        task.OrderID,
		Reason:         task.Reason,
	})
}

func (k *KafkaNotifier) send(ctx context.Context, n views.Notification) error {
	n.SentAt = k.now().UTC()
	return k.publisher.Publish(ctx, k.topic, n.OrderID, n, map[string]string{"notification-kind": string(n.Kind)})
}
