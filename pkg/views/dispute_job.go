package views

import (
	"time"

	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
)

// DisputeJob is the message on the dispute topic: one detected dispute to turn into a claim.
type DisputeJob struct {
	IdempotencyKey string            `json:"idempotencyKey" validate:"required"`
	TraceID        string            `json:"traceId,omitempty"`
	Dispute        detection.Dispute `json:"dispute"`
	PublishedAt    time.Time         `json:"publishedAt"`
}

// DeadLetter wraps a message the worker could not process.
type DeadLetter struct {
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	Key       string    `json:"key,omitempty"`
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Payload   []byte    `json:"payload"`
	FailedAt  time.Time `json:"failedAt"`
}
