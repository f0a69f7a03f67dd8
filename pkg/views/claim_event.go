package views

import (
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
)

type ClaimEventType string

const (
	ClaimCreated       ClaimEventType = "claim_created"
	ClaimSubmitted     ClaimEventType = "claim_submitted"
	ClaimPendingManual ClaimEventType = "claim_pending_manual"
)

// ClaimEvent is published on every claim lifecycle change.
type ClaimEvent struct {
	Type             ClaimEventType          `json:"type"`
	ClaimID          uuid.UUID               `json:"claimId"`
	Reference        string                  `json:"reference"`
	OrderID          string                  `json:"orderId"`
	Carrier          string                  `json:"carrier"`
	Status           models.ClaimStatus      `json:"status"`
	SubmissionMethod models.SubmissionMethod `json:"submissionMethod,omitempty"`
	Amount           float64                 `json:"amount"`
	TrackingID       string                  `json:"trackingId,omitempty"`
	OccurredAt       time.Time               `json:"occurredAt"`
}

type NotificationKind string

const (
	NotifyClaimSubmitted     NotificationKind = "claim_submitted"
	NotifyManualIntervention NotificationKind = "manual_intervention"
)

// Notification is consumed by the email service.
type Notification struct {
	Kind             NotificationKind        `json:"kind"`
	Recipient        string                  `json:"recipient,omitempty"`
	ClaimReference   string                  `json:"claimReference"`
	Carrier          string                  `json:"carrier"`
	Amount           float64                 `json:"amount"`
	OrderID          string                  `json:"orderId"`
	SubmissionMethod models.SubmissionMethod `json:"submissionMethod,omitempty"`
	Reason           string                  `json:"reason,omitempty"`
	SentAt           time.Time               `json:"sentAt"`
}
