package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/views"
)

// EvidenceReport is the evidence analyzer's judgment of a proof-of-delivery.
type EvidenceReport struct {
	ConfidenceInvalid float64  `json:"confidenceInvalid"`
	Anomalies         []string `json:"anomalies"`
	Summary           string   `json:"summary"`
}

// EvidenceAnalyzer inspects delivery evidence (POD image, signature, GPS trace).
type EvidenceAnalyzer interface {
	Analyze(ctx context.Context, evidenceRef, trackingNumber string, expected *time.Time) (EvidenceReport, error)
}

// PODResult is carrier-held proof of delivery fetched by tracking number.
type PODResult struct {
	URL           string `json:"url"`
	RecipientName string `json:"recipientName"`
}

type PODFetcher interface {
	FetchPOD(ctx context.Context, carrier, trackingNumber string) (PODResult, error)
}

// ClaimStore persists claims and resolves clients.
type ClaimStore interface {
	CreateClaim(ctx context.Context, claim models.Claim) error
	UpdateClaim(ctx context.Context, id uuid.UUID, update models.ClaimUpdate) error
	// OpenClaim returns the order's non-terminal claim, or nil, nil when there is none.
	OpenClaim(ctx context.Context, orderID string) (*models.Claim, error)
	// GetClient returns nil, nil when no client is registered under email.
	GetClient(ctx context.Context, email string) (*models.Client, error)
}

type ManualTaskCreator interface {
	CreateManualTask(ctx context.Context, task models.ManualTask) error
}

// ArtifactStore saves the claim letter for an order and returns where it went.
type ArtifactStore interface {
	Save(ctx context.Context, orderID, content string) (string, error)
}

type Notifier interface {
	NotifyClaimSubmitted(ctx context.Context, recipient, claimReference, carrier string, amount float64, orderID string, method models.SubmissionMethod) error
	NotifyOperator(ctx context.Context, task models.ManualTask, claimReference string) error
}

type ClaimEvents interface {
	Publish(ctx context.Context, event views.ClaimEvent) error
}

// ClaimLocker grants exclusive ownership of an order's claim for the workflow's duration.
type ClaimLocker interface {
	Acquire(ctx context.Context, orderID string) (release func(), err error)
}

// RateLimiter is consulted before every portal submission.
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}
