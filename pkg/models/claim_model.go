package models

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the lifecycle state of a Claim.
type ClaimStatus string

const (
	ClaimPending       ClaimStatus = "pending"
	ClaimSubmitted     ClaimStatus = "submitted"
	ClaimPendingManual ClaimStatus = "pending_manual"
	ClaimAccepted      ClaimStatus = "accepted"
	ClaimRejected      ClaimStatus = "rejected"
	ClaimPaid          ClaimStatus = "paid"
)

var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimPending:       {ClaimSubmitted, ClaimPendingManual},
	ClaimSubmitted:     {ClaimAccepted, ClaimRejected},
	ClaimPendingManual: {ClaimAccepted, ClaimRejected},
	ClaimAccepted:      {ClaimPaid},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ClaimStatus) CanTransitionTo(next ClaimStatus) bool {
	for _, candidate := range claimTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition exists.
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimPaid || s == ClaimRejected
}

// SubmissionMethod records how a claim reached the carrier.
type SubmissionMethod string

const (
	MethodAPI             SubmissionMethod = "api"
	MethodPortalAutomated SubmissionMethod = "portal_automated"
	MethodPortalManual    SubmissionMethod = "portal_manual"
)

type AutomationStatus string

const (
	AutomationAutomated      AutomationStatus = "automated"
	AutomationManualRequired AutomationStatus = "manual_intervention_required"
	AutomationCompleted      AutomationStatus = "completed"
)

type PODFetchStatus string

const (
	PODFetchSkipped PODFetchStatus = "skipped"
	PODFetchSuccess PODFetchStatus = "success"
	PODFetchFailed  PODFetchStatus = "failed"
)

// Claim maps to table `claims`
type Claim struct {
	ID               uuid.UUID
	Reference        string
	ClientID         *uuid.UUID
	OrderID          string
	Carrier          string
	DisputeType      string
	AmountRequested  float64
	TrackingNumber   string
	Status           ClaimStatus
	SubmissionMethod SubmissionMethod
	AutomationStatus AutomationStatus
	AutomationError  string
	PODFetchStatus   PODFetchStatus
	PODURL           string
	PODFetchError    string
	CarrierReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SubmittedAt      *time.Time
}

// ClaimUpdate carries the mutable columns of a claim. Nil fields are left untouched.
type ClaimUpdate struct {
	Status           *ClaimStatus
	SubmissionMethod *SubmissionMethod
	AutomationStatus *AutomationStatus
	AutomationError  *string
	PODFetchStatus   *PODFetchStatus
	PODURL           *string
	PODFetchError    *string
	CarrierReference *string
	SubmittedAt      *time.Time
}

// Client maps to table `clients`
type Client struct {
	ID        uuid.UUID
	Email     string
	Name      string
	CreatedAt time.Time
}

// ManualTask maps to table `manual_tasks`; one row per claim needing an operator.
type ManualTask struct {
	ID        uuid.UUID
	ClaimID   uuid.UUID
	OrderID   string
	Carrier   string
	Reason    string
	CreatedAt time.Time
}
