package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/views"
	"github.com/nimeshabuddhika/parcel-recovery/services/recovery-worker/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultEvidenceTimeout = 20 * time.Second

// WorkflowResult reports how far one dispute got through the claim workflow.
type WorkflowResult struct {
	OrderID        string            `json:"orderId"`
	Success        bool              `json:"success"`
	StepsCompleted []string          `json:"stepsCompleted"`
	Error          string            `json:"error,omitempty"`
	Err            error             `json:"-"`
	StartedAt      time.Time         `json:"startedAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	FailedAt       *time.Time        `json:"failedAt,omitempty"`
	ClaimID        *uuid.UUID        `json:"claimId,omitempty"`
	ClaimReference string            `json:"claimReference,omitempty"`
	ClaimFile      string            `json:"claimFile,omitempty"`
	TrackingID     string            `json:"trackingId,omitempty"`
	Evidence       *EvidenceReport   `json:"evidence,omitempty"`
	EvidenceError  string            `json:"evidenceError,omitempty"`
	Submission     *SubmissionResult `json:"submission,omitempty"`
	// Interrupted is set when the run stopped because its context ended. The claim, if any,
	// is left pending so a redelivered message resumes it.
	Interrupted bool `json:"interrupted,omitempty"`
}

// OrchestratorConfig wires the workflow ports. Evidence, PODs, Events, Locker and Notifier
// are optional; Store, Artifacts and Strategy are required.
type OrchestratorConfig struct {
	Logger    *zap.Logger
	Store     ClaimStore
	Artifacts ArtifactStore
	Strategy  *SubmissionStrategy
	Generator *ClaimGenerator
	Evidence  EvidenceAnalyzer
	PODs      PODFetcher
	Events    ClaimEvents
	Notifier  Notifier
	Locker    ClaimLocker

	EvidenceTimeout time.Duration
	// MaxConcurrentDisputes bounds ProcessBatch; 0 means unbounded.
	MaxConcurrentDisputes int
	Now                   func() time.Time
}

type Orchestrator struct {
	OrchestratorConfig
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Generator == nil {
		cfg.Generator = NewClaimGenerator()
	}
	if cfg.EvidenceTimeout <= 0 {
		cfg.EvidenceTimeout = defaultEvidenceTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{OrchestratorConfig: cfg}
}

// workflow is the per-dispute state threaded through the steps.
type workflow struct {
	dispute  detection.Dispute
	logger   *zap.Logger
	result   *WorkflowResult
	claim    models.Claim
	text     string
	evidence *EvidenceReport
	release  func()
}

// ProcessDispute drives one dispute through the six workflow steps in order. Errors and
// panics inside a step stop the workflow and are reported on the result, never returned.
func (o *Orchestrator) ProcessDispute(ctx context.Context, d detection.Dispute) (result WorkflowResult) {
	result = WorkflowResult{
		OrderID:        d.OrderID,
		StepsCompleted: []string{},
		StartedAt:      o.Now().UTC(),
	}
	w := &workflow{
		dispute: d,
		logger:  o.Logger.With(zap.String(pkg.OrderID, d.OrderID), zap.String(pkg.Carrier, d.Carrier)),
		result:  &result,
	}

	observability.InflightWorkflows.Inc()
	defer observability.InflightWorkflows.Dec()
	defer func() {
		if w.release != nil {
			w.release()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("claim workflow panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			o.fail(ctx, w, fmt.Errorf("panic: %v", r))
		}
	}()

	w.logger.Info("processing dispute", zap.String(pkg.DisputeType, d.DisputeType()),
		zap.Float64("total_recoverable", d.TotalRecoverable))

	steps := []struct {
		name     string
		run      func(context.Context, *workflow) error
		optional func(*workflow) bool
	}{
		{pkg.StepEvidenceAnalysis, o.analyzeEvidence, o.hasEvidence},
		{pkg.StepClaimGeneration, o.generateClaim, nil},
		{pkg.StepClaimSubmission, o.submitClaim, nil},
		{pkg.StepTrackingSetup, o.setupTracking, nil},
		{pkg.StepStateUpdate, o.updateState, nil},
		{pkg.StepClientNotification, o.notifyClient, nil},
	}
	for _, step := range steps {
		if step.optional != nil && !step.optional(w) {
			continue
		}
		start := time.Now()
		err := step.run(ctx, w)
		observability.StepLatency.WithLabelValues(step.name).Observe(time.Since(start).Seconds())
		if err != nil {
			w.logger.Error("claim workflow step failed", zap.String(pkg.Step, step.name), zap.Error(err))
			o.fail(ctx, w, fmt.Errorf("%s: %w", step.name, err))
			return result
		}
		result.StepsCompleted = append(result.StepsCompleted, step.name)
	}

	done := o.Now().UTC()
	result.Success = true
	result.CompletedAt = &done
	observability.Workflows.WithLabelValues("success").Inc()
	w.logger.Info("dispute processed", zap.String(pkg.ClaimReference, result.ClaimReference),
		zap.String("tracking_id", result.TrackingID))
	return result
}

// fail records the error on the result. A claim that was created but never left pending is
// handed to an operator, unless the run was interrupted and will be redelivered.
func (o *Orchestrator) fail(ctx context.Context, w *workflow, err error) {
	failed := o.Now().UTC()
	w.result.Success = false
	w.result.Error = err.Error()
	w.result.Err = err
	w.result.FailedAt = &failed

	if ctx.Err() != nil {
		w.result.Interrupted = true
		observability.Workflows.WithLabelValues("interrupted").Inc()
		return
	}
	observability.Workflows.WithLabelValues("failed").Inc()
	if w.result.ClaimID != nil && w.claim.Status == models.ClaimPending {
		o.escalate(ctx, w, err)
	}
}

func (o *Orchestrator) escalate(ctx context.Context, w *workflow, cause error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()

	reason := fmt.Sprintf("claim workflow failed: %v", cause)
	status, method, automation := models.ClaimPendingManual, models.MethodPortalManual, models.AutomationManualRequired
	update := models.ClaimUpdate{
		Status:           &status,
		SubmissionMethod: &method,
		AutomationStatus: &automation,
		AutomationError:  &reason,
	}
	if err := isolate(func() error { return o.Store.UpdateClaim(fctx, w.claim.ID, update) }); err != nil {
		w.logger.Error("failed to move claim to manual review", zap.Error(err))
		return
	}
	w.claim.Status = status
	w.claim.SubmissionMethod = method
	w.claim.AutomationStatus = automation

	sub := o.Strategy.Escalate(fctx, o.submissionRequest(w), reason)
	w.result.Submission = &sub
	w.result.TrackingID = ManualTrackingID(w.dispute)
	w.logger.Warn("claim moved to manual review after workflow failure", zap.Error(cause))
	o.publish(fctx, w, views.ClaimPendingManual, w.result.TrackingID)
}

func (o *Orchestrator) submissionRequest(w *workflow) SubmissionRequest {
	return SubmissionRequest{
		ClaimID:        w.claim.ID,
		ClaimReference: w.claim.Reference,
		DisputeType:    w.claim.DisputeType,
		Amount:         w.claim.AmountRequested,
		Dispute:        w.dispute,
		ClaimText:      w.text,
		Evidence:       w.evidence,
	}
}

func (o *Orchestrator) hasEvidence(w *workflow) bool {
	return o.Evidence != nil && !utils.IsEmpty(w.dispute.EvidenceRef)
}

// analyzeEvidence never fails the workflow: an analyzer error leaves the claim without evidence.
func (o *Orchestrator) analyzeEvidence(ctx context.Context, w *workflow) error {
	ctx, cancel := context.WithTimeout(ctx, o.EvidenceTimeout)
	defer cancel()

	report, err := o.Evidence.Analyze(ctx, w.dispute.EvidenceRef, w.dispute.TrackingNumber, w.dispute.ExpectedDeliveryDate)
	if err != nil {
		w.logger.Warn("evidence analysis failed; continuing without evidence", zap.Error(err))
		w.result.EvidenceError = err.Error()
		return nil
	}
	w.evidence = &report
	w.result.Evidence = &report
	w.logger.Info("evidence analyzed", zap.Float64("confidence_invalid", report.ConfidenceInvalid),
		zap.Int("anomalies", len(report.Anomalies)))
	return nil
}

func (o *Orchestrator) generateClaim(ctx context.Context, w *workflow) error {
	now := o.Now().UTC()
	w.claim = models.Claim{
		ID:               uuid.New(),
		Reference:        NewClaimReference(w.dispute.Carrier, now),
		OrderID:          w.dispute.OrderID,
		Carrier:          w.dispute.Carrier,
		DisputeType:      w.dispute.DisputeType(),
		AmountRequested:  w.dispute.TotalRecoverable,
		TrackingNumber:   w.dispute.TrackingNumber,
		Status:           models.ClaimPending,
		AutomationStatus: models.AutomationAutomated,
		PODFetchStatus:   models.PODFetchSkipped,
		CreatedAt:        now,
	}
	w.result.ClaimReference = w.claim.Reference
	w.logger = w.logger.With(zap.String(pkg.ClaimReference, w.claim.Reference))

	text, err := o.Generator.Generate(w.dispute, w.claim.Reference, w.evidence, now)
	if err != nil {
		return err
	}
	w.text = text

	location, err := o.Artifacts.Save(ctx, w.dispute.OrderID, text)
	if err != nil {
		return err
	}
	w.result.ClaimFile = location
	return nil
}

func (o *Orchestrator) submitClaim(ctx context.Context, w *workflow) error {
	if email := w.dispute.ClientEmail; !utils.IsEmpty(email) {
		client, err := o.Store.GetClient(ctx, email)
		switch {
		case err != nil:
			w.logger.Warn("client lookup failed", zap.Error(err))
		case client == nil:
			w.logger.Warn("client not found", zap.String("client_email", email))
		default:
			w.claim.ClientID = &client.ID
		}
	}

	if o.Locker != nil {
		release, err := o.Locker.Acquire(ctx, w.dispute.OrderID)
		if err != nil {
			return err
		}
		w.release = release
	}

	resumed, err := o.resumePending(ctx, w)
	if err != nil {
		return err
	}
	if !resumed {
		if err := o.Store.CreateClaim(ctx, w.claim); err != nil {
			return err
		}
		w.logger.Info("claim created", zap.String(pkg.ClaimID, w.claim.ID.String()))
	}
	w.result.ClaimID = &w.claim.ID

	o.fetchPOD(ctx, w)
	o.publish(ctx, w, views.ClaimCreated, "")

	sub, err := o.Strategy.Submit(ctx, o.submissionRequest(w))
	if err != nil {
		return err
	}
	if !w.claim.Status.CanTransitionTo(sub.Status) {
		return fmt.Errorf("illegal claim transition %s -> %s", w.claim.Status, sub.Status)
	}
	w.result.Submission = &sub

	automation := models.AutomationAutomated
	if !sub.Automated() {
		automation = models.AutomationManualRequired
	}
	update := models.ClaimUpdate{
		Status:           &sub.Status,
		SubmissionMethod: &sub.Method,
		AutomationStatus: &automation,
		SubmittedAt:      sub.SubmittedAt,
	}
	if sub.FailureReason != "" {
		update.AutomationError = &sub.FailureReason
	}
	if sub.CarrierReference != "" {
		update.CarrierReference = &sub.CarrierReference
	}
	if err := o.Store.UpdateClaim(ctx, w.claim.ID, update); err != nil {
		return err
	}
	w.claim.Status = sub.Status
	w.claim.SubmissionMethod = sub.Method
	w.claim.AutomationStatus = automation
	w.claim.CarrierReference = sub.CarrierReference
	return nil
}

// resumePending adopts a claim an interrupted run left pending for this order. The claim
// text is regenerated under the stored reference. Must be called with the order lock held.
func (o *Orchestrator) resumePending(ctx context.Context, w *workflow) (bool, error) {
	existing, err := o.Store.OpenClaim(ctx, w.dispute.OrderID)
	if err != nil {
		return false, err
	}
	if existing == nil || existing.Status != models.ClaimPending {
		return false, nil
	}

	w.claim.ID = existing.ID
	w.claim.Reference = existing.Reference
	w.claim.CreatedAt = existing.CreatedAt
	w.claim.PODFetchStatus = existing.PODFetchStatus
	w.result.ClaimReference = existing.Reference
	w.logger = o.Logger.With(zap.String(pkg.OrderID, w.dispute.OrderID), zap.String(pkg.Carrier, w.dispute.Carrier),
		zap.String(pkg.ClaimReference, existing.Reference))

	text, err := o.Generator.Generate(w.dispute, existing.Reference, w.evidence, existing.CreatedAt)
	if err != nil {
		return false, err
	}
	w.text = text
	location, err := o.Artifacts.Save(ctx, w.dispute.OrderID, text)
	if err != nil {
		return false, err
	}
	w.result.ClaimFile = location
	w.logger.Info("resuming pending claim", zap.String(pkg.ClaimID, existing.ID.String()))
	return true, nil
}

// fetchPOD records the outcome on the claim. A failure leaves manual upload available.
func (o *Orchestrator) fetchPOD(ctx context.Context, w *workflow) {
	if o.PODs == nil || utils.IsEmpty(w.dispute.TrackingNumber) {
		return
	}
	var update models.ClaimUpdate
	pod, err := o.PODs.FetchPOD(ctx, w.dispute.Carrier, w.dispute.TrackingNumber)
	if err != nil {
		status, reason := models.PODFetchFailed, err.Error()
		update = models.ClaimUpdate{PODFetchStatus: &status, PODFetchError: &reason}
		w.logger.Warn("pod auto-fetch failed; manual upload available", zap.Error(err))
	} else {
		status := models.PODFetchSuccess
		update = models.ClaimUpdate{PODFetchStatus: &status, PODURL: &pod.URL}
		w.logger.Info("pod auto-fetched", zap.String("pod_url", pod.URL))
	}
	w.claim.PODFetchStatus = *update.PODFetchStatus
	if err := o.Store.UpdateClaim(ctx, w.claim.ID, update); err != nil {
		w.logger.Error("failed to record pod fetch outcome", zap.Error(err))
	}
}

func (o *Orchestrator) setupTracking(_ context.Context, w *workflow) error {
	if sub := w.result.Submission; sub != nil && sub.Automated() {
		w.result.TrackingID = utils.FirstNonEmpty(sub.CarrierReference, w.claim.Reference)
		return nil
	}
	w.result.TrackingID = ManualTrackingID(w.dispute)
	return nil
}

func (o *Orchestrator) updateState(ctx context.Context, w *workflow) error {
	if w.result.Submission != nil && w.result.Submission.Automated() {
		completed := models.AutomationCompleted
		if err := o.Store.UpdateClaim(ctx, w.claim.ID, models.ClaimUpdate{AutomationStatus: &completed}); err != nil {
			return err
		}
		w.claim.AutomationStatus = completed
		o.publish(ctx, w, views.ClaimSubmitted, w.result.TrackingID)
		return nil
	}
	o.publish(ctx, w, views.ClaimPendingManual, w.result.TrackingID)
	return nil
}

// notifyClient is best effort.
func (o *Orchestrator) notifyClient(ctx context.Context, w *workflow) error {
	recipient := w.dispute.ClientEmail
	if o.Notifier == nil || utils.IsEmpty(recipient) {
		w.logger.Warn("no recipient or notifier; skipping client notification")
		return nil
	}
	err := isolate(func() error {
		return o.Notifier.NotifyClaimSubmitted(ctx, recipient, w.claim.Reference, w.dispute.Carrier,
			w.dispute.TotalRecoverable, w.dispute.OrderID, w.claim.SubmissionMethod)
	})
	if err != nil {
		w.logger.Warn("client notification failed", zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, w *workflow, kind views.ClaimEventType, trackingID string) {
	if o.Events == nil {
		return
	}
	event := views.ClaimEvent{
		Type:             kind,
		ClaimID:          w.claim.ID,
		Reference:        w.claim.Reference,
		OrderID:          w.claim.OrderID,
		Carrier:          w.claim.Carrier,
		Status:           w.claim.Status,
		SubmissionMethod: w.claim.SubmissionMethod,
		Amount:           w.claim.AmountRequested,
		TrackingID:       trackingID,
		OccurredAt:       o.Now().UTC(),
	}
	if err := isolate(func() error { return o.Events.Publish(ctx, event) }); err != nil {
		w.logger.Warn("claim event publish failed", zap.String("event", string(kind)), zap.Error(err))
	}
}

// ProcessBatch runs ProcessDispute concurrently. results[i] belongs to disputes[i]; one
// dispute's failure never affects another.
func (o *Orchestrator) ProcessBatch(ctx context.Context, disputes []detection.Dispute) []WorkflowResult {
	results := make([]WorkflowResult, len(disputes))
	observability.BatchSize.Observe(float64(len(disputes)))

	var g errgroup.Group
	if o.MaxConcurrentDisputes > 0 {
		g.SetLimit(o.MaxConcurrentDisputes)
	}
	for i := range disputes {
		g.Go(func() error {
			results[i] = o.ProcessDispute(ctx, disputes[i])
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	o.Logger.Info("batch complete", zap.Int("succeeded", succeeded), zap.Int("total", len(disputes)))
	return results
}

// NewClaimReference builds CLM-<yyyymmddHHMMSS>-<8 hex>-<carrier code>.
func NewClaimReference(carrier string, at time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("CLM-%s-%s-%s",
		at.UTC().Format("20060102150405"),
		strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]),
		models.CarrierCode(carrier))
}

// ManualTrackingID is the tracking handle of a claim an operator must file.
func ManualTrackingID(d detection.Dispute) string {
	return "MANUAL-" + utils.FirstNonEmpty(d.TrackingNumber, d.OrderID)
}

// IsDuplicateClaim reports whether a workflow failed because the order already has an open claim.
func IsDuplicateClaim(err error) bool {
	return errors.Is(err, pkg.ErrDuplicateClaim) || errors.Is(err, pkg.ErrClaimLocked)
}
