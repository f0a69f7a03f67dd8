package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/views"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store     *fakeStore
	artifacts *fakeArtifacts
	events    *fakeEvents
	notifier  *fakeNotifier
	locker    *fakeLocker
	tasks     *fakeTasks
	apis      *Registry[APISubmitter]
	portals   *Registry[PortalAutomation]
}

func newHarness() *harness {
	return &harness{
		store:     newFakeStore(),
		artifacts: &fakeArtifacts{},
		events:    &fakeEvents{},
		notifier:  &fakeNotifier{},
		locker:    &fakeLocker{},
		tasks:     &fakeTasks{},
		apis:      NewRegistry[APISubmitter](),
		portals:   NewRegistry[PortalAutomation](),
	}
}

func (h *harness) orchestrator(mod func(*OrchestratorConfig)) *Orchestrator {
	cfg := OrchestratorConfig{
		Store:     h.store,
		Artifacts: h.artifacts,
		Strategy:  newStrategy(h.apis, h.portals, nil, h.tasks, h.notifier),
		Events:    h.events,
		Notifier:  h.notifier,
		Locker:    h.locker,
		Now:       clock,
	}
	if mod != nil {
		mod(&cfg)
	}
	return NewOrchestrator(cfg)
}

var referencePattern = regexp.MustCompile(`^CLM-20240314093000-[0-9A-F]{8}-COL$`)

func TestProcessDispute_AutomatedSubmission(t *testing.T) {
	h := newHarness()
	h.apis.Register("Colissimo", &fakeAPI{ref: "COL-777"})
	clientID := uuid.New()
	h.store.client = &models.Client{ID: clientID, Email: "shop@example.com"}
	o := h.orchestrator(nil)

	res := o.ProcessDispute(context.Background(), sampleDispute("ORD-1", "Colissimo"))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{
		pkg.StepClaimGeneration,
		pkg.StepClaimSubmission,
		pkg.StepTrackingSetup,
		pkg.StepStateUpdate,
		pkg.StepClientNotification,
	}, res.StepsCompleted)
	assert.Regexp(t, referencePattern, res.ClaimReference)
	assert.Equal(t, "COL-777", res.TrackingID)
	assert.Equal(t, "mem://ORD-1", res.ClaimFile)
	assert.Contains(t, h.artifacts.saved["ORD-1"], res.ClaimReference)
	require.NotNil(t, res.CompletedAt)
	assert.Nil(t, res.FailedAt)
	require.NotNil(t, res.Submission)
	assert.Equal(t, models.MethodAPI, res.Submission.Method)

	require.NotNil(t, res.ClaimID)
	claim := h.store.Claim(*res.ClaimID)
	assert.Equal(t, models.ClaimSubmitted, claim.Status)
	assert.Equal(t, models.AutomationCompleted, claim.AutomationStatus)
	assert.Equal(t, "COL-777", claim.CarrierReference)
	require.NotNil(t, claim.ClientID)
	assert.Equal(t, clientID, *claim.ClientID)

	assert.Equal(t, []views.ClaimEventType{views.ClaimCreated, views.ClaimSubmitted}, h.events.Types())
	require.Len(t, h.notifier.submitted, 1)
	assert.Equal(t, "shop@example.com", h.notifier.submitted[0].recipient)
	assert.Equal(t, models.MethodAPI, h.notifier.submitted[0].method)

	acquired, released := h.locker.Counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)
}

func TestProcessDispute_ManualFallback(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(nil)

	res := o.ProcessDispute(context.Background(), sampleDispute("ORD-2", "Colissimo"))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "MANUAL-TRK-ORD-2", res.TrackingID)
	require.NotNil(t, res.Submission)
	assert.True(t, res.Submission.ManualIntervention)

	claim := h.store.Claim(*res.ClaimID)
	assert.Equal(t, models.ClaimPendingManual, claim.Status)
	assert.Equal(t, models.MethodPortalManual, claim.SubmissionMethod)
	assert.Equal(t, models.AutomationManualRequired, claim.AutomationStatus)
	assert.Len(t, h.tasks.Tasks(), 1)
	assert.Equal(t, []views.ClaimEventType{views.ClaimCreated, views.ClaimPendingManual}, h.events.Types())
}

func TestProcessDispute_ManualTrackingFallsBackToOrderID(t *testing.T) {
	d := sampleDispute("ORD-3", "dpd")
	d.TrackingNumber = ""
	assert.Equal(t, "MANUAL-ORD-3", ManualTrackingID(d))

	res := newHarness().orchestrator(nil).ProcessDispute(context.Background(), d)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "MANUAL-ORD-3", res.TrackingID)
}

func TestProcessDispute_EvidenceStep(t *testing.T) {
	t.Run("runs with analyzer and reference", func(t *testing.T) {
		h := newHarness()
		analyzer := &fakeEvidence{report: EvidenceReport{ConfidenceInvalid: 0.9, Anomalies: []string{"signature mismatch"}}}
		o := h.orchestrator(func(c *OrchestratorConfig) { c.Evidence = analyzer })
		d := sampleDispute("ORD-4", "dpd")
		d.EvidenceRef = "s3://pod/ORD-4.jpg"

		res := o.ProcessDispute(context.Background(), d)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, pkg.StepEvidenceAnalysis, res.StepsCompleted[0])
		assert.Len(t, res.StepsCompleted, 6)
		require.NotNil(t, res.Evidence)
		assert.Equal(t, 0.9, res.Evidence.ConfidenceInvalid)
		assert.Equal(t, 1, analyzer.calls)
	})

	t.Run("skipped without reference", func(t *testing.T) {
		analyzer := &fakeEvidence{}
		o := newHarness().orchestrator(func(c *OrchestratorConfig) { c.Evidence = analyzer })

		res := o.ProcessDispute(context.Background(), sampleDispute("ORD-5", "dpd"))
		require.True(t, res.Success, res.Error)
		assert.NotContains(t, res.StepsCompleted, pkg.StepEvidenceAnalysis)
		assert.Equal(t, 0, analyzer.calls)
	})

	t.Run("failure continues without evidence", func(t *testing.T) {
		analyzer := &fakeEvidence{err: errors.New("vision model offline")}
		o := newHarness().orchestrator(func(c *OrchestratorConfig) { c.Evidence = analyzer })
		d := sampleDispute("ORD-6", "dpd")
		d.EvidenceRef = "s3://pod/ORD-6.jpg"

		res := o.ProcessDispute(context.Background(), d)
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.StepsCompleted, pkg.StepEvidenceAnalysis)
		assert.Nil(t, res.Evidence)
		assert.Equal(t, "vision model offline", res.EvidenceError)
	})
}

func TestProcessDispute_PODFetchOutcomeRecorded(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness()
		o := h.orchestrator(func(c *OrchestratorConfig) { c.PODs = fakePODs{url: "https://pod/1.png"} })
		res := o.ProcessDispute(context.Background(), sampleDispute("ORD-7", "dpd"))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, models.PODFetchSuccess, h.store.Claim(*res.ClaimID).PODFetchStatus)
	})

	t.Run("failure does not abort", func(t *testing.T) {
		h := newHarness()
		o := h.orchestrator(func(c *OrchestratorConfig) { c.PODs = fakePODs{err: errors.New("not found")} })
		res := o.ProcessDispute(context.Background(), sampleDispute("ORD-8", "dpd"))
		require.True(t, res.Success, res.Error)
		claim := h.store.Claim(*res.ClaimID)
		assert.Equal(t, models.PODFetchFailed, claim.PODFetchStatus)
		assert.Equal(t, "not found", claim.PODFetchError)
	})
}

func TestProcessDispute_DuplicateClaimFails(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(nil)

	first := o.ProcessDispute(context.Background(), sampleDispute("ORD-9", "dpd"))
	require.True(t, first.Success, first.Error)

	second := o.ProcessDispute(context.Background(), sampleDispute("ORD-9", "dpd"))
	assert.False(t, second.Success)
	assert.True(t, IsDuplicateClaim(second.Err))
	assert.Equal(t, []string{pkg.StepClaimGeneration}, second.StepsCompleted)
	require.NotNil(t, second.FailedAt)
	assert.Nil(t, second.CompletedAt)

	acquired, released := h.locker.Counts()
	assert.Equal(t, 2, acquired)
	assert.Equal(t, 2, released)
}

func TestProcessDispute_LockHeldElsewhere(t *testing.T) {
	h := newHarness()
	release, err := h.locker.Acquire(context.Background(), "ORD-10")
	require.NoError(t, err)
	defer release()

	res := h.orchestrator(nil).ProcessDispute(context.Background(), sampleDispute("ORD-10", "dpd"))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, pkg.ErrClaimLocked)
	assert.True(t, IsDuplicateClaim(res.Err))
	assert.Nil(t, res.ClaimID)
}

func TestProcessDispute_StorePanicIsRecovered(t *testing.T) {
	h := newHarness()
	h.store.panicOrder = "ORD-11"

	res := h.orchestrator(nil).ProcessDispute(context.Background(), sampleDispute("ORD-11", "dpd"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "store exploded")
	require.NotNil(t, res.FailedAt)

	acquired, released := h.locker.Counts()
	assert.Equal(t, acquired, released)
}

func TestProcessDispute_NotificationFailureStillSucceeds(t *testing.T) {
	h := newHarness()
	h.apis.Register("dpd", &fakeAPI{ref: "DPD-1"})
	o := h.orchestrator(func(c *OrchestratorConfig) { c.Notifier = &fakeNotifier{err: errors.New("smtp down")} })

	res := o.ProcessDispute(context.Background(), sampleDispute("ORD-12", "dpd"))
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.StepsCompleted, pkg.StepClientNotification)
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	h := newHarness()
	h.apis.Register("colissimo", &fakeAPI{ref: "COL-1"})
	h.apis.Register("broken", &fakeAPI{panicVal: "carrier sdk bug"})
	o := h.orchestrator(func(c *OrchestratorConfig) { c.MaxConcurrentDisputes = 3 })

	disputes := make([]detection.Dispute, 0, 8)
	for i := range 8 {
		carrier := "colissimo"
		if i == 5 {
			carrier = "broken"
		}
		disputes = append(disputes, sampleDispute(fmt.Sprintf("ORD-B%d", i), carrier))
	}

	results := o.ProcessBatch(context.Background(), disputes)
	require.Len(t, results, len(disputes))

	failed := 0
	for i, r := range results {
		assert.Equal(t, disputes[i].OrderID, r.OrderID)
		if !r.Success {
			failed++
			assert.Equal(t, "ORD-B5", r.OrderID)
			var panicErr *BackendPanicError
			assert.ErrorAs(t, r.Err, &panicErr)
		}
	}
	assert.Equal(t, 1, failed)

	acquired, released := h.locker.Counts()
	assert.Equal(t, len(disputes), acquired)
	assert.Equal(t, acquired, released)
}

func TestNewClaimReference(t *testing.T) {
	ref := NewClaimReference("Colissimo", fixedNow)
	assert.Regexp(t, referencePattern, ref)
	assert.NotEqual(t, ref, NewClaimReference("Colissimo", fixedNow))
	assert.Regexp(t, `-UNK$`, NewClaimReference("", fixedNow))
}

func TestProcessDispute_BackendPanicMovesClaimToManualReview(t *testing.T) {
	h := newHarness()
	h.apis.Register("colissimo", &fakeAPI{panicVal: "carrier sdk bug"})

	res := h.orchestrator(nil).ProcessDispute(context.Background(), sampleDispute("ORD-20", "colissimo"))
	assert.False(t, res.Success)
	assert.False(t, res.Interrupted)
	var panicErr *BackendPanicError
	assert.ErrorAs(t, res.Err, &panicErr)
	require.NotNil(t, res.ClaimID)

	claim := h.store.Claim(*res.ClaimID)
	assert.Equal(t, models.ClaimPendingManual, claim.Status)
	assert.Equal(t, models.MethodPortalManual, claim.SubmissionMethod)
	assert.Equal(t, models.AutomationManualRequired, claim.AutomationStatus)
	assert.Contains(t, claim.AutomationError, "carrier sdk bug")

	tasks := h.tasks.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, *res.ClaimID, tasks[0].ClaimID)
	require.NotNil(t, res.Submission)
	assert.True(t, res.Submission.ManualIntervention)
	assert.Equal(t, "MANUAL-TRK-ORD-20", res.TrackingID)
	assert.Contains(t, h.events.Types(), views.ClaimPendingManual)
}

func TestProcessDispute_ReplayAfterEscalationIsDuplicate(t *testing.T) {
	h := newHarness()
	h.apis.Register("colissimo", &fakeAPI{panicVal: "carrier sdk bug"})
	o := h.orchestrator(nil)

	first := o.ProcessDispute(context.Background(), sampleDispute("ORD-21", "colissimo"))
	require.False(t, first.Success)

	replay := o.ProcessDispute(context.Background(), sampleDispute("ORD-21", "colissimo"))
	assert.False(t, replay.Success)
	assert.True(t, IsDuplicateClaim(replay.Err))
	assert.Len(t, h.tasks.Tasks(), 1)
}

// cancelingAPI cancels the workflow context mid-call, like a shutdown would.
type cancelingAPI struct {
	cancel context.CancelFunc
	ref    string
	calls  int
}

func (c *cancelingAPI) SubmitAPI(ctx context.Context, _ SubmissionRequest) (SubmissionOutcome, error) {
	c.calls++
	if c.cancel != nil {
		c.cancel()
		<-ctx.Done()
		return SubmissionOutcome{}, ctx.Err()
	}
	return SubmissionOutcome{CarrierReference: c.ref}, nil
}

func TestProcessDispute_InterruptedRunLeavesClaimPendingAndResumes(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	api := &cancelingAPI{cancel: cancel, ref: "COL-9"}
	h.apis.Register("colissimo", api)
	o := h.orchestrator(nil)

	res := o.ProcessDispute(ctx, sampleDispute("ORD-22", "colissimo"))
	assert.False(t, res.Success)
	assert.True(t, res.Interrupted)
	assert.ErrorIs(t, res.Err, context.Canceled)
	require.NotNil(t, res.ClaimID)
	assert.Equal(t, models.ClaimPending, h.store.Claim(*res.ClaimID).Status)
	assert.Empty(t, h.tasks.Tasks())
	acquired, released := h.locker.Counts()
	assert.Equal(t, acquired, released)

	api.cancel = nil
	again := o.ProcessDispute(context.Background(), sampleDispute("ORD-22", "colissimo"))
	require.True(t, again.Success, again.Error)
	require.NotNil(t, again.ClaimID)
	assert.Equal(t, *res.ClaimID, *again.ClaimID)
	assert.Equal(t, res.ClaimReference, again.ClaimReference)
	assert.Contains(t, h.artifacts.saved["ORD-22"], res.ClaimReference)
	assert.Equal(t, models.ClaimSubmitted, h.store.Claim(*again.ClaimID).Status)
	assert.Len(t, h.store.claims, 1)
	assert.Equal(t, 2, api.calls)
}
