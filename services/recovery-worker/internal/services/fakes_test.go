package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/rules"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/views"
)

var fixedNow = time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func sampleDispute(orderID, carrier string) detection.Dispute {
	return detection.Dispute{
		OrderID:    orderID,
		Carrier:    carrier,
		OrderDate:  fixedNow.AddDate(0, 0, -10),
		HasDispute: true,
		Matches: []detection.RuleMatch{{
			RuleID:            rules.PackageLost,
			RuleName:          "Package lost",
			Priority:          rules.PriorityCritical,
			RecoverableAmount: 120.5,
			LegalBasis:        "carrier liability",
		}},
		TotalRecoverable: 120.5,
		TrackingNumber:   "TRK-" + orderID,
		ClientEmail:      "shop@example.com",
		ClientName:       "Example Shop",
	}
}

type fakeAPI struct {
	ref      string
	err      error
	panicVal any
	delay    time.Duration
	mu       sync.Mutex
	calls    int
}

func (f *fakeAPI) SubmitAPI(_ context.Context, _ SubmissionRequest) (SubmissionOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		// ignores ctx on purpose
		time.Sleep(f.delay)
	}
	if f.panicVal != nil {
		panic(f.panicVal)
	}
	return SubmissionOutcome{CarrierReference: f.ref}, f.err
}

func (f *fakeAPI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePortal struct {
	ref     string
	err     error
	mu      sync.Mutex
	calls   int
	carrier string
}

func (f *fakePortal) SubmitPortal(_ context.Context, carrier string, _ SubmissionRequest) (SubmissionOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.carrier = carrier
	return SubmissionOutcome{CarrierReference: f.ref}, f.err
}

type fakeLimiter struct{ err error }

func (f fakeLimiter) Allow(context.Context, string) error { return f.err }

type fakeTasks struct {
	mu       sync.Mutex
	tasks    []models.ManualTask
	err      error
	panicVal any
	ctxErr   error
}

func (f *fakeTasks) CreateManualTask(ctx context.Context, task models.ManualTask) error {
	if f.panicVal != nil {
		panic(f.panicVal)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeTasks) Tasks() []models.ManualTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ManualTask(nil), f.tasks...)
}

type submittedNotice struct {
	recipient string
	reference string
	method    models.SubmissionMethod
}

type fakeNotifier struct {
	mu        sync.Mutex
	submitted []submittedNotice
	operator  []models.ManualTask
	err       error
}

func (f *fakeNotifier) NotifyClaimSubmitted(_ context.Context, recipient, claimReference, _ string,
	_ float64, _ string, method models.SubmissionMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, submittedNotice{recipient: recipient, reference: claimReference, method: method})
	return nil
}

func (f *fakeNotifier) NotifyOperator(_ context.Context, task models.ManualTask, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.operator = append(f.operator, task)
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	claims     map[uuid.UUID]models.Claim
	updates    []models.ClaimUpdate
	client     *models.Client
	createErr  error
	panicOrder string
}

func newFakeStore() *fakeStore {
	return &fakeStore{claims: make(map[uuid.UUID]models.Claim)}
}

func (f *fakeStore) CreateClaim(_ context.Context, claim models.Claim) error {
	if f.panicOrder != "" && claim.OrderID == f.panicOrder {
		panic("store exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, c := range f.claims {
		if c.OrderID == claim.OrderID && !c.Status.IsTerminal() {
			return pkg.NewAppError(pkg.ErrDuplicateClaimCode, claim.Reference, pkg.ErrDuplicateClaim)
		}
	}
	f.claims[claim.ID] = claim
	return nil
}

func (f *fakeStore) UpdateClaim(_ context.Context, id uuid.UUID, update models.ClaimUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.claims[id]
	if update.Status != nil {
		c.Status = *update.Status
	}
	if update.SubmissionMethod != nil {
		c.SubmissionMethod = *update.SubmissionMethod
	}
	if update.AutomationStatus != nil {
		c.AutomationStatus = *update.AutomationStatus
	}
	if update.PODFetchStatus != nil {
		c.PODFetchStatus = *update.PODFetchStatus
	}
	if update.PODFetchError != nil {
		c.PODFetchError = *update.PODFetchError
	}
	if update.CarrierReference != nil {
		c.CarrierReference = *update.CarrierReference
	}
	if update.AutomationError != nil {
		c.AutomationError = *update.AutomationError
	}
	f.claims[id] = c
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeStore) OpenClaim(_ context.Context, orderID string) (*models.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.claims {
		if c.OrderID == orderID && !c.Status.IsTerminal() {
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetClient(context.Context, string) (*models.Client, error) {
	return f.client, nil
}

func (f *fakeStore) Claim(id uuid.UUID) models.Claim {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[id]
}

type fakeArtifacts struct {
	mu    sync.Mutex
	saved map[string]string
}

func (f *fakeArtifacts) Save(_ context.Context, orderID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[orderID] = content
	return "mem://" + orderID, nil
}

type fakeEvidence struct {
	report EvidenceReport
	err    error
	calls  int
}

func (f *fakeEvidence) Analyze(context.Context, string, string, *time.Time) (EvidenceReport, error) {
	f.calls++
	return f.report, f.err
}

type fakePODs struct {
	url string
	err error
}

func (f fakePODs) FetchPOD(context.Context, string, string) (PODResult, error) {
	return PODResult{URL: f.url}, f.err
}

type fakeEvents struct {
	mu     sync.Mutex
	events []views.ClaimEvent
}

func (f *fakeEvents) Publish(_ context.Context, event views.ClaimEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) Types() []views.ClaimEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]views.ClaimEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, orderID string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[orderID] {
		return nil, pkg.ErrClaimLocked
	}
	f.held[orderID] = true
	f.acquired++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, orderID)
		f.released++
	}, nil
}

func (f *fakeLocker) Counts() (acquired, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired, f.released
}
