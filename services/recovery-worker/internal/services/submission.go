package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/services/recovery-worker/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultSubmissionTimeout = 30 * time.Second
	followUpTimeout          = 5 * time.Second
)

// SubmissionRequest is everything a backend needs to file one claim.
type SubmissionRequest struct {
	ClaimID        uuid.UUID         `json:"claimId"`
	ClaimReference string            `json:"claimReference"`
	DisputeType    string            `json:"disputeType"`
	Amount         float64           `json:"amount"`
	Dispute        detection.Dispute `json:"dispute"`
	ClaimText      string            `json:"claimText"`
	Evidence       *EvidenceReport   `json:"evidence,omitempty"`
}

// SubmissionOutcome is what a backend reports back on success.
type SubmissionOutcome struct {
	CarrierReference string `json:"carrierReference"`
}

// APISubmitter files a claim through a carrier's claims API.
type APISubmitter interface {
	SubmitAPI(ctx context.Context, req SubmissionRequest) (SubmissionOutcome, error)
}

// PortalAutomation files a claim by driving a carrier's web portal.
type PortalAutomation interface {
	SubmitPortal(ctx context.Context, carrier string, req SubmissionRequest) (SubmissionOutcome, error)
}

// SubmissionResult describes one submission attempt. It is folded into the Claim.
type SubmissionResult struct {
	Method             models.SubmissionMethod `json:"method"`
	Status             models.ClaimStatus      `json:"status"`
	CarrierReference   string                  `json:"carrierReference,omitempty"`
	FailureReason      string                  `json:"failureReason,omitempty"`
	ManualIntervention bool                    `json:"manualIntervention"`
	ManualTaskID       *uuid.UUID              `json:"manualTaskId,omitempty"`
	SubmittedAt        *time.Time              `json:"submittedAt,omitempty"`
}

// Automated reports whether the claim reached the carrier without an operator.
func (r SubmissionResult) Automated() bool {
	return r.Status == models.ClaimSubmitted
}

// BackendPanicError is returned when a submission backend panics. Unlike an ordinary
// backend error it is not absorbed into a manual fallback.
type BackendPanicError struct {
	Value any
	Stack []byte
}

func (e *BackendPanicError) Error() string {
	return fmt.Sprintf("submission backend panicked: %v", e.Value)
}

// Registry maps carriers to a capability. Keys are normalized on both registration and
// lookup, so "Mondial Relay", "mondial_relay" and "MONDIALRELAY" share one entry.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]T)}
}

func (r *Registry[T]) Register(carrier string, capability T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[models.NormalizeCarrier(carrier)] = capability
}

func (r *Registry[T]) Lookup(carrier string) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[models.NormalizeCarrier(carrier)]
	return c, ok
}

// Carriers lists the normalized keys, sorted.
func (r *Registry[T]) Carriers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SubmissionStrategyConfig wires the submission backends. APIs and Portals may be nil.
type SubmissionStrategyConfig struct {
	Logger   *zap.Logger
	APIs     *Registry[APISubmitter]
	Portals  *Registry[PortalAutomation]
	Limiter  RateLimiter
	Tasks    ManualTaskCreator
	Notifier Notifier
	// Timeout bounds each backend call, even one that ignores its context.
	Timeout time.Duration
	Now     func() time.Time
}

type SubmissionStrategy struct {
	SubmissionStrategyConfig
}

func NewSubmissionStrategy(cfg SubmissionStrategyConfig) *SubmissionStrategy {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSubmissionTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SubmissionStrategy{SubmissionStrategyConfig: cfg}
}

// MethodFor is the method a carrier's claims are routed to. API beats portal.
func (s *SubmissionStrategy) MethodFor(carrier string) models.SubmissionMethod {
	if _, ok := s.APIs.Lookup(carrier); ok {
		return models.MethodAPI
	}
	if _, ok := s.Portals.Lookup(carrier); ok {
		return models.MethodPortalAutomated
	}
	return models.MethodPortalManual
}

// Submit files the claim. Backend errors, timeouts and missing capabilities all end in
// pending_manual with a manual task. Errors are returned only for a *BackendPanicError or
// when ctx itself ends mid-call, in which case the claim is left for redelivery.
func (s *SubmissionStrategy) Submit(ctx context.Context, req SubmissionRequest) (SubmissionResult, error) {
	carrier := req.Dispute.Carrier
	logger := s.Logger.With(
		zap.String(pkg.OrderID, req.Dispute.OrderID),
		zap.String(pkg.Carrier, carrier),
		zap.String(pkg.ClaimReference, req.ClaimReference))

	if api, ok := s.APIs.Lookup(carrier); ok {
		out, err := s.call(ctx, func(ctx context.Context) (SubmissionOutcome, error) {
			return api.SubmitAPI(ctx, req)
		})
		return s.settle(ctx, logger, req, models.MethodAPI, out, err)
	}

	if portal, ok := s.Portals.Lookup(carrier); ok {
		if s.Limiter != nil {
			if err := s.Limiter.Allow(ctx, models.NormalizeCarrier(carrier)); err != nil {
				return s.settle(ctx, logger, req, models.MethodPortalAutomated, SubmissionOutcome{}, err)
			}
		}
		out, err := s.call(ctx, func(ctx context.Context) (SubmissionOutcome, error) {
			return portal.SubmitPortal(ctx, carrier, req)
		})
		return s.settle(ctx, logger, req, models.MethodPortalAutomated, out, err)
	}

	logger.Warn("no submission capability; manual submission required")
	reason := fmt.Sprintf("%v: %s", pkg.ErrNoCapability, carrier)
	observability.Submissions.WithLabelValues(string(models.MethodPortalManual), "no_capability").Inc()
	return s.manual(ctx, logger, req, reason), nil
}

func (s *SubmissionStrategy) settle(ctx context.Context, logger *zap.Logger, req SubmissionRequest,
	method models.SubmissionMethod, out SubmissionOutcome, err error) (SubmissionResult, error) {
	var panicErr *BackendPanicError
	switch {
	case errors.As(err, &panicErr):
		observability.Submissions.WithLabelValues(string(method), "panic").Inc()
		return SubmissionResult{}, err
	case err != nil && ctx.Err() != nil:
		observability.Submissions.WithLabelValues(string(method), "interrupted").Inc()
		logger.Warn("submission interrupted; leaving claim for redelivery",
			zap.String("method", string(method)), zap.Error(err))
		return SubmissionResult{}, fmt.Errorf("submission interrupted: %w", errors.Join(ctx.Err(), err))
	case err != nil:
		observability.Submissions.WithLabelValues(string(method), "failed").Inc()
		logger.Warn("automated submission failed; falling back to manual",
			zap.String("method", string(method)), zap.Error(err))
		return s.manual(ctx, logger, req, fmt.Sprintf("%s submission failed: %v", method, err)), nil
	}

	observability.Submissions.WithLabelValues(string(method), "submitted").Inc()
	now := s.Now().UTC()
	logger.Info("claim submitted", zap.String("method", string(method)),
		zap.String("carrier_reference", out.CarrierReference))
	return SubmissionResult{
		Method:           method,
		Status:           models.ClaimSubmitted,
		CarrierReference: out.CarrierReference,
		SubmittedAt:      &now,
	}, nil
}

// Escalate hands a claim whose workflow broke after creation to an operator. It creates the
// same manual task and notice as a failed automated submission.
func (s *SubmissionStrategy) Escalate(ctx context.Context, req SubmissionRequest, reason string) SubmissionResult {
	logger := s.Logger.With(
		zap.String(pkg.OrderID, req.Dispute.OrderID),
		zap.String(pkg.Carrier, req.Dispute.Carrier),
		zap.String(pkg.ClaimReference, req.ClaimReference))
	observability.Submissions.WithLabelValues(string(models.MethodPortalManual), "escalated").Inc()
	return s.manual(ctx, logger, req, reason)
}

// manual flags the claim for an operator. The task and the operator notice are created
// before returning and neither failure affects the result.
func (s *SubmissionStrategy) manual(ctx context.Context, logger *zap.Logger, req SubmissionRequest, reason string) SubmissionResult {
	res := SubmissionResult{
		Method:             models.MethodPortalManual,
		Status:             models.ClaimPendingManual,
		FailureReason:      reason,
		ManualIntervention: true,
	}
	task := models.ManualTask{
		ID:        uuid.New(),
		ClaimID:   req.ClaimID,
		OrderID:   req.Dispute.OrderID,
		Carrier:   req.Dispute.Carrier,
		Reason:    reason,
		CreatedAt: s.Now().UTC(),
	}

	// the submission deadline may already be spent
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()

	if s.Tasks != nil {
		if err := isolate(func() error { return s.Tasks.CreateManualTask(fctx, task) }); err != nil {
			logger.Error("manual task creation failed", zap.Error(err))
		} else {
			res.ManualTaskID = &task.ID
		}
	}
	if s.Notifier != nil {
		if err := isolate(func() error { return s.Notifier.NotifyOperator(fctx, task, req.ClaimReference) }); err != nil {
			logger.Error("operator notification failed", zap.Error(err))
		}
	}
	return res
}

// call runs fn with the submission timeout. The caller stops waiting at the deadline
// whether or not fn honours its context.
func (s *SubmissionStrategy) call(ctx context.Context, fn func(context.Context) (SubmissionOutcome, error)) (SubmissionOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	type reply struct {
		out SubmissionOutcome
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: &BackendPanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		out, err := fn(ctx)
		ch <- reply{out: out, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return SubmissionOutcome{}, fmt.Errorf("%w after %s", pkg.ErrSubmissionTimeout, s.Timeout)
		}
		return SubmissionOutcome{}, ctx.Err()
	}
}

func isolate(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
