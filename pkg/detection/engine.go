// Package detection evaluates orders against the recovery rules and aggregates the results
// into audit statistics.
package detection

import (
	"context"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/prediction"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/rules"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EngineConfig wires the engine's collaborators. Zero values fall back to the built-in rules,
// the coefficient predictor and the default ROI assumptions.
type EngineConfig struct {
	Logger    *zap.Logger
	Rules     rules.RuleSet
	Predictor prediction.Predictor
	ROI       ROIConfig
	// Workers bounds concurrent order evaluation in ProcessDataset; <= 1 is sequential.
	Workers int
}

type Engine struct {
	logger    *zap.Logger
	rules     rules.RuleSet
	predictor prediction.Predictor
	roi       ROIConfig
	workers   int
	validate  *validator.Validate
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rs := cfg.Rules
	if len(rs) == 0 {
		rs = rules.Default()
	}
	predictor := cfg.Predictor
	if predictor == nil {
		predictor = prediction.NewCoefficientPredictor()
	}
	roi := cfg.ROI
	if roi == (ROIConfig{}) {
		roi = DefaultROIConfig()
	}
	return &Engine{
		logger:    logger,
		rules:     append(rules.RuleSet(nil), rs...),
		predictor: predictor,
		roi:       roi,
		workers:   cfg.Workers,
		validate:  validator.New(),
	}
}

// Rules returns a copy of the loaded rule set.
func (e *Engine) Rules() rules.RuleSet {
	return append(rules.RuleSet(nil), e.rules...)
}

// ROI returns the assumptions used for projections.
func (e *Engine) ROI() ROIConfig { return e.roi }

// AnalyzeOrder applies every rule to order. It never mutates order and yields the same
// Dispute for the same input given a deterministic predictor.
func (e *Engine) AnalyzeOrder(ctx context.Context, order models.Order) (Dispute, error) {
	if err := e.validateOrder(order); err != nil {
		return Dispute{}, err
	}

	dispute := Dispute{
		OrderID:              order.OrderID,
		Carrier:              order.Carrier,
		OrderDate:            order.OrderDate,
		TrackingNumber:       order.TrackingNumber,
		ClientEmail:          order.ClientEmail,
		ClientName:           order.ClientName,
		RecipientName:        order.RecipientName,
		EvidenceRef:          order.PODImageRef,
		ExpectedDeliveryDate: order.ExpectedDeliveryDate,
		DelayDays:            order.DelayDays,
	}

	var total, expected float64
	for _, rule := range e.rules {
		amount, ok := rule.Evaluate(order)
		if !ok {
			continue
		}
		match := e.score(ctx, order, rule, amount)
		dispute.Matches = append(dispute.Matches, match)
		total += match.RecoverableAmount
		expected += match.ExpectedRecovery
	}

	dispute.HasDispute = len(dispute.Matches) > 0
	dispute.TotalRecoverable = round2(total)
	dispute.TotalExpectedRecovery = round2(expected)
	return dispute, nil
}

// score asks the predictor about one match and falls back to the rule's historical rate.
func (e *Engine) score(ctx context.Context, order models.Order, rule rules.RecoveryRule, amount float64) RuleMatch {
	match := RuleMatch{
		RuleID:            rule.ID,
		RuleName:          rule.Name,
		Priority:          rule.Priority,
		RecoverableAmount: round2(amount),
		LegalBasis:        rule.LegalBasis,
	}

	p, err := e.predictor.Predict(ctx, order.Carrier, string(rule.ID), amount)
	if err != nil {
		e.logger.Warn("predictor unavailable, using rule baseline",
			zap.String(pkg.OrderID, order.OrderID),
			zap.String(pkg.RuleID, string(rule.ID)),
			zap.Error(err))
		match.SuccessProbability = rule.SuccessRate
		match.PredictedDays = prediction.DefaultPredictedDays
		match.Reasoning = fmt.Sprintf("Predictor unavailable; using the %.0f%% historical success rate of this rule.", rule.SuccessRate*100)
		match.PredictionSource = SourceRuleBaseline
	} else {
		match.SuccessProbability = p.Probability
		match.PredictedDays = p.PredictedDays
		match.Reasoning = p.Reasoning
		match.PredictionSource = SourcePredictor
	}
	match.ExpectedRecovery = round2(amount * match.SuccessProbability)
	return match
}

func (e *Engine) validateOrder(order models.Order) error {
	if err := e.validate.Struct(order); err != nil {
		return pkg.NewAppError(pkg.ErrValidationCode, "order failed validation", fmt.Errorf("%w: %v", pkg.ErrInvalidOrder, err))
	}
	if math.IsInf(order.ShippingCost, 0) || math.IsInf(order.ProductValue, 0) {
		return pkg.NewAppError(pkg.ErrValidationCode, "order failed validation", fmt.Errorf("%w: non-finite amount", pkg.ErrInvalidOrder))
	}
	return nil
}

// SkippedOrder records an order left out of a batch.
type SkippedOrder struct {
	Index   int    `json:"index"`
	OrderID string `json:"orderId,omitempty"`
	Reason  string `json:"reason"`
}

// BatchResult is the outcome of ProcessDataset. Results hold one Dispute per processed order,
// in input order, including orders without a dispute.
type BatchResult struct {
	Results    []Dispute      `json:"results"`
	Skipped    []SkippedOrder `json:"skipped"`
	Statistics Statistics     `json:"statistics"`
}

// ProcessDataset evaluates every order. Invalid orders are skipped and logged; statistics only
// cover orders that produced a result. The only error is context cancellation.
func (e *Engine) ProcessDataset(ctx context.Context, orders []models.Order) (BatchResult, error) {
	type outcome struct {
		dispute Dispute
		err     error
	}
	outcomes := make([]outcome, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	if e.workers > 1 {
		g.SetLimit(e.workers)
	} else {
		g.SetLimit(1)
	}
	for i := range orders {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := e.AnalyzeOrder(gctx, orders[i])
			outcomes[i] = outcome{dispute: d, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Results: make([]Dispute, 0, len(orders))}
	for i, o := range outcomes {
		if o.err != nil {
			e.logger.Warn("skipping invalid order",
				zap.Int("index", i),
				zap.String(pkg.OrderID, orders[i].OrderID),
				zap.Error(o.err))
			result.Skipped = append(result.Skipped, SkippedOrder{Index: i, OrderID: orders[i].OrderID, Reason: o.err.Error()})
			continue
		}
		result.Results = append(result.Results, o.dispute)
	}
	result.Statistics = ComputeStatistics(result.Results, len(result.Skipped), e.roi)

	e.logger.Info("dataset processed",
		zap.Int("orders", len(orders)),
		zap.Int("disputed", result.Statistics.Overview.DisputedOrders),
		zap.Int("skipped", len(result.Skipped)),
		zap.Float64("total_recoverable", result.Statistics.Overview.TotalRecoverable))
	return result, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
