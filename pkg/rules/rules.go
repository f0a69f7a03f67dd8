// Package rules holds the carrier reimbursement policy: which orders qualify for a dispute and
// how much can be claimed for each.
package rules

import (
	"fmt"

	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
)

// RuleID tags a recovery rule. Built-in identifiers are stable and appear in stored claims.
type RuleID string

const (
	ExpressDelay  RuleID = "express_delay"
	PackageLost   RuleID = "package_lost"
	InvalidPOD    RuleID = "invalid_pod"
	StandardDelay RuleID = "standard_delay"
	WrongGPS      RuleID = "wrong_gps"
)

// RecoveryRule is one category of carrier liability: a predicate and an amount over an order.
type RecoveryRule struct {
	ID          RuleID
	Name        string
	Priority    Priority
	SuccessRate float64
	LegalBasis  string
	Condition   func(models.Order) bool
	Amount      func(models.Order) float64
}

// Evaluate returns the recoverable amount and whether the rule produced a claimable match.
// A triggered rule with a non-positive amount is not a match.
func (r RecoveryRule) Evaluate(order models.Order) (float64, bool) {
	if !r.Condition(order) {
		return 0, false
	}
	amount := r.Amount(order)
	if !(amount > 0) {
		return 0, false
	}
	return amount, true
}

// RuleSet is an ordered list of rules. Evaluation order is the slice order.
type RuleSet []RecoveryRule

// Get looks a rule up by id.
func (rs RuleSet) Get(id RuleID) (RecoveryRule, bool) {
	for _, r := range rs {
		if r.ID == id {
			return r, true
		}
	}
	return RecoveryRule{}, false
}

// Append returns a new set with extra appended after checking ids are unique.
func (rs RuleSet) Append(extra ...RecoveryRule) (RuleSet, error) {
	out := make(RuleSet, 0, len(rs)+len(extra))
	out = append(out, rs...)
	for _, r := range extra {
		if _, exists := out.Get(r.ID); exists {
			return nil, fmt.Errorf("rules: duplicate rule id %q", r.ID)
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (r RecoveryRule) validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("rules: rule id is required")
	case r.Condition == nil || r.Amount == nil:
		return fmt.Errorf("rules: rule %q needs a condition and an amount", r.ID)
	case !r.Priority.Valid():
		return fmt.Errorf("rules: rule %q has invalid priority", r.ID)
	case r.SuccessRate < 0 || r.SuccessRate > 1:
		return fmt.Errorf("rules: rule %q success rate %v outside [0,1]", r.ID, r.SuccessRate)
	}
	return nil
}

// Default returns a fresh copy of the built-in reimbursement policy.
func Default() RuleSet {
	return RuleSet{
		{
			ID:          ExpressDelay,
			Name:        "Express/Premium Service Delay",
			Priority:    PriorityHigh,
			SuccessRate: 0.95,
			LegalBasis:  "Breach of the contractual guaranteed delivery time",
			Condition:   expressDelayed,
			Amount:      shippingCost,
		},
		{
			ID:          PackageLost,
			Name:        "Lost Package",
			Priority:    PriorityCritical,
			SuccessRate: 0.98,
			LegalBasis:  "Article L133-3 Code de Commerce - carrier liability",
			Condition:   lost,
			Amount:      fullValue,
		},
		{
			ID:          InvalidPOD,
			Name:        "Invalid Proof of Delivery",
			Priority:    PriorityMedium,
			SuccessRate: 0.70,
			LegalBasis:  "No compliant proof of handover (carrier terms of carriage)",
			Condition:   invalidPOD,
			Amount:      fraction(productValue, 0.5),
		},
		{
			ID:          StandardDelay,
			Name:        "Significant Standard Service Delay",
			Priority:    PriorityLow,
			SuccessRate: 0.60,
			LegalBasis:  "Breach of the best-efforts delivery obligation",
			Condition:   standardDelayed,
			Amount:      fraction(shippingCost, 0.5),
		},
		{
			ID:          WrongGPS,
			Name:        "GPS Mismatch on Proof of Delivery",
			Priority:    PriorityMedium,
			SuccessRate: 0.65,
			LegalBasis:  "Geolocated proof of delivery does not match the delivery address",
			Condition:   wrongGPS,
			Amount:      fraction(productValue, 0.3),
		},
	}
}

func expressDelayed(o models.Order) bool {
	return o.DelayDays > 2 && o.ServiceIs(models.ServiceExpress, models.ServicePremium)
}

func lost(o models.Order) bool {
	return o.StatusIs(models.StatusLost)
}

func invalidPOD(o models.Order) bool {
	return o.StatusIs(models.StatusDelivered, models.StatusDeliveredLate) && !o.PODValid
}

func standardDelayed(o models.Order) bool {
	return o.DelayDays > 5 && o.ServiceIs(models.ServiceStandard)
}

func wrongGPS(o models.Order) bool {
	return o.HasPOD && o.GPSMismatch()
}

func shippingCost(o models.Order) float64 { return o.ShippingCost }
func productValue(o models.Order) float64 { return o.ProductValue }
func fullValue(o models.Order) float64    { return o.ProductValue + o.ShippingCost }

func fraction(base func(models.Order) float64, f float64) func(models.Order) float64 {
	return func(o models.Order) float64 { return base(o) * f }
}
