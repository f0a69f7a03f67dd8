package detection

import (
	"time"

	"github.com/nimeshabuddhika/parcel-recovery/pkg/rules"
)

// Prediction sources recorded on a match.
const (
	SourcePredictor    = "predictor"
	SourceRuleBaseline = "rule_baseline"
)

// RuleMatch is one triggered rule on one order.
type RuleMatch struct {
	RuleID             rules.RuleID   `json:"ruleId"`
	RuleName           string         `json:"ruleName"`
	Priority           rules.Priority `json:"priority"`
	RecoverableAmount  float64        `json:"recoverableAmount"`
	SuccessProbability float64        `json:"successProbability"`
	PredictedDays      int            `json:"predictedDays"`
	ExpectedRecovery   float64        `json:"expectedRecovery"`
	LegalBasis         string         `json:"legalBasis"`
	Reasoning          string         `json:"reasoning"`
	PredictionSource   string         `json:"predictionSource"`
}

// Dispute is the evaluation of one order against the rule set.
// Supplemental order fields are carried along for the claim workflow.
type Dispute struct {
	OrderID               string      `json:"orderId" validate:"required"`
	Carrier               string      `json:"carrier" validate:"required"`
	OrderDate             time.Time   `json:"orderDate"`
	HasDispute            bool        `json:"hasDispute"`
	Matches               []RuleMatch `json:"matches" validate:"required,min=1,dive"`
	TotalRecoverable      float64     `json:"totalRecoverable" validate:"gt=0"`
	TotalExpectedRecovery float64     `json:"totalExpectedRecovery"`

	TrackingNumber       string     `json:"trackingNumber,omitempty"`
	ClientEmail          string     `json:"clientEmail,omitempty"`
	ClientName           string     `json:"clientName,omitempty"`
	RecipientName        string     `json:"recipientName,omitempty"`
	EvidenceRef          string     `json:"evidenceRef,omitempty"`
	ExpectedDeliveryDate *time.Time `json:"expectedDeliveryDate,omitempty"`
	DelayDays            int        `json:"delayDays"`
}

// NumDisputes is the number of triggered rules.
func (d Dispute) NumDisputes() int { return len(d.Matches) }

// Primary returns the most urgent match; ties keep rule order.
func (d Dispute) Primary() (RuleMatch, bool) {
	if len(d.Matches) == 0 {
		return RuleMatch{}, false
	}
	best := d.Matches[0]
	for _, m := range d.Matches[1:] {
		if m.Priority > best.Priority {
			best = m
		}
	}
	return best, true
}

// DisputeType is the rule id of the primary match, or "" when there is none.
func (d Dispute) DisputeType() string {
	m, ok := d.Primary()
	if !ok {
		return ""
	}
	return string(m.RuleID)
}
