package detection

import (
	"sort"

	"github.com/nimeshabuddhika/parcel-recovery/pkg/rules"
)

// ROIConfig holds the commercial assumptions of the projection.
type ROIConfig struct {
	SuccessFeeRate   float64 `json:"successFeeRate"`
	CostPerCase      float64 `json:"costPerCase"`
	HumanCostPerCase float64 `json:"humanCostPerCase"`
}

func DefaultROIConfig() ROIConfig {
	return ROIConfig{SuccessFeeRate: 0.20, CostPerCase: 0.50, HumanCostPerCase: 30}
}

type Overview struct {
	TotalOrders           int     `json:"totalOrders"`
	DisputedOrders        int     `json:"disputedOrders"`
	SkippedOrders         int     `json:"skippedOrders"`
	DisputeRate           float64 `json:"disputeRate"`
	TotalRecoverable      float64 `json:"totalRecoverable"`
	TotalExpectedRecovery float64 `json:"totalExpectedRecovery"`
	AvgPerDispute         float64 `json:"avgPerDispute"`
}

// Bucket aggregates rule matches.
type Bucket struct {
	Count            int     `json:"count"`
	TotalRecoverable float64 `json:"totalRecoverable"`
	ExpectedRecovery float64 `json:"expectedRecovery"`
}

// CarrierBucket aggregates disputed orders per carrier.
type CarrierBucket struct {
	DisputedOrders   int     `json:"disputedOrders"`
	TotalRecoverable float64 `json:"totalRecoverable"`
}

type ROIProjection struct {
	TotalRecoverableOptimistic float64 `json:"totalRecoverableOptimistic"`
	TotalRecoverableRealistic  float64 `json:"totalRecoverableRealistic"`
	SuccessFeeRate             float64 `json:"successFeeRate"`
	SuccessFee                 float64 `json:"successFee"`
	CostPerCase                float64 `json:"costPerCase"`
	TotalProcessingCost        float64 `json:"totalProcessingCost"`
	NetProfit                  float64 `json:"netProfit"`
	HumanCostPerCase           float64 `json:"humanCostPerCase"`
	HumanProcessingCost        float64 `json:"humanProcessingCost"`
	OperationalSavings         float64 `json:"operationalSavings"`
	SavingsPercent             float64 `json:"savingsPercent"`
}

type Statistics struct {
	Overview   Overview                  `json:"overview"`
	ByPriority map[rules.Priority]Bucket `json:"byPriority"`
	ByCarrier  map[string]CarrierBucket  `json:"byCarrier"`
	ByRule     map[string]Bucket         `json:"byRule"`
	ROI        ROIProjection             `json:"roiProjection"`
}

// ComputeStatistics aggregates processed results. skipped only feeds the overview counter.
func ComputeStatistics(results []Dispute, skipped int, roi ROIConfig) Statistics {
	stats := Statistics{
		ByPriority: make(map[rules.Priority]Bucket),
		ByCarrier:  make(map[string]CarrierBucket),
		ByRule:     make(map[string]Bucket),
	}

	var disputed int
	var total, expected float64
	for _, d := range results {
		if !d.HasDispute {
			continue
		}
		disputed++
		total += d.TotalRecoverable

		c := stats.ByCarrier[d.Carrier]
		c.DisputedOrders++
		c.TotalRecoverable += d.TotalRecoverable
		stats.ByCarrier[d.Carrier] = c

		for _, m := range d.Matches {
			expected += m.ExpectedRecovery
			stats.ByPriority[m.Priority] = addMatch(stats.ByPriority[m.Priority], m)
			stats.ByRule[m.RuleName] = addMatch(stats.ByRule[m.RuleName], m)
		}
	}

	for k, c := range stats.ByCarrier {
		c.TotalRecoverable = round2(c.TotalRecoverable)
		stats.ByCarrier[k] = c
	}
	for k, b := range stats.ByPriority {
		stats.ByPriority[k] = roundBucket(b)
	}
	for k, b := range stats.ByRule {
		stats.ByRule[k] = roundBucket(b)
	}

	stats.Overview = Overview{
		TotalOrders:           len(results),
		DisputedOrders:        disputed,
		SkippedOrders:         skipped,
		TotalRecoverable:      round2(total),
		TotalExpectedRecovery: round2(expected),
	}
	if len(results) > 0 {
		stats.Overview.DisputeRate = round2(float64(disputed) / float64(len(results)) * 100)
	}
	if disputed > 0 {
		stats.Overview.AvgPerDispute = round2(total / float64(disputed))
	}
	stats.ROI = projectROI(roi, total, expected, disputed)
	return stats
}

func projectROI(roi ROIConfig, total, expected float64, cases int) ROIProjection {
	automated := float64(cases) * roi.CostPerCase
	human := float64(cases) * roi.HumanCostPerCase
	p := ROIProjection{
		TotalRecoverableOptimistic: round2(total),
		TotalRecoverableRealistic:  round2(expected),
		SuccessFeeRate:             roi.SuccessFeeRate,
		SuccessFee:                 round2(expected * roi.SuccessFeeRate),
		CostPerCase:                roi.CostPerCase,
		TotalProcessingCost:        round2(automated),
		NetProfit:                  round2(expected*roi.SuccessFeeRate - automated),
		HumanCostPerCase:           roi.HumanCostPerCase,
		HumanProcessingCost:        round2(human),
		OperationalSavings:         round2(human - automated),
	}
	if human > 0 {
		p.SavingsPercent = round2((human - automated) / human * 100)
	}
	return p
}

func addMatch(b Bucket, m RuleMatch) Bucket {
	b.Count++
	b.TotalRecoverable += m.RecoverableAmount
	b.ExpectedRecovery += m.ExpectedRecovery
	return b
}

func roundBucket(b Bucket) Bucket {
	b.TotalRecoverable = round2(b.TotalRecoverable)
	b.ExpectedRecovery = round2(b.ExpectedRecovery)
	return b
}

// PriorityRow is a ByPriority entry in report order.
type PriorityRow struct {
	Priority rules.Priority
	Bucket
}

// PriorityRows lists non-empty priorities from CRITICAL down to LOW.
func (s Statistics) PriorityRows() []PriorityRow {
	rows := make([]PriorityRow, 0, len(s.ByPriority))
	for _, p := range rules.Priorities {
		if b, ok := s.ByPriority[p]; ok {
			rows = append(rows, PriorityRow{Priority: p, Bucket: b})
		}
	}
	return rows
}

type CarrierRow struct {
	Carrier string
	CarrierBucket
}

// CarrierRows lists carriers by recoverable amount, largest first.
func (s Statistics) CarrierRows() []CarrierRow {
	rows := make([]CarrierRow, 0, len(s.ByCarrier))
	for name, b := range s.ByCarrier {
		rows = append(rows, CarrierRow{Carrier: name, CarrierBucket: b})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalRecoverable != rows[j].TotalRecoverable {
			return rows[i].TotalRecoverable > rows[j].TotalRecoverable
		}
		return rows[i].Carrier < rows[j].Carrier
	})
	return rows
}

type RuleRow struct {
	RuleName string
	Bucket
}

// RuleRows lists rules by recoverable amount, largest first.
func (s Statistics) RuleRows() []RuleRow {
	rows := make([]RuleRow, 0, len(s.ByRule))
	for name, b := range s.ByRule {
		rows = append(rows, RuleRow{RuleName: name, Bucket: b})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalRecoverable != rows[j].TotalRecoverable {
			return rows[i].TotalRecoverable > rows[j].TotalRecoverable
		}
		return rows[i].RuleName < rows[j].RuleName
	})
	return rows
}
