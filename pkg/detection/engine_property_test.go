package detection

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/rules"
)

func genOrder() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(models.ServiceExpress, models.ServicePremium, models.ServiceStandard, "Economy"),
		gen.OneConstOf(models.StatusDelivered, models.StatusDeliveredLate, models.StatusLost),
		gen.Float64Range(0, 40),
		gen.Float64Range(0, 2000),
		gen.IntRange(0, 30),
		gen.Bool(),
		gen.Bool(),
		gen.OneConstOf("Colissimo", "UPS", "DHL", "Mondial Relay", "GLS", "Acme"),
		genGPSMatch(),
	).Map(func(v []interface{}) models.Order {
		return models.Order{
			OrderID:      "ORD-P",
			Service:      v[0].(string),
			Status:       v[1].(string),
			ShippingCost: math.Round(v[2].(float64)*100) / 100,
			ProductValue: math.Round(v[3].(float64)*100) / 100,
			DelayDays:    v[4].(int),
			HasPOD:       v[5].(bool),
			PODValid:     v[6].(bool),
			Carrier:      v[7].(string),
			PODGPSMatch:  v[8].(*bool),
		}
	})
}

// genGPSMatch yields unknown, matching and mismatching GPS checks.
func genGPSMatch() gopter.Gen {
	return gen.IntRange(0, 2).Map(func(n int) *bool {
		if n == 0 {
			return nil
		}
		match := n == 1
		return &match
	})
}

func findMatch(d Dispute, id rules.RuleID) (RuleMatch, bool) {
	for _, m := range d.Matches {
		if m.RuleID == id {
			return m, true
		}
	}
	return RuleMatch{}, false
}

func TestDetectionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	engine := NewEngine(EngineConfig{})
	ctx := context.Background()

	properties.Property("lost orders recover product value plus shipping at CRITICAL", prop.ForAll(
		func(o models.Order) bool {
			o.Status = models.StatusLost
			o.HasPOD = false
			d, err := engine.AnalyzeOrder(ctx, o)
			if err != nil {
				return false
			}
			full := o.ProductValue + o.ShippingCost
			m, ok := findMatch(d, rules.PackageLost)
			if full <= 0 {
				return !ok
			}
			var others float64
			for _, x := range d.Matches {
				if x.RuleID != rules.PackageLost {
					others += x.RecoverableAmount
				}
			}
			return ok && m.Priority == rules.PriorityCritical &&
				math.Abs(m.RecoverableAmount-math.Round(full*100)/100) < 1e-9 &&
				math.Abs(d.TotalRecoverable-(m.RecoverableAmount+others)) < 0.005
		},
		genOrder(),
	))

	properties.Property("premium delays contribute exactly the shipping cost", prop.ForAll(
		func(o models.Order, delay int) bool {
			o.Service = models.ServiceExpress
			o.DelayDays = delay
			d, err := engine.AnalyzeOrder(ctx, o)
			if err != nil {
				return false
			}
			m, ok := findMatch(d, rules.ExpressDelay)
			if o.ShippingCost <= 0 {
				return !ok
			}
			return ok && math.Abs(m.RecoverableAmount-o.ShippingCost) < 1e-9
		},
		genOrder(),
		gen.IntRange(3, 30),
	))

	properties.Property("a known GPS mismatch adds 30% of product value on top of the other rules", prop.ForAll(
		func(o models.Order) bool {
			d, err := engine.AnalyzeOrder(ctx, o)
			if err != nil {
				return false
			}
			m, ok := findMatch(d, rules.WrongGPS)
			mismatch := o.HasPOD && o.PODGPSMatch != nil && !*o.PODGPSMatch
			want := math.Round(o.ProductValue*0.3*100) / 100
			if !mismatch || o.ProductValue <= 0 {
				return !ok
			}
			if !ok || math.Abs(m.RecoverableAmount-want) > 1e-9 {
				return false
			}

			// the same order without the mismatch loses exactly this match
			known := true
			o.PODGPSMatch = &known
			without, err := engine.AnalyzeOrder(ctx, o)
			if err != nil {
				return false
			}
			return len(without.Matches) == len(d.Matches)-1 &&
				math.Abs(d.TotalRecoverable-without.TotalRecoverable-m.RecoverableAmount) < 0.011
		},
		genOrder(),
	))

	properties.Property("total equals sum of positive match amounts", prop.ForAll(
		func(o models.Order) bool {
			d, err := engine.AnalyzeOrder(ctx, o)
			if err != nil {
				return false
			}
			var sum float64
			for _, m := range d.Matches {
				if m.RecoverableAmount <= 0 {
					return false
				}
				sum += m.RecoverableAmount
			}
			return math.Abs(d.TotalRecoverable-sum) < 0.005 && d.HasDispute == (len(d.Matches) > 0)
		},
		genOrder(),
	))

	properties.Property("evaluation is idempotent", prop.ForAll(
		func(o models.Order) bool {
			a, errA := engine.AnalyzeOrder(ctx, o)
			b, errB := engine.AnalyzeOrder(ctx, o)
			if errA != nil || errB != nil {
				return false
			}
			if len(a.Matches) != len(b.Matches) || a.TotalRecoverable != b.TotalRecoverable {
				return false
			}
			for i := range a.Matches {
				if a.Matches[i] != b.Matches[i] {
					return false
				}
			}
			return true
		},
		genOrder(),
	))

	properties.Property("batch total is the sum of per-order totals", prop.ForAll(
		func(orders []models.Order) bool {
			res, err := engine.ProcessDataset(ctx, orders)
			if err != nil {
				return false
			}
			var sum float64
			var disputed int
			for _, d := range res.Results {
				sum += d.TotalRecoverable
				if d.HasDispute {
					disputed++
				}
			}
			ov := res.Statistics.Overview
			if math.Abs(ov.TotalRecoverable-math.Round(sum*100)/100) > 1e-6 {
				return false
			}
			if len(res.Results) == 0 {
				return ov.DisputeRate == 0
			}
			want := math.Round(float64(disputed)/float64(len(res.Results))*100*100) / 100
			return ov.DisputeRate == want
		},
		gen.SliceOf(genOrder()),
	))

	properties.TestingRun(t)
}
