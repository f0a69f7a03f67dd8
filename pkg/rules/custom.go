package rules

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// celCostLimit bounds the work a single rule expression may do per order.
const celCostLimit = 10000

// CustomRuleSpec is the YAML shape of an operator-defined rule.
// Condition and Amount are CEL expressions over the variable `order`.
type CustomRuleSpec struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Priority    string  `yaml:"priority"`
	SuccessRate float64 `yaml:"success_rate"`
	LegalBasis  string  `yaml:"legal_basis"`
	Condition   string  `yaml:"condition"`
	Amount      string  `yaml:"amount"`
}

type customRuleFile struct {
	Rules []CustomRuleSpec `yaml:"rules"`
}

// Compiler turns CEL rule specs into RecoveryRules. Programs are compiled once and are safe
// for concurrent evaluation.
type Compiler struct {
	env    *cel.Env
	logger *zap.Logger
}

func NewCompiler(logger *zap.Logger) (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("order", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("rules: cel environment: %w", err)
	}
	return &Compiler{env: env, logger: logger}, nil
}

// LoadFile reads custom rules from a YAML file and appends them to base.
func LoadFile(logger *zap.Logger, base RuleSet, path string) (RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rules: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(logger, base, f)
}

// Load parses YAML custom rules from r and appends them to base.
func Load(logger *zap.Logger, base RuleSet, r io.Reader) (RuleSet, error) {
	var file customRuleFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("rules: decode: %w", err)
	}
	c, err := NewCompiler(logger)
	if err != nil {
		return nil, err
	}
	compiled := make([]RecoveryRule, 0, len(file.Rules))
	for _, spec := range file.Rules {
		rule, err := c.Compile(spec)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, rule)
	}
	return base.Append(compiled...)
}

// Compile builds a RecoveryRule from spec. Evaluation errors at runtime are logged and treated
// as "no match".
func (c *Compiler) Compile(spec CustomRuleSpec) (RecoveryRule, error) {
	priority, err := ParsePriority(spec.Priority)
	if err != nil {
		return RecoveryRule{}, fmt.Errorf("rules: %s: %w", spec.ID, err)
	}
	cond, err := c.program(spec.Condition, cel.BoolType)
	if err != nil {
		return RecoveryRule{}, fmt.Errorf("rules: %s condition: %w", spec.ID, err)
	}
	amount, err := c.program(spec.Amount, nil)
	if err != nil {
		return RecoveryRule{}, fmt.Errorf("rules: %s amount: %w", spec.ID, err)
	}

	id := RuleID(strings.TrimSpace(spec.ID))
	name := spec.Name
	if name == "" {
		name = string(id)
	}
	logger := c.logger.With(zap.String("rule_id", string(id)))

	return RecoveryRule{
		ID:          id,
		Name:        name,
		Priority:    priority,
		SuccessRate: spec.SuccessRate,
		LegalBasis:  spec.LegalBasis,
		Condition: func(o models.Order) bool {
			out, _, err := cond.Eval(map[string]any{"order": OrderVars(o)})
			if err != nil {
				logger.Warn("custom rule condition failed", zap.String("order_id", o.OrderID), zap.Error(err))
				return false
			}
			matched, _ := out.Value().(bool)
			return matched
		},
		Amount: func(o models.Order) float64 {
			out, _, err := amount.Eval(map[string]any{"order": OrderVars(o)})
			if err != nil {
				logger.Warn("custom rule amount failed", zap.String("order_id", o.OrderID), zap.Error(err))
				return 0
			}
			switch v := out.Value().(type) {
			case float64:
				return v
			case int64:
				return float64(v)
			case uint64:
				return float64(v)
			}
			logger.Warn("custom rule amount is not numeric", zap.String("order_id", o.OrderID))
			return 0
		},
	}, nil
}

func (c *Compiler) program(expr string, want *cel.Type) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if want != nil && !ast.OutputType().IsExactType(want) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return %s, got %s", want, ast.OutputType())
	}
	return c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(celCostLimit),
	)
}

// OrderVars exposes an order to CEL under snake_case keys.
func OrderVars(o models.Order) map[string]any {
	vars := map[string]any{
		"order_id":        o.OrderID,
		"carrier":         o.Carrier,
		"service":         o.Service,
		"status":          o.Status,
		"shipping_cost":   o.ShippingCost,
		"product_value":   o.ProductValue,
		"delay_days":      int64(o.DelayDays),
		"has_pod":         o.HasPOD,
		"pod_valid":       o.PODValid,
		"pod_gps_known":   o.PODGPSMatch != nil,
		"pod_gps_match":   o.PODGPSMatch != nil && *o.PODGPSMatch,
		"tracking_number": o.TrackingNumber,
	}
	return vars
}
