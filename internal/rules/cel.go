package rules

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomEngine evaluates operator-defined CEL rules against the
// transaction population. A custom rule is a boolean predicate over one
// transaction; enough matches by the same customer raise an alert.
type CustomEngine struct {
	env      *cel.Env
	compiled []*compiledCustomRule
}

type compiledCustomRule struct {
	cfg     domain.CustomRuleConfig
	program cel.Program
}

// NewCustomEngine compiles the enabled custom rules. A compile error in
// any rule fails engine construction: bad config must surface at startup,
// not silently at evaluation time.
func NewCustomEngine(configs []domain.CustomRuleConfig) (*CustomEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("step", cel.IntType),
		cel.Variable("origin_id", cel.StringType),
		cel.Variable("destination_id", cel.StringType),
		cel.Variable("origin_balance_before", cel.DoubleType),
		cel.Variable("origin_balance_after", cel.DoubleType),
		cel.Variable("destination_balance_before", cel.DoubleType),
		cel.Variable("destination_balance_after", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &CustomEngine{env: env}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		program, err := e.compile(cfg)
		if err != nil {
			return nil, err
		}
		e.compiled = append(e.compiled, &compiledCustomRule{cfg: cfg, program: program})
	}
	return e, nil
}

func (e *CustomEngine) compile(cfg domain.CustomRuleConfig) (cel.Program, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("custom rule name is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile custom rule %s: %w", cfg.Name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("custom rule %s: expression must return bool, got %s", cfg.Name, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for custom rule %s: %w", cfg.Name, err)
	}
	return program, nil
}

// RuleNames returns the names of the loaded custom rules.
func (e *CustomEngine) RuleNames() []string {
	names := make([]string, 0, len(e.compiled))
	for _, r := range e.compiled {
		names = append(names, r.cfg.Name)
	}
	return names
}

// Evaluate runs one custom rule over the population and returns its
// per-customer alerts, ranked like the built-in rules.
func (e *CustomEngine) Evaluate(name string, txns []*domain.Transaction, topN int, detectedAt time.Time) ([]*domain.RuleAlert, error) {
	var rule *compiledCustomRule
	for _, r := range e.compiled {
		if r.cfg.Name == name {
			rule = r
			break
		}
	}
	if rule == nil {
		return nil, fmt.Errorf("custom rule %s is not loaded", name)
	}

	matched := make([]*domain.Transaction, 0)
	for _, tx := range txns {
		out, _, err := rule.program.Eval(activation(tx))
		if err != nil {
			return nil, fmt.Errorf("custom rule %s evaluation failed: %w", name, err)
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			matched = append(matched, tx)
		}
	}

	minCount := rule.cfg.MinTxnCount
	if minCount < 1 {
		minCount = 1
	}

	var alerts []*domain.RuleAlert
	for customer, group := range byCustomer(matched) {
		if len(group) < minCount {
			continue
		}

		var total float64
		for _, tx := range group {
			total += tx.Amount
		}

		alerts = append(alerts, &domain.RuleAlert{
			CustomerID: customer,
			RuleName:   rule.cfg.Name,
			DetectedAt: detectedAt,
			Amount:     total,
			TxnCount:   len(group),
			RiskScore:  rule.cfg.RiskScore,
			Description: fmt.Sprintf(
				"Custom rule %s: %d matching transactions totaling $%.2f",
				rule.cfg.Name, len(group), total,
			),
		})
	}

	return rank(alerts, func(a *domain.RuleAlert) float64 { return a.Amount }, topN), nil
}

func activation(tx *domain.Transaction) map[string]any {
	return map[string]any{
		"amount":                     tx.Amount,
		"tx_type":                    tx.Type,
		"step":                       int64(tx.Step),
		"origin_id":                  tx.OriginID,
		"destination_id":             tx.DestinationID,
		"origin_balance_before":      tx.OriginBalanceBefore,
		"origin_balance_after":       tx.OriginBalanceAfter,
		"destination_balance_before": tx.DestinationBalanceBefore,
		"destination_balance_after":  tx.DestinationBalanceAfter,
	}
}
