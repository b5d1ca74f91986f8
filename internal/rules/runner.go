package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Outcome is the explicit result of one rule evaluation. A failed rule
// is a value here, not a swallowed exception: the orchestrator aggregates
// outcomes into a run report.
type Outcome struct {
	Rule       string        `json:"rule"`
	AlertCount int           `json:"alertCount"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Runner executes every configured rule against the transaction
// population and persists each rule's alert set with atomic supersede
// semantics. Rules are isolated: one failing rule never blocks the rest.
type Runner struct {
	repo   domain.Repository
	cfg    domain.RulesConfig
	custom *CustomEngine

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewRunner creates a rule runner. Custom CEL rules are compiled here so
// that configuration errors surface before any evaluation starts.
func NewRunner(repo domain.Repository, cfg domain.RulesConfig) (*Runner, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	custom, err := NewCustomEngine(cfg.Custom)
	if err != nil {
		return nil, err
	}

	return &Runner{
		repo:   repo,
		cfg:    cfg,
		custom: custom,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func validate(cfg domain.RulesConfig) error {
	scores := map[string]int{
		"structuring": cfg.Structuring.RiskScore,
		"velocity":    cfg.Velocity.RiskScore,
		"roundAmount": cfg.RoundAmount.RiskScore,
		"rotation":    cfg.Rotation.RiskScore,
	}
	for _, c := range cfg.Custom {
		if c.Enabled {
			scores["custom:"+c.Name] = c.RiskScore
		}
	}
	for name, score := range scores {
		if score < 0 || score > 100 {
			return fmt.Errorf("rule %s: risk score %d outside [0, 100]", name, score)
		}
	}
	return nil
}

// Run evaluates every rule sequentially and returns one outcome per rule.
// An error in one rule is recorded in its outcome and the remaining rules
// still execute; the run is partially successful.
func (r *Runner) Run(ctx context.Context) []Outcome {
	type ruleFn struct {
		name string
		run  func(ctx context.Context) (int, error)
	}

	ruleFns := []ruleFn{
		{domain.RuleStructuring, r.runStructuring},
		{domain.RuleVelocityAbuse, r.runVelocity},
		{domain.RuleRoundAmount, r.runRoundAmount},
		{domain.RuleBeneficiaryRotation, r.runRotation},
	}
	for _, name := range r.custom.RuleNames() {
		name := name
		ruleFns = append(ruleFns, ruleFn{name, func(ctx context.Context) (int, error) {
			return r.runCustom(ctx, name)
		}})
	}

	outcomes := make([]Outcome, 0, len(ruleFns))
	for _, rf := range ruleFns {
		start := time.Now()
		count, err := rf.run(ctx)
		outcome := Outcome{
			Rule:       rf.name,
			AlertCount: count,
			Duration:   time.Since(start),
			Err:        err,
		}
		if err != nil {
			slog.Error("rule evaluation failed",
				"rule", rf.name,
				"error", err,
			)
		} else {
			slog.Info("rule evaluated",
				"rule", rf.name,
				"alerts", count,
				"duration_ms", outcome.Duration.Milliseconds(),
			)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (r *Runner) runStructuring(ctx context.Context) (int, error) {
	cfg := r.cfg.Structuring
	txns, err := r.repo.ListTransactionsByTypes(ctx, StructuringTypes, cfg.AmountFloor, cfg.AmountCeiling)
	if err != nil {
		return 0, fmt.Errorf("failed to load structuring candidates: %w", err)
	}

	alerts := EvaluateStructuring(txns, cfg, r.cfg.MaxAlertsPerRule, r.now())
	return r.persist(ctx, domain.RuleStructuring, alerts)
}

func (r *Runner) runVelocity(ctx context.Context) (int, error) {
	cfg := r.cfg.Velocity
	txns, err := r.repo.ListTransactionsByTypes(ctx, VelocityTypes, cfg.AmountFloor, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load velocity candidates: %w", err)
	}

	alerts := EvaluateVelocity(txns, cfg, r.cfg.MaxAlertsPerRule, r.now())
	return r.persist(ctx, domain.RuleVelocityAbuse, alerts)
}

func (r *Runner) runRoundAmount(ctx context.Context) (int, error) {
	cfg := r.cfg.RoundAmount
	txns, err := r.repo.ListTransactionsByTypes(ctx, RoundAmountTypes, cfg.AmountFloor, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load round amount candidates: %w", err)
	}

	alerts := EvaluateRoundAmount(txns, cfg, r.cfg.MaxAlertsPerRule, r.now())
	return r.persist(ctx, domain.RuleRoundAmount, alerts)
}

func (r *Runner) runRotation(ctx context.Context) (int, error) {
	txns, err := r.repo.ListTransactionsByTypes(ctx, RotationTypes, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load rotation candidates: %w", err)
	}

	alerts := EvaluateRotation(txns, r.cfg.Rotation, r.cfg.MaxAlertsPerRule, r.now())
	return r.persist(ctx, domain.RuleBeneficiaryRotation, alerts)
}

func (r *Runner) runCustom(ctx context.Context, name string) (int, error) {
	txns, err := r.repo.ListTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load transactions for custom rule %s: %w", name, err)
	}

	alerts, err := r.custom.Evaluate(name, txns, r.cfg.MaxAlertsPerRule, r.now())
	if err != nil {
		return 0, err
	}
	return r.persist(ctx, name, alerts)
}

func (r *Runner) persist(ctx context.Context, ruleName string, alerts []*domain.RuleAlert) (int, error) {
	for _, a := range alerts {
		a.ID = uuid.New().String()
	}
	if err := r.repo.ReplaceRuleAlerts(ctx, ruleName, alerts); err != nil {
		return 0, fmt.Errorf("failed to persist %s alerts: %w", ruleName, err)
	}
	return len(alerts), nil
}
