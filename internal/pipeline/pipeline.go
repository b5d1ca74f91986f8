// Package pipeline orchestrates the detection stages end to end:
// ingest, rules, baseline, train, score, summary.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/baseline"
	"github.com/opensource-finance/kestrel/internal/consolidate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/observability"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Stage names, in execution order.
const (
	StageIngest   = "ingest"
	StageRules    = "rules"
	StageBaseline = "baseline"
	StageTrain    = "train"
	StageScore    = "score"
	StageSummary  = "summary"
)

// AllStages lists every stage in execution order.
var AllStages = []string{
	StageIngest, StageRules, StageBaseline, StageTrain, StageScore, StageSummary,
}

// StageResult records one stage's outcome in the run report.
type StageResult struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail,omitempty"`
}

// RunReport is the aggregate result of one pipeline run.
type RunReport struct {
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Stages     []StageResult   `json:"stages"`
	Outcomes   []rules.Outcome `json:"ruleOutcomes,omitempty"`
	Summary    *domain.Summary `json:"summary,omitempty"`
}

// Options selects what a run does. Zero value runs every stage except
// ingest (which needs a CSV path).
type Options struct {
	// CSVPath, when set, enables the ingest stage from that file.
	CSVPath string

	// Stages restricts the run to the named stages; nil means all
	// runnable stages in order.
	Stages []string
}

// Pipeline wires the detection stages over one repository. Stages fail
// fast: an error in one stage aborts the run, though individual rules
// inside the rules stage are still isolated from each other.
type Pipeline struct {
	repo    domain.Repository
	cfg     *domain.Config
	runner  *rules.Runner
	builder *baseline.Builder
	trainer *anomaly.Trainer
	scorer  *anomaly.Scorer
	queries *consolidate.Service
	bus     domain.EventBus
	metrics *observability.Metrics
}

// New assembles a pipeline. bus and metrics may be nil; cache is used
// only for invalidation after a run rewrites the alert stores.
func New(repo domain.Repository, cfg *domain.Config, cache domain.Cache, bus domain.EventBus, metrics *observability.Metrics) (*Pipeline, error) {
	runner, err := rules.NewRunner(repo, cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule runner: %w", err)
	}
	return &Pipeline{
		repo:    repo,
		cfg:     cfg,
		runner:  runner,
		builder: baseline.NewBuilder(repo),
		trainer: anomaly.NewTrainer(repo, cfg.Model),
		scorer:  anomaly.NewScorer(repo, cfg.Model),
		queries: consolidate.NewService(repo, cache),
		bus:     bus,
		metrics: metrics,
	}, nil
}

// Run executes the selected stages in order and publishes completion
// events. The returned report covers the stages that ran; on error it
// covers the stages completed before the failure.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*RunReport, error) {
	report := &RunReport{StartedAt: time.Now().UTC()}

	selected, err := selectStages(opts)
	if err != nil {
		return report, err
	}

	for _, stage := range selected {
		start := time.Now()
		detail, err := p.runStage(ctx, stage, opts, report)
		elapsed := time.Since(start)

		if p.metrics != nil {
			p.metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
			if err != nil {
				p.metrics.StageFailures.WithLabelValues(stage).Inc()
			}
		}
		if err != nil {
			p.finish(ctx, report, "failure")
			return report, fmt.Errorf("stage %s failed: %w", stage, err)
		}

		report.Stages = append(report.Stages, StageResult{
			Stage:    stage,
			Duration: elapsed,
			Detail:   detail,
		})
		slog.Info("pipeline stage completed",
			"stage", stage,
			"duration_ms", elapsed.Milliseconds(),
			"detail", detail,
		)
	}

	p.finish(ctx, report, "success")
	return report, nil
}

func selectStages(opts Options) ([]string, error) {
	if len(opts.Stages) == 0 {
		stages := AllStages
		if opts.CSVPath == "" {
			stages = stages[1:]
		}
		return stages, nil
	}

	valid := make(map[string]bool, len(AllStages))
	for _, s := range AllStages {
		valid[s] = true
	}
	for _, s := range opts.Stages {
		if !valid[s] {
			return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidInput, s)
		}
		if s == StageIngest && opts.CSVPath == "" {
			return nil, fmt.Errorf("%w: ingest stage requires a csv path", domain.ErrInvalidInput)
		}
	}
	// Preserve canonical order regardless of how stages were listed.
	requested := make(map[string]bool, len(opts.Stages))
	for _, s := range opts.Stages {
		requested[s] = true
	}
	var ordered []string
	for _, s := range AllStages {
		if requested[s] {
			ordered = append(ordered, s)
		}
	}
	return ordered, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage string, opts Options, report *RunReport) (string, error) {
	switch stage {
	case StageIngest:
		rep, err := ingest.NewLoader(p.repo).LoadFile(ctx, opts.CSVPath)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d loaded, %d skipped", rep.Loaded, rep.Skipped), nil

	case StageRules:
		outcomes := p.runner.Run(ctx)
		report.Outcomes = outcomes
		var total, failed int
		var maxRisk int
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				continue
			}
			total += o.AlertCount
			if o.AlertCount > 0 {
				if risk := p.ruleRisk(o.Rule); risk > maxRisk {
					maxRisk = risk
				}
			}
			if p.metrics != nil {
				p.metrics.RuleAlerts.WithLabelValues(o.Rule).Set(float64(o.AlertCount))
			}
		}
		if failed == len(outcomes) {
			return "", fmt.Errorf("all %d rules failed", failed)
		}
		if total > 0 {
			p.publishAlerts(ctx, &domain.AlertsRaisedEvent{
				Source:     domain.SourceRule,
				AlertCount: total,
				MaxRisk:    maxRisk,
			})
		}
		return fmt.Sprintf("%d alerts across %d rules (%d failed)", total, len(outcomes), failed), nil

	case StageBaseline:
		count, err := p.builder.Run(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d baselines", count), nil

	case StageTrain:
		artifact, err := p.trainer.Train(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("trained on %d samples", artifact.SampleSize), nil

	case StageScore:
		rep, err := p.scorer.Score(ctx)
		if err != nil {
			return "", err
		}
		if p.metrics != nil {
			p.metrics.MLAlerts.Set(float64(rep.Flagged))
		}
		if rep.Flagged > 0 {
			p.publishAlerts(ctx, &domain.AlertsRaisedEvent{
				Source:     domain.SourceML,
				RuleName:   domain.MLAlertType,
				AlertCount: rep.Flagged,
				MaxRisk:    p.cfg.Model.RiskScore,
			})
		}
		return fmt.Sprintf("%d scored, %d flagged", rep.Scored, rep.Flagged), nil

	case StageSummary:
		p.queries.InvalidateSummary(ctx)
		summary, err := p.queries.Summary(ctx)
		if err != nil {
			return "", err
		}
		report.Summary = summary
		return fmt.Sprintf("%d rule + %d ml alerts over %d transactions",
			summary.TotalRuleAlerts, summary.TotalMLAlerts, summary.TotalTransactions), nil

	default:
		return "", fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidInput, stage)
	}
}

// ruleRisk maps a rule name to its configured risk score, for event
// payloads.
func (p *Pipeline) ruleRisk(name string) int {
	switch name {
	case domain.RuleStructuring:
		return p.cfg.Rules.Structuring.RiskScore
	case domain.RuleVelocityAbuse:
		return p.cfg.Rules.Velocity.RiskScore
	case domain.RuleRoundAmount:
		return p.cfg.Rules.RoundAmount.RiskScore
	case domain.RuleBeneficiaryRotation:
		return p.cfg.Rules.Rotation.RiskScore
	}
	for _, c := range p.cfg.Rules.Custom {
		if c.Name == name {
			return c.RiskScore
		}
	}
	return 0
}

func (p *Pipeline) finish(ctx context.Context, report *RunReport, result string) {
	report.FinishedAt = time.Now().UTC()
	if p.metrics != nil {
		p.metrics.PipelineRuns.WithLabelValues(result).Inc()
	}
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.TopicRunCompleted, payload); err != nil {
		slog.Warn("failed to publish run completion", "error", err)
	}
}

func (p *Pipeline) publishAlerts(ctx context.Context, event *domain.AlertsRaisedEvent) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.TopicAlertsRaised, payload); err != nil {
		slog.Warn("failed to publish alerts event", "error", err)
	}
}
