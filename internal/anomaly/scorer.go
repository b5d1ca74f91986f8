package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ScoreReport summarizes one scoring run.
type ScoreReport struct {
	Scored     int     `json:"scored"`
	Flagged    int     `json:"flagged"`
	MaxScore   float64 `json:"maxScore"`
	SchemaHash string  `json:"schemaHash"`
}

// Scorer applies a persisted model artifact to a transaction batch and
// writes the flagged records as ML alerts. Scoring never refits the
// scaler and fails hard on a feature schema mismatch.
type Scorer struct {
	repo domain.Repository
	cfg  domain.ModelConfig

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewScorer creates a batch scorer.
func NewScorer(repo domain.Repository, cfg domain.ModelConfig) *Scorer {
	return &Scorer{
		repo: repo,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Score loads the artifact, scores a bounded batch of the population and
// atomically replaces the ML alert set with the flagged records.
func (s *Scorer) Score(ctx context.Context) (*ScoreReport, error) {
	artifact, err := LoadArtifact(s.cfg.ArtifactPath)
	if err != nil {
		return nil, err
	}
	return s.ScoreWith(ctx, artifact)
}

// ScoreWith scores using an already-loaded artifact.
func (s *Scorer) ScoreWith(ctx context.Context, artifact *Artifact) (*ScoreReport, error) {
	// The artifact must match the feature schema this build expects.
	if err := artifact.CheckSchema(FeatureNames(s.cfg.IncludeStep)); err != nil {
		return nil, err
	}

	limit := s.cfg.ScoreLimit
	if limit <= 0 {
		limit = 50_000
	}
	batch, err := s.repo.SampleTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load scoring batch: %w", err)
	}
	if len(batch) == 0 {
		// An empty population scores to an empty alert set, not an error.
		if err := s.repo.ReplaceMLAlerts(ctx, nil); err != nil {
			return nil, fmt.Errorf("failed to clear ml alerts: %w", err)
		}
		return &ScoreReport{SchemaHash: artifact.SchemaHash}, nil
	}

	features, err := Matrix(batch, artifact.FeatureNames)
	if err != nil {
		return nil, fmt.Errorf("failed to build scoring features: %w", err)
	}
	scaled, err := artifact.Scaler.Transform(features)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	scores, err := artifact.Model.Scores(scaled)
	if err != nil {
		return nil, fmt.Errorf("failed to score batch: %w", err)
	}

	detectedAt := s.now()
	report := &ScoreReport{Scored: len(batch), SchemaHash: artifact.SchemaHash}

	var alerts []*domain.MLAlert
	for i, score := range scores {
		if score > report.MaxScore {
			report.MaxScore = score
		}
		if !artifact.Model.IsOutlier(score) {
			continue
		}
		alerts = append(alerts, &domain.MLAlert{
			ID:           uuid.New().String(),
			CustomerID:   batch[i].OriginID,
			Step:         batch[i].Step,
			DetectedAt:   detectedAt,
			AnomalyScore: score,
			RiskScore:    s.cfg.RiskScore,
			SchemaHash:   artifact.SchemaHash,
		})
	}
	report.Flagged = len(alerts)

	if err := s.repo.ReplaceMLAlerts(ctx, alerts); err != nil {
		return nil, fmt.Errorf("failed to persist ml alerts: %w", err)
	}

	slog.Info("anomaly scoring completed",
		"scored", report.Scored,
		"flagged", report.Flagged,
		"max_score", report.MaxScore,
		"schema_hash", artifact.SchemaHash[:12],
	)
	return report, nil
}
