package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Trainer fits the outlier model on a bounded sample of the transaction
// population and persists the result as one atomic artifact. Training
// runs on a slow cadence, decoupled in time from scoring; it blocks
// until done and imposes no timeout of its own.
type Trainer struct {
	repo domain.Repository
	cfg  domain.ModelConfig
}

// NewTrainer creates a model trainer.
func NewTrainer(repo domain.Repository, cfg domain.ModelConfig) *Trainer {
	return &Trainer{repo: repo, cfg: cfg}
}

// Train draws the training sample, fits scaler and forest, and writes
// the artifact to the configured path.
func (t *Trainer) Train(ctx context.Context) (*Artifact, error) {
	total, err := t.repo.CountTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to size training population: %w", err)
	}
	if total == 0 {
		return nil, fmt.Errorf("cannot train on an empty transaction population")
	}

	limit := int(t.cfg.SampleFraction * float64(total))
	if limit < 1 {
		limit = 1
	}
	if t.cfg.SampleCap > 0 && limit > t.cfg.SampleCap {
		limit = t.cfg.SampleCap
	}

	sample, err := t.repo.SampleTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to draw training sample: %w", err)
	}

	featureNames := FeatureNames(t.cfg.IncludeStep)
	features, err := Matrix(sample, featureNames)
	if err != nil {
		return nil, fmt.Errorf("failed to build training features: %w", err)
	}

	scaler := &StandardScaler{}
	if err := scaler.Fit(features); err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	scaled, err := scaler.Transform(features)
	if err != nil {
		return nil, fmt.Errorf("failed to scale training features: %w", err)
	}

	start := time.Now()
	forest := NewIsolationForest(t.cfg.Trees, t.cfg.SubsampleSize, t.cfg.Contamination, t.cfg.Seed)
	if err := forest.Fit(scaled); err != nil {
		return nil, fmt.Errorf("failed to fit isolation forest: %w", err)
	}

	artifact := &Artifact{
		Model:        forest,
		Scaler:       scaler,
		FeatureNames: featureNames,
		SchemaHash:   SchemaHash(featureNames),
		TrainedAt:    time.Now().UTC(),
		SampleSize:   len(sample),
	}
	if err := artifact.Save(t.cfg.ArtifactPath); err != nil {
		return nil, err
	}

	slog.Info("anomaly model trained",
		"sample_size", len(sample),
		"trees", forest.Trees,
		"contamination", forest.Contamination,
		"threshold", forest.Threshold,
		"schema_hash", artifact.SchemaHash[:12],
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return artifact, nil
}
