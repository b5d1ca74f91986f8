package anomaly

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNoModel means scoring was attempted without a trained artifact.
	ErrNoModel = errors.New("no trained model artifact")

	// ErrSchemaMismatch means the artifact was trained on a different
	// feature schema than the one in use. Not recoverable without
	// retraining.
	ErrSchemaMismatch = errors.New("model artifact feature schema mismatch")
)

// Artifact is the opaque trained-model bundle: the fitted forest, the
// fitted scaler, and the ordered feature list, persisted and loaded as
// one unit. Partial loads are invalid by construction.
type Artifact struct {
	Model        *IsolationForest `json:"model"`
	Scaler       *StandardScaler  `json:"scaler"`
	FeatureNames []string         `json:"featureNames"`

	// SchemaHash versions the feature schema the model was trained on.
	SchemaHash string `json:"schemaHash"`

	TrainedAt  time.Time `json:"trainedAt"`
	SampleSize int       `json:"sampleSize"`
}

// Validate checks the artifact loaded as a complete unit.
func (a *Artifact) Validate() error {
	if a.Model == nil || a.Scaler == nil || len(a.FeatureNames) == 0 {
		return fmt.Errorf("%w: artifact bundle is incomplete", ErrNoModel)
	}
	if a.SchemaHash != SchemaHash(a.FeatureNames) {
		return fmt.Errorf("%w: stored hash does not match stored feature list", ErrSchemaMismatch)
	}
	return nil
}

// CheckSchema verifies the artifact against the feature schema expected
// by the caller. A mismatch is a hard failure: scoring against a
// schema-incompatible artifact must never silently misscore.
func (a *Artifact) CheckSchema(expectedNames []string) error {
	if SchemaHash(expectedNames) != a.SchemaHash {
		return fmt.Errorf("%w: artifact trained on %v, scoring expects %v",
			ErrSchemaMismatch, a.FeatureNames, expectedNames)
	}
	return nil
}

// Save persists the artifact atomically: the bundle is written to a
// temporary file and renamed into place, so readers only ever see a
// complete artifact.
func (a *Artifact) Save(path string) error {
	if err := a.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model artifact: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to publish model artifact: %w", err)
	}
	return nil
}

// LoadArtifact reads a persisted artifact as one unit.
// Returns ErrNoModel when no artifact exists at the path.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (run training first)", ErrNoModel, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
