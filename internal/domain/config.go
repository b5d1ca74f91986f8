package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings for the query-surface API
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Detection configuration. Every rule threshold lives here: acceptable
	// false-positive rates vary by deployment, so thresholds are deployment
	// configuration, never constants in rule code.
	Rules RulesConfig `json:"rules"`
	Model ModelConfig `json:"model"`

	// Observability
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// RulesConfig holds the thresholds of every built-in rule plus any
// operator-defined custom rules.
type RulesConfig struct {
	// MaxAlertsPerRule caps each rule's output (top-N by ranking metric).
	MaxAlertsPerRule int `json:"maxAlertsPerRule"`

	Structuring StructuringConfig `json:"structuring"`
	Velocity    VelocityConfig    `json:"velocity"`
	RoundAmount RoundAmountConfig `json:"roundAmount"`
	Rotation    RotationConfig    `json:"rotation"`

	// Custom rules with CEL predicates, evaluated per transaction.
	Custom []CustomRuleConfig `json:"custom,omitempty"`
}

// StructuringConfig parameterizes structuring (smurfing) detection:
// repeated transactions kept under the reporting threshold.
type StructuringConfig struct {
	AmountFloor   float64 `json:"amountFloor"`   // ignore noise below this
	AmountCeiling float64 `json:"amountCeiling"` // reporting-threshold ceiling
	MinTxnCount   int     `json:"minTxnCount"`
	MinTotal      float64 `json:"minTotal"` // summed amount floor
	RiskScore     int     `json:"riskScore"`
}

// VelocityConfig parameterizes rapid-sequence detection.
type VelocityConfig struct {
	AmountFloor  float64 `json:"amountFloor"` // materiality floor
	MaxStepDelta int     `json:"maxStepDelta"`
	RiskScore    int     `json:"riskScore"`
}

// RoundAmountConfig parameterizes round-denomination detection.
type RoundAmountConfig struct {
	Denomination float64 `json:"denomination"`
	AmountFloor  float64 `json:"amountFloor"`
	MinTxnCount  int     `json:"minTxnCount"`
	RiskScore    int     `json:"riskScore"`
}

// RotationConfig parameterizes beneficiary rotation detection.
type RotationConfig struct {
	MinRecipients int `json:"minRecipients"`
	MinTxnCount   int `json:"minTxnCount"`
	RiskScore     int `json:"riskScore"`
}

// CustomRuleConfig defines an operator-supplied rule: a CEL predicate over
// single transactions, alerted per customer when enough matches accumulate.
type CustomRuleConfig struct {
	Name        string `json:"name"`
	Expression  string `json:"expression"`
	MinTxnCount int    `json:"minTxnCount"`
	RiskScore   int    `json:"riskScore"`
	Enabled     bool   `json:"enabled"`
}

// ModelConfig parameterizes the anomaly scoring engine.
type ModelConfig struct {
	// ArtifactPath is where the trained model bundle is persisted.
	ArtifactPath string `json:"artifactPath"`

	// Training sample bounds: fraction of the population, hard-capped.
	SampleFraction float64 `json:"sampleFraction"`
	SampleCap      int     `json:"sampleCap"`

	// Isolation forest parameters
	Trees         int     `json:"trees"`
	SubsampleSize int     `json:"subsampleSize"`
	Contamination float64 `json:"contamination"`
	Seed          int64   `json:"seed"`

	// ScoreLimit bounds the batch size of one scoring run.
	ScoreLimit int `json:"scoreLimit"`

	// RiskScore is the fixed risk weight attached to ML alerts.
	RiskScore int `json:"riskScore"`

	// IncludeStep adds the time step to the feature vector.
	IncludeStep bool `json:"includeStep"`
}

// DefaultConfig returns the default single-node configuration.
// Rule thresholds default to the documented detection policy; every value
// is expected to be tuned per deployment.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Rules: RulesConfig{
			MaxAlertsPerRule: 50,
			Structuring: StructuringConfig{
				AmountFloor:   1_000,
				AmountCeiling: 50_000,
				MinTxnCount:   3,
				MinTotal:      5_000,
				RiskScore:     90,
			},
			Velocity: VelocityConfig{
				AmountFloor:  100_000,
				MaxStepDelta: 2,
				RiskScore:    75,
			},
			RoundAmount: RoundAmountConfig{
				Denomination: 100_000,
				AmountFloor:  100_000,
				MinTxnCount:  2,
				RiskScore:    60,
			},
			Rotation: RotationConfig{
				MinRecipients: 3,
				MinTxnCount:   3,
				RiskScore:     70,
			},
		},
		Model: ModelConfig{
			ArtifactPath:   "./data/anomaly_model.json",
			SampleFraction: 0.10,
			SampleCap:      100_000,
			Trees:          100,
			SubsampleSize:  256,
			Contamination:  0.005,
			Seed:           42,
			ScoreLimit:     50_000,
			RiskScore:      85,
			IncludeStep:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads a JSON config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}
