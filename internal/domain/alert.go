package domain

import (
	"time"
)

// Built-in detection rule identifiers. Custom rules configured via CEL
// expressions use their configured name instead.
const (
	RuleStructuring         = "Structuring_Detection"
	RuleVelocityAbuse       = "Velocity_Abuse"
	RuleRoundAmount         = "Round_Amount_Pattern"
	RuleBeneficiaryRotation = "Beneficiary_Rotation"
)

// MLAlertType is the source tag for model-produced alerts in the
// consolidated alert surface.
const MLAlertType = "ML_Anomaly"

// Alert sources for the consolidated query surface.
const (
	SourceRule = "rule"
	SourceML   = "ml"
)

// RuleAlert is one candidate produced by a rule evaluation run.
// A (customer, rule) pair holds at most one alert per run: re-running a
// rule supersedes that rule's prior alert set entirely.
type RuleAlert struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	RuleName   string    `json:"ruleName"`
	DetectedAt time.Time `json:"detectedAt"`

	// Amount is the rule-specific aggregate, e.g. total qualifying volume.
	Amount float64 `json:"amount"`

	// TxnCount is the number of transactions supporting the alert.
	TxnCount int `json:"txnCount"`

	// UniqueRecipients is set by the beneficiary rotation rule only.
	UniqueRecipients int `json:"uniqueRecipients,omitempty"`

	// RiskScore is the rule's fixed severity weight in [0, 100].
	RiskScore int `json:"riskScore"`

	// Description is the human-readable rationale for the analyst.
	Description string `json:"description"`
}

// MLAlert is one anomaly flagged by the scoring engine.
type MLAlert struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Step       int       `json:"step,omitempty"`
	DetectedAt time.Time `json:"detectedAt"`

	// AnomalyScore is normalized to [0, 1], higher = more anomalous.
	AnomalyScore float64 `json:"anomalyScore"`

	// RiskScore is the fixed risk weight attached to model alerts.
	RiskScore int `json:"riskScore"`

	// SchemaHash ties the score to the model artifact that produced it.
	SchemaHash string `json:"schemaHash"`
}

// Alert is the unified view over rule and ML alerts served by the
// consolidated query surface.
type Alert struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"` // "rule" or "ml"
	CustomerID   string    `json:"customerId"`
	RuleName     string    `json:"ruleName"`
	DetectedAt   time.Time `json:"detectedAt"`
	Amount       float64   `json:"amount,omitempty"`
	AnomalyScore float64   `json:"anomalyScore,omitempty"`
	RiskScore    int       `json:"riskScore"`
	Description  string    `json:"description,omitempty"`
}

// AlertFilter narrows alert queries on the consolidated surface.
type AlertFilter struct {
	CustomerID   string
	RuleName     string
	MinRiskScore int
	Limit        int
}

// Summary holds the global detection metrics exposed by the query surface.
type Summary struct {
	TotalTransactions int64            `json:"totalTransactions"`
	TotalRuleAlerts   int64            `json:"totalRuleAlerts"`
	RuleAlertsByRule  map[string]int64 `json:"ruleAlertsByRule"`
	TotalMLAlerts     int64            `json:"totalMlAlerts"`
	HighRiskAlerts    int64            `json:"highRiskAlerts"`

	// ProfiledCustomers is the number of customers with a behavioral
	// baseline from the last baseline build.
	ProfiledCustomers int64 `json:"profiledCustomers"`

	// AlertRate is (rule alerts + ML alerts) / transactions * 100,
	// zero when the transaction population is empty.
	AlertRate float64 `json:"alertRate"`
}
