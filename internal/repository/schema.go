package repository

// Schema definitions for the Kestrel analytical store.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    step INTEGER NOT NULL,
    type TEXT NOT NULL,
    amount REAL NOT NULL,
    origin_id TEXT NOT NULL,
    destination_id TEXT NOT NULL,
    origin_balance_before REAL NOT NULL,
    origin_balance_after REAL NOT NULL,
    destination_balance_before REAL NOT NULL,
    destination_balance_after REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_origin ON transactions(origin_id);
CREATE INDEX IF NOT EXISTS idx_transactions_type ON transactions(type);
CREATE INDEX IF NOT EXISTS idx_transactions_step ON transactions(step);
`

const schemaRuleAlerts = `
CREATE TABLE IF NOT EXISTS rule_alerts (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    detected_at TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    txn_count INTEGER NOT NULL,
    unique_recipients INTEGER NOT NULL DEFAULT 0,
    risk_score INTEGER NOT NULL,
    description TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_alerts_rule ON rule_alerts(rule_name);
CREATE INDEX IF NOT EXISTS idx_rule_alerts_customer ON rule_alerts(customer_id);
CREATE INDEX IF NOT EXISTS idx_rule_alerts_risk ON rule_alerts(risk_score);
`

const schemaMLAlerts = `
CREATE TABLE IF NOT EXISTS ml_alerts (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    step INTEGER NOT NULL DEFAULT 0,
    detected_at TIMESTAMP NOT NULL,
    anomaly_score REAL NOT NULL,
    risk_score INTEGER NOT NULL,
    schema_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ml_alerts_customer ON ml_alerts(customer_id);
CREATE INDEX IF NOT EXISTS idx_ml_alerts_score ON ml_alerts(anomaly_score);
`

const schemaBaselines = `
CREATE TABLE IF NOT EXISTS customer_baselines (
    customer_id TEXT PRIMARY KEY,
    txn_count INTEGER NOT NULL,
    avg_amount REAL NOT NULL,
    std_amount REAL NOT NULL,
    min_amount REAL NOT NULL,
    max_amount REAL NOT NULL,
    distinct_types INTEGER NOT NULL,
    distinct_recipients INTEGER NOT NULL,
    total_volume REAL NOT NULL,
    built_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRuleAlerts,
		schemaMLAlerts,
		schemaBaselines,
	}
}
