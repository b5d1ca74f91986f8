package domain

import (
	"context"
	"time"
)

// Repository defines the interface to the analytical store. Every stage
// receives an explicit Repository handle instead of an ambient global
// connection, so each one is testable against a fixture store.
type Repository interface {
	// Transaction population (written only by ingestion)
	TruncateTransactions(ctx context.Context) error
	InsertTransactions(ctx context.Context, txns []*Transaction) error
	CountTransactions(ctx context.Context) (int64, error)
	ListTransactions(ctx context.Context) ([]*Transaction, error)

	// ListTransactionsByTypes returns transactions of the given types with
	// amount in [minAmount, maxAmount). A maxAmount <= 0 means unbounded.
	ListTransactionsByTypes(ctx context.Context, types []string, minAmount, maxAmount float64) ([]*Transaction, error)

	// SampleTransactions returns up to limit transactions drawn randomly
	// from the population, for model training.
	SampleTransactions(ctx context.Context, limit int) ([]*Transaction, error)

	// Rule alert store. ReplaceRuleAlerts atomically supersedes all prior
	// alerts of the named rule with the new set, inside one transaction:
	// a concurrent reader never observes the transient empty state.
	ReplaceRuleAlerts(ctx context.Context, ruleName string, alerts []*RuleAlert) error
	ListRuleAlerts(ctx context.Context, filter AlertFilter) ([]*RuleAlert, error)
	CountRuleAlertsByRule(ctx context.Context) (map[string]int64, error)
	CountRuleAlerts(ctx context.Context, minRiskScore int) (int64, error)

	// ML alert store, same atomic-replace contract.
	ReplaceMLAlerts(ctx context.Context, alerts []*MLAlert) error
	ListMLAlerts(ctx context.Context, limit int) ([]*MLAlert, error)
	CountMLAlerts(ctx context.Context) (int64, error)

	// Baseline store, replaced wholesale on every build.
	ReplaceBaselines(ctx context.Context, baselines []*CustomerBaseline) error
	GetBaseline(ctx context.Context, customerID string) (*CustomerBaseline, error)
	CountBaselines(ctx context.Context) (int64, error)

	// GetCustomerProfile aggregates a single customer's activity.
	// Returns ErrNotFound when the customer has no transactions at all;
	// a customer with transactions but zero alerts is not an error.
	GetCustomerProfile(ctx context.Context, customerID string) (*CustomerProfile, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
