// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Sentinel errors re-exported from domain for callers that only import
// the repository.
var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// insertBatchSize bounds the parameter count of one bulk INSERT statement.
const insertBatchSize = 500

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// TruncateTransactions removes the whole transaction population, ahead of
// a full reload by the ingestion stage.
func (r *SQLRepository) TruncateTransactions(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM transactions`)
	return err
}

// InsertTransactions bulk-inserts transaction records in batches.
func (r *SQLRepository) InsertTransactions(ctx context.Context, txns []*domain.Transaction) error {
	for start := 0; start < len(txns); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(txns) {
			end = len(txns)
		}
		if err := r.insertTransactionBatch(ctx, txns[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) insertTransactionBatch(ctx context.Context, txns []*domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO transactions (
			step, type, amount, origin_id, destination_id,
			origin_balance_before, origin_balance_after,
			destination_balance_before, destination_balance_after
		) VALUES `)

	args := make([]any, 0, len(txns)*9)
	for i, tx := range txns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			tx.Step, tx.Type, tx.Amount,
			tx.OriginID, tx.DestinationID,
			tx.OriginBalanceBefore, tx.OriginBalanceAfter,
			tx.DestinationBalanceBefore, tx.DestinationBalanceAfter,
		)
	}

	_, err := r.db.ExecContext(ctx, r.rebind(sb.String()), args...)
	return err
}

// CountTransactions returns the size of the transaction population.
func (r *SQLRepository) CountTransactions(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count)
	return count, err
}

// ListTransactions returns the full transaction population ordered by step.
func (r *SQLRepository) ListTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	query := `
		SELECT step, type, amount, origin_id, destination_id,
			   origin_balance_before, origin_balance_after,
			   destination_balance_before, destination_balance_after
		FROM transactions
		ORDER BY step, origin_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListTransactionsByTypes returns the qualifying set for a rule: matching
// types with amount in [minAmount, maxAmount). maxAmount <= 0 is unbounded.
func (r *SQLRepository) ListTransactionsByTypes(ctx context.Context, types []string, minAmount, maxAmount float64) ([]*domain.Transaction, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: at least one transaction type is required", ErrInvalidInput)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", ")
	query := fmt.Sprintf(`
		SELECT step, type, amount, origin_id, destination_id,
			   origin_balance_before, origin_balance_after,
			   destination_balance_before, destination_balance_after
		FROM transactions
		WHERE type IN (%s) AND amount >= ?
	`, placeholders)

	args := make([]any, 0, len(types)+2)
	for _, t := range types {
		args = append(args, t)
	}
	args = append(args, minAmount)

	if maxAmount > 0 {
		query += " AND amount < ?"
		args = append(args, maxAmount)
	}
	query += " ORDER BY origin_id, step"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// SampleTransactions draws up to limit transactions at random, for model
// training. The sample is not reproducible across calls; determinism is
// only guaranteed for a fixed sample.
func (r *SQLRepository) SampleTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: sample limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT step, type, amount, origin_id, destination_id,
			   origin_balance_before, origin_balance_after,
			   destination_balance_before, destination_balance_after
		FROM transactions
		ORDER BY RANDOM()
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.Step, &tx.Type, &tx.Amount,
			&tx.OriginID, &tx.DestinationID,
			&tx.OriginBalanceBefore, &tx.OriginBalanceAfter,
			&tx.DestinationBalanceBefore, &tx.DestinationBalanceAfter,
		); err != nil {
			return nil, err
		}
		txns = append(txns, &tx)
	}
	return txns, rows.Err()
}

// ReplaceRuleAlerts supersedes all prior alerts of the named rule with the
// new set. The delete and inserts run inside one SQL transaction, so a
// concurrent reader never observes the transient empty state between them.
func (r *SQLRepository) ReplaceRuleAlerts(ctx context.Context, ruleName string, alerts []*domain.RuleAlert) error {
	if ruleName == "" {
		return fmt.Errorf("%w: ruleName is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin alert replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM rule_alerts WHERE rule_name = ?`), ruleName); err != nil {
		return err
	}

	insert := r.rebind(`
		INSERT INTO rule_alerts (
			id, customer_id, rule_name, detected_at, amount,
			txn_count, unique_recipients, risk_score, description
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, a := range alerts {
		if _, err := tx.ExecContext(ctx, insert,
			a.ID, a.CustomerID, a.RuleName, a.DetectedAt, a.Amount,
			a.TxnCount, a.UniqueRecipients, a.RiskScore, a.Description,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListRuleAlerts retrieves alerts matching the filter, ordered by risk
// score descending with customer ID as the deterministic tiebreak.
func (r *SQLRepository) ListRuleAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.RuleAlert, error) {
	query := `
		SELECT id, customer_id, rule_name, detected_at, amount,
			   txn_count, unique_recipients, risk_score, description
		FROM rule_alerts
		WHERE risk_score >= ?
	`
	args := []any{filter.MinRiskScore}

	if filter.RuleName != "" {
		query += " AND rule_name = ?"
		args = append(args, filter.RuleName)
	}
	if filter.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, filter.CustomerID)
	}

	query += " ORDER BY risk_score DESC, amount DESC, customer_id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.RuleAlert
	for rows.Next() {
		var a domain.RuleAlert
		if err := rows.Scan(
			&a.ID, &a.CustomerID, &a.RuleName, &a.DetectedAt, &a.Amount,
			&a.TxnCount, &a.UniqueRecipients, &a.RiskScore, &a.Description,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// CountRuleAlertsByRule returns per-rule alert counts for the summary.
func (r *SQLRepository) CountRuleAlertsByRule(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rule_name, COUNT(*) FROM rule_alerts GROUP BY rule_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var rule string
		var count int64
		if err := rows.Scan(&rule, &count); err != nil {
			return nil, err
		}
		counts[rule] = count
	}
	return counts, rows.Err()
}

// CountRuleAlerts returns the number of rule alerts at or above the
// given risk score.
func (r *SQLRepository) CountRuleAlerts(ctx context.Context, minRiskScore int) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(*) FROM rule_alerts WHERE risk_score >= ?`),
		minRiskScore,
	).Scan(&count)
	return count, err
}

// ReplaceMLAlerts supersedes the model alert set atomically.
func (r *SQLRepository) ReplaceMLAlerts(ctx context.Context, alerts []*domain.MLAlert) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ml alert replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ml_alerts`); err != nil {
		return err
	}

	insert := r.rebind(`
		INSERT INTO ml_alerts (
			id, customer_id, step, detected_at, anomaly_score, risk_score, schema_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	for _, a := range alerts {
		if _, err := tx.ExecContext(ctx, insert,
			a.ID, a.CustomerID, a.Step, a.DetectedAt,
			a.AnomalyScore, a.RiskScore, a.SchemaHash,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListMLAlerts retrieves model alerts ordered by anomaly score descending.
func (r *SQLRepository) ListMLAlerts(ctx context.Context, limit int) ([]*domain.MLAlert, error) {
	query := `
		SELECT id, customer_id, step, detected_at, anomaly_score, risk_score, schema_hash
		FROM ml_alerts
		ORDER BY anomaly_score DESC, customer_id
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.MLAlert
	for rows.Next() {
		var a domain.MLAlert
		if err := rows.Scan(
			&a.ID, &a.CustomerID, &a.Step, &a.DetectedAt,
			&a.AnomalyScore, &a.RiskScore, &a.SchemaHash,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// CountMLAlerts returns the number of model alerts.
func (r *SQLRepository) CountMLAlerts(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ml_alerts`).Scan(&count)
	return count, err
}

// ReplaceBaselines replaces the baseline table wholesale.
func (r *SQLRepository) ReplaceBaselines(ctx context.Context, baselines []*domain.CustomerBaseline) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin baseline replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM customer_baselines`); err != nil {
		return err
	}

	insert := r.rebind(`
		INSERT INTO customer_baselines (
			customer_id, txn_count, avg_amount, std_amount, min_amount,
			max_amount, distinct_types, distinct_recipients, total_volume, built_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, b := range baselines {
		if _, err := tx.ExecContext(ctx, insert,
			b.CustomerID, b.TxnCount, b.AvgAmount, b.StdAmount, b.MinAmount,
			b.MaxAmount, b.DistinctTypes, b.DistinctRecipients, b.TotalVolume, b.BuiltAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetBaseline retrieves a single customer's baseline.
func (r *SQLRepository) GetBaseline(ctx context.Context, customerID string) (*domain.CustomerBaseline, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customerID is required", ErrInvalidInput)
	}

	query := `
		SELECT customer_id, txn_count, avg_amount, std_amount, min_amount,
			   max_amount, distinct_types, distinct_recipients, total_volume, built_at
		FROM customer_baselines
		WHERE customer_id = ?
	`

	var b domain.CustomerBaseline
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(
		&b.CustomerID, &b.TxnCount, &b.AvgAmount, &b.StdAmount, &b.MinAmount,
		&b.MaxAmount, &b.DistinctTypes, &b.DistinctRecipients, &b.TotalVolume, &b.BuiltAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CountBaselines returns the number of baseline rows.
func (r *SQLRepository) CountBaselines(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customer_baselines`).Scan(&count)
	return count, err
}

// GetCustomerProfile aggregates a customer's activity from the population.
// Returns ErrNotFound for a customer with no transactions; a customer with
// activity but no alerts is served normally.
func (r *SQLRepository) GetCustomerProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customerID is required", ErrInvalidInput)
	}

	query := `
		SELECT origin_id, COUNT(*), SUM(amount), AVG(amount),
			   COUNT(DISTINCT type), COUNT(DISTINCT destination_id)
		FROM transactions
		WHERE origin_id = ?
		GROUP BY origin_id
	`

	var p domain.CustomerProfile
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(
		&p.CustomerID, &p.TotalTransactions, &p.TotalVolume, &p.AvgAmount,
		&p.TransactionTypes, &p.UniqueRecipients,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
