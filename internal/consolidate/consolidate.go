// Package consolidate merges rule and model alerts into one query
// surface and computes the global detection summary.
package consolidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HighRiskThreshold is the risk score at which an alert counts as high
// risk in the summary.
const HighRiskThreshold = 80

// summaryTTL bounds staleness of the cached summary between runs.
const summaryTTL = 5 * time.Minute

// Service answers consolidated alert and summary queries over both
// alert stores. Reads go through the cache when one is configured.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates the consolidated query service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Alerts returns the unified alert view, rule and ML alerts merged,
// ordered by risk score descending with customer ID as tiebreak.
func (s *Service) Alerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var merged []*domain.Alert

	if filter.RuleName != domain.MLAlertType {
		ruleAlerts, err := s.repo.ListRuleAlerts(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list rule alerts: %w", err)
		}
		for _, a := range ruleAlerts {
			merged = append(merged, &domain.Alert{
				ID:          a.ID,
				Source:      domain.SourceRule,
				CustomerID:  a.CustomerID,
				RuleName:    a.RuleName,
				DetectedAt:  a.DetectedAt,
				Amount:      a.Amount,
				RiskScore:   a.RiskScore,
				Description: a.Description,
			})
		}
	}

	if filter.RuleName == "" || filter.RuleName == domain.MLAlertType {
		// The customer and min-risk predicates are applied here, after the
		// fetch, so the store limit must not cut qualifying rows first; the
		// caller's limit is enforced on the merged view below.
		mlLimit := filter.Limit
		if filter.CustomerID != "" || filter.MinRiskScore > 0 {
			mlLimit = 0
		}
		mlAlerts, err := s.repo.ListMLAlerts(ctx, mlLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list ml alerts: %w", err)
		}
		for _, a := range mlAlerts {
			if filter.CustomerID != "" && a.CustomerID != filter.CustomerID {
				continue
			}
			if a.RiskScore < filter.MinRiskScore {
				continue
			}
			merged = append(merged, &domain.Alert{
				ID:           a.ID,
				Source:       domain.SourceML,
				CustomerID:   a.CustomerID,
				RuleName:     domain.MLAlertType,
				DetectedAt:   a.DetectedAt,
				AnomalyScore: a.AnomalyScore,
				RiskScore:    a.RiskScore,
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].RiskScore != merged[j].RiskScore {
			return merged[i].RiskScore > merged[j].RiskScore
		}
		return merged[i].CustomerID < merged[j].CustomerID
	})
	if filter.Limit > 0 && len(merged) > filter.Limit {
		merged = merged[:filter.Limit]
	}
	return merged, nil
}

// MLAlerts returns model-produced alerts ordered by anomaly score
// descending.
func (s *Service) MLAlerts(ctx context.Context, limit int) ([]*domain.MLAlert, error) {
	return s.repo.ListMLAlerts(ctx, limit)
}

// CustomerProfile returns a single customer's aggregated activity and
// alert history. Returns domain.ErrNotFound when the customer has no
// transactions at all.
func (s *Service) CustomerProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	cacheKey := domain.CacheKeyProfilePrefix + customerID
	if cached := s.cacheGet(ctx, cacheKey); cached != nil {
		var profile domain.CustomerProfile
		if err := json.Unmarshal(cached, &profile); err == nil {
			return &profile, nil
		}
	}

	profile, err := s.repo.GetCustomerProfile(ctx, customerID)
	if err != nil {
		return nil, err
	}

	// A customer with activity but zero alerts still yields a profile
	// with an empty alert list.
	alerts, err := s.Alerts(ctx, domain.AlertFilter{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	profile.Alerts = alerts

	// The behavioral baseline is attached when one exists; a customer
	// below the baseline activity threshold has none.
	baseline, err := s.repo.GetBaseline(ctx, customerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}
	profile.Baseline = baseline

	s.cacheSet(ctx, cacheKey, profile, summaryTTL)
	return profile, nil
}

// Summary computes the global detection metrics. The alert rate is
// (rule alerts + ML alerts) / transactions * 100, zero when the
// transaction population is empty.
func (s *Service) Summary(ctx context.Context) (*domain.Summary, error) {
	if cached := s.cacheGet(ctx, domain.CacheKeySummary); cached != nil {
		var summary domain.Summary
		if err := json.Unmarshal(cached, &summary); err == nil {
			return &summary, nil
		}
	}

	txnCount, err := s.repo.CountTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	byRule, err := s.repo.CountRuleAlertsByRule(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count rule alerts: %w", err)
	}
	var ruleTotal int64
	for _, n := range byRule {
		ruleTotal += n
	}
	mlTotal, err := s.repo.CountMLAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count ml alerts: %w", err)
	}
	highRisk, err := s.repo.CountRuleAlerts(ctx, HighRiskThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to count high risk alerts: %w", err)
	}
	profiled, err := s.repo.CountBaselines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count baselines: %w", err)
	}

	summary := &domain.Summary{
		TotalTransactions: txnCount,
		TotalRuleAlerts:   ruleTotal,
		RuleAlertsByRule:  byRule,
		TotalMLAlerts:     mlTotal,
		HighRiskAlerts:    highRisk,
		ProfiledCustomers: profiled,
	}
	if txnCount > 0 {
		summary.AlertRate = float64(ruleTotal+mlTotal) / float64(txnCount) * 100
	}

	s.cacheSet(ctx, domain.CacheKeySummary, summary, summaryTTL)
	return summary, nil
}

// InvalidateSummary drops the cached summary after a pipeline run
// rewrites the alert stores.
func (s *Service) InvalidateSummary(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, domain.CacheKeySummary); err != nil {
		slog.Warn("failed to invalidate summary cache", "error", err)
	}
}

func (s *Service) cacheGet(ctx context.Context, key string) []byte {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("cache read failed", "key", key, "error", err)
		return nil
	}
	return data
}

func (s *Service) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}
