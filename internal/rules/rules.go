// Package rules implements the deterministic detection heuristics.
//
// Each evaluator is a pure function of the qualifying transaction set:
// it produces per-customer alert candidates ranked by the rule's metric
// and capped to bound alert volume per run. All thresholds come from
// configuration; nothing numeric is decided here.
package rules

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// rank orders alerts by the given metric descending, breaking ties by
// customer ID ascending, and caps the result at topN (0 = uncapped).
func rank(alerts []*domain.RuleAlert, metric func(*domain.RuleAlert) float64, topN int) []*domain.RuleAlert {
	sort.Slice(alerts, func(i, j int) bool {
		mi, mj := metric(alerts[i]), metric(alerts[j])
		if mi != mj {
			return mi > mj
		}
		return alerts[i].CustomerID < alerts[j].CustomerID
	})
	if topN > 0 && len(alerts) > topN {
		alerts = alerts[:topN]
	}
	return alerts
}

// byCustomer groups transactions by origin customer, preserving input order
// within each group.
func byCustomer(txns []*domain.Transaction) map[string][]*domain.Transaction {
	groups := make(map[string][]*domain.Transaction)
	for _, tx := range txns {
		groups[tx.OriginID] = append(groups[tx.OriginID], tx)
	}
	return groups
}
