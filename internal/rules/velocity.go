package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// VelocityTypes are the transaction types considered for velocity abuse.
var VelocityTypes = []string{domain.TypeCashOut, domain.TypeTransfer}

// EvaluateVelocity detects rapid transaction sequences: material
// movements by one customer whose time steps are at most MaxStepDelta
// apart. A customer gets one alert aggregating every transaction that
// belongs to a rapid run.
//
// The input must already be restricted to VelocityTypes at or above the
// materiality floor.
func EvaluateVelocity(txns []*domain.Transaction, cfg domain.VelocityConfig, topN int, detectedAt time.Time) []*domain.RuleAlert {
	var alerts []*domain.RuleAlert

	for customer, group := range byCustomer(txns) {
		if len(group) < 2 {
			continue
		}

		sort.Slice(group, func(i, j int) bool { return group[i].Step < group[j].Step })

		// A transaction is rapid if it is within MaxStepDelta of its
		// predecessor or successor in step order.
		rapid := make([]bool, len(group))
		for i := 1; i < len(group); i++ {
			if group[i].Step-group[i-1].Step <= cfg.MaxStepDelta {
				rapid[i-1] = true
				rapid[i] = true
			}
		}

		var total float64
		var count int
		minDelta := -1
		for i, tx := range group {
			if !rapid[i] {
				continue
			}
			total += tx.Amount
			count++
			if i > 0 && rapid[i-1] {
				delta := tx.Step - group[i-1].Step
				if minDelta < 0 || delta < minDelta {
					minDelta = delta
				}
			}
		}
		if count == 0 {
			continue
		}

		alerts = append(alerts, &domain.RuleAlert{
			CustomerID: customer,
			RuleName:   domain.RuleVelocityAbuse,
			DetectedAt: detectedAt,
			Amount:     total,
			TxnCount:   count,
			RiskScore:  cfg.RiskScore,
			Description: fmt.Sprintf(
				"Suspicious velocity: %d transactions totaling $%.2f within %d steps of each other",
				count, total, minDelta,
			),
		})
	}

	return rank(alerts, func(a *domain.RuleAlert) float64 { return a.Amount }, topN)
}
