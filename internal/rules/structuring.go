package rules

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// StructuringTypes are the transaction types that count towards
// structuring: outbound movements that could be kept under a reporting
// threshold.
var StructuringTypes = []string{domain.TypeCashOut, domain.TypeTransfer, domain.TypePayment}

// EvaluateStructuring detects structuring (smurfing): several
// transactions each kept inside the configured amount band, together
// moving more than the configured total.
//
// The input must already be restricted to StructuringTypes within
// [AmountFloor, AmountCeiling); the evaluator groups per customer and
// applies the count and total-volume support thresholds.
func EvaluateStructuring(txns []*domain.Transaction, cfg domain.StructuringConfig, topN int, detectedAt time.Time) []*domain.RuleAlert {
	var alerts []*domain.RuleAlert

	for customer, group := range byCustomer(txns) {
		if len(group) < cfg.MinTxnCount {
			continue
		}

		var total float64
		for _, tx := range group {
			total += tx.Amount
		}
		if total <= cfg.MinTotal {
			continue
		}

		avg := total / float64(len(group))
		alerts = append(alerts, &domain.RuleAlert{
			CustomerID: customer,
			RuleName:   domain.RuleStructuring,
			DetectedAt: detectedAt,
			Amount:     total,
			TxnCount:   len(group),
			RiskScore:  cfg.RiskScore,
			Description: fmt.Sprintf(
				"Potential structuring: %d transactions totaling $%.2f (avg: $%.2f)",
				len(group), total, avg,
			),
		})
	}

	return rank(alerts, func(a *domain.RuleAlert) float64 { return a.Amount }, topN)
}
