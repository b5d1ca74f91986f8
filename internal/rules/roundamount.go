package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RoundAmountTypes are the transaction types considered for round-amount
// patterns.
var RoundAmountTypes = []string{domain.TypeTransfer, domain.TypeCashOut}

// EvaluateRoundAmount detects repeated use of exact round denominations,
// a common marker of manually chosen laundering amounts.
//
// The input must already be restricted to RoundAmountTypes at or above
// the amount floor; the evaluator keeps exact multiples of the configured
// denomination and alerts customers with enough of them.
func EvaluateRoundAmount(txns []*domain.Transaction, cfg domain.RoundAmountConfig, topN int, detectedAt time.Time) []*domain.RuleAlert {
	if cfg.Denomination <= 0 {
		return nil
	}

	round := make([]*domain.Transaction, 0, len(txns))
	for _, tx := range txns {
		if math.Mod(tx.Amount, cfg.Denomination) == 0 {
			round = append(round, tx)
		}
	}

	var alerts []*domain.RuleAlert
	for customer, group := range byCustomer(round) {
		if len(group) < cfg.MinTxnCount {
			continue
		}

		var total float64
		for _, tx := range group {
			total += tx.Amount
		}

		alerts = append(alerts, &domain.RuleAlert{
			CustomerID: customer,
			RuleName:   domain.RuleRoundAmount,
			DetectedAt: detectedAt,
			Amount:     total,
			TxnCount:   len(group),
			RiskScore:  cfg.RiskScore,
			Description: fmt.Sprintf(
				"Suspicious round amounts: %d transactions in exact multiples of $%.0f totaling $%.2f",
				len(group), cfg.Denomination, total,
			),
		})
	}

	return rank(alerts, func(a *domain.RuleAlert) float64 { return a.Amount }, topN)
}
