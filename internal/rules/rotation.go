package rules

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RotationTypes are the transaction types considered for beneficiary
// rotation: movements with a meaningful counterparty.
var RotationTypes = []string{domain.TypeTransfer, domain.TypePayment}

// EvaluateRotation detects beneficiary rotation, a layering indicator:
// one customer spreading funds across many distinct recipients.
//
// The input must already be restricted to RotationTypes.
func EvaluateRotation(txns []*domain.Transaction, cfg domain.RotationConfig, topN int, detectedAt time.Time) []*domain.RuleAlert {
	var alerts []*domain.RuleAlert

	for customer, group := range byCustomer(txns) {
		if len(group) < cfg.MinTxnCount {
			continue
		}

		recipients := make(map[string]struct{})
		var total float64
		for _, tx := range group {
			if tx.DestinationID == "" {
				continue
			}
			recipients[tx.DestinationID] = struct{}{}
			total += tx.Amount
		}
		if len(recipients) < cfg.MinRecipients {
			continue
		}

		alerts = append(alerts, &domain.RuleAlert{
			CustomerID:       customer,
			RuleName:         domain.RuleBeneficiaryRotation,
			DetectedAt:       detectedAt,
			Amount:           total,
			TxnCount:         len(group),
			UniqueRecipients: len(recipients),
			RiskScore:        cfg.RiskScore,
			Description: fmt.Sprintf(
				"Beneficiary rotation: %d transactions to %d distinct recipients totaling $%.2f",
				len(group), len(recipients), total,
			),
		})
	}

	return rank(alerts, func(a *domain.RuleAlert) float64 { return float64(a.UniqueRecipients) }, topN)
}
