package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var testDetectedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testRulesConfig() domain.RulesConfig {
	return domain.DefaultConfig().Rules
}

func tx(customer string, step int, txType string, amount float64, dest string) *domain.Transaction {
	return &domain.Transaction{
		Step:          step,
		Type:          txType,
		Amount:        amount,
		OriginID:      customer,
		DestinationID: dest,
	}
}

func TestStructuring_SplitTransfersAlert(t *testing.T) {
	cfg := testRulesConfig().Structuring

	// One customer splits 11,000 into three transfers, each inside the
	// amount band; total exceeds the support floor.
	txns := []*domain.Transaction{
		tx("C100", 1, domain.TypeTransfer, 2_000, "M1"),
		tx("C100", 2, domain.TypeTransfer, 3_000, "M1"),
		tx("C100", 3, domain.TypeTransfer, 6_000, "M2"),
	}

	alerts := EvaluateStructuring(txns, cfg, 50, testDetectedAt)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	a := alerts[0]
	if a.CustomerID != "C100" {
		t.Errorf("expected customer C100, got %s", a.CustomerID)
	}
	if a.Amount != 11_000 {
		t.Errorf("expected amount 11000, got %.2f", a.Amount)
	}
	if a.TxnCount != 3 {
		t.Errorf("expected 3 transactions, got %d", a.TxnCount)
	}
	if a.RiskScore != cfg.RiskScore {
		t.Errorf("expected risk %d, got %d", cfg.RiskScore, a.RiskScore)
	}
	if !strings.Contains(a.Description, "3 transactions") {
		t.Errorf("unexpected description: %s", a.Description)
	}
}

func TestStructuring_BelowThresholds(t *testing.T) {
	cfg := testRulesConfig().Structuring

	t.Run("TooFewTransactions", func(t *testing.T) {
		txns := []*domain.Transaction{
			tx("C1", 1, domain.TypeTransfer, 4_000, "M1"),
			tx("C1", 2, domain.TypeTransfer, 4_000, "M1"),
		}
		if alerts := EvaluateStructuring(txns, cfg, 50, testDetectedAt); len(alerts) != 0 {
			t.Errorf("expected no alerts for 2 transactions, got %d", len(alerts))
		}
	})

	t.Run("TotalAtFloor", func(t *testing.T) {
		// Total exactly at MinTotal must not alert: the floor is strict.
		txns := []*domain.Transaction{
			tx("C2", 1, domain.TypeTransfer, 2_000, "M1"),
			tx("C2", 2, domain.TypeTransfer, 1_500, "M1"),
			tx("C2", 3, domain.TypeTransfer, 1_500, "M1"),
		}
		if alerts := EvaluateStructuring(txns, cfg, 50, testDetectedAt); len(alerts) != 0 {
			t.Errorf("expected no alerts at total == MinTotal, got %d", len(alerts))
		}
	})
}

func TestStructuring_Idempotent(t *testing.T) {
	cfg := testRulesConfig().Structuring
	txns := []*domain.Transaction{
		tx("C1", 1, domain.TypeTransfer, 2_000, "M1"),
		tx("C1", 2, domain.TypeTransfer, 3_000, "M1"),
		tx("C1", 3, domain.TypeTransfer, 6_000, "M1"),
	}

	first := EvaluateStructuring(txns, cfg, 50, testDetectedAt)
	second := EvaluateStructuring(txns, cfg, 50, testDetectedAt)

	if len(first) != len(second) {
		t.Fatalf("evaluation not idempotent: %d vs %d alerts", len(first), len(second))
	}
	for i := range first {
		if first[i].CustomerID != second[i].CustomerID || first[i].Amount != second[i].Amount {
			t.Errorf("alert %d differs between identical runs", i)
		}
	}
}

func TestVelocity_RapidSequence(t *testing.T) {
	cfg := testRulesConfig().Velocity

	txns := []*domain.Transaction{
		tx("C1", 10, domain.TypeCashOut, 150_000, "M1"),
		tx("C1", 11, domain.TypeTransfer, 200_000, "M2"),
		tx("C1", 12, domain.TypeCashOut, 120_000, "M3"),
		// Far from the rapid run, must not be aggregated.
		tx("C1", 40, domain.TypeCashOut, 500_000, "M4"),
	}

	alerts := EvaluateVelocity(txns, cfg, 50, testDetectedAt)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	a := alerts[0]
	if a.TxnCount != 3 {
		t.Errorf("expected 3 rapid transactions, got %d", a.TxnCount)
	}
	if a.Amount != 470_000 {
		t.Errorf("expected rapid total 470000, got %.2f", a.Amount)
	}
}

func TestVelocity_SpacedTransactionsNoAlert(t *testing.T) {
	cfg := testRulesConfig().Velocity

	txns := []*domain.Transaction{
		tx("C1", 1, domain.TypeCashOut, 150_000, "M1"),
		tx("C1", 10, domain.TypeCashOut, 150_000, "M1"),
		tx("C1", 20, domain.TypeCashOut, 150_000, "M1"),
	}

	if alerts := EvaluateVelocity(txns, cfg, 50, testDetectedAt); len(alerts) != 0 {
		t.Errorf("expected no alerts for spaced transactions, got %d", len(alerts))
	}
}

func TestRoundAmount_ExactMultiples(t *testing.T) {
	cfg := testRulesConfig().RoundAmount

	txns := []*domain.Transaction{
		tx("C1", 1, domain.TypeTransfer, 200_000, "M1"),
		tx("C1", 2, domain.TypeCashOut, 500_000, "M2"),
		// Not an exact multiple, must be excluded.
		tx("C1", 3, domain.TypeTransfer, 250_500, "M3"),
	}

	alerts := EvaluateRoundAmount(txns, cfg, 50, testDetectedAt)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].TxnCount != 2 {
		t.Errorf("expected 2 round transactions, got %d", alerts[0].TxnCount)
	}
	if alerts[0].Amount != 700_000 {
		t.Errorf("expected total 700000, got %.2f", alerts[0].Amount)
	}
}

func TestRoundAmount_ZeroDenomination(t *testing.T) {
	cfg := testRulesConfig().RoundAmount
	cfg.Denomination = 0

	txns := []*domain.Transaction{
		tx("C1", 1, domain.TypeTransfer, 200_000, "M1"),
		tx("C1", 2, domain.TypeTransfer, 300_000, "M1"),
	}

	if alerts := EvaluateRoundAmount(txns, cfg, 50, testDetectedAt); alerts != nil {
		t.Errorf("expected nil alerts for zero denomination, got %d", len(alerts))
	}
}

func TestRotation_DistinctRecipients(t *testing.T) {
	cfg := testRulesConfig().Rotation

	// Six transactions to five distinct destinations.
	txns := []*domain.Transaction{
		tx("C1", 1, domain.TypeTransfer, 1_000, "M1"),
		tx("C1", 2, domain.TypeTransfer, 1_000, "M2"),
		tx("C1", 3, domain.TypePayment, 1_000, "M3"),
		tx("C1", 4, domain.TypePayment, 1_000, "M4"),
		tx("C1", 5, domain.TypeTransfer, 1_000, "M5"),
		tx("C1", 6, domain.TypeTransfer, 1_000, "M5"),
	}

	alerts := EvaluateRotation(txns, cfg, 50, testDetectedAt)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	a := alerts[0]
	if a.UniqueRecipients != 5 {
		t.Errorf("expected 5 unique recipients, got %d", a.UniqueRecipients)
	}
	if a.TxnCount != 6 {
		t.Errorf("expected 6 transactions, got %d", a.TxnCount)
	}
}

func TestRotation_FewRecipientsNoAlert(t *testing.T) {
	cfg := testRulesConfig().Rotation

	txns := []*domain.Transaction{
		tx("C1", 1, domain.TypeTransfer, 1_000, "M1"),
		tx("C1", 2, domain.TypeTransfer, 1_000, "M1"),
		tx("C1", 3, domain.TypeTransfer, 1_000, "M2"),
	}

	if alerts := EvaluateRotation(txns, cfg, 50, testDetectedAt); len(alerts) != 0 {
		t.Errorf("expected no alerts for 2 recipients, got %d", len(alerts))
	}
}

func TestRank_OrderingAndCap(t *testing.T) {
	alerts := []*domain.RuleAlert{
		{CustomerID: "B", Amount: 100},
		{CustomerID: "A", Amount: 100},
		{CustomerID: "C", Amount: 300},
		{CustomerID: "D", Amount: 200},
	}

	ranked := rank(alerts, func(a *domain.RuleAlert) float64 { return a.Amount }, 3)

	if len(ranked) != 3 {
		t.Fatalf("expected 3 alerts after cap, got %d", len(ranked))
	}
	if ranked[0].CustomerID != "C" || ranked[1].CustomerID != "D" {
		t.Errorf("wrong metric ordering: %s, %s", ranked[0].CustomerID, ranked[1].CustomerID)
	}
	// Equal metric breaks ties by customer ID ascending.
	if ranked[2].CustomerID != "A" {
		t.Errorf("expected tiebreak winner A, got %s", ranked[2].CustomerID)
	}
}

func TestEmptyPopulation_AllRulesEmpty(t *testing.T) {
	cfg := testRulesConfig()

	if got := EvaluateStructuring(nil, cfg.Structuring, 50, testDetectedAt); len(got) != 0 {
		t.Errorf("structuring on empty population: %d alerts", len(got))
	}
	if got := EvaluateVelocity(nil, cfg.Velocity, 50, testDetectedAt); len(got) != 0 {
		t.Errorf("velocity on empty population: %d alerts", len(got))
	}
	if got := EvaluateRoundAmount(nil, cfg.RoundAmount, 50, testDetectedAt); len(got) != 0 {
		t.Errorf("round amount on empty population: %d alerts", len(got))
	}
	if got := EvaluateRotation(nil, cfg.Rotation, 50, testDetectedAt); len(got) != 0 {
		t.Errorf("rotation on empty population: %d alerts", len(got))
	}
}
