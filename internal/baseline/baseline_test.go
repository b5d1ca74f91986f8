package baseline

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var builtAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestBuild_Statistics(t *testing.T) {
	txns := []*domain.Transaction{
		{OriginID: "C1", Type: domain.TypeTransfer, Amount: 100, DestinationID: "M1"},
		{OriginID: "C1", Type: domain.TypeTransfer, Amount: 200, DestinationID: "M2"},
		{OriginID: "C1", Type: domain.TypeCashOut, Amount: 300, DestinationID: "M1"},
	}

	baselines := Build(txns, builtAt)
	if len(baselines) != 1 {
		t.Fatalf("expected 1 baseline, got %d", len(baselines))
	}

	b := baselines[0]
	if b.CustomerID != "C1" {
		t.Errorf("expected customer C1, got %s", b.CustomerID)
	}
	if b.TxnCount != 3 {
		t.Errorf("expected 3 transactions, got %d", b.TxnCount)
	}
	if b.AvgAmount != 200 {
		t.Errorf("expected avg 200, got %f", b.AvgAmount)
	}
	if b.MinAmount != 100 || b.MaxAmount != 300 {
		t.Errorf("unexpected min/max: %f/%f", b.MinAmount, b.MaxAmount)
	}
	if b.TotalVolume != 600 {
		t.Errorf("expected volume 600, got %f", b.TotalVolume)
	}
	if b.DistinctTypes != 2 {
		t.Errorf("expected 2 distinct types, got %d", b.DistinctTypes)
	}
	if b.DistinctRecipients != 2 {
		t.Errorf("expected 2 distinct recipients, got %d", b.DistinctRecipients)
	}
	// Sample std of {100, 200, 300} is 100.
	if math.Abs(b.StdAmount-100) > 1e-9 {
		t.Errorf("expected std 100, got %f", b.StdAmount)
	}
	if !b.BuiltAt.Equal(builtAt) {
		t.Errorf("unexpected BuiltAt: %v", b.BuiltAt)
	}
}

func TestBuild_MinActivityFilter(t *testing.T) {
	txns := []*domain.Transaction{
		{OriginID: "C_SINGLE", Type: domain.TypePayment, Amount: 50, DestinationID: "M1"},
		{OriginID: "C_ACTIVE", Type: domain.TypePayment, Amount: 50, DestinationID: "M1"},
		{OriginID: "C_ACTIVE", Type: domain.TypePayment, Amount: 70, DestinationID: "M1"},
	}

	baselines := Build(txns, builtAt)
	if len(baselines) != 1 {
		t.Fatalf("expected 1 baseline, got %d", len(baselines))
	}
	if baselines[0].CustomerID != "C_ACTIVE" {
		t.Errorf("single-transaction customer must be skipped, got %s", baselines[0].CustomerID)
	}
}

func TestBuild_SortedAndDeterministic(t *testing.T) {
	txns := []*domain.Transaction{
		{OriginID: "C_Z", Type: domain.TypePayment, Amount: 10, DestinationID: "M1"},
		{OriginID: "C_Z", Type: domain.TypePayment, Amount: 20, DestinationID: "M1"},
		{OriginID: "C_A", Type: domain.TypePayment, Amount: 10, DestinationID: "M1"},
		{OriginID: "C_A", Type: domain.TypePayment, Amount: 20, DestinationID: "M1"},
		{OriginID: "C_M", Type: domain.TypePayment, Amount: 10, DestinationID: "M1"},
		{OriginID: "C_M", Type: domain.TypePayment, Amount: 20, DestinationID: "M1"},
	}

	first := Build(txns, builtAt)
	second := Build(txns, builtAt)

	want := []string{"C_A", "C_M", "C_Z"}
	for i, id := range want {
		if first[i].CustomerID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, first[i].CustomerID)
		}
		if second[i].CustomerID != first[i].CustomerID || second[i].StdAmount != first[i].StdAmount {
			t.Errorf("build not deterministic at position %d", i)
		}
	}
}

func TestBuild_EmptyPopulation(t *testing.T) {
	if baselines := Build(nil, builtAt); len(baselines) != 0 {
		t.Errorf("expected no baselines for empty population, got %d", len(baselines))
	}
}
