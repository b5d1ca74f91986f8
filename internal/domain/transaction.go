// Package domain defines the core interfaces and types for Kestrel.
package domain

// Transaction type identifiers, matching the PaySim-style source data.
const (
	TypeCashIn   = "CASH_IN"
	TypeCashOut  = "CASH_OUT"
	TypeDebit    = "DEBIT"
	TypePayment  = "PAYMENT"
	TypeTransfer = "TRANSFER"
)

// TransactionTypes lists all valid transaction types in ordinal order.
// The ordinal position is used as the encoded type feature for the
// anomaly model, so the order must stay stable across releases.
var TransactionTypes = []string{
	TypeCashIn,
	TypeCashOut,
	TypeDebit,
	TypePayment,
	TypeTransfer,
}

// Transaction represents one immutable transaction record from the
// analytical store. Records are written once by the ingestion stage and
// never mutated afterwards.
type Transaction struct {
	// Step is the discrete time unit of the source dataset (1 step = 1 hour).
	Step int `json:"step"`

	// Type is one of the transaction type constants above.
	Type string `json:"type"`

	// Amount is the transaction amount, always non-negative.
	Amount float64 `json:"amount"`

	// Parties involved
	OriginID      string `json:"originId"`
	DestinationID string `json:"destinationId"`

	// Balance snapshots around the transaction
	OriginBalanceBefore      float64 `json:"originBalanceBefore"`
	OriginBalanceAfter       float64 `json:"originBalanceAfter"`
	DestinationBalanceBefore float64 `json:"destinationBalanceBefore"`
	DestinationBalanceAfter  float64 `json:"destinationBalanceAfter"`
}

// TypeOrdinal returns the stable numeric encoding of the transaction type,
// or -1 for an unknown type.
func TypeOrdinal(txType string) int {
	for i, t := range TransactionTypes {
		if t == txType {
			return i
		}
	}
	return -1
}

// CustomerProfile is the aggregate view of a single customer's activity,
// served by the query surface alongside the customer's alerts.
type CustomerProfile struct {
	CustomerID        string  `json:"customerId"`
	TotalTransactions int64   `json:"totalTransactions"`
	TotalVolume       float64 `json:"totalVolume"`
	AvgAmount         float64 `json:"avgAmount"`
	TransactionTypes  int64   `json:"transactionTypes"`
	UniqueRecipients  int64   `json:"uniqueRecipients"`

	// Alerts holds the customer's consolidated alert history; empty for a
	// customer with activity but no alerts.
	Alerts []*Alert `json:"alerts"`

	// Baseline is the customer's behavioral baseline from the last
	// baseline build, nil when none has been built yet.
	Baseline *CustomerBaseline `json:"baseline,omitempty"`
}
