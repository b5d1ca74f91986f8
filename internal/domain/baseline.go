package domain

import "time"

// CustomerBaseline is the per-customer statistical profile used as a
// deviation reference. One row per customer with at least two
// transactions; the whole table is replaced on each build.
type CustomerBaseline struct {
	CustomerID string `json:"customerId"`

	TxnCount  int64   `json:"txnCount"`
	AvgAmount float64 `json:"avgAmount"`
	StdAmount float64 `json:"stdAmount"`
	MinAmount float64 `json:"minAmount"`
	MaxAmount float64 `json:"maxAmount"`

	// DistinctTypes is the number of distinct transaction types used.
	DistinctTypes int64 `json:"distinctTypes"`

	// DistinctRecipients is the number of distinct destinations.
	DistinctRecipients int64 `json:"distinctRecipients"`

	// TotalVolume is the customer's lifetime transaction volume.
	TotalVolume float64 `json:"totalVolume"`

	BuiltAt time.Time `json:"builtAt"`
}
