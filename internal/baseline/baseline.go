// Package baseline builds per-customer behavioral profiles.
package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MinActivity is the minimum transaction count for a customer to get a
// baseline. A single transaction has no variance to profile.
const MinActivity = 2

// Build computes one baseline per qualifying customer from the full
// transaction population. Output is sorted by customer ID so that
// repeated builds over the same population are byte-identical.
func Build(txns []*domain.Transaction, builtAt time.Time) []*domain.CustomerBaseline {
	type acc struct {
		amounts    []float64
		total      float64
		min, max   float64
		types      map[string]struct{}
		recipients map[string]struct{}
	}

	accs := make(map[string]*acc)
	for _, tx := range txns {
		a, ok := accs[tx.OriginID]
		if !ok {
			a = &acc{
				min:        tx.Amount,
				max:        tx.Amount,
				types:      make(map[string]struct{}),
				recipients: make(map[string]struct{}),
			}
			accs[tx.OriginID] = a
		}
		a.amounts = append(a.amounts, tx.Amount)
		a.total += tx.Amount
		if tx.Amount < a.min {
			a.min = tx.Amount
		}
		if tx.Amount > a.max {
			a.max = tx.Amount
		}
		a.types[tx.Type] = struct{}{}
		if tx.DestinationID != "" {
			a.recipients[tx.DestinationID] = struct{}{}
		}
	}

	baselines := make([]*domain.CustomerBaseline, 0, len(accs))
	for customer, a := range accs {
		n := len(a.amounts)
		if n < MinActivity {
			continue
		}

		mean := a.total / float64(n)
		var sumSq float64
		for _, amt := range a.amounts {
			d := amt - mean
			sumSq += d * d
		}
		// Sample standard deviation; n >= 2 is guaranteed above.
		std := math.Sqrt(sumSq / float64(n-1))

		baselines = append(baselines, &domain.CustomerBaseline{
			CustomerID:         customer,
			TxnCount:           int64(n),
			AvgAmount:          mean,
			StdAmount:          std,
			MinAmount:          a.min,
			MaxAmount:          a.max,
			DistinctTypes:      int64(len(a.types)),
			DistinctRecipients: int64(len(a.recipients)),
			TotalVolume:        a.total,
			BuiltAt:            builtAt,
		})
	}

	sort.Slice(baselines, func(i, j int) bool {
		return baselines[i].CustomerID < baselines[j].CustomerID
	})
	return baselines
}

// Builder recomputes the baseline store wholesale from the population.
type Builder struct {
	repo domain.Repository

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewBuilder creates a baseline builder.
func NewBuilder(repo domain.Repository) *Builder {
	return &Builder{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Run rebuilds and replaces the baseline table, returning the number of
// profiled customers.
func (b *Builder) Run(ctx context.Context) (int, error) {
	txns, err := b.repo.ListTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load transactions for baselines: %w", err)
	}

	baselines := Build(txns, b.now())
	if err := b.repo.ReplaceBaselines(ctx, baselines); err != nil {
		return 0, fmt.Errorf("failed to persist baselines: %w", err)
	}

	slog.Info("customer baselines rebuilt", "customers", len(baselines))
	return len(baselines), nil
}
