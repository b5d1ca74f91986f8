// Package anomaly implements the unsupervised anomaly scoring engine:
// feature extraction, standardization, an isolation forest detector, and
// the train/score lifecycle around a persisted model artifact.
package anomaly

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Feature names in vector order. The order is recorded in the model
// artifact and verified before every scoring run: a drifted schema is a
// hard failure, never a silent truncation.
const (
	featAmount     = "amount"
	featOriginBal  = "origin_balance_before"
	featOriginNew  = "origin_balance_after"
	featDestBal    = "destination_balance_before"
	featDestNew    = "destination_balance_after"
	featTypeOrd    = "type_ordinal"
	featStep       = "step"
)

// FeatureNames returns the ordered feature list for the current schema.
func FeatureNames(includeStep bool) []string {
	names := []string{
		featAmount,
		featOriginBal,
		featOriginNew,
		featDestBal,
		featDestNew,
		featTypeOrd,
	}
	if includeStep {
		names = append(names, featStep)
	}
	return names
}

// SchemaHash derives the version tag for an ordered feature list. It is
// stored in the artifact and on every ML alert, tying each score to the
// model schema that produced it.
func SchemaHash(featureNames []string) string {
	sum := sha256.Sum256([]byte(strings.Join(featureNames, "\n")))
	return hex.EncodeToString(sum[:])
}

// Vector builds the numeric feature vector for one transaction in the
// order given by featureNames.
func Vector(tx *domain.Transaction, featureNames []string) ([]float64, error) {
	vec := make([]float64, len(featureNames))
	for i, name := range featureNames {
		switch name {
		case featAmount:
			vec[i] = tx.Amount
		case featOriginBal:
			vec[i] = tx.OriginBalanceBefore
		case featOriginNew:
			vec[i] = tx.OriginBalanceAfter
		case featDestBal:
			vec[i] = tx.DestinationBalanceBefore
		case featDestNew:
			vec[i] = tx.DestinationBalanceAfter
		case featTypeOrd:
			ord := domain.TypeOrdinal(tx.Type)
			if ord < 0 {
				return nil, fmt.Errorf("unknown transaction type %q", tx.Type)
			}
			vec[i] = float64(ord)
		case featStep:
			vec[i] = float64(tx.Step)
		default:
			return nil, fmt.Errorf("unknown feature %q", name)
		}
	}
	return vec, nil
}

// Matrix builds the feature matrix for a transaction batch.
func Matrix(txns []*domain.Transaction, featureNames []string) ([][]float64, error) {
	rows := make([][]float64, len(txns))
	for i, tx := range txns {
		vec, err := Vector(tx, featureNames)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		rows[i] = vec
	}
	return rows, nil
}
