package anomaly

import (
	"fmt"
	"math"
)

// StandardScaler standardizes features to zero mean and unit variance.
// Parameters are fixed at training time; scoring always reuses the
// trained parameters and never refits, so scored batches are measured
// against the training distribution rather than their own.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-feature mean and standard deviation.
func (s *StandardScaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot fit scaler on empty data")
	}

	dims := len(data[0])
	s.Mean = make([]float64, dims)
	s.Std = make([]float64, dims)

	for _, row := range data {
		if len(row) != dims {
			return fmt.Errorf("inconsistent row width: got %d, want %d", len(row), dims)
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(data))
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range data {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		// A constant feature scales to zero rather than dividing by zero.
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
	return nil
}

// Transform standardizes a batch using the fitted parameters.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	if len(s.Mean) == 0 {
		return nil, fmt.Errorf("scaler is not fitted")
	}

	out := make([][]float64, len(data))
	for i, row := range data {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row %d width %d does not match fitted width %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Std[j]
		}
		out[i] = scaled
	}
	return out, nil
}
