package anomaly

import (
	"math/rand"
	"testing"
)

// clusterWithOutliers builds a tight cluster around the origin plus a
// few far-away points.
func clusterWithOutliers(n, outliers int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, 0, n+outliers)
	for i := 0; i < n; i++ {
		data = append(data, []float64{
			rng.NormFloat64(),
			rng.NormFloat64(),
			rng.NormFloat64(),
		})
	}
	for i := 0; i < outliers; i++ {
		data = append(data, []float64{
			50 + rng.NormFloat64(),
			-50 + rng.NormFloat64(),
			80 + rng.NormFloat64(),
		})
	}
	return data
}

func TestIsolationForest_ScoreBounds(t *testing.T) {
	data := clusterWithOutliers(300, 3, 1)

	forest := NewIsolationForest(50, 128, 0.01, 42)
	if err := forest.Fit(data); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	scores, err := forest.Scores(data)
	if err != nil {
		t.Fatalf("Scores failed: %v", err)
	}
	if len(scores) != len(data) {
		t.Fatalf("expected %d scores, got %d", len(data), len(scores))
	}
	for i, s := range scores {
		if s < 0 || s > 1 {
			t.Errorf("score %d out of [0, 1]: %f", i, s)
		}
	}
}

func TestIsolationForest_OutliersScoreHigher(t *testing.T) {
	data := clusterWithOutliers(300, 3, 2)

	forest := NewIsolationForest(100, 128, 0.01, 42)
	if err := forest.Fit(data); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	scores, err := forest.Scores(data)
	if err != nil {
		t.Fatalf("Scores failed: %v", err)
	}

	var maxInlier float64
	for _, s := range scores[:300] {
		if s > maxInlier {
			maxInlier = s
		}
	}
	for i, s := range scores[300:] {
		if s <= maxInlier {
			t.Errorf("outlier %d score %f not above max inlier score %f", i, s, maxInlier)
		}
		if !forest.IsOutlier(s) {
			t.Errorf("outlier %d score %f below fitted threshold %f", i, s, forest.Threshold)
		}
	}
}

func TestIsolationForest_DeterministicForSeed(t *testing.T) {
	data := clusterWithOutliers(200, 2, 3)

	a := NewIsolationForest(50, 64, 0.01, 42)
	b := NewIsolationForest(50, 64, 0.01, 42)
	if err := a.Fit(data); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if err := b.Fit(data); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if a.Threshold != b.Threshold {
		t.Errorf("thresholds differ for identical seed: %f vs %f", a.Threshold, b.Threshold)
	}

	sa, _ := a.Scores(data)
	sb, _ := b.Scores(data)
	for i := range sa {
		if sa[i] != sb[i] {
			t.Fatalf("score %d differs for identical seed: %f vs %f", i, sa[i], sb[i])
		}
	}
}

func TestIsolationForest_FitEmptyData(t *testing.T) {
	forest := NewIsolationForest(10, 64, 0.01, 42)
	if err := forest.Fit(nil); err == nil {
		t.Fatal("expected error fitting on empty data")
	}
}

func TestIsolationForest_ScoresUnfitted(t *testing.T) {
	forest := NewIsolationForest(10, 64, 0.01, 42)
	if _, err := forest.Scores([][]float64{{1, 2, 3}}); err == nil {
		t.Fatal("expected error scoring with unfitted forest")
	}
}

func TestIsolationForest_DefaultsApplied(t *testing.T) {
	forest := NewIsolationForest(0, 0, 0, 42)
	if forest.Trees != 100 {
		t.Errorf("expected 100 trees default, got %d", forest.Trees)
	}
	if forest.SubsampleSize != 256 {
		t.Errorf("expected subsample 256 default, got %d", forest.SubsampleSize)
	}
	if forest.Contamination != 0.005 {
		t.Errorf("expected contamination 0.005 default, got %f", forest.Contamination)
	}
}

func TestAvgPathLength(t *testing.T) {
	if got := avgPathLength(1); got != 0 {
		t.Errorf("c(1) = %f, want 0", got)
	}
	if got := avgPathLength(0); got != 0 {
		t.Errorf("c(0) = %f, want 0", got)
	}
	// c(n) grows with n.
	if avgPathLength(256) <= avgPathLength(64) {
		t.Error("c(n) should grow with n")
	}
}
