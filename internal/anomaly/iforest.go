package anomaly

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// IsolationForest is an unsupervised outlier detector. Anomalous points
// are isolated by fewer random splits than normal points, so shorter
// average path lengths across the ensemble mean higher anomaly scores.
//
// Scores use the canonical normalization 2^(-E[h(x)]/c(n)) and therefore
// already fall in [0, 1] with higher = more anomalous. The decision
// threshold is the score quantile implied by the contamination fraction,
// fixed at fit time.
type IsolationForest struct {
	Trees         int     `json:"trees"`
	SubsampleSize int     `json:"subsampleSize"`
	Contamination float64 `json:"contamination"`
	Seed          int64   `json:"seed"`

	// Threshold is the fitted decision boundary: scores at or above it
	// are outliers.
	Threshold float64 `json:"threshold"`

	Roots []*treeNode `json:"roots"`

	// cFactor caches c(SubsampleSize), the average path normalizer.
	cFactor float64
}

type treeNode struct {
	// Internal node fields
	SplitFeature int       `json:"f,omitempty"`
	SplitValue   float64   `json:"v,omitempty"`
	Left         *treeNode `json:"l,omitempty"`
	Right        *treeNode `json:"r,omitempty"`

	// Size is the number of samples in an external node.
	Size int `json:"n,omitempty"`
}

func (n *treeNode) external() bool {
	return n.Left == nil && n.Right == nil
}

// NewIsolationForest creates an unfitted forest with the given
// parameters. Zero values fall back to the conventional defaults.
func NewIsolationForest(trees, subsampleSize int, contamination float64, seed int64) *IsolationForest {
	if trees <= 0 {
		trees = 100
	}
	if subsampleSize <= 0 {
		subsampleSize = 256
	}
	if contamination <= 0 || contamination >= 1 {
		contamination = 0.005
	}
	return &IsolationForest{
		Trees:         trees,
		SubsampleSize: subsampleSize,
		Contamination: contamination,
		Seed:          seed,
	}
}

// Fit builds the ensemble on the given data. Fitting is deterministic
// for a fixed data set and seed.
func (f *IsolationForest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot fit isolation forest on empty data")
	}

	psi := f.SubsampleSize
	if psi > len(data) {
		psi = len(data)
	}
	// Persist the effective subsample size so a reloaded forest
	// normalizes path lengths the same way the fitted one did.
	f.SubsampleSize = psi
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	rng := rand.New(rand.NewSource(f.Seed))

	f.Roots = make([]*treeNode, f.Trees)
	for t := 0; t < f.Trees; t++ {
		sample := make([][]float64, psi)
		for i, idx := range rng.Perm(len(data))[:psi] {
			sample[i] = data[idx]
		}
		f.Roots[t] = buildTree(sample, 0, maxDepth, rng)
	}
	f.cFactor = avgPathLength(psi)

	// Fix the decision boundary at the contamination quantile of the
	// training scores.
	scores := f.scoreAll(data)
	sorted := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	k := int(f.Contamination * float64(len(sorted)))
	if k < 1 {
		k = 1
	}
	f.Threshold = sorted[k-1]

	return nil
}

func buildTree(data [][]float64, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if depth >= maxDepth || len(data) <= 1 {
		return &treeNode{Size: len(data)}
	}

	// Collect features that still vary within this node.
	dims := len(data[0])
	type span struct {
		feature  int
		min, max float64
	}
	var splittable []span
	for j := 0; j < dims; j++ {
		lo, hi := data[0][j], data[0][j]
		for _, row := range data[1:] {
			if row[j] < lo {
				lo = row[j]
			}
			if row[j] > hi {
				hi = row[j]
			}
		}
		if hi > lo {
			splittable = append(splittable, span{j, lo, hi})
		}
	}
	if len(splittable) == 0 {
		// All points identical; cannot isolate further.
		return &treeNode{Size: len(data)}
	}

	s := splittable[rng.Intn(len(splittable))]
	split := s.min + rng.Float64()*(s.max-s.min)

	var left, right [][]float64
	for _, row := range data {
		if row[s.feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &treeNode{
		SplitFeature: s.feature,
		SplitValue:   split,
		Left:         buildTree(left, depth+1, maxDepth, rng),
		Right:        buildTree(right, depth+1, maxDepth, rng),
	}
}

// Scores returns the anomaly score for every sample, each in [0, 1]
// with higher = more anomalous.
func (f *IsolationForest) Scores(data [][]float64) ([]float64, error) {
	if len(f.Roots) == 0 {
		return nil, fmt.Errorf("isolation forest is not fitted")
	}
	return f.scoreAll(data), nil
}

// IsOutlier reports whether a score crosses the fitted threshold.
func (f *IsolationForest) IsOutlier(score float64) bool {
	return score >= f.Threshold
}

func (f *IsolationForest) scoreAll(data [][]float64) []float64 {
	if f.cFactor == 0 {
		psi := f.SubsampleSize
		f.cFactor = avgPathLength(psi)
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		var total float64
		for _, root := range f.Roots {
			total += pathLength(root, row, 0)
		}
		mean := total / float64(len(f.Roots))
		s := math.Pow(2, -mean/f.cFactor)
		// Guard the bounds against floating point drift.
		if s < 0 {
			s = 0
		} else if s > 1 {
			s = 1
		}
		scores[i] = s
	}
	return scores
}

func pathLength(node *treeNode, row []float64, depth int) float64 {
	if node.external() {
		return float64(depth) + avgPathLength(node.Size)
	}
	if row[node.SplitFeature] < node.SplitValue {
		return pathLength(node.Left, row, depth+1)
	}
	return pathLength(node.Right, row, depth+1)
}

// avgPathLength is c(n): the average path length of an unsuccessful BST
// search over n points, used to normalize isolation depths.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}
