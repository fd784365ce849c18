package anomaly

import (
	"math"
	"math/rand"
)

// ForestConfig tunes the isolation forest backend.
type ForestConfig struct {
	Trees         int
	SubsampleSize int
	Seed          int64
	MinTrainRows  int
}

// DefaultForestConfig returns the standard forest parameters.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:         200,
		SubsampleSize: 256,
		Seed:          42,
		MinTrainRows:  10,
	}
}

type forestNode struct {
	// Leaf when left is nil; size is the number of rows that reached it.
	size      int
	splitCol  int
	splitVal  float64
	left      *forestNode
	right     *forestNode
}

// Forest is an isolation forest anomaly detector. Training is seeded, so a
// given history snapshot always yields the same model.
type Forest struct {
	config ForestConfig
	scaler *standardScaler
	trees  []*forestNode
	// subsample size actually used, for the path-length normalizer
	sampleSize int
}

// NewForest creates an untrained isolation forest.
func NewForest(config ForestConfig) *Forest {
	if config.Trees <= 0 {
		config = DefaultForestConfig()
	}
	return &Forest{config: config}
}

// Train fits the scaler and the tree ensemble on the history rows. Returns
// the number of rows trained on; fewer than MinTrainRows trains nothing.
func (f *Forest) Train(rows []Transaction) (int, error) {
	if len(rows) < f.config.MinTrainRows {
		f.trees = nil
		f.scaler = nil
		return 0, nil
	}

	x := Featurize(rows)
	f.scaler = fitScaler(x)
	xs := f.scaler.transform(x)

	f.sampleSize = f.config.SubsampleSize
	if f.sampleSize > len(xs) {
		f.sampleSize = len(xs)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(f.sampleSize))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	rng := rand.New(rand.NewSource(f.config.Seed))
	f.trees = make([]*forestNode, f.config.Trees)
	for i := range f.trees {
		sample := sampleRows(xs, f.sampleSize, rng)
		f.trees[i] = buildTree(sample, 0, heightLimit, rng)
	}
	return len(rows), nil
}

// ScoreOne scores a single transaction against the trained ensemble.
// The raw ensemble output is higher for more normal points; it is inverted
// and rescaled onto [0,100].
func (f *Forest) ScoreOne(tx Transaction) (int, map[string]any, error) {
	if len(f.trees) == 0 || f.scaler == nil {
		return 0, map[string]any{"reason": "model_not_trained"}, nil
	}

	xs := f.scaler.transform(Featurize([]Transaction{tx}))
	row := xs[0]

	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, row, 0)
	}
	avgPath := total / float64(len(f.trees))

	// Anomaly score per Liu et al.: s = 2^(-E[h(x)] / c(n)), in (0,1].
	anomaly := math.Pow(2, -avgPath/avgPathLength(f.sampleSize))
	raw := 0.5 - anomaly

	score := int(clamp((0.5-raw)*100, 0, 100))
	return score, map[string]any{"raw_score": raw}, nil
}

func sampleRows(x [][]float64, n int, rng *rand.Rand) [][]float64 {
	idx := rng.Perm(len(x))[:n]
	out := make([][]float64, n)
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func buildTree(rows [][]float64, depth, heightLimit int, rng *rand.Rand) *forestNode {
	if len(rows) <= 1 || depth >= heightLimit {
		return &forestNode{size: len(rows)}
	}

	col := rng.Intn(len(rows[0]))
	lo, hi := rows[0][col], rows[0][col]
	for _, r := range rows[1:] {
		if r[col] < lo {
			lo = r[col]
		}
		if r[col] > hi {
			hi = r[col]
		}
	}
	if lo == hi {
		return &forestNode{size: len(rows)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, r := range rows {
		if r[col] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	return &forestNode{
		size:     len(rows),
		splitCol: col,
		splitVal: split,
		left:     buildTree(left, depth+1, heightLimit, rng),
		right:    buildTree(right, depth+1, heightLimit, rng),
	}
}

func pathLength(node *forestNode, row []float64, depth int) float64 {
	if node.left == nil {
		return float64(depth) + avgPathLength(node.size)
	}
	if row[node.splitCol] < node.splitVal {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
