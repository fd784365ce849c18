package anomaly

import (
	"errors"
	"math"
	"math/rand"
)

// ErrBackendUnavailable is returned when the autoencoder backend is
// disabled in this runtime.
var ErrBackendUnavailable = errors.New("autoencoder backend unavailable")

// AEConfig tunes the autoencoder backend.
type AEConfig struct {
	MinTrainRows  int
	Epochs        int
	BatchSize     int
	LearningRate  float64
	HiddenDim     int
	BottleneckDim int
	Seed          int64
}

// DefaultAEConfig returns the standard autoencoder parameters.
func DefaultAEConfig() AEConfig {
	return AEConfig{
		MinTrainRows:  40,
		Epochs:        40,
		BatchSize:     64,
		LearningRate:  1e-3,
		HiddenDim:     16,
		BottleneckDim: 4,
		Seed:          42,
	}
}

// denseLayer is one fully connected layer, weights in row-major
// [out][in] order.
type denseLayer struct {
	w    [][]float64
	b    []float64
	relu bool
}

// Autoencoder detects anomalies by reconstruction error from a bottlenecked
// encode/decode network. After training it keeps the p50/p95/p99 of the
// training reconstruction error as calibration anchors.
type Autoencoder struct {
	config    AEConfig
	available bool

	scaler  *standardScaler
	layers  []*denseLayer
	anchors map[string]float64
}

// NewAutoencoder creates an untrained autoencoder backend. available=false
// models a runtime where the backend is compiled out; Train and ScoreOne
// then fail with ErrBackendUnavailable.
func NewAutoencoder(config AEConfig, available bool) *Autoencoder {
	if config.Epochs <= 0 {
		config = DefaultAEConfig()
	}
	return &Autoencoder{config: config, available: available}
}

// Available reports whether the backend can train and score.
func (a *Autoencoder) Available() bool {
	return a.available
}

// Anchors returns the calibration anchors recorded at training time.
func (a *Autoencoder) Anchors() map[string]float64 {
	return a.anchors
}

// Train fits the scaler and the network on the history rows. Returns the
// number of rows trained on; fewer than MinTrainRows trains nothing.
func (a *Autoencoder) Train(rows []Transaction) (int, error) {
	if !a.available {
		return 0, ErrBackendUnavailable
	}
	if len(rows) < a.config.MinTrainRows {
		a.layers = nil
		a.scaler = nil
		return 0, nil
	}

	x := Featurize(rows)
	a.scaler = fitScaler(x)
	xs := a.scaler.transform(x)

	rng := rand.New(rand.NewSource(a.config.Seed))
	inDim := len(xs[0])
	a.layers = []*denseLayer{
		newDense(inDim, a.config.HiddenDim, true, rng),
		newDense(a.config.HiddenDim, a.config.BottleneckDim, true, rng),
		newDense(a.config.BottleneckDim, a.config.HiddenDim, true, rng),
		newDense(a.config.HiddenDim, inDim, false, rng),
	}

	for epoch := 0; epoch < a.config.Epochs; epoch++ {
		order := rng.Perm(len(xs))
		for start := 0; start < len(order); start += a.config.BatchSize {
			end := start + a.config.BatchSize
			if end > len(order) {
				end = len(order)
			}
			a.trainBatch(xs, order[start:end])
		}
	}

	// Calibration anchors from the training error distribution.
	errs := make([]float64, len(xs))
	for i, row := range xs {
		errs[i] = a.reconError(row)
	}
	a.anchors = map[string]float64{
		"median": percentile(errs, 50),
		"p95":    percentile(errs, 95),
		"p99":    percentile(errs, 99),
	}
	return len(rows), nil
}

// ScoreOne maps a transaction's reconstruction error onto [0,100]: linear
// 0-50 up to the p95 anchor, then 50-100 between p95 and p99, clamped.
func (a *Autoencoder) ScoreOne(tx Transaction) (int, map[string]any, error) {
	if !a.available {
		return 0, nil, ErrBackendUnavailable
	}
	if len(a.layers) == 0 || a.scaler == nil {
		return 0, map[string]any{"reason": "model_not_trained"}, nil
	}

	xs := a.scaler.transform(Featurize([]Transaction{tx}))
	reconErr := a.reconError(xs[0])

	p95 := a.anchors["p95"]
	p99 := math.Max(a.anchors["p99"], p95+1e-6)

	var score int
	if reconErr <= p95 {
		score = int(clamp(reconErr/(p95+1e-9)*50, 0, 50))
	} else {
		score = 50 + int(clamp((reconErr-p95)/(p99-p95+1e-9)*50, 0, 50))
	}

	details := map[string]any{"recon_error": reconErr}
	for k, v := range a.anchors {
		details[k] = v
	}
	return score, details, nil
}

func newDense(in, out int, relu bool, rng *rand.Rand) *denseLayer {
	// Uniform init scaled by fan-in.
	bound := 1 / math.Sqrt(float64(in))
	l := &denseLayer{
		w:    make([][]float64, out),
		b:    make([]float64, out),
		relu: relu,
	}
	for i := range l.w {
		l.w[i] = make([]float64, in)
		for j := range l.w[i] {
			l.w[i][j] = (rng.Float64()*2 - 1) * bound
		}
		l.b[i] = (rng.Float64()*2 - 1) * bound
	}
	return l
}

// forward runs one row through every layer, returning the pre-activation
// inputs of each layer plus the final output for backprop.
func (a *Autoencoder) forward(row []float64) (inputs [][]float64, out []float64) {
	cur := row
	for _, l := range a.layers {
		inputs = append(inputs, cur)
		next := make([]float64, len(l.w))
		for i, wi := range l.w {
			sum := l.b[i]
			for j, w := range wi {
				sum += w * cur[j]
			}
			if l.relu && sum < 0 {
				sum = 0
			}
			next[i] = sum
		}
		cur = next
	}
	return inputs, cur
}

// trainBatch applies one plain SGD step on the mean squared reconstruction
// error of the batch.
func (a *Autoencoder) trainBatch(xs [][]float64, idx []int) {
	lr := a.config.LearningRate / float64(len(idx))

	for _, i := range idx {
		row := xs[i]
		inputs, out := a.forward(row)

		// dL/dout for MSE over all features of the row.
		grad := make([]float64, len(out))
		for j := range out {
			grad[j] = 2 * (out[j] - row[j]) / float64(len(out))
		}

		for li := len(a.layers) - 1; li >= 0; li-- {
			l := a.layers[li]
			in := inputs[li]

			// ReLU gate: re-run the affine part to know which units were
			// clipped. Output layer has no gate.
			if l.relu {
				for i2, wi := range l.w {
					sum := l.b[i2]
					for j, w := range wi {
						sum += w * in[j]
					}
					if sum < 0 {
						grad[i2] = 0
					}
				}
			}

			prev := make([]float64, len(in))
			for i2, wi := range l.w {
				g := grad[i2]
				if g == 0 {
					continue
				}
				for j := range wi {
					prev[j] += wi[j] * g
					wi[j] -= lr * g * in[j]
				}
				l.b[i2] -= lr * g
			}
			grad = prev
		}
	}
}

func (a *Autoencoder) reconError(row []float64) float64 {
	_, out := a.forward(row)
	var sum float64
	for j := range out {
		d := out[j] - row[j]
		sum += d * d
	}
	return sum / float64(len(out))
}
