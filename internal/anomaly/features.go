// Package anomaly provides transaction anomaly detection: a shared feature
// encoder, an isolation forest backend, an autoencoder backend, a facade
// with a fitted-model cache and a model-free statistical scorer.
package anomaly

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Transaction is one spending event to train on or score.
type Transaction struct {
	ID         string    `json:"id,omitempty"`
	AccountID  string    `json:"account_id,omitempty"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	Category   string    `json:"category,omitempty"`
	Merchant   string    `json:"merchant,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// stableHash is FNV-1a 32-bit with empty mapping to 0, so absent labels
// land in bucket 0 on every run.
func stableHash(s string) uint32 {
	if s == "" {
		return 0
	}
	h := uint32(fnvOffset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// Featurize converts transactions into the fixed 3-column feature matrix:
// log1p(amount), normalized category bucket, normalized merchant bucket.
func Featurize(rows []Transaction) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		cat := strings.ToUpper(r.Category)
		merch := strings.ToLower(r.Merchant)
		out[i] = []float64{
			math.Log1p(math.Max(r.Amount, 0)),
			float64(stableHash(cat)%1000) / 999.0,
			float64(stableHash(merch)%2000) / 1999.0,
		}
	}
	return out
}

// standardScaler normalizes each column to zero mean and unit variance.
// Zero-variance columns pass through unscaled.
type standardScaler struct {
	mean []float64
	std  []float64
}

func fitScaler(x [][]float64) *standardScaler {
	if len(x) == 0 {
		return &standardScaler{}
	}
	cols := len(x[0])
	s := &standardScaler{
		mean: make([]float64, cols),
		std:  make([]float64, cols),
	}

	n := float64(len(x))
	for _, row := range x {
		for j, v := range row {
			s.mean[j] += v
		}
	}
	for j := range s.mean {
		s.mean[j] /= n
	}

	for _, row := range x {
		for j, v := range row {
			d := v - s.mean[j]
			s.std[j] += d * d
		}
	}
	for j := range s.std {
		s.std[j] = math.Sqrt(s.std[j] / n)
		if s.std[j] == 0 {
			s.std[j] = 1
		}
	}
	return s
}

func (s *standardScaler) transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.mean[j]) / s.std[j]
		}
		out[i] = scaled
	}
	return out
}

// percentile returns the q-th percentile (0..100) of values using linear
// interpolation between closest ranks. The input slice is not modified.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
