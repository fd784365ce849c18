package risk

import (
	"fmt"
	"math"
)

// Contribution records one feature's effect on the linear score. The
// structured form is authoritative; String renders the legacy audit format
// and is never parsed back.
type Contribution struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
	Value   float64 `json:"value"`
	Points  float64 `json:"points"`
}

// String renders "name × weight -> contribution" for audit trails.
func (c Contribution) String() string {
	return fmt.Sprintf("%s × %+.2f -> %+.2f", c.Feature, c.Weight, c.Points)
}

// TraceStrings renders a contribution list for audit logs.
func TraceStrings(contribs []Contribution) []string {
	out := make([]string, 0, len(contribs))
	for _, c := range contribs {
		out = append(out, c.String())
	}
	return out
}

// LinearScore computes the bounded 0-100 linear risk score
// sigmoid(intercept + scale*(bias + Σ w·f)) with a contribution record for
// every feature with non-zero weight and value, in FeatureNames order.
// Weights absent from config contribute nothing.
func LinearScore(features map[string]float64, cfg *RiskConfig) (int, []Contribution) {
	sum := cfg.Weights["bias"]
	var contribs []Contribution

	for _, name := range FeatureNames {
		v := features[name]
		w := cfg.Weights[name]
		if v != 0 && w != 0 {
			contribs = append(contribs, Contribution{
				Feature: name,
				Weight:  w,
				Value:   v,
				Points:  v * w,
			})
		}
		sum += w * v
	}

	z := cfg.Scale*sum + cfg.Intercept
	p := sigmoid(z)

	score := int(math.Round(p * 100))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, contribs
}

// sigmoid is computed branch-stable: exp is only ever taken of a
// non-positive argument, so large |x| cannot overflow.
func sigmoid(x float64) float64 {
	if x >= 0 {
		z := math.Exp(-x)
		return 1.0 / (1.0 + z)
	}
	z := math.Exp(x)
	return z / (1.0 + z)
}
