// Package risk provides login risk feature extraction, scoring, calibration
// and decisioning.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// ErrConfigInvalid is returned when a config update fails validation. The
// prior config stays in effect.
var ErrConfigInvalid = errors.New("invalid risk config")

// RiskConfig holds the scoring weights and decision thresholds. Instances
// handed out by ConfigStore are immutable snapshots; never mutate one.
type RiskConfig struct {
	Weights           map[string]float64 `json:"weights"`
	Scale             float64            `json:"scale"`
	Intercept         float64            `json:"intercept"`
	StepUpThreshold   float64            `json:"step_up_threshold"`
	HardDenyThreshold float64            `json:"hard_deny_threshold"`
}

// DefaultRiskConfig returns the default weight vector and thresholds.
func DefaultRiskConfig() *RiskConfig {
	return &RiskConfig{
		Weights: map[string]float64{
			"bias":              -1.5,
			"new_device":        2.2,
			"untrusted_device":  1.6,
			"ip_changed":        0.6,
			"new_city":          1.0,
			"rare_city":         0.5,
			"odd_hour":          0.4,
			"uncommon_hour":     0.25,
			"impossible_travel": 2.4,
			"consecutive_fails": 0.65,
		},
		Scale:             1.0,
		Intercept:         0.0,
		StepUpThreshold:   60,
		HardDenyThreshold: 90,
	}
}

func (c *RiskConfig) clone() *RiskConfig {
	cp := *c
	cp.Weights = make(map[string]float64, len(c.Weights))
	for k, v := range c.Weights {
		cp.Weights[k] = v
	}
	return &cp
}

// ConfigPatch is a partial config update. Nil fields keep current values;
// weights are merged key-by-key rather than replaced.
type ConfigPatch struct {
	Weights           map[string]float64 `json:"weights,omitempty"`
	Scale             *float64           `json:"scale,omitempty"`
	Intercept         *float64           `json:"intercept,omitempty"`
	StepUpThreshold   *float64           `json:"step_up_threshold,omitempty"`
	HardDenyThreshold *float64           `json:"hard_deny_threshold,omitempty"`
}

// ConfigStore owns the mutable runtime config. Readers take an immutable
// snapshot per scoring call; updates validate a candidate and swap it
// atomically, so scoring never observes a partially applied patch.
type ConfigStore struct {
	current atomic.Pointer[RiskConfig]
}

// NewConfigStore creates a store seeded with the given config (defaults when
// nil).
func NewConfigStore(initial *RiskConfig) *ConfigStore {
	if initial == nil {
		initial = DefaultRiskConfig()
	}
	s := &ConfigStore{}
	s.current.Store(initial.clone())
	return s
}

// Snapshot returns the current config. The returned value must be treated
// as read-only.
func (s *ConfigStore) Snapshot() *RiskConfig {
	return s.current.Load()
}

// Update applies a patch on top of the current config, validates the result
// and swaps it in. On validation failure the prior config is retained and
// ErrConfigInvalid is returned.
func (s *ConfigStore) Update(patch ConfigPatch) (*RiskConfig, error) {
	next := s.current.Load().clone()

	for k, v := range patch.Weights {
		next.Weights[k] = v
	}
	if patch.Scale != nil {
		next.Scale = *patch.Scale
	}
	if patch.Intercept != nil {
		next.Intercept = *patch.Intercept
	}
	if patch.StepUpThreshold != nil {
		next.StepUpThreshold = *patch.StepUpThreshold
	}
	if patch.HardDenyThreshold != nil {
		next.HardDenyThreshold = *patch.HardDenyThreshold
	}

	if err := validateConfig(next); err != nil {
		return nil, err
	}

	s.current.Store(next)
	return next, nil
}

// validateConfig checks structural invariants. Threshold ordering
// (stepUp <= hardDeny) is not enforced.
func validateConfig(c *RiskConfig) error {
	if _, ok := c.Weights["bias"]; !ok {
		return fmt.Errorf("%w: weights must contain bias", ErrConfigInvalid)
	}
	for k, v := range c.Weights {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: weight %q is not finite", ErrConfigInvalid, k)
		}
	}
	for name, v := range map[string]float64{"scale": c.Scale, "intercept": c.Intercept} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrConfigInvalid, name)
		}
	}
	if c.StepUpThreshold < 0 || c.StepUpThreshold > 100 {
		return fmt.Errorf("%w: step_up_threshold out of [0,100]", ErrConfigInvalid)
	}
	if c.HardDenyThreshold < 0 || c.HardDenyThreshold > 100 {
		return fmt.Errorf("%w: hard_deny_threshold out of [0,100]", ErrConfigInvalid)
	}
	return nil
}
