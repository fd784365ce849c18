package risk

// Decision is the per-attempt outcome of the decision policy.
type Decision string

const (
	DecisionAllow    Decision = "ALLOW"
	DecisionStepUp   Decision = "STEP_UP"
	DecisionHardDeny Decision = "HARD_DENY"
)

// String returns the string representation of a Decision.
func (d Decision) String() string {
	return string(d)
}

// Decide maps a fused score to a decision. Hard deny additionally requires
// at least one prior successful login, so a brand-new account can at most
// be stepped up.
func Decide(fused int, priorSuccesses int, cfg *RiskConfig) Decision {
	if float64(fused) >= cfg.HardDenyThreshold && priorSuccesses >= 1 {
		return DecisionHardDeny
	}
	if float64(fused) >= cfg.StepUpThreshold {
		return DecisionStepUp
	}
	return DecisionAllow
}
