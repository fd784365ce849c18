package anomaly

import (
	"fmt"
	"math"
	"strings"

	"github.com/riskforge/riskforge/internal/profile"
)

// commonCurrencies are exempt from the uncommon-currency bump.
var commonCurrencies = map[string]bool{
	"SAR": true, "USD": true, "EUR": true, "GBP": true, "AED": true,
}

// minDeviationSamples is how many transactions a category must have seen
// before the amount-deviation bump applies.
const minDeviationSamples = 5

// HeuristicResult is the model-free score for one transaction.
type HeuristicResult struct {
	Score   int            `json:"score"`
	Parts   []string       `json:"parts"`
	Details map[string]any `json:"details"`
}

// ScoreHeuristic scores a transaction against the profile's learned spend
// statistics. It needs no training step and never fails; an empty profile
// simply contributes nothing.
func ScoreHeuristic(p *profile.BehavioralProfile, tx Transaction) HeuristicResult {
	cat := strings.ToUpper(tx.Category)
	merch := strings.ToLower(tx.Merchant)

	stats := p.TxCategoryStats[cat]
	z := 0.0
	if stats.EMAMAD > 1e-6 {
		z = math.Abs(tx.Amount-stats.EMAMedian) / stats.EMAMAD
	}

	res := HeuristicResult{
		Parts: []string{},
		Details: map[string]any{
			"median": stats.EMAMedian,
			"mad":    stats.EMAMAD,
			"n":      stats.N,
			"z":      math.Round(z*100) / 100,
		},
	}

	score := 0
	if stats.N >= minDeviationSamples {
		bump := int(z * 12)
		if bump > 70 {
			bump = 70
		}
		score += bump
		res.Parts = append(res.Parts, fmt.Sprintf("amount_deviation(z=%.1f) +%d", z, bump))
	}

	seen := p.TxMerchantCounts[merch]
	if merch != "" && seen == 0 && tx.Amount >= 100 {
		score += 20
		res.Parts = append(res.Parts, "new_merchant +20")
	} else if merch != "" && seen <= 2 && tx.Amount >= 250 {
		score += 10
		res.Parts = append(res.Parts, "rare_merchant +10")
	}

	if !commonCurrencies[strings.ToUpper(tx.Currency)] && tx.Amount > 0 {
		score += 10
		res.Parts = append(res.Parts, "uncommon_currency +10")
	}

	if score > 100 {
		score = 100
	}
	res.Score = score
	return res
}

// ShadowRules evaluates the shadow-mode rule set against a transaction.
// Rules are evaluation-only and never enforced.
func ShadowRules(tx Transaction) []string {
	var triggered []string

	if tx.Amount >= 1000 {
		triggered = append(triggered, "HIGH_AMOUNT>=1000")
	}
	if !commonCurrencies[strings.ToUpper(tx.Currency)] && tx.Amount > 0 {
		triggered = append(triggered, "UNCOMMON_CURRENCY")
	}
	merch := strings.ToLower(tx.Merchant)
	for _, kw := range []string{"crypto", "binance", "coinbase"} {
		if strings.Contains(merch, kw) {
			triggered = append(triggered, "CRYPTO_MERCHANT")
			break
		}
	}
	return triggered
}
