// Package profile provides per-account behavioral profiles and their stores.
package profile

import (
	"math"
	"strings"
	"time"
)

// ewmaAlpha is the smoothing factor for the streaming median/MAD estimates.
const ewmaAlpha = 0.1

// maxAppliedIDs bounds the idempotency set kept per profile.
const maxAppliedIDs = 1024

// CategoryStats holds streaming spend statistics for one category.
type CategoryStats struct {
	N         int     `json:"n"`
	EMAMedian float64 `json:"median"`
	EMAMAD    float64 `json:"mad"`
}

// BehavioralProfile aggregates an account's login and spending behavior.
// Counters only grow; the profile is mutated after an event is finalized
// and never rolled back.
type BehavioralProfile struct {
	UserID            string                   `json:"user_id"`
	LoginHourHist     [24]int                  `json:"login_hours_hist"`
	CityVisitCounts   map[string]int           `json:"login_cities"`
	DeviceTrust       map[string]bool          `json:"device_trust"`
	TxCategoryStats   map[string]CategoryStats `json:"tx_category_stats"`
	TxMerchantCounts  map[string]int           `json:"tx_merchant_counts"`
	AppliedAttemptIDs []string                 `json:"applied_attempt_ids,omitempty"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

// New creates an empty profile for a user.
func New(userID string) *BehavioralProfile {
	return &BehavioralProfile{
		UserID:           userID,
		CityVisitCounts:  make(map[string]int),
		DeviceTrust:      make(map[string]bool),
		TxCategoryStats:  make(map[string]CategoryStats),
		TxMerchantCounts: make(map[string]int),
	}
}

// normalize repairs maps after JSON decoding so callers never see nil maps.
func (p *BehavioralProfile) normalize() {
	if p.CityVisitCounts == nil {
		p.CityVisitCounts = make(map[string]int)
	}
	if p.DeviceTrust == nil {
		p.DeviceTrust = make(map[string]bool)
	}
	if p.TxCategoryStats == nil {
		p.TxCategoryStats = make(map[string]CategoryStats)
	}
	if p.TxMerchantCounts == nil {
		p.TxMerchantCounts = make(map[string]int)
	}
}

// alreadyApplied reports whether an attempt ID was applied before, and
// records it otherwise. Empty IDs are never tracked.
func (p *BehavioralProfile) alreadyApplied(attemptID string) bool {
	if attemptID == "" {
		return false
	}
	for _, id := range p.AppliedAttemptIDs {
		if id == attemptID {
			return true
		}
	}
	p.AppliedAttemptIDs = append(p.AppliedAttemptIDs, attemptID)
	if len(p.AppliedAttemptIDs) > maxAppliedIDs {
		p.AppliedAttemptIDs = p.AppliedAttemptIDs[len(p.AppliedAttemptIDs)-maxAppliedIDs:]
	}
	return false
}

// LearnLogin folds a finalized login attempt into the profile: the hour
// histogram and city count are incremented and the device trust entry is
// refreshed from the authoritative registry value. Re-applying the same
// attempt ID is a no-op.
func (p *BehavioralProfile) LearnLogin(attemptID string, hour int, city, deviceHash string, trusted bool) bool {
	if p.alreadyApplied(attemptID) {
		return false
	}
	if hour >= 0 && hour < 24 {
		p.LoginHourHist[hour]++
	}
	if city != "" {
		p.CityVisitCounts[city]++
	}
	if deviceHash != "" {
		p.DeviceTrust[deviceHash] = trusted
	}
	p.UpdatedAt = time.Now().UTC()
	return true
}

// LearnTransaction folds a finalized transaction into the profile. The
// category median/MAD use EWMA updates; the MAD is updated against the
// already-updated median. Re-applying the same transaction ID is a no-op.
func (p *BehavioralProfile) LearnTransaction(txID string, amount float64, category, merchant string) bool {
	if p.alreadyApplied(txID) {
		return false
	}

	cat := strings.ToUpper(strings.TrimSpace(category))
	s := p.TxCategoryStats[cat]
	if s.N == 0 {
		s.EMAMedian = amount
		s.EMAMAD = 0
	} else {
		s.EMAMedian = (1-ewmaAlpha)*s.EMAMedian + ewmaAlpha*amount
		s.EMAMAD = (1-ewmaAlpha)*s.EMAMAD + ewmaAlpha*math.Abs(amount-s.EMAMedian)
	}
	s.N++
	p.TxCategoryStats[cat] = s

	if m := strings.ToLower(strings.TrimSpace(merchant)); m != "" {
		p.TxMerchantCounts[m]++
	}

	p.UpdatedAt = time.Now().UTC()
	return true
}

// TotalLogins returns the number of logins folded into the hour histogram.
func (p *BehavioralProfile) TotalLogins() int {
	total := 0
	for _, c := range p.LoginHourHist {
		total += c
	}
	return total
}

// Clone returns a deep copy of the profile.
func (p *BehavioralProfile) Clone() *BehavioralProfile {
	cp := *p
	cp.CityVisitCounts = make(map[string]int, len(p.CityVisitCounts))
	for k, v := range p.CityVisitCounts {
		cp.CityVisitCounts[k] = v
	}
	cp.DeviceTrust = make(map[string]bool, len(p.DeviceTrust))
	for k, v := range p.DeviceTrust {
		cp.DeviceTrust[k] = v
	}
	cp.TxCategoryStats = make(map[string]CategoryStats, len(p.TxCategoryStats))
	for k, v := range p.TxCategoryStats {
		cp.TxCategoryStats[k] = v
	}
	cp.TxMerchantCounts = make(map[string]int, len(p.TxMerchantCounts))
	for k, v := range p.TxMerchantCounts {
		cp.TxMerchantCounts[k] = v
	}
	cp.AppliedAttemptIDs = append([]string(nil), p.AppliedAttemptIDs...)
	return &cp
}
