package risk

import (
	"time"

	"github.com/riskforge/riskforge/internal/profile"
)

// FeatureNames is the fixed, closed feature set in scoring order.
var FeatureNames = []string{
	"new_device",
	"untrusted_device",
	"ip_changed",
	"new_city",
	"rare_city",
	"odd_hour",
	"uncommon_hour",
	"impossible_travel",
	"consecutive_fails",
}

// Attempt is one login history row, oldest-first in history slices. The
// candidate attempt being scored is appended last and is not yet committed.
type Attempt struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip"`
	DeviceHash string    `json:"device_hash,omitempty"`
	Success    bool      `json:"success"`
	RiskScore  int       `json:"risk_score"`
	Reason     string    `json:"reason,omitempty"`
}

// ExtractInput carries everything the feature extractor reads.
type ExtractInput struct {
	// History is ordered oldest to newest with the candidate appended last.
	History []Attempt
	Profile *profile.BehavioralProfile

	// City is the resolved city label for the candidate IP, empty when the
	// IP is private or the lookup degraded.
	City      string
	PrivateIP bool

	DeviceHash       string
	KnownDevice      bool
	IPChanged        bool
	ConsecutiveFails int

	Now         time.Time
	LastSuccess *time.Time
	// SpeedKmh is the pre-computed travel speed between the last two
	// successful attempts; nil when fewer than two exist.
	SpeedKmh *float64
}

// impossibleTravelSpeedKmh is a policy constant, not part of RiskConfig.
const impossibleTravelSpeedKmh = 750.0

// Notes are extraction side outputs used by calibration and audit.
type Notes struct {
	City           string     `json:"city"`
	PriorSuccesses int        `json:"prior_successes"`
	HourCount      int        `json:"hour_count"`
	SpeedKmh       *float64   `json:"speed_kmh,omitempty"`
	LastSuccess    *time.Time `json:"last_success_ts,omitempty"`
}

// ExtractFeatures converts a candidate login into the fixed feature vector.
// Absent signals stay 0; missing geo data degrades city features to 0,
// never to 1.
func ExtractFeatures(in ExtractInput) (map[string]float64, Notes) {
	f := make(map[string]float64, len(FeatureNames))
	for _, name := range FeatureNames {
		f[name] = 0
	}
	notes := Notes{City: in.City, SpeedKmh: in.SpeedKmh, LastSuccess: in.LastSuccess}

	if in.DeviceHash != "" && !in.KnownDevice {
		f["new_device"] = 1
	}
	if !in.Profile.DeviceTrust[in.DeviceHash] {
		f["untrusted_device"] = 1
	}
	if in.IPChanged {
		f["ip_changed"] = 1
	}

	priorSuccesses := 0
	for i := 0; i+1 < len(in.History); i++ {
		if in.History[i].Success {
			priorSuccesses++
		}
	}
	notes.PriorSuccesses = priorSuccesses

	cityUnknown := in.PrivateIP || in.City == "" || in.City == "Unknown"
	if !cityUnknown && priorSuccesses >= 1 {
		seen := in.Profile.CityVisitCounts[in.City]
		if seen == 0 {
			f["new_city"] = 1
		}
		if seen > 0 && seen <= 2 {
			f["rare_city"] = 1
		}
	}

	if priorSuccesses >= 3 {
		hour := in.Now.Hour()
		count := in.Profile.LoginHourHist[hour]
		notes.HourCount = count
		if count == 0 {
			f["odd_hour"] = 1
		}
		if count > 0 && count <= 2 {
			f["uncommon_hour"] = 1
		}
	}

	if in.SpeedKmh != nil && *in.SpeedKmh > impossibleTravelSpeedKmh {
		f["impossible_travel"] = 1
	}

	if in.ConsecutiveFails > 0 {
		f["consecutive_fails"] = float64(in.ConsecutiveFails)
	}

	return f, notes
}
