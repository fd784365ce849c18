package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riskforge/riskforge/internal/profile"
)

func attemptAt(ts time.Time, ip string, success bool) Attempt {
	return Attempt{Timestamp: ts, IP: ip, Success: success}
}

func baseInput(p *profile.BehavioralProfile, history []Attempt) ExtractInput {
	return ExtractInput{
		History: history,
		Profile: p,
		Now:     time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestExtractNewAndUntrustedDevice(t *testing.T) {
	p := profile.New("u1")
	in := baseInput(p, []Attempt{{}})
	in.DeviceHash = "hash-1"
	in.KnownDevice = false

	f, _ := ExtractFeatures(in)
	require.Equal(t, 1.0, f["new_device"])
	require.Equal(t, 1.0, f["untrusted_device"])

	// Known and trusted device.
	p.DeviceTrust["hash-1"] = true
	in.KnownDevice = true
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["new_device"])
	require.Equal(t, 0.0, f["untrusted_device"])

	// No device hash at all: not new, but untrusted.
	in.DeviceHash = ""
	in.KnownDevice = false
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["new_device"])
	require.Equal(t, 1.0, f["untrusted_device"])
}

func TestExtractCityGating(t *testing.T) {
	now := time.Now().UTC()
	p := profile.New("u1")

	history := []Attempt{
		attemptAt(now.Add(-48*time.Hour), "203.0.113.1", true),
		attemptAt(now, "203.0.113.2", true), // candidate
	}

	// Eligible: resolvable city, one prior success, never visited.
	in := baseInput(p, history)
	in.City = "Riyadh"
	f, notes := ExtractFeatures(in)
	require.Equal(t, 1, notes.PriorSuccesses)
	require.Equal(t, 1.0, f["new_city"])
	require.Equal(t, 0.0, f["rare_city"])

	// Rare city: visited once or twice.
	p.CityVisitCounts["Riyadh"] = 2
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["new_city"])
	require.Equal(t, 1.0, f["rare_city"])

	// Common city.
	p.CityVisitCounts["Riyadh"] = 10
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["new_city"])
	require.Equal(t, 0.0, f["rare_city"])

	// Private IP degrades both to 0 even for an unseen city.
	in.City = "Elsewhere"
	in.PrivateIP = true
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["new_city"])
	require.Equal(t, 0.0, f["rare_city"])

	// Unresolvable city likewise.
	in.PrivateIP = false
	in.City = ""
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["new_city"])

	// No prior success: gated off.
	in.City = "Elsewhere"
	in.History = []Attempt{attemptAt(now, "203.0.113.2", true)}
	f, notes = ExtractFeatures(in)
	require.Equal(t, 0, notes.PriorSuccesses)
	require.Equal(t, 0.0, f["new_city"])
}

func TestExtractHourGating(t *testing.T) {
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	p := profile.New("u1")

	history := make([]Attempt, 0, 4)
	for i := 0; i < 3; i++ {
		history = append(history, attemptAt(now.Add(-time.Duration(i+1)*24*time.Hour), "203.0.113.1", true))
	}
	history = append(history, attemptAt(now, "203.0.113.1", true)) // candidate

	in := baseInput(p, history)
	in.Now = now

	// Hour 3 never seen: odd.
	f, _ := ExtractFeatures(in)
	require.Equal(t, 1.0, f["odd_hour"])
	require.Equal(t, 0.0, f["uncommon_hour"])

	// Seen twice: uncommon.
	p.LoginHourHist[3] = 2
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["odd_hour"])
	require.Equal(t, 1.0, f["uncommon_hour"])

	// Seen often: neither.
	p.LoginHourHist[3] = 8
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["odd_hour"])
	require.Equal(t, 0.0, f["uncommon_hour"])

	// Fewer than 3 prior successes: gated off entirely.
	p.LoginHourHist[3] = 0
	in.History = history[2:]
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["odd_hour"])
	require.Equal(t, 0.0, f["uncommon_hour"])
}

func TestExtractImpossibleTravel(t *testing.T) {
	p := profile.New("u1")
	in := baseInput(p, []Attempt{{}})

	f, _ := ExtractFeatures(in)
	require.Equal(t, 0.0, f["impossible_travel"])

	slow := 700.0
	in.SpeedKmh = &slow
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["impossible_travel"])

	boundary := 750.0
	in.SpeedKmh = &boundary
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["impossible_travel"])

	fast := 751.0
	in.SpeedKmh = &fast
	f, _ = ExtractFeatures(in)
	require.Equal(t, 1.0, f["impossible_travel"])
}

func TestExtractConsecutiveFails(t *testing.T) {
	p := profile.New("u1")

	in := baseInput(p, []Attempt{{}})
	in.ConsecutiveFails = 4
	f, _ := ExtractFeatures(in)
	require.Equal(t, 4.0, f["consecutive_fails"])

	in.ConsecutiveFails = -3
	f, _ = ExtractFeatures(in)
	require.Equal(t, 0.0, f["consecutive_fails"])
}

func TestExtractClosedFeatureSet(t *testing.T) {
	p := profile.New("u1")
	f, _ := ExtractFeatures(baseInput(p, []Attempt{{}}))

	require.Len(t, f, len(FeatureNames))
	for _, name := range FeatureNames {
		require.Contains(t, f, name)
	}
}
