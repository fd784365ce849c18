package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/keyedmutex"
	"github.com/riskforge/riskforge/internal/common/logger"
	"github.com/riskforge/riskforge/internal/device"
	"github.com/riskforge/riskforge/internal/geo"
	"github.com/riskforge/riskforge/internal/intel"
	"github.com/riskforge/riskforge/internal/metrics"
	"github.com/riskforge/riskforge/internal/profile"
)

const serviceName = "risk-service"

// historyLimit bounds how much login history is loaded per scoring call.
const historyLimit = 500

// minTravelHours floors the time delta when deriving travel speed.
const minTravelHours = 0.05

var (
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account temporarily locked")

	// ErrInvalidCredentials is returned for failed password verification.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// LoginRequest describes a login attempt to be scored. PasswordOK carries
// the credential verification outcome from the auth layer.
type LoginRequest struct {
	UserID       string    `json:"user_id" binding:"required"`
	Email        string    `json:"email,omitempty"`
	IP           string    `json:"ip"`
	DeviceSeed   string    `json:"device_seed,omitempty"`
	BindingToken string    `json:"binding_token,omitempty"`
	PasswordOK   bool      `json:"password_ok"`
	DryRun       bool      `json:"dry_run,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// Assessment is the full scoring result for one login attempt.
type Assessment struct {
	AttemptID        string             `json:"attempt_id"`
	UserID           string             `json:"user_id"`
	Decision         Decision           `json:"decision"`
	Score            int                `json:"score"`
	LinearScore      int                `json:"linear_score"`
	CalibratedScore  int                `json:"calibrated_score"`
	Contributions    []Contribution     `json:"contributions"`
	Trace            []string           `json:"trace"`
	Features         map[string]float64 `json:"features"`
	Notes            Notes              `json:"notes"`
	Intel            intel.Signals      `json:"intel"`
	StepUpRequired   bool               `json:"step_up_required"`
	ConsecutiveFails int                `json:"consecutive_fails"`
	DeviceHash       string             `json:"device_hash,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
}

// Service orchestrates the login scoring pipeline: feature extraction,
// linear scoring, calibration, threat intel fusion, decisioning and profile
// learning, all under a per-account lock.
type Service struct {
	configs  *ConfigStore
	profiles profile.Store
	devices  device.Registry
	history  HistoryStore
	resolver geo.Resolver
	intel    *intel.Service
	lockout  Lockout
	hasher   *device.Hasher
	locks    keyedmutex.KeyedMutex
	logger   *zap.Logger
	audit    *logger.AuditLogger
	now      func() time.Time
}

// NewService creates the scoring service. The resolver and intel service
// may be nil; affected signals then degrade to their safe defaults.
func NewService(
	configs *ConfigStore,
	profiles profile.Store,
	devices device.Registry,
	history HistoryStore,
	resolver geo.Resolver,
	ti *intel.Service,
	lockout Lockout,
	hasher *device.Hasher,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		configs:  configs,
		profiles: profiles,
		devices:  devices,
		history:  history,
		resolver: resolver,
		intel:    ti,
		lockout:  lockout,
		hasher:   hasher,
		logger:   log.With(zap.String("component", "risk_service")),
		audit:    logger.NewAuditLogger(log),
		now:      time.Now,
	}
}

// Configs exposes the runtime config store.
func (s *Service) Configs() *ConfigStore {
	return s.configs
}

// Devices exposes the device registry for the HTTP surface.
func (s *Service) Devices() device.Registry {
	return s.devices
}

// Profile returns the learned behavioral profile for a user.
func (s *Service) Profile(ctx context.Context, userID string) (*profile.BehavioralProfile, error) {
	return s.profiles.Get(ctx, userID)
}

// ScoreLogin scores one login attempt and, unless DryRun is set, finalizes
// it: history is appended, the device sighting recorded and the profile
// updated. The whole pipeline runs under the account's lock.
func (s *Service) ScoreLogin(ctx context.Context, req LoginRequest) (*Assessment, error) {
	now := req.Timestamp
	if now.IsZero() {
		now = s.now().UTC()
	}
	attemptID := uuid.NewString()

	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	if locked, err := s.lockout.Locked(ctx, req.UserID); err == nil && locked {
		return nil, ErrAccountLocked
	}

	deviceHash := ""
	if req.DeviceSeed != "" {
		deviceHash = s.hasher.Hash(req.DeviceSeed)
	}

	// A valid binding token overrides the seed-derived hash. Trust is only
	// granted further down, once the password check has passed.
	bound := false
	if req.BindingToken != "" && !req.DryRun {
		rec, err := s.devices.ResolveBindToken(ctx, req.UserID, device.HashBindToken(req.BindingToken), now)
		if err == nil {
			deviceHash = rec.DeviceHash
			bound = true
		}
	}

	if !req.PasswordOK {
		if req.DryRun {
			return nil, ErrInvalidCredentials
		}
		fails, lockedNow, err := s.lockout.RecordFailure(ctx, req.UserID)
		if err != nil {
			s.logger.Warn("lockout update failed", zap.String("user_id", req.UserID), zap.Error(err))
		}
		if lockedNow {
			metrics.RecordLockout()
			s.audit.LogAccountLocked(req.UserID, req.IP, fails)
		}
		s.appendHistory(ctx, Attempt{
			ID: attemptID, UserID: req.UserID, Timestamp: now, IP: req.IP,
			DeviceHash: deviceHash, Success: false, Reason: "bad_password",
		})
		return nil, ErrInvalidCredentials
	}

	consecutiveFails, _ := s.lockout.Fails(ctx, req.UserID)

	if bound {
		if err := s.devices.Trust(ctx, req.UserID, deviceHash); err != nil {
			s.logger.Warn("bound device trust not recorded",
				zap.String("user_id", req.UserID), zap.Error(err))
		}
	}

	knownDevice := false
	var deviceFirstSeen *time.Time
	ipChanged := false
	trusted := bound
	if deviceHash != "" {
		if rec, err := s.devices.Get(ctx, req.UserID, deviceHash); err == nil {
			knownDevice = true
			first := rec.FirstSeen
			deviceFirstSeen = &first
			ipChanged = rec.LastIP != "" && rec.LastIP != req.IP
			trusted = trusted || rec.Trusted
		}
	}

	prof, err := s.profiles.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	recent, err := s.history.Recent(ctx, req.UserID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load login history: %w", err)
	}

	candidate := append(append([]Attempt(nil), recent...), Attempt{
		ID: attemptID, UserID: req.UserID, Timestamp: now, IP: req.IP,
		DeviceHash: deviceHash, Success: true,
	})

	city, privateIP := s.resolveCity(ctx, req.IP)
	speedKmh := s.travelSpeed(ctx, candidate)
	lastSuccess := lastSuccessTime(recent)

	var signals intel.Signals
	if s.intel != nil {
		signals = s.intel.Evaluate(ctx, req.IP, req.Email)
	}

	cfg := s.configs.Snapshot()

	features, notes := ExtractFeatures(ExtractInput{
		History:          candidate,
		Profile:          prof,
		City:             city,
		PrivateIP:        privateIP,
		DeviceHash:       deviceHash,
		KnownDevice:      knownDevice,
		IPChanged:        ipChanged,
		ConsecutiveFails: consecutiveFails,
		Now:              now,
		LastSuccess:      lastSuccess,
		SpeedKmh:         speedKmh,
	})

	linear, contribs := LinearScore(features, cfg)
	calibrated := Calibrate(linear, notes.PriorSuccesses, deviceFirstSeen, now)
	fusedF, tiLabels := intel.Fuse(float64(calibrated), signals)
	fused := int(fusedF)

	recordIntelHits(signals)

	trace := append(TraceStrings(contribs), tiLabels...)
	decision := Decide(fused, notes.PriorSuccesses, cfg)

	assessment := &Assessment{
		AttemptID:        attemptID,
		UserID:           req.UserID,
		Decision:         decision,
		Score:            fused,
		LinearScore:      linear,
		CalibratedScore:  calibrated,
		Contributions:    contribs,
		Trace:            trace,
		Features:         features,
		Notes:            notes,
		Intel:            signals,
		StepUpRequired:   decision == DecisionStepUp,
		ConsecutiveFails: consecutiveFails,
		DeviceHash:       deviceHash,
		Timestamp:        now,
	}

	if req.DryRun {
		return assessment, nil
	}

	metrics.RecordLoginScore(serviceName, decision.String(), float64(fused))

	if decision == DecisionHardDeny {
		s.appendHistory(ctx, Attempt{
			ID: attemptID, UserID: req.UserID, Timestamp: now, IP: req.IP,
			DeviceHash: deviceHash, Success: false, RiskScore: fused,
			Reason: "hard_deny|" + strings.Join(trace, "|"),
		})
		s.audit.LogHardDeny(req.UserID, req.IP, float64(fused), trace)
		return assessment, nil
	}

	if err := s.lockout.Reset(ctx, req.UserID); err != nil {
		s.logger.Warn("lockout reset failed", zap.String("user_id", req.UserID), zap.Error(err))
	}

	if deviceHash != "" {
		rec, err := s.devices.Touch(ctx, req.UserID, deviceHash, req.IP, now)
		if err != nil {
			s.logger.Warn("device sighting not recorded", zap.String("user_id", req.UserID), zap.Error(err))
		} else {
			trusted = trusted || rec.Trusted
		}
	}

	s.appendHistory(ctx, Attempt{
		ID: attemptID, UserID: req.UserID, Timestamp: now, IP: req.IP,
		DeviceHash: deviceHash, Success: true, RiskScore: fused,
		Reason: strings.Join(trace, "|"),
	})

	if prof.LearnLogin(attemptID, now.Hour(), city, deviceHash, trusted) {
		if err := s.profiles.Put(ctx, prof); err != nil {
			metrics.RecordProfileUpdate("login", "error")
			s.logger.Error("profile update failed", zap.String("user_id", req.UserID), zap.Error(err))
		} else {
			metrics.RecordProfileUpdate("login", "applied")
		}
	} else {
		metrics.RecordProfileUpdate("login", "skipped")
	}

	s.logger.Info("login scored",
		zap.String("user_id", req.UserID),
		zap.String("decision", decision.String()),
		zap.Int("score", fused),
		zap.Int("linear", linear),
		zap.Int("calibrated", calibrated),
	)

	return assessment, nil
}

// resolveCity resolves the candidate IP to a city label. Lookup failures
// degrade to an unknown city, never an error.
func (s *Service) resolveCity(ctx context.Context, ip string) (city string, privateIP bool) {
	privateIP = !geo.IsPubliclyRoutable(ip)
	if privateIP || s.resolver == nil {
		return "", privateIP
	}
	loc, err := s.resolver.Resolve(ctx, ip)
	if err != nil || !loc.Resolvable {
		return "", privateIP
	}
	return loc.City, privateIP
}

// travelSpeed derives the speed between the last two successful attempts.
// Returns nil unless both endpoints resolve to coordinates.
func (s *Service) travelSpeed(ctx context.Context, history []Attempt) *float64 {
	if s.resolver == nil {
		return nil
	}

	var last2 []Attempt
	for i := len(history) - 1; i >= 0 && len(last2) < 2; i-- {
		if history[i].Success {
			last2 = append(last2, history[i])
		}
	}
	if len(last2) < 2 {
		return nil
	}
	newer, older := last2[0], last2[1]

	from, err := s.resolver.Resolve(ctx, older.IP)
	if err != nil || !from.Resolvable {
		return nil
	}
	to, err := s.resolver.Resolve(ctx, newer.IP)
	if err != nil || !to.Resolvable {
		return nil
	}

	distKm := geo.HaversineKm(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	dtHours := newer.Timestamp.Sub(older.Timestamp).Hours()
	if dtHours < minTravelHours {
		dtHours = minTravelHours
	}
	speed := distKm / dtHours
	return &speed
}

func (s *Service) appendHistory(ctx context.Context, a Attempt) {
	if err := s.history.Append(ctx, a); err != nil {
		s.logger.Error("history append failed", zap.String("user_id", a.UserID), zap.Error(err))
	}
}

func lastSuccessTime(history []Attempt) *time.Time {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Success {
			ts := history[i].Timestamp
			return &ts
		}
	}
	return nil
}

func recordIntelHits(sig intel.Signals) {
	if sig.BadIP {
		metrics.RecordIntelHit("bad_ip")
	}
	if sig.TorExit {
		metrics.RecordIntelHit("tor_exit")
	}
	if sig.BadASN {
		metrics.RecordIntelHit("bad_asn")
	}
	if sig.DisposableEmail {
		metrics.RecordIntelHit("disposable_email")
	}
}
