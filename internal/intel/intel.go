// Package intel provides threat intelligence feeds and score fusion.
package intel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/database"
)

// Score bumps applied when a signal fires. Breached credential detection is
// a stub and intentionally contributes nothing until a k-anonymity style
// resolver is added.
const (
	BumpBadIP           = 30.0
	BumpTorExit         = 25.0
	BumpBadASN          = 15.0
	BumpDisposableEmail = 15.0
	BumpBreachedCred    = 0.0
)

// Signals holds the threat intelligence flags for a single evaluation.
type Signals struct {
	BadIP           bool   `json:"bad_ip"`
	TorExit         bool   `json:"tor_exit"`
	BadASN          bool   `json:"bad_asn"`
	ASN             string `json:"asn,omitempty"`
	DisposableEmail bool   `json:"disposable_email"`
	BreachedCred    bool   `json:"breached_cred"`
}

// Config holds feed sources and cache settings.
type Config struct {
	Enabled        bool
	BadIPFile      string // one IP or CIDR per line
	TorExitFile    string // one IP or CIDR per line
	BadASNFile     string // one ASN per line, e.g. AS12345
	DisposableFile string // disposable email domains, comma or newline separated
	CacheTTL       time.Duration
}

// DefaultConfig returns default threat intelligence configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		CacheTTL: 5 * time.Minute,
	}
}

// Status describes the currently loaded feeds.
type Status struct {
	Enabled  bool              `json:"enabled"`
	LoadedAt time.Time         `json:"loaded_at"`
	Counts   map[string]int    `json:"counts"`
	Sources  map[string]string `json:"sources"`
}

type feeds struct {
	badIP      []*net.IPNet
	torExit    []*net.IPNet
	badASN     map[string]struct{}
	badDomains map[string]struct{}
	loadedAt   time.Time
}

// Service evaluates IPs and emails against loaded feeds. Feeds reload
// atomically; per-IP lookups are cached in redis when a client is provided.
type Service struct {
	config Config
	redis  *database.RedisClient
	logger *zap.Logger

	mu    sync.RWMutex
	feeds feeds
}

// NewService creates a threat intelligence service with feeds loaded.
func NewService(redis *database.RedisClient, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		config: config,
		redis:  redis,
		logger: logger.With(zap.String("component", "threat_intel")),
	}
	s.Reload()
	return s
}

// Reload re-reads all feeds from disk. Missing or unreadable files yield
// empty feeds rather than errors.
func (s *Service) Reload() Status {
	f := feeds{
		badASN:     make(map[string]struct{}),
		badDomains: make(map[string]struct{}),
		loadedAt:   time.Now(),
	}

	if s.config.Enabled {
		f.badIP = parseCIDRs(readLines(s.config.BadIPFile))
		f.torExit = parseCIDRs(readLines(s.config.TorExitFile))
		f.badASN = parseASNs(readLines(s.config.BadASNFile))
		f.badDomains = parseDomains(readLines(s.config.DisposableFile))
	}

	s.mu.Lock()
	s.feeds = f
	s.mu.Unlock()

	s.logger.Info("threat intel feeds loaded",
		zap.Int("bad_ip", len(f.badIP)),
		zap.Int("tor_exit", len(f.torExit)),
		zap.Int("bad_asn", len(f.badASN)),
		zap.Int("bad_domains", len(f.badDomains)),
	)

	return s.Status()
}

// Status returns the current feed status.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := func(path string) string {
		if path == "" {
			return "(none)"
		}
		return path
	}

	return Status{
		Enabled:  s.config.Enabled,
		LoadedAt: s.feeds.loadedAt,
		Counts: map[string]int{
			"bad_ip":      len(s.feeds.badIP),
			"tor_exit":    len(s.feeds.torExit),
			"bad_asn":     len(s.feeds.badASN),
			"bad_domains": len(s.feeds.badDomains),
		},
		Sources: map[string]string{
			"bad_ip":      src(s.config.BadIPFile),
			"tor_exit":    src(s.config.TorExitFile),
			"bad_asn":     src(s.config.BadASNFile),
			"bad_domains": src(s.config.DisposableFile),
		},
	}
}

type ipFlags struct {
	BadIP   bool   `json:"bad_ip"`
	TorExit bool   `json:"tor_exit"`
	BadASN  bool   `json:"bad_asn"`
	ASN     string `json:"asn,omitempty"`
}

// LookupIP returns the flags for an IP. Invalid IPs and disabled feeds
// return all-false. Results are cached in redis for the configured TTL.
func (s *Service) LookupIP(ctx context.Context, ip string) Signals {
	var out Signals

	if !s.config.Enabled || net.ParseIP(ip) == nil {
		return out
	}

	cacheKey := fmt.Sprintf("ti:ip:%s", ip)
	if s.redis != nil {
		if cached, err := s.redis.Client.Get(ctx, cacheKey).Result(); err == nil {
			var flags ipFlags
			if json.Unmarshal([]byte(cached), &flags) == nil {
				out.BadIP, out.TorExit, out.BadASN, out.ASN = flags.BadIP, flags.TorExit, flags.BadASN, flags.ASN
				return out
			}
		}
	}

	s.mu.RLock()
	out.BadIP = ipInNets(s.feeds.badIP, ip)
	out.TorExit = ipInNets(s.feeds.torExit, ip)
	if asn := resolveASN(ip); asn != "" {
		out.ASN = asn
		_, out.BadASN = s.feeds.badASN[asn]
	}
	s.mu.RUnlock()

	if s.redis != nil {
		data, _ := json.Marshal(ipFlags{BadIP: out.BadIP, TorExit: out.TorExit, BadASN: out.BadASN, ASN: out.ASN})
		s.redis.Client.Set(ctx, cacheKey, data, s.config.CacheTTL)
	}

	return out
}

// CheckEmail flags disposable email domains. The full address is never
// logged or stored; only the domain is inspected.
func (s *Service) CheckEmail(email string) bool {
	if !s.config.Enabled || email == "" || !strings.Contains(email, "@") {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[strings.Index(email, "@")+1:]))

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, bad := s.feeds.badDomains[domain]
	return bad
}

// CheckBreachedCred is a placeholder for a k-anonymity style breach check.
// It always returns false; raw credentials must never leave the process.
func (s *Service) CheckBreachedCred(_ string) bool {
	return false
}

// Evaluate combines IP and email checks into one Signals value.
func (s *Service) Evaluate(ctx context.Context, ip, email string) Signals {
	sig := s.LookupIP(ctx, ip)
	sig.DisposableEmail = s.CheckEmail(email)
	return sig
}

// Fuse adds the signal bumps to a calibrated score, capped at 100. The
// returned labels record each applied bump.
func Fuse(calibrated float64, sig Signals) (float64, []string) {
	fused := calibrated
	var labels []string

	apply := func(hit bool, name string, bump float64) {
		if !hit {
			return
		}
		fused += bump
		labels = append(labels, fmt.Sprintf("%s(+%g)", name, bump))
	}

	apply(sig.BadIP, "bad_ip", BumpBadIP)
	apply(sig.TorExit, "tor_exit", BumpTorExit)
	if sig.BadASN {
		fused += BumpBadASN
		labels = append(labels, fmt.Sprintf("bad_asn:%s(+%g)", sig.ASN, BumpBadASN))
	}
	apply(sig.DisposableEmail, "disposable_email", BumpDisposableEmail)
	apply(sig.BreachedCred, "breached_cred", BumpBreachedCred)

	if fused > 100 {
		fused = 100
	}
	return fused, labels
}

// resolveASN is a placeholder until an ASN resolver is wired; the bad_asn
// flag stays false without one.
func resolveASN(_ string) string {
	return ""
}

func readLines(path string) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func parseCIDRs(lines []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, s := range lines {
		if !strings.Contains(s, "/") {
			if ip := net.ParseIP(s); ip != nil {
				if ip.To4() != nil {
					s += "/32"
				} else {
					s += "/128"
				}
			}
		}
		if _, n, err := net.ParseCIDR(s); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}

func parseASNs(lines []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range lines {
		s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
		if strings.HasPrefix(s, "AS") && len(s) > 2 && isDigits(s[2:]) {
			out[s] = struct{}{}
		}
	}
	return out
}

func parseDomains(lines []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, line := range lines {
		for _, piece := range strings.Split(line, ",") {
			d := strings.ToLower(strings.TrimSpace(piece))
			if d != "" {
				out[d] = struct{}{}
			}
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func ipInNets(nets []*net.IPNet, ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
