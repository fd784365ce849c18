// Package geo provides IP geolocation with caching and haversine distance.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/database"
	"github.com/riskforge/riskforge/internal/common/netutil"
	"github.com/riskforge/riskforge/internal/common/resilience"
)

// Location is a resolved IP location. Resolvable reports whether the lookup
// produced usable coordinates; private and unroutable addresses resolve to a
// non-resolvable location rather than an error.
type Location struct {
	IPAddress   string    `json:"ip_address"`
	Country     string    `json:"country"`
	CountryCode string    `json:"country_code"`
	City        string    `json:"city"`
	Region      string    `json:"region"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	ASNumber    string    `json:"as_number"`
	Resolvable  bool      `json:"resolvable"`
	LookupTime  time.Time `json:"lookup_time"`
}

// Resolver resolves an IP address to a location.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// Config holds resolver configuration.
type Config struct {
	ProviderURL string        // ip-api style JSON endpoint
	CacheTTL    time.Duration // redis cache TTL
	HTTPTimeout time.Duration
}

// DefaultConfig returns default resolver configuration.
func DefaultConfig() Config {
	return Config{
		ProviderURL: "http://ip-api.com/json",
		CacheTTL:    24 * time.Hour,
		HTTPTimeout: 1500 * time.Millisecond,
	}
}

// HTTPResolver resolves IPs against an ip-api compatible provider, caching
// results in redis. A nil redis client disables caching.
type HTTPResolver struct {
	redis   *database.RedisClient
	config  Config
	client  *resilience.ResilientHTTPClient
	breaker *resilience.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPResolver creates a new resolver. Provider calls run through a
// circuit breaker so a degraded provider stops being hit; lookups then fail
// fast and callers degrade to an unknown location.
func NewHTTPResolver(redis *database.RedisClient, config Config, logger *zap.Logger) *HTTPResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 1500 * time.Millisecond
	}
	if config.ProviderURL == "" {
		config.ProviderURL = "http://ip-api.com/json"
	}

	if err := netutil.DefaultSSRFConfig().ValidateURL(config.ProviderURL); err != nil {
		logger.Warn("geo provider URL failed SSRF validation", zap.String("url", config.ProviderURL), zap.Error(err))
	}

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "geo_provider",
		Threshold:    5,
		ResetTimeout: 30 * time.Second,
		Logger:       logger,
	})

	return &HTTPResolver{
		redis:   redis,
		config:  config,
		client:  resilience.NewResilientHTTPClient(&http.Client{Timeout: config.HTTPTimeout}, cb),
		breaker: cb,
		logger:  logger.With(zap.String("component", "geo_resolver")),
	}
}

// Breaker exposes the provider circuit breaker for readiness reporting.
func (r *HTTPResolver) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

// Resolve performs a geolocation lookup with caching. Private, loopback and
// unparseable addresses return a non-resolvable location, never an error.
func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	if !IsPubliclyRoutable(ip) {
		return &Location{IPAddress: ip, Resolvable: false, LookupTime: time.Now()}, nil
	}

	cacheKey := fmt.Sprintf("geo:%s", ip)
	if r.redis != nil {
		cached, err := r.redis.Client.Get(ctx, cacheKey).Result()
		if err == nil {
			var loc Location
			if json.Unmarshal([]byte(cached), &loc) == nil {
				return &loc, nil
			}
		}
	}

	loc, err := r.lookupProvider(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("geo lookup failed: %w", err)
	}

	if r.redis != nil {
		data, _ := json.Marshal(loc)
		r.redis.Client.Set(ctx, cacheKey, data, r.config.CacheTTL)
	}

	return loc, nil
}

func (r *HTTPResolver) lookupProvider(ctx context.Context, ip string) (*Location, error) {
	url := fmt.Sprintf("%s/%s?fields=status,country,countryCode,city,regionName,lat,lon,as,query",
		strings.TrimRight(r.config.ProviderURL, "/"), ip)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResponse struct {
		Status      string  `json:"status"`
		Country     string  `json:"country"`
		CountryCode string  `json:"countryCode"`
		City        string  `json:"city"`
		Region      string  `json:"regionName"`
		Lat         float64 `json:"lat"`
		Lon         float64 `json:"lon"`
		AS          string  `json:"as"`
		Query       string  `json:"query"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, err
	}

	if apiResponse.Status != "success" {
		return nil, fmt.Errorf("geo provider returned status: %s", apiResponse.Status)
	}

	asNumber := ""
	if parts := strings.Split(apiResponse.AS, " "); len(parts) > 0 {
		asNumber = parts[0]
	}

	return &Location{
		IPAddress:   apiResponse.Query,
		Country:     apiResponse.Country,
		CountryCode: apiResponse.CountryCode,
		City:        apiResponse.City,
		Region:      apiResponse.Region,
		Latitude:    apiResponse.Lat,
		Longitude:   apiResponse.Lon,
		ASNumber:    asNumber,
		Resolvable:  apiResponse.City != "",
		LookupTime:  time.Now(),
	}, nil
}

// IsPubliclyRoutable reports whether ip parses and is neither private,
// loopback, link-local nor unspecified.
func IsPubliclyRoutable(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified() {
		return false
	}
	return true
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
