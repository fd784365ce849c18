// Package device provides device fingerprinting, trust and binding tokens.
package device

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when a device record does not exist.
var ErrNotFound = errors.New("device not found")

// Record is a device sighting for a user. DeviceHash is always a keyed
// digest of the client-supplied seed, never a raw identifier.
type Record struct {
	UserID     string    `json:"user_id"`
	DeviceHash string    `json:"device_hash"`
	Trusted    bool      `json:"trusted"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	LastIP     string    `json:"last_ip"`

	BindTokenHash string     `json:"-"`
	BindIssuedAt  *time.Time `json:"bind_issued_at,omitempty"`
	BindLastUsed  *time.Time `json:"bind_last_used,omitempty"`
}

// Hasher derives device hashes from client seeds with a keyed digest.
type Hasher struct {
	secret []byte
	length int
}

// NewHasher creates a hasher. Length is clamped to the hex digest size.
func NewHasher(secret string, length int) *Hasher {
	if length <= 0 || length > 64 {
		length = 64
	}
	return &Hasher{secret: []byte(secret), length: length}
}

// Hash returns the truncated hex HMAC-SHA256 of the seed.
func (h *Hasher) Hash(seed string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(seed))
	return hex.EncodeToString(mac.Sum(nil))[:h.length]
}

// Registry stores device records per user.
type Registry interface {
	// Get returns the record for a user/device pair, or ErrNotFound.
	Get(ctx context.Context, userID, deviceHash string) (*Record, error)

	// Touch records a sighting: creates the record on first sight,
	// otherwise updates last_seen and last_ip.
	Touch(ctx context.Context, userID, deviceHash, ip string, seen time.Time) (*Record, error)

	// Trust marks a device trusted.
	Trust(ctx context.Context, userID, deviceHash string) error

	// List returns all devices for a user, newest sighting first.
	List(ctx context.Context, userID string) ([]Record, error)

	// SetBindToken stores the token hash for a device.
	SetBindToken(ctx context.Context, userID, deviceHash, tokenHash string, issuedAt time.Time) error

	// ResolveBindToken finds the user's device matching the token hash and
	// records the use. Trust is not changed here; callers grant it after
	// credential verification succeeds. Returns ErrNotFound when no device
	// carries the hash.
	ResolveBindToken(ctx context.Context, userID, tokenHash string, usedAt time.Time) (*Record, error)

	// ClearBindToken removes any binding token from a device.
	ClearBindToken(ctx context.Context, userID, deviceHash string) error

	// TrustMap returns deviceHash -> trusted for all of a user's devices.
	TrustMap(ctx context.Context, userID string) (map[string]bool, error)
}

// NewBindToken generates a 256-bit binding token. The raw token is returned
// to the client once; only its SHA-256 hex is stored.
func NewBindToken() (raw, tokenHash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashBindToken(raw), nil
}

// HashBindToken returns the SHA-256 hex of a raw binding token.
func HashBindToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
