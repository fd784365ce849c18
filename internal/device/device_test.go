package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHasherDeterministicAndKeyed(t *testing.T) {
	h := NewHasher("pepper-a", 64)

	a := h.Hash("mozilla|macos|1920x1080")
	b := h.Hash("mozilla|macos|1920x1080")
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	// Different seed, different hash.
	require.NotEqual(t, a, h.Hash("mozilla|linux|1920x1080"))

	// Different secret, different hash for the same seed.
	other := NewHasher("pepper-b", 64)
	require.NotEqual(t, a, other.Hash("mozilla|macos|1920x1080"))
}

func TestHasherTruncation(t *testing.T) {
	h := NewHasher("pepper", 32)
	require.Len(t, h.Hash("seed"), 32)

	// Out-of-range lengths fall back to the full digest.
	full := NewHasher("pepper", 0)
	require.Len(t, full.Hash("seed"), 64)
}

func TestMemoryRegistryTouchPreservesFirstSeen(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rec, err := reg.Touch(ctx, "u1", "hash-1", "203.0.113.1", t0)
	require.NoError(t, err)
	require.Equal(t, t0, rec.FirstSeen)
	require.False(t, rec.Trusted)

	t1 := t0.Add(48 * time.Hour)
	rec, err = reg.Touch(ctx, "u1", "hash-1", "203.0.113.2", t1)
	require.NoError(t, err)
	require.Equal(t, t0, rec.FirstSeen)
	require.Equal(t, t1, rec.LastSeen)
	require.Equal(t, "203.0.113.2", rec.LastIP)
}

func TestBindTokenResolveDoesNotGrantTrust(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := reg.Touch(ctx, "u1", "hash-1", "203.0.113.1", now)
	require.NoError(t, err)

	raw, tokenHash, err := NewBindToken()
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Equal(t, HashBindToken(raw), tokenHash)

	require.NoError(t, reg.SetBindToken(ctx, "u1", "hash-1", tokenHash, now))

	// Resolution stamps the use but leaves trust alone; trust is a
	// separate step taken after credential verification.
	rec, err := reg.ResolveBindToken(ctx, "u1", tokenHash, now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, rec.Trusted)
	require.NotNil(t, rec.BindLastUsed)

	require.NoError(t, reg.Trust(ctx, "u1", rec.DeviceHash))
	got, err := reg.Get(ctx, "u1", "hash-1")
	require.NoError(t, err)
	require.True(t, got.Trusted)

	// A bad token never resolves.
	_, err = reg.ResolveBindToken(ctx, "u1", HashBindToken("wrong"), now)
	require.ErrorIs(t, err, ErrNotFound)

	// Unbind clears the token; resolution stops working, trust stays.
	require.NoError(t, reg.ClearBindToken(ctx, "u1", "hash-1"))
	_, err = reg.ResolveBindToken(ctx, "u1", tokenHash, now)
	require.ErrorIs(t, err, ErrNotFound)

	got, err = reg.Get(ctx, "u1", "hash-1")
	require.NoError(t, err)
	require.True(t, got.Trusted)
}

func TestTrustMap(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now().UTC()

	_, _ = reg.Touch(ctx, "u1", "hash-1", "203.0.113.1", now)
	_, _ = reg.Touch(ctx, "u1", "hash-2", "203.0.113.1", now)
	require.NoError(t, reg.Trust(ctx, "u1", "hash-2"))

	tm, err := reg.TrustMap(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"hash-1": false, "hash-2": true}, tm)

	require.ErrorIs(t, reg.Trust(ctx, "u1", "missing"), ErrNotFound)
}
