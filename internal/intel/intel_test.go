package intel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/database"
)

func writeFeed(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLookupIPMatchesCIDRAndBareIP(t *testing.T) {
	badIP := writeFeed(t, "bad_ip.txt", "# comment\n203.0.113.0/24\n198.51.100.7\n")
	torExit := writeFeed(t, "tor.txt", "192.0.2.50\n")

	s := NewService(nil, Config{
		Enabled:     true,
		BadIPFile:   badIP,
		TorExitFile: torExit,
	}, zap.NewNop())

	ctx := context.Background()

	sig := s.LookupIP(ctx, "203.0.113.99")
	require.True(t, sig.BadIP)
	require.False(t, sig.TorExit)

	sig = s.LookupIP(ctx, "198.51.100.7")
	require.True(t, sig.BadIP)

	sig = s.LookupIP(ctx, "192.0.2.50")
	require.True(t, sig.TorExit)
	require.False(t, sig.BadIP)

	sig = s.LookupIP(ctx, "8.8.8.8")
	require.False(t, sig.BadIP)
	require.False(t, sig.TorExit)
}

func TestLookupIPInvalidAndDisabled(t *testing.T) {
	s := NewService(nil, Config{Enabled: true}, zap.NewNop())
	sig := s.LookupIP(context.Background(), "not-an-ip")
	require.Equal(t, Signals{}, sig)

	disabled := NewService(nil, Config{Enabled: false}, zap.NewNop())
	sig = disabled.LookupIP(context.Background(), "203.0.113.1")
	require.Equal(t, Signals{}, sig)
}

func TestLookupIPCachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	defer rdb.Close()

	badIP := writeFeed(t, "bad_ip.txt", "203.0.113.0/24\n")
	s := NewService(rdb, Config{Enabled: true, BadIPFile: badIP, CacheTTL: time.Minute}, zap.NewNop())

	ctx := context.Background()
	sig := s.LookupIP(ctx, "203.0.113.10")
	require.True(t, sig.BadIP)

	// Feed cleared, but the cached verdict survives until TTL.
	s.config.BadIPFile = ""
	s.Reload()
	sig = s.LookupIP(ctx, "203.0.113.10")
	require.True(t, sig.BadIP)
}

func TestCheckEmail(t *testing.T) {
	feed := writeFeed(t, "domains.txt", "mailinator.com, tempmail.io\nthrowaway.dev\n")
	s := NewService(nil, Config{Enabled: true, DisposableFile: feed}, zap.NewNop())

	tests := []struct {
		email string
		want  bool
	}{
		{"user@mailinator.com", true},
		{"user@TEMPMAIL.IO", true},
		{"user@throwaway.dev", true},
		{"user@example.com", false},
		{"no-at-sign", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := s.CheckEmail(tt.email); got != tt.want {
			t.Errorf("CheckEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestFuse(t *testing.T) {
	fused, labels := Fuse(40, Signals{BadIP: true, TorExit: true})
	require.Equal(t, 95.0, fused)
	require.Equal(t, []string{"bad_ip(+30)", "tor_exit(+25)"}, labels)

	// Cap at 100.
	fused, _ = Fuse(80, Signals{BadIP: true, TorExit: true, DisposableEmail: true})
	require.Equal(t, 100.0, fused)

	// No signals, no change.
	fused, labels = Fuse(33, Signals{})
	require.Equal(t, 33.0, fused)
	require.Empty(t, labels)

	// Breached cred stub contributes zero but is still recorded.
	fused, labels = Fuse(10, Signals{BreachedCred: true})
	require.Equal(t, 10.0, fused)
	require.Equal(t, []string{"breached_cred(+0)"}, labels)
}

func TestStatusCounts(t *testing.T) {
	badIP := writeFeed(t, "bad_ip.txt", "203.0.113.0/24\n198.51.100.7\n")
	asn := writeFeed(t, "asn.txt", "AS12345\nas 999\nbogus\n")

	s := NewService(nil, Config{Enabled: true, BadIPFile: badIP, BadASNFile: asn}, zap.NewNop())
	st := s.Status()

	require.True(t, st.Enabled)
	require.Equal(t, 2, st.Counts["bad_ip"])
	require.Equal(t, 2, st.Counts["bad_asn"])
	require.Equal(t, 0, st.Counts["tor_exit"])
	require.Equal(t, "(none)", st.Sources["tor_exit"])
}
