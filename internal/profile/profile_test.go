package profile

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/database"
)

func TestLearnLogin(t *testing.T) {
	p := New("u1")

	applied := p.LearnLogin("a1", 9, "Riyadh", "hash-1", false)
	require.True(t, applied)
	require.Equal(t, 1, p.LoginHourHist[9])
	require.Equal(t, 1, p.CityVisitCounts["Riyadh"])
	require.Equal(t, false, p.DeviceTrust["hash-1"])

	// Same attempt ID is a no-op.
	applied = p.LearnLogin("a1", 9, "Riyadh", "hash-1", false)
	require.False(t, applied)
	require.Equal(t, 1, p.LoginHourHist[9])
	require.Equal(t, 1, p.CityVisitCounts["Riyadh"])

	// Trust refresh picks up the registry flip.
	p.LearnLogin("a2", 22, "Riyadh", "hash-1", true)
	require.Equal(t, true, p.DeviceTrust["hash-1"])
	require.Equal(t, 2, p.CityVisitCounts["Riyadh"])
	require.Equal(t, 2, p.TotalLogins())
}

func TestLearnTransactionEWMA(t *testing.T) {
	p := New("u1")

	// First observation seeds the median and zeroes the MAD.
	p.LearnTransaction("t1", 100, "food", "cafe one")
	s := p.TxCategoryStats["FOOD"]
	require.Equal(t, 1, s.N)
	require.Equal(t, 100.0, s.EMAMedian)
	require.Equal(t, 0.0, s.EMAMAD)

	// Second observation: median first, MAD against the updated median.
	p.LearnTransaction("t2", 200, "food", "cafe one")
	s = p.TxCategoryStats["FOOD"]
	wantMedian := 0.9*100 + 0.1*200 // 110
	wantMAD := 0.9*0 + 0.1*math.Abs(200-wantMedian)
	require.InDelta(t, wantMedian, s.EMAMedian, 1e-9)
	require.InDelta(t, wantMAD, s.EMAMAD, 1e-9)
	require.Equal(t, 2, s.N)

	require.Equal(t, 2, p.TxMerchantCounts["cafe one"])
}

func TestLearnTransactionDeterministicReplay(t *testing.T) {
	amounts := []float64{20, 25, 19, 500, 22, 30, 21}

	replay := func() CategoryStats {
		p := New("u1")
		for _, a := range amounts {
			p.LearnTransaction("", a, "FOOD", "shop")
		}
		return p.TxCategoryStats["FOOD"]
	}

	first := replay()
	second := replay()
	require.Equal(t, first, second)
}

func TestAppliedIDsBounded(t *testing.T) {
	p := New("u1")
	for i := 0; i < maxAppliedIDs+50; i++ {
		p.LearnLogin(fmt.Sprintf("attempt-%d", i), i%24, "", "", false)
	}
	require.LessOrEqual(t, len(p.AppliedAttemptIDs), maxAppliedIDs)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	defer rdb.Close()

	store := NewRedisStore(rdb, time.Hour, zap.NewNop())
	ctx := context.Background()

	// Fresh user yields an empty profile, not an error.
	p, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", p.UserID)
	require.Equal(t, 0, p.TotalLogins())
	require.NotNil(t, p.CityVisitCounts)

	p.LearnLogin("a1", 14, "Jeddah", "hash-1", true)
	p.LearnTransaction("t1", 75, "FOOD", "cafe")
	require.NoError(t, store.Put(ctx, p))

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, got.LoginHourHist[14])
	require.Equal(t, 1, got.CityVisitCounts["Jeddah"])
	require.Equal(t, true, got.DeviceTrust["hash-1"])
	require.Equal(t, 1, got.TxCategoryStats["FOOD"].N)
	require.Equal(t, 1, got.TxMerchantCounts["cafe"])

	require.NoError(t, store.Delete(ctx, "u1"))
	got, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 0, got.TotalLogins())
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p, _ := store.Get(ctx, "u1")
	p.LearnLogin("a1", 3, "Riyadh", "", false)
	require.NoError(t, store.Put(ctx, p))

	// Mutating the returned copy must not leak into the store.
	got, _ := store.Get(ctx, "u1")
	got.CityVisitCounts["Riyadh"] = 99

	again, _ := store.Get(ctx, "u1")
	require.Equal(t, 1, again.CityVisitCounts["Riyadh"])
}
