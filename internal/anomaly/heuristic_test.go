package anomaly

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riskforge/riskforge/internal/profile"
)

func learnedProfile(amounts []float64, merchant string) *profile.BehavioralProfile {
	p := profile.New("acct-1")
	for i, amt := range amounts {
		p.LearnTransaction(fmt.Sprintf("tx-%d", i), amt, "FOOD", merchant)
	}
	return p
}

func TestHeuristicEmptyProfile(t *testing.T) {
	p := profile.New("acct-1")

	res := ScoreHeuristic(p, Transaction{Amount: 50, Currency: "USD", Category: "FOOD", Merchant: "cafe"})
	require.Equal(t, 0, res.Score)
	require.Empty(t, res.Parts)
}

func TestHeuristicAmountDeviation(t *testing.T) {
	p := learnedProfile([]float64{20, 22, 19, 21, 20, 20, 21}, "cafe")

	// Typical amount: deviation bump near zero.
	typical := ScoreHeuristic(p, Transaction{Amount: 20, Currency: "USD", Category: "FOOD", Merchant: "cafe"})

	// Large deviation: bump present and capped at 70.
	outlier := ScoreHeuristic(p, Transaction{Amount: 5000, Currency: "USD", Category: "FOOD", Merchant: "cafe"})
	require.Greater(t, outlier.Score, typical.Score)
	require.LessOrEqual(t, outlier.Score, 100)
	require.Contains(t, outlier.Parts[0], "amount_deviation")
}

func TestHeuristicDeviationNeedsSamples(t *testing.T) {
	// Four transactions: below the five-sample minimum.
	p := learnedProfile([]float64{20, 22, 19, 21}, "cafe")

	res := ScoreHeuristic(p, Transaction{Amount: 5000, Currency: "USD", Category: "FOOD", Merchant: "cafe"})
	for _, part := range res.Parts {
		require.NotContains(t, part, "amount_deviation")
	}
}

func TestHeuristicMerchantRules(t *testing.T) {
	p := learnedProfile([]float64{20, 22, 19, 21, 20}, "cafe")
	p.LearnTransaction("tx-m", 30, "FOOD", "kiosk")

	// Unseen merchant above the floor.
	res := ScoreHeuristic(p, Transaction{Amount: 150, Currency: "USD", Category: "RETAIL", Merchant: "brand-new"})
	require.Contains(t, res.Parts, "new_merchant +20")

	// Unseen merchant below the floor: no bump.
	res = ScoreHeuristic(p, Transaction{Amount: 50, Currency: "USD", Category: "RETAIL", Merchant: "brand-new"})
	require.NotContains(t, res.Parts, "new_merchant +20")

	// Rare merchant (seen once) above its higher floor. The new-merchant
	// branch wins only for unseen merchants.
	res = ScoreHeuristic(p, Transaction{Amount: 300, Currency: "USD", Category: "RETAIL", Merchant: "kiosk"})
	require.Contains(t, res.Parts, "rare_merchant +10")
	require.NotContains(t, res.Parts, "new_merchant +20")
}

func TestHeuristicUncommonCurrency(t *testing.T) {
	p := profile.New("acct-1")

	res := ScoreHeuristic(p, Transaction{Amount: 50, Currency: "JPY", Category: "FOOD", Merchant: ""})
	require.Contains(t, res.Parts, "uncommon_currency +10")
	require.Equal(t, 10, res.Score)

	// Common currencies and zero amounts are exempt.
	res = ScoreHeuristic(p, Transaction{Amount: 50, Currency: "sar", Category: "FOOD"})
	require.NotContains(t, res.Parts, "uncommon_currency +10")

	res = ScoreHeuristic(p, Transaction{Amount: 0, Currency: "JPY", Category: "FOOD"})
	require.NotContains(t, res.Parts, "uncommon_currency +10")
}

func TestHeuristicScoreCapped(t *testing.T) {
	p := learnedProfile([]float64{10, 30, 12, 28, 15, 25, 18, 22}, "cafe")

	res := ScoreHeuristic(p, Transaction{Amount: 1e6, Currency: "XXX", Category: "FOOD", Merchant: "never-seen"})
	require.Equal(t, 100, res.Score)
}

func TestShadowRules(t *testing.T) {
	tests := []struct {
		name string
		tx   Transaction
		want []string
	}{
		{"clean", Transaction{Amount: 50, Currency: "USD", Merchant: "cafe"}, nil},
		{"high amount", Transaction{Amount: 1500, Currency: "USD", Merchant: "cafe"}, []string{"HIGH_AMOUNT>=1000"}},
		{"uncommon currency", Transaction{Amount: 50, Currency: "JPY", Merchant: "cafe"}, []string{"UNCOMMON_CURRENCY"}},
		{"crypto merchant", Transaction{Amount: 50, Currency: "USD", Merchant: "Binance Exchange"}, []string{"CRYPTO_MERCHANT"}},
		{"all at once", Transaction{Amount: 2000, Currency: "XBT", Merchant: "crypto-swap"},
			[]string{"HIGH_AMOUNT>=1000", "UNCOMMON_CURRENCY", "CRYPTO_MERCHANT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ShadowRules(tt.tx))
		})
	}
}

func TestServiceRecordLearnsProfile(t *testing.T) {
	profiles := profile.NewMemoryStore()
	detector := newTestDetector(t, true)
	svc := NewService(detector, NewMemoryTxStore(), profiles, nil)
	ctx := context.Background()

	stored, err := svc.Record(ctx, Transaction{
		AccountID: "acct-1", Amount: 100, Currency: "USD", Category: "food", Merchant: "Cafe",
	})
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)
	require.Equal(t, "FOOD", stored.Category)

	prof, err := profiles.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, 1, prof.TxCategoryStats["FOOD"].N)
	require.Equal(t, 100.0, prof.TxCategoryStats["FOOD"].EMAMedian)
	require.Equal(t, 1, prof.TxMerchantCounts["cafe"])
}

func TestServiceScoreNewestNeedsHistory(t *testing.T) {
	svc := NewService(newTestDetector(t, true), NewMemoryTxStore(), profile.NewMemoryStore(), nil)
	ctx := context.Background()

	res, err := svc.ScoreNewest(ctx, "acct-1", "")
	require.NoError(t, err)
	require.Equal(t, 0, res.Score)
	require.Equal(t, "insufficient_data", res.Reason)

	_, err = svc.Record(ctx, Transaction{AccountID: "acct-1", Amount: 10, Category: "FOOD"})
	require.NoError(t, err)
	res, err = svc.ScoreNewest(ctx, "acct-1", "")
	require.NoError(t, err)
	require.Equal(t, "insufficient_data", res.Reason)
}

func TestServiceScoreNewestTrainsOnPriorRows(t *testing.T) {
	store := NewMemoryTxStore()
	svc := NewService(newTestDetector(t, true), store, profile.NewMemoryStore(), nil)
	ctx := context.Background()

	for _, tx := range steadyHistory(20) {
		tx.AccountID = "acct-1"
		_, err := svc.Record(ctx, tx)
		require.NoError(t, err)
	}
	_, err := svc.Record(ctx, Transaction{AccountID: "acct-1", Amount: 5000, Currency: "USD", Category: "FOOD", Merchant: "cafe-0"})
	require.NoError(t, err)

	res, err := svc.ScoreNewest(ctx, "acct-1", BackendForest)
	require.NoError(t, err)
	require.Equal(t, BackendForest, res.Backend)
	require.Equal(t, 20, res.TrainedRows)
	require.Greater(t, res.Score, 50)
}
