package anomaly

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDetector(t *testing.T, aeAvailable bool) *Detector {
	t.Helper()
	cfg := DefaultDetectorConfig()
	cfg.AEAvailable = aeAvailable
	d, err := NewDetector(cfg, nil)
	require.NoError(t, err)
	return d
}

func TestDetectorEmptyHistory(t *testing.T) {
	d := newTestDetector(t, true)

	res := d.TrainAndScore(context.Background(), "acct-1", nil, foodTx(50, "shop"), "")
	require.Equal(t, 0, res.Score)
	require.Equal(t, "insufficient_data", res.Reason)
}

func TestDetectorAutoPrefersAutoencoder(t *testing.T) {
	d := newTestDetector(t, true)

	res := d.TrainAndScore(context.Background(), "acct-1", mixedHistory(80), foodTx(50, "shop"), "")
	require.Equal(t, BackendAutoencoder, res.Backend)
	require.Empty(t, res.Fallback)
	require.Equal(t, 80, res.TrainedRows)
}

func TestDetectorAutoFallsBackOnShortHistory(t *testing.T) {
	d := newTestDetector(t, true)

	// 20 rows is below the autoencoder minimum but enough for the forest.
	res := d.TrainAndScore(context.Background(), "acct-1", steadyHistory(20), foodTx(50, "shop"), "")
	require.Equal(t, BackendForest, res.Backend)
	require.Equal(t, 20, res.TrainedRows)
}

func TestDetectorForcedAutoencoderFallsBack(t *testing.T) {
	t.Run("too few rows", func(t *testing.T) {
		d := newTestDetector(t, true)
		res := d.TrainAndScore(context.Background(), "acct-1", steadyHistory(20), foodTx(50, "shop"), BackendAutoencoder)
		require.Equal(t, BackendForest, res.Backend)
		require.Equal(t, BackendForest, res.Fallback)
		require.NotEmpty(t, res.Reason)
	})

	t.Run("backend unavailable", func(t *testing.T) {
		d := newTestDetector(t, false)
		res := d.TrainAndScore(context.Background(), "acct-1", mixedHistory(80), foodTx(50, "shop"), BackendAutoencoder)
		require.Equal(t, BackendForest, res.Backend)
		require.Equal(t, BackendForest, res.Fallback)
		require.Contains(t, res.Reason, "unavailable")
	})
}

func TestDetectorNeverErrors(t *testing.T) {
	d := newTestDetector(t, false)

	histories := [][]Transaction{
		nil,
		{},
		steadyHistory(1),
		steadyHistory(9),
		steadyHistory(300),
		mixedHistory(80),
	}
	for _, hist := range histories {
		for _, forced := range []string{"", BackendForest, BackendAutoencoder} {
			res := d.TrainAndScore(context.Background(), "acct-1", hist, foodTx(5000, "shop"), forced)
			require.GreaterOrEqual(t, res.Score, 0)
			require.LessOrEqual(t, res.Score, 100)
		}
	}
}

func TestDetectorCachesFittedModels(t *testing.T) {
	d := newTestDetector(t, true)
	hist := steadyHistory(30)
	probe := foodTx(5000, "shop")

	first := d.TrainAndScore(context.Background(), "acct-1", hist, probe, BackendForest)
	second := d.TrainAndScore(context.Background(), "acct-1", hist, probe, BackendForest)
	require.Equal(t, first.Score, second.Score)

	// Same history under another account trains separately.
	other := d.TrainAndScore(context.Background(), "acct-2", hist, probe, BackendForest)
	require.Equal(t, first.Score, other.Score)

	// Growing the history invalidates the cached snapshot.
	key1 := historyVersion(hist)
	key2 := historyVersion(append(append([]Transaction(nil), hist...), foodTx(21, "cafe-0")))
	require.NotEqual(t, key1, key2)
}
