package anomaly

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// mixedHistory produces a non-degenerate dataset across categories and
// merchants.
func mixedHistory(n int) []Transaction {
	cats := []string{"FOOD", "TRAVEL", "RETAIL", "FUEL"}
	out := make([]Transaction, n)
	for i := range out {
		out[i] = Transaction{
			Amount:   10 + float64(i%17)*13.5,
			Currency: "USD",
			Category: cats[i%len(cats)],
			Merchant: fmt.Sprintf("merchant-%d", i%7),
		}
	}
	return out
}

func TestAutoencoderAnchorsOrdered(t *testing.T) {
	ae := NewAutoencoder(DefaultAEConfig(), true)
	n, err := ae.Train(mixedHistory(80))
	require.NoError(t, err)
	require.Equal(t, 80, n)

	anchors := ae.Anchors()
	require.LessOrEqual(t, anchors["median"], anchors["p95"])
	require.LessOrEqual(t, anchors["p95"], anchors["p99"])
}

func TestAutoencoderScoreBounds(t *testing.T) {
	ae := NewAutoencoder(DefaultAEConfig(), true)
	_, err := ae.Train(mixedHistory(60))
	require.NoError(t, err)

	for _, tx := range []Transaction{
		{Amount: 12, Currency: "USD", Category: "FOOD", Merchant: "merchant-1"},
		{Amount: 1e7, Currency: "XXX", Category: "CRYPTO", Merchant: "unseen"},
		{Amount: -1},
	} {
		score, details, err := ae.ScoreOne(tx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, score, 0)
		require.LessOrEqual(t, score, 100)
		require.Contains(t, details, "recon_error")
	}
}

func TestAutoencoderMinTrainRows(t *testing.T) {
	ae := NewAutoencoder(DefaultAEConfig(), true)
	n, err := ae.Train(mixedHistory(39))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	score, details, err := ae.ScoreOne(Transaction{Amount: 100})
	require.NoError(t, err)
	require.Equal(t, 0, score)
	require.Equal(t, "model_not_trained", details["reason"])
}

func TestAutoencoderUnavailable(t *testing.T) {
	ae := NewAutoencoder(DefaultAEConfig(), false)
	require.False(t, ae.Available())

	_, err := ae.Train(mixedHistory(80))
	require.ErrorIs(t, err, ErrBackendUnavailable)

	_, _, err = ae.ScoreOne(Transaction{Amount: 100})
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestAutoencoderDeterministic(t *testing.T) {
	hist := mixedHistory(60)
	probe := Transaction{Amount: 777, Currency: "USD", Category: "TRAVEL", Merchant: "merchant-3"}

	a := NewAutoencoder(DefaultAEConfig(), true)
	_, err := a.Train(hist)
	require.NoError(t, err)
	scoreA, _, err := a.ScoreOne(probe)
	require.NoError(t, err)

	b := NewAutoencoder(DefaultAEConfig(), true)
	_, err = b.Train(hist)
	require.NoError(t, err)
	scoreB, _, err := b.ScoreOne(probe)
	require.NoError(t, err)

	require.Equal(t, scoreA, scoreB)
}
