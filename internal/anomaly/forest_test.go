package anomaly

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func foodTx(amount float64, merchant string) Transaction {
	return Transaction{Amount: amount, Currency: "USD", Category: "FOOD", Merchant: merchant}
}

// steadyHistory produces near-identical FOOD transactions, amount 20 +/- 2.
func steadyHistory(n int) []Transaction {
	out := make([]Transaction, n)
	for i := range out {
		out[i] = foodTx(18+float64(i%5), fmt.Sprintf("cafe-%d", i%3))
	}
	return out
}

func TestForestOutlierScoresHigh(t *testing.T) {
	f := NewForest(DefaultForestConfig())
	n, err := f.Train(steadyHistory(20))
	require.NoError(t, err)
	require.Equal(t, 20, n)

	outlier, _, err := f.ScoreOne(foodTx(5000, "cafe-0"))
	require.NoError(t, err)
	require.Greater(t, outlier, 50, "outlier should land in the upper half")

	typical, _, err := f.ScoreOne(foodTx(20, "cafe-0"))
	require.NoError(t, err)
	require.Less(t, typical, outlier)
}

func TestForestScoreBounds(t *testing.T) {
	f := NewForest(DefaultForestConfig())
	_, err := f.Train(steadyHistory(50))
	require.NoError(t, err)

	for _, tx := range []Transaction{
		foodTx(0, ""),
		foodTx(1e9, "x"),
		{Amount: -5, Category: "", Merchant: ""},
	} {
		score, _, err := f.ScoreOne(tx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, score, 0)
		require.LessOrEqual(t, score, 100)
	}
}

func TestForestMinTrainRows(t *testing.T) {
	f := NewForest(DefaultForestConfig())
	n, err := f.Train(steadyHistory(9))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	score, details, err := f.ScoreOne(foodTx(5000, "cafe-0"))
	require.NoError(t, err)
	require.Equal(t, 0, score)
	require.Equal(t, "model_not_trained", details["reason"])
}

func TestForestDeterministic(t *testing.T) {
	hist := steadyHistory(40)
	probe := foodTx(900, "new-shop")

	a := NewForest(DefaultForestConfig())
	_, err := a.Train(hist)
	require.NoError(t, err)
	scoreA, _, err := a.ScoreOne(probe)
	require.NoError(t, err)

	b := NewForest(DefaultForestConfig())
	_, err = b.Train(hist)
	require.NoError(t, err)
	scoreB, _, err := b.ScoreOne(probe)
	require.NoError(t, err)

	require.Equal(t, scoreA, scoreB)
}

func TestFeaturizeBuckets(t *testing.T) {
	rows := Featurize([]Transaction{
		{Amount: 100, Category: "food", Merchant: "CAFE"},
		{Amount: 100, Category: "FOOD", Merchant: "cafe"},
		{Amount: -3, Category: "", Merchant: ""},
	})

	// Case-folded labels hash identically.
	require.Equal(t, rows[0], rows[1])

	// Negative amounts floor at 0; empty labels land in bucket 0.
	require.Equal(t, []float64{0, 0, 0}, rows[2])

	for _, row := range rows {
		require.Len(t, row, 3)
		require.GreaterOrEqual(t, row[1], 0.0)
		require.LessOrEqual(t, row[1], 1.0)
		require.GreaterOrEqual(t, row[2], 0.0)
		require.LessOrEqual(t, row[2], 1.0)
	}
}

func TestScalerZeroVariance(t *testing.T) {
	s := fitScaler([][]float64{{5, 1}, {5, 3}})
	out := s.transform([][]float64{{5, 2}})

	// Constant column passes through centered, not divided by zero.
	require.Equal(t, 0.0, out[0][0])
	require.Equal(t, 0.0, out[0][1])
}
