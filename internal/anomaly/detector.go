package anomaly

import (
	"context"
	"fmt"
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/metrics"
)

// Backend names accepted by the facade.
const (
	BackendAuto        = "auto"
	BackendForest      = "forest"
	BackendAutoencoder = "autoencoder"
)

// DetectorConfig tunes the facade and both backends.
type DetectorConfig struct {
	Method      string // default backend selection: auto, forest, autoencoder
	Forest      ForestConfig
	Autoencoder AEConfig
	AEAvailable bool
	CacheSize   int
}

// DefaultDetectorConfig returns the standard facade configuration.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Method:      BackendAuto,
		Forest:      DefaultForestConfig(),
		Autoencoder: DefaultAEConfig(),
		AEAvailable: true,
		CacheSize:   512,
	}
}

// Result is the outcome of one TrainAndScore call.
type Result struct {
	Backend     string         `json:"backend"`
	Score       int            `json:"score"`
	TrainedRows int            `json:"trained_rows"`
	Details     map[string]any `json:"details,omitempty"`
	Fallback    string         `json:"fallback,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CacheHit    bool           `json:"cache_hit"`
}

// fitted holds the trained backends for one history snapshot.
type fitted struct {
	forest      *Forest
	forestRows  int
	autoenc     *Autoencoder
	autoencRows int
	autoencErr  error
}

// Detector trains a backend on an account's transaction history and scores
// the newest transaction. Scoring never returns an error; every failure
// mode degrades to a score-bearing result. Fitted models are cached per
// account and history snapshot, so repeated calls for the same history skip
// retraining and stay deterministic.
type Detector struct {
	config DetectorConfig
	cache  *lru.Cache[string, *fitted]
	logger *zap.Logger
}

// NewDetector creates the anomaly detector facade.
func NewDetector(config DetectorConfig, logger *zap.Logger) (*Detector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultDetectorConfig().CacheSize
	}
	cache, err := lru.New[string, *fitted](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create model cache: %w", err)
	}
	return &Detector{
		config: config,
		cache:  cache,
		logger: logger.With(zap.String("component", "anomaly_detector")),
	}, nil
}

// TrainAndScore trains on the history rows and scores the newest
// transaction. A forced backend falls back to the forest when it trains on
// zero rows or errors, with the fallback annotated in the result. Auto mode
// prefers the autoencoder when it is available and the history meets its
// minimum.
func (d *Detector) TrainAndScore(_ context.Context, accountID string, history []Transaction, newest Transaction, forced string) Result {
	method := forced
	if method == "" {
		method = d.config.Method
	}
	if method == "" {
		method = BackendAuto
	}

	if len(history) == 0 {
		res := Result{Backend: BackendForest, Score: 0, Reason: "insufficient_data"}
		metrics.RecordAnomalyScore(res.Backend, false, float64(res.Score))
		return res
	}

	models := d.fit(accountID, history)

	var res Result
	switch method {
	case BackendForest:
		res = d.scoreForest(models, newest)
	case BackendAutoencoder:
		res = d.scoreAutoencoder(models, newest)
	default:
		if d.config.AEAvailable && len(history) >= d.config.Autoencoder.MinTrainRows {
			res = d.scoreAutoencoder(models, newest)
		} else {
			res = d.scoreForest(models, newest)
		}
	}

	if res.TrainedRows == 0 && res.Reason == "" {
		res.Reason = "insufficient_data"
	}

	metrics.RecordAnomalyScore(res.Backend, res.Fallback != "", float64(res.Score))
	d.logger.Debug("transaction scored",
		zap.String("account_id", accountID),
		zap.String("backend", res.Backend),
		zap.Int("score", res.Score),
		zap.Int("trained_rows", res.TrainedRows),
	)
	return res
}

// fit returns cached fitted models for this history snapshot, training on
// a cache miss.
func (d *Detector) fit(accountID string, history []Transaction) *fitted {
	key := fmt.Sprintf("%s:%s", accountID, historyVersion(history))
	if models, ok := d.cache.Get(key); ok {
		metrics.RecordModelCache("hit")
		return models
	}
	metrics.RecordModelCache("miss")

	models := &fitted{
		forest:  NewForest(d.config.Forest),
		autoenc: NewAutoencoder(d.config.Autoencoder, d.config.AEAvailable),
	}
	models.forestRows, _ = models.forest.Train(history)
	models.autoencRows, models.autoencErr = models.autoenc.Train(history)

	d.cache.Add(key, models)
	return models
}

func (d *Detector) scoreForest(models *fitted, newest Transaction) Result {
	score, details, _ := models.forest.ScoreOne(newest)
	return Result{
		Backend:     BackendForest,
		Score:       score,
		TrainedRows: models.forestRows,
		Details:     details,
	}
}

func (d *Detector) scoreAutoencoder(models *fitted, newest Transaction) Result {
	if models.autoencErr != nil {
		res := d.scoreForest(models, newest)
		res.Fallback = BackendForest
		res.Reason = models.autoencErr.Error()
		return res
	}
	if models.autoencRows == 0 {
		res := d.scoreForest(models, newest)
		res.Fallback = BackendForest
		res.Reason = "insufficient_rows_for_autoencoder"
		return res
	}

	score, details, err := models.autoenc.ScoreOne(newest)
	if err != nil {
		res := d.scoreForest(models, newest)
		res.Fallback = BackendForest
		res.Reason = err.Error()
		return res
	}
	return Result{
		Backend:     BackendAutoencoder,
		Score:       score,
		TrainedRows: models.autoencRows,
		Details:     details,
	}
}

// historyVersion fingerprints a history snapshot: row count plus the last
// row's identifying fields. This assumes an append-only store; a store that
// rewrites or deletes middle rows without changing the count or the newest
// row would keep serving a stale cached model.
func historyVersion(history []Transaction) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|", len(history))
	if len(history) > 0 {
		last := history[len(history)-1]
		fmt.Fprintf(h, "%s|%.6f|%s|%s|%s", last.ID, last.Amount, last.Category, last.Merchant, last.OccurredAt.UTC().Format("2006-01-02T15:04:05"))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
