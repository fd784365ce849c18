package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/keyedmutex"
	"github.com/riskforge/riskforge/internal/metrics"
	"github.com/riskforge/riskforge/internal/profile"
)

// txHistoryLimit bounds how much transaction history is loaded per call.
const txHistoryLimit = 500

// Service records transactions and scores them through the detector facade
// and the heuristic scorer.
type Service struct {
	detector *Detector
	store    TxStore
	profiles profile.Store
	locks    keyedmutex.KeyedMutex
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the transaction scoring service.
func NewService(detector *Detector, store TxStore, profiles profile.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		detector: detector,
		store:    store,
		profiles: profiles,
		logger:   logger.With(zap.String("component", "anomaly_service")),
		now:      time.Now,
	}
}

// Record persists a transaction and folds it into the account's behavioral
// profile under the account lock.
func (s *Service) Record(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now().UTC()
	}
	if tx.OccurredAt.IsZero() {
		tx.OccurredAt = tx.CreatedAt
	}
	tx.Category = strings.ToUpper(strings.TrimSpace(tx.Category))

	unlock := s.locks.Lock(tx.AccountID)
	defer unlock()

	if err := s.store.Add(ctx, tx); err != nil {
		return Transaction{}, err
	}

	prof, err := s.profiles.Get(ctx, tx.AccountID)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to load profile: %w", err)
	}
	if prof.LearnTransaction(tx.ID, tx.Amount, tx.Category, tx.Merchant) {
		if err := s.profiles.Put(ctx, prof); err != nil {
			metrics.RecordProfileUpdate("transaction", "error")
			s.logger.Error("profile update failed", zap.String("account_id", tx.AccountID), zap.Error(err))
		} else {
			metrics.RecordProfileUpdate("transaction", "applied")
		}
	} else {
		metrics.RecordProfileUpdate("transaction", "skipped")
	}

	return tx, nil
}

// ScoreNewest trains on the account's stored history minus the newest
// transaction and scores that newest transaction.
func (s *Service) ScoreNewest(ctx context.Context, accountID, method string) (Result, error) {
	rows, err := s.store.Recent(ctx, accountID, txHistoryLimit)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(rows) < 2 {
		return Result{Backend: BackendForest, Score: 0, Reason: "insufficient_data"}, nil
	}
	hist, newest := rows[:len(rows)-1], rows[len(rows)-1]
	return s.detector.TrainAndScore(ctx, accountID, hist, newest, normalizeMethod(method)), nil
}

// ScoreHypothetical trains on the account's full stored history and scores
// a transaction that has not been recorded.
func (s *Service) ScoreHypothetical(ctx context.Context, accountID string, tx Transaction, method string) (Result, error) {
	rows, err := s.store.Recent(ctx, accountID, txHistoryLimit)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load transactions: %w", err)
	}
	return s.detector.TrainAndScore(ctx, accountID, rows, tx, normalizeMethod(method)), nil
}

// ScoreHeuristicFor scores a transaction against the account's learned
// spend statistics.
func (s *Service) ScoreHeuristicFor(ctx context.Context, accountID string, tx Transaction) (HeuristicResult, error) {
	prof, err := s.profiles.Get(ctx, accountID)
	if err != nil {
		return HeuristicResult{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return ScoreHeuristic(prof, tx), nil
}

// normalizeMethod maps caller method aliases onto backend names.
func normalizeMethod(method string) string {
	switch strings.ToLower(method) {
	case "", BackendAuto:
		return ""
	case "ae", "autoenc", BackendAutoencoder:
		return BackendAutoencoder
	case "iforest", BackendForest:
		return BackendForest
	default:
		return ""
	}
}
