package risk

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/database"
)

// HistoryStore persists login attempts per user. Recent returns attempts
// oldest first.
type HistoryStore interface {
	Append(ctx context.Context, attempt Attempt) error
	Recent(ctx context.Context, userID string, limit int) ([]Attempt, error)
}

// PostgresHistory stores attempts in the login_history table.
type PostgresHistory struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewPostgresHistory creates a postgres-backed history store.
func NewPostgresHistory(db *database.PostgresDB, logger *zap.Logger) *PostgresHistory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresHistory{
		db:     db,
		logger: logger.With(zap.String("component", "login_history")),
	}
}

func (h *PostgresHistory) Append(ctx context.Context, a Attempt) error {
	_, err := h.db.Pool.Exec(ctx,
		`INSERT INTO login_history (attempt_id, user_id, ts, ip_address, device_hash, success, risk_score, risk_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		a.ID, a.UserID, a.Timestamp, a.IP, a.DeviceHash, a.Success, a.RiskScore, a.Reason)
	if err != nil {
		return fmt.Errorf("failed to append login attempt: %w", err)
	}
	return nil
}

func (h *PostgresHistory) Recent(ctx context.Context, userID string, limit int) ([]Attempt, error) {
	rows, err := h.db.Pool.Query(ctx,
		`SELECT attempt_id, user_id, ts, ip_address, COALESCE(device_hash, ''), success, risk_score, COALESCE(risk_reason, '')
		 FROM (
		     SELECT * FROM login_history WHERE user_id = $1 ORDER BY ts DESC LIMIT $2
		 ) recent
		 ORDER BY ts ASC`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.Timestamp, &a.IP, &a.DeviceHash,
			&a.Success, &a.RiskScore, &a.Reason); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MemoryHistory is an in-memory HistoryStore for tests.
type MemoryHistory struct {
	mu       sync.RWMutex
	attempts map[string][]Attempt
}

// NewMemoryHistory creates an empty in-memory history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{attempts: make(map[string][]Attempt)}
}

func (h *MemoryHistory) Append(_ context.Context, a Attempt) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts[a.UserID] = append(h.attempts[a.UserID], a)
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, userID string, limit int) ([]Attempt, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rows := h.attempts[userID]
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]Attempt, len(rows))
	copy(out, rows)
	return out, nil
}
