package anomaly

import (
	"context"
	"fmt"
	"sync"

	"github.com/riskforge/riskforge/internal/common/database"
)

// TxStore persists transactions per account. Recent returns rows oldest
// first.
type TxStore interface {
	Add(ctx context.Context, tx Transaction) error
	Recent(ctx context.Context, accountID string, limit int) ([]Transaction, error)
}

// PostgresTxStore stores transactions in the transactions table.
type PostgresTxStore struct {
	db *database.PostgresDB
}

// NewPostgresTxStore creates a postgres-backed transaction store.
func NewPostgresTxStore(db *database.PostgresDB) *PostgresTxStore {
	return &PostgresTxStore{db: db}
}

func (s *PostgresTxStore) Add(ctx context.Context, tx Transaction) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO transactions (tx_id, account_id, amount, currency, category, merchant, occurred_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tx_id) DO NOTHING`,
		tx.ID, tx.AccountID, tx.Amount, tx.Currency, tx.Category, tx.Merchant, tx.OccurredAt, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store transaction: %w", err)
	}
	return nil
}

func (s *PostgresTxStore) Recent(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT tx_id, account_id, amount, COALESCE(currency, ''), COALESCE(category, ''), COALESCE(merchant, ''), occurred_at, created_at
		 FROM (
		     SELECT * FROM transactions WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) recent
		 ORDER BY created_at ASC`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Amount, &tx.Currency,
			&tx.Category, &tx.Merchant, &tx.OccurredAt, &tx.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// MemoryTxStore is an in-memory TxStore for tests.
type MemoryTxStore struct {
	mu   sync.RWMutex
	rows map[string][]Transaction
}

// NewMemoryTxStore creates an empty in-memory transaction store.
func NewMemoryTxStore() *MemoryTxStore {
	return &MemoryTxStore{rows: make(map[string][]Transaction)}
}

func (s *MemoryTxStore) Add(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tx.AccountID] = append(s.rows[tx.AccountID], tx)
	return nil
}

func (s *MemoryTxStore) Recent(_ context.Context, accountID string, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.rows[accountID]
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]Transaction, len(rows))
	copy(out, rows)
	return out, nil
}
