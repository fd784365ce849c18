package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/database"
)

// PostgresRegistry stores device records in the device_fingerprints table.
type PostgresRegistry struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewPostgresRegistry creates a postgres-backed device registry.
func NewPostgresRegistry(db *database.PostgresDB, logger *zap.Logger) *PostgresRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRegistry{
		db:     db,
		logger: logger.With(zap.String("component", "device_registry")),
	}
}

const deviceColumns = `user_id, device_hash, trusted, first_seen, last_seen, last_ip, COALESCE(bind_token_hash, ''), bind_issued_at, bind_last_used`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.UserID, &r.DeviceHash, &r.Trusted, &r.FirstSeen, &r.LastSeen,
		&r.LastIP, &r.BindTokenHash, &r.BindIssuedAt, &r.BindLastUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (p *PostgresRegistry) Get(ctx context.Context, userID, deviceHash string) (*Record, error) {
	row := p.db.Pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM device_fingerprints WHERE user_id = $1 AND device_hash = $2`,
		userID, deviceHash)
	return scanRecord(row)
}

func (p *PostgresRegistry) Touch(ctx context.Context, userID, deviceHash, ip string, seen time.Time) (*Record, error) {
	row := p.db.Pool.QueryRow(ctx,
		`INSERT INTO device_fingerprints (user_id, device_hash, trusted, first_seen, last_seen, last_ip)
		 VALUES ($1, $2, false, $3, $3, $4)
		 ON CONFLICT (user_id, device_hash) DO UPDATE
		 SET last_seen = EXCLUDED.last_seen, last_ip = EXCLUDED.last_ip
		 RETURNING `+deviceColumns,
		userID, deviceHash, seen, ip)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to touch device: %w", err)
	}
	return rec, nil
}

func (p *PostgresRegistry) Trust(ctx context.Context, userID, deviceHash string) error {
	tag, err := p.db.Pool.Exec(ctx,
		`UPDATE device_fingerprints SET trusted = true WHERE user_id = $1 AND device_hash = $2`,
		userID, deviceHash)
	if err != nil {
		return fmt.Errorf("failed to trust device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	p.logger.Info("device trusted", zap.String("user_id", userID), zap.String("device_hash", deviceHash))
	return nil
}

func (p *PostgresRegistry) List(ctx context.Context, userID string) ([]Record, error) {
	rows, err := p.db.Pool.Query(ctx,
		`SELECT `+deviceColumns+` FROM device_fingerprints WHERE user_id = $1 ORDER BY last_seen DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (p *PostgresRegistry) SetBindToken(ctx context.Context, userID, deviceHash, tokenHash string, issuedAt time.Time) error {
	tag, err := p.db.Pool.Exec(ctx,
		`UPDATE device_fingerprints SET bind_token_hash = $3, bind_issued_at = $4, bind_last_used = NULL
		 WHERE user_id = $1 AND device_hash = $2`,
		userID, deviceHash, tokenHash, issuedAt)
	if err != nil {
		return fmt.Errorf("failed to set bind token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresRegistry) ResolveBindToken(ctx context.Context, userID, tokenHash string, usedAt time.Time) (*Record, error) {
	row := p.db.Pool.QueryRow(ctx,
		`UPDATE device_fingerprints SET bind_last_used = $3
		 WHERE user_id = $1 AND bind_token_hash = $2
		 RETURNING `+deviceColumns,
		userID, tokenHash, usedAt)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	p.logger.Info("device binding resolved",
		zap.String("user_id", userID),
		zap.String("device_hash", rec.DeviceHash),
	)
	return rec, nil
}

func (p *PostgresRegistry) ClearBindToken(ctx context.Context, userID, deviceHash string) error {
	tag, err := p.db.Pool.Exec(ctx,
		`UPDATE device_fingerprints SET bind_token_hash = NULL, bind_issued_at = NULL, bind_last_used = NULL
		 WHERE user_id = $1 AND device_hash = $2`,
		userID, deviceHash)
	if err != nil {
		return fmt.Errorf("failed to clear bind token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresRegistry) TrustMap(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := p.db.Pool.Query(ctx,
		`SELECT device_hash, trusted FROM device_fingerprints WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var hash string
		var trusted bool
		if err := rows.Scan(&hash, &trusted); err != nil {
			return nil, err
		}
		out[hash] = trusted
	}
	return out, rows.Err()
}
