package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/riskforge/riskforge/internal/common/database"
)

// Lockout tracks consecutive failed logins per account and locks the
// account once the limit is reached.
type Lockout interface {
	// Locked reports whether the account is currently locked.
	Locked(ctx context.Context, userID string) (bool, error)

	// RecordFailure increments the consecutive failure count, locking the
	// account when the limit is reached. Returns the new count and whether
	// the account is now locked.
	RecordFailure(ctx context.Context, userID string) (int, bool, error)

	// Fails returns the current consecutive failure count.
	Fails(ctx context.Context, userID string) (int, error)

	// Reset clears failures and any lock after a successful login.
	Reset(ctx context.Context, userID string) error
}

// LockoutConfig holds the failure limit and lock window.
type LockoutConfig struct {
	MaxFails     int
	LockDuration time.Duration
}

// DefaultLockoutConfig returns the default 5-failures / 15-minute policy.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{MaxFails: 5, LockDuration: 15 * time.Minute}
}

// RedisLockout keeps failure counters and lock markers in redis.
type RedisLockout struct {
	redis  *database.RedisClient
	config LockoutConfig
}

// NewRedisLockout creates a redis-backed lockout tracker.
func NewRedisLockout(redis *database.RedisClient, config LockoutConfig) *RedisLockout {
	if config.MaxFails <= 0 {
		config = DefaultLockoutConfig()
	}
	return &RedisLockout{redis: redis, config: config}
}

func failsKey(userID string) string { return fmt.Sprintf("lockout:fails:%s", userID) }
func lockKey(userID string) string  { return fmt.Sprintf("lockout:until:%s", userID) }

func (l *RedisLockout) Locked(ctx context.Context, userID string) (bool, error) {
	n, err := l.redis.Client.Exists(ctx, lockKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisLockout) RecordFailure(ctx context.Context, userID string) (int, bool, error) {
	fails, err := l.redis.Client.Incr(ctx, failsKey(userID)).Result()
	if err != nil {
		return 0, false, err
	}
	if int(fails) >= l.config.MaxFails {
		if err := l.redis.Client.Set(ctx, lockKey(userID), "1", l.config.LockDuration).Err(); err != nil {
			return int(fails), false, err
		}
		return int(fails), true, nil
	}
	return int(fails), false, nil
}

func (l *RedisLockout) Fails(ctx context.Context, userID string) (int, error) {
	n, err := l.redis.Client.Get(ctx, failsKey(userID)).Int()
	if err != nil {
		// Missing key means zero failures.
		return 0, nil
	}
	return n, nil
}

func (l *RedisLockout) Reset(ctx context.Context, userID string) error {
	return l.redis.Client.Del(ctx, failsKey(userID), lockKey(userID)).Err()
}

// MemoryLockout is an in-memory Lockout for tests.
type MemoryLockout struct {
	config LockoutConfig
	clock  func() time.Time

	mu    sync.Mutex
	fails map[string]int
	until map[string]time.Time
}

// NewMemoryLockout creates an in-memory lockout tracker. A nil clock uses
// time.Now.
func NewMemoryLockout(config LockoutConfig, clock func() time.Time) *MemoryLockout {
	if config.MaxFails <= 0 {
		config = DefaultLockoutConfig()
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLockout{
		config: config,
		clock:  clock,
		fails:  make(map[string]int),
		until:  make(map[string]time.Time),
	}
}

func (l *MemoryLockout) Locked(_ context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.until[userID]
	return ok && l.clock().Before(until), nil
}

func (l *MemoryLockout) RecordFailure(_ context.Context, userID string) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fails[userID]++
	if l.fails[userID] >= l.config.MaxFails {
		l.until[userID] = l.clock().Add(l.config.LockDuration)
		return l.fails[userID], true, nil
	}
	return l.fails[userID], false, nil
}

func (l *MemoryLockout) Fails(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fails[userID], nil
}

func (l *MemoryLockout) Reset(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.fails, userID)
	delete(l.until, userID)
	return nil
}
