package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/common/database"
)

// Store persists behavioral profiles. Get creates an empty profile lazily;
// it never returns "not found". Callers hold the per-account lock across a
// Get/mutate/Put sequence.
type Store interface {
	Get(ctx context.Context, userID string) (*BehavioralProfile, error)
	Put(ctx context.Context, p *BehavioralProfile) error
	Delete(ctx context.Context, userID string) error
}

// RedisStore keeps one JSON-encoded profile per user with a sliding TTL.
type RedisStore struct {
	redis  *database.RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a redis-backed profile store. A zero ttl disables
// expiry.
func NewRedisStore(redis *database.RedisClient, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		redis:  redis,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "profile_store")),
	}
}

func profileKey(userID string) string {
	return fmt.Sprintf("profile:%s", userID)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*BehavioralProfile, error) {
	data, err := s.redis.Client.Get(ctx, profileKey(userID)).Bytes()
	if err != nil {
		// Missing key or degraded redis both mean "fresh profile"; a write
		// failure will surface on Put.
		return New(userID), nil
	}

	var p BehavioralProfile
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("discarding undecodable profile", zap.String("user_id", userID), zap.Error(err))
		return New(userID), nil
	}
	p.UserID = userID
	p.normalize()
	return &p, nil
}

func (s *RedisStore) Put(ctx context.Context, p *BehavioralProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := s.redis.Client.Set(ctx, profileKey(p.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	return s.redis.Client.Del(ctx, profileKey(userID)).Err()
}

// MemoryStore is an in-memory Store for tests and standalone use.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*BehavioralProfile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*BehavioralProfile)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*BehavioralProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[userID]; ok {
		return p.Clone(), nil
	}
	return New(userID), nil
}

func (s *MemoryStore) Put(_ context.Context, p *BehavioralProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	return nil
}
