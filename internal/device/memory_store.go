package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry, used in tests and single-process
// deployments without postgres.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record // userID -> deviceHash -> record
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]map[string]*Record)}
}

func (m *MemoryRegistry) Get(_ context.Context, userID, deviceHash string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.records[userID][deviceHash]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRegistry) Touch(_ context.Context, userID, deviceHash, ip string, seen time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byHash, ok := m.records[userID]
	if !ok {
		byHash = make(map[string]*Record)
		m.records[userID] = byHash
	}

	rec, ok := byHash[deviceHash]
	if !ok {
		rec = &Record{
			UserID:     userID,
			DeviceHash: deviceHash,
			FirstSeen:  seen,
		}
		byHash[deviceHash] = rec
	}
	rec.LastSeen = seen
	rec.LastIP = ip

	cp := *rec
	return &cp, nil
}

func (m *MemoryRegistry) Trust(_ context.Context, userID, deviceHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID][deviceHash]
	if !ok {
		return ErrNotFound
	}
	rec.Trusted = true
	return nil
}

func (m *MemoryRegistry) List(_ context.Context, userID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records[userID] {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (m *MemoryRegistry) SetBindToken(_ context.Context, userID, deviceHash, tokenHash string, issuedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID][deviceHash]
	if !ok {
		return ErrNotFound
	}
	rec.BindTokenHash = tokenHash
	at := issuedAt
	rec.BindIssuedAt = &at
	rec.BindLastUsed = nil
	return nil
}

func (m *MemoryRegistry) ResolveBindToken(_ context.Context, userID, tokenHash string, usedAt time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records[userID] {
		if rec.BindTokenHash != "" && rec.BindTokenHash == tokenHash {
			at := usedAt
			rec.BindLastUsed = &at
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRegistry) ClearBindToken(_ context.Context, userID, deviceHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID][deviceHash]
	if !ok {
		return ErrNotFound
	}
	rec.BindTokenHash = ""
	rec.BindIssuedAt = nil
	rec.BindLastUsed = nil
	return nil
}

func (m *MemoryRegistry) TrustMap(_ context.Context, userID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool)
	for hash, rec := range m.records[userID] {
		out[hash] = rec.Trusted
	}
	return out, nil
}
