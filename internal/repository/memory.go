package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/keyward/keyward/internal/domain/apikey"
)

var _ apikey.Repository = (*Memory)(nil)

// Memory is an in-process credential store keeping every record under one
// mutex, which also gives Create its quota-count-plus-insert atomicity. It
// backs tests and the no-database development mode; data does not survive a
// restart.
type Memory struct {
	mu   sync.Mutex
	keys map[string]*apikey.Key
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*apikey.Key)}
}

// Create persists a new key, enforcing digest uniqueness and the owner's
// active-key quota under the store lock.
func (m *Memory) Create(_ context.Context, key *apikey.Key, maxActive int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range m.keys {
		if k.TokenDigest == key.TokenDigest {
			return apikey.ErrDuplicateDigest
		}
	}

	if maxActive > 0 && !key.Owner.IsZero() {
		now := time.Now()
		active := 0
		for _, k := range m.keys {
			if k.Owner == key.Owner && k.ActiveAt(now) {
				active++
			}
		}
		if active >= maxActive {
			return apikey.ErrQuotaExceeded
		}
	}

	m.keys[key.ID] = cloneKey(key)
	return nil
}

// FindByID returns the key with the given id.
func (m *Memory) FindByID(_ context.Context, id string) (*apikey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, apikey.ErrNotFound
	}
	return cloneKey(k), nil
}

// FindByDigest returns the key whose digest and algorithm match exactly.
func (m *Memory) FindByDigest(_ context.Context, digest, algorithm string) (*apikey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.TokenDigest == digest && k.DigestAlgorithm == algorithm {
			return cloneKey(k), nil
		}
	}
	return nil, apikey.ErrNotFound
}

// FindByPrefix returns every key issued under prefix with the algorithm.
func (m *Memory) FindByPrefix(_ context.Context, prefix, algorithm string) ([]*apikey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*apikey.Key
	for _, k := range m.keys {
		if k.Prefix == prefix && k.DigestAlgorithm == algorithm {
			out = append(out, cloneKey(k))
		}
	}
	return out, nil
}

// ListByOwner returns the owner's keys, newest first.
func (m *Memory) ListByOwner(_ context.Context, owner apikey.Owner) ([]*apikey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*apikey.Key
	for _, k := range m.keys {
		if k.Owner == owner {
			out = append(out, cloneKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountActiveByOwner counts the owner's unrevoked, unexpired keys at now.
func (m *Memory) CountActiveByOwner(_ context.Context, owner apikey.Owner, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.keys {
		if k.Owner == owner && k.ActiveAt(now) {
			n++
		}
	}
	return n, nil
}

// DistinctPrefixes returns every prefix present in the store.
func (m *Memory) DistinctPrefixes(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, k := range m.keys {
		if _, ok := seen[k.Prefix]; !ok {
			seen[k.Prefix] = struct{}{}
			out = append(out, k.Prefix)
		}
	}
	return out, nil
}

// Revoke sets revoked_at if unset; re-revoking returns the existing state.
func (m *Memory) Revoke(_ context.Context, id string, at time.Time) (*apikey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, apikey.ErrNotFound
	}
	if k.RevokedAt == nil {
		k.RevokedAt = &at
		k.UpdatedAt = at
	}
	return cloneKey(k), nil
}

// UpdateEditable persists the caller-editable fields, name and scopes.
func (m *Memory) UpdateEditable(_ context.Context, id, name string, scopes []string) (*apikey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, apikey.ErrNotFound
	}
	k.Name = name
	k.Scopes = scopes
	k.UpdatedAt = time.Now()
	return cloneKey(k), nil
}

// RecordUsage stamps last_used_at and optionally increments requests_count.
func (m *Memory) RecordUsage(_ context.Context, id string, usedAt time.Time, increment bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return apikey.ErrNotFound
	}
	k.LastUsedAt = &usedAt
	if increment {
		k.RequestsCount++
	}
	return nil
}

func cloneKey(k *apikey.Key) *apikey.Key {
	cp := *k
	if k.Scopes != nil {
		cp.Scopes = append([]string(nil), k.Scopes...)
	}
	if k.Metadata != nil {
		cp.Metadata = make(map[string]string, len(k.Metadata))
		for mk, mv := range k.Metadata {
			cp.Metadata[mk] = mv
		}
	}
	return &cp
}
