package store

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryHash struct {
	fields    map[string][]byte
	expiresAt time.Time // zero until Expire is called
}

// Memory implements Store in process memory. It backs tests and serves
// as a degraded-mode fallback when Redis is unreachable at startup.
type Memory struct {
	mu     sync.Mutex
	values map[string]memoryEntry
	hashes map[string]memoryHash
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]memoryEntry),
		hashes: make(map[string]memoryHash),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.values[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.values, key)
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash, ok := m.hashes[key]
	if !ok || (!hash.expiresAt.IsZero() && time.Now().After(hash.expiresAt)) {
		hash = memoryHash{fields: make(map[string][]byte, len(fields))}
	}
	for field, value := range fields {
		hash.fields[field] = append([]byte(nil), value...)
	}
	m.hashes[key] = hash
	return nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash, ok := m.hashes[key]
	if !ok {
		return map[string][]byte{}, nil
	}
	if !hash.expiresAt.IsZero() && time.Now().After(hash.expiresAt) {
		delete(m.hashes, key)
		return map[string][]byte{}, nil
	}

	out := make(map[string][]byte, len(hash.fields))
	for field, value := range hash.fields {
		out[field] = value
	}
	return out, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.values[key]; ok {
		entry.expiresAt = time.Now().Add(ttl)
		m.values[key] = entry
	}
	if hash, ok := m.hashes[key]; ok {
		hash.expiresAt = time.Now().Add(ttl)
		m.hashes[key] = hash
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
		delete(m.hashes, key)
	}
	return nil
}

func (m *Memory) DeleteByPattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.values {
		if matched, _ := path.Match(pattern, key); matched {
			delete(m.values, key)
		}
	}
	for key := range m.hashes {
		if matched, _ := path.Match(pattern, key); matched {
			delete(m.hashes, key)
		}
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
