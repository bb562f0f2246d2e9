package store

import (
	"context"
	"sync"
)

// MemoryHashStore is an in-process HashStore for single node deployments
// and tests. State is lost on restart.
type MemoryHashStore struct {
	hashes map[string]map[string]string
	closed bool
	mu     sync.RWMutex
}

func NewMemoryHashStore() *MemoryHashStore {
	return &MemoryHashStore{hashes: make(map[string]map[string]string)}
}

func (s *MemoryHashStore) hash(key string) map[string]string {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	return h
}

func (s *MemoryHashStore) SetField(ctx context.Context, key, field, value string) error {
	return s.SetFields(ctx, key, map[string]string{field: value})
}

func (s *MemoryHashStore) SetFields(_ context.Context, key string, fields map[string]string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if len(fields) == 0 {
		return nil
	}
	h := s.hash(key)
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (s *MemoryHashStore) SetFieldIfAbsent(_ context.Context, key, field, value string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	h := s.hash(key)
	if _, ok := h[field]; ok {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (s *MemoryHashStore) GetField(_ context.Context, key, field string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrStoreClosed
	}
	v, ok := s.hashes[key][field]
	return v, ok, nil
}

func (s *MemoryHashStore) GetAllFields(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *MemoryHashStore) DeleteField(_ context.Context, key, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if h, ok := s.hashes[key]; ok {
		delete(h, field)
		if len(h) == 0 {
			delete(s.hashes, key)
		}
	}
	return nil
}

func (s *MemoryHashStore) DeleteHash(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for _, k := range keys {
		delete(s.hashes, k)
	}
	return nil
}

// Exists reports whether a hash holds any field.
func (s *MemoryHashStore) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes[key]) > 0
}

func (s *MemoryHashStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryHashStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
