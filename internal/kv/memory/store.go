// Package memory is an in-process kv.Store used by tests. It honors the same
// version and TTL semantics as the real backends.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pawpal/pawpal-context/internal/kv"
)

type record struct {
	value     []byte
	version   int64
	expiresAt time.Time
}

// Store implements kv.Store with maps and a mutex.
type Store struct {
	mu         sync.Mutex
	records    map[string]record
	counters   map[string]int64
	lists      map[string][][]byte
	listExpiry map[string]time.Time

	// Now is overridable in tests that exercise expiry.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		records:    make(map[string]record),
		counters:   make(map[string]int64),
		lists:      make(map[string][][]byte),
		listExpiry: make(map[string]time.Time),
		Now:        time.Now,
	}
}

func (s *Store) expired(r record) bool {
	return !r.expiresAt.IsZero() && !r.expiresAt.After(s.Now())
}

func (s *Store) listExpired(key string) bool {
	at, ok := s.listExpiry[key]
	return ok && !at.After(s.Now())
}

func (s *Store) dropExpiredList(key string) {
	if s.listExpired(key) {
		delete(s.lists, key)
		delete(s.listExpiry, key)
	}
}

func (s *Store) Get(ctx context.Context, key string) (*kv.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok || s.expired(r) {
		return nil, nil
	}
	value := make([]byte, len(r.value))
	copy(value, r.value)
	return &kv.Record{Value: value, Version: r.version}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[key]
	s.records[key] = record{value: clone(value), version: r.version + 1}
	return nil
}

func (s *Store) PutIf(ctx context.Context, key string, value []byte, ifVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	current := int64(0)
	if ok && !s.expired(r) {
		current = r.version
	}
	if current != ifVersion {
		return kv.ErrPreconditionFailed
	}
	s.records[key] = record{value: clone(value), version: current + 1}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	delete(s.lists, key)
	delete(s.listExpiry, key)
	return nil
}

func (s *Store) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += delta
	return s.counters[key], nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[key]; ok && !s.expired(r) {
		return false, nil
	}
	rec := record{value: clone(value), version: 1}
	if ttl > 0 {
		rec.expiresAt = s.Now().Add(ttl)
	}
	s.records[key] = rec
	return true, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[key]; ok {
		r.expiresAt = s.Now().Add(ttl)
		s.records[key] = r
	}
	if _, ok := s.lists[key]; ok {
		s.listExpiry[key] = s.Now().Add(ttl)
	}
	return nil
}

func (s *Store) ListAppend(ctx context.Context, key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpiredList(key)
	s.lists[key] = append(s.lists[key], clone(value))
	return int64(len(s.lists[key])), nil
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpiredList(key)
	list := s.lists[key]
	from, to, empty := normalizeRange(start, stop, int64(len(list)))
	if empty {
		return nil, nil
	}
	out := make([][]byte, 0, to-from+1)
	for _, v := range list[from : to+1] {
		out = append(out, clone(v))
	}
	return out, nil
}

func (s *Store) ListTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpiredList(key)
	list := s.lists[key]
	from, to, empty := normalizeRange(start, stop, int64(len(list)))
	if empty {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = list[from : to+1]
	return nil
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpiredList(key)
	return int64(len(s.lists[key])), nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, r := range s.records {
		if strings.HasPrefix(k, prefix) && !s.expired(r) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for k, r := range s.records {
		if s.expired(r) {
			delete(s.records, k)
			removed++
		}
	}
	for k := range s.lists {
		if s.listExpired(k) {
			delete(s.lists, k)
			delete(s.listExpiry, k)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func normalizeRange(start, stop, length int64) (from, to int64, empty bool) {
	if length == 0 {
		return 0, 0, true
	}
	if start < 0 {
		start += length
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += length
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return 0, 0, true
	}
	return start, stop, false
}
