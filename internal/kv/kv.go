// Package kv defines the key-value store contract the tiered context store
// runs on: get/put by key, conditional put against a version, atomic counter
// increment, TTL expiry, and an append-only list per key. Atomicity is
// per-record; there are no cross-record transactions.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrPreconditionFailed is returned by PutIf when the stored version does not
// match the caller's expectation.
var ErrPreconditionFailed = errors.New("kv: precondition failed")

// Record is a stored value with its write version. Versions start at 1 and
// increment on every write.
type Record struct {
	Value   []byte
	Version int64
}

// Store is the narrow contract both backends implement. Get returns nil for
// an absent (or expired) key.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, value []byte) error
	// PutIf replaces the value only when the stored version equals ifVersion.
	// ifVersion 0 means the key must not exist yet.
	PutIf(ctx context.Context, key string, value []byte, ifVersion int64) error
	Delete(ctx context.Context, key string) error

	// Incr atomically adds delta to a counter key and returns the new value.
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// SetNX writes the value only if the key is absent, with a TTL. Returns
	// whether the write happened. Used for idempotent markers and locks.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	ListAppend(ctx context.Context, key string, value []byte) (int64, error)
	// ListRange follows Redis semantics: inclusive indices, negatives count
	// from the tail, (0, -1) is the whole list.
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	// ListTrim keeps only the inclusive [start, stop] range.
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListLen(ctx context.Context, key string) (int64, error)

	// Scan returns the keys under a prefix. Intended for low-cardinality
	// namespaces (batch markers), not for bulk data.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// CleanupExpired physically removes expired records on backends without
	// native TTL. No-op (returns 0) on backends that expire natively.
	CleanupExpired(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
