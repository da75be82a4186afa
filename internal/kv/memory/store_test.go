package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawpal/pawpal-context/internal/kv"
)

func TestStore_PutIf(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	// Creation requires version 0.
	err := s.PutIf(ctx, "k", []byte("v1"), 0)
	require.NoError(t, err)

	rec, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.Version)

	// Wrong version is rejected.
	err = s.PutIf(ctx, "k", []byte("v2"), 5)
	assert.ErrorIs(t, err, kv.ErrPreconditionFailed)

	// Matching version succeeds and bumps.
	err = s.PutIf(ctx, "k", []byte("v2"), 1)
	require.NoError(t, err)

	rec, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), rec.Value)
	assert.Equal(t, int64(2), rec.Version)

	// Creating over an existing key fails.
	err = s.PutIf(ctx, "k", []byte("v3"), 0)
	assert.ErrorIs(t, err, kv.ErrPreconditionFailed)
}

func TestStore_SetNXAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()
	s.Now = func() time.Time { return now }

	ok, err := s.SetNX(ctx, "lock", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be retaken")

	// After the TTL the key is absent and can be retaken.
	now = now.Add(2 * time.Minute)
	rec, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Nil(t, rec)

	ok, err = s.SetNX(ctx, "lock", []byte("c"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_Incr(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	n, err := s.Incr(ctx, "seq", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Incr(ctx, "seq", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	// Zero delta reads without modifying.
	n, err = s.Incr(ctx, "seq", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestStore_ListRange(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for _, v := range []string{"a", "b", "c", "d"} {
		_, err := s.ListAppend(ctx, "l", []byte(v))
		require.NoError(t, err)
	}

	tests := []struct {
		name        string
		start, stop int64
		expected    []string
	}{
		{name: "full list", start: 0, stop: -1, expected: []string{"a", "b", "c", "d"}},
		{name: "tail", start: -2, stop: -1, expected: []string{"c", "d"}},
		{name: "middle", start: 1, stop: 2, expected: []string{"b", "c"}},
		{name: "past end clamps", start: 2, stop: 99, expected: []string{"c", "d"}},
		{name: "inverted is empty", start: 3, stop: 1, expected: nil},
		{name: "tail larger than list", start: -99, stop: -1, expected: []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raws, err := s.ListRange(ctx, "l", tt.start, tt.stop)
			require.NoError(t, err)
			var got []string
			for _, r := range raws {
				got = append(got, string(r))
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestStore_ListTrim(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for _, v := range []string{"a", "b", "c", "d"} {
		_, err := s.ListAppend(ctx, "l", []byte(v))
		require.NoError(t, err)
	}

	require.NoError(t, s.ListTrim(ctx, "l", 2, -1))

	raws, err := s.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "c", string(raws[0]))
	assert.Equal(t, "d", string(raws[1]))

	length, err := s.ListLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)
}

func TestStore_ListExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()
	s.Now = func() time.Time { return now }

	_, err := s.ListAppend(ctx, "l", []byte("a"))
	require.NoError(t, err)
	require.NoError(t, s.Expire(ctx, "l", time.Minute))

	// Refreshing the TTL slides the deadline.
	now = now.Add(30 * time.Second)
	require.NoError(t, s.Expire(ctx, "l", time.Minute))
	now = now.Add(45 * time.Second)

	length, err := s.ListLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	// Past the deadline the list is gone.
	now = now.Add(time.Minute)
	raws, err := s.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, raws)

	length, err = s.ListLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)

	// A fresh append starts a new, unexpired list.
	_, err = s.ListAppend(ctx, "l", []byte("b"))
	require.NoError(t, err)
	raws, err = s.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "b", string(raws[0]))
}

func TestStore_Scan(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Put(ctx, "marker:s1", []byte("1")))
	require.NoError(t, s.Put(ctx, "marker:s2", []byte("1")))
	require.NoError(t, s.Put(ctx, "other:s3", []byte("1")))

	keys, err := s.Scan(ctx, "marker:")
	require.NoError(t, err)
	assert.Equal(t, []string{"marker:s1", "marker:s2"}, keys)
}
