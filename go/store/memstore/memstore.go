// Package memstore provides an in-memory store.Store used by tests.
// It mirrors S3 semantics where they matter to FlashFlood: lexically
// ordered listings, inclusive byte ranges, a batch-delete cap, and
// overwrite-on-put.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/xbrianh/flashflood/go/store"
)

// Store is an in-memory store.Store. The zero value is not usable;
// construct with New.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object

	// PresignFn, if set, is invoked by Presign. Tests pair it with an
	// httptest.Server to exercise URL-based replay.
	PresignFn func(key string, ttl time.Duration) (string, error)
}

type object struct {
	data     []byte
	metadata map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func (s *Store) Put(_ context.Context, key string, data []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = object{
		data:     append([]byte(nil), data...),
		metadata: copyMeta(metadata),
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var obj, ok = s.objects[key]
	if !ok {
		return nil, nil, fmt.Errorf("get %q: %w", key, store.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), copyMeta(obj.metadata), nil
}

func (s *Store) GetRange(_ context.Context, key string, first, last int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var obj, ok = s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get range %q: %w", key, store.ErrNotExist)
	}
	if first < 0 || first >= int64(len(obj.data)) || last < first {
		return nil, fmt.Errorf("range [%d, %d] of %q is not satisfiable", first, last, key)
	}
	if last >= int64(len(obj.data)) {
		last = int64(len(obj.data)) - 1
	}
	return append([]byte(nil), obj.data[first:last+1]...), nil
}

func (s *Store) List(ctx context.Context, prefix string) store.KeyIterator {
	return s.ListFrom(ctx, prefix, "")
}

func (s *Store) ListFrom(_ context.Context, prefix, startAfter string) store.KeyIterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix && key > startAfter {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return &sliceIterator{keys: keys}
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

func (s *Store) DeleteBatch(_ context.Context, keys []string) error {
	if len(keys) > store.MaxBatchDelete {
		return fmt.Errorf("batch of %d keys exceeds limit of %d", len(keys), store.MaxBatchDelete)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.objects, key)
	}
	return nil
}

func (s *Store) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	var _, ok = s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("presign %q: %w", key, store.ErrNotExist)
	}
	if s.PresignFn != nil {
		return s.PresignFn(key, ttl)
	}
	return "memstore://" + key, nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	var out = make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type sliceIterator struct {
	keys []string
	key  string
}

func (it *sliceIterator) Next() bool {
	if len(it.keys) == 0 {
		return false
	}
	it.key, it.keys = it.keys[0], it.keys[1:]
	return true
}

func (it *sliceIterator) Key() string { return it.key }
func (it *sliceIterator) Err() error  { return nil }

var _ store.Store = (*Store)(nil)
