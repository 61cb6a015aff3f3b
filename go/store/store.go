// Package store defines the blob-store surface required by FlashFlood:
// keyed puts with user metadata, streaming and ranged gets, lexically
// ordered prefix listings, batched deletion, and presigned GET URLs.
// Adapters for S3, Google Cloud Storage, and an in-memory store used in
// tests live in sub-packages.
package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

// MaxBatchDelete is the largest number of keys which may be passed to a
// single DeleteBatch call. It matches the limit imposed by S3's
// DeleteObjects API, and all adapters enforce it.
const MaxBatchDelete = 1000

// ErrNotExist is returned (wrapped) by Get, GetRange, and Presign when the
// named object is absent. Adapters translate their SDK's various not-found
// shapes into this sentinel so that callers can test with errors.Is.
var ErrNotExist = fmt.Errorf("object does not exist")

// Store is a minimal facade over an object store.
//
// Keys are flat strings; "prefixes" are ordinary key prefixes and listings
// are returned in lexical key order. Store implementations are expected to
// provide their own retry policies; callers never retry.
type Store interface {
	// Put writes |data| under |key| with optional user metadata,
	// overwriting any prior object.
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	// Get returns a reader of the object body and its user metadata.
	Get(ctx context.Context, key string) (io.ReadCloser, map[string]string, error)
	// GetRange returns the inclusive byte range [first, last] of the object.
	GetRange(ctx context.Context, key string, first, last int64) ([]byte, error)
	// List iterates all keys having |prefix|, in lexical order.
	List(ctx context.Context, prefix string) KeyIterator
	// ListFrom iterates keys having |prefix| which are lexically greater
	// than |startAfter|, in lexical order.
	ListFrom(ctx context.Context, prefix, startAfter string) KeyIterator
	// Delete removes a single object. Deleting an absent object is not
	// an error.
	Delete(ctx context.Context, key string) error
	// DeleteBatch removes up to MaxBatchDelete objects in one call.
	DeleteBatch(ctx context.Context, keys []string) error
	// Presign returns a time-bounded HTTP GET URL for the object. The
	// URL must honor byte-range requests.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// KeyIterator is a lazy, one-shot iteration over listed keys.
// Callers invoke Next until it returns false, then check Err.
type KeyIterator interface {
	Next() bool
	Key() string
	Err() error
}

// Keys drains |it| into a slice.
func Keys(it KeyIterator) ([]string, error) {
	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}
	return keys, it.Err()
}

// BatchDeleter accumulates keys for deletion and issues DeleteBatch calls
// of at most MaxBatchDelete keys each. Close flushes the remainder.
type BatchDeleter struct {
	ctx   context.Context
	store Store
	keys  []string
}

// NewBatchDeleter returns a BatchDeleter flushing into |s|.
func NewBatchDeleter(ctx context.Context, s Store) *BatchDeleter {
	return &BatchDeleter{ctx: ctx, store: s}
}

// Delete queues |key|, flushing if the batch is full.
func (d *BatchDeleter) Delete(key string) error {
	d.keys = append(d.keys, key)
	if len(d.keys) < MaxBatchDelete {
		return nil
	}
	return d.flush()
}

// Close flushes any queued keys.
func (d *BatchDeleter) Close() error { return d.flush() }

func (d *BatchDeleter) flush() error {
	for len(d.keys) != 0 {
		var n = len(d.keys)
		if n > MaxBatchDelete {
			n = MaxBatchDelete
		}
		if err := d.store.DeleteBatch(d.ctx, d.keys[:n]); err != nil {
			return fmt.Errorf("deleting batch of %d keys: %w", n, err)
		}
		d.keys = d.keys[n:]
	}
	d.keys = nil
	return nil
}

// DeleteAll drains |keys| through a BatchDeleter.
func DeleteAll(ctx context.Context, s Store, keys []string) error {
	var d = NewBatchDeleter(ctx, s)
	for _, key := range keys {
		if err := d.Delete(key); err != nil {
			return err
		}
	}
	return d.Close()
}

// ConcurrentList lists every prefix of |prefixes| using a bounded pool of
// |workers|, and merges results into a single un-ordered iteration.
func ConcurrentList(ctx context.Context, s Store, prefixes []string, workers int) KeyIterator {
	var (
		keyCh = make(chan string, 64)
		errCh = make(chan error, 1)
	)
	var group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(workers)

	go func() {
		for _, prefix := range prefixes {
			group.Go(func() error {
				var it = s.List(groupCtx, prefix)
				for it.Next() {
					select {
					case keyCh <- it.Key():
					case <-groupCtx.Done():
						return groupCtx.Err()
					}
				}
				return it.Err()
			})
		}
		errCh <- group.Wait()
		close(keyCh)
	}()

	return &mergeIterator{keyCh: keyCh, errCh: errCh}
}

type mergeIterator struct {
	keyCh <-chan string
	errCh <-chan error
	key   string
	err   error
	done  bool
}

func (m *mergeIterator) Next() bool {
	if m.done {
		return false
	}
	var key, ok = <-m.keyCh
	if !ok {
		m.done = true
		m.err = <-m.errCh
		return false
	}
	m.key = key
	return true
}

func (m *mergeIterator) Key() string { return m.key }
func (m *mergeIterator) Err() error  { return m.err }
