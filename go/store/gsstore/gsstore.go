// Package gsstore adapts Google Cloud Storage to the store.Store
// interface.
package gsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/xbrianh/flashflood/go/store"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Config represents the fully merged endpoint configuration for GCS.
type Config struct {
	Bucket string
	// CredentialsFile is a path to a service account key. Empty uses
	// application default credentials.
	// https://developers.google.com/accounts/docs/application-default-credentials
	CredentialsFile string
}

// Store is a store.Store backed by a GCS bucket.
type Store struct {
	bucket *storage.BucketHandle
}

// New connects to GCS and returns a Store over |config.Bucket|.
func New(ctx context.Context, config *Config) (*Store, error) {
	var opts = []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	var client, err = storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("building google storage client: %w", err)
	}
	return &Store{bucket: client.Bucket(config.Bucket)}, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	var w = s.bucket.Object(key).NewWriter(ctx)
	w.Metadata = metadata

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing write of %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	var obj = s.bucket.Object(key)

	var attrs, err = obj.Attrs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("getting attrs of %q: %w", key, mapNotFound(err))
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("getting %q: %w", key, mapNotFound(err))
	}
	return r, attrs.Metadata, nil
}

func (s *Store) GetRange(ctx context.Context, key string, first, last int64) ([]byte, error) {
	var r, err = s.bucket.Object(key).NewRangeReader(ctx, first, last-first+1)
	if err != nil {
		return nil, fmt.Errorf("getting range [%d, %d] of %q: %w", first, last, key, mapNotFound(err))
	}
	defer r.Close()

	var data []byte
	if data, err = io.ReadAll(r); err != nil {
		return nil, fmt.Errorf("reading range of %q: %w", key, err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, prefix string) store.KeyIterator {
	return s.ListFrom(ctx, prefix, "")
}

func (s *Store) ListFrom(ctx context.Context, prefix, startAfter string) store.KeyIterator {
	var query = &storage.Query{Prefix: prefix}
	if startAfter != "" {
		// StartOffset is inclusive, while iteration must begin strictly
		// after |startAfter|. The iterator skips the boundary key.
		query.StartOffset = startAfter
	}
	_ = query.SetAttrSelection([]string{"Name"})

	return &objectIterator{
		it:         s.bucket.Objects(ctx, query),
		startAfter: startAfter,
	}
}

func (s *Store) Delete(ctx context.Context, key string) error {
	var err = s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

// DeleteBatch fans out per-object deletes, as GCS has no single-call
// batch deletion.
func (s *Store) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) > store.MaxBatchDelete {
		return fmt.Errorf("batch of %d keys exceeds limit of %d", len(keys), store.MaxBatchDelete)
	}

	var group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(16)

	for _, key := range keys {
		group.Go(func() error { return s.Delete(groupCtx, key) })
	}
	return group.Wait()
}

func (s *Store) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	var url, err = s.bucket.SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("presigning %q: %w", key, err)
	}
	return url, nil
}

type objectIterator struct {
	it         *storage.ObjectIterator
	startAfter string
	key        string
	err        error
}

func (it *objectIterator) Next() bool {
	for {
		var attrs, err = it.it.Next()
		if err == iterator.Done {
			return false
		} else if err != nil {
			it.err = fmt.Errorf("listing objects: %w", err)
			return false
		} else if attrs.Name <= it.startAfter {
			continue
		}
		it.key = attrs.Name
		return true
	}
}

func (it *objectIterator) Key() string { return it.key }
func (it *objectIterator) Err() error  { return it.err }

// mapNotFound rewrites GCS's not-found error into store.ErrNotExist.
func mapNotFound(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return store.ErrNotExist
	}
	return err
}

var _ store.Store = (*Store)(nil)
