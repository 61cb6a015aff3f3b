package memstore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xbrianh/flashflood/go/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	var ctx = context.Background()
	var s = New()

	require.NoError(t, s.Put(ctx, "a/key", []byte("hello"), map[string]string{"target": "x"}))

	var rc, meta, err = s.Get(ctx, "a/key")
	require.NoError(t, err)
	var body, _ = io.ReadAll(rc)
	require.NoError(t, rc.Close())

	require.Equal(t, []byte("hello"), body)
	require.Equal(t, map[string]string{"target": "x"}, meta)

	// Overwrite replaces both body and metadata.
	require.NoError(t, s.Put(ctx, "a/key", []byte("bye"), nil))
	rc, meta, err = s.Get(ctx, "a/key")
	require.NoError(t, err)
	body, _ = io.ReadAll(rc)
	require.NoError(t, rc.Close())

	require.Equal(t, []byte("bye"), body)
	require.Nil(t, meta)
}

func TestGetOfMissingKey(t *testing.T) {
	var s = New()

	var _, _, err = s.Get(context.Background(), "nope")
	require.True(t, errors.Is(err, store.ErrNotExist))

	_, err = s.GetRange(context.Background(), "nope", 0, 10)
	require.True(t, errors.Is(err, store.ErrNotExist))

	_, err = s.Presign(context.Background(), "nope", time.Minute)
	require.True(t, errors.Is(err, store.ErrNotExist))
}

func TestGetRangeIsInclusive(t *testing.T) {
	var ctx = context.Background()
	var s = New()
	require.NoError(t, s.Put(ctx, "k", []byte("0123456789"), nil))

	var b, err = s.GetRange(ctx, "k", 3, 6)
	require.NoError(t, err)
	require.Equal(t, []byte("3456"), b)

	// A range reaching past the end is truncated, as S3 does.
	b, err = s.GetRange(ctx, "k", 8, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("89"), b)

	_, err = s.GetRange(ctx, "k", 10, 12)
	require.Error(t, err)
}

func TestListIsOrderedAndPrefixed(t *testing.T) {
	var ctx = context.Background()
	var s = New()

	for _, key := range []string{"b/2", "a/3", "a/1", "a/2", "c"} {
		require.NoError(t, s.Put(ctx, key, nil, nil))
	}

	var keys, err = store.Keys(s.List(ctx, "a/"))
	require.NoError(t, err)
	require.Equal(t, []string{"a/1", "a/2", "a/3"}, keys)

	keys, err = store.Keys(s.ListFrom(ctx, "a/", "a/1"))
	require.NoError(t, err)
	require.Equal(t, []string{"a/2", "a/3"}, keys)

	keys, err = store.Keys(s.List(ctx, "z/"))
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestDeleteBatchEnforcesLimit(t *testing.T) {
	var ctx = context.Background()
	var s = New()

	require.NoError(t, s.Put(ctx, "k1", nil, nil))
	require.NoError(t, s.Put(ctx, "k2", nil, nil))
	require.NoError(t, s.DeleteBatch(ctx, []string{"k1", "k2", "absent"}))
	require.Equal(t, 0, s.Len())

	var tooMany = make([]string, store.MaxBatchDelete+1)
	require.Error(t, s.DeleteBatch(ctx, tooMany))
}

func TestPresignHook(t *testing.T) {
	var ctx = context.Background()
	var s = New()
	require.NoError(t, s.Put(ctx, "k", []byte("v"), nil))

	var url, err = s.Presign(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "memstore://k", url)

	s.PresignFn = func(key string, ttl time.Duration) (string, error) {
		return "http://signed/" + key, nil
	}
	url, err = s.Presign(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "http://signed/k", url)
}
