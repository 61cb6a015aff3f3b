package flashflood

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xbrianh/flashflood/go/store"
)

// metadataTarget is the user metadata key holding an index entry's
// target.
const metadataTarget = "target"

// KeyIndex maps lookup keys to target strings using revision-numbered,
// empty store objects: the entry for lookup L at revision R is an object
// named L--R (R zero-padded to ten digits) whose metadata carries the
// target. Overwrites append a greater revision and then erase the prior
// ones, so a stale read against a store with eventual overwrite
// consistency still observes some committed value.
//
// A single concurrent writer per lookup key is assumed. Two concurrent
// writers may mint the same revision number, and behavior for that key
// is then undefined.
type KeyIndex struct {
	store  store.Store
	prefix string
}

// NewKeyIndex returns a KeyIndex storing entries under |prefix|, which
// must end in '/'.
func NewKeyIndex(s store.Store, prefix string) *KeyIndex {
	return &KeyIndex{store: s, prefix: prefix}
}

// Put writes |target| under |lookup| and erases prior revisions.
func (x *KeyIndex) Put(ctx context.Context, lookup, target string) error {
	var stale, err = x.put(ctx, lookup, target)
	if err != nil {
		return err
	}
	return store.DeleteAll(ctx, x.store, stale)
}

// PutBatch writes every entry of |entries|, deferring the erasure of
// prior revisions into batched deletes.
func (x *KeyIndex) PutBatch(ctx context.Context, entries map[string]string) error {
	var stale []string
	for lookup, target := range entries {
		var keys, err = x.put(ctx, lookup, target)
		if err != nil {
			return err
		}
		stale = append(stale, keys...)
	}
	return store.DeleteAll(ctx, x.store, stale)
}

// put writes the next revision of |lookup| and returns the prior
// revision keys, which the caller deletes.
func (x *KeyIndex) put(ctx context.Context, lookup, target string) ([]string, error) {
	var keys, err = store.Keys(x.store.List(ctx, x.prefix+lookup+Delimiter))
	if err != nil {
		return nil, fmt.Errorf("listing index entries of %q: %w", lookup, err)
	}

	var revision = 1
	if len(keys) != 0 {
		if revision, err = revisionOfKey(keys[len(keys)-1]); err != nil {
			return nil, err
		}
		revision++
	}

	var key = fmt.Sprintf("%s%s%s%010d", x.prefix, lookup, Delimiter, revision)
	err = x.store.Put(ctx, key, nil, map[string]string{metadataTarget: target})
	if err != nil {
		return nil, fmt.Errorf("writing index entry %q: %w", key, err)
	}
	return keys, nil
}

// Get returns the current target of |lookup|, or ok=false if the lookup
// has no entry.
func (x *KeyIndex) Get(ctx context.Context, lookup string) (string, bool, error) {
	var keys, err = store.Keys(x.store.List(ctx, x.prefix+lookup+Delimiter))
	if err != nil {
		return "", false, fmt.Errorf("listing index entries of %q: %w", lookup, err)
	} else if len(keys) == 0 {
		return "", false, nil
	}

	var key = keys[len(keys)-1]
	body, metadata, err := x.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("getting index entry %q: %w", key, err)
	}
	_ = body.Close()

	var target, ok = metadata[metadataTarget]
	if !ok {
		return "", false, fmt.Errorf("index entry %q has no target", key)
	}
	return target, true, nil
}

// Delete erases every revision of |lookup|.
func (x *KeyIndex) Delete(ctx context.Context, lookup string) error {
	var keys, err = store.Keys(x.store.List(ctx, x.prefix+lookup+Delimiter))
	if err != nil {
		return fmt.Errorf("listing index entries of %q: %w", lookup, err)
	}
	return store.DeleteAll(ctx, x.store, keys)
}

func revisionOfKey(key string) (int, error) {
	var parts = rsplit(key, Delimiter, 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed index entry key %q", key)
	}
	var revision, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed revision of index entry key %q: %w", key, err)
	}
	return revision, nil
}
