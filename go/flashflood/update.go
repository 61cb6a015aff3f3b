package flashflood

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xbrianh/flashflood/go/store"
)

// JournalUpdate is a marker recording an UPDATE or DELETE of one event,
// to be applied later by rewriting the event's journal. The marker body
// holds the replacement data of an UPDATE and is empty for a DELETE.
type JournalUpdate struct {
	store  store.Store
	layout Layout

	// ID is the marker's composite id.
	ID JournalUpdateID

	data   []byte
	loaded bool
}

// NewJournalUpdate returns a JournalUpdate over an existing marker.
func NewJournalUpdate(s store.Store, layout Layout, id JournalUpdateID) *JournalUpdate {
	return &JournalUpdate{store: s, layout: layout, ID: id}
}

// UploadUpdate records an UPDATE marker carrying |data|.
func UploadUpdate(ctx context.Context, s store.Store, layout Layout, journalID JournalID, eventID string, data []byte) (*JournalUpdate, error) {
	return uploadMarker(ctx, s, layout, journalID, eventID, ActionUpdate, data)
}

// UploadDelete records a DELETE marker.
func UploadDelete(ctx context.Context, s store.Store, layout Layout, journalID JournalID, eventID string) (*JournalUpdate, error) {
	return uploadMarker(ctx, s, layout, journalID, eventID, ActionDelete, nil)
}

func uploadMarker(ctx context.Context, s store.Store, layout Layout, journalID JournalID, eventID string, action Action, data []byte) (*JournalUpdate, error) {
	var id = MakeJournalUpdateID(journalID, eventID, action)
	if err := s.Put(ctx, layout.UpdateKey(id), data, nil); err != nil {
		return nil, fmt.Errorf("uploading %s marker for event %q: %w", action, eventID, err)
	}
	var update = NewJournalUpdate(s, layout, id)
	update.data, update.loaded = data, true
	return update, nil
}

// JournalID is the journal the marker applies to.
func (u *JournalUpdate) JournalID() JournalID { return u.ID.JournalID() }

// EventID is the event the marker applies to.
func (u *JournalUpdate) EventID() string { return u.ID.EventID() }

// Action is the recorded mutation kind.
func (u *JournalUpdate) Action() Action { return u.ID.Action() }

// Data fetches the marker body lazily and caches it.
func (u *JournalUpdate) Data(ctx context.Context) ([]byte, error) {
	if u.loaded {
		return u.data, nil
	}
	var key = u.layout.UpdateKey(u.ID)
	var body, _, err = u.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("journal update not found for key %q: %w", key, err)
	}
	defer body.Close()

	if u.data, err = io.ReadAll(body); err != nil {
		return nil, fmt.Errorf("reading journal update %q: %w", key, err)
	}
	u.loaded = true
	return u.data, nil
}

// Delete writes the marker's tombstone, hiding it from listings. It
// refuses if the live marker is absent.
func (u *JournalUpdate) Delete(ctx context.Context) error {
	var key = u.layout.UpdateKey(u.ID)

	var it = u.store.List(ctx, key)
	if !it.Next() {
		if err := it.Err(); err != nil {
			return fmt.Errorf("listing %q: %w", key, err)
		}
		return fmt.Errorf("cannot delete non-existent object %q", key)
	}
	if err := u.store.Put(ctx, key+TombstoneSuffix, nil, nil); err != nil {
		return fmt.Errorf("tombstoning journal update %s: %w", u.ID, err)
	}
	return nil
}

// ListUpdates iterates live marker ids having |idPrefix|, in lexical
// order. A marker's tombstone immediately follows it in the raw listing,
// so a one-step look-behind suffices to skip both.
func ListUpdates(ctx context.Context, s store.Store, layout Layout, idPrefix string) *JournalUpdateIterator {
	return &JournalUpdateIterator{
		keys: s.List(ctx, layout.UpdatePrefix()+idPrefix),
		dir:  layout.UpdatePrefix(),
	}
}

// JournalUpdateIterator yields live marker ids in lexical order.
type JournalUpdateIterator struct {
	keys store.KeyIterator
	// dir is stripped from listed keys to recover marker ids. Marker ids
	// embed event ids, which may themselves contain '/'.
	dir string

	prev string
	id   JournalUpdateID
	err  error
	done bool
}

func (it *JournalUpdateIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	for it.keys.Next() {
		var key = it.keys.Key()
		var emit string
		if it.prev != "" &&
			!strings.HasSuffix(key, TombstoneSuffix) &&
			!strings.HasSuffix(it.prev, TombstoneSuffix) {
			emit = it.prev
		}
		it.prev = key
		if emit != "" {
			it.id = JournalUpdateID(strings.TrimPrefix(emit, it.dir))
			return true
		}
	}
	it.done = true
	if err := it.keys.Err(); err != nil {
		it.err = err
		return false
	}
	if it.prev != "" && !strings.HasSuffix(it.prev, TombstoneSuffix) {
		it.id = JournalUpdateID(strings.TrimPrefix(it.prev, it.dir))
		it.prev = ""
		return true
	}
	return false
}

func (it *JournalUpdateIterator) ID() JournalUpdateID { return it.id }
func (it *JournalUpdateIterator) Err() error          { return it.err }

// GetUpdatesForJournal returns the live markers of |journalID| keyed by
// event id. When several markers exist for one event, the greatest in
// lexical order (the one recorded last) wins.
func GetUpdatesForJournal(ctx context.Context, s store.Store, layout Layout, journalID JournalID) (map[string]*JournalUpdate, error) {
	var updates = make(map[string]*JournalUpdate)
	var it = ListUpdates(ctx, s, layout, UpdatePrefixForJournal(journalID))
	for it.Next() {
		var id = it.ID()
		updates[id.EventID()] = NewJournalUpdate(s, layout, id)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return updates, nil
}

// UpdateBatch groups the live markers of one journal, keyed by event id.
type UpdateBatch struct {
	JournalID JournalID
	Updates   map[string]*JournalUpdate
}

// GetUpdatesForAllJournals iterates batches of live markers, one batch
// per journal, in the order markers appear.
func GetUpdatesForAllJournals(ctx context.Context, s store.Store, layout Layout) *UpdateBatchIterator {
	return &UpdateBatchIterator{
		store:  s,
		layout: layout,
		ids:    ListUpdates(ctx, s, layout, ""),
	}
}

// UpdateBatchIterator yields per-journal batches of live markers.
type UpdateBatchIterator struct {
	store  store.Store
	layout Layout
	ids    *JournalUpdateIterator

	batch   UpdateBatch
	pending UpdateBatch
	err     error
	done    bool
}

func (it *UpdateBatchIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	for it.ids.Next() {
		var id = it.ids.ID()
		var journalID = id.JournalID()
		var emit = false

		if it.pending.Updates != nil && it.pending.JournalID != journalID {
			it.batch = it.pending
			it.pending = UpdateBatch{}
			emit = true
		}
		if it.pending.Updates == nil {
			it.pending = UpdateBatch{
				JournalID: journalID,
				Updates:   make(map[string]*JournalUpdate),
			}
		}
		it.pending.Updates[id.EventID()] = NewJournalUpdate(it.store, it.layout, id)

		if emit {
			return true
		}
	}
	it.done = true
	if err := it.ids.Err(); err != nil {
		it.err = err
		return false
	}
	if it.pending.Updates != nil {
		it.batch = it.pending
		it.pending = UpdateBatch{}
		return true
	}
	return false
}

func (it *UpdateBatchIterator) Batch() UpdateBatch { return it.batch }
func (it *UpdateBatchIterator) Err() error         { return it.err }

// ListStaleJournals returns the distinct journal ids having live
// markers, in the order markers appear.
func ListStaleJournals(ctx context.Context, s store.Store, layout Layout) ([]JournalID, error) {
	var out []JournalID
	var prev JournalID
	var it = ListUpdates(ctx, s, layout, "")
	for it.Next() {
		var journalID = it.ID().JournalID()
		if journalID != prev {
			out = append(out, journalID)
		}
		prev = journalID
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
