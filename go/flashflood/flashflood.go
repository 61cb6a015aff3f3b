package flashflood

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"github.com/xbrianh/flashflood/go/store"
	"golang.org/x/sync/errgroup"
)

// Config configures a FlashFlood engine.
type Config struct {
	// RootPrefix under which every object is placed. Must be non-empty
	// and must not end in '/'.
	RootPrefix string
	// Workers bounds parallel store calls during compaction and
	// teardown. Default 10.
	Workers int
	// ManifestCacheSize bounds the in-process cache of loaded journal
	// manifests, which are immutable per journal id. Default 1024.
	ManifestCacheSize int
	// PresignTTL is the lifetime of presigned stream URLs. Default 1h.
	PresignTTL time.Duration
}

const (
	defaultWorkers           = 10
	defaultManifestCacheSize = 1024
	defaultPresignTTL        = time.Hour
)

// FlashFlood is the journaling engine. It orchestrates event puts,
// lookups, update and delete markers, compaction, marker application,
// and replay over a single store.Store.
//
// Readers may run concurrently. Mutating operations (Put, UpdateEvent,
// DeleteEvent, Journal, Update) assume a single concurrent writer.
type FlashFlood struct {
	store     store.Store
	layout    Layout
	index     *KeyIndex
	workers   int
	ttl       time.Duration
	manifests *lru.Cache[JournalID, Manifest]
}

// New returns a FlashFlood engine over |s|.
func New(s store.Store, cfg Config) (*FlashFlood, error) {
	var layout, err = NewLayout(cfg.RootPrefix)
	if err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ManifestCacheSize == 0 {
		cfg.ManifestCacheSize = defaultManifestCacheSize
	}
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	manifests, err := lru.New[JournalID, Manifest](cfg.ManifestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("building manifest cache: %w", err)
	}

	return &FlashFlood{
		store:     s,
		layout:    layout,
		index:     NewKeyIndex(s, layout.IndexPrefix()),
		workers:   cfg.Workers,
		ttl:       cfg.PresignTTL,
		manifests: manifests,
	}, nil
}

// Layout returns the engine's object-key layout.
func (f *FlashFlood) Layout() Layout { return f.layout }

// Put journals a single event. An empty |eventID| is assigned a fresh
// UUID and a zero |date| takes the current time. The event id must not
// contain the id delimiter and must not already exist.
func (f *FlashFlood) Put(ctx context.Context, data []byte, eventID string, date Timestamp) (Event, error) {
	if date == "" {
		date = Now()
	} else if _, err := date.Time(); err != nil {
		return Event{}, err
	}
	if eventID == "" {
		eventID = uuid.New().String()
	} else if strings.Contains(eventID, Delimiter) {
		return Event{}, fmt.Errorf("event id %q must not contain %q", eventID, Delimiter)
	}

	if exists, err := f.EventExists(ctx, eventID); err != nil {
		return Event{}, err
	} else if exists {
		return Event{}, fmt.Errorf("event %q: %w", eventID, ErrEventExists)
	}

	var record = EventRecord{
		EventID:   eventID,
		Timestamp: date,
		Offset:    0,
		Size:      int64(len(data)),
	}
	var journal = NewJournal(f.store, f.layout, []EventRecord{record}, data, VersionNew)
	if _, err := journal.Upload(ctx); err != nil {
		return Event{}, err
	}
	var id, err = journal.ID()
	if err != nil {
		return Event{}, err
	}
	if err = f.index.Put(ctx, eventID, string(id)); err != nil {
		return Event{}, err
	}

	eventsPut.Inc()
	return Event{EventID: eventID, Date: date, Data: data}, nil
}

// EventExists returns whether |eventID| is currently indexed.
func (f *FlashFlood) EventExists(ctx context.Context, eventID string) (bool, error) {
	var _, ok, err = f.index.Get(ctx, eventID)
	return ok, err
}

// journalForEvent resolves the journal currently holding |eventID|.
func (f *FlashFlood) journalForEvent(ctx context.Context, eventID string) (JournalID, error) {
	var target, ok, err = f.index.Get(ctx, eventID)
	if err != nil {
		return "", err
	} else if !ok {
		return "", fmt.Errorf("event %q: %w", eventID, ErrEventNotFound)
	}
	return JournalID(target), nil
}

// GetEvent returns the event's current data, as journaled. Pending
// update markers are not reflected until Update applies them.
func (f *FlashFlood) GetEvent(ctx context.Context, eventID string) (Event, error) {
	var journalID, err = f.journalForEvent(ctx, eventID)
	if err != nil {
		return Event{}, err
	}
	journal, err := f.loadJournal(ctx, journalID)
	if err != nil {
		return Event{}, err
	}
	return journal.GetEvent(ctx, eventID)
}

// UpdateEvent records an UPDATE marker replacing the event's data with
// |data|. Replay and GetEvent continue to see the old data until Update
// applies the marker.
func (f *FlashFlood) UpdateEvent(ctx context.Context, eventID string, data []byte) error {
	var journalID, err = f.journalForEvent(ctx, eventID)
	if err != nil {
		return err
	}
	_, err = UploadUpdate(ctx, f.store, f.layout, journalID, eventID, data)
	return err
}

// DeleteEvent records a DELETE marker and removes the event from the
// index. The event is immediately unreachable through GetEvent and
// EventExists, but remains visible to Replay until Update applies the
// marker.
func (f *FlashFlood) DeleteEvent(ctx context.Context, eventID string) error {
	var journalID, err = f.journalForEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if _, err = UploadDelete(ctx, f.store, f.layout, journalID, eventID); err != nil {
		return err
	}
	return f.index.Delete(ctx, eventID)
}

// Journal compacts new journals into one larger journal. It scans new
// journals in listing order, accumulating their event counts and sizes
// until both |minEvents| and |minSize| are met, and combines exactly
// that set. ErrJournaling is returned, and nothing is mutated, when the
// visible new journals cannot satisfy the thresholds.
func (f *FlashFlood) Journal(ctx context.Context, minEvents int, minSize int64) error {
	var (
		journals []*Journal
		count    int
		size     int64
	)
	var it = ListJournals(ctx, f.store, f.layout)
	for count < minEvents || size < minSize {
		if !it.Next() {
			break
		}
		var id = it.ID()
		if id.Version() != VersionNew {
			continue
		}
		var journal, err = f.loadJournal(ctx, id)
		if err != nil {
			return err
		}
		journals = append(journals, journal)
		count += len(journal.Events)
		size += journal.Size()
	}
	if err := it.Err(); err != nil {
		return err
	}
	if count < minEvents || size < minSize {
		return fmt.Errorf("new journals provide %d events of %d bytes, wanting %d events of %d bytes: %w",
			count, size, minEvents, minSize, ErrJournaling)
	}
	return f.CombineJournals(ctx, journals)
}

// CombineJournals merges |journals|, in input order, into one compacted
// journal. Each source journal's pending markers are fetched and applied
// first, so the compacted journal reflects them. The compacted journal
// is uploaded and indexed, and then every source journal and consumed
// marker is tombstoned. When applied deletes leave no events, no journal
// is uploaded and sources are tombstoned all the same.
func (f *FlashFlood) CombineJournals(ctx context.Context, journals []*Journal) error {
	if len(journals) == 0 {
		return nil
	}

	// Derive each source journal with its markers applied, reading
	// bodies with bounded parallelism.
	type derivation struct {
		journal *Journal
		updates map[string]*JournalUpdate
		data    []byte
	}
	var derived = make([]derivation, len(journals))

	var group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(f.workers)
	for i, journal := range journals {
		group.Go(func() error {
			var id, err = journal.ID()
			if err != nil {
				return err
			}
			updates, err := GetUpdatesForJournal(groupCtx, f.store, f.layout, id)
			if err != nil {
				return err
			}
			applied, err := journal.Updated(groupCtx, updates)
			if err != nil {
				return err
			}
			applied.Reload()
			body, err := applied.Body(groupCtx)
			if err != nil {
				return err
			}
			data, err := io.ReadAll(body)
			if err != nil {
				return fmt.Errorf("reading journal %s: %w", id, err)
			}
			applied.Reload()
			derived[i] = derivation{journal: applied, updates: updates, data: data}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	// Concatenate events and data in input order, re-basing offsets.
	var events []EventRecord
	var combined bytes.Buffer
	for _, d := range derived {
		var base = int64(combined.Len())
		for _, e := range d.journal.Events {
			e.Offset += base
			events = append(events, e)
		}
		combined.Write(d.data)
	}

	if len(events) != 0 {
		var journal = NewJournal(f.store, f.layout, events, combined.Bytes(), "")
		if _, err := journal.Upload(ctx); err != nil {
			return err
		}
		var id, err = journal.ID()
		if err != nil {
			return err
		}
		var entries = make(map[string]string, len(events))
		for _, e := range events {
			entries[e.EventID] = string(id)
		}
		if err = f.index.PutBatch(ctx, entries); err != nil {
			return err
		}
	}

	// Tombstone source journals and consumed markers.
	group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(f.workers)
	for i, journal := range journals {
		group.Go(func() error { return journal.Delete(groupCtx) })
		for _, update := range derived[i].updates {
			group.Go(func() error { return update.Delete(groupCtx) })
		}
	}
	if err := group.Wait(); err != nil {
		return err
	}

	journalsCombined.Add(float64(len(journals)))
	log.WithFields(log.Fields{
		"sources": len(journals),
		"events":  len(events),
		"size":    combined.Len(),
	}).Info("combined journals")
	return nil
}

// Update applies pending markers, rewriting each affected journal, until
// the count of consumed markers reaches |budget|. Batches are applied
// whole, so the final batch may carry the count past the budget. The
// count is returned.
func (f *FlashFlood) Update(ctx context.Context, budget int) (int, error) {
	var applied int
	var it = GetUpdatesForAllJournals(ctx, f.store, f.layout)
	for applied < budget && it.Next() {
		var batch = it.Batch()
		if err := f.applyBatch(ctx, batch); err != nil {
			return applied, err
		}
		applied += len(batch.Updates)
	}
	if err := it.Err(); err != nil {
		return applied, err
	}
	return applied, nil
}

// applyBatch rewrites one journal per its markers: the rewrite is
// uploaded and indexed (unless empty), the old journal is tombstoned,
// and the consumed markers are tombstoned.
func (f *FlashFlood) applyBatch(ctx context.Context, batch UpdateBatch) error {
	var journal, err = f.loadJournal(ctx, batch.JournalID)
	if err != nil {
		return err
	}
	applied, err := journal.Updated(ctx, batch.Updates)
	if err != nil {
		return err
	}

	if !applied.IsEmpty() {
		if _, err = applied.Upload(ctx); err != nil {
			return err
		}
		var id, idErr = applied.ID()
		if idErr != nil {
			return idErr
		}
		var entries = make(map[string]string, len(applied.Events))
		for _, e := range applied.Events {
			entries[e.EventID] = string(id)
		}
		if err = f.index.PutBatch(ctx, entries); err != nil {
			return err
		}
	}
	if err = journal.Delete(ctx); err != nil {
		return err
	}
	for _, update := range batch.Updates {
		if err = update.Delete(ctx); err != nil {
			return err
		}
	}

	markersApplied.Add(float64(len(batch.Updates)))
	log.WithFields(log.Fields{
		"journal": batch.JournalID,
		"markers": len(batch.Updates),
	}).Info("applied journal updates")
	return nil
}

// ListJournals iterates live journals whose date spans overlap
// (|from|, |to|], in order, stopping once the listing passes |to|.
func (f *FlashFlood) ListJournals(ctx context.Context, from, to Timestamp) *JournalRangeIterator {
	return &JournalRangeIterator{
		ids: ListJournals(ctx, f.store, f.layout),
		rng: NewDateRange(from, to),
	}
}

// JournalRangeIterator yields live journal ids overlapping a date range.
type JournalRangeIterator struct {
	ids  *JournalIterator
	rng  DateRange
	id   JournalID
	done bool
}

func (it *JournalRangeIterator) Next() bool {
	if it.done {
		return false
	}
	for it.ids.Next() {
		var id = it.ids.ID()
		if id.StartTime() > it.rng.To {
			it.done = true
			return false
		}
		if it.rng.Overlaps(id.StartTime(), id.EndTime()) {
			it.id = id
			return true
		}
	}
	it.done = true
	return false
}

func (it *JournalRangeIterator) ID() JournalID { return it.id }
func (it *JournalRangeIterator) Err() error    { return it.ids.Err() }

// Replay streams events with dates in (|from|, |to|], in timestamp
// order. Empty bounds extend to the representable extremes.
func (f *FlashFlood) Replay(ctx context.Context, from, to Timestamp) *EventIterator {
	return &EventIterator{
		f:        f,
		ctx:      ctx,
		rng:      NewDateRange(from, to),
		journals: f.ListJournals(ctx, from, to),
	}
}

// EventIterator streams replayed events.
type EventIterator struct {
	f        *FlashFlood
	ctx      context.Context
	rng      DateRange
	journals *JournalRangeIterator

	journal *Journal
	body    io.Reader
	next    int
	event   Event
	err     error
	done    bool
}

func (it *EventIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	for {
		if it.journal == nil {
			if !it.journals.Next() {
				it.done = true
				it.err = it.journals.Err()
				return false
			}
			var journal, err = it.f.loadJournal(it.ctx, it.journals.ID())
			if err != nil {
				it.err = err
				return false
			}
			journal.Reload()
			body, err := journal.Body(it.ctx)
			if err != nil {
				it.err = err
				return false
			}
			it.journal, it.body, it.next = journal, body, 0
		}

		for it.next < len(it.journal.Events) {
			var e = it.journal.Events[it.next]
			it.next++

			// The body is read sequentially; bytes of skipped events are
			// consumed to keep the cursor aligned with event offsets.
			var data = make([]byte, e.Size)
			if _, err := io.ReadFull(it.body, data); err != nil {
				it.err = fmt.Errorf("reading event %q: %w", e.EventID, err)
				return false
			}
			if e.Timestamp > it.rng.To {
				it.next = len(it.journal.Events)
				break
			}
			if it.rng.Contains(e.Timestamp) {
				it.event = Event{EventID: e.EventID, Date: e.Timestamp, Data: data}
				eventsReplayed.Inc()
				return true
			}
		}
		it.journal.Reload()
		it.journal = nil
	}
}

func (it *EventIterator) Event() Event { return it.event }
func (it *EventIterator) Err() error   { return it.err }

// Close releases the open journal read cursor, if any. Call it when
// abandoning the iterator before exhaustion.
func (it *EventIterator) Close() {
	if it.journal != nil {
		it.journal.Reload()
		it.journal = nil
	}
	it.done = true
}

// EventStream pairs a journal manifest with a presigned URL of its data
// blob. Holders can replay the journal over plain HTTP range requests,
// without store credentials.
type EventStream struct {
	Manifest Manifest `json:"manifest"`
	URL      string   `json:"stream_url"`
}

// ListEventStreams returns manifests and presigned blob URLs of journals
// overlapping (|from|, |to|], up to |limit| (0 for no limit).
func (f *FlashFlood) ListEventStreams(ctx context.Context, from, to Timestamp, limit int) ([]EventStream, error) {
	var streams []EventStream
	var it = f.ListJournals(ctx, from, to)
	for it.Next() {
		var journal, err = f.loadJournal(ctx, it.ID())
		if err != nil {
			return nil, err
		}
		manifest, err := journal.Manifest()
		if err != nil {
			return nil, err
		}
		url, err := f.store.Presign(ctx, f.layout.BlobKey(it.ID().BlobID()), f.ttl)
		if err != nil {
			return nil, err
		}
		streams = append(streams, EventStream{Manifest: manifest, URL: url})
		if limit != 0 && len(streams) == limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return streams, nil
}

// Destroy removes every object beneath the engine's root prefix. The
// sub-prefixes are listed concurrently and deletions are batched.
func (f *FlashFlood) Destroy(ctx context.Context) error {
	var prefixes = []string{
		f.layout.JournalPrefix(),
		f.layout.BlobPrefix(),
		f.layout.UpdatePrefix(),
		f.layout.IndexPrefix(),
	}
	var deleter = store.NewBatchDeleter(ctx, f.store)
	var it = store.ConcurrentList(ctx, f.store, prefixes, f.workers)
	for it.Next() {
		if err := deleter.Delete(it.Key()); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if err := deleter.Close(); err != nil {
		return err
	}
	log.WithField("root", f.layout.Root()).Info("destroyed instance")
	return nil
}

// loadJournal loads the identified journal, consulting and feeding the
// manifest cache. Each call returns a fresh Journal with its own read
// cursor.
func (f *FlashFlood) loadJournal(ctx context.Context, id JournalID) (*Journal, error) {
	if manifest, ok := f.manifests.Get(id); ok {
		return journalFromManifest(f.store, f.layout, id, manifest), nil
	}
	var journal, err = JournalFromID(ctx, f.store, f.layout, id)
	if err != nil {
		return nil, err
	}
	if manifest, mErr := journal.Manifest(); mErr == nil {
		f.manifests.Add(id, manifest)
	}
	return journal, nil
}
