package flashflood

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/minio/highwayhash"
	log "github.com/sirupsen/logrus"
	"github.com/xbrianh/flashflood/go/store"
)

// Event is a single dated record.
type Event struct {
	EventID string
	Date    Timestamp
	Data    []byte
}

// EventRecord locates one event within a journal: |Offset| and |Size|
// delimit its bytes in the journal blob. Records are ordered by
// timestamp and their byte ranges are contiguous, so the blob is exactly
// their concatenation.
type EventRecord struct {
	EventID   string    `json:"event_id"`
	Timestamp Timestamp `json:"timestamp"`
	Offset    int64     `json:"offset"`
	Size      int64     `json:"size"`
}

// Manifest is the stored JSON description of one journal.
type Manifest struct {
	JournalID JournalID     `json:"journal_id"`
	FromDate  Timestamp     `json:"from_date"`
	ToDate    Timestamp     `json:"to_date"`
	Size      int64         `json:"size"`
	Events    []EventRecord `json:"events"`
}

// Metadata keys of uploaded objects.
const (
	// metadataJournalID names the owning journal on blob objects.
	metadataJournalID = "journal_id"
	// metadataContentSum carries a HighwayHash-64 digest of the blob on
	// blob objects.
	metadataContentSum = "content_sum"
	// metadataNumberOfEvents and metadataDataSize describe a manifest
	// object without requiring a read of its body.
	metadataNumberOfEvents = "number_of_events"
	metadataDataSize       = "journal_data_size"
)

// contentSumKey is a fixed 32 bytes (as required by HighwayHash) read
// from /dev/random. DO NOT MODIFY this value, as recorded digests depend
// on it.
var contentSumKey, _ = hex.DecodeString("7b18fe582e0f0d44f9bffdc9e49a26b9c4ea8a3a2e7daf385bfa635638ae793d")

func contentSum(data []byte) string {
	return fmt.Sprintf("%016x", highwayhash.Sum64(data, contentSumKey))
}

const (
	locationMemory = "memory"
	locationCloud  = "cloud"
)

// Journal is an ordered, immutable batch of events backed by one
// contiguous data blob. In-memory journals hold their data locally until
// Upload; journals loaded from the store stream their blob on demand.
type Journal struct {
	store  store.Store
	layout Layout

	// Events of the journal, in timestamp order.
	Events []EventRecord
	// BlobID names the journal's data blob.
	BlobID string
	// Version is VersionNew or the formation timestamp.
	Version string

	data     []byte
	body     io.ReadCloser
	location string
}

// NewJournal builds an in-memory journal over |events| and |data|, with
// a fresh blob id. An empty |version| is assigned the current formation
// timestamp.
func NewJournal(s store.Store, layout Layout, events []EventRecord, data []byte, version string) *Journal {
	if version == "" {
		version = string(Now())
	}
	return &Journal{
		store:    s,
		layout:   layout,
		Events:   events,
		BlobID:   uuid.New().String(),
		Version:  version,
		data:     data,
		location: locationMemory,
	}
}

// JournalFromKey loads the manifest at |key|, returning a Journal whose
// blob remains in the store.
func JournalFromKey(ctx context.Context, s store.Store, layout Layout, key string) (*Journal, error) {
	var id = JournalIDFromKey(key)
	if err := id.Validate(); err != nil {
		return nil, err
	}

	var body, _, err = s.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("journal not found for key %q: %w", key, err)
	}
	defer body.Close()

	var manifest Manifest
	if err = json.NewDecoder(body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest at %q: %w", key, err)
	}
	return journalFromManifest(s, layout, id, manifest), nil
}

// JournalFromID loads the identified journal's manifest.
func JournalFromID(ctx context.Context, s store.Store, layout Layout, id JournalID) (*Journal, error) {
	return JournalFromKey(ctx, s, layout, layout.JournalKey(id))
}

func journalFromManifest(s store.Store, layout Layout, id JournalID, manifest Manifest) *Journal {
	return &Journal{
		store:    s,
		layout:   layout,
		Events:   manifest.Events,
		BlobID:   id.BlobID(),
		Version:  id.Version(),
		location: locationCloud,
	}
}

// IsEmpty returns whether the journal holds no events. An empty journal
// has no id and cannot be uploaded.
func (j *Journal) IsEmpty() bool { return len(j.Events) == 0 }

// ID derives the journal's composite id.
func (j *Journal) ID() (JournalID, error) {
	if j.IsEmpty() {
		return "", fmt.Errorf("cannot generate id for empty journal")
	}
	return MakeJournalID(
		j.Events[0].Timestamp,
		j.Events[len(j.Events)-1].Timestamp,
		j.Version,
		j.BlobID,
	), nil
}

// Size is the byte length of the journal's data.
func (j *Journal) Size() int64 {
	if j.location == locationMemory {
		return int64(len(j.data))
	}
	var size int64
	for _, e := range j.Events {
		size += e.Size
	}
	return size
}

// Body returns a reader over the journal data. The read cursor advances
// across calls; Reload resets it. Remote journals stream their blob from
// the store.
func (j *Journal) Body(ctx context.Context) (io.Reader, error) {
	if j.body != nil {
		return j.body, nil
	}
	switch j.location {
	case locationMemory:
		j.body = io.NopCloser(bytes.NewReader(j.data))
	case locationCloud:
		var body, _, err = j.store.Get(ctx, j.layout.BlobKey(j.BlobID))
		if err != nil {
			return nil, fmt.Errorf("getting blob %q: %w", j.BlobID, err)
		}
		j.body = body
	default:
		return nil, fmt.Errorf("unknown data location %q", j.location)
	}
	return j.body, nil
}

// Reload discards the current read cursor. The next Body call starts
// over from the beginning of the data.
func (j *Journal) Reload() {
	if j.body != nil {
		_ = j.body.Close()
		j.body = nil
	}
}

// Manifest builds the journal's manifest.
func (j *Journal) Manifest() (Manifest, error) {
	var id, err = j.ID()
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{
		JournalID: id,
		FromDate:  j.Events[0].Timestamp,
		ToDate:    j.Events[len(j.Events)-1].Timestamp,
		Size:      j.Size(),
		Events:    j.Events,
	}, nil
}

// GetEvent range-reads the identified event from the journal blob.
func (j *Journal) GetEvent(ctx context.Context, eventID string) (Event, error) {
	for _, e := range j.Events {
		if e.EventID != eventID {
			continue
		}
		var data []byte
		if e.Size > 0 {
			var err error
			data, err = j.store.GetRange(ctx, j.layout.BlobKey(j.BlobID), e.Offset, e.Offset+e.Size-1)
			if err != nil {
				return Event{}, fmt.Errorf("reading event %q: %w", eventID, err)
			}
		}
		return Event{EventID: eventID, Date: e.Timestamp, Data: data}, nil
	}
	return Event{}, fmt.Errorf("event %q not in journal: %w", eventID, ErrEventNotFound)
}

// Updated derives a new in-memory Journal reflecting |updates|, keyed by
// event id: UPDATE markers substitute their data for the event's bytes,
// DELETE markers drop the event, and offsets are recomputed. An empty
// |updates| returns the journal itself unchanged.
func (j *Journal) Updated(ctx context.Context, updates map[string]*JournalUpdate) (*Journal, error) {
	if len(updates) == 0 {
		return j, nil
	}

	j.Reload()
	var body, err = j.Body(ctx)
	if err != nil {
		return nil, err
	}

	var newData bytes.Buffer
	var newEvents []EventRecord
	for _, e := range j.Events {
		var eventData = make([]byte, e.Size)
		if _, err = io.ReadFull(body, eventData); err != nil {
			return nil, fmt.Errorf("reading %d bytes of event %q: %w", e.Size, e.EventID, err)
		}
		e.Offset = int64(newData.Len())

		var update, ok = updates[e.EventID]
		if !ok {
			newData.Write(eventData)
			newEvents = append(newEvents, e)
			continue
		}
		switch update.Action() {
		case ActionUpdate:
			var updateData []byte
			if updateData, err = update.Data(ctx); err != nil {
				return nil, err
			}
			newData.Write(updateData)
			e.Size = int64(len(updateData))
			newEvents = append(newEvents, e)
		case ActionDelete:
			// Dropped.
		default:
			return nil, fmt.Errorf("no handler for journal update action %q", update.Action())
		}
	}
	return NewJournal(j.store, j.layout, newEvents, newData.Bytes(), ""), nil
}

// Upload writes the journal's blob and manifest. The manifest object
// carries event-count and data-size metadata so that threshold scans
// need not read manifest bodies; the blob carries its journal id and a
// content digest.
func (j *Journal) Upload(ctx context.Context) (string, error) {
	if j.IsEmpty() {
		return "", ErrJournalUpload
	}
	var manifest, err = j.Manifest()
	if err != nil {
		return "", err
	}
	var id = manifest.JournalID

	j.Reload()
	body, err := j.Body(ctx)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading journal data: %w", err)
	}

	err = j.store.Put(ctx, j.layout.BlobKey(j.BlobID), data, map[string]string{
		metadataJournalID:  string(id),
		metadataContentSum: contentSum(data),
	})
	if err != nil {
		return "", fmt.Errorf("uploading blob of journal %s: %w", id, err)
	}

	encoded, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("encoding manifest of journal %s: %w", id, err)
	}
	var key = j.layout.JournalKey(id)
	err = j.store.Put(ctx, key, encoded, map[string]string{
		metadataNumberOfEvents: strconv.Itoa(len(j.Events)),
		metadataDataSize:       strconv.FormatInt(int64(len(data)), 10),
	})
	if err != nil {
		return "", fmt.Errorf("uploading manifest of journal %s: %w", id, err)
	}
	j.Reload()

	journalsUploaded.Inc()
	log.WithFields(log.Fields{
		"journal": id,
		"events":  len(j.Events),
		"size":    len(data),
	}).Info("uploaded journal")

	return key, nil
}

// Delete writes the journal's tombstone, hiding it from listings. It
// refuses if the live manifest object is absent.
func (j *Journal) Delete(ctx context.Context) error {
	var id, err = j.ID()
	if err != nil {
		return err
	}
	var key = j.layout.JournalKey(id)

	var it = j.store.List(ctx, key)
	if !it.Next() {
		if err = it.Err(); err != nil {
			return fmt.Errorf("listing %q: %w", key, err)
		}
		return fmt.Errorf("cannot delete non-existent object %q", key)
	}
	if err = j.store.Put(ctx, key+TombstoneSuffix, nil, nil); err != nil {
		return fmt.Errorf("tombstoning journal %s: %w", id, err)
	}
	return nil
}

// ListJournals iterates live journal ids in lexical (= chronological)
// order. Every version of a range group is adjacent in the raw listing;
// tombstones erase their siblings, and the greatest surviving version of
// each group is yielded.
func ListJournals(ctx context.Context, s store.Store, layout Layout) *JournalIterator {
	return &JournalIterator{keys: s.List(ctx, layout.JournalPrefix())}
}

// ListJournalsFrom iterates live journal ids lexically greater than
// |after|.
func ListJournalsFrom(ctx context.Context, s store.Store, layout Layout, after JournalID) *JournalIterator {
	var prefix = layout.JournalPrefix()
	return &JournalIterator{keys: s.ListFrom(ctx, prefix, prefix+string(after))}
}

// JournalIterator yields the single live journal id of each range group.
type JournalIterator struct {
	keys store.KeyIterator

	rangePrefix string
	candidates  []JournalID
	id          JournalID
	err         error
	done        bool
}

func (it *JournalIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	for it.keys.Next() {
		var id = JournalIDFromKey(it.keys.Key())
		if err := id.Live().Validate(); err != nil {
			it.err = err
			return false
		}
		var emit JournalID

		if rp := id.RangePrefix(); rp != it.rangePrefix {
			if len(it.candidates) != 0 {
				emit = it.candidates[len(it.candidates)-1]
			}
			it.rangePrefix = rp
			it.candidates = nil
		}
		if id.IsTombstone() {
			it.candidates = removeID(it.candidates, id.Live())
		} else {
			it.candidates = append(it.candidates, id)
		}

		if emit != "" {
			it.id = emit
			return true
		}
	}
	it.done = true
	if err := it.keys.Err(); err != nil {
		it.err = err
		return false
	}
	if len(it.candidates) != 0 {
		it.id = it.candidates[len(it.candidates)-1]
		it.candidates = nil
		return true
	}
	return false
}

func (it *JournalIterator) ID() JournalID { return it.id }
func (it *JournalIterator) Err() error    { return it.err }

// removeID removes the first occurrence of |id|, if present.
func removeID(ids []JournalID, id JournalID) []JournalID {
	for i := range ids {
		if ids[i] == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
