package flashflood

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xbrianh/flashflood/go/store/memstore"
)

func newTestFlood(t *testing.T) (*FlashFlood, *memstore.Store) {
	var s = memstore.New()
	var f, err = New(s, Config{RootPrefix: "root"})
	require.NoError(t, err)
	return f, s
}

// tsAt returns a Timestamp |i| seconds into an arbitrary fixed minute.
func tsAt(i int) Timestamp {
	return At(time.Date(2021, 3, 1, 12, 0, i, 0, time.UTC))
}

func replayEvents(t *testing.T, f *FlashFlood, from, to Timestamp) []Event {
	var out []Event
	var it = f.Replay(context.Background(), from, to)
	for it.Next() {
		out = append(out, it.Event())
	}
	require.NoError(t, it.Err())
	return out
}

func liveJournals(t *testing.T, f *FlashFlood, s *memstore.Store) []JournalID {
	var out []JournalID
	var it = ListJournals(context.Background(), s, f.Layout())
	for it.Next() {
		out = append(out, it.ID())
	}
	require.NoError(t, it.Err())
	return out
}

func TestPutAndReplay(t *testing.T) {
	var ctx = context.Background()
	var f, _ = newTestFlood(t)

	for i := 1; i <= 10; i++ {
		var _, err = f.Put(ctx, fmt.Appendf(nil, "payload-%02d", i), fmt.Sprintf("event-%02d", i), tsAt(i))
		require.NoError(t, err)
	}

	var events = replayEvents(t, f, "", "")
	require.Len(t, events, 10)
	for i, event := range events {
		require.Equal(t, fmt.Sprintf("event-%02d", i+1), event.EventID)
		require.Equal(t, tsAt(i+1), event.Date)
		require.Equal(t, fmt.Sprintf("payload-%02d", i+1), string(event.Data))
	}

	// Each event is individually addressable.
	event, err := f.GetEvent(ctx, "event-07")
	require.NoError(t, err)
	require.Equal(t, "payload-07", string(event.Data))

	exists, err := f.EventExists(ctx, "event-07")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestPutDefaults(t *testing.T) {
	var ctx = context.Background()
	var f, _ = newTestFlood(t)

	var before = Now()
	var event, err = f.Put(ctx, []byte("data"), "", "")
	require.NoError(t, err)

	_, err = uuid.Parse(event.EventID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, string(event.Date), string(before))
	require.LessOrEqual(t, string(event.Date), string(Now()))

	exists, err := f.EventExists(ctx, event.EventID)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestPutRejections(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)

	var _, err = f.Put(ctx, []byte("data"), "event-1", tsAt(1))
	require.NoError(t, err)
	var objects = s.Len()

	// A duplicate event id is rejected without touching the store.
	_, err = f.Put(ctx, []byte("data"), "event-1", tsAt(2))
	require.ErrorIs(t, err, ErrEventExists)
	require.Equal(t, objects, s.Len())

	// The id delimiter is reserved.
	_, err = f.Put(ctx, []byte("data"), "anything--at-all", tsAt(3))
	require.Error(t, err)
	require.Equal(t, objects, s.Len())

	// Dates must be well-formed timestamps.
	_, err = f.Put(ctx, []byte("data"), "event-2", "2021-03-01 12:00:00")
	require.Error(t, err)
	require.Equal(t, objects, s.Len())
}

func TestJournalThresholds(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)

	var _, err = f.Put(ctx, []byte("x"), "event-1", tsAt(1))
	require.NoError(t, err)
	var objects = s.Len()

	// One event cannot satisfy a two-event minimum.
	err = f.Journal(ctx, 2, 0)
	require.ErrorIs(t, err, ErrJournaling)
	require.Equal(t, objects, s.Len())

	// One byte cannot satisfy a ten-byte minimum.
	err = f.Journal(ctx, 1, 10)
	require.ErrorIs(t, err, ErrJournaling)
	require.Equal(t, objects, s.Len())

	_, err = f.Put(ctx, []byte("y"), "event-2", tsAt(2))
	require.NoError(t, err)
	require.NoError(t, f.Journal(ctx, 2, 2))

	var listed = liveJournals(t, f, s)
	require.Len(t, listed, 1)
	require.Equal(t, tsAt(1), listed[0].StartTime())
	require.Equal(t, tsAt(2), listed[0].EndTime())
	require.NotEqual(t, VersionNew, listed[0].Version())
}

func TestJournalCompaction(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)

	for i := 1; i <= 15; i++ {
		var _, err = f.Put(ctx, fmt.Appendf(nil, "payload-%02d", i), fmt.Sprintf("event-%02d", i), tsAt(i))
		require.NoError(t, err)
	}

	// Compaction consumes the five oldest new journals.
	require.NoError(t, f.Journal(ctx, 5, 0))
	var listed = liveJournals(t, f, s)
	require.Len(t, listed, 11)
	require.Equal(t, tsAt(1), listed[0].StartTime())
	require.Equal(t, tsAt(5), listed[0].EndTime())
	require.NotEqual(t, VersionNew, listed[0].Version())
	for _, id := range listed[1:] {
		require.Equal(t, VersionNew, id.Version())
	}

	// Replay is unaffected, and compacted events remain addressable
	// through the re-pointed index.
	var events = replayEvents(t, f, "", "")
	require.Len(t, events, 15)
	for i, event := range events {
		require.Equal(t, fmt.Sprintf("event-%02d", i+1), event.EventID)
		require.Equal(t, fmt.Sprintf("payload-%02d", i+1), string(event.Data))
	}
	event, err := f.GetEvent(ctx, "event-03")
	require.NoError(t, err)
	require.Equal(t, "payload-03", string(event.Data))

	// A second compaction consumes the remaining new journals. Compacted
	// journals are never re-consumed, so a third round finds nothing.
	require.NoError(t, f.Journal(ctx, 10, 0))
	require.Len(t, liveJournals(t, f, s), 2)
	require.Len(t, replayEvents(t, f, "", ""), 15)

	err = f.Journal(ctx, 1, 0)
	require.ErrorIs(t, err, ErrJournaling)
}

func TestUpdateEventFlow(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)

	var _, err = f.Put(ctx, []byte("aaa"), "event-a", tsAt(1))
	require.NoError(t, err)
	_, err = f.Put(ctx, []byte("bbb"), "event-b", tsAt(2))
	require.NoError(t, err)

	require.NoError(t, f.UpdateEvent(ctx, "event-b", []byte("BBBB")))

	// The marker is pending: reads and replay still see the old data.
	event, err := f.GetEvent(ctx, "event-b")
	require.NoError(t, err)
	require.Equal(t, "bbb", string(event.Data))

	var events = replayEvents(t, f, "", "")
	require.Len(t, events, 2)
	require.Equal(t, "bbb", string(events[1].Data))

	stale, err := ListStaleJournals(ctx, s, f.Layout())
	require.NoError(t, err)
	require.Len(t, stale, 1)

	// Applying the marker rewrites the journal in place.
	applied, err := f.Update(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	event, err = f.GetEvent(ctx, "event-b")
	require.NoError(t, err)
	require.Equal(t, "BBBB", string(event.Data))

	events = replayEvents(t, f, "", "")
	require.Len(t, events, 2)
	require.Equal(t, "BBBB", string(events[1].Data))
	require.Equal(t, tsAt(2), events[1].Date)

	stale, err = ListStaleJournals(ctx, s, f.Layout())
	require.NoError(t, err)
	require.Empty(t, stale)

	// Updates of unknown events are rejected up front.
	err = f.UpdateEvent(ctx, "event-z", []byte("zzz"))
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestDeleteEventFlow(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)

	var _, err = f.Put(ctx, []byte("aaa"), "event-a", tsAt(1))
	require.NoError(t, err)
	_, err = f.Put(ctx, []byte("bbb"), "event-b", tsAt(2))
	require.NoError(t, err)

	require.NoError(t, f.DeleteEvent(ctx, "event-a"))

	// The index forgets the event immediately.
	exists, err := f.EventExists(ctx, "event-a")
	require.NoError(t, err)
	require.False(t, exists)
	_, err = f.GetEvent(ctx, "event-a")
	require.ErrorIs(t, err, ErrEventNotFound)

	// Replay surfaces it until the marker is applied.
	require.Len(t, replayEvents(t, f, "", ""), 2)

	applied, err := f.Update(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	var events = replayEvents(t, f, "", "")
	require.Len(t, events, 1)
	require.Equal(t, "event-b", events[0].EventID)

	// Deleting every event of a journal removes the journal entirely.
	require.Len(t, liveJournals(t, f, s), 1)

	err = f.DeleteEvent(ctx, "event-a")
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestCompactionAppliesPendingMarkers(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)

	var _, err = f.Put(ctx, []byte("old"), "event-a", tsAt(1))
	require.NoError(t, err)
	_, err = f.Put(ctx, []byte("bbb"), "event-b", tsAt(2))
	require.NoError(t, err)
	require.NoError(t, f.UpdateEvent(ctx, "event-a", []byte("new")))

	// Compaction folds the pending marker into the combined journal.
	require.NoError(t, f.Journal(ctx, 2, 0))

	var events = replayEvents(t, f, "", "")
	require.Len(t, events, 2)
	require.Equal(t, "new", string(events[0].Data))
	require.Equal(t, "bbb", string(events[1].Data))

	event, err := f.GetEvent(ctx, "event-a")
	require.NoError(t, err)
	require.Equal(t, "new", string(event.Data))

	stale, err := ListStaleJournals(ctx, s, f.Layout())
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestCompactionOfFullyDeletedJournals(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)

	var _, err = f.Put(ctx, []byte("aaa"), "event-a", tsAt(1))
	require.NoError(t, err)
	require.NoError(t, f.DeleteEvent(ctx, "event-a"))

	// Applying the delete during compaction leaves no events: no journal
	// is written, and the source and marker are still retired.
	require.NoError(t, f.Journal(ctx, 1, 0))

	require.Empty(t, replayEvents(t, f, "", ""))
	require.Empty(t, liveJournals(t, f, s))

	stale, err := ListStaleJournals(ctx, s, f.Layout())
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestReplayRanges(t *testing.T) {
	var ctx = context.Background()
	var f, _ = newTestFlood(t)

	for i := 1; i <= 10; i++ {
		var _, err = f.Put(ctx, fmt.Appendf(nil, "payload-%02d", i), fmt.Sprintf("event-%02d", i), tsAt(i))
		require.NoError(t, err)
	}
	// A single compacted journal forces replay to consume the bytes of
	// events skipped by the range filter.
	require.NoError(t, f.Journal(ctx, 10, 0))

	var ids = func(events []Event) []string {
		var out []string
		for _, e := range events {
			require.Equal(t, strings.Replace(e.EventID, "event", "payload", 1), string(e.Data))
			out = append(out, e.EventID)
		}
		return out
	}

	// The lower bound is exclusive.
	require.Equal(t,
		[]string{"event-05", "event-06", "event-07", "event-08", "event-09", "event-10"},
		ids(replayEvents(t, f, tsAt(4), "")))

	// The upper bound is inclusive.
	require.Equal(t,
		[]string{"event-05", "event-06", "event-07"},
		ids(replayEvents(t, f, tsAt(4), tsAt(7))))

	require.Equal(t,
		[]string{"event-01", "event-02", "event-03"},
		ids(replayEvents(t, f, "", tsAt(3))))

	require.Empty(t, replayEvents(t, f, tsAt(10), ""))
	require.Empty(t, replayEvents(t, f, "", tsAt(0)))
}

func TestReplayClose(t *testing.T) {
	var ctx = context.Background()
	var f, _ = newTestFlood(t)

	for i := 1; i <= 3; i++ {
		var _, err = f.Put(ctx, []byte("x"), fmt.Sprintf("event-%02d", i), tsAt(i))
		require.NoError(t, err)
	}

	var it = f.Replay(ctx, "", "")
	require.True(t, it.Next())
	it.Close()
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestListJournalRange(t *testing.T) {
	var ctx = context.Background()
	var f, _ = newTestFlood(t)

	for i := 1; i <= 5; i++ {
		var _, err = f.Put(ctx, []byte("x"), fmt.Sprintf("event-%02d", i), tsAt(i))
		require.NoError(t, err)
	}

	var listed []Timestamp
	var it = f.ListJournals(ctx, tsAt(2), tsAt(4))
	for it.Next() {
		listed = append(listed, it.ID().StartTime())
	}
	require.NoError(t, it.Err())
	require.Equal(t, []Timestamp{tsAt(3), tsAt(4)}, listed)
}

func TestListEventStreams(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)
	s.PresignFn = func(key string, ttl time.Duration) (string, error) {
		return "https://signed.example/" + key, nil
	}

	for i := 1; i <= 3; i++ {
		var _, err = f.Put(ctx, fmt.Appendf(nil, "payload-%02d", i), fmt.Sprintf("event-%02d", i), tsAt(i))
		require.NoError(t, err)
	}
	require.NoError(t, f.Journal(ctx, 3, 0))
	var _, err = f.Put(ctx, []byte("payload-04"), "event-04", tsAt(4))
	require.NoError(t, err)

	streams, err := f.ListEventStreams(ctx, "", "", 0)
	require.NoError(t, err)
	require.Len(t, streams, 2)

	require.Len(t, streams[0].Manifest.Events, 3)
	require.Equal(t, tsAt(1), streams[0].Manifest.FromDate)
	require.Equal(t, tsAt(3), streams[0].Manifest.ToDate)
	require.True(t, strings.HasPrefix(streams[0].URL, "https://signed.example/root/blobs/"))

	require.Len(t, streams[1].Manifest.Events, 1)

	// |limit| caps the page.
	streams, err = f.ListEventStreams(ctx, "", "", 1)
	require.NoError(t, err)
	require.Len(t, streams, 1)
}

func TestUpdateBudget(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)

	for i := 1; i <= 3; i++ {
		var eventID = fmt.Sprintf("event-%02d", i)
		var _, err = f.Put(ctx, []byte("old"), eventID, tsAt(i))
		require.NoError(t, err)
		require.NoError(t, f.UpdateEvent(ctx, eventID, []byte("new")))
	}

	// Batches are applied whole until the budget is reached.
	var applied, err = f.Update(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, applied)

	stale, err := ListStaleJournals(ctx, s, f.Layout())
	require.NoError(t, err)
	require.Len(t, stale, 1)

	applied, err = f.Update(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	applied, err = f.Update(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, applied)

	for _, event := range replayEvents(t, f, "", "") {
		require.Equal(t, "new", string(event.Data))
	}
}

func TestDestroy(t *testing.T) {
	var ctx = context.Background()
	var f, s = newTestFlood(t)

	for i := 1; i <= 5; i++ {
		var _, err = f.Put(ctx, []byte("x"), fmt.Sprintf("event-%02d", i), tsAt(i))
		require.NoError(t, err)
	}
	require.NoError(t, f.Journal(ctx, 2, 0))
	require.NoError(t, f.UpdateEvent(ctx, "event-04", []byte("y")))
	require.NotZero(t, s.Len())

	// Journals, blobs, markers, and index entries are all removed.
	require.NoError(t, f.Destroy(ctx))
	require.Zero(t, s.Len())
}
