package flashflood

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xbrianh/flashflood/go/store/memstore"
)

// markerID composes a JournalUpdateID with a fixed creation timestamp.
func markerID(journalID JournalID, eventID string, created Timestamp, action Action) JournalUpdateID {
	return JournalUpdateID(UpdatePrefixForJournal(journalID) + Delimiter +
		eventID + Delimiter + string(created) + Delimiter + string(action))
}

func TestMarkerUploadAndData(t *testing.T) {
	var ctx = context.Background()
	var s = memstore.New()
	var layout = testLayout(t)
	var journalID = MakeJournalID(
		"2021-01-01T000000.000000Z", "2021-01-01T000000.000000Z", VersionNew, "blob-1")

	var update, err = UploadUpdate(ctx, s, layout, journalID, "e1", []byte("fresh"))
	require.NoError(t, err)
	require.Equal(t, journalID, update.JournalID())
	require.Equal(t, "e1", update.EventID())
	require.Equal(t, ActionUpdate, update.Action())

	data, err := update.Data(ctx)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(data))

	// A marker rebuilt from its id fetches the body from the store.
	var fetched = NewJournalUpdate(s, layout, update.ID)
	data, err = fetched.Data(ctx)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(data))

	remove, err := UploadDelete(ctx, s, layout, journalID, "e2")
	require.NoError(t, err)
	require.Equal(t, ActionDelete, remove.Action())
	data, err = remove.Data(ctx)
	require.NoError(t, err)
	require.Empty(t, data)

	// Deleting a marker that was never recorded refuses.
	var phantom = NewJournalUpdate(s, layout, markerID(journalID, "e9", Now(), ActionUpdate))
	require.Error(t, phantom.Delete(ctx))
}

func TestListUpdatesSkipsTombstonedMarkers(t *testing.T) {
	var ctx = context.Background()
	var s = memstore.New()
	var layout = testLayout(t)

	var ts = Timestamp("2021-02-01T000000.000000Z")
	var journalID = MakeJournalID(
		"2021-01-01T000000.000000Z", "2021-01-01T000000.000000Z", VersionNew, "aaaa")
	var other = MakeJournalID(
		"2021-01-02T000000.000000Z", "2021-01-02T000000.000000Z", VersionNew, "bbbb")

	var m1 = markerID(journalID, "e1", ts, ActionUpdate)
	var m2 = markerID(journalID, "e2", ts, ActionDelete)
	var m3 = markerID(journalID, "e3", ts, ActionUpdate)
	var m4 = markerID(other, "e4", ts, ActionUpdate)

	for _, key := range []string{
		layout.UpdateKey(m1),
		layout.UpdateKey(m2),
		layout.UpdateKey(m2) + TombstoneSuffix,
		layout.UpdateKey(m3),
		layout.UpdateKey(m4),
	} {
		require.NoError(t, s.Put(ctx, key, nil, nil))
	}

	var listed = func(idPrefix string) []JournalUpdateID {
		var out []JournalUpdateID
		var it = ListUpdates(ctx, s, layout, idPrefix)
		for it.Next() {
			out = append(out, it.ID())
		}
		require.NoError(t, it.Err())
		return out
	}

	// The tombstoned marker and its tombstone are both skipped, and the
	// prefix restricts listing to one journal's markers.
	require.Equal(t, []JournalUpdateID{m1, m3}, listed(UpdatePrefixForJournal(journalID)))
	require.Equal(t, []JournalUpdateID{m1, m3, m4}, listed(""))

	// Tombstoning the final marker exercises the trailing flush.
	require.NoError(t, s.Put(ctx, layout.UpdateKey(m4)+TombstoneSuffix, nil, nil))
	require.Equal(t, []JournalUpdateID{m1, m3}, listed(""))
}

func TestGetUpdatesForJournalLastWins(t *testing.T) {
	var ctx = context.Background()
	var s = memstore.New()
	var layout = testLayout(t)

	var journalID = MakeJournalID(
		"2021-01-01T000000.000000Z", "2021-01-01T000000.000000Z", VersionNew, "aaaa")
	var other = MakeJournalID(
		"2021-01-02T000000.000000Z", "2021-01-02T000000.000000Z", VersionNew, "bbbb")

	// Two markers for e1: the later DELETE supersedes the earlier UPDATE.
	var first = markerID(journalID, "e1", "2021-02-01T000000.000000Z", ActionUpdate)
	var second = markerID(journalID, "e1", "2021-02-02T000000.000000Z", ActionDelete)
	var third = markerID(journalID, "e2", "2021-02-01T000000.000000Z", ActionUpdate)
	var foreign = markerID(other, "e3", "2021-02-01T000000.000000Z", ActionUpdate)

	for _, key := range []string{
		layout.UpdateKey(first),
		layout.UpdateKey(second),
		layout.UpdateKey(third),
		layout.UpdateKey(foreign),
	} {
		require.NoError(t, s.Put(ctx, key, nil, nil))
	}

	var updates, err = GetUpdatesForJournal(ctx, s, layout, journalID)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Equal(t, second, updates["e1"].ID)
	require.Equal(t, ActionDelete, updates["e1"].Action())
	require.Equal(t, third, updates["e2"].ID)
}

func TestUpdateBatchIteration(t *testing.T) {
	var ctx = context.Background()
	var s = memstore.New()
	var layout = testLayout(t)

	var ts = Timestamp("2021-02-01T000000.000000Z")
	var journalA = MakeJournalID(
		"2021-01-01T000000.000000Z", "2021-01-01T000000.000000Z", VersionNew, "aaaa")
	var journalB = MakeJournalID(
		"2021-01-02T000000.000000Z", "2021-01-02T000000.000000Z", VersionNew, "bbbb")

	for _, id := range []JournalUpdateID{
		markerID(journalA, "e1", ts, ActionUpdate),
		markerID(journalA, "e2", ts, ActionDelete),
		markerID(journalB, "e3", ts, ActionUpdate),
	} {
		require.NoError(t, s.Put(ctx, layout.UpdateKey(id), nil, nil))
	}

	var it = GetUpdatesForAllJournals(ctx, s, layout)

	require.True(t, it.Next())
	var batch = it.Batch()
	require.Equal(t, journalA, batch.JournalID)
	require.Len(t, batch.Updates, 2)
	require.Equal(t, ActionUpdate, batch.Updates["e1"].Action())
	require.Equal(t, ActionDelete, batch.Updates["e2"].Action())

	require.True(t, it.Next())
	batch = it.Batch()
	require.Equal(t, journalB, batch.JournalID)
	require.Len(t, batch.Updates, 1)

	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestListStaleJournals(t *testing.T) {
	var ctx = context.Background()
	var s = memstore.New()
	var layout = testLayout(t)

	var ts = Timestamp("2021-02-01T000000.000000Z")
	var journalA = MakeJournalID(
		"2021-01-01T000000.000000Z", "2021-01-01T000000.000000Z", VersionNew, "aaaa")
	var journalB = MakeJournalID(
		"2021-01-02T000000.000000Z", "2021-01-02T000000.000000Z", VersionNew, "bbbb")

	// No markers, no stale journals.
	var stale, err = ListStaleJournals(ctx, s, layout)
	require.NoError(t, err)
	require.Empty(t, stale)

	for _, id := range []JournalUpdateID{
		markerID(journalA, "e1", ts, ActionUpdate),
		markerID(journalA, "e2", ts, ActionDelete),
		markerID(journalB, "e3", ts, ActionUpdate),
	} {
		require.NoError(t, s.Put(ctx, layout.UpdateKey(id), nil, nil))
	}

	stale, err = ListStaleJournals(ctx, s, layout)
	require.NoError(t, err)
	require.Equal(t, []JournalID{journalA, journalB}, stale)
}
