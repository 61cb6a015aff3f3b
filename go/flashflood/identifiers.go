package flashflood

import (
	"fmt"
	"strings"
)

// Delimiter joins the parts of composite identifiers. Event ids and
// timestamps must never contain it.
const Delimiter = "--"

// TombstoneSuffix marks the object key it trails as logically deleted.
const TombstoneSuffix = ".dead"

// VersionNew is the version literal of freshly ingested one-event
// journals, distinguished from the formation timestamps of compacted and
// rewritten ones.
const VersionNew = "new"

// JournalID names one immutable journal, composed as
// start_ts--end_ts--version--blob_id. Lexical ordering of ids equals
// chronological ordering of their start timestamps.
type JournalID string

// MakeJournalID composes a JournalID from its parts.
func MakeJournalID(start, end Timestamp, version, blobID string) JournalID {
	return JournalID(string(start) + Delimiter + string(end) + Delimiter + version + Delimiter + blobID)
}

// JournalIDFromKey extracts the JournalID of a journal object key.
func JournalIDFromKey(key string) JournalID {
	return JournalID(keyBasename(key))
}

// Validate checks that the id splits into its four parts.
func (id JournalID) Validate() error {
	if len(id.parts()) != 4 {
		return fmt.Errorf("malformed journal id %q", id)
	}
	return nil
}

func (id JournalID) parts() []string {
	return strings.Split(string(id), Delimiter)
}

func (id JournalID) part(i int) string {
	if parts := id.parts(); i < len(parts) {
		return parts[i]
	}
	return ""
}

// StartTime is the timestamp of the journal's first event.
func (id JournalID) StartTime() Timestamp {
	return Timestamp(id.part(0))
}

// EndTime is the timestamp of the journal's last event. The literal
// "new" in end position resolves to the start timestamp.
func (id JournalID) EndTime() Timestamp {
	if end := id.part(1); end != VersionNew {
		return Timestamp(end)
	}
	return id.StartTime()
}

// Version is the journal's version: VersionNew or a formation timestamp.
func (id JournalID) Version() string {
	return id.part(2)
}

// BlobID names the journal's data blob.
func (id JournalID) BlobID() string {
	return id.part(3)
}

// RangePrefix is the start_ts--end_ts pair shared by every version of
// the same logical range.
func (id JournalID) RangePrefix() string {
	var parts = id.parts()
	if len(parts) < 2 {
		return string(id)
	}
	return parts[0] + Delimiter + parts[1]
}

// IsTombstone returns whether the id was parsed from a tombstone key.
func (id JournalID) IsTombstone() bool {
	return strings.HasSuffix(string(id), TombstoneSuffix)
}

// Live strips the tombstone suffix, returning the id it marks deleted.
func (id JournalID) Live() JournalID {
	return JournalID(strings.TrimSuffix(string(id), TombstoneSuffix))
}

// Action is the kind of mutation a JournalUpdate marker records.
type Action string

const (
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// JournalUpdateID names one update marker, composed as
// reverse(journal_id)--event_id--created_ts--ACTION. Reversing the
// journal id keeps one journal's markers adjacent in lexical order while
// markers recorded later never sort between those of distinct journals
// recorded earlier.
type JournalUpdateID string

// MakeJournalUpdateID composes a marker id for |journalID| and |eventID|,
// created now.
func MakeJournalUpdateID(journalID JournalID, eventID string, action Action) JournalUpdateID {
	return JournalUpdateID(reverseString(string(journalID)) + Delimiter +
		eventID + Delimiter +
		string(Now()) + Delimiter +
		string(action))
}

// JournalUpdateIDFromKey extracts the JournalUpdateID of a marker key
// whose event id contains no '/'. Listings instead recover marker ids by
// stripping the listed prefix, which handles arbitrary event ids.
func JournalUpdateIDFromKey(key string) JournalUpdateID {
	return JournalUpdateID(keyBasename(key))
}

// UpdatePrefixForJournal is the marker id prefix of |journalID|.
func UpdatePrefixForJournal(journalID JournalID) string {
	return reverseString(string(journalID))
}

// The reversed journal id itself contains the delimiter, so marker ids
// split from the right into exactly four parts.
func (id JournalUpdateID) parts() []string {
	return rsplit(string(id), Delimiter, 4)
}

func (id JournalUpdateID) part(i int) string {
	if parts := id.parts(); i < len(parts) {
		return parts[i]
	}
	return ""
}

// Validate checks that the id splits into its four parts.
func (id JournalUpdateID) Validate() error {
	if len(id.parts()) != 4 {
		return fmt.Errorf("malformed journal update id %q", id)
	}
	return nil
}

// JournalID is the journal the marker applies to.
func (id JournalUpdateID) JournalID() JournalID {
	return JournalID(reverseString(id.part(0)))
}

// EventID is the event the marker applies to.
func (id JournalUpdateID) EventID() string {
	return id.part(1)
}

// CreatedAt is the marker's creation timestamp. For one event and
// journal, the marker with the greatest CreatedAt wins.
func (id JournalUpdateID) CreatedAt() Timestamp {
	return Timestamp(id.part(2))
}

// Action is the recorded mutation kind.
func (id JournalUpdateID) Action() Action {
	return Action(id.part(3))
}

// keyBasename strips the directory portion of an object key.
func keyBasename(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// reverseString reverses |s| byte-wise. Identifiers are ASCII.
func reverseString(s string) string {
	var b = []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// rsplit splits |s| around |sep| into at most |n| parts, scanning from
// the right, so that only the leftmost part may still contain |sep|.
func rsplit(s, sep string, n int) []string {
	var parts []string
	for len(parts) < n-1 {
		var i = strings.LastIndex(s, sep)
		if i < 0 {
			break
		}
		parts = append([]string{s[i+len(sep):]}, parts...)
		s = s[:i]
	}
	return append([]string{s}, parts...)
}
