// Package flashflood implements an append-mostly event journal on top of
// a blob store. Producers Put small dated events, which are journaled
// into one-event blobs and later compacted into larger ones. Events may
// be updated or deleted after the fact through markers which a background
// Update pass applies by rewriting whole journals. Replay streams events
// back in timestamp order.
package flashflood

import (
	"fmt"
	"time"
)

// timestampLayout is the fixed-width UTC encoding of timestamps. Its
// lexical ordering coincides with chronological ordering, which the
// journal key scheme depends on.
const timestampLayout = "2006-01-02T150405.000000Z"

// Timestamp is an encoded UTC instant with microsecond precision.
type Timestamp string

// DistantPast and FarFuture bound every representable Timestamp, and
// stand in for unspecified range endpoints.
var (
	DistantPast = Timestamp("0001-01-01T000000.000000Z")
	FarFuture   = Timestamp("5000-01-01T000000.000000Z")
)

// Now returns the current Timestamp.
func Now() Timestamp { return At(time.Now()) }

// At encodes |t| as a Timestamp.
func At(t time.Time) Timestamp {
	return Timestamp(t.UTC().Format(timestampLayout))
}

// ParseTimestamp validates and normalizes an encoded timestamp.
func ParseTimestamp(s string) (Timestamp, error) {
	var t, err = time.Parse(timestampLayout, s)
	if err != nil {
		return "", fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return At(t), nil
}

// Time decodes the Timestamp.
func (ts Timestamp) Time() (time.Time, error) {
	var t, err = time.Parse(timestampLayout, string(ts))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", ts, err)
	}
	return t, nil
}

// DateRange is a half-open interval of timestamps, exclusive of From and
// inclusive of To.
type DateRange struct {
	From Timestamp
	To   Timestamp
}

// NewDateRange builds a DateRange, substituting DistantPast and FarFuture
// for empty endpoints.
func NewDateRange(from, to Timestamp) DateRange {
	if from == "" {
		from = DistantPast
	}
	if to == "" {
		to = FarFuture
	}
	return DateRange{From: from, To: to}
}

// Contains returns whether |ts| falls within the range.
func (r DateRange) Contains(ts Timestamp) bool {
	return r.From < ts && ts <= r.To
}

// Overlaps returns whether a journal spanning [start, end] can hold a
// timestamp within the range.
func (r DateRange) Overlaps(start, end Timestamp) bool {
	return start <= r.To && end > r.From
}
