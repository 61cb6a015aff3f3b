// Package reader replays event streams over plain HTTP. A holder of
// stream manifests and presigned blob URLs, as returned by
// ListEventStreams, can read events without store credentials or a
// FlashFlood engine.
package reader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/xbrianh/flashflood/go/flashflood"
)

// Replay streams events of |streams| with dates in (|from|, |to|], in
// timestamp order. Streams must be ordered by journal start time, as
// ListEventStreams returns them. A nil |client| uses
// http.DefaultClient.
func Replay(ctx context.Context, client *http.Client, streams []flashflood.EventStream, from, to flashflood.Timestamp) *EventIterator {
	if client == nil {
		client = http.DefaultClient
	}
	return &EventIterator{
		ctx:     ctx,
		client:  client,
		streams: streams,
		rng:     flashflood.NewDateRange(from, to),
	}
}

// EventIterator streams replayed events fetched over HTTP.
type EventIterator struct {
	ctx     context.Context
	client  *http.Client
	streams []flashflood.EventStream
	rng     flashflood.DateRange

	body   io.ReadCloser
	events []flashflood.EventRecord
	next   int
	event  flashflood.Event
	err    error
	done   bool
}

func (it *EventIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	for {
		if it.body == nil {
			if len(it.streams) == 0 {
				it.done = true
				return false
			}
			var stream = it.streams[0]
			it.streams = it.streams[1:]

			// Find the first event in range. Its offset starts the byte
			// range to fetch; streams with no such event are skipped
			// without a fetch.
			var first = -1
			for i, e := range stream.Manifest.Events {
				if it.rng.Contains(e.Timestamp) {
					first = i
					break
				}
			}
			if first == -1 {
				continue
			}
			var body, err = it.fetch(stream, stream.Manifest.Events[first].Offset)
			if err != nil {
				it.err = err
				return false
			}
			it.body, it.events, it.next = body, stream.Manifest.Events[first:], 0
		}

		for it.next < len(it.events) {
			var e = it.events[it.next]

			// Later events only grow in timestamp: one past |to| ends
			// the stream.
			if e.Timestamp > it.rng.To {
				it.next = len(it.events)
				break
			}
			it.next++

			var data = make([]byte, e.Size)
			if _, err := io.ReadFull(it.body, data); err != nil {
				it.err = fmt.Errorf("reading event %q: %w", e.EventID, err)
				return false
			}
			it.event = flashflood.Event{EventID: e.EventID, Date: e.Timestamp, Data: data}
			return true
		}
		_ = it.body.Close()
		it.body = nil
	}
}

// fetch GETs the stream blob from |offset| through its end.
func (it *EventIterator) fetch(stream flashflood.EventStream, offset int64) (io.ReadCloser, error) {
	var req, err = http.NewRequestWithContext(it.ctx, "GET", stream.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", stream.URL, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, stream.Manifest.Size-1))

	resp, err := it.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", stream.URL, err)
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusOK:
		// The server ignored the range request. Discard the skipped
		// prefix to re-align with |offset|.
		if _, err = io.CopyN(io.Discard, resp.Body, offset); err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("discarding %d bytes of %s: %w", offset, stream.URL, err)
		}
		return resp.Body, nil
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: unexpected status %s", stream.URL, resp.Status)
	}
}

func (it *EventIterator) Event() flashflood.Event { return it.event }
func (it *EventIterator) Err() error              { return it.err }

// Close releases the open stream body, if any. Call it when abandoning
// the iterator before exhaustion.
func (it *EventIterator) Close() {
	if it.body != nil {
		_ = it.body.Close()
		it.body = nil
	}
	it.done = true
}
