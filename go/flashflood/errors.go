package flashflood

import "fmt"

// Error kinds surfaced by the engine, distinguished with errors.Is.
// They are returned wrapped with the identifiers involved.
var (
	// ErrEventExists is returned by Put for an already-indexed event id.
	ErrEventExists = fmt.Errorf("event already exists")
	// ErrEventNotFound is returned when an event id is not indexed.
	ErrEventNotFound = fmt.Errorf("event not found")
	// ErrJournaling is returned when the visible new journals cannot
	// satisfy the requested compaction thresholds.
	ErrJournaling = fmt.Errorf("insufficient new journals")
	// ErrJournalUpload is returned on attempts to upload a journal with
	// no events.
	ErrJournalUpload = fmt.Errorf("cannot upload journal with no events")
)
