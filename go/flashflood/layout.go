package flashflood

import (
	"fmt"
	"strings"
)

// Layout fixes the object-key layout of one flashflood instance beneath
// its root prefix:
//
//	root/journals/<journal_id>       manifest JSON
//	root/journals/<journal_id>.dead  tombstone
//	root/blobs/<blob_id>             journal data
//	root/update/<journal_update_id>  update marker
//	root/index/<event_id>--<rev>     key index entry
type Layout struct {
	root string
}

// NewLayout validates |root| and returns its Layout. The root prefix
// must be non-empty and must not end in '/'.
func NewLayout(root string) (Layout, error) {
	if root == "" {
		return Layout{}, fmt.Errorf("root prefix cannot be empty")
	}
	if strings.HasSuffix(root, "/") {
		return Layout{}, fmt.Errorf("root prefix %q must not end in '/'", root)
	}
	return Layout{root: root}, nil
}

// Root is the configured root prefix, without a trailing '/'.
func (l Layout) Root() string { return l.root }

// RootPrefix lists every object of the instance.
func (l Layout) RootPrefix() string { return l.root + "/" }

// JournalPrefix lists journal manifests and their tombstones.
func (l Layout) JournalPrefix() string { return l.root + "/journals/" }

// JournalKey is the manifest key of |id|.
func (l Layout) JournalKey(id JournalID) string { return l.JournalPrefix() + string(id) }

// BlobKey is the data blob key of |blobID|.
func (l Layout) BlobKey(blobID string) string { return l.root + "/blobs/" + blobID }

// BlobPrefix lists journal data blobs.
func (l Layout) BlobPrefix() string { return l.root + "/blobs/" }

// UpdatePrefix lists update markers and their tombstones.
func (l Layout) UpdatePrefix() string { return l.root + "/update/" }

// UpdateKey is the marker key of |id|.
func (l Layout) UpdateKey(id JournalUpdateID) string { return l.UpdatePrefix() + string(id) }

// IndexPrefix lists key index entries.
func (l Layout) IndexPrefix() string { return l.root + "/index/" }
