// Package primitives holds the small set of identifier types shared across
// the storage and concurrency core: page identifiers, frame indices, and
// tuple record identifiers. None of these types carry behavior beyond
// comparison and formatting; the packages that own the resources they
// identify (buffer, index, lock) attach the real logic.
package primitives

import "fmt"

// PageID identifies a page within the paged disk file. Page identifiers are
// allocated from a monotonic counter by the buffer pool and, once handed
// out, are never reissued.
type PageID int32

// InvalidPageID is the reserved sentinel meaning "no page" (e.g. an absent
// next-leaf pointer or an as-yet-unallocated root).
const InvalidPageID PageID = -1

// IsValid reports whether id refers to an allocated page.
func (id PageID) IsValid() bool {
	return id != InvalidPageID
}

func (id PageID) String() string {
	if id == InvalidPageID {
		return "PageID(invalid)"
	}
	return fmt.Sprintf("PageID(%d)", int32(id))
}

// FrameID indexes the buffer pool's fixed-size frame array.
type FrameID int32

func (id FrameID) String() string {
	return fmt.Sprintf("FrameID(%d)", int32(id))
}

// RID (record identifier) locates a tuple by the page that stores it and its
// slot within that page. The B+ tree treats RID as an opaque leaf value; it
// never dereferences it.
type RID struct {
	PageID  PageID
	SlotNum uint32
}

// NewRID builds a record identifier.
func NewRID(pid PageID, slot uint32) RID {
	return RID{PageID: pid, SlotNum: slot}
}

func (r RID) String() string {
	return fmt.Sprintf("RID(page=%d, slot=%d)", int32(r.PageID), r.SlotNum)
}

// TableOID identifies a table at lock-manager granularity. It is opaque to
// the core: the catalog that would normally mint these values is out of
// scope, so callers mint their own (e.g. a table name hash).
type TableOID uint32
