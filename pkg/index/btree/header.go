package btree

import "encoding/binary"

// HeaderPage is page 0 of the underlying buffer pool, shared by every
// B+ tree opened against that pool. It maps an index name to the page id
// of that index's current root, so root ids survive restarts and so a
// tree's root latch has somewhere durable to live (its own content latch,
// acquired via the pool guard like any other page).
//
// Layout: [count:4] followed by count entries of [nameLen:1][name:nameLen][rootPageID:4].
type HeaderPage struct{ data []byte }

func NewHeaderPage(data []byte) HeaderPage { return HeaderPage{data} }

func (h HeaderPage) Init() {
	binary.LittleEndian.PutUint32(h.data[0:4], 0)
}

func (h HeaderPage) count() int {
	return int(binary.LittleEndian.Uint32(h.data[0:4]))
}

// Lookup returns the root page id registered for name, if any.
func (h HeaderPage) Lookup(name string) (int32, bool) {
	off := 4
	for i := 0; i < h.count(); i++ {
		nameLen := int(h.data[off])
		off++
		entryName := string(h.data[off : off+nameLen])
		off += nameLen
		root := int32(binary.LittleEndian.Uint32(h.data[off : off+4]))
		off += 4
		if entryName == name {
			return root, true
		}
	}
	return 0, false
}

// SetRoot updates name's root id, appending a new entry if name is unknown.
func (h HeaderPage) SetRoot(name string, root int32) {
	off := 4
	for i := 0; i < h.count(); i++ {
		nameLen := int(h.data[off])
		off++
		entryName := string(h.data[off : off+nameLen])
		off += nameLen
		if entryName == name {
			binary.LittleEndian.PutUint32(h.data[off:off+4], uint32(root))
			return
		}
		off += 4
	}

	// Append a new entry.
	h.data[off] = byte(len(name))
	off++
	copy(h.data[off:], name)
	off += len(name)
	binary.LittleEndian.PutUint32(h.data[off:off+4], uint32(root))

	binary.LittleEndian.PutUint32(h.data[0:4], uint32(h.count()+1))
}
