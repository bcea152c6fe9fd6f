// Package btree implements a latch-crabbing B+ tree index over the buffer
// pool: an ordered, unique Key -> RID map supporting point lookup, range
// scan, insert, and remove under concurrent access (spec.md §4.4).
//
// A tree page is one of two variants stored in the same page.Page bytes,
// discriminated by a one-byte page-type header — the Go analogue of the
// tagged sum the design notes call for, implemented as two wrapper types
// with methods rather than an inheritance hierarchy.
package btree

import (
	"encoding/binary"

	"crabtable/pkg/primitives"
)

// Key is the ordered key type this tree indexes. The teacher's SQL value
// system (types.Field) is out of scope (spec §1 "tuple value types"), so
// keys are plain int64 — enough to exercise real latch crabbing, splits,
// and merges without resurrecting a type system this spec doesn't need.
type Key int64

type pageKind byte

const (
	kindInvalid  pageKind = 0
	kindLeaf     pageKind = 1
	kindInternal pageKind = 2
)

// Leaf page layout: [kind:1][size:4][maxSize:4][minSize:4][nextLeaf:4]
// followed by size entries of [key:8][ridPage:4][ridSlot:4] = 16 bytes each.
const (
	leafHeaderSize = 1 + 4 + 4 + 4 + 4
	leafEntrySize  = 8 + 4 + 4
)

// Internal page layout: [kind:1][size:4][maxSize:4][minSize:4] followed by
// size entries of [key:8][childPage:4] = 12 bytes each. Entry 0's key is
// unused (it is the "low key" pointer, per spec.md §3).
const (
	internalHeaderSize = 1 + 4 + 4 + 4
	internalEntrySize  = 8 + 4
)

func kindOf(data []byte) pageKind { return pageKind(data[0]) }

// LeafPage is a read/write view over a page.Page's bytes, interpreted as a
// B+ tree leaf for as long as the page's latch is held.
type LeafPage struct{ data []byte }

func NewLeafPage(data []byte) LeafPage { return LeafPage{data} }

func (p LeafPage) Init(maxSize, minSize int) {
	p.data[0] = byte(kindLeaf)
	p.setSize(0)
	binary.LittleEndian.PutUint32(p.data[5:9], uint32(maxSize))
	binary.LittleEndian.PutUint32(p.data[9:13], uint32(minSize))
	p.SetNextPageID(primitives.InvalidPageID)
}

func (p LeafPage) IsLeaf() bool { return kindOf(p.data) == kindLeaf }

func (p LeafPage) Size() int {
	return int(binary.LittleEndian.Uint32(p.data[1:5]))
}

func (p LeafPage) setSize(n int) {
	binary.LittleEndian.PutUint32(p.data[1:5], uint32(n))
}

func (p LeafPage) MaxSize() int {
	return int(binary.LittleEndian.Uint32(p.data[5:9]))
}

func (p LeafPage) MinSize() int {
	return int(binary.LittleEndian.Uint32(p.data[9:13]))
}

func (p LeafPage) NextPageID() primitives.PageID {
	return primitives.PageID(int32(binary.LittleEndian.Uint32(p.data[13:17])))
}

func (p LeafPage) SetNextPageID(id primitives.PageID) {
	binary.LittleEndian.PutUint32(p.data[13:17], uint32(int32(id)))
}

func (p LeafPage) entryOffset(i int) int { return leafHeaderSize + i*leafEntrySize }

func (p LeafPage) KeyAt(i int) Key {
	off := p.entryOffset(i)
	return Key(int64(binary.LittleEndian.Uint64(p.data[off : off+8])))
}

func (p LeafPage) RIDAt(i int) primitives.RID {
	off := p.entryOffset(i) + 8
	pid := int32(binary.LittleEndian.Uint32(p.data[off : off+4]))
	slot := binary.LittleEndian.Uint32(p.data[off+4 : off+8])
	return primitives.RID{PageID: primitives.PageID(pid), SlotNum: slot}
}

func (p LeafPage) setAt(i int, key Key, rid primitives.RID) {
	off := p.entryOffset(i)
	binary.LittleEndian.PutUint64(p.data[off:off+8], uint64(int64(key)))
	binary.LittleEndian.PutUint32(p.data[off+8:off+12], uint32(int32(rid.PageID)))
	binary.LittleEndian.PutUint32(p.data[off+12:off+16], rid.SlotNum)
}

// find returns the index of key if present, and the insertion index
// (position of the first entry >= key) otherwise.
func (p LeafPage) find(key Key) (idx int, found bool) {
	lo, hi := 0, p.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if p.KeyAt(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < p.Size() && p.KeyAt(lo) == key {
		return lo, true
	}
	return lo, false
}

// Lookup returns the RID for key, if present.
func (p LeafPage) Lookup(key Key) (primitives.RID, bool) {
	idx, found := p.find(key)
	if !found {
		return primitives.RID{}, false
	}
	return p.RIDAt(idx), true
}

// LowerBound returns the position of the first entry >= key (Size() if none).
func (p LeafPage) LowerBound(key Key) int {
	idx, _ := p.find(key)
	return idx
}

// Insert places key/rid in sorted position. Returns false if key already
// exists (this is a unique index). Caller must ensure Size() < MaxSize()
// before calling (the tree checks safety/fullness before insert).
func (p LeafPage) Insert(key Key, rid primitives.RID) bool {
	idx, found := p.find(key)
	if found {
		return false
	}
	n := p.Size()
	for i := n; i > idx; i-- {
		k := p.KeyAt(i - 1)
		r := p.RIDAt(i - 1)
		p.setAt(i, k, r)
	}
	p.setAt(idx, key, rid)
	p.setSize(n + 1)
	return true
}

// Remove deletes key if present, reporting whether it was found.
func (p LeafPage) Remove(key Key) bool {
	idx, found := p.find(key)
	if !found {
		return false
	}
	n := p.Size()
	for i := idx; i < n-1; i++ {
		p.setAt(i, p.KeyAt(i+1), p.RIDAt(i+1))
	}
	p.setSize(n - 1)
	return true
}

// MoveHalfTo moves the upper half of this page's entries to other,
// used when splitting a full leaf.
func (p LeafPage) MoveHalfTo(other LeafPage) {
	n := p.Size()
	mid := n / 2
	for i := mid; i < n; i++ {
		other.setAt(i-mid, p.KeyAt(i), p.RIDAt(i))
	}
	other.setSize(n - mid)
	p.setSize(mid)
}

// MoveAllTo appends all of this page's entries onto other (used by merge).
func (p LeafPage) MoveAllTo(other LeafPage) {
	n, on := p.Size(), other.Size()
	for i := 0; i < n; i++ {
		other.setAt(on+i, p.KeyAt(i), p.RIDAt(i))
	}
	other.setSize(on + n)
	p.setSize(0)
}

// MoveFirstTo pops this page's first entry onto the end of other
// (left-to-right redistribution step).
func (p LeafPage) MoveFirstTo(other LeafPage) {
	k, r := p.KeyAt(0), p.RIDAt(0)
	other.setAt(other.Size(), k, r)
	other.setSize(other.Size() + 1)
	p.Remove(k)
}

// MoveLastTo pops this page's last entry onto the front of other
// (right-to-left redistribution step).
func (p LeafPage) MoveLastTo(other LeafPage) {
	last := p.Size() - 1
	k, r := p.KeyAt(last), p.RIDAt(last)
	n := other.Size()
	for i := n; i > 0; i-- {
		other.setAt(i, other.KeyAt(i-1), other.RIDAt(i-1))
	}
	other.setAt(0, k, r)
	other.setSize(n + 1)
	p.setSize(last)
}

// InternalPage is a read/write view over a page.Page's bytes, interpreted
// as a B+ tree internal node.
type InternalPage struct{ data []byte }

func NewInternalPage(data []byte) InternalPage { return InternalPage{data} }

func (p InternalPage) Init(maxSize, minSize int) {
	p.data[0] = byte(kindInternal)
	p.setSize(0)
	binary.LittleEndian.PutUint32(p.data[5:9], uint32(maxSize))
	binary.LittleEndian.PutUint32(p.data[9:13], uint32(minSize))
}

func (p InternalPage) IsLeaf() bool { return false }

func (p InternalPage) Size() int {
	return int(binary.LittleEndian.Uint32(p.data[1:5]))
}

func (p InternalPage) setSize(n int) {
	binary.LittleEndian.PutUint32(p.data[1:5], uint32(n))
}

func (p InternalPage) MaxSize() int {
	return int(binary.LittleEndian.Uint32(p.data[5:9]))
}

func (p InternalPage) MinSize() int {
	return int(binary.LittleEndian.Uint32(p.data[9:13]))
}

func (p InternalPage) entryOffset(i int) int { return internalHeaderSize + i*internalEntrySize }

func (p InternalPage) KeyAt(i int) Key {
	off := p.entryOffset(i)
	return Key(int64(binary.LittleEndian.Uint64(p.data[off : off+8])))
}

func (p InternalPage) setKeyAt(i int, key Key) {
	off := p.entryOffset(i)
	binary.LittleEndian.PutUint64(p.data[off:off+8], uint64(int64(key)))
}

// SetKeyAt overwrites entry i's key (used when a child's minimum key
// changes after a merge/redistribute moves entries across a boundary).
func (p InternalPage) SetKeyAt(i int, key Key) { p.setKeyAt(i, key) }

func (p InternalPage) ValueAt(i int) primitives.PageID {
	off := p.entryOffset(i) + 8
	return primitives.PageID(int32(binary.LittleEndian.Uint32(p.data[off : off+4])))
}

func (p InternalPage) setAt(i int, key Key, child primitives.PageID) {
	off := p.entryOffset(i)
	binary.LittleEndian.PutUint64(p.data[off:off+8], uint64(int64(key)))
	binary.LittleEndian.PutUint32(p.data[off+8:off+12], uint32(int32(child)))
}

// SetValueAt overwrites entry i's child pointer without touching its key.
func (p InternalPage) SetValueAt(i int, child primitives.PageID) {
	off := p.entryOffset(i) + 8
	binary.LittleEndian.PutUint32(p.data[off:off+4], uint32(int32(child)))
}

// InitRoot writes the two-entry layout a freshly split root gets:
// value[0] = leftChild (key unused), key[1]/value[1] = splitKey/rightChild.
func (p InternalPage) InitRoot(leftChild primitives.PageID, splitKey Key, rightChild primitives.PageID) {
	p.setAt(0, 0, leftChild)
	p.setAt(1, splitKey, rightChild)
	p.setSize(2)
}

// Lookup implements the internal-page routing rule from spec.md §4.4:
// binary-search for the greatest i in [1,n-1] with key[i] <= k; if none,
// descend into value[0], else value[i].
func (p InternalPage) Lookup(key Key) primitives.PageID {
	n := p.Size()
	lo, hi := 1, n-1
	result := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if p.KeyAt(mid) <= key {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return p.ValueAt(result)
}

// indexOfChild returns the slot holding child, or -1.
func (p InternalPage) indexOfChild(child primitives.PageID) int {
	for i := 0; i < p.Size(); i++ {
		if p.ValueAt(i) == child {
			return i
		}
	}
	return -1
}

// InsertAfter inserts (key, child) immediately after leftChild's slot,
// used by InsertInParent when a child splits.
func (p InternalPage) InsertAfter(leftChild primitives.PageID, key Key, child primitives.PageID) {
	idx := p.indexOfChild(leftChild)
	n := p.Size()
	for i := n; i > idx+1; i-- {
		p.setAt(i, p.KeyAt(i-1), p.ValueAt(i-1))
	}
	p.setAt(idx+1, key, child)
	p.setSize(n + 1)
}

// RemoveChild deletes the entry pointing at child.
func (p InternalPage) RemoveChild(child primitives.PageID) {
	idx := p.indexOfChild(child)
	if idx < 0 {
		return
	}
	n := p.Size()
	for i := idx; i < n-1; i++ {
		p.setAt(i, p.KeyAt(i+1), p.ValueAt(i+1))
	}
	p.setSize(n - 1)
}

// MoveHalfTo partitions this page's n entries as ceil(n/2) kept | floor(n/2)
// moved to other, per spec.md §4.4's internal-split rule. The moved
// entries' slot-0 key becomes unused on the destination (caller overwrites
// it via the promoted median).
func (p InternalPage) MoveHalfTo(other InternalPage) {
	n := p.Size()
	keep := (n + 1) / 2
	for i := keep; i < n; i++ {
		other.setAt(i-keep, p.KeyAt(i), p.ValueAt(i))
	}
	other.setSize(n - keep)
	p.setSize(keep)
}

// MoveAllTo appends all entries onto other, used by merge; other's
// receiving slot 0 already has a valid key/child so incoming slot 0's key
// must be overwritten by the caller with the separator key before calling.
func (p InternalPage) MoveAllTo(other InternalPage) {
	n, on := p.Size(), other.Size()
	for i := 0; i < n; i++ {
		other.setAt(on+i, p.KeyAt(i), p.ValueAt(i))
	}
	other.setSize(on + n)
	p.setSize(0)
}

// MoveFirstTo pops this page's first entry onto the end of other.
func (p InternalPage) MoveFirstTo(other InternalPage) {
	k, v := p.KeyAt(0), p.ValueAt(0)
	other.setAt(other.Size(), k, v)
	other.setSize(other.Size() + 1)

	n := p.Size()
	for i := 0; i < n-1; i++ {
		p.setAt(i, p.KeyAt(i+1), p.ValueAt(i+1))
	}
	p.setSize(n - 1)
}

// MoveLastTo pops this page's last entry onto the front of other.
func (p InternalPage) MoveLastTo(other InternalPage) {
	last := p.Size() - 1
	k, v := p.KeyAt(last), p.ValueAt(last)
	n := other.Size()
	for i := n; i > 0; i-- {
		other.setAt(i, other.KeyAt(i-1), other.ValueAt(i-1))
	}
	other.setAt(0, k, v)
	other.setSize(n + 1)
	p.setSize(last)
}
