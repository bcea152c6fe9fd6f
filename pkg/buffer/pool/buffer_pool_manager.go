// Package pool implements the buffer pool manager: the single point
// through which every other component touches page-granular storage. It
// owns the frame array, the free list, the page table, and the replacer,
// and mediates all fetch/new/unpin/flush/delete traffic over them.
package pool

import (
	"sync"

	"crabtable/pkg/buffer/hashtable"
	"crabtable/pkg/buffer/replacer"
	"crabtable/pkg/logging"
	"crabtable/pkg/primitives"
	"crabtable/pkg/storage/disk"
	"crabtable/pkg/storage/page"
)

// Manager is the fixed-size buffer pool described in spec.md §4.3. A
// single mutex ("latch" in the spec's terms) protects its metadata; page
// contents are protected by each page's own latch, acquired by callers.
type Manager struct {
	latch sync.Mutex

	poolSize int
	pages    []*page.Page
	freeList []primitives.FrameID
	pageTbl  *hashtable.Table[primitives.PageID, primitives.FrameID]
	replacer *replacer.LRUKReplacer
	disk     disk.Manager
}

func (bpm *Manager) lock()   { bpm.latch.Lock() }
func (bpm *Manager) unlock() { bpm.latch.Unlock() }

// New builds a buffer pool of poolSize frames backed by dm, using an
// LRU-K replacer with history depth k.
func New(poolSize int, k int, dm disk.Manager) *Manager {
	bpm := &Manager{
		poolSize: poolSize,
		pages:    make([]*page.Page, poolSize),
		freeList: make([]primitives.FrameID, poolSize),
		pageTbl:  hashtable.New[primitives.PageID, primitives.FrameID](8),
		replacer: replacer.New(poolSize, k),
		disk:     dm,
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = page.NewPage()
		bpm.freeList[i] = primitives.FrameID(poolSize - 1 - i) // LIFO: frame 0 popped first
	}
	return bpm
}

// GetPoolSize returns the fixed number of frames this pool manages.
func (bpm *Manager) GetPoolSize() int { return bpm.poolSize }

// getFrame returns a clean, owned frame, preferring the free list and
// falling back to eviction via the replacer. If the evicted page was
// dirty it is flushed first. Returns false if no frame is available.
// Callers must hold bpm.latch.
func (bpm *Manager) getFrame() (primitives.FrameID, bool) {
	if n := len(bpm.freeList); n > 0 {
		frame := bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
		return frame, true
	}

	frame, ok := bpm.replacer.Evict()
	if !ok {
		return 0, false
	}

	victim := bpm.pages[frame]
	if victim.IsDirty() {
		if err := bpm.disk.WritePage(victim.ID(), victim.Data()); err != nil {
			logging.Error("buffer: failed to flush evicted page", "page", victim.ID(), "err", err)
		}
	}
	bpm.pageTbl.Remove(victim.ID())
	return frame, true
}

// NewPage allocates a fresh page id, claims a frame for it, and returns a
// pinned handle. Returns (InvalidPageID, nil) if the pool has no frame to
// give (spec §7 category 2: resource exhaustion, not an error).
func (bpm *Manager) NewPage() (primitives.PageID, *page.Page) {
	bpm.lock()
	defer bpm.unlock()

	frame, ok := bpm.getFrame()
	if !ok {
		return primitives.InvalidPageID, nil
	}

	id := bpm.disk.AllocatePage()
	p := bpm.pages[frame]
	p.Reset(id)
	p.Pin()

	bpm.pageTbl.Insert(id, frame)
	bpm.replacer.RecordAccess(frame)
	bpm.replacer.SetEvictable(frame, false)

	logging.Debug("buffer: new page", "page", id, "frame", frame)
	return id, p
}

// FetchPage returns a pinned handle to id, reading it from disk on a miss.
// Returns nil only when id is not resident and no frame is available.
func (bpm *Manager) FetchPage(id primitives.PageID) *page.Page {
	bpm.lock()
	defer bpm.unlock()

	if frame, ok := bpm.pageTbl.Find(id); ok {
		p := bpm.pages[frame]
		p.Pin()
		bpm.replacer.RecordAccess(frame)
		bpm.replacer.SetEvictable(frame, false)
		return p
	}

	frame, ok := bpm.getFrame()
	if !ok {
		return nil
	}

	p := bpm.pages[frame]
	p.Reset(id)
	if err := bpm.disk.ReadPage(id, p.Data()); err != nil {
		logging.Error("buffer: failed to read page from disk", "page", id, "err", err)
	}
	p.Install(id)
	p.Pin()

	bpm.pageTbl.Insert(id, frame)
	bpm.replacer.RecordAccess(frame)
	bpm.replacer.SetEvictable(frame, false)

	return p
}

// UnpinPage decrements id's pin count, marking the page dirty if isDirty is
// true, and makes the frame evictable once the pin count reaches zero.
// Returns false if the page is not resident or already fully unpinned.
func (bpm *Manager) UnpinPage(id primitives.PageID, isDirty bool) bool {
	bpm.lock()
	defer bpm.unlock()

	frame, ok := bpm.pageTbl.Find(id)
	if !ok {
		return false
	}

	p := bpm.pages[frame]
	if p.PinCount() <= 0 {
		return false
	}
	if isDirty {
		p.MarkDirty()
	}

	if remaining := p.Unpin(); remaining == 0 {
		bpm.replacer.SetEvictable(frame, true)
	}
	return true
}

// FlushPage writes id's current bytes to disk and clears its dirty flag.
// It does not require the page to be unpinned.
func (bpm *Manager) FlushPage(id primitives.PageID) bool {
	bpm.lock()
	defer bpm.unlock()

	frame, ok := bpm.pageTbl.Find(id)
	if !ok {
		return false
	}

	p := bpm.pages[frame]
	if err := bpm.disk.WritePage(id, p.Data()); err != nil {
		logging.Error("buffer: flush failed", "page", id, "err", err)
		return false
	}
	p.ClearDirty()
	return true
}

// FlushAllPages flushes every resident page.
func (bpm *Manager) FlushAllPages() {
	bpm.lock()
	ids := make([]primitives.PageID, 0, bpm.poolSize)
	for _, p := range bpm.pages {
		if p.ID().IsValid() {
			ids = append(ids, p.ID())
		}
	}
	bpm.unlock()

	for _, id := range ids {
		bpm.FlushPage(id)
	}
}

// DeletePage removes id from the pool and deallocates it on disk. Returns
// true if id was not resident (a no-op) or was resident with a zero pin
// count; false if the page is still pinned.
func (bpm *Manager) DeletePage(id primitives.PageID) bool {
	bpm.lock()
	defer bpm.unlock()

	frame, ok := bpm.pageTbl.Find(id)
	if !ok {
		return true
	}

	p := bpm.pages[frame]
	if p.PinCount() > 0 {
		return false
	}

	bpm.pageTbl.Remove(id)
	// Pin count 0 means UnpinPage already marked this frame evictable.
	bpm.replacer.Remove(frame)

	p.Reset(primitives.InvalidPageID)
	bpm.freeList = append(bpm.freeList, frame)

	if err := bpm.disk.DeallocatePage(id); err != nil {
		logging.Error("buffer: deallocate failed", "page", id, "err", err)
	}
	return true
}
