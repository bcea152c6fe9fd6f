package pool

import (
	"sync"

	"crabtable/pkg/primitives"
	"crabtable/pkg/storage/page"
)

// Guard is a borrowed, pinned handle to a page, structurally preventing the
// most common buffer-pool bug class: a forgotten Unpin. Go has no
// destructors, so the guard's Drop method must be called explicitly
// (typically via defer) once the caller is done, but because the pool's
// FetchPageGuard/NewPageGuard methods return a *Guard rather than a bare *page.Page,
// "I have a page" and "I owe it an unpin" travel together at the type
// level — this is the Go analogue of the scoped-release handle the design
// notes call for.
type Guard struct {
	once sync.Once

	bpm       *Manager
	page      *page.Page
	id        primitives.PageID
	dirty     bool
	latchMode latchMode
}

type latchMode int

const (
	latchNone latchMode = iota
	latchRead
	latchWrite
)

// FetchPageGuard fetches id and wraps it in a Guard. Returns nil if the
// pool has no frame available.
func (bpm *Manager) FetchPageGuard(id primitives.PageID) *Guard {
	p := bpm.FetchPage(id)
	if p == nil {
		return nil
	}
	return &Guard{bpm: bpm, page: p, id: id}
}

// NewPageGuard allocates a fresh page and wraps it in a Guard. Returns nil
// if the pool has no frame available.
func (bpm *Manager) NewPageGuard() (primitives.PageID, *Guard) {
	id, p := bpm.NewPage()
	if p == nil {
		return primitives.InvalidPageID, nil
	}
	return id, &Guard{bpm: bpm, page: p, id: id}
}

// Page returns the underlying page. Callers must latch it (via RLatch/
// WLatch on the guard) before reading or writing its bytes.
func (g *Guard) Page() *page.Page { return g.page }

// ID returns the guarded page's identifier.
func (g *Guard) ID() primitives.PageID { return g.id }

// RLatch/WLatch acquire the page's content latch and remember which mode
// so Drop can release it. A guard latches at most one mode at a time.
func (g *Guard) RLatch() {
	g.page.RLatch()
	g.latchMode = latchRead
}

func (g *Guard) WLatch() {
	g.page.WLatch()
	g.latchMode = latchWrite
}

// Unlatch releases whichever latch mode is currently held, if any. It is
// safe to call before Drop to release the content latch early while still
// holding the pin; a later Drop then only unpins.
func (g *Guard) Unlatch() {
	switch g.latchMode {
	case latchRead:
		g.page.RUnlatch()
	case latchWrite:
		g.page.WUnlatch()
	}
	g.latchMode = latchNone
}

// MarkDirty records that this guard's writes must be flushed eventually.
func (g *Guard) MarkDirty() { g.dirty = true }

// Drop releases the content latch (if held) and unpins the page. It is
// idempotent: calling Drop more than once only unpins once.
func (g *Guard) Drop() {
	g.once.Do(func() {
		g.Unlatch()
		g.bpm.UnpinPage(g.id, g.dirty)
	})
}
