package buffer_pool

import (
	"container/list"
	"sync"

	"github.com/zhukovaskychina/xbufpool/util"
)

// In-process collaborator implementations. They exist to wire the engine
// in the demo command and in tests; a real storage layer supplies its own.

// MapPageHash is a PageHash over a plain map keyed by the xxhash fold of
// the page address. Synchronization is the caller's: the engine always
// calls it under the pool mutex.
type MapPageHash struct {
	items map[uint64]*BufferPage
}

// NewMapPageHash returns an empty page hash.
func NewMapPageHash() *MapPageHash {
	return &MapPageHash{items: make(map[uint64]*BufferPage)}
}

// Lookup returns the resident descriptor for the address, or nil.
func (h *MapPageHash) Lookup(spaceId uint32, pageNo uint32) *BufferPage {
	return h.items[util.PageAddressFold(spaceId, pageNo)]
}

// Insert registers a descriptor under its address.
func (h *MapPageHash) Insert(page *BufferPage) {
	h.items[util.PageAddressFold(page.spaceId, page.pageNo)] = page
}

// Delete removes the descriptor's address entry.
func (h *MapPageHash) Delete(page *BufferPage) {
	delete(h.items, util.PageAddressFold(page.spaceId, page.pageNo))
}

// ListFlusher keeps the flush set as a list ordered newest-first. It never
// writes anything; FreeMargin is a no-op. Good enough for tests and for
// the demo, where dirty pages are dropped rather than written.
type ListFlusher struct {
	list *list.List
}

// NewListFlusher returns an empty flush set.
func NewListFlusher() *ListFlusher {
	return &ListFlusher{list: list.New()}
}

// Add prepends the descriptor to the flush set.
func (f *ListFlusher) Add(page *BufferPage) {
	page.flushElem = f.list.PushFront(page)
}

// Remove takes the descriptor out of the flush set and marks it clean. A
// compressed-only dirty descriptor becomes a clean one.
func (f *ListFlusher) Remove(page *BufferPage) {
	if page.flushElem != nil {
		f.list.Remove(page.flushElem)
		page.flushElem = nil
	}
	page.oldestModification = 0
	if page.State() == BUF_BLOCK_ZIP_DIRTY {
		page.setState(BUF_BLOCK_ZIP_PAGE)
	}
}

// Relocate replaces oldPage with newPage at the same flush-set position.
func (f *ListFlusher) Relocate(oldPage *BufferPage, newPage *BufferPage) {
	if oldPage.flushElem == nil {
		return
	}
	newPage.flushElem = f.list.InsertAfter(newPage, oldPage.flushElem)
	f.list.Remove(oldPage.flushElem)
	oldPage.flushElem = nil
	oldPage.oldestModification = 0
}

// Last returns the oldest entry of the flush set.
func (f *ListFlusher) Last() *BufferPage {
	e := f.list.Back()
	if e == nil {
		return nil
	}
	return e.Value.(*BufferPage)
}

// Prev returns the entry added after page, walking towards the newest.
func (f *ListFlusher) Prev(page *BufferPage) *BufferPage {
	if page.flushElem == nil {
		return nil
	}
	e := page.flushElem.Prev()
	if e == nil {
		return nil
	}
	return e.Value.(*BufferPage)
}

// FreeMargin is a no-op; there is no write-back here.
func (f *ListFlusher) FreeMargin(lru bool, hint uint32) {}

// Len returns the flush set size.
func (f *ListFlusher) Len() int {
	return f.list.Len()
}

// HeapBuddy allocates compressed frames straight from the Go heap and
// descriptors with new. Free is a release of the reference only.
type HeapBuddy struct {
	mu        sync.Mutex
	allocated int
}

// NewHeapBuddy returns a heap-backed buddy allocator.
func NewHeapBuddy() *HeapBuddy {
	return &HeapBuddy{}
}

// Alloc returns a compressed frame of the given size.
func (b *HeapBuddy) Alloc(size uint32) []byte {
	b.mu.Lock()
	b.allocated++
	b.mu.Unlock()
	return make([]byte, size)
}

// Free releases a compressed frame.
func (b *HeapBuddy) Free(data []byte) {
	b.mu.Lock()
	b.allocated--
	b.mu.Unlock()
}

// AllocDescriptor returns a blank standalone descriptor.
func (b *HeapBuddy) AllocDescriptor() *BufferPage {
	return new(BufferPage)
}

// FreeDescriptor drops a standalone descriptor.
func (b *HeapBuddy) FreeDescriptor(page *BufferPage) {}

// Outstanding returns the number of live compressed frames.
func (b *HeapBuddy) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocated
}

// NoAdaptiveHash is an AdaptiveHash with no entries.
type NoAdaptiveHash struct{}

func (NoAdaptiveHash) DropPage(spaceId uint32, zipSize uint32, pageNo uint32) {}

func (NoAdaptiveHash) DropIndex(block *BufferBlock) {
	if block != nil {
		block.ahiIndex = false
	}
}

func (NoAdaptiveHash) HasIndex(block *BufferBlock) bool {
	return block != nil && block.ahiIndex
}

// MemFileLayer is a FileLayer over an in-memory space catalog. Reads are
// recorded, not performed; Reads lets tests observe prefetch traffic.
type MemFileLayer struct {
	mu sync.Mutex

	spaces map[uint32]memSpace

	lruCounts map[uint32]int
	reads     []memRead
	wakeups   int

	// OnRead, when set, is invoked outside the engine's mutexes for every
	// issued read; the demo uses it to fault pages in.
	OnRead func(spaceId uint32, pageNo uint32)
}

type memSpace struct {
	zipSize uint32
	pages   uint32
	version int64
}

type memRead struct {
	spaceId uint32
	pageNo  uint32
}

// NewMemFileLayer returns an empty catalog.
func NewMemFileLayer() *MemFileLayer {
	return &MemFileLayer{
		spaces:    make(map[uint32]memSpace),
		lruCounts: make(map[uint32]int),
	}
}

// AddSpace registers a tablespace with the given page count. zipSize 0
// means uncompressed.
func (m *MemFileLayer) AddSpace(spaceId uint32, zipSize uint32, pages uint32) {
	m.mu.Lock()
	m.spaces[spaceId] = memSpace{zipSize: zipSize, pages: pages, version: 1}
	m.mu.Unlock()
}

// ZipSize implements FileLayer.
func (m *MemFileLayer) ZipSize(spaceId uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spaces[spaceId]
	if !ok {
		return 0, false
	}
	return s.zipSize, true
}

// ExtentExists implements FileLayer.
func (m *MemFileLayer) ExtentExists(spaceId uint32, pageNo uint32, count uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spaces[spaceId]
	return ok && pageNo+count <= s.pages
}

// Version implements FileLayer.
func (m *MemFileLayer) Version(spaceId uint32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spaces[spaceId].version
}

// AddLRUCount implements FileLayer.
func (m *MemFileLayer) AddLRUCount(spaceId uint32, delta int) {
	m.mu.Lock()
	m.lruCounts[spaceId] += delta
	m.mu.Unlock()
}

// LRUCount returns the tracked resident count for a space.
func (m *MemFileLayer) LRUCount(spaceId uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lruCounts[spaceId]
}

// ReadPageAsync implements FileLayer.
func (m *MemFileLayer) ReadPageAsync(spaceId uint32, pageNo uint32, version int64) bool {
	m.mu.Lock()
	s, ok := m.spaces[spaceId]
	if !ok || s.version != version || pageNo >= s.pages {
		m.mu.Unlock()
		return false
	}
	m.reads = append(m.reads, memRead{spaceId: spaceId, pageNo: pageNo})
	onRead := m.OnRead
	m.mu.Unlock()

	if onRead != nil {
		onRead(spaceId, pageNo)
	}
	return true
}

// WakeIOHandlers implements FileLayer.
func (m *MemFileLayer) WakeIOHandlers() {
	m.mu.Lock()
	m.wakeups++
	m.mu.Unlock()
}

// Reads returns the issued read requests in order.
func (m *MemFileLayer) Reads() []memRead {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memRead, len(m.reads))
	copy(out, m.reads)
	return out
}
