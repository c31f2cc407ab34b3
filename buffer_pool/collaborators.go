package buffer_pool

// The replacement engine talks to the rest of the storage layer through
// the contracts below. The pool never reaches past them: the page hash,
// flush scheduling, compressed-frame storage, the adaptive hash index and
// the file layer all live outside this package.

// PageHash is the lookup index from (space, page) to the resident
// descriptor. Calls are made under the pool mutex.
type PageHash interface {
	Lookup(spaceId uint32, pageNo uint32) *BufferPage
	Insert(page *BufferPage)
	Delete(page *BufferPage)
}

// Flusher owns the flush set of dirty descriptors and the write-back
// machinery. Add/Remove/Relocate are called under the pool mutex; Last and
// Prev iterate the flush set oldest-to-newest under the pool mutex.
// FreeMargin may block and is only called with no engine mutex held.
//
// Remove must clear the page's oldest modification and demote a ZIP_DIRTY
// descriptor to ZIP_PAGE. Relocate must transfer the flush set entry and
// the dirtiness from the old descriptor to the new one.
type Flusher interface {
	Add(page *BufferPage)
	Remove(page *BufferPage)
	Relocate(oldPage *BufferPage, newPage *BufferPage)
	Last() *BufferPage
	Prev(page *BufferPage) *BufferPage

	// FreeMargin asks the flusher to produce free-list margin. lru selects
	// the LRU-tail flush variant; hint is the number of blocks the caller
	// already scanned without success.
	FreeMargin(lru bool, hint uint32)
}

// BuddyAllocator manages storage for compressed frames and standalone
// compressed-page descriptors.
type BuddyAllocator interface {
	Free(data []byte)
	AllocDescriptor() *BufferPage
	FreeDescriptor(page *BufferPage)
}

// AdaptiveHash is the adaptive hash index attached to uncompressed pages.
// DropPage acquires page latches internally and must not be called with
// engine mutexes held.
type AdaptiveHash interface {
	DropPage(spaceId uint32, zipSize uint32, pageNo uint32)
	DropIndex(block *BufferBlock)
	HasIndex(block *BufferBlock) bool
}

// FileLayer is the tablespace metadata and read surface used by bulk
// operations and the LRU restore path.
type FileLayer interface {
	// ZipSize returns the compressed page size of the space, 0 for an
	// uncompressed space. ok is false when the space does not exist.
	ZipSize(spaceId uint32) (zipSize uint32, ok bool)

	// ExtentExists reports whether count pages starting at pageNo are
	// backed by the data file.
	ExtentExists(spaceId uint32, pageNo uint32, count uint32) bool

	// Version returns the tablespace version used to fence async reads.
	Version(spaceId uint32) int64

	// AddLRUCount adjusts the per-space resident page count used for the
	// file layer's fairness accounting.
	AddLRUCount(spaceId uint32, delta int)

	// ReadPageAsync issues an asynchronous prefetch read. It reports
	// whether a read was actually issued.
	ReadPageAsync(spaceId uint32, pageNo uint32, version int64) bool

	// WakeIOHandlers wakes the simulated AIO handler threads.
	WakeIOHandlers()
}
