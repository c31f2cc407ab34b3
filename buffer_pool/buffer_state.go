package buffer_pool

// BufferPageState is the lifecycle state of a page descriptor.
//
// Most descriptors sit in BUF_BLOCK_NOT_USED (free list) or
// BUF_BLOCK_FILE_PAGE (LRU list); the remaining states are short-lived
// transitions around allocation, eviction and compressed-only residency.
type BufferPageState uint8

const (
	// BUF_BLOCK_ZIP_FREE is the terminal state of a standalone compressed
	// descriptor whose storage has been returned to the buddy allocator.
	BUF_BLOCK_ZIP_FREE BufferPageState = iota

	// BUF_BLOCK_ZIP_PAGE holds a clean compressed page without an
	// uncompressed frame.
	BUF_BLOCK_ZIP_PAGE

	// BUF_BLOCK_ZIP_DIRTY holds a compressed page that is in the flush set.
	BUF_BLOCK_ZIP_DIRTY

	// BUF_BLOCK_NOT_USED means the descriptor is in the free list.
	BUF_BLOCK_NOT_USED

	// BUF_BLOCK_READY_FOR_USE is the state of a block just handed out by
	// GetFreeBlock. The block is in no list.
	BUF_BLOCK_READY_FOR_USE

	// BUF_BLOCK_FILE_PAGE holds a resident file page; in the LRU list.
	BUF_BLOCK_FILE_PAGE

	// BUF_BLOCK_MEMORY holds a main-memory object; in no list.
	BUF_BLOCK_MEMORY

	// BUF_BLOCK_REMOVE_HASH means the page hash entry has been removed but
	// the block has not yet reached the free list. Observers never see a
	// descriptor both hashed and free-listed.
	BUF_BLOCK_REMOVE_HASH
)

func (s BufferPageState) String() string {
	switch s {
	case BUF_BLOCK_ZIP_FREE:
		return "ZIP_FREE"
	case BUF_BLOCK_ZIP_PAGE:
		return "ZIP_PAGE"
	case BUF_BLOCK_ZIP_DIRTY:
		return "ZIP_DIRTY"
	case BUF_BLOCK_NOT_USED:
		return "NOT_USED"
	case BUF_BLOCK_READY_FOR_USE:
		return "READY_FOR_USE"
	case BUF_BLOCK_FILE_PAGE:
		return "FILE_PAGE"
	case BUF_BLOCK_MEMORY:
		return "MEMORY"
	case BUF_BLOCK_REMOVE_HASH:
		return "REMOVE_HASH"
	}
	return "UNKNOWN"
}

// BufferIOFix marks a pending I/O on a descriptor.
type BufferIOFix uint8

const (
	BUF_IO_NONE BufferIOFix = iota
	BUF_IO_READ
	BUF_IO_WRITE
)

// BufferRemoveStrategy selects how FlushOrRemovePages treats the pages of
// a tablespace.
type BufferRemoveStrategy uint8

const (
	// BUF_REMOVE_ALL_NO_WRITE removes every page of the space from the
	// pool without writing or syncing. The DISCARD TABLESPACE case.
	BUF_REMOVE_ALL_NO_WRITE BufferRemoveStrategy = iota + 1

	// BUF_REMOVE_FLUSH_NO_WRITE drops the space's dirty pages from the
	// flush set without writing; pages stay in the LRU and age out. The
	// DROP TABLE case, where the caller already cleared the adaptive hash.
	BUF_REMOVE_FLUSH_NO_WRITE
)
