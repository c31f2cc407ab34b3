package buffer_pool

const (
	// BUF_LRU_OLD_RATIO_DIV is the denominator of the old ratio: the ratio
	// is stored in units of 1/1024 of the LRU list length.
	BUF_LRU_OLD_RATIO_DIV = 1024

	// BUF_LRU_OLD_RATIO_MIN and BUF_LRU_OLD_RATIO_MAX bound the stored
	// ratio, corresponding to roughly 5% and 95%.
	BUF_LRU_OLD_RATIO_MIN = 51
	BUF_LRU_OLD_RATIO_MAX = 972

	// BUF_LRU_OLD_TOLERANCE is the allowed drift, in blocks, between the
	// actual old-sublist length and its target. It must stay small enough
	// that LRU_old can never point at either end of the list.
	BUF_LRU_OLD_TOLERANCE = 20

	// BUF_LRU_OLD_MIN_LEN is the LRU length at which the old sublist comes
	// into existence.
	BUF_LRU_OLD_MIN_LEN = 80

	// BUF_LRU_NON_OLD_MIN_LEN is the minimum number of non-old blocks when
	// the old sublist exists.
	BUF_LRU_NON_OLD_MIN_LEN = 5

	// BUF_LRU_DROP_SEARCH_SIZE is the batch size for dropping adaptive
	// hash entries, and the yield period of the flush-set walk. The pool
	// mutex is released between batches so large pools do not stall other
	// threads.
	BUF_LRU_DROP_SEARCH_SIZE = 1024

	// BUF_LRU_STAT_N_INTERVAL is the number of one-second samples kept in
	// the I/O vs decompress history.
	BUF_LRU_STAT_N_INTERVAL = 50

	// BUF_LRU_FREE_SEARCH_LEN caps the first LRU scan of a free-block
	// search when the fast free list mode is on.
	BUF_LRU_FREE_SEARCH_LEN = 100
)

// spaceIDUndefined marks "no space" in eviction accounting.
const spaceIDUndefined = ^uint32(0)
