package buffer_pool

import (
	"container/list"

	"github.com/zhukovaskychina/xbufpool/logger"
	"github.com/zhukovaskychina/xbufpool/util"
)

// Eviction. Two victim sources exist: the unzip-LRU, where only the
// uncompressed frame is shed (so even dirty blocks qualify), and the
// common LRU, where the whole block goes and must therefore be clean.

// evictFromUnzipLRU decides whether the unzip-LRU should supply the next
// victim. Pool mutex required.
//
// The unzip-LRU is used only when it holds more than unzipLRUPct percent
// of the LRU; below that the decompressed pages are presumed hot enough to
// keep. Before the first eviction the workload is assumed disk bound.
// Afterwards the smoothed counters decide: an I/O-bound load sheds
// uncompressed frames to make room for distinct residents, a CPU-bound
// load keeps them to avoid re-decompressing.
func (p *Pool) evictFromUnzipLRU() bool {
	unzipLen := p.unzipLRU.Len()
	if unzipLen == 0 {
		return false
	}

	lruLen := p.lru.Len()
	if lruLen < 1 {
		lruLen = 1
	}

	if uint32(100*unzipLen/lruLen) <= p.unzipLRUPct {
		return false
	}

	if p.freedPageClock == 0 {
		return true
	}

	ioAvg, unzipAvg := p.statAverages()
	return unzipAvg <= ioAvg*float64(p.ioToUnzipFactor)
}

// freeFromUnzipLRU tries to shed an uncompressed frame from the unzip-LRU
// tail. The search horizon widens with the caller's iteration count; from
// the fifth round on (nIterations >= 5) the unzip-LRU is skipped in favour
// of the common LRU.
// Pool mutex required; released and retaken when a block is freed.
func (p *Pool) freeFromUnzipLRU(nIterations uint32) bool {
	if nIterations >= 5 || !p.evictFromUnzipLRU() {
		return false
	}

	distance := 100 + nIterations*uint32(p.unzipLRU.Len())/5

	for e := p.unzipLRU.Back(); e != nil && distance > 0; distance-- {
		block := e.Value.(*BufferBlock)
		prev := e.Prev()

		page := block.BufferPage
		if page.state != BUF_BLOCK_FILE_PAGE || page.lruElem == nil {
			logger.Fatalf("unzip-LRU holds block in state %s", page.state)
		}

		page.mu.Lock()
		freed, removed := p.freeBlock(page, false)
		page.mu.Unlock()

		// With a partial free the compressed page must stay in the LRU.
		if removed {
			logger.Fatalf("compressed page left the LRU during partial eviction")
		}

		if freed {
			return true
		}

		e = prev
	}

	return false
}

// freeFromCommonLRU tries to free a clean block from the LRU tail. With a
// nonzero limit the scan visits at most limit blocks; otherwise the
// horizon widens with the iteration count. Returns the space id of a block
// that fully left the LRU (spaceIDUndefined otherwise) and the number of
// blocks checked. Pool mutex required; released and retaken on success.
func (p *Pool) freeFromCommonLRU(nIterations uint32, limit uint32) (bool, uint32, uint32) {
	var distance uint32
	if limit == 0 {
		distance = 100 + nIterations*p.currSize/10
	} else {
		distance = limit
	}
	initDistance := distance

	for e := p.lru.Back(); e != nil && distance > 0; distance-- {
		page := e.Value.(*BufferPage)
		prev := e.Prev()

		if !page.InFile() || page.lruElem == nil {
			logger.Fatalf("LRU holds block in state %s", page.state)
		}

		page.mu.Lock()
		accessed := page.wasAccessed()
		spaceId := page.spaceId
		freed, removed := p.freeBlock(page, true)
		page.mu.Unlock()

		if freed {
			if !removed {
				spaceId = spaceIDUndefined
			}
			// Pages evicted without ever being read measure how much
			// readahead work was wasted.
			if !accessed {
				p.stat.incReadAheadEvicted()
			}
			return true, spaceId, initDistance - distance + 1
		}

		e = prev
	}

	return false, spaceIDUndefined, initDistance - distance
}

// searchAndFreeBlock looks for a replaceable block, unzip-LRU first. The
// caller holds the pool mutex; it is always released on return. When
// wantBlock is set and a block was freed, one free block is popped before
// the mutex is dropped and handed back to the caller.
func (p *Pool) searchAndFreeBlock(nIterations uint32, wantBlock bool) (freed bool, block *BufferBlock, nsearched uint32) {
	freed = p.freeFromUnzipLRU(nIterations)

	spaceId := spaceIDUndefined

	if !freed {
		// Cap the first scan when the fast free list mode is on and the
		// caller needs a block right now. Later iterations search without
		// a cap, so sustained pressure is not starved by the fast path.
		var limit uint32
		if wantBlock && p.fastFreeList && nIterations == 1 {
			limit = BUF_LRU_FREE_SEARCH_LEN
		}

		freed, spaceId, nsearched = p.freeFromCommonLRU(nIterations, limit)
	}

	if !freed {
		p.lruFlushEnded = 0
	} else {
		if p.lruFlushEnded > 0 {
			p.lruFlushEnded--
		}
		if wantBlock {
			block = p.popFree()
		}
	}

	p.mu.Unlock()

	if spaceId != spaceIDUndefined {
		p.files.AddLRUCount(spaceId, -1)
	}

	return freed, block, nsearched
}

// SearchAndFree tries to free one replaceable block and reports success.
func (p *Pool) SearchAndFree(nIterations uint32) bool {
	p.mu.Lock()
	freed, _, _ := p.searchAndFreeBlock(nIterations, false)
	return freed
}

// TryFreeFlushedBlocks moves blocks written by an LRU flush from the LRU
// tail to the free list, so their flush work is not wasted on a page that
// would get modified again before eviction.
func (p *Pool) TryFreeFlushedBlocks() {
	p.mu.Lock()

	for p.lruFlushEnded > 0 {
		p.mu.Unlock()

		p.SearchAndFree(1)

		p.mu.Lock()
	}

	p.mu.Unlock()
}

// freeBlock tries to free one block. zip selects a complete free including
// the compressed frame; with zip false and a compressed frame present only
// the uncompressed frame is shed and a standalone compressed descriptor
// takes the block's place in the LRU, the page hash and the flush set.
//
// The caller holds the pool mutex and the block mutex. When the block is
// freed both mutexes are released and retaken around the hash-index drop
// and checksum window; the relocated descriptor is sticky across it so no
// other thread mistakes it for a live decompression target.
//
// removed reports whether the page left the LRU entirely.
func (p *Pool) freeBlock(page *BufferPage, zip bool) (freed bool, removed bool) {
	if (page.flushElem == nil) != (page.oldestModification == 0) {
		logger.Fatalf("flush set membership out of sync (space %d page %d)",
			page.spaceId, page.pageNo)
	}

	if !page.canRelocate() {
		// Buffer-fixed, I/O-fixed or sticky blocks are not victims.
		return false, false
	}

	var b *BufferPage

	if zip || page.zipData == nil {
		// This would free the whole block; dirty blocks are the
		// flusher's business.
		if page.oldestModification != 0 {
			return false, false
		}
	} else if page.oldestModification != 0 {
		if page.state != BUF_BLOCK_FILE_PAGE {
			if page.state != BUF_BLOCK_ZIP_DIRTY {
				logger.Fatalf("dirty block in state %s", page.state)
			}
			return false, false
		}
		b = p.buddy.AllocDescriptor()
	} else if page.state == BUF_BLOCK_FILE_PAGE {
		b = p.buddy.AllocDescriptor()
	}

	var prevElem *list.Element
	if b != nil {
		b.spaceId = page.spaceId
		b.pageNo = page.pageNo
		b.newestModification = page.newestModification
		b.oldestModification = page.oldestModification
		b.accessTime = page.accessTime
		b.old = page.old
		b.freedPageClock = page.freedPageClock
		b.zipData = page.zipData
		b.zipSize = page.zipSize
		prevElem = page.lruElem.Prev()
	}

	removed = true
	oldBlock := page.block

	if p.removeHashedPage(page, zip) != BUF_BLOCK_ZIP_FREE {
		if page.bufFixCount != 0 {
			logger.Fatalf("evicted block still buffer-fixed")
		}

		if b != nil {
			if hashed := p.pageHash.Lookup(b.spaceId, b.pageNo); hashed != nil {
				logger.Fatalf("page %d:%d still hashed during relocation",
					b.spaceId, b.pageNo)
			}

			if b.oldestModification != 0 {
				b.state = BUF_BLOCK_ZIP_DIRTY
			} else {
				b.state = BUF_BLOCK_ZIP_PAGE
			}

			b.inPageHash = true
			p.pageHash.Insert(b)

			removed = false

			// Splice b in at the victim's exact LRU position.
			if prevElem != nil {
				b.lruElem = p.lru.InsertAfter(b, prevElem)

				if b.old {
					p.lruOldLen++
					if p.lruOld == b.lruElem.Next() {
						p.lruOld = b.lruElem
					}
				}

				lruLen := uint32(p.lru.Len())
				if lruLen > BUF_LRU_OLD_MIN_LEN {
					p.oldAdjustLen()
				} else if lruLen == BUF_LRU_OLD_MIN_LEN {
					p.oldInit()
				}
			} else {
				p.lruAddBlock(b, b.old)
			}

			if b.state == BUF_BLOCK_ZIP_PAGE {
				if p.config.DebugChecks {
					p.insertZipClean(b)
				}
			} else {
				p.flusher.Relocate(page, b)
			}

			page.zipData = nil
			page.zipSize = 0

			// Keep other threads from treating b as a decompression
			// source while we run unlatched below.
			p.zipMu.Lock()
			b.mu.Lock()
			b.setSticky()
			b.mu.Unlock()
			p.zipMu.Unlock()
		}

		p.mu.Unlock()
		page.mu.Unlock()

		// Drop any adaptive hash entries of the evicted frame while no
		// engine mutex is held.
		p.ahi.DropIndex(oldBlock)

		if b != nil && (b.state == BUF_BLOCK_ZIP_DIRTY || p.config.DebugChecks) {
			// Stamp the compressed frame checksum while the descriptor is
			// sticky and unreachable for relocation.
			b.zipChecksum = util.Checksum32(b.zipData)
		}

		p.mu.Lock()
		page.mu.Lock()

		if b != nil {
			p.zipMu.Lock()
			b.mu.Lock()
			b.unsetSticky()
			b.mu.Unlock()
			p.zipMu.Unlock()
		}

		p.blockFreeHashedPage(oldBlock)
	}

	return true, removed
}

// removeHashedPage takes a block out of the LRU and the page hash. For a
// compressed-only block the descriptor and its storage are freed and
// ZIP_FREE is returned; otherwise the block is left in REMOVE_HASH for the
// caller to push onto the free list. Pool mutex and block mutex required.
func (p *Pool) removeHashedPage(page *BufferPage, zip bool) BufferPageState {
	if page.ioFix != BUF_IO_NONE || page.bufFixCount != 0 {
		logger.Fatalf("removing pinned page %d:%d from hash", page.spaceId, page.pageNo)
	}

	p.lruRemove(page)

	p.freedPageClock++

	switch page.state {
	case BUF_BLOCK_FILE_PAGE:
		if page.zipData != nil && zip && page.oldestModification != 0 {
			logger.Fatalf("completely freeing a dirty compressed page %d:%d",
				page.spaceId, page.pageNo)
		}
	case BUF_BLOCK_ZIP_PAGE:
		if page.oldestModification != 0 {
			logger.Fatalf("clean-compressed page %d:%d is dirty", page.spaceId, page.pageNo)
		}
	default:
		logger.Fatalf("evicting block in state %s", page.state)
	}

	hashed := p.pageHash.Lookup(page.spaceId, page.pageNo)
	if hashed != page {
		// The hash disagreeing with the LRU is corruption, not pressure.
		logger.Errorf("page %d %d not found in the hash table", page.spaceId, page.pageNo)
		logger.Fatalf("page hash and LRU list are inconsistent")
	}

	page.inPageHash = false
	p.pageHash.Delete(page)

	switch page.state {
	case BUF_BLOCK_ZIP_PAGE:
		if p.config.DebugChecks && page.zipCleanElem != nil {
			p.zipClean.Remove(page.zipCleanElem)
			page.zipCleanElem = nil
		}

		data := page.zipData
		page.zipData = nil
		page.zipSize = 0
		p.buddy.Free(data)

		page.state = BUF_BLOCK_ZIP_FREE
		p.buddy.FreeDescriptor(page)
		return BUF_BLOCK_ZIP_FREE

	case BUF_BLOCK_FILE_PAGE:
		// Poison the identity bytes so a stale reference is caught.
		if frame := page.block.frame; len(frame) >= 8 {
			for i := 0; i < 8; i++ {
				frame[i] = 0xFF
			}
		}

		page.state = BUF_BLOCK_REMOVE_HASH

		if zip && page.zipData != nil {
			data := page.zipData
			page.zipData = nil
			page.zipSize = 0
			p.buddy.Free(data)
		}

		return BUF_BLOCK_REMOVE_HASH
	}

	logger.Fatalf("unreachable state %s in removeHashedPage", page.state)
	return BUF_BLOCK_ZIP_FREE
}

// freeOnePage evicts a single page, dirty or not, and puts its block on
// the free list. The flush set entry must already be gone. Pool mutex and
// block mutex required.
func (p *Pool) freeOnePage(page *BufferPage) {
	oldBlock := page.block
	if p.removeHashedPage(page, true) != BUF_BLOCK_ZIP_FREE {
		p.blockFreeHashedPage(oldBlock)
	}
}

// insertZipClean files a clean compressed-only descriptor into the
// zip_clean list, keeping LRU order. Debug builds only. Pool mutex
// required.
func (p *Pool) insertZipClean(page *BufferPage) {
	// Find the first successor of page in the LRU that is ZIP_PAGE.
	var succ *BufferPage
	for e := page.lruElem.Next(); e != nil; e = e.Next() {
		bp := e.Value.(*BufferPage)
		if bp.state == BUF_BLOCK_ZIP_PAGE {
			succ = bp
			break
		}
	}

	if succ != nil && succ.zipCleanElem != nil {
		page.zipCleanElem = p.zipClean.InsertBefore(page, succ.zipCleanElem)
	} else {
		page.zipCleanElem = p.zipClean.PushFront(page)
	}
}
