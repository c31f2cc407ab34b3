package buffer_pool

import (
	"container/list"
	"runtime"
	"time"

	"github.com/zhukovaskychina/xbufpool/logger"
)

// Tablespace bulk operations: everything that walks the pool under a
// space id. The walks release the pool mutex periodically, anchoring their
// position with a sticky page so iteration survives the yield.

// FlushOrRemovePages removes the pages of a tablespace from the pool.
//
// BUF_REMOVE_ALL_NO_WRITE (DISCARD): drop the adaptive hash entries in
// batches, then evict every page of the space, dirty or not, issuing no
// writes. BUF_REMOVE_FLUSH_NO_WRITE (DROP, the caller has already cleared
// the adaptive hash): drop the space's dirty pages from the flush set
// without writing; the pages stay in the LRU and age out normally.
func (p *Pool) FlushOrRemovePages(spaceId uint32, strategy BufferRemoveStrategy) {
	switch strategy {
	case BUF_REMOVE_ALL_NO_WRITE:
		// The batched drop is a best effort; the per-page walk below
		// catches whatever it missed.
		p.dropPageHashForTablespace(spaceId)
		p.removeAllPages(spaceId)

	case BUF_REMOVE_FLUSH_NO_WRITE:
		p.flushDirtyPages(spaceId)

	default:
		logger.Fatalf("unknown remove strategy %d", strategy)
	}
}

// dropPageHashBatch drops the collected adaptive hash entries one by one.
// No engine mutex may be held: each drop latches the page internally.
func (p *Pool) dropPageHashBatch(spaceId uint32, zipSize uint32, pages []uint32) {
	for _, pageNo := range pages {
		p.ahi.DropPage(spaceId, zipSize, pageNo)
	}
}

// dropPageHashForTablespace drops adaptive hash entries for a space in
// batches of BUF_LRU_DROP_SEARCH_SIZE, releasing the pool mutex between
// batches. Best effort: pages entering the LRU concurrently may be
// missed; the caller's per-page walk fills the gap. Returns the number of
// pages that might have been hashed.
func (p *Pool) dropPageHashForTablespace(spaceId uint32) uint32 {
	zipSize, ok := p.files.ZipSize(spaceId)
	if !ok {
		// Somehow the tablespace does not exist. Nothing to drop.
		logger.Warnf("dropping hash entries of missing tablespace %d", spaceId)
		return 0
	}

	pageArr := make([]uint32, 0, BUF_LRU_DROP_SEARCH_SIZE)
	numFound := uint32(0)

	var e *list.Element

	p.mu.Lock()

scanAgain:
	e = p.lru.Back()

	for e != nil {
		page := e.Value.(*BufferPage)
		prevElem := e.Prev()

		// Compressed-only pages are never hashed. Skip other spaces and
		// I/O-fixed blocks, which are dealt with later.
		if page.state != BUF_BLOCK_FILE_PAGE ||
			page.spaceId != spaceId ||
			page.ioFix != BUF_IO_NONE {
			e = prevElem
			continue
		}

		page.mu.Lock()
		isFixed := page.bufFixCount > 0 || !p.ahi.HasIndex(page.block)
		page.mu.Unlock()

		if isFixed {
			e = prevElem
			continue
		}

		pageArr = append(pageArr, page.pageNo)
		numFound++

		if len(pageArr) < BUF_LRU_DROP_SEARCH_SIZE {
			e = prevElem
			continue
		}

		// Batch full. Release the pool mutex to obey the latching order,
		// drop, reacquire. prevElem can go stale meanwhile; that only
		// costs coverage, which the per-page walk restores.
		p.mu.Unlock()
		p.dropPageHashBatch(spaceId, zipSize, pageArr)
		p.mu.Lock()
		pageArr = pageArr[:0]

		// If the current page left the LRU during the batch, restart.
		if page.state != BUF_BLOCK_FILE_PAGE {
			goto scanAgain
		}

		e = prevElem
	}

	p.mu.Unlock()

	// Drop any remaining batch.
	p.dropPageHashBatch(spaceId, zipSize, pageArr)

	return numFound
}

// removeAllPages evicts every page of a space from the pool, regardless of
// dirtiness, without writing. I/O-fixed or pinned pages make the walk loop
// with a short sleep until they drain.
func (p *Pool) removeAllPages(spaceId uint32) {
scanAgain:
	p.mu.Lock()

	allFreed := true
	removedCount := 0

	for e := p.lru.Back(); e != nil; {
		page := e.Value.(*BufferPage)
		prevElem := e.Prev()

		if !page.InFile() {
			logger.Fatalf("LRU holds block in state %s", page.state)
		}

		if page.spaceId != spaceId {
			e = prevElem
			continue
		}

		if page.ioFix != BUF_IO_NONE {
			// Being read in or written out; retry after the I/O ends.
			allFreed = false
			e = prevElem
			continue
		}

		page.mu.Lock()
		if page.bufFixCount > 0 {
			page.mu.Unlock()
			allFreed = false
			e = prevElem
			continue
		}

		logger.Debugf("Dropping space %d page %d", page.spaceId, page.pageNo)

		if page.state == BUF_BLOCK_FILE_PAGE && p.ahi.HasIndex(page.block) {
			// A hash entry survived the batched drop. Dropping it takes
			// page latches, so both mutexes go first, then the whole
			// scan restarts.
			pageNo := page.pageNo
			zipSize := page.ZipSize()

			p.mu.Unlock()
			page.mu.Unlock()

			if removedCount > 0 {
				p.files.AddLRUCount(spaceId, -removedCount)
			}

			p.ahi.DropPage(spaceId, zipSize, pageNo)

			goto scanAgain
		}

		if page.oldestModification != 0 {
			// Dropped, not written.
			p.flusher.Remove(page)
		}

		p.freeOnePage(page)
		page.mu.Unlock()
		removedCount++

		e = prevElem
	}

	p.mu.Unlock()

	if removedCount > 0 {
		p.files.AddLRUCount(spaceId, -removedCount)
	}

	if !allFreed {
		if p.shuttingDown() {
			return
		}
		time.Sleep(20 * time.Millisecond)
		goto scanAgain
	}
}

// flushYield parks the walk on page, marked sticky so its flush-set
// position survives, releases both mutexes and forces a context switch.
// Pool mutex held on entry and on return.
func (p *Pool) flushYield(page *BufferPage) {
	page.mu.Lock()
	page.setSticky()

	p.mu.Unlock()
	page.mu.Unlock()

	runtime.Gosched()

	p.mu.Lock()

	page.mu.Lock()
	page.unsetSticky()
	page.mu.Unlock()
}

// flushTryYield yields every BUF_LRU_DROP_SEARCH_SIZE processed pages,
// provided the anchor page is not I/O-fixed. Reports whether it yielded.
func (p *Pool) flushTryYield(page *BufferPage, processed int) bool {
	if page != nil && processed >= BUF_LRU_DROP_SEARCH_SIZE && page.ioFix == BUF_IO_NONE {
		p.flushYield(page)
		return true
	}
	return false
}

// flushOrRemovePage drops one page from the flush set without writing.
// Reports false when the page is pinned or I/O-fixed and must be retried.
// Pool mutex held.
func (p *Pool) flushOrRemovePage(page *BufferPage) bool {
	if page.ioFix != BUF_IO_NONE {
		// Currently being read in or flushed; not removable this scan.
		return false
	}

	processed := false

	page.mu.Lock()
	if page.bufFixCount == 0 {
		if page.oldestModification == 0 {
			logger.Fatalf("clean page %d:%d in the flush set", page.spaceId, page.pageNo)
		}
		p.flusher.Remove(page)
		processed = true
	}
	page.mu.Unlock()

	return processed
}

// flushOrRemovePagesLocked walks the flush set oldest-first and drops
// every dirty page of the space. Reports whether the space came out fully
// clean. Pool mutex held.
func (p *Pool) flushOrRemovePagesLocked(spaceId uint32) bool {
	processed := 0
	allFreed := true

	for page := p.flusher.Last(); page != nil; {
		// The previous link is saved first: freeing the page invalidates it.
		prev := p.flusher.Prev(page)

		if page.spaceId != spaceId {
			// Not ours; skip.
		} else if !p.flushOrRemovePage(page) {
			// Removal failed; rescan from the flush set tail.
			allFreed = false
		}

		processed++

		if p.flushTryYield(prev, processed) {
			// Start a fresh batch after the yield.
			processed = 0
		}

		page = prev
	}

	return allFreed
}

// flushDirtyPages drains the space's dirty pages from the flush set,
// looping with a short sleep while pinned or I/O-fixed pages hold it up.
func (p *Pool) flushDirtyPages(spaceId uint32) {
	for {
		p.mu.Lock()
		allFreed := p.flushOrRemovePagesLocked(spaceId)
		p.mu.Unlock()

		if allFreed {
			return
		}
		if p.shuttingDown() {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}
}
