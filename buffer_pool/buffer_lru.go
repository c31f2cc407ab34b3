package buffer_pool

import (
	"github.com/zhukovaskychina/xbufpool/logger"
)

// LRU list maintenance. The list is doubly linked, front = most recently
// used. lruOld points at the first block of the old sublist; new residents
// enter there unless forced young, which is what makes a one-pass scan
// unable to displace the working set.
//
// Every function in this file requires the pool mutex.

// oldAdjustLen moves lruOld so that the old sublist length stays within
// BUF_LRU_OLD_TOLERANCE of its target share of the whole list.
func (p *Pool) oldAdjustLen() {
	if p.lruOld == nil {
		logger.Fatalf("adjusting old sublist with no old pointer")
	}

	lruLen := uint32(p.lru.Len())

	newLen := lruLen * p.oldRatio / BUF_LRU_OLD_RATIO_DIV
	if maxLen := lruLen - (BUF_LRU_OLD_TOLERANCE + BUF_LRU_NON_OLD_MIN_LEN); newLen > maxLen {
		newLen = maxLen
	}

	oldLen := p.lruOldLen

	for {
		lruOld := p.lruOld

		if p.config.DebugChecks {
			p.assertOldBoundary()
		}

		if oldLen+BUF_LRU_OLD_TOLERANCE < newLen {
			// Grow the old sublist: step the pointer towards the head.
			prev := lruOld.Prev()
			p.lruOld = prev
			p.lruOldLen++
			oldLen = p.lruOldLen
			prev.Value.(*BufferPage).old = true
		} else if oldLen > newLen+BUF_LRU_OLD_TOLERANCE {
			// Shrink it: step towards the tail.
			p.lruOld = lruOld.Next()
			p.lruOldLen--
			oldLen = p.lruOldLen
			lruOld.Value.(*BufferPage).old = false
		} else {
			return
		}
	}
}

// oldInit defines the old sublist once the LRU reaches BUF_LRU_OLD_MIN_LEN:
// every block is first marked old, the pointer is set to the head, then
// oldAdjustLen walks it into position.
func (p *Pool) oldInit() {
	if uint32(p.lru.Len()) != BUF_LRU_OLD_MIN_LEN {
		logger.Fatalf("old sublist init at length %d", p.lru.Len())
	}

	for e := p.lru.Back(); e != nil; e = e.Prev() {
		e.Value.(*BufferPage).old = true
	}

	p.lruOld = p.lru.Front()
	p.lruOldLen = uint32(p.lru.Len())

	p.oldAdjustLen()
}

// assertOldBoundary checks that lruOld is the first old block.
func (p *Pool) assertOldBoundary() {
	page := p.lruOld.Value.(*BufferPage)
	if !page.old {
		logger.Fatalf("LRU_old points at a non-old block (space %d page %d)",
			page.spaceId, page.pageNo)
	}
	if prev := p.lruOld.Prev(); prev != nil && prev.Value.(*BufferPage).old {
		logger.Fatalf("block before LRU_old is old")
	}
	if next := p.lruOld.Next(); next != nil && !next.Value.(*BufferPage).old {
		logger.Fatalf("block after LRU_old is not old")
	}
}

// unzipAddBlock adds a block to the unzip-LRU: tail when old, head
// otherwise.
func (p *Pool) unzipAddBlock(block *BufferBlock, old bool) {
	if !block.BufferPage.BelongsToUnzipLRU() {
		logger.Fatalf("block without both frames on unzip-LRU (space %d page %d)",
			block.GetSpaceID(), block.GetPageNo())
	}
	if block.unzipElem != nil {
		logger.Fatalf("block already on unzip-LRU")
	}

	if old {
		block.unzipElem = p.unzipLRU.PushBack(block)
	} else {
		block.unzipElem = p.unzipLRU.PushFront(block)
	}
}

// unzipRemoveIfNeeded takes the block off the unzip-LRU when it is there.
func (p *Pool) unzipRemoveIfNeeded(page *BufferPage) {
	if page.BelongsToUnzipLRU() && page.block != nil && page.block.unzipElem != nil {
		p.unzipLRU.Remove(page.block.unzipElem)
		page.block.unzipElem = nil
	}
}

// lruRemove unlinks a block from the LRU, maintaining the old pointer, the
// old flags and the unzip-LRU.
func (p *Pool) lruRemove(page *BufferPage) {
	if page.lruElem == nil {
		logger.Fatalf("removing block not in LRU (space %d page %d)",
			page.spaceId, page.pageNo)
	}

	// If lruOld points at this very block, shift it one step towards the
	// head; the tolerance guarantees a predecessor exists.
	if page.lruElem == p.lruOld {
		prev := page.lruElem.Prev()
		if prev == nil {
			logger.Fatalf("LRU_old at list head during removal")
		}
		p.lruOld = prev
		prev.Value.(*BufferPage).old = true
		p.lruOldLen++
	}

	p.lru.Remove(page.lruElem)
	page.lruElem = nil

	p.unzipRemoveIfNeeded(page)

	// Below the minimum length the old sublist does not exist.
	if uint32(p.lru.Len()) < BUF_LRU_OLD_MIN_LEN {
		for e := p.lru.Front(); e != nil; e = e.Next() {
			e.Value.(*BufferPage).old = false
		}
		p.lruOld = nil
		p.lruOldLen = 0
		return
	}

	if page.old {
		p.lruOldLen--
	}

	p.oldAdjustLen()
}

// lruAddToEnd appends a block at the LRU tail.
func (p *Pool) lruAddToEnd(page *BufferPage) {
	if page.lruElem != nil {
		logger.Fatalf("block already in LRU (space %d page %d)",
			page.spaceId, page.pageNo)
	}

	page.lruElem = p.lru.PushBack(page)

	lruLen := uint32(p.lru.Len())
	if lruLen > BUF_LRU_OLD_MIN_LEN {
		page.old = true
		p.lruOldLen++
		p.oldAdjustLen()
	} else if lruLen == BUF_LRU_OLD_MIN_LEN {
		p.oldInit()
	} else {
		page.old = p.lruOld != nil
	}

	if page.BelongsToUnzipLRU() {
		p.unzipAddBlock(page.block, true)
	}
}

// lruAddBlock inserts a block into the LRU: at the head when old is false,
// otherwise right behind lruOld, the first block of the old sublist. While
// the list is shorter than
// BUF_LRU_OLD_MIN_LEN everything goes to the head.
func (p *Pool) lruAddBlock(page *BufferPage, old bool) {
	if page.lruElem != nil {
		logger.Fatalf("block already in LRU (space %d page %d)",
			page.spaceId, page.pageNo)
	}

	if !old || uint32(p.lru.Len()) < BUF_LRU_OLD_MIN_LEN {
		page.lruElem = p.lru.PushFront(page)
		page.freedPageClock = p.freedPageClock
	} else {
		if p.config.DebugChecks {
			p.assertOldBoundary()
		}
		page.lruElem = p.lru.InsertAfter(page, p.lruOld)
		p.lruOldLen++
	}

	lruLen := uint32(p.lru.Len())
	if lruLen > BUF_LRU_OLD_MIN_LEN {
		page.old = old
		p.oldAdjustLen()
	} else if lruLen == BUF_LRU_OLD_MIN_LEN {
		p.oldInit()
	} else {
		page.old = p.lruOld != nil
	}

	if page.BelongsToUnzipLRU() {
		p.unzipAddBlock(page.block, old)
	}
}

// AddBlockToLRU inserts a resident block; old selects the old sublist.
func (p *Pool) AddBlockToLRU(page *BufferPage, old bool) {
	p.mu.Lock()
	p.lruAddBlock(page, old)
	p.mu.Unlock()
}

// makeBlockYoungLocked moves a block to the LRU head. Pool mutex held.
func (p *Pool) makeBlockYoungLocked(page *BufferPage) {
	if page.old {
		p.stat.incMadeYoung()
	}
	p.lruRemove(page)
	p.lruAddBlock(page, false)
}

// MakeBlockYoung moves a block to the head of the LRU list.
func (p *Pool) MakeBlockYoung(page *BufferPage) {
	p.mu.Lock()
	p.makeBlockYoungLocked(page)
	p.mu.Unlock()
}

// MakeBlockOld moves a block to the tail of the LRU list.
func (p *Pool) MakeBlockOld(page *BufferPage) {
	p.mu.Lock()
	p.lruRemove(page)
	p.lruAddToEnd(page)
	p.mu.Unlock()
}
