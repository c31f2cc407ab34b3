package buffer_pool

import (
	"fmt"
)

// Validate walks every list and checks the structural invariants: state
// versus membership, the old-sublist boundary and length, the unzip-LRU
// subset property and the free/LRU partition. It returns the first
// violation found, nil when the pool is consistent.
func (p *Pool) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	lruLen := uint32(p.lru.Len())

	if lruLen >= BUF_LRU_OLD_MIN_LEN {
		if p.lruOld == nil {
			return fmt.Errorf("LRU length %d but no old pointer", lruLen)
		}

		newLen := lruLen * p.oldRatio / BUF_LRU_OLD_RATIO_DIV
		if maxLen := lruLen - (BUF_LRU_OLD_TOLERANCE + BUF_LRU_NON_OLD_MIN_LEN); newLen > maxLen {
			newLen = maxLen
		}

		if p.lruOldLen+BUF_LRU_OLD_TOLERANCE < newLen {
			return fmt.Errorf("old sublist too short: %d, target %d", p.lruOldLen, newLen)
		}
		if p.lruOldLen > newLen+BUF_LRU_OLD_TOLERANCE {
			return fmt.Errorf("old sublist too long: %d, target %d", p.lruOldLen, newLen)
		}
	} else if p.lruOld != nil {
		return fmt.Errorf("LRU length %d below minimum but old pointer defined", lruLen)
	}

	oldLen := uint32(0)

	for e := p.lru.Front(); e != nil; e = e.Next() {
		page := e.Value.(*BufferPage)

		switch page.state {
		case BUF_BLOCK_FILE_PAGE:
			inUnzip := page.block != nil && page.block.unzipElem != nil
			if inUnzip != page.BelongsToUnzipLRU() {
				return fmt.Errorf("page %d:%d unzip-LRU membership mismatch",
					page.spaceId, page.pageNo)
			}
		case BUF_BLOCK_ZIP_PAGE, BUF_BLOCK_ZIP_DIRTY:
		default:
			return fmt.Errorf("page %d:%d in LRU with state %s",
				page.spaceId, page.pageNo, page.state)
		}

		if page.freeElem != nil {
			return fmt.Errorf("page %d:%d in both LRU and free list",
				page.spaceId, page.pageNo)
		}

		if (page.oldestModification != 0) != (page.flushElem != nil) {
			return fmt.Errorf("page %d:%d flush set membership out of sync",
				page.spaceId, page.pageNo)
		}

		if page.old {
			if oldLen == 0 && p.lruOld != e {
				return fmt.Errorf("first old page %d:%d is not LRU_old",
					page.spaceId, page.pageNo)
			}
			oldLen++
			if next := e.Next(); next != nil && !next.Value.(*BufferPage).old {
				return fmt.Errorf("old page %d:%d followed by a young one",
					page.spaceId, page.pageNo)
			}
		} else if oldLen != 0 {
			return fmt.Errorf("young page %d:%d inside the old suffix",
				page.spaceId, page.pageNo)
		}
	}

	if oldLen != p.lruOldLen {
		return fmt.Errorf("old sublist length %d, counted %d", p.lruOldLen, oldLen)
	}

	for e := p.free.Front(); e != nil; e = e.Next() {
		page := e.Value.(*BufferPage)
		if page.state != BUF_BLOCK_NOT_USED {
			return fmt.Errorf("free list holds page %d:%d in state %s",
				page.spaceId, page.pageNo, page.state)
		}
		if page.lruElem != nil {
			return fmt.Errorf("page %d:%d in both free list and LRU",
				page.spaceId, page.pageNo)
		}
	}

	for e := p.unzipLRU.Front(); e != nil; e = e.Next() {
		block := e.Value.(*BufferBlock)
		page := block.BufferPage
		if page.lruElem == nil {
			return fmt.Errorf("unzip-LRU block %d:%d not in the LRU",
				page.spaceId, page.pageNo)
		}
		if !page.BelongsToUnzipLRU() {
			return fmt.Errorf("unzip-LRU block %d:%d lacks a frame pair",
				page.spaceId, page.pageNo)
		}
	}

	return nil
}
