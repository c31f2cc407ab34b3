package buffer_pool

import (
	"github.com/zhukovaskychina/xbufpool/logger"
)

// Free list operations. Pool mutex required throughout.

// popFree takes the first block off the free list and hands it out in
// state READY_FOR_USE, or returns nil when the list is empty.
func (p *Pool) popFree() *BufferBlock {
	e := p.free.Front()
	if e == nil {
		return nil
	}

	page := e.Value.(*BufferPage)
	if page.state != BUF_BLOCK_NOT_USED {
		logger.Fatalf("free list holds a block in state %s", page.state)
	}
	if page.lruElem != nil || page.flushElem != nil {
		logger.Fatalf("free block still linked into LRU or flush set")
	}

	p.free.Remove(e)
	page.freeElem = nil

	page.mu.Lock()
	page.state = BUF_BLOCK_READY_FOR_USE
	page.mu.Unlock()

	return page.block
}

// blockFreeNonFilePage returns a block holding no file page to the free
// list. Pool mutex and the block mutex are held by the caller.
func (p *Pool) blockFreeNonFilePage(block *BufferBlock) {
	page := block.BufferPage

	switch page.state {
	case BUF_BLOCK_MEMORY, BUF_BLOCK_READY_FOR_USE:
	default:
		logger.Fatalf("freeing block in state %s", page.state)
	}

	if page.bufFixCount != 0 || page.lruElem != nil || page.freeElem != nil || page.flushElem != nil {
		logger.Fatalf("freeing block still pinned or linked (space %d page %d)",
			page.spaceId, page.pageNo)
	}

	page.state = BUF_BLOCK_NOT_USED

	// Wipe the frame so stale readers trip over poison instead of data.
	if p.config.DebugChecks {
		for i := range block.frame {
			block.frame[i] = 0
		}
	} else if len(block.frame) >= 8 {
		for i := 0; i < 8; i++ {
			block.frame[i] = 0xFE
		}
	}

	if data := page.zipData; data != nil {
		page.zipData = nil
		page.zipSize = 0
		p.buddy.Free(data)
	}

	page.freeElem = p.free.PushFront(page)
}

// blockFreeHashedPage finishes the eviction of a REMOVE_HASH block: it is
// declared plain memory and pushed onto the free list.
func (p *Pool) blockFreeHashedPage(block *BufferBlock) {
	block.BufferPage.state = BUF_BLOCK_MEMORY
	p.blockFreeNonFilePage(block)
}

// prepareFreeBlock clears the compressed-frame reference of a block just
// handed out by GetFreeBlock.
func (p *Pool) prepareFreeBlock(block *BufferBlock) {
	page := block.BufferPage
	page.zipData = nil
	page.zipSize = 0
	page.zipChecksum = 0
}
