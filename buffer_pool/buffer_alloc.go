package buffer_pool

import (
	"time"

	"github.com/zhukovaskychina/xbufpool/logger"
)

// GetFreeBlock returns a block in state READY_FOR_USE, taken off the free
// list or evicted from the LRU. When neither works it asks the flusher for
// margin, waits for the AIO handlers and retries with a widened search
// horizon. The loop never blocks unboundedly: each round is bounded by
// mutex reacquisition plus, past ten rounds, a half-second sleep.
func (p *Pool) GetFreeBlock() *BufferBlock {
	nIterations := uint32(1)

	for {
		p.mu.Lock()

		avail := uint32(p.free.Len() + p.lru.Len())

		if avail < p.currSize/20 {
			// Over 95% of the pool is pinned or fixed. The caller
			// contract is broken; no amount of retrying will help.
			logger.Fatalf("over 95 percent of the buffer pool is occupied by "+
				"pinned or fixed blocks; pool size %d frames, %d available. "+
				"Check that accessors do not hold too many pins, or make "+
				"the pool bigger", p.currSize, avail)
		} else if avail < p.currSize/3 {
			if !p.monitorOn {
				// Over 67% occupied. Possibly a pin leak; start shouting.
				p.monitorOn = true
				logger.Warnf("over 67 percent of the buffer pool is occupied "+
					"by pinned or fixed blocks; pool size %d frames, %d "+
					"available. Maybe the pool should be bigger", p.currSize, avail)
			}
		} else if p.monitorOn {
			// Pressure receded.
			p.monitorOn = false
		}

		if block := p.popFree(); block != nil {
			p.mu.Unlock()
			p.prepareFreeBlock(block)
			return block
		}

		// Free list empty: hunt the LRU tail. Releases the pool mutex.
		freed, block, nsearched := p.searchAndFreeBlock(nIterations, true)

		if block != nil {
			p.prepareFreeBlock(block)
			return block
		}

		if freed {
			continue
		}

		if nIterations > 30 {
			logger.Warnf("difficult to find free blocks in the buffer pool "+
				"(%d search iterations); consider increasing the pool size",
				nIterations)
		}

		// No victim found: flush the LRU margin and let the I/O catch up.
		p.flusher.FreeMargin(true, nsearched)

		p.stat.incWaitFree()

		p.files.WakeIOHandlers()

		p.mu.Lock()
		if p.lruFlushEnded > 0 {
			p.mu.Unlock()
			// Pages written by the LRU flush can move to the free list
			// now, so the flush work is not wasted.
			p.TryFreeFlushedBlocks()
		} else {
			p.mu.Unlock()
		}

		if nIterations > 10 {
			time.Sleep(500 * time.Millisecond)
		}

		nIterations++
	}
}
