package buffer_pool

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/xbufpool/logger"
)

// Pool is the buffer-pool replacement engine: a fixed-capacity arena of
// page frames, the LRU/unzip-LRU/free lists over their descriptors, the
// eviction policy, and the dump/restore machinery.
//
// A single pool mutex guards all list heads, the old-sublist pointer, the
// stat history and the freed page clock, the way the engine's policy
// requires: eviction decisions read global list lengths.
type Pool struct {
	mu    sync.Mutex // pool mutex
	zipMu sync.Mutex // zip-pool mutex, pool → zip ordering

	config   *Config
	currSize uint32 // total frames owned by the pool
	pageSize uint32

	blocks []*BufferBlock // the frame arena; blocks are never destroyed

	lru       *list.List // of *BufferPage, front = most recently used
	lruOld    *list.Element
	lruOldLen uint32

	unzipLRU *list.List // of *BufferBlock with both frames resident

	free *list.List // of *BufferPage in state NOT_USED

	zipClean *list.List // of clean ZIP_PAGE descriptors, debug only

	freedPageClock uint64
	lruFlushEnded  uint32

	// tunables; oldRatio is stored in 1024ths
	oldRatio        uint32
	oldThreshold    time.Duration
	unzipLRUPct     uint32
	ioToUnzipFactor uint32
	fastFreeList    bool

	pageHash PageHash
	flusher  Flusher
	buddy    BuddyAllocator
	ahi      AdaptiveHash
	files    FileLayer

	stat lruStat

	monitorOn   bool
	shutdownGen int32 // atomic; nonzero once shutdown reached cleanup

	statTicker *time.Ticker
	statDone   chan struct{}
	closeOnce  sync.Once
}

// Config is the static configuration of a pool.
type Config struct {
	// PoolSize is the number of frames; PageSize their size in bytes.
	PoolSize uint32
	PageSize uint32

	// OldBlocksPct is the target percentage of the LRU kept old, clamped
	// through OldRatioUpdate.
	OldBlocksPct uint32

	// OldThresholdMS gates promotion of old-sublist pages on access.
	OldThresholdMS uint32

	// UnzipLRUPct is the minimum unzip-LRU share at which partial
	// eviction is considered.
	UnzipLRUPct uint32

	// IOToUnzipFactor weights the I/O-bound vs CPU-bound decision.
	IOToUnzipFactor uint32

	// FastFreeList caps the first free-block LRU scan at
	// BUF_LRU_FREE_SEARCH_LEN.
	FastFreeList bool

	// LRUDumpOldPages includes old-sublist pages in the dump file.
	LRUDumpOldPages bool

	// LRULoadMaxEntries bounds restore work; 0 means unbounded.
	LRULoadMaxEntries uint32

	// IOCapacity caps restore-issued reads per second.
	IOCapacity uint32

	// DataDir is where the dump file lives.
	DataDir string

	// DataFiles are the data file paths; the dump refuses to run when its
	// own name appears among them.
	DataFiles []string

	// DebugChecks turns on the expensive membership assertions, full frame
	// poisoning and the zip_clean list.
	DebugChecks bool
}

// Collaborators bundles the external contracts a pool is wired to.
type Collaborators struct {
	PageHash PageHash
	Flusher  Flusher
	Buddy    BuddyAllocator
	AHI      AdaptiveHash
	Files    FileLayer
}

// NewPool builds a pool of config.PoolSize frames, all on the free list,
// and starts the one-second stat sampler.
func NewPool(config *Config, collab Collaborators) (*Pool, error) {
	if config.PoolSize == 0 || config.PageSize == 0 {
		return nil, NewError("new pool", ErrInvalidConfig)
	}

	p := &Pool{
		config:          config,
		currSize:        config.PoolSize,
		pageSize:        config.PageSize,
		lru:             list.New(),
		unzipLRU:        list.New(),
		free:            list.New(),
		zipClean:        list.New(),
		oldThreshold:    time.Duration(config.OldThresholdMS) * time.Millisecond,
		unzipLRUPct:     config.UnzipLRUPct,
		ioToUnzipFactor: config.IOToUnzipFactor,
		fastFreeList:    config.FastFreeList,
		pageHash:        collab.PageHash,
		flusher:         collab.Flusher,
		buddy:           collab.Buddy,
		ahi:             collab.AHI,
		files:           collab.Files,
	}
	p.OldRatioUpdate(config.OldBlocksPct, false)

	p.blocks = make([]*BufferBlock, config.PoolSize)
	for i := uint32(0); i < config.PoolSize; i++ {
		page := NewBufferPage(0, 0)
		block := NewBufferBlock(page, make([]byte, config.PageSize))
		p.blocks[i] = block
		page.freeElem = p.free.PushBack(page)
	}

	p.statTicker = time.NewTicker(time.Second)
	p.statDone = make(chan struct{})
	go p.statLoop()

	return p, nil
}

func (p *Pool) statLoop() {
	for {
		select {
		case <-p.statTicker.C:
			p.StatUpdate()
		case <-p.statDone:
			return
		}
	}
}

// Close stops the stat sampler. The pool itself holds no file handles.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.statTicker.Stop()
		close(p.statDone)
	})
}

// BeginShutdown flips the cooperative shutdown flag. Long bulk operations
// and the LRU restore observe it and exit promptly.
func (p *Pool) BeginShutdown() {
	atomic.StoreInt32(&p.shutdownGen, 1)
}

func (p *Pool) shuttingDown() bool {
	return atomic.LoadInt32(&p.shutdownGen) != 0
}

// CurrSize returns the total number of frames owned by the pool.
func (p *Pool) CurrSize() uint32 {
	return p.currSize
}

// LRULen returns the LRU list length.
func (p *Pool) LRULen() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(p.lru.Len())
}

// UnzipLRULen returns the unzip-LRU list length.
func (p *Pool) UnzipLRULen() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(p.unzipLRU.Len())
}

// FreeLen returns the free list length.
func (p *Pool) FreeLen() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(p.free.Len())
}

// OldLen returns the length of the LRU old sublist, 0 when undefined.
func (p *Pool) OldLen() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lruOldLen
}

// FreedPageClock returns the monotonic eviction counter.
func (p *Pool) FreedPageClock() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freedPageClock
}

// OldRatioUpdate sets the target old-sublist percentage, clamped to the
// legal ratio range. With adjust set, the old pointer is re-adjusted
// immediately under the pool mutex. It returns the effective percentage.
func (p *Pool) OldRatioUpdate(oldPct uint32, adjust bool) uint32 {
	ratio := oldPct * BUF_LRU_OLD_RATIO_DIV / 100
	if ratio < BUF_LRU_OLD_RATIO_MIN {
		ratio = BUF_LRU_OLD_RATIO_MIN
	} else if ratio > BUF_LRU_OLD_RATIO_MAX {
		ratio = BUF_LRU_OLD_RATIO_MAX
	}

	if adjust {
		p.mu.Lock()
		if ratio != p.oldRatio {
			p.oldRatio = ratio
			if uint32(p.lru.Len()) >= BUF_LRU_OLD_MIN_LEN {
				p.oldAdjustLen()
			}
		}
		p.mu.Unlock()
	} else {
		p.oldRatio = ratio
	}

	return uint32(float64(ratio)*100/float64(BUF_LRU_OLD_RATIO_DIV) + 0.5)
}

// FaultPage brings a missing page into the pool: it takes a free block
// (evicting if needed), registers it in the page hash and inserts it into
// the LRU, old unless young is set. The returned block carries one buffer
// fix owned by the caller.
func (p *Pool) FaultPage(spaceId uint32, pageNo uint32, young bool) (*BufferBlock, error) {
	if p.shuttingDown() {
		return nil, NewError("fault page", ErrPoolClosed)
	}

	block := p.GetFreeBlock()

	p.mu.Lock()
	if hashed := p.pageHash.Lookup(spaceId, pageNo); hashed != nil {
		// Lost the race; give the frame back.
		page := block.BufferPage
		page.mu.Lock()
		p.blockFreeNonFilePage(block)
		page.mu.Unlock()
		p.mu.Unlock()
		return nil, NewError("fault page", ErrPageAlreadyCached)
	}

	page := block.BufferPage
	page.spaceId = spaceId
	page.pageNo = pageNo
	page.state = BUF_BLOCK_FILE_PAGE
	page.accessTime = time.Time{}
	page.oldestModification = 0
	page.newestModification = 0

	page.inPageHash = true
	p.pageHash.Insert(page)
	p.lruAddBlock(page, !young)

	// The caller's pin goes on before the pool mutex drops, so the fresh
	// page cannot be chosen as a victim in between.
	page.mu.Lock()
	page.bufFixCount++
	page.mu.Unlock()
	p.mu.Unlock()

	p.files.AddLRUCount(spaceId, 1)
	p.stat.incIO()

	return block, nil
}

// GetPageBlock looks the page up and, on a hit, fixes it, applies the
// make-young policy and returns it. On a miss it returns ErrPageNotFound;
// the caller decides whether to fault the page in.
func (p *Pool) GetPageBlock(spaceId uint32, pageNo uint32) (*BufferBlock, error) {
	p.mu.Lock()
	page := p.pageHash.Lookup(spaceId, pageNo)
	if page == nil || page.block == nil {
		p.mu.Unlock()
		return nil, NewError("get page", ErrPageNotFound)
	}
	block := page.block

	page.mu.Lock()
	page.bufFixCount++
	now := time.Now()
	firstAccess := !page.wasAccessed()
	page.setAccessedIfFirst(now)
	accessTime := page.accessTime
	page.mu.Unlock()

	if !firstAccess && page.old && now.Sub(accessTime) >= p.oldThreshold {
		p.makeBlockYoungLocked(page)
	}
	p.mu.Unlock()

	return block, nil
}

// Touch applies the promotion policy to a pinned page: first access only
// stamps the access time; later accesses promote the page to the LRU head
// once it is old and older than the threshold.
func (p *Pool) Touch(page *BufferPage) {
	p.mu.Lock()
	page.mu.Lock()
	now := time.Now()
	firstAccess := !page.wasAccessed()
	page.setAccessedIfFirst(now)
	accessTime := page.accessTime
	page.mu.Unlock()

	if !firstAccess && page.old && now.Sub(accessTime) >= p.oldThreshold {
		p.makeBlockYoungLocked(page)
	}
	p.mu.Unlock()
}

// MarkDirty stamps a modification LSN onto the page and, on the clean to
// dirty transition, hands it to the flush set.
func (p *Pool) MarkDirty(block *BufferBlock, lsn uint64) {
	p.mu.Lock()
	page := block.BufferPage
	page.newestModification = lsn
	if page.oldestModification == 0 {
		page.oldestModification = lsn
		p.flusher.Add(page)
	}
	p.mu.Unlock()
}

// AttachZip hangs a compressed frame off a resident FILE_PAGE descriptor
// and enrolls it into the unzip-LRU, matching its old/young standing.
func (p *Pool) AttachZip(block *BufferBlock, data []byte) {
	p.mu.Lock()
	page := block.BufferPage
	page.zipData = data
	page.zipSize = uint32(len(data))
	if page.lruElem != nil && block.unzipElem == nil {
		p.unzipAddBlock(block, page.old)
	}
	p.mu.Unlock()
}

// SetIOFix marks or clears a pending I/O on a page. Both the pool mutex
// and the block mutex are taken, which is what lets walkers read the I/O
// fix under the pool mutex alone.
func (p *Pool) SetIOFix(page *BufferPage, fix BufferIOFix) {
	p.mu.Lock()
	page.mu.Lock()
	page.ioFix = fix
	page.mu.Unlock()
	p.mu.Unlock()
}

// IOFix returns the pending I/O state of a page.
func (p *Pool) IOFix(page *BufferPage) BufferIOFix {
	p.mu.Lock()
	defer p.mu.Unlock()
	return page.ioFix
}

// RunningOut reports whether less than 25% of the pool is available
// (free plus LRU), a heuristic callers use to refuse new pins.
func (p *Pool) RunningOut() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(p.free.Len()+p.lru.Len()) < p.currSize/4
}

// LRUFlushEnded is the count of LRU flushes whose pages await moving to
// the free list; the flusher increments it through AddLRUFlushEnded.
func (p *Pool) LRUFlushEnded() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lruFlushEnded
}

// AddLRUFlushEnded raises the LRU-flush-ended hint.
func (p *Pool) AddLRUFlushEnded(n uint32) {
	p.mu.Lock()
	p.lruFlushEnded += n
	p.mu.Unlock()
}

// PrintStatus writes the LRU contents to the debug log.
func (p *Pool) PrintStatus() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for e := p.lru.Front(); e != nil; e = e.Next() {
		page := e.Value.(*BufferPage)
		flags := ""
		if page.old {
			flags += " old"
		}
		if page.IsDirty() {
			flags += " modif."
		}
		if page.bufFixCount > 0 {
			flags += " fixed"
		}
		logger.Debugf("BLOCK space %d page %d state %s%s",
			page.spaceId, page.pageNo, page.state, flags)
	}
}
