package buffer_pool

import (
	"sync/atomic"
)

// Statistics kept for the LRU, not of it: counts of page I/O completions
// and decompress operations. The eviction policy compares their smoothed
// rates to decide between the unzip-LRU and the common LRU.
//
// The live counters are updated lock-free by accessors; the history ring
// and sums are protected by the pool mutex and advanced once per second by
// the pool's sampler.
type lruStatPair struct {
	io    uint64
	unzip uint64
}

type lruStat struct {
	curIO    uint64 // atomic
	curUnzip uint64 // atomic

	arr    [BUF_LRU_STAT_N_INTERVAL]lruStatPair
	arrInd int
	sum    lruStatPair

	madeYoung        uint64 // atomic
	readAheadEvicted uint64 // atomic
	waitFree         uint64 // atomic
}

func (s *lruStat) incIO() {
	atomic.AddUint64(&s.curIO, 1)
}

func (s *lruStat) incUnzip() {
	atomic.AddUint64(&s.curUnzip, 1)
}

func (s *lruStat) incMadeYoung() {
	atomic.AddUint64(&s.madeYoung, 1)
}

func (s *lruStat) incReadAheadEvicted() {
	atomic.AddUint64(&s.readAheadEvicted, 1)
}

func (s *lruStat) incWaitFree() {
	atomic.AddUint64(&s.waitFree, 1)
}

// StatIncIO records one page I/O completion. Lock-free.
func (p *Pool) StatIncIO() {
	p.stat.incIO()
}

// StatIncUnzip records one page decompression. Lock-free.
func (p *Pool) StatIncUnzip() {
	p.stat.incUnzip()
}

// StatUpdate rolls the one-second sample window forward: the slot about to
// be overwritten leaves the running sum, the current counters enter it,
// and the live pair is zeroed. Called by the pool's sampler every tick.
func (p *Pool) StatUpdate() {
	// Before the first eviction the history stays empty; the policy then
	// assumes a disk-bound workload by default.
	p.mu.Lock()
	skip := p.freedPageClock == 0
	if !skip {
		// Snapshot once: the live pair keeps changing underneath.
		cur := lruStatPair{
			io:    atomic.LoadUint64(&p.stat.curIO),
			unzip: atomic.LoadUint64(&p.stat.curUnzip),
		}

		item := &p.stat.arr[p.stat.arrInd]
		p.stat.arrInd++
		p.stat.arrInd %= BUF_LRU_STAT_N_INTERVAL

		p.stat.sum.io += cur.io - item.io
		p.stat.sum.unzip += cur.unzip - item.unzip

		*item = cur
	}
	p.mu.Unlock()

	atomic.StoreUint64(&p.stat.curIO, 0)
	atomic.StoreUint64(&p.stat.curUnzip, 0)
}

// statAverages returns the smoothed I/O and decompress rates: the window
// average plus the live interval. Pool mutex held.
func (p *Pool) statAverages() (ioAvg float64, unzipAvg float64) {
	ioAvg = float64(p.stat.sum.io)/BUF_LRU_STAT_N_INTERVAL +
		float64(atomic.LoadUint64(&p.stat.curIO))
	unzipAvg = float64(p.stat.sum.unzip)/BUF_LRU_STAT_N_INTERVAL +
		float64(atomic.LoadUint64(&p.stat.curUnzip))
	return ioAvg, unzipAvg
}

// StatsSnapshot is a point-in-time view of the pool counters.
type StatsSnapshot struct {
	LRULen           uint32
	UnzipLRULen      uint32
	FreeLen          uint32
	OldLen           uint32
	FlushEnded       uint32
	FreedClock       uint64
	MadeYoung        uint64
	ReadAheadEvicted uint64
	WaitFree         uint64
	IOSum            uint64
	UnzipSum         uint64
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() StatsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return StatsSnapshot{
		LRULen:           uint32(p.lru.Len()),
		UnzipLRULen:      uint32(p.unzipLRU.Len()),
		FreeLen:          uint32(p.free.Len()),
		OldLen:           p.lruOldLen,
		FlushEnded:       p.lruFlushEnded,
		FreedClock:       p.freedPageClock,
		MadeYoung:        atomic.LoadUint64(&p.stat.madeYoung),
		ReadAheadEvicted: atomic.LoadUint64(&p.stat.readAheadEvicted),
		WaitFree:         atomic.LoadUint64(&p.stat.waitFree),
		IOSum:            p.stat.sum.io,
		UnzipSum:         p.stat.sum.unzip,
	}
}
