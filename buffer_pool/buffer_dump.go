package buffer_pool

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xbufpool/logger"
	"github.com/zhukovaskychina/xbufpool/util"
)

// The warm-cache hint file: a sequence of big-endian 32-bit
// (space id, page no) pairs in LRU order, head first, filling page-sized
// blocks, terminated by the pair (0xFFFFFFFF, 0xFFFFFFFF).
const (
	LRUDumpFile     = "ib_lru_dump"
	LRUDumpTempFile = "ib_lru_dump.tmp"
)

const lruDumpTerminator = 0xFFFFFFFF

type dumpRecord struct {
	spaceId uint32
	pageNo  uint32
}

func dumpRecordLess(a, b dumpRecord) bool {
	if a.spaceId != b.spaceId {
		return a.spaceId < b.spaceId
	}
	return a.pageNo < b.pageNo
}

// DumpFile writes the LRU page list to the dump file, most recent first.
// The walk holds the pool mutex but releases it for every page-sized block
// written, keeping the next descriptor buffer-fixed across the write so
// the iterator stays valid. The file is written to a temp name and renamed
// into place only on success.
func (p *Pool) DumpFile() error {
	for _, name := range p.config.DataFiles {
		if strings.Contains(name, LRUDumpFile) {
			// Refuse rather than risk scribbling over a data file.
			logger.Errorf("the name %q seems to be used for a data file; "+
				"not dumping the LRU list", LRUDumpFile)
			return NewError("lru dump", ErrDumpNameCollision)
		}
	}

	tempPath := filepath.Join(p.config.DataDir, LRUDumpTempFile)
	finalPath := filepath.Join(p.config.DataDir, LRUDumpFile)

	dumpFile, err := os.Create(tempPath)
	if err != nil {
		return errors.Annotatef(err, "cannot open %s", LRUDumpTempFile)
	}

	fail := func(err error) error {
		dumpFile.Close()
		os.Remove(tempPath)
		return err
	}

	buffer := make([]byte, p.pageSize)
	offset := 0

	p.mu.Lock()

	firstElem := p.lru.Front()
	totalPages := p.lru.Len()
	pagesWritten := 0

	for e := firstElem; e != nil && pagesWritten < totalPages; {
		page := e.Value.(*BufferPage)

		// Without lru_dump_old_pages the dump covers the young prefix
		// only; it is contiguous, so the first old page ends the walk.
		if !p.config.LRUDumpOldPages && page.old {
			break
		}

		next := e.Next()
		if next == firstElem {
			p.mu.Unlock()
			logger.Errorf("detected cycle in LRU, skipping dump")
			return fail(NewError("lru dump", ErrLRUCycleDetected))
		}

		offset = util.WriteBE4(buffer, offset, page.spaceId)
		offset = util.WriteBE4(buffer, offset, page.pageNo)
		pagesWritten++

		if offset == len(buffer) {
			// Keep the next descriptor in place while the pool mutex is
			// down for the write.
			var nextPage *BufferPage
			if next != nil {
				nextPage = next.Value.(*BufferPage)
				nextPage.Fix()
			}
			p.mu.Unlock()

			_, werr := dumpFile.Write(buffer)

			offset = 0
			for i := range buffer {
				buffer[i] = 0
			}

			p.mu.Lock()
			if nextPage != nil {
				nextPage.Unfix()
			}
			if werr != nil {
				p.mu.Unlock()
				logger.Errorf("cannot write %s: %v", LRUDumpFile, werr)
				return fail(errors.Annotatef(werr, "cannot write %s", LRUDumpTempFile))
			}
		}

		e = next
	}

	p.mu.Unlock()

	// Mark the end of the list.
	offset = util.WriteBE4(buffer, offset, lruDumpTerminator)
	util.WriteBE4(buffer, offset, lruDumpTerminator)

	if _, err := dumpFile.Write(buffer); err != nil {
		return fail(errors.Annotatef(err, "cannot write %s", LRUDumpTempFile))
	}

	if err := dumpFile.Sync(); err != nil {
		return fail(errors.Annotatef(err, "cannot flush %s", LRUDumpTempFile))
	}
	if err := dumpFile.Close(); err != nil {
		os.Remove(tempPath)
		return errors.Annotatef(err, "cannot close %s", LRUDumpTempFile)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return errors.Annotatef(err, "cannot rename %s", LRUDumpTempFile)
	}

	return nil
}

// readDumpRecords parses the dump file into records, preserving LRU order.
// A truncated file or a missing terminator is tolerated: the readable
// prefix is processed and a warning logged.
func (p *Pool) readDumpRecords(dumpFile *os.File, size int64) ([]dumpRecord, error) {
	records := make([]dumpRecord, 0, size/8)
	buffer := make([]byte, p.pageSize)

	terminated := false
	for !terminated {
		n, rerr := io.ReadFull(dumpFile, buffer)
		if rerr != nil {
			if rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
				return nil, errors.Annotatef(rerr, "cannot read %s", LRUDumpFile)
			}
			if n == 0 {
				break
			}
			for i := n; i < len(buffer); i++ {
				buffer[i] = 0
			}
		}

		for cursor := 0; cursor+8 <= len(buffer); {
			var spaceId, pageNo uint32
			cursor, spaceId = util.ReadBE4(buffer, cursor)
			cursor, pageNo = util.ReadBE4(buffer, cursor)

			if spaceId == lruDumpTerminator || pageNo == lruDumpTerminator {
				terminated = true
				break
			}

			records = append(records, dumpRecord{spaceId: spaceId, pageNo: pageNo})
			if int64(len(records))*8 >= size {
				logger.Warnf("could not find the end-of-file marker after "+
					"reading the expected %d bytes from the LRU dump file; "+
					"the file may be broken or incomplete, trying to process "+
					"what has been read so far", size)
				terminated = true
				break
			}
		}
	}

	return records, nil
}

// RestoreFile pre-warms the pool from the dump file. Records are visited
// in LRU priority order; for each one the contiguous run of file-adjacent
// records it belongs to is prefetched in physical order, so the reads stay
// mostly sequential without giving up the priority ordering. Issued reads
// are throttled to io_capacity per second.
func (p *Pool) RestoreFile() error {
	path := filepath.Join(p.config.DataDir, LRUDumpFile)

	dumpFile, err := os.Open(path)
	if err != nil {
		return errors.Annotatef(err, "cannot open %s", LRUDumpFile)
	}
	defer dumpFile.Close()

	info, err := dumpFile.Stat()
	if err != nil {
		return errors.Annotatef(err, "cannot stat %s", LRUDumpFile)
	}

	size := info.Size()
	if size == 0 || size%8 != 0 {
		logger.Errorf("broken LRU dump file (size %d)", size)
		return NewError("lru restore", ErrBrokenDumpFile)
	}

	records, err := p.readDumpRecords(dumpFile, size)
	if err != nil {
		return err
	}
	length := len(records)

	// A sorted copy identifies runs of file-adjacent records, so lower
	// priority neighbours ride along with a higher priority read.
	sortedRecords := make([]dumpRecord, length)
	copy(sortedRecords, records)
	sort.Slice(sortedRecords, func(i, j int) bool {
		return dumpRecordLess(sortedRecords[i], sortedRecords[j])
	})

	loaded := make([]bool, length)

	maxEntries := length
	if p.config.LRULoadMaxEntries > 0 && int(p.config.LRULoadMaxEntries) < maxEntries {
		maxEntries = int(p.config.LRULoadMaxEntries)
	}

	loopTimer := time.Now()
	requested := 0
	reads := 0

	for offset := 0; offset < maxEntries; offset++ {
		rec := records[offset]

		if _, ok := p.files.ZipSize(rec.spaceId); !ok {
			// The tablespace is gone; skip its records.
			continue
		}

		// Locate the record in the sorted array.
		idx := sort.Search(length, func(i int) bool {
			return !dumpRecordLess(sortedRecords[i], rec)
		})
		if idx >= length || sortedRecords[idx] != rec {
			continue
		}

		// Already pulled in as part of another run.
		if loaded[idx] {
			continue
		}

		// Walk back to the start of the contiguous run.
		for idx > 0 {
			prev := sortedRecords[idx-1]
			if prev.spaceId != sortedRecords[idx].spaceId ||
				prev.pageNo+1 != sortedRecords[idx].pageNo {
				break
			}
			idx--
		}

		// Request the run front to back.
		for idx < length {
			if p.shuttingDown() {
				p.files.WakeIOHandlers()
				return nil
			}

			loaded[idx] = true
			cur := sortedRecords[idx]

			if !p.files.ExtentExists(cur.spaceId, cur.pageNo, 1) {
				break
			}

			version := p.files.Version(cur.spaceId)

			requested++

			// No more than io_capacity requests per second: at every
			// multiple, wake the I/O handlers, top up the free margin and
			// sleep out the rest of the second.
			if p.config.IOCapacity > 0 && requested%int(p.config.IOCapacity) == 0 {
				p.files.WakeIOHandlers()
				p.flusher.FreeMargin(false, 0)

				if elapsed := time.Since(loopTimer); elapsed < time.Second {
					time.Sleep(time.Second - elapsed)
				}
				loopTimer = time.Now()
			}

			if p.files.ReadPageAsync(cur.spaceId, cur.pageNo, version) {
				reads++
			}
			p.stat.incIO()

			if idx+1 >= length {
				break
			}
			next := sortedRecords[idx+1]
			if cur.spaceId != next.spaceId || cur.pageNo+1 != next.pageNo {
				break
			}
			idx++
		}
	}

	p.files.WakeIOHandlers()
	p.flusher.FreeMargin(false, 0)

	logger.Infof("reading pages based on the dumped LRU list was done "+
		"(requested: %d, read: %d)", requested, reads)

	return nil
}
