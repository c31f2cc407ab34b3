package buffer_pool

import (
	"github.com/pierrec/lz4/v4"
)

// Page frame compression. The engine itself never compresses or
// decompresses, but the tests need real compressed frames to drive the
// unzip-LRU paths, and accessors are expected to bump the unzip counter on
// every decompression, which DecompressFrame does.

// CompressFrame compresses a page frame, returning exactly the compressed
// bytes.
// ok is false when the frame does not shrink, in which case the page
// should stay uncompressed.
func CompressFrame(frame []byte) (compressed []byte, ok bool) {
	dst := make([]byte, lz4.CompressBlockBound(len(frame)))

	var c lz4.Compressor
	n, err := c.CompressBlock(frame, dst)
	if err != nil || n == 0 || n >= len(frame) {
		return nil, false
	}

	return dst[:n], true
}

// DecompressFrame expands a compressed frame into dst, which must be a
// full page frame, and records the decompression with the pool.
func (p *Pool) DecompressFrame(compressed []byte, dst []byte) error {
	if _, err := lz4.UncompressBlock(compressed, dst); err != nil {
		return NewError("unzip page", err)
	}
	p.stat.incUnzip()
	return nil
}
