package util

import (
	"github.com/OneOfOne/xxhash"
)

// HashCode hashes a key with xxhash64.
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// PageAddressFold folds a (spaceId, pageNo) address into a hash key.
func PageAddressFold(spaceId uint32, pageNo uint32) uint64 {
	var buff = append(ConvertUInt4Bytes(spaceId), ConvertUInt4Bytes(pageNo)...)
	return HashCode(buff)
}

// Checksum32 produces a 32-bit content checksum, used to stamp
// compressed frames before they are published after a relocation.
func Checksum32(content []byte) uint32 {
	return uint32(HashCode(content))
}
