package util

// WriteBE4 stores value big-endian at cursor and returns the next cursor.
func WriteBE4(buff []byte, cursor int, value uint32) int {
	buff[cursor] = byte(value >> 24)
	buff[cursor+1] = byte(value >> 16)
	buff[cursor+2] = byte(value >> 8)
	buff[cursor+3] = byte(value)
	return cursor + 4
}

// ReadBE4 loads a big-endian uint32 at cursor and returns the next cursor.
func ReadBE4(buff []byte, cursor int) (int, uint32) {
	i := uint32(buff[cursor]) << 24
	i |= uint32(buff[cursor+1]) << 16
	i |= uint32(buff[cursor+2]) << 8
	i |= uint32(buff[cursor+3])
	return cursor + 4, i
}

// ConvertUInt4Bytes serializes a uint32 for hashing.
func ConvertUInt4Bytes(i uint32) []byte {
	buff := make([]byte, 4)
	WriteBE4(buff, 0, i)
	return buff
}
