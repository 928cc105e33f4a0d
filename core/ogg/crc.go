package ogg

// Ogg CRC-32: polynomial 0x04C11DB7, unreflected, initial value 0, no final
// xor. hash/crc32 implements the reflected IEEE variant and gives different
// results, so it must not be used for pages.

var crcTable [256]uint32

func init() {
	const poly = uint32(0x04C11DB7)
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

// Checksum computes the Ogg CRC of b.
func Checksum(b []byte) uint32 {
	return UpdateChecksum(0, b)
}

// UpdateChecksum continues a running CRC with more bytes.
func UpdateChecksum(crc uint32, b []byte) uint32 {
	for _, v := range b {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^v]
	}
	return crc
}

var zeroCRC [4]byte

// PageChecksum computes the CRC of a complete serialized page as if its CRC
// field (bytes 22..25) were zero, without modifying b.
func PageChecksum(b []byte) uint32 {
	if len(b) < HeaderSize {
		return Checksum(b)
	}
	crc := UpdateChecksum(0, b[:crcOffset])
	crc = UpdateChecksum(crc, zeroCRC[:])
	return UpdateChecksum(crc, b[crcOffset+4:])
}
