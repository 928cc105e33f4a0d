// Package ogg implements the parts of the Ogg container (RFC 3533) needed to
// read and rewrite the header packets of an Ogg Opus file.
//
// A page is laid out as:
//
//	Bytes 0-3:   "OggS" capture pattern
//	Byte 4:      stream structure version (0)
//	Byte 5:      header type flags (continuation, first, last)
//	Bytes 6-13:  granule position
//	Bytes 14-17: bitstream serial number
//	Bytes 18-21: page sequence number
//	Bytes 22-25: CRC checksum
//	Byte 26:     number of segments
//	Bytes 27+:   segment table, then payload
//
// Multi-byte fields are little-endian. Packets are split into 255-byte
// segments; a segment shorter than 255 ends the packet, so a packet whose
// length is a multiple of 255 ends with an explicit zero-length segment.
// A page carries at most 255 segments (65,025 payload bytes).
package ogg
