package opus

import (
	"encoding/binary"
	"fmt"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
)

const (
	headMagic = "OpusHead"
	tagsMagic = "OpusTags"

	headMinSize = 19

	// SampleRate is the rate granule positions are counted in, whatever
	// the input rate of the encoded audio was.
	SampleRate = 48000
)

// Channel mapping families.
const (
	MappingRTP        = 0
	MappingVorbis     = 1
	MappingAmbisonics = 2
	MappingProjection = 3
	MappingDiscrete   = 255
)

// Head is the identification header (OpusHead) of an Opus stream.
type Head struct {
	Version       uint8
	Channels      uint8
	PreSkip       uint16
	InputRate     uint32 // informational only
	OutputGain    int16  // Q7.8 dB
	MappingFamily uint8
	StreamCount   uint8
	CoupledCount  uint8
	Mapping       []byte // absent for family 0; demixing matrix for family 3
}

// ParseHead parses an OpusHead packet. Only the major version (upper four
// bits) must be zero; minor versions are accepted.
func ParseHead(b []byte) (*Head, error) {
	if len(b) < headMinSize {
		return nil, errs.Malformed("OpusHead is %d bytes, need %d", len(b), headMinSize)
	}
	if string(b[:8]) != headMagic {
		return nil, errs.Malformed("first packet is not OpusHead")
	}
	h := &Head{
		Version:       b[8],
		Channels:      b[9],
		PreSkip:       binary.LittleEndian.Uint16(b[10:12]),
		InputRate:     binary.LittleEndian.Uint32(b[12:16]),
		OutputGain:    int16(binary.LittleEndian.Uint16(b[16:18])),
		MappingFamily: b[18],
	}
	if h.Version>>4 != 0 {
		return nil, errs.Malformed("unsupported OpusHead version %d", h.Version)
	}
	if h.Channels == 0 {
		return nil, errs.Malformed("OpusHead declares zero channels")
	}

	if h.MappingFamily == MappingRTP {
		if h.Channels > 2 {
			return nil, errs.Malformed("mapping family 0 with %d channels", h.Channels)
		}
		h.StreamCount = 1
		if h.Channels == 2 {
			h.CoupledCount = 1
		}
		return h, nil
	}

	if len(b) < 21 {
		return nil, errs.Malformed("mapping family %d header is %d bytes", h.MappingFamily, len(b))
	}
	h.StreamCount, h.CoupledCount = b[19], b[20]
	if h.StreamCount == 0 || h.CoupledCount > h.StreamCount {
		return nil, errs.Malformed("%d streams with %d coupled", h.StreamCount, h.CoupledCount)
	}
	if h.MappingFamily == MappingProjection {
		h.Mapping = append([]byte(nil), b[21:]...)
		return h, nil
	}
	if len(b) < 21+int(h.Channels) {
		return nil, errs.Malformed("channel mapping table needs %d bytes", 21+int(h.Channels))
	}
	h.Mapping = append([]byte(nil), b[21:21+int(h.Channels)]...)
	return h, nil
}

// Encode serializes the header.
func (h *Head) Encode() []byte {
	b := make([]byte, headMinSize, 21+len(h.Mapping))
	copy(b, headMagic)
	b[8] = h.Version
	b[9] = h.Channels
	binary.LittleEndian.PutUint16(b[10:12], h.PreSkip)
	binary.LittleEndian.PutUint32(b[12:16], h.InputRate)
	binary.LittleEndian.PutUint16(b[16:18], uint16(h.OutputGain))
	b[18] = h.MappingFamily
	if h.MappingFamily == MappingRTP {
		return b
	}
	b = append(b, h.StreamCount, h.CoupledCount)
	return append(b, h.Mapping...)
}

// GainDB is the output gain in decibels.
func (h *Head) GainDB() float64 { return float64(h.OutputGain) / 256 }

var vorbisLayouts = [...]string{"", "mono", "stereo", "3.0", "quad", "5.0", "5.1", "6.1", "7.1"}

// Layout names the channel layout.
func (h *Head) Layout() string {
	switch h.MappingFamily {
	case MappingRTP, MappingVorbis:
		if int(h.Channels) < len(vorbisLayouts) {
			return vorbisLayouts[h.Channels]
		}
	case MappingAmbisonics, MappingProjection:
		return fmt.Sprintf("ambisonic %d", h.Channels)
	}
	return fmt.Sprintf("discrete %d", h.Channels)
}
