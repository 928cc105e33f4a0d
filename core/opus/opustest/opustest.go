// Package opustest builds small synthetic Ogg Opus files for tests. The audio
// packets are filler bytes; only the container structure is real.
package opustest

import (
	"encoding/binary"

	"github.com/ankit-chaubey/opus-tag-surgery/core/ogg"
)

// Spec describes the file to build. Zero fields take the defaults noted.
type Spec struct {
	Serial      uint32   // default 0x4f505553
	Channels    uint8    // default 2
	PreSkip     uint16   // default 312
	Vendor      string   // default "libopus 1.4"
	Comments    []string // raw "KEY=value" entries
	Padding     int      // zero bytes after the comment list
	CommentPage int      // pages for the comment packet, 0 for the minimum
	AudioPages  int      // default 3
	PacketSize  int      // bytes per audio packet, default 120
	PerPage     int      // audio packets per page, default 4
}

// FrameSamples is the granule advance of every audio packet (20 ms).
const FrameSamples = 960

func (s *Spec) defaults() {
	if s.Serial == 0 {
		s.Serial = 0x4f505553
	}
	if s.Channels == 0 {
		s.Channels = 2
	}
	if s.PreSkip == 0 {
		s.PreSkip = 312
	}
	if s.Vendor == "" {
		s.Vendor = "libopus 1.4"
	}
	if s.AudioPages == 0 {
		s.AudioPages = 3
	}
	if s.PacketSize == 0 {
		s.PacketSize = 120
	}
	if s.PerPage == 0 {
		s.PerPage = 4
	}
}

// Head returns an OpusHead packet for family 0.
func Head(channels uint8, preSkip uint16) []byte {
	b := make([]byte, 19)
	copy(b, "OpusHead")
	b[8] = 1
	b[9] = channels
	binary.LittleEndian.PutUint16(b[10:], preSkip)
	binary.LittleEndian.PutUint32(b[12:], 44100)
	return b
}

// Tags returns an OpusTags packet.
func Tags(vendor string, comments []string, padding int) []byte {
	b := []byte("OpusTags")
	b = binary.LittleEndian.AppendUint32(b, uint32(len(vendor)))
	b = append(b, vendor...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(comments)))
	for _, c := range comments {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(c)))
		b = append(b, c...)
	}
	return append(b, make([]byte, padding)...)
}

// Layout records where Build put things.
type Layout struct {
	CommentStart int64
	AudioStart   int64
	CommentPages int
	AudioPages   [][]byte // encoded audio pages in file order
	LastGranule  uint64
}

// Build returns the file bytes and their layout.
func Build(s Spec) ([]byte, Layout) {
	s.defaults()
	var out []byte
	var l Layout

	head := ogg.Paginate(Head(s.Channels, s.PreSkip), ogg.Header{Flags: ogg.FlagFirst, Serial: s.Serial}, 0)
	out = append(out, head[0].Encode()...)
	l.CommentStart = int64(len(out))

	seq := uint32(1)
	tags := ogg.Paginate(Tags(s.Vendor, s.Comments, s.Padding), ogg.Header{Serial: s.Serial, Sequence: seq}, s.CommentPage)
	for _, p := range tags {
		out = append(out, p.Encode()...)
	}
	seq += uint32(len(tags))
	l.CommentPages = len(tags)
	l.AudioStart = int64(len(out))

	granule := uint64(0)
	for i := 0; i < s.AudioPages; i++ {
		var segs, payload []byte
		for j := 0; j < s.PerPage; j++ {
			pkt := make([]byte, s.PacketSize)
			for k := range pkt {
				pkt[k] = byte(i*31 + j*7 + k)
			}
			segs = append(segs, ogg.Lace(len(pkt))...)
			payload = append(payload, pkt...)
			granule += FrameSamples
		}
		var flags byte
		if i == s.AudioPages-1 {
			flags = ogg.FlagLast
		}
		p := &ogg.Page{
			Header:  ogg.Header{Flags: flags, Granule: granule, Serial: s.Serial, Sequence: seq, Segments: segs},
			Payload: payload,
		}
		seq++
		enc := p.Encode()
		l.AudioPages = append(l.AudioPages, enc)
		out = append(out, enc...)
	}
	l.LastGranule = granule
	return out, l
}
