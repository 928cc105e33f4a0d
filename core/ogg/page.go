package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
)

// Header type flags.
const (
	// FlagContinuation marks a page whose first segment continues a packet
	// left open on the previous page.
	FlagContinuation = 0x01
	// FlagFirst marks the first page of a logical bitstream (BOS).
	FlagFirst = 0x02
	// FlagLast marks the last page of a logical bitstream (EOS).
	FlagLast = 0x04
)

// Structural limits of a page.
const (
	HeaderSize     = 27
	MaxSegments    = 255
	MaxSegmentSize = 255
	// MaxPayloadSize is the largest payload one page can carry (255*255).
	MaxPayloadSize = MaxSegments * MaxSegmentSize
	// MaxPageSize is 65,307 bytes.
	MaxPageSize = HeaderSize + MaxSegments + MaxPayloadSize

	magic     = "OggS"
	crcOffset = 22
)

// Header is the fixed part of a page plus its segment (lacing) table.
type Header struct {
	Version  byte
	Flags    byte
	Granule  uint64
	Serial   uint32
	Sequence uint32
	CRC      uint32
	Segments []byte
}

// Size is the serialized header length: 27 + segment count.
func (h *Header) Size() int { return HeaderSize + len(h.Segments) }

// PayloadSize is the sum of the segment table.
func (h *Header) PayloadSize() int {
	n := 0
	for _, s := range h.Segments {
		n += int(s)
	}
	return n
}

// IsContinuation reports whether the page continues an open packet.
func (h *Header) IsContinuation() bool { return h.Flags&FlagContinuation != 0 }

// IsFirst reports the beginning-of-stream flag.
func (h *Header) IsFirst() bool { return h.Flags&FlagFirst != 0 }

// IsLast reports the end-of-stream flag.
func (h *Header) IsLast() bool { return h.Flags&FlagLast != 0 }

// Open reports whether the last packet on the page continues on the next
// page, i.e. the final lacing value is 255.
func (h *Header) Open() bool {
	return len(h.Segments) > 0 && h.Segments[len(h.Segments)-1] == MaxSegmentSize
}

// Page is one physical Ogg page.
type Page struct {
	Header
	Payload []byte
}

// Size is the total serialized length of the page.
func (p *Page) Size() int { return p.Header.Size() + len(p.Payload) }

func (h *Header) marshal(dst []byte) {
	copy(dst[0:4], magic)
	dst[4] = h.Version
	dst[5] = h.Flags
	binary.LittleEndian.PutUint64(dst[6:14], h.Granule)
	binary.LittleEndian.PutUint32(dst[14:18], h.Serial)
	binary.LittleEndian.PutUint32(dst[18:22], h.Sequence)
	binary.LittleEndian.PutUint32(dst[22:26], h.CRC)
	dst[26] = byte(len(h.Segments))
	copy(dst[HeaderSize:], h.Segments)
}

// Encode serializes the page, computing and storing a fresh CRC.
func (p *Page) Encode() []byte {
	hs := p.Header.Size()
	data := make([]byte, hs+len(p.Payload))
	p.CRC = 0
	p.Header.marshal(data)
	copy(data[hs:], p.Payload)
	p.CRC = Checksum(data)
	binary.LittleEndian.PutUint32(data[crcOffset:crcOffset+4], p.CRC)
	return data
}

// validate checks the structural invariants before a page is written.
func (p *Page) validate() error {
	if p.Version != 0 {
		return errs.Malformed("page version %d", p.Version)
	}
	if len(p.Segments) > MaxSegments {
		return errs.Malformed("%d segments on one page", len(p.Segments))
	}
	if p.PayloadSize() != len(p.Payload) {
		return errs.Malformed("payload is %d bytes, lacing says %d", len(p.Payload), p.PayloadSize())
	}
	return nil
}

// WriteHeader writes the header bytes of h as they are, including its CRC
// field. Use WritePage to get a computed CRC.
func WriteHeader(w io.Writer, h *Header) error {
	if len(h.Segments) > MaxSegments {
		return errs.Malformed("%d segments on one page", len(h.Segments))
	}
	buf := make([]byte, h.Size())
	h.marshal(buf)
	_, err := w.Write(buf)
	return err
}

// WritePayload writes payload after checking it against the lacing of h.
func WritePayload(w io.Writer, h *Header, payload []byte) error {
	if h.PayloadSize() != len(payload) {
		return errs.Malformed("payload is %d bytes, lacing says %d", len(payload), h.PayloadSize())
	}
	_, err := w.Write(payload)
	return err
}

// WritePage validates p, computes its CRC and writes header and payload.
func WritePage(w io.Writer, p *Page) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	return w.Write(p.Encode())
}

// ReadHeader reads the 27-byte fixed header and the segment table.
// A clean end of input before the first byte returns io.EOF.
func ReadHeader(r io.Reader) (*Header, error) {
	var fixed [HeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errs.Truncated("page header needs %d bytes", HeaderSize)
		}
		return nil, errs.IO("read page header", err)
	}
	return parseFixed(fixed[:], r)
}

func parseFixed(fixed []byte, r io.Reader) (*Header, error) {
	if string(fixed[0:4]) != magic {
		return nil, errs.Malformed("bad capture pattern %q", fixed[0:4])
	}
	if fixed[4] != 0 {
		return nil, errs.Malformed("unsupported stream structure version %d", fixed[4])
	}
	h := &Header{
		Version:  fixed[4],
		Flags:    fixed[5],
		Granule:  binary.LittleEndian.Uint64(fixed[6:14]),
		Serial:   binary.LittleEndian.Uint32(fixed[14:18]),
		Sequence: binary.LittleEndian.Uint32(fixed[18:22]),
		CRC:      binary.LittleEndian.Uint32(fixed[22:26]),
		Segments: make([]byte, fixed[26]),
	}
	if _, err := io.ReadFull(r, h.Segments); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errs.Truncated("segment table needs %d bytes", len(h.Segments))
		}
		return nil, errs.IO("read segment table", err)
	}
	return h, nil
}

// ReadPayload reads exactly h.PayloadSize() bytes and verifies the page CRC.
func ReadPayload(r io.Reader, h *Header) ([]byte, error) {
	payload := make([]byte, h.PayloadSize())
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errs.Truncated("page payload needs %d bytes", len(payload))
		}
		return nil, errs.IO("read page payload", err)
	}
	if err := verify(h, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func verify(h *Header, payload []byte) error {
	hdr := make([]byte, h.Size())
	h.marshal(hdr)
	got := PageChecksum(hdr)
	got = UpdateChecksum(got, payload)
	if got != h.CRC {
		return &errs.PageError{
			Kind:   errs.ErrIntegrity,
			Offset: -1,
			Seq:    h.Sequence,
			HasSeq: true,
			Msg:    fmt.Sprintf("stored 0x%08x, computed 0x%08x", h.CRC, got),
		}
	}
	return nil
}

// ReadPage reads one complete, CRC-checked page.
func ReadPage(r io.Reader) (*Page, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	payload, err := ReadPayload(r, h)
	if err != nil {
		return nil, err
	}
	return &Page{Header: *h, Payload: payload}, nil
}

// ParsePage parses one page from the front of b, returning the number of
// bytes consumed.
func ParsePage(b []byte) (*Page, int, error) {
	if len(b) < HeaderSize {
		return nil, 0, errs.Truncated("page header needs %d bytes, have %d", HeaderSize, len(b))
	}
	p, err := ReadPage(bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	return p, p.Size(), nil
}

// Lace returns the segment table for one packet of n bytes: full 255-byte
// segments followed by a terminal segment of n%255 bytes. A packet whose
// length is a multiple of 255 (including 0) ends with an explicit 0.
func Lace(n int) []byte {
	full := n / MaxSegmentSize
	segs := make([]byte, full+1)
	for i := 0; i < full; i++ {
		segs[i] = MaxSegmentSize
	}
	segs[full] = byte(n % MaxSegmentSize)
	return segs
}

// MinPages is the number of pages needed to carry one packet of n bytes
// starting on a fresh page.
func MinPages(n int) int {
	segs := n/MaxSegmentSize + 1
	return (segs + MaxSegments - 1) / MaxSegments
}

// Paginate splits one packet into pages. Pages are filled greedily up to 255
// segments. When pages is larger than the minimum it is honoured as far as
// the segment count allows, so a rewritten packet can keep the page count of
// the one it replaces. Every page copies Version, Serial and Granule from
// tmpl and takes consecutive sequence numbers from tmpl.Sequence; pages after
// the first carry FlagContinuation. CRCs are computed by Encode.
func Paginate(packet []byte, tmpl Header, pages int) []*Page {
	segs := Lace(len(packet))
	want := MinPages(len(packet))
	if pages > want {
		want = min(pages, len(segs))
	}

	out := make([]*Page, 0, want)
	pos, off := 0, 0
	for i := 0; i < want; i++ {
		n := min(MaxSegments, len(segs)-pos-(want-1-i))
		table := segs[pos : pos+n]
		size := 0
		for _, s := range table {
			size += int(s)
		}

		flags := tmpl.Flags &^ (FlagContinuation | FlagLast)
		if i > 0 {
			flags = (flags &^ FlagFirst) | FlagContinuation
		}
		if i == want-1 {
			flags |= tmpl.Flags & FlagLast
		}
		out = append(out, &Page{
			Header: Header{
				Version:  tmpl.Version,
				Flags:    flags,
				Granule:  tmpl.Granule,
				Serial:   tmpl.Serial,
				Sequence: tmpl.Sequence + uint32(i),
				Segments: append([]byte(nil), table...),
			},
			Payload: packet[off : off+size],
		})
		pos += n
		off += size
	}
	return out
}
