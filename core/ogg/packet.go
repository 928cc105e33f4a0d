package ogg

import (
	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
)

// Reconstructor rebuilds logical packets from the pages of one logical
// bitstream. Packet boundaries come only from lacing values: a segment
// shorter than 255 bytes ends a packet, a page ending in a 255-byte segment
// leaves the packet open for the next page.
type Reconstructor struct {
	serial  uint32
	started bool
	nextSeq uint32
	open    bool
	buf     []byte
}

// NewReconstructor returns a Reconstructor that accepts pages of any serial
// until the first one is pushed, then only that serial.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{}
}

// Pending reports whether a packet has been started but not finished.
func (r *Reconstructor) Pending() bool { return r.open }

// Serial is the serial number of the stream being reconstructed.
func (r *Reconstructor) Serial() uint32 { return r.serial }

// Push consumes the next page in stream order and returns the packets it
// completes, in order. Returned slices are owned by the caller.
func (r *Reconstructor) Push(p *Page) ([][]byte, error) {
	if r.started && p.Serial != r.serial {
		return nil, &errs.PageError{
			Kind: errs.ErrMalformedContainer, Offset: -1, Seq: p.Sequence, HasSeq: true,
			Msg: "page belongs to another stream",
		}
	}
	if r.open && p.Sequence != r.nextSeq {
		return nil, &errs.PageError{
			Kind: errs.ErrMalformedContainer, Offset: -1, Seq: p.Sequence, HasSeq: true,
			Msg: "page missing inside an open packet",
		}
	}
	if p.IsContinuation() && !r.open {
		return nil, &errs.PageError{
			Kind: errs.ErrMalformedContainer, Offset: -1, Seq: p.Sequence, HasSeq: true,
			Msg: "continuation flag set but no packet is open",
		}
	}
	if !p.IsContinuation() && r.open {
		return nil, &errs.PageError{
			Kind: errs.ErrMalformedContainer, Offset: -1, Seq: p.Sequence, HasSeq: true,
			Msg: "previous packet left open but continuation flag is unset",
		}
	}
	if p.PayloadSize() != len(p.Payload) {
		return nil, &errs.PageError{
			Kind: errs.ErrMalformedContainer, Offset: -1, Seq: p.Sequence, HasSeq: true,
			Msg: "payload does not match lacing",
		}
	}

	r.serial = p.Serial
	r.started = true
	r.nextSeq = p.Sequence + 1

	var packets [][]byte
	off := 0
	for _, seg := range p.Segments {
		r.buf = append(r.buf, p.Payload[off:off+int(seg)]...)
		off += int(seg)
		if seg < MaxSegmentSize {
			packets = append(packets, r.buf)
			r.buf = nil
		}
	}
	if len(p.Segments) > 0 {
		r.open = p.Open()
	}
	return packets, nil
}

// Packets reconstructs every packet carried by pages. A packet still open
// after the last page is an error.
func Packets(pages []*Page) ([][]byte, error) {
	r := NewReconstructor()
	var out [][]byte
	for _, p := range pages {
		pkts, err := r.Push(p)
		if err != nil {
			return nil, err
		}
		out = append(out, pkts...)
	}
	if r.Pending() {
		return nil, errs.Truncated("last packet does not terminate")
	}
	return out, nil
}
