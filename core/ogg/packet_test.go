package ogg

import (
	"testing"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitAcross lays one packet over exactly n pages by hand, independent of
// Paginate, so the reconstructor is checked against a second implementation.
func splitAcross(packet []byte, n int) []*Page {
	segs := Lace(len(packet))
	per := (len(segs) + n - 1) / n
	var pages []*Page
	off := 0
	for i := 0; i < n; i++ {
		lo, hi := i*per, min((i+1)*per, len(segs))
		table := segs[lo:hi]
		size := 0
		for _, s := range table {
			size += int(s)
		}
		var flags byte
		if i > 0 {
			flags = FlagContinuation
		}
		pages = append(pages, &Page{
			Header:  Header{Flags: flags, Serial: 5, Sequence: uint32(1 + i), Segments: table},
			Payload: packet[off : off+size],
		})
		off += size
	}
	return pages
}

func TestReconstructorThreePagesEqualsOnePage(t *testing.T) {
	packet := fill(3 * 255 * 4)

	single, err := Packets(Paginate(packet, Header{Serial: 5, Sequence: 1}, 0))
	require.NoError(t, err)
	require.Len(t, single, 1)

	spread := splitAcross(packet, 3)
	require.Len(t, spread, 3)
	assert.True(t, spread[0].Open())
	assert.True(t, spread[1].Open())

	multi, err := Packets(spread)
	require.NoError(t, err)
	require.Len(t, multi, 1)
	assert.Equal(t, single[0], multi[0])
	assert.Equal(t, packet, multi[0])
}

func TestReconstructorSeveralPacketsPerPage(t *testing.T) {
	a, b := fill(10), fill(300)
	segs := append(Lace(len(a)), Lace(len(b))...)
	page := &Page{Header: Header{Serial: 1, Segments: segs}, Payload: append(append([]byte(nil), a...), b...)}

	pkts, err := Packets([]*Page{page})
	require.NoError(t, err)
	require.Len(t, pkts, 2)
	assert.Equal(t, a, pkts[0])
	assert.Equal(t, b, pkts[1])
}

func TestReconstructorPendingUntilTerminated(t *testing.T) {
	pages := Paginate(fill(MaxPayloadSize), Header{Serial: 2}, 0)
	r := NewReconstructor()

	got, err := r.Push(pages[0])
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.True(t, r.Pending())

	got, err = r.Push(pages[1])
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0], MaxPayloadSize)
	assert.False(t, r.Pending())
}

func TestReconstructorErrors(t *testing.T) {
	open := Paginate(fill(600), Header{Serial: 1, Sequence: 1}, 2)
	require.Len(t, open, 2)

	t.Run("continuation without open packet", func(t *testing.T) {
		_, err := NewReconstructor().Push(open[1])
		assert.ErrorIs(t, err, errs.ErrMalformedContainer)
	})

	t.Run("open packet followed by fresh page", func(t *testing.T) {
		r := NewReconstructor()
		_, err := r.Push(open[0])
		require.NoError(t, err)
		fresh := *open[1]
		fresh.Flags = 0
		_, err = r.Push(&fresh)
		assert.ErrorIs(t, err, errs.ErrMalformedContainer)
	})

	t.Run("other serial", func(t *testing.T) {
		r := NewReconstructor()
		_, err := r.Push(open[0])
		require.NoError(t, err)
		other := *open[1]
		other.Serial = 99
		_, err = r.Push(&other)
		assert.ErrorIs(t, err, errs.ErrMalformedContainer)
	})

	t.Run("missing page inside packet", func(t *testing.T) {
		r := NewReconstructor()
		_, err := r.Push(open[0])
		require.NoError(t, err)
		skipped := *open[1]
		skipped.Sequence += 1
		_, err = r.Push(&skipped)
		assert.ErrorIs(t, err, errs.ErrMalformedContainer)
	})

	t.Run("unterminated stream", func(t *testing.T) {
		_, err := Packets(open[:1])
		assert.ErrorIs(t, err, errs.ErrTruncatedStream)
	})
}
