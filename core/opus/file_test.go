package opus

import (
	"bytes"
	"testing"
	"time"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/ankit-chaubey/opus-tag-surgery/core/ogg"
	"github.com/ankit-chaubey/opus-tag-surgery/core/opus/opustest"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPath = "/music/song.opus"

func writeOpus(t *testing.T, spec opustest.Spec) (afero.Fs, []byte, opustest.Layout) {
	t.Helper()
	fs := afero.NewMemMapFs()
	data, layout := opustest.Build(spec)
	require.NoError(t, afero.WriteFile(fs, testPath, data, 0o644))
	return fs, data, layout
}

func openOpus(t *testing.T, fs afero.Fs, opts Options) *File {
	t.Helper()
	opts.Fs = fs
	f, err := Open(testPath, opts)
	require.NoError(t, err)
	return f
}

func readBack(t *testing.T, fs afero.Fs) []byte {
	t.Helper()
	b, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	return b
}

func TestOpen(t *testing.T) {
	fs, data, layout := writeOpus(t, opustest.Spec{
		Comments: []string{"TITLE=Old", "artist=Someone", "ARTIST=Else"},
	})

	f := openOpus(t, fs, Options{})
	assert.Equal(t, int64(len(data)), f.Size())
	assert.Equal(t, "libopus 1.4", f.Vendor())
	assert.Equal(t, "stereo", f.Head().Layout())
	assert.Equal(t, []string{"TITLE", "ARTIST"}, f.Keys())
	assert.Equal(t, []string{"Someone", "Else"}, f.Get("artist"))
	title, ok := f.First("title")
	assert.True(t, ok)
	assert.Equal(t, "Old", title)

	assert.Equal(t, layout.CommentStart, f.loc.commentStart)
	assert.Equal(t, layout.AudioStart, f.loc.audioStart)
	assert.Equal(t, uint32(1), f.loc.firstSeq)

	samples := layout.LastGranule - 312
	assert.Equal(t, time.Duration(samples)*time.Second/SampleRate, f.Duration())
}

func TestOpenMultiPageComments(t *testing.T) {
	pic := &vorbis.Picture{Type: vorbis.PictureFrontCover, MIME: "image/jpeg", Data: bytes.Repeat([]byte{0xAB}, 100_000)}
	fs, _, layout := writeOpus(t, opustest.Spec{
		Comments: []string{"TITLE=Big", vorbis.PictureKey + "=" + pic.Base64()},
	})
	require.Greater(t, layout.CommentPages, 1)

	f := openOpus(t, fs, Options{})
	assert.Equal(t, layout.CommentPages, f.loc.pages)
	pics := f.Pictures()
	require.Len(t, pics, 1)
	assert.Equal(t, pic.Data, pics[0].Data)
	assert.Equal(t, "image/jpeg", pics[0].MIME)
}

func TestOpenKeepsPaddingAndOverflow(t *testing.T) {
	fs, _, _ := writeOpus(t, opustest.Spec{
		Comments: []string{"A=1", "B=2", "C=3"},
		Padding:  64,
	})

	f := openOpus(t, fs, Options{MaxComments: 2})
	assert.Equal(t, 2, f.Block().Len())
	assert.Equal(t, 1, f.Block().Overflow())
	assert.Len(t, f.Block().Trailing(), 64)
}

func TestOpenErrors(t *testing.T) {
	data, layout := opustest.Build(opustest.Spec{Comments: []string{"TITLE=x"}})

	tests := []struct {
		name string
		data func() []byte
		kind error
	}{
		{"empty", func() []byte { return nil }, errs.ErrTruncatedStream},
		{"not ogg", func() []byte { return []byte("ID3\x04\x00\x00\x00\x00\x00\x00 and more bytes to pass 27") }, errs.ErrMalformedContainer},
		{"comment page crc", func() []byte {
			b := append([]byte(nil), data...)
			b[layout.CommentStart+ogg.HeaderSize+5] ^= 0xff
			return b
		}, errs.ErrIntegrity},
		{"cut inside comments", func() []byte { return data[:layout.AudioStart-3] }, errs.ErrTruncatedStream},
		{"headers only without comments", func() []byte { return data[:layout.CommentStart] }, errs.ErrTruncatedStream},
		{"not opus", func() []byte {
			b := append([]byte(nil), data[:layout.CommentStart]...)
			p, _, err := ogg.ParsePage(b)
			require.NoError(t, err)
			p.Payload[4] = 'X'
			return append(p.Encode(), data[layout.CommentStart:]...)
		}, errs.ErrMalformedContainer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, testPath, tt.data(), 0o644))
			_, err := Open(testPath, Options{Fs: fs})
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestOpenRejectsCommentSharingAudioPage(t *testing.T) {
	const serial = 7
	head := ogg.Paginate(opustest.Head(2, 312), ogg.Header{Flags: ogg.FlagFirst, Serial: serial}, 0)[0]
	tags := opustest.Tags("v", []string{"A=1"}, 0)
	audio := make([]byte, 50)
	page := &ogg.Page{
		Header:  ogg.Header{Serial: serial, Sequence: 1, Segments: append(ogg.Lace(len(tags)), ogg.Lace(len(audio))...)},
		Payload: append(append([]byte(nil), tags...), audio...),
	}
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, append(head.Encode(), page.Encode()...), 0o644))

	_, err := Open(testPath, Options{Fs: fs})
	assert.ErrorIs(t, err, errs.ErrMalformedContainer)
}

func TestIsOpus(t *testing.T) {
	fs, _, _ := writeOpus(t, opustest.Spec{})
	ok, err := IsOpus(fs, testPath)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, afero.WriteFile(fs, "/x.ogg", []byte("not an ogg file at all, clearly"), 0o644))
	ok, err = IsOpus(fs, "/x.ogg")
	require.NoError(t, err)
	assert.False(t, ok)
}
