package opus

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ankit-chaubey/opus-tag-surgery/core/ogg"
	"github.com/ankit-chaubey/opus-tag-surgery/core/opus/opustest"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// commentPages parses the pages between the identification page and the
// audio pages of a saved file.
func commentPages(t *testing.T, data []byte, start, end int64) []*ogg.Page {
	t.Helper()
	var pages []*ogg.Page
	for off := start; off < end; {
		p, n, err := ogg.ParsePage(data[off:])
		require.NoError(t, err)
		pages = append(pages, p)
		off += int64(n)
	}
	return pages
}

func TestSaveLongerTitle(t *testing.T) {
	fs, orig, layout := writeOpus(t, opustest.Spec{Comments: []string{"TITLE=Old", "ARTIST=Someone"}})

	f := openOpus(t, fs, Options{})
	require.NoError(t, f.Set("TITLE", "A Much Longer New Title"))
	require.NoError(t, f.Save(context.Background()))

	delta := int64(len("A Much Longer New Title") - len("Old"))
	got := readBack(t, fs)
	require.Len(t, got, len(orig)+int(delta))
	assert.Equal(t, int64(len(got)), f.Size())

	// Identification page untouched, audio pages shifted by delta and
	// otherwise identical.
	assert.Equal(t, orig[:layout.CommentStart], got[:layout.CommentStart])
	assert.Equal(t, orig[layout.AudioStart:], got[layout.AudioStart+delta:])
	off := layout.AudioStart + delta
	for i, page := range layout.AudioPages {
		assert.Equal(t, page, got[off:off+int64(len(page))], "audio page %d", i)
		off += int64(len(page))
	}

	pages := commentPages(t, got, layout.CommentStart, layout.AudioStart+delta)
	require.Len(t, pages, 1)
	assert.Equal(t, uint32(1), pages[0].Sequence)

	again := openOpus(t, fs, Options{})
	assert.Equal(t, []string{"A Much Longer New Title"}, again.Get("TITLE"))
	assert.Equal(t, []string{"Someone"}, again.Get("ARTIST"))
	assert.Equal(t, f.Duration(), again.Duration())
}

func TestSaveShorterComments(t *testing.T) {
	fs, orig, layout := writeOpus(t, opustest.Spec{
		Comments: []string{"TITLE=" + strings.Repeat("long ", 200), "ALBUM=Keep"},
	})

	f := openOpus(t, fs, Options{})
	require.NoError(t, f.Set("TITLE", "Short"))
	require.NoError(t, f.Save(context.Background()))

	got := readBack(t, fs)
	delta := int64(len("Short") - len(strings.Repeat("long ", 200)))
	require.Len(t, got, len(orig)+int(delta))
	assert.Equal(t, orig[layout.AudioStart:], got[layout.AudioStart+delta:])

	again := openOpus(t, fs, Options{})
	assert.Equal(t, []string{"Short"}, again.Get("TITLE"))
	assert.Equal(t, []string{"Keep"}, again.Get("ALBUM"))
}

func TestSaveUnchangedIsByteIdentical(t *testing.T) {
	fs, orig, _ := writeOpus(t, opustest.Spec{
		Comments: []string{"title=lower case key", "JUNK WITHOUT SEPARATOR", "X=1"},
		Padding:  32,
	})

	f := openOpus(t, fs, Options{MaxComments: 1})
	require.NoError(t, f.Save(context.Background()))
	assert.Equal(t, orig, readBack(t, fs))
}

func TestSaveKeepsCommentPageCount(t *testing.T) {
	pic := &vorbis.Picture{Type: vorbis.PictureFrontCover, MIME: "image/png", Data: bytes.Repeat([]byte{7}, 120_000)}
	fs, orig, layout := writeOpus(t, opustest.Spec{
		Comments: []string{"TITLE=x", vorbis.PictureKey + "=" + pic.Base64()},
	})
	require.Equal(t, 3, layout.CommentPages)

	f := openOpus(t, fs, Options{})
	require.NoError(t, f.Set("TITLE", "a slightly longer title"))
	require.NoError(t, f.Save(context.Background()))

	got := readBack(t, fs)
	delta := int64(len(got) - len(orig))
	pages := commentPages(t, got, layout.CommentStart, layout.AudioStart+delta)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, uint32(1+i), p.Sequence)
		assert.Equal(t, i > 0, p.IsContinuation())
	}
	// First audio page still carries sequence 4.
	first, _, err := ogg.ParsePage(got[layout.AudioStart+delta:])
	require.NoError(t, err)
	assert.Equal(t, uint32(4), first.Sequence)

	again := openOpus(t, fs, Options{})
	require.Len(t, again.Pictures(), 1)
	assert.Equal(t, pic.Data, again.Pictures()[0].Data)
}

func TestSaveGrowsAcrossPages(t *testing.T) {
	fs, orig, layout := writeOpus(t, opustest.Spec{Comments: []string{"TITLE=x"}})

	f := openOpus(t, fs, Options{})
	f.AddPicture(&vorbis.Picture{Type: vorbis.PictureBackCover, MIME: "image/png", Data: bytes.Repeat([]byte{1}, 70_000)})
	require.NoError(t, f.Save(context.Background()))

	got := readBack(t, fs)
	delta := int64(len(got) - len(orig))
	assert.Equal(t, orig[layout.AudioStart:], got[layout.AudioStart+delta:])

	again := openOpus(t, fs, Options{})
	require.Len(t, again.Pictures(), 1)
	assert.Equal(t, vorbis.PictureBackCover, again.Pictures()[0].Type)
	assert.Greater(t, again.loc.pages, 1)

	again.ClearPictures()
	require.NoError(t, again.Save(context.Background()))
	assert.Equal(t, orig, readBack(t, fs))
}

func TestSaveStrategiesAgree(t *testing.T) {
	edit := func(f *File) {
		require.NoError(t, f.Set("TITLE", "A Much Longer New Title"))
		require.NoError(t, f.Add("GENRE", "Ambient"))
		f.SetVendor("surgery")
	}

	fsA, _, _ := writeOpus(t, opustest.Spec{Comments: []string{"TITLE=Old"}})
	a := openOpus(t, fsA, Options{})
	edit(a)
	require.NoError(t, a.Save(context.Background()))

	fsB, _, _ := writeOpus(t, opustest.Spec{Comments: []string{"TITLE=Old"}})
	b := openOpus(t, fsB, Options{Save: SaveOptions{Strategy: StrategyAtomic}})
	edit(b)
	require.NoError(t, b.Save(context.Background()))

	assert.Equal(t, readBack(t, fsA), readBack(t, fsB))
	assert.Equal(t, a.Size(), b.Size())

	entries, err := afero.ReadDir(fsB, "/music")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file left behind")
}

func TestSaveBackup(t *testing.T) {
	fs, orig, _ := writeOpus(t, opustest.Spec{Comments: []string{"TITLE=Old"}})

	for i := 0; i < 2; i++ {
		f := openOpus(t, fs, Options{Save: SaveOptions{Backup: true}})
		require.NoError(t, f.Set("TITLE", "New"))
		require.NoError(t, f.Save(context.Background()))
	}

	bak, err := afero.ReadFile(fs, testPath+".bak")
	require.NoError(t, err)
	assert.Equal(t, orig, bak)

	entries, err := afero.ReadDir(fs, "/music")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestSaveCancelledLeavesFile(t *testing.T) {
	fs, orig, _ := writeOpus(t, opustest.Spec{Comments: []string{"TITLE=Old"}})
	f := openOpus(t, fs, Options{})
	require.NoError(t, f.Set("TITLE", "New title"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Save(ctx), context.Canceled)
	assert.Equal(t, orig, readBack(t, fs))
}

func TestSaveSmallChunks(t *testing.T) {
	fs, orig, layout := writeOpus(t, opustest.Spec{Comments: []string{"TITLE=Old"}, AudioPages: 20})
	f := openOpus(t, fs, Options{Save: SaveOptions{ChunkSize: 37}})
	require.NoError(t, f.Set("TITLE", strings.Repeat("z", 500)))
	require.NoError(t, f.Save(context.Background()))

	got := readBack(t, fs)
	delta := int64(len(got) - len(orig))
	assert.Equal(t, int64(497), delta)
	assert.Equal(t, orig[layout.AudioStart:], got[layout.AudioStart+delta:])
}

func TestSaveTwiceFromOneFile(t *testing.T) {
	fs, orig, layout := writeOpus(t, opustest.Spec{Comments: []string{"TITLE=Old"}})

	f := openOpus(t, fs, Options{Save: SaveOptions{Backup: true}})
	require.NoError(t, f.Set("TITLE", "A Much Longer New Title"))
	require.NoError(t, f.Save(context.Background()))
	assert.Equal(t, int64(len(readBack(t, fs))), f.Size())

	require.NoError(t, f.Set("TITLE", "Mid"))
	require.NoError(t, f.Save(context.Background()))
	got := readBack(t, fs)
	assert.Equal(t, int64(len(got)), f.Size())
	assert.Equal(t, len(orig), len(got))
	assert.Equal(t, orig[layout.AudioStart:], got[layout.AudioStart:])

	again := openOpus(t, fs, Options{})
	assert.Equal(t, []string{"Mid"}, again.Get("TITLE"))
}

func TestSaveWritesZeroGranuleOnCommentPages(t *testing.T) {
	_, orig, layout := writeOpus(t, opustest.Spec{Comments: []string{"TITLE=Old"}})
	p, n, err := ogg.ParsePage(orig[layout.CommentStart:])
	require.NoError(t, err)
	p.Granule = 4242
	data := append(append(append([]byte(nil), orig[:layout.CommentStart]...), p.Encode()...), orig[layout.CommentStart+int64(n):]...)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, data, 0o644))
	f := openOpus(t, fs, Options{})
	require.NoError(t, f.Set("TITLE", "New"))
	require.NoError(t, f.Save(context.Background()))

	got := readBack(t, fs)
	pages := commentPages(t, got, layout.CommentStart, layout.AudioStart)
	require.Len(t, pages, 1)
	assert.Zero(t, pages[0].Granule)
}
