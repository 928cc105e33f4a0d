package artwork

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newLoader(t *testing.T, fs afero.Fs, workers int) *Loader {
	t.Helper()
	l, err := NewLoader(LoaderConfig{Workers: workers, CacheSize: 8, Fs: fs})
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestLoadFromData(t *testing.T) {
	data := pngBytes(t, 4, 3, color.White)
	l := newLoader(t, afero.NewMemMapFs(), 2)

	img, err := l.Load(Request{Data: data}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, "image/png", img.MIME())
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)
	assert.Equal(t, len(data), img.Size)
	assert.Equal(t, Hash(data), img.Hash)
}

func TestCachedRequestCompletesSynchronously(t *testing.T) {
	data := pngBytes(t, 2, 2, color.Black)
	l := newLoader(t, afero.NewMemMapFs(), 1)

	first, err := l.Load(Request{Data: data}).Wait(context.Background())
	require.NoError(t, err)

	fut := l.Load(Request{Data: data})
	select {
	case <-fut.Done():
	default:
		t.Fatal("cached request should already be complete")
	}
	again, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestLoadFromPathRange(t *testing.T) {
	data := pngBytes(t, 5, 7, color.Gray{Y: 128})
	fs := afero.NewMemMapFs()
	blob := append(append([]byte("some container bytes"), data...), []byte("trailer")...)
	require.NoError(t, afero.WriteFile(fs, "/a.bin", blob, 0o644))
	l := newLoader(t, fs, 2)

	req := Request{Path: "/a.bin", Offset: int64(len("some container bytes")), Length: int64(len(data))}
	img, err := l.Load(req).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, img.Width)

	// Same bytes at another place share the cache entry.
	require.NoError(t, afero.WriteFile(fs, "/b.bin", data, 0o644))
	other, err := l.Load(Request{Path: "/b.bin", Length: int64(len(data))}).Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, img, other)
	assert.Equal(t, 1, l.Cache().Len())

	// With the hash known, a cached path request never opens the file.
	fut := l.Load(Request{Path: "/missing", Length: 10, Hash: img.Hash})
	got, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, img, got)
}

func TestLoadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/short.bin", []byte("tiny"), 0o644))
	l := newLoader(t, fs, 1)
	ctx := context.Background()

	_, err := l.Load(Request{Path: "/short.bin", Offset: 2, Length: 10}).Wait(ctx)
	assert.ErrorIs(t, err, errs.ErrTruncatedStream)

	_, err = l.Load(Request{Path: "/nope.bin", Length: 10}).Wait(ctx)
	assert.ErrorIs(t, err, errs.ErrIO)

	_, err = l.Load(Request{Path: "/short.bin", Length: 0}).Wait(ctx)
	assert.Error(t, err)

	_, err = l.Load(Request{Data: []byte("not an image")}).Wait(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, l.Cache().Len())
}

func TestConcurrentLoadsShareOneResult(t *testing.T) {
	data := pngBytes(t, 16, 16, color.White)
	l := newLoader(t, afero.NewMemMapFs(), 4)

	const n = 20
	results := make([]*Image, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img, err := l.Load(Request{Data: data}).Wait(context.Background())
			assert.NoError(t, err)
			results[i] = img
		}(i)
	}
	wg.Wait()

	for _, img := range results[1:] {
		assert.Same(t, results[0], img)
	}
	assert.Equal(t, 1, l.Cache().Len())
}

// gatedFs holds every Open until gate is closed.
type gatedFs struct {
	afero.Fs
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedFs) Open(name string) (afero.File, error) {
	g.entered <- struct{}{}
	<-g.gate
	return g.Fs.Open(name)
}

func TestLoadDoesNotWaitForBusyWorkers(t *testing.T) {
	data := pngBytes(t, 3, 3, color.White)
	fs := &gatedFs{Fs: afero.NewMemMapFs(), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	require.NoError(t, afero.WriteFile(fs.Fs, "/cover.png", data, 0o644))
	l := newLoader(t, fs, 1)

	slow := l.Load(Request{Path: "/cover.png", Length: int64(len(data))})
	<-fs.entered

	small := pngBytes(t, 2, 2, color.Black)
	queued := make(chan *Future, 1)
	go func() { queued <- l.Load(Request{Data: small}) }()
	var fast *Future
	select {
	case fast = <-queued:
	case <-time.After(time.Second):
		t.Fatal("Load waited for the busy worker")
	}
	select {
	case <-fast.Done():
		t.Fatal("second load ran while the only worker was busy")
	default:
	}

	close(fs.gate)
	img, err := slow.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, img.Width)
	img, err = fast.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, img.Width)
}

func TestEvictAndClear(t *testing.T) {
	l := newLoader(t, afero.NewMemMapFs(), 1)
	a := pngBytes(t, 1, 1, color.White)
	b := pngBytes(t, 2, 1, color.White)

	imgA, err := l.Load(Request{Data: a}).Wait(context.Background())
	require.NoError(t, err)
	_, err = l.Load(Request{Data: b}).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, l.Cache().Len())

	assert.True(t, l.Evict(imgA.Hash))
	assert.False(t, l.Evict(imgA.Hash))
	assert.Equal(t, 1, l.Cache().Len())

	reloaded, err := l.Load(Request{Data: a}).Wait(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, imgA, reloaded)

	l.Clear()
	assert.Equal(t, 0, l.Cache().Len())
}

func TestCacheIsBounded(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)
	for _, h := range []string{"a", "b", "c"} {
		c.Put(&Image{Hash: h})
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestWaitHonoursContext(t *testing.T) {
	fut := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fut.complete(&Image{Hash: "x"}, nil)
	img, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", img.Hash)
}

func TestClosedLoader(t *testing.T) {
	l, err := NewLoader(LoaderConfig{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	data := pngBytes(t, 1, 1, color.White)
	_, err = l.Load(Request{Data: data}).Wait(context.Background())
	require.NoError(t, err)
	l.Close()
	l.Close()

	_, err = l.Load(Request{Data: data}).Wait(context.Background())
	assert.NoError(t, err, "cache hits still served")
	_, err = l.Load(Request{Data: pngBytes(t, 3, 3, color.White)}).Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSniffAndProbe(t *testing.T) {
	data := pngBytes(t, 6, 4, color.White)
	assert.Equal(t, "image/png", SniffMIME(data))
	assert.Equal(t, "image/jpeg", SniffMIME([]byte{0xFF, 0xD8, 0xFF, 0xE0}))
	assert.Equal(t, "image/webp", SniffMIME([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")))
	assert.Equal(t, "application/octet-stream", SniffMIME([]byte("hello")))

	cfg, err := Probe(data)
	require.NoError(t, err)
	assert.Equal(t, Config{MIME: "image/png", Width: 6, Height: 4, Depth: 32}, cfg)

	_, err = Probe([]byte("garbage"))
	assert.Error(t, err)
	assert.Nil(t, EXIF(data))
}
