// Package artwork decodes embedded cover pictures off the caller's goroutine
// and caches the results by content.
package artwork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// MaxImageSize bounds a single read from a file.
const MaxImageSize = 64 << 20

// ErrClosed is returned by futures of a Loader that was closed.
var ErrClosed = errors.New("artwork: loader closed")

// Request names the encoded bytes of one picture. Data wins over Path; with
// Path, Length bytes are read at Offset through a handle of its own.
type Request struct {
	Path   string
	Offset int64
	Length int64
	Data   []byte
	// Hash is the SHA-256 of the bytes if the caller already knows it. It
	// lets a cached path request complete without touching the file.
	Hash string
}

// Future is the pending result of Load. It completes exactly once, with an
// image or an error.
type Future struct {
	done chan struct{}
	img  *Image
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) complete(img *Image, err error) {
	f.img, f.err = img, err
	close(f.done)
}

// Done is closed when the result is ready.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is ready or ctx ends. Giving up on ctx does
// not stop the decode.
func (f *Future) Wait(ctx context.Context) (*Image, error) {
	select {
	case <-f.done:
		return f.img, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Workers   int // at least one
	CacheSize int
	Fs        afero.Fs
	Logger    *slog.Logger
}

// Loader decodes pictures on a bounded pool of workers.
type Loader struct {
	fs    afero.Fs
	log   *slog.Logger
	cache *Cache
	pool  *pool.Pool
	group singleflight.Group

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewLoader starts a loader.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cache, err := NewCache(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("artwork: cache: %w", err)
	}
	l := &Loader{
		fs:    cfg.Fs,
		log:   cfg.Logger.With("component", "artwork"),
		cache: cache,
		pool:  pool.New().WithMaxGoroutines(cfg.Workers),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go l.dispatch()
	return l, nil
}

// dispatch feeds queued loads to the pool. Only this goroutine waits for a
// free worker.
func (l *Loader) dispatch() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				l.pool.Wait()
				return
			}
			<-l.wake
			continue
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.pool.Go(task)
	}
}

func (l *Loader) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Load returns a future for the decoded picture without waiting for a
// worker. A request whose hash is cached (given, or computed from Data)
// completes before Load returns.
func (l *Loader) Load(req Request) *Future {
	fut := newFuture()

	hash := req.Hash
	if hash == "" && req.Data != nil {
		hash = Hash(req.Data)
	}
	if hash != "" {
		if img, ok := l.cache.Get(hash); ok {
			fut.complete(img, nil)
			return fut
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fut.complete(nil, ErrClosed)
		return fut
	}
	l.queue = append(l.queue, func() {
		img, err := l.load(req, hash)
		if err != nil {
			l.log.Debug("picture load failed", "path", req.Path, "offset", req.Offset, "error", err)
		}
		fut.complete(img, err)
	})
	l.mu.Unlock()
	l.signal()
	return fut
}

func (l *Loader) load(req Request, hash string) (*Image, error) {
	data := req.Data
	if data == nil {
		var err error
		if data, err = l.read(req); err != nil {
			return nil, err
		}
		hash = Hash(data)
		if img, ok := l.cache.Get(hash); ok {
			return img, nil
		}
	}

	v, err, shared := l.group.Do(hash, func() (any, error) {
		if img, ok := l.cache.Get(hash); ok {
			return img, nil
		}
		img, err := decode(hash, data)
		if err != nil {
			return nil, err
		}
		l.cache.Put(img)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.log.Debug("picture decode shared", "hash", hash)
	}
	return v.(*Image), nil
}

func (l *Loader) read(req Request) ([]byte, error) {
	if req.Length <= 0 || req.Length > MaxImageSize {
		return nil, fmt.Errorf("artwork: picture length %d outside 1..%d", req.Length, MaxImageSize)
	}
	fh, err := l.fs.Open(req.Path)
	if err != nil {
		return nil, errs.IO("open "+req.Path, err)
	}
	defer fh.Close()

	if _, err := fh.Seek(req.Offset, io.SeekStart); err != nil {
		return nil, errs.IO("seek "+req.Path, err)
	}
	data := make([]byte, req.Length)
	n, err := io.ReadFull(fh, data)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, errs.At(errs.ErrTruncatedStream, req.Offset, "picture needs %d bytes, file has %d", req.Length, n)
	}
	if err != nil {
		return nil, errs.IO("read "+req.Path, err)
	}
	return data, nil
}

// Evict drops one cached image.
func (l *Loader) Evict(hash string) bool { return l.cache.Evict(hash) }

// Clear drops every cached image.
func (l *Loader) Clear() { l.cache.Clear() }

// Cache exposes the cache for inspection.
func (l *Loader) Cache() *Cache { return l.cache }

// Close waits for queued loads to finish. Loads requested afterwards fail
// with ErrClosed unless they hit the cache.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.signal()
	<-l.done
}
