package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReportsInInputOrder(t *testing.T) {
	r := NewRunner(Options{Workers: 3})
	paths := []string{"/a", "/b", "/c", "/d", "/e"}
	rep := r.Run(context.Background(), paths, func(ctx context.Context, path string) error {
		if path == "/c" {
			return errs.Malformed("bad page")
		}
		return nil
	})

	require.Len(t, rep.Results, len(paths))
	for i, res := range rep.Results {
		assert.Equal(t, paths[i], res.Path)
	}
	assert.Equal(t, 4, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.False(t, rep.Results[2].OK())
	assert.Equal(t, uint(1), rep.Results[2].Attempts, "malformed files are not retried")
	assert.Contains(t, rep.Results[2].Error, "bad page")

	err := rep.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMalformedContainer)
	assert.True(t, strings.HasPrefix(err.Error(), "/c: "))
}

func TestResultCarriesTimingAndError(t *testing.T) {
	r := NewRunner(Options{Workers: 1})
	rep := r.Run(context.Background(), []string{"/slow", "/broken"}, func(ctx context.Context, path string) error {
		time.Sleep(5 * time.Millisecond)
		if path == "/broken" {
			return errs.Malformed("no OpusHead")
		}
		return nil
	})

	require.Len(t, rep.Results, 2)
	for _, res := range rep.Results {
		assert.GreaterOrEqual(t, res.Elapsed, 5*time.Millisecond, res.Path)
	}
	assert.True(t, rep.Results[0].OK())
	assert.Empty(t, rep.Results[0].Error)
	assert.Contains(t, rep.Results[1].Error, "no OpusHead")
}

func TestRetriesTruncatedFiles(t *testing.T) {
	r := NewRunner(Options{Workers: 1, Attempts: 4, Delay: time.Millisecond})
	var calls atomic.Int32
	rep := r.Run(context.Background(), []string{"/growing.opus"}, func(ctx context.Context, path string) error {
		if calls.Add(1) < 3 {
			return errs.Truncated("file ends inside a page")
		}
		return nil
	})
	require.Len(t, rep.Results, 1)
	assert.True(t, rep.Results[0].OK())
	assert.Equal(t, uint(3), rep.Results[0].Attempts)

	calls.Store(0)
	rep = NewRunner(Options{Attempts: 2, Delay: time.Millisecond}).Run(context.Background(), []string{"/x"},
		func(ctx context.Context, path string) error {
			calls.Add(1)
			return errs.Truncated("still short")
		})
	assert.Equal(t, int32(2), calls.Load())
	assert.ErrorIs(t, rep.Results[0].Err, errs.ErrTruncatedStream)
}

func TestSamePathNeverRunsConcurrently(t *testing.T) {
	r := NewRunner(Options{Workers: 8})
	var (
		mu      sync.Mutex
		active  = map[string]int{}
		overlap atomic.Bool
		maxPar  atomic.Int32
		running atomic.Int32
	)
	var paths []string
	for i := 0; i < 24; i++ {
		paths = append(paths, fmt.Sprintf("/song%d.opus", i%3))
	}
	paths = append(paths, "/./song0.opus")

	rep := r.Run(context.Background(), paths, func(ctx context.Context, path string) error {
		key := strings.TrimPrefix(path, "/.")
		mu.Lock()
		active[key]++
		if active[key] > 1 {
			overlap.Store(true)
		}
		mu.Unlock()
		n := running.Add(1)
		for {
			cur := maxPar.Load()
			if n <= cur || maxPar.CompareAndSwap(cur, n) {
				break
			}
		}

		time.Sleep(2 * time.Millisecond)

		running.Add(-1)
		mu.Lock()
		active[key]--
		mu.Unlock()
		return nil
	})

	assert.Equal(t, len(paths), rep.Succeeded)
	assert.False(t, overlap.Load())
	assert.LessOrEqual(t, maxPar.Load(), int32(3))
	assert.Equal(t, 0, r.locks.len())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	rep := NewRunner(Options{}).Run(ctx, []string{"/a", "/b"}, func(ctx context.Context, path string) error {
		calls.Add(1)
		return nil
	})
	assert.Zero(t, calls.Load())
	assert.Equal(t, 2, rep.Failed)
	assert.True(t, errors.Is(rep.Err(), context.Canceled))
}

func TestCollect(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, p := range []string{"/lib/a.opus", "/lib/sub/b.opus", "/lib/cover.jpg", "/one.flac"} {
		require.NoError(t, afero.WriteFile(fs, p, []byte("x"), 0o644))
	}
	opusOnly := func(p string) bool { return strings.HasSuffix(p, ".opus") }

	got, err := Collect(fs, []string{"/lib", "/one.flac", "/lib/a.opus"}, opusOnly)
	require.NoError(t, err)
	assert.Equal(t, []string{"/lib/a.opus", "/lib/sub/b.opus", "/one.flac"}, got)

	_, err = Collect(fs, []string{"/missing"}, opusOnly)
	assert.ErrorIs(t, err, errs.ErrIO)
}
