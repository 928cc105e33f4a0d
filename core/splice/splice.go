// Package splice moves the tail of a file forward or backward in place so a
// region in the middle can change size without rewriting what follows it.
//
// Data is always copied before the file is truncated; a failure part way
// leaves every byte of the tail present in the file at one of its two
// positions.
package splice

import (
	"fmt"
	"log/slog"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/spf13/afero"
)

// DefaultChunkSize bounds the copy buffer.
const DefaultChunkSize = 64 << 10

// Options tune a move.
type Options struct {
	ChunkSize int
	Logger    *slog.Logger
}

func (o Options) chunk() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Move shifts [src, EOF) to start at dest, choosing Grow or Shrink.
func Move(f afero.File, src, dest int64, opts Options) error {
	if dest > src {
		return Grow(f, src, dest, opts)
	}
	return Shrink(f, src, dest, opts)
}

// Grow copies [src, EOF) to dest (dest >= src), walking backward from the
// tail so no byte is overwritten before it is read. The file grows by
// dest-src; bytes in [src, dest) keep stale content for the caller to
// overwrite.
func Grow(f afero.File, src, dest int64, opts Options) error {
	if dest < src {
		return fmt.Errorf("splice: grow from %d to %d moves backward", src, dest)
	}
	size, err := fileSize(f, src)
	if err != nil || dest == src {
		return err
	}

	if err := f.Truncate(size + dest - src); err != nil {
		return errs.IO(fmt.Sprintf("extend to %d", size+dest-src), err)
	}
	buf := make([]byte, min(int64(opts.chunk()), max(size-src, 1)))
	for end := size; end > src; {
		n := min(int64(len(buf)), end-src)
		start := end - n
		if err := copyChunk(f, buf[:n], start, start+(dest-src)); err != nil {
			return err
		}
		end = start
	}
	opts.logger().Debug("splice: tail moved", "from", src, "to", dest, "bytes", size-src)
	return nil
}

// Shrink copies [src, EOF) to dest (dest <= src), walking forward, then
// truncates the file by src-dest bytes.
func Shrink(f afero.File, src, dest int64, opts Options) error {
	if dest > src {
		return fmt.Errorf("splice: shrink from %d to %d moves forward", src, dest)
	}
	if dest < 0 {
		return fmt.Errorf("splice: negative destination %d", dest)
	}
	size, err := fileSize(f, src)
	if err != nil || dest == src {
		return err
	}

	buf := make([]byte, min(int64(opts.chunk()), max(size-src, 1)))
	for pos := src; pos < size; {
		n := min(int64(len(buf)), size-pos)
		if err := copyChunk(f, buf[:n], pos, pos-(src-dest)); err != nil {
			return err
		}
		pos += n
	}
	newSize := size - (src - dest)
	if err := f.Truncate(newSize); err != nil {
		return errs.IO(fmt.Sprintf("truncate to %d", newSize), err)
	}
	opts.logger().Debug("splice: tail moved", "from", src, "to", dest, "bytes", size-src)
	return nil
}

func fileSize(f afero.File, src int64) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, errs.IO("stat", err)
	}
	size := fi.Size()
	if src < 0 || src > size {
		return 0, fmt.Errorf("splice: source %d outside file of %d bytes", src, size)
	}
	return size, nil
}

func copyChunk(f afero.File, buf []byte, from, to int64) error {
	n, err := f.ReadAt(buf, from)
	if n < len(buf) {
		if err == nil {
			err = fmt.Errorf("read %d of %d bytes", n, len(buf))
		}
		return &errs.PageError{Kind: errs.ErrIO, Offset: from, Msg: "short read while moving tail", Err: err}
	}
	if _, err := f.WriteAt(buf, to); err != nil {
		return &errs.PageError{Kind: errs.ErrIO, Offset: to, Msg: "write while moving tail", Err: err}
	}
	return nil
}
