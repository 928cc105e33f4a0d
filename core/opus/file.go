// Package opus reads and rewrites the metadata of Ogg Opus files.
//
// Only the identification page and the pages of the comment packet are
// read into memory. Saving splices the file so the comment packet can grow
// or shrink while every audio page keeps its bytes.
package opus

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/ankit-chaubey/opus-tag-surgery/core/ogg"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
	"github.com/spf13/afero"
)

// Options configure Open.
type Options struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// MaxComments caps decoded comments, see vorbis.DecodeOptions.
	MaxComments int
	Logger      *slog.Logger
	// Save is used by File.Save.
	Save SaveOptions
}

func (o *Options) fill() {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// File is an Opus file whose tags can be edited in memory and persisted
// with Save.
type File struct {
	path string
	size int64
	opts Options
	log  *slog.Logger

	head     *Head
	duration time.Duration
	block    *vorbis.Block
	loc      *location
}

// location is where the header packets sit in the file.
type location struct {
	serial       uint32
	commentStart int64 // first byte of the first comment page
	audioStart   int64 // first byte after the last comment page
	firstSeq     uint32
	pages        int
	lastFlags    byte
	head         []byte
	tags         []byte // the full comment packet, magic included
}

// Open reads the header pages of the Opus file at path.
func Open(path string, opts Options) (*File, error) {
	opts.fill()
	fh, err := opts.Fs.Open(path)
	if err != nil {
		return nil, errs.IO("open "+path, err)
	}
	defer fh.Close()

	fi, err := fh.Stat()
	if err != nil {
		return nil, errs.IO("stat "+path, err)
	}

	loc, err := locate(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	head, err := ParseHead(loc.head)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	block, err := vorbis.Decode(loc.tags[len(tagsMagic):], vorbis.DecodeOptions{MaxComments: opts.MaxComments})
	if err != nil {
		return nil, fmt.Errorf("%s: comment header: %w", path, errs.WithPage(err, loc.commentStart, loc.firstSeq))
	}

	f := &File{
		path:  path,
		size:  fi.Size(),
		opts:  opts,
		log:   opts.Logger.With("component", "opus", "path", path),
		head:  head,
		block: block,
		loc:   loc,
	}
	if block.Overflow() > 0 {
		f.log.Warn("comment cap reached, extra comments kept verbatim", "decoded", block.Len(), "kept", block.Overflow())
	}
	f.duration = f.readDuration(fh)
	return f, nil
}

// locate reads the identification page and the comment packet from the
// start of r.
func locate(r io.Reader) (*location, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	var off int64

	first, err := ogg.ReadPage(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errs.Truncated("empty file")
		}
		return nil, errs.WithPage(err, 0, 0)
	}
	if !first.IsFirst() {
		return nil, errs.At(errs.ErrMalformedContainer, 0, "first page lacks the beginning-of-stream flag")
	}
	rec := ogg.NewReconstructor()
	pkts, err := rec.Push(first)
	if err != nil {
		return nil, errs.WithPage(err, 0, first.Sequence)
	}
	if len(pkts) != 1 || rec.Pending() {
		return nil, errs.At(errs.ErrMalformedContainer, 0, "identification page must hold exactly one packet")
	}
	loc := &location{serial: first.Serial, head: pkts[0]}
	off += int64(first.Size())
	loc.commentStart = off

	for {
		p, err := ogg.ReadPage(br)
		if errors.Is(err, io.EOF) {
			return nil, errs.At(errs.ErrTruncatedStream, off, "stream ends inside the comment header")
		}
		if err != nil {
			return nil, errs.WithPage(err, off, 0)
		}
		if p.Serial != loc.serial {
			return nil, errs.At(errs.ErrMalformedContainer, off, "page of stream %08x interleaved with comment header", p.Serial)
		}
		if loc.pages == 0 {
			loc.firstSeq = p.Sequence
		}
		pkts, err := rec.Push(p)
		if err != nil {
			return nil, errs.WithPage(err, off, p.Sequence)
		}
		loc.pages++
		off += int64(p.Size())
		if len(pkts) == 0 {
			continue
		}
		if len(pkts) > 1 || rec.Pending() {
			return nil, &errs.PageError{
				Kind: errs.ErrMalformedContainer, Offset: off - int64(p.Size()), Seq: p.Sequence, HasSeq: true,
				Msg: "comment header does not end its last page",
			}
		}
		loc.tags = pkts[0]
		loc.audioStart = off
		loc.lastFlags = p.Flags
		break
	}
	if !bytes.HasPrefix(loc.tags, []byte(tagsMagic)) {
		return nil, errs.At(errs.ErrMalformedContainer, loc.commentStart, "second packet is not OpusTags")
	}
	return loc, nil
}

// readDuration looks for the last page of the stream in the tail of the
// file. A missing or unreadable tail gives zero.
func (f *File) readDuration(r io.ReaderAt) time.Duration {
	start := max(f.loc.audioStart, f.size-ogg.MaxPageSize)
	buf := make([]byte, f.size-start)
	if n, err := r.ReadAt(buf, start); n < len(buf) {
		f.log.Debug("tail unreadable, duration unknown", "error", err)
		return 0
	}
	for i := len(buf) - ogg.HeaderSize; i >= 0; i-- {
		if buf[i] != 'O' || !bytes.HasPrefix(buf[i:], []byte("OggS")) {
			continue
		}
		p, _, err := ogg.ParsePage(buf[i:])
		if err != nil || p.Serial != f.loc.serial || p.Granule == ^uint64(0) {
			continue
		}
		if p.Granule <= uint64(f.head.PreSkip) {
			return 0
		}
		samples := p.Granule - uint64(f.head.PreSkip)
		return time.Duration(samples) * time.Second / SampleRate
	}
	f.log.Debug("no granule position in file tail")
	return 0
}

// Path is the file the tags were read from.
func (f *File) Path() string { return f.path }

// Size is the file size in bytes as of the last Open or Save.
func (f *File) Size() int64 { return f.size }

// Head is the identification header.
func (f *File) Head() *Head { return f.head }

// Duration is the playback length, derived from the last granule position.
func (f *File) Duration() time.Duration { return f.duration }

// Block exposes the comment block for direct edits.
func (f *File) Block() *vorbis.Block { return f.block }

// Vendor is the encoder vendor string.
func (f *File) Vendor() string { return f.block.Vendor }

// SetVendor replaces the vendor string.
func (f *File) SetVendor(v string) { f.block.Vendor = v }

// Get returns every value of key.
func (f *File) Get(key string) []string { return f.block.Get(key) }

// First returns the first value of key.
func (f *File) First(key string) (string, bool) { return f.block.First(key) }

// Set replaces every value of key.
func (f *File) Set(key string, values ...string) error { return f.block.Set(key, values...) }

// Add appends a value under key.
func (f *File) Add(key, value string) error { return f.block.Add(key, value) }

// Remove drops key and reports how many values went with it.
func (f *File) Remove(key string) int { return f.block.Remove(key) }

// Keys lists the distinct keys in file order.
func (f *File) Keys() []string { return f.block.Keys() }

// Comments lists every entry in file order, opaque ones included.
func (f *File) Comments() []*vorbis.Entry { return f.block.Comments() }

// Pictures lists the embedded pictures.
func (f *File) Pictures() []*vorbis.Picture { return f.block.Pictures() }

// AddPicture embeds a picture.
func (f *File) AddPicture(p *vorbis.Picture) { f.block.AddPicture(p) }

// RemovePicture removes the i-th picture.
func (f *File) RemovePicture(i int) error { return f.block.RemovePicture(i) }

// ClearPictures removes every picture.
func (f *File) ClearPictures() int { return f.block.ClearPictures() }

// IsOpus reports whether the file at path starts with an Opus
// identification page. It reads only the first page.
func IsOpus(fs afero.Fs, path string) (bool, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	fh, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, err
		}
		return false, errs.IO("open "+path, err)
	}
	defer fh.Close()
	p, err := ogg.ReadPage(fh)
	if err != nil {
		return false, nil
	}
	return bytes.HasPrefix(p.Payload, []byte(headMagic)), nil
}
