package opus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/ankit-chaubey/opus-tag-surgery/core/ogg"
	"github.com/ankit-chaubey/opus-tag-surgery/core/splice"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Strategy selects how Save replaces the comment header.
type Strategy int

const (
	// StrategyInPlace splices the open file. Nothing but the header region
	// and the position of the tail changes.
	StrategyInPlace Strategy = iota
	// StrategyAtomic writes a complete copy next to the file and renames
	// it over the original.
	StrategyAtomic
)

func (s Strategy) String() string {
	switch s {
	case StrategyInPlace:
		return "in-place"
	case StrategyAtomic:
		return "atomic"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy is the inverse of Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "in-place", "inplace":
		return StrategyInPlace, nil
	case "atomic":
		return StrategyAtomic, nil
	}
	return 0, fmt.Errorf("unknown save strategy %q", s)
}

// SaveOptions tune Save.
type SaveOptions struct {
	Strategy Strategy
	// Backup copies the original file to "<path>.bak" before it is
	// changed. An existing backup is not overwritten; a unique name is
	// used instead.
	Backup bool
	// SkipVerify disables re-reading the file after the write.
	SkipVerify bool
	// ChunkSize bounds the buffer used to move the audio pages.
	ChunkSize int
}

// Save writes the in-memory tags to the file.
//
// The header pages are located again, the new comment packet is laced over
// as many pages as the old one used when that is possible (so page sequence
// numbers stay contiguous), the audio pages are moved by the size
// difference and the new pages are written in front of them. Finally the
// file is read back and compared.
func (f *File) Save(ctx context.Context) error {
	opts := f.opts.Save
	log := f.log.With("strategy", opts.Strategy.String())

	if err := ctx.Err(); err != nil {
		return err
	}
	var bak string
	if opts.Backup {
		var err error
		if bak, err = backup(f.opts.Fs, f.path); err != nil {
			return err
		}
		log.Debug("backup written", "backup", bak)
	}

	packet := append([]byte(tagsMagic), f.block.Encode()...)

	var (
		loc *location
		err error
	)
	switch opts.Strategy {
	case StrategyInPlace:
		loc, err = f.saveInPlace(ctx, packet)
	case StrategyAtomic:
		loc, err = f.saveAtomic(ctx, packet)
	default:
		err = fmt.Errorf("unknown save strategy %d", opts.Strategy)
	}
	if err != nil {
		return err
	}

	newAudioStart := loc.audioStart
	if !opts.SkipVerify {
		got, err := f.verify(packet)
		if err != nil {
			if bak != "" {
				return fmt.Errorf("%w (original kept at %s)", err, bak)
			}
			return err
		}
		newAudioStart = got.audioStart
		log.Debug("verified", "comment_pages", got.pages)
	}

	// Re-decode so entries refer to the bytes now on disk.
	block, err := vorbis.Decode(packet[len(tagsMagic):], vorbis.DecodeOptions{MaxComments: f.opts.MaxComments})
	if err != nil {
		return err
	}
	f.block = block
	f.loc = loc
	f.loc.tags = packet
	f.loc.audioStart = newAudioStart
	log.Info("tags saved", "comment_bytes", len(packet), "size", f.size)
	return nil
}

// relace paginates packet for the location it replaces. Header pages carry
// granule 0.
func relace(loc *location, packet []byte) ([]*ogg.Page, []byte) {
	tmpl := ogg.Header{
		Flags:    loc.lastFlags & ogg.FlagLast,
		Serial:   loc.serial,
		Sequence: loc.firstSeq,
	}
	pages := ogg.Paginate(packet, tmpl, loc.pages)
	var buf bytes.Buffer
	for _, p := range pages {
		buf.Write(p.Encode())
	}
	return pages, buf.Bytes()
}

func (f *File) saveInPlace(ctx context.Context, packet []byte) (*location, error) {
	fh, err := f.opts.Fs.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		return nil, errs.IO("open "+f.path, err)
	}
	defer fh.Close()

	loc, err := locate(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: locate: %w", f.path, err)
	}
	f.log.Debug("located", "comment_start", loc.commentStart, "audio_start", loc.audioStart, "pages", loc.pages)

	pages, encoded := relace(loc, packet)
	if len(pages) != loc.pages {
		f.log.Warn("comment page count changed, audio page numbers no longer follow on",
			"old_pages", loc.pages, "new_pages", len(pages))
	}

	fi, err := fh.Stat()
	if err != nil {
		return nil, errs.IO("stat "+f.path, err)
	}
	// Some filesystems hand out a live FileInfo, so take the size now.
	oldSize := fi.Size()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// From here on the file is being changed.
	oldLen := loc.audioStart - loc.commentStart
	delta := int64(len(encoded)) - oldLen
	newAudioStart := loc.audioStart + delta
	sopts := splice.Options{ChunkSize: f.opts.Save.ChunkSize, Logger: f.log}
	if err := splice.Move(fh, loc.audioStart, newAudioStart, sopts); err != nil {
		return nil, fmt.Errorf("%s: move audio: %w", f.path, err)
	}
	f.log.Debug("spliced", "delta", delta)

	if _, err := fh.WriteAt(encoded, loc.commentStart); err != nil {
		return nil, &errs.PageError{Kind: errs.ErrIO, Offset: loc.commentStart, Msg: "write comment pages", Err: err}
	}
	if err := fh.Sync(); err != nil {
		return nil, errs.IO("sync "+f.path, err)
	}

	f.size = oldSize + delta
	loc.audioStart = newAudioStart
	loc.pages = len(pages)
	return loc, nil
}

func (f *File) saveAtomic(ctx context.Context, packet []byte) (*location, error) {
	fs := f.opts.Fs
	src, err := fs.Open(f.path)
	if err != nil {
		return nil, errs.IO("open "+f.path, err)
	}
	defer src.Close()

	loc, err := locate(src)
	if err != nil {
		return nil, fmt.Errorf("%s: locate: %w", f.path, err)
	}
	pages, encoded := relace(loc, packet)

	dir, base := filepath.Split(f.path)
	tmp := filepath.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
	dst, err := fs.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errs.IO("create "+tmp, err)
	}
	cleanup := func() {
		_ = dst.Close()
		_ = fs.Remove(tmp)
	}

	n, err := copyFile(ctx, dst, src, loc, encoded)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := dst.Sync(); err != nil {
		cleanup()
		return nil, errs.IO("sync "+tmp, err)
	}
	if err := dst.Close(); err != nil {
		_ = fs.Remove(tmp)
		return nil, errs.IO("close "+tmp, err)
	}
	if fi, err := src.Stat(); err == nil {
		_ = fs.Chmod(tmp, fi.Mode().Perm())
	}
	if err := fs.Rename(tmp, f.path); err != nil {
		_ = fs.Remove(tmp)
		return nil, errs.IO("rename "+tmp, err)
	}

	f.size = n
	loc.audioStart = loc.commentStart + int64(len(encoded))
	loc.pages = len(pages)
	return loc, nil
}

// copyFile writes head pages, the new comment pages and the audio pages of
// src to dst.
func copyFile(ctx context.Context, dst io.Writer, src afero.File, loc *location, encoded []byte) (int64, error) {
	var total int64
	head, err := io.Copy(dst, io.NewSectionReader(src, 0, loc.commentStart))
	total += head
	if err != nil {
		return total, errs.IO("copy header pages", err)
	}
	n, err := dst.Write(encoded)
	total += int64(n)
	if err != nil {
		return total, errs.IO("write comment pages", err)
	}
	if err := ctx.Err(); err != nil {
		return total, err
	}
	fi, err := src.Stat()
	if err != nil {
		return total, errs.IO("stat", err)
	}
	audio, err := io.Copy(dst, io.NewSectionReader(src, loc.audioStart, fi.Size()-loc.audioStart))
	total += audio
	if err != nil {
		return total, errs.IO("copy audio pages", err)
	}
	return total, nil
}

// verify re-reads the header pages and checks that they carry packet.
func (f *File) verify(packet []byte) (*location, error) {
	fh, err := f.opts.Fs.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reopen: %w", errs.ErrSaveCorruption, err)
	}
	defer fh.Close()

	loc, err := locate(fh)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrSaveCorruption, f.path, err)
	}
	if !bytes.Equal(loc.tags, packet) {
		return nil, fmt.Errorf("%w: %s: comment header reads back differently", errs.ErrSaveCorruption, f.path)
	}
	fi, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat: %w", errs.ErrSaveCorruption, err)
	}
	if fi.Size() != f.size {
		return nil, fmt.Errorf("%w: %s: size is %d, expected %d", errs.ErrSaveCorruption, f.path, fi.Size(), f.size)
	}
	return loc, nil
}

// backup copies path to a sibling backup file and returns its name.
func backup(fs afero.Fs, path string) (string, error) {
	name := path + ".bak"
	if _, err := fs.Stat(name); err == nil {
		name = path + "." + uuid.NewString()[:8] + ".bak"
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", errs.IO("stat "+name, err)
	}
	src, err := fs.Open(path)
	if err != nil {
		return "", errs.IO("open "+path, err)
	}
	defer src.Close()
	dst, err := fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", errs.IO("create "+name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", errs.IO("copy to "+name, err)
	}
	if err := dst.Close(); err != nil {
		return "", errs.IO("close "+name, err)
	}
	return name, nil
}
