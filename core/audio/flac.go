package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
	flac "github.com/go-flac/go-flac"
)

// flacVendor is written when a file has no VORBIS_COMMENT block yet.
const flacVendor = "opus-tag-surgery"

// streamInfo is the part of STREAMINFO worth showing.
type streamInfo struct {
	sampleRate   uint32
	channels     int
	bitsPerSamp  int
	totalSamples uint64
}

// parseStreamInfo reads the packed 20/3/5/36 bit fields at byte 10.
func parseStreamInfo(b []byte) (streamInfo, bool) {
	if len(b) < 18 {
		return streamInfo{}, false
	}
	return streamInfo{
		sampleRate:   uint32(b[10])<<12 | uint32(b[11])<<4 | uint32(b[12])>>4,
		channels:     int(b[12]>>1&0x07) + 1,
		bitsPerSamp:  int(b[12]&0x01)<<4 | int(b[13]>>4) + 1,
		totalSamples: uint64(b[13]&0x0F)<<32 | uint64(binary.BigEndian.Uint32(b[14:18])),
	}, true
}

func (h *Handler) viewFLAC(path string, m *core.Metadata) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", path, errs.ErrMalformedContainer, err)
	}
	for _, block := range f.Meta {
		switch block.Type {
		case flac.StreamInfo:
			si, ok := parseStreamInfo(block.Data)
			if !ok {
				continue
			}
			m.Add("Stream", "SampleRate", fmt.Sprintf("%d Hz", si.sampleRate), false)
			m.Add("Stream", "Channels", strconv.Itoa(si.channels), false)
			m.Add("Stream", "BitsPerSample", strconv.Itoa(si.bitsPerSamp), false)
			if si.sampleRate > 0 && si.totalSamples > 0 {
				d := time.Duration(si.totalSamples) * time.Second / time.Duration(si.sampleRate)
				m.Add("Stream", "Duration", d.Round(time.Millisecond).String(), false)
			}
		case flac.VorbisComment:
			b, err := vorbis.Decode(block.Data, vorbis.DecodeOptions{MaxComments: h.env.Opus.MaxComments})
			if err != nil {
				return fmt.Errorf("%s: VORBIS_COMMENT: %w", path, err)
			}
			m.Add("Stream", "Vendor", b.Vendor, true)
			addVorbisFields(m, b)
		}
	}
	pics, err := h.flacPictures(path)
	if err != nil {
		return err
	}
	for _, loc := range pics {
		m.Add("Picture", fmt.Sprintf("#%d", loc.Index), describePicture(loc.Header), true)
	}
	return nil
}

// flacComments finds the VORBIS_COMMENT block of f, creating an empty one
// after STREAMINFO when there is none.
func (h *Handler) flacComments(f *flac.File) (*flac.MetaDataBlock, *vorbis.Block, error) {
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		b, err := vorbis.Decode(block.Data, vorbis.DecodeOptions{MaxComments: h.env.Opus.MaxComments})
		if err != nil {
			return nil, nil, fmt.Errorf("VORBIS_COMMENT: %w", err)
		}
		return block, b, nil
	}
	block := &flac.MetaDataBlock{Type: flac.VorbisComment}
	at := min(1, len(f.Meta))
	f.Meta = append(f.Meta[:at], append([]*flac.MetaDataBlock{block}, f.Meta[at:]...)...)
	return block, vorbis.NewBlock(flacVendor), nil
}

// removeFLACPictures drops PICTURE blocks for which drop returns true.
// drop gets the index among picture blocks.
func removeFLACPictures(f *flac.File, drop func(i int) bool) int {
	kept := f.Meta[:0]
	n, removed := 0, 0
	for _, block := range f.Meta {
		if block.Type == flac.Picture {
			if drop(n) {
				n++
				removed++
				continue
			}
			n++
		}
		kept = append(kept, block)
	}
	f.Meta = kept
	return removed
}

func countFLACPictures(f *flac.File) int {
	n := 0
	for _, block := range f.Meta {
		if block.Type == flac.Picture {
			n++
		}
	}
	return n
}

func (h *Handler) editFLAC(ctx context.Context, path string, opts core.EditOptions) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", path, errs.ErrMalformedContainer, err)
	}
	block, comments, err := h.flacComments(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := applyComments(comments, opts); err != nil {
		return err
	}
	block.Data = comments.Encode()

	if opts.ClearPictures {
		removeFLACPictures(f, func(int) bool { return true })
	}
	if len(opts.RemovePictures) > 0 {
		have := countFLACPictures(f)
		drop := make(map[int]bool, len(opts.RemovePictures))
		for _, i := range opts.RemovePictures {
			if i < 0 || i >= have {
				return fmt.Errorf("picture %d out of range (have %d)", i, have)
			}
			drop[i] = true
		}
		removeFLACPictures(f, func(i int) bool { return drop[i] })
	}
	for _, spec := range opts.AddPictures {
		p, err := BuildPicture(spec)
		if err != nil {
			return err
		}
		f.Meta = append(f.Meta, &flac.MetaDataBlock{Type: flac.Picture, Data: p.Encode()})
	}

	if opts.DryRun {
		h.log.Info("dry run, not saving", "path", path, "comments", comments.Len(), "pictures", countFLACPictures(f))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return errs.IO("save "+path, err)
	}
	h.log.Info("tags saved", "path", path)
	return nil
}

func (h *Handler) stripFLAC(ctx context.Context, path string, opts core.StripOptions) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", path, errs.ErrMalformedContainer, err)
	}
	block, comments, err := h.flacComments(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	removed := stripComments(comments, opts)
	comments.DropTrailing()
	block.Data = comments.Encode()
	if !opts.KeepPictures {
		removed += removeFLACPictures(f, func(int) bool { return true })
	}
	if opts.DryRun {
		h.log.Info("dry run, not saving", "path", path, "removed", removed)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return errs.IO("save "+path, err)
	}
	return nil
}

// flacPictures walks the metadata block headers and reads only the header
// of each PICTURE block, so the image bytes can be loaded later by range.
func (h *Handler) flacPictures(path string) ([]core.PictureLocation, error) {
	fh, err := h.env.Fs.Open(path)
	if err != nil {
		return nil, errs.IO("open "+path, err)
	}
	defer fh.Close()

	var magic [4]byte
	if _, err := io.ReadFull(fh, magic[:]); err != nil || string(magic[:]) != "fLaC" {
		return nil, errs.At(errs.ErrMalformedContainer, 0, "%s: not a FLAC stream", path)
	}

	var out []core.PictureLocation
	pos := int64(4)
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(fh, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, errs.At(errs.ErrTruncatedStream, pos, "%s: metadata block header cut short", path)
			}
			return nil, errs.IO("read "+path, err)
		}
		last := hdr[0]&0x80 != 0
		typ := flac.BlockType(hdr[0] & 0x7F)
		length := int64(hdr[1])<<16 | int64(hdr[2])<<8 | int64(hdr[3])
		body := pos + 4

		if typ == flac.Picture {
			p, n, err := vorbis.ReadPictureHeader(io.LimitReader(fh, length))
			if err != nil {
				return nil, fmt.Errorf("%s: picture %d at offset %d: %w", path, len(out), body, err)
			}
			if n+int64(p.DataLength) > length {
				return nil, errs.At(errs.ErrMalformedContainer, body, "%s: picture data overruns its block", path)
			}
			out = append(out, core.PictureLocation{
				Index:  len(out),
				Header: p,
				Path:   path,
				Offset: body + n,
				Length: int64(p.DataLength),
			})
		}
		if last {
			return out, nil
		}
		pos = body + length
		if _, err := fh.Seek(pos, io.SeekStart); err != nil {
			return nil, errs.IO("seek "+path, err)
		}
	}
}
