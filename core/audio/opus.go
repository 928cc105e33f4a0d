package audio

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/ankit-chaubey/opus-tag-surgery/core/opus"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
)

func (h *Handler) viewOpus(path string, m *core.Metadata) error {
	f, err := opus.Open(path, h.env.Opus)
	if err != nil {
		return err
	}
	head := f.Head()
	m.Add("Stream", "Channels", fmt.Sprintf("%d (%s)", head.Channels, head.Layout()), false)
	m.Add("Stream", "PreSkip", strconv.Itoa(int(head.PreSkip)), false)
	if head.InputRate != 0 {
		m.Add("Stream", "InputRate", fmt.Sprintf("%d Hz", head.InputRate), false)
	}
	if head.OutputGain != 0 {
		m.Add("Stream", "OutputGain", fmt.Sprintf("%.2f dB", head.GainDB()), false)
	}
	if d := f.Duration(); d > 0 {
		m.Add("Stream", "Duration", d.Round(time.Millisecond).String(), false)
	}
	m.Add("Stream", "Vendor", f.Vendor(), true)
	addVorbisFields(m, f.Block())
	return nil
}

// addVorbisFields lists text comments, opaque entries and pictures of b.
func addVorbisFields(m *core.Metadata, b *vorbis.Block) {
	pic := 0
	for i, e := range b.Comments() {
		if text, ok := e.Text(); ok {
			m.Add("Vorbis", e.Key, text, true)
			continue
		}
		if p, ok := e.Picture(); ok {
			m.Add("Picture", fmt.Sprintf("#%d", pic), describePicture(p), true)
			pic++
			continue
		}
		m.Add("Vorbis (opaque)", fmt.Sprintf("entry %d", i), fmt.Sprintf("%d bytes", len(e.Bytes())), false)
	}
	if n := b.Overflow(); n > 0 {
		m.Add("Vorbis (opaque)", "Overflow", fmt.Sprintf("%d comments past the cap, kept verbatim", n), false)
	}
	if n := len(b.Trailing()); n > 0 {
		m.Add("Vorbis (opaque)", "Padding", fmt.Sprintf("%d bytes", n), false)
	}
}

func describePicture(p *vorbis.Picture) string {
	s := fmt.Sprintf("%s, %s", p.Type, p.MIME)
	if p.Width > 0 {
		s += fmt.Sprintf(", %dx%d", p.Width, p.Height)
	}
	if p.Description != "" {
		s += fmt.Sprintf(", %q", p.Description)
	}
	n := int64(p.DataLength)
	if p.Data != nil {
		n = int64(len(p.Data))
	}
	return s + fmt.Sprintf(", %d bytes", n)
}

func (h *Handler) editOpus(ctx context.Context, path string, opts core.EditOptions) error {
	f, err := opus.Open(path, h.env.Opus)
	if err != nil {
		return err
	}
	if err := applyComments(f.Block(), opts); err != nil {
		return err
	}
	if opts.ClearPictures {
		f.ClearPictures()
	}
	if err := removePictureIndexes(f.RemovePicture, opts.RemovePictures); err != nil {
		return err
	}
	for _, spec := range opts.AddPictures {
		p, err := BuildPicture(spec)
		if err != nil {
			return err
		}
		f.AddPicture(p)
	}
	if opts.DryRun {
		h.log.Info("dry run, not saving", "path", path, "comments", f.Block().Len(), "pictures", len(f.Pictures()))
		return nil
	}
	return f.Save(ctx)
}

func (h *Handler) stripOpus(ctx context.Context, path string, opts core.StripOptions) error {
	f, err := opus.Open(path, h.env.Opus)
	if err != nil {
		return err
	}
	removed := stripComments(f.Block(), opts)
	f.Block().DropTrailing()
	if opts.DryRun {
		h.log.Info("dry run, not saving", "path", path, "removed", removed)
		return nil
	}
	return f.Save(ctx)
}

func (h *Handler) opusPictures(path string) ([]core.PictureLocation, error) {
	f, err := opus.Open(path, h.env.Opus)
	if err != nil {
		return nil, err
	}
	pics := f.Pictures()
	out := make([]core.PictureLocation, 0, len(pics))
	for i, p := range pics {
		header := *p
		header.Data = nil
		out = append(out, core.PictureLocation{
			Index:  i,
			Header: &header,
			Path:   path,
			Length: int64(len(p.Data)),
			Data:   p.Data,
		})
	}
	return out, nil
}
