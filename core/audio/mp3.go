package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/bogem/id3v2/v2"
)

// mp3Frames maps Vorbis-style names to ID3v2.4 frame IDs.
var mp3Frames = map[string]string{
	"TITLE":       "TIT2",
	"ARTIST":      "TPE1",
	"ALBUM":       "TALB",
	"DATE":        "TDRC",
	"YEAR":        "TDRC",
	"GENRE":       "TCON",
	"COMMENT":     "COMM",
	"TRACKNUMBER": "TRCK",
	"DISCNUMBER":  "TPOS",
	"ALBUMARTIST": "TPE2",
	"COMPOSER":    "TCOM",
	"LYRICS":      "USLT",
	"COPYRIGHT":   "TCOP",
}

// mp3FrameID maps a field name to its frame ID. Four upper-case characters
// are taken as a raw frame ID.
func mp3FrameID(name string) (string, bool) {
	k := strings.ToUpper(name)
	if id, ok := mp3Frames[k]; ok {
		return id, true
	}
	if len(k) == 4 {
		return k, true
	}
	return "", false
}

func addMP3Frame(t *id3v2.Tag, id, value string) {
	switch id {
	case "COMM":
		t.AddCommentFrame(id3v2.CommentFrame{
			Encoding: id3v2.EncodingUTF8,
			Language: "eng",
			Text:     value,
		})
	case "USLT":
		t.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding: id3v2.EncodingUTF8,
			Language: "eng",
			Lyrics:   value,
		})
	default:
		t.AddTextFrame(id, id3v2.EncodingUTF8, value)
	}
}

// applyMP3 runs opts on an open tag. ID3 text frames hold one value, so
// several values for one key are joined with "; " and Add appends to the
// current text.
func (h *Handler) applyMP3(t *id3v2.Tag, opts core.EditOptions) error {
	for _, k := range opts.Delete {
		if id, ok := mp3FrameID(k); ok {
			t.DeleteFrames(id)
		}
	}
	for _, k := range sortedKeys(opts.Set) {
		id, ok := mp3FrameID(k)
		if !ok {
			return fmt.Errorf("unknown MP3 field %q", k)
		}
		t.DeleteFrames(id)
		if len(opts.Set[k]) > 0 {
			addMP3Frame(t, id, strings.Join(opts.Set[k], "; "))
		}
	}
	for _, k := range sortedKeys(opts.Add) {
		id, ok := mp3FrameID(k)
		if !ok {
			return fmt.Errorf("unknown MP3 field %q", k)
		}
		values := opts.Add[k]
		if id != "COMM" && id != "USLT" {
			if cur := t.GetTextFrame(id).Text; cur != "" {
				values = append([]string{cur}, values...)
			}
			t.DeleteFrames(id)
			addMP3Frame(t, id, strings.Join(values, "; "))
			continue
		}
		for _, v := range values {
			addMP3Frame(t, id, v)
		}
	}

	const apic = "APIC"
	if opts.ClearPictures {
		t.DeleteFrames(apic)
	}
	if len(opts.RemovePictures) > 0 {
		frames := t.GetFrames(apic)
		drop := make(map[int]bool, len(opts.RemovePictures))
		for _, i := range opts.RemovePictures {
			if i < 0 || i >= len(frames) {
				return fmt.Errorf("picture %d out of range (have %d)", i, len(frames))
			}
			drop[i] = true
		}
		t.DeleteFrames(apic)
		for i, f := range frames {
			if pf, ok := f.(id3v2.PictureFrame); ok && !drop[i] {
				t.AddAttachedPicture(pf)
			}
		}
	}
	for _, spec := range opts.AddPictures {
		p, err := BuildPicture(spec)
		if err != nil {
			return err
		}
		t.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    p.MIME,
			PictureType: byte(p.Type),
			Description: p.Description,
			Picture:     p.Data,
		})
	}
	return nil
}

func (h *Handler) editMP3(ctx context.Context, path string, opts core.EditOptions) error {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return errs.IO("open "+path, err)
	}
	defer t.Close()

	if err := h.applyMP3(t, opts); err != nil {
		return err
	}
	if opts.DryRun {
		h.log.Info("dry run, not saving", "path", path, "frames", t.Count())
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.Save(); err != nil {
		return errs.IO("save "+path, err)
	}
	h.log.Info("tags saved", "path", path)
	return nil
}

func (h *Handler) stripMP3(ctx context.Context, path string, opts core.StripOptions) error {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return errs.IO("open "+path, err)
	}
	defer t.Close()

	keep := make(map[string]bool)
	for _, k := range opts.KeepFields {
		if id, ok := mp3FrameID(k); ok {
			keep[id] = true
		}
	}
	if opts.KeepPictures {
		keep["APIC"] = true
	}
	if len(keep) == 0 {
		t.DeleteAllFrames()
	} else {
		for id := range t.AllFrames() {
			if !keep[id] {
				t.DeleteFrames(id)
			}
		}
	}
	if opts.DryRun {
		h.log.Info("dry run, not saving", "path", path, "kept", upperKeys(opts.KeepFields))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.Save(); err != nil {
		return errs.IO("save "+path, err)
	}
	return nil
}
