// Package audio adapts the tag engines to core.Handler: Opus through the
// in-place Ogg rewriter, FLAC through go-flac with the shared Vorbis comment
// and picture codecs, MP3 through id3v2, and the remaining formats as
// view-only through dhowden/tag.
package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/ankit-chaubey/opus-tag-surgery/core/artwork"
	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/ankit-chaubey/opus-tag-surgery/core/opus"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
	"github.com/go-flac/flacpicture"
	"github.com/spf13/afero"
)

// Env is what every handler shares.
type Env struct {
	// Fs defaults to the OS filesystem. The FLAC handler always works on
	// the OS filesystem.
	Fs     afero.Fs
	Logger *slog.Logger
	// Opus configures loading and saving of Opus files. Its Fs and Logger
	// are taken from Env.
	Opus opus.Options
}

func (e *Env) fill() {
	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	e.Opus.Fs = e.Fs
	e.Opus.Logger = e.Logger
}

// Handler implements core.Handler for audio formats.
type Handler struct {
	format core.FormatID
	env    Env
	log    *slog.Logger
}

// New returns an audio Handler for the given format.
func New(format core.FormatID, env Env) (*Handler, error) {
	if _, ok := formatInfo[format]; !ok {
		return nil, fmt.Errorf("no handler for format %q", format)
	}
	env.fill()
	return &Handler{
		format: format,
		env:    env,
		log:    env.Logger.With("component", "audio", "format", string(format)),
	}, nil
}

// Formats lists every supported format's capabilities in display order.
func Formats() []core.FormatInfo {
	var out []core.FormatInfo
	for _, id := range core.FormatNames() {
		if info, ok := formatInfo[id]; ok {
			out = append(out, info)
		}
	}
	return out
}

// Info returns the capabilities of format. Formats that are only detected
// report false.
func Info(format core.FormatID) (core.FormatInfo, bool) {
	info, ok := formatInfo[format]
	return info, ok
}

func (h *Handler) Info() core.FormatInfo {
	return formatInfo[h.format]
}

var formatInfo = map[core.FormatID]core.FormatInfo{
	core.FmtOpus: {
		Name:       "Opus",
		Extensions: []string{".opus"},
		MIMETypes:  []string{"audio/opus", "audio/ogg"},
		CanView:    true,
		CanEdit:    true,
		CanStrip:   true,
		Pictures:   true,
		Notes:      "OpusTags rewritten in place; audio pages are never rewritten.",
	},
	core.FmtFLAC: {
		Name:       "FLAC",
		Extensions: []string{".flac"},
		MIMETypes:  []string{"audio/flac"},
		CanView:    true,
		CanEdit:    true,
		CanStrip:   true,
		Pictures:   true,
		Notes:      "VORBIS_COMMENT and PICTURE metadata blocks.",
	},
	core.FmtMP3: {
		Name:       "MP3",
		Extensions: []string{".mp3"},
		MIMETypes:  []string{"audio/mpeg"},
		CanView:    true,
		CanEdit:    true,
		CanStrip:   true,
		Notes:      "ID3v2 frames. Known names map to frame IDs; four-letter keys are raw frame IDs.",
	},
	core.FmtOGG: {
		Name:       "Ogg Vorbis",
		Extensions: []string{".ogg", ".oga"},
		MIMETypes:  []string{"audio/ogg"},
		CanView:    true,
		Notes:      "View only.",
	},
	core.FmtM4A: {
		Name:       "M4A/AAC",
		Extensions: []string{".m4a", ".m4b", ".aac"},
		MIMETypes:  []string{"audio/mp4", "audio/aac"},
		CanView:    true,
		Notes:      "iTunes-style MP4 atoms. View only.",
	},
}

// ──────────────────────────────────────────────────────────────────────────────
// Dispatch
// ──────────────────────────────────────────────────────────────────────────────

func (h *Handler) View(ctx context.Context, path string) (*core.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := &core.Metadata{FilePath: path, Format: formatInfo[h.format].Name}
	switch h.format {
	case core.FmtOpus:
		return m, h.viewOpus(path, m)
	case core.FmtFLAC:
		return m, h.viewFLAC(path, m)
	default:
		return m, h.viewWithDhowden(path, m)
	}
}

func (h *Handler) Edit(ctx context.Context, path, outPath string, opts core.EditOptions) error {
	info := formatInfo[h.format]
	if !info.CanEdit {
		return fmt.Errorf("%s does not support metadata editing", info.Name)
	}
	if (len(opts.AddPictures) > 0 || len(opts.RemovePictures) > 0 || opts.ClearPictures) && !info.Pictures && h.format != core.FmtMP3 {
		return fmt.Errorf("%s does not support embedded pictures", info.Name)
	}
	out := core.ResolveOutPath(path, outPath)
	if !opts.DryRun && out != path {
		if err := copyFile(h.env.Fs, path, out); err != nil {
			return err
		}
	}
	switch h.format {
	case core.FmtOpus:
		return h.editOpus(ctx, out, opts)
	case core.FmtFLAC:
		return h.editFLAC(ctx, out, opts)
	case core.FmtMP3:
		return h.editMP3(ctx, out, opts)
	}
	return fmt.Errorf("edit not implemented for %s", info.Name)
}

func (h *Handler) Strip(ctx context.Context, path, outPath string, opts core.StripOptions) error {
	info := formatInfo[h.format]
	if !info.CanStrip {
		return fmt.Errorf("%s does not support strip", info.Name)
	}
	out := core.ResolveOutPath(path, outPath)
	if !opts.DryRun && out != path {
		if err := copyFile(h.env.Fs, path, out); err != nil {
			return err
		}
	}
	switch h.format {
	case core.FmtOpus:
		return h.stripOpus(ctx, out, opts)
	case core.FmtFLAC:
		return h.stripFLAC(ctx, out, opts)
	case core.FmtMP3:
		return h.stripMP3(ctx, out, opts)
	}
	return fmt.Errorf("strip not implemented for %s", info.Name)
}

// Pictures lists embedded pictures with the location of their bytes.
func (h *Handler) Pictures(ctx context.Context, path string) ([]core.PictureLocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch h.format {
	case core.FmtOpus:
		return h.opusPictures(path)
	case core.FmtFLAC:
		return h.flacPictures(path)
	}
	return nil, fmt.Errorf("%s does not expose embedded pictures", formatInfo[h.format].Name)
}

// ──────────────────────────────────────────────────────────────────────────────
// Shared comment editing
// ──────────────────────────────────────────────────────────────────────────────

// applyComments runs the text edits of opts on b.
func applyComments(b *vorbis.Block, opts core.EditOptions) error {
	for _, k := range opts.Delete {
		b.Remove(k)
	}
	for _, k := range sortedKeys(opts.Set) {
		if err := b.Set(k, opts.Set[k]...); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	for _, k := range sortedKeys(opts.Add) {
		for _, v := range opts.Add[k] {
			if err := b.Add(k, v); err != nil {
				return fmt.Errorf("add %s: %w", k, err)
			}
		}
	}
	if opts.Vendor != nil {
		b.Vendor = *opts.Vendor
	}
	return nil
}

// stripComments removes every text comment not listed in keep. Pictures go
// too unless keepPictures is set.
func stripComments(b *vorbis.Block, opts core.StripOptions) int {
	keep := make(map[string]bool, len(opts.KeepFields))
	for _, k := range opts.KeepFields {
		if s, err := vorbis.SanitizeKey(k); err == nil {
			keep[s] = true
		}
	}
	removed := 0
	for _, k := range b.Keys() {
		if k == vorbis.PictureKey || keep[k] {
			continue
		}
		removed += b.Remove(k)
	}
	if !opts.KeepPictures {
		removed += b.ClearPictures()
	}
	return removed
}

// removePictureIndexes removes pictures by index, highest first so earlier
// indexes stay valid.
func removePictureIndexes(remove func(int) error, idx []int) error {
	sorted := append([]int(nil), idx...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	for i, n := range sorted {
		if i > 0 && n == sorted[i-1] {
			continue
		}
		if err := remove(n); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildPicture turns a picture spec into a picture block, probing the
// image for its dimensions. JPEG and PNG go through flacpicture; the other
// formats the artwork package can decode are probed there.
func BuildPicture(spec core.PictureSpec) (*vorbis.Picture, error) {
	if len(spec.Data) == 0 {
		return nil, fmt.Errorf("picture has no data")
	}
	mime := spec.MIME
	if mime == "" {
		mime = artwork.SniffMIME(spec.Data)
	}
	p := &vorbis.Picture{
		Type:        spec.Type,
		MIME:        mime,
		Description: spec.Description,
		Data:        spec.Data,
	}
	if mime == vorbis.LinkMIME {
		return p, nil
	}
	if mime == "image/jpeg" || mime == "image/png" {
		fp, err := flacpicture.NewFromImageData(flacpicture.PictureType(spec.Type), spec.Description, spec.Data, mime)
		if err == nil {
			p.Width, p.Height, p.Depth, p.Colors = fp.Width, fp.Height, fp.ColorDepth, fp.IndexedColorCount
			return p, nil
		}
	}
	cfg, err := artwork.Probe(spec.Data)
	if err != nil {
		return nil, fmt.Errorf("picture (%s): %w", mime, err)
	}
	p.Width, p.Height = uint32(cfg.Width), uint32(cfg.Height)
	p.Depth, p.Colors = uint32(cfg.Depth), uint32(cfg.Colors)
	return p, nil
}

// copyFile copies src to dst through fs, replacing dst.
func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return errs.IO("open "+src, err)
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return errs.IO("stat "+src, err)
	}
	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return errs.IO("create "+dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errs.IO("copy to "+dst, err)
	}
	return errs.IO("close "+dst, out.Close())
}

func upperKeys(keys []string) string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.ToUpper(k)
	}
	return strings.Join(out, ", ")
}
