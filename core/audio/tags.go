package audio

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/dhowden/tag"
)

// viewWithDhowden covers the view-only formats. Fields the format cannot
// edit are reported read-only.
func (h *Handler) viewWithDhowden(path string, m *core.Metadata) error {
	f, err := h.env.Fs.Open(path)
	if err != nil {
		return errs.IO("open "+path, err)
	}
	defer f.Close()

	t, err := tag.ReadFrom(f)
	if err != nil {
		return fmt.Errorf("could not read tags: %w", err)
	}

	cat := string(t.Format())
	if cat == "" {
		cat = "Tags"
	}
	editable := formatInfo[h.format].CanEdit

	m.Add(cat, "Title", t.Title(), editable)
	m.Add(cat, "Artist", t.Artist(), editable)
	m.Add(cat, "Album", t.Album(), editable)
	m.Add(cat, "AlbumArtist", t.AlbumArtist(), editable)
	m.Add(cat, "Composer", t.Composer(), editable)
	m.Add(cat, "Genre", t.Genre(), editable)
	m.Add(cat, "Comment", t.Comment(), editable)
	if t.Year() != 0 {
		m.Add(cat, "Year", fmt.Sprintf("%d", t.Year()), editable)
	}
	m.Add(cat, "TrackNumber", position(t.Track()), editable)
	m.Add(cat, "DiscNumber", position(t.Disc()), editable)
	m.Add(cat, "Lyrics", t.Lyrics(), editable)
	if p := t.Picture(); p != nil {
		m.Add("Picture", "#0", fmt.Sprintf("%s, %s, %d bytes", p.Type, p.MIMEType, len(p.Data)), editable)
	}

	// Raw tags
	raw := t.Raw()
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := raw[k]
		if v == nil {
			continue
		}
		switch strings.ToLower(k) {
		case "title", "artist", "album", "albumartist", "composer",
			"genre", "comment", "year", "date", "track", "tracknumber",
			"disc", "discnumber", "lyrics", "apic", "pic", "metadata_block_picture", "covr":
			continue
		}
		var val string
		switch vt := v.(type) {
		case string:
			val = vt
		case []string:
			val = strings.Join(vt, "; ")
		case int:
			val = fmt.Sprintf("%d", vt)
		default:
			b, _ := json.Marshal(v)
			val = string(b)
		}
		if len(val) < 512 {
			m.Add(cat+" (raw)", k, val, false)
		}
	}
	return nil
}

func position(n, total int) string {
	switch {
	case n == 0:
		return ""
	case total == 0:
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%d/%d", n, total)
}
