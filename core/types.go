// Package core defines the shared types, handler interface and format
// registry of the tagging tool. The Ogg/Opus engine lives in the packages
// below it; core only describes what a format handler can do.
package core

import (
	"context"

	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
)

// MetaField represents a single metadata key-value pair.
type MetaField struct {
	Key      string `json:"key" yaml:"key"`
	Value    string `json:"value" yaml:"value"`
	Category string `json:"category" yaml:"category"` // "Stream", "Vorbis", "ID3", "Picture"
	Editable bool   `json:"editable" yaml:"editable"`
}

// Metadata holds everything read from a single file.
type Metadata struct {
	FilePath string      `json:"file" yaml:"file"`
	Format   string      `json:"format" yaml:"format"`
	Fields   []MetaField `json:"fields" yaml:"fields"`
}

// Add appends a field, skipping empty values.
func (m *Metadata) Add(category, key, value string, editable bool) {
	if value == "" {
		return
	}
	m.Fields = append(m.Fields, MetaField{Key: key, Value: value, Category: category, Editable: editable})
}

// Summary returns a short string of key fields for quick display.
func (m *Metadata) Summary() string {
	for _, f := range m.Fields {
		switch f.Key {
		case "TITLE", "Title", "ARTIST", "Artist":
			return f.Key + ": " + f.Value
		}
	}
	return m.Format
}

// StripOptions controls which parts of metadata to remove.
type StripOptions struct {
	// KeepFields lists field keys that should NOT be removed.
	// If empty, all comments are stripped.
	KeepFields []string
	// KeepPictures leaves embedded cover art alone.
	KeepPictures bool
	// DryRun reports without writing.
	DryRun bool
}

// PictureSpec describes a picture to embed. Data is the encoded image; the
// handler fills dimensions it can probe.
type PictureSpec struct {
	Type        vorbis.PictureType
	MIME        string // sniffed from Data when empty
	Description string
	Data        []byte
}

// EditOptions holds field changes for an edit operation. They are applied
// in field order: Delete, Set, Add, then the picture edits.
type EditOptions struct {
	// Set replaces every value of a key. Keys are case-insensitive.
	Set map[string][]string
	// Add appends values, keeping existing ones.
	Add map[string][]string
	// Delete is a list of field keys to remove.
	Delete []string
	// Vendor replaces the vendor string when non-nil.
	Vendor *string

	AddPictures    []PictureSpec
	RemovePictures []int // indexes into the current picture list
	ClearPictures  bool

	// DryRun previews changes without writing.
	DryRun bool
}

// Empty reports whether opts would change nothing.
func (o EditOptions) Empty() bool {
	return len(o.Set) == 0 && len(o.Add) == 0 && len(o.Delete) == 0 && o.Vendor == nil &&
		len(o.AddPictures) == 0 && len(o.RemovePictures) == 0 && !o.ClearPictures
}

// FormatInfo describes what a format handler supports.
type FormatInfo struct {
	Name       string   `json:"name" yaml:"name"`
	Extensions []string `json:"extensions" yaml:"extensions"`
	MIMETypes  []string `json:"mime_types" yaml:"mime_types"`
	CanView    bool     `json:"can_view" yaml:"can_view"`
	CanEdit    bool     `json:"can_edit" yaml:"can_edit"`
	CanStrip   bool     `json:"can_strip" yaml:"can_strip"`
	Pictures   bool     `json:"pictures" yaml:"pictures"`
	Notes      string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Handler is the interface every format must implement.
type Handler interface {
	// View reads and returns all discoverable metadata from path.
	View(ctx context.Context, path string) (*Metadata, error)
	// Edit writes new/updated fields into path, saving to outPath.
	// outPath == "" means in-place edit.
	Edit(ctx context.Context, path, outPath string, opts EditOptions) error
	// Strip removes metadata from path, saving to outPath.
	Strip(ctx context.Context, path, outPath string, opts StripOptions) error
	// Info returns format capabilities.
	Info() FormatInfo
}

// PictureLocation is where a picture's encoded bytes sit inside a file, so
// they can be loaded without parsing the container again.
type PictureLocation struct {
	Index  int
	Header *vorbis.Picture // Data is nil
	Path   string
	Offset int64
	Length int64
	Data   []byte // set when the bytes are not addressable in the file
}

// PictureLister is implemented by handlers that expose embedded pictures.
type PictureLister interface {
	Pictures(ctx context.Context, path string) ([]PictureLocation, error)
}
