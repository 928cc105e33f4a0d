// Package vorbis implements the Vorbis comment block shared by Opus, Vorbis
// and FLAC, and the FLAC picture block carried inside it as
// METADATA_BLOCK_PICTURE.
//
// Length fields of the comment block are little-endian uint32.
package vorbis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
)

// PictureKey is the reserved comment key holding a base64 picture block.
const PictureKey = "METADATA_BLOCK_PICTURE"

// DefaultMaxComments bounds how many comments are decoded into entries.
const DefaultMaxComments = 8192

var (
	// ErrInvalidKey is returned for keys that are empty, contain '=' or
	// fall outside 0x20..0x7D.
	ErrInvalidKey = errors.New("invalid comment key")

	// ErrReservedKey is returned when text is stored under PictureKey.
	ErrReservedKey = errors.New("METADATA_BLOCK_PICTURE holds pictures only")
)

// SanitizeKey upper-cases key and validates its characters.
func SanitizeKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	b := []byte(key)
	for i, c := range b {
		switch {
		case c < 0x20 || c > 0x7D || c == '=':
			return "", fmt.Errorf("%w: %q has byte 0x%02x at %d", ErrInvalidKey, key, c, i)
		case c >= 'a' && c <= 'z':
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b), nil
}

// Value is the value of a comment: PlainText or EmbeddedPicture.
type Value interface {
	isValue()
}

// PlainText is an ordinary UTF-8 comment value.
type PlainText string

// EmbeddedPicture is a decoded METADATA_BLOCK_PICTURE value.
type EmbeddedPicture struct {
	Picture *Picture
}

func (PlainText) isValue()       {}
func (EmbeddedPicture) isValue() {}

// Entry is one comment. Opaque entries (no '=', a bad key, or a picture that
// does not decode) keep only their bytes and have no Key or Value.
// Entries read from a file are treated as immutable; edits go through Block.
type Entry struct {
	Key   string
	Value Value

	// raw is the entry as read from the file. It is re-emitted unchanged
	// until the entry is replaced, so untouched comments survive a save
	// byte for byte.
	raw []byte
}

// NewText builds a text entry.
func NewText(key, value string) (*Entry, error) {
	k, err := SanitizeKey(key)
	if err != nil {
		return nil, err
	}
	if k == PictureKey {
		return nil, ErrReservedKey
	}
	return &Entry{Key: k, Value: PlainText(value)}, nil
}

// NewPicture builds a METADATA_BLOCK_PICTURE entry.
func NewPicture(p *Picture) *Entry {
	return &Entry{Key: PictureKey, Value: EmbeddedPicture{Picture: p}}
}

// Opaque reports whether the entry could not be interpreted.
func (e *Entry) Opaque() bool { return e.Value == nil }

// Text returns the value of a text entry.
func (e *Entry) Text() (string, bool) {
	v, ok := e.Value.(PlainText)
	return string(v), ok
}

// Picture returns the picture of a picture entry. A decoded entry encodes
// from its original bytes, so the picture must be treated as read-only.
func (e *Entry) Picture() (*Picture, bool) {
	v, ok := e.Value.(EmbeddedPicture)
	if !ok {
		return nil, false
	}
	return v.Picture, true
}

// Bytes is the encoded form of the entry, without the length prefix.
func (e *Entry) Bytes() []byte {
	if e.raw != nil {
		return e.raw
	}
	switch v := e.Value.(type) {
	case PlainText:
		return []byte(e.Key + "=" + string(v))
	case EmbeddedPicture:
		return []byte(e.Key + "=" + v.Picture.Base64())
	}
	return nil
}

func (e *Entry) String() string {
	switch v := e.Value.(type) {
	case PlainText:
		return e.Key + "=" + string(v)
	case EmbeddedPicture:
		return fmt.Sprintf("%s=<%s %s, %d bytes>", e.Key, v.Picture.Type, v.Picture.MIME, len(v.Picture.Data))
	}
	return fmt.Sprintf("<opaque, %d bytes>", len(e.raw))
}

func decodeEntry(raw []byte) *Entry {
	e := &Entry{raw: raw}
	s := string(raw)
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return e
	}
	key, err := SanitizeKey(s[:eq])
	if err != nil {
		return e
	}
	val := s[eq+1:]
	if key == PictureKey {
		pic, err := PictureFromBase64(val)
		if err != nil {
			return e
		}
		e.Key, e.Value = key, EmbeddedPicture{Picture: pic}
		return e
	}
	e.Key, e.Value = key, PlainText(val)
	return e
}

// DecodeOptions tune Decode.
type DecodeOptions struct {
	// MaxComments caps decoded entries; zero means DefaultMaxComments.
	// Comments past the cap are kept undecoded and written back as they
	// were.
	MaxComments int
}

// Block is a decoded comment block: vendor string plus an ordered multimap
// of comments.
type Block struct {
	Vendor string

	entries []*Entry

	// overflow holds the comments past the cap, length prefixes included.
	overflow      []byte
	overflowCount uint32

	// trailing is whatever follows the comment list (padding or binary
	// extension data).
	trailing []byte
}

// NewBlock returns an empty block with the given vendor string.
func NewBlock(vendor string) *Block {
	return &Block{Vendor: vendor}
}

// Decode parses a comment block. The block keeps references into payload.
func Decode(payload []byte, opts DecodeOptions) (*Block, error) {
	limit := opts.MaxComments
	if limit <= 0 {
		limit = DefaultMaxComments
	}

	off := 0
	next := func(field string) (int, error) {
		if len(payload)-off < 4 {
			return 0, errs.At(errs.ErrTruncatedStream, int64(off), "%s needs 4 bytes, have %d", field, len(payload)-off)
		}
		n := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		if uint64(n) > uint64(len(payload)-off) {
			return 0, errs.At(errs.ErrTruncatedStream, int64(off), "%s of %d bytes, have %d", field, n, len(payload)-off)
		}
		return int(n), nil
	}

	n, err := next("vendor string")
	if err != nil {
		return nil, err
	}
	b := &Block{Vendor: string(payload[off : off+n])}
	off += n

	if len(payload)-off < 4 {
		return nil, errs.At(errs.ErrTruncatedStream, int64(off), "comment count needs 4 bytes")
	}
	count := binary.LittleEndian.Uint32(payload[off:])
	off += 4
	if uint64(count)*4 > uint64(len(payload)-off) {
		return nil, errs.At(errs.ErrTruncatedStream, int64(off-4), "%d comments cannot fit in %d bytes", count, len(payload)-off)
	}

	b.entries = make([]*Entry, 0, min(int(count), limit))
	skipFrom := -1
	for i := uint32(0); i < count; i++ {
		if len(b.entries) == limit && skipFrom < 0 {
			skipFrom = off
		}
		n, err := next("comment")
		if err != nil {
			return nil, err
		}
		if skipFrom < 0 {
			b.entries = append(b.entries, decodeEntry(payload[off:off+n]))
		} else {
			b.overflowCount++
		}
		off += n
	}
	if skipFrom >= 0 {
		b.overflow = payload[skipFrom:off]
	}
	if off < len(payload) {
		b.trailing = payload[off:]
	}
	return b, nil
}

// Encode serializes the block. Decode followed by Encode with no edits in
// between reproduces the input exactly.
func (b *Block) Encode() []byte {
	size := 4 + len(b.Vendor) + 4 + len(b.overflow) + len(b.trailing)
	bodies := make([][]byte, len(b.entries))
	for i, e := range b.entries {
		bodies[i] = e.Bytes()
		size += 4 + len(bodies[i])
	}

	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.Vendor)))
	out = append(out, b.Vendor...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.entries))+b.overflowCount)
	for _, body := range bodies {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
		out = append(out, body...)
	}
	out = append(out, b.overflow...)
	return append(out, b.trailing...)
}

// Len is the number of decoded entries, opaque ones included.
func (b *Block) Len() int { return len(b.entries) }

// Overflow is the number of comments kept undecoded past the cap.
func (b *Block) Overflow() int { return int(b.overflowCount) }

// Trailing returns the bytes that follow the comment list.
func (b *Block) Trailing() []byte { return b.trailing }

// DropTrailing discards padding after the comment list.
func (b *Block) DropTrailing() { b.trailing = nil }

// Comments returns the entries in file order. The slice is a copy; the
// entries are shared.
func (b *Block) Comments() []*Entry {
	return append([]*Entry(nil), b.entries...)
}

// Keys returns the distinct keys in order of first appearance.
func (b *Block) Keys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, e := range b.entries {
		if e.Opaque() || seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		keys = append(keys, e.Key)
	}
	return keys
}

// Get returns every text value stored under key.
func (b *Block) Get(key string) []string {
	k, err := SanitizeKey(key)
	if err != nil {
		return nil
	}
	var vals []string
	for _, e := range b.entries {
		if e.Key != k {
			continue
		}
		if v, ok := e.Text(); ok {
			vals = append(vals, v)
		}
	}
	return vals
}

// First returns the first text value stored under key.
func (b *Block) First(key string) (string, bool) {
	vals := b.Get(key)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Set replaces every value of key with values. The new entries take the
// position of the first old one, or go last when the key was absent.
// Calling Set with no values removes the key.
func (b *Block) Set(key string, values ...string) error {
	fresh := make([]*Entry, 0, len(values))
	for _, v := range values {
		e, err := NewText(key, v)
		if err != nil {
			return err
		}
		fresh = append(fresh, e)
	}
	k, err := SanitizeKey(key)
	if err != nil {
		return err
	}
	b.replace(func(e *Entry) bool { return e.Key == k }, fresh)
	return nil
}

// Add appends one value under key.
func (b *Block) Add(key, value string) error {
	e, err := NewText(key, value)
	if err != nil {
		return err
	}
	b.entries = append(b.entries, e)
	return nil
}

// Remove drops every entry under key and reports how many were removed.
func (b *Block) Remove(key string) int {
	k, err := SanitizeKey(key)
	if err != nil {
		return 0
	}
	return b.replace(func(e *Entry) bool { return e.Key == k }, nil)
}

// Clear drops every addressable entry. Opaque entries and overflow
// comments stay.
func (b *Block) Clear() int {
	return b.replace(func(e *Entry) bool { return !e.Opaque() }, nil)
}

// Pictures returns copies of the embedded pictures in order. Changing a
// copy does not change the block; use RemovePicture and AddPicture.
func (b *Block) Pictures() []*Picture {
	var pics []*Picture
	for _, e := range b.entries {
		if p, ok := e.Picture(); ok {
			cp := *p
			pics = append(pics, &cp)
		}
	}
	return pics
}

// AddPicture appends a picture entry.
func (b *Block) AddPicture(p *Picture) {
	b.entries = append(b.entries, NewPicture(p))
}

// RemovePicture removes the i-th picture as returned by Pictures.
func (b *Block) RemovePicture(i int) error {
	n := 0
	for j, e := range b.entries {
		if _, ok := e.Picture(); !ok {
			continue
		}
		if n == i {
			b.entries = append(b.entries[:j:j], b.entries[j+1:]...)
			return nil
		}
		n++
	}
	return fmt.Errorf("picture %d out of range (have %d)", i, n)
}

// ClearPictures removes every picture and reports how many were removed.
func (b *Block) ClearPictures() int {
	return b.replace(func(e *Entry) bool {
		_, ok := e.Picture()
		return ok
	}, nil)
}

// replace removes entries matching drop and inserts fresh where the first
// one was, or at the end.
func (b *Block) replace(drop func(*Entry) bool, fresh []*Entry) int {
	kept := make([]*Entry, 0, len(b.entries)+len(fresh))
	removed := 0
	for _, e := range b.entries {
		if !drop(e) {
			kept = append(kept, e)
			continue
		}
		if removed == 0 {
			kept = append(kept, fresh...)
			fresh = nil
		}
		removed++
	}
	b.entries = append(kept, fresh...)
	return removed
}
