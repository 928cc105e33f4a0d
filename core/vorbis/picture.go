package vorbis

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
)

// PictureType is the role of an embedded picture, numbered as in the ID3v2
// APIC frame.
type PictureType uint32

const (
	PictureOther PictureType = iota
	PictureFileIcon
	PictureOtherIcon
	PictureFrontCover
	PictureBackCover
	PictureLeaflet
	PictureMedia
	PictureLeadArtist
	PictureArtist
	PictureConductor
	PictureBand
	PictureComposer
	PictureLyricist
	PictureRecordingLocation
	PictureDuringRecording
	PictureDuringPerformance
	PictureScreenCapture
	PictureBrightFish
	PictureIllustration
	PictureBandLogo
	PicturePublisherLogo
)

var pictureTypeNames = [...]string{
	"Other",
	"32x32 file icon",
	"Other file icon",
	"Cover (front)",
	"Cover (back)",
	"Leaflet page",
	"Media",
	"Lead artist",
	"Artist",
	"Conductor",
	"Band",
	"Composer",
	"Lyricist",
	"Recording location",
	"During recording",
	"During performance",
	"Screen capture",
	"Bright coloured fish",
	"Illustration",
	"Band logotype",
	"Publisher logotype",
}

func (t PictureType) String() string {
	if int(t) < len(pictureTypeNames) {
		return pictureTypeNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", uint32(t))
}

// ParsePictureType accepts a number or a case-insensitive role name such as
// "front" or "Cover (front)".
func ParsePictureType(s string) (PictureType, error) {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return PictureType(n), nil
	}
	want := strings.ToLower(strings.TrimSpace(s))
	switch want {
	case "front", "cover":
		return PictureFrontCover, nil
	case "back":
		return PictureBackCover, nil
	}
	for i, name := range pictureTypeNames {
		if strings.ToLower(name) == want {
			return PictureType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown picture type %q", s)
}

// LinkMIME as MIME type means Data holds a URL instead of image bytes.
const LinkMIME = "-->"

// Picture is a FLAC METADATA_BLOCK_PICTURE. All integers are big-endian on
// the wire.
type Picture struct {
	Type        PictureType
	MIME        string
	Description string
	Width       uint32
	Height      uint32
	Depth       uint32 // bits per pixel
	Colors      uint32 // palette size, 0 for non-indexed images
	Data        []byte

	// DataOffset and DataLength locate the raw image bytes inside the
	// encoded block. They are filled in by the decoders and let a caller
	// fetch Data later when it was skipped.
	DataOffset int64
	DataLength uint32
}

// HeaderSize is the encoded length of everything before the raw image
// bytes.
func (p *Picture) HeaderSize() int {
	return 8*4 + len(p.MIME) + len(p.Description)
}

// Encode serializes the picture block. The data length field always comes
// from len(Data).
func (p *Picture) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(p.HeaderSize() + len(p.Data))
	put := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	put(uint32(p.Type))
	put(uint32(len(p.MIME)))
	buf.WriteString(p.MIME)
	put(uint32(len(p.Description)))
	buf.WriteString(p.Description)
	put(p.Width)
	put(p.Height)
	put(p.Depth)
	put(p.Colors)
	put(uint32(len(p.Data)))
	buf.Write(p.Data)
	return buf.Bytes()
}

// Base64 is the value stored under the METADATA_BLOCK_PICTURE comment key.
func (p *Picture) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Encode())
}

// DecodePicture parses a picture block. With skipData the raw image bytes
// are not copied; DataOffset and DataLength still describe them and the
// declared length is still checked against b.
func DecodePicture(b []byte, skipData bool) (*Picture, error) {
	r := bytes.NewReader(b)
	p, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	end := p.DataOffset + int64(p.DataLength)
	if end > int64(len(b)) {
		return nil, errs.At(errs.ErrTruncatedStream, p.DataOffset,
			"picture data needs %d bytes, have %d", p.DataLength, int64(len(b))-p.DataOffset)
	}
	if !skipData {
		p.Data = append([]byte(nil), b[p.DataOffset:end]...)
	}
	return p, nil
}

// ReadPictureHeader reads the picture metadata from r and stops in front of
// the raw image bytes. The returned length equals DataOffset.
func ReadPictureHeader(r io.Reader) (*Picture, int64, error) {
	p, err := readHeader(r)
	if err != nil {
		return nil, 0, err
	}
	return p, p.DataOffset, nil
}

// PictureFromBase64 decodes a METADATA_BLOCK_PICTURE comment value. Unpadded
// base64 is accepted as well.
func PictureFromBase64(s string) (*Picture, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var rawErr error
		if raw, rawErr = base64.RawStdEncoding.DecodeString(s); rawErr != nil {
			return nil, errs.Malformed("picture base64: %v", err)
		}
	}
	return DecodePicture(raw, false)
}

type fieldReader struct {
	r   io.Reader
	off int64
}

func (f *fieldReader) u32(name string) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(f.r, b[:]); err != nil {
		return 0, f.fail(name, 4, err)
	}
	f.off += 4
	return binary.BigEndian.Uint32(b[:]), nil
}

// str reads n bytes without trusting n for the allocation size.
func (f *fieldReader) str(name string, n uint32) (string, error) {
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, f.r, int64(n)); err != nil {
		return "", f.fail(name, int64(n), err)
	}
	f.off += int64(n)
	return buf.String(), nil
}

func (f *fieldReader) fail(name string, n int64, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.At(errs.ErrTruncatedStream, f.off, "picture %s needs %d bytes", name, n)
	}
	return errs.IO("read picture "+name, err)
}

func readHeader(r io.Reader) (*Picture, error) {
	f := &fieldReader{r: r}
	p := &Picture{}

	typ, err := f.u32("type")
	if err != nil {
		return nil, err
	}
	p.Type = PictureType(typ)

	n, err := f.u32("MIME length")
	if err != nil {
		return nil, err
	}
	if p.MIME, err = f.str("MIME type", n); err != nil {
		return nil, err
	}

	if n, err = f.u32("description length"); err != nil {
		return nil, err
	}
	if p.Description, err = f.str("description", n); err != nil {
		return nil, err
	}

	for _, dst := range []struct {
		name string
		v    *uint32
	}{
		{"width", &p.Width},
		{"height", &p.Height},
		{"depth", &p.Depth},
		{"colors", &p.Colors},
		{"data length", &p.DataLength},
	} {
		if *dst.v, err = f.u32(dst.name); err != nil {
			return nil, err
		}
	}
	p.DataOffset = f.off
	return p, nil
}
