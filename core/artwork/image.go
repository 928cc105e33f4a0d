package artwork

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded cover picture.
type Image struct {
	Hash   string
	Format string // as registered with the image package: jpeg, png, gif, webp, bmp, tiff
	Width  int
	Height int
	Size   int // encoded bytes
	Image  image.Image
	EXIF   []Field
}

var mimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
}

// MIME is the media type of the image format.
func (img *Image) MIME() string { return mimeByFormat[img.Format] }

// SniffMIME identifies an encoded image by its leading bytes. Unknown data
// gives "application/octet-stream".
func SniffMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return "image/tiff"
	}
	return "application/octet-stream"
}

// Config is what a picture block records about an image without decoding
// its pixels.
type Config struct {
	MIME   string
	Width  int
	Height int
	Depth  int // bits per pixel
	Colors int // palette entries, 0 unless paletted
}

// Probe reads the dimensions and colour depth of an encoded image.
func Probe(data []byte) (Config, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("probe image: %w", err)
	}
	c := Config{MIME: mimeByFormat[format], Width: cfg.Width, Height: cfg.Height}
	switch m := cfg.ColorModel.(type) {
	case color.Palette:
		c.Colors = len(m)
		c.Depth = 8
	default:
		c.Depth = depthOf(m)
	}
	return c, nil
}

func depthOf(m color.Model) int {
	switch m {
	case color.GrayModel:
		return 8
	case color.Gray16Model:
		return 16
	case color.RGBA64Model, color.NRGBA64Model:
		return 64
	case color.RGBAModel, color.NRGBAModel, color.CMYKModel:
		return 32
	}
	return 24
}

func decode(hash string, data []byte) (*Image, error) {
	im, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := im.Bounds()
	img := &Image{
		Hash:   hash,
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Size:   len(data),
		Image:  im,
	}
	if format == "jpeg" || format == "tiff" {
		img.EXIF = EXIF(data)
	}
	return img, nil
}
