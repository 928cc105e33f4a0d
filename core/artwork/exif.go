package artwork

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// Field is one EXIF tag of a cover image.
type Field struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// EXIF returns the EXIF tags of a JPEG or TIFF image in walk order. Images
// without EXIF data give nil.
func EXIF(data []byte) []Field {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	w := &exifWalker{}
	_ = x.Walk(w)
	return w.fields
}

type exifWalker struct {
	fields []Field
}

func (w *exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	val := tag.String()
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		val = val[1 : len(val)-1]
	}
	w.fields = append(w.fields, Field{Name: string(name), Value: val})
	return nil
}
