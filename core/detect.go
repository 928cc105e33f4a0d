package core

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/ankit-chaubey/opus-tag-surgery/core/ogg"
	"github.com/spf13/afero"
)

// FormatID enumerates every recognised audio format.
type FormatID string

const (
	FmtOpus FormatID = "opus"
	FmtOGG  FormatID = "ogg" // Ogg Vorbis, or Ogg carrying anything but Opus
	FmtFLAC FormatID = "flac"
	FmtMP3  FormatID = "mp3"
	FmtM4A  FormatID = "m4a"
	FmtWAV  FormatID = "wav"
	FmtAIFF FormatID = "aiff"

	FmtUnknown FormatID = "unknown"
)

// extMap is consulted only when the leading bytes are inconclusive.
var extMap = map[string]FormatID{
	".opus": FmtOpus,
	".ogg":  FmtOGG,
	".oga":  FmtOGG,
	".flac": FmtFLAC,
	".mp3":  FmtMP3,
	".m4a":  FmtM4A,
	".m4b":  FmtM4A,
	".aac":  FmtM4A,
	".wav":  FmtWAV,
	".wave": FmtWAV,
	".aif":  FmtAIFF,
	".aiff": FmtAIFF,
}

// sniffSize covers the first Ogg page header with a one-entry segment table
// and the codec magic after it.
const sniffSize = 64

// DetectFormat sniffs the leading bytes of path and falls back to its
// extension. Ogg files are told apart by the codec magic of the first packet.
func DetectFormat(fs afero.Fs, path string) (FormatID, error) {
	f, err := fs.Open(path)
	if err != nil {
		return FmtUnknown, errs.IO("open "+path, err)
	}
	defer f.Close()

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FmtUnknown, errs.IO("read "+path, err)
	}
	if id := detectMagic(buf[:n]); id != FmtUnknown {
		return id, nil
	}
	return FormatFromExt(path), nil
}

// FormatFromExt looks at the file extension only.
func FormatFromExt(path string) FormatID {
	if id, ok := extMap[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	return FmtUnknown
}

func detectMagic(b []byte) FormatID {
	if len(b) < 4 {
		return FmtUnknown
	}
	switch {
	case bytes.HasPrefix(b, []byte("OggS")):
		return detectOggCodec(b)
	case bytes.HasPrefix(b, []byte("fLaC")):
		return FmtFLAC
	// MP3: ID3 tag or frame sync
	case bytes.HasPrefix(b, []byte("ID3")):
		return FmtMP3
	case b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return FmtMP3
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return FmtWAV
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("FORM")) &&
		(bytes.Equal(b[8:12], []byte("AIFF")) || bytes.Equal(b[8:12], []byte("AIFC"))):
		return FmtAIFF
	case len(b) >= 12 && bytes.Equal(b[4:8], []byte("ftyp")):
		switch string(b[8:12]) {
		case "M4A ", "M4B ", "mp42", "isom":
			return FmtM4A
		}
	}
	return FmtUnknown
}

// detectOggCodec looks past the first page header at the codec magic of the
// first packet.
func detectOggCodec(b []byte) FormatID {
	if len(b) < ogg.HeaderSize {
		return FmtOGG
	}
	payload := ogg.HeaderSize + int(b[ogg.HeaderSize-1])
	if payload > len(b) {
		return FmtOGG
	}
	if bytes.HasPrefix(b[payload:], []byte("OpusHead")) {
		return FmtOpus
	}
	return FmtOGG
}

// FormatNames lists every format in display order.
func FormatNames() []FormatID {
	return []FormatID{FmtOpus, FmtOGG, FmtFLAC, FmtMP3, FmtM4A, FmtWAV, FmtAIFF}
}
