package format

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wyyt/AGPicCompress/internal/errs"
)

// Format identifies an image container the pipeline knows how to route.
type Format int

const (
	Unknown Format = iota
	JPEG
	PNG
)

// String returns the canonical lowercase name of the format.
func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	default:
		return "unknown"
	}
}

// Extension returns the preferred file extension including the dot.
func (f Format) Extension() string {
	switch f {
	case JPEG:
		return ".jpg"
	case PNG:
		return ".png"
	default:
		return ""
	}
}

// ContentType returns the MIME type for HTTP responses.
func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// FromHint parses an explicit format hint ("jpeg", "jpg", "png", with or
// without a leading dot). Empty or unrecognized hints map to Unknown.
func FromHint(hint string) Format {
	switch strings.ToLower(strings.TrimPrefix(hint, ".")) {
	case "jpg", "jpeg":
		return JPEG
	case "png":
		return PNG
	default:
		return Unknown
	}
}

// FromExtension maps a file path's extension to a Format.
func FromExtension(path string) Format {
	return FromHint(filepath.Ext(path))
}

// Sniff inspects leading bytes for a known image signature.
func Sniff(data []byte) Format {
	if len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff {
		return JPEG
	}
	if len(data) >= len(pngSignature) && bytes.Equal(data[:len(pngSignature)], pngSignature) {
		return PNG
	}
	return Unknown
}

// Detect routes a file to a Format. An explicit valid hint wins, then the
// extension, then content sniffing. Pure with respect to the input: the
// file is only opened when both hint and extension are inconclusive.
func Detect(path, hint string) (Format, error) {
	if f := FromHint(hint); f != Unknown {
		return f, nil
	}
	if f := FromExtension(path); f != Unknown {
		return f, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return Unknown, errs.Wrap(errs.KindIO, err, "open %s for format detection", path)
	}
	defer file.Close()

	header := make([]byte, 16)
	n, err := io.ReadFull(file, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return Unknown, errs.Wrap(errs.KindIO, err, "read header of %s", path)
	}
	if f := Sniff(header[:n]); f != Unknown {
		return f, nil
	}
	return Unknown, errs.New(errs.KindUnsupportedFormat, "unsupported image format: %s", path)
}

// DetectBytes routes in-memory image data, used by the upload endpoint.
func DetectBytes(data []byte, hint string) (Format, error) {
	if f := FromHint(hint); f != Unknown {
		return f, nil
	}
	if f := Sniff(data); f != Unknown {
		return f, nil
	}
	return Unknown, errs.New(errs.KindUnsupportedFormat, "unsupported image format in uploaded data")
}
