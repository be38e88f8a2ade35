package backend

import (
	"context"

	"github.com/wyyt/AGPicCompress/internal/format"
)

// Params carries backend-specific parameters already resolved by the
// quality policy. Only the fields matching the codec's format are read.
type Params struct {
	// JPEG
	Quality  int  // quality factor 1-100 for lossy re-encoding
	Lossless bool // re-optimize entropy coding only, no re-quantization

	// PNG
	QualityMin    int  // pngquant lower quality bound 0-100
	QualityMax    int  // pngquant upper quality bound 0-100
	Speed         int  // pngquant speed/quality tradeoff 1-11
	Dither        bool // enable dithering during palette mapping
	NoPalette     bool // skip palette reduction, re-encode losslessly
	PaletteColors int  // palette size for the native quantizer
}

// Kind distinguishes how a codec is invoked.
type Kind string

const (
	KindNative  Kind = "native"  // in-process library call
	KindProcess Kind = "process" // spawned external executable
)

// Codec wraps one external compression engine behind a uniform
// compress operation. Implementations must be idempotent: identical
// input bytes and params produce identical output bytes.
type Codec interface {
	// Name is the backend identifier used in logs and results.
	Name() string
	// Format is the image format this codec handles.
	Format() format.Format
	// Kind reports how the codec is invoked.
	Kind() Kind
	// Compress returns the compressed form of input. Temporary resources
	// are released on every exit path, including context cancellation.
	Compress(ctx context.Context, input []byte, p Params) ([]byte, error)
}
