package backend

import (
	"bytes"
	"context"
	"image/png"

	"github.com/wyyt/AGPicCompress/internal/errs"
	"github.com/wyyt/AGPicCompress/internal/format"
)

// NativePNG is an in-process PNG quantizer used when pngquant should not
// be spawned (or is not deployed). It palettizes with k-means clustering
// and re-encodes at the strongest zlib level.
type NativePNG struct{}

// NewNativePNG returns the in-process PNG codec.
func NewNativePNG() *NativePNG {
	return &NativePNG{}
}

func (c *NativePNG) Name() string          { return "native-png" }
func (c *NativePNG) Format() format.Format { return format.PNG }
func (c *NativePNG) Kind() Kind            { return KindNative }

// Compress implements the Codec contract for PNG input.
func (c *NativePNG) Compress(ctx context.Context, input []byte, p Params) ([]byte, error) {
	if p.NoPalette {
		return recompressPNG(input)
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindTimeout, err, "%s aborted", c.Name())
	}

	img, err := png.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, &errs.Error{
			Kind:       errs.KindBackendExecution,
			Message:    "decode png input",
			Diagnostic: err.Error(),
			Err:        err,
		}
	}

	colors := p.PaletteColors
	if colors < 2 {
		colors = 2
	}
	if colors > 256 {
		colors = 256
	}
	quantized := quantizeImage(img, colors, p.Dither)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, quantized); err != nil {
		return nil, errs.Wrap(errs.KindBackendExecution, err, "encode quantized png")
	}
	return buf.Bytes(), nil
}
