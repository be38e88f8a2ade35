package backend

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/wyyt/AGPicCompress/internal/errs"
	"github.com/wyyt/AGPicCompress/internal/format"
)

// pngquantBin is the PNG quantizer executable.
const pngquantBin = "pngquant"

// PNGQuant compresses PNG images by spawning pngquant with the resolved
// quality range. NoPalette requests bypass quantization and re-encode the
// image losslessly at the strongest zlib level instead.
type PNGQuant struct {
	avail *Availability
}

// NewPNGQuant returns the pngquant codec backed by the availability cache.
func NewPNGQuant(avail *Availability) *PNGQuant {
	return &PNGQuant{avail: avail}
}

func (c *PNGQuant) Name() string          { return "pngquant" }
func (c *PNGQuant) Format() format.Format { return format.PNG }
func (c *PNGQuant) Kind() Kind            { return KindProcess }

// Compress implements the Codec contract for PNG input.
func (c *PNGQuant) Compress(ctx context.Context, input []byte, p Params) ([]byte, error) {
	if p.NoPalette {
		return recompressPNG(input)
	}

	status, ok := c.avail.Current().Lookup(pngquantBin)
	if !ok || !status.Available {
		return nil, errs.New(errs.KindBackendUnavailable, "pngquant is not available")
	}

	args := []string{
		"--quality", fmt.Sprintf("%d-%d", p.QualityMin, p.QualityMax),
		"--speed", fmt.Sprintf("%d", p.Speed),
	}
	if !p.Dither {
		args = append(args, "--nofs")
	}
	args = append(args, "-")

	return runProcess(ctx, c.Name(), status.Path, args, input)
}

// recompressPNG decodes and re-encodes a PNG with BestCompression,
// preserving exact pixel data.
func recompressPNG(input []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, &errs.Error{
			Kind:       errs.KindBackendExecution,
			Message:    "decode png input",
			Diagnostic: err.Error(),
			Err:        err,
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, errs.Wrap(errs.KindBackendExecution, err, "re-encode png")
	}
	return buf.Bytes(), nil
}
