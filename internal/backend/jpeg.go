package backend

import (
	"bytes"
	"context"

	"github.com/disintegration/imaging"

	"github.com/wyyt/AGPicCompress/internal/errs"
	"github.com/wyyt/AGPicCompress/internal/format"
)

// jpegtranBin is the mozjpeg lossless optimizer executable.
const jpegtranBin = "jpegtran"

// MozJPEG compresses JPEG images. Lossy requests are re-encoded
// in-process at the resolved quality factor and the result is passed
// through jpegtran, which re-optimizes entropy coding without touching
// pixel data. Lossless requests skip the re-encode entirely, so quality
// 100 never re-introduces generation loss.
type MozJPEG struct {
	avail *Availability
}

// NewMozJPEG returns the JPEG codec backed by the given availability cache.
func NewMozJPEG(avail *Availability) *MozJPEG {
	return &MozJPEG{avail: avail}
}

func (c *MozJPEG) Name() string          { return "mozjpeg" }
func (c *MozJPEG) Format() format.Format { return format.JPEG }
func (c *MozJPEG) Kind() Kind            { return KindProcess }

// Compress implements the Codec contract for JPEG input.
func (c *MozJPEG) Compress(ctx context.Context, input []byte, p Params) ([]byte, error) {
	status, ok := c.avail.Current().Lookup(jpegtranBin)
	if !ok || !status.Available {
		return nil, errs.New(errs.KindBackendUnavailable, "jpegtran is not available")
	}

	data := input
	if !p.Lossless {
		img, err := imaging.Decode(bytes.NewReader(input))
		if err != nil {
			return nil, &errs.Error{
				Kind:       errs.KindBackendExecution,
				Message:    "decode jpeg input",
				Diagnostic: err.Error(),
				Err:        err,
			}
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.Quality)); err != nil {
			return nil, errs.Wrap(errs.KindBackendExecution, err, "re-encode jpeg at quality %d", p.Quality)
		}
		data = buf.Bytes()
	}

	return runProcess(ctx, c.Name(), status.Path, []string{"-copy", "none", "-optimize"}, data)
}
