package policy

import (
	"github.com/wyyt/AGPicCompress/internal/backend"
	"github.com/wyyt/AGPicCompress/internal/errs"
	"github.com/wyyt/AGPicCompress/internal/format"
)

// Resolve maps the user-facing 0-100 quality level to backend-specific
// parameters. The mapping is monotonic: a higher level never requests
// more aggressive compression.
//
// Quality 100 is deliberately lossless: JPEG input is only re-optimized
// (entropy coding), never re-quantized, and PNG palette reduction is
// disabled.
func Resolve(f format.Format, quality int) (backend.Params, error) {
	if quality < 0 || quality > 100 {
		return backend.Params{}, errs.New(errs.KindInvalidQuality, "quality level %d out of range [0,100]", quality)
	}

	switch f {
	case format.JPEG:
		return resolveJPEG(quality), nil
	case format.PNG:
		return resolvePNG(quality), nil
	default:
		return backend.Params{}, errs.New(errs.KindUnsupportedFormat, "no quality policy for format %s", f)
	}
}

func resolveJPEG(quality int) backend.Params {
	if quality == 100 {
		return backend.Params{Lossless: true}
	}
	// imaging's encoder rejects a quality factor of 0.
	q := quality
	if q < 1 {
		q = 1
	}
	return backend.Params{Quality: q}
}

func resolvePNG(quality int) backend.Params {
	if quality == 100 {
		return backend.Params{NoPalette: true}
	}

	p := backend.Params{
		QualityMax: quality,
		Dither:     quality >= 40,
	}
	if quality > 15 {
		p.QualityMin = quality - 15
	}

	// Aggressiveness tiers: lower levels trade palette size and quantizer
	// effort for smaller output.
	switch {
	case quality < 25:
		p.PaletteColors = 64
		p.Speed = 8
	case quality < 50:
		p.PaletteColors = 128
		p.Speed = 6
	case quality < 75:
		p.PaletteColors = 192
		p.Speed = 4
	default:
		p.PaletteColors = 256
		p.Speed = 3
	}
	return p
}
