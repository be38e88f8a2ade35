package backend

import (
	"image"
	"image/color"
	"image/draw"
	"math/rand"
)

// maxSamplePixels bounds the number of pixels fed to k-means so huge
// images do not dominate quantization time.
const maxSamplePixels = 100000

// defaultKMeansIters caps palette refinement; clustering usually
// converges earlier.
const defaultKMeansIters = 5

type rgbVector [3]float32

func (v rgbVector) add(o rgbVector) rgbVector {
	return rgbVector{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

func (v rgbVector) scale(f float32) rgbVector {
	return rgbVector{v[0] * f, v[1] * f, v[2] * f}
}

func (v rgbVector) distSquared(o rgbVector) float64 {
	var sum float64
	for i := range v {
		d := float64(v[i] - o[i])
		sum += d * d
	}
	return sum
}

func toVector(c color.Color) rgbVector {
	r, g, b, _ := c.RGBA()
	return rgbVector{float32(r) / 257, float32(g) / 257, float32(b) / 257}
}

func toColor(v rgbVector) color.Color {
	clamp := func(f float32) uint8 {
		if f < 0 {
			return 0
		}
		if f > 255 {
			return 255
		}
		return uint8(f + 0.5)
	}
	return color.RGBA{R: clamp(v[0]), G: clamp(v[1]), B: clamp(v[2]), A: 0xff}
}

// quantizeImage reduces img to a palette of at most numColors entries
// using k-means clustering, optionally applying Floyd-Steinberg dithering
// when mapping pixels onto the palette. The random source is seeded from
// the image contents, so identical input yields identical output.
func quantizeImage(img image.Image, numColors int, dither bool) *image.Paletted {
	bounds := img.Bounds()
	samples := make([]rgbVector, 0, bounds.Dx()*bounds.Dy())
	var seed int64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := toVector(img.At(x, y))
			seed = seed*31 + int64(v[0]) + int64(v[1]) + int64(v[2])
			samples = append(samples, v)
		}
	}
	rng := rand.New(rand.NewSource(seed))
	samples = subsamplePixels(rng, samples)

	centers := clusterColors(rng, samples, numColors)
	palette := make(color.Palette, len(centers))
	for i, c := range centers {
		palette[i] = toColor(c)
	}

	dst := image.NewPaletted(bounds, palette)
	if dither {
		draw.FloydSteinberg.Draw(dst, bounds, img, bounds.Min)
	} else {
		draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
	}
	return dst
}

func subsamplePixels(rng *rand.Rand, samples []rgbVector) []rgbVector {
	if len(samples) <= maxSamplePixels {
		return samples
	}
	for i := 0; i < maxSamplePixels; i++ {
		j := i + rng.Intn(len(samples)-i)
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples[:maxSamplePixels]
}

// clusterColors runs k-means over the sampled colors. When the image has
// no more unique colors than requested, the unique colors are the palette.
func clusterColors(rng *rand.Rand, samples []rgbVector, numColors int) []rgbVector {
	unique := make(map[rgbVector]bool, numColors+1)
	for _, s := range samples {
		unique[s] = true
		if len(unique) > numColors {
			break
		}
	}
	if len(unique) <= numColors {
		centers := make([]rgbVector, 0, len(unique))
		for _, s := range samples {
			if unique[s] {
				centers = append(centers, s)
				unique[s] = false
			}
		}
		return centers
	}

	centers := seedCenters(rng, samples, numColors)
	loss := kmeansStep(samples, centers)
	for i := 0; i < defaultKMeansIters; i++ {
		next := kmeansStep(samples, centers)
		if next >= loss {
			break
		}
		loss = next
	}
	return centers
}

// seedCenters picks initial centers with k-means++ style distance
// weighting.
func seedCenters(rng *rand.Rand, samples []rgbVector, numColors int) []rgbVector {
	centers := make([]rgbVector, numColors)
	centers[0] = samples[rng.Intn(len(samples))]

	dists := make([]float64, len(samples))
	total := 0.0
	for i, s := range samples {
		dists[i] = s.distSquared(centers[0])
		total += dists[i]
	}

	for c := 1; c < numColors; c++ {
		target := rng.Float64() * total
		idx := len(samples) - 1
		for i, d := range dists {
			target -= d
			if target < 0 {
				idx = i
				break
			}
		}
		centers[c] = samples[idx]

		total = 0
		for i, s := range samples {
			if d := s.distSquared(centers[c]); d < dists[i] {
				dists[i] = d
			}
			total += dists[i]
		}
	}
	return centers
}

// kmeansStep reassigns samples to their closest center, recomputes the
// centers and returns the mean squared error.
func kmeansStep(samples []rgbVector, centers []rgbVector) float64 {
	sums := make([]rgbVector, len(centers))
	counts := make([]int, len(centers))
	totalErr := 0.0

	for _, s := range samples {
		bestIdx := 0
		bestDist := s.distSquared(centers[0])
		for i := 1; i < len(centers); i++ {
			if d := s.distSquared(centers[i]); d < bestDist {
				bestDist = d
				bestIdx = i
			}
		}
		sums[bestIdx] = sums[bestIdx].add(s)
		counts[bestIdx]++
		totalErr += bestDist
	}

	for i, sum := range sums {
		if counts[i] > 0 {
			centers[i] = sum.scale(1 / float32(counts[i]))
		}
	}
	return totalErr / float64(len(samples))
}
