package frames

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // sampled stills are jpeg, but decode png fixtures too
	"math"
	"os"
)

// Load decodes a sampled still from disk.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Signature computes a 3-component visual signature over a decoded frame:
// mean brightness, edge density (fraction of pixels whose luma gradient
// exceeds a fixed threshold) and contrast (luma standard deviation). All
// components are scaled to [0,1] so they can be compared across frames.
func Signature(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return []float32{0, 0, 0}
	}

	luma := make([]float64, w*h)
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := lumaAt(img, b.Min.X+x, b.Min.Y+y)
			luma[y*w+x] = l
			sum += l
		}
	}
	total := float64(w * h)
	mean := sum / total

	var variance float64
	for _, l := range luma {
		d := l - mean
		variance += d * d
	}
	variance /= total

	// Horizontal+vertical gradient magnitude; 50/255 matches the edge
	// threshold the thumbnails were originally tuned against.
	const edgeThreshold = 50.0
	var edges int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy float64
			if x+1 < w {
				dx = luma[y*w+x+1] - luma[y*w+x]
			}
			if y+1 < h {
				dy = luma[(y+1)*w+x] - luma[y*w+x]
			}
			if math.Abs(dx)+math.Abs(dy) > edgeThreshold {
				edges++
			}
		}
	}

	return []float32{
		float32(mean / 255),
		float32(float64(edges) / total),
		float32(math.Sqrt(variance) / 255),
	}
}

func lumaAt(img image.Image, x, y int) float64 {
	c := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
	return float64(c.Y)
}

// Thumbnail scales a frame down to the given size with nearest-neighbor
// sampling and encodes it as JPEG. Quality 85 keeps thumbnails cheap to store
// while still legible in scene lists.
func Thumbnail(img image.Image, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("invalid thumbnail size")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("empty source image")
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		sy := b.Min.Y + y*b.Dy()/height
		for x := 0; x < width; x++ {
			sx := b.Min.X + x*b.Dx()/width
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
