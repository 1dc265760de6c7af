package tesseract

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Preprocess modes.
const (
	ModeEnhanced = "enhanced"
	ModeSimple   = "simple"
	ModeNone     = "none"
)

const (
	adaptiveBlock  = 31
	adaptiveOffset = 2
	simpleCutoff   = 160
	minTextWidth   = 1000
)

// preprocess turns a decoded image into a binarized grayscale image ready for tesseract.
func preprocess(src image.Image, mode string, maxPixels int) *image.Gray {
	gray := toGray(rescale(src, maxPixels))
	switch mode {
	case ModeSimple:
		return threshold(gray, simpleCutoff)
	case ModeNone:
		return gray
	default:
		return adaptiveThreshold(blur3(gray), adaptiveBlock, adaptiveOffset)
	}
}

// rescale doubles narrow images and shrinks anything above the pixel budget.
func rescale(src image.Image, maxPixels int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return src
	}
	scale := 1.0
	if w < minTextWidth {
		scale = 2
	}
	if maxPixels > 0 {
		if budget := math.Sqrt(float64(maxPixels) / float64(w*h)); scale > budget {
			scale = budget
		}
	}
	if math.Abs(scale-1) < 0.01 {
		return src
	}
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return dst
}

// blur3 applies a 3x3 gaussian kernel with clamped borders.
func blur3(src *image.Gray) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(src.Bounds())
	weights := [3]int{1, 2, 1}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					px := clamp(x+dx, 0, w-1)
					py := clamp(y+dy, 0, h-1)
					sum += int(src.GrayAt(px, py).Y) * weights[dx+1] * weights[dy+1]
				}
			}
			dst.SetGray(x, y, color.Gray{Y: uint8((sum + 8) / 16)})
		}
	}
	return dst
}

// adaptiveThreshold compares each pixel with the mean of its block minus offset, using an
// integral image so the cost does not depend on the block size.
func adaptiveThreshold(src *image.Gray, block, offset int) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += int64(src.GrayAt(x, y).Y)
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + row
		}
	}

	half := block / 2
	dst := image.NewGray(src.Bounds())
	for y := 0; y < h; y++ {
		y0, y1 := clamp(y-half, 0, h-1), clamp(y+half, 0, h-1)
		for x := 0; x < w; x++ {
			x0, x1 := clamp(x-half, 0, w-1), clamp(x+half, 0, w-1)
			area := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			sum := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
				integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
			if int64(src.GrayAt(x, y).Y)*area > sum-int64(offset)*area {
				dst.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return dst
}

func threshold(src *image.Gray, cutoff uint8) *image.Gray {
	dst := image.NewGray(src.Bounds())
	for i, v := range src.Pix {
		if v >= cutoff {
			dst.Pix[i] = 255
		}
	}
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
