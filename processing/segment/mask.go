package segment

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// Uniform returns a mask covering bounds with a single opacity, 255 for all
// foreground and 0 for all background.
func Uniform(bounds image.Rectangle, a uint8) *image.Alpha {
	m := image.NewAlpha(bounds)
	for i := range m.Pix {
		m.Pix[i] = a
	}
	return m
}

// maskFor converts model output into a mask with the given bounds, scaling
// it when the model worked at a lower resolution.
func maskFor(out image.Image, bounds image.Rectangle) *image.Alpha {
	gray := toGray(out)
	if gray.Bounds().Size() != bounds.Size() {
		gray = toGray(resize.Resize(uint(bounds.Dx()), uint(bounds.Dy()), gray, resize.Bilinear))
	}

	m := image.NewAlpha(bounds)
	gb := gray.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		src := gray.Pix[y*gray.Stride : y*gray.Stride+gb.Dx()]
		dst := m.Pix[y*m.Stride : y*m.Stride+bounds.Dx()]
		copy(dst, src)
	}
	return m
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return g
}
