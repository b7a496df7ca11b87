// Package compositor draws a segmented frame onto the canvas: the person
// stays sharp, the background is optionally blurred.
package compositor

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// BlurMode selects the background treatment.
type BlurMode uint8

const (
	Sharp BlurMode = iota
	Blurred
)

func (m BlurMode) String() string {
	if m == Blurred {
		return "blurred"
	}
	return "sharp"
}

// Toggle returns the other mode.
func (m BlurMode) Toggle() BlurMode {
	if m == Blurred {
		return Sharp
	}
	return Blurred
}

// ModeOf maps an on/off flag to a BlurMode.
func ModeOf(blurred bool) BlurMode {
	if blurred {
		return Blurred
	}
	return Sharp
}

// DefaultSigma matches a 4px CSS blur.
const DefaultSigma = 4.0

var ErrMaskSize = errors.New("mask bounds differ from frame bounds")

// Compositor is stateless apart from its blur strength; the same inputs always
// produce the same canvas.
type Compositor struct {
	Sigma float64
}

func New(sigma float64) *Compositor {
	return &Compositor{Sigma: sigma}
}

// Composite renders frame onto canvas using mask as the foreground stencil:
//
//  1. clear the canvas
//  2. draw frame as the base layer
//  3. keep the base layer only where mask is foreground (destination-in)
//  4. draw frame again underneath (destination-over), blurred in Blurred mode
//
// Step 3 precedes step 4 so the blurred layer can only fill what the stencil
// left transparent.
func (c *Compositor) Composite(canvas *Canvas, frame image.Image, mask *image.Alpha, mode BlurMode) error {
	b := frame.Bounds()
	if mask == nil || mask.Bounds() != b {
		var mb image.Rectangle
		if mask != nil {
			mb = mask.Bounds()
		}
		return fmt.Errorf("%w: frame %v, mask %v", ErrMaskSize, b, mb)
	}

	var background image.Image = frame
	if mode == Blurred && c.Sigma > 0 {
		background = imaging.Blur(frame, c.Sigma)
	}
	under := image.NewRGBA(b)
	draw.Draw(under, b, background, background.Bounds().Min, draw.Src)

	canvas.draw(b, func(dst *image.RGBA) {
		clear(dst.Pix)
		draw.Draw(dst, b, frame, b.Min, draw.Src)
		destinationIn(dst, mask)
		destinationOver(dst, under)
	})
	return nil
}

// mul8 scales an 8-bit premultiplied value by an 8-bit alpha, rounding.
func mul8(v, a uint8) uint8 {
	return uint8((uint32(v)*uint32(a) + 127) / 255)
}

// destinationIn scales every dst pixel by the mask alpha at the same point.
func destinationIn(dst *image.RGBA, mask *image.Alpha) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		di := dst.PixOffset(b.Min.X, y)
		mi := mask.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x, di, mi = x+1, di+4, mi+1 {
			a := mask.Pix[mi]
			if a == 0xff {
				continue
			}
			p := dst.Pix[di : di+4 : di+4]
			p[0] = mul8(p[0], a)
			p[1] = mul8(p[1], a)
			p[2] = mul8(p[2], a)
			p[3] = mul8(p[3], a)
		}
	}
}

// destinationOver composites src beneath dst: dst = dst + src*(1-dst.alpha).
// Both images share the same bounds.
func destinationOver(dst, src *image.RGBA) {
	for i := 0; i < len(dst.Pix); i += 4 {
		inv := 0xff - dst.Pix[i+3]
		if inv == 0 {
			continue
		}
		dst.Pix[i+0] += mul8(src.Pix[i+0], inv)
		dst.Pix[i+1] += mul8(src.Pix[i+1], inv)
		dst.Pix[i+2] += mul8(src.Pix[i+2], inv)
		dst.Pix[i+3] += mul8(src.Pix[i+3], inv)
	}
}
