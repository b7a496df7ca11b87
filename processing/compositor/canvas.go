package compositor

import (
	"image"
	"sync"
)

// Canvas is the shared output buffer. The compositor writes it once per
// frame; the display and the recorder read copies of it.
type Canvas struct {
	mu  sync.RWMutex
	img *image.RGBA
}

func NewCanvas() *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rectangle{})}
}

// draw runs fn with exclusive access to a buffer of the given bounds,
// reallocating it when the bounds changed.
func (c *Canvas) draw(bounds image.Rectangle, fn func(dst *image.RGBA)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.img.Bounds() != bounds {
		c.img = image.NewRGBA(bounds)
	}
	fn(c.img)
}

// Snapshot returns a copy of the current canvas content.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := image.NewRGBA(c.img.Bounds())
	copy(cp.Pix, c.img.Pix)
	return cp
}

// Bounds returns the current canvas size.
func (c *Canvas) Bounds() image.Rectangle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.img.Bounds()
}
