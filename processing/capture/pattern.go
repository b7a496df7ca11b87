package capture

import (
	"image"
	"image/color"
	"sync"
	"time"
)

// patternColors cycle through the cells of the synthetic test pattern.
var patternColors = []color.RGBA{
	{R: 255, A: 255},
	{G: 255, A: 255},
	{B: 255, A: 255},
	{R: 255, G: 255, B: 255, A: 255},
}

// PatternStreamer emits a synthetic test pattern without any device. Each
// frame shifts the palette by one so consecutive frames differ.
type PatternStreamer struct {
	stopOnce sync.Once

	width     int
	height    int
	targetFPS uint

	frameChan chan image.Image
	errChan   chan error
	stopChan  chan struct{}
}

func NewPatternStreamer(width, height int, targetFPS uint) *PatternStreamer {
	if targetFPS == 0 {
		targetFPS = standartFps
	}
	return &PatternStreamer{
		width:     width,
		height:    height,
		targetFPS: targetFPS,
		frameChan: make(chan image.Image, 1),
		errChan:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}
}

func (ps *PatternStreamer) Start() error {
	go ps.run()
	return nil
}

func (ps *PatternStreamer) run() {
	defer close(ps.frameChan)
	defer close(ps.errChan)

	ticker := time.NewTicker(time.Second / time.Duration(ps.targetFPS))
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case ps.frameChan <- PatternFrame(ps.width, ps.height, n):
		case <-ps.stopChan:
			return
		}

		select {
		case <-ticker.C:
		case <-ps.stopChan:
			return
		}
	}
}

func (ps *PatternStreamer) Stop() {
	ps.stopOnce.Do(func() {
		close(ps.stopChan)
	})
}

func (ps *PatternStreamer) FrameChan() <-chan image.Image { return ps.frameChan }
func (ps *PatternStreamer) ErrorChan() <-chan error       { return ps.errChan }

// PatternFrame renders frame n of the test pattern: one palette colour per
// pixel, offset by n.
func PatternFrame(width, height, n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, patternColors[(x+y*width+n)%len(patternColors)])
		}
	}
	return img
}
