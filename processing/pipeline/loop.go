// Package pipeline drives the render loop: take the latest frame, segment it,
// composite it onto the canvas and hand the result to the display and the
// recorder.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"blurcam/processing/compositor"
	"blurcam/processing/segment"
)

// FrameSource provides the most recent camera frame.
type FrameSource interface {
	Current() (frame image.Image, seq uint64, ok bool)
}

// FrameTap receives every composited canvas with the time it was produced.
type FrameTap interface {
	Capture(img image.Image, ts time.Time) bool
}

// ErrNoFrame is returned by Step while the source has no frame yet.
var ErrNoFrame = errors.New("no frame available yet")

const (
	DefaultFPS          = 60
	DefaultInferTimeout = time.Second
)

type Options struct {
	FPS          int           // Display rate; one iteration per tick at most.
	InferTimeout time.Duration // Per-frame segmentation deadline.
	Blur         compositor.BlurMode
	BlurRadius   float64
	Tap          FrameTap
	Now          func() time.Time
}

// Stats is a point-in-time view of the loop.
type Stats struct {
	FPS       float64
	Latency   time.Duration
	Processed uint64
	Skipped   uint64
	Mode      compositor.BlurMode
	LastErr   error
}

// Loop runs one segmentation request at a time: an iteration starts only
// after the previous one has finished and the next display tick arrived.
type Loop struct {
	// Out carries canvas snapshots for the display. Only the newest is kept.
	Out chan *image.RGBA

	source FrameSource
	seg    segment.Segmenter
	canvas *compositor.Canvas
	tap    FrameTap
	now    func() time.Time

	fps          int
	inferTimeout time.Duration

	blur   atomic.Uint32
	radius atomic.Uint64

	stepMu sync.Mutex

	mu          sync.RWMutex
	stats       Stats
	windowStart time.Time
	windowCount int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(source FrameSource, seg segment.Segmenter, canvas *compositor.Canvas, opts Options) *Loop {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.InferTimeout <= 0 {
		opts.InferTimeout = DefaultInferTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if canvas == nil {
		canvas = compositor.NewCanvas()
	}

	l := &Loop{
		Out:          make(chan *image.RGBA, 1),
		source:       source,
		seg:          seg,
		canvas:       canvas,
		tap:          opts.Tap,
		now:          opts.Now,
		fps:          opts.FPS,
		inferTimeout: opts.InferTimeout,
	}
	l.SetBlur(opts.Blur)
	l.SetBlurRadius(opts.BlurRadius)
	return l
}

// SetSource swaps the frame source between iterations. A nil source makes
// Step report ErrNoFrame.
func (l *Loop) SetSource(src FrameSource) {
	l.stepMu.Lock()
	l.source = src
	l.stepMu.Unlock()
}

// Canvas returns the buffer the loop draws into.
func (l *Loop) Canvas() *compositor.Canvas { return l.canvas }

// BlurMode returns the mode the next iteration will use.
func (l *Loop) BlurMode() compositor.BlurMode {
	return compositor.BlurMode(l.blur.Load())
}

func (l *Loop) SetBlur(mode compositor.BlurMode) {
	l.blur.Store(uint32(mode))
}

// ToggleBlur flips the blur mode and returns the new one. An iteration in
// progress keeps the mode it started with.
func (l *Loop) ToggleBlur() compositor.BlurMode {
	for {
		old := l.blur.Load()
		next := compositor.BlurMode(old).Toggle()
		if l.blur.CompareAndSwap(old, uint32(next)) {
			return next
		}
	}
}

// SetBlurRadius sets the Gaussian sigma used for the background.
func (l *Loop) SetBlurRadius(r float64) {
	if r < 0 {
		r = 0
	}
	l.radius.Store(math.Float64bits(r))
}

func (l *Loop) BlurRadius() float64 {
	return math.Float64frombits(l.radius.Load())
}

func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.stats
	s.Mode = l.BlurMode()
	return s
}

// Step runs a single iteration. It returns ErrNoFrame before the
// source has produced anything, and the segmentation or compositing error
// when the frame was skipped; the canvas then keeps its previous content.
func (l *Loop) Step(ctx context.Context) error {
	l.stepMu.Lock()
	defer l.stepMu.Unlock()

	if l.source == nil {
		return ErrNoFrame
	}
	frame, seq, ok := l.source.Current()
	if !ok {
		return ErrNoFrame
	}

	start := l.now()
	mode := l.BlurMode()
	comp := compositor.New(l.BlurRadius())

	inferCtx, cancel := context.WithTimeout(ctx, l.inferTimeout)
	mask, err := l.seg.Infer(inferCtx, frame)
	cancel()
	if err != nil {
		return l.skip(fmt.Errorf("segmenting frame %d: %w", seq, err))
	}

	if err := comp.Composite(l.canvas, frame, mask, mode); err != nil {
		return l.skip(fmt.Errorf("compositing frame %d: %w", seq, err))
	}

	snap := l.canvas.Snapshot()
	ts := l.now()
	if l.tap != nil {
		l.tap.Capture(snap, ts)
	}
	l.publish(snap)

	l.mu.Lock()
	l.stats.Processed++
	l.stats.Latency = ts.Sub(start)
	l.countFrame(ts)
	l.mu.Unlock()
	return nil
}

// countFrame updates the FPS estimate over one-second windows. Caller holds mu.
func (l *Loop) countFrame(ts time.Time) {
	if l.windowStart.IsZero() {
		l.windowStart = ts
	}
	l.windowCount++
	if elapsed := ts.Sub(l.windowStart); elapsed >= time.Second {
		l.stats.FPS = float64(l.windowCount) / elapsed.Seconds()
		l.windowCount = 0
		l.windowStart = ts
	}
}

func (l *Loop) skip(err error) error {
	l.mu.Lock()
	l.stats.Skipped++
	l.stats.LastErr = err
	l.mu.Unlock()
	return err
}

// publish replaces any snapshot the display has not picked up yet.
func (l *Loop) publish(img *image.RGBA) {
	select {
	case l.Out <- img:
		return
	default:
	}
	select {
	case <-l.Out:
	default:
	}
	select {
	case l.Out <- img:
	default:
	}
}

// Start runs the loop in its own goroutine until ctx is done or Stop is
// called. Calling Start on a running loop does nothing.
func (l *Loop) Start(ctx context.Context) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.done != nil {
		select {
		case <-l.done:
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(l.fps))
	defer ticker.Stop()

	slog.Info("render loop started", "fps", l.fps, "blur", l.BlurMode())
	for {
		if err := l.Step(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, ErrNoFrame) {
			slog.Warn("frame skipped", "err", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("render loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the loop and waits for the current iteration to finish.
func (l *Loop) Stop() {
	l.runMu.Lock()
	cancel, done := l.cancel, l.done
	l.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop goroutine exits. It is nil before Start.
func (l *Loop) Done() <-chan struct{} {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.done
}
