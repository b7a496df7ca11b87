// Package segment wraps a person-segmentation model behind a single
// request/response call returning a foreground mask per frame.
package segment

import (
	"context"
	"fmt"
	"image"
)

// Segmenter yields a foreground mask with the exact bounds of frame.
// Implementations must not be asked for a second mask while one is pending.
type Segmenter interface {
	Infer(ctx context.Context, frame image.Image) (*image.Alpha, error)
}

// Func adapts a plain function to Segmenter.
type Func func(ctx context.Context, frame image.Image) (*image.Alpha, error)

func (f Func) Infer(ctx context.Context, frame image.Image) (*image.Alpha, error) {
	return f(ctx, frame)
}

// ModelLoadError means the model could not be reached or refused the
// session. No frame can be processed without it.
type ModelLoadError struct {
	URL string
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("loading segmentation model at %s: %v", e.URL, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError is a failure for a single frame. The caller skips the frame
// and carries on.
type InferenceError struct {
	ID  int64
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("segmenting frame (request %d): %v", e.ID, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Model input sizes per model selection, as width x height.
var modelInputSizes = map[int]image.Point{
	0: {X: 256, Y: 144},
	1: {X: 256, Y: 256},
}

// InputSize returns the frame size sent to the model for a selection,
// falling back to the general model.
func InputSize(modelSelection int) image.Point {
	if p, ok := modelInputSizes[modelSelection]; ok {
		return p
	}
	return modelInputSizes[1]
}
