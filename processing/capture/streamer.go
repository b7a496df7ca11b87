package capture

import (
	"image"
)

// VideoStreamer produces decoded frames until stopped. Both channels are
// closed when the streamer ends, whether by Stop or by a read failure.
type VideoStreamer interface {
	Start() error
	Stop()
	FrameChan() <-chan image.Image
	ErrorChan() <-chan error
}
