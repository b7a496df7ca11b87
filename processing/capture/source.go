package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
)

// Source turns a VideoStreamer into a live view: consumers read the most
// recent frame on demand instead of draining a channel.
type Source struct {
	streamer VideoStreamer

	mu      sync.RWMutex
	current image.Image
	seq     uint64
	err     error

	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}

	startOnce sync.Once
	started   bool
	closeOnce sync.Once
}

func NewSource(streamer VideoStreamer) *Source {
	return &Source{
		streamer: streamer,
		first:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Open starts the streamer and blocks until the first frame has arrived, the
// stream fails, or ctx is done. Camera failures are reported as
// ErrPermissionDenied or ErrDeviceUnavailable.
func (s *Source) Open(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		if err := s.streamer.Start(); err != nil {
			startErr = err
			close(s.done)
			return
		}
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		go s.pump()
	})
	if startErr != nil {
		return fmt.Errorf("open source: %w", startErr)
	}

	select {
	case <-s.first:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		return fmt.Errorf("open source: %w", ErrNoFrame)
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

func (s *Source) pump() {
	defer close(s.done)

	frames := s.streamer.FrameChan()
	errs := s.streamer.ErrorChan()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				if errs != nil {
					for err := range errs {
						s.setErr(err)
					}
				}
				return
			}
			if frame == nil {
				continue
			}
			s.mu.Lock()
			s.current = frame
			s.seq++
			s.mu.Unlock()
			s.firstOnce.Do(func() { close(s.first) })

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.setErr(err)
		}
	}
}

func (s *Source) setErr(err error) {
	if err == nil {
		return
	}
	slog.Warn("frame source failed", "err", err)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Current returns the latest frame and its sequence number. ok is false
// until the first frame arrived.
func (s *Source) Current() (frame image.Image, seq uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.seq, s.current != nil
}

// Err returns the failure that ended the stream, if any.
func (s *Source) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done is closed once the underlying stream has ended.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Close releases the device. It is safe to call more than once.
func (s *Source) Close() {
	s.closeOnce.Do(func() {
		s.streamer.Stop()

		s.mu.RLock()
		started := s.started
		s.mu.RUnlock()
		if started {
			<-s.done
		}
	})
}
