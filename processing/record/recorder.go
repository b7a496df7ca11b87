// Package record captures the composited canvas into a video file.
package record

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// State is the recorder lifecycle: Idle -> Recording -> Finalizing -> Idle.
type State int

const (
	Idle State = iota
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrInvalidStateTransition rejects Start outside Idle and Stop outside
// Recording. Nothing is changed when it is returned.
var ErrInvalidStateTransition = errors.New("invalid recording state transition")

// FinalizeError means a session ended without producing a saved file.
type FinalizeError struct {
	SessionID string
	Err       error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalizing recording %s: %v", e.SessionID, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

// Artifact describes a saved recording.
type Artifact struct {
	SessionID string
	Path      string
	Frames    int
	Bytes     int
	Duration  time.Duration
}

const (
	DefaultFPS      = 30
	DefaultFileName = "recorded-video.webm"
)

type Options struct {
	FPS        int            // Capture rate; frames arriving faster are dropped.
	FileName   string         // Name handed to the Downloader.
	NewEncoder EncoderFactory // Defaults to NewFFmpegEncoder.
	Downloader Downloader     // Defaults to FileDownloader in the working directory.
}

// Recorder taps composited frames while a session is active. All methods are
// safe for concurrent use.
type Recorder struct {
	opts Options

	mu      sync.Mutex
	state   State
	session *session
}

type session struct {
	id         string
	enc        Encoder
	started    time.Time
	firstFrame time.Time
	lastFrame  time.Time
	frames     int
	encodeErr  error
}

func New(opts Options) *Recorder {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.FileName == "" {
		opts.FileName = DefaultFileName
	}
	if opts.NewEncoder == nil {
		opts.NewEncoder = NewFFmpegEncoder
	}
	if opts.Downloader == nil {
		opts.Downloader = FileDownloader{}
	}
	return &Recorder{opts: opts}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SessionID returns the active session, or "" when idle.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return ""
	}
	return r.session.id
}

// Start opens a new session. Only valid while Idle.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle {
		return "", fmt.Errorf("%w: start while %s", ErrInvalidStateTransition, r.state)
	}

	r.session = &session{
		id:      ksuid.New().String(),
		enc:     r.opts.NewEncoder(r.opts.FPS),
		started: time.Now(),
	}
	r.state = Recording

	slog.Info("recording started", "session", r.session.id, "fps", r.opts.FPS)
	return r.session.id, nil
}

// minGap is the shortest accepted interval between captured frames. A
// quarter of the nominal interval is forgiven for scheduling jitter.
func (r *Recorder) minGap() time.Duration {
	gap := time.Second / time.Duration(r.opts.FPS)
	return gap - gap/4
}

// Capture offers a canvas frame taken at ts. It reports whether the frame
// went into the recording; frames outside Recording or above the capture
// rate are dropped.
func (r *Recorder) Capture(img image.Image, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Recording {
		return false
	}
	s := r.session
	if s.encodeErr != nil {
		return false
	}
	if s.frames > 0 && ts.Sub(s.lastFrame) < r.minGap() {
		return false
	}

	if err := s.enc.Encode(img); err != nil {
		slog.Warn("encoding frame, dropping the rest of the session", "session", s.id, "err", err)
		s.encodeErr = err
		return false
	}
	if s.frames == 0 {
		s.firstFrame = ts
	}
	s.frames++
	s.lastFrame = ts
	return true
}

// Stop ends the session: the encoder is flushed into a single blob which is
// handed to the Downloader. Only valid while Recording. The recorder returns
// to Idle once finalization ends, even if it failed or ctx expired first.
func (r *Recorder) Stop(ctx context.Context) (*Artifact, error) {
	r.mu.Lock()
	if r.state != Recording {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: stop while %s", ErrInvalidStateTransition, state)
	}
	s := r.session
	r.state = Finalizing
	r.mu.Unlock()

	slog.Info("recording stopping", "session", s.id, "frames", s.frames)

	type result struct {
		artifact *Artifact
		err      error
	}
	done := make(chan result, 1)
	go func() {
		a, err := r.finalize(s)

		r.mu.Lock()
		r.state = Idle
		r.session = nil
		r.mu.Unlock()

		done <- result{a, err}
	}()

	select {
	case res := <-done:
		return res.artifact, res.err
	case <-ctx.Done():
		return nil, &FinalizeError{SessionID: s.id, Err: ctx.Err()}
	}
}

func (r *Recorder) finalize(s *session) (*Artifact, error) {
	blob, err := s.enc.Close()
	if s.encodeErr != nil {
		return nil, &FinalizeError{SessionID: s.id, Err: s.encodeErr}
	}
	if err != nil {
		return nil, &FinalizeError{SessionID: s.id, Err: err}
	}
	if len(blob) == 0 {
		return nil, &FinalizeError{SessionID: s.id, Err: errors.New("recorder produced no data")}
	}

	path, err := r.opts.Downloader.Save(r.opts.FileName, blob)
	if err != nil {
		return nil, &FinalizeError{SessionID: s.id, Err: err}
	}

	a := &Artifact{
		SessionID: s.id,
		Path:      path,
		Frames:    s.frames,
		Bytes:     len(blob),
		Duration:  s.lastFrame.Sub(s.firstFrame),
	}
	slog.Info("recording saved", "session", s.id, "path", path, "frames", a.Frames, "bytes", a.Bytes)
	return a, nil
}
