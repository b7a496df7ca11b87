package record

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEncoder records one byte per frame.
type countingEncoder struct {
	mu        sync.Mutex
	frames    int
	calls     int
	closed    bool
	encodeErr error
	closeErr  error
	block     chan struct{}
}

func (e *countingEncoder) Encode(image.Image) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.closed {
		return errors.New("encode after close")
	}
	if e.encodeErr != nil {
		return e.encodeErr
	}
	e.frames++
	return nil
}

func (e *countingEncoder) Close() ([]byte, error) {
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.closeErr != nil {
		return nil, e.closeErr
	}
	return make([]byte, e.frames), nil
}

// memDownloader keeps saved blobs in memory.
type memDownloader struct {
	mu    sync.Mutex
	names []string
	blobs [][]byte
	err   error
}

func (d *memDownloader) Save(name string, blob []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.names = append(d.names, name)
	d.blobs = append(d.blobs, blob)
	return "/downloads/" + name, nil
}

func (d *memDownloader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.blobs)
}

func newTestRecorder(enc *countingEncoder, dl *memDownloader) *Recorder {
	return New(Options{
		FPS:        25,
		NewEncoder: func(int) Encoder { return enc },
		Downloader: dl,
	})
}

func TestRecorder_StartCaptureStop(t *testing.T) {
	enc := &countingEncoder{}
	dl := &memDownloader{}
	rec := newTestRecorder(enc, dl)
	assert.Equal(t, Idle, rec.State())

	id, err := rec.Start()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.SessionID())
	assert.Equal(t, Recording, rec.State())

	frame := image.NewRGBA(image.Rect(0, 0, 2, 2))
	t0 := time.Now()
	for i := 0; i < 3; i++ {
		assert.True(t, rec.Capture(frame, t0.Add(time.Duration(i)*40*time.Millisecond)))
	}

	art, err := rec.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Idle, rec.State())
	assert.Empty(t, rec.SessionID())

	assert.Equal(t, id, art.SessionID)
	assert.Equal(t, 3, art.Frames)
	assert.Equal(t, 3, art.Bytes)
	assert.Equal(t, "/downloads/recorded-video.webm", art.Path)
	require.Equal(t, 1, dl.count())
	assert.Equal(t, []string{DefaultFileName}, dl.names)
}

func TestRecorder_CaptureRateLimited(t *testing.T) {
	enc := &countingEncoder{}
	rec := newTestRecorder(enc, &memDownloader{})
	_, err := rec.Start()
	require.NoError(t, err)

	frame := image.NewRGBA(image.Rect(0, 0, 1, 1))
	t0 := time.Now()
	assert.True(t, rec.Capture(frame, t0))
	assert.False(t, rec.Capture(frame, t0.Add(5*time.Millisecond)), "faster than 25fps")
	assert.True(t, rec.Capture(frame, t0.Add(38*time.Millisecond)), "within jitter allowance")
	assert.False(t, rec.Capture(frame, t0.Add(40*time.Millisecond)))
	assert.True(t, rec.Capture(frame, t0.Add(80*time.Millisecond)))

	art, err := rec.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, art.Frames)
}

func TestRecorder_CaptureIgnoredWhileIdle(t *testing.T) {
	enc := &countingEncoder{}
	rec := newTestRecorder(enc, &memDownloader{})

	assert.False(t, rec.Capture(image.NewRGBA(image.Rect(0, 0, 1, 1)), time.Now()))
	assert.Equal(t, 0, enc.frames)
}

func TestRecorder_InvalidTransitions(t *testing.T) {
	dl := &memDownloader{}
	rec := newTestRecorder(&countingEncoder{}, dl)

	_, err := rec.Stop(context.Background())
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, Idle, rec.State())
	assert.Equal(t, 0, dl.count(), "stop while idle downloads nothing")

	id, err := rec.Start()
	require.NoError(t, err)

	_, err = rec.Start()
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, id, rec.SessionID(), "second start kept the session")

	rec.Capture(image.NewRGBA(image.Rect(0, 0, 1, 1)), time.Now())
	_, err = rec.Stop(context.Background())
	require.NoError(t, err)
}

func TestRecorder_StartWhileFinalizing(t *testing.T) {
	enc := &countingEncoder{block: make(chan struct{})}
	dl := &memDownloader{}
	rec := newTestRecorder(enc, dl)

	_, err := rec.Start()
	require.NoError(t, err)
	rec.Capture(image.NewRGBA(image.Rect(0, 0, 1, 1)), time.Now())

	stopped := make(chan error, 1)
	go func() {
		_, err := rec.Stop(context.Background())
		stopped <- err
	}()

	require.Eventually(t, func() bool { return rec.State() == Finalizing }, time.Second, time.Millisecond)

	_, err = rec.Start()
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = rec.Stop(context.Background())
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.False(t, rec.Capture(image.NewRGBA(image.Rect(0, 0, 1, 1)), time.Now().Add(time.Second)))

	close(enc.block)
	require.NoError(t, <-stopped)
	assert.Equal(t, Idle, rec.State())
	assert.Equal(t, 1, dl.count())
}

func TestRecorder_FinalizeFailures(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 1, 1))

	t.Run("encoder", func(t *testing.T) {
		dl := &memDownloader{}
		rec := newTestRecorder(&countingEncoder{closeErr: errors.New("ffmpeg exited")}, dl)
		_, err := rec.Start()
		require.NoError(t, err)
		rec.Capture(frame, time.Now())

		_, err = rec.Stop(context.Background())
		var fe *FinalizeError
		require.ErrorAs(t, err, &fe)
		assert.Contains(t, err.Error(), "ffmpeg exited")
		assert.Equal(t, Idle, rec.State())
		assert.Equal(t, 0, dl.count())
	})

	t.Run("empty", func(t *testing.T) {
		rec := newTestRecorder(&countingEncoder{}, &memDownloader{})
		_, err := rec.Start()
		require.NoError(t, err)

		_, err = rec.Stop(context.Background())
		var fe *FinalizeError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, Idle, rec.State())
	})

	t.Run("save", func(t *testing.T) {
		rec := newTestRecorder(&countingEncoder{}, &memDownloader{err: os.ErrPermission})
		_, err := rec.Start()
		require.NoError(t, err)
		rec.Capture(frame, time.Now())

		_, err = rec.Stop(context.Background())
		var fe *FinalizeError
		require.ErrorAs(t, err, &fe)
		assert.ErrorIs(t, err, os.ErrPermission)
		assert.Equal(t, Idle, rec.State())

		_, err = rec.Start()
		assert.NoError(t, err, "recorder usable after a failed session")
	})
}

func TestRecorder_EncodeFailureEndsCapture(t *testing.T) {
	enc := &countingEncoder{encodeErr: errors.New("broken pipe")}
	dl := &memDownloader{}
	rec := newTestRecorder(enc, dl)
	_, err := rec.Start()
	require.NoError(t, err)

	frame := image.NewRGBA(image.Rect(0, 0, 1, 1))
	t0 := time.Now()
	for i := 0; i < 3; i++ {
		assert.False(t, rec.Capture(frame, t0.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, 1, enc.calls, "encoder retried after failing")

	_, err = rec.Stop(context.Background())
	var fe *FinalizeError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Equal(t, Idle, rec.State())
	assert.Equal(t, 0, dl.count())
}

func TestFFmpegEncoder_MissingBinary(t *testing.T) {
	t.Setenv("PATH", "")
	frame := image.NewRGBA(image.Rect(0, 0, 2, 2))

	enc := NewFFmpegEncoder(30)
	first := enc.Encode(frame)
	require.Error(t, first)
	assert.ErrorIs(t, enc.Encode(frame), first)

	_, err := enc.Close()
	assert.ErrorIs(t, err, first)
}

func TestRecorder_MissingEncoderBinary(t *testing.T) {
	t.Setenv("PATH", "")
	dl := &memDownloader{}
	rec := New(Options{FPS: 25, Downloader: dl})

	_, err := rec.Start()
	require.NoError(t, err)

	frame := image.NewRGBA(image.Rect(0, 0, 2, 2))
	t0 := time.Now()
	for i := 0; i < 3; i++ {
		assert.False(t, rec.Capture(frame, t0.Add(time.Duration(i)*40*time.Millisecond)))
	}

	_, err = rec.Stop(context.Background())
	var fe *FinalizeError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, Idle, rec.State())
	assert.Equal(t, 0, dl.count())
}

func TestRecorder_StopContextExpires(t *testing.T) {
	enc := &countingEncoder{block: make(chan struct{})}
	rec := newTestRecorder(enc, &memDownloader{})
	_, err := rec.Start()
	require.NoError(t, err)
	rec.Capture(image.NewRGBA(image.Rect(0, 0, 1, 1)), time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = rec.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(enc.block)
	require.Eventually(t, func() bool { return rec.State() == Idle }, time.Second, time.Millisecond)
}

func TestFileDownloader_NumbersCollisions(t *testing.T) {
	dir := t.TempDir()
	d := FileDownloader{Dir: dir}

	first, err := d.Save(DefaultFileName, []byte("one"))
	require.NoError(t, err)
	second, err := d.Save(DefaultFileName, []byte("two"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "recorded-video.webm"), first)
	assert.Equal(t, filepath.Join(dir, "recorded-video (1).webm"), second)

	got, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
	got, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "transient file left behind")
}

func TestNumberedName(t *testing.T) {
	assert.Equal(t, "clip.webm", numberedName("clip.webm", 0))
	assert.Equal(t, "clip (2).webm", numberedName("clip.webm", 2))
	assert.Equal(t, "clip (1)", numberedName("clip", 1))
}

func TestEncoderArgs(t *testing.T) {
	args := encoderArgs(30, image.Pt(640, 480))
	assert.Contains(t, args, "640x480")
	assert.Contains(t, args, "libvpx")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	idx := -1
	for i, a := range args {
		if a == "-r" {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "30", args[idx+1])
}

func TestFFmpegEncoder_CloseWithoutFrames(t *testing.T) {
	_, err := NewFFmpegEncoder(30).Close()
	assert.Error(t, err)
}
