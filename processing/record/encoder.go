package record

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Encoder turns a sequence of frames into one video blob.
type Encoder interface {
	Encode(img image.Image) error
	// Close finalizes the stream and returns the encoded video.
	Close() ([]byte, error)
}

// EncoderFactory makes a fresh encoder for each recording session.
type EncoderFactory func(fps int) Encoder

// FFmpegEncoder pipes raw RGBA frames to ffmpeg and collects a WebM (VP8)
// stream from its stdout. The process starts with the first frame, whose
// size fixes the video size. If it cannot start, every later Encode and
// Close return that error.
type FFmpegEncoder struct {
	fps  int
	size image.Point

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    bytes.Buffer
	stderr bytes.Buffer
	copied chan error
	frames int
	once   sync.Once

	// startErr sticks once ffmpeg failed to start; later calls return it.
	startErr error
}

func NewFFmpegEncoder(fps int) Encoder {
	return &FFmpegEncoder{fps: fps}
}

func encoderArgs(fps int, size image.Point) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", size.X, size.Y),
		"-r", fmt.Sprintf("%d", fps),
		"-i", "-",
		"-an",
		"-c:v", "libvpx",
		"-b:v", "2M",
		"-deadline", "realtime",
		"-pix_fmt", "yuv420p",
		"-f", "webm",
		"pipe:1",
	}
}

func (e *FFmpegEncoder) start(size image.Point) error {
	cmd := exec.Command("ffmpeg", encoderArgs(e.fps, size)...)
	cmd.Stderr = &e.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg encoder: %w", err)
	}
	e.cmd = cmd
	e.stdin = stdin
	e.size = size

	e.copied = make(chan error, 1)
	go func() {
		_, err := io.Copy(&e.out, stdout)
		e.copied <- err
	}()
	return nil
}

func (e *FFmpegEncoder) Encode(img image.Image) error {
	if e.startErr != nil {
		return e.startErr
	}
	b := img.Bounds()
	if e.cmd == nil {
		if err := e.start(b.Size()); err != nil {
			e.startErr = err
			return err
		}
	}
	if b.Size() != e.size {
		return fmt.Errorf("frame size %v differs from video size %v", b.Size(), e.size)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	if _, err := e.stdin.Write(rgba.Pix[:4*b.Dx()*b.Dy()]); err != nil {
		return fmt.Errorf("writing frame to ffmpeg: %w", err)
	}
	e.frames++
	return nil
}

func (e *FFmpegEncoder) Close() ([]byte, error) {
	var err error
	e.once.Do(func() {
		if e.startErr != nil {
			err = e.startErr
			return
		}
		if e.cmd == nil {
			err = fmt.Errorf("no frames recorded")
			return
		}
		e.stdin.Close()
		copyErr := <-e.copied
		if werr := e.cmd.Wait(); werr != nil {
			err = fmt.Errorf("ffmpeg encoder: %w: %s", werr, lastLine(e.stderr.String()))
			return
		}
		if copyErr != nil {
			err = fmt.Errorf("reading encoded video: %w", copyErr)
		}
	})
	if err != nil {
		return nil, err
	}
	return e.out.Bytes(), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
