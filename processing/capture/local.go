package capture

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// LocalFileStreamer replays a video file through ffmpeg at the target rate,
// standing in for a camera.
type LocalFileStreamer struct {
	stopOnce sync.Once
	killOnce sync.Once

	path      string
	targetFPS uint

	s_width  int
	s_height int

	r_width  uint16
	r_height uint16

	cmd       *exec.Cmd
	stderr    *lockedBuffer
	frameChan chan image.Image
	errChan   chan error
	stopChan  chan struct{}
}

func NewLocalStreamer(path string, targetFPS uint, scaledWidht int, scaledHeight int) (*LocalFileStreamer, error) {
	w, h, err := probeVideoDimensions(path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}

	return &LocalFileStreamer{
		path:      path,
		targetFPS: targetFPS,
		r_width:   w,
		r_height:  h,
		s_width:   scaledWidht,
		s_height:  scaledHeight,
		stderr:    &lockedBuffer{},
		frameChan: make(chan image.Image, 10),
		errChan:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}, nil
}

func localArgs(path string, fps uint, width, height int) []string {
	return []string{
		"-i", path,
		"-an",
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d:flags=neighbor", fps, width, height),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	}
}

func (ls *LocalFileStreamer) Start() error {
	if ls.targetFPS == 0 {
		ls.targetFPS = standartFps
	}

	ls.cmd = exec.Command("ffmpeg", localArgs(ls.path, ls.targetFPS, ls.s_width, ls.s_height)...)
	ls.cmd.Stderr = ls.stderr

	stdout, err := ls.cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := ls.cmd.Start(); err != nil {
		return classifyFFmpegError(err, ls.stderr.String())
	}

	slog.Debug("file capture started", "path", ls.path, "source_size", fmt.Sprintf("%dx%d", ls.r_width, ls.r_height))

	go ls.readFrames(stdout)

	return nil
}

const (
	bytePerFrame uint16 = 4
	standartFps  uint   = 30
)

func (ls *LocalFileStreamer) readFrames(stdout io.ReadCloser) {
	defer close(ls.frameChan)
	defer close(ls.errChan)
	defer stdout.Close()
	defer ls.stopCmdOut()

	width := int(ls.s_width)
	height := int(ls.s_height)
	bpf := int(bytePerFrame)
	frameSize := width * height * bpf
	buffer := make([]byte, frameSize)

	frameDuration := time.Second / time.Duration(ls.targetFPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ls.stopChan:
			return

		case <-ticker.C:
			_, err := io.ReadFull(stdout, buffer)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case <-ls.stopChan:
					return
				default:
					ls.stopCmdOut()
					ls.errChan <- classifyFFmpegError(fmt.Errorf("read error: %w", err), ls.stderr.String())
					return
				}
			}

			pixelData := make([]byte, len(buffer))
			copy(pixelData, buffer)

			img := &image.RGBA{
				Pix:    pixelData,
				Stride: width * bpf,
				Rect:   image.Rect(0, 0, width, height),
			}

			select {
			case ls.frameChan <- img:
			case <-ls.stopChan:
				return
			}
		}
	}
}

func (ls *LocalFileStreamer) stopCmdOut() {
	ls.killOnce.Do(func() {
		if ls.cmd != nil && ls.cmd.Process != nil {
			ls.cmd.Process.Kill()
			ls.cmd.Wait()
		}
	})
}

func (ls *LocalFileStreamer) Stop() {
	ls.stopOnce.Do(func() {
		close(ls.stopChan)
		ls.stopCmdOut()
	})
}

func (ls *LocalFileStreamer) FrameChan() <-chan image.Image {
	return ls.frameChan
}

func (ls *LocalFileStreamer) ErrorChan() <-chan error {
	return ls.errChan
}

type probeData struct {
	Streams []struct {
		Width  uint16 `json:"width"`
		Height uint16 `json:"height"`
	} `json:"streams"`
}

func probeVideoDimensions(path string) (uint16, uint16, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = string(ee.Stderr)
		}
		return 0, 0, classifyFFmpegError(err, stderr)
	}

	return parseProbe(output)
}

func parseProbe(output []byte) (uint16, uint16, error) {
	var data probeData
	if err := json.Unmarshal(output, &data); err != nil {
		return 0, 0, err
	}

	if len(data.Streams) == 0 {
		return 0, 0, fmt.Errorf("%w: no video streams found", ErrDeviceUnavailable)
	}

	return data.Streams[0].Width, data.Streams[0].Height, nil
}
