package capture

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"runtime"
	"sync"
)

type FFmpegWebcamStreamer struct {
	stopOnce sync.Once
	killOnce sync.Once

	deviceName string
	width      int
	height     int
	targetFPS  uint

	cmd       *exec.Cmd
	stderr    *lockedBuffer
	frameChan chan image.Image
	errChan   chan error

	stopChan chan struct{}
}

func NewFFmpegWebcam(deviceName string, targetFps uint, scaledWidht int, scaledHeight int) *FFmpegWebcamStreamer {
	return &FFmpegWebcamStreamer{
		deviceName: deviceName,
		width:      scaledWidht,
		height:     scaledHeight,
		targetFPS:  targetFps,

		stderr:    &lockedBuffer{},
		frameChan: make(chan image.Image),
		errChan:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}
}

// webcamArgs builds the ffmpeg arguments for a video-only capture from
// deviceName, scaled to width x height and emitted as raw RGBA frames.
func webcamArgs(goos, deviceName string, fps uint, width, height int) []string {
	var input []string
	if goos == "windows" {
		input = []string{"-f", "dshow", "-i", fmt.Sprintf("video=%s", deviceName)}
	} else {
		input = []string{"-f", "v4l2", "-i", deviceName}
	}

	return append(input,
		"-an",
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", fps, width, height),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	)
}

func (ws *FFmpegWebcamStreamer) Start() error {
	ws.cmd = exec.Command("ffmpeg", webcamArgs(runtime.GOOS, ws.deviceName, ws.targetFPS, ws.width, ws.height)...)
	ws.cmd.Stderr = ws.stderr

	stdout, err := ws.cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := ws.cmd.Start(); err != nil {
		return classifyFFmpegError(err, ws.stderr.String())
	}

	slog.Debug("webcam capture started", "device", ws.deviceName, "fps", ws.targetFPS, "size", fmt.Sprintf("%dx%d", ws.width, ws.height))

	go ws.readLoop(stdout)

	return nil
}

func (ws *FFmpegWebcamStreamer) readLoop(stdout io.ReadCloser) {
	defer close(ws.frameChan)
	defer close(ws.errChan)
	defer stdout.Close()
	defer ws.stopCmdOut()

	frameSize := ws.width * ws.height * 4
	buffer := make([]byte, frameSize)

	for {
		select {
		case <-ws.stopChan:
			return

		default:
			_, err := io.ReadFull(stdout, buffer)
			if err != nil {
				select {
				case <-ws.stopChan:
					return
				default:
					ws.stopCmdOut()
					ws.errChan <- classifyFFmpegError(fmt.Errorf("read error: %w", err), ws.stderr.String())
					return
				}
			}

			pixelData := make([]byte, len(buffer))
			copy(pixelData, buffer)

			img := &image.RGBA{
				Pix:    pixelData,
				Stride: ws.width * 4,
				Rect:   image.Rect(0, 0, ws.width, ws.height),
			}

			select {
			case ws.frameChan <- img:
			default:
			}
		}
	}
}

func (ws *FFmpegWebcamStreamer) stopCmdOut() {
	ws.killOnce.Do(func() {
		if ws.cmd != nil && ws.cmd.Process != nil {
			ws.cmd.Process.Kill()
			ws.cmd.Wait()
		}
	})
}

func (ws *FFmpegWebcamStreamer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.stopChan)
		ws.stopCmdOut()
	})
}

func (ws *FFmpegWebcamStreamer) FrameChan() <-chan image.Image { return ws.frameChan }
func (ws *FFmpegWebcamStreamer) ErrorChan() <-chan error       { return ws.errChan }

var dshowDeviceRe = regexp.MustCompile(`"([^"]+)"\s+\(video\)`)

// parseDShowDevices extracts video device names from the output of
// "ffmpeg -list_devices true -f dshow".
func parseDShowDevices(output string) []string {
	var cameras []string
	seen := make(map[string]bool)
	for _, m := range dshowDeviceRe.FindAllStringSubmatch(output, -1) {
		name := m[1]
		if name != "dummy" && !seen[name] {
			cameras = append(cameras, name)
			seen[name] = true
		}
	}
	return cameras
}

func ListCameras() ([]string, error) {
	var cameras []string

	if runtime.GOOS == "windows" {
		cmd := exec.Command("ffmpeg", "-list_devices", "true", "-f", "dshow", "-i", "dummy")
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.Run()

		cameras = parseDShowDevices(stderr.String())
	} else {
		cameras = []string{"/dev/video0", "/dev/video1"}
	}

	if len(cameras) == 0 {
		return nil, fmt.Errorf("%w: no cameras found", ErrDeviceUnavailable)
	}

	return cameras, nil
}
