package capture

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

var (
	// ErrPermissionDenied means the camera exists but this process may not
	// open it.
	ErrPermissionDenied = errors.New("camera permission denied")

	// ErrDeviceUnavailable means there is no usable camera, or the capture
	// tool itself is missing.
	ErrDeviceUnavailable = errors.New("camera device unavailable")

	// ErrNoFrame means the stream ended before delivering a first frame.
	ErrNoFrame = errors.New("stream ended before first frame")
)

var (
	permissionHints = []string{
		"permission denied",
		"operation not permitted",
		"access is denied",
	}
	unavailableHints = []string{
		"no such file or directory",
		"no such device",
		"device or resource busy",
		"cannot open video device",
		"could not find video device",
		"could not enumerate video devices",
		"i/o error",
	}
)

// classifyFFmpegError maps an ffmpeg failure and its stderr output onto the
// camera acquisition errors. Unrecognised failures are returned wrapped but
// unclassified.
func classifyFFmpegError(err error, stderr string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: ffmpeg not found, install ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	text := strings.ToLower(stderr)
	detail := lastLine(stderr)
	for _, h := range permissionHints {
		if strings.Contains(text, h) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
		}
	}
	for _, h := range unavailableHints {
		if strings.Contains(text, h) {
			return fmt.Errorf("%w: %s", ErrDeviceUnavailable, detail)
		}
	}
	if detail != "" {
		return fmt.Errorf("%w (ffmpeg: %s)", err, detail)
	}
	return err
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// lockedBuffer collects a subprocess's stderr while the process may still be
// writing to it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
