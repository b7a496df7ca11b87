package capture

import (
	"fmt"

	config "blurcam/internal/config"
)

func NewStreamer(t *config.Config) (VideoStreamer, error) {
	switch t.GetSource() {
	case config.SourceWebcam:
		return NewFFmpegWebcam(t.Webcam.DeviceID, t.GetFPS(), t.GetWidth(), t.GetHeight()), nil
	case config.SourceLocal:
		return NewLocalStreamer(t.Local.Path, t.GetFPS(), t.GetWidth(), t.GetHeight())
	case config.SourcePattern:
		return NewPatternStreamer(t.GetWidth(), t.GetHeight(), t.GetFPS()), nil
	default:
		return nil, fmt.Errorf("unknown source: %s", t.GetSource())
	}
}
