package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type SourceType string

const (
	SourceLocal   SourceType = "Local"
	SourceWebcam  SourceType = "Web-Camera"
	SourcePattern SourceType = "Pattern"

	DefaultConfigPath     string = "config.json"
	DefaultSegmenterURL   string = "ws://localhost:8080/segment"
	DefaultRecordingName  string = "recorded-video.webm"
	DefaultControlAddress string = "127.0.0.1:8090"
)

var SourcesList = [...]string{
	string(SourceLocal),
	string(SourceWebcam),
	string(SourcePattern),
}

type LocalConfig struct {
	Path string `json:"path"`
}

type WebcamConfig struct {
	DeviceID string `json:"device_id"`
}

// SegmenterConfig points at the segmentation model server.
// ModelSelection 0 is the fast landscape model, 1 the general quality model.
type SegmenterConfig struct {
	URL            string `json:"url"`
	ModelSelection int    `json:"model_selection"`
	TimeoutMS      int    `json:"timeout_ms"`
}

type BlurConfig struct {
	Enabled bool    `json:"enabled"`
	Radius  float64 `json:"radius"`
}

type RecordingConfig struct {
	FPS       int    `json:"fps"`
	OutputDir string `json:"output_dir"`
	FileName  string `json:"file_name"`
}

type Config struct {
	mu sync.RWMutex

	ActiveSource SourceType `json:"active_source"`
	TargetFPS    uint       `json:"target_fps"`
	DisplayFPS   uint       `json:"display_fps"`
	ScaledWitdh  int        `json:"scaled_witdh"`
	ScaledHeight int        `json:"scaled_height"`

	Local  LocalConfig  `json:"local"`
	Webcam WebcamConfig `json:"webcam"`

	Segmenter SegmenterConfig `json:"segmenter"`
	Blur      BlurConfig      `json:"blur"`
	Recording RecordingConfig `json:"recording"`

	ControlAddr string `json:"control_addr"`
	StatsEvery  string `json:"stats_every"`
	LogLevel    string `json:"log_level"`
}

func (c *Config) GetFPS() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TargetFPS
}

func (c *Config) SetFPS(fps uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TargetFPS = fps
}

func (c *Config) GetDisplayFPS() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.DisplayFPS == 0 {
		return c.TargetFPS
	}
	return c.DisplayFPS
}

func (c *Config) GetWidth() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ScaledWitdh
}

func (c *Config) SetWidth(width int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ScaledWitdh = width
}

func (c *Config) GetHeight() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ScaledHeight
}

func (c *Config) SetHeight(height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ScaledHeight = height
}

func (c *Config) GetSource() SourceType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ActiveSource
}

func (c *Config) SetSource(s SourceType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ActiveSource = s
}

func (c *Config) GetBlur() BlurConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Blur
}

func (c *Config) SetBlur(b BlurConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Blur = b
}

func (c *Config) GetSegmenter() SegmenterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Segmenter
}

// InferenceTimeout is the per-frame budget for a segmentation request.
func (c *Config) InferenceTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Segmenter.TimeoutMS <= 0 {
		return time.Second
	}
	return time.Duration(c.Segmenter.TimeoutMS) * time.Millisecond
}

func (c *Config) GetRecording() RecordingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Recording
}

// SlogLevel maps LogLevel onto a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate reports the first setting that cannot drive the pipeline.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ScaledWitdh <= 0 || c.ScaledHeight <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.ScaledWitdh, c.ScaledHeight)
	}
	if c.TargetFPS == 0 {
		return fmt.Errorf("target_fps must be positive")
	}
	if c.Segmenter.ModelSelection != 0 && c.Segmenter.ModelSelection != 1 {
		return fmt.Errorf("segmenter.model_selection must be 0 or 1, got %d", c.Segmenter.ModelSelection)
	}
	if c.Blur.Radius < 0 {
		return fmt.Errorf("blur.radius must not be negative")
	}
	if c.Recording.FPS <= 0 {
		return fmt.Errorf("recording.fps must be positive")
	}
	switch c.ActiveSource {
	case SourceLocal, SourceWebcam, SourcePattern:
	default:
		return fmt.Errorf("unknown source %q", c.ActiveSource)
	}
	return nil
}

func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func (c *Config) SaveByDefault() {
	if err := c.Save(DefaultConfigPath); err != nil {
		slog.Warn("saving config", "path", DefaultConfigPath, "err", err)
	}
}

// LoadConfigFile returns defaults overlaid with the file at path. A missing
// or unreadable file yields the defaults.
func LoadConfigFile(path string) *Config {
	cfg, err := loadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("loading config, using defaults", "path", path, "err", err)
		}
		return NewDefaultConfig()
	}
	return cfg
}

func loadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := NewDefaultConfig()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func NewDefaultConfig() *Config {
	return &Config{
		ActiveSource: SourceWebcam,
		Local:        LocalConfig{Path: "..."},
		Webcam:       WebcamConfig{DeviceID: "/dev/video0"},
		TargetFPS:    30,
		DisplayFPS:   60,
		ScaledWitdh:  640,
		ScaledHeight: 480,
		Segmenter: SegmenterConfig{
			URL:            DefaultSegmenterURL,
			ModelSelection: 1,
			TimeoutMS:      1000,
		},
		Blur: BlurConfig{Enabled: true, Radius: 4},
		Recording: RecordingConfig{
			FPS:       30,
			OutputDir: ".",
			FileName:  DefaultRecordingName,
		},
		ControlAddr: DefaultControlAddress,
		StatsEvery:  "@every 10s",
		LogLevel:    "info",
	}
}
