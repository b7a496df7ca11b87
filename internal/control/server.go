// Package control exposes the user actions of the desktop window over HTTP.
package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"blurcam/processing/compositor"
	"blurcam/processing/pipeline"
	"blurcam/processing/record"

	"github.com/gin-gonic/gin"
)

// Pipeline is the part of the render loop the API drives.
type Pipeline interface {
	ToggleBlur() compositor.BlurMode
	Stats() pipeline.Stats
}

// Recorder is the part of the recorder the API drives.
type Recorder interface {
	Start() (string, error)
	Stop(ctx context.Context) (*record.Artifact, error)
	State() record.State
	SessionID() string
}

// StopTimeout bounds how long a stop request waits for finalization.
const StopTimeout = 30 * time.Second

type Status struct {
	Status        string  `json:"status"` // "ok" or "camera_unavailable"
	UptimeSeconds int64   `json:"uptime_seconds"`
	Blur          string  `json:"blur"`
	Recording     string  `json:"recording"`
	SessionID     string  `json:"session_id,omitempty"`
	FPS           float64 `json:"fps"`
	LatencyMS     int64   `json:"latency_ms"`
	Processed     uint64  `json:"frames_processed"`
	Skipped       uint64  `json:"frames_skipped"`
	LastError     string  `json:"last_error,omitempty"`
	CameraError   string  `json:"camera_error,omitempty"`
}

type Server struct {
	loop   Pipeline
	rec    Recorder
	camera func() error
	engine *gin.Engine
	srv    *http.Server

	started time.Time
}

// New builds the API. camera reports the current camera failure, or nil
// while the camera is delivering frames; it may be nil.
func New(addr string, loop Pipeline, rec Recorder, camera func() error) *Server {
	if camera == nil {
		camera = func() error { return nil }
	}

	s := &Server{
		loop:    loop,
		rec:     rec,
		camera:  camera,
		started: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/status", s.status)
	r.POST("/blur/toggle", s.toggleBlur)
	r.POST("/recording/start", s.startRecording)
	r.POST("/recording/stop", s.stopRecording)
	s.engine = r

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: StopTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start serves in the background.
func (s *Server) Start() {
	slog.Info("starting control server", "addr", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control server failed", "err", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) status(c *gin.Context) {
	st := s.loop.Stats()
	resp := Status{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Blur:          st.Mode.String(),
		Recording:     s.rec.State().String(),
		SessionID:     s.rec.SessionID(),
		FPS:           st.FPS,
		LatencyMS:     st.Latency.Milliseconds(),
		Processed:     st.Processed,
		Skipped:       st.Skipped,
	}
	if st.LastErr != nil {
		resp.LastError = st.LastErr.Error()
	}

	code := http.StatusOK
	if err := s.camera(); err != nil {
		resp.Status = "camera_unavailable"
		resp.CameraError = err.Error()
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) toggleBlur(c *gin.Context) {
	mode := s.loop.ToggleBlur()
	slog.Info("blur toggled", "mode", mode, "via", "api")
	c.JSON(http.StatusOK, gin.H{"blur": mode.String()})
}

func (s *Server) startRecording(c *gin.Context) {
	id, err := s.rec.Start()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "recording": s.rec.State().String()})
}

func (s *Server) stopRecording(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), StopTimeout)
	defer cancel()

	art, err := s.rec.Stop(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":  art.SessionID,
		"path":        art.Path,
		"frames":      art.Frames,
		"bytes":       art.Bytes,
		"duration_ms": art.Duration.Milliseconds(),
	})
}

func abortWithError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	var fe *record.FinalizeError
	switch {
	case errors.Is(err, record.ErrInvalidStateTransition):
		code = http.StatusConflict
	case errors.As(err, &fe):
		slog.Error("recording failed", "session", fe.SessionID, "err", fe.Err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
