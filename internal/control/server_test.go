package control

import (
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blurcam/processing/capture"
	"blurcam/processing/compositor"
	"blurcam/processing/pipeline"
	"blurcam/processing/record"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePipeline struct {
	mode  compositor.BlurMode
	stats pipeline.Stats
}

func (p *fakePipeline) ToggleBlur() compositor.BlurMode {
	p.mode = p.mode.Toggle()
	return p.mode
}

func (p *fakePipeline) Stats() pipeline.Stats {
	s := p.stats
	s.Mode = p.mode
	return s
}

type byteEncoder struct{ n int }

func (e *byteEncoder) Encode(image.Image) error { e.n++; return nil }
func (e *byteEncoder) Close() ([]byte, error) {
	if e.n == 0 {
		return nil, errors.New("no frames")
	}
	return make([]byte, e.n), nil
}

type discardDownloader struct{}

func (discardDownloader) Save(name string, _ []byte) (string, error) { return "/tmp/" + name, nil }

func newTestServer(camera func() error) (*Server, *fakePipeline, *record.Recorder) {
	p := &fakePipeline{stats: pipeline.Stats{FPS: 29.5, Latency: 12 * time.Millisecond, Processed: 100, Skipped: 2}}
	rec := record.New(record.Options{
		NewEncoder: func(int) record.Encoder { return &byteEncoder{} },
		Downloader: discardDownloader{},
	})
	return New("127.0.0.1:0", p, rec, camera), p, rec
}

func do(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(nil)

	w, body := do(t, s, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sharp", body["blur"])
	assert.Equal(t, "idle", body["recording"])
	assert.EqualValues(t, 12, body["latency_ms"])
	assert.EqualValues(t, 100, body["frames_processed"])
	assert.EqualValues(t, 2, body["frames_skipped"])
}

func TestStatus_CameraUnavailable(t *testing.T) {
	s, _, _ := newTestServer(func() error { return capture.ErrPermissionDenied })

	w, body := do(t, s, http.MethodGet, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "camera_unavailable", body["status"])
	assert.Contains(t, body["camera_error"], "permission")
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(nil)
	w, body := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", body["status"])
}

func TestToggleBlur(t *testing.T) {
	s, p, _ := newTestServer(nil)

	_, body := do(t, s, http.MethodPost, "/blur/toggle")
	assert.Equal(t, "blurred", body["blur"])
	assert.Equal(t, compositor.Blurred, p.mode)

	_, body = do(t, s, http.MethodPost, "/blur/toggle")
	assert.Equal(t, "sharp", body["blur"])
}

func TestRecordingLifecycle(t *testing.T) {
	s, _, rec := newTestServer(nil)

	w, body := do(t, s, http.MethodPost, "/recording/stop")
	assert.Equal(t, http.StatusConflict, w.Code, "stop while idle")
	assert.Contains(t, body["error"], "invalid recording state transition")

	w, body = do(t, s, http.MethodPost, "/recording/start")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, "recording", body["recording"])

	w, _ = do(t, s, http.MethodPost, "/recording/start")
	assert.Equal(t, http.StatusConflict, w.Code, "double start")

	rec.Capture(image.NewRGBA(image.Rect(0, 0, 2, 2)), time.Now())

	w, body = do(t, s, http.MethodPost, "/recording/stop")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/tmp/recorded-video.webm", body["path"])
	assert.EqualValues(t, 1, body["frames"])
	assert.Equal(t, record.Idle, rec.State())
}

func TestRecordingStop_FinalizeFailure(t *testing.T) {
	s, _, rec := newTestServer(nil)

	_, err := rec.Start()
	require.NoError(t, err)

	w, body := do(t, s, http.MethodPost, "/recording/stop")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, body["error"], "no frames")
	assert.Equal(t, record.Idle, rec.State())
}
